// Package controller drives the lifecycle of one trading competition:
// registration, scenario generation, transaction reconciliation, and
// teardown with a durable game record.
//
// All competition state is owned by a single event loop. Agent messages
// enter through an inbox channel and are handled one at a time, so the
// game ledger and the pending pool never see concurrent mutation.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opentac/controller/internal/economy"
	"github.com/opentac/controller/internal/game"
	"github.com/opentac/controller/internal/metrics"
	"github.com/opentac/controller/internal/pool"
	"github.com/opentac/controller/internal/protocol"
	"github.com/opentac/controller/internal/store"
)

// Phase is the lifecycle phase of the controller.
type Phase int

const (
	// PhasePreGame: before the configured start time. Nothing is accepted.
	PhasePreGame Phase = iota
	// PhaseGameSetup: registration is open.
	PhaseGameSetup
	// PhaseRunning: the game exists and transactions are accepted.
	PhaseRunning
	// PhasePostGame: the competition ended; the record is archived.
	PhasePostGame
)

func (p Phase) String() string {
	switch p {
	case PhasePreGame:
		return "pre_game"
	case PhaseGameSetup:
		return "game_setup"
	case PhaseRunning:
		return "running"
	case PhasePostGame:
		return "post_game"
	default:
		return "unknown"
	}
}

// Termination reasons recorded with the archived game.
const (
	ReasonInsufficientAgents = "not enough agents registered"
	ReasonInactivity         = "inactivity timeout"
	ReasonElapsed            = "competition timeout"
	ReasonShutdown           = "controller shutdown"
)

// ErrInboxFull is returned by Submit when the controller cannot keep up.
var ErrInboxFull = errors.New("controller: inbox full")

// Sink delivers responses and broadcasts to agents by address. Delivery
// is best effort; a slow or disconnected agent must never block the
// event loop.
type Sink interface {
	Send(addr string, resp protocol.Response)
}

// Inbound is one agent message entering the event loop.
type Inbound struct {
	Sender  string
	Request protocol.Request
}

const (
	defaultInboxSize  = 256
	defaultTick       = 100 * time.Millisecond
	defaultMaxPerTick = 100
)

// Controller runs one competition from registration to archived record.
//
// Mutations happen only on the Run goroutine; the mutex exists for the
// read-only snapshot accessors used by the HTTP API.
type Controller struct {
	params  Parameters
	sink    Sink
	archive store.Store
	log     *slog.Logger

	inbox chan Inbound
	done  chan struct{}

	now        func() time.Time
	tick       time.Duration
	maxPerTick int
	rng        *rand.Rand

	mu           sync.RWMutex
	phase        Phase
	reason       string
	registered   map[string]string // agent address → display name
	g            *game.Game
	pool         *pool.Pool
	gameData     map[string]protocol.GameData
	confirmed    map[string][]game.Transaction
	startedAt    time.Time
	lastActivity time.Time
}

// New builds a controller for one competition run.
func New(params Parameters, sink Sink, archive store.Store, log *slog.Logger) (*Controller, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Controller{
		params:     params,
		sink:       sink,
		archive:    archive,
		log:        log.With("experiment_id", params.ExperimentID),
		inbox:      make(chan Inbound, defaultInboxSize),
		done:       make(chan struct{}),
		now:        time.Now,
		tick:       defaultTick,
		maxPerTick: defaultMaxPerTick,
		rng:        rand.New(rand.NewSource(params.Seed)),
		phase:      PhasePreGame,
		registered: make(map[string]string),
		gameData:   make(map[string]protocol.GameData),
		confirmed:  make(map[string][]game.Transaction),
	}
	metrics.GamePhase.Set(float64(PhasePreGame))
	return c, nil
}

// Submit queues an agent message for the event loop without blocking.
func (c *Controller) Submit(sender string, req protocol.Request) error {
	select {
	case c.inbox <- Inbound{Sender: sender, Request: req}:
		return nil
	default:
		return ErrInboxFull
	}
}

// Done is closed when the competition reaches the post-game phase.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Run is the event loop. It returns when the competition ends or ctx is
// cancelled; cancellation tears the run down like any other termination,
// archiving whatever exists.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	c.log.Info("controller started",
		"start_time", c.params.StartTime,
		"min_agents", c.params.MinAgents,
		"nb_goods", c.params.NbGoods)

	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.terminate(ReasonShutdown)
			c.mu.Unlock()
			return
		case in := <-c.inbox:
			c.mu.Lock()
			c.handle(in)
			// Drain a bounded batch so a chatty agent cannot starve the
			// phase ticker.
		drain:
			for n := 1; n < c.maxPerTick; n++ {
				select {
				case more := <-c.inbox:
					c.handle(more)
				default:
					break drain
				}
			}
			done := c.phase == PhasePostGame
			c.mu.Unlock()
			if done {
				return
			}
		case <-ticker.C:
			c.mu.Lock()
			c.advance(c.now())
			done := c.phase == PhasePostGame
			c.mu.Unlock()
			if done {
				return
			}
		}
	}
}

// handle dispatches one agent message. A panic in a handler is contained
// here: the sender gets a generic error and the loop keeps going.
func (c *Controller) handle(in Inbound) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic handling agent message", "sender", in.Sender, "panic", r)
			c.sink.Send(in.Sender, protocol.Error{Code: protocol.GenericError})
		}
	}()

	c.lastActivity = c.now()

	var label string
	switch req := in.Request.(type) {
	case protocol.Register:
		label = "register"
		c.handleRegister(in.Sender, req)
	case protocol.Unregister:
		label = "unregister"
		c.handleUnregister(in.Sender)
	case protocol.SubmitTransaction:
		label = "transaction"
		c.handleTransaction(in.Sender, req)
	case protocol.GetStateUpdate:
		label = "get_state_update"
		c.handleStateUpdate(in.Sender)
	default:
		label = "unknown"
		c.sink.Send(in.Sender, protocol.Error{Code: protocol.RequestNotValid})
	}
	metrics.MessageLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

func (c *Controller) handleRegister(addr string, req protocol.Register) {
	if c.phase != PhasePreGame && c.phase != PhaseGameSetup {
		c.sink.Send(addr, protocol.Error{
			Code:    protocol.RequestNotValid,
			Details: map[string]string{"reason": "registration closed"},
		})
		return
	}
	if !c.params.whitelisted(req.AgentName) {
		metrics.RegistrationsTotal.WithLabelValues("not_whitelisted").Inc()
		c.sink.Send(addr, protocol.Error{Code: protocol.NotWhitelisted})
		return
	}
	if _, ok := c.registered[addr]; ok {
		metrics.RegistrationsTotal.WithLabelValues("addr_taken").Inc()
		c.sink.Send(addr, protocol.Error{Code: protocol.AlreadyRegistered})
		return
	}
	for _, name := range c.registered {
		if name == req.AgentName {
			metrics.RegistrationsTotal.WithLabelValues("name_taken").Inc()
			c.sink.Send(addr, protocol.Error{Code: protocol.NameTaken})
			return
		}
	}

	c.registered[addr] = req.AgentName
	metrics.RegistrationsTotal.WithLabelValues("accepted").Inc()
	metrics.RegisteredAgents.Set(float64(len(c.registered)))
	c.log.Info("agent registered", "addr", addr, "name", req.AgentName, "registered", len(c.registered))
	c.sink.Send(addr, protocol.OK{})
}

func (c *Controller) handleUnregister(addr string) {
	if c.phase != PhasePreGame && c.phase != PhaseGameSetup {
		c.sink.Send(addr, protocol.Error{
			Code:    protocol.RequestNotValid,
			Details: map[string]string{"reason": "registration closed"},
		})
		return
	}
	if _, ok := c.registered[addr]; !ok {
		c.sink.Send(addr, protocol.Error{Code: protocol.NotRegistered})
		return
	}

	delete(c.registered, addr)
	metrics.RegisteredAgents.Set(float64(len(c.registered)))
	c.log.Info("agent unregistered", "addr", addr, "registered", len(c.registered))
	c.sink.Send(addr, protocol.OK{})
}

func (c *Controller) handleTransaction(addr string, req protocol.SubmitTransaction) {
	if c.phase != PhaseRunning {
		c.sink.Send(addr, protocol.Error{Code: protocol.CompetitionNotRunning})
		return
	}
	if _, ok := c.registered[addr]; !ok {
		c.sink.Send(addr, protocol.Error{Code: protocol.NotRegistered})
		return
	}

	tx, err := req.Transaction(addr)
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues("rejected_invalid").Inc()
		c.sink.Send(addr, protocol.Error{
			Code:    protocol.TransactionNotValid,
			Details: map[string]string{"transaction_id": req.TransactionID, "error": err.Error()},
		})
		return
	}

	outcome, pendingLeg := c.pool.Reconcile(c.g, tx)
	metrics.PendingTransactions.Set(float64(c.pool.Len()))

	switch outcome {
	case pool.Pending:
		// Benign silence: the submitter learns the outcome when the
		// counterpart's leg arrives.
		metrics.TransactionsTotal.WithLabelValues("pending").Inc()
		c.log.Debug("transaction pending", "id", tx.ID, "sender", addr)
	case pool.Settled:
		metrics.TransactionsTotal.WithLabelValues("settled").Inc()
		c.confirmed[pendingLeg.Sender] = append(c.confirmed[pendingLeg.Sender], pendingLeg)
		c.confirmed[tx.Sender] = append(c.confirmed[tx.Sender], tx)
		conf := protocol.TransactionConfirmation{TransactionID: tx.ID}
		c.sink.Send(tx.Sender, conf)
		c.sink.Send(tx.Counterparty, conf)
		c.log.Info("transaction settled",
			"id", tx.ID, "buyer", tx.Buyer(), "seller", tx.Seller(), "amount", tx.Amount)
		c.log.Debug("holdings after settlement", "summary", c.g.HoldingsSummary())
	case pool.RejectedInvalid:
		metrics.TransactionsTotal.WithLabelValues("rejected_invalid").Inc()
		c.sink.Send(addr, protocol.Error{
			Code:    protocol.TransactionNotValid,
			Details: map[string]string{"transaction_id": tx.ID},
		})
	case pool.RejectedNonMatching:
		metrics.TransactionsTotal.WithLabelValues("rejected_non_matching").Inc()
		c.sink.Send(addr, protocol.Error{
			Code:    protocol.TransactionNotMatching,
			Details: map[string]string{"transaction_id": tx.ID},
		})
	}
}

func (c *Controller) handleStateUpdate(addr string) {
	if c.phase != PhaseRunning {
		c.sink.Send(addr, protocol.Error{Code: protocol.CompetitionNotRunning})
		return
	}
	if _, ok := c.registered[addr]; !ok {
		c.sink.Send(addr, protocol.Error{Code: protocol.NotRegistered})
		return
	}

	txs := make([]game.Transaction, len(c.confirmed[addr]))
	copy(txs, c.confirmed[addr])
	c.sink.Send(addr, protocol.StateUpdate{Initial: c.gameData[addr], Transactions: txs})
}

// advance moves the lifecycle along the clock: opens registration at the
// start time, decides start-or-cancel when registration closes, and
// enforces the inactivity and competition timeouts while running.
func (c *Controller) advance(now time.Time) {
	switch c.phase {
	case PhasePreGame:
		if !now.Before(c.params.StartTime) {
			c.setPhase(PhaseGameSetup)
			c.log.Info("registration open",
				"closes_at", c.params.StartTime.Add(c.params.RegistrationTimeout))
		}
	case PhaseGameSetup:
		if now.Sub(c.params.StartTime) >= c.params.RegistrationTimeout {
			if len(c.registered) < c.params.MinAgents {
				c.log.Warn("registration closed below minimum",
					"registered", len(c.registered), "min_agents", c.params.MinAgents)
				c.terminate(ReasonInsufficientAgents)
				return
			}
			c.startCompetition(now)
		}
	case PhaseRunning:
		if now.Sub(c.lastActivity) >= c.params.InactivityTimeout {
			c.terminate(ReasonInactivity)
			return
		}
		if now.Sub(c.startedAt) >= c.params.CompetitionTimeout {
			c.terminate(ReasonElapsed)
		}
	}
}

// startCompetition builds the game from the registered population and
// hands every agent its private initial view. Construction failures are
// fatal for the run: the competition is cancelled before any
// agent-visible game state exists.
func (c *Controller) startCompetition(now time.Time) {
	agents := make(map[string]string, len(c.registered))
	for addr, name := range c.registered {
		agents[addr] = name
	}

	cfg, err := game.NewConfiguration(len(agents), c.params.NbGoods, c.params.TxFee,
		agents, economy.GoodNames(c.params.NbGoods))
	if err != nil {
		c.log.Error("game configuration failed", "error", err)
		c.terminate("game setup failed: " + err.Error())
		return
	}
	init, err := economy.GenerateInitialization(len(agents), c.params.NbGoods, c.params.Economy, c.rng)
	if err != nil {
		c.log.Error("scenario generation failed", "error", err)
		c.terminate("game setup failed: " + err.Error())
		return
	}
	g, err := game.NewGame(cfg, init)
	if err != nil {
		c.log.Error("game construction failed", "error", err)
		c.terminate("game setup failed: " + err.Error())
		return
	}

	c.g = g
	c.pool = pool.New()
	for i, agentID := range cfg.AgentIDs() {
		gd := protocol.GameData{
			Balance:       init.InitialMoney[i],
			Holdings:      append([]int(nil), init.Endowments[i]...),
			UtilityParams: append([]float64(nil), init.UtilityParams[i]...),
			NbAgents:      cfg.NbAgents,
			NbGoods:       cfg.NbGoods,
			TxFee:         cfg.TxFee,
			AgentNames:    cfg.Agents,
			GoodNames:     cfg.Goods,
		}
		c.gameData[agentID] = gd
		c.sink.Send(agentID, gd)
	}

	c.setPhase(PhaseRunning)
	c.startedAt = now
	c.lastActivity = now
	c.log.Info("competition started",
		"nb_agents", cfg.NbAgents,
		"nb_goods", cfg.NbGoods,
		"ends_at", now.Add(c.params.CompetitionTimeout))
	c.log.Debug("equilibrium benchmark", "summary", g.EquilibriumSummary())
}

// terminate ends the run: every registered agent gets a cancellation
// notice, and the record is archived whether or not a game was ever
// constructed.
func (c *Controller) terminate(reason string) {
	if c.phase == PhasePostGame {
		return
	}

	for addr := range c.registered {
		c.sink.Send(addr, protocol.Cancelled{Reason: reason})
	}
	c.setPhase(PhasePostGame)
	c.reason = reason

	rec := &store.Record{
		ExperimentID: c.params.ExperimentID,
		Reason:       reason,
		FinishedAt:   c.now(),
	}
	if c.g != nil {
		rec.Game = c.g.Dump()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.archive.SaveRecord(ctx, rec); err != nil {
		c.log.Error("failed to archive game record", "error", err)
	} else {
		c.log.Info("game record archived", "reason", reason, "has_game", c.g != nil)
	}

	if c.g != nil {
		c.log.Info("final scores", "scores", c.g.Scores())
	}
	close(c.done)
}

func (c *Controller) setPhase(p Phase) {
	c.phase = p
	metrics.GamePhase.Set(float64(p))
	c.log.Info("phase transition", "phase", p.String())
}

// --- Read-only snapshots for the HTTP API ---

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Reason returns the termination reason, empty before post-game.
func (c *Controller) Reason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}

// RegisteredAgents returns a copy of the registered address → name map.
func (c *Controller) RegisteredAgents() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	agents := make(map[string]string, len(c.registered))
	for addr, name := range c.registered {
		agents[addr] = name
	}
	return agents
}

// Scores returns the current score per agent name, or nil before the
// game exists.
func (c *Controller) Scores() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.g == nil {
		return nil
	}
	scores := make(map[string]float64, c.g.Configuration().NbAgents)
	for agentID, score := range c.g.Scores() {
		scores[c.g.Configuration().Agents[agentID]] = score
	}
	return scores
}

// Prices returns the last observed per-unit price per good in good ID
// order, or nil before the game exists.
func (c *Controller) Prices() []decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.g == nil {
		return nil
	}
	return c.g.Prices()
}

// Document returns a dump of the current game, or nil before it exists.
func (c *Controller) Document() *game.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.g == nil {
		return nil
	}
	return c.g.Dump()
}
