package game

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Game is the aggregate root of one competition run: the configuration,
// the generated initialization, the mutable agent and good states, and an
// append-only log of settled transactions.
//
// Game is not safe for concurrent use. The lifecycle controller serializes
// every mutation through a single event loop, because validation followed
// by settlement is a check-then-act sequence spanning balances and
// holdings together.
type Game struct {
	cfg  *Configuration
	init *Initialization

	agentStates   map[string]*AgentState
	initialStates map[string]*AgentState
	goodStates    map[string]*GoodState
	goodIndex     map[string]int // good ID → column in the holdings vectors

	transactions []Transaction
}

// NewGame builds the ledger from a configuration and an initialization.
// The two must agree on cardinalities; a mismatch is a fatal consistency
// error, detected before any agent-visible state exists.
func NewGame(cfg *Configuration, init *Initialization) (*Game, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := init.Validate(); err != nil {
		return nil, err
	}
	if err := init.matchesConfiguration(cfg); err != nil {
		return nil, err
	}

	g := &Game{
		cfg:           cfg,
		init:          init,
		agentStates:   make(map[string]*AgentState, cfg.NbAgents),
		initialStates: make(map[string]*AgentState, cfg.NbAgents),
		goodStates:    make(map[string]*GoodState, cfg.NbGoods),
		goodIndex:     make(map[string]int, cfg.NbGoods),
	}

	for i, agentID := range cfg.AgentIDs() {
		g.agentStates[agentID] = newAgentState(init.InitialMoney[i], init.Endowments[i], init.UtilityParams[i])
		g.initialStates[agentID] = newAgentState(init.InitialMoney[i], init.Endowments[i], init.UtilityParams[i])
	}
	for j, goodID := range cfg.GoodIDs() {
		g.goodStates[goodID] = &GoodState{Price: decimal.Zero}
		g.goodIndex[goodID] = j
	}
	return g, nil
}

// Configuration returns the game's immutable configuration.
func (g *Game) Configuration() *Configuration { return g.cfg }

// Initialization returns the game's immutable initialization.
func (g *Game) Initialization() *Initialization { return g.init }

// AgentState returns the mutable state for an agent ID, or nil if unknown.
func (g *Game) AgentState(agentID string) *AgentState { return g.agentStates[agentID] }

// InitialAgentState returns the game-start state for an agent ID, or nil.
func (g *Game) InitialAgentState(agentID string) *AgentState { return g.initialStates[agentID] }

// Transactions returns the ordered log of settled transactions.
func (g *Game) Transactions() []Transaction { return g.transactions }

// IsTransactionValid checks a transaction against the current ledger:
// the buyer must afford the amount plus its fee share, and the seller must
// hold every requested quantity. A failed check is a business-rule
// rejection (false), not an error. Transactions referencing unknown agents
// or goods are likewise invalid.
func (g *Game) IsTransactionValid(tx Transaction) bool {
	if tx.Validate() != nil {
		return false
	}
	buyer, ok := g.agentStates[tx.Buyer()]
	if !ok {
		return false
	}
	seller, ok := g.agentStates[tx.Seller()]
	if !ok {
		return false
	}

	if buyer.Balance.LessThan(tx.Amount.Add(g.cfg.FeeShare())) {
		return false
	}
	for goodID, qty := range tx.Quantities {
		j, ok := g.goodIndex[goodID]
		if !ok {
			return false
		}
		if seller.Holdings[j] < qty {
			return false
		}
	}
	return true
}

// SettleTransaction applies a validated transaction to the ledger as one
// atomic state transition: the log is extended, goods move seller→buyer,
// the blended per-unit price is recorded for every good in the bundle, and
// each side pays half the fee. The fee is destroyed, not transferred.
//
// The caller must have validated the transaction against the current
// ledger; violating that precondition is a programming error, hence panic.
func (g *Game) SettleTransaction(tx Transaction) {
	if !g.IsTransactionValid(tx) {
		panic(fmt.Sprintf("game: settling invalid transaction %s", tx.ID))
	}

	g.transactions = append(g.transactions, tx)
	buyer := g.agentStates[tx.Buyer()]
	seller := g.agentStates[tx.Seller()]

	totalUnits := tx.TotalUnits()
	for goodID, qty := range tx.Quantities {
		j := g.goodIndex[goodID]
		buyer.Holdings[j] += qty
		seller.Holdings[j] -= qty
		if qty > 0 {
			// One blended per-unit price across the whole bundle, not a
			// per-good price.
			g.goodStates[goodID].Price = tx.Amount.Div(decimal.NewFromInt(int64(totalUnits)))
		}
	}

	feeShare := g.cfg.FeeShare()
	buyer.Balance = buyer.Balance.Sub(tx.Amount.Add(feeShare))
	seller.Balance = seller.Balance.Add(tx.Amount.Sub(feeShare))
}

// Scores returns the current score per agent, computed fresh from the
// mutable state so it reflects exactly the committed transactions.
func (g *Game) Scores() map[string]float64 {
	scores := make(map[string]float64, len(g.agentStates))
	for agentID, state := range g.agentStates {
		scores[agentID] = state.Score()
	}
	return scores
}

// InitialScores returns the score per agent at game start.
func (g *Game) InitialScores() map[string]float64 {
	scores := make(map[string]float64, len(g.initialStates))
	for agentID, state := range g.initialStates {
		scores[agentID] = state.Score()
	}
	return scores
}

// HoldingsMatrix returns the current holdings, one row per agent in
// AgentIDs order, one column per good in GoodIDs order.
func (g *Game) HoldingsMatrix() [][]int {
	matrix := make([][]int, 0, g.cfg.NbAgents)
	for _, agentID := range g.cfg.AgentIDs() {
		matrix = append(matrix, g.agentStates[agentID].HoldingsCopy())
	}
	return matrix
}

// Balances returns the current money balance per agent.
func (g *Game) Balances() map[string]decimal.Decimal {
	balances := make(map[string]decimal.Decimal, len(g.agentStates))
	for agentID, state := range g.agentStates {
		balances[agentID] = state.Balance
	}
	return balances
}

// Prices returns the last observed per-unit price per good, in GoodIDs
// order.
func (g *Game) Prices() []decimal.Decimal {
	prices := make([]decimal.Decimal, 0, g.cfg.NbGoods)
	for _, goodID := range g.cfg.GoodIDs() {
		prices = append(prices, g.goodStates[goodID].Price)
	}
	return prices
}

// HoldingsSummary renders a one-line-per-agent view of current holdings.
func (g *Game) HoldingsSummary() string {
	var b strings.Builder
	for _, agentID := range g.cfg.AgentIDs() {
		fmt.Fprintf(&b, "%s %v\n", g.cfg.Agents[agentID], g.agentStates[agentID].Holdings)
	}
	return b.String()
}

// EquilibriumSummary renders the competitive-equilibrium benchmark.
func (g *Game) EquilibriumSummary() string {
	var b strings.Builder
	b.WriteString("Equilibrium prices:\n")
	for j, goodID := range g.cfg.GoodIDs() {
		fmt.Fprintf(&b, "%s %v\n", goodID, g.init.EqPrices[j])
	}
	b.WriteString("Equilibrium good allocation:\n")
	for i, agentID := range g.cfg.AgentIDs() {
		fmt.Fprintf(&b, "%s %v\n", g.cfg.Agents[agentID], g.init.EqGoodHoldings[i])
	}
	b.WriteString("Equilibrium money allocation:\n")
	for i, agentID := range g.cfg.AgentIDs() {
		fmt.Fprintf(&b, "%s %v\n", g.cfg.Agents[agentID], g.init.EqMoneyHoldings[i])
	}
	return b.String()
}

// Document is the canonical persistence format of a completed game: the
// configuration, the initialization, and the ordered settled-transaction
// log. Restoring a Document replays the log and reproduces the ledger.
type Document struct {
	Configuration  *Configuration  `json:"configuration"`
	Initialization *Initialization `json:"initialization"`
	Transactions   []Transaction   `json:"transactions"`
}

// Dump captures the game as a Document.
func (g *Game) Dump() *Document {
	txs := make([]Transaction, len(g.transactions))
	copy(txs, g.transactions)
	return &Document{
		Configuration:  g.cfg,
		Initialization: g.init,
		Transactions:   txs,
	}
}

// Restore reconstructs a Game from a Document by replaying every settled
// transaction in original order. A transaction that fails replay means the
// document is corrupt.
func Restore(doc *Document) (*Game, error) {
	g, err := NewGame(doc.Configuration, doc.Initialization)
	if err != nil {
		return nil, err
	}
	for _, tx := range doc.Transactions {
		if !g.IsTransactionValid(tx) {
			return nil, fmt.Errorf("%w: transaction %s does not replay", ErrInconsistent, tx.ID)
		}
		g.SettleTransaction(tx)
	}
	return g, nil
}
