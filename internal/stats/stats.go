// Package stats derives post-game analytics from an archived game
// document by replaying its transaction log step by step.
package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/opentac/controller/internal/game"
)

// GameStats holds the per-step histories of one completed game. Each
// history has one row per ledger state: row 0 is the initial state, row
// k the state after the k-th settled transaction.
type GameStats struct {
	agentIDs []string
	goodIDs  []string
	names    map[string]string

	eqPrices []float64
	eqScores []float64

	scores   [][]float64
	balances [][]decimal.Decimal
	holdings [][][]int
	prices   [][]decimal.Decimal
}

// Compute replays the document and records the ledger after every step.
// A transaction that fails replay means the document is corrupt.
func Compute(doc *game.Document) (*GameStats, error) {
	g, err := game.NewGame(doc.Configuration, doc.Initialization)
	if err != nil {
		return nil, err
	}

	cfg := doc.Configuration
	s := &GameStats{
		agentIDs: cfg.AgentIDs(),
		goodIDs:  cfg.GoodIDs(),
		names:    cfg.Agents,
		eqPrices: append([]float64(nil), doc.Initialization.EqPrices...),
		scores:   make([][]float64, 0, len(doc.Transactions)+1),
		balances: make([][]decimal.Decimal, 0, len(doc.Transactions)+1),
		holdings: make([][][]int, 0, len(doc.Transactions)+1),
		prices:   make([][]decimal.Decimal, 0, len(doc.Transactions)+1),
	}
	s.eqScores = equilibriumScores(doc.Initialization)

	s.record(g)
	for _, tx := range doc.Transactions {
		if !g.IsTransactionValid(tx) {
			return nil, fmt.Errorf("%w: transaction %s does not replay", game.ErrInconsistent, tx.ID)
		}
		g.SettleTransaction(tx)
		s.record(g)
	}
	return s, nil
}

func (s *GameStats) record(g *game.Game) {
	scores := g.Scores()
	balances := g.Balances()

	scoreRow := make([]float64, len(s.agentIDs))
	balanceRow := make([]decimal.Decimal, len(s.agentIDs))
	for i, agentID := range s.agentIDs {
		scoreRow[i] = scores[agentID]
		balanceRow[i] = balances[agentID]
	}

	s.scores = append(s.scores, scoreRow)
	s.balances = append(s.balances, balanceRow)
	s.holdings = append(s.holdings, g.HoldingsMatrix())
	s.prices = append(s.prices, g.Prices())
}

// Steps returns the number of recorded ledger states, transactions + 1.
func (s *GameStats) Steps() int { return len(s.scores) }

// AgentIDs returns the agent IDs defining the column order of every
// per-agent history.
func (s *GameStats) AgentIDs() []string { return s.agentIDs }

// GoodIDs returns the good IDs defining the column order of every
// per-good history.
func (s *GameStats) GoodIDs() []string { return s.goodIDs }

// ScoreHistory returns one score row per ledger state.
func (s *GameStats) ScoreHistory() [][]float64 { return s.scores }

// BalanceHistory returns one balance row per ledger state.
func (s *GameStats) BalanceHistory() [][]decimal.Decimal { return s.balances }

// HoldingsHistory returns one holdings matrix per ledger state.
func (s *GameStats) HoldingsHistory() [][][]int { return s.holdings }

// PriceHistory returns one price row per ledger state.
func (s *GameStats) PriceHistory() [][]decimal.Decimal { return s.prices }

// FinalScores returns the last score per agent display name.
func (s *GameStats) FinalScores() map[string]float64 {
	last := s.scores[len(s.scores)-1]
	scores := make(map[string]float64, len(s.agentIDs))
	for i, agentID := range s.agentIDs {
		scores[s.names[agentID]] = last[i]
	}
	return scores
}

// Ranking is one row of the final standings.
type Ranking struct {
	AgentName string  `json:"agent_name"`
	Score     float64 `json:"score"`
	Gain      float64 `json:"gain"` // score delta against the initial state
}

// Standings returns the final ranking, best score first. Ties break on
// agent name so the order is stable.
func (s *GameStats) Standings() []Ranking {
	first := s.scores[0]
	last := s.scores[len(s.scores)-1]

	rows := make([]Ranking, len(s.agentIDs))
	for i, agentID := range s.agentIDs {
		rows[i] = Ranking{
			AgentName: s.names[agentID],
			Score:     last[i],
			Gain:      last[i] - first[i],
		}
	}
	sort.Slice(rows, func(a, b int) bool {
		if rows[a].Score != rows[b].Score {
			return rows[a].Score > rows[b].Score
		}
		return rows[a].AgentName < rows[b].AgentName
	})
	return rows
}

// PriceDeviation returns, per good, the difference between the last
// observed transaction price and the competitive-equilibrium price. A
// good never traded reports the negated equilibrium price, since its
// observed price is zero.
func (s *GameStats) PriceDeviation() []float64 {
	last := s.prices[len(s.prices)-1]
	dev := make([]float64, len(s.goodIDs))
	for j := range s.goodIDs {
		dev[j] = last[j].InexactFloat64() - s.eqPrices[j]
	}
	return dev
}

// EquilibriumScores returns, per agent in ID order, the score each agent
// would hold at the competitive-equilibrium allocation. It is the
// benchmark the final scores are measured against.
func (s *GameStats) EquilibriumScores() []float64 {
	return s.eqScores
}

// ScoreDeviation returns, per agent in ID order, the final score minus
// the equilibrium benchmark score.
func (s *GameStats) ScoreDeviation() []float64 {
	last := s.scores[len(s.scores)-1]
	dev := make([]float64, len(s.agentIDs))
	for i := range s.agentIDs {
		dev[i] = last[i] - s.eqScores[i]
	}
	return dev
}

// equilibriumScores evaluates the score function at the equilibrium
// allocation: equilibrium money plus log utility over the fractional
// equilibrium good holdings.
func equilibriumScores(init *game.Initialization) []float64 {
	scores := make([]float64, len(init.EqMoneyHoldings))
	for i := range scores {
		goodsScore := 0.0
		for j, x := range init.EqGoodHoldings[i] {
			goodsScore += init.UtilityParams[i][j] * math.Log(1+x)
		}
		scores[i] = init.EqMoneyHoldings[i] + goodsScore
	}
	return scores
}
