package game

import (
	"math"

	"github.com/shopspring/decimal"
)

// AgentState is the mutable per-agent ledger entry: money balance, current
// good holdings, and the fixed utility parameters assigned at game start.
// It is mutated only by Game.SettleTransaction.
type AgentState struct {
	Balance       decimal.Decimal
	Holdings      []int
	UtilityParams []float64
}

// newAgentState copies its slice arguments so that later settlements do not
// alias the initialization matrices.
func newAgentState(balance decimal.Decimal, holdings []int, utilityParams []float64) *AgentState {
	h := make([]int, len(holdings))
	copy(h, holdings)
	u := make([]float64, len(utilityParams))
	copy(u, utilityParams)
	return &AgentState{Balance: balance, Holdings: h, UtilityParams: u}
}

// Score is the agent's current score: balance plus the sum of logarithmic
// utilities over good holdings, u_j * ln(1 + holdings_j). Computed fresh on
// every call; never cached.
func (s *AgentState) Score() float64 {
	goodsScore := 0.0
	for j, qty := range s.Holdings {
		goodsScore += s.UtilityParams[j] * math.Log(1+float64(qty))
	}
	return s.Balance.InexactFloat64() + goodsScore
}

// HoldingsCopy returns a defensive copy of the current holdings.
func (s *AgentState) HoldingsCopy() []int {
	h := make([]int, len(s.Holdings))
	copy(h, s.Holdings)
	return h
}

// UtilityParamsCopy returns a defensive copy of the utility parameters.
func (s *AgentState) UtilityParamsCopy() []float64 {
	u := make([]float64, len(s.UtilityParams))
	copy(u, s.UtilityParams)
	return u
}

// GoodState is the mutable per-good market observation: the most recently
// observed per-unit transaction price. It starts at zero and is updated
// only when a settled transaction moves a nonzero quantity of the good.
type GoodState struct {
	Price decimal.Decimal
}
