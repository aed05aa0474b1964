package game

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Initialization is the immutable, randomly generated initial economic
// scenario of a competition: endowments, utility parameters, and the
// competitive-equilibrium benchmark computed from them.
//
// The equilibrium fields are informational only. They are never enforced
// and never affect settlement; they exist for post-hoc scoring comparison.
type Initialization struct {
	InitialMoney    []decimal.Decimal `json:"initial_money_amounts"`
	Endowments      [][]int           `json:"endowments"`
	UtilityParams   [][]float64       `json:"utility_params"`
	EqPrices        []float64         `json:"eq_prices"`
	EqGoodHoldings  [][]float64       `json:"eq_good_holdings"`
	EqMoneyHoldings []float64         `json:"eq_money_holdings"`
}

// NewInitialization validates and builds an Initialization. Any invariant
// violation is a fatal construction error: generators must never hand the
// Game a row that fails these checks.
func NewInitialization(
	initialMoney []decimal.Decimal,
	endowments [][]int,
	utilityParams [][]float64,
	eqPrices []float64,
	eqGoodHoldings [][]float64,
	eqMoneyHoldings []float64,
) (*Initialization, error) {
	init := &Initialization{
		InitialMoney:    initialMoney,
		Endowments:      endowments,
		UtilityParams:   utilityParams,
		EqPrices:        eqPrices,
		EqGoodHoldings:  eqGoodHoldings,
		EqMoneyHoldings: eqMoneyHoldings,
	}
	if err := init.Validate(); err != nil {
		return nil, err
	}
	return init, nil
}

// Validate checks the structural invariants of the initialization.
func (init *Initialization) Validate() error {
	for _, m := range init.InitialMoney {
		if m.IsNegative() {
			return fmt.Errorf("%w: money must be non-negative", ErrInconsistent)
		}
	}
	for _, row := range init.Endowments {
		for _, e := range row {
			if e <= 0 {
				return fmt.Errorf("%w: endowments must be strictly positive", ErrInconsistent)
			}
		}
	}
	for _, row := range init.UtilityParams {
		for _, u := range row {
			if u <= 0 {
				return fmt.Errorf("%w: utility params must be strictly positive", ErrInconsistent)
			}
		}
	}
	if len(init.Endowments) != len(init.InitialMoney) {
		return fmt.Errorf("%w: endowments and initial money amounts must have the same length", ErrInconsistent)
	}
	if len(init.Endowments) != len(init.UtilityParams) {
		return fmt.Errorf("%w: endowments and utility params must have the same length", ErrInconsistent)
	}
	for i := range init.Endowments {
		if len(init.Endowments[i]) != len(init.UtilityParams[i]) {
			return fmt.Errorf("%w: endowment and utility param rows must have the same length", ErrInconsistent)
		}
	}
	if len(init.EqGoodHoldings) == 0 || len(init.EqPrices) != len(init.EqGoodHoldings[0]) {
		return fmt.Errorf("%w: eq prices and eq good holdings rows must have the same length", ErrInconsistent)
	}
	if len(init.EqGoodHoldings) != len(init.EqMoneyHoldings) {
		return fmt.Errorf("%w: eq good holdings and eq money holdings must have the same length", ErrInconsistent)
	}
	return nil
}

// matchesConfiguration checks the cross-cardinality invariants between an
// initialization and a configuration.
func (init *Initialization) matchesConfiguration(cfg *Configuration) error {
	if len(init.InitialMoney) != cfg.NbAgents {
		return fmt.Errorf("%w: initialization has %d agents, configuration has %d",
			ErrInconsistent, len(init.InitialMoney), cfg.NbAgents)
	}
	for _, row := range init.Endowments {
		if len(row) != cfg.NbGoods {
			return fmt.Errorf("%w: endowment row has %d goods, configuration has %d",
				ErrInconsistent, len(row), cfg.NbGoods)
		}
	}
	return nil
}
