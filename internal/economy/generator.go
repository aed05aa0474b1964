// Package economy procedurally generates the initial market scenario of a
// competition — money and good endowments plus utility parameters — and
// computes the competitive-equilibrium benchmark for it.
//
// Generation is deterministic for a fixed rand source. Money uses
// shopspring/decimal at the boundary; the equilibrium solver works in
// float64 internally, like every transcendental computation in this
// codebase.
package economy

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/opentac/controller/internal/game"
)

// quantityShift offsets holdings inside the logarithm so that zero
// holdings carry zero utility and marginal utility stays finite.
const quantityShift = 1

var (
	// ErrBadParameters is returned when generation parameters cannot yield
	// a valid initialization.
	ErrBadParameters = errors.New("economy: invalid generation parameters")
)

// Params are the tunables of scenario generation.
type Params struct {
	MoneyEndowment    int // money every agent starts with (uniform)
	BaseGoodEndowment int // guaranteed instances of every good per agent
	LowerBoundFactor  int // lower bound of the per-good surplus distribution
	UpperBoundFactor  int // upper bound of the per-good surplus distribution
}

// Validate checks that the parameters can produce a valid scenario.
func (p Params) Validate() error {
	if p.MoneyEndowment < 1 {
		return fmt.Errorf("%w: money endowment must be positive", ErrBadParameters)
	}
	if p.BaseGoodEndowment < 1 {
		return fmt.Errorf("%w: base good endowment must be positive", ErrBadParameters)
	}
	if p.LowerBoundFactor < 0 || p.UpperBoundFactor < p.LowerBoundFactor {
		return fmt.Errorf("%w: bound factors must satisfy 0 <= lower <= upper", ErrBadParameters)
	}
	return nil
}

// ScalingFactor normalizes utility parameter magnitudes to the money
// endowment so marginal utilities and prices live in comparable ranges.
// It is a pure function of the money endowment: the nearest power of ten
// below it.
func ScalingFactor(moneyEndowment int) float64 {
	return math.Pow(10, math.Floor(math.Log10(float64(moneyEndowment))))
}

// GenerateInitialization produces a validated game.Initialization for the
// given population. Every endowment and utility value is strictly
// positive by construction; a violation surfaces as a construction error
// from game.NewInitialization, never as silently clamped state.
func GenerateInitialization(nbAgents, nbGoods int, p Params, rng *rand.Rand) (*game.Initialization, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if nbAgents < 2 || nbGoods < 2 {
		return nil, fmt.Errorf("%w: need at least two agents and two goods", ErrBadParameters)
	}

	scaling := ScalingFactor(p.MoneyEndowment)
	money := moneyEndowments(nbAgents, p.MoneyEndowment)
	endowments := goodEndowments(nbAgents, nbGoods, p, rng)
	utilityParams := utilityParams(nbAgents, nbGoods, scaling, rng)
	eqPrices, eqGoods, eqMoney := Equilibrium(endowments, utilityParams, float64(p.MoneyEndowment), scaling)

	return game.NewInitialization(money, endowments, utilityParams, eqPrices, eqGoods, eqMoney)
}

// moneyEndowments gives every agent exactly the configured amount.
// Uniform by design; no randomness here.
func moneyEndowments(nbAgents, moneyEndowment int) []decimal.Decimal {
	amounts := make([]decimal.Decimal, nbAgents)
	for i := range amounts {
		amounts[i] = decimal.NewFromInt(int64(moneyEndowment))
	}
	return amounts
}

// goodEndowments distributes each good across agents: every agent gets the
// base amount, then a per-good surplus drawn uniformly from
// [nbAgents*lower, nbAgents*upper] is assigned one instance at a time to
// random agents. All entries are >= base >= 1, so strictly positive.
func goodEndowments(nbAgents, nbGoods int, p Params, rng *rand.Rand) [][]int {
	endowments := make([][]int, nbAgents)
	for i := range endowments {
		row := make([]int, nbGoods)
		for j := range row {
			row[j] = p.BaseGoodEndowment
		}
		endowments[i] = row
	}

	for j := 0; j < nbGoods; j++ {
		lo := nbAgents * p.LowerBoundFactor
		hi := nbAgents * p.UpperBoundFactor
		surplus := lo
		if hi > lo {
			surplus = lo + rng.Intn(hi-lo+1)
		}
		for k := 0; k < surplus; k++ {
			endowments[rng.Intn(nbAgents)][j]++
		}
	}
	return endowments
}

// utilityParams samples, per agent, positive preference weights that sum
// to the scaling factor: random integers normalized to fractions (4
// decimal places, last element absorbing the rounding residue) and then
// scaled.
func utilityParams(nbAgents, nbGoods int, scaling float64, rng *rand.Rand) [][]float64 {
	decimals := 4
	if nbGoods >= 100 {
		decimals = 8
	}

	params := make([][]float64, nbAgents)
	for i := range params {
		var row []float64
		for {
			weights := make([]int, nbGoods)
			total := 0
			for j := range weights {
				weights[j] = 1 + rng.Intn(100)
				total += weights[j]
			}

			row = make([]float64, nbGoods)
			partial := 0.0
			for j := 0; j < nbGoods-1; j++ {
				row[j] = roundTo(float64(weights[j])/float64(total), decimals)
				partial += row[j]
			}
			row[nbGoods-1] = roundTo(1.0-partial, decimals)

			// Rounding can eat the last fraction; resample rather than
			// hand the game a non-positive utility value.
			if row[nbGoods-1] > 0 {
				break
			}
		}

		for j := range row {
			row[j] *= scaling
		}
		params[i] = row
	}
	return params
}

func roundTo(x float64, decimals int) float64 {
	shift := math.Pow(10, float64(decimals))
	return math.Round(x*shift) / shift
}
