package controller

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opentac/controller/internal/economy"
)

// ErrBadParameters is returned when competition parameters are rejected
// before the controller starts.
var ErrBadParameters = errors.New("controller: invalid parameters")

// Parameters configure one competition run. They are fixed before the
// controller starts; the game itself is built later, from whoever
// actually registered.
type Parameters struct {
	// ExperimentID names the run and keys its archived record.
	ExperimentID string

	// MinAgents is the minimum registered population required to start.
	MinAgents int

	// NbGoods is the number of tradable good categories.
	NbGoods int

	// TxFee is the fee per settled transaction, split between the two
	// parties and destroyed.
	TxFee decimal.Decimal

	// Economy tunes the scenario generator.
	Economy economy.Params

	// StartTime is when registration opens. Before it the controller
	// idles in the pre-game phase.
	StartTime time.Time

	// RegistrationTimeout is how long registration stays open after
	// StartTime.
	RegistrationTimeout time.Duration

	// InactivityTimeout ends the competition when no agent message
	// arrives for this long while running.
	InactivityTimeout time.Duration

	// CompetitionTimeout caps the total running time of the game.
	CompetitionTimeout time.Duration

	// Whitelist, when non-empty, restricts registration to these agent
	// names.
	Whitelist []string

	// Seed drives scenario generation. Runs with the same seed and the
	// same registered population produce the same scenario.
	Seed int64
}

// Validate checks the parameters before the controller starts.
func (p Parameters) Validate() error {
	if p.ExperimentID == "" {
		return fmt.Errorf("%w: experiment ID required", ErrBadParameters)
	}
	if p.MinAgents < 2 {
		return fmt.Errorf("%w: need at least two agents", ErrBadParameters)
	}
	if p.NbGoods < 2 {
		return fmt.Errorf("%w: need at least two goods", ErrBadParameters)
	}
	if p.TxFee.IsNegative() {
		return fmt.Errorf("%w: tx fee must be non-negative", ErrBadParameters)
	}
	if err := p.Economy.Validate(); err != nil {
		return err
	}
	if p.RegistrationTimeout <= 0 {
		return fmt.Errorf("%w: registration timeout must be positive", ErrBadParameters)
	}
	if p.InactivityTimeout <= 0 {
		return fmt.Errorf("%w: inactivity timeout must be positive", ErrBadParameters)
	}
	if p.CompetitionTimeout <= 0 {
		return fmt.Errorf("%w: competition timeout must be positive", ErrBadParameters)
	}
	return nil
}

// whitelisted reports whether name may register. An empty whitelist
// admits everyone.
func (p Parameters) whitelisted(name string) bool {
	if len(p.Whitelist) == 0 {
		return true
	}
	for _, n := range p.Whitelist {
		if n == name {
			return true
		}
	}
	return false
}
