// Package game implements the economic state machine of a trading agent
// competition: the immutable configuration and initial market scenario, the
// per-agent ledger of money and good holdings, and the transaction
// validation/settlement engine that mutates it.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Utility and score arithmetic is float64 (transcendental math), computed
// fresh from ledger state and never persisted.
package game

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ErrInconsistent is returned when a configuration or initialization
	// violates its structural invariants. This is fatal at setup time.
	ErrInconsistent = errors.New("game: inconsistent game description")
)

// Configuration is the immutable description of one competition instance.
// It is created once, when registration closes, from the registered
// population, and owned exclusively by the Game.
type Configuration struct {
	NbAgents int               `json:"nb_agents"`
	NbGoods  int               `json:"nb_goods"`
	TxFee    decimal.Decimal   `json:"tx_fee"`
	Agents   map[string]string `json:"agent_names"` // agent ID → display name
	Goods    map[string]string `json:"good_names"`  // good ID → display name
}

// NewConfiguration validates and builds a Configuration.
func NewConfiguration(nbAgents, nbGoods int, txFee decimal.Decimal, agents, goods map[string]string) (*Configuration, error) {
	c := &Configuration{
		NbAgents: nbAgents,
		NbGoods:  nbGoods,
		TxFee:    txFee,
		Agents:   agents,
		Goods:    goods,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the structural invariants of the configuration.
func (c *Configuration) Validate() error {
	if c.NbAgents <= 1 {
		return fmt.Errorf("%w: must have at least two agents", ErrInconsistent)
	}
	if c.NbGoods <= 1 {
		return fmt.Errorf("%w: must have at least two goods", ErrInconsistent)
	}
	if c.TxFee.IsNegative() {
		return fmt.Errorf("%w: tx fee must be non-negative", ErrInconsistent)
	}
	if len(c.Agents) != c.NbAgents {
		return fmt.Errorf("%w: there must be one ID for each agent", ErrInconsistent)
	}
	if len(c.Goods) != c.NbGoods {
		return fmt.Errorf("%w: there must be one ID for each good", ErrInconsistent)
	}
	if err := uniqueNames(c.Agents); err != nil {
		return fmt.Errorf("%w: agent names must be unique", ErrInconsistent)
	}
	if err := uniqueNames(c.Goods); err != nil {
		return fmt.Errorf("%w: good names must be unique", ErrInconsistent)
	}
	return nil
}

// FeeShare is the half of the transaction fee charged independently to each
// side of a settled trade, rounded to 2 decimal places.
func (c *Configuration) FeeShare() decimal.Decimal {
	return c.TxFee.Div(decimal.NewFromInt(2)).Round(2)
}

// AgentIDs returns the agent IDs in stable (sorted) order. Row i of the
// initialization matrices corresponds to AgentIDs()[i].
func (c *Configuration) AgentIDs() []string {
	return sortedKeys(c.Agents)
}

// GoodIDs returns the good IDs in stable (sorted) order. Column j of the
// initialization matrices corresponds to GoodIDs()[j].
func (c *Configuration) GoodIDs() []string {
	return sortedKeys(c.Goods)
}

func uniqueNames(m map[string]string) error {
	seen := make(map[string]bool, len(m))
	for _, name := range m {
		if seen[name] {
			return fmt.Errorf("duplicate name %q", name)
		}
		seen[name] = true
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
