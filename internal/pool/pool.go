// Package pool reconciles the two independently submitted sides of a
// bilateral trade before it becomes a ledger event. Each transaction ID
// moves Absent → Pending → settled or rejected; the pool keeps no memory
// of terminal states.
package pool

import (
	"github.com/opentac/controller/internal/game"
)

// Outcome is the result of feeding one transaction request into the pool.
type Outcome int

const (
	// Pending: first valid leg stored, waiting for the counterparty.
	Pending Outcome = iota
	// Settled: second leg matched and revalidated; the trade is on the
	// ledger and both parties should be notified.
	Settled
	// RejectedInvalid: the request failed validation against the current
	// ledger, either on arrival or after the ledger drifted while pending.
	RejectedInvalid
	// RejectedNonMatching: the second leg did not mirror the pending one.
	// The pending leg is dropped, not re-queued.
	RejectedNonMatching
)

// Pool holds one-sided transaction requests awaiting their counterpart.
//
// Pool is not safe for concurrent use: it must live in the same
// mutual-exclusion domain as the Game ledger, because reconciliation is a
// check-then-act sequence over both.
type Pool struct {
	pending map[string]game.Transaction
}

// New creates an empty pending pool.
func New() *Pool {
	return &Pool{pending: make(map[string]game.Transaction)}
}

// Len returns the number of pending one-sided requests.
func (p *Pool) Len() int { return len(p.pending) }

// Reconcile feeds one transaction request into the pool against the given
// ledger and settles the trade when both legs agree.
//
// A request whose ID was already settled or rejected starts over as a
// fresh first leg: the pool holds no terminal-state memory. An agent that
// retries after a dropped confirmation can therefore re-open the ID; the
// revalidation against the current ledger is what bounds the damage of
// that restart. See the reconciliation tests for the exact behavior.
// On Settled, the returned transaction is the popped first leg, so the
// caller can attribute one confirmed record to each submitter.
func (p *Pool) Reconcile(g *game.Game, tx game.Transaction) (Outcome, game.Transaction) {
	pending, exists := p.pending[tx.ID]
	if !exists {
		if !g.IsTransactionValid(tx) {
			return RejectedInvalid, game.Transaction{}
		}
		p.pending[tx.ID] = tx
		return Pending, game.Transaction{}
	}

	delete(p.pending, tx.ID)
	if !tx.Matches(pending) {
		return RejectedNonMatching, game.Transaction{}
	}
	// The ledger may have drifted since the first leg was validated.
	if !g.IsTransactionValid(tx) {
		return RejectedInvalid, game.Transaction{}
	}
	g.SettleTransaction(tx)
	return Settled, pending
}
