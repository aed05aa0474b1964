package game

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrBadTransaction is returned when a transaction's own fields are
// malformed (negative amount, self-trade). This is distinct from a
// business-rule rejection against the ledger, which is not an error.
var ErrBadTransaction = errors.New("game: malformed transaction")

// Transaction is an immutable record of one bilateral trade: a total money
// amount moving buyer→seller in exchange for a bundle of goods. Each side
// of the trade submits its own copy independently; two copies referencing
// the same ID are reconciled before settlement.
type Transaction struct {
	ID            string          `json:"transaction_id"`
	IsSenderBuyer bool            `json:"is_sender_buyer"`
	Sender        string          `json:"sender"`
	Counterparty  string          `json:"counterparty"`
	Amount        decimal.Decimal `json:"amount"`
	Quantities    map[string]int  `json:"quantities_by_good"` // good ID → units
}

// NewTransaction validates and builds a Transaction.
func NewTransaction(id string, isSenderBuyer bool, sender, counterparty string, amount decimal.Decimal, quantities map[string]int) (Transaction, error) {
	tx := Transaction{
		ID:            id,
		IsSenderBuyer: isSenderBuyer,
		Sender:        sender,
		Counterparty:  counterparty,
		Amount:        amount,
		Quantities:    quantities,
	}
	if err := tx.Validate(); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Validate checks the transaction's own invariants.
func (tx Transaction) Validate() error {
	if tx.Sender == tx.Counterparty {
		return fmt.Errorf("%w: sender and counterparty must differ", ErrBadTransaction)
	}
	if tx.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must be non-negative", ErrBadTransaction)
	}
	for goodID, qty := range tx.Quantities {
		if qty < 0 {
			return fmt.Errorf("%w: quantity for good %s must be non-negative", ErrBadTransaction, goodID)
		}
	}
	return nil
}

// Buyer returns the agent ID of the buying side.
func (tx Transaction) Buyer() string {
	if tx.IsSenderBuyer {
		return tx.Sender
	}
	return tx.Counterparty
}

// Seller returns the agent ID of the selling side.
func (tx Transaction) Seller() string {
	if tx.IsSenderBuyer {
		return tx.Counterparty
	}
	return tx.Sender
}

// TotalUnits returns the total number of good instances in the bundle.
func (tx Transaction) TotalUnits() int {
	total := 0
	for _, qty := range tx.Quantities {
		total += qty
	}
	return total
}

// Matches reports whether two independently submitted transaction requests
// describe the same trade: same ID, opposite roles, mirrored endpoints,
// equal amount and equal bundle.
func (tx Transaction) Matches(other Transaction) bool {
	if tx.ID != other.ID {
		return false
	}
	if tx.IsSenderBuyer == other.IsSenderBuyer {
		return false
	}
	if tx.Counterparty != other.Sender || other.Counterparty != tx.Sender {
		return false
	}
	if !tx.Amount.Equal(other.Amount) {
		return false
	}
	if len(tx.Quantities) != len(other.Quantities) {
		return false
	}
	for goodID, qty := range tx.Quantities {
		otherQty, ok := other.Quantities[goodID]
		if !ok || otherQty != qty {
			return false
		}
	}
	return true
}

// Equal reports whether two transactions are identical records.
func (tx Transaction) Equal(other Transaction) bool {
	if tx.ID != other.ID ||
		tx.IsSenderBuyer != other.IsSenderBuyer ||
		tx.Sender != other.Sender ||
		tx.Counterparty != other.Counterparty ||
		!tx.Amount.Equal(other.Amount) ||
		len(tx.Quantities) != len(other.Quantities) {
		return false
	}
	for goodID, qty := range tx.Quantities {
		otherQty, ok := other.Quantities[goodID]
		if !ok || otherQty != qty {
			return false
		}
	}
	return true
}
