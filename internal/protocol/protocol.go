// Package protocol defines the abstract messages exchanged between the
// controller and trading agents. Requests form a closed sum type handled
// by an exhaustive switch in the controller's dispatcher; the transport
// and discovery mechanics live elsewhere.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opentac/controller/internal/game"
)

// ErrorCode classifies a typed rejection sent back to an agent. These are
// expected business-rule outcomes, never system faults.
type ErrorCode string

const (
	GenericError           ErrorCode = "GENERIC_ERROR"
	RequestNotValid        ErrorCode = "REQUEST_NOT_VALID"
	AlreadyRegistered      ErrorCode = "AGENT_ADDR_ALREADY_REGISTERED"
	NameTaken              ErrorCode = "AGENT_NAME_ALREADY_REGISTERED"
	NotRegistered          ErrorCode = "AGENT_NOT_REGISTERED"
	NotWhitelisted         ErrorCode = "AGENT_NAME_NOT_IN_WHITELIST"
	TransactionNotValid    ErrorCode = "TRANSACTION_NOT_VALID"
	TransactionNotMatching ErrorCode = "TRANSACTION_NOT_MATCHING"
	CompetitionNotRunning  ErrorCode = "COMPETITION_NOT_RUNNING"
)

// ErrUnknownMessage is returned when an envelope carries an unrecognized
// or malformed message type.
var ErrUnknownMessage = errors.New("protocol: unknown message type")

// --- Requests (agent → controller) ---

// Request is the closed set of agent requests. The Sender address is
// attached by the transport, not by the payload.
type Request interface {
	requestType() string
}

// Register asks to join the competition under a display name.
type Register struct {
	AgentName string `json:"agent_name"`
}

// Unregister withdraws a prior registration.
type Unregister struct{}

// SubmitTransaction submits one side of a negotiated trade.
type SubmitTransaction struct {
	TransactionID string          `json:"transaction_id"`
	IsSenderBuyer bool            `json:"is_sender_buyer"`
	Counterparty  string          `json:"counterparty"`
	Amount        decimal.Decimal `json:"amount"`
	Quantities    map[string]int  `json:"quantities_by_good"`
}

// GetStateUpdate asks for the requester's initial view and confirmed
// transaction history. Valid only while the competition is running.
type GetStateUpdate struct{}

func (Register) requestType() string          { return "register" }
func (Unregister) requestType() string        { return "unregister" }
func (SubmitTransaction) requestType() string { return "transaction" }
func (GetStateUpdate) requestType() string    { return "get_state_update" }

// Transaction converts the request into a ledger transaction on behalf of
// the given sender.
func (r SubmitTransaction) Transaction(sender string) (game.Transaction, error) {
	return game.NewTransaction(r.TransactionID, r.IsSenderBuyer, sender, r.Counterparty, r.Amount, r.Quantities)
}

// --- Responses (controller → agent) ---

// Response is the closed set of controller responses and broadcasts.
type Response interface {
	responseType() string
}

// OK acknowledges a request with no further payload.
type OK struct{}

// Error is a typed rejection.
type Error struct {
	Code    ErrorCode         `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// TransactionConfirmation notifies both parties of a settled trade.
type TransactionConfirmation struct {
	TransactionID string `json:"transaction_id"`
}

// GameData is an agent's private initial view, sent once at game start.
type GameData struct {
	Balance       decimal.Decimal   `json:"balance"`
	Holdings      []int             `json:"holdings"`
	UtilityParams []float64         `json:"utility_params"`
	NbAgents      int               `json:"nb_agents"`
	NbGoods       int               `json:"nb_goods"`
	TxFee         decimal.Decimal   `json:"tx_fee"`
	AgentNames    map[string]string `json:"agent_names"`
	GoodNames     map[string]string `json:"good_names"`
}

// StateUpdate carries the initial view plus the requester's confirmed
// transactions, in settlement order.
type StateUpdate struct {
	Initial      GameData           `json:"initial"`
	Transactions []game.Transaction `json:"transactions"`
}

// Cancelled announces termination of the competition.
type Cancelled struct {
	Reason string `json:"reason,omitempty"`
}

func (OK) responseType() string                      { return "ok" }
func (Error) responseType() string                   { return "error" }
func (TransactionConfirmation) responseType() string { return "transaction_confirmation" }
func (GameData) responseType() string                { return "game_data" }
func (StateUpdate) responseType() string             { return "state_update" }
func (Cancelled) responseType() string               { return "cancelled" }

// --- Wire envelope ---

// Envelope is the JSON framing of a message on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeRequest parses a wire envelope into a Request.
func DecodeRequest(data []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}

	switch env.Type {
	case "register":
		var r Register
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			return nil, fmt.Errorf("%w: bad register payload", ErrUnknownMessage)
		}
		return r, nil
	case "unregister":
		return Unregister{}, nil
	case "transaction":
		var r SubmitTransaction
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			return nil, fmt.Errorf("%w: bad transaction payload", ErrUnknownMessage)
		}
		return r, nil
	case "get_state_update":
		return GetStateUpdate{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
}

// EncodeResponse frames a Response as a wire envelope.
func EncodeResponse(resp Response) ([]byte, error) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: resp.responseType(), Payload: payload})
}
