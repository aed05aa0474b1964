package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// --- Decoding tests ---

func TestDecodeRequest_Register(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"type":"register","payload":{"agent_name":"alice"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reg, ok := req.(Register)
	if !ok {
		t.Fatalf("expected Register, got %T", req)
	}
	if reg.AgentName != "alice" {
		t.Errorf("expected agent name alice, got %q", reg.AgentName)
	}
}

func TestDecodeRequest_Transaction(t *testing.T) {
	raw := `{"type":"transaction","payload":{
		"transaction_id":"tx_01",
		"is_sender_buyer":true,
		"counterparty":"agent_b",
		"amount":"15",
		"quantities_by_good":{"good_0":1}}}`

	req, err := DecodeRequest([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	sub, ok := req.(SubmitTransaction)
	if !ok {
		t.Fatalf("expected SubmitTransaction, got %T", req)
	}
	if sub.TransactionID != "tx_01" || !sub.IsSenderBuyer || sub.Counterparty != "agent_b" {
		t.Errorf("unexpected fields: %+v", sub)
	}
	if !sub.Amount.Equal(decimal.NewFromInt(15)) {
		t.Errorf("expected amount 15, got %s", sub.Amount)
	}
	if sub.Quantities["good_0"] != 1 {
		t.Errorf("expected quantity 1 for good_0, got %d", sub.Quantities["good_0"])
	}
}

func TestDecodeRequest_PayloadlessTypes(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"type":"unregister"}`))
	if err != nil {
		t.Fatalf("decode unregister: %v", err)
	}
	if _, ok := req.(Unregister); !ok {
		t.Errorf("expected Unregister, got %T", req)
	}

	req, err = DecodeRequest([]byte(`{"type":"get_state_update"}`))
	if err != nil {
		t.Fatalf("decode get_state_update: %v", err)
	}
	if _, ok := req.(GetStateUpdate); !ok {
		t.Errorf("expected GetStateUpdate, got %T", req)
	}
}

func TestDecodeRequest_UnknownType(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"type":"summon"}`))
	if !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestDecodeRequest_Garbage(t *testing.T) {
	_, err := DecodeRequest([]byte(`not json`))
	if !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestDecodeRequest_BadPayload(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"type":"register","payload":[1,2]}`))
	if !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("expected ErrUnknownMessage, got %v", err)
	}
}

// --- Encoding tests ---

func TestEncodeResponse_TypedEnvelope(t *testing.T) {
	data, err := EncodeResponse(Error{Code: TransactionNotValid, Details: map[string]string{"transaction_id": "tx"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != "error" {
		t.Errorf("expected envelope type error, got %q", env.Type)
	}

	var e Error
	if err := json.Unmarshal(env.Payload, &e); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if e.Code != TransactionNotValid {
		t.Errorf("expected code %s, got %s", TransactionNotValid, e.Code)
	}
	if e.Details["transaction_id"] != "tx" {
		t.Errorf("unexpected details: %v", e.Details)
	}
}

func TestEncodeResponse_GameData(t *testing.T) {
	gd := GameData{
		Balance:       decimal.NewFromInt(20),
		Holdings:      []int{1, 1, 1},
		UtilityParams: []float64{20, 40, 40},
		NbAgents:      3,
		NbGoods:       3,
		TxFee:         decimal.NewFromInt(1),
		AgentNames:    map[string]string{"a": "alice"},
		GoodNames:     map[string]string{"g": "Good 0"},
	}

	data, err := EncodeResponse(gd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != "game_data" {
		t.Errorf("expected envelope type game_data, got %q", env.Type)
	}

	var got GameData
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if !got.Balance.Equal(gd.Balance) || got.NbAgents != 3 || len(got.Holdings) != 3 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}
