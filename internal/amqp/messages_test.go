package amqp

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewLedgerEventMessage(t *testing.T) {
	msg := NewLedgerEventMessage(EventTransactionCreated, 7, 42)

	if _, err := uuid.Parse(msg.ID); err != nil {
		t.Errorf("message ID %q is not a UUID: %v", msg.ID, err)
	}
	if msg.Kind != EventTransactionCreated {
		t.Errorf("Kind = %q, want %q", msg.Kind, EventTransactionCreated)
	}
	if msg.UserID != 7 || msg.TransactionID != 42 {
		t.Errorf("identity = user %d tx %d, want 7/42", msg.UserID, msg.TransactionID)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}

	// Each message gets its own ID.
	other := NewLedgerEventMessage(EventTransactionCreated, 7, 42)
	if other.ID == msg.ID {
		t.Error("message IDs should be unique")
	}
}

func TestLedgerEventMessageRoundTrip(t *testing.T) {
	msg := NewLedgerEventMessage(EventOccurrenceCreated, 1, 99)

	data, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	decoded, err := LedgerEventMessageFromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if decoded.ID != msg.ID || decoded.Kind != msg.Kind || decoded.TransactionID != msg.TransactionID {
		t.Errorf("round trip mismatch: %+v vs %+v", decoded, msg)
	}
}

func TestLedgerEventMessageFromJSONInvalid(t *testing.T) {
	if _, err := LedgerEventMessageFromJSON([]byte("{not json")); err == nil {
		t.Error("malformed payload should fail to decode")
	}
}
