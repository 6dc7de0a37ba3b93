package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Ledger event kinds published after a committed mutation.
const (
	EventTransactionCreated = "transaction.created"
	EventTransactionDeleted = "transaction.deleted"
	EventOccurrenceCreated  = "occurrence.created"
)

// LedgerEventMessage is a lightweight notification about a committed
// ledger mutation. Consumers fetch the full row themselves; the event
// carries only identity.
type LedgerEventMessage struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	UserID        int64     `json:"user_id"`
	TransactionID int64     `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewLedgerEventMessage(kind string, userID, transactionID int64) *LedgerEventMessage {
	return &LedgerEventMessage{
		ID:            uuid.NewString(),
		Kind:          kind,
		UserID:        userID,
		TransactionID: transactionID,
		Timestamp:     time.Now().UTC(),
	}
}

func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
