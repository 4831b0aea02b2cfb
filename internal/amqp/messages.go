package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kinds of sync messages.
const (
	KindLedger = "ledger"
	KindLimit  = "limit"
)

// SyncMessage asks the worker to mirror one SQLite row to Google Sheets.
// It carries only the key; the worker reads the row from the database.
type SyncMessage struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	EntryID   int64     `json:"entry_id,omitempty"`
	Category  string    `json:"category,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewLedgerSyncMessage creates a message for a ledger row.
func NewLedgerSyncMessage(entryID int64) *SyncMessage {
	return &SyncMessage{
		ID:        uuid.NewString(),
		Kind:      KindLedger,
		EntryID:   entryID,
		Timestamp: time.Now(),
	}
}

// NewLimitSyncMessage creates a message for a category limit.
func NewLimitSyncMessage(category string) *SyncMessage {
	return &SyncMessage{
		ID:        uuid.NewString(),
		Kind:      KindLimit,
		Category:  category,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *SyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncMessageFromJSON decodes and validates a message.
func SyncMessageFromJSON(data []byte) (*SyncMessage, error) {
	var msg SyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Kind {
	case KindLedger:
		if msg.EntryID <= 0 {
			return nil, fmt.Errorf("ledger sync message without entry id")
		}
	case KindLimit:
		if msg.Category == "" {
			return nil, fmt.Errorf("limit sync message without category")
		}
	default:
		return nil, fmt.Errorf("unknown sync message kind %q", msg.Kind)
	}
	return &msg, nil
}
