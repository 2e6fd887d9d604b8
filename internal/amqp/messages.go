package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"finclient/internal/core"
)

// MutationMessage announces a change the backend accepted. Consumers refetch
// whatever they need; the message carries ids only.
type MutationMessage struct {
	ID         string            `json:"id"`
	Kind       core.MutationKind `json:"kind"`
	ExpenseID  *int64            `json:"expense_id,omitempty"`
	CategoryID *int64            `json:"category_id,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewMutationMessage builds the message for m. Zero ids are left out.
func NewMutationMessage(m core.Mutation, now time.Time) *MutationMessage {
	msg := &MutationMessage{
		ID:        uuid.NewString(),
		Kind:      m.Kind,
		Timestamp: now.UTC(),
	}
	if m.ExpenseID != 0 {
		id := m.ExpenseID
		msg.ExpenseID = &id
	}
	if m.CategoryID != 0 {
		id := m.CategoryID
		msg.CategoryID = &id
	}
	return msg
}

// ToJSON converts the message to JSON bytes
func (m *MutationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MutationMessageFromJSON decodes a message published by PublishMutation.
func MutationMessageFromJSON(data []byte) (*MutationMessage, error) {
	var msg MutationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
