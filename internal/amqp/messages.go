package amqp

import (
	"encoding/json"
	"time"
)

// TransactionMirrorMessage tells the worker a transaction needs mirroring.
// It carries only the id; the worker fetches the full row from the store so
// a stale message can never mirror stale data.
type TransactionMirrorMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

func NewTransactionMirrorMessage(id, userID string) *TransactionMirrorMessage {
	return &TransactionMirrorMessage{
		ID:        id,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

func (m *TransactionMirrorMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func TransactionMirrorMessageFromJSON(data []byte) (*TransactionMirrorMessage, error) {
	var msg TransactionMirrorMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
