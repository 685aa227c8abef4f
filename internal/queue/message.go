package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// WorkMessage is the queue payload. Claim-check: identity only, the
// actual payload lives in the object store.
type WorkMessage struct {
	JobID        string `json:"jobId"`
	PartitionKey string `json:"pk"`
	Type         string `json:"type"`
}

// Publisher publishes work messages to the queue transport.
type Publisher interface {
	PublishWork(ctx context.Context, msg WorkMessage) error
}

// Encode serializes a work message for the wire.
func Encode(msg WorkMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode work message: %w", err)
	}
	return body, nil
}

// Decode parses a work message off the wire.
func Decode(body []byte) (WorkMessage, error) {
	var msg WorkMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return WorkMessage{}, fmt.Errorf("failed to decode work message: %w", err)
	}
	if msg.JobID == "" || msg.PartitionKey == "" {
		return WorkMessage{}, fmt.Errorf("work message missing jobId or pk")
	}
	return msg, nil
}
