package blob

import (
	"context"
	"io"
	"time"
)

// PayloadStore is the object storage the resolver writes payloads to and
// issues retrieval links against.
type PayloadStore interface {
	Put(ctx context.Context, container, location string, body io.Reader, contentType string) error
	Get(ctx context.Context, container, location string) ([]byte, error)
	Presign(ctx context.Context, container, location string, ttl time.Duration) (string, error)
}

// RetrievalLink is a time-limited, pre-authorized read URL for a payload.
type RetrievalLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
