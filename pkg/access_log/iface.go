package access_log

import (
	"context"
	"time"
)

const (
	DefaultClientTimeout = time.Second
)

// AccessLog records when an object was last read.
// Implementations must be safe for concurrent use.
type AccessLog interface {
	// GetLastAccessed returns one timestamp per key, in input order.
	// Keys that were never recorded yield the zero time.Time.
	GetLastAccessed(ctx context.Context, keys []string) ([]time.Time, error)
	SetLastAccessed(ctx context.Context, key string) error
	// Delete is idempotent. Missing keys are ignored.
	Delete(ctx context.Context, keys []string) error
}

// SingleKeyAccessLog is an access log that can only look up one key per call.
// Use Batched to turn it into an AccessLog.
type SingleKeyAccessLog interface {
	GetLastAccessed(ctx context.Context, key string) (time.Time, error)
	SetLastAccessed(ctx context.Context, key string) error
	Delete(ctx context.Context, keys []string) error
}
