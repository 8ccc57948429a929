package access_log

import (
	"context"
	"fmt"
	"time"
)

// Batched adapts a SingleKeyAccessLog to the AccessLog interface by
// looking keys up one after another.
func Batched(l SingleKeyAccessLog) AccessLog {
	return batched{l: l}
}

type batched struct {
	l SingleKeyAccessLog
}

func (b batched) GetLastAccessed(ctx context.Context, keys []string) ([]time.Time, error) {
	out := make([]time.Time, len(keys))
	for i, key := range keys {
		t, err := b.l.GetLastAccessed(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to get last accessed time of %s, %w", key, err)
		}
		out[i] = t
	}
	return out, nil
}

func (b batched) SetLastAccessed(ctx context.Context, key string) error {
	return b.l.SetLastAccessed(ctx, key)
}

func (b batched) Delete(ctx context.Context, keys []string) error {
	return b.l.Delete(ctx, keys)
}
