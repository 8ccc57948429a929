/*
 * Copyright (C) 2024, Vizaxe
 *
 * This file is part of objcache.
 *
 * objcache is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * objcache is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package memcached_access_log

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Vizaxe/objcache/pkg/access_log"
	"github.com/Vizaxe/objcache/pkg/utils"
	"github.com/bradfitz/gomemcache/memcache"
	"github.com/minio/sha256-simd"
	"go.uber.org/zap"
)

const (
	DefaultKeyPrefix = "objcache:"

	maxKeyLength = 250
)

var _ access_log.AccessLog = (*MemcachedAccessLog)(nil)

// Client is the subset of *memcache.Client used by MemcachedAccessLog.
type Client interface {
	GetMulti(keys []string) (map[string]*memcache.Item, error)
	Set(item *memcache.Item) error
	Delete(key string) error
}

// MemcachedAccessLog stores one memcached item per object key.
// Records are subject to memcached eviction. A lost record only makes
// the object eligible for cleanup earlier.
type MemcachedAccessLog struct {
	opts MemcachedAccessLogOpts
}

type MemcachedAccessLogOpts struct {
	// Client cannot be nil.
	Client Client

	// KeyPrefix is prepended to every item key.
	// Default is DefaultKeyPrefix.
	KeyPrefix string

	// Expiration is the item expiration in seconds. 0 means no expiration.
	Expiration int32

	// Now is used by SetLastAccessed. Default is time.Now.
	Now func() time.Time

	// Logger is the *zap.Logger for this MemcachedAccessLog.
	// A nil Logger will disable logging.
	Logger *zap.Logger
}

func (opts *MemcachedAccessLogOpts) init() error {
	if opts.Client == nil {
		return errors.New("nil client")
	}
	utils.SetDefaultString(&opts.KeyPrefix, DefaultKeyPrefix)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return nil
}

func NewMemcachedAccessLog(opts MemcachedAccessLogOpts) (*MemcachedAccessLog, error) {
	if err := opts.init(); err != nil {
		return nil, err
	}
	return &MemcachedAccessLog{opts: opts}, nil
}

// NewClient creates a *memcache.Client for servers.
func NewClient(timeout time.Duration, servers ...string) *memcache.Client {
	c := memcache.New(servers...)
	utils.SetDefaultNum(&timeout, access_log.DefaultClientTimeout)
	c.Timeout = timeout
	return c
}

// itemKey maps an object key to a legal memcached key. Keys that are
// too long or contain spaces or control characters are digested.
func (l *MemcachedAccessLog) itemKey(objKey string) string {
	k := l.opts.KeyPrefix + objKey
	if legalKey(k) {
		return k
	}
	sum := sha256.Sum256([]byte(objKey))
	return l.opts.KeyPrefix + "sha256:" + hex.EncodeToString(sum[:])
}

func legalKey(key string) bool {
	if len(key) > maxKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}

func (l *MemcachedAccessLog) GetLastAccessed(ctx context.Context, keys []string) ([]time.Time, error) {
	out := make([]time.Time, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	itemKeys := make([]string, len(keys))
	for i, key := range keys {
		itemKeys[i] = l.itemKey(key)
	}
	items, err := l.opts.Client.GetMulti(itemKeys)
	if err != nil {
		return nil, err
	}
	for i, ik := range itemKeys {
		item, ok := items[ik]
		if !ok {
			continue
		}
		ms, err := strconv.ParseInt(string(item.Value), 10, 64)
		if err != nil {
			l.opts.Logger.Warn("invalid access record", zap.String("key", keys[i]), zap.ByteString("value", item.Value))
			continue
		}
		out[i] = time.UnixMilli(ms)
	}
	return out, nil
}

func (l *MemcachedAccessLog) SetLastAccessed(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.opts.Client.Set(&memcache.Item{
		Key:        l.itemKey(key),
		Value:      []byte(strconv.FormatInt(l.opts.Now().UnixMilli(), 10)),
		Expiration: l.opts.Expiration,
	})
}

// Delete stops at the first error that is not a cache miss.
func (l *MemcachedAccessLog) Delete(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := l.opts.Client.Delete(l.itemKey(key))
		if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			return fmt.Errorf("failed to delete %s, %w", key, err)
		}
	}
	return nil
}
