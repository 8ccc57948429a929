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

package redis_access_log

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Vizaxe/objcache/pkg/access_log"
	"github.com/Vizaxe/objcache/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultHashKey = "objcache:access"
)

var _ access_log.AccessLog = (*RedisAccessLog)(nil)

// RedisAccessLog keeps all records of one log in a single redis hash.
// Fields are object keys, values are unix milliseconds.
type RedisAccessLog struct {
	opts RedisAccessLogOpts
}

type RedisAccessLogOpts struct {
	// Client cannot be nil.
	Client redis.Cmdable

	// ClientCloser closes Client when RedisAccessLog.Close is called.
	// Optional.
	ClientCloser io.Closer

	// HashKey is the redis key of the hash.
	// Default is DefaultHashKey.
	HashKey string

	// ClientTimeout specifies the timeout for read and write operations.
	// Default is access_log.DefaultClientTimeout.
	ClientTimeout time.Duration

	// Now is used by SetLastAccessed. Default is time.Now.
	Now func() time.Time

	// Logger is the *zap.Logger for this RedisAccessLog.
	// A nil Logger will disable logging.
	Logger *zap.Logger
}

func (opts *RedisAccessLogOpts) init() error {
	if opts.Client == nil {
		return errors.New("nil client")
	}
	utils.SetDefaultString(&opts.HashKey, DefaultHashKey)
	utils.SetDefaultNum(&opts.ClientTimeout, access_log.DefaultClientTimeout)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return nil
}

func NewRedisAccessLog(opts RedisAccessLogOpts) (*RedisAccessLog, error) {
	if err := opts.init(); err != nil {
		return nil, err
	}
	return &RedisAccessLog{opts: opts}, nil
}

// NewRedisAccessLogFromURL creates a client from url and checks the
// connection. Client and ClientCloser in opts are overwritten.
func NewRedisAccessLogFromURL(ctx context.Context, url string, opts RedisAccessLogOpts) (*RedisAccessLog, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url, %w", err)
	}
	r := redis.NewClient(opt)
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("could not connect to redis, %w", err)
	}
	opts.Client = r
	opts.ClientCloser = r
	return NewRedisAccessLog(opts)
}

func (l *RedisAccessLog) Close() error {
	if f := l.opts.ClientCloser; f != nil {
		return f.Close()
	}
	return nil
}

func (l *RedisAccessLog) GetLastAccessed(ctx context.Context, keys []string) ([]time.Time, error) {
	out := make([]time.Time, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.opts.ClientTimeout)
	defer cancel()
	vs, err := l.opts.Client.HMGet(ctx, l.opts.HashKey, keys...).Result()
	if err != nil {
		return nil, err
	}
	if len(vs) != len(keys) {
		return nil, fmt.Errorf("redis returned %d values for %d keys", len(vs), len(keys))
	}
	for i, v := range vs {
		s, ok := v.(string)
		if !ok {
			continue
		}
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			l.opts.Logger.Warn("invalid access record", zap.String("key", keys[i]), zap.String("value", s))
			continue
		}
		out[i] = time.UnixMilli(ms)
	}
	return out, nil
}

func (l *RedisAccessLog) SetLastAccessed(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, l.opts.ClientTimeout)
	defer cancel()
	return l.opts.Client.HSet(ctx, l.opts.HashKey, key, l.opts.Now().UnixMilli()).Err()
}

func (l *RedisAccessLog) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.opts.ClientTimeout)
	defer cancel()
	return l.opts.Client.HDel(ctx, l.opts.HashKey, keys...).Err()
}

// Len returns the current number of records.
func (l *RedisAccessLog) Len(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.ClientTimeout)
	defer cancel()
	n, err := l.opts.Client.HLen(ctx, l.opts.HashKey).Result()
	return int(n), err
}
