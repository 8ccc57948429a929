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

package obj_cache

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/Vizaxe/objcache/pkg/access_log"
	"github.com/Vizaxe/objcache/pkg/object_store"
	"github.com/Vizaxe/objcache/pkg/sweeper"
	"github.com/Vizaxe/objcache/pkg/throttle"
	"github.com/Vizaxe/objcache/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultCleanupInterval = 10 * time.Minute
)

var (
	ErrCleanupDisabled = errors.New("cleanup is disabled")
	ErrClosed          = errors.New("cache closed")
)

// Cache is a key-value cache on top of an ObjectStore. Entries that
// are not read for longer than a ttl are removed by a sweep, which is
// started by Set at most once per cleanup interval.
// It is safe for concurrent use.
type Cache struct {
	opts    Opts
	sweeper *sweeper.Sweeper // nil if cleanup is disabled
	gate    *throttle.Gate   // nil if cleanup is disabled

	closeMu sync.RWMutex
	closed  bool

	queryTotal      prometheus.Counter
	hitTotal        prometheus.Counter
	setTotal        prometheus.Counter
	invalidateTotal prometheus.Counter
}

type Opts struct {
	// Store cannot be nil.
	Store object_store.ObjectStore

	// Prefix is prepended to every cache key to build the object key.
	Prefix string

	// Cleanup enables access tracking and expiry. A nil Cleanup keeps
	// entries until they are invalidated.
	Cleanup *CleanupOpts

	// Now is the clock for the cleanup interval and expiry checks.
	// Default is time.Now.
	Now func() time.Time

	// Logger is the *zap.Logger for this Cache.
	// A nil Logger will disable logging.
	Logger *zap.Logger

	// MetricsTag will be added to metrics as a const label.
	MetricsTag string
}

type CleanupOpts struct {
	// AccessLog cannot be nil.
	AccessLog access_log.AccessLog

	// TTL is how long an entry lives after its last read or write.
	// It must be > 0.
	TTL time.Duration

	// CleanupInterval is the min time between two sweeps.
	// Default is DefaultCleanupInterval.
	CleanupInterval time.Duration
}

func (opts *Opts) init() error {
	if opts.Store == nil {
		return errors.New("nil store")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Cleanup != nil {
		c := *opts.Cleanup
		if c.AccessLog == nil {
			return errors.New("nil access log")
		}
		if c.TTL <= 0 {
			return fmt.Errorf("invalid ttl %s", c.TTL)
		}
		utils.SetDefaultNum(&c.CleanupInterval, DefaultCleanupInterval)
		opts.Cleanup = &c
	}
	return nil
}

// Entry is a cached value.
type Entry struct {
	Data         []byte
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// Info describes a stored entry without its data.
type Info struct {
	ObjKey        string            `json:"obj_key"`
	ContentType   string            `json:"content_type,omitempty"`
	ContentLength int64             `json:"content_length"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func New(opts Opts) (*Cache, error) {
	if err := opts.init(); err != nil {
		return nil, err
	}
	lb := map[string]string{"tag": opts.MetricsTag}
	c := &Cache{
		opts: opts,

		queryTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "query_total",
			Help:        "The total number of Get and Head calls",
			ConstLabels: lb,
		}),
		hitTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "hit_total",
			Help:        "The total number of Get and Head calls that hit the cache",
			ConstLabels: lb,
		}),
		setTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "set_total",
			Help:        "The total number of stored entries",
			ConstLabels: lb,
		}),
		invalidateTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "invalidate_total",
			Help:        "The total number of invalidated entries",
			ConstLabels: lb,
		}),
	}

	if co := opts.Cleanup; co != nil {
		s, err := sweeper.New(sweeper.Opts{
			Store:      opts.Store,
			AccessLog:  co.AccessLog,
			Prefix:     opts.Prefix,
			TTL:        co.TTL,
			Now:        opts.Now,
			Logger:     opts.Logger,
			MetricsTag: opts.MetricsTag,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init sweeper, %w", err)
		}
		c.sweeper = s
		c.gate = throttle.NewGate(co.CleanupInterval, func() {
			s.Sweep(context.Background())
		}, throttle.GateOpts{Now: opts.Now, Logger: opts.Logger})
	}
	return c, nil
}

func (c *Cache) RegMetricsTo(r prometheus.Registerer) error {
	for _, collector := range [...]prometheus.Collector{c.queryTotal, c.hitTotal, c.setTotal, c.invalidateTotal} {
		if err := r.Register(collector); err != nil {
			return err
		}
	}
	if c.sweeper != nil {
		return c.sweeper.RegMetricsTo(r)
	}
	return nil
}

// ObjKey returns the object key of key.
func (c *Cache) ObjKey(key string) string {
	return c.opts.Prefix + key
}

// Get returns the entry of key. A missing entry is reported by ok,
// not by err. A hit is recorded in the access log.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	c.queryTotal.Inc()
	objKey := c.ObjKey(key)
	d, err := c.opts.Store.Get(ctx, objKey)
	if err != nil {
		if errors.Is(err, object_store.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get object %s, %w", objKey, err)
	}
	if err := c.recordAccess(ctx, objKey); err != nil {
		return nil, false, err
	}
	c.hitTotal.Inc()
	return &Entry{
		Data:         d.Body,
		ContentType:  d.ContentType,
		CacheControl: d.CacheControl,
		Metadata:     d.Metadata,
	}, true, nil
}

// Head is like Get but does not fetch the data.
func (c *Cache) Head(ctx context.Context, key string) (*Info, bool, error) {
	c.queryTotal.Inc()
	objKey := c.ObjKey(key)
	oi, err := c.opts.Store.Head(ctx, objKey)
	if err != nil {
		if errors.Is(err, object_store.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to head object %s, %w", objKey, err)
	}
	if err := c.recordAccess(ctx, objKey); err != nil {
		return nil, false, err
	}
	c.hitTotal.Inc()
	return &Info{
		ObjKey:        objKey,
		ContentType:   oi.ContentType,
		ContentLength: oi.ContentLength,
		Metadata:      oi.Metadata,
	}, true, nil
}

func (c *Cache) recordAccess(ctx context.Context, objKey string) error {
	if c.opts.Cleanup == nil {
		return nil
	}
	if err := c.opts.Cleanup.AccessLog.SetLastAccessed(ctx, objKey); err != nil {
		return fmt.Errorf("failed to record access of %s, %w", objKey, err)
	}
	return nil
}

// Set stores e under key and may start a sweep in the background.
// Set does not wait for the sweep.
func (c *Cache) Set(ctx context.Context, key string, e *Entry) (*Info, error) {
	if e == nil {
		return nil, errors.New("nil entry")
	}
	objKey := c.ObjKey(key)
	md := maps.Clone(e.Metadata)
	err := c.opts.Store.Put(ctx, &object_store.Data{
		Info: object_store.Info{
			Key:          objKey,
			ContentType:  e.ContentType,
			CacheControl: e.CacheControl,
			Metadata:     md,
		},
		Body: e.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put object %s, %w", objKey, err)
	}
	c.setTotal.Inc()
	c.triggerCleanup()
	return &Info{
		ObjKey:        objKey,
		ContentType:   e.ContentType,
		ContentLength: int64(len(e.Data)),
		Metadata:      md,
	}, nil
}

func (c *Cache) triggerCleanup() {
	if c.gate == nil {
		return
	}
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return
	}
	if c.gate.Trigger() {
		c.opts.Logger.Debug("cleanup triggered", zap.String("prefix", c.opts.Prefix))
	}
}

// Invalidate removes key. The access record goes first, so a failed
// object delete leaves an entry that expires by its write time.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	objKey := c.ObjKey(key)
	if co := c.opts.Cleanup; co != nil {
		if err := co.AccessLog.Delete(ctx, []string{objKey}); err != nil {
			return fmt.Errorf("failed to delete access record of %s, %w", objKey, err)
		}
	}
	if err := c.opts.Store.Delete(ctx, objKey); err != nil {
		return fmt.Errorf("failed to delete object %s, %w", objKey, err)
	}
	c.invalidateTotal.Inc()
	return nil
}

// Cleanup runs one sweep now and waits for it. It returns
// ErrCleanupDisabled if the Cache has no CleanupOpts.
func (c *Cache) Cleanup(ctx context.Context) (sweeper.Report, error) {
	if c.sweeper == nil {
		return sweeper.Report{}, ErrCleanupDisabled
	}
	c.closeMu.RLock()
	closed := c.closed
	c.closeMu.RUnlock()
	if closed {
		return sweeper.Report{}, ErrClosed
	}
	return c.sweeper.Run(ctx)
}

// Close stops starting new sweeps and waits for running ones.
// It does not close the store or the access log.
func (c *Cache) Close() error {
	c.closeMu.Lock()
	c.closed = true
	c.closeMu.Unlock()
	if c.gate != nil {
		c.gate.Wait()
	}
	return nil
}
