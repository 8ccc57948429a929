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
	"sync"
	"testing"
	"time"

	"github.com/Vizaxe/objcache/pkg/access_log/memory_access_log"
	"github.com/Vizaxe/objcache/pkg/object_store"
	"github.com/Vizaxe/objcache/pkg/object_store/memory_object_store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var t0 = time.Unix(1700000000, 0)

type testEnv struct {
	clock *fakeClock
	store *memory_object_store.MemoryStore
	log   *memory_access_log.MemoryAccessLog
	cache *Cache
}

func newTestEnv(t *testing.T, withCleanup bool) *testEnv {
	t.Helper()
	clock := &fakeClock{now: t0}
	env := &testEnv{
		clock: clock,
		store: memory_object_store.NewMemoryStore(memory_object_store.MemoryStoreOpts{Now: clock.Now}),
		log:   memory_access_log.NewMemoryAccessLog(memory_access_log.MemoryAccessLogOpts{Now: clock.Now}),
	}
	opts := Opts{
		Store:  env.store,
		Prefix: "test/",
		Now:    clock.Now,
	}
	if withCleanup {
		opts.Cleanup = &CleanupOpts{
			AccessLog:       env.log,
			TTL:             1000 * time.Millisecond,
			CleanupInterval: 1500 * time.Millisecond,
		}
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	env.cache = c
	return env
}

func (env *testEnv) at(ms int64) {
	env.clock.Set(t0.Add(time.Duration(ms) * time.Millisecond))
}

func (env *testEnv) set(t *testing.T, key, data string) {
	t.Helper()
	_, err := env.cache.Set(context.Background(), key, &Entry{Data: []byte(data), ContentType: "text/plain"})
	require.NoError(t, err)
}

func (env *testEnv) get(t *testing.T, key string) (string, bool) {
	t.Helper()
	e, ok, err := env.cache.Get(context.Background(), key)
	require.NoError(t, err)
	if !ok {
		return "", false
	}
	return string(e.Data), true
}

func TestNew(t *testing.T) {
	store := memory_object_store.NewMemoryStore(memory_object_store.MemoryStoreOpts{})
	log := memory_access_log.NewMemoryAccessLog(memory_access_log.MemoryAccessLogOpts{})

	_, err := New(Opts{})
	assert.Error(t, err)
	_, err = New(Opts{Store: store, Cleanup: &CleanupOpts{TTL: time.Second}})
	assert.Error(t, err)
	_, err = New(Opts{Store: store, Cleanup: &CleanupOpts{AccessLog: log}})
	assert.Error(t, err)

	co := &CleanupOpts{AccessLog: log, TTL: time.Second}
	c, err := New(Opts{Store: store, Cleanup: co})
	require.NoError(t, err)
	assert.Equal(t, DefaultCleanupInterval, c.opts.Cleanup.CleanupInterval)
	assert.Equal(t, time.Duration(0), co.CleanupInterval, "caller's options must not be modified")
}

// Drives the cache through writes and reads around two cleanup
// intervals and checks which entries survive the second sweep.
func TestCache_Lifecycle(t *testing.T) {
	env := newTestEnv(t, true)
	c := env.cache

	env.at(3000)
	_, err := c.Set(context.Background(), "1", &Entry{
		Data:     []byte("Uno"),
		Metadata: map[string]string{"k": "one"},
	})
	require.NoError(t, err)
	c.gate.Wait()
	e, ok, err := c.Get(context.Background(), "1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Uno", string(e.Data))
	require.Equal(t, map[string]string{"k": "one"}, e.Metadata)
	env.set(t, "2", "Dos")
	env.set(t, "3", "Tres")

	env.at(4300)
	_, ok = env.get(t, "2")
	require.True(t, ok)
	env.set(t, "4", "Quatro")

	env.at(4600)
	env.set(t, "5", "Cinco")
	c.gate.Wait()

	_, ok = env.log.Get("test/1")
	assert.False(t, ok)
	_, ok = env.log.Get("test/3")
	assert.False(t, ok)
	accessed, ok := env.log.Get("test/2")
	assert.True(t, ok)
	assert.Equal(t, t0.Add(4300*time.Millisecond), accessed)
	assert.Equal(t, 1, env.log.Len())

	want := map[string]string{"2": "Dos", "4": "Quatro", "5": "Cinco"}
	for _, key := range []string{"1", "2", "3", "4", "5"} {
		v, ok := env.get(t, key)
		w, wantOK := want[key]
		assert.Equal(t, wantOK, ok, key)
		assert.Equal(t, w, v, key)
	}
	assert.Equal(t, 3, env.store.Len())
}

func TestCache_SetDoesNotSweepWithinInterval(t *testing.T) {
	env := newTestEnv(t, true)

	env.set(t, "a", "x")
	env.at(1400)
	env.set(t, "b", "x")
	env.cache.gate.Wait()

	// "a" is past its ttl, but no sweep has run yet.
	assert.Equal(t, 2, env.store.Len())
}

func TestCache_GetMiss(t *testing.T) {
	env := newTestEnv(t, true)
	e, ok, err := env.cache.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, e)
	assert.Equal(t, 0, env.log.Len())
}

func TestCache_SetAndGet(t *testing.T) {
	r := require.New(t)
	env := newTestEnv(t, true)
	ctx := context.Background()

	md := map[string]string{"origin": "test"}
	info, err := env.cache.Set(ctx, "k", &Entry{
		Data:         []byte("hello"),
		ContentType:  "text/plain",
		CacheControl: "max-age=60",
		Metadata:     md,
	})
	r.NoError(err)
	// The result must not share the caller's map.
	md["origin"] = "changed"
	r.Equal(&Info{
		ObjKey:        "test/k",
		ContentType:   "text/plain",
		ContentLength: 5,
		Metadata:      map[string]string{"origin": "test"},
	}, info)

	e, ok, err := env.cache.Get(ctx, "k")
	r.NoError(err)
	r.True(ok)
	r.Equal("hello", string(e.Data))
	r.Equal("text/plain", e.ContentType)
	r.Equal("max-age=60", e.CacheControl)
	r.Equal(map[string]string{"origin": "test"}, e.Metadata)

	accessed, ok := env.log.Get("test/k")
	r.True(ok)
	r.Equal(t0, accessed)
}

func TestCache_Head(t *testing.T) {
	r := require.New(t)
	env := newTestEnv(t, true)
	ctx := context.Background()

	env.set(t, "k", "hello")
	env.at(500)
	info, ok, err := env.cache.Head(ctx, "k")
	r.NoError(err)
	r.True(ok)
	r.Equal("test/k", info.ObjKey)
	r.Equal(int64(5), info.ContentLength)
	r.Equal("text/plain", info.ContentType)

	accessed, ok := env.log.Get("test/k")
	r.True(ok)
	r.Equal(t0.Add(500*time.Millisecond), accessed)

	_, ok, err = env.cache.Head(ctx, "missing")
	r.NoError(err)
	r.False(ok)
}

func TestCache_Invalidate(t *testing.T) {
	r := require.New(t)
	env := newTestEnv(t, true)
	ctx := context.Background()

	env.set(t, "k", "v")
	_, ok := env.get(t, "k")
	r.True(ok)
	r.Equal(1, env.log.Len())

	r.NoError(env.cache.Invalidate(ctx, "k"))
	_, ok = env.get(t, "k")
	r.False(ok)
	r.Equal(0, env.log.Len())

	// Invalidating a missing key is fine.
	r.NoError(env.cache.Invalidate(ctx, "k"))
	r.Equal(float64(2), testutil.ToFloat64(env.cache.invalidateTotal))
}

func TestCache_Cleanup(t *testing.T) {
	r := require.New(t)
	env := newTestEnv(t, true)
	ctx := context.Background()

	env.set(t, "old", "v")
	env.at(800)
	env.set(t, "new", "v")

	env.at(1200)
	rep, err := env.cache.Cleanup(ctx)
	r.NoError(err)
	r.Equal(2, rep.Scanned)
	r.Equal(1, rep.Expired)
	r.Equal(1, rep.Deleted)
	_, ok := env.get(t, "old")
	r.False(ok)
	_, ok = env.get(t, "new")
	r.True(ok)
}

func TestCache_WithoutCleanup(t *testing.T) {
	r := require.New(t)
	env := newTestEnv(t, false)
	ctx := context.Background()

	env.set(t, "k", "v")
	env.at(10_000)
	env.set(t, "k2", "v")
	_, ok := env.get(t, "k")
	r.True(ok)
	r.Equal(0, env.log.Len())
	r.Equal(2, env.store.Len())

	_, err := env.cache.Cleanup(ctx)
	r.ErrorIs(err, ErrCleanupDisabled)
	r.NoError(env.cache.Invalidate(ctx, "k"))
	r.NoError(env.cache.Close())
}

func TestCache_Close(t *testing.T) {
	env := newTestEnv(t, true)
	env.set(t, "a", "v")
	require.NoError(t, env.cache.Close())

	// No sweep is started after Close.
	env.at(5000)
	env.set(t, "b", "v")
	assert.Equal(t, 2, env.store.Len())

	_, err := env.cache.Cleanup(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

var errBackend = errors.New("backend down")

type brokenStore struct {
	*memory_object_store.MemoryStore
}

func (brokenStore) Get(context.Context, string) (*object_store.Data, error) {
	return nil, errBackend
}

func (brokenStore) Put(context.Context, *object_store.Data) error {
	return errBackend
}

type brokenLog struct {
	*memory_access_log.MemoryAccessLog
}

func (brokenLog) SetLastAccessed(context.Context, string) error {
	return errBackend
}

func TestCache_Errors(t *testing.T) {
	ctx := context.Background()
	store := memory_object_store.NewMemoryStore(memory_object_store.MemoryStoreOpts{})

	c, err := New(Opts{Store: brokenStore{store}})
	require.NoError(t, err)
	_, _, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, errBackend)
	_, err = c.Set(ctx, "k", &Entry{Data: []byte("v")})
	assert.ErrorIs(t, err, errBackend)

	// A failed access record fails the read.
	c, err = New(Opts{Store: store, Cleanup: &CleanupOpts{
		AccessLog: brokenLog{memory_access_log.NewMemoryAccessLog(memory_access_log.MemoryAccessLogOpts{})},
		TTL:       time.Hour,
	}})
	require.NoError(t, err)
	_, err = c.Set(ctx, "k", &Entry{Data: []byte("v")})
	require.NoError(t, err)
	_, _, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, errBackend)
	require.NoError(t, c.Close())
}

func TestCache_Metrics(t *testing.T) {
	env := newTestEnv(t, true)
	reg := prometheus.NewRegistry()
	require.NoError(t, env.cache.RegMetricsTo(reg))

	env.set(t, "k", "v")
	env.get(t, "k")
	env.get(t, "missing")
	assert.Equal(t, float64(2), testutil.ToFloat64(env.cache.queryTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.cache.hitTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.cache.setTotal))
}
