package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/Vizaxe/objcache/pkg/access_log/memory_access_log"
	"github.com/Vizaxe/objcache/pkg/object_store"
	"github.com/Vizaxe/objcache/pkg/object_store/memory_object_store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// faultyStore wraps a MemoryStore and records or fails List and
// DeleteMany calls.
type faultyStore struct {
	*memory_object_store.MemoryStore

	listCalls  int
	failListAt int // 1-based, 0 means never
	panicList  bool

	// If listRelease is set, List signals listEntered and waits for
	// listRelease to be closed.
	listEntered chan struct{}
	listRelease chan struct{}

	deleteCalls [][]string
	// deleteFn replaces DeleteMany when set.
	deleteFn func(call int, keys []string) ([]object_store.DeleteError, error)
}

func newFaultyStore(pageSize int, clk *fakeClock) *faultyStore {
	return &faultyStore{
		MemoryStore: memory_object_store.NewMemoryStore(memory_object_store.MemoryStoreOpts{
			PageSize: pageSize,
			Now:      clk.Now,
		}),
	}
}

func (s *faultyStore) List(ctx context.Context, prefix, cursor string) (*object_store.ListPage, error) {
	s.listCalls++
	if s.listRelease != nil {
		select {
		case s.listEntered <- struct{}{}:
		default:
		}
		<-s.listRelease
	}
	if s.panicList {
		panic("list exploded")
	}
	if s.failListAt == s.listCalls {
		return nil, errListFailed
	}
	return s.MemoryStore.List(ctx, prefix, cursor)
}

func (s *faultyStore) DeleteMany(ctx context.Context, keys []string) ([]object_store.DeleteError, error) {
	s.deleteCalls = append(s.deleteCalls, append([]string(nil), keys...))
	if s.deleteFn != nil {
		return s.deleteFn(len(s.deleteCalls), keys)
	}
	return s.MemoryStore.DeleteMany(ctx, keys)
}

func (s *faultyStore) has(key string) bool {
	_, err := s.Head(context.Background(), key)
	return err == nil
}

func (s *faultyStore) put(keys ...string) {
	for _, key := range keys {
		err := s.Put(context.Background(), &object_store.Data{
			Info: object_store.Info{Key: key, ContentType: "text/plain"},
			Body: []byte(key),
		})
		if err != nil {
			panic(err)
		}
	}
}

// faultyLog wraps a MemoryAccessLog and records or fails calls.
type faultyLog struct {
	*memory_access_log.MemoryAccessLog

	getCalls  int
	getErr    error
	truncate  bool
	deleteErr error
}

func newFaultyLog(clk *fakeClock) *faultyLog {
	return &faultyLog{
		MemoryAccessLog: memory_access_log.NewMemoryAccessLog(memory_access_log.MemoryAccessLogOpts{Now: clk.Now}),
	}
}

func (l *faultyLog) GetLastAccessed(ctx context.Context, keys []string) ([]time.Time, error) {
	l.getCalls++
	if l.getErr != nil {
		return nil, l.getErr
	}
	out, err := l.MemoryAccessLog.GetLastAccessed(ctx, keys)
	if l.truncate && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, err
}

func (l *faultyLog) Delete(ctx context.Context, keys []string) error {
	if l.deleteErr != nil {
		return l.deleteErr
	}
	return l.MemoryAccessLog.Delete(ctx, keys)
}

func (l *faultyLog) has(key string) bool {
	_, ok := l.Get(key)
	return ok
}
