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

package memory_object_store

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/Vizaxe/objcache/pkg/object_store"
	"github.com/Vizaxe/objcache/pkg/utils"
	"github.com/google/btree"
)

var _ object_store.ObjectStore = (*MemoryStore)(nil)

// MemoryStore is an ordered in-process object store.
// It is safe for concurrent use.
type MemoryStore struct {
	opts MemoryStoreOpts

	mu sync.RWMutex
	t  *btree.BTreeG[*elem]
}

type MemoryStoreOpts struct {
	// PageSize is the max number of objects returned by one List call.
	// Default is object_store.DefaultPageSize.
	PageSize int

	// Now is used to stamp LastModified. Default is time.Now.
	Now func() time.Time
}

func (opts *MemoryStoreOpts) init() {
	utils.SetDefaultNum(&opts.PageSize, object_store.DefaultPageSize)
	if opts.Now == nil {
		opts.Now = time.Now
	}
}

type elem struct {
	key  string
	info object_store.Info
	body []byte
}

func lessElem(a, b *elem) bool {
	return a.key < b.key
}

func NewMemoryStore(opts MemoryStoreOpts) *MemoryStore {
	opts.init()
	return &MemoryStore{
		opts: opts,
		t:    btree.NewG[*elem](32, lessElem),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*object_store.Data, error) {
	s.mu.RLock()
	e, ok := s.t.Get(&elem{key: key})
	s.mu.RUnlock()
	if !ok {
		return nil, object_store.ErrNotFound
	}
	return &object_store.Data{
		Info: copyInfo(e.info),
		Body: append([]byte(nil), e.body...),
	}, nil
}

func (s *MemoryStore) Head(_ context.Context, key string) (*object_store.Info, error) {
	s.mu.RLock()
	e, ok := s.t.Get(&elem{key: key})
	s.mu.RUnlock()
	if !ok {
		return nil, object_store.ErrNotFound
	}
	info := copyInfo(e.info)
	return &info, nil
}

func (s *MemoryStore) Put(_ context.Context, d *object_store.Data) error {
	info := copyInfo(d.Info)
	info.ContentLength = int64(len(d.Body))
	info.LastModified = s.opts.Now()
	e := &elem{
		key:  d.Key,
		info: info,
		body: append([]byte(nil), d.Body...),
	}
	s.mu.Lock()
	s.t.ReplaceOrInsert(e)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	s.t.Delete(&elem{key: key})
	s.mu.Unlock()
	return nil
}

// List returns objects whose key has prefix and sorts after cursor.
// The cursor is the last key of the previous page.
func (s *MemoryStore) List(_ context.Context, prefix, cursor string) (*object_store.ListPage, error) {
	pivot := prefix
	if cursor > pivot {
		pivot = cursor
	}

	page := new(object_store.ListPage)
	more := false
	s.mu.RLock()
	s.t.AscendGreaterOrEqual(&elem{key: pivot}, func(e *elem) bool {
		if !strings.HasPrefix(e.key, prefix) {
			return false
		}
		if len(cursor) > 0 && e.key == cursor {
			return true
		}
		if len(page.Objects) == s.opts.PageSize {
			more = true
			return false
		}
		page.Objects = append(page.Objects, object_store.Object{
			Key:          e.key,
			LastModified: e.info.LastModified,
			Size:         e.info.ContentLength,
		})
		return true
	})
	s.mu.RUnlock()

	if more {
		page.NextCursor = page.Objects[len(page.Objects)-1].Key
	}
	return page, nil
}

// DeleteMany never reports failures.
func (s *MemoryStore) DeleteMany(_ context.Context, keys []string) ([]object_store.DeleteError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.t.Delete(&elem{key: key})
	}
	return nil, nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t.Len()
}

func copyInfo(info object_store.Info) object_store.Info {
	info.Metadata = maps.Clone(info.Metadata)
	return info
}
