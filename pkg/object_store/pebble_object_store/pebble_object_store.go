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

package pebble_object_store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vizaxe/objcache/pkg/object_store"
	"github.com/Vizaxe/objcache/pkg/utils"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

var _ object_store.ObjectStore = (*PebbleStore)(nil)

// PebbleStore keeps objects in a local pebble db.
// Inner schema:
// M{key} : msgpack(record) without body
// B{key} : body
type PebbleStore struct {
	opts PebbleStoreOpts
	db   *pebble.DB
}

type PebbleStoreOpts struct {
	// Dir is the pebble data directory. Required.
	Dir string

	// FS overrides the pebble filesystem. Optional, vfs.NewMem() in tests.
	FS vfs.FS

	// PageSize is the max number of objects returned by one List call.
	// Default is object_store.DefaultPageSize.
	PageSize int

	// Now is used to stamp LastModified. Default is time.Now.
	Now func() time.Time

	// Logger is the *zap.Logger for this store.
	// A nil Logger will disable logging.
	Logger *zap.Logger
}

func (opts *PebbleStoreOpts) init() error {
	if len(opts.Dir) == 0 {
		return errors.New("empty pebble dir")
	}
	utils.SetDefaultNum(&opts.PageSize, object_store.DefaultPageSize)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return nil
}

type record struct {
	ContentType   string            `msgpack:"ct,omitempty"`
	CacheControl  string            `msgpack:"cc,omitempty"`
	ContentLength int64             `msgpack:"cl"`
	LastModified  int64             `msgpack:"lm"`
	Metadata      map[string]string `msgpack:"md,omitempty"`
}

func (r *record) info(key string) *object_store.Info {
	return &object_store.Info{
		Key:           key,
		ContentType:   r.ContentType,
		CacheControl:  r.CacheControl,
		ContentLength: r.ContentLength,
		LastModified:  time.UnixMilli(r.LastModified),
		Metadata:      r.Metadata,
	}
}

func makeMetaKey(key string) []byte {
	out := make([]byte, 1+len(key))
	out[0] = 'M'
	copy(out[1:], key)
	return out
}

func makeBodyKey(key string) []byte {
	out := make([]byte, 1+len(key))
	out[0] = 'B'
	copy(out[1:], key)
	return out
}

func parseMetaKey(k []byte) string {
	if k[0] != 'M' {
		panic(fmt.Sprintf("meta key must start with M, got %v", k[0]))
	}
	return string(k[1:])
}

// keyUpperBound returns the smallest key that is greater than all keys
// with prefix b.
func keyUpperBound(b []byte) []byte {
	end := append([]byte(nil), b...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func NewPebbleStore(opts PebbleStoreOpts) (*PebbleStore, error) {
	if err := opts.init(); err != nil {
		return nil, err
	}
	db, err := pebble.Open(opts.Dir, &pebble.Options{FS: opts.FS})
	if err != nil {
		return nil, fmt.Errorf("%s: could not open db, %w", opts.Dir, err)
	}
	return &PebbleStore{opts: opts, db: db}, nil
}

func (s *PebbleStore) Close() error {
	if err := s.db.Flush(); err != nil {
		s.opts.Logger.Error("pebble flush", zap.Error(err))
	}
	return s.db.Close()
}

func (s *PebbleStore) getRecord(key string) (*record, error) {
	v, closer, err := s.db.Get(makeMetaKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, object_store.ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	r := new(record)
	if err := msgpack.Unmarshal(v, r); err != nil {
		return nil, fmt.Errorf("invalid record %s, %w", key, err)
	}
	return r, nil
}

func (s *PebbleStore) Get(_ context.Context, key string) (*object_store.Data, error) {
	r, err := s.getRecord(key)
	if err != nil {
		return nil, err
	}
	v, closer, err := s.db.Get(makeBodyKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, object_store.ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return &object_store.Data{
		Info: *r.info(key),
		Body: append([]byte(nil), v...),
	}, nil
}

func (s *PebbleStore) Head(_ context.Context, key string) (*object_store.Info, error) {
	r, err := s.getRecord(key)
	if err != nil {
		return nil, err
	}
	return r.info(key), nil
}

func (s *PebbleStore) Put(_ context.Context, d *object_store.Data) error {
	r := record{
		ContentType:   d.ContentType,
		CacheControl:  d.CacheControl,
		ContentLength: int64(len(d.Body)),
		LastModified:  s.opts.Now().UnixMilli(),
		Metadata:      d.Metadata,
	}
	b, err := msgpack.Marshal(&r)
	if err != nil {
		return fmt.Errorf("failed to marshal record, %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(makeMetaKey(d.Key), b, nil); err != nil {
		return err
	}
	if err := batch.Set(makeBodyKey(d.Key), d.Body, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) Delete(ctx context.Context, key string) error {
	_, err := s.DeleteMany(ctx, []string{key})
	return err
}

// List returns objects whose key has prefix and sorts after cursor.
// The cursor is the last key of the previous page.
func (s *PebbleStore) List(ctx context.Context, prefix, cursor string) (*object_store.ListPage, error) {
	lower := makeMetaKey(prefix)
	if len(cursor) > 0 {
		// first key strictly after cursor
		lower = append(makeMetaKey(cursor), 0)
	}
	iter, err := s.db.NewIterWithContext(ctx, &pebble.IterOptions{
		LowerBound: lower,
		UpperBound: keyUpperBound(makeMetaKey(prefix)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	page := new(object_store.ListPage)
	for valid := iter.First(); valid; valid = iter.Next() {
		if len(page.Objects) == s.opts.PageSize {
			page.NextCursor = page.Objects[len(page.Objects)-1].Key
			break
		}
		key := parseMetaKey(iter.Key())
		var r record
		if err := msgpack.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("invalid record %s, %w", key, err)
		}
		page.Objects = append(page.Objects, object_store.Object{
			Key:          key,
			LastModified: time.UnixMilli(r.LastModified),
			Size:         r.ContentLength,
		})
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return page, nil
}

// DeleteMany removes all keys in one batch. It either deletes
// everything or returns an error for the whole call.
func (s *PebbleStore) DeleteMany(_ context.Context, keys []string) ([]object_store.DeleteError, error) {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, key := range keys {
		if err := batch.Delete(makeMetaKey(key), nil); err != nil {
			return nil, err
		}
		if err := batch.Delete(makeBodyKey(key), nil); err != nil {
			return nil, err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("failed to commit delete batch, %w", err)
	}
	return nil, nil
}
