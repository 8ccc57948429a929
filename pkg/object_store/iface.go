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

package object_store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MaxDeleteBatch is the maximum number of keys a single DeleteMany call
// accepts. It matches the S3 DeleteObjects limit.
const MaxDeleteBatch = 1000

// DefaultPageSize is the default number of objects returned by List.
const DefaultPageSize = 1000

// ErrNotFound is returned by Get, Head and Delete implementations that
// report missing keys.
var ErrNotFound = errors.New("object not found")

// Object is a listing record. It is a snapshot of the object at listing time.
type Object struct {
	Key          string
	LastModified time.Time
	Size         int64
}

// ListPage is one page of a prefix listing.
// An empty NextCursor means the listing is exhausted.
type ListPage struct {
	Objects    []Object
	NextCursor string
}

// Info describes a stored object without its body.
type Info struct {
	Key           string
	ContentType   string
	CacheControl  string
	ContentLength int64
	LastModified  time.Time
	Metadata      map[string]string
}

// Data is a stored object with its body.
type Data struct {
	Info
	Body []byte
}

// DeleteError is a per-key failure reported by DeleteMany.
type DeleteError struct {
	Key     string
	Code    string
	Message string
}

func (e DeleteError) Error() string {
	return fmt.Sprintf("delete %s: %s: %s", e.Key, e.Code, e.Message)
}

type ObjectStore interface {
	// Get returns ErrNotFound if key does not exist.
	Get(ctx context.Context, key string) (*Data, error)
	// Head returns ErrNotFound if key does not exist.
	Head(ctx context.Context, key string) (*Info, error)
	// Put stores d under d.Key. Size and LastModified are set by the store.
	Put(ctx context.Context, d *Data) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the page of objects under prefix that follows cursor.
	// An empty cursor starts from the beginning.
	List(ctx context.Context, prefix, cursor string) (*ListPage, error)
	// DeleteMany removes up to MaxDeleteBatch keys and returns only
	// the keys that failed.
	DeleteMany(ctx context.Context, keys []string) ([]DeleteError, error)
}
