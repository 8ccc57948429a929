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

package memory_access_log

import (
	"context"
	"time"

	"github.com/Vizaxe/objcache/pkg/access_log"
	"github.com/puzpuzpuz/xsync/v3"
)

var _ access_log.AccessLog = (*MemoryAccessLog)(nil)

// MemoryAccessLog is an in-process access log.
// It is safe for concurrent use. Records are lost on restart.
type MemoryAccessLog struct {
	opts MemoryAccessLogOpts
	m    *xsync.MapOf[string, time.Time]
}

type MemoryAccessLogOpts struct {
	// Now is used by SetLastAccessed. Default is time.Now.
	Now func() time.Time
}

func (opts *MemoryAccessLogOpts) init() {
	if opts.Now == nil {
		opts.Now = time.Now
	}
}

func NewMemoryAccessLog(opts MemoryAccessLogOpts) *MemoryAccessLog {
	opts.init()
	return &MemoryAccessLog{
		opts: opts,
		m:    xsync.NewMapOf[string, time.Time](),
	}
}

func (l *MemoryAccessLog) GetLastAccessed(_ context.Context, keys []string) ([]time.Time, error) {
	out := make([]time.Time, len(keys))
	for i, key := range keys {
		out[i], _ = l.m.Load(key)
	}
	return out, nil
}

func (l *MemoryAccessLog) SetLastAccessed(_ context.Context, key string) error {
	l.m.Store(key, l.opts.Now())
	return nil
}

func (l *MemoryAccessLog) Delete(_ context.Context, keys []string) error {
	for _, key := range keys {
		l.m.Delete(key)
	}
	return nil
}

// Get returns the recorded time of key.
func (l *MemoryAccessLog) Get(key string) (time.Time, bool) {
	return l.m.Load(key)
}

// Len returns the current number of records.
func (l *MemoryAccessLog) Len() int {
	return l.m.Size()
}
