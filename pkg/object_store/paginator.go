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
)

// Paginator walks a prefix listing page by page.
// A Paginator is not safe for concurrent use and is meant to be
// created for a single pass.
type Paginator struct {
	store  ObjectStore
	prefix string

	cursor string
	done   bool
}

func NewPaginator(store ObjectStore, prefix string) *Paginator {
	return &Paginator{
		store:  store,
		prefix: prefix,
	}
}

// HasMorePages reports whether NextPage can be called.
func (p *Paginator) HasMorePages() bool {
	return !p.done
}

// NextPage fetches the next page. A failed call leaves the cursor
// untouched so the same page can be requested again.
func (p *Paginator) NextPage(ctx context.Context) ([]Object, error) {
	if !p.HasMorePages() {
		return nil, errors.New("no more pages available")
	}
	page, err := p.store.List(ctx, p.prefix, p.cursor)
	if err != nil {
		return nil, err
	}
	p.cursor = page.NextCursor
	p.done = len(page.NextCursor) == 0
	return page.Objects, nil
}
