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

package sweeper

import (
	"context"

	"github.com/Vizaxe/objcache/pkg/object_store"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// BatchDeleter removes keys from an ObjectStore in chunks no larger
// than the store accepts in one DeleteMany call.
type BatchDeleter struct {
	store     object_store.ObjectStore
	batchSize int
	logger    *zap.Logger
}

// DeleteResult summarizes one Delete call.
type DeleteResult struct {
	// Calls is the number of DeleteMany calls issued.
	Calls   int
	Deleted int
	Failed  int
	// FirstErr is the first failure seen, if any.
	FirstErr error
}

// NewBatchDeleter returns a BatchDeleter for store.
// If batchSize <= 0 or exceeds object_store.MaxDeleteBatch,
// object_store.MaxDeleteBatch is used.
// A nil logger will disable logging.
func NewBatchDeleter(store object_store.ObjectStore, batchSize int, logger *zap.Logger) *BatchDeleter {
	if batchSize <= 0 || batchSize > object_store.MaxDeleteBatch {
		batchSize = object_store.MaxDeleteBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchDeleter{
		store:     store,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Delete deletes keys chunk by chunk, in order. A failed chunk is
// logged and counted, and the remaining chunks are still attempted.
// Delete stops early only if ctx is done. Keys that were not attempted
// count as failed.
func (d *BatchDeleter) Delete(ctx context.Context, keys []string) DeleteResult {
	var res DeleteResult
	attempted := 0
	for _, chunk := range lo.Chunk(keys, d.batchSize) {
		if err := ctx.Err(); err != nil {
			res.Failed += len(keys) - attempted
			if res.FirstErr == nil {
				res.FirstErr = err
			}
			break
		}
		attempted += len(chunk)
		res.Calls++

		failed, err := d.store.DeleteMany(ctx, chunk)
		if err != nil {
			res.Failed += len(chunk)
			if res.FirstErr == nil {
				res.FirstErr = err
			}
			d.logger.Error("failed to delete objects", zap.Int("count", len(chunk)), zap.Error(err))
			continue
		}
		if len(failed) > 0 {
			res.Failed += len(failed)
			if res.FirstErr == nil {
				res.FirstErr = failed[0]
			}
			d.logger.Error(
				"failed to delete objects",
				zap.Int("count", len(failed)),
				zap.NamedError("first_error", failed[0]),
			)
		}
		res.Deleted += len(chunk) - len(failed)
	}
	return res
}
