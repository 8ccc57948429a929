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

package coremain

import (
	"context"
	"fmt"
	"io"

	"github.com/Vizaxe/objcache/pkg/access_log"
	"github.com/Vizaxe/objcache/pkg/access_log/memcached_access_log"
	"github.com/Vizaxe/objcache/pkg/access_log/memory_access_log"
	"github.com/Vizaxe/objcache/pkg/access_log/redis_access_log"
	"github.com/Vizaxe/objcache/pkg/object_store"
	"github.com/Vizaxe/objcache/pkg/object_store/memory_object_store"
	"github.com/Vizaxe/objcache/pkg/object_store/pebble_object_store"
	"github.com/Vizaxe/objcache/pkg/object_store/s3_object_store"
	"go.uber.org/zap"
)

func newStore(ctx context.Context, cfg StoreConfig, logger *zap.Logger) (object_store.ObjectStore, io.Closer, error) {
	switch cfg.Type {
	case "s3":
		s, err := s3_object_store.NewS3Store(ctx, s3_object_store.S3StoreOpts{
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
			PageSize:     cfg.S3.PageSize,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case "pebble":
		s, err := pebble_object_store.NewPebbleStore(pebble_object_store.PebbleStoreOpts{
			Dir:      cfg.Pebble.Dir,
			PageSize: cfg.Pebble.PageSize,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "memory":
		logger.Warn("using in-memory object store, entries are lost on exit")
		return memory_object_store.NewMemoryStore(memory_object_store.MemoryStoreOpts{}), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

func newAccessLog(ctx context.Context, cfg AccessLogConfig, logger *zap.Logger) (access_log.AccessLog, io.Closer, error) {
	switch cfg.Type {
	case "redis":
		l, err := redis_access_log.NewRedisAccessLogFromURL(ctx, cfg.Redis.URL, redis_access_log.RedisAccessLogOpts{
			HashKey:       cfg.Redis.HashKey,
			ClientTimeout: cfg.Redis.Timeout,
			Logger:        logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return l, l, nil
	case "memcached":
		l, err := memcached_access_log.NewMemcachedAccessLog(memcached_access_log.MemcachedAccessLogOpts{
			Client:    memcached_access_log.NewClient(cfg.Memcached.Timeout, cfg.Memcached.Servers...),
			KeyPrefix: cfg.Memcached.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return l, nil, nil
	case "memory":
		return memory_access_log.NewMemoryAccessLog(memory_access_log.MemoryAccessLogOpts{}), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown access log type %q", cfg.Type)
	}
}
