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
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Vizaxe/objcache/pkg/obj_cache"
	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Objcache is a configured cache with its backends and http api.
type Objcache struct {
	cfg    *Config
	logger *zap.Logger

	cache   *obj_cache.Cache
	closers []io.Closer

	metricsReg *prometheus.Registry
	httpMux    *chi.Mux
}

// NewObjcache builds the backends described by cfg.
// cfg must be initialized.
func NewObjcache(ctx context.Context, cfg *Config, logger *zap.Logger) (*Objcache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Objcache{
		cfg:        cfg,
		logger:     logger,
		metricsReg: newMetricsReg(),
	}

	store, closer, err := newStore(ctx, cfg.Store, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to init object store, %w", err)
	}
	m.addCloser(closer)

	opts := obj_cache.Opts{
		Store:      store,
		Prefix:     cfg.Cache.Prefix,
		Logger:     logger.Named("cache"),
		MetricsTag: "main",
	}
	if !cfg.Cache.DisableCleanup {
		al, closer, err := newAccessLog(ctx, cfg.AccessLog, logger.Named("access_log"))
		if err != nil {
			_ = m.closeAll()
			return nil, fmt.Errorf("failed to init access log, %w", err)
		}
		m.addCloser(closer)
		opts.Cleanup = &obj_cache.CleanupOpts{
			AccessLog:       al,
			TTL:             cfg.Cache.TTL,
			CleanupInterval: cfg.Cache.CleanupInterval,
		}
	}

	c, err := obj_cache.New(opts)
	if err != nil {
		_ = m.closeAll()
		return nil, fmt.Errorf("failed to init cache, %w", err)
	}
	m.cache = c
	if err := c.RegMetricsTo(prometheus.WrapRegistererWithPrefix("objcache_", m.metricsReg)); err != nil {
		_ = m.closeAll()
		return nil, fmt.Errorf("failed to register metrics, %w", err)
	}

	m.initHttpMux()
	return m, nil
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func (m *Objcache) addCloser(c io.Closer) {
	if c != nil {
		m.closers = append(m.closers, c)
	}
}

func (m *Objcache) closeAll() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

func (m *Objcache) Cache() *obj_cache.Cache {
	return m.cache
}

func (m *Objcache) GetMetricsReg() prometheus.Registerer {
	return m.metricsReg
}

// Handler returns the http api. Responses are gzip compressed when
// the client accepts it.
func (m *Objcache) Handler() http.Handler {
	return gzhttp.GzipHandler(m.httpMux)
}

// ListenAndServe serves the http api until ctx is done.
func (m *Objcache) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              m.cfg.HTTP.Listen,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	m.logger.Info("starting http api", zap.String("addr", m.cfg.HTTP.Listen))

	select {
	case err := <-errCh:
		return fmt.Errorf("http api exited, %w", err)
	case <-ctx.Done():
		m.logger.Info("shutting down http api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close waits for running sweeps and closes the backends.
func (m *Objcache) Close() error {
	if m.cache != nil {
		_ = m.cache.Close()
	}
	return m.closeAll()
}
