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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Vizaxe/objcache/pkg/obj_cache"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	metaHeaderPrefix = "X-Objcache-Meta-"
	maxBodySize      = 64 << 20
)

func (m *Objcache) initHttpMux() {
	r := chi.NewRouter()
	r.Get("/cache/*", m.handleGet)
	r.Head("/cache/*", m.handleHead)
	r.Put("/cache/*", m.handlePut)
	r.Delete("/cache/*", m.handleDelete)
	r.Post("/sweep", m.handleSweep)
	r.Get("/metrics", promhttp.HandlerFor(m.metricsReg, promhttp.HandlerOpts{}).ServeHTTP)
	m.httpMux = r
}

func cacheKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "*")
	if len(key) == 0 {
		http.Error(w, "empty key", http.StatusBadRequest)
		return "", false
	}
	return key, true
}

func (m *Objcache) internalError(w http.ResponseWriter, msg, key string, err error) {
	m.logger.Warn(msg, zap.String("key", key), zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (m *Objcache) handleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := cacheKey(w, r)
	if !ok {
		return
	}
	e, ok, err := m.cache.Get(r.Context(), key)
	if err != nil {
		m.internalError(w, "failed to get entry", key, err)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	h := w.Header()
	if len(e.ContentType) > 0 {
		h.Set("Content-Type", e.ContentType)
	}
	if len(e.CacheControl) > 0 {
		h.Set("Cache-Control", e.CacheControl)
	}
	writeMeta(h, e.Metadata)
	h.Set("Content-Length", strconv.Itoa(len(e.Data)))
	_, _ = w.Write(e.Data)
}

func (m *Objcache) handleHead(w http.ResponseWriter, r *http.Request) {
	key, ok := cacheKey(w, r)
	if !ok {
		return
	}
	info, ok, err := m.cache.Head(r.Context(), key)
	if err != nil {
		m.internalError(w, "failed to head entry", key, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	h := w.Header()
	if len(info.ContentType) > 0 {
		h.Set("Content-Type", info.ContentType)
	}
	writeMeta(h, info.Metadata)
	h.Set("Content-Length", strconv.FormatInt(info.ContentLength, 10))
	w.WriteHeader(http.StatusOK)
}

func (m *Objcache) handlePut(w http.ResponseWriter, r *http.Request) {
	key, ok := cacheKey(w, r)
	if !ok {
		return
	}
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	info, err := m.cache.Set(r.Context(), key, &obj_cache.Entry{
		Data:         b,
		ContentType:  r.Header.Get("Content-Type"),
		CacheControl: r.Header.Get("Cache-Control"),
		Metadata:     readMeta(r.Header),
	})
	if err != nil {
		m.internalError(w, "failed to set entry", key, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (m *Objcache) handleDelete(w http.ResponseWriter, r *http.Request) {
	key, ok := cacheKey(w, r)
	if !ok {
		return
	}
	if err := m.cache.Invalidate(r.Context(), key); err != nil {
		m.internalError(w, "failed to invalidate entry", key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Objcache) handleSweep(w http.ResponseWriter, r *http.Request) {
	rep, err := m.cache.Cleanup(r.Context())
	if err != nil {
		if errors.Is(err, obj_cache.ErrCleanupDisabled) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		m.logger.Warn("sweep failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// readMeta collects X-Objcache-Meta-* headers. Names are lower cased.
func readMeta(h http.Header) map[string]string {
	var md map[string]string
	for k, vs := range h {
		name, ok := strings.CutPrefix(k, metaHeaderPrefix)
		if !ok || len(name) == 0 || len(vs) == 0 {
			continue
		}
		if md == nil {
			md = make(map[string]string)
		}
		md[strings.ToLower(name)] = vs[0]
	}
	return md
}

func writeMeta(h http.Header, md map[string]string) {
	for k, v := range md {
		h.Set(metaHeaderPrefix+k, v)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
