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
	"errors"
	"fmt"
	"time"

	"github.com/Vizaxe/objcache/pkg/access_log"
	"github.com/Vizaxe/objcache/pkg/object_store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Sweeper deletes objects under a prefix that have not been read or
// written for longer than a ttl.
type Sweeper struct {
	opts    Opts
	deleter *BatchDeleter
	sf      singleflight.Group

	sweepTotal        prometheus.Counter
	sweepFailedTotal  prometheus.Counter
	scannedTotal      prometheus.Counter
	expiredTotal      prometheus.Counter
	deleteFailedTotal prometheus.Counter
	sweepDuration     prometheus.Histogram
}

type Opts struct {
	// Store cannot be nil.
	Store object_store.ObjectStore

	// AccessLog cannot be nil.
	AccessLog access_log.AccessLog

	// Prefix limits the sweep to keys starting with it.
	Prefix string

	// TTL cannot be negative.
	TTL time.Duration

	// BatchSize is the max number of keys per delete call.
	// Default is object_store.MaxDeleteBatch.
	BatchSize int

	// Now is sampled once at the start of each cycle. Default is time.Now.
	Now func() time.Time

	// Logger is the *zap.Logger for this Sweeper.
	// A nil Logger will disable logging.
	Logger *zap.Logger

	// MetricsTag will be added to metrics as a const label.
	MetricsTag string
}

func (opts *Opts) init() error {
	if opts.Store == nil {
		return errors.New("nil store")
	}
	if opts.AccessLog == nil {
		return errors.New("nil access log")
	}
	if opts.TTL < 0 {
		return fmt.Errorf("negative ttl %s", opts.TTL)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return nil
}

// Report summarizes one sweep cycle. On an aborted cycle it covers
// the pages that were processed before the failure.
type Report struct {
	Pages        int           `json:"pages"`
	Scanned      int           `json:"scanned"`
	Expired      int           `json:"expired"`
	Deleted      int           `json:"deleted"`
	DeleteFailed int           `json:"delete_failed"`
	Duration     time.Duration `json:"duration"`
}

func New(opts Opts) (*Sweeper, error) {
	if err := opts.init(); err != nil {
		return nil, err
	}
	lb := map[string]string{"tag": opts.MetricsTag}
	return &Sweeper{
		opts:    opts,
		deleter: NewBatchDeleter(opts.Store, opts.BatchSize, opts.Logger),

		sweepTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "sweep_total",
			Help:        "The total number of sweep cycles",
			ConstLabels: lb,
		}),
		sweepFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "sweep_failed_total",
			Help:        "The total number of sweep cycles that were aborted",
			ConstLabels: lb,
		}),
		scannedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "scanned_objects_total",
			Help:        "The total number of objects checked by sweeps",
			ConstLabels: lb,
		}),
		expiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "expired_objects_total",
			Help:        "The total number of expired objects found by sweeps",
			ConstLabels: lb,
		}),
		deleteFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "delete_failed_objects_total",
			Help:        "The total number of expired objects that could not be deleted",
			ConstLabels: lb,
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "sweep_duration_seconds",
			Help:        "The duration of sweep cycles",
			ConstLabels: lb,
			Buckets:     prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}, nil
}

func (s *Sweeper) RegMetricsTo(r prometheus.Registerer) error {
	for _, collector := range [...]prometheus.Collector{
		s.sweepTotal,
		s.sweepFailedTotal,
		s.scannedTotal,
		s.expiredTotal,
		s.deleteFailedTotal,
		s.sweepDuration,
	} {
		if err := r.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Sweep runs one cycle. Errors and panics are logged, never returned.
func (s *Sweeper) Sweep(ctx context.Context) {
	if _, err := s.Run(ctx); err != nil {
		s.opts.Logger.Error("cleanup failed", zap.String("prefix", s.opts.Prefix), zap.Error(err))
	}
}

// Run runs one cycle and returns its report. Calls made while a cycle
// is running wait for it and share its result.
// The cycle itself is never canceled. If ctx is done first, Run returns
// ctx.Err() and the cycle goes on in the background.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	ch := s.sf.DoChan("sweep", func() (any, error) {
		return s.cycle(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		rep, _ := res.Val.(Report)
		return rep, res.Err
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// cycle runs one pass and records it in the metrics. A panic in the
// pass is returned as an error.
func (s *Sweeper) cycle(ctx context.Context) (rep Report, err error) {
	start := time.Now()
	defer func() {
		rep.Duration = time.Since(start)
		s.sweepTotal.Inc()
		s.sweepDuration.Observe(rep.Duration.Seconds())
		s.scannedTotal.Add(float64(rep.Scanned))
		s.expiredTotal.Add(float64(rep.Expired))
		s.deleteFailedTotal.Add(float64(rep.DeleteFailed))
		if err != nil {
			s.sweepFailedTotal.Inc()
		}
	}()

	if r := panics.Try(func() { rep, err = s.run(ctx) }); r != nil {
		return rep, fmt.Errorf("cleanup panicked, %w", r.AsError())
	}
	return rep, err
}

func (s *Sweeper) run(ctx context.Context) (Report, error) {
	var rep Report
	now := s.opts.Now()
	s.opts.Logger.Debug("cleaning up", zap.String("prefix", s.opts.Prefix), zap.Duration("ttl", s.opts.TTL))

	p := object_store.NewPaginator(s.opts.Store, s.opts.Prefix)
	for p.HasMorePages() {
		objs, err := p.NextPage(ctx)
		if err != nil {
			return rep, fmt.Errorf("failed to list objects, %w", err)
		}
		rep.Pages++
		if err := s.sweepPage(ctx, objs, now, &rep); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

func (s *Sweeper) sweepPage(ctx context.Context, objs []object_store.Object, now time.Time, rep *Report) error {
	if len(objs) == 0 {
		return nil
	}
	rep.Scanned += len(objs)

	keys := lo.Map(objs, func(o object_store.Object, _ int) string { return o.Key })
	accessed, err := s.opts.AccessLog.GetLastAccessed(ctx, keys)
	if err != nil {
		return fmt.Errorf("failed to get last accessed time, %w", err)
	}
	if len(accessed) != len(keys) {
		return fmt.Errorf("access log returned %d timestamps for %d keys", len(accessed), len(keys))
	}

	expired := expiredKeys(objs, accessed, s.opts.TTL, now)
	if len(expired) == 0 {
		return nil
	}
	s.opts.Logger.Debug("found expired objects", zap.Int("expired", len(expired)), zap.Int("scanned", len(objs)))
	rep.Expired += len(expired)

	if err := s.opts.AccessLog.Delete(ctx, expired); err != nil {
		return fmt.Errorf("failed to delete access records, %w", err)
	}
	res := s.deleter.Delete(ctx, expired)
	rep.Deleted += res.Deleted
	rep.DeleteFailed += res.Failed
	return nil
}
