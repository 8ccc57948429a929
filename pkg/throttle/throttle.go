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

package throttle

import (
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Gate runs an action at most once per interval, no matter how often
// it is triggered. Suppressed triggers are dropped.
//
// The action runs on its own goroutine. Trigger never waits for it.
// Gate is safe for concurrent use.
type Gate struct {
	opts   GateOpts
	action func()
	lim    *rate.Limiter
	wg     conc.WaitGroup
}

type GateOpts struct {
	// Now is the clock used to check the interval. Default is time.Now.
	Now func() time.Time

	// Logger is the *zap.Logger for this Gate.
	// A nil Logger will disable logging.
	Logger *zap.Logger
}

func (opts *GateOpts) init() {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
}

// NewGate returns a Gate for action. The creation time counts as the
// last invocation, so the first trigger that can run the action is
// one interval after NewGate.
// If interval <= 0, every trigger runs the action.
func NewGate(interval time.Duration, action func(), opts GateOpts) *Gate {
	opts.init()
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	lim := rate.NewLimiter(limit, 1)
	lim.AllowN(opts.Now(), 1)
	return &Gate{
		opts:   opts,
		action: action,
		lim:    lim,
	}
}

// Trigger starts the action if at least one interval has passed since
// the last start. It reports whether the action was started.
func (g *Gate) Trigger() bool {
	return g.TriggerAt(g.opts.Now())
}

// TriggerAt is like Trigger but uses now instead of the gate's clock.
func (g *Gate) TriggerAt(now time.Time) bool {
	if !g.lim.AllowN(now, 1) {
		return false
	}
	g.wg.Go(g.run)
	return true
}

func (g *Gate) run() {
	var pc panics.Catcher
	pc.Try(g.action)
	if r := pc.Recovered(); r != nil {
		g.opts.Logger.Error("throttled action panicked", zap.Error(r.AsError()))
	}
}

// Wait blocks until all started actions have returned.
func (g *Gate) Wait() {
	g.wg.Wait()
}
