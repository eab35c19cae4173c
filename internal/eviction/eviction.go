// Package eviction runs the periodic lease cache sweep: expired v4/v6
// leases and stale MAC->Option82 bindings are dropped on a timer, the
// same way a rate limiter's cleanup goroutine sweeps its own state.
package eviction

import (
	"time"

	"go.uber.org/zap"

	"github.com/shadowisp/resdhcp/internal/leasecache"
	"github.com/shadowisp/resdhcp/internal/metrics"
	"github.com/shadowisp/resdhcp/internal/reservation"
)

// Task periodically evicts expired entries from a *leasecache.Cache.
type Task struct {
	cache       *leasecache.Cache
	index       func() *reservation.Index
	opt82MaxAge time.Duration
	interval    time.Duration
	log         *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewTask builds an eviction Task. index is called fresh on every
// sweep so a reload published mid-run is picked up without restarting
// the ticker.
func NewTask(cache *leasecache.Cache, index func() *reservation.Index, interval, opt82MaxAge time.Duration, log *zap.Logger) *Task {
	return &Task{
		cache:       cache,
		index:       index,
		opt82MaxAge: opt82MaxAge,
		interval:    interval,
		log:         log,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start runs the sweep on a ticker until Stop is called.
func (t *Task) Start() {
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.sweep()
			case <-t.stop:
				return
			}
		}
	}()
}

// Stop ends the ticker loop and waits for the in-flight sweep, if any,
// to finish.
func (t *Task) Stop() {
	close(t.stop)
	<-t.done
}

func (t *Task) sweep() {
	var idx *reservation.Index
	if t.index != nil {
		idx = t.index()
	}
	before := time.Now()
	opt82Evicted, v4Evicted, v6Evicted := t.cache.EvictExpired(t.opt82MaxAge, idx)
	if t.log != nil {
		t.log.Debug("ran eviction sweep", zap.Duration("took", time.Since(before)))
	}

	reg := metrics.Get()
	reg.Evictions.WithLabelValues("opt82").Add(float64(opt82Evicted))
	reg.Evictions.WithLabelValues("v4").Add(float64(v4Evicted))
	reg.Evictions.WithLabelValues("v6").Add(float64(v6Evicted))

	v4Active, v6Active := t.cache.Counts()
	reg.ActiveV4Leases.Set(float64(v4Active))
	reg.ActiveV6Leases.Set(float64(v6Active))
}
