// Package reload coordinates replacing the live reservation.Index: a
// file watcher and a SIGHUP watcher both funnel into the same reload
// path, and a management Replace command persists a new reservation
// set to disk (atomically) before swapping it in.
package reload

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"github.com/shadowisp/resdhcp/internal/config"
	"github.com/shadowisp/resdhcp/internal/metrics"
	"github.com/shadowisp/resdhcp/internal/reservation"
)

// Coordinator owns the published *reservation.Index pointer and the
// path reservations are loaded from and persisted to. All loads go
// through ReloadFromDisk so every trigger (startup, fsnotify, SIGHUP,
// a management "reload" command) shares one code path.
type Coordinator struct {
	path string
	idx  atomic.Pointer[reservation.Index]
	log  *zap.Logger
}

// NewCoordinator builds a Coordinator for the reservations file at
// path, performing the initial load before returning.
func NewCoordinator(path string, log *zap.Logger) (*Coordinator, error) {
	c := &Coordinator{path: path, log: log}
	if _, err := c.ReloadFromDisk("startup"); err != nil {
		return nil, err
	}
	return c, nil
}

// Index returns the currently published reservation index. Safe for
// concurrent use with ReloadFromDisk and Replace.
func (c *Coordinator) Index() *reservation.Index {
	return c.idx.Load()
}

// ReloadFromDisk reads and parses the reservations file and publishes
// a fresh index built from it. trigger is a label ("startup",
// "fsnotify", "sighup", "mgmt") used only for the reload metric and
// log line.
func (c *Coordinator) ReloadFromDisk(trigger string) (int, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		c.reloadResult(trigger, false)
		return 0, fmt.Errorf("reading %s: %w", c.path, err)
	}
	reservations, err := config.LoadReservations(data)
	if err != nil {
		c.reloadResult(trigger, false)
		return 0, fmt.Errorf("parsing %s: %w", c.path, err)
	}
	c.idx.Store(reservation.LoadSnapshot(reservations))
	c.reloadResult(trigger, true)
	if c.log != nil {
		c.log.Info("reloaded reservations",
			zap.String("trigger", trigger),
			zap.Int("count", len(reservations)),
			zap.String("path", c.path))
	}
	return len(reservations), nil
}

// Replace atomically persists reservations to the reservations file
// (write-temp, fsync, rename via renameio) and, on success, publishes
// an index built from it without re-reading the file.
func (c *Coordinator) Replace(reservations []*reservation.Reservation, raw []byte) error {
	if err := renameio.WriteFile(c.path, raw, 0o644); err != nil {
		c.reloadResult("mgmt_replace", false)
		return fmt.Errorf("persisting %s: %w", c.path, err)
	}
	c.idx.Store(reservation.LoadSnapshot(reservations))
	c.reloadResult("mgmt_replace", true)
	if c.log != nil {
		c.log.Info("replaced reservations",
			zap.Int("count", len(reservations)),
			zap.String("path", c.path))
	}
	return nil
}

func (c *Coordinator) reloadResult(trigger string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	metrics.Get().ReloadTotal.WithLabelValues(trigger, status).Inc()
}

// WatchFile starts an fsnotify watcher on the reservations file; any
// write event triggers a reload. Runs until stop is closed.
func (c *Coordinator) WatchFile(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(c.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", c.path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if _, err := c.ReloadFromDisk("fsnotify"); err != nil && c.log != nil {
					c.log.Warn("failed to reload reservations after file change", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if c.log != nil {
					c.log.Warn("file watcher error", zap.Error(err))
				}
			case <-stop:
				return
			}
		}
	}()
	return nil
}

// WatchSignal starts a goroutine that reloads on every SIGHUP. Runs
// until stop is closed.
func (c *Coordinator) WatchSignal(stop <-chan struct{}) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sighup)
		for {
			select {
			case <-sighup:
				if c.log != nil {
					c.log.Info("received SIGHUP, reloading reservations")
				}
				if _, err := c.ReloadFromDisk("sighup"); err != nil && c.log != nil {
					c.log.Warn("failed to reload reservations after SIGHUP", zap.Error(err))
				}
			case <-stop:
				return
			}
		}
	}()
}
