// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package watchdog tracks per-task liveness deadlines and forces a device
// reset when a registered task stops proving it is alive.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Restarter forces a full device reset. The reset is the last-resort safety
// net against a hung task and is not recoverable in software.
type Restarter interface {
	Restart(reason string)
}

// Registration is a task's commitment to periodically prove liveness.
// The critical flag is advisory metadata for logs and stats; enforcement
// of the deadline is uniform across all registrations.
type Registration struct {
	Name     string
	Timeout  time.Duration
	Critical bool

	registeredAt time.Time
	lastFed      time.Time
	feeds        uint64
}

// Registry tracks watchdog registrations keyed by task name. Entries are
// mutated by many tasks at registration time, but each entry is fed only
// by its owning task afterwards; the registry lock is held only briefly
// for bookkeeping and iteration.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Registration

	restarter     Restarter
	checkInterval time.Duration
	statsInterval time.Duration
	now           func() time.Time
}

type RegistryOption func(*Registry)

// WithCheckInterval overrides how often deadlines are evaluated.
func WithCheckInterval(d time.Duration) RegistryOption {
	return func(r *Registry) { r.checkInterval = d }
}

// WithStatsInterval overrides how often registration stats are logged.
func WithStatsInterval(d time.Duration) RegistryOption {
	return func(r *Registry) { r.statsInterval = d }
}

func NewRegistry(restarter Restarter, options ...RegistryOption) *Registry {
	r := &Registry{
		tasks:         make(map[string]*Registration),
		restarter:     restarter,
		checkInterval: 250 * time.Millisecond,
		statsInterval: time.Minute,
		now:           time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Register associates a task name with a liveness deadline. Registering a
// name that already exists returns success without creating a duplicate
// entry; the kernel may have pre-registered the primary task before we get
// a chance to.
func (r *Registry) Register(name string, timeout time.Duration, critical bool) error {
	if name == "" {
		return fmt.Errorf("watchdog: registration requires a task name")
	}
	if timeout <= 0 {
		return fmt.Errorf("watchdog: invalid timeout %v for task %q", timeout, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tasks[name]; ok {
		slog.Debug("task already registered with watchdog", "task", name, "timeout", existing.Timeout)
		existing.lastFed = r.now()
		return nil
	}
	now := r.now()
	r.tasks[name] = &Registration{
		Name:         name,
		Timeout:      timeout,
		Critical:     critical,
		registeredAt: now,
		lastFed:      now,
	}
	slog.Info("task registered with watchdog", "task", name, "timeout", timeout, "critical", critical)
	return nil
}

// Feed resets the deadline for the named task. Feeding an unregistered
// name is logged and otherwise ignored.
func (r *Registry) Feed(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.tasks[name]
	if !ok {
		slog.Warn("feed from task without watchdog registration", "task", name)
		return
	}
	reg.lastFed = r.now()
	reg.feeds++
}

// Unregister removes the registration. Used only during orderly shutdown.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[name]; ok {
		delete(r.tasks, name)
		slog.Info("task unregistered from watchdog", "task", name)
	}
}

// Registered reports whether the named task currently holds a registration.
func (r *Registry) Registered(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[name]
	return ok
}

// Run evaluates deadlines until the context is cancelled. A task that has
// not fed within its timeout triggers a full device reset through the
// restarter; there is no software recovery path.
func (r *Registry) Run(ctx context.Context) error {
	check := time.NewTicker(r.checkInterval)
	defer check.Stop()
	stats := time.NewTicker(r.statsInterval)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-check.C:
			if starved := r.findStarved(); starved != nil {
				slog.Error("watchdog timeout, forcing device reset",
					"task", starved.Name,
					"timeout", starved.Timeout,
					"critical", starved.Critical,
					"last_fed", starved.lastFed)
				r.restarter.Restart(fmt.Sprintf("watchdog: task %q starved its %v deadline", starved.Name, starved.Timeout))
				return nil
			}
		case <-stats.C:
			r.LogStats()
		}
	}
}

func (r *Registry) findStarved() *Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, reg := range r.tasks {
		if now.Sub(reg.lastFed) > reg.Timeout {
			return reg
		}
	}
	return nil
}

// LogStats writes one line per registration with feed counters.
func (r *Registry) LogStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, reg := range r.tasks {
		slog.Info("watchdog registration",
			"task", reg.Name,
			"timeout", reg.Timeout,
			"critical", reg.Critical,
			"feeds", reg.feeds,
			"since_last_feed", now.Sub(reg.lastFed).Round(time.Millisecond))
	}
}
