// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package update coordinates the firmware-update lifecycle shared across
// the device's tasks: one-time subsystem initialization, network-readiness
// gating, the in-progress flag other tasks consult, and dispatch of the
// transport's lifecycle events.
package update

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/kentronics/otamgr/pkg/netcheck"
	"github.com/kentronics/otamgr/pkg/syncutil"
)

var (
	// ErrNotInitialized is returned by operations invoked before a
	// successful Initialize. Never fatal; callers log and move on.
	ErrNotInitialized = errors.New("update subsystem is not initialized")
	// ErrBusy is returned when Initialize is called while an update is in
	// progress. The prior configuration stays intact.
	ErrBusy = errors.New("update already in progress")
)

// Restarter reboots the device once an update has been applied.
type Restarter interface {
	Restart(reason string)
}

// Status is a thread-safe snapshot of the subsystem state.
type Status struct {
	Initialized bool
	InProgress  bool
	Hostname    string
	Port        uint16
}

// Coordinator owns the update subsystem state. All fields below mu are
// read and written only with mu held; initializedFast mirrors initialized
// so HandleUpdates can fast-path without taking the lock every cycle.
//
// handleMu serializes transport service cycles separately from mu: the
// transport fires lifecycle hooks synchronously from Handle, and those
// hooks take mu themselves.
type Coordinator struct {
	transport Transport
	restarter Restarter
	oracle    *netcheck.Oracle
	feed      func()

	graceDelay    time.Duration
	statusLog     *syncutil.Throttle
	notReadyLog   *syncutil.Throttle
	progressGrain int

	initializedFast atomic.Bool
	handleMu        sync.Mutex

	mu          sync.Mutex
	initialized bool
	inProgress  bool
	hostname    string
	port        uint16
	ready       func() bool
	onStart     func()
	onEnd       func()
	onProgress  func(transferred, total uint64)
	onError     func(kind ErrorKind)
	lastPercent int
}

type Option func(*Coordinator)

// WithOracle replaces the default readiness oracle.
func WithOracle(o *netcheck.Oracle) Option {
	return func(c *Coordinator) { c.oracle = o }
}

// WithFeed installs a watchdog feed invoked on the progress path, which
// executes on the time-critical transfer service call.
func WithFeed(feed func()) Option {
	return func(c *Coordinator) { c.feed = feed }
}

// WithGraceDelay overrides the pause between a successful end event and
// the device restart, left for pending log output to flush.
func WithGraceDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.graceDelay = d }
}

// WithLogIntervals overrides the throttle windows for the steady-state
// status line and the not-ready error line.
func WithLogIntervals(status, notReady time.Duration) Option {
	return func(c *Coordinator) {
		c.statusLog = syncutil.NewThrottle(status)
		c.notReadyLog = syncutil.NewThrottle(notReady)
	}
}

func NewCoordinator(transport Transport, restarter Restarter, options ...Option) *Coordinator {
	c := &Coordinator{
		transport:     transport,
		restarter:     restarter,
		oracle:        netcheck.New(),
		graceDelay:    time.Second,
		statusLog:     syncutil.NewThrottle(time.Minute),
		notReadyLog:   syncutil.NewThrottle(10 * time.Second),
		progressGrain: 10,
		lastPercent:   -1,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Initialize performs one-time setup of the update subsystem. It is
// idempotent: calling it again reconfigures the subsystem in place. It is
// rejected while an update is in progress. An empty hostname or zero port
// leaves any prior configuration intact.
func (c *Coordinator) Initialize(hostname, password string, port uint16, check netcheck.Probe) error {
	if hostname == "" {
		slog.Error("update subsystem requires a hostname")
		return errors.New("hostname cannot be empty")
	}
	if port == 0 {
		slog.Error("update subsystem requires a non-zero port")
		return errors.New("port cannot be 0")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inProgress {
		slog.Error("cannot reconfigure update subsystem during an update")
		return ErrBusy
	}

	if err := c.transport.Configure(TransportConfig{
		Hostname: hostname,
		Port:     port,
		Password: password,
	}); err != nil {
		slog.Error("failed to configure update transport", "error", err)
		return errors.Wrap(err, "configure transport")
	}

	if password == "" {
		slog.Warn("update service exposed without authentication")
	}

	c.transport.SetHooks(Hooks{
		OnStart:    c.dispatchStart,
		OnEnd:      c.dispatchEnd,
		OnProgress: c.dispatchProgress,
		OnError:    c.dispatchError,
	})

	c.hostname = hostname
	c.port = port
	if check != nil {
		c.ready = check
	} else {
		c.ready = c.oracle.Check
	}
	c.initialized = true
	c.initializedFast.Store(true)

	slog.Info("update subsystem initialized", "hostname", hostname, "port", port)
	return nil
}

// IsInitialized reports whether Initialize has succeeded.
func (c *Coordinator) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// InProgress reports whether an update session is currently active. Other
// tasks read this to decide whether to suspend non-essential work.
func (c *Coordinator) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgress
}

// CurrentStatus returns a consistent snapshot for status reporting.
func (c *Coordinator) CurrentStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Initialized: c.initialized,
		InProgress:  c.inProgress,
		Hostname:    c.hostname,
		Port:        c.port,
	}
}

// HandleUpdates services the transport once. It must be driven at a
// sub-second cadence by exactly one task. Before initialization it is a
// cheap no-op; when the network is not ready it skips the cycle with a
// throttled error line.
func (c *Coordinator) HandleUpdates(ctx context.Context) error {
	if !c.initializedFast.Load() {
		return nil
	}

	c.mu.Lock()
	ready := c.ready
	port := c.port
	c.mu.Unlock()

	if !ready() {
		if c.notReadyLog.Allow() {
			slog.Error("network not ready, skipping update check")
		}
		return nil
	}

	c.handleMu.Lock()
	defer c.handleMu.Unlock()

	// Re-check under the state lock: the subsystem may have been
	// reconfigured between the fast check and here.
	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	if !initialized {
		return nil
	}

	if err := c.transport.Handle(ctx); err != nil {
		return errors.Wrap(err, "transport service cycle")
	}

	if c.statusLog.Allow() {
		slog.Debug("waiting for updates", "addr", netcheck.LocalAddr(), "port", port)
	}
	return nil
}

// SetStartHook replaces the start slot. A nil hook leaves the existing
// slot untouched. Rejected before Initialize.
func (c *Coordinator) SetStartHook(hook func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		slog.Warn("cannot set start hook before initialization")
		return ErrNotInitialized
	}
	if hook != nil {
		c.onStart = hook
	}
	return nil
}

// SetEndHook replaces the end slot. A nil hook leaves the existing slot
// untouched. Rejected before Initialize.
func (c *Coordinator) SetEndHook(hook func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		slog.Warn("cannot set end hook before initialization")
		return ErrNotInitialized
	}
	if hook != nil {
		c.onEnd = hook
	}
	return nil
}

// SetProgressHook replaces the progress slot. A nil hook leaves the
// existing slot untouched. Rejected before Initialize.
func (c *Coordinator) SetProgressHook(hook func(transferred, total uint64)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		slog.Warn("cannot set progress hook before initialization")
		return ErrNotInitialized
	}
	if hook != nil {
		c.onProgress = hook
	}
	return nil
}

// SetErrorHook replaces the error slot. A nil hook leaves the existing
// slot untouched. Rejected before Initialize.
func (c *Coordinator) SetErrorHook(hook func(kind ErrorKind)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		slog.Warn("cannot set error hook before initialization")
		return ErrNotInitialized
	}
	if hook != nil {
		c.onError = hook
	}
	return nil
}

func (c *Coordinator) dispatchStart() {
	c.mu.Lock()
	c.inProgress = true
	c.lastPercent = -1
	hook := c.onStart
	c.mu.Unlock()

	slog.Info("update transfer started")
	if hook != nil {
		hook()
	}
}

func (c *Coordinator) dispatchEnd() {
	c.mu.Lock()
	c.inProgress = false
	hook := c.onEnd
	c.mu.Unlock()

	if hook != nil {
		hook()
		return
	}

	slog.Info("update complete, restarting device", "grace", c.graceDelay)
	// Leave the grace window for pending log output to flush. Terminal:
	// nothing runs after the restart.
	time.Sleep(c.graceDelay)
	c.restarter.Restart("update applied")
}

func (c *Coordinator) dispatchProgress(transferred, total uint64) {
	// Runs on the time-critical transfer path; keep it cheap and feed the
	// watchdog before returning.
	defer func() {
		if c.feed != nil {
			c.feed()
		}
	}()

	c.mu.Lock()
	hook := c.onProgress
	var percent int
	logStep := false
	if total > 0 {
		percent = int(transferred * 100 / total)
		if percent >= c.lastPercent+c.progressGrain || percent == 100 && c.lastPercent != 100 {
			c.lastPercent = percent - percent%c.progressGrain
			logStep = true
		}
	}
	c.mu.Unlock()

	if hook != nil {
		hook(transferred, total)
		return
	}
	if logStep {
		slog.Info("update progress", "percent", percent)
	}
}

func (c *Coordinator) dispatchError(kind ErrorKind) {
	c.mu.Lock()
	c.inProgress = false
	hook := c.onError
	c.mu.Unlock()

	slog.Error("update failed", "kind", kind.String())
	if hook != nil {
		hook(kind)
	}
	// The device stays operational; the next HandleUpdates cycle retries
	// once connectivity allows.
	c.notReadyLog.Reset()
}
