// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package watchdog

import (
	"context"
	"log/slog"
	"time"
)

// Task describes a supervised periodic unit of work. The runner handles
// the register/feed/segmented-sleep protocol once so individual tasks do
// not have to duplicate it.
type Task struct {
	Name     string
	Period   time.Duration
	Timeout  time.Duration
	Critical bool

	// StartDelay postpones registration so a task does not race the
	// scheduler's own bootstrap. Zero means register immediately.
	StartDelay time.Duration

	// Segments splits each sleep so feeds happen at least every
	// Period/Segments. Zero picks a count keeping the feed gap under a
	// quarter of the timeout.
	Segments int

	// Work runs once per period. A returned error is logged and the task
	// keeps running; only context cancellation stops the loop.
	Work func(ctx context.Context) error
}

func (t *Task) segments() int {
	if t.Segments > 0 {
		return t.Segments
	}
	// Keep Period/segments <= Timeout/4 to leave margin for scheduling
	// jitter.
	n := int((4*t.Period + t.Timeout - 1) / t.Timeout)
	if n < 1 {
		n = 1
	}
	return n
}

// RunSupervised runs the task loop until ctx is cancelled: feed, work,
// sleep the period in segments with a feed after each one. A task that
// slept its whole period in one call would starve the watchdog even while
// idle.
func (r *Registry) RunSupervised(ctx context.Context, task Task) error {
	if task.StartDelay > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(task.StartDelay):
		}
	}

	if err := r.Register(task.Name, task.Timeout, task.Critical); err != nil {
		return err
	}
	defer r.Unregister(task.Name)

	segments := task.segments()
	segment := task.Period / time.Duration(segments)
	slog.Debug("supervised task running", "task", task.Name, "period", task.Period, "sleep_segments", segments)

	for {
		r.Feed(task.Name)

		if err := task.Work(ctx); err != nil {
			slog.Error("supervised task work failed", "task", task.Name, "error", err)
		}

		for i := 0; i < segments; i++ {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(segment):
			}
			r.Feed(task.Name)
		}
	}
}
