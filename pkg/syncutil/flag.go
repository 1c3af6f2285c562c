// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package syncutil provides small concurrency helpers shared across tasks.
package syncutil

import "sync"

// Flag is a boolean signal that may be set and read from concurrent tasks.
// It replaces the ad hoc mutex-plus-bool pairs that otherwise accumulate
// wherever one task needs to observe another's state.
type Flag struct {
	mu  sync.Mutex
	set bool
}

// Set stores the given value.
func (f *Flag) Set(v bool) {
	f.mu.Lock()
	f.set = v
	f.mu.Unlock()
}

// Get returns the current value.
func (f *Flag) Get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// CompareAndSet stores next and returns true only if the flag currently
// holds prev. It never blocks beyond the internal lock.
func (f *Flag) CompareAndSet(prev, next bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set != prev {
		return false
	}
	f.set = next
	return true
}
