// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package sensor samples the device's environment readings. Sampling is
// suspended while an update transfer holds the device's attention and
// resumed once it ends or fails.
package sensor

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kentronics/otamgr/pkg/syncutil"
)

// Reading is one sample. Simulated values stand in for the I2C
// temperature and humidity sensors of the production build.
type Reading struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Taken       time.Time `json:"taken"`
}

type Sampler struct {
	suspended syncutil.Flag
	now       func() time.Time

	mu      sync.Mutex
	last    Reading
	samples uint64
}

func New() *Sampler {
	return &Sampler{now: time.Now}
}

// Suspend stops sampling until Resume. Safe to call repeatedly.
func (s *Sampler) Suspend() {
	if s.suspended.CompareAndSet(false, true) {
		slog.Info("sensor sampling suspended")
	}
}

// Resume re-enables sampling after a suspension.
func (s *Sampler) Resume() {
	if s.suspended.CompareAndSet(true, false) {
		slog.Info("sensor sampling resumed")
	}
}

func (s *Sampler) Suspended() bool {
	return s.suspended.Get()
}

// Sample takes one reading unless suspended. It is the work function of
// the sensor task.
func (s *Sampler) Sample() error {
	if s.suspended.Get() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples++
	t := float64(s.now().Unix())
	s.last = Reading{
		Temperature: 22.5 + 3*math.Sin(t/600),
		Humidity:    45 + 10*math.Sin(t/900),
		Taken:       s.now(),
	}
	slog.Debug("sensor sample",
		"temperature", s.last.Temperature,
		"humidity", s.last.Humidity)
	return nil
}

// Last returns the most recent reading and the total sample count.
func (s *Sampler) Last() (Reading, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.samples
}
