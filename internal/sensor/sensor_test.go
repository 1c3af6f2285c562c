// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package sensor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSampler_SampleRecordsReading(t *testing.T) {
	s := New()
	require.NoError(t, s.Sample())

	reading, samples := s.Last()
	require.Equal(t, uint64(1), samples)
	require.False(t, reading.Taken.IsZero())
	require.InDelta(t, 22.5, reading.Temperature, 5)
	require.InDelta(t, 45, reading.Humidity, 15)
}

func TestSampler_SuspendStopsSampling(t *testing.T) {
	s := New()
	require.NoError(t, s.Sample())

	s.Suspend()
	require.True(t, s.Suspended())
	require.NoError(t, s.Sample())
	_, samples := s.Last()
	require.Equal(t, uint64(1), samples)

	s.Resume()
	require.False(t, s.Suspended())
	require.NoError(t, s.Sample())
	_, samples = s.Last()
	require.Equal(t, uint64(2), samples)
}

func TestSampler_SuspendIsIdempotent(t *testing.T) {
	s := New()
	s.Suspend()
	s.Suspend()
	require.True(t, s.Suspended())
	s.Resume()
	require.False(t, s.Suspended())
	s.Resume()
	require.False(t, s.Suspended())
}
