// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package syncutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThrottle_Allow(t *testing.T) {
	now := time.Unix(1000, 0)
	th := NewThrottle(10 * time.Second)
	th.now = func() time.Time { return now }

	require.True(t, th.Allow())
	require.False(t, th.Allow())

	now = now.Add(9 * time.Second)
	require.False(t, th.Allow())

	now = now.Add(time.Second)
	require.True(t, th.Allow())
	require.False(t, th.Allow())
}

func TestThrottle_Reset(t *testing.T) {
	th := NewThrottle(time.Hour)
	require.True(t, th.Allow())
	require.False(t, th.Allow())
	th.Reset()
	require.True(t, th.Allow())
}
