// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package netcheck

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOracle_ProbeOverridesDefault(t *testing.T) {
	ready := false
	o := New(
		WithProbe(func() bool { return ready }),
		// A lister that would report a perfectly good wired link; the
		// probe must win regardless.
		WithLister(func() ([]Iface, error) {
			return []Iface{{Name: "eth0", Up: true, HasAddr: true}}, nil
		}),
	)
	require.False(t, o.Check())
	ready = true
	require.True(t, o.Check())
}

func TestOracle_WiredBeforeWireless(t *testing.T) {
	for _, tc := range []struct {
		name   string
		ifaces []Iface
		want   bool
	}{
		{
			name: "wired up with addr",
			ifaces: []Iface{
				{Name: "eth0", Up: true, HasAddr: true},
				{Name: "wlan0", Up: false},
			},
			want: true,
		},
		{
			name: "wired down, wireless associated",
			ifaces: []Iface{
				{Name: "eth0", Up: false},
				{Name: "wlan0", Wireless: true, Up: true, HasAddr: true},
			},
			want: true,
		},
		{
			name: "link up but no address",
			ifaces: []Iface{
				{Name: "eth0", Up: true, HasAddr: false},
			},
			want: false,
		},
		{
			name:   "no interfaces at all",
			ifaces: nil,
			want:   false,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			o := New(WithLister(func() ([]Iface, error) { return tc.ifaces, nil }))
			require.Equal(t, tc.want, o.Check())
		})
	}
}

func TestOracle_ListerError(t *testing.T) {
	o := New(WithLister(func() ([]Iface, error) {
		return nil, errors.New("netlink down")
	}))
	require.False(t, o.Check())
}

func TestLocalAddr_NeverEmpty(t *testing.T) {
	// The host may or may not have a default route; either way the result
	// must be usable in a log line.
	require.NotEmpty(t, LocalAddr())
}
