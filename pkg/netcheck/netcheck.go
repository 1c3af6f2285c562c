// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package netcheck decides whether the device currently has a network path
// usable for an update attempt.
package netcheck

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/kentronics/otamgr/pkg/syncutil"
)

// Probe is a caller-supplied readiness predicate. When present it fully
// overrides the oracle's default link probe.
type Probe func() bool

// Iface is the subset of interface state the default probe looks at.
type Iface struct {
	Name     string
	Up       bool
	Wireless bool
	HasAddr  bool
}

// Lister enumerates candidate network interfaces. It exists so tests can
// inject interface state without touching the host network stack.
type Lister func() ([]Iface, error)

// Oracle answers "is the network usable for an update right now?".
type Oracle struct {
	probe        Probe
	list         Lister
	warnedNoPath syncutil.Flag
	decisionLog  *syncutil.Throttle
}

type Option func(*Oracle)

// WithProbe installs a caller-supplied readiness predicate.
func WithProbe(p Probe) Option {
	return func(o *Oracle) { o.probe = p }
}

// WithLister replaces the default interface enumeration.
func WithLister(l Lister) Option {
	return func(o *Oracle) { o.list = l }
}

func New(options ...Option) *Oracle {
	o := &Oracle{
		list:        listInterfaces,
		decisionLog: syncutil.NewThrottle(time.Minute),
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Check returns true if the device currently has a usable network path.
// A configured probe takes full priority; otherwise a wired link with an
// assigned address wins, then a wireless one.
func (o *Oracle) Check() bool {
	if o.probe != nil {
		ready := o.probe()
		if o.decisionLog.Allow() {
			slog.Debug("custom network check", "ready", ready)
		}
		return ready
	}

	ifaces, err := o.list()
	if err != nil {
		slog.Error("failed to enumerate network interfaces", "error", err)
		return false
	}

	for _, wireless := range []bool{false, true} {
		for _, iface := range ifaces {
			if iface.Wireless != wireless {
				continue
			}
			if iface.Up && iface.HasAddr {
				if o.decisionLog.Allow() {
					slog.Debug("network ready", "interface", iface.Name, "wireless", iface.Wireless)
				}
				return true
			}
		}
	}

	if o.warnedNoPath.CompareAndSet(false, true) {
		slog.Warn("no network check probe configured and no usable network path detected")
	}
	return false
}

// LocalAddr returns the IPv4 address of the default-route interface, or
// "unknown" when it cannot be determined. Used for status lines only.
func LocalAddr() string {
	addr, err := defaultRouteAddr()
	if err != nil {
		return "unknown"
	}
	return addr
}

func defaultRouteAddr() (string, error) {
	routes, err := os.ReadFile("/proc/net/route")
	if err != nil {
		return "", err
	}
	for i, line := range strings.Split(string(routes), "\n") {
		if i == 0 {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) > 4 && parts[1] == "00000000" {
			intf, err := net.InterfaceByName(parts[0])
			if err != nil {
				return "", fmt.Errorf("unable to lookup default interface(%s): %w", parts[0], err)
			}
			addrs, err := intf.Addrs()
			if err != nil || len(addrs) == 0 {
				return "", fmt.Errorf("unable to lookup IP of interface(%s): %w", parts[0], err)
			}
			return addrs[0].String(), nil
		}
	}
	return "", errors.New("could not find default network interface")
}

func listInterfaces() ([]Iface, error) {
	sysIfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []Iface
	for _, si := range sysIfaces {
		if si.Flags&net.FlagLoopback != 0 {
			continue
		}
		info := Iface{
			Name:     si.Name,
			Up:       si.Flags&net.FlagUp != 0 && si.Flags&net.FlagRunning != 0,
			Wireless: isWireless(si.Name),
		}
		if addrs, err := si.Addrs(); err == nil {
			for _, a := range addrs {
				ipNet, ok := a.(*net.IPNet)
				if !ok || ipNet.IP.IsUnspecified() || ipNet.IP.IsLinkLocalUnicast() {
					continue
				}
				info.HasAddr = true
				break
			}
		}
		out = append(out, info)
	}
	return out, nil
}

func isWireless(name string) bool {
	_, err := os.Stat("/sys/class/net/" + name + "/wireless")
	return err == nil
}
