// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package update

import "context"

// ErrorKind classifies a transfer failure reported by the transport.
type ErrorKind int

const (
	ErrorUnknown ErrorKind = iota
	ErrorAuth
	ErrorBegin
	ErrorConnect
	ErrorReceive
	ErrorEnd
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorAuth:
		return "authentication failed"
	case ErrorBegin:
		return "begin failed"
	case ErrorConnect:
		return "connect failed"
	case ErrorReceive:
		return "receive failed"
	case ErrorEnd:
		return "end failed"
	default:
		return "unknown error"
	}
}

// Hooks are the four lifecycle events a transport fires while servicing an
// update session. The transport invokes them synchronously from Handle.
type Hooks struct {
	OnStart    func()
	OnEnd      func()
	OnProgress func(transferred, total uint64)
	OnError    func(kind ErrorKind)
}

// TransportConfig carries the identity the transport announces to peers.
// An empty password exposes the update service without authentication.
type TransportConfig struct {
	Hostname string
	Port     uint16
	Password string
}

// Transport is the external component implementing the actual update wire
// protocol. The coordinator configures it once per Initialize, installs its
// hook dispatchers, and drives Handle every cycle. Handle must return
// promptly so it can be called at a sub-second cadence, and must run at
// most one update session at a time.
type Transport interface {
	Configure(cfg TransportConfig) error
	SetHooks(hooks Hooks)
	Handle(ctx context.Context) error
}
