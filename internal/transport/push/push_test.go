// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package push

import (
	"bufio"
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kentronics/otamgr/pkg/update"
)

type hookRecorder struct {
	starts    atomic.Int32
	ends      atomic.Int32
	progress  atomic.Int32
	lastTotal atomic.Uint64
	lastKind  atomic.Int32
	errs      atomic.Int32
}

func (h *hookRecorder) hooks() update.Hooks {
	return update.Hooks{
		OnStart: func() { h.starts.Add(1) },
		OnEnd:   func() { h.ends.Add(1) },
		OnProgress: func(transferred, total uint64) {
			h.progress.Add(1)
			h.lastTotal.Store(total)
		},
		OnError: func(kind update.ErrorKind) {
			h.errs.Add(1)
			h.lastKind.Store(int32(kind))
		},
	}
}

func newTestReceiver(t *testing.T, password string) (*Receiver, *hookRecorder, string) {
	t.Helper()
	dir := t.TempDir()
	r := New(dir)
	require.NoError(t, r.Configure(update.TransportConfig{
		Hostname: "dev1",
		Port:     0, // ephemeral
		Password: password,
	}))
	t.Cleanup(func() {
		_ = r.Close()
	})
	rec := &hookRecorder{}
	r.SetHooks(rec.hooks())
	return r, rec, dir
}

func listenAddr(t *testing.T, r *Receiver) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotNil(t, r.listener)
	return r.listener.Addr().String()
}

// drive services the receiver until done reports true or the deadline
// passes, mirroring the sub-second cadence of the daemon's update task.
func drive(t *testing.T, r *Receiver, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, r.Handle(context.Background()))
		if done() {
			return
		}
	}
	t.Fatal("receiver never completed the session")
}

func pushImage(t *testing.T, addr string, image []byte, digest, token string, expectReply string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "PUSH %d %s %s\n", len(image), digest, token)
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	if expectReply != "GO" {
		require.True(t, strings.HasPrefix(line, expectReply), "got reply %q", line)
		return
	}
	require.Equal(t, "GO\n", line)

	_, err = conn.Write(image)
	require.NoError(t, err)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "OK\n", line)
}

func randomImage(t *testing.T, size int) ([]byte, string) {
	t.Helper()
	image := make([]byte, size)
	_, err := rand.Read(image)
	require.NoError(t, err)
	sum := md5.Sum(image)
	return image, hex.EncodeToString(sum[:])
}

func TestReceiver_HandleIsQuietWithoutClients(t *testing.T) {
	r, rec, _ := newTestReceiver(t, "")
	start := time.Now()
	require.NoError(t, r.Handle(context.Background()))
	require.Less(t, time.Since(start), time.Second)
	require.Zero(t, rec.starts.Load())
	require.Zero(t, rec.errs.Load())
}

func TestReceiver_AcceptsPushedImage(t *testing.T) {
	r, rec, dir := newTestReceiver(t, "secret")
	image, digest := randomImage(t, 100*1024)

	go pushImage(t, listenAddr(t, r), image, digest, Token("secret"), "GO")
	drive(t, r, func() bool { return rec.ends.Load() == 1 })

	require.Equal(t, int32(1), rec.starts.Load())
	require.Zero(t, rec.errs.Load())
	require.Greater(t, rec.progress.Load(), int32(1))
	require.Equal(t, uint64(len(image)), rec.lastTotal.Load())

	installed, err := os.ReadFile(filepath.Join(dir, "firmware.bin"))
	require.NoError(t, err)
	require.Equal(t, image, installed)
}

func TestReceiver_UnauthenticatedService(t *testing.T) {
	r, rec, _ := newTestReceiver(t, "")
	image, digest := randomImage(t, 4096)

	go pushImage(t, listenAddr(t, r), image, digest, Token(""), "GO")
	drive(t, r, func() bool { return rec.ends.Load() == 1 })
	require.Zero(t, rec.errs.Load())
}

func TestReceiver_RejectsBadToken(t *testing.T) {
	r, rec, dir := newTestReceiver(t, "secret")
	image, digest := randomImage(t, 4096)

	go pushImage(t, listenAddr(t, r), image, digest, Token("wrong"), "ERR auth")
	drive(t, r, func() bool { return rec.errs.Load() == 1 })

	require.Equal(t, int32(update.ErrorAuth), rec.lastKind.Load())
	require.Zero(t, rec.starts.Load())
	_, err := os.Stat(filepath.Join(dir, "firmware.bin"))
	require.True(t, os.IsNotExist(err))
}

func TestReceiver_RejectsMalformedHeader(t *testing.T) {
	r, rec, _ := newTestReceiver(t, "")

	go func() {
		conn, err := net.DialTimeout("tcp", listenAddr(t, r), time.Second)
		if err != nil {
			return
		}
		defer conn.Close()
		fmt.Fprintln(conn, "HELLO there")
		_, _ = bufio.NewReader(conn).ReadString('\n')
	}()
	drive(t, r, func() bool { return rec.errs.Load() == 1 })
	require.Equal(t, int32(update.ErrorBegin), rec.lastKind.Load())
}

func TestReceiver_RejectsDigestMismatch(t *testing.T) {
	r, rec, dir := newTestReceiver(t, "")
	image, _ := randomImage(t, 4096)
	wrongDigest := strings.Repeat("0", 32)

	go func() {
		conn, err := net.DialTimeout("tcp", listenAddr(t, r), time.Second)
		if err != nil {
			return
		}
		defer conn.Close()
		fmt.Fprintf(conn, "PUSH %d %s %s\n", len(image), wrongDigest, Token(""))
		reader := bufio.NewReader(conn)
		if _, err := reader.ReadString('\n'); err != nil {
			return
		}
		_, _ = conn.Write(image)
		_, _ = reader.ReadString('\n')
	}()
	drive(t, r, func() bool { return rec.errs.Load() == 1 })

	require.Equal(t, int32(update.ErrorEnd), rec.lastKind.Load())
	require.Equal(t, int32(1), rec.starts.Load())
	require.Zero(t, rec.ends.Load())
	// The staged file must not survive a failed transfer.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestReceiver_DroppedConnectionReportsReceiveError(t *testing.T) {
	r, rec, _ := newTestReceiver(t, "")
	image, digest := randomImage(t, 64*1024)

	go func() {
		conn, err := net.DialTimeout("tcp", listenAddr(t, r), time.Second)
		if err != nil {
			return
		}
		fmt.Fprintf(conn, "PUSH %d %s %s\n", len(image), digest, Token(""))
		reader := bufio.NewReader(conn)
		if _, err := reader.ReadString('\n'); err != nil {
			conn.Close()
			return
		}
		_, _ = conn.Write(image[:1024])
		conn.Close()
	}()
	drive(t, r, func() bool { return rec.errs.Load() == 1 })
	require.Equal(t, int32(update.ErrorReceive), rec.lastKind.Load())
}

func TestReceiver_SlowClientIsNotTimedOut(t *testing.T) {
	r, rec, dir := newTestReceiver(t, "")
	image, digest := randomImage(t, 8192)

	// Stalling longer than the header deadline mid-transfer must not
	// abort the session; only idle time between chunks is bounded.
	go func() {
		conn, err := net.DialTimeout("tcp", listenAddr(t, r), time.Second)
		if err != nil {
			return
		}
		defer conn.Close()
		fmt.Fprintf(conn, "PUSH %d %s %s\n", len(image), digest, Token(""))
		reader := bufio.NewReader(conn)
		if _, err := reader.ReadString('\n'); err != nil {
			return
		}
		_, _ = conn.Write(image[:4096])
		time.Sleep(headerDeadline + 500*time.Millisecond)
		_, _ = conn.Write(image[4096:])
		_, _ = reader.ReadString('\n')
	}()
	drive(t, r, func() bool { return rec.ends.Load() == 1 })

	require.Zero(t, rec.errs.Load())
	installed, err := os.ReadFile(filepath.Join(dir, "firmware.bin"))
	require.NoError(t, err)
	require.Equal(t, image, installed)
}

func TestReceiver_ImplausibleSizeRejected(t *testing.T) {
	_, _, _, err := parseHeader(fmt.Sprintf("PUSH %d %s -\n", MaxImageSize+1, strings.Repeat("a", 32)))
	require.Error(t, err)
	_, _, _, err = parseHeader(fmt.Sprintf("PUSH 0 %s -\n", strings.Repeat("a", 32)))
	require.Error(t, err)
}

func TestToken(t *testing.T) {
	require.Equal(t, "-", Token(""))
	sum := md5.Sum([]byte("secret"))
	require.Equal(t, hex.EncodeToString(sum[:]), Token("secret"))
}
