// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package push receives firmware images pushed to the device over TCP.
//
// The wire protocol is a single request per connection:
//
//	PUSH <size> <md5-hex> <token>\n     client header
//	GO\n                                server accepts
//	<size raw bytes>                    firmware image
//	OK\n                                server confirms digest
//
// The token is the MD5 of the configured password, or "-" when the
// service runs unauthenticated.
package push

import (
	"bufio"
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/kentronics/otamgr/pkg/update"
)

const (
	acceptWindow   = 50 * time.Millisecond
	headerDeadline = 2 * time.Second
	idleDeadline   = 10 * time.Second
	chunkSize      = 16 * 1024

	// MaxImageSize rejects obviously bogus headers before any bytes land
	// on disk.
	MaxImageSize = 64 * 1024 * 1024
)

// Receiver implements update.Transport. It stages the incoming image next
// to the final firmware path and renames it into place only after the
// digest checks out, so a dropped connection never corrupts the image.
type Receiver struct {
	dir string

	mu       sync.Mutex
	cfg      update.TransportConfig
	hooks    update.Hooks
	listener net.Listener
	apply    func(path string) error
}

type Option func(*Receiver)

// WithApply replaces the install step run after a verified transfer. The
// default leaves the image at <dir>/firmware.bin.
func WithApply(apply func(path string) error) Option {
	return func(r *Receiver) { r.apply = apply }
}

func New(dir string, options ...Option) *Receiver {
	r := &Receiver{dir: dir}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Configure binds the listen socket. Reconfiguring to a new port closes
// the old socket first; failure to bind leaves any previous socket open.
func (r *Receiver) Configure(cfg update.TransportConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listener != nil {
		if prev := r.cfg; prev.Port == cfg.Port {
			r.cfg = cfg
			return nil
		}
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return errors.Wrapf(err, "failed to listen on port %d", cfg.Port)
	}
	if r.listener != nil {
		_ = r.listener.Close()
	}
	r.listener = listener
	r.cfg = cfg
	return nil
}

func (r *Receiver) SetHooks(hooks update.Hooks) {
	r.mu.Lock()
	r.hooks = hooks
	r.mu.Unlock()
}

// Close releases the listen socket.
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	err := r.listener.Close()
	r.listener = nil
	return err
}

// Handle polls the listen socket once. With no client pending it returns
// within the accept window; with one it runs the whole session before
// returning, so at most one transfer is ever in flight.
func (r *Receiver) Handle(ctx context.Context) error {
	r.mu.Lock()
	listener := r.listener
	cfg := r.cfg
	hooks := r.hooks
	r.mu.Unlock()

	if listener == nil {
		return errors.New("receiver is not configured")
	}

	tcp, ok := listener.(*net.TCPListener)
	if !ok {
		return errors.Errorf("unexpected listener type %T", listener)
	}
	if err := tcp.SetDeadline(time.Now().Add(acceptWindow)); err != nil {
		return errors.Wrap(err, "failed to set accept deadline")
	}
	conn, err := tcp.Accept()
	if err != nil {
		if ne, isNet := err.(net.Error); isNet && ne.Timeout() {
			return nil
		}
		return errors.Wrap(err, "accept failed")
	}
	defer func() {
		_ = conn.Close()
	}()

	r.serve(ctx, conn, cfg, hooks)
	return nil
}

// serve runs one session. Protocol failures are reported through the
// error hook, not the Handle return value: a misbehaving client must not
// look like a broken receiver.
func (r *Receiver) serve(ctx context.Context, conn net.Conn, cfg update.TransportConfig, hooks update.Hooks) {
	fail := func(kind update.ErrorKind, reply string, err error) {
		slog.Warn("rejected update session", "peer", conn.RemoteAddr(), "error", err)
		fmt.Fprintf(conn, "ERR %s\n", reply)
		if hooks.OnError != nil {
			hooks.OnError(kind)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(headerDeadline))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		fail(update.ErrorConnect, "header", errors.Wrap(err, "failed to read header"))
		return
	}

	size, digest, token, err := parseHeader(line)
	if err != nil {
		fail(update.ErrorBegin, "header", err)
		return
	}
	if !authorize(cfg.Password, token) {
		fail(update.ErrorAuth, "auth", errors.New("bad token"))
		return
	}

	stage, err := os.CreateTemp(r.dir, "incoming-*.bin")
	if err != nil {
		fail(update.ErrorBegin, "storage", errors.Wrap(err, "failed to stage image"))
		return
	}
	defer func() {
		_ = stage.Close()
		_ = os.Remove(stage.Name())
	}()

	if hooks.OnStart != nil {
		hooks.OnStart()
	}
	if _, err = fmt.Fprintln(conn, "GO"); err != nil {
		fail(update.ErrorConnect, "go", errors.Wrap(err, "failed to accept session"))
		return
	}

	if err = r.receive(ctx, conn, reader, stage, size, hooks); err != nil {
		fail(update.ErrorReceive, "receive", err)
		return
	}

	if err = r.finalize(stage, digest); err != nil {
		fail(update.ErrorEnd, "verify", err)
		return
	}

	fmt.Fprintln(conn, "OK")
	slog.Info("update image received", "peer", conn.RemoteAddr(), "size", size)
	if hooks.OnEnd != nil {
		hooks.OnEnd()
	}
}

func (r *Receiver) receive(ctx context.Context, conn net.Conn, reader io.Reader, stage *os.File, size uint64, hooks update.Hooks) error {
	var transferred uint64
	buf := make([]byte, chunkSize)
	for transferred < size {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "transfer canceled")
		}
		// The deadline bounds idle time between chunks, not the whole
		// transfer; a slow but live client keeps extending it.
		if err := conn.SetReadDeadline(time.Now().Add(idleDeadline)); err != nil {
			return errors.Wrap(err, "failed to set read deadline")
		}
		want := uint64(len(buf))
		if remaining := size - transferred; remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(reader, buf[:want])
		if err != nil {
			return errors.Wrapf(err, "transfer interrupted at %d/%d bytes", transferred, size)
		}
		if _, err = stage.Write(buf[:n]); err != nil {
			return errors.Wrap(err, "failed to write staged image")
		}
		transferred += uint64(n)
		if hooks.OnProgress != nil {
			hooks.OnProgress(transferred, size)
		}
	}
	return nil
}

func (r *Receiver) finalize(stage *os.File, digest string) error {
	if _, err := stage.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "failed to rewind staged image")
	}
	hash := md5.New()
	if _, err := io.Copy(hash, stage); err != nil {
		return errors.Wrap(err, "failed to hash staged image")
	}
	if actual := hex.EncodeToString(hash.Sum(nil)); actual != digest {
		return errors.Errorf("digest mismatch: expected %s, got %s", digest, actual)
	}
	if err := stage.Close(); err != nil {
		return errors.Wrap(err, "failed to close staged image")
	}

	if r.apply != nil {
		return r.apply(stage.Name())
	}
	final := filepath.Join(r.dir, "firmware.bin")
	if err := os.Rename(stage.Name(), final); err != nil {
		return errors.Wrap(err, "failed to install image")
	}
	return nil
}

func parseHeader(line string) (size uint64, digest, token string, err error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) != 4 || fields[0] != "PUSH" {
		return 0, "", "", errors.Errorf("malformed header %q", strings.TrimSpace(line))
	}
	size, err = strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, "", "", errors.Wrap(err, "bad size field")
	}
	if size == 0 || size > MaxImageSize {
		return 0, "", "", errors.Errorf("implausible image size %d", size)
	}
	digest = strings.ToLower(fields[2])
	if len(digest) != md5.Size*2 {
		return 0, "", "", errors.Errorf("bad digest field %q", fields[2])
	}
	return size, digest, fields[3], nil
}

// Token computes the auth token a client must present for the given
// password.
func Token(password string) string {
	if password == "" {
		return "-"
	}
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

func authorize(password, token string) bool {
	expected := Token(password)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}
