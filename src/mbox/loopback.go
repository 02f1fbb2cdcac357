// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package mbox

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
)

var (
	// ErrCommandFailed is returned to the requester when the device
	// releases a command without responding.
	ErrCommandFailed = errors.New("mailbox command failed")
	// ErrClosed is returned once the device side has shut the mailbox.
	ErrClosed = errors.New("mailbox closed")
)

type exchange struct {
	cmd  CommandID
	req  []byte
	resp []byte
	sent bool
	done chan struct{}
}

// Loopback connects a requester and the device within one process. The
// device polls with PeekRecv; the requester blocks in Execute.
type Loopback struct {
	queue  chan *exchange
	active atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
}

// NewLoopback creates an idle mailbox.
func NewLoopback() *Loopback {
	return &Loopback{
		queue:  make(chan *exchange, 1),
		closed: make(chan struct{}),
	}
}

// Close fails every pending and future Execute call.
func (l *Loopback) Close() {
	l.closeOnce.Do(func() { close(l.closed) })
}

// Execute posts cmd with request req and waits for the device to release
// it. req must already carry its checksum.
func (l *Loopback) Execute(cmd CommandID, req []byte) ([]byte, error) {
	x := &exchange{
		cmd:  cmd,
		req:  append([]byte(nil), req...),
		done: make(chan struct{}),
	}
	select {
	case l.queue <- x:
	case <-l.closed:
		return nil, ErrClosed
	}
	select {
	case <-x.done:
	case <-l.closed:
		return nil, ErrClosed
	}
	if !x.sent {
		return nil, fmt.Errorf("%v: %w", cmd, ErrCommandFailed)
	}
	return x.resp, nil
}

// PeekRecv implements Mailbox.
func (l *Loopback) PeekRecv() (Pending, bool) {
	if l.active.Load() {
		return nil, false
	}
	select {
	case x := <-l.queue:
		return &pending{l: l, x: x}, true
	default:
		runtime.Gosched()
		return nil, false
	}
}

type pending struct {
	l *Loopback
	x *exchange
}

func (p *pending) Cmd() CommandID { return p.x.cmd }

func (p *pending) Start() Txn {
	p.l.active.Store(true)
	return &txn{l: p.l, x: p.x}
}

type txn struct {
	l        *Loopback
	x        *exchange
	released bool
}

func (t *txn) ReadRequest(out []byte) error {
	if t.released {
		return errs.MboxTransactionReleased
	}
	if len(t.x.req) != len(out) {
		return fmt.Errorf("got %d bytes, want %d: %w", len(t.x.req), len(out), errs.MboxInvalidRequestLength)
	}
	copy(out, t.x.req)
	if !VerifyChecksum(t.x.cmd, out) {
		return fmt.Errorf("%v: %w", t.x.cmd, errs.MboxInvalidChecksum)
	}
	return nil
}

func (t *txn) SendResponse(resp []byte) error {
	if t.released {
		return errs.MboxTransactionReleased
	}
	if len(resp) > MaxResponseSize {
		return fmt.Errorf("%d byte response: %w", len(resp), errs.MboxResponseTooLarge)
	}
	t.x.resp = append([]byte(nil), resp...)
	t.x.sent = true
	return nil
}

func (t *txn) Release() {
	if t.released {
		return
	}
	t.released = true
	t.l.active.Store(false)
	close(t.x.done)
}
