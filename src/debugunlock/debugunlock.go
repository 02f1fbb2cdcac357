// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package debugunlock authorizes debug access requested over the mailbox.
//
// Manufacturing devices accept a token matching the one held in fuses.
// Production devices run a challenge/response exchange in which the
// requester proves possession of an ECC P-384 and an ML-DSA-87 key whose
// hash is provisioned for the requested category. The decision is committed
// to the debug-enable latch once per boot.
package debugunlock

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lowRISC/opentitan-rom-identity/src/bootstatus"
	"github.com/lowRISC/opentitan-rom-identity/src/cfi"
	"github.com/lowRISC/opentitan-rom-identity/src/env"
	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/fuse"
	"github.com/lowRISC/opentitan-rom-identity/src/mbox"
)

// State is a step of the unlock flow.
type State int

const (
	StateIdle State = iota
	StateRequestReceived
	StateChallengeIssued
	StateTokenReceived
	StateVerifying
	StateUnlocked
	StateDenied
)

var stateNames = map[State]string{
	StateIdle:            "idle",
	StateRequestReceived: "request_received",
	StateChallengeIssued: "challenge_issued",
	StateTokenReceived:   "token_received",
	StateVerifying:       "verifying",
	StateUnlocked:        "unlocked",
	StateDenied:          "denied",
}

// String converts a state to a pretty-printable name.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type flow struct {
	e       *env.Env
	log     *logrus.Entry
	counter *cfi.Counter
	state   State
	// armed is set once a failure must commit a deny.
	armed bool
}

func (f *flow) to(s State) {
	f.log.WithFields(logrus.Fields{"from": f.state, "to": s}).Debug("state change")
	f.state = s
}

// arm marks the point after which every failure is a committed denial.
func (f *flow) arm() {
	f.armed = true
}

func (f *flow) setInProgress() {
	f.e.Soc.SetDebugUnlockInProgress(true)
}

// await polls the mailbox for the next command, inserting a random delay
// ahead of every poll. A command other than want is released without a
// response.
func (f *flow) await(want mbox.CommandID, bad errs.Code) (mbox.Txn, error) {
	for {
		if err := f.counter.Delay(); err != nil {
			return nil, err
		}
		p, ok := f.e.Mbox.PeekRecv()
		if !ok {
			continue
		}
		txn := p.Start()
		if cmd := p.Cmd(); cmd != want {
			txn.Release()
			return nil, fmt.Errorf("got %v, want %v: %w", cmd, want, bad)
		}
		return txn, nil
	}
}

// match compares secret-derived values on both arms of a laundered branch.
func match(got, want []byte, what string, code errs.Code) error {
	if cfi.Launder(cfi.Equal(got, want)) {
		cfi.AssertEqBytes(got, want)
		return nil
	} else {
		cfi.AssertNeBytes(got, want)
		return fmt.Errorf("%s mismatch: %w", what, code)
	}
}

// grant commits the unlock and acknowledges it on txn.
func (f *flow) grant(txn mbox.Txn) error {
	soc := f.e.Soc
	soc.SetDebugUnlockInProgress(false)
	soc.FinishDebugUnlock(true)
	soc.SetUnlockLatch(true)
	f.to(StateUnlocked)
	f.e.Status.Report(bootstatus.DebugUnlockSuccess)
	f.log.Info("debug unlock granted")
	return mbox.SendResponse(txn, &mbox.RespHeader{})
}

func (f *flow) deny(cause error) {
	soc := f.e.Soc
	soc.SetDebugUnlockInProgress(false)
	soc.FinishDebugUnlock(false)
	soc.SetUnlockLatch(false)
	f.to(StateDenied)
	f.e.Status.Report(bootstatus.DebugUnlockFailure)
	f.log.WithError(cause).Warn("debug unlock denied")
}

// Run services a debug unlock request if the SoC raised one, using the
// protocol of the device lifecycle. Other lifecycles are not eligible and
// return StateIdle.
//
// Malformed requests are rejected with no side effects. Once a challenge
// has been issued or a token read, any failure, including a countermeasure
// fault, denies the request before Run returns.
func Run(e *env.Env) (state State, err error) {
	if !e.Soc.DebugUnlockRequested() {
		return StateIdle, nil
	}
	f := &flow{
		e:       e,
		log:     e.Logger("dbg_unlock"),
		counter: e.Counter(),
	}

	lc := e.Soc.Lifecycle()
	var protocol func() error
	switch lc {
	case fuse.LifecycleManufacturing:
		protocol = f.manufacturing
	case fuse.LifecycleProduction:
		protocol = f.production
	default:
		f.log.WithField("lifecycle", lc).Info("debug unlock not applicable")
		return StateIdle, nil
	}

	defer func() {
		if err != nil && f.armed && f.state != StateDenied {
			f.deny(err)
		}
		state = f.state
	}()
	defer cfi.Recover(&err)

	f.log.WithField("lifecycle", lc).Info("debug unlock requested")
	e.Status.Report(bootstatus.DebugUnlockStarted)
	err = protocol()
	return f.state, err
}
