// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package cfi provides fault-injection countermeasure primitives.
//
// Security-critical decisions are written as a laundered branch whose arms
// each re-assert the outcome they were reached for:
//
//	if cfi.Launder(cfi.Equal(got, want)) {
//		cfi.AssertEqBytes(got, want)
//		// ... grant ...
//	} else {
//		cfi.AssertNeBytes(got, want)
//		// ... deny ...
//	}
//
// A glitch that diverts control flow into the wrong arm trips that arm's
// assertion, which panics with a Fault. The boot sequencer turns a Fault into
// the fatal errs.CfiPanic error with Recover; nothing is retried.
package cfi

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
)

// Fault is the panic value raised by a failed countermeasure assertion.
type Fault struct {
	Msg string
}

// Error converts the fault into a user-displayable string.
func (f Fault) Error() string {
	return fmt.Sprintf("cfi fault: %s", f.Msg)
}

func fault(format string, args ...any) {
	panic(Fault{Msg: fmt.Sprintf(format, args...)})
}

// Recover converts a Fault raised below the calling frame into an
// errs.CfiPanic error stored in *errp. It must be deferred directly:
//
//	defer cfi.Recover(&err)
//
// Panics that are not a Fault are re-raised.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	f, ok := r.(Fault)
	if !ok {
		panic(r)
	}
	*errp = fmt.Errorf("%s: %w", f.Msg, errs.CfiPanic)
}

// Launder returns v unchanged. The call is opaque to the optimizer, so a
// branch on the result cannot be merged with a later re-check of the same
// predicate.
//
//go:noinline
func Launder[T any](v T) T {
	return v
}

// Assert faults if cond is false.
func Assert(cond bool) {
	if !Launder(cond) {
		fault("assertion failed")
	}
}

// AssertEq faults if a != b.
func AssertEq[T comparable](a, b T) {
	if Launder(a) != b {
		fault("assertion failed: %v != %v", a, b)
	}
}

// AssertEqBytes faults unless a and b hold identical bytes. The comparison
// runs in constant time.
func AssertEqBytes(a, b []byte) {
	if !Equal(a, b) {
		fault("assertion failed: byte slices differ")
	}
}

// AssertNeBytes faults if a and b hold identical bytes. The comparison runs
// in constant time.
func AssertNeBytes(a, b []byte) {
	if Equal(a, b) {
		fault("assertion failed: byte slices unexpectedly equal")
	}
}

// Equal reports whether a and b hold identical bytes. The time taken depends
// only on the lengths, never on the position of the first differing byte.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// CheckResult executes the dual-path check on the outcome of a fallible
// derivation: each arm of the laundered branch re-asserts the outcome it was
// taken for. The caller still propagates err.
func CheckResult(err error) {
	if Launder(err == nil) {
		Assert(err == nil)
	} else {
		Assert(err != nil)
	}
}

// RandomSource provides true random numbers, one 384-bit draw at a time.
type RandomSource interface {
	Generate() ([48]byte, error)
}

// delayMask bounds a randomized delay to 1023 spin iterations.
const delayMask = 0x3ff

var spinSink atomic.Uint32

// Counter inserts random delays ahead of poll iterations so that fault
// triggers keyed to a fixed instruction count lose synchronisation.
type Counter struct {
	rng RandomSource
}

// NewCounter creates a Counter drawing from rng.
func NewCounter(rng RandomSource) *Counter {
	return &Counter{rng: rng}
}

// Delay spins for a random number of iterations drawn from the TRNG.
func (c *Counter) Delay() error {
	r, err := c.rng.Generate()
	if err != nil {
		return fmt.Errorf("failed to draw delay: %w", errs.TrngFailure)
	}
	n := binary.LittleEndian.Uint32(r[:4]) & delayMask
	var acc uint32
	for i := uint32(0); i < n; i++ {
		acc = acc*31 + i
	}
	spinSink.Store(acc)
	return nil
}
