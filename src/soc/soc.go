// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package soc models the SoC interface registers and the DMA engine seen by
// the ROM, and provides an Emulator implementing both.
package soc

import (
	"fmt"
	"sync"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/fuse"
)

// Interface is the SoC interface capability.
type Interface interface {
	Lifecycle() fuse.Lifecycle
	FuseBank() *fuse.Bank
	// DebugUnlockRequested reports whether the SoC asked for debug unlock
	// on this boot.
	DebugUnlockRequested() bool
	SetDebugUnlockInProgress(inProgress bool)
	// FinishDebugUnlock records the outcome of the unlock flow.
	FinishDebugUnlock(success bool)
	// SetUnlockLatch drives the debug-enable latch.
	SetUnlockLatch(unlock bool)
	// MciBase is the bus address of the MCI register block.
	MciBase() uint64
}

// DMA reads from the system bus.
type DMA interface {
	ReadBuffer(addr uint64, out []byte) error
}

// Config describes an emulated SoC.
type Config struct {
	MciBase              uint64
	MciSize              int
	DebugUnlockRequested bool
}

// DefaultConfig is the layout used by the simulator.
var DefaultConfig = Config{
	MciBase: 0x2100_0000,
	MciSize: 0x2000,
}

// Emulator implements Interface and DMA in memory. Its status is safe to
// observe from other goroutines.
type Emulator struct {
	bank *fuse.Bank
	cfg  Config

	mu         sync.Mutex
	mci        []byte
	inProgress bool
	history    []bool
	finished   bool
	success    bool
	latch      bool
}

// NewEmulator creates an SoC with the given fuses.
func NewEmulator(bank *fuse.Bank, cfg Config) *Emulator {
	return &Emulator{bank: bank, cfg: cfg, mci: make([]byte, cfg.MciSize)}
}

// Lifecycle implements Interface.
func (e *Emulator) Lifecycle() fuse.Lifecycle { return e.bank.Lifecycle }

// FuseBank implements Interface.
func (e *Emulator) FuseBank() *fuse.Bank { return e.bank }

// DebugUnlockRequested implements Interface.
func (e *Emulator) DebugUnlockRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.DebugUnlockRequested
}

// MciBase implements Interface.
func (e *Emulator) MciBase() uint64 { return e.cfg.MciBase }

// RequestDebugUnlock sets the request strap sampled at the next boot.
func (e *Emulator) RequestDebugUnlock(req bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.DebugUnlockRequested = req
}

// SetDebugUnlockInProgress implements Interface.
func (e *Emulator) SetDebugUnlockInProgress(inProgress bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inProgress = inProgress
	e.history = append(e.history, inProgress)
}

// FinishDebugUnlock implements Interface.
func (e *Emulator) FinishDebugUnlock(success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = true
	e.success = success
}

// SetUnlockLatch implements Interface.
func (e *Emulator) SetUnlockLatch(unlock bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latch = unlock
}

// Status is a snapshot of the debug unlock registers.
type Status struct {
	InProgress bool
	Finished   bool
	Success    bool
	Latch      bool
	// InProgressWrites lists every value written to the in-progress bit.
	InProgressWrites []bool
}

// Status returns the current debug unlock register state.
func (e *Emulator) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		InProgress:       e.inProgress,
		Finished:         e.finished,
		Success:          e.success,
		Latch:            e.latch,
		InProgressWrites: append([]bool(nil), e.history...),
	}
}

func (e *Emulator) mciRange(addr uint64, n int) (int, error) {
	if addr < e.cfg.MciBase || addr%4 != 0 {
		return 0, fmt.Errorf("address %#x outside MCI or unaligned: %w", addr, errs.DbgUnlockDmaFailure)
	}
	off := addr - e.cfg.MciBase
	if off+uint64(n) > uint64(len(e.mci)) {
		return 0, fmt.Errorf("read of %d bytes at %#x overruns MCI: %w", n, addr, errs.DbgUnlockDmaFailure)
	}
	return int(off), nil
}

// ReadBuffer implements DMA. Only the MCI window is mapped.
func (e *Emulator) ReadBuffer(addr uint64, out []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	off, err := e.mciRange(addr, len(out))
	if err != nil {
		return err
	}
	copy(out, e.mci[off:])
	return nil
}

// WriteMci writes data at offset off into the MCI window.
func (e *Emulator) WriteMci(off uint64, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, err := e.mciRange(e.cfg.MciBase+off, len(data))
	if err != nil {
		return err
	}
	copy(e.mci[o:], data)
	return nil
}
