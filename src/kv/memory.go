// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"fmt"
	"sync"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
)

type slotState struct {
	size  int
	usage Usage
}

// Memory is a Vault backed by a single page-locked buffer.
type Memory struct {
	mu     sync.Mutex
	buf    []byte
	state  [NumSlots]slotState
	locked bool
}

// NewMemory creates an empty in-memory vault. The backing buffer is locked
// into RAM where the platform allows it, so secrets are never paged out.
func NewMemory() *Memory {
	m := &Memory{buf: make([]byte, NumSlots*MaxKeySize)}
	m.locked = lockMemory(m.buf) == nil
	return m
}

// Close wipes every slot and unlocks the backing buffer.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.buf)
	m.state = [NumSlots]slotState{}
	if m.locked {
		m.locked = false
		return unlockMemory(m.buf)
	}
	return nil
}

func (m *Memory) slot(id KeyID) []byte {
	off := int(id) * MaxKeySize
	return m.buf[off : off+MaxKeySize]
}

// Write implements Vault.
func (m *Memory) Write(id KeyID, key []byte, usage Usage) error {
	if err := checkSlot(id); err != nil {
		return err
	}
	if err := checkKey(id, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slot(id)
	clear(s)
	copy(s, key)
	m.state[id] = slotState{size: len(key), usage: usage}
	return nil
}

// ReadInput implements Vault.
func (m *Memory) ReadInput(id KeyID, usage Usage) (Input, error) {
	if err := checkSlot(id); err != nil {
		return Input{}, err
	}
	m.mu.Lock()
	st := m.state[id]
	m.mu.Unlock()
	if st.size == 0 {
		return Input{}, fmt.Errorf("slot %d: %w", id, errs.KeyVaultEmptySlot)
	}
	if !st.usage.Allows(usage) {
		return Input{}, fmt.Errorf("slot %d usage %#x, want %#x: %w", id, st.usage, usage, errs.KeyVaultUsageNotPermitted)
	}
	return NewInput(id, func() ([]byte, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state[id].size == 0 {
			return nil, fmt.Errorf("slot %d: %w", id, errs.KeyVaultEmptySlot)
		}
		return append([]byte(nil), m.slot(id)[:m.state[id].size]...), nil
	}), nil
}

// Erase implements Vault.
func (m *Memory) Erase(id KeyID) error {
	if err := checkSlot(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.slot(id))
	m.state[id] = slotState{}
	return nil
}
