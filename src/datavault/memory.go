// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package datavault

import (
	"fmt"
	"sync"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
)

type key struct {
	layer Layer
	entry Entry
}

// Memory is a Store living as long as the process.
type Memory struct {
	mu      sync.Mutex
	entries map[key][]byte
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[key][]byte)}
}

// Put implements Store.
func (m *Memory) Put(layer Layer, entry Entry, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{layer, entry}
	if _, ok := m.entries[k]; ok {
		return fmt.Errorf("%v entry %d: %w", layer, entry, errs.DataVaultLocked)
	}
	m.entries[k] = append([]byte(nil), value...)
	return nil
}

// Get implements Store.
func (m *Memory) Get(layer Layer, entry Entry) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key{layer, entry}]
	return append([]byte(nil), v...), ok, nil
}

// Reset implements Store.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
	return nil
}
