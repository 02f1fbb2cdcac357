// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package kv models the ROM key vault: a fixed set of slots, each holding at
// most one secret together with the operations it may feed.
//
// Secrets never leave a vault as plain values. Callers obtain an Input for a
// slot and lend its bytes to a crypto engine with Input.Use; the loaned copy
// is wiped as soon as the engine returns.
package kv

import (
	"fmt"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
)

// KeyID names a key vault slot.
type KeyID uint8

// Slot assignments used by the cold-reset flow.
const (
	KeyIDUDS KeyID = iota
	KeyIDFE
	KeyIDCDI
	KeyIDIDevIDEccPrivKey
	KeyIDIDevIDMldsaSeed
	KeyIDLDevIDEccPrivKey
	KeyIDLDevIDMldsaSeed
	KeyIDTmp
)

const (
	// NumSlots is the number of slots in the vault.
	NumSlots = 24
	// MaxKeySize is the largest secret a slot can hold, in bytes.
	MaxKeySize = 64
)

// Usage is a bit set of the operations a slot may feed.
type Usage uint8

const (
	UsageHmacKey Usage = 1 << iota
	UsageHmacData
	UsageEccPrivateKey
	UsageEccKeyGenSeed
	UsageMldsaKeyGenSeed
)

// Allows reports whether u permits every operation in want.
func (u Usage) Allows(want Usage) bool {
	return u&want == want
}

// Vault is the key vault capability.
type Vault interface {
	// Write stores key in slot id, replacing anything already there.
	Write(id KeyID, key []byte, usage Usage) error
	// ReadInput returns a handle on slot id for an operation requiring
	// usage. The slot must be populated and permit usage.
	ReadInput(id KeyID, usage Usage) (Input, error)
	// Erase zeroizes slot id. Erasing an empty slot succeeds.
	Erase(id KeyID) error
}

// Input is an opaque reference to a populated slot.
type Input struct {
	ID   KeyID
	load func() ([]byte, error)
}

// NewInput creates an Input whose bytes are produced by load. Vault
// implementations use it; load must return a fresh copy on every call.
func NewInput(id KeyID, load func() ([]byte, error)) Input {
	return Input{ID: id, load: load}
}

// Use lends the slot's secret to fn. The slice is zeroized once fn returns
// and must not be retained.
func (in Input) Use(fn func(key []byte) error) error {
	if in.load == nil {
		return fmt.Errorf("slot %d: %w", in.ID, errs.KeyVaultEmptySlot)
	}
	key, err := in.load()
	if err != nil {
		return err
	}
	defer clear(key)
	return fn(key)
}

func checkSlot(id KeyID) error {
	if id >= NumSlots {
		return fmt.Errorf("slot %d: %w", id, errs.KeyVaultInvalidSlot)
	}
	return nil
}

func checkKey(id KeyID, key []byte) error {
	if len(key) == 0 || len(key) > MaxKeySize {
		return fmt.Errorf("slot %d: %d byte key: %w", id, len(key), errs.KeyVaultInvalidSize)
	}
	return nil
}
