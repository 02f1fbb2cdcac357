// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package fuse holds the read-only fuse bank consumed by the ROM, and its
// on-disk representation used by the simulator.
package fuse

import (
	"fmt"
	"strings"
)

const (
	// UEIDLen is the size of the unique endpoint identifier: a type byte
	// followed by the 16-byte device id.
	UEIDLen = 17
	// ManufTokenLen is the size of the manufacturing debug unlock token.
	ManufTokenLen = 16
	// SubjKeyIDLen is the size of an X.509 subject key identifier.
	SubjKeyIDLen = 20
	// DebugAuthPkHashLen is the size of one debug-auth public key hash.
	DebugAuthPkHashLen = 64
)

// Lifecycle is the device life cycle state.
type Lifecycle int

const (
	LifecycleUnprovisioned Lifecycle = iota
	LifecycleManufacturing
	LifecycleProduction
)

var lifecycleNames = map[Lifecycle]string{
	LifecycleUnprovisioned: "unprovisioned",
	LifecycleManufacturing: "manufacturing",
	LifecycleProduction:    "production",
}

// String converts a life cycle state to a pretty-printable name.
func (l Lifecycle) String() string {
	if n, ok := lifecycleNames[l]; ok {
		return n
	}
	return fmt.Sprintf("lifecycle(%d)", int(l))
}

// ParseLifecycle parses a life cycle name as produced by String.
func ParseLifecycle(s string) (Lifecycle, error) {
	for l, n := range lifecycleNames {
		if strings.EqualFold(s, n) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("invalid lifecycle: %q", s)
}

// KeyIDAlgo selects how X.509 subject key identifiers are computed.
type KeyIDAlgo uint32

const (
	KeyIDAlgoSha1 KeyIDAlgo = iota
	KeyIDAlgoSha256
	KeyIDAlgoSha384
	KeyIDAlgoFuse
)

var keyIDAlgoNames = map[KeyIDAlgo]string{
	KeyIDAlgoSha1:   "sha1",
	KeyIDAlgoSha256: "sha256",
	KeyIDAlgoSha384: "sha384",
	KeyIDAlgoFuse:   "fuse",
}

// String converts an algorithm selector to a pretty-printable name.
func (a KeyIDAlgo) String() string {
	if n, ok := keyIDAlgoNames[a]; ok {
		return n
	}
	return fmt.Sprintf("key_id_algo(%d)", uint32(a))
}

// ParseKeyIDAlgo parses an algorithm name as produced by String.
func ParseKeyIDAlgo(s string) (KeyIDAlgo, error) {
	for a, n := range keyIDAlgoNames {
		if strings.EqualFold(s, n) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("invalid key id algorithm: %q", s)
}

// Bank is the fuse bank.
type Bank struct {
	Lifecycle Lifecycle
	KeyIDAlgo KeyIDAlgo
	// SubjKeyID is returned verbatim when KeyIDAlgo is KeyIDAlgoFuse.
	SubjKeyID [SubjKeyIDLen]byte
	UEID      [UEIDLen]byte

	ManufDbgUnlockToken [ManufTokenLen]byte
	// DebugAuthPkHashOffset is the offset from the MCI base of the table of
	// debug-auth public key hashes, one per unlock category.
	DebugAuthPkHashOffset uint32

	// Obfuscated UDS and field entropy, sealed by the deobfuscation engine.
	ObfUDS []byte
	ObfFE  []byte
}

// DebugAuthPkHashAddr returns the offset from the MCI base of the key hash
// authorizing category.
func (b *Bank) DebugAuthPkHashAddr(category uint32) uint64 {
	return uint64(b.DebugAuthPkHashOffset) + uint64(category)*DebugAuthPkHashLen
}
