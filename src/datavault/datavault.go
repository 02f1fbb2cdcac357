// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package datavault implements the write-once, reset-scoped store in which
// the ROM leaves identity material for later boot stages.
package datavault

import (
	"fmt"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/hwcrypto"
)

// Layer identifies a DICE layer.
type Layer int

const (
	LayerIDevID Layer = iota
	LayerLDevID
)

// String converts a layer to a pretty-printable name.
func (l Layer) String() string {
	switch l {
	case LayerIDevID:
		return "idevid"
	case LayerLDevID:
		return "ldevid"
	default:
		return fmt.Sprintf("layer(%d)", int(l))
	}
}

// Entry identifies a value held for a layer.
type Entry int

const (
	EntryEccSignature Entry = iota
	EntryEccPublicKey
	EntryMldsaPublicKey
)

// Store holds opaque values, each writable once until Reset.
type Store interface {
	// Put stores value. Storing to an occupied entry fails with
	// errs.DataVaultLocked.
	Put(layer Layer, entry Entry, value []byte) error
	// Get returns the value, or ok=false if the entry is empty.
	Get(layer Layer, entry Entry) (value []byte, ok bool, err error)
	// Reset clears every entry. Only a cold reset does this.
	Reset() error
}

// Vault exposes typed accessors over a Store.
type Vault struct {
	Store Store
}

// SetIdentitySignature locks the layer's certificate signature.
func (v Vault) SetIdentitySignature(layer Layer, sig hwcrypto.Ecc384Signature) error {
	return v.Store.Put(layer, EntryEccSignature, sig.Bytes())
}

// SetIdentityPublicKey locks the layer's ECC public key.
func (v Vault) SetIdentityPublicKey(layer Layer, key hwcrypto.Ecc384PubKey) error {
	return v.Store.Put(layer, EntryEccPublicKey, key.Bytes())
}

// SetMldsaPublicKey locks the layer's ML-DSA public key.
func (v Vault) SetMldsaPublicKey(layer Layer, key hwcrypto.Mldsa87PubKey) error {
	return v.Store.Put(layer, EntryMldsaPublicKey, key[:])
}

func (v Vault) get(layer Layer, entry Entry, size int) ([]byte, error) {
	b, ok, err := v.Store.Get(layer, entry)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if len(b) != size {
		return nil, fmt.Errorf("%v entry %d: %d bytes: %w", layer, entry, len(b), errs.DataVaultFailure)
	}
	return b, nil
}

// IdentitySignature returns the layer's signature, if one was locked.
func (v Vault) IdentitySignature(layer Layer) (hwcrypto.Ecc384Signature, bool, error) {
	b, err := v.get(layer, EntryEccSignature, 2*hwcrypto.Ecc384CoordSize)
	if b == nil {
		return hwcrypto.Ecc384Signature{}, false, err
	}
	return hwcrypto.Ecc384SignatureFromArray([2 * hwcrypto.Ecc384CoordSize]byte(b)), true, nil
}

// IdentityPublicKey returns the layer's ECC public key, if one was locked.
func (v Vault) IdentityPublicKey(layer Layer) (hwcrypto.Ecc384PubKey, bool, error) {
	b, err := v.get(layer, EntryEccPublicKey, 2*hwcrypto.Ecc384CoordSize)
	if b == nil {
		return hwcrypto.Ecc384PubKey{}, false, err
	}
	return hwcrypto.Ecc384PubKeyFromArray([2 * hwcrypto.Ecc384CoordSize]byte(b)), true, nil
}

// MldsaPublicKey returns the layer's ML-DSA public key, if one was locked.
func (v Vault) MldsaPublicKey(layer Layer) (hwcrypto.Mldsa87PubKey, bool, error) {
	var key hwcrypto.Mldsa87PubKey
	b, err := v.get(layer, EntryMldsaPublicKey, len(key))
	if b == nil {
		return key, false, err
	}
	copy(key[:], b)
	return key, true, nil
}
