// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package doe implements the deobfuscation engine: fuses hold the unique
// device secret (UDS) and the field entropy (FE) sealed under the device's
// obfuscation key, and the engine unseals them straight into key vault
// slots.
package doe

import (
	"fmt"

	"github.com/google/tink/go/aead/subtle"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/kv"
)

const (
	// UDSSize and FESize are the plaintext secret sizes.
	UDSSize = 64
	FESize  = 32
	// KeySize is the obfuscation key size (AES-256).
	KeySize = 32
)

var (
	adUDS = []byte("uds")
	adFE  = []byte("fe")
)

// Engine unseals fuse secrets with a fixed obfuscation key.
type Engine struct {
	key []byte
}

// New creates an engine for key.
func New(key []byte) (*Engine, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("obfuscation key is %d bytes, want %d: %w", len(key), KeySize, errs.DoeFailure)
	}
	return &Engine{key: append([]byte(nil), key...)}, nil
}

func (e *Engine) aead() (*subtle.AESGCM, error) {
	a, err := subtle.NewAESGCM(e.key)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.DoeFailure)
	}
	return a, nil
}

// Deobfuscate unseals the UDS into kv.KeyIDUDS and the FE into kv.KeyIDFE.
// The plaintext is wiped once stored.
func (e *Engine) Deobfuscate(vault kv.Vault, obfUDS, obfFE []byte) error {
	a, err := e.aead()
	if err != nil {
		return err
	}
	for _, s := range []struct {
		name  string
		ct    []byte
		ad    []byte
		size  int
		slot  kv.KeyID
		usage kv.Usage
	}{
		{"uds", obfUDS, adUDS, UDSSize, kv.KeyIDUDS, kv.UsageHmacKey},
		{"fe", obfFE, adFE, FESize, kv.KeyIDFE, kv.UsageHmacData},
	} {
		pt, err := a.Decrypt(s.ct, s.ad)
		if err != nil {
			return fmt.Errorf("unsealing %s: %v: %w", s.name, err, errs.DoeFailure)
		}
		if len(pt) != s.size {
			clear(pt)
			return fmt.Errorf("unsealed %s is %d bytes, want %d: %w", s.name, len(pt), s.size, errs.DoeFailure)
		}
		err = vault.Write(s.slot, pt, s.usage)
		clear(pt)
		if err != nil {
			return err
		}
	}
	return nil
}

// Obfuscate seals uds and fe for programming into fuses.
func (e *Engine) Obfuscate(uds, fe []byte) (obfUDS, obfFE []byte, err error) {
	if len(uds) != UDSSize || len(fe) != FESize {
		return nil, nil, fmt.Errorf("secret sizes %d/%d, want %d/%d: %w", len(uds), len(fe), UDSSize, FESize, errs.DoeFailure)
	}
	a, err := e.aead()
	if err != nil {
		return nil, nil, err
	}
	if obfUDS, err = a.Encrypt(uds, adUDS); err != nil {
		return nil, nil, fmt.Errorf("sealing uds: %v: %w", err, errs.DoeFailure)
	}
	if obfFE, err = a.Encrypt(fe, adFE); err != nil {
		return nil, nil, fmt.Errorf("sealing fe: %v: %w", err, errs.DoeFailure)
	}
	return obfUDS, obfFE, nil
}
