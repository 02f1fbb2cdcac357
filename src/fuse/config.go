// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/viper"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
)

// Configuration keys. Byte fields are hex strings.
const (
	KeyLifecycle             = "fuses.lifecycle"
	KeyKeyIDAlgo             = "fuses.key_id_algo"
	KeySubjKeyID             = "fuses.subject_key_id"
	KeyUEID                  = "fuses.ueid"
	KeyManufDbgUnlockToken   = "fuses.manuf_dbg_unlock_token"
	KeyDebugAuthPkHashOffset = "fuses.debug_auth_pk_hash_offset"
	KeyObfUDS                = "fuses.obf_uds"
	KeyObfFE                 = "fuses.obf_fe"
)

// Load reads and validates a fuse bank from the configuration file at path.
// The format is inferred from the file extension.
func Load(path string) (*Bank, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read fuse config %q: %v", path, err)
	}
	return FromViper(v)
}

func decodeFixed(v *viper.Viper, key string, out []byte) error {
	s := v.GetString(key)
	if s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", key, err, errs.FuseInvalidConfig)
	}
	if len(b) != len(out) {
		return fmt.Errorf("%s: got %d bytes, want %d: %w", key, len(b), len(out), errs.FuseInvalidConfig)
	}
	copy(out, b)
	return nil
}

func decodeVar(v *viper.Viper, key string) ([]byte, error) {
	b, err := hex.DecodeString(v.GetString(key))
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", key, err, errs.FuseInvalidConfig)
	}
	return b, nil
}

// FromViper builds a fuse bank from configuration already loaded into v.
func FromViper(v *viper.Viper) (*Bank, error) {
	b := &Bank{}
	var err error

	v.SetDefault(KeyLifecycle, LifecycleUnprovisioned.String())
	v.SetDefault(KeyKeyIDAlgo, KeyIDAlgoSha256.String())
	if b.Lifecycle, err = ParseLifecycle(v.GetString(KeyLifecycle)); err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.FuseInvalidConfig)
	}
	if b.KeyIDAlgo, err = ParseKeyIDAlgo(v.GetString(KeyKeyIDAlgo)); err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.FuseInvalidConfig)
	}

	for _, f := range []struct {
		key string
		out []byte
	}{
		{KeySubjKeyID, b.SubjKeyID[:]},
		{KeyUEID, b.UEID[:]},
		{KeyManufDbgUnlockToken, b.ManufDbgUnlockToken[:]},
	} {
		if err := decodeFixed(v, f.key, f.out); err != nil {
			return nil, err
		}
	}

	b.DebugAuthPkHashOffset = v.GetUint32(KeyDebugAuthPkHashOffset)
	if b.ObfUDS, err = decodeVar(v, KeyObfUDS); err != nil {
		return nil, err
	}
	if b.ObfFE, err = decodeVar(v, KeyObfFE); err != nil {
		return nil, err
	}

	if err := Validate(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Set stores b into v under the keys read by FromViper.
func Set(v *viper.Viper, b *Bank) {
	v.Set(KeyLifecycle, b.Lifecycle.String())
	v.Set(KeyKeyIDAlgo, b.KeyIDAlgo.String())
	v.Set(KeySubjKeyID, hex.EncodeToString(b.SubjKeyID[:]))
	v.Set(KeyUEID, hex.EncodeToString(b.UEID[:]))
	v.Set(KeyManufDbgUnlockToken, hex.EncodeToString(b.ManufDbgUnlockToken[:]))
	v.Set(KeyDebugAuthPkHashOffset, b.DebugAuthPkHashOffset)
	v.Set(KeyObfUDS, hex.EncodeToString(b.ObfUDS))
	v.Set(KeyObfFE, hex.EncodeToString(b.ObfFE))
}

// Save writes b to a configuration file at path.
func Save(path string, b *Bank) error {
	if err := Validate(b); err != nil {
		return err
	}
	v := viper.New()
	Set(v, b)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write fuse config %q: %v", path, err)
	}
	return nil
}
