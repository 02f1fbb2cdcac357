// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package kv_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/kv"
	"github.com/lowRISC/opentitan-rom-identity/src/pk11"
	ts "github.com/lowRISC/opentitan-rom-identity/src/pk11/test_support"
)

func exerciseVault(t *testing.T, v kv.Vault) {
	t.Helper()
	secret := bytes.Repeat([]byte{0xa5}, 48)

	if _, err := v.ReadInput(kv.KeyIDCDI, kv.UsageHmacKey); !errors.Is(err, errs.KeyVaultEmptySlot) {
		t.Fatalf("ReadInput(empty) = %v, want %v", err, errs.KeyVaultEmptySlot)
	}

	ts.Check(t, v.Write(kv.KeyIDCDI, secret, kv.UsageHmacKey|kv.UsageHmacData))

	in, err := v.ReadInput(kv.KeyIDCDI, kv.UsageHmacKey)
	ts.Check(t, err)
	var loaned []byte
	ts.Check(t, in.Use(func(key []byte) error {
		if !bytes.Equal(key, secret) {
			t.Errorf("Use() key = %x, want %x", key, secret)
		}
		loaned = key
		return nil
	}))
	if !bytes.Equal(loaned, make([]byte, len(secret))) {
		t.Errorf("loaned key not wiped after Use(): %x", loaned)
	}

	if _, err := v.ReadInput(kv.KeyIDCDI, kv.UsageEccPrivateKey); !errors.Is(err, errs.KeyVaultUsageNotPermitted) {
		t.Errorf("ReadInput(wrong usage) = %v, want %v", err, errs.KeyVaultUsageNotPermitted)
	}

	ts.Check(t, v.Erase(kv.KeyIDCDI))
	if _, err := v.ReadInput(kv.KeyIDCDI, kv.UsageHmacKey); !errors.Is(err, errs.KeyVaultEmptySlot) {
		t.Errorf("ReadInput(erased) = %v, want %v", err, errs.KeyVaultEmptySlot)
	}
	// A handle taken before the erase must not see the old secret.
	if err := in.Use(func([]byte) error { return nil }); !errors.Is(err, errs.KeyVaultEmptySlot) {
		t.Errorf("Use(after erase) = %v, want %v", err, errs.KeyVaultEmptySlot)
	}
	ts.Check(t, v.Erase(kv.KeyIDCDI))
}

func TestMemory(t *testing.T) {
	m := kv.NewMemory()
	defer m.Close()
	exerciseVault(t, m)
}

func TestMemoryRejectsBadInput(t *testing.T) {
	m := kv.NewMemory()
	defer m.Close()

	tests := []struct {
		name string
		id   kv.KeyID
		key  []byte
		want errs.Code
	}{
		{"slot out of range", kv.NumSlots, []byte{1}, errs.KeyVaultInvalidSlot},
		{"empty key", kv.KeyIDTmp, nil, errs.KeyVaultInvalidSize},
		{"oversized key", kv.KeyIDTmp, make([]byte, kv.MaxKeySize+1), errs.KeyVaultInvalidSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.Write(tt.id, tt.key, kv.UsageHmacKey); !errors.Is(err, tt.want) {
				t.Errorf("Write() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMemoryOverwriteShrinks(t *testing.T) {
	m := kv.NewMemory()
	defer m.Close()

	ts.Check(t, m.Write(kv.KeyIDTmp, bytes.Repeat([]byte{1}, 64), kv.UsageHmacKey))
	ts.Check(t, m.Write(kv.KeyIDTmp, []byte{2, 2}, kv.UsageHmacKey))
	in, err := m.ReadInput(kv.KeyIDTmp, kv.UsageHmacKey)
	ts.Check(t, err)
	ts.Check(t, in.Use(func(key []byte) error {
		if !bytes.Equal(key, []byte{2, 2}) {
			t.Errorf("key = %x, want 0202", key)
		}
		return nil
	}))
}

func TestHSM(t *testing.T) {
	s := ts.GetSession(t)
	ts.Check(t, s.Login(pk11.NormalUser, ts.UserPin))
	exerciseVault(t, kv.NewHSMFromSession(s))
}
