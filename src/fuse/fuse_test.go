// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
)

func bankOk() *Bank {
	b := &Bank{
		Lifecycle:             LifecycleProduction,
		KeyIDAlgo:             KeyIDAlgoSha384,
		DebugAuthPkHashOffset: 0x400,
		ObfUDS:                []byte{1, 2, 3},
		ObfFE:                 []byte{4, 5, 6},
	}
	b.UEID[0] = 1
	b.ManufDbgUnlockToken[15] = 0xaa
	return b
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Bank)
		ok     bool
	}{
		{"ok", func(*Bank) {}, true},
		{"unprovisioned without secrets", func(b *Bank) {
			b.Lifecycle = LifecycleUnprovisioned
			b.ObfUDS, b.ObfFE = nil, nil
		}, true},
		{"bad lifecycle", func(b *Bank) { b.Lifecycle = 7 }, false},
		{"bad key id algo", func(b *Bank) { b.KeyIDAlgo = 4 }, false},
		{"unaligned offset", func(b *Bank) { b.DebugAuthPkHashOffset = 0x401 }, false},
		{"missing sealed FE", func(b *Bank) { b.ObfFE = nil }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bankOk()
			tt.mutate(b)
			err := Validate(b)
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, errs.FuseInvalidConfig) {
				t.Errorf("Validate() = %v, want %v", err, errs.FuseInvalidConfig)
			}
		})
	}
}

func TestDebugAuthPkHashAddr(t *testing.T) {
	b := bankOk()
	if got, want := b.DebugAuthPkHashAddr(0xf), uint64(0x400+15*64); got != want {
		t.Errorf("DebugAuthPkHashAddr(0xf) = %#x, want %#x", got, want)
	}
}

func TestSaveLoad(t *testing.T) {
	for _, ext := range []string{"yaml", "json"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "fuses."+ext)
			want := bankOk()
			if err := Save(path, want); err != nil {
				t.Fatal(err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadRejectsWrongLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fuses.yaml")
	cfg := "fuses:\n  lifecycle: manufacturing\n  ueid: \"0102\"\n  obf_uds: \"00\"\n  obf_fe: \"00\"\n"
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, errs.FuseInvalidConfig) {
		t.Errorf("Load() = %v, want %v", err, errs.FuseInvalidConfig)
	}
}
