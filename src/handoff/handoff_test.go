// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package handoff

import (
	"bytes"
	"crypto/x509"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lowRISC/opentitan-rom-identity/src/datavault"
	"github.com/lowRISC/opentitan-rom-identity/src/dice"
	"github.com/lowRISC/opentitan-rom-identity/src/env"
	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/fuse"
	"github.com/lowRISC/opentitan-rom-identity/src/hwcrypto"
	"github.com/lowRISC/opentitan-rom-identity/src/kv"
	ts "github.com/lowRISC/opentitan-rom-identity/src/pk11/test_support"
	"github.com/lowRISC/opentitan-rom-identity/src/soc"
)

func TestObjectHeader(t *testing.T) {
	h := setObjectHeaderFields(0x123, ObjectMldsaPublicKey)
	if h != 0x4123 {
		t.Errorf("setObjectHeaderFields() = %#x, want 0x4123", h)
	}
	size, typ := getObjectHeaderFields(h)
	if size != 0x123 || typ != ObjectMldsaPublicKey {
		t.Errorf("getObjectHeaderFields(%#x) = %#x, %d", h, size, typ)
	}
}

func sampleBlob() *Blob {
	id := [deviceIDSize]byte{0x01, 0xab}
	sig := hwcrypto.Ecc384Signature{R: [48]byte{1}, S: [48]byte{2}}
	pub := hwcrypto.Ecc384PubKey{X: [48]byte{3}, Y: [48]byte{4}}
	var mpub hwcrypto.Mldsa87PubKey
	mpub[0], mpub[len(mpub)-1] = 5, 6
	return &Blob{
		DeviceID: &id,
		Layers: []Layer{
			{Layer: datavault.LayerIDevID, Tbs: []byte{0x30, 0x00}, EccSignature: &sig, EccPublicKey: &pub, MldsaPublicKey: &mpub},
			{Layer: datavault.LayerLDevID, EccPublicKey: &pub},
		},
	}
}

func TestBuildUnpack(t *testing.T) {
	want := sampleBlob()
	raw, err := Build(want)
	ts.Check(t, err)
	got, err := Unpack(raw)
	ts.Check(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Unpack(Build()) mismatch (-want +got):\n%s", diff)
	}

	padded, err := Unpack(append(raw, 0, 0))
	ts.Check(t, err)
	if diff := cmp.Diff(want, padded); diff != "" {
		t.Errorf("Unpack() with padding mismatch (-want +got):\n%s", diff)
	}
}

func TestUnpackRejects(t *testing.T) {
	valid, err := Build(sampleBlob())
	ts.Check(t, err)

	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"truncated_header", []byte{0x10}},
		{"truncated_object", valid[:len(valid)-1]},
		{"zero_size_mid_blob", append([]byte{0, 0, 0, 0}, valid...)},
		{"short_device_id", []byte{0x00, 0x04, 0xaa, 0xbb}},
		{"unknown_type", []byte{0xf0, 0x04, 0x00, 0x00}},
		{"unknown_layer", []byte{0x10, 0x05, 0x70, 0x01, 0x30}},
		{"layer_size_mismatch", []byte{0x10, 0x05, 0x00, 0x02, 0x30}},
		{"bad_signature_size", []byte{0x20, 0x05, 0x00, 0x01, 0x00}},
		{"oversized", make([]byte, MaxBlobSize+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unpack(tt.blob); !errors.Is(err, errs.HandoffInvalidBlob) {
				t.Errorf("Unpack() = %v, want %v", err, errs.HandoffInvalidBlob)
			}
		})
	}
}

func TestBuildRejectsLargeTbs(t *testing.T) {
	b := &Blob{Layers: []Layer{{Layer: datavault.LayerIDevID, Tbs: make([]byte, 4096)}}}
	if _, err := Build(b); !errors.Is(err, errs.HandoffInvalidBlob) {
		t.Errorf("Build() = %v, want %v", err, errs.HandoffInvalidBlob)
	}
}

func TestExport(t *testing.T) {
	v := kv.NewMemory()
	t.Cleanup(func() { v.Close() })
	ts.Check(t, v.Write(kv.KeyIDUDS, bytes.Repeat([]byte{0x5a}, 64), kv.UsageHmacKey))
	ts.Check(t, v.Write(kv.KeyIDFE, bytes.Repeat([]byte{0xa5}, 32), kv.UsageHmacData))
	bank := &fuse.Bank{Lifecycle: fuse.LifecycleProduction, KeyIDAlgo: fuse.KeyIDAlgoSha1}
	copy(bank.UEID[:], []byte{0x01, 0x02, 0x03})
	e := env.NewEmulated(env.Emulated{
		Vault:     v,
		SoC:       soc.NewEmulator(bank, soc.DefaultConfig),
		DataVault: datavault.NewMemory(),
	})

	idev, ldev, err := dice.DeriveChain(e)
	ts.Check(t, err)

	b, err := Export(e)
	ts.Check(t, err)
	raw, err := Build(b)
	ts.Check(t, err)
	got, err := Unpack(raw)
	ts.Check(t, err)

	if got.DeviceID == nil || got.DeviceID[0] != 0x01 || got.DeviceID[2] != 0x03 {
		t.Errorf("device id = %x", got.DeviceID)
	}

	parsed := map[datavault.Layer]*x509.Certificate{}
	for _, tc := range []struct {
		layer datavault.Layer
		out   *dice.Output
	}{
		{datavault.LayerIDevID, idev},
		{datavault.LayerLDevID, ldev},
	} {
		l, ok := got.Find(tc.layer)
		if !ok {
			t.Fatalf("%v missing from blob", tc.layer)
		}
		if l.EccPublicKey == nil || *l.EccPublicKey != tc.out.EccPub {
			t.Errorf("%v ECC public key mismatch", tc.layer)
		}
		if l.MldsaPublicKey == nil || *l.MldsaPublicKey != tc.out.MldsaPub {
			t.Errorf("%v ML-DSA public key mismatch", tc.layer)
		}
		der, err := l.Certificate()
		ts.Check(t, err)
		cert, err := x509.ParseCertificate(der)
		ts.Check(t, err)
		parsed[tc.layer] = cert
	}
	ts.Check(t, parsed[datavault.LayerLDevID].CheckSignatureFrom(parsed[datavault.LayerIDevID]))
}
