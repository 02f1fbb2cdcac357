// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package hwcrypto_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"errors"
	"testing"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/hwcrypto"
	"github.com/lowRISC/opentitan-rom-identity/src/kv"
	ts "github.com/lowRISC/opentitan-rom-identity/src/pk11/test_support"
)

func newSoft(t *testing.T) (*hwcrypto.Soft, *kv.Memory) {
	t.Helper()
	v := kv.NewMemory()
	t.Cleanup(func() { v.Close() })
	return hwcrypto.NewSoft(v), v
}

func TestMac(t *testing.T) {
	s, v := newSoft(t)
	key := bytes.Repeat([]byte{0x11}, 48)
	data := bytes.Repeat([]byte{0x22}, 32)
	ts.Check(t, v.Write(kv.KeyIDCDI, key, kv.UsageHmacKey))
	ts.Check(t, v.Write(kv.KeyIDFE, data, kv.UsageHmacData))

	m := hmac.New(sha512.New384, key)
	m.Write(data)
	want := m.Sum(nil)

	ts.Check(t, s.Mac(kv.KeyIDCDI, hwcrypto.DataSlot(kv.KeyIDFE), kv.KeyIDTmp, kv.UsageHmacKey))
	in, err := v.ReadInput(kv.KeyIDTmp, kv.UsageHmacKey)
	ts.Check(t, err)
	ts.Check(t, in.Use(func(got []byte) error {
		if !bytes.Equal(got, want) {
			t.Errorf("Mac(slot data) = %x, want %x", got, want)
		}
		return nil
	}))

	// Key and tag may share a slot.
	ts.Check(t, s.Mac(kv.KeyIDCDI, hwcrypto.DataBytes(data), kv.KeyIDCDI, kv.UsageHmacKey))
	in, err = v.ReadInput(kv.KeyIDCDI, kv.UsageHmacKey)
	ts.Check(t, err)
	ts.Check(t, in.Use(func(got []byte) error {
		if !bytes.Equal(got, want) {
			t.Errorf("Mac(bytes) = %x, want %x", got, want)
		}
		return nil
	}))

	if err := s.Mac(kv.KeyIDUDS, hwcrypto.DataBytes(data), kv.KeyIDTmp, kv.UsageHmacKey); !errors.Is(err, errs.KeyVaultEmptySlot) {
		t.Errorf("Mac(empty key) = %v, want %v", err, errs.KeyVaultEmptySlot)
	}
}

func TestDigest(t *testing.T) {
	s, _ := newSoft(t)
	d, err := s.Sha384Digest()
	ts.Check(t, err)
	ts.Check(t, d.Update([]byte("challenge")))
	ts.Check(t, d.Update([]byte("device")))
	got, err := d.Finalize()
	ts.Check(t, err)
	want, _ := s.Sha384([]byte("challengedevice"))
	if !bytes.Equal(got, want[:]) {
		t.Errorf("incremental SHA-384 = %x, want %x", got, want)
	}
	if err := d.Update(nil); !errors.Is(err, errs.ShaFailure) {
		t.Errorf("Update after Finalize = %v, want %v", err, errs.ShaFailure)
	}
}

func TestEccKeyPairDeterministic(t *testing.T) {
	s, v := newSoft(t)
	seed := bytes.Repeat([]byte{0x5a}, 48)
	ts.Check(t, v.Write(kv.KeyIDTmp, seed, kv.UsageEccKeyGenSeed))

	pub1, err := s.KeyPair(kv.KeyIDTmp, kv.KeyIDLDevIDEccPrivKey)
	ts.Check(t, err)
	pub2, err := s.KeyPair(kv.KeyIDTmp, kv.KeyIDIDevIDEccPrivKey)
	ts.Check(t, err)
	if pub1 != pub2 {
		t.Errorf("KeyPair() not deterministic: %x != %x", pub1.Bytes(), pub2.Bytes())
	}

	digest := sha512.Sum384([]byte("tbs"))
	sig, err := s.Sign(kv.KeyIDLDevIDEccPrivKey, pub1, digest)
	ts.Check(t, err)
	ok, err := s.Verify(pub1, digest, sig)
	ts.Check(t, err)
	if !ok {
		t.Fatal("Verify() = false for a fresh signature")
	}

	sig.S[10] ^= 0x01
	ok, err = s.Verify(pub1, digest, sig)
	ts.Check(t, err)
	if ok {
		t.Error("Verify() = true for a corrupted signature")
	}

	var bogus hwcrypto.Ecc384PubKey
	if _, err := s.Verify(bogus, digest, sig); !errors.Is(err, errs.InvalidPublicKey) {
		t.Errorf("Verify(off-curve key) = %v, want %v", err, errs.InvalidPublicKey)
	}
}

func TestEccSignRejectsMismatchedPublicKey(t *testing.T) {
	s, v := newSoft(t)
	ts.Check(t, v.Write(kv.KeyIDTmp, bytes.Repeat([]byte{1}, 48), kv.UsageEccKeyGenSeed))
	pub, err := s.KeyPair(kv.KeyIDTmp, kv.KeyIDLDevIDEccPrivKey)
	ts.Check(t, err)
	pub.X[0] ^= 0xff
	if _, err := s.Sign(kv.KeyIDLDevIDEccPrivKey, pub, [48]byte{}); !errors.Is(err, errs.EccSignFailure) {
		t.Errorf("Sign() = %v, want %v", err, errs.EccSignFailure)
	}
}

func TestMldsa(t *testing.T) {
	s, v := newSoft(t)
	ts.Check(t, v.Write(kv.KeyIDLDevIDMldsaSeed, bytes.Repeat([]byte{0x33}, 48), kv.UsageMldsaKeyGenSeed))
	m := s.Mldsa()

	pub, err := m.KeyPair(kv.KeyIDLDevIDMldsaSeed)
	ts.Check(t, err)
	again, err := m.KeyPair(kv.KeyIDLDevIDMldsaSeed)
	ts.Check(t, err)
	if pub != again {
		t.Error("KeyPair() not deterministic")
	}

	msg := sha512.Sum512([]byte("challenge"))
	sig, err := m.Sign(kv.KeyIDLDevIDMldsaSeed, pub, msg[:])
	ts.Check(t, err)
	if sig[hwcrypto.Mldsa87SigSize-1] != 0 {
		t.Error("padding byte not zero")
	}
	ok, err := m.Verify(pub, msg[:], sig)
	ts.Check(t, err)
	if !ok {
		t.Fatal("Verify() = false for a fresh signature")
	}

	tests := []struct {
		name   string
		mutate func(*hwcrypto.Mldsa87Signature)
	}{
		{"flipped bit", func(s *hwcrypto.Mldsa87Signature) { s[100] ^= 0x04 }},
		{"non-zero padding", func(s *hwcrypto.Mldsa87Signature) { s[hwcrypto.Mldsa87SigSize-1] = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := sig
			tt.mutate(&bad)
			ok, err := m.Verify(pub, msg[:], bad)
			ts.Check(t, err)
			if ok {
				t.Error("Verify() = true")
			}
		})
	}
}

func TestGenerate(t *testing.T) {
	s, _ := newSoft(t)
	s = s.WithRand(bytes.NewReader(bytes.Repeat([]byte{7}, 48)))
	got, err := s.Generate()
	ts.Check(t, err)
	if got != [48]byte(bytes.Repeat([]byte{7}, 48)) {
		t.Errorf("Generate() = %x", got)
	}
	if _, err := s.Generate(); !errors.Is(err, errs.TrngFailure) {
		t.Errorf("Generate(exhausted) = %v, want %v", err, errs.TrngFailure)
	}
}

func TestFixedEncodings(t *testing.T) {
	var raw [2 * hwcrypto.Ecc384CoordSize]byte
	for i := range raw {
		raw[i] = byte(i)
	}

	pub := hwcrypto.Ecc384PubKeyFromArray(raw)
	if !bytes.Equal(pub.Bytes(), raw[:]) {
		t.Errorf("Ecc384PubKeyFromArray().Bytes() = %x, want %x", pub.Bytes(), raw)
	}
	if parsed, ok := hwcrypto.Ecc384PubKeyFromBytes(raw[:]); !ok || parsed != pub {
		t.Errorf("Ecc384PubKeyFromBytes() = %v, %v; want the array encoding", parsed, ok)
	}

	sig := hwcrypto.Ecc384SignatureFromArray(raw)
	if !bytes.Equal(sig.Bytes(), raw[:]) {
		t.Errorf("Ecc384SignatureFromArray().Bytes() = %x, want %x", sig.Bytes(), raw)
	}
	if parsed, ok := hwcrypto.Ecc384SignatureFromBytes(raw[:]); !ok || parsed != sig {
		t.Errorf("Ecc384SignatureFromBytes() = %v, %v; want the array encoding", parsed, ok)
	}
	if _, ok := hwcrypto.Ecc384SignatureFromBytes(raw[1:]); ok {
		t.Error("Ecc384SignatureFromBytes() accepted a short encoding")
	}
}
