// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package hwcrypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"math/big"

	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
	"golang.org/x/crypto/hkdf"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/kv"
)

var eccKeyGenInfo = []byte("ecc384 key generation")

// Soft implements every engine in software on top of a key vault.
type Soft struct {
	vault kv.Vault
	rand  io.Reader
}

// NewSoft creates engines that address secrets in vault.
func NewSoft(vault kv.Vault) *Soft {
	return &Soft{vault: vault, rand: rand.Reader}
}

// WithRand replaces the entropy source behind Generate and signing. Tests
// use it for reproducible challenges.
func (s *Soft) WithRand(r io.Reader) *Soft {
	return &Soft{vault: s.vault, rand: r}
}

// Sha1 implements Sha.
func (s *Soft) Sha1(data []byte) ([20]byte, error) {
	return sha1.Sum(data), nil
}

// Sha256 implements Sha.
func (s *Soft) Sha256(data []byte) ([32]byte, error) {
	return sha256.Sum256(data), nil
}

// Sha384 implements Sha.
func (s *Soft) Sha384(data []byte) ([48]byte, error) {
	return sha512.Sum384(data), nil
}

// Sha512 implements Sha.
func (s *Soft) Sha512(data []byte) ([64]byte, error) {
	return sha512.Sum512(data), nil
}

type digest struct {
	h    hash.Hash
	done bool
}

func (d *digest) Update(data []byte) error {
	if d.done {
		return fmt.Errorf("update after finalize: %w", errs.ShaFailure)
	}
	d.h.Write(data)
	return nil
}

func (d *digest) Finalize() ([]byte, error) {
	if d.done {
		return nil, fmt.Errorf("digest already finalized: %w", errs.ShaFailure)
	}
	d.done = true
	return d.h.Sum(nil), nil
}

// Sha384Digest implements Sha.
func (s *Soft) Sha384Digest() (Digest, error) {
	return &digest{h: sha512.New384()}, nil
}

// Sha512Digest implements Sha.
func (s *Soft) Sha512Digest() (Digest, error) {
	return &digest{h: sha512.New()}, nil
}

// Mac implements Hmac.
func (s *Soft) Mac(key kv.KeyID, data HmacData, tag kv.KeyID, usage kv.Usage) error {
	keyIn, err := s.vault.ReadInput(key, kv.UsageHmacKey)
	if err != nil {
		return err
	}

	var out []byte
	err = keyIn.Use(func(k []byte) error {
		m := hmac.New(sha512.New384, k)
		if !data.fromSlot {
			m.Write(data.bytes)
			out = m.Sum(nil)
			return nil
		}
		dataIn, err := s.vault.ReadInput(data.slot, kv.UsageHmacData)
		if err != nil {
			return err
		}
		return dataIn.Use(func(d []byte) error {
			m.Write(d)
			out = m.Sum(nil)
			return nil
		})
	})
	if err != nil {
		return err
	}
	defer clear(out)
	if err := s.vault.Write(tag, out, usage); err != nil {
		return fmt.Errorf("storing tag: %v: %w", err, errs.HmacFailure)
	}
	return nil
}

// eccKeyFromScalar rebuilds a P-384 key from its big-endian scalar.
func eccKeyFromScalar(d []byte) (*ecdsa.PrivateKey, error) {
	k, err := ecdh.P384().NewPrivateKey(d)
	if err != nil {
		return nil, err
	}
	pub := k.PublicKey().Bytes()
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P384(),
			X:     new(big.Int).SetBytes(pub[1 : 1+Ecc384CoordSize]),
			Y:     new(big.Int).SetBytes(pub[1+Ecc384CoordSize:]),
		},
		D: new(big.Int).SetBytes(d),
	}, nil
}

func eccPubKey(k *ecdsa.PublicKey) Ecc384PubKey {
	var pub Ecc384PubKey
	k.X.FillBytes(pub.X[:])
	k.Y.FillBytes(pub.Y[:])
	return pub
}

// KeyPair implements Ecc384. The scalar is expanded from the seed with
// HKDF-SHA384; candidates outside [1, n-1] are skipped.
func (s *Soft) KeyPair(seed, priv kv.KeyID) (Ecc384PubKey, error) {
	in, err := s.vault.ReadInput(seed, kv.UsageEccKeyGenSeed)
	if err != nil {
		return Ecc384PubKey{}, err
	}

	var pub Ecc384PubKey
	d := make([]byte, Ecc384CoordSize)
	defer clear(d)
	err = in.Use(func(seed []byte) error {
		r := hkdf.New(sha512.New384, seed, nil, eccKeyGenInfo)
		for i := 0; i < 8; i++ {
			if _, err := io.ReadFull(r, d); err != nil {
				return err
			}
			k, err := eccKeyFromScalar(d)
			if err != nil {
				continue
			}
			pub = eccPubKey(&k.PublicKey)
			return nil
		}
		return fmt.Errorf("no valid scalar")
	})
	if err != nil {
		return Ecc384PubKey{}, fmt.Errorf("slot %d: %v: %w", seed, err, errs.EccKeyGenFailure)
	}
	if err := s.vault.Write(priv, d, kv.UsageEccPrivateKey); err != nil {
		return Ecc384PubKey{}, fmt.Errorf("storing private key: %v: %w", err, errs.EccKeyGenFailure)
	}
	return pub, nil
}

// Sign implements Ecc384.
func (s *Soft) Sign(priv kv.KeyID, pub Ecc384PubKey, digest [48]byte) (Ecc384Signature, error) {
	in, err := s.vault.ReadInput(priv, kv.UsageEccPrivateKey)
	if err != nil {
		return Ecc384Signature{}, err
	}
	var sig Ecc384Signature
	err = in.Use(func(d []byte) error {
		k, err := eccKeyFromScalar(d)
		if err != nil {
			return err
		}
		if eccPubKey(&k.PublicKey) != pub {
			return fmt.Errorf("public key does not match slot %d", priv)
		}
		r, ss, err := ecdsa.Sign(s.rand, k, digest[:])
		if err != nil {
			return err
		}
		r.FillBytes(sig.R[:])
		ss.FillBytes(sig.S[:])
		return nil
	})
	if err != nil {
		return Ecc384Signature{}, fmt.Errorf("%v: %w", err, errs.EccSignFailure)
	}
	return sig, nil
}

// Verify implements Ecc384.
func (s *Soft) Verify(pub Ecc384PubKey, digest [48]byte, sig Ecc384Signature) (bool, error) {
	if _, err := ecdh.P384().NewPublicKey(pub.DER()); err != nil {
		return false, fmt.Errorf("%v: %w", err, errs.InvalidPublicKey)
	}
	k := &ecdsa.PublicKey{
		Curve: elliptic.P384(),
		X:     new(big.Int).SetBytes(pub.X[:]),
		Y:     new(big.Int).SetBytes(pub.Y[:]),
	}
	r := new(big.Int).SetBytes(sig.R[:])
	ss := new(big.Int).SetBytes(sig.S[:])
	return ecdsa.Verify(k, digest[:], r, ss), nil
}

// mldsaKey expands the first 32 bytes of a vault seed into a key pair.
func (s *Soft) mldsaKey(seed kv.KeyID) (*mldsa87.PublicKey, *mldsa87.PrivateKey, error) {
	in, err := s.vault.ReadInput(seed, kv.UsageMldsaKeyGenSeed)
	if err != nil {
		return nil, nil, err
	}
	var (
		pk *mldsa87.PublicKey
		sk *mldsa87.PrivateKey
	)
	err = in.Use(func(b []byte) error {
		var sd [32]byte
		if len(b) < len(sd) {
			return fmt.Errorf("seed too short: %d bytes", len(b))
		}
		copy(sd[:], b)
		pk, sk = mldsa87.NewKeyFromSeed(&sd)
		clear(sd[:])
		return nil
	})
	return pk, sk, err
}

// MldsaKeyPair implements Mldsa87.KeyPair.
func (s *Soft) MldsaKeyPair(seed kv.KeyID) (Mldsa87PubKey, error) {
	pk, _, err := s.mldsaKey(seed)
	if err != nil {
		return Mldsa87PubKey{}, fmt.Errorf("%v: %w", err, errs.MldsaKeyGenFailure)
	}
	var pub Mldsa87PubKey
	raw, err := pk.MarshalBinary()
	if err != nil {
		return Mldsa87PubKey{}, fmt.Errorf("%v: %w", err, errs.MldsaKeyGenFailure)
	}
	copy(pub[:], raw)
	return pub, nil
}

// MldsaSign implements Mldsa87.Sign. Signing is deterministic with an empty
// context string.
func (s *Soft) MldsaSign(seed kv.KeyID, pub Mldsa87PubKey, msg []byte) (Mldsa87Signature, error) {
	pk, sk, err := s.mldsaKey(seed)
	if err != nil {
		return Mldsa87Signature{}, fmt.Errorf("%v: %w", err, errs.MldsaSignFailure)
	}
	raw, err := pk.MarshalBinary()
	if err != nil || string(raw) != string(pub[:]) {
		return Mldsa87Signature{}, fmt.Errorf("public key does not match slot %d: %w", seed, errs.MldsaSignFailure)
	}
	var sig Mldsa87Signature
	if err := mldsa87.SignTo(sk, msg, nil, false, sig[:Mldsa87RawSigSize]); err != nil {
		return Mldsa87Signature{}, fmt.Errorf("%v: %w", err, errs.MldsaSignFailure)
	}
	return sig, nil
}

// MldsaVerify implements Mldsa87.Verify. The padding byte must be zero.
func (s *Soft) MldsaVerify(pub Mldsa87PubKey, msg []byte, sig Mldsa87Signature) (bool, error) {
	var pk mldsa87.PublicKey
	if err := pk.UnmarshalBinary(pub[:]); err != nil {
		return false, fmt.Errorf("%v: %w", err, errs.InvalidPublicKey)
	}
	if sig[Mldsa87SigSize-1] != 0 {
		return false, nil
	}
	return mldsa87.Verify(&pk, msg, nil, sig[:Mldsa87RawSigSize]), nil
}

// Generate implements Trng.
func (s *Soft) Generate() ([48]byte, error) {
	var b [48]byte
	if _, err := io.ReadFull(s.rand, b[:]); err != nil {
		return b, fmt.Errorf("%v: %w", err, errs.TrngFailure)
	}
	return b, nil
}

// Mldsa returns the ML-DSA-87 engine view of s.
func (s *Soft) Mldsa() Mldsa87 {
	return softMldsa{s}
}

type softMldsa struct{ s *Soft }

func (m softMldsa) KeyPair(seed kv.KeyID) (Mldsa87PubKey, error) {
	return m.s.MldsaKeyPair(seed)
}

func (m softMldsa) Sign(seed kv.KeyID, pub Mldsa87PubKey, msg []byte) (Mldsa87Signature, error) {
	return m.s.MldsaSign(seed, pub, msg)
}

func (m softMldsa) Verify(pub Mldsa87PubKey, msg []byte, sig Mldsa87Signature) (bool, error) {
	return m.s.MldsaVerify(pub, msg, sig)
}
