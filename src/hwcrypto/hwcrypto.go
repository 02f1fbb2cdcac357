// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package hwcrypto defines the crypto engine capabilities consumed by the ROM
// flows, and Soft, a software rendition of them wired to a key vault.
//
// Engines that take secret inputs address them by key vault slot; only
// public values cross the interface as plain bytes.
package hwcrypto

import (
	"github.com/lowRISC/opentitan-rom-identity/src/kv"
)

const (
	// Ecc384CoordSize is the size of one P-384 coordinate or scalar.
	Ecc384CoordSize = 48
	// Mldsa87PubKeySize is the size of an encoded ML-DSA-87 public key.
	Mldsa87PubKeySize = 2592
	// Mldsa87SigSize is the size of an ML-DSA-87 signature on the wire. The
	// encoded signature is one byte shorter; the last byte is zero padding.
	Mldsa87SigSize = 4628
	// Mldsa87RawSigSize is the size of an encoded ML-DSA-87 signature.
	Mldsa87RawSigSize = 4627
)

// Ecc384PubKey is an uncompressed P-384 public key.
type Ecc384PubKey struct {
	X [Ecc384CoordSize]byte
	Y [Ecc384CoordSize]byte
}

// Bytes returns X‖Y.
func (k Ecc384PubKey) Bytes() []byte {
	b := make([]byte, 0, 2*Ecc384CoordSize)
	b = append(b, k.X[:]...)
	return append(b, k.Y[:]...)
}

// DER returns the SEC1 uncompressed point encoding 0x04‖X‖Y.
func (k Ecc384PubKey) DER() []byte {
	return append([]byte{0x04}, k.Bytes()...)
}

// Ecc384PubKeyFromArray splits a fixed X‖Y encoding.
func Ecc384PubKeyFromArray(b [2 * Ecc384CoordSize]byte) Ecc384PubKey {
	var k Ecc384PubKey
	copy(k.X[:], b[:Ecc384CoordSize])
	copy(k.Y[:], b[Ecc384CoordSize:])
	return k
}

// Ecc384PubKeyFromBytes parses X‖Y.
func Ecc384PubKeyFromBytes(b []byte) (Ecc384PubKey, bool) {
	var k Ecc384PubKey
	if len(b) != 2*Ecc384CoordSize {
		return k, false
	}
	copy(k.X[:], b[:Ecc384CoordSize])
	copy(k.Y[:], b[Ecc384CoordSize:])
	return k, true
}

// Ecc384Signature is an ECDSA P-384 signature.
type Ecc384Signature struct {
	R [Ecc384CoordSize]byte
	S [Ecc384CoordSize]byte
}

// Bytes returns R‖S.
func (s Ecc384Signature) Bytes() []byte {
	b := make([]byte, 0, 2*Ecc384CoordSize)
	b = append(b, s.R[:]...)
	return append(b, s.S[:]...)
}

// Ecc384SignatureFromArray splits a fixed R‖S encoding.
func Ecc384SignatureFromArray(b [2 * Ecc384CoordSize]byte) Ecc384Signature {
	var sig Ecc384Signature
	copy(sig.R[:], b[:Ecc384CoordSize])
	copy(sig.S[:], b[Ecc384CoordSize:])
	return sig
}

// Ecc384SignatureFromBytes parses R‖S.
func Ecc384SignatureFromBytes(b []byte) (Ecc384Signature, bool) {
	var s Ecc384Signature
	if len(b) != 2*Ecc384CoordSize {
		return s, false
	}
	copy(s.R[:], b[:Ecc384CoordSize])
	copy(s.S[:], b[Ecc384CoordSize:])
	return s, true
}

// Mldsa87PubKey is an encoded ML-DSA-87 public key.
type Mldsa87PubKey [Mldsa87PubKeySize]byte

// Mldsa87Signature is an ML-DSA-87 signature padded to a word boundary.
type Mldsa87Signature [Mldsa87SigSize]byte

// HmacData is the message operand of an HMAC: either plain bytes or the
// contents of a key vault slot.
type HmacData struct {
	slot     kv.KeyID
	fromSlot bool
	bytes    []byte
}

// DataBytes uses b as HMAC data.
func DataBytes(b []byte) HmacData {
	return HmacData{bytes: b}
}

// DataSlot uses the contents of slot id as HMAC data.
func DataSlot(id kv.KeyID) HmacData {
	return HmacData{slot: id, fromSlot: true}
}

// Sha is the hash engine.
type Sha interface {
	Sha1(data []byte) ([20]byte, error)
	Sha256(data []byte) ([32]byte, error)
	Sha384(data []byte) ([48]byte, error)
	Sha512(data []byte) ([64]byte, error)
	// Sha384Digest and Sha512Digest start an incremental operation.
	Sha384Digest() (Digest, error)
	Sha512Digest() (Digest, error)
}

// Digest is an incremental hash operation.
type Digest interface {
	Update(data []byte) error
	Finalize() ([]byte, error)
}

// Hmac is the HMAC-SHA384 engine.
type Hmac interface {
	// Mac computes HMAC-SHA384 keyed by slot key over data and writes the
	// 48-byte tag into slot tag with the given usage.
	Mac(key kv.KeyID, data HmacData, tag kv.KeyID, usage kv.Usage) error
}

// Ecc384 is the ECDSA P-384 engine.
type Ecc384 interface {
	// KeyPair derives a key pair from the seed in slot seed and writes the
	// private scalar into slot priv.
	KeyPair(seed, priv kv.KeyID) (Ecc384PubKey, error)
	Sign(priv kv.KeyID, pub Ecc384PubKey, digest [48]byte) (Ecc384Signature, error)
	// Verify returns false for a well-formed signature that does not
	// verify, and an error if verification could not be carried out.
	Verify(pub Ecc384PubKey, digest [48]byte, sig Ecc384Signature) (bool, error)
}

// Mldsa87 is the ML-DSA-87 engine. Private keys are never materialised in
// the vault; the key pair seed is.
type Mldsa87 interface {
	KeyPair(seed kv.KeyID) (Mldsa87PubKey, error)
	Sign(seed kv.KeyID, pub Mldsa87PubKey, msg []byte) (Mldsa87Signature, error)
	Verify(pub Mldsa87PubKey, msg []byte, sig Mldsa87Signature) (bool, error)
}

// Trng is the true random number generator.
type Trng interface {
	Generate() ([48]byte, error)
}
