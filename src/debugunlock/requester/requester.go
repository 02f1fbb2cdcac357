// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package requester is the host side of debug unlock: it builds the
// mailbox requests and signs production challenges.
package requester

import (
	"crypto/ecdh"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
	"github.com/google/tink/go/signature/subtle"

	"github.com/lowRISC/opentitan-rom-identity/src/hwcrypto"
	"github.com/lowRISC/opentitan-rom-identity/src/mbox"
	"github.com/lowRISC/opentitan-rom-identity/src/provision"
)

// Transport carries a request to the device and returns its response.
type Transport interface {
	Execute(cmd mbox.CommandID, req []byte) ([]byte, error)
}

// ErrBadResponse is returned for a response that is truncated or fails its
// checksum.
var ErrBadResponse = errors.New("malformed device response")

// Keys are the debug authorization keys of a requester.
type Keys struct {
	ecc      *subtle.ECDSASigner
	eccPub   hwcrypto.Ecc384PubKey
	mldsa    *mldsa87.PrivateKey
	mldsaPub hwcrypto.Mldsa87PubKey
}

// NewKeys builds keys from a P-384 private scalar and an ML-DSA-87 seed.
func NewKeys(eccScalar []byte, mldsaSeed [mldsa87.SeedSize]byte) (*Keys, error) {
	k, err := ecdh.P384().NewPrivateKey(eccScalar)
	if err != nil {
		return nil, fmt.Errorf("invalid ecc key: %v", err)
	}
	pub, ok := hwcrypto.Ecc384PubKeyFromBytes(k.PublicKey().Bytes()[1:])
	if !ok {
		return nil, fmt.Errorf("unexpected ecc public key encoding")
	}
	signer, err := subtle.NewECDSASigner("SHA384", "NIST_P384", "IEEE_P1363", eccScalar)
	if err != nil {
		return nil, fmt.Errorf("failed to create ecc signer: %v", err)
	}

	mpk, msk := mldsa87.NewKeyFromSeed(&mldsaSeed)
	raw, err := mpk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode ml-dsa key: %v", err)
	}
	keys := &Keys{ecc: signer, eccPub: pub, mldsa: msk}
	copy(keys.mldsaPub[:], raw)
	return keys, nil
}

// GenerateKeys creates fresh keys from r.
func GenerateKeys(r io.Reader) (*Keys, error) {
	k, err := ecdh.P384().GenerateKey(r)
	if err != nil {
		return nil, err
	}
	var seed [mldsa87.SeedSize]byte
	if _, err := io.ReadFull(r, seed[:]); err != nil {
		return nil, err
	}
	return NewKeys(k.Bytes(), seed)
}

// EccPublicKey returns the ECC P-384 public key.
func (k *Keys) EccPublicKey() hwcrypto.Ecc384PubKey { return k.eccPub }

// MldsaPublicKey returns the ML-DSA-87 public key.
func (k *Keys) MldsaPublicKey() hwcrypto.Mldsa87PubKey { return k.mldsaPub }

// Hash returns the SHA-512 of both public keys, the value provisioned on a
// device to authorize these keys.
func (k *Keys) Hash() [64]byte {
	return provision.DebugAuthKeyHash(k.eccPub, k.mldsaPub)
}

func signedMessage(ch *mbox.ProdDebugUnlockChallenge, category [3]byte) []byte {
	msg := make([]byte, 0, len(ch.Challenge)+len(ch.UniqueDeviceIdentifier)+len(category))
	msg = append(msg, ch.Challenge[:]...)
	msg = append(msg, ch.UniqueDeviceIdentifier[:]...)
	return append(msg, category[:]...)
}

// Sign signs the challenge for category: ECDSA P-384 over
// SHA-384(challenge‖id‖category) and ML-DSA-87 over SHA-512 of the same.
func (k *Keys) Sign(ch *mbox.ProdDebugUnlockChallenge, category [3]byte) (ecc hwcrypto.Ecc384Signature, pq hwcrypto.Mldsa87Signature, err error) {
	msg := signedMessage(ch, category)

	raw, err := k.ecc.Sign(msg)
	if err != nil {
		return ecc, pq, fmt.Errorf("ecc sign: %v", err)
	}
	ecc, ok := hwcrypto.Ecc384SignatureFromBytes(raw)
	if !ok {
		return ecc, pq, fmt.Errorf("ecc signature is %d bytes", len(raw))
	}

	digest := sha512.Sum512(msg)
	if err := mldsa87.SignTo(k.mldsa, digest[:], nil, false, pq[:hwcrypto.Mldsa87RawSigSize]); err != nil {
		return ecc, pq, fmt.Errorf("ml-dsa sign: %v", err)
	}
	return ecc, pq, nil
}

func execute(t Transport, cmd mbox.CommandID, req any, resp any) error {
	out, err := t.Execute(cmd, mbox.Seal(cmd, mbox.Marshal(req)))
	if err != nil {
		return err
	}
	if !mbox.VerifyChecksum(mbox.CmdNone, out) {
		return fmt.Errorf("%v: checksum: %w", cmd, ErrBadResponse)
	}
	if err := mbox.Unmarshal(out, resp); err != nil {
		return fmt.Errorf("%v: %v: %w", cmd, err, ErrBadResponse)
	}
	return nil
}

// Manufacturing submits a manufacturing debug unlock token.
func Manufacturing(t Transport, token [16]byte) error {
	req := &mbox.ManufDebugUnlockTokenReq{Token: token}
	return execute(t, mbox.CmdManufDebugUnlockReqToken, req, &mbox.RespHeader{})
}

// Production drives the production exchange for one set of keys.
type Production struct {
	Keys           *Keys
	VendorID       uint16
	ObjectDataType uint8
}

// Request asks the device for a challenge for category. The category is
// sent as is, so a device-side range check can be exercised.
func (p *Production) Request(t Transport, category uint32) (*mbox.ProdDebugUnlockChallenge, error) {
	req := &mbox.ProdDebugUnlockReq{
		VendorID:       p.VendorID,
		ObjectDataType: p.ObjectDataType,
		Length:         mbox.WordCount(mbox.ProdDebugUnlockReqSize, mbox.ReqHeaderSize),
		UnlockCategory: mbox.PutU24(category),
	}
	ch := &mbox.ProdDebugUnlockChallenge{}
	if err := execute(t, mbox.CmdProdAuthDebugUnlockReq, req, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// Token answers ch for category.
func (p *Production) Token(ch *mbox.ProdDebugUnlockChallenge, category uint32) (*mbox.ProdDebugUnlockToken, error) {
	cat := mbox.PutU24(category)
	eccSig, pqSig, err := p.Keys.Sign(ch, cat)
	if err != nil {
		return nil, err
	}
	tok := &mbox.ProdDebugUnlockToken{
		Length:                 mbox.WordCount(mbox.ProdDebugUnlockTokenSize, mbox.ReqHeaderSize),
		UnlockCategory:         cat,
		Challenge:              ch.Challenge,
		UniqueDeviceIdentifier: ch.UniqueDeviceIdentifier,
		MldsaPublicKey:         p.Keys.mldsaPub,
		MldsaSignature:         pqSig,
	}
	copy(tok.EccPublicKey[:], p.Keys.eccPub.Bytes())
	copy(tok.EccSignature[:], eccSig.Bytes())
	return tok, nil
}

// Submit sends a token to the device.
func Submit(t Transport, tok *mbox.ProdDebugUnlockToken) error {
	return execute(t, mbox.CmdProdAuthDebugUnlockToken, tok, &mbox.RespHeader{})
}

// Unlock runs the whole production exchange.
func (p *Production) Unlock(t Transport, category uint32) error {
	ch, err := p.Request(t, category)
	if err != nil {
		return err
	}
	tok, err := p.Token(ch, category)
	if err != nil {
		return err
	}
	return Submit(t, tok)
}
