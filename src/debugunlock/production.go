// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package debugunlock

import (
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lowRISC/opentitan-rom-identity/src/certs"
	"github.com/lowRISC/opentitan-rom-identity/src/cfi"
	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/fuse"
	"github.com/lowRISC/opentitan-rom-identity/src/hwcrypto"
	"github.com/lowRISC/opentitan-rom-identity/src/mbox"
)

// MaxCategory is the largest debug unlock category. The remaining bits of
// the 24-bit field are reserved and must be zero.
const MaxCategory = 0xf

var (
	prodReqWords       = mbox.WordCount(mbox.ProdDebugUnlockReqSize, mbox.ReqHeaderSize)
	prodChallengeWords = mbox.WordCount(mbox.ProdDebugUnlockChallengeSize, mbox.RespHeaderSize)
	prodTokenWords     = mbox.WordCount(mbox.ProdDebugUnlockTokenSize, mbox.ReqHeaderSize)
)

// issued is what the device remembers between the two round trips.
type issued struct {
	category  [3]byte
	challenge [48]byte
	deviceID  [32]byte
}

// challenge validates a production request and answers it with a fresh
// challenge. Nothing is committed if the request is malformed.
func (f *flow) challenge() (*issued, error) {
	txn, err := f.await(mbox.CmdProdAuthDebugUnlockReq, errs.DbgUnlockProdInvalidReqMboxCmd)
	if err != nil {
		return nil, err
	}
	defer txn.Release()
	f.to(StateRequestReceived)

	var req mbox.ProdDebugUnlockReq
	if err := mbox.ReadRequest(txn, &req); err != nil {
		return nil, err
	}
	if req.Length != prodReqWords {
		return nil, fmt.Errorf("request length %d words: %w", mbox.U24(req.Length), errs.DbgUnlockProdInvalidReq)
	}
	if c := mbox.U24(req.UnlockCategory); c&^MaxCategory != 0 {
		return nil, fmt.Errorf("category %#x: %w", c, errs.DbgUnlockProdInvalidReq)
	}

	ch, err := f.e.Trng.Generate()
	if err != nil {
		return nil, err
	}
	is := &issued{
		category:  req.UnlockCategory,
		challenge: ch,
		deviceID:  certs.DeviceID(f.e.Fuses()),
	}
	f.arm()
	resp := mbox.ProdDebugUnlockChallenge{
		VendorID:               req.VendorID,
		ObjectDataType:         req.ObjectDataType,
		Length:                 prodChallengeWords,
		UniqueDeviceIdentifier: is.deviceID,
		Challenge:              is.challenge,
	}
	if err := mbox.SendResponse(txn, &resp); err != nil {
		return nil, err
	}
	f.to(StateChallengeIssued)
	f.log.WithFields(logrus.Fields{
		"category":  mbox.U24(is.category),
		"challenge": hex.EncodeToString(is.challenge[:]),
	}).Debug("challenge issued")
	return is, nil
}

// checkEcho checks the token answers the challenge this device issued.
func checkEcho(tok *mbox.ProdDebugUnlockToken, is *issued) error {
	if tok.Length != prodTokenWords {
		return fmt.Errorf("token length %d words: %w", mbox.U24(tok.Length), errs.DbgUnlockProdInvalidToken)
	}
	if err := match(tok.UnlockCategory[:], is.category[:], "category", errs.DbgUnlockProdInvalidToken); err != nil {
		return err
	}
	if err := match(tok.Challenge[:], is.challenge[:], "challenge", errs.DbgUnlockProdInvalidToken); err != nil {
		return err
	}
	return match(tok.UniqueDeviceIdentifier[:], is.deviceID[:], "device identifier", errs.DbgUnlockProdInvalidToken)
}

// checkKeyHash checks the token's public keys against the hash provisioned
// for the category.
func (f *flow) checkKeyHash(tok *mbox.ProdDebugUnlockToken, category uint32) error {
	addr := f.e.Soc.MciBase() + f.e.Fuses().DebugAuthPkHashAddr(category)
	var want [fuse.DebugAuthPkHashLen]byte
	if err := f.e.DMA.ReadBuffer(addr, want[:]); err != nil {
		return err
	}

	d, err := f.e.Sha.Sha512Digest()
	if err != nil {
		return fmt.Errorf("%v: %w", err, errs.ShaFailure)
	}
	if err := d.Update(tok.EccPublicKey[:]); err != nil {
		return fmt.Errorf("%v: %w", err, errs.ShaFailure)
	}
	if err := d.Update(tok.MldsaPublicKey[:]); err != nil {
		return fmt.Errorf("%v: %w", err, errs.ShaFailure)
	}
	got, err := d.Finalize()
	if err != nil {
		return fmt.Errorf("%v: %w", err, errs.ShaFailure)
	}
	return match(got, want[:], "public key hash", errs.DbgUnlockProdInvalidToken)
}

// signedDigest hashes challenge‖device id‖category, the message both
// signatures cover.
func signedDigest(start func() (hwcrypto.Digest, error), tok *mbox.ProdDebugUnlockToken) ([]byte, error) {
	d, err := start()
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.ShaFailure)
	}
	for _, b := range [][]byte{tok.Challenge[:], tok.UniqueDeviceIdentifier[:], tok.UnlockCategory[:]} {
		if err := d.Update(b); err != nil {
			return nil, fmt.Errorf("%v: %w", err, errs.ShaFailure)
		}
	}
	out, err := d.Finalize()
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.ShaFailure)
	}
	return out, nil
}

func checkVerified(ok bool, what string) error {
	if cfi.Launder(ok) {
		cfi.Assert(ok)
		return nil
	} else {
		cfi.Assert(!ok)
		return fmt.Errorf("%s signature: %w", what, errs.DbgUnlockProdInvalidToken)
	}
}

func (f *flow) verifySignatures(tok *mbox.ProdDebugUnlockToken) error {
	pub := hwcrypto.Ecc384PubKeyFromArray(tok.EccPublicKey)
	sig := hwcrypto.Ecc384SignatureFromArray(tok.EccSignature)
	eccMsg, err := signedDigest(f.e.Sha.Sha384Digest, tok)
	if err != nil {
		return err
	}
	ok, err := f.e.Ecc.Verify(pub, [48]byte(eccMsg), sig)
	if err != nil {
		return err
	}
	if err := checkVerified(ok, "ecc"); err != nil {
		return err
	}

	mldsaMsg, err := signedDigest(f.e.Sha.Sha512Digest, tok)
	if err != nil {
		return err
	}
	ok, err = f.e.Mldsa.Verify(hwcrypto.Mldsa87PubKey(tok.MldsaPublicKey), mldsaMsg, hwcrypto.Mldsa87Signature(tok.MldsaSignature))
	if err != nil {
		return err
	}
	return checkVerified(ok, "mldsa")
}

// production runs the challenge/response exchange.
func (f *flow) production() error {
	is, err := f.challenge()
	if err != nil {
		return err
	}

	txn, err := f.await(mbox.CmdProdAuthDebugUnlockToken, errs.DbgUnlockProdInvalidTokenMboxCmd)
	if err != nil {
		return err
	}
	defer txn.Release()
	f.setInProgress()

	var tok mbox.ProdDebugUnlockToken
	if err := mbox.ReadRequest(txn, &tok); err != nil {
		return err
	}
	f.to(StateTokenReceived)
	if err := checkEcho(&tok, is); err != nil {
		return err
	}

	f.to(StateVerifying)
	if err := f.checkKeyHash(&tok, mbox.U24(is.category)); err != nil {
		return err
	}
	if err := f.verifySignatures(&tok); err != nil {
		return err
	}
	return f.grant(txn)
}
