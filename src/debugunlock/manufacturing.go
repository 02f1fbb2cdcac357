// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package debugunlock

import (
	"fmt"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/fuse"
	"github.com/lowRISC/opentitan-rom-identity/src/mbox"
)

const (
	manufNonceLen = 32
	// The token occupies bytes [8, 24) and the nonce bytes [32, 64) of the
	// hashed block; the rest is zero.
	manufTokenOffset = 8
	manufNonceOffset = 32
	manufBlockLen    = 64
)

func (f *flow) manufDigest(token [fuse.ManufTokenLen]byte, nonce []byte) ([64]byte, error) {
	var block [manufBlockLen]byte
	copy(block[manufTokenOffset:], token[:])
	copy(block[manufNonceOffset:], nonce)
	d, err := f.e.Sha.Sha512(block[:])
	clear(block[:])
	if err != nil {
		return d, fmt.Errorf("%v: %w", err, errs.ShaFailure)
	}
	return d, nil
}

// manufacturing accepts a token equal to the one in fuses. Both tokens are
// hashed with a fresh nonce before they are compared.
func (f *flow) manufacturing() error {
	txn, err := f.await(mbox.CmdManufDebugUnlockReqToken, errs.DbgUnlockManufInvalidMboxCmd)
	if err != nil {
		return err
	}
	defer txn.Release()
	f.to(StateRequestReceived)

	var req mbox.ManufDebugUnlockTokenReq
	if err := mbox.ReadRequest(txn, &req); err != nil {
		return err
	}
	f.to(StateTokenReceived)
	f.arm()
	f.setInProgress()

	draw, err := f.e.Trng.Generate()
	if err != nil {
		return err
	}
	nonce := draw[:manufNonceLen]

	f.to(StateVerifying)
	input, err := f.manufDigest(req.Token, nonce)
	if err != nil {
		return err
	}
	expected, err := f.manufDigest(f.e.Fuses().ManufDbgUnlockToken, nonce)
	if err != nil {
		return err
	}
	if err := match(input[:], expected[:], "manufacturing token", errs.DbgUnlockManufInvalidToken); err != nil {
		return err
	}
	return f.grant(txn)
}
