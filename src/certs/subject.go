// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package certs

import (
	"fmt"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/fuse"
	"github.com/lowRISC/opentitan-rom-identity/src/hwcrypto"
)

const (
	// KeyIDLen is the size of subject and authority key identifiers.
	KeyIDLen = 20
	// SNLen is the size of a subject serial number: hex of a SHA-256.
	SNLen = 64
	// CertSNLen is the size of a certificate serial number.
	CertSNLen = 20
)

type keyIDFunc func(sha hwcrypto.Sha, bank *fuse.Bank, data []byte) ([KeyIDLen]byte, error)

// keyIDAlgos maps every fuse selector to how a key identifier is formed.
var keyIDAlgos = map[fuse.KeyIDAlgo]keyIDFunc{
	fuse.KeyIDAlgoSha1: func(sha hwcrypto.Sha, _ *fuse.Bank, data []byte) ([KeyIDLen]byte, error) {
		return sha.Sha1(data)
	},
	fuse.KeyIDAlgoSha256: func(sha hwcrypto.Sha, _ *fuse.Bank, data []byte) ([KeyIDLen]byte, error) {
		d, err := sha.Sha256(data)
		return [KeyIDLen]byte(d[:KeyIDLen]), err
	},
	fuse.KeyIDAlgoSha384: func(sha hwcrypto.Sha, _ *fuse.Bank, data []byte) ([KeyIDLen]byte, error) {
		d, err := sha.Sha384(data)
		return [KeyIDLen]byte(d[:KeyIDLen]), err
	},
	fuse.KeyIDAlgoFuse: func(_ hwcrypto.Sha, bank *fuse.Bank, _ []byte) ([KeyIDLen]byte, error) {
		return bank.SubjKeyID, nil
	},
}

// SubjKeyID computes the subject key identifier of an encoded public key
// with the algorithm selected in fuses.
func SubjKeyID(sha hwcrypto.Sha, bank *fuse.Bank, pubKey []byte) ([KeyIDLen]byte, error) {
	f, ok := keyIDAlgos[bank.KeyIDAlgo]
	if !ok {
		return [KeyIDLen]byte{}, fmt.Errorf("%v: %w", bank.KeyIDAlgo, errs.X509UnsupportedKeyIDAlgo)
	}
	id, err := f(sha, bank, pubKey)
	if err != nil {
		return [KeyIDLen]byte{}, fmt.Errorf("%v: %w", err, errs.ShaFailure)
	}
	return id, nil
}

// SubjSN computes the subject serial number of an encoded public key: the
// upper-case hex of its SHA-256.
func SubjSN(sha hwcrypto.Sha, pubKey []byte) ([SNLen]byte, error) {
	var sn [SNLen]byte
	d, err := sha.Sha256(pubKey)
	if err != nil {
		return sn, fmt.Errorf("%v: %w", err, errs.ShaFailure)
	}
	const digits = "0123456789ABCDEF"
	for i, b := range d {
		sn[2*i] = digits[b>>4]
		sn[2*i+1] = digits[b&0xf]
	}
	return sn, nil
}

// CertSN computes the certificate serial number of an encoded public key:
// the first 20 bytes of its SHA-256, forced positive and full length.
func CertSN(sha hwcrypto.Sha, pubKey []byte) ([CertSNLen]byte, error) {
	d, err := sha.Sha256(pubKey)
	if err != nil {
		return [CertSNLen]byte{}, fmt.Errorf("%v: %w", err, errs.ShaFailure)
	}
	sn := [CertSNLen]byte(d[:CertSNLen])
	sn[0] &^= 0x80
	sn[0] |= 0x40
	return sn, nil
}

// UEID returns the unique endpoint identifier from fuses.
func UEID(bank *fuse.Bank) [fuse.UEIDLen]byte {
	return bank.UEID
}

// DeviceID returns the UEID zero-padded to the 32-byte device identifier
// carried in debug unlock messages.
func DeviceID(bank *fuse.Bank) [32]byte {
	var id [32]byte
	copy(id[:], bank.UEID[:])
	return id
}
