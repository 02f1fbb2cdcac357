// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package errs enumerates the error codes surfaced by the ROM identity and
// debug-unlock flows.
//
// Every fallible step returns a distinct Code. Codes are plain values, so
// they can be compared directly or recovered from a wrapped error with
// CodeOf.
package errs

import (
	"errors"
	"fmt"
)

// Code is a ROM error code.
type Code uint32

// Class groups codes by how the boot sequencer must react to them.
type Class int

const (
	// ClassMalformed covers requests rejected before any secret is touched.
	ClassMalformed Class = iota
	// ClassAuth covers authentication failures; the request is denied.
	ClassAuth
	// ClassFatal covers crypto, key-vault and integrity failures; the
	// current boot stage cannot continue.
	ClassFatal
)

// String converts a class to a pretty-printable name.
func (c Class) String() string {
	switch c {
	case ClassMalformed:
		return "malformed"
	case ClassAuth:
		return "auth"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Key vault.
const (
	KeyVaultInvalidSlot Code = 0x0001_0001 + iota
	KeyVaultEmptySlot
	KeyVaultUsageNotPermitted
	KeyVaultWriteFailed
	KeyVaultEraseFailed
	KeyVaultInvalidSize
)

// Crypto engines.
const (
	HmacFailure Code = 0x0002_0001 + iota
	ShaFailure
	EccKeyGenFailure
	EccSignFailure
	EccVerifyFailure
	EccSignVerifyMismatch
	MldsaKeyGenFailure
	MldsaSignFailure
	MldsaVerifyFailure
	MldsaSignVerifyMismatch
	TrngFailure
	InvalidPublicKey
)

// Identity derivation and certificates.
const (
	X509UnsupportedKeyIDAlgo Code = 0x0003_0001 + iota
	X509TbsBuildFailure
	TbsTooLarge
	DataVaultLocked
	DataVaultFailure
	DoeFailure
	HandoffInvalidBlob
)

// Debug unlock.
const (
	DbgUnlockManufInvalidMboxCmd Code = 0x0004_0001 + iota
	DbgUnlockManufInvalidToken
	DbgUnlockProdInvalidReqMboxCmd
	DbgUnlockProdInvalidReq
	DbgUnlockProdInvalidTokenMboxCmd
	DbgUnlockProdInvalidToken
	DbgUnlockDmaFailure
)

// Mailbox and SoC.
const (
	MboxInvalidChecksum Code = 0x0005_0001 + iota
	MboxInvalidRequestLength
	MboxResponseTooLarge
	MboxNoTransaction
	MboxTransactionReleased
	FuseInvalidConfig
)

// CfiPanic is reported when a countermeasure assertion fires.
const CfiPanic Code = 0x0006_0001

var names = map[Code]string{
	KeyVaultInvalidSlot:              "KEY_VAULT_INVALID_SLOT",
	KeyVaultEmptySlot:                "KEY_VAULT_EMPTY_SLOT",
	KeyVaultUsageNotPermitted:        "KEY_VAULT_USAGE_NOT_PERMITTED",
	KeyVaultWriteFailed:              "KEY_VAULT_WRITE_FAILED",
	KeyVaultEraseFailed:              "KEY_VAULT_ERASE_FAILED",
	KeyVaultInvalidSize:              "KEY_VAULT_INVALID_SIZE",
	HmacFailure:                      "HMAC_FAILURE",
	ShaFailure:                       "SHA_FAILURE",
	EccKeyGenFailure:                 "ECC_KEYGEN_FAILURE",
	EccSignFailure:                   "ECC_SIGN_FAILURE",
	EccVerifyFailure:                 "ECC_VERIFY_FAILURE",
	EccSignVerifyMismatch:            "ECC_SIGN_VERIFY_MISMATCH",
	MldsaKeyGenFailure:               "MLDSA_KEYGEN_FAILURE",
	MldsaSignFailure:                 "MLDSA_SIGN_FAILURE",
	MldsaVerifyFailure:               "MLDSA_VERIFY_FAILURE",
	MldsaSignVerifyMismatch:          "MLDSA_SIGN_VERIFY_MISMATCH",
	TrngFailure:                      "TRNG_FAILURE",
	InvalidPublicKey:                 "INVALID_PUBLIC_KEY",
	X509UnsupportedKeyIDAlgo:         "X509_UNSUPPORTED_KEY_ID_ALGO",
	X509TbsBuildFailure:              "X509_TBS_BUILD_FAILURE",
	TbsTooLarge:                      "TBS_TOO_LARGE",
	DataVaultLocked:                  "DATA_VAULT_LOCKED",
	DataVaultFailure:                 "DATA_VAULT_FAILURE",
	DoeFailure:                       "DOE_FAILURE",
	HandoffInvalidBlob:               "HANDOFF_INVALID_BLOB",
	DbgUnlockManufInvalidMboxCmd:     "DBG_UNLOCK_MANUF_INVALID_MBOX_CMD",
	DbgUnlockManufInvalidToken:       "DBG_UNLOCK_MANUF_INVALID_TOKEN",
	DbgUnlockProdInvalidReqMboxCmd:   "DBG_UNLOCK_PROD_INVALID_REQ_MBOX_CMD",
	DbgUnlockProdInvalidReq:          "DBG_UNLOCK_PROD_INVALID_REQ",
	DbgUnlockProdInvalidTokenMboxCmd: "DBG_UNLOCK_PROD_INVALID_TOKEN_MBOX_CMD",
	DbgUnlockProdInvalidToken:        "DBG_UNLOCK_PROD_INVALID_TOKEN",
	DbgUnlockDmaFailure:              "DBG_UNLOCK_DMA_FAILURE",
	MboxInvalidChecksum:              "MBOX_INVALID_CHECKSUM",
	MboxInvalidRequestLength:         "MBOX_INVALID_REQUEST_LENGTH",
	MboxResponseTooLarge:             "MBOX_RESPONSE_TOO_LARGE",
	MboxNoTransaction:                "MBOX_NO_TRANSACTION",
	MboxTransactionReleased:          "MBOX_TRANSACTION_RELEASED",
	FuseInvalidConfig:                "FUSE_INVALID_CONFIG",
	CfiPanic:                         "CFI_PANIC",
}

// String returns the symbolic name of the code.
func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("0x%08x", uint32(c))
}

// Error implements the error interface.
func (c Code) Error() string {
	return fmt.Sprintf("rom error %s (0x%08x)", c.String(), uint32(c))
}

// Class returns the handling class of the code.
func (c Code) Class() Class {
	switch c {
	case DbgUnlockManufInvalidMboxCmd,
		DbgUnlockProdInvalidReqMboxCmd,
		DbgUnlockProdInvalidReq,
		DbgUnlockProdInvalidTokenMboxCmd,
		MboxInvalidChecksum,
		MboxInvalidRequestLength:
		return ClassMalformed
	case DbgUnlockManufInvalidToken,
		DbgUnlockProdInvalidToken:
		return ClassAuth
	default:
		return ClassFatal
	}
}

// CodeOf extracts the Code carried by err. The second return value is false
// if err does not wrap a Code.
func CodeOf(err error) (Code, bool) {
	var c Code
	if errors.As(err, &c) {
		return c, true
	}
	return 0, false
}
