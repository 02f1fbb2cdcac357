// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package certs builds the X.509 material of the DICE identity chain:
// subject identifiers, the DER to-be-signed certificate and the final
// certificate.
package certs

import (
	encasn1 "encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/fuse"
	"github.com/lowRISC/opentitan-rom-identity/src/hwcrypto"
)

var (
	oidEcdsaWithSHA384  = encasn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	oidEcPublicKey      = encasn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSecp384r1        = encasn1.ObjectIdentifier{1, 3, 132, 0, 34}
	oidCommonName       = encasn1.ObjectIdentifier{2, 5, 4, 3}
	oidSerialNumber     = encasn1.ObjectIdentifier{2, 5, 4, 5}
	oidBasicConstraints = encasn1.ObjectIdentifier{2, 5, 29, 19}
	oidKeyUsage         = encasn1.ObjectIdentifier{2, 5, 29, 15}
	oidSubjectKeyID     = encasn1.ObjectIdentifier{2, 5, 29, 14}
	oidAuthorityKeyID   = encasn1.ObjectIdentifier{2, 5, 29, 35}
	oidTcgDiceUeid      = encasn1.ObjectIdentifier{2, 23, 133, 5, 4, 4}

	contextTag0         = asn1.Tag(0).ContextSpecific()
	contextTag0Explicit = asn1.Tag(0).ContextSpecific().Constructed()
	contextTag3Explicit = asn1.Tag(3).ContextSpecific().Constructed()
)

const (
	x509V3 = 2
	// keyCertSign is bit 5 of the KeyUsage bit string.
	keyUsageKeyCertSign = 0x04
	keyUsageUnusedBits  = 2
)

// Default validity window.
var (
	DefaultNotBefore = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	DefaultNotAfter  = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

// TbsParams are the fields bound into one layer's certificate.
type TbsParams struct {
	SerialNumber [CertSNLen]byte

	IssuerCN  string
	IssuerSN  [SNLen]byte
	SubjectCN string
	SubjectSN [SNLen]byte

	NotBefore time.Time
	NotAfter  time.Time

	PublicKey      hwcrypto.Ecc384PubKey
	SubjectKeyID   [KeyIDLen]byte
	AuthorityKeyID [KeyIDLen]byte
	UEID           [fuse.UEIDLen]byte
}

func addAlgorithm(b *cryptobyte.Builder) {
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oidEcdsaWithSHA384)
	})
}

func addName(b *cryptobyte.Builder, cn string, sn [SNLen]byte) {
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(asn1.SET, func(b *cryptobyte.Builder) {
			b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1ObjectIdentifier(oidCommonName)
				b.AddASN1(asn1.UTF8String, func(b *cryptobyte.Builder) {
					b.AddBytes([]byte(cn))
				})
			})
		})
		b.AddASN1(asn1.SET, func(b *cryptobyte.Builder) {
			b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1ObjectIdentifier(oidSerialNumber)
				b.AddASN1(asn1.PrintableString, func(b *cryptobyte.Builder) {
					b.AddBytes(sn[:])
				})
			})
		})
	})
}

// addTime uses UTCTime through 2049 and GeneralizedTime after, as X.509
// requires.
func addTime(b *cryptobyte.Builder, t time.Time) {
	if t.Year() < 2050 {
		b.AddASN1UTCTime(t)
	} else {
		b.AddASN1GeneralizedTime(t)
	}
}

func addExtension(b *cryptobyte.Builder, oid encasn1.ObjectIdentifier, critical bool, value func(*cryptobyte.Builder)) {
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oid)
		if critical {
			b.AddASN1Boolean(true)
		}
		b.AddASN1(asn1.OCTET_STRING, value)
	})
}

// BuildTbs encodes the DER TBSCertificate for p.
func BuildTbs(p *TbsParams) ([]byte, error) {
	notBefore, notAfter := p.NotBefore, p.NotAfter
	if notBefore.IsZero() {
		notBefore = DefaultNotBefore
	}
	if notAfter.IsZero() {
		notAfter = DefaultNotAfter
	}

	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(contextTag0Explicit, func(b *cryptobyte.Builder) {
			b.AddASN1Int64(x509V3)
		})
		b.AddASN1BigInt(new(big.Int).SetBytes(p.SerialNumber[:]))
		addAlgorithm(b)
		addName(b, p.IssuerCN, p.IssuerSN)
		b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			addTime(b, notBefore)
			addTime(b, notAfter)
		})
		addName(b, p.SubjectCN, p.SubjectSN)
		b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1ObjectIdentifier(oidEcPublicKey)
				b.AddASN1ObjectIdentifier(oidSecp384r1)
			})
			b.AddASN1BitString(p.PublicKey.DER())
		})
		b.AddASN1(contextTag3Explicit, func(b *cryptobyte.Builder) {
			b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				addExtension(b, oidBasicConstraints, true, func(b *cryptobyte.Builder) {
					b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1Boolean(true)
					})
				})
				addExtension(b, oidKeyUsage, true, func(b *cryptobyte.Builder) {
					b.AddASN1(asn1.BIT_STRING, func(b *cryptobyte.Builder) {
						b.AddUint8(keyUsageUnusedBits)
						b.AddUint8(keyUsageKeyCertSign)
					})
				})
				addExtension(b, oidSubjectKeyID, false, func(b *cryptobyte.Builder) {
					b.AddASN1OctetString(p.SubjectKeyID[:])
				})
				addExtension(b, oidAuthorityKeyID, false, func(b *cryptobyte.Builder) {
					b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1(contextTag0, func(b *cryptobyte.Builder) {
							b.AddBytes(p.AuthorityKeyID[:])
						})
					})
				})
				addExtension(b, oidTcgDiceUeid, false, func(b *cryptobyte.Builder) {
					b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1OctetString(p.UEID[:])
					})
				})
			})
		})
	})

	tbs, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.X509TbsBuildFailure)
	}
	return tbs, nil
}

// Assemble joins a TBS and its ECDSA P-384 signature into a DER
// certificate.
func Assemble(tbs []byte, sig hwcrypto.Ecc384Signature) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddBytes(tbs)
		addAlgorithm(b)
		b.AddASN1(asn1.BIT_STRING, func(b *cryptobyte.Builder) {
			b.AddUint8(0)
			b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1BigInt(new(big.Int).SetBytes(sig.R[:]))
				b.AddASN1BigInt(new(big.Int).SetBytes(sig.S[:]))
			})
		})
	})
	cert, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.X509TbsBuildFailure)
	}
	return cert, nil
}
