// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package certs_test

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lowRISC/opentitan-rom-identity/src/certs"
	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/fuse"
	"github.com/lowRISC/opentitan-rom-identity/src/hwcrypto"
	"github.com/lowRISC/opentitan-rom-identity/src/kv"
	ts "github.com/lowRISC/opentitan-rom-identity/src/pk11/test_support"
)

var pubKey = bytes.Repeat([]byte{0xa5}, 97)

func newSoft(t *testing.T) (*hwcrypto.Soft, *kv.Memory) {
	t.Helper()
	v := kv.NewMemory()
	t.Cleanup(func() { v.Close() })
	return hwcrypto.NewSoft(v), v
}

func TestSubjKeyID(t *testing.T) {
	sha, _ := newSoft(t)
	fuseID := [certs.KeyIDLen]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}

	s1 := sha1.Sum(pubKey)
	s256 := sha256.Sum256(pubKey)
	s384 := sha512.Sum384(pubKey)

	tests := []struct {
		algo fuse.KeyIDAlgo
		want [certs.KeyIDLen]byte
	}{
		{fuse.KeyIDAlgoSha1, s1},
		{fuse.KeyIDAlgoSha256, [certs.KeyIDLen]byte(s256[:certs.KeyIDLen])},
		{fuse.KeyIDAlgoSha384, [certs.KeyIDLen]byte(s384[:certs.KeyIDLen])},
		{fuse.KeyIDAlgoFuse, fuseID},
	}
	for _, tt := range tests {
		t.Run(tt.algo.String(), func(t *testing.T) {
			bank := &fuse.Bank{KeyIDAlgo: tt.algo, SubjKeyID: fuseID}
			got, err := certs.SubjKeyID(sha, bank, pubKey)
			ts.Check(t, err)
			if got != tt.want {
				t.Errorf("SubjKeyID() = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestSubjKeyIDUnknownAlgo(t *testing.T) {
	sha, _ := newSoft(t)
	bank := &fuse.Bank{KeyIDAlgo: fuse.KeyIDAlgo(9)}
	if _, err := certs.SubjKeyID(sha, bank, pubKey); !errors.Is(err, errs.X509UnsupportedKeyIDAlgo) {
		t.Errorf("SubjKeyID(unknown) = %v, want %v", err, errs.X509UnsupportedKeyIDAlgo)
	}
}

func TestSubjSN(t *testing.T) {
	sha, _ := newSoft(t)
	sn, err := certs.SubjSN(sha, pubKey)
	ts.Check(t, err)
	d := sha256.Sum256(pubKey)
	want := strings.ToUpper(string(hexOf(d[:])))
	if got := string(sn[:]); got != want {
		t.Errorf("SubjSN() = %s, want %s", got, want)
	}
}

func hexOf(b []byte) []byte {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, 2*len(b))
	for _, c := range b {
		out = append(out, digits[c>>4], digits[c&0xf])
	}
	return out
}

func TestCertSN(t *testing.T) {
	sha, _ := newSoft(t)
	for i := 0; i < 16; i++ {
		key := bytes.Repeat([]byte{byte(i)}, 97)
		sn, err := certs.CertSN(sha, key)
		ts.Check(t, err)
		if sn[0]&0xc0 != 0x40 {
			t.Errorf("CertSN(%d)[0] = %#x, want top bits 01", i, sn[0])
		}
		d := sha256.Sum256(key)
		if !bytes.Equal(sn[1:], d[1:certs.CertSNLen]) {
			t.Errorf("CertSN(%d) = %x, want digest prefix %x", i, sn, d[:certs.CertSNLen])
		}
	}
}

func TestDeviceID(t *testing.T) {
	bank := &fuse.Bank{}
	for i := range bank.UEID {
		bank.UEID[i] = byte(i + 1)
	}
	id := certs.DeviceID(bank)
	if !bytes.Equal(id[:fuse.UEIDLen], bank.UEID[:]) {
		t.Errorf("DeviceID() = %x, want UEID prefix", id)
	}
	if !bytes.Equal(id[fuse.UEIDLen:], make([]byte, 32-fuse.UEIDLen)) {
		t.Errorf("DeviceID() padding = %x, want zeros", id[fuse.UEIDLen:])
	}
	if certs.UEID(bank) != bank.UEID {
		t.Error("UEID() differs from fuses")
	}
}

func TestBuildTbsSelfSigned(t *testing.T) {
	soft, v := newSoft(t)
	ts.Check(t, v.Write(kv.KeyIDTmp, bytes.Repeat([]byte{0x3c}, 48), kv.UsageEccKeyGenSeed))
	pub, err := soft.KeyPair(kv.KeyIDTmp, kv.KeyIDIDevIDEccPrivKey)
	ts.Check(t, err)

	bank := &fuse.Bank{KeyIDAlgo: fuse.KeyIDAlgoSha256}
	bank.UEID[0] = 0x01
	sn, err := certs.SubjSN(soft, pub.DER())
	ts.Check(t, err)
	keyID, err := certs.SubjKeyID(soft, bank, pub.DER())
	ts.Check(t, err)
	certSN, err := certs.CertSN(soft, pub.DER())
	ts.Check(t, err)

	p := &certs.TbsParams{
		SerialNumber:   certSN,
		IssuerCN:       "Test IDevID",
		IssuerSN:       sn,
		SubjectCN:      "Test IDevID",
		SubjectSN:      sn,
		PublicKey:      pub,
		SubjectKeyID:   keyID,
		AuthorityKeyID: keyID,
		UEID:           certs.UEID(bank),
	}
	tbs, err := certs.BuildTbs(p)
	ts.Check(t, err)

	digest, err := soft.Sha384(tbs)
	ts.Check(t, err)
	sig, err := soft.Sign(kv.KeyIDIDevIDEccPrivKey, pub, digest)
	ts.Check(t, err)
	der, err := certs.Assemble(tbs, sig)
	ts.Check(t, err)

	cert, err := x509.ParseCertificate(der)
	ts.Check(t, err)
	if err := cert.CheckSignatureFrom(cert); err != nil {
		t.Errorf("CheckSignatureFrom(self) = %v", err)
	}
	if !bytes.Equal(cert.RawTBSCertificate, tbs) {
		t.Error("RawTBSCertificate differs from the built TBS")
	}

	got := struct {
		CN, SN     string
		Issuer     string
		NotBefore  time.Time
		NotAfter   time.Time
		SubjKeyID  []byte
		AuthKeyID  []byte
		IsCA       bool
		CanCertify bool
	}{
		CN:         cert.Subject.CommonName,
		SN:         cert.Subject.SerialNumber,
		Issuer:     cert.Issuer.CommonName,
		NotBefore:  cert.NotBefore.UTC(),
		NotAfter:   cert.NotAfter.UTC(),
		SubjKeyID:  cert.SubjectKeyId,
		AuthKeyID:  cert.AuthorityKeyId,
		IsCA:       cert.IsCA,
		CanCertify: cert.KeyUsage&x509.KeyUsageCertSign != 0,
	}
	want := got
	want.CN, want.SN, want.Issuer = "Test IDevID", string(sn[:]), "Test IDevID"
	want.NotBefore, want.NotAfter = certs.DefaultNotBefore, certs.DefaultNotAfter
	want.SubjKeyID, want.AuthKeyID = keyID[:], keyID[:]
	want.IsCA, want.CanCertify = true, true
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("certificate fields mismatch (-want +got):\n%s", diff)
	}
}
