// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package dice derives the layered device identities.
//
// Each Layer turns the previous layer's secret into a composite device
// identity (CDI), derives an ECC P-384 and an ML-DSA-87 key pair from it,
// and has the parent's authority key sign the layer's certificate. Secrets
// are erased from the key vault as soon as the layer no longer needs them,
// on failure paths as well as on success.
package dice

import (
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lowRISC/opentitan-rom-identity/src/bootstatus"
	"github.com/lowRISC/opentitan-rom-identity/src/certs"
	"github.com/lowRISC/opentitan-rom-identity/src/cfi"
	"github.com/lowRISC/opentitan-rom-identity/src/datavault"
	"github.com/lowRISC/opentitan-rom-identity/src/env"
	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/hwcrypto"
	"github.com/lowRISC/opentitan-rom-identity/src/kv"
)

// Input is what a layer receives from its parent: the authority key pairs
// and the authority's subject identifiers.
type Input struct {
	EccAuthPriv   kv.KeyID
	EccAuthPub    hwcrypto.Ecc384PubKey
	MldsaAuthSeed kv.KeyID
	MldsaAuthPub  hwcrypto.Mldsa87PubKey
	AuthCN        string
	AuthSN        [certs.SNLen]byte
	AuthKeyID     [certs.KeyIDLen]byte
}

// Output is what a layer hands to the boot sequencer.
type Output struct {
	EccPub    hwcrypto.Ecc384PubKey
	EccPriv   kv.KeyID
	MldsaPub  hwcrypto.Mldsa87PubKey
	MldsaSeed kv.KeyID

	CN             string
	EccSubjSN      [certs.SNLen]byte
	EccSubjKeyID   [certs.KeyIDLen]byte
	MldsaSubjSN    [certs.SNLen]byte
	MldsaSubjKeyID [certs.KeyIDLen]byte
}

// AsInput returns the Input of the layer that o's keys certify.
func (o *Output) AsInput() *Input {
	return &Input{
		EccAuthPriv:   o.EccPriv,
		EccAuthPub:    o.EccPub,
		MldsaAuthSeed: o.MldsaSeed,
		MldsaAuthPub:  o.MldsaPub,
		AuthCN:        o.CN,
		AuthSN:        o.EccSubjSN,
		AuthKeyID:     o.EccSubjKeyID,
	}
}

// PqCertFunc produces the ML-DSA certificate of a layer once the ECC
// signature has been verified. It runs while the ML-DSA authority seed is
// still in the vault and before anything is committed to the data vault; an
// error leaves the data vault untouched.
type PqCertFunc func(e *env.Env, in *Input, out *Output) error

// Statuses are the boot progress codes a layer reports.
type Statuses struct {
	Cdi, KeyPair, SubjSN, SubjKeyID, CertSig, Done bootstatus.Status
}

// Layer configures one DICE layer.
type Layer struct {
	Name       string
	VaultLayer datavault.Layer
	CommonName string

	// Precursor is the secret the CDI is derived from; it is erased once
	// the CDI exists. For a root layer the precursor keys the first HMAC.
	// Otherwise the existing CDI is ratcheted with the label and then with
	// the precursor as data.
	Precursor kv.KeyID
	Root      bool

	CdiLabel, EccLabel, MldsaLabel string

	EccPriv   kv.KeyID
	MldsaSeed kv.KeyID

	// SelfSigned layers sign their own certificate and keep their keys as
	// the authority for the next layer.
	SelfSigned bool

	// PqCert is an extension point for the ML-DSA certificate path; nil
	// skips it.
	PqCert PqCertFunc

	Status Statuses
}

func eraseInto(vault kv.Vault, id kv.KeyID, errp *error) {
	if err := vault.Erase(id); err != nil && *errp == nil {
		*errp = fmt.Errorf("erasing slot %d: %w", id, err)
	}
}

// deriveCdi writes the layer CDI into kv.KeyIDCDI and erases the precursor,
// whether or not the derivation succeeded.
func (l *Layer) deriveCdi(e *env.Env) (err error) {
	defer eraseInto(e.Vault, l.Precursor, &err)

	label := hwcrypto.DataBytes([]byte(l.CdiLabel))
	if l.Root {
		return e.Hmac.Mac(l.Precursor, label, kv.KeyIDCDI, kv.UsageHmacKey)
	}
	if err := e.Hmac.Mac(kv.KeyIDCDI, label, kv.KeyIDCDI, kv.UsageHmacKey); err != nil {
		return err
	}
	return e.Hmac.Mac(kv.KeyIDCDI, hwcrypto.DataSlot(l.Precursor), kv.KeyIDCDI, kv.UsageHmacKey)
}

func (l *Layer) eccKeyGen(e *env.Env) (pub hwcrypto.Ecc384PubKey, err error) {
	if err := e.Hmac.Mac(kv.KeyIDCDI, hwcrypto.DataBytes([]byte(l.EccLabel)), kv.KeyIDTmp, kv.UsageEccKeyGenSeed); err != nil {
		return pub, err
	}
	defer eraseInto(e.Vault, kv.KeyIDTmp, &err)
	return e.Ecc.KeyPair(kv.KeyIDTmp, l.EccPriv)
}

func (l *Layer) mldsaKeyGen(e *env.Env) (hwcrypto.Mldsa87PubKey, error) {
	if err := e.Hmac.Mac(kv.KeyIDCDI, hwcrypto.DataBytes([]byte(l.MldsaLabel)), l.MldsaSeed, kv.UsageMldsaKeyGenSeed); err != nil {
		return hwcrypto.Mldsa87PubKey{}, err
	}
	return e.Mldsa.KeyPair(l.MldsaSeed)
}

func (l *Layer) deriveKeyPairs(e *env.Env, out *Output) error {
	eccPub, err := l.eccKeyGen(e)
	cfi.CheckResult(err)
	if err != nil {
		return err
	}

	mldsaPub, err := l.mldsaKeyGen(e)
	cfi.CheckResult(err)
	if err != nil {
		return err
	}

	out.EccPub, out.EccPriv = eccPub, l.EccPriv
	out.MldsaPub, out.MldsaSeed = mldsaPub, l.MldsaSeed
	e.Status.Report(l.Status.KeyPair)
	return nil
}

func (l *Layer) subjectIDs(e *env.Env, out *Output) error {
	var err error
	eccKey := out.EccPub.DER()
	if out.EccSubjSN, err = certs.SubjSN(e.Sha, eccKey); err != nil {
		return err
	}
	if out.MldsaSubjSN, err = certs.SubjSN(e.Sha, out.MldsaPub[:]); err != nil {
		return err
	}
	e.Status.Report(l.Status.SubjSN)

	bank := e.Fuses()
	if out.EccSubjKeyID, err = certs.SubjKeyID(e.Sha, bank, eccKey); err != nil {
		return err
	}
	if out.MldsaSubjKeyID, err = certs.SubjKeyID(e.Sha, bank, out.MldsaPub[:]); err != nil {
		return err
	}
	e.Status.Report(l.Status.SubjKeyID)
	return nil
}

// signAndVerify signs digest with the authority key and checks the result
// with the authority public key before returning it.
func signAndVerify(e *env.Env, priv kv.KeyID, pub hwcrypto.Ecc384PubKey, digest [48]byte) (hwcrypto.Ecc384Signature, error) {
	sig, err := e.Ecc.Sign(priv, pub, digest)
	if err != nil {
		return hwcrypto.Ecc384Signature{}, err
	}
	ok, err := e.Ecc.Verify(pub, digest, sig)
	if err != nil {
		return hwcrypto.Ecc384Signature{}, err
	}
	if cfi.Launder(ok) {
		cfi.Assert(ok)
	} else {
		cfi.Assert(!ok)
		return hwcrypto.Ecc384Signature{}, fmt.Errorf("authority slot %d: %w", priv, errs.EccSignVerifyMismatch)
	}
	return sig, nil
}

func (l *Layer) authority(in *Input, out *Output) *Input {
	if l.SelfSigned {
		return out.AsInput()
	}
	return in
}

// certify signs the layer certificate with the authority key. A delegated
// ECC authority key is erased as soon as the signature is verified; nothing
// reaches the data vault until the ML-DSA path has also succeeded.
func (l *Layer) certify(e *env.Env, log *logrus.Entry, in *Input, out *Output) error {
	auth := l.authority(in, out)

	certSN, err := certs.CertSN(e.Sha, out.EccPub.DER())
	if err != nil {
		return err
	}
	tbs, err := certs.BuildTbs(&certs.TbsParams{
		SerialNumber:   certSN,
		IssuerCN:       auth.AuthCN,
		IssuerSN:       auth.AuthSN,
		SubjectCN:      l.CommonName,
		SubjectSN:      out.EccSubjSN,
		PublicKey:      out.EccPub,
		SubjectKeyID:   out.EccSubjKeyID,
		AuthorityKeyID: auth.AuthKeyID,
		UEID:           certs.UEID(e.Fuses()),
	})
	if err != nil {
		return err
	}
	digest, err := e.Sha.Sha384(tbs)
	if err != nil {
		return fmt.Errorf("%v: %w", err, errs.ShaFailure)
	}

	log.WithField("slot", auth.EccAuthPriv).Info("signing certificate")
	sig, err := signAndVerify(e, auth.EccAuthPriv, auth.EccAuthPub, digest)
	if err != nil {
		return err
	}
	if !l.SelfSigned {
		if err := e.Vault.Erase(auth.EccAuthPriv); err != nil {
			return fmt.Errorf("erasing slot %d: %w", auth.EccAuthPriv, err)
		}
		log.WithField("slot", auth.EccAuthPriv).Debug("authority key erased")
	}
	log.WithFields(logrus.Fields{
		"pub": hex.EncodeToString(out.EccPub.Bytes()),
		"sig": hex.EncodeToString(sig.Bytes()),
	}).Debug("certificate signed")

	if l.PqCert != nil {
		if err := l.PqCert(e, auth, out); err != nil {
			return err
		}
	}
	if !l.SelfSigned {
		if err := e.Vault.Erase(auth.MldsaAuthSeed); err != nil {
			return fmt.Errorf("erasing slot %d: %w", auth.MldsaAuthSeed, err)
		}
	}

	if err := e.DataVault.SetIdentitySignature(l.VaultLayer, sig); err != nil {
		return err
	}
	if err := e.DataVault.SetIdentityPublicKey(l.VaultLayer, out.EccPub); err != nil {
		return err
	}
	if err := e.DataVault.SetMldsaPublicKey(l.VaultLayer, out.MldsaPub); err != nil {
		return err
	}
	if err := e.Scratch.Copy(l.VaultLayer, tbs); err != nil {
		return err
	}
	e.Status.Report(l.Status.CertSig)
	return nil
}

// eraseSecrets wipes every slot a failed layer may have written.
func (l *Layer) eraseSecrets(e *env.Env) {
	for _, id := range []kv.KeyID{kv.KeyIDCDI, kv.KeyIDTmp, l.EccPriv, l.MldsaSeed} {
		if err := e.Vault.Erase(id); err != nil {
			e.Logger(l.Name).WithError(err).WithField("slot", id).Error("failed to erase slot")
		}
	}
}

// Derive runs the layer. Any error is fatal to the boot stage: no partial
// output is returned, and the CDI, the layer's own keys and any delegated
// authority keys are erased before Derive returns.
func (l *Layer) Derive(e *env.Env, in *Input) (out *Output, err error) {
	// done stays false on errors and on CFI faults unwinding through here.
	done := false
	defer func() {
		if !done || err != nil {
			out = nil
			l.eraseSecrets(e)
		}
	}()
	if !l.SelfSigned {
		defer eraseInto(e.Vault, in.EccAuthPriv, &err)
		defer eraseInto(e.Vault, in.MldsaAuthSeed, &err)
	}

	log := e.Logger(l.Name)
	log.WithFields(logrus.Fields{
		"cdi":        kv.KeyIDCDI,
		"ecc_priv":   l.EccPriv,
		"mldsa_seed": l.MldsaSeed,
		"precursor":  l.Precursor,
	}).Info("deriving layer")

	if err := l.deriveCdi(e); err != nil {
		return nil, fmt.Errorf("%s: deriving cdi: %w", l.Name, err)
	}
	log.WithField("slot", l.Precursor).Debug("precursor erased")
	e.Status.Report(l.Status.Cdi)

	out = &Output{CN: l.CommonName}
	if err := l.deriveKeyPairs(e, out); err != nil {
		return nil, fmt.Errorf("%s: deriving key pairs: %w", l.Name, err)
	}
	if err := l.subjectIDs(e, out); err != nil {
		return nil, fmt.Errorf("%s: subject identifiers: %w", l.Name, err)
	}
	if err := l.certify(e, log, in, out); err != nil {
		return nil, fmt.Errorf("%s: certificate: %w", l.Name, err)
	}

	done = true
	e.Status.Report(l.Status.Done)
	log.Info("layer complete")
	return out, nil
}
