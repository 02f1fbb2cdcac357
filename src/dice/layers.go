// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package dice

import (
	"github.com/lowRISC/opentitan-rom-identity/src/bootstatus"
	"github.com/lowRISC/opentitan-rom-identity/src/datavault"
	"github.com/lowRISC/opentitan-rom-identity/src/env"
	"github.com/lowRISC/opentitan-rom-identity/src/kv"
)

// IDevID is the root layer. Its CDI is keyed by the unique device secret and
// its certificate is self-signed.
func IDevID() *Layer {
	return &Layer{
		Name:       "idev",
		VaultLayer: datavault.LayerIDevID,
		CommonName: "OpenTitan ROM IDevID",
		Precursor:  kv.KeyIDUDS,
		Root:       true,
		CdiLabel:   "idevid_cdi",
		EccLabel:   "idevid_ecc_key",
		MldsaLabel: "idevid_mldsa_key",
		EccPriv:    kv.KeyIDIDevIDEccPrivKey,
		MldsaSeed:  kv.KeyIDIDevIDMldsaSeed,
		SelfSigned: true,
		Status: Statuses{
			Cdi:       bootstatus.IDevIDCdiDerivationComplete,
			KeyPair:   bootstatus.IDevIDKeyPairDerivationComplete,
			SubjSN:    bootstatus.IDevIDSubjIDSnGenerationComplete,
			SubjKeyID: bootstatus.IDevIDSubjKeyIDGenerationComplete,
			CertSig:   bootstatus.IDevIDCertSigGenerationComplete,
			Done:      bootstatus.IDevIDDerivationComplete,
		},
	}
}

// LDevID ratchets the IDevID CDI with the field entropy and is certified by
// the IDevID key, which it erases.
func LDevID() *Layer {
	return &Layer{
		Name:       "ldev",
		VaultLayer: datavault.LayerLDevID,
		CommonName: "OpenTitan ROM LDevID",
		Precursor:  kv.KeyIDFE,
		CdiLabel:   "ldevid_cdi",
		EccLabel:   "ldevid_ecc_key",
		MldsaLabel: "ldevid_mldsa_key",
		EccPriv:    kv.KeyIDLDevIDEccPrivKey,
		MldsaSeed:  kv.KeyIDLDevIDMldsaSeed,
		Status: Statuses{
			Cdi:       bootstatus.LDevIDCdiDerivationComplete,
			KeyPair:   bootstatus.LDevIDKeyPairDerivationComplete,
			SubjSN:    bootstatus.LDevIDSubjIDSnGenerationComplete,
			SubjKeyID: bootstatus.LDevIDSubjKeyIDGenerationComplete,
			CertSig:   bootstatus.LDevIDCertSigGenerationComplete,
			Done:      bootstatus.LDevIDDerivationComplete,
		},
	}
}

// DeriveChain runs IDevID then LDevID and returns both outputs.
func DeriveChain(e *env.Env) (idev, ldev *Output, err error) {
	if idev, err = IDevID().Derive(e, &Input{}); err != nil {
		return nil, nil, err
	}
	if ldev, err = LDevID().Derive(e, idev.AsInput()); err != nil {
		return nil, nil, err
	}
	return idev, ldev, nil
}
