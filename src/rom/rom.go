// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package rom sequences the cold reset boot flow.
package rom

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lowRISC/opentitan-rom-identity/src/bootstatus"
	"github.com/lowRISC/opentitan-rom-identity/src/cfi"
	"github.com/lowRISC/opentitan-rom-identity/src/debugunlock"
	"github.com/lowRISC/opentitan-rom-identity/src/dice"
	"github.com/lowRISC/opentitan-rom-identity/src/env"
	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/handoff"
)

// Result is what a cold reset leaves for the next boot stage.
type Result struct {
	Unlock debugunlock.State
	IDevID *dice.Output
	LDevID *dice.Output
	// Handoff is the encoded handoff blob.
	Handoff []byte
}

// ColdReset runs the cold reset flow: debug unlock if the SoC requests it,
// unsealing of the device secrets, then the DICE layers.
//
// A rejected or denied unlock leaves debug locked and the boot continues.
// Any other failure, including a countermeasure fault, aborts the boot.
func ColdReset(e *env.Env) (res *Result, err error) {
	defer cfi.Recover(&err)
	log := e.Logger("rom")
	e.Status.Report(bootstatus.ColdResetStarted)
	log.WithField("lifecycle", e.Soc.Lifecycle()).Info("cold reset")

	res = &Result{}
	if err := e.DataVault.Store.Reset(); err != nil {
		return nil, err
	}

	state, err := debugunlock.Run(e)
	res.Unlock = state
	if err != nil {
		code, _ := errs.CodeOf(err)
		if code.Class() == errs.ClassFatal {
			return nil, fmt.Errorf("debug unlock: %w", err)
		}
		log.WithFields(logrus.Fields{"state": state, "code": code}).Warn("debug unlock rejected")
	}

	if e.Doe == nil {
		return nil, fmt.Errorf("no deobfuscation engine: %w", errs.DoeFailure)
	}
	fuses := e.Fuses()
	if err := e.Doe.Deobfuscate(e.Vault, fuses.ObfUDS, fuses.ObfFE); err != nil {
		return nil, err
	}
	e.Status.Report(bootstatus.DoeComplete)

	if res.IDevID, res.LDevID, err = dice.DeriveChain(e); err != nil {
		return nil, err
	}

	blob, err := handoff.Export(e)
	if err != nil {
		return nil, err
	}
	if res.Handoff, err = handoff.Build(blob); err != nil {
		return nil, err
	}

	e.Status.Report(bootstatus.ColdResetComplete)
	log.Info("cold reset complete")
	return res, nil
}
