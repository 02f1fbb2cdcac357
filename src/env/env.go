// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package env bundles the capabilities the ROM flows operate on. An Env is
// passed explicitly to every flow; nothing is reached through globals, so
// tests can substitute any single capability.
package env

import (
	"github.com/sirupsen/logrus"

	"github.com/lowRISC/opentitan-rom-identity/src/bootstatus"
	"github.com/lowRISC/opentitan-rom-identity/src/cfi"
	"github.com/lowRISC/opentitan-rom-identity/src/datavault"
	"github.com/lowRISC/opentitan-rom-identity/src/doe"
	"github.com/lowRISC/opentitan-rom-identity/src/fuse"
	"github.com/lowRISC/opentitan-rom-identity/src/hwcrypto"
	"github.com/lowRISC/opentitan-rom-identity/src/kv"
	"github.com/lowRISC/opentitan-rom-identity/src/mbox"
	"github.com/lowRISC/opentitan-rom-identity/src/soc"
)

// Env is the ROM environment.
type Env struct {
	Vault kv.Vault

	Sha   hwcrypto.Sha
	Hmac  hwcrypto.Hmac
	Ecc   hwcrypto.Ecc384
	Mldsa hwcrypto.Mldsa87
	Trng  hwcrypto.Trng

	Soc  soc.Interface
	DMA  soc.DMA
	Mbox mbox.Mailbox
	Doe  *doe.Engine

	DataVault datavault.Vault
	Scratch   *datavault.TbsScratch

	Status bootstatus.Sink
	Log    *logrus.Entry
}

// Emulated describes the pieces an emulated device is assembled from.
type Emulated struct {
	Vault     kv.Vault
	SoC       *soc.Emulator
	Mbox      mbox.Mailbox
	Doe       *doe.Engine
	DataVault datavault.Store
	Status    bootstatus.Sink
	Log       *logrus.Entry
}

// NewEmulated wires software crypto engines over d.Vault and the emulated
// SoC into an Env.
func NewEmulated(d Emulated) *Env {
	soft := hwcrypto.NewSoft(d.Vault)
	log := d.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	status := d.Status
	if status == nil {
		status = bootstatus.LogSink{Log: log}
	}
	return &Env{
		Vault:     d.Vault,
		Sha:       soft,
		Hmac:      soft,
		Ecc:       soft,
		Mldsa:     soft.Mldsa(),
		Trng:      soft,
		Soc:       d.SoC,
		DMA:       d.SoC,
		Mbox:      d.Mbox,
		Doe:       d.Doe,
		DataVault: datavault.Vault{Store: d.DataVault},
		Scratch:   &datavault.TbsScratch{},
		Status:    status,
		Log:       log,
	}
}

// Fuses returns the fuse bank.
func (e *Env) Fuses() *fuse.Bank {
	return e.Soc.FuseBank()
}

// Counter returns a delay source for poll loops backed by the TRNG.
func (e *Env) Counter() *cfi.Counter {
	return cfi.NewCounter(e.Trng)
}

// Logger returns the environment logger tagged with component.
func (e *Env) Logger(component string) *logrus.Entry {
	return e.Log.WithField("component", component)
}
