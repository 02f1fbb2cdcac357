// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lowRISC/opentitan-rom-identity/src/bootstatus"
	"github.com/lowRISC/opentitan-rom-identity/src/datavault"
	"github.com/lowRISC/opentitan-rom-identity/src/debugunlock/requester"
	"github.com/lowRISC/opentitan-rom-identity/src/doe"
	"github.com/lowRISC/opentitan-rom-identity/src/env"
	"github.com/lowRISC/opentitan-rom-identity/src/kv"
	"github.com/lowRISC/opentitan-rom-identity/src/mbox"
	"github.com/lowRISC/opentitan-rom-identity/src/provision"
	"github.com/lowRISC/opentitan-rom-identity/src/soc"
)

const flagDataVault = "data-vault"

// hexFlag decodes a hex-encoded flag. size 0 accepts any length.
func hexFlag(key string, size int) ([]byte, error) {
	b, err := hex.DecodeString(viper.GetString(key))
	if err != nil {
		return nil, fmt.Errorf("--%s: %v", key, err)
	}
	if size != 0 && len(b) != size {
		return nil, fmt.Errorf("--%s: got %d bytes, want %d", key, len(b), size)
	}
	return b, nil
}

func doeEngine() (*doe.Engine, error) {
	key, err := hexFlag(flagDoeKey, doe.KeySize)
	if err != nil {
		return nil, err
	}
	return doe.New(key)
}

// requesterKeys derives debug-auth keys from a passphrase so the same keys
// can be named at provisioning and at unlock.
func requesterKeys(seed string) (*requester.Keys, error) {
	scalar := sha512.Sum384([]byte("ecc:" + seed))
	mldsaSeed := sha256.Sum256([]byte("mldsa:" + seed))
	return requester.NewKeys(scalar[:], mldsaSeed)
}

// addDeviceFlags adds the flags describing an emulated device.
func addDeviceFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagImage, "device.yaml", "Device image written by provision")
	cmd.Flags().String(flagDoeKey, "", "Hex-encoded 32-byte obfuscation key")
	cmd.Flags().String(flagDataVault, "", "SQLite file persisting the data vault; in memory when empty")
	addHSMFlags(cmd)
}

// device is an emulated device assembled from flags.
type device struct {
	env   *env.Env
	soc   *soc.Emulator
	mb    *mbox.Loopback
	image *provision.Image

	closers []func() error
}

func (d *device) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logrus.WithError(err).Warn("failed to release device resource")
		}
	}
}

func openDevice(log *logrus.Entry) (*device, error) {
	im, err := provision.LoadImage(viper.GetString(flagImage))
	if err != nil {
		return nil, err
	}
	engine, err := doeEngine()
	if err != nil {
		return nil, err
	}

	d := &device{image: im, mb: mbox.NewLoopback()}
	d.soc = soc.NewEmulator(im.Bank, soc.DefaultConfig)
	if err := im.Load(d.soc); err != nil {
		return nil, err
	}

	var vault kv.Vault
	if so := viper.GetString(flagHsmSO); so != "" {
		h, err := kv.NewHSM(kv.HSMConfig{
			SOPath:      so,
			SlotID:      viper.GetInt(flagHsmSlot),
			HSMPassword: viper.GetString(flagHsmPin),
		})
		if err != nil {
			return nil, err
		}
		vault = h
	} else {
		m := kv.NewMemory()
		d.closers = append(d.closers, m.Close)
		vault = m
	}

	var store datavault.Store
	if path := viper.GetString(flagDataVault); path != "" {
		db, err := datavault.OpenDB(path)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, db.Close)
		store = db
	} else {
		store = datavault.NewMemory()
	}

	d.env = env.NewEmulated(env.Emulated{
		Vault:     vault,
		SoC:       d.soc,
		Mbox:      d.mb,
		Doe:       engine,
		DataVault: store,
		Status:    bootstatus.LogSink{Log: log},
		Log:       log,
	})
	return d, nil
}
