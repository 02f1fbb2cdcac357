// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/lowRISC/opentitan-rom-identity/src/debugunlock"
	"github.com/lowRISC/opentitan-rom-identity/src/debugunlock/requester"
	"github.com/lowRISC/opentitan-rom-identity/src/fuse"
	"github.com/lowRISC/opentitan-rom-identity/src/provision"
	"github.com/lowRISC/opentitan-rom-identity/src/rom"
)

const (
	flagToken    = "token"
	flagCategory = "category"
	flagAuthSeed = "auth-seed"
)

// hostFor returns the requester matching the device lifecycle.
func hostFor(bank *fuse.Bank) (func(requester.Transport) error, error) {
	switch bank.Lifecycle {
	case fuse.LifecycleManufacturing:
		var token [fuse.ManufTokenLen]byte
		if viper.GetString(flagToken) != "" {
			b, err := hexFlag(flagToken, fuse.ManufTokenLen)
			if err != nil {
				return nil, err
			}
			token = [fuse.ManufTokenLen]byte(b)
		} else {
			seed, err := hexFlag(flagTokenSeed, 0)
			if err != nil {
				return nil, err
			}
			if token, err = provision.DeriveManufToken(provision.SoftSeed(seed), bank.UEID); err != nil {
				return nil, err
			}
		}
		return func(t requester.Transport) error {
			return requester.Manufacturing(t, token)
		}, nil

	case fuse.LifecycleProduction:
		keys, err := requesterKeys(viper.GetString(flagAuthSeed))
		if err != nil {
			return nil, err
		}
		p := &requester.Production{Keys: keys}
		cat := viper.GetUint32(flagCategory)
		return func(t requester.Transport) error {
			return p.Unlock(t, cat)
		}, nil

	default:
		return nil, fmt.Errorf("debug unlock is not available in lifecycle %v", bank.Lifecycle)
	}
}

func newUnlockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Cold-boot a device with a debug unlock request and answer it",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.WithField("command", "unlock")
			d, err := openDevice(log)
			if err != nil {
				return err
			}
			defer d.Close()

			host, err := hostFor(d.image.Bank)
			if err != nil {
				return err
			}
			d.soc.RequestDebugUnlock(true)

			var (
				res     *rom.Result
				hostErr error
				g       errgroup.Group
			)
			g.Go(func() error {
				defer d.mb.Close()
				var err error
				res, err = rom.ColdReset(d.env)
				return err
			})
			g.Go(func() error {
				hostErr = host(d.mb)
				return nil
			})
			if err := g.Wait(); err != nil {
				return fmt.Errorf("cold reset failed: %w", err)
			}

			st := d.soc.Status()
			log.WithFields(logrus.Fields{
				"state": res.Unlock,
				"latch": st.Latch,
			}).Info("debug unlock finished")
			if hostErr != nil {
				log.WithError(hostErr).Warn("requester failed")
			}
			if res.Unlock != debugunlock.StateUnlocked {
				return fmt.Errorf("debug unlock %v", res.Unlock)
			}
			return writeOutputs(res, log)
		},
	}
	addDeviceFlags(cmd)
	cmd.Flags().String(flagHandoff, "", "File receiving the handoff blob")
	cmd.Flags().String(flagCerts, "", "File receiving the layer certificates as PEM")
	cmd.Flags().String(flagToken, "", "Hex-encoded manufacturing token; derived from --token-seed when empty")
	cmd.Flags().String(flagTokenSeed, "", "Hex-encoded manufacturing token seed")
	cmd.Flags().Uint32(flagCategory, 0, "Production unlock category")
	cmd.Flags().String(flagAuthSeed, "", "Passphrase the debug-auth keys are derived from")
	return cmd
}
