// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lowRISC/opentitan-rom-identity/src/fuse"
	"github.com/lowRISC/opentitan-rom-identity/src/pk11"
	"github.com/lowRISC/opentitan-rom-identity/src/provision"
)

const (
	flagLifecycle    = "lifecycle"
	flagKeyIDAlgo    = "key-id-algo"
	flagUEID         = "ueid"
	flagTokenSeed    = "token-seed"
	flagTokenLabel   = "token-seed-label"
	flagPkHashOffset = "pk-hash-offset"
	flagAuth         = "auth"
)

// tokenSeed returns the manufacturing token seed: an HSM key when a PKCS#11
// library is configured, the hex --token-seed otherwise.
func tokenSeed() (provision.TokenSeed, func(), error) {
	so := viper.GetString(flagHsmSO)
	if so == "" {
		if viper.GetString(flagTokenSeed) == "" {
			return nil, func() {}, nil
		}
		b, err := hexFlag(flagTokenSeed, 0)
		if err != nil {
			return nil, nil, err
		}
		return provision.SoftSeed(b), func() {}, nil
	}

	mod, err := pk11.Load(so)
	if err != nil {
		return nil, nil, err
	}
	toks, err := mod.Tokens()
	if err != nil {
		return nil, nil, err
	}
	slot := viper.GetInt(flagHsmSlot)
	if slot >= len(toks) {
		return nil, nil, fmt.Errorf("no token in slot %d", slot)
	}
	s, err := toks[slot].OpenSession()
	if err != nil {
		return nil, nil, err
	}
	closeSession := func() { s.Close() }
	if err := s.Login(pk11.NormalUser, viper.GetString(flagHsmPin)); err != nil {
		closeSession()
		return nil, nil, err
	}
	seed, err := provision.HSMSeed(s, viper.GetString(flagTokenLabel))
	if err != nil {
		closeSession()
		return nil, nil, err
	}
	return seed, closeSession, nil
}

// authHashes maps each category of --auth to the hash of the keys derived
// from its passphrase.
func authHashes() (map[uint32][64]byte, error) {
	hashes := map[uint32][64]byte{}
	for c, seed := range viper.GetStringMapString(flagAuth) {
		cat, err := strconv.ParseUint(c, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("--%s: bad category %q", flagAuth, c)
		}
		keys, err := requesterKeys(seed)
		if err != nil {
			return nil, err
		}
		hashes[uint32(cat)] = keys.Hash()
	}
	return hashes, nil
}

func newProvisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Write a device image: fuses and debug-auth key hashes",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.WithField("command", "provision")

			lc, err := fuse.ParseLifecycle(viper.GetString(flagLifecycle))
			if err != nil {
				return err
			}
			algo, err := fuse.ParseKeyIDAlgo(viper.GetString(flagKeyIDAlgo))
			if err != nil {
				return err
			}
			ueid, err := hexFlag(flagUEID, fuse.UEIDLen)
			if err != nil {
				return err
			}
			engine, err := doeEngine()
			if err != nil {
				return err
			}
			seed, release, err := tokenSeed()
			if err != nil {
				return err
			}
			defer release()
			hashes, err := authHashes()
			if err != nil {
				return err
			}

			im, err := provision.NewImage(&provision.Params{
				Lifecycle:             lc,
				KeyIDAlgo:             algo,
				UEID:                  [fuse.UEIDLen]byte(ueid),
				TokenSeed:             seed,
				Doe:                   engine,
				DebugAuthPkHashOffset: viper.GetUint32(flagPkHashOffset),
				PkHashes:              hashes,
				Log:                   log,
			})
			if err != nil {
				return err
			}
			path := viper.GetString(flagImage)
			if err := im.Save(path); err != nil {
				return err
			}
			log.WithField("path", path).Info("device image written")
			return nil
		},
	}
	cmd.Flags().String(flagImage, "device.yaml", "Device image to write")
	cmd.Flags().String(flagDoeKey, "", "Hex-encoded 32-byte obfuscation key")
	cmd.Flags().String(flagLifecycle, fuse.LifecycleProduction.String(), "Device lifecycle")
	cmd.Flags().String(flagKeyIDAlgo, fuse.KeyIDAlgoSha256.String(), "Subject key identifier algorithm")
	cmd.Flags().String(flagUEID, "", "Hex-encoded 17-byte UEID")
	cmd.Flags().String(flagTokenSeed, "", "Hex-encoded manufacturing token seed")
	cmd.Flags().String(flagTokenLabel, "manuf-token-seed", "Label of the token seed on the HSM")
	cmd.Flags().Uint32(flagPkHashOffset, 0x800, "MCI offset of the debug-auth key hash table")
	cmd.Flags().StringToString(flagAuth, nil, "Debug-auth keys as category=passphrase")
	addHSMFlags(cmd)
	_ = cmd.MarkFlagRequired(flagUEID)
	_ = cmd.MarkFlagRequired(flagDoeKey)
	return cmd
}
