// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lowRISC/opentitan-rom-identity/src/handoff"
	"github.com/lowRISC/opentitan-rom-identity/src/rom"
)

const (
	flagHandoff = "handoff"
	flagCerts   = "certs"
)

// writeOutputs stores the handoff blob and, if requested, the layer
// certificates as PEM.
func writeOutputs(res *rom.Result, log *logrus.Entry) error {
	if path := viper.GetString(flagHandoff); path != "" {
		if err := os.WriteFile(path, res.Handoff, 0o644); err != nil {
			return err
		}
		log.WithField("path", path).Info("handoff blob written")
	}

	path := viper.GetString(flagCerts)
	if path == "" {
		return nil
	}
	blob, err := handoff.Unpack(res.Handoff)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, l := range blob.Layers {
		der, err := l.Certificate()
		if err != nil {
			return err
		}
		if err := pem.Encode(f, &pem.Block{
			Type:    "CERTIFICATE",
			Headers: map[string]string{"Layer": l.Layer.String()},
			Bytes:   der,
		}); err != nil {
			return err
		}
	}
	log.WithField("path", path).Info("certificates written")
	return f.Close()
}

func newBootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Cold-boot a provisioned device and derive its identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.WithField("command", "boot")
			d, err := openDevice(log)
			if err != nil {
				return err
			}
			defer d.Close()
			// No requester is attached.
			d.mb.Close()

			res, err := rom.ColdReset(d.env)
			if err != nil {
				return fmt.Errorf("cold reset failed: %w", err)
			}
			log.WithFields(logrus.Fields{
				"idevid_sn":  string(res.IDevID.EccSubjSN[:]),
				"ldevid_sn":  string(res.LDevID.EccSubjSN[:]),
				"ldevid_ski": hex.EncodeToString(res.LDevID.EccSubjKeyID[:]),
			}).Info("identity derived")
			return writeOutputs(res, log)
		},
	}
	addDeviceFlags(cmd)
	cmd.Flags().String(flagHandoff, "", "File receiving the handoff blob")
	cmd.Flags().String(flagCerts, "", "File receiving the layer certificates as PEM")
	return cmd
}
