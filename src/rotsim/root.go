// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag and configuration keys shared by several commands.
const (
	flagDebug  = "debug"
	flagConfig = "config"
	flagImage  = "image"
	flagDoeKey = "doe-key"

	flagHsmSO   = "hsm-so"
	flagHsmSlot = "hsm-slot"
	flagHsmPin  = "hsm-pin"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotsim",
		Short: "Simulate ROM identity derivation and debug unlock",
		// Flags are bound per command so commands sharing a flag name do not
		// overwrite each other's binding.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if path := viper.GetString(flagConfig); path != "" {
				viper.SetConfigFile(path)
				if err := viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read config %q: %v", path, err)
				}
			}
			if viper.GetBool(flagDebug) {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().Bool(flagDebug, false, "Enable debug output")
	cmd.PersistentFlags().String(flagConfig, "", "Configuration file providing flag values")
	cmd.CompletionOptions = cobra.CompletionOptions{
		DisableDefaultCmd: true,
	}

	viper.SetEnvPrefix("ROTSIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	cmd.AddCommand(newProvisionCmd(), newBootCmd(), newUnlockCmd())
	return cmd
}

// addHSMFlags adds the flags selecting a PKCS#11 token.
func addHSMFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagHsmSO, "", "PKCS#11 library; the key vault lives in memory when empty")
	cmd.Flags().Int(flagHsmSlot, 0, "PKCS#11 token slot")
	cmd.Flags().String(flagHsmPin, "", "PKCS#11 user PIN")
}
