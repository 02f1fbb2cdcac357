// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// rotsim provisions an emulated device, cold-boots it and drives debug
// unlock requests against it.
package main

import (
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
)

func main() {
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, os.Interrupt)
		<-sigchan
		logrus.Error("interrupted")
		os.Exit(1)
	}()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
