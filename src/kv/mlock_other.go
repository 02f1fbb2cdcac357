// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package kv

import "errors"

func lockMemory([]byte) error {
	return errors.New("memory locking not supported")
}

func unlockMemory([]byte) error {
	return nil
}
