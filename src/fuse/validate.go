// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"fmt"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
)

// ValidateLifecycle checks a life cycle value for validity.
func ValidateLifecycle(lc Lifecycle) error {
	switch lc {
	case
		LifecycleUnprovisioned,
		LifecycleManufacturing,
		LifecycleProduction:
		return nil
	default:
		return fmt.Errorf("invalid lifecycle: %v: %w", lc, errs.FuseInvalidConfig)
	}
}

// ValidateKeyIDAlgo checks a key identifier algorithm selector for validity.
func ValidateKeyIDAlgo(a KeyIDAlgo) error {
	if _, ok := keyIDAlgoNames[a]; !ok {
		return fmt.Errorf("invalid key id algorithm: %v: %w", a, errs.FuseInvalidConfig)
	}
	return nil
}

// Validate performs invariant checks the fixed-size fields cannot capture.
func Validate(b *Bank) error {
	if err := ValidateLifecycle(b.Lifecycle); err != nil {
		return err
	}
	if err := ValidateKeyIDAlgo(b.KeyIDAlgo); err != nil {
		return err
	}
	if b.DebugAuthPkHashOffset%4 != 0 {
		return fmt.Errorf("debug auth pk hash offset %#x not word aligned: %w", b.DebugAuthPkHashOffset, errs.FuseInvalidConfig)
	}
	if b.Lifecycle != LifecycleUnprovisioned && (len(b.ObfUDS) == 0 || len(b.ObfFE) == 0) {
		return fmt.Errorf("%v device without sealed UDS/FE: %w", b.Lifecycle, errs.FuseInvalidConfig)
	}
	return nil
}
