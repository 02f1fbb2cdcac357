// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package datavault

import (
	"fmt"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
)

// MaxTbsSize is the capacity of one scratch region.
const MaxTbsSize = 1024

// TbsScratch holds each layer's certificate TBS so the next stage can
// assemble the certificate. Regions are fixed size.
type TbsScratch struct {
	buf  [2][MaxTbsSize]byte
	size [2]int
}

// Copy stores tbs in the layer's region.
func (s *TbsScratch) Copy(layer Layer, tbs []byte) error {
	if layer < LayerIDevID || layer > LayerLDevID {
		return fmt.Errorf("%v: %w", layer, errs.DataVaultFailure)
	}
	if len(tbs) > MaxTbsSize {
		return fmt.Errorf("%v: %d byte TBS: %w", layer, len(tbs), errs.TbsTooLarge)
	}
	clear(s.buf[layer][:])
	copy(s.buf[layer][:], tbs)
	s.size[layer] = len(tbs)
	return nil
}

// Tbs returns the layer's TBS, or nil if none was copied.
func (s *TbsScratch) Tbs(layer Layer) []byte {
	if layer < LayerIDevID || layer > LayerLDevID || s.size[layer] == 0 {
		return nil
	}
	return append([]byte(nil), s.buf[layer][:s.size[layer]]...)
}
