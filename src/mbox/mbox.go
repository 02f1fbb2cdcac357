// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package mbox implements the mailbox between the ROM and an external
// requester: the command wire formats, the checksum, the device-side
// transaction interface and an in-process Loopback transport.
package mbox

import (
	"encoding/binary"
	"fmt"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
)

// MaxResponseSize bounds a single response.
const MaxResponseSize = 16 * 1024

// Mailbox is the device side of the mailbox.
type Mailbox interface {
	// PeekRecv returns the pending command, if the requester has posted
	// one and no transaction is in flight.
	PeekRecv() (Pending, bool)
}

// Pending is a posted command not yet accepted by the device.
type Pending interface {
	Cmd() CommandID
	// Start takes exclusive ownership of the mailbox buffer.
	Start() Txn
}

// Txn is an accepted command. The requester is blocked until Release.
type Txn interface {
	// ReadRequest copies the request into out. The request must be exactly
	// len(out) bytes and carry a valid checksum.
	ReadRequest(out []byte) error
	SendResponse(resp []byte) error
	// Release ends the transaction. A transaction released without a
	// response reports failure to the requester.
	Release()
}

// ReadRequest reads and decodes a fixed-size wire struct from txn.
func ReadRequest(txn Txn, req any) error {
	buf := make([]byte, binary.Size(req))
	if err := txn.ReadRequest(buf); err != nil {
		return err
	}
	if err := Unmarshal(buf, req); err != nil {
		return fmt.Errorf("%v: %w", err, errs.MboxInvalidRequestLength)
	}
	return nil
}

// SendResponse encodes, seals and sends a wire struct whose first field is a
// RespHeader.
func SendResponse(txn Txn, resp any) error {
	return txn.SendResponse(Seal(CmdNone, Marshal(resp)))
}
