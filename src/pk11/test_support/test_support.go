// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package test_support opens SoftHSM sessions for tests.
//
// Tests using it are skipped unless SOFTHSM2_MODULE points at the SoftHSM
// shared library and the first token has been initialised with UserPin.
package test_support

import (
	"os"
	"testing"

	"github.com/lowRISC/opentitan-rom-identity/src/pk11"
)

// UserPin is the normal-user PIN of the test token.
var UserPin = pinFromEnv()

func pinFromEnv() string {
	if p := os.Getenv("SOFTHSM2_USER_PIN"); p != "" {
		return p
	}
	return "cryptouser"
}

// Check fails the test if err is non-nil.
func Check(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// GetSession opens a session on the first SoftHSM token. The session is
// closed when the test finishes.
func GetSession(t *testing.T) *pk11.Session {
	t.Helper()
	so := os.Getenv("SOFTHSM2_MODULE")
	if so == "" {
		t.Skip("SOFTHSM2_MODULE not set")
	}

	mod, err := pk11.Load(so)
	Check(t, err)
	toks, err := mod.Tokens()
	Check(t, err)
	if len(toks) == 0 {
		t.Skip("no initialised SoftHSM token")
	}
	s, err := toks[0].OpenSession()
	Check(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
