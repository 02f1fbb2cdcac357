// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package pk11 wraps the "github.com/miekg/pkcs11" library with the small
// surface needed to keep ROM key-vault slots and provisioning seeds on an
// HSM: generic secret objects, labels, HMAC and random generation.
package pk11

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/miekg/pkcs11"
)

// Error represents a wrapped pkcs11.Error
type Error struct {
	// The raw error code returned by the library.
	Raw pkcs11.Error
	ctx string
}

// newError wraps an error, keeping the PKCS#11 return value when there is one.
func newError(raw error, fmtStr string, args ...any) error {
	ctx := fmt.Sprintf(fmtStr, args...)
	if e11, ok := raw.(pkcs11.Error); ok {
		return Error{e11, ctx}
	}
	return fmt.Errorf("%s: %s", ctx, raw)
}

// Error converts this error into a user-displayable string.
func (e Error) Error() string {
	if e.ctx == "" {
		return e.Raw.Error()
	}
	return fmt.Sprintf("%s: %s", e.ctx, e.Raw)
}

// Mod wraps a loaded PKCS#11 module.
type Mod struct {
	ctx     *pkcs11.Ctx
	version pkcs11.Version
}

// Load loads the PKCS#11 module located at soPath.
func Load(soPath string) (*Mod, error) {
	ctx := pkcs11.New(soPath)
	if ctx == nil {
		return nil, fmt.Errorf("could not load module %q", soPath)
	}
	// Several vaults may share a module; a second Initialize is harmless.
	if err := ctx.Initialize(); err != nil {
		if e11, ok := err.(pkcs11.Error); !ok || e11 != pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED {
			return nil, newError(err, "could not initialize module %q", soPath)
		}
	}

	info, err := ctx.GetInfo()
	if err != nil {
		return nil, newError(err, "could not retrieve module information")
	}
	return &Mod{ctx, info.CryptokiVersion}, nil
}

// Raw returns the wrapped PKCS#11 context.
func (m *Mod) Raw() *pkcs11.Ctx {
	return m.ctx
}

// Tokens returns each token the module can currently see.
func (m *Mod) Tokens() ([]Token, error) {
	slots, err := m.Raw().GetSlotList( /*tokenPresent=*/ true)
	if err != nil {
		return nil, newError(err, "could not stat tokens")
	}

	var toks []Token
	for _, slot := range slots {
		toks = append(toks, Token{m, slot})
	}
	return toks, nil
}

var (
	idRand   = rand.New(rand.NewSource(time.Now().UnixNano()))
	idRandMu sync.Mutex
)

// appendAttrKeyID adds a CKA_ID attribute to each template. Some tokens do
// not assign one themselves, and objects are looked up by it later.
func (m *Mod) appendAttrKeyID(templates ...*[]*pkcs11.Attribute) {
	// The ID only has to be distinct, not unpredictable.
	idRandMu.Lock()
	id := idRand.Uint64()
	idRandMu.Unlock()

	idBytes := make([]byte, 8)
	for i := range idBytes {
		idBytes[i] = byte(id)
		id >>= 8
	}
	for _, t := range templates {
		*t = append(*t, pkcs11.NewAttribute(pkcs11.CKA_ID, idBytes))
	}
}

// Token represents an HSM token plugged into a slot.
type Token struct {
	m    *Mod
	slot uint
}

// OpenSession opens a read-write session on a token.
func (t Token) OpenSession() (*Session, error) {
	sess, err := t.m.Raw().OpenSession(t.slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return nil, newError(err, "could not open session on slot %d", t.slot)
	}
	return &Session{t, sess}, nil
}

// UserType is a type of user that can log into a token.
type UserType int

const (
	NormalUser UserType = iota
	SecurityOfficerUser
)

// String converts a user type to a pretty-printable name.
func (u UserType) String() string {
	switch u {
	case NormalUser:
		return "normal user"
	case SecurityOfficerUser:
		return "security officer"
	default:
		return "unknown"
	}
}

// Session represents an active session on an HSM token.
type Session struct {
	tok Token
	raw pkcs11.SessionHandle
}

// Login logs into the token this session is on.
func (s *Session) Login(user UserType, pin string) error {
	var userType uint
	switch user {
	case NormalUser:
		userType = pkcs11.CKU_USER
	case SecurityOfficerUser:
		userType = pkcs11.CKU_SO
	default:
		return fmt.Errorf("unknown user type: %d", user)
	}

	// Sessions opened in parallel share the same login.
	if err := s.tok.m.Raw().Login(s.raw, userType, pin); err != nil {
		if e11, ok := err.(pkcs11.Error); !ok || e11 != pkcs11.CKR_USER_ALREADY_LOGGED_IN {
			return newError(err, "could not log in as %q on slot %d", user, s.tok.slot)
		}
	}
	return nil
}

// Close closes the session. Objects created with Token=false disappear
// with it.
func (s *Session) Close() error {
	if err := s.tok.m.Raw().CloseSession(s.raw); err != nil {
		return newError(err, "could not close session on slot %d", s.tok.slot)
	}
	return nil
}
