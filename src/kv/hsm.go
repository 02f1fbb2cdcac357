// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/pk11"
)

// sessionQueue implements a thread-safe HSM session queue. See `insert` and
// `getHandle` functions for more details.
type sessionQueue struct {
	// numSessions is the number of sessions managed by the queue.
	numSessions int

	// s is an HSM session channel.
	s chan *pk11.Session
}

// newSessionQueue creates a session queue with a channel of depth `num`.
func newSessionQueue(num int) *sessionQueue {
	return &sessionQueue{
		numSessions: num,
		s:           make(chan *pk11.Session, num),
	}
}

// insert adds a new session `s` to the session queue.
func (q *sessionQueue) insert(s *pk11.Session) error {
	if len(q.s) >= q.numSessions {
		return errors.New("reached maximum session queue capacity")
	}
	q.s <- s
	return nil
}

// getHandle returns a session from the queue and a release function to
// get the session back into the queue. Recommended use:
//
//	session, release := q.getHandle()
//	defer release()
func (q *sessionQueue) getHandle() (*pk11.Session, func()) {
	s := <-q.s
	release := func() {
		q.insert(s)
	}
	return s, release
}

// HSMConfig contains parameters used to configure a new HSM vault with the
// `NewHSM` function.
type HSMConfig struct {
	// SOPath is the path to the PKCS#11 library used to connect to the HSM.
	SOPath string

	// SlotID is the HSM slot ID.
	SlotID int

	// HSMPassword is the Crypto User HSM password.
	HSMPassword string

	// NumSessions configures the number of sessions to open in `SlotID`.
	NumSessions int

	// Persist stores slots as token objects instead of session objects.
	Persist bool
}

// HSM is a Vault whose slots are generic secret objects on a PKCS#11 token,
// labelled `kv-slot-NN`. Slot usage is tracked on the host.
type HSM struct {
	sessions *sessionQueue
	persist  bool

	mu    sync.Mutex
	usage map[KeyID]Usage
}

// openSessions opens `numSessions` sessions on the HSM `tokSlot` slot number.
// Logs in as crypto user with `hsmPW` password. Connects via PKCS#11 shared
// library in `soPath`.
func openSessions(soPath, hsmPW string, tokSlot, numSessions int) (*sessionQueue, error) {
	mod, err := pk11.Load(soPath)
	if err != nil {
		return nil, fmt.Errorf("fail to load pk11: %v", err)
	}
	toks, err := mod.Tokens()
	if err != nil {
		return nil, fmt.Errorf("failed to open tokens: %v", err)
	}
	if tokSlot >= len(toks) {
		return nil, fmt.Errorf("fail to find slot number %d", tokSlot)
	}

	sessions := newSessionQueue(numSessions)
	for i := 0; i < numSessions; i++ {
		s, err := toks[tokSlot].OpenSession()
		if err != nil {
			return nil, fmt.Errorf("fail to open session to HSM: %v", err)
		}
		if err := s.Login(pk11.NormalUser, hsmPW); err != nil {
			return nil, fmt.Errorf("fail to login into the HSM: %v", err)
		}
		if err := sessions.insert(s); err != nil {
			return nil, fmt.Errorf("failed to enqueue session: %v", err)
		}
	}
	return sessions, nil
}

// NewHSM opens sessions on the configured token and returns a vault backed
// by it.
func NewHSM(cfg HSMConfig) (*HSM, error) {
	if cfg.NumSessions <= 0 {
		cfg.NumSessions = 1
	}
	sq, err := openSessions(cfg.SOPath, cfg.HSMPassword, cfg.SlotID, cfg.NumSessions)
	if err != nil {
		return nil, fmt.Errorf("fail to get session: %v", err)
	}
	return &HSM{sessions: sq, persist: cfg.Persist, usage: make(map[KeyID]Usage)}, nil
}

// NewHSMFromSession wraps an already logged-in session.
func NewHSMFromSession(s *pk11.Session) *HSM {
	sq := newSessionQueue(1)
	sq.insert(s)
	return &HSM{sessions: sq, usage: make(map[KeyID]Usage)}
}

func slotLabel(id KeyID) string {
	return fmt.Sprintf("kv-slot-%02d", id)
}

// destroySlot removes every object labelled for slot id.
func destroySlot(s *pk11.Session, id KeyID) error {
	keys, err := s.FindSecretKeysByLabel(slotLabel(id))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := k.Destroy(); err != nil {
			return err
		}
	}
	return nil
}

// Write implements Vault.
func (h *HSM) Write(id KeyID, key []byte, usage Usage) error {
	if err := checkSlot(id); err != nil {
		return err
	}
	if err := checkKey(id, key); err != nil {
		return err
	}
	session, release := h.sessions.getHandle()
	defer release()

	if err := destroySlot(session, id); err != nil {
		return fmt.Errorf("slot %d: %v: %w", id, err, errs.KeyVaultWriteFailed)
	}
	obj, err := session.ImportGenericSecret(key, &pk11.KeyOptions{Extractable: true, Token: h.persist})
	if err != nil {
		return fmt.Errorf("slot %d: %v: %w", id, err, errs.KeyVaultWriteFailed)
	}
	if err := obj.SetLabel(slotLabel(id)); err != nil {
		obj.Destroy()
		return fmt.Errorf("slot %d: %v: %w", id, err, errs.KeyVaultWriteFailed)
	}

	h.mu.Lock()
	h.usage[id] = usage
	h.mu.Unlock()
	return nil
}

// ReadInput implements Vault.
func (h *HSM) ReadInput(id KeyID, usage Usage) (Input, error) {
	if err := checkSlot(id); err != nil {
		return Input{}, err
	}
	h.mu.Lock()
	u, ok := h.usage[id]
	h.mu.Unlock()
	if !ok {
		return Input{}, fmt.Errorf("slot %d: %w", id, errs.KeyVaultEmptySlot)
	}
	if !u.Allows(usage) {
		return Input{}, fmt.Errorf("slot %d usage %#x, want %#x: %w", id, u, usage, errs.KeyVaultUsageNotPermitted)
	}
	return NewInput(id, func() ([]byte, error) {
		session, release := h.sessions.getHandle()
		defer release()
		keys, err := session.FindSecretKeysByLabel(slotLabel(id))
		if err != nil {
			return nil, fmt.Errorf("slot %d: %v: %w", id, err, errs.KeyVaultEmptySlot)
		}
		if len(keys) != 1 {
			return nil, fmt.Errorf("slot %d: found %d objects: %w", id, len(keys), errs.KeyVaultEmptySlot)
		}
		return keys[0].Value()
	}), nil
}

// Erase implements Vault.
func (h *HSM) Erase(id KeyID) error {
	if err := checkSlot(id); err != nil {
		return err
	}
	session, release := h.sessions.getHandle()
	defer release()
	if err := destroySlot(session, id); err != nil {
		return fmt.Errorf("slot %d: %v: %w", id, err, errs.KeyVaultEraseFailed)
	}
	h.mu.Lock()
	delete(h.usage, id)
	h.mu.Unlock()
	return nil
}
