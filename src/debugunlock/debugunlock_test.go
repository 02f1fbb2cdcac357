// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

package debugunlock_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/sync/errgroup"

	"github.com/lowRISC/opentitan-rom-identity/src/bootstatus"
	"github.com/lowRISC/opentitan-rom-identity/src/datavault"
	"github.com/lowRISC/opentitan-rom-identity/src/debugunlock"
	"github.com/lowRISC/opentitan-rom-identity/src/debugunlock/requester"
	"github.com/lowRISC/opentitan-rom-identity/src/env"
	"github.com/lowRISC/opentitan-rom-identity/src/errs"
	"github.com/lowRISC/opentitan-rom-identity/src/fuse"
	"github.com/lowRISC/opentitan-rom-identity/src/kv"
	"github.com/lowRISC/opentitan-rom-identity/src/mbox"
	ts "github.com/lowRISC/opentitan-rom-identity/src/pk11/test_support"
	"github.com/lowRISC/opentitan-rom-identity/src/soc"
)

var manufToken = [fuse.ManufTokenLen]byte{
	0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77,
	0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff,
}

const pkHashOffset = 0x400

type rig struct {
	env    *env.Env
	soc    *soc.Emulator
	mb     *mbox.Loopback
	status *bootstatus.Recorder
	hook   *test.Hook
	keys   *requester.Keys
}

func testKeys(t *testing.T, b byte) *requester.Keys {
	t.Helper()
	var seed [32]byte
	seed[0] = b
	keys, err := requester.NewKeys(bytes.Repeat([]byte{b}, 48), seed)
	ts.Check(t, err)
	return keys
}

func newRig(t *testing.T, lc fuse.Lifecycle) *rig {
	t.Helper()
	bank := &fuse.Bank{
		Lifecycle:             lc,
		KeyIDAlgo:             fuse.KeyIDAlgoSha256,
		ManufDbgUnlockToken:   manufToken,
		DebugAuthPkHashOffset: pkHashOffset,
	}
	copy(bank.UEID[:], []byte{0x01, 0xca, 0xfe})
	emu := soc.NewEmulator(bank, soc.DefaultConfig)
	emu.RequestDebugUnlock(true)

	keys := testKeys(t, 0x42)
	h := keys.Hash()
	for _, cat := range []uint32{0, 3, debugunlock.MaxCategory} {
		ts.Check(t, emu.WriteMci(bank.DebugAuthPkHashAddr(cat), h[:]))
	}

	v := kv.NewMemory()
	t.Cleanup(func() { v.Close() })
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	status := &bootstatus.Recorder{}
	mb := mbox.NewLoopback()
	e := env.NewEmulated(env.Emulated{
		Vault:     v,
		SoC:       emu,
		Mbox:      mb,
		DataVault: datavault.NewMemory(),
		Status:    status,
		Log:       logrus.NewEntry(logger),
	})
	return &rig{env: e, soc: emu, mb: mb, status: status, hook: hook, keys: keys}
}

type outcome struct {
	state   debugunlock.State
	err     error
	hostErr error
}

// run pairs the device flow with a requester. The mailbox is closed when the
// device finishes so a requester waiting on it returns.
func (r *rig) run(host func(requester.Transport) error) outcome {
	var o outcome
	var g errgroup.Group
	g.Go(func() error {
		defer r.mb.Close()
		o.state, o.err = debugunlock.Run(r.env)
		return nil
	})
	g.Go(func() error {
		o.hostErr = host(r.mb)
		return nil
	})
	g.Wait()
	return o
}

var (
	granted = soc.Status{Finished: true, Success: true, Latch: true, InProgressWrites: []bool{true, false}}
	denied  = soc.Status{Finished: true, InProgressWrites: []bool{true, false}}
)

func (r *rig) checkSoc(t *testing.T, want soc.Status) {
	t.Helper()
	if diff := cmp.Diff(want, r.soc.Status()); diff != "" {
		t.Errorf("SoC status mismatch (-want +got):\n%s", diff)
	}
}

func (r *rig) checkStatuses(t *testing.T, want ...bootstatus.Status) {
	t.Helper()
	if diff := cmp.Diff(want, r.status.Statuses()); diff != "" {
		t.Errorf("boot statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestNotRequested(t *testing.T) {
	r := newRig(t, fuse.LifecycleProduction)
	r.soc.RequestDebugUnlock(false)
	state, err := debugunlock.Run(r.env)
	if state != debugunlock.StateIdle || err != nil {
		t.Errorf("Run() = %v, %v, want idle", state, err)
	}
	r.checkSoc(t, soc.Status{})
}

func TestLifecycleNotApplicable(t *testing.T) {
	r := newRig(t, fuse.LifecycleUnprovisioned)
	state, err := debugunlock.Run(r.env)
	if state != debugunlock.StateIdle || err != nil {
		t.Errorf("Run() = %v, %v, want idle", state, err)
	}
	r.checkSoc(t, soc.Status{})
	r.checkStatuses(t)
}

func TestManufacturingUnlock(t *testing.T) {
	r := newRig(t, fuse.LifecycleManufacturing)
	o := r.run(func(tr requester.Transport) error {
		return requester.Manufacturing(tr, manufToken)
	})
	if o.err != nil || o.hostErr != nil {
		t.Fatalf("Run() = %v, host = %v", o.err, o.hostErr)
	}
	if o.state != debugunlock.StateUnlocked {
		t.Errorf("state = %v, want %v", o.state, debugunlock.StateUnlocked)
	}
	r.checkSoc(t, granted)
	r.checkStatuses(t, bootstatus.DebugUnlockStarted, bootstatus.DebugUnlockSuccess)
}

func TestManufacturingTokenMismatch(t *testing.T) {
	var paths [][]string
	for i := range manufToken {
		r := newRig(t, fuse.LifecycleManufacturing)
		token := manufToken
		token[i] ^= 0x01
		o := r.run(func(tr requester.Transport) error {
			return requester.Manufacturing(tr, token)
		})
		if o.state != debugunlock.StateDenied || !errors.Is(o.err, errs.DbgUnlockManufInvalidToken) {
			t.Errorf("byte %d: Run() = %v, %v, want denied with %v", i, o.state, o.err, errs.DbgUnlockManufInvalidToken)
		}
		if !errors.Is(o.hostErr, mbox.ErrCommandFailed) {
			t.Errorf("byte %d: host = %v, want %v", i, o.hostErr, mbox.ErrCommandFailed)
		}
		r.checkSoc(t, denied)
		r.checkStatuses(t, bootstatus.DebugUnlockStarted, bootstatus.DebugUnlockFailure)

		var path []string
		for _, e := range r.hook.AllEntries() {
			path = append(path, e.Message)
		}
		paths = append(paths, path)
	}
	for i, p := range paths[1:] {
		if diff := cmp.Diff(paths[0], p); diff != "" {
			t.Errorf("byte %d took a different path than byte 0:\n%s", i+1, diff)
		}
	}
}

func TestManufacturingMalformed(t *testing.T) {
	badChecksum := mbox.Seal(mbox.CmdManufDebugUnlockReqToken, mbox.Marshal(&mbox.ManufDebugUnlockTokenReq{Token: manufToken}))
	badChecksum[0] ^= 0xff

	tests := []struct {
		name string
		cmd  mbox.CommandID
		req  []byte
		want errs.Code
	}{
		{
			name: "wrong_command",
			cmd:  mbox.CmdProdAuthDebugUnlockReq,
			req:  mbox.Seal(mbox.CmdProdAuthDebugUnlockReq, make([]byte, mbox.ProdDebugUnlockReqSize)),
			want: errs.DbgUnlockManufInvalidMboxCmd,
		},
		{
			name: "bad_checksum",
			cmd:  mbox.CmdManufDebugUnlockReqToken,
			req:  badChecksum,
			want: errs.MboxInvalidChecksum,
		},
		{
			name: "short",
			cmd:  mbox.CmdManufDebugUnlockReqToken,
			req:  mbox.Seal(mbox.CmdManufDebugUnlockReqToken, make([]byte, 12)),
			want: errs.MboxInvalidRequestLength,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, fuse.LifecycleManufacturing)
			o := r.run(func(tr requester.Transport) error {
				_, err := tr.Execute(tt.cmd, tt.req)
				return err
			})
			if !errors.Is(o.err, tt.want) {
				t.Errorf("Run() = %v, want %v", o.err, tt.want)
			}
			if code, _ := errs.CodeOf(o.err); code.Class() != errs.ClassMalformed {
				t.Errorf("error class = %v, want %v", code.Class(), errs.ClassMalformed)
			}
			if !errors.Is(o.hostErr, mbox.ErrCommandFailed) {
				t.Errorf("host = %v, want %v", o.hostErr, mbox.ErrCommandFailed)
			}
			r.checkSoc(t, soc.Status{})
		})
	}
}

func TestProductionUnlock(t *testing.T) {
	for _, cat := range []uint32{0, debugunlock.MaxCategory} {
		r := newRig(t, fuse.LifecycleProduction)
		p := &requester.Production{Keys: r.keys, VendorID: 0x1234, ObjectDataType: 7}
		var ch *mbox.ProdDebugUnlockChallenge
		o := r.run(func(tr requester.Transport) error {
			var err error
			if ch, err = p.Request(tr, cat); err != nil {
				return err
			}
			tok, err := p.Token(ch, cat)
			if err != nil {
				return err
			}
			return requester.Submit(tr, tok)
		})
		if o.err != nil || o.hostErr != nil {
			t.Fatalf("category %d: Run() = %v, host = %v", cat, o.err, o.hostErr)
		}
		if o.state != debugunlock.StateUnlocked {
			t.Errorf("category %d: state = %v", cat, o.state)
		}
		r.checkSoc(t, granted)

		want := &mbox.ProdDebugUnlockChallenge{
			VendorID:       0x1234,
			ObjectDataType: 7,
			Length:         mbox.PutU24(22),
		}
		copy(want.UniqueDeviceIdentifier[:], []byte{0x01, 0xca, 0xfe})
		want.Challenge = ch.Challenge
		want.Hdr = ch.Hdr
		if diff := cmp.Diff(want, ch); diff != "" {
			t.Errorf("challenge mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestProductionRejectsRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*mbox.ProdDebugUnlockReq)
	}{
		{"category_0x10", func(r *mbox.ProdDebugUnlockReq) { r.UnlockCategory = mbox.PutU24(0x10) }},
		{"reserved_bits", func(r *mbox.ProdDebugUnlockReq) { r.UnlockCategory = [3]byte{0x80, 0, 1} }},
		{"length", func(r *mbox.ProdDebugUnlockReq) { r.Length = mbox.PutU24(4) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, fuse.LifecycleProduction)
			req := &mbox.ProdDebugUnlockReq{Length: mbox.WordCount(mbox.ProdDebugUnlockReqSize, mbox.ReqHeaderSize)}
			tt.mutate(req)
			o := r.run(func(tr requester.Transport) error {
				_, err := tr.Execute(mbox.CmdProdAuthDebugUnlockReq, mbox.Seal(mbox.CmdProdAuthDebugUnlockReq, mbox.Marshal(req)))
				return err
			})
			if !errors.Is(o.err, errs.DbgUnlockProdInvalidReq) {
				t.Errorf("Run() = %v, want %v", o.err, errs.DbgUnlockProdInvalidReq)
			}
			if o.state != debugunlock.StateRequestReceived {
				t.Errorf("state = %v, want %v", o.state, debugunlock.StateRequestReceived)
			}
			if !errors.Is(o.hostErr, mbox.ErrCommandFailed) {
				t.Errorf("host = %v, want no challenge", o.hostErr)
			}
			r.checkSoc(t, soc.Status{})
			r.checkStatuses(t, bootstatus.DebugUnlockStarted)
		})
	}
}

func TestProductionDenied(t *testing.T) {
	other := testKeys(t, 0x43)
	tests := []struct {
		name   string
		cat    uint32
		mutate func(r *rig, tok *mbox.ProdDebugUnlockToken)
		want   errs.Code
	}{
		{
			name:   "ecc_signature_bit",
			cat:    debugunlock.MaxCategory,
			mutate: func(_ *rig, tok *mbox.ProdDebugUnlockToken) { tok.EccSignature[95] ^= 0x01 },
			want:   errs.DbgUnlockProdInvalidToken,
		},
		{
			name:   "mldsa_signature",
			mutate: func(_ *rig, tok *mbox.ProdDebugUnlockToken) { tok.MldsaSignature[100] ^= 0x80 },
			want:   errs.DbgUnlockProdInvalidToken,
		},
		{
			name:   "mldsa_padding",
			mutate: func(_ *rig, tok *mbox.ProdDebugUnlockToken) { tok.MldsaSignature[len(tok.MldsaSignature)-1] = 1 },
			want:   errs.DbgUnlockProdInvalidToken,
		},
		{
			name:   "category_echo",
			mutate: func(_ *rig, tok *mbox.ProdDebugUnlockToken) { tok.UnlockCategory = mbox.PutU24(3) },
			want:   errs.DbgUnlockProdInvalidToken,
		},
		{
			name:   "challenge_echo",
			mutate: func(_ *rig, tok *mbox.ProdDebugUnlockToken) { tok.Challenge[0] ^= 0x01 },
			want:   errs.DbgUnlockProdInvalidToken,
		},
		{
			name:   "device_id_echo",
			mutate: func(_ *rig, tok *mbox.ProdDebugUnlockToken) { tok.UniqueDeviceIdentifier[20] = 1 },
			want:   errs.DbgUnlockProdInvalidToken,
		},
		{
			name:   "length",
			mutate: func(_ *rig, tok *mbox.ProdDebugUnlockToken) { tok.Length = mbox.PutU24(1874) },
			want:   errs.DbgUnlockProdInvalidToken,
		},
		{
			name: "unprovisioned_keys",
			cat:  1,
			want: errs.DbgUnlockProdInvalidToken,
		},
		{
			name: "foreign_keys",
			mutate: func(_ *rig, tok *mbox.ProdDebugUnlockToken) {
				copy(tok.EccPublicKey[:], other.EccPublicKey().Bytes())
				tok.MldsaPublicKey = other.MldsaPublicKey()
			},
			want: errs.DbgUnlockProdInvalidToken,
		},
		{
			name: "dma_failure",
			mutate: func(r *rig, _ *mbox.ProdDebugUnlockToken) {
				r.env.Fuses().DebugAuthPkHashOffset = uint32(soc.DefaultConfig.MciSize)
			},
			want: errs.DbgUnlockDmaFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, fuse.LifecycleProduction)
			p := &requester.Production{Keys: r.keys}
			o := r.run(func(tr requester.Transport) error {
				ch, err := p.Request(tr, tt.cat)
				if err != nil {
					return err
				}
				tok, err := p.Token(ch, tt.cat)
				if err != nil {
					return err
				}
				if tt.mutate != nil {
					tt.mutate(r, tok)
				}
				return requester.Submit(tr, tok)
			})
			if o.state != debugunlock.StateDenied || !errors.Is(o.err, tt.want) {
				t.Errorf("Run() = %v, %v, want denied with %v", o.state, o.err, tt.want)
			}
			if !errors.Is(o.hostErr, mbox.ErrCommandFailed) {
				t.Errorf("host = %v, want %v", o.hostErr, mbox.ErrCommandFailed)
			}
			r.checkSoc(t, denied)
			r.checkStatuses(t, bootstatus.DebugUnlockStarted, bootstatus.DebugUnlockFailure)
		})
	}
}

func TestProductionWrongTokenCommand(t *testing.T) {
	r := newRig(t, fuse.LifecycleProduction)
	p := &requester.Production{Keys: r.keys}
	o := r.run(func(tr requester.Transport) error {
		if _, err := p.Request(tr, 0); err != nil {
			return err
		}
		return requester.Manufacturing(tr, manufToken)
	})
	if !errors.Is(o.err, errs.DbgUnlockProdInvalidTokenMboxCmd) || o.state != debugunlock.StateDenied {
		t.Errorf("Run() = %v, %v, want denied with %v", o.state, o.err, errs.DbgUnlockProdInvalidTokenMboxCmd)
	}
	// The challenge was issued, so the request is denied although the
	// in-progress bit was never raised.
	r.checkSoc(t, soc.Status{Finished: true, InProgressWrites: []bool{false}})
}

func TestProductionChallengeReplay(t *testing.T) {
	r := newRig(t, fuse.LifecycleProduction)
	p := &requester.Production{Keys: r.keys}

	// First exchange succeeds; its token is kept.
	var first *mbox.ProdDebugUnlockToken
	o := r.run(func(tr requester.Transport) error {
		ch, err := p.Request(tr, 0)
		if err != nil {
			return err
		}
		if first, err = p.Token(ch, 0); err != nil {
			return err
		}
		return requester.Submit(tr, first)
	})
	if o.err != nil || o.hostErr != nil {
		t.Fatalf("first exchange: Run() = %v, host = %v", o.err, o.hostErr)
	}

	// The second exchange gets a fresh challenge and rejects the old token.
	r.mb = mbox.NewLoopback()
	r.env.Mbox = r.mb
	var second *mbox.ProdDebugUnlockChallenge
	o = r.run(func(tr requester.Transport) error {
		var err error
		if second, err = p.Request(tr, 0); err != nil {
			return err
		}
		return requester.Submit(tr, first)
	})
	if second == nil {
		t.Fatalf("second exchange: no challenge, host = %v", o.hostErr)
	}
	if second.Challenge == first.Challenge {
		t.Error("challenge reused across exchanges")
	}
	if o.state != debugunlock.StateDenied || !errors.Is(o.err, errs.DbgUnlockProdInvalidToken) {
		t.Errorf("second exchange: Run() = %v, %v, want denied with %v", o.state, o.err, errs.DbgUnlockProdInvalidToken)
	}
	if r.soc.Status().Latch {
		t.Error("latch set after replayed token")
	}
}
