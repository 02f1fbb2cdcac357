// Copyright lowRISC contributors (OpenTitan project).
// Licensed under the Apache License, Version 2.0, see LICENSE for details.
// SPDX-License-Identifier: Apache-2.0

// Package bootstatus defines the boot progress codes reported by the ROM and
// the sinks that receive them.
package bootstatus

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Status is a boot progress code.
type Status uint32

const (
	IDevIDCdiDerivationComplete Status = 0x100 + iota
	IDevIDKeyPairDerivationComplete
	IDevIDSubjIDSnGenerationComplete
	IDevIDSubjKeyIDGenerationComplete
	IDevIDCertSigGenerationComplete
	IDevIDDerivationComplete
)

const (
	LDevIDCdiDerivationComplete Status = 0x200 + iota
	LDevIDKeyPairDerivationComplete
	LDevIDSubjIDSnGenerationComplete
	LDevIDSubjKeyIDGenerationComplete
	LDevIDCertSigGenerationComplete
	LDevIDDerivationComplete
)

const (
	DebugUnlockStarted Status = 0x300 + iota
	DebugUnlockSuccess
	DebugUnlockFailure
)

const (
	ColdResetStarted Status = 0x400 + iota
	DoeComplete
	ColdResetComplete
)

var names = map[Status]string{
	IDevIDCdiDerivationComplete:       "IDEVID_CDI_DERIVATION_COMPLETE",
	IDevIDKeyPairDerivationComplete:   "IDEVID_KEY_PAIR_DERIVATION_COMPLETE",
	IDevIDSubjIDSnGenerationComplete:  "IDEVID_SUBJ_ID_SN_GENERATION_COMPLETE",
	IDevIDSubjKeyIDGenerationComplete: "IDEVID_SUBJ_KEY_ID_GENERATION_COMPLETE",
	IDevIDCertSigGenerationComplete:   "IDEVID_CERT_SIG_GENERATION_COMPLETE",
	IDevIDDerivationComplete:          "IDEVID_DERIVATION_COMPLETE",
	LDevIDCdiDerivationComplete:       "LDEVID_CDI_DERIVATION_COMPLETE",
	LDevIDKeyPairDerivationComplete:   "LDEVID_KEY_PAIR_DERIVATION_COMPLETE",
	LDevIDSubjIDSnGenerationComplete:  "LDEVID_SUBJ_ID_SN_GENERATION_COMPLETE",
	LDevIDSubjKeyIDGenerationComplete: "LDEVID_SUBJ_KEY_ID_GENERATION_COMPLETE",
	LDevIDCertSigGenerationComplete:   "LDEVID_CERT_SIG_GENERATION_COMPLETE",
	LDevIDDerivationComplete:          "LDEVID_DERIVATION_COMPLETE",
	DebugUnlockStarted:                "DEBUG_UNLOCK_STARTED",
	DebugUnlockSuccess:                "DEBUG_UNLOCK_SUCCESS",
	DebugUnlockFailure:                "DEBUG_UNLOCK_FAILURE",
	ColdResetStarted:                  "COLD_RESET_STARTED",
	DoeComplete:                       "DOE_COMPLETE",
	ColdResetComplete:                 "COLD_RESET_COMPLETE",
}

// String returns the symbolic name of the status.
func (s Status) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%#x)", uint32(s))
}

// Sink receives boot status codes. Reporting never fails.
type Sink interface {
	Report(s Status)
}

// Recorder keeps every reported status.
type Recorder struct {
	mu       sync.Mutex
	statuses []Status
}

// Report implements Sink.
func (r *Recorder) Report(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

// Statuses returns the statuses reported so far, oldest first.
func (r *Recorder) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

// Last returns the most recent status, or 0 if none was reported.
func (r *Recorder) Last() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return 0
	}
	return r.statuses[len(r.statuses)-1]
}

// LogSink forwards statuses to a logger at debug level.
type LogSink struct {
	Log *logrus.Entry
}

// Report implements Sink.
func (l LogSink) Report(s Status) {
	l.Log.WithField("boot_status", fmt.Sprintf("%#x", uint32(s))).Debug(s.String())
}

// Tee reports to every sink in order.
type Tee []Sink

// Report implements Sink.
func (t Tee) Report(s Status) {
	for _, sink := range t {
		sink.Report(s)
	}
}
