// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package verify re-traverses a campaign's ledger and reports every hash
// mismatch it finds, rather than stopping at the first one. This is a
// deliberate divergence from a fail-fast chain validator: an operator
// debugging a corrupted campaign wants the full extent of the damage in one
// pass, not one ordinal at a time.
package verify

import (
	"ledgerd/internal/ledger"
	"ledgerd/pkg/metrics"
)

// Status is the overall outcome of a chain verification.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Mismatch describes a single event whose stored hash did not match what a
// recompute produced.
type Mismatch struct {
	ReplayOrdinal int64
	Kind          string // "prev_event_hash" or "payload_hash"
}

// Report is the outcome of VerifyChain.
type Report struct {
	Status                Status
	VerifiedCount         int
	ChainLength           int
	FirstMismatchOrdinal  *int64
	Mismatches            []Mismatch
}

// VerifyChain walks events (ordered by replay_ordinal ascending, starting at
// genesis) and recomputes both the envelope hash chain and each event's
// payload hash, reporting every mismatch found rather than stopping at the
// first one.
func VerifyChain(events []ledger.Event) Report {
	report := Report{Status: StatusSuccess, ChainLength: len(events)}
	if len(events) == 0 {
		return report
	}

	for i, e := range events {
		ok := true

		if i > 0 {
			expectedPrev := ledger.EnvelopeHash(events[i-1])
			if expectedPrev != e.PrevEventHash {
				recordMismatch(&report, e.ReplayOrdinal, "prev_event_hash")
				ok = false
			}
		}

		expectedPayloadHash, err := ledger.PayloadHash(e.Payload)
		if err != nil || expectedPayloadHash != e.PayloadHash {
			recordMismatch(&report, e.ReplayOrdinal, "payload_hash")
			ok = false
		}

		if ok {
			report.VerifiedCount++
		}
	}

	if len(report.Mismatches) > 0 {
		report.Status = StatusFailure
	}
	return report
}

func recordMismatch(report *Report, ordinal int64, kind string) {
	report.Mismatches = append(report.Mismatches, Mismatch{ReplayOrdinal: ordinal, Kind: kind})
	if report.FirstMismatchOrdinal == nil {
		o := ordinal
		report.FirstMismatchOrdinal = &o
	}
	metrics.IncCounter("events.hash_mismatch", 1)
}
