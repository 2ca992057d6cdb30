// Copyright 2026 barsweep project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package sweep isolates the exact MMIO offsets that crash device
// firmware. It runs three phases over the target region:
//
//	Coarse: divide the region into chunks and classify each as clean/crashed.
//	Bisect: recursively split crashed ranges until single units remain.
//	Verify: re-test each candidate offset in isolation to drop false positives.
//
// Between crashes the controller invokes the recovery actuator and
// aborts after a configured number of consecutive recovery failures.
// The sweep state is persisted after every unit of work so a run across
// real firmware crashes can be resumed exactly where it stopped.
package sweep

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/barsweep/pkg/debugtracer"
	"github.com/google/barsweep/pkg/stat"
)

// Oracle performs one destructive test over a sub-range and reports
// whether a fault surfaced within the settling window. An operational
// error means the verdict is unknown; the controller classifies such
// ranges as crashed, since a failed test cannot be assumed clean.
type Oracle interface {
	Test(r Range) (crashed bool, err error)
}

// Recoverer attempts to restore a healthy device baseline after a crash.
type Recoverer interface {
	Recover() bool
}

// ErrRecoveryBudget is returned when the consecutive recovery failure
// limit is reached. The run halts with the state already persisted;
// external intervention is required before the sweep can continue.
var ErrRecoveryBudget = errors.New("consecutive recovery failure limit reached")

type Config struct {
	// Bounds and granularity of a fresh sweep. Ignored on resume: the
	// checkpoint carries its own bounds.
	Start     uint64
	End       uint64
	ChunkSize uint64
	Unit      uint64

	// Abort after this many consecutive recovery failures.
	MaxRetries int
	// Accept all candidates as verified without re-testing.
	SkipVerify bool

	// StateFile is the checkpoint location, written after every step.
	StateFile string
	// Resume loads StateFile instead of starting fresh. The prior
	// recovery failure count is preserved.
	Resume bool

	Oracle   Oracle
	Recovery Recoverer
	Trace    debugtracer.DebugTracer
}

// Summary of a sweep, produced even after an abort.
type Summary struct {
	Bounds         Range
	ChunkSize      uint64
	Phase          Phase
	CoarseClean    int
	CoarseCrashed  int
	Candidates     int
	Verified       []uint64
	FalsePositives int
	// Pending holds crashed ranges not yet refined to candidates. Empty
	// on a completed sweep; after an abort it tells the operator which
	// regions still need bisecting.
	Pending []Range
}

var (
	statTests = stat.New("sweep tests", "oracle tests executed",
		stat.Prometheus("barsweep_tests_total"))
	statCrashes = stat.New("sweep crashes", "tests classified as crashed",
		stat.Prometheus("barsweep_crashes_total"))
	statRecoveries = stat.New("sweep recoveries", "recovery attempts",
		stat.Prometheus("barsweep_recoveries_total"))
	statRecoveryFailed = stat.New("sweep recovery failures", "failed recovery attempts",
		stat.Prometheus("barsweep_recovery_failures_total"))
	statTestDuration = stat.New("sweep test ms", "duration of one oracle test (ms)",
		stat.Distribution{})
)

type env struct {
	cfg   *Config
	state *State
	trace debugtracer.DebugTracer
}

// Run drives the sweep to completion (or abort) and returns the summary.
// The summary is valid even when an error is returned.
func Run(cfg *Config) (*Summary, error) {
	env, err := prepare(cfg)
	if err != nil {
		return nil, err
	}
	st := env.state
	env.trace.Log("sweep %v: range %v, chunk 0x%x, phase %v",
		st.RunID, Range{st.Start, st.End}, st.ChunkSize, st.Phase)
	err = env.run()
	summary := env.summary()
	if err != nil {
		env.trace.Log("sweep aborted in phase %v: %v", st.Phase, err)
		return summary, err
	}
	env.trace.Log("sweep done: %v candidates, %v verified, %v false positives",
		summary.Candidates, len(summary.Verified), summary.FalsePositives)
	return summary, nil
}

func prepare(cfg *Config) (*env, error) {
	if cfg.Oracle == nil || cfg.Recovery == nil {
		return nil, fmt.Errorf("oracle and recovery must be set")
	}
	if cfg.StateFile == "" {
		return nil, fmt.Errorf("no state file specified")
	}
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("max retries must be positive")
	}
	trace := cfg.Trace
	if trace == nil {
		trace = new(debugtracer.NullTracer)
	}
	var st *State
	if cfg.Resume {
		var err error
		if st, err = LoadState(cfg.StateFile); err != nil {
			return nil, err
		}
	} else {
		st = NewState(cfg.Start, cfg.End, cfg.ChunkSize, cfg.Unit)
		if err := st.Validate(); err != nil {
			return nil, err
		}
	}
	return &env{
		cfg:   cfg,
		state: st,
		trace: trace,
	}, nil
}

func (env *env) run() error {
	st := env.state
	// A checkpoint persisted at the abort point still carries the full
	// failure count. Halt again before issuing any test; the counter
	// must not move past the budget without external intervention.
	if st.Phase != PhaseDone && st.RecoveryFailures >= env.cfg.MaxRetries {
		return fmt.Errorf("resumed with %v consecutive recovery failures: %w",
			st.RecoveryFailures, ErrRecoveryBudget)
	}
	for _, phase := range []struct {
		phase Phase
		run   func() error
	}{
		{PhaseCoarse, env.coarse},
		{PhaseBisect, env.bisect},
		{PhaseVerify, env.verify},
	} {
		if env.state.Phase != phase.phase {
			continue
		}
		if err := phase.run(); err != nil {
			return err
		}
	}
	return nil
}

// coarse partitions the bounds into chunks and classifies each one.
// Chunks already present in the checkpoint are not re-tested.
func (env *env) coarse() error {
	st := env.state
	done := make(map[uint64]bool)
	for _, r := range st.CoarseClean {
		done[r.Start] = true
	}
	for _, r := range st.CoarseCrashed {
		done[r.Start] = true
	}
	total := (st.End - st.Start + st.ChunkSize - 1) / st.ChunkSize
	env.trace.Log("phase coarse: %v chunks of 0x%x, %v already classified",
		total, st.ChunkSize, len(done))
	for off := st.Start; off < st.End; off += st.ChunkSize {
		chunk := Range{off, min(off+st.ChunkSize, st.End)}
		if done[chunk.Start] {
			continue
		}
		crashed := env.test(chunk)
		st.noteChunk(chunk, crashed)
		if err := env.save(); err != nil {
			return err
		}
		if crashed {
			env.trace.Log("chunk %v CRASH", chunk)
			if err := env.recoverAfterCrash(); err != nil {
				return err
			}
		} else {
			env.trace.Log("chunk %v clean", chunk)
		}
	}
	// Seed the bisect queue with the crashed chunks in discovery order.
	st.BisectQueue = append([]Range{}, st.CoarseCrashed...)
	st.advance(PhaseBisect)
	return env.save()
}

// bisect repeatedly splits the head of the queue until single units
// remain. The queue is FIFO, so isolation converges breadth-first
// across all crashed regions rather than exhausting one region first.
func (env *env) bisect() error {
	st := env.state
	env.trace.Log("phase bisect: %v ranges queued", len(st.BisectQueue))
	for len(st.BisectQueue) > 0 {
		r := st.BisectQueue[0]
		// Base case: the range is a single unit and its crash has
		// already been observed; no retest, it's a candidate.
		if r.Size() <= st.Unit {
			env.trace.Log("candidate 0x%06x", r.Start)
			st.noteCandidate()
			if err := env.save(); err != nil {
				return err
			}
			continue
		}
		// Split at the midpoint, aligned down to the unit so both
		// halves stay unit-aligned and within bounds.
		mid := r.Start + r.Size()/2
		mid -= mid % st.Unit
		var crashed []Range
		for _, half := range []Range{{r.Start, mid}, {mid, r.End}} {
			if half.Start >= half.End {
				continue
			}
			if env.test(half) {
				env.trace.Log("range %v CRASH", half)
				crashed = append(crashed, half)
				if err := env.recoverAfterCrash(); err != nil {
					// The head is still queued in the persisted
					// state; a resumed run retests it from scratch.
					return err
				}
			} else {
				// A clean half is discarded: its participation in the
				// parent's crash is an interaction effect, not
				// evidence of independent fault origin.
				env.trace.Log("range %v clean", half)
			}
		}
		st.noteSplit(crashed)
		if err := env.save(); err != nil {
			return err
		}
	}
	st.advance(PhaseVerify)
	return env.save()
}

// verify re-tests each candidate in isolation. Reproduction confirms the
// offset; no reproduction means the candidate only appeared to crash due
// to neighboring state disturbed by a wider test.
func (env *env) verify() error {
	st := env.state
	done := make(map[uint64]bool)
	for _, off := range st.Verified {
		done[off] = true
	}
	for _, off := range st.FalsePositives {
		done[off] = true
	}
	if env.cfg.SkipVerify {
		env.trace.Log("phase verify: skipped, accepting %v candidates",
			len(st.Candidates)-len(done))
		for _, off := range st.Candidates {
			if !done[off] {
				st.noteVerdict(off, true)
			}
		}
		st.advance(PhaseDone)
		return env.save()
	}
	env.trace.Log("phase verify: %v candidates, %v already classified",
		len(st.Candidates), len(done))
	for _, off := range st.Candidates {
		if done[off] {
			continue
		}
		crashed := env.test(Range{off, off + st.Unit})
		st.noteVerdict(off, crashed)
		if err := env.save(); err != nil {
			return err
		}
		if crashed {
			env.trace.Log("offset 0x%06x CONFIRMED", off)
			if err := env.recoverAfterCrash(); err != nil {
				return err
			}
		} else {
			env.trace.Log("offset 0x%06x false positive", off)
		}
	}
	st.advance(PhaseDone)
	return env.save()
}

func (env *env) test(r Range) bool {
	statTests.Add(1)
	start := time.Now()
	crashed, err := env.cfg.Oracle.Test(r)
	statTestDuration.Add(int(time.Since(start).Milliseconds()))
	if err != nil {
		// The oracle failed operationally, so the verdict is unknown.
		// Classify as crashed: the range will be split further or
		// verified later, both of which tolerate overclassification.
		env.trace.Log("oracle failed on %v, classifying as crashed: %v", r, err)
		crashed = true
	}
	if crashed {
		statCrashes.Add(1)
	}
	return crashed
}

// recoverAfterCrash applies the recovery policy shared by all phases:
// one attempt per crash, counter reset on success, abort the moment the
// consecutive failure count reaches the budget.
func (env *env) recoverAfterCrash() error {
	st := env.state
	statRecoveries.Add(1)
	if env.cfg.Recovery.Recover() {
		st.RecoveryFailures = 0
		return env.save()
	}
	statRecoveryFailed.Add(1)
	st.RecoveryFailures++
	env.trace.Log("recovery failed (%v consecutive, budget %v)",
		st.RecoveryFailures, env.cfg.MaxRetries)
	if err := env.save(); err != nil {
		return err
	}
	if st.RecoveryFailures >= env.cfg.MaxRetries {
		return fmt.Errorf("%v consecutive recovery failures: %w",
			st.RecoveryFailures, ErrRecoveryBudget)
	}
	return nil
}

func (env *env) save() error {
	if err := env.state.Save(env.cfg.StateFile); err != nil {
		return fmt.Errorf("failed to persist sweep state: %w", err)
	}
	return nil
}

func (env *env) summary() *Summary {
	st := env.state
	verified := append([]uint64{}, st.Verified...)
	var pending []Range
	switch st.Phase {
	case PhaseCoarse:
		pending = append(pending, st.CoarseCrashed...)
	case PhaseBisect:
		pending = append(pending, st.BisectQueue...)
	}
	return &Summary{
		Bounds:         Range{st.Start, st.End},
		ChunkSize:      st.ChunkSize,
		Phase:          st.Phase,
		CoarseClean:    len(st.CoarseClean),
		CoarseCrashed:  len(st.CoarseCrashed),
		Candidates:     len(st.Candidates),
		Verified:       verified,
		FalsePositives: len(st.FalsePositives),
		Pending:        pending,
	}
}
