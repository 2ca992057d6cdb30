// Copyright 2026 barsweep project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package sweep

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/google/barsweep/pkg/config"
)

// Range is a half-open [Start, End) interval of MMIO offsets.
// It serializes as a 2-element JSON array to keep checkpoint files
// compatible with the state files of the original python tool.
type Range struct {
	Start uint64
	End   uint64
}

func (r Range) Size() uint64 {
	return r.End - r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("0x%06x-0x%06x", r.Start, r.End)
}

func (r Range) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]uint64{r.Start, r.End})
}

func (r *Range) UnmarshalJSON(data []byte) error {
	var bounds [2]uint64
	if err := json.Unmarshal(data, &bounds); err != nil {
		return err
	}
	r.Start, r.End = bounds[0], bounds[1]
	return nil
}

// Phase of the sweep. Strictly forward-moving, never revisited.
type Phase string

const (
	PhaseCoarse Phase = "coarse"
	PhaseBisect Phase = "bisect"
	PhaseVerify Phase = "verify"
	PhaseDone   Phase = "done"
)

var phaseOrder = map[Phase]int{
	PhaseCoarse: 0,
	PhaseBisect: 1,
	PhaseVerify: 2,
	PhaseDone:   3,
}

// State is the sole persisted aggregate of a sweep. It is mutated once
// per completed unit of work and written out in full after every
// mutation, so a checkpoint file always holds a consistent, resumable
// snapshot. The persisted file is the only source of truth for
// completed work; nothing is ever re-derived from other signals.
type State struct {
	RunID            string   `json:"run_id"`
	Start            uint64   `json:"start"`
	End              uint64   `json:"end"`
	ChunkSize        uint64   `json:"chunk_size"`
	Unit             uint64   `json:"unit"`
	Phase            Phase    `json:"phase"`
	CoarseClean      []Range  `json:"coarse_clean"`
	CoarseCrashed    []Range  `json:"coarse_crashed"`
	BisectQueue      []Range  `json:"bisect_queue"`
	BisectCrashed    []Range  `json:"bisect_crashed"`
	Candidates       []uint64 `json:"candidates"`
	Verified         []uint64 `json:"verified"`
	FalsePositives   []uint64 `json:"false_positives"`
	RecoveryFailures int      `json:"recovery_failures"`
}

// NewState creates a fresh state covering [start, end) with the given
// coarse chunk size and minimal test granularity.
func NewState(start, end, chunkSize, unit uint64) *State {
	return &State{
		RunID:     uuid.NewString(),
		Start:     start,
		End:       end,
		ChunkSize: chunkSize,
		Unit:      unit,
		Phase:     PhaseCoarse,
	}
}

// LoadState reconstitutes a persisted state and validates its invariants.
func LoadState(file string) (*State, error) {
	st := new(State)
	if err := config.LoadFile(file, st); err != nil {
		return nil, err
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("corrupted state file %v: %w", file, err)
	}
	return st, nil
}

// Save persists the state atomically. The checkpoint store has exactly
// one writer, so a reader never observes a partially updated state.
func (st *State) Save(file string) error {
	return config.SaveFileAtomic(file, st)
}

func (st *State) Validate() error {
	if _, ok := phaseOrder[st.Phase]; !ok {
		return fmt.Errorf("unknown phase %q", st.Phase)
	}
	if st.Unit == 0 {
		return fmt.Errorf("zero unit")
	}
	if st.End <= st.Start {
		return fmt.Errorf("bad bounds %v", Range{st.Start, st.End})
	}
	if st.Start%st.Unit != 0 || st.End%st.Unit != 0 {
		return fmt.Errorf("bounds %v not aligned to unit 0x%x", Range{st.Start, st.End}, st.Unit)
	}
	if st.ChunkSize == 0 || st.ChunkSize%st.Unit != 0 {
		return fmt.Errorf("chunk size 0x%x not a multiple of unit 0x%x", st.ChunkSize, st.Unit)
	}
	bounds := Range{st.Start, st.End}
	for _, list := range [][]Range{st.CoarseClean, st.CoarseCrashed, st.BisectQueue, st.BisectCrashed} {
		for _, r := range list {
			if r.End <= r.Start || r.Start < bounds.Start || r.End > bounds.End {
				return fmt.Errorf("range %v outside bounds %v", r, bounds)
			}
		}
	}
	seen := make(map[uint64]bool)
	for _, list := range [][]uint64{st.Verified, st.FalsePositives} {
		for _, off := range list {
			if seen[off] {
				return fmt.Errorf("offset 0x%06x classified twice", off)
			}
			seen[off] = true
		}
	}
	candidates := make(map[uint64]bool)
	for _, off := range st.Candidates {
		candidates[off] = true
	}
	for off := range seen {
		if !candidates[off] {
			return fmt.Errorf("verdict for 0x%06x which is not a candidate", off)
		}
	}
	return nil
}

// advance moves to the next phase. Phases are entered exactly once.
func (st *State) advance(next Phase) {
	if phaseOrder[next] <= phaseOrder[st.Phase] {
		panic(fmt.Sprintf("phase transition %v -> %v goes backwards", st.Phase, next))
	}
	st.Phase = next
}

// The note* mutators below guard phase-relevant result sets: writing a
// verify verdict while bisecting is a programming error, not a runtime
// condition, hence the panics.

func (st *State) mustBeIn(phase Phase, op string) {
	if st.Phase != phase {
		panic(fmt.Sprintf("%v in phase %v", op, st.Phase))
	}
}

func (st *State) noteChunk(r Range, crashed bool) {
	st.mustBeIn(PhaseCoarse, "chunk classification")
	if crashed {
		st.CoarseCrashed = append(st.CoarseCrashed, r)
	} else {
		st.CoarseClean = append(st.CoarseClean, r)
	}
}

// noteSplit commits the outcome of fully processing the head of the
// bisect queue: the head is replaced by its crashed halves (appended at
// the tail), or by nothing if both halves were clean.
func (st *State) noteSplit(crashed []Range) {
	st.mustBeIn(PhaseBisect, "range split")
	st.BisectQueue = append(st.BisectQueue[1:], crashed...)
	st.BisectCrashed = append(st.BisectCrashed, crashed...)
}

// noteCandidate commits the head of the bisect queue as a candidate.
func (st *State) noteCandidate() {
	st.mustBeIn(PhaseBisect, "candidate")
	st.Candidates = append(st.Candidates, st.BisectQueue[0].Start)
	st.BisectQueue = st.BisectQueue[1:]
}

func (st *State) noteVerdict(off uint64, verified bool) {
	st.mustBeIn(PhaseVerify, "verify verdict")
	if verified {
		st.Verified = append(st.Verified, off)
	} else {
		st.FalsePositives = append(st.FalsePositives, off)
	}
}

// DefaultStateFile returns the conventional checkpoint file name for a
// fresh run, qualified by the given timestamp.
func DefaultStateFile(timestamp string) string {
	return fmt.Sprintf("sweep_state_%v.json", timestamp)
}
