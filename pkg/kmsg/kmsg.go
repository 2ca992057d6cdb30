// Copyright 2026 barsweep project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package kmsg detects device fault events in the kernel ring buffer.
// A fault is any of:
//   - AER / PCIe errors (CmpltTO, UnsupReq, ...)
//   - ath12k driver errors (error, fail, timeout, warn, fault, reset)
//   - firmware crash / recovery events (hardware restart, MHI power-on)
package kmsg

import (
	"strings"
	"time"

	"github.com/google/barsweep/pkg/osutil"
)

const cmdTimeout = 10 * time.Second

// Monitor reads the kernel log and counts fault-indicating lines.
// The count only ever grows between Clear calls, so a caller takes a
// baseline before a destructive access and compares afterwards.
type Monitor struct {
	// run invokes dmesg and returns its output. Overridable for tests.
	run func(args ...string) ([]byte, error)
}

func NewMonitor() *Monitor {
	return &Monitor{
		run: func(args ...string) ([]byte, error) {
			return osutil.RunCmd(cmdTimeout, "dmesg", args...)
		},
	}
}

// NewTestMonitor returns a monitor backed by the given fake dmesg
// invocation instead of the real kernel log.
func NewTestMonitor(run func(args ...string) ([]byte, error)) *Monitor {
	return &Monitor{run: run}
}

// Faults returns the number of fault lines currently in the kernel log
// and the lines themselves.
func (mon *Monitor) Faults() (int, []string, error) {
	output, err := mon.run()
	if err != nil {
		return 0, nil, err
	}
	var faults []string
	for _, line := range strings.Split(string(output), "\n") {
		if isFaultLine(line) {
			faults = append(faults, line)
		}
	}
	return len(faults), faults, nil
}

// Clear empties the kernel ring buffer so the next baseline is clean.
func (mon *Monitor) Clear() error {
	_, err := mon.run("-C")
	return err
}

var (
	faultSources = []string{"ath12k", "AER", "pcieport"}
	faultMarkers = []string{"error", "fail", "timeout", "warn", "fault", "reset"}
	rawMarkers   = []string{"CmpltTO", "UnsupReq"}
	eventMarkers = []string{
		"Hardware restart was requested",
		"successfully recovered",
		"mhi mhi0: Requested to power ON",
	}
)

func isFaultLine(line string) bool {
	for _, marker := range eventMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	fromSource := false
	for _, src := range faultSources {
		if strings.Contains(line, src) {
			fromSource = true
			break
		}
	}
	if !fromSource {
		return false
	}
	for _, marker := range rawMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	low := strings.ToLower(line)
	for _, marker := range faultMarkers {
		if strings.Contains(low, marker) {
			return true
		}
	}
	return false
}

// Recovered reports whether any of the lines signals successful
// firmware auto-recovery.
func Recovered(lines []string) bool {
	for _, line := range lines {
		if strings.Contains(line, "successfully recovered") {
			return true
		}
	}
	return false
}
