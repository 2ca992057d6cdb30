// Copyright 2026 barsweep project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package addr contains helpers for working with MMIO offsets:
// hex range parsing, alignment and register cluster classification.
package addr

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseRange parses a "START-END" hex range like "0x8000-0x40000" or
// "8000-40000" into its bounds.
func ParseRange(s string) (start, end uint64, err error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range %q, expected START-END", s)
	}
	if start, err = parseHex(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("invalid range %q: %w", s, err)
	}
	if end, err = parseHex(parts[1]); err != nil {
		return 0, 0, fmt.Errorf("invalid range %q: %w", s, err)
	}
	if end <= start {
		return 0, 0, fmt.Errorf("invalid range %q: end <= start", s)
	}
	return start, end, nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	return strconv.ParseUint(s, 16, 64)
}

// AlignDown rounds v down to the nearest multiple of unit.
func AlignDown(v, unit uint64) uint64 {
	return v - v%unit
}

// Region is a named register cluster of the target SoC.
type Region struct {
	Name  string
	Start uint64
	End   uint64
	Desc  string
}

// DefaultRegions describes the BAR0 layout of the WCN785x/FastConnect 7800
// (per the ath12k driver source). Sweeps against other hardware can supply
// their own table.
var DefaultRegions = []Region{
	{"hal", 0x000000, 0x001000, "HAL / Core registers"},
	{"ce", 0x001000, 0x002000, "Copy Engine (low range)"},
	{"wfss", 0x003000, 0x004000, "Wi-Fi Subsystem"},
	{"ce_high", 0x008000, 0x00C000, "Copy Engine (high range)"},
	{"umac", 0x01E000, 0x020000, "Upper MAC"},
	{"pcie_soc", 0x030000, 0x040000, "PCIe SOC interface"},
}

// Classify returns the name of the region containing the offset,
// or "unknown" if no region covers it.
func Classify(regions []Region, off uint64) string {
	for _, r := range regions {
		if off >= r.Start && off < r.End {
			return r.Name
		}
	}
	return "unknown"
}
