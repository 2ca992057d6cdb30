// Copyright 2026 barsweep project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		input      string
		start, end uint64
		wantErr    bool
	}{
		{"0x8000-0x40000", 0x8000, 0x40000, false},
		{"8000-40000", 0x8000, 0x40000, false},
		{"0x0-0x10", 0, 0x10, false},
		{" 0x10 - 0x20 ", 0x10, 0x20, false},
		{"0x20-0x10", 0, 0, true},
		{"0x10-0x10", 0, 0, true},
		{"0x10", 0, 0, true},
		{"zz-0x10", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, test := range tests {
		start, end, err := ParseRange(test.input)
		if test.wantErr {
			require.Error(t, err, "input %q", test.input)
			continue
		}
		require.NoError(t, err, "input %q", test.input)
		assert.Equal(t, test.start, start)
		assert.Equal(t, test.end, end)
	}
}

func TestAlignDown(t *testing.T) {
	assert.Equal(t, uint64(0x14), AlignDown(0x17, 4))
	assert.Equal(t, uint64(0x14), AlignDown(0x14, 4))
	assert.Equal(t, uint64(0), AlignDown(3, 4))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "hal", Classify(DefaultRegions, 0x0))
	assert.Equal(t, "ce_high", Classify(DefaultRegions, 0x8200))
	assert.Equal(t, "pcie_soc", Classify(DefaultRegions, 0x3fffc))
	assert.Equal(t, "unknown", Classify(DefaultRegions, 0x100000))
	assert.Equal(t, "unknown", Classify(nil, 0x0))
}
