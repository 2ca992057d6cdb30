// Copyright 2026 barsweep project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounter(t *testing.T) {
	s := newSet()
	v := s.New("tests executed", "number of oracle tests executed")
	v.Add(1)
	v.Add(2)
	assert.Equal(t, 3, v.Val())
	ui := s.Collect()
	assert.Len(t, ui, 1)
	assert.Equal(t, "3", ui[0].Value)
}

func TestDistribution(t *testing.T) {
	s := newSet()
	v := s.New("test duration", "duration of a single oracle test (ms)", Distribution{})
	assert.Equal(t, 0, v.Val())
	v.Add(10)
	v.Add(20)
	assert.Equal(t, 15, v.Val())
}

func TestExternal(t *testing.T) {
	s := newSet()
	queue := []int{1, 2, 3}
	v := s.New("queue size", "outstanding ranges", func() int { return len(queue) })
	assert.Equal(t, 3, v.Val())
	queue = queue[1:]
	assert.Equal(t, 2, v.Val())
	assert.Panics(t, func() { v.Add(1) })
}

func TestCollectSorted(t *testing.T) {
	s := newSet()
	s.New("b", "")
	s.New("a", "")
	ui := s.Collect()
	assert.Equal(t, "a", ui[0].Name)
	assert.Equal(t, "b", ui[1].Name)
}
