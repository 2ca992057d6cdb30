// Copyright 2026 barsweep project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package osutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "state.json")
	require.NoError(t, WriteFileAtomic(file, []byte("first")))
	require.NoError(t, WriteFileAtomic(file, []byte("second")))
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	// No temp files may be left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunCmdTimeout(t *testing.T) {
	start := time.Now()
	_, err := RunCmd(100*time.Millisecond, "sleep", "10")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	var verr *VerboseError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Title, "timedout")
}

func TestRunCmdOutput(t *testing.T) {
	output, err := RunCmd(10*time.Second, "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(output))
}
