// Copyright 2026 barsweep project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package pcidev

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSysfs creates a sysfs-like tree for one device and points the
// package at it for the duration of the test.
func fakeSysfs(t *testing.T, bdf string, id uint32, link uint16) Device {
	root := t.TempDir()
	devDir := filepath.Join(root, bdf)
	require.NoError(t, os.MkdirAll(devDir, 0755))
	cfg := make([]byte, 0x100)
	binary.LittleEndian.PutUint32(cfg[0:], id)
	binary.LittleEndian.PutUint16(cfg[0x82:], link)
	require.NoError(t, os.WriteFile(filepath.Join(devDir, "config"), cfg, 0644))
	prev := sysfsRoot
	sysfsRoot = root
	t.Cleanup(func() { sysfsRoot = prev })
	return Device{BDF: bdf}
}

func TestDevicePresence(t *testing.T) {
	dev := fakeSysfs(t, "0004:01:00.0", 0x110717cb, 0x1043)
	assert.True(t, dev.Present())
	assert.False(t, dev.DriverBound())
	absent := Device{BDF: "0000:ff:00.0"}
	assert.False(t, absent.Present())
}

func TestReadDeviceID(t *testing.T) {
	dev := fakeSysfs(t, "0004:01:00.0", 0x110717cb, 0x1043)
	id, err := dev.ReadDeviceID()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x110717cb), id)
	lnk, err := dev.LinkStatus()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1043), lnk)
}

func TestIDSane(t *testing.T) {
	assert.True(t, IDSane(0x110717cb))
	assert.False(t, IDSane(0))
	assert.False(t, IDSane(0xffffffff))
}

func TestHealthy(t *testing.T) {
	dev := fakeSysfs(t, "0004:01:00.0", 0x110717cb, 0x1043)
	assert.True(t, dev.Healthy())

	dead := fakeSysfs(t, "0004:01:00.0", 0xffffffff, 0x1043)
	assert.False(t, dead.Healthy())

	linkDown := fakeSysfs(t, "0004:01:00.0", 0x110717cb, 0)
	assert.False(t, linkDown.Healthy())
}

func TestPreflight(t *testing.T) {
	dev := fakeSysfs(t, "0004:01:00.0", 0x110717cb, 0x1043)
	// No resource0 file in the fake tree.
	require.Error(t, dev.Preflight())
	require.NoError(t, os.WriteFile(filepath.Join(dev.SysfsPath(), "resource0"), nil, 0644))
	require.NoError(t, dev.Preflight())

	dead := fakeSysfs(t, "0004:01:00.0", 0, 0x1043)
	require.NoError(t, os.WriteFile(filepath.Join(dead.SysfsPath(), "resource0"), nil, 0644))
	err := dead.Preflight()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "firmware is dead")
}
