// Copyright 2026 barsweep project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package pcidev provides access to a PCI device through sysfs: health
// checks, config space reads and MMIO access to BAR0. It implements the
// test oracle and recovery actuator used by the sweep controller.
package pcidev

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// Device identifies a PCI device by its bus address.
type Device struct {
	BDF string // e.g. "0004:01:00.0"
}

var sysfsRoot = "/sys/bus/pci/devices" // overridden in tests

func (dev Device) SysfsPath() string {
	return filepath.Join(sysfsRoot, dev.BDF)
}

func (dev Device) ResourcePath() string {
	return filepath.Join(dev.SysfsPath(), "resource0")
}

// Present reports whether the device is still visible in sysfs.
func (dev Device) Present() bool {
	_, err := os.Stat(dev.SysfsPath())
	return err == nil
}

// DriverBound reports whether a driver is still bound to the device.
func (dev Device) DriverBound() bool {
	_, err := os.Stat(filepath.Join(dev.SysfsPath(), "driver"))
	return err == nil
}

// ReadDeviceID reads the vendor/device ID dword from config space.
// A dead device (or firmware) reads as all ones or all zeros.
func (dev Device) ReadDeviceID() (uint32, error) {
	return dev.readConfig32(0)
}

// IDSane reports whether the ID identifies live firmware.
func IDSane(id uint32) bool {
	return id != 0xffffffff && id != 0
}

// LinkStatus reads the PCIe Link Status register (config offset 0x82 on
// this device). Zero or all-ones means the link is degraded or down.
func (dev Device) LinkStatus() (uint16, error) {
	f, err := os.Open(filepath.Join(dev.SysfsPath(), "config"))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	buf := make([]byte, 2)
	if _, err := f.ReadAt(buf, 0x82); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func (dev Device) readConfig32(off int64) (uint32, error) {
	f, err := os.Open(filepath.Join(dev.SysfsPath(), "config"))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	buf := make([]byte, 4)
	if _, err := f.ReadAt(buf, off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// Healthy runs the full health check: device present, config space
// readable, link up.
func (dev Device) Healthy() bool {
	if !dev.Present() {
		return false
	}
	id, err := dev.ReadDeviceID()
	if err != nil || !IDSane(id) {
		return false
	}
	lnk, err := dev.LinkStatus()
	if err != nil || lnk == 0 || lnk == 0xffff {
		return false
	}
	return true
}

// Preflight verifies the device is testable before a sweep starts.
func (dev Device) Preflight() error {
	if !dev.Present() {
		return fmt.Errorf("device %v not found in sysfs", dev.BDF)
	}
	if _, err := os.Stat(dev.ResourcePath()); err != nil {
		return fmt.Errorf("%v does not exist: %w", dev.ResourcePath(), err)
	}
	id, err := dev.ReadDeviceID()
	if err != nil {
		return fmt.Errorf("cannot read device ID: %w", err)
	}
	if !IDSane(id) {
		return fmt.Errorf("device returns ID %08x, firmware is dead; recover first", id)
	}
	return nil
}
