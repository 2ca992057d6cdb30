// Copyright 2026 barsweep project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package pcidev

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// BAR is a read-only mapping of a PCI memory BAR.
type BAR struct {
	file *os.File
	mem  []byte
}

// OpenBAR maps size bytes of the device's resource0.
func OpenBAR(dev Device, size uint64) (*BAR, error) {
	f, err := os.OpenFile(dev.ResourcePath(), os.O_RDONLY|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %v: %w", dev.ResourcePath(), err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap %v: %w", dev.ResourcePath(), err)
	}
	return &BAR{file: f, mem: mem}, nil
}

// Read32 reads the 32-bit little-endian word at off.
func (bar *BAR) Read32(off uint64) uint32 {
	return binary.LittleEndian.Uint32(bar.mem[off : off+4])
}

// Size returns the mapped size in bytes.
func (bar *BAR) Size() uint64 {
	return uint64(len(bar.mem))
}

func (bar *BAR) Close() error {
	err := unix.Munmap(bar.mem)
	if err1 := bar.file.Close(); err == nil {
		err = err1
	}
	return err
}
