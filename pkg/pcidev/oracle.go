// Copyright 2026 barsweep project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package pcidev

import (
	"fmt"
	"time"

	"github.com/google/barsweep/pkg/debugtracer"
	"github.com/google/barsweep/pkg/kmsg"
	"github.com/google/barsweep/pkg/sweep"
)

const pollInterval = 500 * time.Millisecond

// Oracle implements sweep.Oracle by reading every 32-bit word of the
// range from BAR0 and then watching the kernel log for the settling
// window. Asynchronous fault signals arriving within the window count
// toward the verdict.
type Oracle struct {
	Dev     Device
	BARSize uint64
	Monitor *kmsg.Monitor
	// Settle is how long to poll the kernel log after the reads.
	Settle time.Duration
	Trace  debugtracer.DebugTracer

	sleep func(time.Duration) // for tests
}

func NewOracle(dev Device, barSize uint64, mon *kmsg.Monitor, settle time.Duration,
	trace debugtracer.DebugTracer) *Oracle {
	return &Oracle{
		Dev:     dev,
		BARSize: barSize,
		Monitor: mon,
		Settle:  settle,
		Trace:   trace,
		sleep:   time.Sleep,
	}
}

func (o *Oracle) Test(r sweep.Range) (bool, error) {
	if r.End > o.BARSize {
		return false, fmt.Errorf("range %v beyond BAR size 0x%x", r, o.BARSize)
	}
	baseline, _, err := o.Monitor.Faults()
	if err != nil {
		return false, fmt.Errorf("fault baseline: %w", err)
	}
	o.Trace.Log("scanning %v (%v dwords)", r, r.Size()/4)
	if err := o.scan(r); err != nil {
		// The access itself blew up; that is a verdict, not an error.
		o.Trace.Log("scan failed: %v", err)
		return true, nil
	}
	for elapsed := time.Duration(0); elapsed < o.Settle; elapsed += pollInterval {
		o.sleep(pollInterval)
		count, lines, err := o.Monitor.Faults()
		if err != nil {
			return false, fmt.Errorf("fault poll: %w", err)
		}
		if count > baseline {
			for _, line := range lines[baseline:] {
				o.Trace.Log("  %v", line)
			}
			return true, nil
		}
	}
	return false, nil
}

func (o *Oracle) scan(r sweep.Range) error {
	bar, err := OpenBAR(o.Dev, o.BARSize)
	if err != nil {
		return err
	}
	defer bar.Close()
	for off := r.Start; off < r.End; off += 4 {
		bar.Read32(off)
	}
	return nil
}
