// Copyright 2026 barsweep project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package pcidev

import (
	"time"

	"github.com/google/barsweep/pkg/debugtracer"
	"github.com/google/barsweep/pkg/kmsg"
	"github.com/google/barsweep/pkg/osutil"
)

const (
	recoveryPoll  = 2 * time.Second
	settleAfter   = 2 * time.Second
	settleModule  = 5 * time.Second
	modprobeLimit = 30 * time.Second
)

// Recovery implements sweep.Recoverer. It first waits for firmware
// auto-recovery (watching the kernel log up to Timeout), then falls back
// to a driver module unload/load cycle. The final verdict comes from the
// device health check. On success the kernel log is cleared so the next
// fault baseline starts clean.
type Recovery struct {
	Dev     Device
	Monitor *kmsg.Monitor
	Timeout time.Duration
	// Module is the driver module cycled in the fallback path.
	Module string
	Trace  debugtracer.DebugTracer

	// overridable for tests
	sleep  func(time.Duration)
	runCmd func(time.Duration, string, ...string) ([]byte, error)
}

func NewRecovery(dev Device, mon *kmsg.Monitor, timeout time.Duration, module string,
	trace debugtracer.DebugTracer) *Recovery {
	return &Recovery{
		Dev:     dev,
		Monitor: mon,
		Timeout: timeout,
		Module:  module,
		Trace:   trace,
		sleep:   time.Sleep,
		runCmd:  osutil.RunCmd,
	}
}

func (rec *Recovery) Recover() bool {
	if !rec.recover() {
		rec.Trace.Log("recovery FAILED")
		return false
	}
	if err := rec.Monitor.Clear(); err != nil {
		rec.Trace.Log("failed to clear kernel log: %v", err)
	}
	rec.Trace.Log("recovery successful")
	return true
}

func (rec *Recovery) recover() bool {
	rec.Trace.Log("waiting up to %v for auto-recovery", rec.Timeout)
	baseline, _, err := rec.Monitor.Faults()
	if err != nil {
		baseline = 0
	}
	for elapsed := time.Duration(0); elapsed < rec.Timeout; elapsed += recoveryPoll {
		rec.sleep(recoveryPoll)
		count, lines, err := rec.Monitor.Faults()
		if err != nil || count <= baseline {
			continue
		}
		if kmsg.Recovered(lines[baseline:]) {
			rec.Trace.Log("auto-recovery detected after %v", elapsed+recoveryPoll)
			rec.sleep(settleAfter) // let the driver settle
			if rec.Dev.Healthy() {
				return true
			}
		}
	}
	return rec.moduleCycle()
}

// moduleCycle unloads and reloads the driver module as a last resort.
func (rec *Recovery) moduleCycle() bool {
	rec.Trace.Log("auto-recovery not seen, trying %v module cycle", rec.Module)
	if _, err := rec.runCmd(modprobeLimit, "modprobe", "-r", rec.Module); err != nil {
		rec.Trace.Log("modprobe -r failed: %v", err)
	}
	rec.sleep(settleAfter)
	if _, err := rec.runCmd(modprobeLimit, "modprobe", rec.Module); err != nil {
		rec.Trace.Log("modprobe failed: %v", err)
	}
	rec.sleep(settleModule)
	return rec.Dev.Healthy()
}
