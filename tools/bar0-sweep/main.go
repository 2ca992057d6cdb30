// Copyright 2026 barsweep project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// bar0-sweep finds the exact MMIO offsets of a PCI BAR that crash the
// device firmware. It runs a coarse scan over the configured range,
// bisects every crashed chunk down to single dwords and verifies each
// candidate in isolation, recovering the device between crashes.
// Progress is checkpointed after every step; use -resume to continue an
// interrupted sweep.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/barsweep/pkg/addr"
	"github.com/google/barsweep/pkg/config"
	"github.com/google/barsweep/pkg/debugtracer"
	"github.com/google/barsweep/pkg/kmsg"
	"github.com/google/barsweep/pkg/log"
	"github.com/google/barsweep/pkg/osutil"
	"github.com/google/barsweep/pkg/pcidev"
	"github.com/google/barsweep/pkg/stat"
	"github.com/google/barsweep/pkg/sweep"
)

var (
	flagConfig          = flag.String("config", "", "sweep config file (optional)")
	flagRange           = flag.String("range", "", "hex range to scan, e.g. 0x0-0x40000 (default: full BAR0)")
	flagChunkSize       = flag.String("chunk_size", "0x10000", "coarse scan chunk size in bytes")
	flagSettle          = flag.Duration("settle", 5*time.Second, "time to poll the kernel log after each scan")
	flagRecoveryTimeout = flag.Duration("recovery_timeout", 60*time.Second, "max time to wait for auto-recovery")
	flagMaxRetries      = flag.Int("max_retries", 5, "abort after this many consecutive recovery failures")
	flagResume          = flag.String("resume", "", "resume from a saved state file")
	flagSkipVerify      = flag.Bool("skip_verify", false, "skip the verification phase")
	flagDevice          = flag.String("device", "", "override device BDF, e.g. 0000:03:00.0")
)

// Config is the optional file-based part of the configuration, holding
// the hardware description that rarely changes between sweeps.
type Config struct {
	Device  string `json:"device"`
	BARSize uint64 `json:"bar_size"`
	Module  string `json:"module"`
	Unit    uint64 `json:"unit"`
}

func defaultConfig() *Config {
	return &Config{
		Device:  "0004:01:00.0",
		BARSize: 2 << 20,
		Module:  "ath12k_pci",
		Unit:    4,
	}
}

func main() {
	flag.Parse()
	log.EnableLogCaching(1000)
	cfg := defaultConfig()
	if *flagConfig != "" {
		if err := config.LoadFile(*flagConfig, cfg); err != nil {
			failf("%v", err)
		}
	}
	if *flagDevice != "" {
		cfg.Device = *flagDevice
	}
	dev := pcidev.Device{BDF: cfg.Device}
	if err := dev.Preflight(); err != nil {
		failf("%v", err)
	}
	id, _ := dev.ReadDeviceID()
	fmt.Printf("device: %v  ID: %08x\n", dev.BDF, id)

	stateFile := *flagResume
	if stateFile == "" {
		stateFile = sweep.DefaultStateFile(time.Now().Format("2006-01-02_15-04-05"))
	}
	fmt.Printf("state file: %v\n", stateFile)

	start, end := uint64(0), cfg.BARSize
	if *flagRange != "" {
		var err error
		if start, end, err = addr.ParseRange(*flagRange); err != nil {
			failf("%v", err)
		}
	}
	chunkSize, err := strconv.ParseUint(*flagChunkSize, 0, 64)
	if err != nil {
		failf("invalid chunk_size: %v", err)
	}

	mon := kmsg.NewMonitor()
	trace := &debugtracer.GenericTracer{
		TraceWriter: log.VerboseWriter(0),
	}
	summary, err := sweep.Run(&sweep.Config{
		Start:      start,
		End:        end,
		ChunkSize:  chunkSize,
		Unit:       cfg.Unit,
		MaxRetries: *flagMaxRetries,
		SkipVerify: *flagSkipVerify,
		StateFile:  stateFile,
		Resume:     *flagResume != "",
		Oracle:     pcidev.NewOracle(dev, cfg.BARSize, mon, *flagSettle, trace),
		Recovery:   pcidev.NewRecovery(dev, mon, *flagRecoveryTimeout, cfg.Module, trace),
		Trace:      trace,
	})
	if summary != nil {
		printSummary(summary)
	}
	fmt.Printf("\nstate saved: %v\n", stateFile)
	if err != nil {
		// Keep the recent trace next to the checkpoint for post-mortem.
		osutil.WriteFile(stateFile+".log", []byte(log.CachedLogOutput()))
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		os.Exit(1)
	}
}

func printSummary(summary *sweep.Summary) {
	fmt.Printf("\nBISECT SWEEP RESULTS\n")
	fmt.Printf("  range:            %v\n", summary.Bounds)
	fmt.Printf("  chunk size:       0x%x\n", summary.ChunkSize)
	fmt.Printf("  phase:            %v\n", summary.Phase)
	fmt.Printf("  coarse clean:     %v chunks\n", summary.CoarseClean)
	fmt.Printf("  coarse crashed:   %v chunks\n", summary.CoarseCrashed)
	fmt.Printf("  candidates found: %v\n", summary.Candidates)
	fmt.Printf("  verified:         %v\n", len(summary.Verified))
	fmt.Printf("  false positives:  %v\n", summary.FalsePositives)
	if len(summary.Pending) > 0 {
		fmt.Printf("\nCRASHED RANGES NOT YET BISECTED:\n")
		for _, r := range summary.Pending {
			fmt.Printf("  %v\n", r)
		}
	}
	if len(summary.Verified) > 0 {
		fmt.Printf("\nCRASH-TRIGGERING OFFSETS:\n")
		offsets := append([]uint64{}, summary.Verified...)
		sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
		for _, off := range offsets {
			fmt.Printf("  0x%06x  (%v)\n", off, addr.Classify(addr.DefaultRegions, off))
		}
	}
	for _, ui := range stat.Collect() {
		log.Logf(1, "stat %v: %v", ui.Name, ui.Value)
	}
}

func failf(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(1)
}
