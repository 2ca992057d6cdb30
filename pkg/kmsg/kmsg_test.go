// Copyright 2026 barsweep project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package kmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `[  100.0] usb 1-1: new high-speed USB device
[  101.0] ath12k_pci 0004:01:00.0: failed to receive control response completion
[  102.0] pcieport 0004:00:00.0: AER: Uncorrected (Non-Fatal) error received
[  103.0] pcieport 0004:00:00.0: device [17cb:010b] error status/mask=00004000/00100000
[  104.0] pcieport 0004:00:00.0:  [14] CmpltTO
[  105.0] ath12k_pci 0004:01:00.0: Hardware restart was requested
[  106.0] mhi mhi0: Requested to power ON
[  107.0] ath12k_pci 0004:01:00.0: device successfully recovered
[  108.0] systemd[1]: Started some unrelated service.
`

func fakeMonitor(output string, err error) *Monitor {
	return &Monitor{
		run: func(args ...string) ([]byte, error) {
			return []byte(output), err
		},
	}
}

func TestFaults(t *testing.T) {
	count, lines, err := fakeMonitor(sampleLog, nil).Faults()
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.Len(t, lines, count)
}

func TestFaultsClean(t *testing.T) {
	log := `[  100.0] usb 1-1: new high-speed USB device
[  101.0] systemd[1]: Started session.
[  102.0] ath12k_pci 0004:01:00.0: chip_id 0x2 chip_family 0x4
`
	count, _, err := fakeMonitor(log, nil).Faults()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFaultsError(t *testing.T) {
	_, _, err := fakeMonitor("", assert.AnError).Faults()
	require.Error(t, err)
}

func TestIsFaultLine(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"ath12k_pci 0004:01:00.0: firmware crashed: MHI_CB_EE_RDDM", false},
		{"ath12k_pci 0004:01:00.0: qmi firmware reset", true},
		{"pcieport 0004:00:00.0:  [20] UnsupReq", true},
		{"ath12k_pci 0004:01:00.0: wmi command timeout", true},
		{"random driver: error something", false},
		{"ath12k_pci 0004:01:00.0: device successfully recovered", true},
		{"", false},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, isFaultLine(test.line), "line: %q", test.line)
	}
}

func TestRecovered(t *testing.T) {
	assert.True(t, Recovered([]string{"a", "xx device successfully recovered"}))
	assert.False(t, Recovered([]string{"Hardware restart was requested"}))
	assert.False(t, Recovered(nil))
}
