package printer

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceLine(t *testing.T) {
	testCases := []struct {
		name string
		line string
		want Device
		ok   bool
	}{
		{"Paired", "Device 11:22:33:AA:BB:CC NIIBOT-B1", Device{Address: "11:22:33:AA:BB:CC", Name: "NIIBOT-B1"}, true},
		{"NewWhileScanning", "[NEW] Device 11:22:33:aa:bb:cc Label Printer", Device{Address: "11:22:33:AA:BB:CC", Name: "Label Printer"}, true},
		{"Colored", "[\x1b[0;92mNEW\x1b[0m] Device 11:22:33:AA:BB:CC P21", Device{Address: "11:22:33:AA:BB:CC", Name: "P21"}, true},
		{"Unnamed", "[NEW] Device 11:22:33:AA:BB:CC 11-22-33-AA-BB-CC", Device{Address: "11:22:33:AA:BB:CC"}, true},
		{"Changed", "[CHG] Device 11:22:33:AA:BB:CC RSSI: -60", Device{}, false},
		{"NotAMAC", "Device nonsense here", Device{}, false},
		{"Blank", "", Device{}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseDeviceLine(tc.line)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDeviceMatches(t *testing.T) {
	dev := Device{Address: "AA:BB:CC:DD:EE:FF", Name: "NIIBOT-B1"}

	assert.True(t, dev.Matches(""))
	assert.True(t, dev.Matches("niibot"))
	assert.True(t, dev.Matches("B1"))
	assert.False(t, dev.Matches("nelko"))
	assert.False(t, Device{Address: "AA:BB:CC:DD:EE:FF"}.Matches("x"))

	assert.Equal(t, "NIIBOT-B1 (AA:BB:CC:DD:EE:FF)", dev.String())
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", Device{Address: "AA:BB:CC:DD:EE:FF"}.String())
}

func TestErrorKinds(t *testing.T) {
	t.Run("ScanError", func(t *testing.T) {
		err := error(&ScanError{Kind: ScanRadioUnavailable, Err: io.EOF})
		assert.ErrorIs(t, err, ErrRadioUnavailable)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, "scan: bluetooth radio unavailable: EOF", err.Error())
	})

	t.Run("ConnectError", func(t *testing.T) {
		err := error(&ConnectError{Kind: ConnectBusy, Address: "AA"})
		assert.ErrorIs(t, err, ErrBusy)
		assert.NotErrorIs(t, err, ErrRejected)

		var connErr *ConnectError
		require.True(t, errors.As(err, &connErr))
		assert.Equal(t, ConnectBusy, connErr.Kind)
		assert.Equal(t, "connect AA: another operation is in progress", err.Error())
	})

	t.Run("TransportError", func(t *testing.T) {
		lost := error(&TransportError{Kind: LinkLost})
		assert.True(t, IsLinkLost(lost))
		assert.False(t, IsLinkLost(&TransportError{Kind: WriteFailed}))
		assert.Equal(t, "transport: link lost", lost.Error())
	})
}
