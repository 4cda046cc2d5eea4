package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btlabel/internal/config"
	"btlabel/internal/printer"
	"btlabel/internal/usb"
)

func TestFromConfig(t *testing.T) {
	cfg := config.Defaults()

	d, dialer, err := FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &printer.BluetoothDiscoverer{}, d)
	assert.IsType(t, &printer.BluetoothDialer{}, dialer)

	cfg.Transport = config.TransportUSB
	d, dialer, err = FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &usb.Discoverer{}, d)
	assert.IsType(t, &usb.Dialer{}, dialer)

	cfg.Transport = "wifi"
	_, _, err = FromConfig(cfg, nil)
	assert.Error(t, err)
}
