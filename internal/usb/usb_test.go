package usb

import (
	"context"
	"testing"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btlabel/internal/printer"
)

func descWithClass(vid, pid gousb.ID, class gousb.Class) *gousb.DeviceDesc {
	return &gousb.DeviceDesc{
		Vendor:  vid,
		Product: pid,
		Configs: map[int]gousb.ConfigDesc{
			1: {
				Number: 1,
				Interfaces: []gousb.InterfaceDesc{
					{
						Number: 0,
						AltSettings: []gousb.InterfaceSetting{
							{Number: 0, Alternate: 0, Class: class},
						},
					},
				},
			},
		},
	}
}

func TestAddressRoundTrip(t *testing.T) {
	addr := Address(0x04b8, 0x0e15)
	assert.Equal(t, "usb:04b8:0e15", addr)

	vid, pid, err := ParseAddress("USB:04B8:0E15")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x04b8), vid)
	assert.Equal(t, uint16(0x0e15), pid)
}

func TestParseAddressRejects(t *testing.T) {
	for _, addr := range []string{"AA:BB:CC:DD:EE:FF", "usb:04b8", "usb:zzzz:0001", "usb:04b8:10000"} {
		t.Run(addr, func(t *testing.T) {
			_, _, err := ParseAddress(addr)
			assert.Error(t, err)
		})
	}
}

func TestIsPrinter(t *testing.T) {
	assert.False(t, IsPrinter(nil))
	assert.True(t, IsPrinter(descWithClass(0x04b8, 0x0202, gousb.ClassPrinter)))
	assert.False(t, IsPrinter(descWithClass(0x046d, 0xc52b, gousb.ClassHID)))
}

func TestFilter(t *testing.T) {
	desc := descWithClass(0x0519, 0x0001, gousb.ClassPrinter)

	assert.True(t, Filter{}.match(desc))
	assert.True(t, Filter{VendorID: 0x0519}.match(desc))
	assert.True(t, Filter{VendorID: 0x0519, ProductID: 0x0001}.match(desc))
	assert.False(t, Filter{VendorID: 0x04b8}.match(desc))
	assert.False(t, Filter{ProductID: 0x0002}.match(desc))
}

func TestDialRejectsNonUSBAddress(t *testing.T) {
	_, err := NewDialer(nil).Dial(context.Background(), printer.Device{Address: "AA:BB:CC:DD:EE:FF"})
	assert.ErrorIs(t, err, printer.ErrDeviceNotFound)
}

func TestDiscoverFindsAttachedPrinters(t *testing.T) {
	d := NewDiscoverer(Filter{}, nil)
	if err := d.RadioReady(context.Background()); err != nil {
		t.Skip("libusb unavailable, skipping test")
	}

	var found []printer.Device
	err := d.Discover(context.Background(), func(dev printer.Device) bool {
		found = append(found, dev)
		return true
	})
	if err != nil || len(found) == 0 {
		t.Skip("No USB printers found")
	}
	for _, dev := range found {
		_, _, err := ParseAddress(dev.Address)
		assert.NoError(t, err)
	}
}
