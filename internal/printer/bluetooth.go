// Package printer is the boundary to the platform's printer transports:
// Bluetooth discovery and the byte-stream link to a connected printer.
package printer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Device is a discovered printer. Snapshots are immutable.
type Device struct {
	Address string // MAC address on Linux, COM port on Windows, usb:VVVV:PPPP for USB
	Name    string
	Paired  bool
}

func (d Device) String() string {
	if d.Name == "" {
		return d.Address
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.Address)
}

// Matches reports whether the device name contains filter, ignoring case.
// An empty filter matches every device.
func (d Device) Matches(filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(d.Name), strings.ToLower(filter))
}

// Discoverer finds printers reachable through one transport
type Discoverer interface {
	// RadioReady fails if the adapter is missing or powered off
	RadioReady(ctx context.Context) error
	// Discover calls found for each device as it is seen, until ctx is done,
	// discovery finishes, or found returns false. Ending because ctx expired
	// is not an error.
	Discover(ctx context.Context, found func(Device) bool) error
}

// Dialer opens a Link to a device
type Dialer interface {
	Dial(ctx context.Context, dev Device) (Link, error)
}

// Link is a live byte-stream session to one printer
type Link interface {
	// Write sends p in one logical write and returns once the transport has
	// accepted it. Errors are *TransportError unless ctx ended first.
	Write(ctx context.Context, p []byte) error
	// OnDisconnect registers fn to run once when the link drops on its own.
	// It is not called for Close.
	OnDisconnect(fn func(error))
	Alive() bool
	Close() error
}

// DialConfig carries transport settings for Bluetooth serial links
type DialConfig struct {
	Channel  int // RFCOMM channel
	BaudRate int
}

func (c DialConfig) withDefaults() DialConfig {
	if c.Channel <= 0 {
		c.Channel = 1
	}
	if c.BaudRate <= 0 {
		c.BaudRate = 115200
	}
	return c
}

var (
	ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]|\x01|\x02`)
	macAddress = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)
)

// IsMAC reports whether s looks like a Bluetooth device address
func IsMAC(s string) bool {
	return macAddress.MatchString(s)
}

// parseDeviceLine reads one line of bluetoothctl output. It accepts the
// "Device <MAC> <Name>" lines of "devices" and the "[NEW] Device ..." lines
// printed while scanning. bluetoothctl reports the address with dashes as
// the name of devices that have not announced one.
func parseDeviceLine(line string) (Device, bool) {
	line = strings.TrimSpace(ansiEscape.ReplaceAllString(line, ""))
	line = strings.TrimPrefix(line, "[NEW] ")
	if !strings.HasPrefix(line, "Device ") {
		return Device{}, false
	}

	parts := strings.SplitN(strings.TrimPrefix(line, "Device "), " ", 2)
	if !IsMAC(parts[0]) {
		return Device{}, false
	}
	dev := Device{Address: strings.ToUpper(parts[0])}
	if len(parts) == 2 {
		name := strings.TrimSpace(parts[1])
		if name != strings.ReplaceAll(parts[0], ":", "-") {
			dev.Name = name
		}
	}
	return dev, true
}
