//go:build !linux && !windows

package printer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// BluetoothDiscoverer is not implemented on this platform
type BluetoothDiscoverer struct{}

func NewDiscoverer(*zap.Logger) *BluetoothDiscoverer {
	return &BluetoothDiscoverer{}
}

func (d *BluetoothDiscoverer) RadioReady(context.Context) error {
	return fmt.Errorf("%w: %w", ErrRadioUnavailable, ErrNotSupported)
}

func (d *BluetoothDiscoverer) Discover(context.Context, func(Device) bool) error {
	return ErrNotSupported
}

// BluetoothDialer is not implemented on this platform
type BluetoothDialer struct{}

func NewDialer(DialConfig, *zap.Logger) *BluetoothDialer {
	return &BluetoothDialer{}
}

func (d *BluetoothDialer) Dial(context.Context, Device) (Link, error) {
	return nil, fmt.Errorf("%w: %w", ErrRejected, ErrNotSupported)
}
