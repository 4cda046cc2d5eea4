// Package transport picks the printer transport named in the config.
package transport

import (
	"fmt"

	"go.uber.org/zap"

	"btlabel/internal/config"
	"btlabel/internal/printer"
	"btlabel/internal/usb"
)

// FromConfig returns the discoverer and dialer for cfg.Transport
func FromConfig(cfg config.Config, logger *zap.Logger) (printer.Discoverer, printer.Dialer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Transport {
	case config.TransportBluetooth, "":
		log := logger.Named("bluetooth")
		dial := printer.DialConfig{
			Channel:  cfg.Bluetooth.RFCOMMChannel,
			BaudRate: cfg.Bluetooth.BaudRate,
		}
		return printer.NewDiscoverer(log), printer.NewDialer(dial, log), nil
	case config.TransportUSB:
		log := logger.Named("usb")
		filter := usb.Filter{
			VendorID:  uint16(cfg.USB.VendorID),
			ProductID: uint16(cfg.USB.ProductID),
		}
		return usb.NewDiscoverer(filter, log), usb.NewDialer(log), nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}
