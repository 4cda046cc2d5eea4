// Package usb is a printer transport for ESC/POS printers attached by USB
// cable instead of Bluetooth.
package usb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"btlabel/internal/printer"
)

const addressPrefix = "usb:"

var (
	ErrNoPrinterInterface = errors.New("no printer interface found")
	ErrNoOutEndpoint      = errors.New("cannot find output endpoint from printer")
)

// Filter narrows discovery to one vendor and/or product. Zero matches any.
type Filter struct {
	VendorID  uint16
	ProductID uint16
}

func (f Filter) match(desc *gousb.DeviceDesc) bool {
	if f.VendorID != 0 && desc.Vendor != gousb.ID(f.VendorID) {
		return false
	}
	if f.ProductID != 0 && desc.Product != gousb.ID(f.ProductID) {
		return false
	}
	return true
}

// Address formats the device address used for USB printers, usb:VVVV:PPPP
func Address(vid, pid uint16) string {
	return fmt.Sprintf("%s%04x:%04x", addressPrefix, vid, pid)
}

// ParseAddress is the inverse of Address
func ParseAddress(addr string) (vid, pid uint16, err error) {
	rest, ok := strings.CutPrefix(strings.ToLower(addr), addressPrefix)
	if !ok {
		return 0, 0, fmt.Errorf("not a usb address: %q", addr)
	}
	v, p, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, 0, fmt.Errorf("not a usb address: %q", addr)
	}
	vv, err := strconv.ParseUint(v, 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("bad vendor id in %q: %w", addr, err)
	}
	pp, err := strconv.ParseUint(p, 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("bad product id in %q: %w", addr, err)
	}
	return uint16(vv), uint16(pp), nil
}

// IsPrinter reports whether any interface of desc is printer class
func IsPrinter(desc *gousb.DeviceDesc) bool {
	if desc == nil {
		return false
	}
	_, ok := printerInterface(desc)
	return ok
}

// printerInterface finds the first printer class interface setting
func printerInterface(desc *gousb.DeviceDesc) (gousb.InterfaceSetting, bool) {
	for _, cfg := range desc.Configs {
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.AltSettings {
				if alt.Class == gousb.ClassPrinter {
					return alt, true
				}
			}
		}
	}
	return gousb.InterfaceSetting{}, false
}

// Discoverer lists printer class USB devices
type Discoverer struct {
	filter Filter
	log    *zap.Logger
}

func NewDiscoverer(filter Filter, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{filter: filter, log: logger}
}

// RadioReady checks that libusb can be initialised
func (d *Discoverer) RadioReady(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	uctx := gousb.NewContext()
	return uctx.Close()
}

func (d *Discoverer) Discover(ctx context.Context, found func(printer.Device) bool) error {
	uctx := gousb.NewContext()
	defer uctx.Close()

	devices, err := uctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return d.filter.match(desc) && IsPrinter(desc)
	})
	defer func() {
		for _, dev := range devices {
			dev.Close()
		}
	}()
	if err != nil && len(devices) == 0 {
		return fmt.Errorf("failed to list usb devices: %w", err)
	}

	for _, dev := range devices {
		if ctx.Err() != nil {
			return nil
		}
		name, err := dev.Product()
		if err != nil {
			d.log.Debug("no product string", zap.Stringer("device", dev), zap.Error(err))
		}
		pd := printer.Device{
			Address: Address(uint16(dev.Desc.Vendor), uint16(dev.Desc.Product)),
			Name:    name,
			Paired:  true,
		}
		d.log.Debug("found usb printer", zap.Stringer("device", pd))
		if !found(pd) {
			return nil
		}
	}
	return nil
}

// Dialer opens USB printers by the address Discover reports
type Dialer struct {
	log *zap.Logger
}

func NewDialer(logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{log: logger}
}

func (d *Dialer) Dial(ctx context.Context, dev printer.Device) (printer.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vid, pid, err := ParseAddress(dev.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", printer.ErrDeviceNotFound, err)
	}

	l := &Link{ctx: gousb.NewContext(), log: d.log.With(zap.String("device", dev.Address))}
	if err := l.open(gousb.ID(vid), gousb.ID(pid)); err != nil {
		l.release()
		return nil, err
	}
	l.log.Info("usb printer opened")
	return l, nil
}

// Link writes to the printer's bulk OUT endpoint
type Link struct {
	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	iface  *gousb.Interface
	out    *gousb.OutEndpoint
	log    *zap.Logger

	writeMu sync.Mutex

	mu           sync.Mutex
	closed       bool
	lost         error
	onDisconnect []func(error)
}

func (l *Link) open(vid, pid gousb.ID) error {
	device, err := l.ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		return fmt.Errorf("%w: %w", printer.ErrRejected, err)
	}
	if device == nil {
		return fmt.Errorf("%w: %s:%s", printer.ErrDeviceNotFound, vid, pid)
	}
	l.device = device

	if runtime.GOOS == "linux" {
		if err := device.SetAutoDetach(true); err != nil {
			l.log.Debug("auto detach unavailable", zap.Error(err))
		}
	}

	setting, ok := printerInterface(device.Desc)
	if !ok {
		return fmt.Errorf("%w: %w", printer.ErrRejected, ErrNoPrinterInterface)
	}

	cfgNum, err := device.ActiveConfigNum()
	if err != nil {
		return fmt.Errorf("%w: failed to get active config: %w", printer.ErrRejected, err)
	}
	l.config, err = device.Config(cfgNum)
	if err != nil {
		return fmt.Errorf("%w: failed to get config: %w", printer.ErrRejected, err)
	}

	l.iface, err = l.config.Interface(setting.Number, setting.Alternate)
	if err != nil {
		return fmt.Errorf("%w: failed to claim interface: %w", printer.ErrRejected, err)
	}

	for _, ep := range l.iface.Setting.Endpoints {
		if ep.Direction != gousb.EndpointDirectionOut {
			continue
		}
		if l.out, err = l.iface.OutEndpoint(ep.Number); err == nil {
			break
		}
	}
	if l.out == nil {
		return fmt.Errorf("%w: %w", printer.ErrRejected, ErrNoOutEndpoint)
	}
	return nil
}

func (l *Link) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	closed, lost := l.closed, l.lost
	l.mu.Unlock()
	if closed || lost != nil {
		return &printer.TransportError{Kind: printer.LinkLost, Err: lost}
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	n, err := l.out.WriteContext(ctx, p)
	switch {
	case err == nil && n < len(p):
		return &printer.TransportError{Kind: printer.WriteFailed, Err: fmt.Errorf("short write: %d of %d bytes", n, len(p))}
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, gousb.ErrorNoDevice):
		l.lose(err)
		return &printer.TransportError{Kind: printer.LinkLost, Err: err}
	}
	return &printer.TransportError{Kind: printer.WriteFailed, Err: err}
}

func (l *Link) OnDisconnect(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDisconnect = append(l.onDisconnect, fn)
}

func (l *Link) lose(cause error) {
	l.mu.Lock()
	if l.closed || l.lost != nil {
		l.mu.Unlock()
		return
	}
	l.lost = cause
	handlers := l.onDisconnect
	l.mu.Unlock()

	l.log.Warn("usb printer detached", zap.Error(cause))
	for _, fn := range handlers {
		fn(cause)
	}
}

func (l *Link) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed && l.lost == nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.release()
}

func (l *Link) release() error {
	var errs []error
	if l.iface != nil {
		l.iface.Close()
		l.iface = nil
	}
	if l.config != nil {
		if err := l.config.Close(); err != nil {
			errs = append(errs, err)
		}
		l.config = nil
	}
	if l.device != nil {
		if err := l.device.Close(); err != nil {
			errs = append(errs, err)
		}
		l.device = nil
	}
	if l.ctx != nil {
		if err := l.ctx.Close(); err != nil {
			errs = append(errs, err)
		}
		l.ctx = nil
	}
	return errors.Join(errs...)
}
