//go:build windows

package printer

import (
	"context"
	"fmt"
	"strings"

	"go.bug.st/serial"
	"go.uber.org/zap"
	"golang.org/x/sys/windows/registry"
)

// On Windows, paired Bluetooth SPP devices appear as COM ports and the OS
// manages the RFCOMM channel, so discovery reads the port map and dialing
// just opens the port.

const serialCommKey = `HARDWARE\DEVICEMAP\SERIALCOMM`

// BluetoothDiscoverer lists Bluetooth COM ports
type BluetoothDiscoverer struct {
	log *zap.Logger
}

func NewDiscoverer(logger *zap.Logger) *BluetoothDiscoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BluetoothDiscoverer{log: logger}
}

// RadioReady checks that the serial port map can be read
func (d *BluetoothDiscoverer) RadioReady(ctx context.Context) error {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, serialCommKey, registry.READ)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
	}
	key.Close()
	return ctx.Err()
}

// Discover reports Bluetooth COM ports, or every COM port if none of them
// is recognisably Bluetooth
func (d *BluetoothDiscoverer) Discover(ctx context.Context, found func(Device) bool) error {
	btPorts, err := getBluetoothCOMPorts()
	if err != nil {
		d.log.Debug("registry lookup failed", zap.Error(err))
	}

	var devices []Device
	for name, port := range btPorts {
		devices = append(devices, Device{Name: name, Address: port, Paired: true})
	}

	if len(devices) == 0 {
		ports, err := serial.GetPortsList()
		if err != nil {
			return fmt.Errorf("failed to list COM ports: %w", err)
		}
		for _, port := range ports {
			devices = append(devices, Device{Name: port, Address: port, Paired: true})
		}
	}

	for _, dev := range devices {
		if ctx.Err() != nil || !found(dev) {
			return nil
		}
	}
	return nil
}

// getBluetoothCOMPorts reads Bluetooth COM port mappings from registry
func getBluetoothCOMPorts() (map[string]string, error) {
	ports := make(map[string]string)

	key, err := registry.OpenKey(registry.LOCAL_MACHINE, serialCommKey, registry.READ)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	names, err := key.ReadValueNames(-1)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		val, _, err := key.GetStringValue(name)
		if err != nil {
			continue
		}
		lower := strings.ToLower(name)
		if strings.Contains(lower, "bth") || strings.Contains(lower, "bluetooth") {
			ports[name] = val
		}
	}

	return ports, nil
}

// BluetoothDialer opens Bluetooth COM ports
type BluetoothDialer struct {
	cfg DialConfig
	log *zap.Logger
}

func NewDialer(cfg DialConfig, logger *zap.Logger) *BluetoothDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BluetoothDialer{cfg: cfg.withDefaults(), log: logger}
}

// Dial opens the COM port named by dev.Address
func (d *BluetoothDialer) Dial(ctx context.Context, dev Device) (Link, error) {
	port := dev.Address
	if !strings.HasPrefix(strings.ToUpper(port), "COM") {
		return nil, fmt.Errorf("%w: invalid COM port %q", ErrDeviceNotFound, port)
	}

	ports, err := serial.GetPortsList()
	if err == nil && !containsFold(ports, port) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, port)
	}

	// COM ports above 9 need the \\.\COM10 form
	path := port
	if len(port) > 4 {
		path = `\\.\` + port
	}

	// Opening a Bluetooth COM port is where Windows performs the RFCOMM
	// connect, so it can block; honour ctx around it.
	type result struct {
		link *SerialLink
		err  error
	}
	done := make(chan result, 1)
	go func() {
		link, err := OpenSerial(path, d.cfg.BaudRate, d.log)
		done <- result{link, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRejected, r.err)
		}
		d.log.Info("opened port", zap.String("port", port))
		return r.link, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.link != nil {
				r.link.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
