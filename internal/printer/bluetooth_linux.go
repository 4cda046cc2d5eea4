//go:build linux

package printer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BluetoothDiscoverer finds Bluetooth printers through bluetoothctl
type BluetoothDiscoverer struct {
	log *zap.Logger
}

func NewDiscoverer(logger *zap.Logger) *BluetoothDiscoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BluetoothDiscoverer{log: logger}
}

// RadioReady checks that a default controller exists and is powered
func (d *BluetoothDiscoverer) RadioReady(ctx context.Context) error {
	if _, err := exec.LookPath("bluetoothctl"); err != nil {
		return fmt.Errorf("%w: bluetoothctl not found - install with: sudo apt install bluez", ErrRadioUnavailable)
	}

	out, err := exec.CommandContext(ctx, "bluetoothctl", "show").Output()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
	}

	text := ansiEscape.ReplaceAllString(string(out), "")
	if strings.Contains(text, "No default controller available") {
		return fmt.Errorf("%w: no controller", ErrRadioUnavailable)
	}
	if strings.Contains(text, "Powered: no") {
		return fmt.Errorf("%w: controller is powered off", ErrRadioUnavailable)
	}
	return nil
}

// Discover reports paired devices first, then devices seen by an active
// scan that runs until ctx's deadline
func (d *BluetoothDiscoverer) Discover(ctx context.Context, found func(Device) bool) error {
	paired, err := ListPairedBluetoothDevices(ctx)
	if err != nil {
		return err
	}
	for _, dev := range paired {
		if !found(dev) {
			return nil
		}
	}

	timeout := 10
	if deadline, ok := ctx.Deadline(); ok {
		timeout = int(math.Ceil(time.Until(deadline).Seconds()))
	}
	if timeout <= 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, "bluetoothctl", "--timeout", fmt.Sprint(timeout), "scan", "on")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to scan: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to scan: %w", err)
	}
	d.log.Debug("bluetooth scan started", zap.Int("timeout_s", timeout))

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		dev, ok := parseDeviceLine(scanner.Text())
		if !ok {
			continue
		}
		if !found(dev) {
			break
		}
	}

	if cmd.Process != nil {
		cmd.Process.Kill()
	}
	cmd.Wait()
	return nil
}

// ListPairedBluetoothDevices returns all paired Bluetooth devices
func ListPairedBluetoothDevices(ctx context.Context) ([]Device, error) {
	out, err := exec.CommandContext(ctx, "bluetoothctl", "devices", "Paired").Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list paired devices: %w", err)
	}

	var devices []Device
	for _, line := range strings.Split(string(out), "\n") {
		dev, ok := parseDeviceLine(line)
		if !ok {
			continue
		}
		dev.Paired = true
		devices = append(devices, dev)
	}

	return devices, nil
}

// FindAvailableRFCOMMDevice finds an unused /dev/rfcommN device number
func FindAvailableRFCOMMDevice() (string, int, error) {
	for i := 0; i < 10; i++ {
		devPath := fmt.Sprintf("/dev/rfcomm%d", i)
		out, _ := exec.Command("rfcomm", "show", devPath).CombinedOutput()
		if len(out) == 0 || strings.Contains(string(out), "No such device") {
			return devPath, i, nil
		}
	}
	return "", -1, fmt.Errorf("%w: no available RFCOMM device slots", ErrRFCOMMFailed)
}

// CheckRFCOMMInstalled verifies rfcomm binary is available
func CheckRFCOMMInstalled() error {
	if _, err := exec.LookPath("rfcomm"); err != nil {
		return fmt.Errorf("%w: rfcomm not found - install with: sudo apt install bluez", ErrRFCOMMFailed)
	}
	return nil
}

// CheckPrivilegeHelper returns pkexec or sudo, whichever is available
func CheckPrivilegeHelper() string {
	if _, err := exec.LookPath("pkexec"); err == nil {
		return "pkexec"
	}
	if _, err := exec.LookPath("sudo"); err == nil {
		return "sudo"
	}
	return ""
}

func privileged(ctx context.Context, helper string, args ...string) *exec.Cmd {
	if helper == "pkexec" {
		return exec.CommandContext(ctx, "pkexec", append([]string{"rfcomm"}, args...)...)
	}
	return exec.CommandContext(ctx, "sudo", append([]string{"-n", "rfcomm"}, args...)...)
}

// RFCOMMConnection is a running "rfcomm connect" process binding a device
// node to a remote channel
type RFCOMMConnection struct {
	DevicePath string
	MAC        string

	helper string
	cmd    *exec.Cmd
	cancel context.CancelFunc
	exited chan struct{}
	output *outputTail
	mu     sync.Mutex
}

// outputTail keeps the last lines rfcomm printed, for error messages
type outputTail struct {
	mu    sync.Mutex
	lines []string
}

func (o *outputTail) add(line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines = append(o.lines, line)
	if len(o.lines) > 8 {
		o.lines = o.lines[1:]
	}
}

func (o *outputTail) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return strings.Join(o.lines, "; ")
}

// EstablishRFCOMM binds a free /dev/rfcommN to mac and waits until the node
// appears or ctx ends. The binding outlives ctx; release it with Close.
func EstablishRFCOMM(ctx context.Context, mac string, channel int, logger *zap.Logger) (*RFCOMMConnection, error) {
	if err := CheckRFCOMMInstalled(); err != nil {
		return nil, err
	}

	devPath, devNum, err := FindAvailableRFCOMMDevice()
	if err != nil {
		return nil, err
	}

	helper := CheckPrivilegeHelper()
	if helper == "" {
		return nil, ErrPrivilegeRequired
	}

	procCtx, cancel := context.WithCancel(context.Background())
	conn := &RFCOMMConnection{
		DevicePath: devPath,
		MAC:        mac,
		helper:     helper,
		cancel:     cancel,
		exited:     make(chan struct{}),
		output:     &outputTail{},
	}

	cmd := privileged(procCtx, helper, "connect", fmt.Sprintf("/dev/rfcomm%d", devNum), mac, fmt.Sprint(channel))
	conn.cmd = cmd

	stderr, _ := cmd.StderrPipe()
	stdout, _ := cmd.StdoutPipe()

	logger.Info("connecting rfcomm", zap.String("mac", mac), zap.String("device", devPath))
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to start rfcomm: %v", ErrRFCOMMFailed, err)
	}

	var readers sync.WaitGroup
	for _, pipe := range []io.Reader{stdout, stderr} {
		readers.Add(1)
		go func() {
			defer readers.Done()
			scanner := bufio.NewScanner(pipe)
			for scanner.Scan() {
				logger.Debug("rfcomm", zap.String("output", scanner.Text()))
				conn.output.add(scanner.Text())
			}
		}()
	}
	go func() {
		readers.Wait()
		cmd.Wait()
		close(conn.exited)
	}()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return nil, ctx.Err()
		case <-conn.exited:
			conn.Close()
			return nil, classifyRFCOMMExit(conn.output.String())
		case <-ticker.C:
			if _, err := os.Stat(devPath); err == nil {
				logger.Info("rfcomm connected", zap.String("device", devPath))
				return conn, nil
			}
		}
	}
}

func classifyRFCOMMExit(output string) error {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "host is down"),
		strings.Contains(lower, "no route to host"),
		strings.Contains(lower, "no such device"):
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, output)
	case strings.Contains(lower, "timed out"):
		return fmt.Errorf("%w: %s", ErrConnectTimeout, output)
	}
	return fmt.Errorf("%w: rfcomm exited: %s", ErrRejected, output)
}

// Exited is closed when the rfcomm process ends, which is how a dropped
// Bluetooth link shows up
func (c *RFCOMMConnection) Exited() <-chan struct{} {
	return c.exited
}

// Close terminates the RFCOMM connection
func (c *RFCOMMConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	if c.DevicePath != "" && c.helper != "" {
		// the device node may already be gone; release is best effort
		privileged(context.Background(), c.helper, "release", c.DevicePath).Run()
	}

	return nil
}

// IsDeviceReady checks if the RFCOMM device is still available
func (c *RFCOMMConnection) IsDeviceReady() bool {
	if c.DevicePath == "" {
		return false
	}
	_, err := os.Stat(c.DevicePath)
	return err == nil
}

// BluetoothDialer connects over RFCOMM and opens the bound serial node
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

// Dial binds an RFCOMM node for dev and opens it
func (d *BluetoothDialer) Dial(ctx context.Context, dev Device) (Link, error) {
	if !IsMAC(dev.Address) {
		return nil, fmt.Errorf("%w: %q is not a Bluetooth address", ErrDeviceNotFound, dev.Address)
	}

	info, err := exec.CommandContext(ctx, "bluetoothctl", "info", dev.Address).CombinedOutput()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil || strings.Contains(string(info), "not available") {
		return nil, fmt.Errorf("%w: %s unknown to bluez", ErrDeviceNotFound, dev.Address)
	}

	rc, err := EstablishRFCOMM(ctx, dev.Address, d.cfg.Channel, d.log)
	if err != nil {
		return nil, err
	}

	link, err := OpenSerial(rc.DevicePath, d.cfg.BaudRate, d.log)
	if err != nil {
		rc.Close()
		return nil, errors.Join(ErrRejected, err)
	}
	link.ready = rc.IsDeviceReady
	link.release = rc.Close

	go func() {
		<-rc.Exited()
		link.lose(fmt.Errorf("rfcomm process exited: %s", rc.output.String()))
	}()

	d.log.Info("rfcomm link open", zap.String("device", dev.Address), zap.String("port", link.PortName()))
	return link, nil
}
