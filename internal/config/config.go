// Package config loads client settings from a YAML file, BTLABEL_*
// environment variables and command line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "BTLABEL"

const (
	TransportBluetooth = "bluetooth"
	TransportUSB       = "usb"
)

const (
	ProtocolESCPOS = "escpos"
	ProtocolTSPL   = "tspl"
)

type Config struct {
	Transport        string          `mapstructure:"transport"`
	ScanTimeoutMs    int             `mapstructure:"scan_timeout_ms"`
	ConnectTimeoutMs int             `mapstructure:"connect_timeout_ms"`
	Bluetooth        BluetoothConfig `mapstructure:"bluetooth"`
	USB              USBConfig       `mapstructure:"usb"`
	Encoder          EncoderConfig   `mapstructure:"encoder"`
	Logging          LoggingConfig   `mapstructure:"logging"`
}

type BluetoothConfig struct {
	RFCOMMChannel int `mapstructure:"rfcomm_channel"`
	BaudRate      int `mapstructure:"baud_rate"`
}

// USBConfig narrows USB discovery. Zero IDs match any printer-class device.
type USBConfig struct {
	VendorID  int `mapstructure:"vendor_id"`
	ProductID int `mapstructure:"product_id"`
}

type EncoderConfig struct {
	Protocol       string `mapstructure:"protocol"`
	CodePage       string `mapstructure:"code_page"`
	MaxQRPayload   int    `mapstructure:"max_qr_payload"`
	PaperWidthDots int    `mapstructure:"paper_width_dots"`
	// The rest only apply to tspl
	LabelSize string  `mapstructure:"label_size"`
	GapMM     float64 `mapstructure:"gap_mm"`
	Density   int     `mapstructure:"density"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Defaults returns the built-in settings. The timeouts are left at zero:
// they must be supplied explicitly.
func Defaults() Config {
	return Config{
		Transport: TransportBluetooth,
		Bluetooth: BluetoothConfig{
			RFCOMMChannel: 1,
			BaudRate:      115200,
		},
		Encoder: EncoderConfig{
			Protocol:       ProtocolESCPOS,
			CodePage:       "cp437",
			MaxQRPayload:   2048,
			PaperWidthDots: 384,
			LabelSize:      "40x30mm",
			GapMM:          2,
			Density:        8,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// keys lists every setting so env vars bind even without a default
var keys = []string{
	"transport",
	"scan_timeout_ms",
	"connect_timeout_ms",
	"bluetooth.rfcomm_channel",
	"bluetooth.baud_rate",
	"usb.vendor_id",
	"usb.product_id",
	"encoder.protocol",
	"encoder.code_page",
	"encoder.max_qr_payload",
	"encoder.paper_width_dots",
	"encoder.label_size",
	"encoder.gap_mm",
	"encoder.density",
	"logging.level",
	"logging.format",
}

// flagKeys maps command line flag names to settings
var flagKeys = map[string]string{
	"transport":          "transport",
	"scan-timeout-ms":    "scan_timeout_ms",
	"connect-timeout-ms": "connect_timeout_ms",
	"rfcomm-channel":     "bluetooth.rfcomm_channel",
	"baud-rate":          "bluetooth.baud_rate",
	"usb-vendor-id":      "usb.vendor_id",
	"usb-product-id":     "usb.product_id",
	"protocol":           "encoder.protocol",
	"code-page":          "encoder.code_page",
	"max-qr-payload":     "encoder.max_qr_payload",
	"paper-width-dots":   "encoder.paper_width_dots",
	"label-size":         "encoder.label_size",
	"gap-mm":             "encoder.gap_mm",
	"density":            "encoder.density",
	"log-level":          "logging.level",
	"log-format":         "logging.format",
}

// Load reads the config file at path (optional; a missing file is not an
// error), then environment variables, then any flags in flags that were set.
// The result is not validated.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	d := Defaults()
	v.SetDefault("transport", d.Transport)
	v.SetDefault("bluetooth.rfcomm_channel", d.Bluetooth.RFCOMMChannel)
	v.SetDefault("bluetooth.baud_rate", d.Bluetooth.BaudRate)
	v.SetDefault("encoder.protocol", d.Encoder.Protocol)
	v.SetDefault("encoder.code_page", d.Encoder.CodePage)
	v.SetDefault("encoder.max_qr_payload", d.Encoder.MaxQRPayload)
	v.SetDefault("encoder.paper_width_dots", d.Encoder.PaperWidthDots)
	v.SetDefault("encoder.label_size", d.Encoder.LabelSize)
	v.SetDefault("encoder.gap_mm", d.Encoder.GapMM)
	v.SetDefault("encoder.density", d.Encoder.Density)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// RegisterFlags adds the flags Load understands to flags
func RegisterFlags(flags *pflag.FlagSet) {
	d := Defaults()
	flags.String("transport", d.Transport, "printer transport: bluetooth or usb")
	flags.Int("scan-timeout-ms", 0, "discovery timeout in milliseconds (required)")
	flags.Int("connect-timeout-ms", 0, "connection timeout in milliseconds (required)")
	flags.Int("rfcomm-channel", d.Bluetooth.RFCOMMChannel, "RFCOMM channel of the printer's serial port profile")
	flags.Int("baud-rate", d.Bluetooth.BaudRate, "serial baud rate")
	flags.Int("usb-vendor-id", 0, "USB vendor ID to match (0 for any printer)")
	flags.Int("usb-product-id", 0, "USB product ID to match (0 for any printer)")
	flags.String("protocol", d.Encoder.Protocol, "printer command set: escpos or tspl")
	flags.String("code-page", d.Encoder.CodePage, "printer character code page")
	flags.Int("max-qr-payload", d.Encoder.MaxQRPayload, "largest QR payload in bytes")
	flags.Int("paper-width-dots", d.Encoder.PaperWidthDots, "printable paper width in dots (escpos)")
	flags.String("label-size", d.Encoder.LabelSize, "label size for tspl, e.g. 40x30mm")
	flags.Float64("gap-mm", d.Encoder.GapMM, "gap between labels in mm (tspl)")
	flags.Int("density", d.Encoder.Density, "print darkness 0-15 (tspl)")
	flags.String("log-level", d.Logging.Level, "log level: debug, info, warn, error")
	flags.String("log-format", d.Logging.Format, "log format: console or json")
}

func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.ScanTimeoutMs) * time.Millisecond
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

func (c *Config) Validate() error {
	if c.Transport != TransportBluetooth && c.Transport != TransportUSB {
		return fmt.Errorf("invalid transport: %s (valid: bluetooth, usb)", c.Transport)
	}

	if c.ScanTimeoutMs <= 0 {
		return fmt.Errorf("scan_timeout_ms is required and must be positive, got %d", c.ScanTimeoutMs)
	}

	if c.ConnectTimeoutMs <= 0 {
		return fmt.Errorf("connect_timeout_ms is required and must be positive, got %d", c.ConnectTimeoutMs)
	}

	if c.Bluetooth.RFCOMMChannel < 1 || c.Bluetooth.RFCOMMChannel > 30 {
		return fmt.Errorf("rfcomm channel must be between 1 and 30, got %d", c.Bluetooth.RFCOMMChannel)
	}

	if c.Bluetooth.BaudRate <= 0 {
		return fmt.Errorf("baud rate must be positive, got %d", c.Bluetooth.BaudRate)
	}

	if c.USB.VendorID < 0 || c.USB.VendorID > 0xFFFF || c.USB.ProductID < 0 || c.USB.ProductID > 0xFFFF {
		return fmt.Errorf("usb ids must be between 0 and 0xffff")
	}

	if c.Encoder.Protocol != ProtocolESCPOS && c.Encoder.Protocol != ProtocolTSPL {
		return fmt.Errorf("invalid encoder protocol: %s (valid: escpos, tspl)", c.Encoder.Protocol)
	}

	if c.Encoder.CodePage == "" {
		return fmt.Errorf("encoder code page is required")
	}

	if c.Encoder.MaxQRPayload < 1 {
		return fmt.Errorf("max qr payload must be at least 1, got %d", c.Encoder.MaxQRPayload)
	}

	if c.Encoder.PaperWidthDots < 8 {
		return fmt.Errorf("paper width must be at least 8 dots, got %d", c.Encoder.PaperWidthDots)
	}

	if c.Encoder.Protocol == ProtocolTSPL {
		if c.Encoder.LabelSize == "" {
			return fmt.Errorf("encoder label size is required for tspl")
		}
		if c.Encoder.GapMM < 0 {
			return fmt.Errorf("label gap must not be negative, got %.1f", c.Encoder.GapMM)
		}
		if c.Encoder.Density < 0 || c.Encoder.Density > 15 {
			return fmt.Errorf("density must be between 0 and 15, got %d", c.Encoder.Density)
		}
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (valid: console, json)", c.Logging.Format)
	}

	return nil
}
