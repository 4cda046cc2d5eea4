package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "btlabel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func valid() Config {
	cfg := Defaults()
	cfg.ScanTimeoutMs = 5000
	cfg.ConnectTimeoutMs = 10000
	return cfg
}

func TestDefaultsRequireTimeouts(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan_timeout_ms")

	cfg = valid()
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
scan_timeout_ms: 3000
connect_timeout_ms: 8000
bluetooth:
  rfcomm_channel: 2
encoder:
  code_page: cp858
logging:
  level: debug
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3000, cfg.ScanTimeoutMs)
	assert.Equal(t, 8000, cfg.ConnectTimeoutMs)
	assert.Equal(t, 2, cfg.Bluetooth.RFCOMMChannel)
	assert.Equal(t, 115200, cfg.Bluetooth.BaudRate)
	assert.Equal(t, "cp858", cfg.Encoder.CodePage)
	assert.Equal(t, 2048, cfg.Encoder.MaxQRPayload)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, TransportBluetooth, cfg.Transport)
}

func TestLoadTSPLSettings(t *testing.T) {
	path := writeFile(t, `
scan_timeout_ms: 3000
connect_timeout_ms: 8000
encoder:
  protocol: tspl
  label_size: 50x30mm
  gap_mm: 3.5
  density: 10
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ProtocolTSPL, cfg.Encoder.Protocol)
	assert.Equal(t, "50x30mm", cfg.Encoder.LabelSize)
	assert.Equal(t, 3.5, cfg.Encoder.GapMM)
	assert.Equal(t, 10, cfg.Encoder.Density)
	assert.Equal(t, "cp437", cfg.Encoder.CodePage)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)

	want := Defaults()
	assert.Equal(t, &want, cfg)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, `
scan_timeout_ms: 3000
connect_timeout_ms: 8000
logging:
  level: warn
`)
	t.Setenv("BTLABEL_SCAN_TIMEOUT_MS", "4000")
	t.Setenv("BTLABEL_CONNECT_TIMEOUT_MS", "9000")
	t.Setenv("BTLABEL_ENCODER_CODE_PAGE", "cp850")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{"--scan-timeout-ms=1500", "--transport=usb"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, 1500, cfg.ScanTimeoutMs, "flag beats env")
	assert.Equal(t, 9000, cfg.ConnectTimeoutMs, "env beats file")
	assert.Equal(t, "cp850", cfg.Encoder.CodePage, "env beats default")
	assert.Equal(t, "warn", cfg.Logging.Level, "file beats unset flag default")
	assert.Equal(t, TransportUSB, cfg.Transport)
	assert.Equal(t, 1, cfg.Bluetooth.RFCOMMChannel)
}

func TestEveryKeyHasAFlag(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)

	bound := make(map[string]bool)
	for name, key := range flagKeys {
		require.NotNil(t, flags.Lookup(name), "--%s", name)
		bound[key] = true
	}
	for _, key := range keys {
		assert.True(t, bound[key], "no flag for %s", key)
	}
}

func TestEncoderFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{
		"--max-qr-payload=512", "--paper-width-dots=576", "--gap-mm=3", "--density=12",
	}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Encoder.MaxQRPayload)
	assert.Equal(t, 576, cfg.Encoder.PaperWidthDots)
	assert.Equal(t, 3.0, cfg.Encoder.GapMM)
	assert.Equal(t, 12, cfg.Encoder.Density)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeFile(t, "scan_timeout_ms: [")
	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"unknown transport", func(c *Config) { c.Transport = "wifi" }, "invalid transport"},
		{"missing connect timeout", func(c *Config) { c.ConnectTimeoutMs = 0 }, "connect_timeout_ms"},
		{"negative scan timeout", func(c *Config) { c.ScanTimeoutMs = -1 }, "scan_timeout_ms"},
		{"channel out of range", func(c *Config) { c.Bluetooth.RFCOMMChannel = 31 }, "rfcomm channel"},
		{"zero baud rate", func(c *Config) { c.Bluetooth.BaudRate = 0 }, "baud rate"},
		{"usb id out of range", func(c *Config) { c.USB.VendorID = 0x10000 }, "usb ids"},
		{"unknown protocol", func(c *Config) { c.Encoder.Protocol = "zpl" }, "invalid encoder protocol"},
		{"empty code page", func(c *Config) { c.Encoder.CodePage = "" }, "code page"},
		{"zero qr payload", func(c *Config) { c.Encoder.MaxQRPayload = 0 }, "max qr payload"},
		{"narrow paper", func(c *Config) { c.Encoder.PaperWidthDots = 4 }, "paper width"},
		{"tspl without label size", func(c *Config) { c.Encoder.Protocol = ProtocolTSPL; c.Encoder.LabelSize = "" }, "label size"},
		{"tspl density", func(c *Config) { c.Encoder.Protocol = ProtocolTSPL; c.Encoder.Density = 16 }, "density"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestTimeoutDurations(t *testing.T) {
	cfg := valid()
	assert.Equal(t, "5s", cfg.ScanTimeout().String())
	assert.Equal(t, "10s", cfg.ConnectTimeout().String())
}
