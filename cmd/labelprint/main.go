package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"btlabel/internal/client"
	"btlabel/internal/config"
	"btlabel/internal/label"
	"btlabel/internal/logging"
	"btlabel/internal/transport"
)

const AppName = "labelprint"

const usage = `usage: labelprint <command> [flags]

commands:
  scan                       list printers in range
  print FILE.yaml            print a label file
  encode FILE.yaml           write the printer bytes for a label file
  test-page                  print a short test label

run "labelprint <command> --help" for the flags of a command
`

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

// options holds the flags every command accepts
type options struct {
	flags      *pflag.FlagSet
	configPath string
	device     string
	filter     string
	output     string
	copies     int
}

func newFlags(name string) *options {
	o := &options{flags: pflag.NewFlagSet(name, pflag.ContinueOnError)}
	o.flags.StringVarP(&o.configPath, "config", "c", "btlabel.yaml", "config file")
	config.RegisterFlags(o.flags)
	return o
}

func (o *options) withTarget() {
	o.flags.StringVarP(&o.device, "device", "d", "", "printer address (MAC, COM port or usb:VVVV:PPPP)")
	o.flags.StringVarP(&o.filter, "filter", "f", "", "connect to the first printer whose name contains this")
}

func run(ctx context.Context, command string, args []string, stdout io.Writer) error {
	o := newFlags(command)
	switch command {
	case "scan":
		o.flags.StringVarP(&o.filter, "filter", "f", "", "only list printers whose name contains this")
	case "print":
		o.withTarget()
		o.flags.IntVarP(&o.copies, "copies", "n", 1, "number of copies")
	case "test-page":
		o.withTarget()
	case "encode":
		o.flags.StringVarP(&o.output, "output", "o", "", "output file (hex dump to stdout if empty)")
	default:
		return fmt.Errorf("unknown command %q\n\n%s", command, usage)
	}
	if err := o.flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(o.configPath, o.flags)
	if err != nil {
		return err
	}

	if command == "encode" {
		return encode(cfg, o, stdout)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	d, dialer, err := transport.FromConfig(*cfg, logger)
	if err != nil {
		return err
	}
	cl, err := client.New(*cfg, d, dialer, client.WithLogger(logger))
	if err != nil {
		return err
	}
	defer cl.Close()

	switch command {
	case "scan":
		return scan(ctx, cl, o.filter, stdout)
	case "print":
		if o.flags.NArg() != 1 {
			return errors.New("print needs exactly one label file")
		}
		content, err := label.Load(o.flags.Arg(0), label.LoadOptions{PaperWidth: cl.Encoder().Width()})
		if err != nil {
			return err
		}
		return printLabel(ctx, cl, logger, o, content, stdout)
	case "test-page":
		return printLabel(ctx, cl, logger, o, testPage(cfg), stdout)
	}
	return nil
}

func scan(ctx context.Context, cl *client.Client, filter string, stdout io.Writer) error {
	ch, err := cl.Scan(ctx, client.ScanOptions{Filter: filter})
	if err != nil {
		return err
	}
	n := 0
	for dev := range ch {
		n++
		paired := ""
		if dev.Paired {
			paired = "paired"
		}
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", dev.Address, dev.Name, paired)
	}
	if n == 0 {
		return client.ErrNoDevice
	}
	return nil
}

func target(ctx context.Context, cl *client.Client, o *options) (client.Device, error) {
	if o.device != "" {
		return client.Device{Address: o.device}, nil
	}
	if o.filter == "" {
		return client.Device{}, errors.New("either --device or --filter is required")
	}
	return cl.FindFirst(ctx, client.ScanOptions{Filter: o.filter})
}

func printLabel(ctx context.Context, cl *client.Client, logger *zap.Logger, o *options, content label.Content, stdout io.Writer) error {
	dev, err := target(ctx, cl, o)
	if err != nil {
		return err
	}
	if err := cl.Connect(ctx, dev, client.ConnectOptions{}); err != nil {
		return err
	}

	copies := max(o.copies, 1)
	jobs := make([]*client.Job, 0, copies)
	for i := 0; i < copies; i++ {
		j, err := cl.Submit(ctx, content)
		if err != nil {
			return err
		}
		jobs = append(jobs, j)
	}

	for _, j := range jobs {
		if err := j.Wait(ctx); err != nil {
			return fmt.Errorf("job %s: %w", j.ID, err)
		}
		logger.Debug("printed", zap.String("job", j.ID), zap.Int("bytes", j.Size()))
	}
	fmt.Fprintf(stdout, "printed %d label(s) on %s\n", len(jobs), dev)
	return cl.Disconnect()
}

func encode(cfg *config.Config, o *options, stdout io.Writer) error {
	if o.flags.NArg() != 1 {
		return errors.New("encode needs exactly one label file")
	}
	enc, err := client.NewEncoder(cfg.Encoder)
	if err != nil {
		return err
	}
	content, err := label.Load(o.flags.Arg(0), label.LoadOptions{PaperWidth: enc.Width()})
	if err != nil {
		return err
	}
	data, err := enc.EncodeLabel(content)
	if err != nil {
		return err
	}

	if o.output == "" {
		_, err := io.WriteString(stdout, hex.Dump(data))
		return err
	}
	return os.WriteFile(o.output, data, 0o644)
}

func testPage(cfg *config.Config) label.Content {
	// one die-cut label has room for far less than a receipt
	if cfg.Encoder.Protocol == config.ProtocolTSPL {
		return label.New(
			label.Text{Text: AppName + "\n", Bold: true},
			label.Text{Text: cfg.Encoder.LabelSize + "\n"},
			label.QR{Payload: "https://github.com/", Size: 3, ErrorCorrection: label.ECMedium},
		)
	}
	return label.New(
		label.Text{Text: AppName + "\n", Size: label.Double, Bold: true},
		label.Text{Text: strings.Repeat("-", 32) + "\n"},
		label.Text{Text: fmt.Sprintf("transport: %s\n", cfg.Transport)},
		label.Text{Text: fmt.Sprintf("code page: %s\n", cfg.Encoder.CodePage)},
		label.Text{Text: "normal ", Size: label.Normal},
		label.Text{Text: "bold\n", Bold: true},
		label.Text{Text: "LARGE\n", Size: label.Large},
		label.Feed{Lines: 1},
		label.QR{Payload: "https://github.com/", Size: 6, ErrorCorrection: label.ECMedium},
		label.Feed{Lines: 3},
	)
}
