package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strconv"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"btlabel/internal/client"
	"btlabel/internal/config"
	"btlabel/internal/imaging"
	"btlabel/internal/label"
	"btlabel/internal/logging"
	"btlabel/internal/transport"
)

const (
	AppVersion = "0.3.0"
	AppName    = "Label Print"
)

type App struct {
	fyneApp fyne.App
	window  fyne.Window
	client  *client.Client
	log     *zap.Logger

	paperWidth int
	sourceImg  image.Image
	previewImg *canvas.Image

	// Settings
	size       label.FontSize
	bold       bool
	renderText bool
	fontSize   float64
	threshold  uint8
	invert     bool
	qrSize     int
	qrEC       label.ECLevel
	feedLines  int

	// Widgets that need updating
	statusLabel  *widget.Label
	deviceSelect *widget.Select
	scanBtn      *widget.Button
	connectBtn   *widget.Button
	printBtn     *widget.Button
	textEntry    *widget.Entry
	qrEntry      *widget.Entry

	// Devices found by the last scan
	devicesMu  sync.Mutex
	devices    []client.Device
	scanCancel context.CancelFunc
}

func main() {
	flags := pflag.NewFlagSet("labelprint-gui", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "btlabel.yaml", "config file")
	config.RegisterFlags(flags)
	flags.Parse(os.Args[1:])

	cl, logger, err := setup(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
	defer logger.Sync()

	a := app.New()
	w := a.NewWindow(fmt.Sprintf("%s v%s", AppName, AppVersion))
	w.Resize(fyne.NewSize(700, 560))

	labelApp := &App{
		fyneApp:    a,
		window:     w,
		client:     cl,
		log:        logger,
		paperWidth: cl.Encoder().Width(),
		fontSize:   24,
		threshold:  imaging.DefaultThreshold,
		qrSize:     6,
		qrEC:       label.ECMedium,
		feedLines:  2,
	}

	cl.On(client.EventStateChanged, labelApp.onStateChanged)
	cl.On(client.EventJobUpdated, labelApp.onJobUpdated)

	w.SetMainMenu(labelApp.buildMenu())
	w.SetContent(labelApp.buildUI())
	w.SetOnClosed(labelApp.cleanup)
	w.ShowAndRun()
}

func setup(configPath string, flags *pflag.FlagSet) (*client.Client, *zap.Logger, error) {
	cfg, err := config.Load(configPath, flags)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	d, dialer, err := transport.FromConfig(*cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	cl, err := client.New(*cfg, d, dialer, client.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return cl, logger, nil
}

func (a *App) buildMenu() *fyne.MainMenu {
	aboutItem := fyne.NewMenuItem("About", func() {
		a.showAboutDialog()
	})
	return fyne.NewMainMenu(fyne.NewMenu("Help", aboutItem))
}

func (a *App) showAboutDialog() {
	content := container.NewVBox(
		widget.NewLabelWithStyle(AppName, fyne.TextAlignCenter, fyne.TextStyle{Bold: true}),
		widget.NewLabel(fmt.Sprintf("Version %s", AppVersion)),
		widget.NewSeparator(),
		widget.NewLabel("Prints text, QR codes and images on ESC/POS and TSPL label printers."),
		widget.NewLabel(fmt.Sprintf("Paper width: %d dots", a.paperWidth)),
	)
	dialog.ShowCustom("About", "Close", content, a.window)
}

func (a *App) cleanup() {
	a.stopScan()
	if err := a.client.Close(); err != nil {
		a.log.Warn("close failed", zap.Error(err))
	}
}

func (a *App) buildUI() fyne.CanvasObject {
	a.statusLabel = widget.NewLabel("Not connected")

	// === PRINTER SECTION ===
	a.deviceSelect = widget.NewSelect([]string{}, func(string) {})
	a.deviceSelect.PlaceHolder = "Scan for printers"
	a.scanBtn = widget.NewButton("Scan", func() {
		a.scan()
	})
	a.connectBtn = widget.NewButton("Connect", func() {
		a.toggleConnection()
	})

	deviceRow := container.NewBorder(
		nil, nil, nil,
		container.NewHBox(a.scanBtn, a.connectBtn),
		a.deviceSelect,
	)

	a.printBtn = widget.NewButton("Print", func() {
		a.print()
	})
	a.printBtn.Importance = widget.HighImportance
	a.printBtn.Disable()

	// === TEXT TAB ===
	a.textEntry = widget.NewMultiLineEntry()
	a.textEntry.SetPlaceHolder("Enter label text...")
	a.textEntry.SetMinRowsVisible(3)
	a.textEntry.OnChanged = func(string) {
		a.updatePreview()
	}

	sizeSelect := widget.NewSelect([]string{label.Normal.String(), label.Double.String(), label.Large.String()}, func(s string) {
		if size, err := label.ParseFontSize(s); err == nil {
			a.size = size
		}
	})
	sizeSelect.SetSelected(label.Normal.String())

	boldCheck := widget.NewCheck("Bold", func(b bool) {
		a.bold = b
	})

	fontSizeSlider := widget.NewSlider(6, 72)
	fontSizeSlider.Value = a.fontSize
	fontSizeSlider.OnChanged = func(f float64) {
		a.fontSize = f
		a.updatePreview()
	}

	renderCheck := widget.NewCheck("Render as image (any characters)", func(b bool) {
		a.renderText = b
		a.updatePreview()
	})

	textTab := container.NewVBox(
		a.textEntry,
		widget.NewForm(
			widget.NewFormItem("Size", sizeSelect),
			widget.NewFormItem("", boldCheck),
			widget.NewFormItem("", renderCheck),
			widget.NewFormItem("Font Size", fontSizeSlider),
		),
	)

	// === QR TAB ===
	a.qrEntry = widget.NewEntry()
	a.qrEntry.SetPlaceHolder("QR payload, e.g. a URL")

	qrSizeSlider := widget.NewSlider(1, 16)
	qrSizeSlider.Value = float64(a.qrSize)
	qrSizeSlider.OnChanged = func(f float64) {
		a.qrSize = int(f)
	}

	ecSelect := widget.NewSelect([]string{"L", "M", "Q", "H"}, func(s string) {
		if ec, err := label.ParseECLevel(s); err == nil {
			a.qrEC = ec
		}
	})
	ecSelect.SetSelected(a.qrEC.String())

	qrTab := container.NewVBox(
		a.qrEntry,
		widget.NewForm(
			widget.NewFormItem("Module Size", qrSizeSlider),
			widget.NewFormItem("Error Correction", ecSelect),
		),
	)

	// === IMAGE TAB ===
	thresholdSlider := widget.NewSlider(1, 255)
	thresholdSlider.Value = float64(a.threshold)
	thresholdSlider.OnChanged = func(f float64) {
		a.threshold = uint8(f)
		a.updatePreview()
	}

	invertCheck := widget.NewCheck("Invert", func(b bool) {
		a.invert = b
		a.updatePreview()
	})

	clearBtn := widget.NewButton("Clear", func() {
		a.sourceImg = nil
		a.updatePreview()
	})

	imageTab := container.NewVBox(
		container.NewHBox(widget.NewButton("Load Image", a.loadImage), clearBtn),
		widget.NewForm(
			widget.NewFormItem("Threshold", thresholdSlider),
			widget.NewFormItem("", invertCheck),
		),
	)

	tabs := container.NewAppTabs(
		container.NewTabItem("Text", textTab),
		container.NewTabItem("QR", qrTab),
		container.NewTabItem("Image", imageTab),
	)

	feedEntry := widget.NewEntry()
	feedEntry.SetText(strconv.Itoa(a.feedLines))
	feedEntry.OnChanged = func(s string) {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			a.feedLines = n
		}
	}

	a.previewImg = canvas.NewImageFromImage(nil)
	a.previewImg.SetMinSize(fyne.NewSize(220, 300))
	a.previewImg.FillMode = canvas.ImageFillContain

	leftPanel := container.NewVBox(
		widget.NewLabel("Printer:"),
		deviceRow,
		widget.NewSeparator(),
		widget.NewLabel("Feed lines after label"),
		feedEntry,
		widget.NewSeparator(),
		a.printBtn,
	)

	rightPanel := container.NewBorder(
		tabs,
		nil, nil, nil,
		container.NewCenter(a.previewImg),
	)

	content := container.NewHSplit(leftPanel, rightPanel)
	content.SetOffset(0.38)

	return container.NewBorder(
		nil,
		container.NewHBox(a.statusLabel),
		nil, nil,
		content,
	)
}

func (a *App) stopScan() {
	a.devicesMu.Lock()
	defer a.devicesMu.Unlock()
	if a.scanCancel != nil {
		a.scanCancel()
		a.scanCancel = nil
	}
}

func (a *App) scan() {
	a.stopScan()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := a.client.Scan(ctx, client.ScanOptions{})
	if err != nil {
		cancel()
		a.showError("Scan failed", err)
		return
	}

	a.devicesMu.Lock()
	a.devices = nil
	a.scanCancel = cancel
	a.devicesMu.Unlock()
	a.deviceSelect.Options = nil
	a.deviceSelect.ClearSelected()

	go func() {
		defer cancel()
		for dev := range ch {
			a.devicesMu.Lock()
			a.devices = append(a.devices, dev)
			options := make([]string, len(a.devices))
			for i, d := range a.devices {
				options[i] = d.String()
			}
			a.devicesMu.Unlock()

			a.deviceSelect.Options = options
			if a.deviceSelect.SelectedIndex() < 0 {
				a.deviceSelect.SetSelected(options[0])
			}
			a.deviceSelect.Refresh()
		}

		a.devicesMu.Lock()
		n := len(a.devices)
		a.devicesMu.Unlock()
		if a.client.State() != client.Connecting && a.client.State() != client.Connected {
			a.statusLabel.SetText(fmt.Sprintf("Found %d printer(s)", n))
		}
	}()
}

func (a *App) selectedDevice() (client.Device, bool) {
	idx := a.deviceSelect.SelectedIndex()
	a.devicesMu.Lock()
	defer a.devicesMu.Unlock()
	if idx < 0 || idx >= len(a.devices) {
		return client.Device{}, false
	}
	return a.devices[idx], true
}

func (a *App) toggleConnection() {
	switch a.client.State() {
	case client.Connected, client.Connecting:
		if err := a.client.Disconnect(); err != nil {
			a.showError("Disconnect failed", err)
		}
		return
	}

	dev, ok := a.selectedDevice()
	if !ok {
		dialog.ShowError(errors.New("no printer selected"), a.window)
		return
	}

	go func() {
		if err := a.client.Connect(context.Background(), dev, client.ConnectOptions{}); err != nil {
			if errors.Is(err, client.ErrConnectionCanceled) {
				return
			}
			a.showError("Connection failed", err)
		}
	}()
}

func (a *App) onStateChanged(ev client.Event) {
	switch ev.To {
	case client.Scanning:
		a.statusLabel.SetText("Scanning for printers...")
		a.scanBtn.Disable()
	case client.DeviceFound:
		a.scanBtn.Enable()
	case client.Connecting:
		a.statusLabel.SetText("Connecting...")
		a.connectBtn.SetText("Cancel")
		a.scanBtn.Disable()
		a.deviceSelect.Disable()
	case client.Connected:
		st := a.client.Status()
		if st.Device != nil {
			a.statusLabel.SetText(fmt.Sprintf("Connected to %s", st.Device))
		}
		a.connectBtn.SetText("Disconnect")
		a.printBtn.Enable()
	case client.Disconnecting:
		a.statusLabel.SetText("Disconnecting...")
		a.printBtn.Disable()
	case client.Idle:
		if ev.From == client.Connected {
			a.statusLabel.SetText("Connection lost")
		} else if ev.From != client.Scanning {
			a.statusLabel.SetText("Not connected")
		}
		a.connectBtn.SetText("Connect")
		a.printBtn.Disable()
		a.scanBtn.Enable()
		a.deviceSelect.Enable()
	}
}

func (a *App) onJobUpdated(ev client.Event) {
	j := ev.Job
	switch status := j.Status(); status {
	case client.JobQueued, client.JobSending, client.JobCompleted:
		a.statusLabel.SetText(fmt.Sprintf("Print %s", status))
	case client.JobFailed:
		a.statusLabel.SetText(fmt.Sprintf("Print failed: %v", j.Err()))
	}
}

func (a *App) loadImage() {
	fd := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		if reader == nil {
			return
		}
		defer reader.Close()

		img, _, err := image.Decode(reader)
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}

		a.sourceImg = img
		a.updatePreview()
	}, a.window)

	fd.SetFilter(storage.NewExtensionFileFilter([]string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp"}))
	fd.Show()
}

// rasterElements returns the parts of the label that print as images
func (a *App) rasterElements() []label.Image {
	var out []label.Image
	if text := a.textEntry.Text; text != "" && a.renderText {
		img := imaging.RenderText(text, a.paperWidth, imaging.TextOptions{FontSize: a.fontSize})
		out = append(out, label.Image{Source: img})
	}
	if a.sourceImg != nil {
		out = append(out, label.Image{Source: a.sourceImg, Threshold: a.threshold, Invert: a.invert})
	}
	return out
}

func (a *App) updatePreview() {
	images := a.rasterElements()
	if len(images) == 0 {
		a.previewImg.Image = nil
		a.previewImg.Refresh()
		return
	}

	// stack the thresholded rasters as the printer would
	var bitmaps []imaging.Bitmap
	height := 0
	for _, el := range images {
		bm := imaging.ToMonochrome(el.Source, a.paperWidth, el.Threshold, el.Invert)
		bitmaps = append(bitmaps, bm)
		height += bm.Height
	}
	stacked := imaging.Bitmap{Width: bitmaps[0].Width, Height: height}
	for _, bm := range bitmaps {
		stacked.Data = append(stacked.Data, bm.Data...)
	}

	a.previewImg.Image = imaging.Preview(stacked)
	a.previewImg.Refresh()
}

func (a *App) buildContent() label.Content {
	var elements []label.Element
	if text := a.textEntry.Text; text != "" && !a.renderText {
		elements = append(elements, label.Text{Text: text + "\n", Size: a.size, Bold: a.bold})
	}
	for _, img := range a.rasterElements() {
		elements = append(elements, img)
	}
	if payload := a.qrEntry.Text; payload != "" {
		elements = append(elements, label.QR{Payload: payload, Size: a.qrSize, ErrorCorrection: a.qrEC})
	}
	if a.feedLines > 0 {
		elements = append(elements, label.Feed{Lines: a.feedLines})
	}
	return label.New(elements...)
}

func (a *App) print() {
	content := a.buildContent()
	if content.Len() == 0 {
		dialog.ShowError(errors.New("nothing to print"), a.window)
		return
	}

	a.printBtn.Disable()
	go func() {
		defer func() {
			if a.client.State() == client.Connected {
				a.printBtn.Enable()
			}
		}()
		if _, err := a.client.Print(context.Background(), content); err != nil {
			a.showError("Print failed", err)
		}
	}()
}

func (a *App) showError(title string, err error) {
	a.log.Warn(title, zap.Error(err))
	dialog.ShowError(fmt.Errorf("%s: %w", title, err), a.window)
}
