package label

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"btlabel/internal/imaging"
)

// ErrEmptyElement is returned for a list entry with no recognised key
var ErrEmptyElement = errors.New("label element has no content")

// LoadOptions controls how file references inside a label file are resolved
type LoadOptions struct {
	// BaseDir resolves relative image paths. Load sets it to the file's directory.
	BaseDir string
	// PaperWidth in dots, used to lay out rendered_text elements.
	PaperWidth int
}

type file struct {
	Elements []fileElement `yaml:"elements"`
}

type fileElement struct {
	Text *struct {
		Value string `yaml:"value"`
		Size  string `yaml:"size"`
		Bold  bool   `yaml:"bold"`
	} `yaml:"text"`
	Feed *int `yaml:"feed"`
	QR   *struct {
		Payload string `yaml:"payload"`
		Size    int    `yaml:"size"`
		EC      string `yaml:"ec"`
	} `yaml:"qr"`
	Image *struct {
		Path      string `yaml:"path"`
		Threshold uint8  `yaml:"threshold"`
		Invert    bool   `yaml:"invert"`
	} `yaml:"image"`
	RenderedText *struct {
		Value     string  `yaml:"value"`
		FontSize  float64 `yaml:"font_size"`
		Center    bool    `yaml:"center"`
		WordBreak bool    `yaml:"word_break"`
		Invert    bool    `yaml:"invert"`
	} `yaml:"rendered_text"`
}

// Load reads a YAML label file
func Load(path string, opts LoadOptions) (Content, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Content{}, fmt.Errorf("failed to read label file: %w", err)
	}
	if opts.BaseDir == "" {
		opts.BaseDir = filepath.Dir(path)
	}
	return Parse(bytes.NewReader(data), opts)
}

// Parse decodes a YAML label document
func Parse(r io.Reader, opts LoadOptions) (Content, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Content{}, fmt.Errorf("failed to parse label file: %w", err)
	}

	content := Content{Elements: make([]Element, 0, len(f.Elements))}
	for i, fe := range f.Elements {
		el, err := fe.toElement(opts)
		if err != nil {
			return Content{}, fmt.Errorf("element %d: %w", i, err)
		}
		content.Elements = append(content.Elements, el)
	}
	return content, nil
}

func (fe fileElement) toElement(opts LoadOptions) (Element, error) {
	var (
		el Element
		n  int
	)
	if fe.Text != nil {
		n++
		size, err := ParseFontSize(fe.Text.Size)
		if err != nil {
			return nil, err
		}
		el = Text{Text: fe.Text.Value, Size: size, Bold: fe.Text.Bold}
	}
	if fe.Feed != nil {
		n++
		el = Feed{Lines: *fe.Feed}
	}
	if fe.QR != nil {
		n++
		ec, err := ParseECLevel(fe.QR.EC)
		if err != nil {
			return nil, err
		}
		size := fe.QR.Size
		if size == 0 {
			size = 6
		}
		el = QR{Payload: fe.QR.Payload, Size: size, ErrorCorrection: ec}
	}
	if fe.Image != nil {
		n++
		path := fe.Image.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(opts.BaseDir, path)
		}
		img, err := imaging.LoadImage(path)
		if err != nil {
			return nil, err
		}
		el = Image{Source: img, Threshold: fe.Image.Threshold, Invert: fe.Image.Invert}
	}
	if rt := fe.RenderedText; rt != nil {
		n++
		if opts.PaperWidth <= 0 {
			return nil, errors.New("rendered_text needs a paper width")
		}
		img := imaging.RenderText(rt.Value, opts.PaperWidth, imaging.TextOptions{
			FontSize:      rt.FontSize,
			Invert:        rt.Invert,
			WordBreakOnly: rt.WordBreak,
			Center:        rt.Center,
		})
		el = Image{Source: img}
	}

	switch n {
	case 0:
		return nil, ErrEmptyElement
	case 1:
		return el, nil
	}
	return nil, fmt.Errorf("element sets %d kinds, want exactly one", n)
}
