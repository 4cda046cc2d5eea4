package escpos

import (
	"errors"
	"fmt"
)

var (
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrUnsupportedCharacter = errors.New("unsupported character")
	ErrInvalidElement       = errors.New("invalid element")
)

// EncodingErrorKind classifies an EncodingError
type EncodingErrorKind int

const (
	PayloadTooLarge EncodingErrorKind = iota
	UnsupportedCharacter
	InvalidElement
)

func (k EncodingErrorKind) String() string {
	return k.sentinel().Error()
}

func (k EncodingErrorKind) sentinel() error {
	switch k {
	case PayloadTooLarge:
		return ErrPayloadTooLarge
	case UnsupportedCharacter:
		return ErrUnsupportedCharacter
	}
	return ErrInvalidElement
}

// EncodingError reports content the printer cannot be asked to print.
// errors.Is matches it against the Err* sentinel for its Kind.
type EncodingError struct {
	Kind EncodingErrorKind
	// Element is the index within the label, or -1 when a single element
	// was encoded directly.
	Element int
	Detail  string
}

func (e *EncodingError) Error() string {
	msg := "encoding: " + e.Kind.String()
	if e.Element >= 0 {
		msg += fmt.Sprintf(" in element %d", e.Element)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *EncodingError) Unwrap() error {
	return e.Kind.sentinel()
}

func encodingError(kind EncodingErrorKind, format string, args ...any) *EncodingError {
	return &EncodingError{Kind: kind, Element: -1, Detail: fmt.Sprintf(format, args...)}
}
