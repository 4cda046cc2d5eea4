package printer

import (
	"errors"
	"strings"
)

// Common errors
var (
	ErrNotSupported       = errors.New("operation not supported on this platform")
	ErrRadioUnavailable   = errors.New("bluetooth radio unavailable")
	ErrScanTimeout        = errors.New("scan timed out")
	ErrBusy               = errors.New("another operation is in progress")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrConnectTimeout     = errors.New("connection timed out")
	ErrRejected           = errors.New("connection rejected")
	ErrConnectionCanceled = errors.New("connection canceled")
	ErrRFCOMMFailed       = errors.New("failed to establish RFCOMM connection")
	ErrPrivilegeRequired  = errors.New("root privileges required for RFCOMM")
	ErrLinkLost           = errors.New("link lost")
	ErrWriteFailed        = errors.New("write failed")
)

// ScanErrorKind classifies a ScanError
type ScanErrorKind int

const (
	ScanRadioUnavailable ScanErrorKind = iota
	ScanTimeout
	ScanBusy
)

func (k ScanErrorKind) sentinel() error {
	switch k {
	case ScanTimeout:
		return ErrScanTimeout
	case ScanBusy:
		return ErrBusy
	}
	return ErrRadioUnavailable
}

func (k ScanErrorKind) String() string { return k.sentinel().Error() }

// ScanError is returned when discovery cannot start
type ScanError struct {
	Kind ScanErrorKind
	Err  error
}

func (e *ScanError) Error() string {
	return joinMessage("scan", e.Kind.sentinel(), e.Err)
}

func (e *ScanError) Unwrap() []error {
	return unwrapPair(e.Kind.sentinel(), e.Err)
}

// ConnectErrorKind classifies a ConnectError
type ConnectErrorKind int

const (
	ConnectNotFound ConnectErrorKind = iota
	ConnectTimeout
	ConnectRejected
	ConnectBusy
	ConnectCancelled
)

func (k ConnectErrorKind) sentinel() error {
	switch k {
	case ConnectNotFound:
		return ErrDeviceNotFound
	case ConnectTimeout:
		return ErrConnectTimeout
	case ConnectBusy:
		return ErrBusy
	case ConnectCancelled:
		return ErrConnectionCanceled
	}
	return ErrRejected
}

func (k ConnectErrorKind) String() string { return k.sentinel().Error() }

// ConnectError is returned when a connection attempt fails
type ConnectError struct {
	Kind    ConnectErrorKind
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	op := "connect"
	if e.Address != "" {
		op += " " + e.Address
	}
	return joinMessage(op, e.Kind.sentinel(), e.Err)
}

func (e *ConnectError) Unwrap() []error {
	return unwrapPair(e.Kind.sentinel(), e.Err)
}

// TransportErrorKind classifies a TransportError
type TransportErrorKind int

const (
	LinkLost TransportErrorKind = iota
	WriteFailed
)

func (k TransportErrorKind) sentinel() error {
	if k == LinkLost {
		return ErrLinkLost
	}
	return ErrWriteFailed
}

func (k TransportErrorKind) String() string { return k.sentinel().Error() }

// TransportError is returned by Link.Write
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return joinMessage("transport", e.Kind.sentinel(), e.Err)
}

func (e *TransportError) Unwrap() []error {
	return unwrapPair(e.Kind.sentinel(), e.Err)
}

// IsLinkLost reports whether err means the link to the printer is gone
func IsLinkLost(err error) bool {
	return errors.Is(err, ErrLinkLost)
}

func joinMessage(op string, kind, cause error) string {
	var b strings.Builder
	b.WriteString(op)
	b.WriteString(": ")
	b.WriteString(kind.Error())
	if cause != nil && cause != kind {
		b.WriteString(": ")
		b.WriteString(cause.Error())
	}
	return b.String()
}

func unwrapPair(kind, cause error) []error {
	if cause == nil || cause == kind {
		return []error{kind}
	}
	return []error{kind, cause}
}
