// Copyright 2024-2026 Aiku AI

package stream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
)

// Category groups connection failures for logging and metrics.
type Category string

const (
	CategoryClosed     Category = "closed"
	CategoryInvalidURI Category = "invalid_uri"
	CategoryHandshake  Category = "handshake"
	CategoryTLS        Category = "tls"
	CategoryRefused    Category = "refused"
	CategoryTimeout    Category = "timeout"
	CategoryUnknown    Category = "unknown"
)

// ConnError is a connection failure with its category already decided.
type ConnError struct {
	Category Category
	Err      error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// Classify returns the category of a connection error.
func Classify(err error) Category {
	var connErr *ConnError
	var closeErr *websocket.CloseError
	var recordErr tls.RecordHeaderError
	var verifyErr *tls.CertificateVerificationError
	var authorityErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	var netErr net.Error

	switch {
	case err == nil:
		return ""
	case errors.As(err, &connErr):
		return connErr.Category
	case errors.As(err, &closeErr),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET):
		return CategoryClosed
	case errors.Is(err, websocket.ErrBadHandshake):
		return CategoryHandshake
	case errors.As(err, &recordErr),
		errors.As(err, &verifyErr),
		errors.As(err, &authorityErr),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidErr):
		return CategoryTLS
	case errors.Is(err, syscall.ECONNREFUSED):
		return CategoryRefused
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return CategoryTimeout
	default:
		return CategoryUnknown
	}
}
