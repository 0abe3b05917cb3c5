package loader

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrUnsupportedSource is matched by every *UnsupportedSourceError.
var ErrUnsupportedSource = errors.New("unsupported document source")

type UnsupportedSourceError struct {
	Source string
}

func (e *UnsupportedSourceError) Error() string {
	return fmt.Sprintf("unsupported document source: %q", e.Source)
}

func (e *UnsupportedSourceError) Is(target error) bool {
	return target == ErrUnsupportedSource
}

// FailureKind classifies why a loader produced no content. It is advisory and
// only used for diagnostics.
type FailureKind string

const (
	KindTLS        FailureKind = "tls"
	KindTimeout    FailureKind = "timeout"
	KindForbidden  FailureKind = "forbidden"
	KindNotFound   FailureKind = "not_found"
	KindHTTPStatus FailureKind = "http_status"
	KindConnection FailureKind = "connection"
	KindRequest    FailureKind = "request"
	KindNoContent  FailureKind = "no_content"
	KindCorrupt    FailureKind = "corrupt"
	KindIO         FailureKind = "io"
	KindPanic      FailureKind = "panic"
	KindUnknown    FailureKind = "unknown"
)

// LoadError is a soft failure: the source contributes zero documents and the
// surrounding batch carries on.
type LoadError struct {
	Source     string
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *LoadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("failed to load %s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("failed to load %s (%s): %v", e.Source, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err, or KindUnknown when err is not a *LoadError.
func KindOf(err error) FailureKind {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Kind
	}
	return KindUnknown
}

func statusKind(code int) FailureKind {
	switch code {
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	default:
		return KindHTTPStatus
	}
}

// classifyTransport maps an HTTP client error to a failure kind.
func classifyTransport(err error) FailureKind {
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostname         x509.HostnameError
		invalidCert      x509.CertificateInvalidError
		verifyErr        *tls.CertificateVerificationError
		recordErr        tls.RecordHeaderError
	)
	switch {
	case errors.As(err, &unknownAuthority),
		errors.As(err, &hostname),
		errors.As(err, &invalidCert),
		errors.As(err, &verifyErr),
		errors.As(err, &recordErr):
		return KindTLS
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
	)
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return KindConnection
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "certificate"), strings.Contains(msg, "tls"), strings.Contains(msg, "ssl"):
		return KindTLS
	case strings.Contains(msg, "timeout"):
		return KindTimeout
	case strings.Contains(msg, "connection"), strings.Contains(msg, "eof"):
		return KindConnection
	}
	return KindUnknown
}
