package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

var errMalformed = errors.New("malformed target")

// classify maps a probe error to a stable fault class. DNS failures keep the
// resolver's verdict (NXDOMAIN vs. SERVFAIL/timeout) since that is what an
// operator needs to tell a typo from an outage.
func classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, errMalformed) {
		return err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return DetailTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return DetailTimeout
	}
	if errors.Is(err, context.Canceled) {
		return DetailCanceled
	}

	var de *net.DNSError
	if errors.As(err, &de) {
		class := "SERVFAIL_or_TIMEOUT"
		if de.IsNotFound {
			class = "NXDOMAIN"
		}
		return "dns failure: " + class + " " + strings.TrimSuffix(de.Name, ".")
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection refused"
	case errors.Is(err, syscall.ECONNRESET):
		return "connection reset"
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return "host unreachable"
	case errors.Is(err, syscall.EPERM), errors.Is(err, syscall.EACCES):
		return "permission denied: " + err.Error()
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuth) || errors.As(err, &hostErr) {
		return "tls error: " + err.Error()
	}

	return "network error: " + err.Error()
}

func since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
