package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// HTTPError carries the status code of a failed HTTP request so callers can
// branch on it (auth refresh on 401, retry on 429/5xx).
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %d from %s: %s", e.StatusCode, e.URL, e.Body)
	}
	return fmt.Sprintf("http %d from %s", e.StatusCode, e.URL)
}

// StatusOf returns the HTTP status code in err's chain, or 0 if none.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// IsTransient reports whether the error is safe to retry: a retryable HTTP
// status, a network timeout, or a dropped connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var he *HTTPError
	if errors.As(err, &he) {
		return retryableStatus(he.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Wrapped errors from HTTP clients lose their type; fall back to text.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

func retryableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
