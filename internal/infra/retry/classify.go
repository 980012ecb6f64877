package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/vietddude/groupwatch/internal/core/domain"
)

// IsTransient classifies an error as worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Caller gave up; a per-request timeout surfaces as a net.Error below.
		return false
	case errors.Is(err, domain.ErrAuthExpired), errors.Is(err, domain.ErrPermanent):
		return false
	case errors.Is(err, domain.ErrTransient):
		return true
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EPIPE):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	s := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

var transientMarkers = []string{
	"429",
	"too many requests",
	"rate limit",
	"timeout",
	"connection reset",
	"connection refused",
	"broken pipe",
	"502",
	"503",
	"504",
	"overloaded",
}
