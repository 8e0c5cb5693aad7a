// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package remote

import (
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/pkg/errors"
)

var (
	// ErrUnavailable marks the job service as not running or not reachable.
	ErrUnavailable = errors.New("job service unavailable")
	// ErrUnknownTransport is returned by Resolve for transports nobody registered.
	ErrUnknownTransport = errors.New("unknown job service transport")
	// ErrClosed is reported by channels closed from the local side.
	ErrClosed = errors.New("channel closed")
)

// StatusError is an unexpected HTTP status returned by the job service.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.Op, e.Code, http.StatusText(e.Code))
}

// IsUnavailable reports whether err means the job service is absent right now,
// as opposed to misbehaving. Such errors are expected while the service is
// stopped or restarting and are simply retried.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrUnavailable) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENOENT) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}

	return false
}
