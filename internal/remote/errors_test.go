// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsUnavailable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "sentinel", err: ErrUnavailable, want: true},
		{name: "wrapped sentinel", err: pkgerrors.Wrap(ErrUnavailable, "open"), want: true},
		{name: "connection refused", err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED), want: true},
		{name: "missing socket", err: &net.OpError{Op: "dial", Net: "unix", Err: syscall.ENOENT}, want: true},
		{name: "dial op error", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("i/o timeout")}, want: true},
		{name: "dns failure", err: &net.DNSError{Err: "no such host", Name: "jobs.invalid"}, want: true},
		{name: "service unavailable", err: &StatusError{Op: "open", Code: http.StatusServiceUnavailable}, want: true},
		{name: "bad gateway", err: pkgerrors.Wrap(&StatusError{Op: "open", Code: http.StatusBadGateway}, "x"), want: true},
		{name: "not found", err: &StatusError{Op: "open", Code: http.StatusNotFound}, want: false},
		{name: "read op error", err: &net.OpError{Op: "read", Net: "tcp", Err: errors.New("boom")}, want: false},
		{name: "context canceled", err: context.Canceled, want: false},
		{name: "generic", err: errors.New("protocol violation"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsUnavailable(tt.err))
		})
	}
}

func TestStatusErrorMessage(t *testing.T) {
	t.Parallel()

	err := &StatusError{Op: "subscribe", Code: http.StatusNotFound}
	assert.Equal(t, "subscribe: unexpected status 404 Not Found", err.Error())
}
