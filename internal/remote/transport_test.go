// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUnknownTransport(t *testing.T) {
	t.Parallel()

	dialer, err := Resolve("does-not-exist", Endpoint{})
	require.Error(t, err)
	assert.Nil(t, dialer)
	assert.ErrorIs(t, err, ErrUnknownTransport)
}

func TestRegisterAndResolve(t *testing.T) {
	t.Parallel()

	var got Endpoint
	Register("transport-test-ok", func(endpoint Endpoint) (Dialer, error) {
		got = endpoint
		return DialerFunc(func(context.Context, Callbacks) (Channel, error) {
			return nil, ErrUnavailable
		}), nil
	})
	t.Cleanup(func() { Unregister("transport-test-ok") })

	assert.Contains(t, Transports(), "transport-test-ok")

	dialer, err := Resolve("transport-test-ok", Endpoint{URL: "http://jobs.local"})
	require.NoError(t, err)
	require.NotNil(t, dialer)
	assert.Equal(t, "http://jobs.local", got.URL)

	_, err = dialer.Open(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestResolveFactoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("bad url")
	Register("transport-test-bad", func(Endpoint) (Dialer, error) { return nil, boom })
	t.Cleanup(func() { Unregister("transport-test-bad") })

	_, err := Resolve("transport-test-bad", Endpoint{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnknownTransport)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	t.Parallel()

	factory := func(Endpoint) (Dialer, error) { return nil, nil }
	Register("transport-test-dup", factory)
	t.Cleanup(func() { Unregister("transport-test-dup") })

	assert.Panics(t, func() { Register("transport-test-dup", factory) })
	assert.Panics(t, func() { Register("transport-test-nil", nil) })
}

func TestEndpointTimeout(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultRequestTimeout, Endpoint{}.Timeout())
	assert.Equal(t, 3*time.Second, Endpoint{RequestTimeout: 3 * time.Second}.Timeout())
}
