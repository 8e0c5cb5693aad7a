// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jobwatch/internal/buildinfo"
	"github.com/autobrr/jobwatch/internal/remote"
	"github.com/autobrr/jobwatch/internal/remote/wire"
	"github.com/autobrr/jobwatch/pkg/httphelpers"
)

// hubClient talks to the hub's item API. Requests are retried while the
// hub is unavailable.
type hubClient struct {
	itemsURL string
	client   *http.Client
	attempts uint
	delay    time.Duration
}

func newHubClient(baseURL string, timeout time.Duration, attempts uint, delay time.Duration) (*hubClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse hub url")
	}

	return &hubClient{
		itemsURL: httphelpers.ResolveURL(u, wire.PathItems, nil),
		client:   &http.Client{Timeout: timeout},
		attempts: attempts,
		delay:    delay,
	}, nil
}

func (c *hubClient) publish(ctx context.Context, item remote.Item) error {
	body, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "encode item")
	}
	return c.do(ctx, http.MethodPost, body)
}

func (c *hubClient) clear(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, nil)
}

func (c *hubClient) do(ctx context.Context, method string, body []byte) error {
	return retry.Do(
		func() error {
			return c.send(ctx, method, body)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(remote.IsUnavailable),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Str("method", method).Msg("hub unavailable, retrying")
		}),
	)
}

func (c *hubClient) send(ctx context.Context, method string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.itemsURL, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, wire.PathItems)
	}
	defer httphelpers.DrainAndClose(res)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &remote.StatusError{Op: method + " " + wire.PathItems, Code: res.StatusCode}
	}
	return nil
}
