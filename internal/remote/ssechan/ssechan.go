// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ssechan talks to the job service over HTTP. Notifications arrive on
// a server-sent event stream bound to a session id; commands are plain POST
// requests naming that session.
package ssechan

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tmaxmax/go-sse"

	"github.com/autobrr/jobwatch/internal/buildinfo"
	"github.com/autobrr/jobwatch/internal/remote"
	"github.com/autobrr/jobwatch/internal/remote/wire"
	"github.com/autobrr/jobwatch/pkg/httphelpers"
)

// Name is the transport name registered with the remote package.
const Name = "sse"

func init() {
	remote.Register(Name, func(endpoint remote.Endpoint) (remote.Dialer, error) {
		return NewDialer(endpoint)
	})
}

// Dialer opens event streams against a job service base URL.
type Dialer struct {
	baseURL *url.URL
	timeout time.Duration
	stream  *http.Client
	command *http.Client
}

// NewDialer validates endpoint without contacting the service.
func NewDialer(endpoint remote.Endpoint) (*Dialer, error) {
	u, err := url.Parse(endpoint.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse job service url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("job service url %q: scheme must be http or https", endpoint.URL)
	}
	if u.Host == "" {
		return nil, errors.Errorf("job service url %q: missing host", endpoint.URL)
	}

	timeout := endpoint.Timeout()
	return &Dialer{
		baseURL: u,
		timeout: timeout,
		stream:  &http.Client{},
		command: &http.Client{Timeout: timeout},
	}, nil
}

// Open starts a session and returns once the service has acknowledged it
// with a ready event.
func (d *Dialer) Open(ctx context.Context, callbacks remote.Callbacks) (remote.Channel, error) {
	session := uuid.NewString()

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, httphelpers.ResolveURL(d.baseURL, wire.PathEvents, url.Values{wire.SessionQuery: {session}}), nil)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "build event stream request")
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	c := &channel{
		dialer:    d,
		session:   session,
		callbacks: callbacks,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	ready := make(chan struct{})
	var readyOnce sync.Once

	client := &sse.Client{
		HTTPClient:        d.stream,
		ResponseValidator: validateStream,
		Backoff:           sse.Backoff{MaxRetries: -1},
	}
	conn := client.NewConnection(req)
	conn.SubscribeEvent(wire.EventReady, func(sse.Event) {
		readyOnce.Do(func() { close(ready) })
	})
	conn.SubscribeEvent(wire.EventItems, c.handleItems)
	conn.SubscribeEvent(wire.EventCleared, func(sse.Event) {
		c.callbacks.HandleAllCleared()
	})

	go func() {
		c.finish(conn.Connect())
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case <-ready:
		log.Trace().Str("session", session).Msg("job service event stream ready")
		return c, nil
	case <-c.done:
		cancel()
		return nil, c.Err()
	case <-timer.C:
		_ = c.Close()
		return nil, errors.Wrap(remote.ErrUnavailable, "waiting for job service event stream")
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	}
}

func validateStream(res *http.Response) error {
	if res.StatusCode != http.StatusOK {
		return &remote.StatusError{Op: "open event stream", Code: res.StatusCode}
	}
	mediaType, _, err := mime.ParseMediaType(res.Header.Get("Content-Type"))
	if err != nil || mediaType != "text/event-stream" {
		return errors.Errorf("open event stream: unexpected content type %q", res.Header.Get("Content-Type"))
	}
	return nil
}

type channel struct {
	dialer    *Dialer
	session   string
	callbacks remote.Callbacks
	cancel    context.CancelFunc

	mu   sync.Mutex
	err  error
	done chan struct{}
}

func (c *channel) handleItems(ev sse.Event) {
	var payload wire.ItemsPayload
	if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
		log.Warn().Err(err).Str("session", c.session).Msg("discarding malformed items event")
		return
	}
	if !payload.Kind.Valid() {
		log.Warn().Str("kind", string(payload.Kind)).Str("session", c.session).Msg("discarding items event with unknown kind")
		return
	}
	c.callbacks.HandleItemsChanged(payload.Kind, payload.Items)
}

func (c *channel) Subscribe(ctx context.Context) error {
	return c.post(ctx, wire.SessionPath(c.session, wire.ActionSub), nil)
}

func (c *channel) Unsubscribe(ctx context.Context) error {
	return c.post(ctx, wire.SessionPath(c.session, wire.ActionUnsub), nil)
}

func (c *channel) Refresh(ctx context.Context) error {
	return c.post(ctx, wire.SessionPath(c.session, wire.ActionRefresh), nil)
}

func (c *channel) Publish(ctx context.Context, item remote.Item) error {
	body, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "encode item")
	}
	return c.post(ctx, wire.PathItems, body)
}

func (c *channel) post(ctx context.Context, path string, body []byte) error {
	select {
	case <-c.done:
		return remote.ErrClosed
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, c.dialer.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, httphelpers.ResolveURL(c.dialer.baseURL, path, nil), reader)
	if err != nil {
		return errors.Wrapf(err, "build request %s", path)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.dialer.command.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post %s", path)
	}
	defer httphelpers.DrainAndClose(res)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &remote.StatusError{Op: "post " + path, Code: res.StatusCode}
	}
	return nil
}

func (c *channel) Done() <-chan struct{} {
	return c.done
}

func (c *channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *channel) Close() error {
	c.finish(remote.ErrClosed)
	c.cancel()
	return nil
}

func (c *channel) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}

	if err == nil {
		err = io.EOF
	}
	c.err = err
	close(c.done)
}
