// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package wschan talks to the job service over a single websocket. Commands
// carry an id that the service echoes in its response; notifications are
// pushed as untagged frames on the same socket.
package wschan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jobwatch/internal/buildinfo"
	"github.com/autobrr/jobwatch/internal/remote"
	"github.com/autobrr/jobwatch/internal/remote/wire"
	"github.com/autobrr/jobwatch/pkg/httphelpers"
)

// Name is the transport name registered with the remote package.
const Name = "ws"

const (
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
)

func init() {
	remote.Register(Name, func(endpoint remote.Endpoint) (remote.Dialer, error) {
		return NewDialer(endpoint)
	})
}

type Dialer struct {
	url     string
	timeout time.Duration
	dialer  websocket.Dialer
}

// NewDialer accepts http(s) or ws(s) base URLs.
func NewDialer(endpoint remote.Endpoint) (*Dialer, error) {
	u, err := url.Parse(endpoint.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse job service url")
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, errors.Errorf("job service url %q: unsupported scheme", endpoint.URL)
	}
	if u.Host == "" {
		return nil, errors.Errorf("job service url %q: missing host", endpoint.URL)
	}
	u.Path = httphelpers.JoinBasePath(u.Path, wire.PathSocket)
	u.RawPath = ""

	timeout := endpoint.Timeout()
	return &Dialer{
		url:     u.String(),
		timeout: timeout,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
	}, nil
}

func (d *Dialer) Open(ctx context.Context, callbacks remote.Callbacks) (remote.Channel, error) {
	header := http.Header{}
	header.Set("User-Agent", buildinfo.UserAgent)

	conn, res, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if res != nil && errors.Is(err, websocket.ErrBadHandshake) {
			return nil, &remote.StatusError{Op: "websocket handshake", Code: res.StatusCode}
		}
		return nil, errors.Wrap(err, "dial job service")
	}

	c := &channel{
		conn:      conn,
		callbacks: callbacks,
		timeout:   d.timeout,
		pending:   make(map[int64]chan wire.Frame),
		done:      make(chan struct{}),
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	go c.readLoop()
	go c.pingLoop()

	log.Trace().Str("url", d.url).Msg("job service websocket connected")

	return c, nil
}

type channel struct {
	conn      *websocket.Conn
	callbacks remote.Callbacks
	timeout   time.Duration

	writeMu sync.Mutex
	cmdID   atomic.Int64

	mu        sync.Mutex
	pending   map[int64]chan wire.Frame
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

func (c *channel) Subscribe(ctx context.Context) error {
	return c.call(ctx, wire.Command{Cmd: wire.CmdSubscribe})
}

func (c *channel) Unsubscribe(ctx context.Context) error {
	return c.call(ctx, wire.Command{Cmd: wire.CmdUnsubscribe})
}

// Refresh does not wait for a response; the snapshot arrives as a push.
func (c *channel) Refresh(context.Context) error {
	if c.closed() {
		return remote.ErrClosed
	}
	return c.send(wire.Command{Cmd: wire.CmdRefresh})
}

func (c *channel) Publish(ctx context.Context, item remote.Item) error {
	return c.call(ctx, wire.Command{Cmd: wire.CmdPublish, Item: &item})
}

func (c *channel) call(ctx context.Context, cmd wire.Command) error {
	cmd.ID = c.cmdID.Add(1)
	reply := make(chan wire.Frame, 1)

	c.mu.Lock()
	if c.isDone() {
		c.mu.Unlock()
		return remote.ErrClosed
	}
	c.pending[cmd.ID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.ID)
		c.mu.Unlock()
	}()

	if err := c.send(cmd); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case frame := <-reply:
		if frame.Error != "" {
			return errors.Errorf("%s: %s", cmd.Cmd, frame.Error)
		}
		return nil
	case <-c.done:
		return errors.Wrap(c.Err(), cmd.Cmd)
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), cmd.Cmd)
	}
}

func (c *channel) send(cmd wire.Command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := c.conn.WriteJSON(cmd); err != nil {
		return errors.Wrapf(err, "send %s", cmd.Cmd)
	}
	return nil
}

func (c *channel) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(errors.Wrap(err, "read job service websocket"))
			return
		}

		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Msg("discarding malformed websocket frame")
			continue
		}

		switch frame.Type {
		case wire.FrameResponse:
			c.routeResponse(frame)
		case wire.FrameItems:
			if !frame.Kind.Valid() {
				log.Warn().Str("kind", string(frame.Kind)).Msg("discarding items frame with unknown kind")
				continue
			}
			c.callbacks.HandleItemsChanged(frame.Kind, frame.Items)
		case wire.FrameCleared:
			c.callbacks.HandleAllCleared()
		default:
			log.Debug().Str("type", frame.Type).Msg("ignoring unknown websocket frame")
		}
	}
}

func (c *channel) routeResponse(frame wire.Frame) {
	c.mu.Lock()
	reply, ok := c.pending[frame.ID]
	c.mu.Unlock()

	if !ok {
		log.Debug().Int64("id", frame.ID).Msg("response for unknown command")
		return
	}

	select {
	case reply <- frame:
	default:
	}
}

func (c *channel) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.timeout)); err != nil {
				log.Debug().Err(err).Msg("failed to ping job service")
			}
		}
	}
}

func (c *channel) Done() <-chan struct{} {
	return c.done
}

func (c *channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close does not wait for the read loop, which exits once the socket is
// closed.
func (c *channel) Close() error {
	c.finish(remote.ErrClosed)

	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}

func (c *channel) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isDone() {
		return
	}
	c.err = err
	close(c.done)
}

func (c *channel) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isDone()
}

// isDone must be called with mu held.
func (c *channel) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
