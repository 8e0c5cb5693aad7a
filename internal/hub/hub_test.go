// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package hub

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/jobwatch/internal/monitor"
	"github.com/autobrr/jobwatch/internal/remote"
	"github.com/autobrr/jobwatch/internal/remote/ssechan"
	"github.com/autobrr/jobwatch/internal/remote/wschan"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	h := New()
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })
	return h, srv
}

type notification struct {
	kind    remote.ChangeKind
	items   []remote.Item
	cleared bool
}

type callbackRecorder struct {
	ch chan notification
}

func newCallbackRecorder() *callbackRecorder {
	return &callbackRecorder{ch: make(chan notification, 64)}
}

func (r *callbackRecorder) HandleItemsChanged(kind remote.ChangeKind, items []remote.Item) {
	r.ch <- notification{kind: kind, items: items}
}

func (r *callbackRecorder) HandleAllCleared() {
	r.ch <- notification{cleared: true}
}

func (r *callbackRecorder) next(t *testing.T) notification {
	t.Helper()

	select {
	case n := <-r.ch:
		return n
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for notification")
		return notification{}
	}
}

func dialers(t *testing.T, baseURL string) map[string]remote.Dialer {
	t.Helper()

	endpoint := remote.Endpoint{URL: baseURL, RequestTimeout: 2 * time.Second}

	sseDialer, err := ssechan.NewDialer(endpoint)
	require.NoError(t, err)
	wsDialer, err := wschan.NewDialer(endpoint)
	require.NoError(t, err)

	return map[string]remote.Dialer{
		ssechan.Name: sseDialer,
		wschan.Name:  wsDialer,
	}
}

func TestHub_Transports(t *testing.T) {
	for name := range dialers(t, "http://127.0.0.1:1") {
		t.Run(name, func(t *testing.T) {
			h, srv := startHub(t)
			dialer := dialers(t, srv.URL)[name]

			rec := newCallbackRecorder()
			ch, err := dialer.Open(context.Background(), rec)
			require.NoError(t, err)
			defer ch.Close()

			require.Eventually(t, func() bool { return h.Sessions() == 1 }, waitFor, tick)

			require.NoError(t, h.Publish(remote.Item{ID: "before-subscribe"}))

			require.NoError(t, ch.Subscribe(context.Background()))
			assert.Equal(t, 1, h.Subscribers())

			require.NoError(t, h.Publish(remote.Item{ID: "job-1", Data: json.RawMessage(`{"progress":10}`)}))
			n := rec.next(t)
			assert.Equal(t, remote.ChangeUpdate, n.kind)
			require.Len(t, n.items, 1)
			assert.Equal(t, "job-1", n.items[0].ID)
			assert.JSONEq(t, `{"progress":10}`, string(n.items[0].Data))

			require.NoError(t, ch.Refresh(context.Background()))
			n = rec.next(t)
			assert.Equal(t, remote.ChangeRefresh, n.kind)
			require.Len(t, n.items, 2)
			assert.Equal(t, "before-subscribe", n.items[0].ID)
			assert.Equal(t, "job-1", n.items[1].ID)

			require.NoError(t, h.Clear())
			assert.True(t, rec.next(t).cleared)

			require.NoError(t, ch.Unsubscribe(context.Background()))
			assert.Equal(t, 0, h.Subscribers())

			require.NoError(t, h.Publish(remote.Item{ID: "ignored"}))
			require.NoError(t, ch.Refresh(context.Background()))
			n = rec.next(t)
			assert.Equal(t, remote.ChangeRefresh, n.kind, "unsubscribed session must not get updates")
			require.Len(t, n.items, 1)
			assert.Equal(t, "ignored", n.items[0].ID)

			require.NoError(t, ch.Publish(context.Background(), remote.Item{ID: "from-client"}))
			require.Eventually(t, func() bool { return len(h.Items()) == 2 }, waitFor, tick)

			require.NoError(t, ch.Close())
			require.NoError(t, ch.Close())
			require.Eventually(t, func() bool { return h.Sessions() == 0 }, waitFor, tick)

			assert.ErrorIs(t, ch.Subscribe(context.Background()), remote.ErrClosed)
		})
	}
}

func TestHub_ShutdownEndsSessions(t *testing.T) {
	for name := range dialers(t, "http://127.0.0.1:1") {
		t.Run(name, func(t *testing.T) {
			h, srv := startHub(t)
			dialer := dialers(t, srv.URL)[name]

			ch, err := dialer.Open(context.Background(), newCallbackRecorder())
			require.NoError(t, err)
			defer ch.Close()

			require.NoError(t, h.Shutdown(context.Background()))
			require.NoError(t, h.Shutdown(context.Background()))

			select {
			case <-ch.Done():
			case <-time.After(waitFor):
				t.Fatal("channel not closed after hub shutdown")
			}
			assert.Error(t, ch.Err())

			_, err = dialer.Open(context.Background(), newCallbackRecorder())
			require.Error(t, err)
			assert.True(t, remote.IsUnavailable(err), "got %v", err)

			assert.ErrorIs(t, h.Publish(remote.Item{ID: "late"}), ErrShuttingDown)
		})
	}
}

func TestHub_OpenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	for name, dialer := range dialers(t, base) {
		t.Run(name, func(t *testing.T) {
			_, err := dialer.Open(context.Background(), newCallbackRecorder())
			require.Error(t, err)
			assert.True(t, remote.IsUnavailable(err), "got %v", err)
		})
	}
}

func TestHub_HTTPAPI(t *testing.T) {
	h, srv := startHub(t)

	do := func(method, path, body string) *http.Response {
		t.Helper()

		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		res, err := srv.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = res.Body.Close() })
		return res
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "publish", method: http.MethodPost, path: "/api/items", body: `{"id":"a","data":{"state":"running"}}`, status: http.StatusNoContent},
		{name: "publish without id", method: http.MethodPost, path: "/api/items", body: `{"data":1}`, status: http.StatusBadRequest},
		{name: "publish malformed", method: http.MethodPost, path: "/api/items", body: `{`, status: http.StatusBadRequest},
		{name: "unknown session", method: http.MethodPost, path: "/api/sessions/nope/subscribe", status: http.StatusNotFound},
		{name: "unknown action", method: http.MethodPost, path: "/api/sessions/nope/explode", status: http.StatusNotFound},
		{name: "stream without session", method: http.MethodGet, path: "/api/events", status: http.StatusBadRequest},
		{name: "health", method: http.MethodGet, path: "/healthz", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, res.StatusCode)
		})
	}

	res := do(http.MethodGet, "/api/items", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var items []remote.Item
	require.NoError(t, json.NewDecoder(res.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)

	res = do(http.MethodDelete, "/api/items", "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Empty(t, h.Items())
}

func TestHub_ListItems(t *testing.T) {
	h, srv := startHub(t)

	get := func(path string, header http.Header) *http.Response {
		t.Helper()

		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		for k, v := range header {
			req.Header[k] = v
		}
		res, err := srv.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = res.Body.Close() })
		return res
	}

	res := get("/api/items", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(body))

	for _, id := range []string{"build-linux", "build-darwin", "import-42"} {
		require.NoError(t, h.Publish(remote.Item{ID: id, Data: json.RawMessage(`{"note":"` + strings.Repeat("x", 100) + `"}`)}))
	}

	t.Run("fuzzy query", func(t *testing.T) {
		res := get("/api/items?q=bld", nil)
		require.Equal(t, http.StatusOK, res.StatusCode)

		var items []remote.Item
		require.NoError(t, json.NewDecoder(res.Body).Decode(&items))
		require.Len(t, items, 2)
		assert.Equal(t, "build-darwin", items[0].ID)
		assert.Equal(t, "build-linux", items[1].ID)
	})

	t.Run("etag", func(t *testing.T) {
		res := get("/api/items", nil)
		etag := res.Header.Get("ETag")
		require.NotEmpty(t, etag)

		res = get("/api/items", http.Header{"If-None-Match": {etag}})
		assert.Equal(t, http.StatusNotModified, res.StatusCode)

		require.NoError(t, h.Publish(remote.Item{ID: "import-43"}))
		res = get("/api/items", http.Header{"If-None-Match": {etag}})
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.NotEqual(t, etag, res.Header.Get("ETag"))
	})

	t.Run("compressed", func(t *testing.T) {
		res := get("/api/items", http.Header{"Accept-Encoding": {"gzip"}})
		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "gzip", res.Header.Get("Content-Encoding"))

		zr, err := gzip.NewReader(res.Body)
		require.NoError(t, err)
		var items []remote.Item
		require.NoError(t, json.NewDecoder(zr).Decode(&items))
		assert.Len(t, items, 4)
	})
}

func TestHub_CORSPreflight(t *testing.T) {
	_, srv := startHub(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/items", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")

	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(res.Header.Get("Access-Control-Allow-Headers")), "content-type")
}

func TestHub_DuplicateSession(t *testing.T) {
	h, srv := startHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := srv.URL + "/api/events?session=6f1c1d52-8a39-4d7e-9f0e-2b8f3a1c0d11"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	first, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	require.Eventually(t, func() bool { return h.Sessions() == 1 }, waitFor, tick)

	second, err := srv.Client().Get(url)
	require.NoError(t, err)
	defer second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)
}

func TestHub_MonitorEndToEnd(t *testing.T) {
	for _, transport := range []string{ssechan.Name, wschan.Name} {
		t.Run(transport, func(t *testing.T) {
			h, srv := startHub(t)

			registry := monitor.NewRegistry(monitor.Options{
				Transport:     transport,
				Endpoint:      remote.Endpoint{URL: srv.URL, RequestTimeout: 2 * time.Second},
				RetryInterval: 50 * time.Millisecond,
			})
			require.True(t, registry.IsSupported())

			proxy, err := registry.Acquire(context.Background(), false)
			require.NoError(t, err)

			events := make(chan monitor.Event, 16)
			_, err = proxy.Subscribe(monitor.StreamItemsChanged, func(ev monitor.Event) { events <- ev })
			require.NoError(t, err)

			require.Eventually(t, func() bool { return h.Subscribers() == 1 }, waitFor, tick)
			assert.True(t, proxy.IsConnected())

			require.NoError(t, h.Publish(remote.Item{ID: "import-42"}))

			select {
			case ev := <-events:
				assert.Equal(t, remote.ChangeUpdate, ev.Kind)
				require.Len(t, ev.Items, 1)
				assert.Equal(t, "import-42", ev.Items[0].ID)
			case <-time.After(waitFor):
				t.Fatal("event not delivered")
			}

			require.NoError(t, proxy.Close())
			registry.Wait()
			require.Eventually(t, func() bool { return h.Sessions() == 0 }, waitFor, tick)
		})
	}
}

type sinkRecorder struct {
	ch chan notification
}

func (s *sinkRecorder) sendItems(kind remote.ChangeKind, items []remote.Item) error {
	s.ch <- notification{kind: kind, items: items}
	return nil
}

func (s *sinkRecorder) sendCleared() error {
	s.ch <- notification{cleared: true}
	return nil
}

func TestHub_RefreshDoesNotReuseListSnapshot(t *testing.T) {
	h := New()
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })

	sink := &sinkRecorder{ch: make(chan notification, 8)}
	require.NoError(t, h.register(&session{id: "s1", transport: "test", sink: sink}))
	require.NoError(t, h.SetSubscribed("s1", true))

	// Hold a list snapshot open while an item is published.
	started := make(chan struct{})
	release := make(chan struct{})
	listed := make(chan struct{})
	go func() {
		defer close(listed)
		_, _, _ = h.snapshots.Do("items", func() (any, error) {
			close(started)
			<-release
			return []remote.Item{}, nil
		})
	}()
	<-started
	defer func() {
		close(release)
		<-listed
	}()

	require.NoError(t, h.Publish(remote.Item{ID: "job-1"}))
	update := <-sink.ch
	assert.Equal(t, remote.ChangeUpdate, update.kind)

	refreshed := make(chan error, 1)
	go func() { refreshed <- h.Refresh("s1") }()

	select {
	case err := <-refreshed:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("refresh waited on the list snapshot")
	}

	snapshot := <-sink.ch
	assert.Equal(t, remote.ChangeRefresh, snapshot.kind)
	require.Len(t, snapshot.items, 1)
	assert.Equal(t, "job-1", snapshot.items[0].ID)
}
