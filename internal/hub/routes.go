// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package hub

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/CAFxX/httpcompression"
	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jobwatch/internal/remote"
	"github.com/autobrr/jobwatch/internal/remote/wire"
)

const maxItemBody = 1 << 20

// Handler returns the hub's HTTP API.
func (h *Hub) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "X-Requested-With"},
	}).Handler)

	r.Get("/healthz", h.handleHealth)

	r.Get(wire.PathEvents, h.events.ServeHTTP)
	r.Get(wire.PathSocket, h.sockets.ServeHTTP)

	r.Route(wire.PathItems, func(r chi.Router) {
		r.With(compressResponses).Get("/", h.handleListItems)
		r.Post("/", h.handlePublish)
		r.Delete("/", h.handleClear)
	})

	r.Post(wire.PathSessions+"/{session}/{action}", h.handleSessionCommand)

	return r
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"sessions":    h.Sessions(),
		"subscribers": h.Subscribers(),
	})
}

// compressResponses is applied per route; streaming endpoints must stay
// unbuffered.
func compressResponses(next http.Handler) http.Handler {
	adapter, err := httpcompression.DefaultAdapter()
	if err != nil {
		log.Error().Err(err).Msg("response compression disabled")
		return next
	}
	return adapter(next)
}

// handleListItems returns the items, optionally narrowed to ids that fuzzy
// match the q parameter. The ETag changes whenever the listed items do.
func (h *Hub) handleListItems(w http.ResponseWriter, r *http.Request) {
	items := h.Items()

	if q := r.URL.Query().Get("q"); q != "" {
		matched := items[:0]
		for _, item := range items {
			if fuzzy.MatchFold(q, item.ID) {
				matched = append(matched, item)
			}
		}
		items = matched
	}
	if items == nil {
		items = []remote.Item{}
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(items); err != nil {
		writeError(w, errors.Wrap(err, "encode items"))
		return
	}

	etag := `"` + strconv.FormatUint(xxhash.Sum64(body.Bytes()), 16) + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body.Bytes()); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func (h *Hub) handlePublish(w http.ResponseWriter, r *http.Request) {
	var item remote.Item
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxItemBody)).Decode(&item); err != nil {
		http.Error(w, "invalid item: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Publish(item); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hub) handleClear(w http.ResponseWriter, _ *http.Request) {
	if err := h.Clear(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hub) handleSessionCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")

	var err error
	switch action := chi.URLParam(r, "action"); action {
	case wire.ActionSub:
		err = h.SetSubscribed(id, true)
	case wire.ActionUnsub:
		err = h.SetSubscribed(id, false)
	case wire.ActionRefresh:
		err = h.Refresh(id)
	default:
		http.Error(w, "unknown action "+action, http.StatusNotFound)
		return
	}

	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownSession):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidItem):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrShuttingDown):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		log.Error().Err(err).Msg("hub request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}
