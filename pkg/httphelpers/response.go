// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package httphelpers

import (
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DrainAndClose consumes the remaining response body and closes it to allow connection reuse.
func DrainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// NormalizeBasePath returns path with a leading slash and no trailing
// slash. The root path normalizes to "".
func NormalizeBasePath(path string) string {
	path = strings.TrimRight(strings.TrimSpace(path), "/")
	if path == "" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// JoinBasePath appends suffix to basePath.
func JoinBasePath(basePath, suffix string) string {
	basePath = NormalizeBasePath(basePath)
	suffix = strings.TrimLeft(suffix, "/")
	if suffix == "" {
		if basePath == "" {
			return "/"
		}
		return basePath
	}
	return basePath + "/" + suffix
}

// ResolveURL returns base with suffix appended to its path and query as
// the query string. base is not modified.
func ResolveURL(base *url.URL, suffix string, query url.Values) string {
	u := *base
	u.Path = JoinBasePath(base.Path, suffix)
	u.RawPath = ""
	u.RawQuery = query.Encode()
	u.Fragment = ""
	return u.String()
}
