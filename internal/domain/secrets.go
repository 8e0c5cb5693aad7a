// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "strings"

const RedactedStr = "<redacted>"

// RedactString replaces a non-empty secret with RedactedStr.
func RedactString(s string) string {
	if len(s) == 0 {
		return ""
	}

	return RedactedStr
}

// RedactBasicAuthUsers keeps the user names of a user:pass list and hides
// the passwords.
func RedactBasicAuthUsers(users string) string {
	if strings.TrimSpace(users) == "" {
		return ""
	}

	entries := strings.Split(users, ",")
	for i, entry := range entries {
		user, pass, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok {
			entries[i] = RedactString(entry)
			continue
		}
		entries[i] = user + ":" + RedactString(pass)
	}
	return strings.Join(entries, ",")
}

// Redacted returns a copy of c that is safe to log.
func (c Config) Redacted() Config {
	c.MetricsBasicAuthUsers = RedactBasicAuthUsers(c.MetricsBasicAuthUsers)
	return c
}
