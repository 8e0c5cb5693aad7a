// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package itemfilter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/jobwatch/internal/remote"
)

func item(id, data string) remote.Item {
	it := remote.Item{ID: id}
	if data != "" {
		it.Data = json.RawMessage(data)
	}
	return it
}

func TestCompile(t *testing.T) {
	f, err := Compile("")
	require.NoError(t, err)
	assert.Nil(t, f)

	_, err = Compile(`id ==`)
	assert.ErrorContains(t, err, "compile filter")

	_, err = Compile(`id + "x"`)
	assert.Error(t, err, "non-boolean expressions are rejected")

	f, err = Compile(`id == "a"`)
	require.NoError(t, err)
	assert.Equal(t, `id == "a"`, f.String())
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		item    remote.Item
		want    bool
		wantErr bool
	}{
		{name: "id prefix", source: `id startsWith "build-"`, item: item("build-1", ""), want: true},
		{name: "id prefix mismatch", source: `id startsWith "build-"`, item: item("import-1", ""), want: false},
		{name: "payload field", source: `data.progress >= 50`, item: item("a", `{"progress":75}`), want: true},
		{name: "payload field below", source: `data.progress >= 50`, item: item("a", `{"progress":10}`), want: false},
		{name: "nested payload", source: `data.job.state in ["failed", "cancelled"]`, item: item("a", `{"job":{"state":"failed"}}`), want: true},
		{name: "combined", source: `id contains "42" && data.state == "done"`, item: item("import-42", `{"state":"done"}`), want: true},
		{name: "invalid payload", source: `id == "a"`, item: item("a", `{`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Compile(tt.source)
			require.NoError(t, err)

			got, err := f.Match(tt.item)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelect(t *testing.T) {
	var nilFilter *Filter
	items := []remote.Item{item("build-1", `{"progress":90}`), item("build-2", `{"progress":5}`), item("broken", `{`)}

	assert.Equal(t, items, nilFilter.Select(items, nil))

	f, err := Compile(`data.progress > 50`)
	require.NoError(t, err)

	var failed []string
	selected := f.Select(items, func(it remote.Item, _ error) { failed = append(failed, it.ID) })

	require.Len(t, selected, 1)
	assert.Equal(t, "build-1", selected[0].ID)
	assert.Equal(t, []string{"broken"}, failed)
}
