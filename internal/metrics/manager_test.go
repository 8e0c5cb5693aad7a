// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"runtime"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/jobwatch/internal/hub"
	"github.com/autobrr/jobwatch/internal/monitor"
)

func TestNewManager(t *testing.T) {
	tests := []struct {
		name     string
		registry *monitor.Registry
		hub      *hub.Hub
	}{
		{
			name: "creates manager with nil dependencies",
		},
		{
			name: "creates manager with hub only",
			hub:  hub.New(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(tt.registry, tt.hub)

			assert.NotNil(t, manager)
			assert.NotNil(t, manager.registry)
			assert.NotNil(t, manager.monitorCollector)
			assert.NotNil(t, manager.hubCollector)
		})
	}
}

func TestManager_GetRegistry(t *testing.T) {
	manager := NewManager(nil, nil)

	registry := manager.GetRegistry()

	assert.NotNil(t, registry)
	assert.IsType(t, &prometheus.Registry{}, registry)

	metricFamilies, err := registry.Gather()
	require.NoError(t, err)

	foundGoMetrics := false
	foundProcessMetrics := false

	for _, mf := range metricFamilies {
		name := mf.GetName()
		if strings.HasPrefix(name, "go_") {
			foundGoMetrics = true
		}
		if strings.HasPrefix(name, "process_") {
			foundProcessMetrics = true
		}
	}

	assert.True(t, foundGoMetrics, "Go runtime metrics should be registered (go_* metrics)")
	if runtime.GOOS == "darwin" {
		assert.False(t, foundProcessMetrics, "Process metrics should NOT be available on macOS")
	} else {
		assert.True(t, foundProcessMetrics, "Process metrics should be registered on Linux/Windows")
	}
}

func TestManager_RegistryIsolation(t *testing.T) {
	manager1 := NewManager(nil, nil)
	manager2 := NewManager(nil, nil)

	assert.NotSame(t, manager1.registry, manager2.registry, "Each manager should have its own registry")
	assert.NotSame(t, manager1.monitorCollector, manager2.monitorCollector, "Each manager should have its own collector")
}

func TestManager_NilSourcesReportNothing(t *testing.T) {
	manager := NewManager(nil, nil)

	metricFamilies, err := manager.registry.Gather()
	require.NoError(t, err)

	for _, mf := range metricFamilies {
		assert.False(t, strings.HasPrefix(mf.GetName(), "jobwatch_"), "unexpected metric %s", mf.GetName())
	}

	assert.Greater(t, testutil.CollectAndCount(manager.GetRegistry()), 0, "Should be able to collect metrics")
}
