// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jobwatch/internal/hub"
	"github.com/autobrr/jobwatch/internal/monitor"
)

type Manager struct {
	registry         *prometheus.Registry
	monitorCollector *MonitorCollector
	hubCollector     *HubCollector
}

// NewManager builds a metrics registry. Either source may be nil; its
// collector then reports nothing.
func NewManager(monitorRegistry *monitor.Registry, h *hub.Hub) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	monitorCollector := NewMonitorCollector(monitorRegistry)
	registry.MustRegister(monitorCollector)

	hubCollector := NewHubCollector(h)
	registry.MustRegister(hubCollector)

	log.Info().Msg("Metrics manager initialized")

	return &Manager{
		registry:         registry,
		monitorCollector: monitorCollector,
		hubCollector:     hubCollector,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}
