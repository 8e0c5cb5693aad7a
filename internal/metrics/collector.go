// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/jobwatch/internal/hub"
	"github.com/autobrr/jobwatch/internal/monitor"
)

// MonitorCollector reports the state of a monitor.Registry at scrape time.
type MonitorCollector struct {
	registry *monitor.Registry

	connectedDesc        *prometheus.Desc
	proxiesDesc          *prometheus.Desc
	managersCreatedDesc  *prometheus.Desc
	managersDisposedDesc *prometheus.Desc
	subscribeCallsDesc   *prometheus.Desc
	unsubscribeCallsDesc *prometheus.Desc
	eventsReceivedDesc   *prometheus.Desc
	listenerPanicsDesc   *prometheus.Desc
}

func NewMonitorCollector(registry *monitor.Registry) *MonitorCollector {
	return &MonitorCollector{
		registry: registry,

		connectedDesc: prometheus.NewDesc(
			"jobwatch_remote_connected",
			"Connection status of the job service (1=connected, 0=disconnected)",
			[]string{"transport"},
			nil,
		),
		proxiesDesc: prometheus.NewDesc(
			"jobwatch_proxies_active",
			"Number of live monitor proxies",
			nil,
			nil,
		),
		managersCreatedDesc: prometheus.NewDesc(
			"jobwatch_managers_created_total",
			"Connection managers created",
			nil,
			nil,
		),
		managersDisposedDesc: prometheus.NewDesc(
			"jobwatch_managers_disposed_total",
			"Connection managers disposed",
			nil,
			nil,
		),
		subscribeCallsDesc: prometheus.NewDesc(
			"jobwatch_subscribe_calls_total",
			"Subscribe requests sent to the job service",
			nil,
			nil,
		),
		unsubscribeCallsDesc: prometheus.NewDesc(
			"jobwatch_unsubscribe_calls_total",
			"Unsubscribe requests sent to the job service",
			nil,
			nil,
		),
		eventsReceivedDesc: prometheus.NewDesc(
			"jobwatch_events_received_total",
			"Notifications received from the job service",
			nil,
			nil,
		),
		listenerPanicsDesc: prometheus.NewDesc(
			"jobwatch_listener_panics_total",
			"Listener callbacks that panicked",
			nil,
			nil,
		),
	}
}

func (c *MonitorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connectedDesc
	ch <- c.proxiesDesc
	ch <- c.managersCreatedDesc
	ch <- c.managersDisposedDesc
	ch <- c.subscribeCallsDesc
	ch <- c.unsubscribeCallsDesc
	ch <- c.eventsReceivedDesc
	ch <- c.listenerPanicsDesc
}

func (c *MonitorCollector) Collect(ch chan<- prometheus.Metric) {
	if c.registry == nil {
		log.Trace().Msg("monitor registry is nil, skipping metrics collection")
		return
	}

	stats := c.registry.Stats()

	connected := 0.0
	if stats.Connected {
		connected = 1.0
	}

	ch <- prometheus.MustNewConstMetric(c.connectedDesc, prometheus.GaugeValue, connected, c.registry.Transport())
	ch <- prometheus.MustNewConstMetric(c.proxiesDesc, prometheus.GaugeValue, float64(stats.Proxies))
	ch <- prometheus.MustNewConstMetric(c.managersCreatedDesc, prometheus.CounterValue, float64(stats.ManagersCreated))
	ch <- prometheus.MustNewConstMetric(c.managersDisposedDesc, prometheus.CounterValue, float64(stats.ManagersDisposed))
	ch <- prometheus.MustNewConstMetric(c.subscribeCallsDesc, prometheus.CounterValue, float64(stats.SubscribeCalls))
	ch <- prometheus.MustNewConstMetric(c.unsubscribeCallsDesc, prometheus.CounterValue, float64(stats.UnsubscribeCalls))
	ch <- prometheus.MustNewConstMetric(c.eventsReceivedDesc, prometheus.CounterValue, float64(stats.EventsReceived))
	ch <- prometheus.MustNewConstMetric(c.listenerPanicsDesc, prometheus.CounterValue, float64(stats.ListenerPanics))
}

// HubCollector reports the sessions and items held by a hub.
type HubCollector struct {
	hub *hub.Hub

	sessionsDesc    *prometheus.Desc
	subscribersDesc *prometheus.Desc
	itemsDesc       *prometheus.Desc
}

func NewHubCollector(h *hub.Hub) *HubCollector {
	return &HubCollector{
		hub: h,

		sessionsDesc: prometheus.NewDesc(
			"jobwatch_hub_sessions",
			"Monitor sessions connected to the hub",
			nil,
			nil,
		),
		subscribersDesc: prometheus.NewDesc(
			"jobwatch_hub_subscribers",
			"Hub sessions subscribed to item changes",
			nil,
			nil,
		),
		itemsDesc: prometheus.NewDesc(
			"jobwatch_hub_items",
			"Items currently stored by the hub",
			nil,
			nil,
		),
	}
}

func (c *HubCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsDesc
	ch <- c.subscribersDesc
	ch <- c.itemsDesc
}

func (c *HubCollector) Collect(ch chan<- prometheus.Metric) {
	if c.hub == nil {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.sessionsDesc, prometheus.GaugeValue, float64(c.hub.Sessions()))
	ch <- prometheus.MustNewConstMetric(c.subscribersDesc, prometheus.GaugeValue, float64(c.hub.Subscribers()))
	ch <- prometheus.MustNewConstMetric(c.itemsDesc, prometheus.GaugeValue, float64(c.hub.ItemCount()))
}
