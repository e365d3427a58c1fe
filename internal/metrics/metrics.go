// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arcade_tcp_connections_total",
		Help: "Accepted control-plane connections.",
	})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arcade_tcp_connections_active",
		Help: "Control-plane connections currently holding a slot.",
	})

	RefusedConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcade_tcp_refused_total",
		Help: "Connections refused, by reason.",
	}, []string{"reason"})

	ActiveLobbies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arcade_lobbies_active",
		Help: "Lobbies with at least one member.",
	})

	LobbyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcade_lobby_errors_total",
		Help: "LOBBY_ERROR replies, by reason.",
	}, []string{"reason"})

	WorkersStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcade_workers_started_total",
		Help: "Simulation workers started, by launcher mode.",
	}, []string{"mode"})

	WorkerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arcade_worker_failures_total",
		Help: "Workers that failed to start or never reported READY.",
	})

	ChatMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arcade_chat_messages_total",
		Help: "Chat messages broadcast.",
	})

	PacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcade_udp_packets_received_total",
		Help: "Decoded simulation datagrams, by packet type.",
	}, []string{"type"})

	PacketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcade_udp_packets_dropped_total",
		Help: "Simulation datagrams dropped, by reason.",
	}, []string{"reason"})

	SnapshotsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arcade_snapshots_sent_total",
		Help: "Snapshot datagrams written.",
	})

	ActiveWorlds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arcade_worlds_active",
		Help: "Game worlds alive in this process.",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arcade_tick_duration_seconds",
		Help:    "Time spent advancing all worlds by one step.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
	})

	MatchesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arcade_matches_recorded_total",
		Help: "Match results handed to the recorder, by outcome.",
	}, []string{"outcome"})
)
