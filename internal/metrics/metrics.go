// Package metrics exposes the daemon's Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngressPackets counts UDP datagrams by disposition.
	IngressPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlxd_ingress_packets_total",
		Help: "UDP log packets received, by disposition.",
	}, []string{"disposition"})

	// ParsedEvents counts successfully parsed log lines by event type.
	ParsedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlxd_parsed_events_total",
		Help: "Log lines parsed into events, by type.",
	}, []string{"type"})

	// UnparsedLines counts lines the parser could not match.
	UnparsedLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlxd_unparsed_lines_total",
		Help: "Log lines with a valid prefix but no matching pattern.",
	})

	// QueueDepth tracks the pipeline's buffered event count.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hlxd_pipeline_queue_depth",
		Help: "Events waiting in the pipeline queue.",
	})

	// QueueWaitSeconds observes how long enqueue blocked on a full queue.
	QueueWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hlxd_pipeline_queue_wait_seconds",
		Help:    "Time the producer spent blocked on a full pipeline queue.",
		Buckets: prometheus.DefBuckets,
	})

	// DeadLetters counts events abandoned after a failed retry.
	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlxd_pipeline_dead_letters_total",
		Help: "Events abandoned after persistence failed twice.",
	})

	// RconCommands counts RCON executions by result.
	RconCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlxd_rcon_commands_total",
		Help: "RCON commands executed, by result.",
	}, []string{"result"})

	// RconQueueDrops counts notifications dropped from a full send queue.
	RconQueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlxd_rcon_queue_drops_total",
		Help: "Notifications dropped because the RCON send queue was full.",
	})

	// SkillChanges observes the magnitude of applied rating deltas.
	SkillChanges = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hlxd_skill_change",
		Help:    "Distribution of applied skill deltas.",
		Buckets: []float64{-50, -25, -10, -5, 0, 5, 10, 25, 50},
	})
)
