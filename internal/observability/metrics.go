// Package observability holds the Prometheus collectors shared by the relay
// and the client coordinator.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RelayRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "huddle",
		Subsystem: "relay",
		Name:      "rooms",
		Help:      "Rooms with at least one member.",
	})
	RelayMembers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "huddle",
		Subsystem: "relay",
		Name:      "members",
		Help:      "Clients currently joined to a room.",
	})
	RelayFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "huddle",
		Subsystem: "relay",
		Name:      "frames_total",
		Help:      "Frames handled by the relay, by type.",
	}, []string{"type"})
	RelayDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "huddle",
		Subsystem: "relay",
		Name:      "dropped_total",
		Help:      "Frames dropped because a member's send queue was full.",
	})

	LinkTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "huddle",
		Subsystem: "mesh",
		Name:      "link_transitions_total",
		Help:      "Peer link state transitions.",
	}, []string{"role", "to"})
	LinksOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "huddle",
		Subsystem: "mesh",
		Name:      "links_open",
		Help:      "Peer links not yet closed.",
	})

	Recordings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "huddle",
		Subsystem: "record",
		Name:      "sessions_total",
		Help:      "Recording sessions by outcome.",
	}, []string{"outcome"})
	DrawTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "huddle",
		Subsystem: "record",
		Name:      "draw_ticks_total",
		Help:      "Composite frames drawn.",
	})
)
