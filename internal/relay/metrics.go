package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	peersConnected   prometheus.Gauge
	connectionsTotal prometheus.Counter
	framesRouted     *prometheus.CounterVec
	routeFailures    prometheus.Counter
	rejectedTotal    *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		peersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tutorlink_relay_peers_connected",
			Help: "Number of peers currently connected to the relay",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tutorlink_relay_connections_total",
			Help: "Total accepted relay connections",
		}),
		framesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorlink_relay_frames_routed_total",
			Help: "Frames forwarded between peers, by frame type",
		}, []string{"type"}),
		routeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tutorlink_relay_route_failures_total",
			Help: "Frames that could not be delivered to their target",
		}),
		rejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorlink_relay_rejected_total",
			Help: "Connections rejected before upgrade, by reason",
		}, []string{"reason"}),
	}
}
