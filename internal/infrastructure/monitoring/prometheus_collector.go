package monitoring

import (
	"time"

	"meshcall/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.CallMetrics on a caller-supplied registry.
type PrometheusCollector struct {
	peers              prometheus.Gauge
	iceStates          *prometheus.GaugeVec
	negotiations       *prometheus.CounterVec
	iceRestarts        prometheus.Counter
	restartsExhausted  prometheus.Counter
	diagnostics        *prometheus.CounterVec
	rtt                prometheus.Histogram
	transportState     *prometheus.GaugeVec
	transportAttempts  *prometheus.CounterVec
	signalMessages     *prometheus.CounterVec
	mediaErrors        *prometheus.CounterVec
	rtcpPackets        *prometheus.CounterVec
}

func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		peers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_peers",
			Help: "Number of remote peers in the current call",
		}),

		iceStates: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshcall_peer_ice_state",
			Help: "Number of peers per ICE state at the last health sweep",
		}, []string{"state"}),

		negotiations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_negotiations_total",
			Help: "Negotiation steps by operation and outcome",
		}, []string{"operation", "result"}),

		iceRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshcall_ice_restarts_total",
			Help: "ICE restarts issued by the health monitor",
		}),

		restartsExhausted: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshcall_ice_restart_budget_exhausted_total",
			Help: "Peers that ran out of ICE restart attempts",
		}),

		diagnostics: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_connectivity_checks_total",
			Help: "Broader connectivity checks run when every peer was failing",
		}, []string{"reachable"}),

		rtt: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshcall_peer_rtt_seconds",
			Help:    "Signaling round trip time measured by ping",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),

		transportState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshcall_transport_state",
			Help: "1 for the current signaling transport state",
		}, []string{"state"}),

		transportAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_transport_attempts_total",
			Help: "Signaling connection attempts by mode and outcome",
		}, []string{"mode", "result"}),

		signalMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_signal_messages_total",
			Help: "Signaling messages by type and direction",
		}, []string{"type", "direction"}),

		mediaErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_media_errors_total",
			Help: "Capture failures by category",
		}, []string{"category"}),

		rtcpPackets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_rtcp_packets_total",
			Help: "RTCP feedback received on outgoing tracks",
		}, []string{"type"}),
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (p *PrometheusCollector) ObserveNegotiation(operation string, err error) {
	p.negotiations.WithLabelValues(operation, result(err == nil)).Inc()
}

func (p *PrometheusCollector) SetPeers(n int) {
	p.peers.Set(float64(n))
}

func (p *PrometheusCollector) SetICEStates(counts map[domain.ICEState]int) {
	for _, s := range domain.AllICEStates {
		p.iceStates.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

func (p *PrometheusCollector) IncICERestart() {
	p.iceRestarts.Inc()
}

func (p *PrometheusCollector) IncRestartExhausted() {
	p.restartsExhausted.Inc()
}

func (p *PrometheusCollector) IncDiagnostics(reachable bool) {
	label := "false"
	if reachable {
		label = "true"
	}
	p.diagnostics.WithLabelValues(label).Inc()
}

func (p *PrometheusCollector) ObserveRTT(_ domain.PeerID, rtt time.Duration) {
	p.rtt.Observe(rtt.Seconds())
}

func (p *PrometheusCollector) SetTransportState(state domain.ConnectionState) {
	for _, s := range []domain.ConnectionState{domain.StateDisconnected, domain.StateConnecting, domain.StateConnected, domain.StateInRoom} {
		v := 0.0
		if s == state {
			v = 1
		}
		p.transportState.WithLabelValues(string(s)).Set(v)
	}
}

func (p *PrometheusCollector) IncTransportAttempt(mode domain.TransportMode, success bool) {
	p.transportAttempts.WithLabelValues(string(mode), result(success)).Inc()
}

func (p *PrometheusCollector) IncSignal(kind domain.MessageKind, direction string) {
	p.signalMessages.WithLabelValues(string(kind), direction).Inc()
}

func (p *PrometheusCollector) IncMediaError(category domain.MediaErrorCategory) {
	p.mediaErrors.WithLabelValues(string(category)).Inc()
}

func (p *PrometheusCollector) IncRTCP(packetType string) {
	p.rtcpPackets.WithLabelValues(packetType).Inc()
}
