package monitoring

import (
	"time"

	"meshcall/internal/core/domain"
)

// NopMetrics discards everything. Used when Prometheus is disabled.
type NopMetrics struct{}

func NewNopMetrics() NopMetrics { return NopMetrics{} }

func (NopMetrics) ObserveNegotiation(string, error)               {}
func (NopMetrics) SetPeers(int)                                   {}
func (NopMetrics) SetICEStates(map[domain.ICEState]int)           {}
func (NopMetrics) IncICERestart()                                 {}
func (NopMetrics) IncRestartExhausted()                           {}
func (NopMetrics) IncDiagnostics(bool)                            {}
func (NopMetrics) ObserveRTT(domain.PeerID, time.Duration)        {}
func (NopMetrics) SetTransportState(domain.ConnectionState)       {}
func (NopMetrics) IncTransportAttempt(domain.TransportMode, bool) {}
func (NopMetrics) IncSignal(domain.MessageKind, string)           {}
func (NopMetrics) IncMediaError(domain.MediaErrorCategory)        {}
func (NopMetrics) IncRTCP(string)                                 {}
