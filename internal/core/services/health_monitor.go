package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type HealthConfig struct {
	Interval           time.Duration
	MaxRestartAttempts int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Interval:           30 * time.Second,
		MaxRestartAttempts: 5,
		BackoffInitial:     30 * time.Second,
		BackoffMax:         5 * time.Minute,
	}
}

// RestartFunc issues one ICE restart toward a peer.
type RestartFunc func(ctx context.Context, peerID domain.PeerID) error

// restartBudget spaces ICE restarts for one record generation.
type restartBudget struct {
	generation string
	policy     backoff.BackOff
	next       time.Time
	exhausted  bool
}

// HealthMonitor sweeps the registry, restarts failing peers and falls back
// to a connectivity check when every peer is failing.
type HealthMonitor struct {
	registry    ports.PeerRegistry
	diagnostics ports.Diagnostics
	restart     RestartFunc
	config      HealthConfig
	metrics     ports.CallMetrics
	logger      *zap.SugaredLogger
	now         func() time.Time

	mu      sync.Mutex
	budgets map[domain.PeerID]*restartBudget
	last    domain.HealthSnapshot
}

func NewHealthMonitor(
	registry ports.PeerRegistry,
	diagnostics ports.Diagnostics,
	restart RestartFunc,
	config HealthConfig,
	metrics ports.CallMetrics,
	logger *zap.SugaredLogger,
) *HealthMonitor {
	return &HealthMonitor{
		registry:    registry,
		diagnostics: diagnostics,
		restart:     restart,
		config:      config,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
		budgets:     make(map[domain.PeerID]*restartBudget),
	}
}

// Run sweeps every interval until ctx is done. onSweep receives each snapshot.
func (h *HealthMonitor) Run(ctx context.Context, onSweep func(domain.HealthSnapshot)) {
	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := h.Sweep(ctx)
			if onSweep != nil {
				onSweep(snapshot)
			}
		}
	}
}

func (h *HealthMonitor) newBudget(generation string) *restartBudget {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = h.config.BackoffInitial
	exp.MaxInterval = h.config.BackoffMax
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	return &restartBudget{
		generation: generation,
		policy:     backoff.WithMaxRetries(exp, uint64(h.config.MaxRestartAttempts)),
	}
}

// Sweep takes one snapshot and issues at most one restart per failing peer.
func (h *HealthMonitor) Sweep(ctx context.Context) domain.HealthSnapshot {
	records := h.registry.All()
	now := h.now()

	snapshot := domain.HealthSnapshot{
		Timestamp: now,
		States:    make(map[domain.PeerID]domain.ICEState, len(records)),
		Counts:    make(map[domain.ICEState]int),
	}

	failing := make([]*domain.PeerRecord, 0)
	for id, rec := range records {
		state := rec.ICEState()
		snapshot.States[id] = state
		snapshot.Counts[state]++
		if state.Failing() {
			failing = append(failing, rec)
		}
	}
	snapshot.AllFailing = len(records) > 0 && len(failing) == len(records)

	h.metrics.SetPeers(len(records))
	h.metrics.SetICEStates(snapshot.Counts)

	h.mu.Lock()
	h.forgetRecovered(records)
	h.mu.Unlock()

	if snapshot.AllFailing {
		report := h.checkConnectivity(ctx)
		snapshot.Connectivity = &report
		if !report.Reachable {
			h.store(snapshot)
			return snapshot
		}
	}

	sort.Slice(failing, func(i, j int) bool { return failing[i].ID < failing[j].ID })
	for _, rec := range failing {
		switch h.tryRestart(ctx, rec, now) {
		case restartIssued:
			snapshot.Restarted = append(snapshot.Restarted, rec.ID)
		case restartExhausted:
			snapshot.Exhausted = append(snapshot.Exhausted, rec.ID)
		}
	}

	if len(failing) > 0 {
		h.logger.Infow("Health sweep",
			"phase", "health",
			"peers", len(records),
			"failing", len(failing),
			"restarted", len(snapshot.Restarted),
			"exhausted", len(snapshot.Exhausted),
		)
	}

	h.store(snapshot)
	return snapshot
}

// forgetRecovered drops budgets of connected or vanished peers. Must hold mu.
func (h *HealthMonitor) forgetRecovered(records map[domain.PeerID]*domain.PeerRecord) {
	for id, budget := range h.budgets {
		rec, ok := records[id]
		if !ok || rec.Generation != budget.generation {
			delete(h.budgets, id)
			continue
		}
		if rec.ICEState() == domain.ICEConnected {
			delete(h.budgets, id)
			rec.ResetReconnectAttempts()
			h.logger.Infow("Peer recovered",
				"peer_id", id,
				"phase", "health",
			)
		}
	}
}

type restartOutcome int

const (
	restartSkipped restartOutcome = iota
	restartIssued
	restartExhausted
)

func (h *HealthMonitor) tryRestart(ctx context.Context, rec *domain.PeerRecord, now time.Time) restartOutcome {
	h.mu.Lock()
	budget, ok := h.budgets[rec.ID]
	if !ok {
		budget = h.newBudget(rec.Generation)
		h.budgets[rec.ID] = budget
	}

	if budget.exhausted || rec.ReconnectAttempts() >= h.config.MaxRestartAttempts {
		first := !budget.exhausted
		budget.exhausted = true
		h.mu.Unlock()
		if first {
			h.metrics.IncRestartExhausted()
			h.logger.Warnw("ICE restart budget exhausted",
				"peer_id", rec.ID,
				"phase", "health",
				"attempts", rec.ReconnectAttempts(),
			)
		}
		return restartExhausted
	}
	if now.Before(budget.next) {
		h.mu.Unlock()
		return restartSkipped
	}

	wait := budget.policy.NextBackOff()
	if wait == backoff.Stop {
		budget.exhausted = true
	} else {
		budget.next = now.Add(wait)
	}
	h.mu.Unlock()

	attempt := rec.IncrementReconnectAttempts()
	h.metrics.IncICERestart()
	h.logger.Infow("Restarting ICE",
		"peer_id", rec.ID,
		"phase", "health",
		"attempt", attempt,
		"ice_state", rec.ICEState(),
	)

	if err := h.restart(ctx, rec.ID); err != nil {
		h.logger.Warnw("ICE restart failed",
			"peer_id", rec.ID,
			"phase", "health",
			"error", err,
		)
	}
	return restartIssued
}

func (h *HealthMonitor) checkConnectivity(ctx context.Context) domain.ConnectivityReport {
	h.logger.Warnw("All peers failing, checking connectivity", "phase", "health")

	report, err := h.diagnostics.CheckConnectivity(ctx)
	h.metrics.IncDiagnostics(report.Reachable)
	if err != nil {
		h.logger.Warnw("Connectivity check failed",
			"phase", "health",
			"error", err,
		)
		report.Reachable = false
		if report.Error == "" {
			report.Error = err.Error()
		}
		return report
	}

	h.logger.Infow("Connectivity check passed",
		"phase", "health",
		"server", report.Server,
		"rtt", report.RTT,
	)
	return report
}

func (h *HealthMonitor) store(snapshot domain.HealthSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = snapshot
}

func (h *HealthMonitor) LastSnapshot() domain.HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Reset forgets every budget, e.g. after hang-up.
func (h *HealthMonitor) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.budgets = make(map[domain.PeerID]*restartBudget)
	h.last = domain.HealthSnapshot{}
}
