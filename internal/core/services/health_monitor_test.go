package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type restartRecorder struct {
	mu    sync.Mutex
	calls []domain.PeerID
}

func (r *restartRecorder) restart(ctx context.Context, id domain.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
	return nil
}

func (r *restartRecorder) all() []domain.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PeerID(nil), r.calls...)
}

type healthFixture struct {
	monitor  *HealthMonitor
	registry ports.PeerRegistry
	restarts *restartRecorder
	diag     *stubDiagnostics
	metrics  *countingMetrics
	clock    time.Time
}

func newHealthFixture(t *testing.T, cfg HealthConfig, states map[domain.PeerID]domain.ICEState) *healthFixture {
	t.Helper()
	logger := zap.NewNop().Sugar()
	f := &healthFixture{
		registry: memory.NewMemoryPeerRegistry(logger),
		restarts: &restartRecorder{},
		diag:     &stubDiagnostics{report: domain.ConnectivityReport{Reachable: true, Server: "stun.test:3478"}},
		metrics:  &countingMetrics{},
		clock:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	for id, state := range states {
		rec, _ := f.registry.Upsert(id, string(id))
		require.True(t, rec.AttachConn(&fakeConnection{}))
		rec.SetICEState(state)
	}
	f.monitor = NewHealthMonitor(f.registry, f.diag, f.restarts.restart, cfg, f.metrics, logger)
	f.monitor.now = func() time.Time { return f.clock }
	return f
}

func (f *healthFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *healthFixture) setState(t *testing.T, id domain.PeerID, state domain.ICEState) {
	t.Helper()
	rec, ok := f.registry.Get(id)
	require.True(t, ok)
	rec.SetICEState(state)
}

func testHealthConfig() HealthConfig {
	return HealthConfig{
		Interval:           10 * time.Millisecond,
		MaxRestartAttempts: 3,
		BackoffInitial:     time.Second,
		BackoffMax:         8 * time.Second,
	}
}

func TestSweep_RestartsOnlyFailingPeers(t *testing.T) {
	f := newHealthFixture(t, testHealthConfig(), map[domain.PeerID]domain.ICEState{
		"a": domain.ICEConnected,
		"d": domain.ICEFailed,
		"e": domain.ICEChecking,
	})

	snapshot := f.monitor.Sweep(context.Background())

	assert.Equal(t, []domain.PeerID{"d"}, snapshot.Restarted)
	assert.Equal(t, []domain.PeerID{"d"}, f.restarts.all())
	assert.False(t, snapshot.AllFailing)
	assert.Nil(t, snapshot.Connectivity)
	assert.Equal(t, 1, snapshot.Counts[domain.ICEConnected])
	assert.Equal(t, 1, snapshot.Failing())
	assert.Equal(t, domain.ICEChecking, snapshot.States["e"])
	assert.Equal(t, 1, f.metrics.restarts)

	rec, _ := f.registry.Get("d")
	assert.Equal(t, 1, rec.ReconnectAttempts())
}

func TestSweep_BackoffSpacesRestarts(t *testing.T) {
	f := newHealthFixture(t, testHealthConfig(), map[domain.PeerID]domain.ICEState{
		"d": domain.ICEDisconnected,
		"a": domain.ICEConnected,
	})
	ctx := context.Background()

	f.monitor.Sweep(ctx)
	f.advance(500 * time.Millisecond)
	snapshot := f.monitor.Sweep(ctx)
	assert.Empty(t, snapshot.Restarted)

	f.advance(500 * time.Millisecond)
	snapshot = f.monitor.Sweep(ctx)
	assert.Equal(t, []domain.PeerID{"d"}, snapshot.Restarted)

	// second wait doubles
	f.advance(time.Second)
	assert.Empty(t, f.monitor.Sweep(ctx).Restarted)
	f.advance(time.Second)
	assert.Equal(t, []domain.PeerID{"d"}, f.monitor.Sweep(ctx).Restarted)

	assert.Len(t, f.restarts.all(), 3)
}

func TestSweep_ExhaustsAfterMaxAttempts(t *testing.T) {
	f := newHealthFixture(t, testHealthConfig(), map[domain.PeerID]domain.ICEState{
		"a": domain.ICEConnected,
		"d": domain.ICEFailed,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Equal(t, []domain.PeerID{"d"}, f.monitor.Sweep(ctx).Restarted, "sweep %d", i)
		f.advance(time.Minute)
	}

	snapshot := f.monitor.Sweep(ctx)
	assert.Empty(t, snapshot.Restarted)
	assert.Equal(t, []domain.PeerID{"d"}, snapshot.Exhausted)
	assert.Equal(t, 1, f.metrics.exhausted)

	f.advance(time.Minute)
	snapshot = f.monitor.Sweep(ctx)
	assert.Equal(t, []domain.PeerID{"d"}, snapshot.Exhausted)
	assert.Equal(t, 1, f.metrics.exhausted)
	assert.Len(t, f.restarts.all(), 3)
}

func TestSweep_AllFailingUnreachableSkipsRestarts(t *testing.T) {
	f := newHealthFixture(t, testHealthConfig(), map[domain.PeerID]domain.ICEState{
		"b": domain.ICEFailed,
		"c": domain.ICEDisconnected,
	})
	f.diag.report = domain.ConnectivityReport{Reachable: false, Error: "no response"}

	snapshot := f.monitor.Sweep(context.Background())

	assert.True(t, snapshot.AllFailing)
	require.NotNil(t, snapshot.Connectivity)
	assert.False(t, snapshot.Connectivity.Reachable)
	assert.Empty(t, snapshot.Restarted)
	assert.Empty(t, f.restarts.all())
	assert.Equal(t, 1, f.diag.callCount())
	assert.Equal(t, []bool{false}, f.metrics.diagnostics)
}

func TestSweep_AllFailingReachableRestarts(t *testing.T) {
	f := newHealthFixture(t, testHealthConfig(), map[domain.PeerID]domain.ICEState{
		"c": domain.ICEFailed,
		"b": domain.ICEFailed,
	})

	snapshot := f.monitor.Sweep(context.Background())

	require.NotNil(t, snapshot.Connectivity)
	assert.True(t, snapshot.Connectivity.Reachable)
	assert.Equal(t, []domain.PeerID{"b", "c"}, snapshot.Restarted)
	assert.Equal(t, []domain.PeerID{"b", "c"}, f.restarts.all())
}

func TestSweep_DiagnosticsErrorMarksUnreachable(t *testing.T) {
	f := newHealthFixture(t, testHealthConfig(), map[domain.PeerID]domain.ICEState{
		"b": domain.ICEFailed,
	})
	f.diag.report = domain.ConnectivityReport{}
	f.diag.err = errors.New("circuit breaker is open")

	snapshot := f.monitor.Sweep(context.Background())

	require.NotNil(t, snapshot.Connectivity)
	assert.False(t, snapshot.Connectivity.Reachable)
	assert.Equal(t, "circuit breaker is open", snapshot.Connectivity.Error)
	assert.Empty(t, f.restarts.all())
}

func TestSweep_EmptyRegistry(t *testing.T) {
	f := newHealthFixture(t, testHealthConfig(), nil)

	snapshot := f.monitor.Sweep(context.Background())

	assert.False(t, snapshot.AllFailing)
	assert.Zero(t, f.diag.callCount())
	assert.Empty(t, snapshot.States)
}

func TestSweep_RecoveryResetsBudget(t *testing.T) {
	f := newHealthFixture(t, testHealthConfig(), map[domain.PeerID]domain.ICEState{
		"a": domain.ICEConnected,
		"d": domain.ICEFailed,
	})
	ctx := context.Background()

	f.monitor.Sweep(ctx)
	rec, _ := f.registry.Get("d")
	require.Equal(t, 1, rec.ReconnectAttempts())

	f.setState(t, "d", domain.ICEConnected)
	f.monitor.Sweep(ctx)
	assert.Zero(t, rec.ReconnectAttempts())

	// a fresh failure is restarted without waiting out the old backoff
	f.setState(t, "d", domain.ICEFailed)
	assert.Equal(t, []domain.PeerID{"d"}, f.monitor.Sweep(ctx).Restarted)
}

func TestSweep_NewGenerationGetsNewBudget(t *testing.T) {
	f := newHealthFixture(t, testHealthConfig(), map[domain.PeerID]domain.ICEState{
		"a": domain.ICEConnected,
		"d": domain.ICEFailed,
	})
	ctx := context.Background()
	f.monitor.Sweep(ctx)

	require.True(t, f.registry.Remove("d"))
	rec, _ := f.registry.Upsert("d", "d")
	require.True(t, rec.AttachConn(&fakeConnection{}))
	rec.SetICEState(domain.ICEFailed)

	assert.Equal(t, []domain.PeerID{"d"}, f.monitor.Sweep(ctx).Restarted)
	assert.Equal(t, 1, rec.ReconnectAttempts())
}

func TestHealthMonitor_RunReportsSnapshots(t *testing.T) {
	f := newHealthFixture(t, testHealthConfig(), map[domain.PeerID]domain.ICEState{
		"a": domain.ICEConnected,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan domain.HealthSnapshot, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.monitor.Run(ctx, func(s domain.HealthSnapshot) {
			select {
			case got <- s:
			default:
			}
		})
	}()

	select {
	case s := <-got:
		assert.Equal(t, domain.ICEConnected, s.States["a"])
	case <-time.After(2 * time.Second):
		t.Fatal("no sweep reported")
	}
	cancel()
	<-done

	assert.Equal(t, domain.ICEConnected, f.monitor.LastSnapshot().States["a"])
	f.monitor.Reset()
	assert.Empty(t, f.monitor.LastSnapshot().States)
}
