package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/pkg/retry"
	"meshcall/pkg/tracing"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type SessionConfig struct {
	TierAttempts  int
	MaxAttempts   int
	TierTimeout   time.Duration
	JoinTimeout   time.Duration
	RetryDelay    time.Duration
	AutoReconnect bool

	// Outbound pacing; zero disables it.
	MessagesPerSecond float64
	Burst             int
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		TierAttempts:  2,
		MaxAttempts:   3,
		TierTimeout:   10 * time.Second,
		JoinTimeout:   10 * time.Second,
		RetryDelay:    500 * time.Millisecond,
		AutoReconnect: true,
	}
}

// TransportSession owns the single live link to the signaling relay and
// walks the configured transport modes in order when connecting.
type TransportSession struct {
	dialers []ports.TransportDialer
	cfg     SessionConfig
	limiter *rate.Limiter
	metrics ports.CallMetrics
	logger  *zap.SugaredLogger

	mu                sync.Mutex
	state             domain.ConnectionState
	conn              ports.TransportConn
	mode              domain.TransportMode
	generation        uint64
	stopReader        context.CancelFunc
	joined            chan error
	localID           domain.PeerID
	room              domain.RoomID
	displayName       string
	reconnectAttempts int
	lifeCtx           context.Context
	lifeCancel        context.CancelFunc

	hmu      sync.RWMutex
	handlers map[domain.MessageKind]ports.SignalHandler
	onState  func(domain.ConnectionState)

	// held for the whole of a connect loop; at most one runs at a time
	attemptMu sync.Mutex
}

func NewTransportSession(dialers []ports.TransportDialer, cfg SessionConfig, metrics ports.CallMetrics, logger *zap.SugaredLogger) *TransportSession {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst)
	}
	return &TransportSession{
		dialers:  dialers,
		cfg:      cfg,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger,
		state:    domain.StateDisconnected,
		handlers: make(map[domain.MessageKind]ports.SignalHandler),
	}
}

// On registers the handler for kind, replacing any previous one.
func (s *TransportSession) On(kind domain.MessageKind, handler ports.SignalHandler) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.handlers[kind] = handler
}

func (s *TransportSession) OnStateChange(fn func(domain.ConnectionState)) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.onState = fn
}

func (s *TransportSession) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *TransportSession) LocalID() domain.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localID
}

func (s *TransportSession) Mode() domain.TransportMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *TransportSession) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectAttempts
}

// Connect joins room, tearing down any live link first. It returns once the
// relay confirmed the join, or domain.ErrTransportExhausted when every mode failed.
func (s *TransportSession) Connect(ctx context.Context, room domain.RoomID, displayName string) error {
	s.mu.Lock()
	if s.lifeCancel != nil {
		s.lifeCancel()
	}
	s.lifeCtx, s.lifeCancel = context.WithCancel(context.Background())
	life := s.lifeCtx
	s.room = room
	s.displayName = displayName
	s.mu.Unlock()

	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()
	return s.connect(ctx, life)
}

// Disconnect closes the link and suppresses automatic reconnects.
func (s *TransportSession) Disconnect() {
	s.mu.Lock()
	if s.lifeCancel != nil {
		s.lifeCancel()
		s.lifeCancel = nil
	}
	s.mu.Unlock()

	s.teardown()
	s.setState(domain.StateDisconnected)
	s.logger.Infow("signaling transport disconnected")
}

func (s *TransportSession) Send(ctx context.Context, msg domain.Signal) error {
	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()

	if conn == nil || (state != domain.StateConnected && state != domain.StateInRoom) {
		s.logger.Warnw("dropping outbound message while not connected", "type", msg.Kind(), "state", state)
		return domain.ErrNotConnected
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind(), err)
	}

	data, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, data); err != nil {
		s.logger.Warnw("outbound message failed", "type", msg.Kind(), "error", err)
		return fmt.Errorf("send %s: %w", msg.Kind(), err)
	}
	s.metrics.IncSignal(msg.Kind(), "out")
	return nil
}

// connect walks the dialers until one joins the room. The caller holds
// attemptMu. Cancelling life, by Disconnect or a newer Connect, aborts the
// loop without publishing a state: the canceller owns the session then.
func (s *TransportSession) connect(ctx, life context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(life, cancel)
	defer stop()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.teardown()
	s.setState(domain.StateConnecting)

	remaining := append([]ports.TransportDialer(nil), s.dialers...)
	attempts := 0
	var lastErr error

	for len(remaining) > 0 && attempts < s.cfg.MaxAttempts {
		dialer := remaining[0]
		budget := s.cfg.TierAttempts
		if left := s.cfg.MaxAttempts - attempts; left < budget {
			budget = left
		}

		err := retry.Retry(ctx, retry.Config{
			Enabled:      true,
			MaxAttempts:  budget - 1,
			InitialDelay: s.cfg.RetryDelay,
			MaxDelay:     4 * s.cfg.RetryDelay,
			Multiplier:   2,
			OnRetry: func(attempt int, err error) {
				s.logger.Warnw("transport attempt failed, retrying", "mode", dialer.Mode(), "attempt", attempt+1, "error", err)
			},
		}, func() error {
			attempts++
			return s.attempt(ctx, life, dialer, attempts)
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			if life.Err() == nil {
				s.setState(domain.StateDisconnected)
			}
			return ctx.Err()
		}

		lastErr = err
		remaining = remaining[1:]
		s.logger.Warnw("transport mode exhausted, falling back", "mode", dialer.Mode(), "attempts", attempts, "error", err)
	}

	s.setState(domain.StateDisconnected)
	s.logger.Errorw("all signaling transports failed", "attempts", attempts, "error", lastErr)
	return fmt.Errorf("%w after %d attempts: %v", domain.ErrTransportExhausted, attempts, lastErr)
}

func (s *TransportSession) attempt(ctx, life context.Context, dialer ports.TransportDialer, n int) (err error) {
	ctx, span := tracing.TraceSignal(ctx, "connect",
		tracing.TransportKey.String(string(dialer.Mode())),
		tracing.AttemptKey.Int(n),
	)
	defer func() {
		s.metrics.IncTransportAttempt(dialer.Mode(), err == nil)
		tracing.End(span, err)
	}()

	s.setState(domain.StateConnecting)

	dctx, cancel := context.WithTimeout(ctx, s.cfg.TierTimeout)
	defer cancel()

	conn, err := dialer.Dial(dctx)
	if err != nil {
		return err
	}

	hello, err := receiveWithin(dctx, conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", domain.ErrHandshakeTimeout, err)
	}
	connected, ok := hello.(domain.Connected)
	if !ok || connected.ID == "" {
		conn.Close()
		return fmt.Errorf("expected %s, got %s", domain.KindConnected, hello.Kind())
	}

	joined, err := s.install(life, conn, dialer.Mode(), connected.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	join := domain.JoinRoom{RoomID: s.room, DisplayName: s.displayName}
	s.mu.Unlock()
	if err := s.Send(ctx, join); err != nil {
		s.teardown()
		return err
	}

	jctx, jcancel := context.WithTimeout(ctx, s.cfg.JoinTimeout)
	defer jcancel()
	select {
	case err := <-joined:
		if err != nil {
			return fmt.Errorf("link lost before %s: %w", domain.KindRoomJoined, err)
		}
		s.logger.Infow("joined room", "room_id", join.RoomID, "peer_id", connected.ID, "mode", dialer.Mode())
		return nil
	case <-jctx.Done():
		s.teardown()
		return fmt.Errorf("%w: waiting for %s", domain.ErrHandshakeTimeout, domain.KindRoomJoined)
	}
}

// install makes conn the live link under a new generation and starts its
// reader. Any link still installed is closed. conn is refused once life
// has been cancelled.
func (s *TransportSession) install(life context.Context, conn ports.TransportConn, mode domain.TransportMode, id domain.PeerID) (<-chan error, error) {
	s.mu.Lock()
	if err := life.Err(); err != nil {
		s.mu.Unlock()
		conn.Close()
		return nil, err
	}
	prevConn, prevStop := s.conn, s.stopReader
	s.generation++
	gen := s.generation
	readerCtx, stop := context.WithCancel(context.Background())
	s.conn = conn
	s.mode = mode
	s.localID = id
	s.stopReader = stop
	s.joined = make(chan error, 1)
	joined := s.joined
	s.mu.Unlock()

	if prevStop != nil {
		prevStop()
	}
	if prevConn != nil {
		s.logger.Warnw("replacing a live signaling link", "mode", mode)
		prevConn.Close()
	}

	s.setState(domain.StateConnected)
	go s.readLoop(readerCtx, gen, conn)
	return joined, nil
}

// teardown closes the live link, if any, and invalidates its generation.
// It returns the new generation.
func (s *TransportSession) teardown() uint64 {
	s.mu.Lock()
	conn, stop := s.conn, s.stopReader
	s.conn = nil
	s.stopReader = nil
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn != nil {
		conn.Close()
	}
	return gen
}

func (s *TransportSession) readLoop(ctx context.Context, gen uint64, conn ports.TransportConn) {
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			s.linkLost(gen, err)
			return
		}

		msg, err := Decode(data)
		if err != nil {
			s.logger.Warnw("discarding inbound message", "error", err)
			continue
		}
		s.metrics.IncSignal(msg.Kind(), "in")

		if !s.current(gen) {
			return
		}
		if _, ok := msg.(domain.RoomJoined); ok {
			s.markJoined(gen)
		}
		s.dispatch(msg)
	}
}

func (s *TransportSession) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

func (s *TransportSession) markJoined(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.joined == nil {
		s.mu.Unlock()
		return
	}
	joined := s.joined
	s.joined = nil
	s.mu.Unlock()

	s.setState(domain.StateInRoom)
	joined <- nil
}

func (s *TransportSession) dispatch(msg domain.Signal) {
	s.hmu.RLock()
	handler := s.handlers[msg.Kind()]
	s.hmu.RUnlock()

	if handler == nil {
		s.logger.Debugw("no handler for inbound message", "type", msg.Kind())
		return
	}
	handler(msg)
}

// linkLost runs when the reader of generation gen fails.
func (s *TransportSession) linkLost(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	// an attempt still waiting for room-joined owns the session; it retries
	// or reports exhaustion itself
	if s.joined != nil {
		s.joined <- cause
		s.joined = nil
		s.mu.Unlock()
		s.teardown()
		s.logger.Warnw("signaling link lost before join", "error", cause)
		return
	}
	wasInRoom := s.state == domain.StateInRoom
	lifeCtx := s.lifeCtx
	autoReconnect := s.cfg.AutoReconnect && lifeCtx != nil && lifeCtx.Err() == nil && wasInRoom
	if autoReconnect {
		s.reconnectAttempts++
	}
	attempt := s.reconnectAttempts
	s.mu.Unlock()

	next := s.teardown()
	s.logger.Warnw("signaling link lost", "error", cause, "auto_reconnect", autoReconnect)

	// disconnected is only reported once no reconnect will follow
	if !autoReconnect {
		s.setState(domain.StateDisconnected)
		return
	}
	s.setState(domain.StateConnecting)
	go s.reconnect(lifeCtx, next, attempt)
}

// reconnect runs a connect loop unless a newer Connect, Disconnect or link
// has taken over since generation gen was current.
func (s *TransportSession) reconnect(life context.Context, gen uint64, attempt int) {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()
	if life.Err() != nil || !s.current(gen) {
		s.logger.Debugw("skipping superseded reconnect", "reconnect_attempt", attempt)
		return
	}

	s.logger.Infow("reconnecting signaling transport", "reconnect_attempt", attempt)
	if err := s.connect(life, life); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Errorw("signaling reconnect failed", "reconnect_attempt", attempt, "error", err)
	}
}

func (s *TransportSession) setState(state domain.ConnectionState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.metrics.SetTransportState(state)
	s.hmu.RLock()
	fn := s.onState
	s.hmu.RUnlock()
	if fn != nil {
		fn(state)
	}
}

// receiveWithin reads one message, closing conn if ctx expires first.
func receiveWithin(ctx context.Context, conn ports.TransportConn) (domain.Signal, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := conn.Receive(ctx)
		ch <- result{data, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return Decode(r.data)
	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	}
}
