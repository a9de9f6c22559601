package reliability

import (
	"context"
	"errors"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/pkg/circuitbreaker"
	"meshcall/pkg/retry"

	"go.uber.org/zap"
)

// DiagnosticsGuard wraps a Diagnostics collaborator with retry logic and a
// circuit breaker so a dead network does not get probed on every sweep.
type DiagnosticsGuard struct {
	diagnostics ports.Diagnostics
	logger      *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

func NewDiagnosticsGuard(
	diagnostics ports.Diagnostics,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *DiagnosticsGuard {
	guard := &DiagnosticsGuard{
		diagnostics:    diagnostics,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	guard.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("diagnostics circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return guard
}

// CheckConnectivity returns the last report seen even when every attempt
// failed. An open breaker yields a report carrying the breaker error.
func (g *DiagnosticsGuard) CheckConnectivity(ctx context.Context) (domain.ConnectivityReport, error) {
	var last domain.ConnectivityReport

	check := func() error {
		return g.circuitBreaker.Execute(ctx, func() error {
			report, err := g.diagnostics.CheckConnectivity(ctx)
			last = report
			return err
		})
	}

	cfg := g.retryConfig
	cfg.NonRetryableErrors = append([]error{circuitbreaker.ErrOpen}, cfg.NonRetryableErrors...)

	err := retry.Retry(ctx, cfg, check)
	if err != nil {
		if last.CheckedAt.IsZero() {
			last.CheckedAt = time.Now()
		}
		if last.Error == "" {
			last.Error = err.Error()
		}
		if errors.Is(err, circuitbreaker.ErrOpen) {
			g.logger.Warnw("Connectivity check skipped", "phase", "diagnostics", "error", err)
		}
		return last, err
	}
	return last, nil
}

func (g *DiagnosticsGuard) BreakerState() circuitbreaker.State {
	return g.circuitBreaker.GetState()
}
