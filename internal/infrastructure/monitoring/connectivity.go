package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"meshcall/internal/core/domain"

	"github.com/pion/stun"
	"go.uber.org/zap"
)

const stunReadBuffer = 1500

// STUNChecker probes the configured STUN servers with a binding request.
// The first server that answers marks the network reachable.
type STUNChecker struct {
	servers []string
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewSTUNChecker accepts ICE server URLs and keeps the stun: entries.
func NewSTUNChecker(urls []string, timeout time.Duration, logger *zap.SugaredLogger) *STUNChecker {
	servers := make([]string, 0, len(urls))
	for _, u := range urls {
		if addr, ok := stunAddress(u); ok {
			servers = append(servers, addr)
		}
	}
	return &STUNChecker{
		servers: servers,
		timeout: timeout,
		logger:  logger,
	}
}

func stunAddress(url string) (string, bool) {
	if !strings.HasPrefix(url, "stun:") {
		return "", false
	}
	addr := strings.TrimPrefix(url, "stun:")
	if i := strings.IndexByte(addr, '?'); i >= 0 {
		addr = addr[:i]
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "3478")
	}
	return addr, true
}

func (s *STUNChecker) Servers() []string {
	return append([]string(nil), s.servers...)
}

func (s *STUNChecker) CheckConnectivity(ctx context.Context) (domain.ConnectivityReport, error) {
	report := domain.ConnectivityReport{CheckedAt: time.Now()}
	if len(s.servers) == 0 {
		report.Error = "no stun servers configured"
		return report, errors.New(report.Error)
	}

	var lastErr error
	for _, server := range s.servers {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		mapped, rtt, err := s.probe(ctx, server)
		if err != nil {
			s.logger.Warnw("STUN probe failed", "server", server, "error", err)
			lastErr = err
			continue
		}
		report.Reachable = true
		report.Server = server
		report.MappedAddr = mapped
		report.RTT = rtt
		s.logger.Infow("STUN probe succeeded",
			"server", server,
			"mapped_addr", mapped,
			"rtt", rtt,
		)
		return report, nil
	}

	report.Error = lastErr.Error()
	return report, lastErr
}

func (s *STUNChecker) probe(ctx context.Context, server string) (string, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", server)
	if err != nil {
		return "", 0, fmt.Errorf("dial %s: %w", server, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return "", 0, fmt.Errorf("build binding request: %w", err)
	}

	start := time.Now()
	if _, err := conn.Write(req.Raw); err != nil {
		return "", 0, fmt.Errorf("send binding request: %w", err)
	}

	buf := make([]byte, stunReadBuffer)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return "", 0, fmt.Errorf("read binding response: %w", err)
		}

		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil {
			continue
		}
		if res.TransactionID != req.TransactionID {
			continue
		}
		if res.Type != stun.BindingSuccess {
			return "", 0, fmt.Errorf("unexpected STUN response %s", res.Type)
		}

		var xor stun.XORMappedAddress
		if err := xor.GetFrom(res); err != nil {
			return "", 0, fmt.Errorf("read mapped address: %w", err)
		}
		return xor.String(), time.Since(start), nil
	}
}
