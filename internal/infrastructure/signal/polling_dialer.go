package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
)

// PollingDialer reaches the relay over plain HTTP: one open call, then
// a POST per outbound envelope and a long-poll GET for inbound batches.
type PollingDialer struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

func NewPollingDialer(baseURL string, tokens TokenSource) *PollingDialer {
	return &PollingDialer{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (d *PollingDialer) Mode() domain.TransportMode {
	return domain.TransportPolling
}

func (d *PollingDialer) Dial(ctx context.Context) (ports.TransportConn, error) {
	var opened struct {
		SID string `json:"sid"`
	}
	resp, err := d.do(ctx, http.MethodPost, "/open", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&opened); err != nil {
		return nil, fmt.Errorf("polling open: %w", err)
	}
	if opened.SID == "" {
		return nil, fmt.Errorf("polling open: empty session id")
	}

	pctx, cancel := context.WithCancel(context.Background())
	return &pollConn{dialer: d, sid: opened.SID, ctx: pctx, cancel: cancel}, nil
}

func (d *PollingDialer) do(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	target := d.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	header, err := bearerHeader(d.tokens)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("polling %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return resp, nil
}

type pollConn struct {
	dialer *PollingDialer
	sid    string

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	pending   []json.RawMessage
	closeOnce sync.Once
}

func (c *pollConn) query() url.Values {
	return url.Values{"sid": {c.sid}}
}

func (c *pollConn) Send(ctx context.Context, data []byte) error {
	resp, err := c.dialer.do(ctx, http.MethodPost, "/send", c.query(), data)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Receive returns buffered envelopes first, then long-polls for more.
func (c *pollConn) Receive(ctx context.Context) ([]byte, error) {
	for {
		c.mu.Lock()
		if len(c.pending) > 0 {
			next := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()
			return next, nil
		}
		c.mu.Unlock()

		batch, err := c.poll(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.pending = append(c.pending, batch...)
		c.mu.Unlock()
	}
}

func (c *pollConn) poll(ctx context.Context) ([]json.RawMessage, error) {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.ctx.Done():
			cancel()
		case <-pctx.Done():
		}
	}()

	resp, err := c.dialer.do(pctx, http.MethodGet, "/recv", c.query(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var batch []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("polling recv: %w", err)
	}
	return batch, nil
}

func (c *pollConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var resp *http.Response
		resp, err = c.dialer.do(ctx, http.MethodPost, "/close", c.query(), nil)
		if err == nil {
			resp.Body.Close()
		}
	})
	return err
}
