// Package gateway provides the HTTP-RPC client for the agent gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/traphq/trap/internal/common/config"
	"github.com/traphq/trap/internal/common/logger"
)

// ErrUnavailable is returned while the circuit breaker holds calls back.
// No network I/O is issued for calls that get this error.
var ErrUnavailable = errors.New("gateway unavailable")

// GatewayError is a semantic error reported by the gateway (ok:false).
// It does not trip the circuit breaker.
type GatewayError struct {
	Method  string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %s", e.Method, e.Message)
}

// Backoff schedule for consecutive transport failures.
const (
	backoffBase = 5 * time.Second
	backoffMax  = 60 * time.Second
)

type rpcRequest struct {
	Type   string      `json:"type"`
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

type rpcResponse struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client is the RPC client for the agent gateway. The circuit-breaker state
// is per process and protected by a mutex.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logger.Logger

	mu                  sync.Mutex
	consecutiveFailures int
	nextAttempt         time.Time

	now func() time.Time
}

// NewClient creates a gateway client from configuration.
func NewClient(cfg config.GatewayConfig, log *logger.Logger) *Client {
	timeout := cfg.TimeoutDuration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.URL(),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.WithFields(zap.String("component", "gateway-client")),
		now:        time.Now,
	}
}

// Call issues one RPC. On success the payload is unmarshaled into result
// (which may be nil for void methods).
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	c.mu.Lock()
	if c.now().Before(c.nextAttempt) {
		remaining := c.nextAttempt.Sub(c.now())
		c.mu.Unlock()
		return fmt.Errorf("%w: backing off for %s", ErrUnavailable, remaining.Round(time.Second))
	}
	c.mu.Unlock()

	body, err := json.Marshal(rpcRequest{
		Type:   "req",
		ID:     uuid.New().String(),
		Method: method,
		Params: params,
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure(nil)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		c.recordFailure(resp)
		return fmt.Errorf("%w: gateway returned %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		// 4xx is a caller problem, not an outage.
		c.recordSuccess()
		return fmt.Errorf("gateway returned %d for %s", resp.StatusCode, method)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		c.recordFailure(nil)
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	c.recordSuccess()

	if !rpcResp.OK {
		return &GatewayError{Method: method, Message: rpcResp.Error}
	}
	if result != nil && len(rpcResp.Payload) > 0 {
		if err := json.Unmarshal(rpcResp.Payload, result); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", method, err)
		}
	}
	return nil
}

// recordFailure advances the backoff window: 5, 10, 20, 40, 60 seconds.
// A 503 with Retry-After overrides the schedule with now + (N+1)s.
func (c *Client) recordFailure(resp *http.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures++
	// Clamp the exponent: past the cap the shift would overflow on a long
	// outage and collapse the window.
	delay := backoffMax
	if shift := c.consecutiveFailures - 1; shift < 4 {
		delay = backoffBase << shift
	}
	if resp != nil && resp.StatusCode == http.StatusServiceUnavailable {
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil {
				delay = time.Duration(seconds+1) * time.Second
			}
		}
	}
	c.nextAttempt = c.now().Add(delay)
	c.logger.Warn("gateway call failed, backing off",
		zap.Int("consecutive_failures", c.consecutiveFailures),
		zap.Duration("backoff", delay))
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consecutiveFailures > 0 {
		c.logger.Info("gateway recovered",
			zap.Int("previous_failures", c.consecutiveFailures))
	}
	c.consecutiveFailures = 0
	c.nextAttempt = time.Time{}
}

// ConsecutiveFailures reports the current failure streak.
func (c *Client) ConsecutiveFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveFailures
}
