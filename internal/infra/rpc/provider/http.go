package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HTTPProvider implements Provider for JSON-RPC over HTTP.
type HTTPProvider struct {
	name       string
	endpoint   string
	httpClient *http.Client

	mu     sync.RWMutex
	health health

	Throttle *ThrottleTracker
}

// NewHTTPProvider creates a new HTTP-based RPC provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		health:   newHealth(),
		Throttle: NewThrottleTracker(nil),
	}
}

// Name returns the provider's name.
func (p *HTTPProvider) Name() string {
	return p.name
}

// Method returns the JSON-RPC method used by Check.
func (p *HTTPProvider) Method() string {
	return "eth_blockNumber"
}

// Check fetches the latest block number.
func (p *HTTPProvider) Check(ctx context.Context) (Status, error) {
	start := time.Now()

	raw, err := p.Call(ctx, p.Method(), []any{})
	if err != nil {
		return Status{}, err
	}

	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return Status{}, fmt.Errorf("decode block number: %w", err)
	}
	height, err := strconv.ParseUint(strings.TrimPrefix(hex, "0x"), 16, 64)
	if err != nil {
		return Status{}, fmt.Errorf("parse block number %q: %w", hex, err)
	}

	return Status{LatestBlock: height, Latency: time.Since(start)}, nil
}

// Call makes a single JSON-RPC call.
func (p *HTTPProvider) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	start := time.Now()

	if status := p.Throttle.Status(); status == StatusThrottled || status == StatusBlocked {
		return nil, fmt.Errorf("provider %s %s, retry after %v", p.name, status, p.Throttle.CoolDown())
	}

	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)

	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusForbidden:
		p.Throttle.ObserveRejection(resp.StatusCode, resp.Header.Get("Retry-After"))
		p.recordFailure()
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		p.recordFailure()
		if MatchesThrottle(string(body)) {
			return nil, &StatusError{Code: http.StatusTooManyRequests, Body: string(body)}
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if rpcResp.Error != nil {
		p.recordFailure()
		return nil, &RPCError{
			Code:      rpcResp.Error.Code,
			Message:   rpcResp.Error.Message,
			Throttled: MatchesThrottle(rpcResp.Error.Message),
		}
	}

	p.Throttle.ObserveLatency(latency)
	p.recordSuccess(latency)

	return rpcResp.Result, nil
}

// Health returns the provider's health status.
func (p *HTTPProvider) Health() HealthStatus {
	p.mu.RLock()
	status := p.health.status
	p.mu.RUnlock()

	stats := p.Throttle.Stats()
	status.Throttle = &stats
	return status
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *HTTPProvider) recordSuccess(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health.recordSuccess(latency)
}

func (p *HTTPProvider) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health.recordFailure()
}
