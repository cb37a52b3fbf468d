package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func jsonRPCServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Method != "eth_blockNumber" {
			t.Errorf("method = %s", req.Method)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProvider_Check(t *testing.T) {
	srv := jsonRPCServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"0x12a05f200"}`)
	p := NewHTTPProvider("test", srv.URL, 5*time.Second)
	defer p.Close()

	status, err := p.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status.LatestBlock != 5000000000 {
		t.Errorf("LatestBlock = %d", status.LatestBlock)
	}

	health := p.Health()
	if !health.Available || health.ErrorRate != 0 || health.Throttle == nil {
		t.Errorf("unexpected health %+v", health)
	}
}

func TestHTTPProvider_Errors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantRetryable bool
		check         func(t *testing.T, err error)
	}{
		{
			name:          "rate limited",
			status:        http.StatusTooManyRequests,
			wantRetryable: true,
			check: func(t *testing.T, err error) {
				var se *StatusError
				if !errors.As(err, &se) || se.Code != 429 {
					t.Errorf("expected 429 StatusError, got %v", err)
				}
			},
		},
		{
			name:   "ip blocked",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				var se *StatusError
				if !errors.As(err, &se) || se.Code != 403 {
					t.Errorf("expected 403 StatusError, got %v", err)
				}
			},
		},
		{
			name:          "bad gateway",
			status:        http.StatusBadGateway,
			body:          "upstream down",
			wantRetryable: true,
		},
		{
			name:   "rpc error",
			status: http.StatusOK,
			body:   `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`,
			check: func(t *testing.T, err error) {
				var re *RPCError
				if !errors.As(err, &re) || re.Code != -32602 {
					t.Errorf("expected RPCError -32602, got %v", err)
				}
			},
		},
		{
			name:          "throttle in rpc error",
			status:        http.StatusOK,
			body:          `{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"daily request count exceeded"}}`,
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := jsonRPCServer(t, tt.status, tt.body)
			p := NewHTTPProvider("test", srv.URL, 5*time.Second)
			defer p.Close()

			_, err := p.Check(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}

			var r interface{ Retryable() bool }
			retryable := errors.As(err, &r) && r.Retryable()
			if retryable != tt.wantRetryable {
				t.Errorf("retryable = %v, want %v (%v)", retryable, tt.wantRetryable, err)
			}
			if tt.check != nil {
				tt.check(t, err)
			}
			if p.Health().ErrorRate != 1 {
				t.Errorf("ErrorRate = %v, want 1", p.Health().ErrorRate)
			}
		})
	}
}

func TestHTTPProvider_BlockedShortCircuits(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := NewHTTPProvider("test", srv.URL, 5*time.Second)
	_, _ = p.Check(context.Background())
	_, err := p.Check(context.Background())
	if err == nil {
		t.Fatal("expected error while blocked")
	}
	if calls != 1 {
		t.Errorf("server called %d times, want 1", calls)
	}
}
