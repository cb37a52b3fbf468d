package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// GRPCProvider probes a gRPC endpoint through the standard health service.
type GRPCProvider struct {
	name    string
	service string
	conn    *grpc.ClientConn
	client  healthpb.HealthClient

	mu     sync.RWMutex
	health health
}

// NewGRPCProvider creates a new gRPC provider. The connection is
// established lazily on the first check.
func NewGRPCProvider(name, endpoint, service string) (*GRPCProvider, error) {
	// Parse endpoint to determine if TLS is needed
	target := endpoint
	var opts []grpc.DialOption

	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}

	return &GRPCProvider{
		name:    name,
		service: service,
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
		health:  newHealth(),
	}, nil
}

// Name returns the provider's name.
func (p *GRPCProvider) Name() string {
	return p.name
}

// Method returns the RPC used by Check.
func (p *GRPCProvider) Method() string {
	return healthpb.Health_Check_FullMethodName
}

// Check calls grpc.health.v1.Health/Check. A non-serving answer is
// reported as codes.Unavailable.
func (p *GRPCProvider) Check(ctx context.Context) (Status, error) {
	start := time.Now()

	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		p.recordFailure()
		return Status{}, err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		p.recordFailure()
		return Status{}, status.Errorf(codes.Unavailable, "service %q is %s", p.service, resp.GetStatus())
	}

	latency := time.Since(start)
	p.mu.Lock()
	p.health.recordSuccess(latency)
	p.mu.Unlock()

	return Status{Latency: latency}, nil
}

// Health returns the provider's health status.
func (p *GRPCProvider) Health() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health.status
}

// Close cleans up resources.
func (p *GRPCProvider) Close() error {
	return p.conn.Close()
}

func (p *GRPCProvider) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health.recordFailure()
}
