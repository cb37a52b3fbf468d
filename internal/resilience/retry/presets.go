package retry

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
)

// Option overrides a field of a preset policy.
type Option func(*Policy)

// WithRetries sets the number of retries after the first attempt.
func WithRetries(n int) Option {
	return func(p *Policy) { p.Retries = n }
}

// WithDelay sets the base delay.
func WithDelay(d time.Duration) Option {
	return func(p *Policy) { p.Delay = d }
}

// WithMaxDelay sets the exponential backoff cap.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) { p.MaxDelay = d }
}

// WithExponential toggles exponential backoff.
func WithExponential(on bool) Option {
	return func(p *Policy) { p.Exponential = on }
}

// WithJitter sets the jitter factor.
func WithJitter(f float64) Option {
	return func(p *Policy) { p.JitterFactor = f }
}

// WithEligible replaces the eligibility predicate.
func WithEligible(fn func(error) bool) Option {
	return func(p *Policy) { p.Eligible = fn }
}

// WithObserver sets the per-attempt observer.
func WithObserver(fn func(attempt int, err error)) Option {
	return func(p *Policy) { p.OnRetry = fn }
}

// NetworkRules decide retries for plain network calls (HTTP fetches, RPC over HTTP).
var NetworkRules = Rules{
	{Name: "net-error", Match: IsNetError, Retry: true},
	{Name: "network-message", Match: MessageContains("network", "fetch", "timeout", "connection", "rpc"), Retry: true},
}

// WalletRules never retry a request the user rejected; only connection
// and timeout failures are retried.
var WalletRules = Rules{
	{Name: "user-rejected", Match: MessageContains("rejected", "denied", "user cancel"), Retry: false},
	{Name: "wallet-transient", Match: MessageContains("connection", "timeout"), Retry: true},
}

// BlockchainRules decide retries for chain RPC calls over HTTP or gRPC.
var BlockchainRules = Rules{
	{Name: "grpc-retry-info", Match: GRPCRetryInfo, Retry: true},
	{Name: "grpc-transient", Match: GRPCCode(codes.Unavailable, codes.DeadlineExceeded, codes.Aborted), Retry: true},
	{Name: "grpc-permanent", Match: IsGRPCStatus, Retry: false},
	{Name: "net-error", Match: IsNetError, Retry: true},
	{Name: "rpc-message", Match: MessageContains("rpc", "network", "timeout", "connection", "rate limit"), Retry: true},
}

// NetworkPolicy returns the default policy for network calls.
func NetworkPolicy(opts ...Option) Policy {
	return build(Policy{
		Name:         "network",
		Retries:      3,
		Delay:        1000 * time.Millisecond,
		Exponential:  true,
		MaxDelay:     30 * time.Second,
		JitterFactor: DefaultJitterFactor,
		Eligible:     NetworkRules.Eligible,
	}, opts)
}

// WalletPolicy returns the conservative default policy for wallet calls.
func WalletPolicy(opts ...Option) Policy {
	return build(Policy{
		Name:         "wallet",
		Retries:      2,
		Delay:        2000 * time.Millisecond,
		Exponential:  false,
		JitterFactor: DefaultJitterFactor,
		Eligible:     WalletRules.Eligible,
	}, opts)
}

// BlockchainPolicy returns the default policy for blockchain RPC calls.
func BlockchainPolicy(opts ...Option) Policy {
	return build(Policy{
		Name:         "blockchain",
		Retries:      5,
		Delay:        1500 * time.Millisecond,
		Exponential:  true,
		MaxDelay:     15 * time.Second,
		JitterFactor: DefaultJitterFactor,
		Eligible:     BlockchainRules.Eligible,
	}, opts)
}

// Network runs op with NetworkPolicy.
func Network[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	return Do(ctx, NetworkPolicy(opts...), op)
}

// Wallet runs op with WalletPolicy.
func Wallet[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	return Do(ctx, WalletPolicy(opts...), op)
}

// Blockchain runs op with BlockchainPolicy.
func Blockchain[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	return Do(ctx, BlockchainPolicy(opts...), op)
}

func build(p Policy, opts []Option) Policy {
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
