package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Rule maps a class of errors to a retry decision.
type Rule struct {
	Name  string
	Match func(error) bool
	Retry bool
}

// Rules is an ordered rule set. The first matching rule decides.
type Rules []Rule

// Decide returns the first rule matching err.
func (r Rules) Decide(err error) (Rule, bool) {
	if err == nil {
		return Rule{}, false
	}
	for _, rule := range r {
		if rule.Match(err) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Eligible reports whether err may be retried. Unmatched errors are not retried.
func (r Rules) Eligible(err error) bool {
	rule, ok := r.Decide(err)
	return ok && rule.Retry
}

// MessageContains matches errors whose text contains any of the substrings,
// ignoring case.
func MessageContains(substrs ...string) func(error) bool {
	lowered := make([]string, len(substrs))
	for i, s := range substrs {
		lowered[i] = strings.ToLower(s)
	}
	return func(err error) bool {
		msg := strings.ToLower(err.Error())
		for _, s := range lowered {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}
}

// IsNetError matches transport-level failures and deadline expiry.
func IsNetError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// GRPCCode matches gRPC status errors carrying one of the codes.
func GRPCCode(want ...codes.Code) func(error) bool {
	return func(err error) bool {
		st, ok := status.FromError(err)
		if !ok {
			return false
		}
		for _, c := range want {
			if st.Code() == c {
				return true
			}
		}
		return false
	}
}

// IsGRPCStatus matches any error carrying a gRPC status.
func IsGRPCStatus(err error) bool {
	_, ok := status.FromError(err)
	return ok
}

// GRPCRetryInfo matches gRPC status errors whose server attached a RetryInfo
// detail, i.e. explicitly asked the client to come back later.
func GRPCRetryInfo(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	for _, d := range st.Details() {
		if _, ok := d.(*errdetails.RetryInfo); ok {
			return true
		}
	}
	return false
}
