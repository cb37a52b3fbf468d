package control

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vietddude/chainguard/internal/core/domain"
	"github.com/vietddude/chainguard/internal/metrics"
	"github.com/vietddude/chainguard/internal/realtime"
)

// feedHandler returns the handler for a configured subscription type.
func feedHandler(typ string, m *realtime.Manager) realtime.Handler {
	switch typ {
	case domain.SubscriptionBlockHeight:
		return handleBlockHeight
	case domain.SubscriptionHealthPing:
		return func(env realtime.Envelope) error {
			return m.Send("healthPong", map[string]int64{"ping": env.Timestamp})
		}
	default:
		return func(env realtime.Envelope) error {
			slog.Debug("Feed message", "type", env.Type, "size", len(env.Data))
			return nil
		}
	}
}

func handleBlockHeight(env realtime.Envelope) error {
	var payload struct {
		Height *uint64 `json:"height"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fmt.Errorf("invalid blockHeight payload: %w", err)
	}
	if payload.Height == nil {
		return fmt.Errorf("invalid blockHeight payload: missing height")
	}

	metrics.StreamBlockHeight.Set(float64(*payload.Height))
	slog.Debug("Block height update", "height", *payload.Height)
	return nil
}
