package worker

import (
	"context"
	"log/slog"
	"time"
)

// ErrorPruner is the part of the error logger the pruner drives.
type ErrorPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// Pruner deletes error records older than the retention period.
type Pruner struct {
	retention time.Duration
	target    ErrorPruner
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(retention time.Duration, target ErrorPruner, log *slog.Logger) *Pruner {
	if log == nil {
		log = slog.Default()
	}
	return &Pruner{
		retention: retention,
		target:    target,
		log:       log,
	}
}

// Interval returns how often Start prunes: a tenth of the retention period,
// clamped to [1m, 1h].
func (p *Pruner) Interval() time.Duration {
	interval := min(p.retention/10, time.Hour)
	return max(interval, time.Minute)
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one pass.
func (p *Pruner) Prune(ctx context.Context) {
	cutoff := time.Now().Add(-p.retention)

	removed, err := p.target.Prune(ctx, cutoff)
	if err != nil {
		p.log.Error("Failed to prune error records", "cutoff", cutoff, "error", err)
		return
	}
	if removed > 0 {
		p.log.Info("Pruned error records", "removed", removed, "cutoff", cutoff)
	}
}
