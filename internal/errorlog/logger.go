// Package errorlog records application failures with a category and
// severity, keeps a bounded history in a Store and aggregates statistics
// over it.
//
// The logger is a sink: LogError never returns an error and never panics.
// Store failures are reported through slog and a metric only.
package errorlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/chainguard/internal/core/domain"
	"github.com/vietddude/chainguard/internal/metrics"
)

// DefaultMaxRecords is the retention ceiling.
const DefaultMaxRecords = 1000

// Option configures a Logger.
type Option func(*Logger)

// WithMaxRecords sets the retention ceiling.
func WithMaxRecords(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.maxRecords = n
		}
	}
}

// WithMetadata sets the default ambient metadata.
func WithMetadata(md Metadata) Option {
	return func(l *Logger) { l.metadata = md }
}

// WithLogger sets the diagnostic logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Logger) { l.log = log }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// Logger classifies and persists errors.
type Logger struct {
	store      Store
	maxRecords int
	metadata   Metadata
	log        *slog.Logger
	now        func() time.Time
}

// New creates a Logger writing to store.
func New(store Store, opts ...Option) *Logger {
	l := &Logger{
		store:      store,
		maxRecords: DefaultMaxRecords,
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxRecords returns the retention ceiling.
func (l *Logger) MaxRecords() int {
	return l.maxRecords
}

// LogError records err with optional context fields.
func (l *Logger) LogError(ctx context.Context, err error, fields map[string]any) {
	if err == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.Warn("Error logger recovered from panic", "panic", r)
		}
	}()

	rec := l.newRecord(ctx, err, fields)
	l.emit(rec)
	metrics.ErrorsLogged.WithLabelValues(string(rec.Category), string(rec.Severity)).Inc()

	if err := l.store.Put(ctx, rec); err != nil {
		l.storeFailure("put", err)
		return
	}
	if err := l.enforceRetention(ctx); err != nil {
		l.storeFailure("retention", err)
	}
}

// Stats aggregates every stored record. Store failures yield empty stats.
func (l *Logger) Stats(ctx context.Context) domain.ErrorStats {
	records, err := l.store.GetAll(ctx)
	if err != nil {
		l.storeFailure("get_all", err)
		return domain.NewErrorStats()
	}
	return Aggregate(records)
}

// Clear removes every stored record.
func (l *Logger) Clear(ctx context.Context) {
	if err := l.store.Clear(ctx); err != nil {
		l.storeFailure("clear", err)
	}
}

// Export serializes the current stats as indented JSON.
func (l *Logger) Export(ctx context.Context) ([]byte, error) {
	data, err := json.MarshalIndent(l.Stats(ctx), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal error stats: %w", err)
	}
	return data, nil
}

// Prune deletes records older than cutoff and returns how many were removed.
func (l *Logger) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	records, err := l.store.GetAll(ctx)
	if err != nil {
		l.storeFailure("get_all", err)
		return 0, fmt.Errorf("failed to load error records: %w", err)
	}

	removed := 0
	for _, rec := range records {
		if !rec.Timestamp.Before(cutoff) {
			continue
		}
		if err := l.store.Delete(ctx, rec.ID); err != nil {
			l.storeFailure("delete", err)
			return removed, fmt.Errorf("failed to delete error record %s: %w", rec.ID, err)
		}
		removed++
	}
	return removed, nil
}

func (l *Logger) newRecord(ctx context.Context, err error, fields map[string]any) *domain.ErrorRecord {
	category, severity := Classify(err)

	md := l.metadata
	if fromCtx, ok := MetadataFromContext(ctx); ok {
		md = md.merge(fromCtx)
	}

	return &domain.ErrorRecord{
		ID:        newID(),
		Timestamp: l.now().UTC(),
		Error: domain.CapturedError{
			Name:    errorName(err),
			Message: err.Error(),
			Stack:   callerStack(2),
		},
		Context:   fields,
		Category:  category,
		Severity:  severity,
		UserAgent: md.UserAgent,
		URL:       md.URL,
	}
}

func (l *Logger) enforceRetention(ctx context.Context) error {
	if t, ok := l.store.(Trimmer); ok {
		_, err := t.Trim(ctx, l.maxRecords)
		return err
	}

	records, err := l.store.GetAll(ctx)
	if err != nil {
		return err
	}
	excess := len(records) - l.maxRecords
	if excess <= 0 {
		return nil
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	for _, rec := range records[:excess] {
		if err := l.store.Delete(ctx, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

func (l *Logger) emit(rec *domain.ErrorRecord) {
	level := slog.LevelInfo
	switch rec.Severity {
	case domain.SeverityCritical, domain.SeverityHigh:
		level = slog.LevelError
	case domain.SeverityMedium:
		level = slog.LevelWarn
	}
	l.log.Log(context.Background(), level, "Error logged",
		"id", rec.ID,
		"category", rec.Category,
		"severity", rec.Severity,
		"error", rec.Error.Message,
	)
}

func (l *Logger) storeFailure(op string, err error) {
	metrics.ErrorStoreFailures.WithLabelValues(op).Inc()
	l.log.Warn("Error log store operation failed", "op", op, "error", err)
}

// newID returns a time-ordered id (UUIDv7: millisecond timestamp + random bits).
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// callerStack renders the goroutine's stack starting skip frames above its
// caller, so frames inside the logger are left out.
func callerStack(skip int) string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}

func errorName(err error) string {
	if c, ok := err.(*categorizedError); ok {
		err = c.err
	}
	return fmt.Sprintf("%T", err)
}
