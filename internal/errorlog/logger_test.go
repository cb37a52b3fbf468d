package errorlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/chainguard/internal/core/domain"
	"github.com/vietddude/chainguard/internal/infra/storage/memory"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type brokenStore struct{}

var errStoreDown = errors.New("storage unavailable")

func (brokenStore) Put(context.Context, *domain.ErrorRecord) error { return errStoreDown }
func (brokenStore) GetAll(context.Context) ([]*domain.ErrorRecord, error) {
	return nil, errStoreDown
}
func (brokenStore) Delete(context.Context, string) error { return errStoreDown }
func (brokenStore) Clear(context.Context) error          { return errStoreDown }

type panicStore struct{ brokenStore }

func (panicStore) Put(context.Context, *domain.ErrorRecord) error { panic("disk on fire") }

func TestLogError_Record(t *testing.T) {
	store := memory.NewErrorStore()
	logger := New(store, WithMetadata(Metadata{UserAgent: "chainguard/test", URL: "https://dash.local"}))

	ctx := ContextWithMetadata(context.Background(), Metadata{URL: "https://dash.local/swap"})
	logger.LogError(ctx, errors.New("swap failed: slippage"), map[string]any{"pair": "ETH/USDC"})

	records, _ := store.GetAll(context.Background())
	if len(records) != 1 {
		t.Fatalf("stored %d records, want 1", len(records))
	}
	rec := records[0]

	if rec.ID == "" {
		t.Error("record must have an id")
	}
	if rec.Timestamp.IsZero() {
		t.Error("record must have a timestamp")
	}
	if rec.Category != domain.CategoryDEX || rec.Severity != domain.SeverityMedium {
		t.Errorf("classification = %s/%s, want dex/medium", rec.Category, rec.Severity)
	}
	if rec.Error.Name != "*errors.errorString" || rec.Error.Message != "swap failed: slippage" {
		t.Errorf("captured error = %+v", rec.Error)
	}
	if rec.Error.Stack == "" {
		t.Error("stack should be captured")
	}
	if rec.Context["pair"] != "ETH/USDC" {
		t.Errorf("context = %v", rec.Context)
	}
	if rec.UserAgent != "chainguard/test" || rec.URL != "https://dash.local/swap" {
		t.Errorf("metadata = %q %q", rec.UserAgent, rec.URL)
	}
}

func TestLogError_StackStartsAtCaller(t *testing.T) {
	store := memory.NewErrorStore()
	New(store).LogError(context.Background(), errors.New("boom"), nil)

	records, _ := store.GetAll(context.Background())
	if len(records) != 1 {
		t.Fatalf("stored %d records, want 1", len(records))
	}
	stack := records[0].Error.Stack
	first, _, _ := strings.Cut(stack, "\n")
	if !strings.HasSuffix(first, ".TestLogError_StackStartsAtCaller") {
		t.Errorf("first frame = %q, want the calling test", first)
	}
	if strings.Contains(stack, "(*Logger)") || strings.Contains(stack, "callerStack") {
		t.Errorf("stack includes logger frames:\n%s", stack)
	}
}

func TestLogError_NilIsIgnored(t *testing.T) {
	store := memory.NewErrorStore()
	New(store).LogError(context.Background(), nil, nil)
	if store.Len() != 0 {
		t.Errorf("stored %d records for nil error", store.Len())
	}
}

func TestLogError_UniqueIDs(t *testing.T) {
	store := memory.NewErrorStore()
	logger := New(store)

	for i := 0; i < 500; i++ {
		logger.LogError(context.Background(), errors.New("boom"), nil)
	}
	if store.Len() != 500 {
		t.Errorf("stored %d records, want 500 distinct ids", store.Len())
	}
}

func TestLogError_Retention(t *testing.T) {
	store := memory.NewErrorStore()
	clock := &stepClock{now: time.Unix(1_700_000_000, 0)}
	logger := New(store, WithClock(clock.Now), WithMaxRecords(50))

	for i := 0; i < 60; i++ {
		logger.LogError(context.Background(), fmt.Errorf("error %d", i), nil)
	}

	records, _ := store.GetAll(context.Background())
	if len(records) != 50 {
		t.Fatalf("stored %d records, want 50", len(records))
	}
	kept := make(map[string]bool)
	for _, rec := range records {
		kept[rec.Error.Message] = true
	}
	for i := 0; i < 10; i++ {
		if kept[fmt.Sprintf("error %d", i)] {
			t.Errorf("oldest record %d should have been deleted", i)
		}
	}
	for i := 10; i < 60; i++ {
		if !kept[fmt.Sprintf("error %d", i)] {
			t.Errorf("record %d should have been retained", i)
		}
	}
}

func TestLogError_DefaultRetention(t *testing.T) {
	store := memory.NewErrorStore()
	logger := New(store)
	if logger.MaxRecords() != 1000 {
		t.Fatalf("MaxRecords = %d, want 1000", logger.MaxRecords())
	}

	for i := 0; i < 1005; i++ {
		logger.LogError(context.Background(), errors.New("x"), nil)
	}
	if store.Len() != 1000 {
		t.Errorf("stored %d records, want 1000", store.Len())
	}
}

func TestLogger_StoreFailuresAreSwallowed(t *testing.T) {
	for _, store := range []Store{brokenStore{}, panicStore{}} {
		logger := New(store)
		ctx := context.Background()

		logger.LogError(ctx, errors.New("network down"), nil)
		logger.Clear(ctx)

		stats := logger.Stats(ctx)
		if stats.TotalErrors != 0 || len(stats.TopErrors) != 0 || len(stats.RecentErrors) != 0 {
			t.Errorf("expected empty stats, got %+v", stats)
		}
		if stats.ErrorsByCategory[domain.CategoryNetwork] != 0 {
			t.Error("expected zeroed category counts")
		}

		if _, err := logger.Export(ctx); err != nil {
			t.Errorf("Export() error = %v", err)
		}
	}
}

func TestLogger_StatsAndExport(t *testing.T) {
	store := memory.NewErrorStore()
	logger := New(store, WithClock((&stepClock{now: time.Unix(0, 0)}).Now))
	ctx := context.Background()

	for _, msg := range []string{"A", "A", "B"} {
		logger.LogError(ctx, errors.New(msg), nil)
	}

	stats := logger.Stats(ctx)
	if stats.TotalErrors != 3 {
		t.Errorf("TotalErrors = %d, want 3", stats.TotalErrors)
	}
	if len(stats.TopErrors) != 2 ||
		stats.TopErrors[0].Message != "A" || stats.TopErrors[0].Count != 2 ||
		stats.TopErrors[1].Message != "B" || stats.TopErrors[1].Count != 1 {
		t.Errorf("TopErrors = %+v", stats.TopErrors)
	}

	data, err := logger.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	var decoded domain.ErrorStats
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if decoded.TotalErrors != 3 || decoded.ErrorsBySeverity[domain.SeverityLow] != 3 {
		t.Errorf("decoded export = %+v", decoded)
	}

	logger.Clear(ctx)
	if logger.Stats(ctx).TotalErrors != 0 {
		t.Error("Clear() should remove all records")
	}
}

func TestLogger_Prune(t *testing.T) {
	store := memory.NewErrorStore()
	start := time.Unix(1_700_000_000, 0)
	logger := New(store, WithClock((&stepClock{now: start}).Now))

	for i := 0; i < 10; i++ {
		logger.LogError(context.Background(), fmt.Errorf("error %d", i), nil)
	}

	removed, err := logger.Prune(context.Background(), start.Add(6*time.Second))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 5 {
		t.Errorf("removed %d, want 5", removed)
	}
	if store.Len() != 5 {
		t.Errorf("stored %d, want 5", store.Len())
	}

	if _, err := New(brokenStore{}).Prune(context.Background(), start); err == nil {
		t.Error("expected error from broken store")
	}
}
