package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/chainguard/internal/core/domain"
)

func TestPrintStats(t *testing.T) {
	stats := domain.NewErrorStats()
	stats.TotalErrors = 3
	stats.ErrorsByCategory[domain.CategoryNetwork] = 2
	stats.ErrorsBySeverity[domain.SeverityMedium] = 2
	stats.TopErrors = []domain.TopError{{Message: "network unreachable", Count: 2, LastOccurrence: time.Unix(0, 0).UTC()}}
	stats.RecentErrors = []domain.ErrorRecord{{
		Timestamp: time.Unix(0, 0).UTC(),
		Error:     domain.CapturedError{Message: strings.Repeat("x", 200)},
		Category:  domain.CategoryNetwork,
		Severity:  domain.SeverityMedium,
	}}

	var buf bytes.Buffer
	if err := printStats(&buf, stats); err != nil {
		t.Fatalf("printStats: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"TOTAL", "network unreachable", "1970-01-01T00:00:00Z", "user_input", "critical", "..."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, strings.Repeat("x", 81)) {
		t.Error("long messages should be truncated")
	}
}
