package errorlog

import (
	"sort"

	"github.com/vietddude/chainguard/internal/core/domain"
)

const (
	// RecentLimit is the number of newest records returned in stats.
	RecentLimit = 20
	// TopLimit is the number of most frequent messages returned in stats.
	TopLimit = 10
)

// Aggregate computes stats over records in a single pass.
func Aggregate(records []*domain.ErrorRecord) domain.ErrorStats {
	stats := domain.NewErrorStats()
	stats.TotalErrors = len(records)

	freq := make(map[string]*domain.TopError)
	for _, rec := range records {
		stats.ErrorsByCategory[rec.Category]++
		stats.ErrorsBySeverity[rec.Severity]++

		top, ok := freq[rec.Error.Message]
		if !ok {
			top = &domain.TopError{Message: rec.Error.Message}
			freq[rec.Error.Message] = top
		}
		top.Count++
		if rec.Timestamp.After(top.LastOccurrence) {
			top.LastOccurrence = rec.Timestamp
		}
	}

	sorted := make([]*domain.ErrorRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	for _, rec := range sorted[:min(RecentLimit, len(sorted))] {
		stats.RecentErrors = append(stats.RecentErrors, *rec)
	}

	for _, top := range freq {
		stats.TopErrors = append(stats.TopErrors, *top)
	}
	sort.Slice(stats.TopErrors, func(i, j int) bool {
		a, b := stats.TopErrors[i], stats.TopErrors[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if !a.LastOccurrence.Equal(b.LastOccurrence) {
			return a.LastOccurrence.After(b.LastOccurrence)
		}
		return a.Message < b.Message
	})
	if len(stats.TopErrors) > TopLimit {
		stats.TopErrors = stats.TopErrors[:TopLimit]
	}

	return stats
}
