package domain

import "time"

// ErrorCategory groups logged failures by the subsystem they came from.
type ErrorCategory string

const (
	CategoryNetwork    ErrorCategory = "network"
	CategoryValidation ErrorCategory = "validation"
	CategoryBlockchain ErrorCategory = "blockchain"
	CategoryUserInput  ErrorCategory = "user_input"
	CategorySystem     ErrorCategory = "system"
	CategoryWallet     ErrorCategory = "wallet"
	CategoryDEX        ErrorCategory = "dex"
	CategoryCache      ErrorCategory = "cache"
)

// AllCategories lists every category in a stable order.
var AllCategories = []ErrorCategory{
	CategoryNetwork,
	CategoryValidation,
	CategoryBlockchain,
	CategoryUserInput,
	CategorySystem,
	CategoryWallet,
	CategoryDEX,
	CategoryCache,
}

// ErrorSeverity ranks how urgent a logged failure is.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AllSeverities lists every severity from least to most urgent.
var AllSeverities = []ErrorSeverity{
	SeverityLow,
	SeverityMedium,
	SeverityHigh,
	SeverityCritical,
}

// CapturedError is the serializable snapshot of a Go error.
type CapturedError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// ErrorRecord is one durable error log entry. Records are never mutated
// after creation.
type ErrorRecord struct {
	ID        string         `json:"id"        db:"id"`
	Timestamp time.Time      `json:"timestamp" db:"timestamp"`
	Error     CapturedError  `json:"error"`
	Context   map[string]any `json:"context,omitempty"`
	Category  ErrorCategory  `json:"category"  db:"category"`
	Severity  ErrorSeverity  `json:"severity"  db:"severity"`
	UserAgent string         `json:"userAgent" db:"user_agent"`
	URL       string         `json:"url"       db:"url"`
}

// TopError is one entry of the most frequent messages view.
type TopError struct {
	Message        string    `json:"message"`
	Count          int       `json:"count"`
	LastOccurrence time.Time `json:"lastOccurrence"`
}

// ErrorStats is an aggregation over every stored ErrorRecord.
type ErrorStats struct {
	TotalErrors      int                   `json:"totalErrors"`
	ErrorsByCategory map[ErrorCategory]int `json:"errorsByCategory"`
	ErrorsBySeverity map[ErrorSeverity]int `json:"errorsBySeverity"`
	RecentErrors     []ErrorRecord         `json:"recentErrors"`
	TopErrors        []TopError            `json:"topErrors"`
}

// NewErrorStats returns empty stats with every category and severity
// present at zero.
func NewErrorStats() ErrorStats {
	stats := ErrorStats{
		ErrorsByCategory: make(map[ErrorCategory]int, len(AllCategories)),
		ErrorsBySeverity: make(map[ErrorSeverity]int, len(AllSeverities)),
		RecentErrors:     []ErrorRecord{},
		TopErrors:        []TopError{},
	}
	for _, c := range AllCategories {
		stats.ErrorsByCategory[c] = 0
	}
	for _, s := range AllSeverities {
		stats.ErrorsBySeverity[s] = 0
	}
	return stats
}
