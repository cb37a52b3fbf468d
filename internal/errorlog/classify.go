package errorlog

import (
	"errors"
	"slices"
	"strings"

	"github.com/vietddude/chainguard/internal/core/domain"
)

// CategoryRule assigns Category when the message contains any keyword.
type CategoryRule struct {
	Keywords []string
	Category domain.ErrorCategory
}

// CategoryRules are evaluated in order; the first match wins.
var CategoryRules = []CategoryRule{
	{Keywords: []string{"network", "fetch"}, Category: domain.CategoryNetwork},
	{Keywords: []string{"validation", "invalid"}, Category: domain.CategoryValidation},
	{Keywords: []string{"wallet", "signature"}, Category: domain.CategoryWallet},
	{Keywords: []string{"swap", "dex"}, Category: domain.CategoryDEX},
	{Keywords: []string{"cache", "storage"}, Category: domain.CategoryCache},
	{Keywords: []string{"blockchain", "rpc"}, Category: domain.CategoryBlockchain},
}

// SeverityRule assigns Severity when Match reports true.
type SeverityRule struct {
	Name     string
	Match    func(msg string, category domain.ErrorCategory) bool
	Severity domain.ErrorSeverity
}

// SeverityRules are evaluated in order; unmatched errors are low severity.
var SeverityRules = []SeverityRule{
	{
		Name:     "critical-message",
		Match:    func(msg string, _ domain.ErrorCategory) bool { return containsAny(msg, "critical", "fatal") },
		Severity: domain.SeverityCritical,
	},
	{
		Name:     "high-category",
		Match:    categoryIn(domain.CategoryWallet, domain.CategoryBlockchain),
		Severity: domain.SeverityHigh,
	},
	{
		Name:     "medium-category",
		Match:    categoryIn(domain.CategoryNetwork, domain.CategoryDEX),
		Severity: domain.SeverityMedium,
	},
}

// Categorize maps a message to a category. Matching is case-insensitive.
func Categorize(msg string) domain.ErrorCategory {
	lower := strings.ToLower(msg)
	for _, rule := range CategoryRules {
		if containsAny(lower, rule.Keywords...) {
			return rule.Category
		}
	}
	return domain.CategorySystem
}

// Severity maps a message and its category to a severity.
func Severity(msg string, category domain.ErrorCategory) domain.ErrorSeverity {
	lower := strings.ToLower(msg)
	for _, rule := range SeverityRules {
		if rule.Match(lower, category) {
			return rule.Severity
		}
	}
	return domain.SeverityLow
}

// Classify returns the category and severity for err. A category forced
// with WithCategory takes precedence over the message rules.
func Classify(err error) (domain.ErrorCategory, domain.ErrorSeverity) {
	msg := err.Error()

	category := Categorize(msg)
	var forced *categorizedError
	if errors.As(err, &forced) {
		category = forced.category
	}
	return category, Severity(msg, category)
}

// WithCategory wraps err so the logger files it under category.
func WithCategory(err error, category domain.ErrorCategory) error {
	if err == nil {
		return nil
	}
	return &categorizedError{err: err, category: category}
}

type categorizedError struct {
	err      error
	category domain.ErrorCategory
}

func (e *categorizedError) Error() string { return e.err.Error() }
func (e *categorizedError) Unwrap() error { return e.err }

func containsAny(lower string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func categoryIn(categories ...domain.ErrorCategory) func(string, domain.ErrorCategory) bool {
	return func(_ string, c domain.ErrorCategory) bool {
		return slices.Contains(categories, c)
	}
}
