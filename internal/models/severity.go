package models

import "strings"

// Severity is the closed severity scale for findings.
type Severity string

// Severity levels.
const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// ValidSeverities returns all severities from most to least severe.
func ValidSeverities() []Severity {
	return []Severity{
		SeverityCritical,
		SeverityHigh,
		SeverityMedium,
		SeverityLow,
	}
}

// IsValidSeverity checks if a severity level is valid.
func IsValidSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

// NormalizeSeverity maps free-form severity labels onto the closed scale.
// Informational and unknown labels fold into Low.
func NormalizeSeverity(severity string) Severity {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "critical", "very-high", "very high", "veryhigh":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium", "moderate":
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}
