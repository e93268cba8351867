package models

import (
	"fmt"
	"strings"
)

// FindingStatus is the triage state of a finding.
type FindingStatus string

// Finding statuses.
const (
	StatusOpen          FindingStatus = "Open"
	StatusAcknowledged  FindingStatus = "Acknowledged"
	StatusMitigated     FindingStatus = "Mitigated"
	StatusFalsePositive FindingStatus = "FalsePositive"
)

// ValidStatuses returns every finding status.
func ValidStatuses() []FindingStatus {
	return []FindingStatus{StatusOpen, StatusAcknowledged, StatusMitigated, StatusFalsePositive}
}

// IsValidStatus reports whether s is a known finding status.
func IsValidStatus(s FindingStatus) bool {
	switch s {
	case StatusOpen, StatusAcknowledged, StatusMitigated, StatusFalsePositive:
		return true
	default:
		return false
	}
}

// ParseStatus accepts the canonical names plus common spellings such as
// "false_positive" or "ack".
func ParseStatus(s string) (FindingStatus, error) {
	norm := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch norm {
	case "open":
		return StatusOpen, nil
	case "acknowledged", "ack":
		return StatusAcknowledged, nil
	case "mitigated", "fixed", "resolved":
		return StatusMitigated, nil
	case "falsepositive", "fp":
		return StatusFalsePositive, nil
	default:
		return "", fmt.Errorf("unknown finding status %q", s)
	}
}

// Transitions maps a status to the statuses it may move to.
type Transitions map[FindingStatus][]FindingStatus

// DefaultTransitions is the triage workflow used when none is configured.
// Mitigated and FalsePositive findings can be reopened.
func DefaultTransitions() Transitions {
	return Transitions{
		StatusOpen:          {StatusAcknowledged, StatusMitigated, StatusFalsePositive},
		StatusAcknowledged:  {StatusOpen, StatusMitigated, StatusFalsePositive},
		StatusMitigated:     {StatusOpen},
		StatusFalsePositive: {StatusOpen},
	}
}

// Allows reports whether moving from one status to another is permitted.
// Staying in the same status is always allowed.
func (t Transitions) Allows(from, to FindingStatus) bool {
	if from == to {
		return IsValidStatus(to)
	}
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseTransitions builds a transition table from configuration strings.
func ParseTransitions(raw map[string][]string) (Transitions, error) {
	t := make(Transitions, len(raw))
	for from, targets := range raw {
		f, err := ParseStatus(from)
		if err != nil {
			return nil, err
		}
		for _, target := range targets {
			to, err := ParseStatus(target)
			if err != nil {
				return nil, fmt.Errorf("transition from %s: %w", f, err)
			}
			t[f] = append(t[f], to)
		}
	}
	return t, nil
}
