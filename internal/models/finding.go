package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Finding is a security observation produced by scanning one asset.
type Finding struct {
	CreatedAt   time.Time     `json:"created_at"`
	Evidence    *string       `json:"evidence,omitempty"`
	ID          string        `json:"id"`
	AssetID     string        `json:"asset_id"`
	Category    string        `json:"category"`
	Severity    Severity      `json:"severity"`
	Description string        `json:"description"`
	Status      FindingStatus `json:"status"`
}

// NewFinding creates an open finding with a fresh ID.
func NewFinding(assetID, category string, severity Severity, description string) Finding {
	return Finding{
		ID:          uuid.NewString(),
		AssetID:     assetID,
		Category:    category,
		Severity:    severity,
		Description: description,
		Status:      StatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
}

// WithEvidence attaches evidence text to the finding.
func (f Finding) WithEvidence(evidence string) Finding {
	f.Evidence = StringPtr(evidence)
	return f
}

// IsValid checks if a finding has all required fields.
func (f *Finding) IsValid() error {
	if f.AssetID == "" {
		return fmt.Errorf("finding missing required field: asset_id")
	}
	if f.Category == "" {
		return fmt.Errorf("finding missing required field: category")
	}
	if !IsValidSeverity(f.Severity) {
		return fmt.Errorf("finding has invalid severity %q", f.Severity)
	}
	if f.Description == "" {
		return fmt.Errorf("finding missing required field: description")
	}
	if !IsValidStatus(f.Status) {
		return fmt.Errorf("finding has invalid status %q", f.Status)
	}
	return nil
}

// FindingSummary provides high-level statistics for a set of findings.
type FindingSummary struct {
	BySeverity map[Severity]int      `json:"by_severity"`
	ByStatus   map[FindingStatus]int `json:"by_status"`
	Total      int                   `json:"total"`
}

// Summarize counts findings by severity and status.
func Summarize(findings []Finding) FindingSummary {
	s := FindingSummary{
		BySeverity: make(map[Severity]int),
		ByStatus:   make(map[FindingStatus]int),
		Total:      len(findings),
	}
	for _, f := range findings {
		s.BySeverity[f.Severity]++
		s.ByStatus[f.Status]++
	}
	return s
}
