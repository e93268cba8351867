// Package models contains the canonical data structures shared by apisentry components.
package models

import (
	"strings"
	"time"
)

// DefaultWorkspaceID is the workspace seeded by the repository.
const DefaultWorkspaceID = "default-workspace"

// Common asset source labels.
const (
	SourceFileImport  = "File Import"
	SourceManualPaste = "Manual Paste"
	SourceManualEntry = "Manual Entry"
)

// Method is the closed set of verbs an asset may carry.
type Method string

// Asset methods. MethodAny marks a spec-level entry covering many methods.
const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
	MethodPatch  Method = "PATCH"
	MethodAny    Method = "ANY"
)

// ValidMethods returns every accepted asset method.
func ValidMethods() []Method {
	return []Method{MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch, MethodAny}
}

// ParseMethod uppercases s and checks it against the closed verb set.
func ParseMethod(s string) (Method, bool) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch, MethodAny:
		return m, true
	default:
		return m, false
	}
}

// Asset is a canonical, scannable endpoint record.
type Asset struct {
	CreatedAt   time.Time  `json:"created_at"`
	LastScanned *time.Time `json:"last_scanned,omitempty"`
	RawRequest  *string    `json:"raw_request,omitempty"`
	RawResponse *string    `json:"raw_response,omitempty"`
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	Method      Method     `json:"method"`
	Endpoint    string     `json:"endpoint"`
	Source      string     `json:"source"`
}

// AssetInput carries the fields needed to create an asset. The repository
// assigns ID and CreatedAt.
type AssetInput struct {
	RawRequest  *string `json:"raw_request,omitempty"`
	RawResponse *string `json:"raw_response,omitempty"`
	WorkspaceID string  `json:"workspace_id"`
	Method      Method  `json:"method"`
	Endpoint    string  `json:"endpoint"`
	Source      string  `json:"source"`
}

// Clone returns a deep copy so cached assets are never shared with callers.
func (a Asset) Clone() Asset {
	c := a
	if a.LastScanned != nil {
		t := *a.LastScanned
		c.LastScanned = &t
	}
	c.RawRequest = cloneString(a.RawRequest)
	c.RawResponse = cloneString(a.RawResponse)
	return c
}

// Key identifies an asset within an import batch.
func (in AssetInput) Key() string {
	return string(in.Method) + " " + in.Endpoint
}

// StringPtr returns nil for an empty string and a pointer otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
