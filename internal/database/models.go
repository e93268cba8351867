package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/joshsymonds/apisentry/internal/models"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Workspace groups assets.
type Workspace struct {
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
}

type assetRow struct {
	CreatedAt   time.Time      `db:"created_at"`
	LastScanned sql.NullTime   `db:"last_scanned"`
	RawRequest  sql.NullString `db:"raw_request"`
	RawResponse sql.NullString `db:"raw_response"`
	ID          string         `db:"id"`
	WorkspaceID string         `db:"workspace_id"`
	Method      string         `db:"method"`
	Endpoint    string         `db:"endpoint"`
	Source      string         `db:"source"`
}

func (r assetRow) toModel() models.Asset {
	a := models.Asset{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		Method:      models.Method(r.Method),
		Endpoint:    r.Endpoint,
		Source:      r.Source,
		RawRequest:  nullStringPtr(r.RawRequest),
		RawResponse: nullStringPtr(r.RawResponse),
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if r.LastScanned.Valid {
		t := r.LastScanned.Time.UTC()
		a.LastScanned = &t
	}
	return a
}

type findingRow struct {
	CreatedAt   time.Time      `db:"created_at"`
	Evidence    sql.NullString `db:"evidence"`
	ID          string         `db:"id"`
	AssetID     string         `db:"asset_id"`
	Category    string         `db:"category"`
	Severity    string         `db:"severity"`
	Description string         `db:"description"`
	Status      string         `db:"status"`
}

func (r findingRow) toModel() models.Finding {
	return models.Finding{
		ID:          r.ID,
		AssetID:     r.AssetID,
		Category:    r.Category,
		Severity:    models.Severity(r.Severity),
		Description: r.Description,
		Evidence:    nullStringPtr(r.Evidence),
		Status:      models.FindingStatus(r.Status),
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

func findingToRow(f models.Finding) findingRow {
	return findingRow{
		ID:          f.ID,
		AssetID:     f.AssetID,
		Category:    f.Category,
		Severity:    string(f.Severity),
		Description: f.Description,
		Evidence:    ptrNullString(f.Evidence),
		Status:      string(f.Status),
		CreatedAt:   dbTime(f.CreatedAt),
	}
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func ptrNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// dbTime normalizes timestamps to the precision every dialect stores.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
