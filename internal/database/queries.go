package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/joshsymonds/apisentry/internal/models"
)

const assetColumns = `id, workspace_id, method, endpoint, source, raw_request, raw_response, created_at, last_scanned`

const findingColumns = `id, asset_id, category, severity, description, evidence, status, created_at`

// EnsureWorkspace creates the workspace if it does not exist yet.
func (db *DB) EnsureWorkspace(ctx context.Context, id, name string) error {
	return ensureWorkspace(ctx, db.conn, db.dialect, id, name)
}

func ensureWorkspace(ctx context.Context, ext sqlx.ExtContext, dialect Dialect, id, name string) error {
	if name == "" {
		name = id
	}
	var query string
	switch dialect {
	case DialectPostgres:
		query = `INSERT INTO workspaces (id, name, created_at) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`
	case DialectMySQL:
		query = `INSERT IGNORE INTO workspaces (id, name, created_at) VALUES (?, ?, ?)`
	default:
		query = `INSERT OR IGNORE INTO workspaces (id, name, created_at) VALUES (?, ?, ?)`
	}
	if _, err := ext.ExecContext(ctx, ext.Rebind(query), id, name, dbTime(time.Now())); err != nil {
		return fmt.Errorf("ensuring workspace %s: %w", id, err)
	}
	return nil
}

// ListWorkspaces returns all workspaces ordered by creation.
func (db *DB) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	var out []Workspace
	if err := db.conn.SelectContext(ctx, &out, `SELECT id, name, created_at FROM workspaces ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	return out, nil
}

// GetAssets returns the assets of a workspace in creation order.
func (db *DB) GetAssets(ctx context.Context, workspaceID string) ([]models.Asset, error) {
	var rows []assetRow
	query := db.conn.Rebind(`SELECT ` + assetColumns + ` FROM assets WHERE workspace_id = ? ORDER BY created_at, id`)
	if err := db.conn.SelectContext(ctx, &rows, query, workspaceID); err != nil {
		return nil, fmt.Errorf("querying assets: %w", err)
	}
	assets := make([]models.Asset, 0, len(rows))
	for _, r := range rows {
		assets = append(assets, r.toModel())
	}
	return assets, nil
}

// GetAsset returns a single asset or ErrNotFound.
func (db *DB) GetAsset(ctx context.Context, id string) (models.Asset, error) {
	var row assetRow
	query := db.conn.Rebind(`SELECT ` + assetColumns + ` FROM assets WHERE id = ?`)
	if err := db.conn.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Asset{}, fmt.Errorf("asset %s: %w", id, ErrNotFound)
		}
		return models.Asset{}, fmt.Errorf("querying asset: %w", err)
	}
	return row.toModel(), nil
}

// AddAsset inserts a new asset with a fresh id. It is not idempotent.
func (db *DB) AddAsset(ctx context.Context, in models.AssetInput) (models.Asset, error) {
	workspaceID := in.WorkspaceID
	if workspaceID == "" {
		workspaceID = models.DefaultWorkspaceID
	}
	row := assetRow{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Method:      string(in.Method),
		Endpoint:    in.Endpoint,
		Source:      in.Source,
		RawRequest:  ptrNullString(in.RawRequest),
		RawResponse: ptrNullString(in.RawResponse),
		CreatedAt:   dbTime(time.Now()),
	}

	err := db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		if err := ensureWorkspace(ctx, tx, db.dialect, workspaceID, ""); err != nil {
			return err
		}
		query := tx.Rebind(`INSERT INTO assets (` + assetColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err := tx.ExecContext(ctx, query,
			row.ID, row.WorkspaceID, row.Method, row.Endpoint, row.Source,
			row.RawRequest, row.RawResponse, row.CreatedAt, row.LastScanned)
		if err != nil {
			return fmt.Errorf("inserting asset: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Asset{}, err
	}
	return row.toModel(), nil
}

// DeleteAsset removes an asset and its findings. Deleting a missing id succeeds.
func (db *DB) DeleteAsset(ctx context.Context, id string) error {
	return db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		// Explicit child delete; cascades depend on per-connection settings in SQLite.
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM findings WHERE asset_id = ?`), id); err != nil {
			return fmt.Errorf("deleting findings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM assets WHERE id = ?`), id); err != nil {
			return fmt.Errorf("deleting asset: %w", err)
		}
		return nil
	})
}

// GetFindings returns the findings of an asset in creation order.
func (db *DB) GetFindings(ctx context.Context, assetID string) ([]models.Finding, error) {
	var rows []findingRow
	query := db.conn.Rebind(`SELECT ` + findingColumns + ` FROM findings WHERE asset_id = ? ORDER BY created_at, id`)
	if err := db.conn.SelectContext(ctx, &rows, query, assetID); err != nil {
		return nil, fmt.Errorf("querying findings: %w", err)
	}
	findings := make([]models.Finding, 0, len(rows))
	for _, r := range rows {
		findings = append(findings, r.toModel())
	}
	return findings, nil
}

// GetFinding returns a single finding or ErrNotFound.
func (db *DB) GetFinding(ctx context.Context, id string) (models.Finding, error) {
	var row findingRow
	query := db.conn.Rebind(`SELECT ` + findingColumns + ` FROM findings WHERE id = ?`)
	if err := db.conn.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Finding{}, fmt.Errorf("finding %s: %w", id, ErrNotFound)
		}
		return models.Finding{}, fmt.Errorf("querying finding: %w", err)
	}
	return row.toModel(), nil
}

// ReplaceFindings swaps an asset's findings for a new set and stamps
// last_scanned, atomically. It fails with ErrNotFound if the asset is gone.
func (db *DB) ReplaceFindings(ctx context.Context, assetID string, findings []models.Finding, scannedAt time.Time) error {
	return db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE assets SET last_scanned = ? WHERE id = ?`), dbTime(scannedAt), assetID)
		if err != nil {
			return fmt.Errorf("updating last_scanned: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("asset %s: %w", assetID, ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM findings WHERE asset_id = ?`), assetID); err != nil {
			return fmt.Errorf("clearing findings: %w", err)
		}

		insert := tx.Rebind(`INSERT INTO findings (` + findingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		for _, f := range findings {
			r := findingToRow(f)
			r.AssetID = assetID
			if _, err := tx.ExecContext(ctx, insert,
				r.ID, r.AssetID, r.Category, r.Severity, r.Description, r.Evidence, r.Status, r.CreatedAt); err != nil {
				return fmt.Errorf("inserting finding: %w", err)
			}
		}

		// A scan that outlived its deadline must not commit.
		return ctx.Err()
	})
}

// UpdateFindingStatus sets a finding's triage status and returns the updated row.
func (db *DB) UpdateFindingStatus(ctx context.Context, id string, status models.FindingStatus) (models.Finding, error) {
	var updated findingRow
	err := db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		// Affected-row counts are unreliable here: MySQL reports zero for unchanged values.
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE findings SET status = ? WHERE id = ?`), string(status), id); err != nil {
			return fmt.Errorf("updating finding status: %w", err)
		}
		err := tx.GetContext(ctx, &updated, tx.Rebind(`SELECT `+findingColumns+` FROM findings WHERE id = ?`), id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("finding %s: %w", id, ErrNotFound)
		}
		return err
	})
	if err != nil {
		return models.Finding{}, err
	}
	return updated.toModel(), nil
}

// CountFindings returns per-severity finding counts for a workspace.
func (db *DB) CountFindings(ctx context.Context, workspaceID string) (map[models.Severity]int, error) {
	var rows []struct {
		Severity string `db:"severity"`
		Count    int    `db:"n"`
	}
	query := db.conn.Rebind(`
		SELECT f.severity AS severity, COUNT(*) AS n
		FROM findings f
		JOIN assets a ON a.id = f.asset_id
		WHERE a.workspace_id = ?
		GROUP BY f.severity`)
	if err := db.conn.SelectContext(ctx, &rows, query, workspaceID); err != nil {
		return nil, fmt.Errorf("counting findings: %w", err)
	}
	out := make(map[models.Severity]int, len(rows))
	for _, r := range rows {
		out[models.Severity(r.Severity)] = r.Count
	}
	return out, nil
}
