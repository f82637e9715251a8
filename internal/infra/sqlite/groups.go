package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/scorebridge-network/scorebridge/internal/domain"
)

// ─── Group Operations ───────────────────────────────────────────────────────

const groupCols = `id, name, sheet_name, teacher_id, status, created_at`

func scanGroup(row interface{ Scan(...any) error }) (domain.Group, error) {
	var g domain.Group
	var createdAt string
	err := row.Scan(&g.ID, &g.Name, &g.SheetName, &g.TeacherID, &g.Status, &createdAt)
	if err != nil {
		return domain.Group{}, err
	}
	g.CreatedAt = parseStamp(createdAt)
	return g, nil
}

// CreateGroup inserts a group. The sheet name is what ties a group to its
// mirror tab, so it must be unique.
func (db *DB) CreateGroup(ctx context.Context, g domain.Group) (domain.Group, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Status == "" {
		g.Status = domain.GroupActive
	}
	if g.Name == "" {
		g.Name = g.SheetName
	}
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO groups (id, name, sheet_name, teacher_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, g.ID, g.Name, g.SheetName, g.TeacherID, g.Status, db.stamp())
	if err != nil {
		return domain.Group{}, fmt.Errorf("create group: %w", err)
	}
	return g, nil
}

// UpsertGroupBySheet registers a sheet tab as a group if it is not already
// known. Groups are auto-detected from the mirror's tabs, so discovery runs
// ahead of every scheduled pass.
func (db *DB) UpsertGroupBySheet(ctx context.Context, sheetName string) (domain.Group, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+groupCols+` FROM groups WHERE sheet_name = ?`, sheetName)
	g, err := scanGroup(row)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Group{}, fmt.Errorf("group lookup: %w", err)
	}
	return db.CreateGroup(ctx, domain.Group{Name: sheetName, SheetName: sheetName})
}

// GetGroup retrieves a group by id.
func (db *DB) GetGroup(ctx context.Context, id string) (domain.Group, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+groupCols+` FROM groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Group{}, domain.ErrGroupNotFound
	}
	if err != nil {
		return domain.Group{}, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

// ListGroups returns groups with the given status.
func (db *DB) ListGroups(ctx context.Context, status domain.GroupStatus) ([]domain.Group, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT `+groupCols+` FROM groups WHERE (? = '' OR status = ?) ORDER BY name
	`, status, status)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// ArchiveGroup takes a group out of the reconciliation rotation.
func (db *DB) ArchiveGroup(ctx context.Context, id string) error {
	res, err := db.db.ExecContext(ctx,
		`UPDATE groups SET status = 'archived' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("archive group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}
