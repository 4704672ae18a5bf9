package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/roostlabs/roost/internal/errs"
	"github.com/roostlabs/roost/internal/id"
	"github.com/roostlabs/roost/internal/validate"
	"github.com/roostlabs/roost/protocol"
)

const directoryCols = "id, tenant_id, user_id, workspace_id, path, created_at, archived_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDirectory(row rowScanner) (protocol.Directory, error) {
	var d protocol.Directory
	var archived sql.NullString
	err := row.Scan(&d.DirectoryID, &d.Scope.TenantID, &d.Scope.UserID, &d.Scope.WorkspaceID,
		&d.Path, &d.CreatedAt, &archived)
	if err != nil {
		return protocol.Directory{}, err
	}
	if archived.Valid {
		d.ArchivedAt = &archived.String
	}
	return d, nil
}

// UpsertDirectory registers a working directory. Re-registering an
// already-active path returns the existing row; upserts always publish
// directory-upserted.
func (s *Store) UpsertDirectory(ctx context.Context, scope protocol.Scope, path string) (protocol.Directory, error) {
	home, _ := os.UserHomeDir()
	clean := validate.SanitizePath(path, home)
	if clean == "" {
		return protocol.Directory{}, errs.Invalidf("path %q is not a valid absolute path", path)
	}

	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return protocol.Directory{}, err
	}
	defer rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+directoryCols+` FROM directories
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND path = ? AND archived_at IS NULL`,
		scope.TenantID, scope.UserID, scope.WorkspaceID, clean)
	dir, err := scanDirectory(row)
	switch {
	case err == nil:
		// Existing active registration.
	case errors.Is(err, sql.ErrNoRows):
		dir = protocol.Directory{
			DirectoryID: id.Generate(),
			Scope:       scope,
			Path:        clean,
			CreatedAt:   now(),
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO directories (id, tenant_id, user_id, workspace_id, path, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			dir.DirectoryID, scope.TenantID, scope.UserID, scope.WorkspaceID, dir.Path, dir.CreatedAt)
		if err != nil {
			return protocol.Directory{}, fmt.Errorf("create directory: %w", err)
		}
	default:
		return protocol.Directory{}, fmt.Errorf("lookup directory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return protocol.Directory{}, fmt.Errorf("commit directory upsert: %w", err)
	}
	s.publish(protocol.EventDirectoryUpserted, scope, map[string]any{"directory": dir})
	return dir, nil
}

// GetDirectory loads one directory by id.
func (s *Store) GetDirectory(ctx context.Context, scope protocol.Scope, directoryID string) (protocol.Directory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+directoryCols+` FROM directories
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND id = ?`,
		scope.TenantID, scope.UserID, scope.WorkspaceID, directoryID)
	dir, err := scanDirectory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Directory{}, errs.NotFound("directory")
	}
	if err != nil {
		return protocol.Directory{}, fmt.Errorf("get directory: %w", err)
	}
	return dir, nil
}

// ListDirectories returns directories ordered by path. Archived rows are
// excluded unless includeArchived is set; limit <= 0 means no limit.
func (s *Store) ListDirectories(ctx context.Context, scope protocol.Scope, includeArchived bool, limit int) ([]protocol.Directory, error) {
	q := `SELECT ` + directoryCols + ` FROM directories
	      WHERE tenant_id = ? AND user_id = ? AND workspace_id = ?`
	if !includeArchived {
		q += ` AND archived_at IS NULL`
	}
	q += ` ORDER BY path LIMIT ?`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, q, scope.TenantID, scope.UserID, scope.WorkspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list directories: %w", err)
	}
	defer rows.Close()

	out := []protocol.Directory{}
	for rows.Next() {
		d, err := scanDirectory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan directory: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ArchiveDirectory soft-deletes a directory, freeing its path for a new
// registration. Archiving an archived directory is idempotent and does
// not publish a second event.
func (s *Store) ArchiveDirectory(ctx context.Context, scope protocol.Scope, directoryID string) (protocol.Directory, error) {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return protocol.Directory{}, err
	}
	defer rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+directoryCols+` FROM directories
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND id = ?`,
		scope.TenantID, scope.UserID, scope.WorkspaceID, directoryID)
	dir, err := scanDirectory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Directory{}, errs.NotFound("directory")
	}
	if err != nil {
		return protocol.Directory{}, fmt.Errorf("get directory: %w", err)
	}
	if dir.ArchivedAt != nil {
		return dir, tx.Commit()
	}

	archivedAt := now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE directories SET archived_at = ? WHERE id = ?`, archivedAt, directoryID); err != nil {
		return protocol.Directory{}, fmt.Errorf("archive directory: %w", err)
	}
	dir.ArchivedAt = &archivedAt

	if err := tx.Commit(); err != nil {
		return protocol.Directory{}, fmt.Errorf("commit directory archive: %w", err)
	}
	s.publish(protocol.EventDirectoryArchived, scope, map[string]any{"directory": dir})
	return dir, nil
}
