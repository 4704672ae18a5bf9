package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/roostlabs/roost/internal/errs"
	"github.com/roostlabs/roost/internal/id"
	"github.com/roostlabs/roost/internal/validate"
	"github.com/roostlabs/roost/protocol"
)

const repositoryCols = "id, tenant_id, user_id, workspace_id, name, remote_url, default_branch, metadata, created_at, archived_at"

func scanRepository(row rowScanner) (protocol.Repository, error) {
	var r protocol.Repository
	var metadata string
	var archived sql.NullString
	err := row.Scan(&r.RepositoryID, &r.Scope.TenantID, &r.Scope.UserID, &r.Scope.WorkspaceID,
		&r.Name, &r.NormalizedRemoteURL, &r.DefaultBranch, &metadata, &r.CreatedAt, &archived)
	if err != nil {
		return protocol.Repository{}, err
	}
	if archived.Valid {
		r.ArchivedAt = &archived.String
	}
	if err := json.Unmarshal([]byte(metadata), &r.Metadata); err != nil {
		return protocol.Repository{}, fmt.Errorf("decode repository metadata: %w", err)
	}
	return r, nil
}

func encodeJSONMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", errs.Invalid(fmt.Errorf("encode metadata: %w", err))
	}
	return string(b), nil
}

// UpsertRepository registers a remote repository keyed by its normalized
// URL. A second upsert with an equivalent URL returns the same row with
// name, branch and metadata refreshed.
func (s *Store) UpsertRepository(ctx context.Context, p protocol.RepositoryUpsertParams) (protocol.Repository, error) {
	name, err := validate.SanitizeName(p.Name)
	if err != nil {
		return protocol.Repository{}, errs.Invalid(err)
	}
	remote, err := validate.NormalizeRemoteURL(p.RemoteURL)
	if err != nil {
		return protocol.Repository{}, errs.Invalid(err)
	}
	branch := p.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	metadata, err := encodeJSONMap(p.Metadata)
	if err != nil {
		return protocol.Repository{}, err
	}

	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return protocol.Repository{}, err
	}
	defer rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+repositoryCols+` FROM repositories
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND remote_url = ? AND archived_at IS NULL`,
		p.Scope.TenantID, p.Scope.UserID, p.Scope.WorkspaceID, remote)
	repo, err := scanRepository(row)
	switch {
	case err == nil:
		repo.Name = name
		repo.DefaultBranch = branch
		if p.Metadata != nil {
			repo.Metadata = p.Metadata
		}
		existing, encErr := encodeJSONMap(repo.Metadata)
		if encErr != nil {
			return protocol.Repository{}, encErr
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE repositories SET name = ?, default_branch = ?, metadata = ? WHERE id = ?`,
			name, branch, existing, repo.RepositoryID)
		if err != nil {
			return protocol.Repository{}, fmt.Errorf("update repository: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		repo = protocol.Repository{
			RepositoryID:        id.Generate(),
			Scope:               p.Scope,
			Name:                name,
			NormalizedRemoteURL: remote,
			DefaultBranch:       branch,
			Metadata:            p.Metadata,
			CreatedAt:           now(),
		}
		if repo.Metadata == nil {
			repo.Metadata = map[string]any{}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO repositories (id, tenant_id, user_id, workspace_id, name, remote_url, default_branch, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			repo.RepositoryID, p.Scope.TenantID, p.Scope.UserID, p.Scope.WorkspaceID,
			name, remote, branch, metadata, repo.CreatedAt)
		if err != nil {
			return protocol.Repository{}, fmt.Errorf("create repository: %w", err)
		}
	default:
		return protocol.Repository{}, fmt.Errorf("lookup repository: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return protocol.Repository{}, fmt.Errorf("commit repository upsert: %w", err)
	}
	return repo, nil
}

// UpdateRepository patches mutable fields of an active repository.
func (s *Store) UpdateRepository(ctx context.Context, p protocol.RepositoryUpdateParams) (protocol.Repository, error) {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return protocol.Repository{}, err
	}
	defer rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+repositoryCols+` FROM repositories
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND id = ?`,
		p.Scope.TenantID, p.Scope.UserID, p.Scope.WorkspaceID, p.RepositoryID)
	repo, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Repository{}, errs.NotFound("repository")
	}
	if err != nil {
		return protocol.Repository{}, fmt.Errorf("get repository: %w", err)
	}
	if repo.ArchivedAt != nil {
		return protocol.Repository{}, errs.Conflictf("repository is archived")
	}

	if p.Name != nil {
		name, err := validate.SanitizeName(*p.Name)
		if err != nil {
			return protocol.Repository{}, errs.Invalid(err)
		}
		repo.Name = name
	}
	if p.DefaultBranch != nil {
		repo.DefaultBranch = *p.DefaultBranch
	}
	if p.Metadata != nil {
		repo.Metadata = p.Metadata
	}
	metadata, err := encodeJSONMap(repo.Metadata)
	if err != nil {
		return protocol.Repository{}, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE repositories SET name = ?, default_branch = ?, metadata = ? WHERE id = ?`,
		repo.Name, repo.DefaultBranch, metadata, repo.RepositoryID)
	if err != nil {
		return protocol.Repository{}, fmt.Errorf("update repository: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return protocol.Repository{}, fmt.Errorf("commit repository update: %w", err)
	}
	return repo, nil
}

// ListRepositories returns repositories ordered by metadata.homePriority
// ascending (rows without one come last), then by creation time.
func (s *Store) ListRepositories(ctx context.Context, scope protocol.Scope, includeArchived bool, limit int) ([]protocol.Repository, error) {
	q := `SELECT ` + repositoryCols + ` FROM repositories
	      WHERE tenant_id = ? AND user_id = ? AND workspace_id = ?`
	if !includeArchived {
		q += ` AND archived_at IS NULL`
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, q, scope.TenantID, scope.UserID, scope.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	out := []protocol.Repository{}
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := homePriority(out[i].Metadata)
		pj, jok := homePriority(out[j].Metadata)
		switch {
		case iok && jok:
			return pi < pj
		case iok:
			return true
		case jok:
			return false
		default:
			return false
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func homePriority(metadata map[string]any) (float64, bool) {
	v, ok := metadata["homePriority"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ArchiveRepository soft-deletes a repository; a later upsert with the
// same remote URL creates a fresh row.
func (s *Store) ArchiveRepository(ctx context.Context, scope protocol.Scope, repositoryID string) (protocol.Repository, error) {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return protocol.Repository{}, err
	}
	defer rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+repositoryCols+` FROM repositories
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND id = ?`,
		scope.TenantID, scope.UserID, scope.WorkspaceID, repositoryID)
	repo, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Repository{}, errs.NotFound("repository")
	}
	if err != nil {
		return protocol.Repository{}, fmt.Errorf("get repository: %w", err)
	}
	if repo.ArchivedAt != nil {
		return repo, tx.Commit()
	}

	archivedAt := now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE repositories SET archived_at = ? WHERE id = ?`, archivedAt, repositoryID); err != nil {
		return protocol.Repository{}, fmt.Errorf("archive repository: %w", err)
	}
	repo.ArchivedAt = &archivedAt

	if err := tx.Commit(); err != nil {
		return protocol.Repository{}, fmt.Errorf("commit repository archive: %w", err)
	}
	return repo, nil
}
