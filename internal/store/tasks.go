package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roostlabs/roost/internal/errs"
	"github.com/roostlabs/roost/internal/id"
	"github.com/roostlabs/roost/internal/util/sanitize"
	"github.com/roostlabs/roost/protocol"
)

const taskCols = "id, tenant_id, user_id, workspace_id, repository_id, title, description, status, order_index, completed_at, created_at, updated_at"

func scanTask(row rowScanner) (protocol.Task, error) {
	var t protocol.Task
	var repo, completed sql.NullString
	err := row.Scan(&t.TaskID, &t.Scope.TenantID, &t.Scope.UserID, &t.Scope.WorkspaceID,
		&repo, &t.Title, &t.Description, &t.Status, &t.OrderIndex, &completed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return protocol.Task{}, err
	}
	if repo.Valid {
		t.RepositoryID = &repo.String
	}
	if completed.Valid {
		t.CompletedAt = &completed.String
	}
	return t, nil
}

// validTaskTransition enforces draft<->ready, draft|ready->in-progress,
// in-progress->completed. Completed is terminal.
func validTaskTransition(from, to string) bool {
	switch from {
	case protocol.TaskDraft:
		return to == protocol.TaskReady || to == protocol.TaskInProgress
	case protocol.TaskReady:
		return to == protocol.TaskDraft || to == protocol.TaskInProgress
	case protocol.TaskInProgress:
		return to == protocol.TaskCompleted
	}
	return false
}

// CreateTask appends a draft task at the end of the active ordering.
func (s *Store) CreateTask(ctx context.Context, p protocol.TaskCreateParams) (protocol.Task, error) {
	title := sanitize.Title(p.Title, maxTitleLen)
	if title == "" {
		return protocol.Task{}, errs.Invalidf("title must not be empty")
	}

	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return protocol.Task{}, err
	}
	defer rollback()

	if p.RepositoryID != nil && *p.RepositoryID != "" {
		if err := s.checkRepositoryTx(ctx, tx, p.Scope, *p.RepositoryID); err != nil {
			return protocol.Task{}, err
		}
	}

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND status != ?`,
		p.Scope.TenantID, p.Scope.UserID, p.Scope.WorkspaceID, protocol.TaskCompleted).Scan(&next)
	if err != nil {
		return protocol.Task{}, fmt.Errorf("count active tasks: %w", err)
	}

	ts := now()
	task := protocol.Task{
		TaskID:      id.Generate(),
		Scope:       p.Scope,
		Title:       title,
		Description: p.Description,
		Status:      protocol.TaskDraft,
		OrderIndex:  next,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if p.RepositoryID != nil && *p.RepositoryID != "" {
		task.RepositoryID = p.RepositoryID
	}

	var repoVal any
	if task.RepositoryID != nil {
		repoVal = *task.RepositoryID
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tasks (id, tenant_id, user_id, workspace_id, repository_id, title, description, status, order_index, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID, p.Scope.TenantID, p.Scope.UserID, p.Scope.WorkspaceID,
		repoVal, title, p.Description, task.Status, next, ts, ts)
	if err != nil {
		return protocol.Task{}, fmt.Errorf("create task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return protocol.Task{}, fmt.Errorf("commit task create: %w", err)
	}
	return task, nil
}

// GetTask loads one task by id.
func (s *Store) GetTask(ctx context.Context, scope protocol.Scope, taskID string) (protocol.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskCols+` FROM tasks
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND id = ?`,
		scope.TenantID, scope.UserID, scope.WorkspaceID, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Task{}, errs.NotFound("task")
	}
	if err != nil {
		return protocol.Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListTasks returns active tasks by order index, then completed tasks
// most recently completed first when includeCompleted is set.
func (s *Store) ListTasks(ctx context.Context, scope protocol.Scope, includeCompleted bool, limit int) ([]protocol.Task, error) {
	q := `SELECT ` + taskCols + ` FROM tasks
	      WHERE tenant_id = ? AND user_id = ? AND workspace_id = ?`
	if !includeCompleted {
		q += ` AND status != '` + protocol.TaskCompleted + `'`
	}
	q += ` ORDER BY
	         CASE WHEN status = '` + protocol.TaskCompleted + `' THEN 1 ELSE 0 END,
	         CASE WHEN status = '` + protocol.TaskCompleted + `' THEN completed_at ELSE '' END DESC,
	         order_index
	       LIMIT ?`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, q, scope.TenantID, scope.UserID, scope.WorkspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []protocol.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTask patches task fields. Status changes go through the
// transition rules; moving to completed stamps completedAt and closes
// the gap in the active ordering.
func (s *Store) UpdateTask(ctx context.Context, p protocol.TaskUpdateParams) (protocol.Task, error) {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return protocol.Task{}, err
	}
	defer rollback()

	task, err := s.getTaskTx(ctx, tx, p.Scope, p.TaskID)
	if err != nil {
		return protocol.Task{}, err
	}

	if p.Title != nil {
		title := sanitize.Title(*p.Title, maxTitleLen)
		if title == "" {
			return protocol.Task{}, errs.Invalidf("title must not be empty")
		}
		task.Title = title
	}
	if p.Description != nil {
		task.Description = *p.Description
	}
	if p.RepositoryID != nil {
		if *p.RepositoryID == "" {
			task.RepositoryID = nil
		} else {
			if err := s.checkRepositoryTx(ctx, tx, p.Scope, *p.RepositoryID); err != nil {
				return protocol.Task{}, err
			}
			task.RepositoryID = p.RepositoryID
		}
	}

	completedNow := false
	if p.Status != nil && *p.Status != task.Status {
		if !validTaskTransition(task.Status, *p.Status) {
			return protocol.Task{}, errs.Conflictf("task cannot move from %s to %s", task.Status, *p.Status)
		}
		task.Status = *p.Status
		if task.Status == protocol.TaskCompleted {
			ts := now()
			task.CompletedAt = &ts
			completedNow = true
		}
	}
	task.UpdatedAt = now()

	if err := s.writeTaskTx(ctx, tx, task); err != nil {
		return protocol.Task{}, err
	}
	if completedNow {
		if err := s.redensifyTx(ctx, tx, p.Scope); err != nil {
			return protocol.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return protocol.Task{}, fmt.Errorf("commit task update: %w", err)
	}
	return task, nil
}

// ReadyTask moves a draft task to ready.
func (s *Store) ReadyTask(ctx context.Context, scope protocol.Scope, taskID string) (protocol.Task, error) {
	status := protocol.TaskReady
	return s.UpdateTask(ctx, protocol.TaskUpdateParams{Scope: scope, TaskID: taskID, Status: &status})
}

// DraftTask moves a ready task back to draft.
func (s *Store) DraftTask(ctx context.Context, scope protocol.Scope, taskID string) (protocol.Task, error) {
	status := protocol.TaskDraft
	return s.UpdateTask(ctx, protocol.TaskUpdateParams{Scope: scope, TaskID: taskID, Status: &status})
}

// CompleteTask finishes an in-progress task.
func (s *Store) CompleteTask(ctx context.Context, scope protocol.Scope, taskID string) (protocol.Task, error) {
	status := protocol.TaskCompleted
	return s.UpdateTask(ctx, protocol.TaskUpdateParams{Scope: scope, TaskID: taskID, Status: &status})
}

// ReorderTasks rewrites the active ordering: the listed tasks take
// indexes 0..k-1 in the given order, and active tasks not listed keep
// their relative order after them. Returns the full active list.
func (s *Store) ReorderTasks(ctx context.Context, scope protocol.Scope, orderedTaskIDs []string) ([]protocol.Task, error) {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND status != ?
		 ORDER BY order_index`,
		scope.TenantID, scope.UserID, scope.WorkspaceID, protocol.TaskCompleted)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	active := []protocol.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan task: %w", err)
		}
		active = append(active, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byID := make(map[string]*protocol.Task, len(active))
	for i := range active {
		byID[active[i].TaskID] = &active[i]
	}

	seen := make(map[string]bool, len(orderedTaskIDs))
	ordered := make([]*protocol.Task, 0, len(active))
	for _, taskID := range orderedTaskIDs {
		if seen[taskID] {
			return nil, errs.Invalidf("task %s listed twice", taskID)
		}
		seen[taskID] = true
		t, ok := byID[taskID]
		if !ok {
			return nil, errs.NotFound("task")
		}
		ordered = append(ordered, t)
	}
	for i := range active {
		if !seen[active[i].TaskID] {
			ordered = append(ordered, &active[i])
		}
	}

	ts := now()
	for idx, t := range ordered {
		if t.OrderIndex == idx {
			continue
		}
		t.OrderIndex = idx
		t.UpdatedAt = ts
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET order_index = ?, updated_at = ? WHERE id = ?`,
			idx, ts, t.TaskID); err != nil {
			return nil, fmt.Errorf("reorder task: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit task reorder: %w", err)
	}

	out := make([]protocol.Task, len(ordered))
	for i, t := range ordered {
		out[i] = *t
	}
	return out, nil
}

// DeleteTask removes a task permanently and closes the ordering gap.
func (s *Store) DeleteTask(ctx context.Context, scope protocol.Scope, taskID string) error {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer rollback()

	task, err := s.getTaskTx(ctx, tx, scope, taskID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if task.Status != protocol.TaskCompleted {
		if err := s.redensifyTx(ctx, tx, scope); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit task delete: %w", err)
	}
	return nil
}

// redensifyTx rewrites active order indexes to 0..n-1 preserving order.
func (s *Store) redensifyTx(ctx context.Context, tx *sql.Tx, scope protocol.Scope) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM tasks
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND status != ?
		 ORDER BY order_index`,
		scope.TenantID, scope.UserID, scope.WorkspaceID, protocol.TaskCompleted)
	if err != nil {
		return fmt.Errorf("list active tasks: %w", err)
	}
	ids := []string{}
	for rows.Next() {
		var taskID string
		if err := rows.Scan(&taskID); err != nil {
			rows.Close()
			return fmt.Errorf("scan task id: %w", err)
		}
		ids = append(ids, taskID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for idx, taskID := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET order_index = ? WHERE id = ? AND order_index != ?`,
			idx, taskID, idx); err != nil {
			return fmt.Errorf("redensify task order: %w", err)
		}
	}
	return nil
}

func (s *Store) getTaskTx(ctx context.Context, tx *sql.Tx, scope protocol.Scope, taskID string) (protocol.Task, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+taskCols+` FROM tasks
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND id = ?`,
		scope.TenantID, scope.UserID, scope.WorkspaceID, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Task{}, errs.NotFound("task")
	}
	if err != nil {
		return protocol.Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *Store) writeTaskTx(ctx context.Context, tx *sql.Tx, task protocol.Task) error {
	var repoVal, completedVal any
	if task.RepositoryID != nil {
		repoVal = *task.RepositoryID
	}
	if task.CompletedAt != nil {
		completedVal = *task.CompletedAt
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE tasks SET repository_id = ?, title = ?, description = ?, status = ?, completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		repoVal, task.Title, task.Description, task.Status, completedVal, task.UpdatedAt, task.TaskID)
	if err != nil {
		return fmt.Errorf("write task: %w", err)
	}
	return nil
}

func (s *Store) checkRepositoryTx(ctx context.Context, tx *sql.Tx, scope protocol.Scope, repositoryID string) error {
	row := tx.QueryRowContext(ctx,
		`SELECT `+repositoryCols+` FROM repositories
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND id = ?`,
		scope.TenantID, scope.UserID, scope.WorkspaceID, repositoryID)
	repo, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound("repository")
	}
	if err != nil {
		return fmt.Errorf("get repository: %w", err)
	}
	if repo.ArchivedAt != nil {
		return errs.Conflictf("repository is archived")
	}
	return nil
}
