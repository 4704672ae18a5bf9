package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roostlabs/roost/internal/errs"
	"github.com/roostlabs/roost/internal/id"
	"github.com/roostlabs/roost/internal/util/sanitize"
	"github.com/roostlabs/roost/protocol"
)

const conversationCols = "id, tenant_id, user_id, workspace_id, directory_id, title, agent_type, adapter_state, created_at, updated_at, archived_at"

const maxTitleLen = 120

func scanConversation(row rowScanner) (protocol.Conversation, error) {
	var c protocol.Conversation
	var state string
	var archived sql.NullString
	err := row.Scan(&c.ConversationID, &c.Scope.TenantID, &c.Scope.UserID, &c.Scope.WorkspaceID,
		&c.DirectoryID, &c.Title, &c.AgentType, &state, &c.CreatedAt, &c.UpdatedAt, &archived)
	if err != nil {
		return protocol.Conversation{}, err
	}
	if archived.Valid {
		c.ArchivedAt = &archived.String
	}
	if err := json.Unmarshal([]byte(state), &c.AdapterState); err != nil {
		return protocol.Conversation{}, fmt.Errorf("decode adapter state: %w", err)
	}
	return c, nil
}

func validAgentType(agentType string) bool {
	switch agentType {
	case protocol.AgentCodex, protocol.AgentClaude, protocol.AgentCursor,
		protocol.AgentTerminal, protocol.AgentCritique:
		return true
	}
	return false
}

// CreateConversation persists a conversation row. The id doubles as the
// session id of any PTY started for it.
func (s *Store) CreateConversation(ctx context.Context, p protocol.ConversationCreateParams) (protocol.Conversation, error) {
	if !validAgentType(p.AgentType) {
		return protocol.Conversation{}, errs.Invalidf("unknown agent type %q", p.AgentType)
	}
	title := sanitize.Title(p.Title, maxTitleLen)
	if title == "" {
		title = "Untitled"
	}
	state, err := encodeJSONMap(p.AdapterState)
	if err != nil {
		return protocol.Conversation{}, err
	}

	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return protocol.Conversation{}, err
	}
	defer rollback()

	// The directory must exist and be active.
	row := tx.QueryRowContext(ctx,
		`SELECT `+directoryCols+` FROM directories
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND id = ?`,
		p.Scope.TenantID, p.Scope.UserID, p.Scope.WorkspaceID, p.DirectoryID)
	dir, err := scanDirectory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Conversation{}, errs.NotFound("directory")
	}
	if err != nil {
		return protocol.Conversation{}, fmt.Errorf("get directory: %w", err)
	}
	if dir.ArchivedAt != nil {
		return protocol.Conversation{}, errs.Conflictf("directory is archived")
	}

	ts := now()
	conv := protocol.Conversation{
		ConversationID: id.Generate(),
		Scope:          p.Scope,
		DirectoryID:    p.DirectoryID,
		Title:          title,
		AgentType:      p.AgentType,
		AdapterState:   p.AdapterState,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	if conv.AdapterState == nil {
		conv.AdapterState = map[string]any{}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, tenant_id, user_id, workspace_id, directory_id, title, agent_type, adapter_state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ConversationID, p.Scope.TenantID, p.Scope.UserID, p.Scope.WorkspaceID,
		p.DirectoryID, title, p.AgentType, state, ts, ts)
	if err != nil {
		return protocol.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return protocol.Conversation{}, fmt.Errorf("commit conversation create: %w", err)
	}
	s.publish(protocol.EventConversationCreated, p.Scope, map[string]any{"conversation": conv})
	return conv, nil
}

// GetConversation loads one conversation by id.
func (s *Store) GetConversation(ctx context.Context, scope protocol.Scope, conversationID string) (protocol.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationCols+` FROM conversations
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND id = ?`,
		scope.TenantID, scope.UserID, scope.WorkspaceID, conversationID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Conversation{}, errs.NotFound("conversation")
	}
	if err != nil {
		return protocol.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns conversations most recently updated first.
func (s *Store) ListConversations(ctx context.Context, scope protocol.Scope, includeArchived bool, limit int) ([]protocol.Conversation, error) {
	q := `SELECT ` + conversationCols + ` FROM conversations
	      WHERE tenant_id = ? AND user_id = ? AND workspace_id = ?`
	if !includeArchived {
		q += ` AND archived_at IS NULL`
	}
	q += ` ORDER BY updated_at DESC, id LIMIT ?`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, q, scope.TenantID, scope.UserID, scope.WorkspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []protocol.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateConversation patches title and/or adapter state. A non-nil
// adapterState replaces the stored object wholesale.
func (s *Store) UpdateConversation(ctx context.Context, p protocol.ConversationUpdateParams) (protocol.Conversation, error) {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return protocol.Conversation{}, err
	}
	defer rollback()

	conv, err := s.getConversationTx(ctx, tx, p.Scope, p.ConversationID)
	if err != nil {
		return protocol.Conversation{}, err
	}
	if conv.ArchivedAt != nil {
		return protocol.Conversation{}, errs.Conflictf("conversation is archived")
	}

	if p.Title != nil {
		title := sanitize.Title(*p.Title, maxTitleLen)
		if title == "" {
			return protocol.Conversation{}, errs.Invalidf("title must not be empty")
		}
		conv.Title = title
	}
	if p.AdapterState != nil {
		conv.AdapterState = p.AdapterState
	}
	conv.UpdatedAt = now()

	if err := s.writeConversationTx(ctx, tx, conv); err != nil {
		return protocol.Conversation{}, err
	}
	if err := tx.Commit(); err != nil {
		return protocol.Conversation{}, fmt.Errorf("commit conversation update: %w", err)
	}
	s.publish(protocol.EventConversationUpdated, p.Scope, map[string]any{"conversation": conv})
	return conv, nil
}

// MergeAdapterState deep-merges patch into the stored adapter state.
// The harness uses it to persist discovered provider thread ids without
// clobbering client-owned keys.
func (s *Store) MergeAdapterState(ctx context.Context, scope protocol.Scope, conversationID string, patch map[string]any) (protocol.Conversation, error) {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return protocol.Conversation{}, err
	}
	defer rollback()

	conv, err := s.getConversationTx(ctx, tx, scope, conversationID)
	if err != nil {
		return protocol.Conversation{}, err
	}

	conv.AdapterState = mergeMaps(conv.AdapterState, patch)
	conv.UpdatedAt = now()

	if err := s.writeConversationTx(ctx, tx, conv); err != nil {
		return protocol.Conversation{}, err
	}
	if err := tx.Commit(); err != nil {
		return protocol.Conversation{}, fmt.Errorf("commit adapter state merge: %w", err)
	}
	s.publish(protocol.EventConversationUpdated, scope, map[string]any{"conversation": conv})
	return conv, nil
}

func mergeMaps(dst, patch map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range patch {
		if sub, ok := v.(map[string]any); ok {
			if cur, ok := dst[k].(map[string]any); ok {
				dst[k] = mergeMaps(cur, sub)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

// ArchiveConversation soft-deletes a conversation. Idempotent.
func (s *Store) ArchiveConversation(ctx context.Context, scope protocol.Scope, conversationID string) (protocol.Conversation, error) {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return protocol.Conversation{}, err
	}
	defer rollback()

	conv, err := s.getConversationTx(ctx, tx, scope, conversationID)
	if err != nil {
		return protocol.Conversation{}, err
	}
	if conv.ArchivedAt != nil {
		return conv, tx.Commit()
	}

	archivedAt := now()
	conv.ArchivedAt = &archivedAt
	conv.UpdatedAt = archivedAt
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET archived_at = ?, updated_at = ? WHERE id = ?`,
		archivedAt, archivedAt, conversationID); err != nil {
		return protocol.Conversation{}, fmt.Errorf("archive conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return protocol.Conversation{}, fmt.Errorf("commit conversation archive: %w", err)
	}
	s.publish(protocol.EventConversationArchived, scope, map[string]any{"conversation": conv})
	return conv, nil
}

// DeleteConversation removes the row permanently. Callers are expected
// to reject deletion while a live session exists for the conversation.
func (s *Store) DeleteConversation(ctx context.Context, scope protocol.Scope, conversationID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND id = ?`,
		scope.TenantID, scope.UserID, scope.WorkspaceID, conversationID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n == 0 {
		return errs.NotFound("conversation")
	}
	s.publish(protocol.EventConversationDeleted, scope, map[string]any{"conversationId": conversationID})
	return nil
}

func (s *Store) getConversationTx(ctx context.Context, tx *sql.Tx, scope protocol.Scope, conversationID string) (protocol.Conversation, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+conversationCols+` FROM conversations
		 WHERE tenant_id = ? AND user_id = ? AND workspace_id = ? AND id = ?`,
		scope.TenantID, scope.UserID, scope.WorkspaceID, conversationID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Conversation{}, errs.NotFound("conversation")
	}
	if err != nil {
		return protocol.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) writeConversationTx(ctx context.Context, tx *sql.Tx, conv protocol.Conversation) error {
	state, err := encodeJSONMap(conv.AdapterState)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET title = ?, adapter_state = ?, updated_at = ? WHERE id = ?`,
		conv.Title, state, conv.UpdatedAt, conv.ConversationID)
	if err != nil {
		return fmt.Errorf("write conversation: %w", err)
	}
	return nil
}
