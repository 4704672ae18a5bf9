// Package store persists the workspace model: directories, repositories,
// conversations and tasks. Each workspace scope gets its own SQLite file;
// Manager routes scopes to open stores. Directory and conversation
// mutations publish their observed events after the transaction commits.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/roostlabs/roost/internal/errs"
	"github.com/roostlabs/roost/internal/events"
	"github.com/roostlabs/roost/internal/id"
	"github.com/roostlabs/roost/internal/util/timefmt"
	"github.com/roostlabs/roost/internal/validate"
	"github.com/roostlabs/roost/protocol"
)

//go:embed migrations/*.sql
var migrations embed.FS

// gooseMu serializes goose's package-level state across concurrent Opens.
var gooseMu sync.Mutex

// Store is one workspace database.
type Store struct {
	db  *sql.DB
	bus *events.Bus
}

// Open opens the SQLite database at path, runs pending migrations and
// writes the instance row on first open. Use ":memory:" in tests.
func Open(path string, bus *events.Bus) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL improves concurrent read behavior; foreign keys are off by
	// default in SQLite and must be enabled per connection.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite only supports a single writer at a time.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, bus: bus}
	if err := s.ensureInstance(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func migrate(db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// ensureInstance writes the instance identity row on first open.
func (s *Store) ensureInstance() error {
	_, err := s.db.Exec(
		`INSERT INTO meta (key, value) VALUES ('instance_id', ?), ('created_at', ?)
		 ON CONFLICT (key) DO NOTHING`,
		id.Generate(), timefmt.Format(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("write instance row: %w", err)
	}
	return nil
}

// InstanceID returns the identity written when the database was created.
func (s *Store) InstanceID(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'instance_id'`).Scan(&v)
	if err != nil {
		return "", fmt.Errorf("read instance row: %w", err)
	}
	return v, nil
}

// Checkpoint flushes the WAL into the main database file.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// publish emits an observed event after a successful commit. The bus is
// nil in some store-only tests.
func (s *Store) publish(eventType string, scope protocol.Scope, payload map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventType, "", &scope, payload)
}

func now() string {
	return timefmt.Format(time.Now())
}

// begin starts a write transaction; the returned rollback is a no-op
// after commit.
func (s *Store) begin(ctx context.Context) (*sql.Tx, func(), error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, func() { _ = tx.Rollback() }, nil
}

// Manager opens one Store per workspace scope and caches it for the
// process lifetime.
type Manager struct {
	pathFn func(tenantID, userID, workspaceID string) string
	bus    *events.Bus

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager builds a Manager. pathFn maps a sanitized scope to its
// database file; Config.WorkspaceDBPath is the production choice.
func NewManager(pathFn func(tenantID, userID, workspaceID string) string, bus *events.Bus) *Manager {
	return &Manager{
		pathFn: pathFn,
		bus:    bus,
		stores: make(map[string]*Store),
	}
}

// ForScope returns the store for scope, opening and migrating its
// database on first use.
func (m *Manager) ForScope(scope protocol.Scope) (*Store, error) {
	tenantID, userID, workspaceID, err := validate.SanitizeScope(scope.TenantID, scope.UserID, scope.WorkspaceID)
	if err != nil {
		return nil, errs.Invalid(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantID + "/" + userID + "/" + workspaceID
	if st, ok := m.stores[key]; ok {
		return st, nil
	}

	path := m.pathFn(tenantID, userID, workspaceID)
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create workspace directory: %w", err)
		}
	}
	st, err := Open(path, m.bus)
	if err != nil {
		return nil, err
	}
	m.stores[key] = st
	return st, nil
}

// Checkpoint flushes every open store's WAL.
func (m *Manager) Checkpoint(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.stores {
		_ = st.Checkpoint(ctx)
	}
}

// Close closes every open store. The manager is unusable afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for key, st := range m.stores {
		if err := st.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.stores, key)
	}
	return firstErr
}
