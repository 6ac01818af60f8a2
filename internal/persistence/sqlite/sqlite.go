// Package sqlite implements the same Persister contracts as
// internal/persistence/jsonfile against a SQLite database, for deployments
// that want transactional durability instead of plain files. It uses
// modernc.org/sqlite, a pure-Go driver, so builds stay cgo-free.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/nexus/internal/orgstate"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Store implements orgstate.Persister and conversation.Persister against
// a single SQLite database.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at dsn and ensures
// its schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", dsn, err)
	}
	// SQLite allows only one writer at a time; pooling multiple connections
	// against the same database (especially an in-memory one, where each
	// connection would otherwise see its own separate database) causes
	// spurious "database is locked" errors and lost writes.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS org_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	snapshot TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS conversations (
	agent_id TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadOrgState implements orgstate.Persister.
func (s *Store) LoadOrgState() (*orgstate.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw string
	err := s.db.QueryRow(`SELECT snapshot FROM org_state WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load org state: %w", err)
	}
	var snap orgstate.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("sqlite: decode org state: %w", err)
	}
	return &snap, nil
}

// SaveOrgState implements orgstate.Persister.
func (s *Store) SaveOrgState(snap *orgstate.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("sqlite: encode org state: %w", err)
	}
	_, err = s.db.Exec(`
INSERT INTO org_state (id, snapshot) VALUES (1, ?)
ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot`, string(data))
	if err != nil {
		return fmt.Errorf("sqlite: save org state: %w", err)
	}
	return nil
}

type conversationRow struct {
	Turns []models.Turn     `json:"turns"`
	Usage models.TokenUsage `json:"usage"`
}

// SaveConversation implements conversation.Persister.
func (s *Store) SaveConversation(agentID string, turns []models.Turn, usage models.TokenUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(conversationRow{Turns: turns, Usage: usage})
	if err != nil {
		return fmt.Errorf("sqlite: encode conversation %s: %w", agentID, err)
	}
	_, err = s.db.Exec(`
INSERT INTO conversations (agent_id, data) VALUES (?, ?)
ON CONFLICT(agent_id) DO UPDATE SET data = excluded.data`, agentID, string(data))
	if err != nil {
		return fmt.Errorf("sqlite: save conversation %s: %w", agentID, err)
	}
	return nil
}

// DeleteConversation implements conversation.Persister.
func (s *Store) DeleteConversation(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM conversations WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("sqlite: delete conversation %s: %w", agentID, err)
	}
	return nil
}

// LoadConversation restores agentID's turns and usage, mirroring
// jsonfile.Store.LoadConversation so runtime startup can treat either
// backend identically.
func (s *Store) LoadConversation(agentID string) ([]models.Turn, models.TokenUsage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw string
	err := s.db.QueryRow(`SELECT data FROM conversations WHERE agent_id = ?`, agentID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, models.TokenUsage{}, false, nil
	}
	if err != nil {
		return nil, models.TokenUsage{}, false, fmt.Errorf("sqlite: load conversation %s: %w", agentID, err)
	}
	var row conversationRow
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		return nil, models.TokenUsage{}, false, fmt.Errorf("sqlite: decode conversation %s: %w", agentID, err)
	}
	return row.Turns, row.Usage, true, nil
}

// ListConversationIDs returns every agent id with a saved conversation row.
func (s *Store) ListConversationIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT agent_id FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
