// Package jsonfile implements a plain-file persistence layout: org.json
// holding every role and agent, and one conversations/<id>.json per agent
// holding its turns and token usage. Writes are atomic (write-to-temp then
// rename), the same pattern internal/artifacts's LocalStore uses for
// artifact blobs.
package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/haasonsaas/nexus/internal/orgstate"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Store implements both orgstate.Persister and conversation.Persister
// against a single base directory.
type Store struct {
	mu      sync.Mutex
	baseDir string
}

// New creates a Store rooted at baseDir, creating it and its
// conversations/ subdirectory if they don't already exist.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, "conversations"), 0o755); err != nil {
		return nil, fmt.Errorf("jsonfile: create base dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) orgPath() string {
	return filepath.Join(s.baseDir, "org.json")
}

func (s *Store) conversationPath(agentID string) string {
	return filepath.Join(s.baseDir, "conversations", agentID+".json")
}

// writeAtomic marshals v with stable key ordering (json.Marshal already
// sorts map keys; struct field order is source order, which every type
// written here declares deliberately) and writes it via a temp-file
// rename so a crash mid-write never leaves a corrupt file in place.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("jsonfile: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("jsonfile: rename %s: %w", path, err)
	}
	return nil
}

// LoadOrgState implements orgstate.Persister.
func (s *Store) LoadOrgState() (*orgstate.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.orgPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jsonfile: read org state: %w", err)
	}
	var snap orgstate.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("jsonfile: decode org state: %w", err)
	}
	return &snap, nil
}

// SaveOrgState implements orgstate.Persister.
func (s *Store) SaveOrgState(snap *orgstate.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.orgPath(), snap)
}

// conversationFile is the on-disk shape of one agent's conversation.
type conversationFile struct {
	Turns []models.Turn     `json:"turns"`
	Usage models.TokenUsage `json:"usage"`
}

// SaveConversation implements conversation.Persister.
func (s *Store) SaveConversation(agentID string, turns []models.Turn, usage models.TokenUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.conversationPath(agentID), conversationFile{Turns: turns, Usage: usage})
}

// DeleteConversation implements conversation.Persister.
func (s *Store) DeleteConversation(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.conversationPath(agentID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// LoadConversation restores agentID's turns and usage if they were
// previously saved, used by runtime startup to repopulate
// conversation.Store before the scheduler begins dispatching. Not part of
// conversation.Persister — that interface is write-only, matching how
// ConversationStore is actually used today.
func (s *Store) LoadConversation(agentID string) ([]models.Turn, models.TokenUsage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.conversationPath(agentID))
	if os.IsNotExist(err) {
		return nil, models.TokenUsage{}, false, nil
	}
	if err != nil {
		return nil, models.TokenUsage{}, false, fmt.Errorf("jsonfile: read conversation %s: %w", agentID, err)
	}
	var cf conversationFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, models.TokenUsage{}, false, fmt.Errorf("jsonfile: decode conversation %s: %w", agentID, err)
	}
	return cf.Turns, cf.Usage, true, nil
}

// ListConversationIDs returns every agent id with a saved conversation
// file, for runtime startup to know what to restore.
func (s *Store) ListConversationIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.baseDir, "conversations"))
	if err != nil {
		return nil, fmt.Errorf("jsonfile: list conversations: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".json")])
	}
	return ids, nil
}
