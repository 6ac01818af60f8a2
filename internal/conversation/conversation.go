// Package conversation implements the per-agent ConversationStore of spec
// §4.3: ordered turn history, token accounting, usage-threshold buckets,
// and compression.
package conversation

import (
	"fmt"
	"sync"

	"github.com/haasonsaas/nexus/pkg/models"
)

// UsageBucket classifies a conversation's token usage against the
// configured thresholds.
type UsageBucket string

const (
	UsageNormal   UsageBucket = "normal"
	UsageWarning  UsageBucket = "warning"
	UsageCritical UsageBucket = "critical"
	UsageExceeded UsageBucket = "exceeded"
)

// Thresholds holds the usage-ratio cut points; defaults match .
type Thresholds struct {
	Warning   float64
	Critical  float64
	HardLimit float64
}

// DefaultThresholds returns the default warning/critical/hard-limit ratios.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 0.70, Critical: 0.85, HardLimit: 0.95}
}

// Persister is the narrow durability contract ConversationStore needs.
type Persister interface {
	SaveConversation(agentID string, turns []models.Turn, usage models.TokenUsage) error
	DeleteConversation(agentID string) error
}

type conversationEntry struct {
	turns     []models.Turn
	usage     models.TokenUsage
	maxTokens int
}

// Store is the concurrency-safe, per-agent conversation ledger.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*conversationEntry
	thresholds Thresholds
	persister  Persister

	// defaultMaxTokens is used for EnsureConversation when the caller
	// doesn't override it per agent.
	defaultMaxTokens int
}

// New creates an empty Store. defaultMaxTokens seeds UsagePercent/IsContextExceeded
// for agents created without an explicit per-agent override.
func New(persister Persister, defaultMaxTokens int, thresholds Thresholds) *Store {
	if defaultMaxTokens <= 0 {
		defaultMaxTokens = 128_000
	}
	return &Store{
		entries:          make(map[string]*conversationEntry),
		thresholds:       thresholds,
		persister:        persister,
		defaultMaxTokens: defaultMaxTokens,
	}
}

// EnsureConversation creates agentID's conversation with systemPrompt at
// index 0 if it does not already exist. No-op if it does.
func (s *Store) EnsureConversation(agentID, systemPrompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[agentID]; ok {
		return
	}
	s.entries[agentID] = &conversationEntry{
		turns:     []models.Turn{{Role: models.TurnSystem, Content: systemPrompt}},
		maxTokens: s.defaultMaxTokens,
	}
}

// SetMaxTokens overrides the context window size used for usage
// calculations for a specific agent (e.g. per role/LLM-service config).
func (s *Store) SetMaxTokens(agentID string, maxTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[agentID]
	if !ok {
		return
	}
	e.maxTokens = maxTokens
}

// Append adds a turn to agentID's conversation. Appends are serialized per
// agent by the store's single mutex.
func (s *Store) Append(agentID string, turn models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[agentID]
	if !ok {
		e = &conversationEntry{maxTokens: s.defaultMaxTokens}
		s.entries[agentID] = e
	}
	e.turns = append(e.turns, turn)
}

// TruncateLast drops the final turn of agentID's conversation, used by the
// interruption protocol to discard a trailing assistant-with-tool_calls
// entry whose tool calls are about to be obsoleted. No-op if
// the conversation is empty or unknown.
func (s *Store) TruncateLast(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[agentID]
	if !ok || len(e.turns) == 0 {
		return
	}
	e.turns = e.turns[:len(e.turns)-1]
}

// Restore seeds agentID's conversation from previously persisted turns and
// usage, for runtime startup to repopulate the store from disk before the
// scheduler begins dispatching. Overwrites any existing in-memory entry
// for agentID.
func (s *Store) Restore(agentID string, turns []models.Turn, usage models.TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maxTokens := s.defaultMaxTokens
	if e, ok := s.entries[agentID]; ok {
		maxTokens = e.maxTokens
	}
	s.entries[agentID] = &conversationEntry{
		turns:     append([]models.Turn(nil), turns...),
		usage:     usage,
		maxTokens: maxTokens,
	}
}

// Turns returns a snapshot copy of agentID's turns.
func (s *Store) Turns(agentID string) []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[agentID]
	if !ok {
		return nil
	}
	return append([]models.Turn(nil), e.turns...)
}

// UpdateFromResponse records a reply's token usage, accumulating into the
// running total.
func (s *Store) UpdateFromResponse(agentID string, usage models.TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[agentID]
	if !ok {
		e = &conversationEntry{maxTokens: s.defaultMaxTokens}
		s.entries[agentID] = e
	}
	e.usage.Add(usage)
}

// Usage returns the current accumulated token usage for agentID.
func (s *Store) Usage(agentID string) models.TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[agentID]; ok {
		return e.usage
	}
	return models.TokenUsage{}
}

// UsageBucket classifies agentID's current usage percentage against the
// configured thresholds.
func (s *Store) UsageBucket(agentID string) UsageBucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[agentID]
	if !ok {
		return UsageNormal
	}
	pct := e.usage.UsagePercent(e.maxTokens)
	switch {
	case pct >= s.thresholds.HardLimit:
		return UsageExceeded
	case pct >= s.thresholds.Critical:
		return UsageCritical
	case pct >= s.thresholds.Warning:
		return UsageWarning
	default:
		return UsageNormal
	}
}

// IsContextExceeded reports whether agentID is at or beyond the hard
// token-usage limit; LlmHandler must refuse further LLM calls when true.
func (s *Store) IsContextExceeded(agentID string) bool {
	return s.UsageBucket(agentID) == UsageExceeded
}

// CompressResult is returned by Compress.
type CompressResult struct {
	OK            bool
	OriginalCount int
	NewCount      int
}

// Compress replaces every entry between the system message and the last
// keepRecentCount entries with a single synthetic summary turn, per spec
// §4.3, and clears the accumulated token totals (recomputed on next reply).
func (s *Store) Compress(agentID, summary string, keepRecentCount int) (CompressResult, error) {
	if keepRecentCount < 0 {
		keepRecentCount = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[agentID]
	if !ok {
		return CompressResult{}, fmt.Errorf("conversation not found for agent %q", agentID)
	}
	original := len(e.turns)
	if original <= 1 {
		return CompressResult{OK: true, OriginalCount: original, NewCount: original}, nil
	}

	// turns[0] is always the system message.
	rest := e.turns[1:]
	keep := keepRecentCount
	if keep > len(rest) {
		keep = len(rest)
	}
	kept := append([]models.Turn(nil), rest[len(rest)-keep:]...)

	newTurns := make([]models.Turn, 0, 2+len(kept))
	newTurns = append(newTurns, e.turns[0])
	newTurns = append(newTurns, models.Turn{Role: models.TurnSystem, Content: summary})
	newTurns = append(newTurns, kept...)

	e.turns = newTurns
	e.usage = models.TokenUsage{}

	return CompressResult{OK: true, OriginalCount: original, NewCount: len(newTurns)}, nil
}

// FlushAll persists every in-memory conversation via the configured
// Persister. No-op if none is configured.
func (s *Store) FlushAll() error {
	if s.persister == nil {
		return nil
	}
	s.mu.Lock()
	snapshot := make(map[string]*conversationEntry, len(s.entries))
	for id, e := range s.entries {
		cp := *e
		cp.turns = append([]models.Turn(nil), e.turns...)
		snapshot[id] = &cp
	}
	s.mu.Unlock()

	for id, e := range snapshot {
		if err := s.persister.SaveConversation(id, e.turns, e.usage); err != nil {
			return fmt.Errorf("flush conversation %q: %w", id, err)
		}
	}
	return nil
}

// Delete removes agentID's conversation from memory and, if a Persister is
// configured, from durable storage.
func (s *Store) Delete(agentID string) error {
	s.mu.Lock()
	delete(s.entries, agentID)
	s.mu.Unlock()
	if s.persister == nil {
		return nil
	}
	return s.persister.DeleteConversation(agentID)
}

// Exists reports whether agentID currently has a conversation in memory.
func (s *Store) Exists(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[agentID]
	return ok
}
