// Package contacts implements the advisory ContactRegistry: a per-agent
// address book that never blocks send_message, used only to surface
// "known contacts" to the LLM when it composes a message.
package contacts

import (
	"sync"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Source identifies how a contact entry entered an agent's address book.
type Source string

const (
	SourceSystem       Source = "system"
	SourceParent       Source = "parent"
	SourcePreset       Source = "preset"
	SourceIntroduction Source = "introduction"
	SourceFirstMessage Source = "first_message"
)

// Contact is one entry in an agent's address book.
type Contact struct {
	AgentID       string    `json:"agentId"`
	Label         string    `json:"label,omitempty"`
	Role          string    `json:"role,omitempty"`
	Source        Source    `json:"source"`
	Description   string    `json:"description,omitempty"`
	InterfaceSpec string    `json:"interfaceSpec,omitempty"`
	AddedAt       time.Time `json:"addedAt"`
}

// Registry tracks, per agent, the set of other agents it is aware of.
// It is purely advisory: an unknown recipient is still a valid send_message
// target, the registry only affects what gets listed back to the agent.
type Registry struct {
	mu       sync.RWMutex
	contacts map[string]map[string]Contact // agentID -> contactID -> Contact
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{contacts: make(map[string]map[string]Contact)}
}

func (r *Registry) set(agentID string, c Contact) {
	if _, ok := r.contacts[agentID]; !ok {
		r.contacts[agentID] = make(map[string]Contact)
	}
	if c.AddedAt.IsZero() {
		c.AddedAt = time.Now()
	}
	r.contacts[agentID][c.AgentID] = c
}

// SeedRootUser seeds the reciprocal root↔user contact pair, run once at
// startup before any agent is spawned.
func (r *Registry) SeedRootUser() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set(models.ReservedRoot, Contact{AgentID: models.ReservedUser, Role: "user", Source: SourceSystem})
	r.set(models.ReservedUser, Contact{AgentID: models.ReservedRoot, Role: "root", Source: SourceSystem})
}

// InitRegistry seeds agentID's address book with its parent (if any) and
// any preset contacts, run when an agent is spawned.
func (r *Registry) InitRegistry(agentID, parentID string, presets []Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contacts[agentID]; !ok {
		r.contacts[agentID] = make(map[string]Contact)
	}
	if parentID != "" {
		r.set(agentID, Contact{AgentID: parentID, Role: "parent", Source: SourceParent})
	}
	for _, c := range presets {
		if c.Source == "" {
			c.Source = SourcePreset
		}
		r.set(agentID, c)
	}
}

// Learn records that agentID now knows about contactID because a message
// just passed between them (first_message) or was explicitly introduced
// (introduction, when label is set by the introducer). Idempotent.
func (r *Registry) Learn(agentID, contactID string, label string) {
	if agentID == "" || contactID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contacts[agentID]; !ok {
		r.contacts[agentID] = make(map[string]Contact)
	}
	existing, ok := r.contacts[agentID][contactID]
	source := SourceFirstMessage
	if label != "" {
		source = SourceIntroduction
	}
	if ok && label == "" {
		label = existing.Label
		source = existing.Source
	}
	r.set(agentID, Contact{AgentID: contactID, Label: label, Source: source})
}

// IsContactKnown reports whether agentID has contactID in its address
// book. Advisory only — callers must not use this to reject a send.
func (r *Registry) IsContactKnown(agentID, contactID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.contacts[agentID][contactID]
	return ok
}

// ListContacts returns a stable-ish snapshot of agentID's known contacts.
func (r *Registry) ListContacts(agentID string) []Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.contacts[agentID]
	out := make([]Contact, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// Forget removes contactID from agentID's address book, e.g. after the
// contact terminates permanently.
func (r *Registry) Forget(agentID, contactID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contacts[agentID], contactID)
}

// Drop removes agentID's entire address book, e.g. on termination cleanup.
func (r *Registry) Drop(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contacts, agentID)
}
