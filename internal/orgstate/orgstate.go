// Package orgstate implements the persistent registry of roles and
// agent-metadata described in : role/agent CRUD, cascading
// termination, and round-trip persistence.
package orgstate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Persister is the narrow durability contract OrgState needs. A concrete
// implementation (jsonfile, sqlite, ...) lives in internal/persistence.
type Persister interface {
	LoadOrgState() (*Snapshot, error)
	SaveOrgState(*Snapshot) error
}

// Snapshot is the durable representation of OrgState: every role and every
// agent, terminated or not.
type Snapshot struct {
	Roles  []*models.Role      `json:"roles"`
	Agents []*models.AgentMeta `json:"agents"`
}

// OrgState is the in-memory registry backed by an optional Persister.
type OrgState struct {
	mu sync.RWMutex

	roles  map[string]*models.Role
	agents map[string]*models.AgentMeta

	// children indexes ParentAgentID -> direct child IDs for fast cascade
	// walks during termination.
	children map[string][]string

	persister Persister
	logger    *slog.Logger
}

// New creates an empty OrgState. Call Bootstrap to seed the reserved
// root/user identities and LoadIfExists to restore from persistence.
func New(persister Persister, logger *slog.Logger) *OrgState {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrgState{
		roles:     make(map[string]*models.Role),
		agents:    make(map[string]*models.AgentMeta),
		children:  make(map[string][]string),
		persister: persister,
		logger:    logger,
	}
}

// Bootstrap creates the reserved root and user agents if they don't already
// exist. Idempotent.
func (o *OrgState) Bootstrap() {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	for _, id := range []string{models.ReservedRoot, models.ReservedUser} {
		if _, ok := o.agents[id]; ok {
			continue
		}
		o.agents[id] = &models.AgentMeta{
			ID:        id,
			Status:    models.AgentActive,
			CreatedAt: now,
		}
	}
}

// LoadIfExists restores state from the configured Persister if one is set
// and has prior data. It is a no-op (returns false, nil) with no Persister.
func (o *OrgState) LoadIfExists() (bool, error) {
	if o.persister == nil {
		return false, nil
	}
	snap, err := o.persister.LoadOrgState()
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.roles = make(map[string]*models.Role, len(snap.Roles))
	for _, r := range snap.Roles {
		o.roles[r.ID] = r
	}
	o.agents = make(map[string]*models.AgentMeta, len(snap.Agents))
	o.children = make(map[string][]string)
	for _, a := range snap.Agents {
		o.agents[a.ID] = a
		if a.ParentAgentID != "" {
			o.children[a.ParentAgentID] = append(o.children[a.ParentAgentID], a.ID)
		}
	}
	return true, nil
}

// Persist flushes the current roles and agents (including tombstones) to
// the configured Persister. No-op if none is configured.
func (o *OrgState) Persist() error {
	if o.persister == nil {
		return nil
	}
	o.mu.RLock()
	snap := &Snapshot{
		Roles:  make([]*models.Role, 0, len(o.roles)),
		Agents: make([]*models.AgentMeta, 0, len(o.agents)),
	}
	for _, r := range o.roles {
		snap.Roles = append(snap.Roles, r)
	}
	for _, a := range o.agents {
		snap.Agents = append(snap.Agents, a)
	}
	o.mu.RUnlock()
	return o.persister.SaveOrgState(snap)
}

// CreateRole registers a new role, stamping CreatedBy and a fresh ID.
func (o *OrgState) CreateRole(name, rolePrompt string, toolGroups []string, createdBy string) (*models.Role, error) {
	if name == "" {
		return nil, fmt.Errorf("role name is required")
	}
	role := models.NewRole(uuid.NewString(), name, rolePrompt, toolGroups, createdBy)

	o.mu.Lock()
	o.roles[role.ID] = role
	o.mu.Unlock()
	return role, nil
}

// FindRoleByName returns the first role matching name, if any.
func (o *OrgState) FindRoleByName(name string) (*models.Role, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, r := range o.roles {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// GetRole looks up a role by ID.
func (o *OrgState) GetRole(id string) (*models.Role, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.roles[id]
	return r, ok
}

// ErrParentAgentRequired is returned when CreateAgent is called without a
// known parent — the spawning caller's own agent id is missing.
var ErrParentAgentRequired = fmt.Errorf(models.ErrKindMissingCallerAgent)

// ErrUnknownParent is returned when parentAgentId does not name a known
// agent.
var ErrUnknownParent = fmt.Errorf(models.ErrKindInvalidParentAgentID)

// CreateAgent registers a new AgentMeta under parentID with roleID, minting
// a fresh agent ID. parentID must already exist (reserved agents always
// do).
func (o *OrgState) CreateAgent(roleID, parentID string) (*models.AgentMeta, error) {
	if parentID == "" {
		return nil, ErrParentAgentRequired
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.agents[parentID]; !ok {
		return nil, ErrUnknownParent
	}

	id := uuid.NewString()
	meta := &models.AgentMeta{
		ID:            id,
		RoleID:        roleID,
		ParentAgentID: parentID,
		Status:        models.AgentActive,
		CreatedAt:     time.Now(),
	}
	o.agents[id] = meta
	o.children[parentID] = append(o.children[parentID], id)
	return meta, nil
}

// GetAgent looks up agent metadata by ID.
func (o *OrgState) GetAgent(id string) (*models.AgentMeta, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.agents[id]
	return a, ok
}

// ListAgents returns a snapshot of every registered agent, including
// terminated tombstones.
func (o *OrgState) ListAgents() []*models.AgentMeta {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*models.AgentMeta, 0, len(o.agents))
	for _, a := range o.agents {
		out = append(out, a)
	}
	return out
}

// Descendants returns every transitive child of id, depth-first, not
// including id itself.
func (o *OrgState) Descendants(id string) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []string
	var walk func(string)
	walk = func(cur string) {
		for _, c := range o.children[cur] {
			out = append(out, c)
			walk(c)
		}
	}
	walk(id)
	return out
}

// IsDescendant reports whether targetID is a direct or transitive child of
// ancestorID.
func (o *OrgState) IsDescendant(ancestorID, targetID string) bool {
	for _, d := range o.Descendants(ancestorID) {
		if d == targetID {
			return true
		}
	}
	return false
}

// RecordTermination marks agentID (and, per , every descendant)
// terminated, stamping terminatedBy/reason/terminatedAt. Descendants are
// recorded first, the named agent last, matching the kill-order used by
// AgentLifecycle.Terminate.
func (o *OrgState) RecordTermination(agentID, terminatedBy, reason string) []string {
	descendants := o.Descendants(agentID)
	killOrder := append(append([]string(nil), descendants...), agentID)

	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	for _, id := range killOrder {
		a, ok := o.agents[id]
		if !ok || a.Status == models.AgentTerminated {
			continue
		}
		a.Status = models.AgentTerminated
		a.TerminatedAt = &now
		a.TerminatedBy = terminatedBy
		a.Reason = reason
	}
	return killOrder
}

// MarshalSnapshot is a convenience for tests/tools that want a JSON view of
// current state without going through a Persister.
func (o *OrgState) MarshalSnapshot() ([]byte, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	snap := &Snapshot{}
	for _, r := range o.roles {
		snap.Roles = append(snap.Roles, r)
	}
	for _, a := range o.agents {
		snap.Agents = append(snap.Agents, a)
	}
	return json.MarshalIndent(snap, "", "  ")
}
