package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Artifact is the opaque payload put_artifact/get_artifact exchange with
// callers. Content is only populated when the caller actually fetches data
// (GetArtifact); ListArtifacts returns metadata-only entries.
type Artifact struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	MimeType  string    `json:"mimeType,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Size      int64     `json:"size"`
	Reference string    `json:"reference"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Metadata is the durable index entry for one artifact; Reference points
// either at an inline:// id or at whatever the backend Store returned.
type Metadata struct {
	ID        string
	Type      string
	MimeType  string
	Filename  string
	Size      int64
	Reference string
	OwnerID   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Filter narrows ListArtifacts.
type Filter struct {
	OwnerID       string
	Type          string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}

// Repository is the artifact metadata+data contract ToolExecutor's
// put_artifact/get_artifact tools are built on.
type Repository interface {
	StoreArtifact(ctx context.Context, ownerID, artifactType, mimeType, filename string, data []byte) (*Artifact, error)
	GetArtifact(ctx context.Context, artifactID string) (*Artifact, []byte, error)
	ListArtifacts(ctx context.Context, filter Filter) ([]*Artifact, error)
	DeleteArtifact(ctx context.Context, artifactID string) error
	PruneExpired(ctx context.Context) (int, error)
}

// MemoryRepository is an in-memory Repository: artifacts under
// MaxInlineBytes are kept in the repository's own map; larger ones are
// handed to the configured Store backend. Every entry has a TTL-derived
// expiry, checked lazily on read and swept by PruneExpired.
type MemoryRepository struct {
	mu         sync.RWMutex
	store      Store
	metadata   map[string]*Metadata
	inlineData map[string][]byte
	redaction  *RedactionPolicy
	logger     *slog.Logger
}

// NewMemoryRepository creates a repository backed by store. redaction may
// be nil to disable content redaction entirely.
func NewMemoryRepository(store Store, redaction *RedactionPolicy, logger *slog.Logger) *MemoryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &MemoryRepository{
		store:      store,
		metadata:   make(map[string]*Metadata),
		inlineData: make(map[string][]byte),
		redaction:  redaction,
		logger:     logger,
	}
}

// StoreArtifact persists data under a fresh artifact id, choosing inline
// vs. backend storage by size, and applying the redaction policy first.
func (r *MemoryRepository) StoreArtifact(ctx context.Context, ownerID, artifactType, mimeType, filename string, data []byte) (*Artifact, error) {
	if r.redaction != nil {
		data = r.redaction.Apply(artifactType, mimeType, filename, data)
	}

	id := uuid.NewString()
	now := time.Now()
	meta := &Metadata{
		ID:        id,
		Type:      artifactType,
		MimeType:  mimeType,
		Filename:  filename,
		Size:      int64(len(data)),
		OwnerID:   ownerID,
		CreatedAt: now,
		ExpiresAt: now.Add(DefaultTTL),
	}

	if meta.Size < MaxInlineBytes {
		meta.Reference = "inline://" + id
		r.mu.Lock()
		r.inlineData[id] = data
		r.metadata[id] = meta
		r.mu.Unlock()
	} else {
		ref, err := r.store.Put(ctx, id, bytes.NewReader(data), PutOptions{
			MimeType: mimeType,
			TTL:      DefaultTTL,
			Metadata: map[string]string{"type": artifactType},
		})
		if err != nil {
			return nil, fmt.Errorf("store artifact: %w", err)
		}
		meta.Reference = ref
		r.mu.Lock()
		r.metadata[id] = meta
		r.mu.Unlock()
	}

	r.logger.Info("artifact stored", "id", id, "type", artifactType, "size", meta.Size)
	return toArtifact(meta), nil
}

// GetArtifact returns metadata and content for artifactID, erroring if it
// is unknown or has expired (expired entries are pruned on access).
func (r *MemoryRepository) GetArtifact(ctx context.Context, artifactID string) (*Artifact, []byte, error) {
	r.mu.RLock()
	meta, ok := r.metadata[artifactID]
	inline := r.inlineData[artifactID]
	r.mu.RUnlock()

	if !ok {
		return nil, nil, fmt.Errorf("artifact not found: %s", artifactID)
	}
	if !meta.ExpiresAt.IsZero() && time.Now().After(meta.ExpiresAt) {
		r.DeleteArtifact(ctx, artifactID) //nolint:errcheck
		return nil, nil, fmt.Errorf("artifact expired: %s", artifactID)
	}

	if inline != nil {
		return toArtifact(meta), inline, nil
	}

	rc, err := r.store.Get(ctx, artifactID)
	if err != nil {
		return nil, nil, fmt.Errorf("get artifact data: %w", err)
	}
	defer rc.Close()
	buf, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("read artifact data: %w", err)
	}
	return toArtifact(meta), buf, nil
}

// ListArtifacts returns metadata-only entries matching filter.
func (r *MemoryRepository) ListArtifacts(ctx context.Context, filter Filter) ([]*Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var out []*Artifact
	for _, meta := range r.metadata {
		if !meta.ExpiresAt.IsZero() && now.After(meta.ExpiresAt) {
			continue
		}
		if filter.OwnerID != "" && meta.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Type != "" && meta.Type != filter.Type {
			continue
		}
		if !filter.CreatedAfter.IsZero() && meta.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if !filter.CreatedBefore.IsZero() && meta.CreatedAt.After(filter.CreatedBefore) {
			continue
		}
		out = append(out, toArtifact(meta))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// DeleteArtifact removes an artifact's metadata and data.
func (r *MemoryRepository) DeleteArtifact(ctx context.Context, artifactID string) error {
	r.mu.Lock()
	meta, ok := r.metadata[artifactID]
	if ok {
		delete(r.metadata, artifactID)
		delete(r.inlineData, artifactID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if meta.Reference != "inline://"+artifactID {
		if err := r.store.Delete(ctx, artifactID); err != nil {
			r.logger.Warn("failed to delete artifact from store", "id", artifactID, "error", err)
		}
	}
	return nil
}

// PruneExpired removes every artifact whose TTL has elapsed.
func (r *MemoryRepository) PruneExpired(ctx context.Context) (int, error) {
	r.mu.Lock()
	var expired []string
	now := time.Now()
	for id, meta := range r.metadata {
		if !meta.ExpiresAt.IsZero() && now.After(meta.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	count := 0
	for _, id := range expired {
		if err := r.DeleteArtifact(ctx, id); err == nil {
			count++
		}
	}
	if count > 0 {
		r.logger.Info("pruned expired artifacts", "count", count)
	}
	return count, nil
}

func toArtifact(meta *Metadata) *Artifact {
	return &Artifact{
		ID:        meta.ID,
		Type:      meta.Type,
		MimeType:  meta.MimeType,
		Filename:  meta.Filename,
		Size:      meta.Size,
		Reference: meta.Reference,
		OwnerID:   meta.OwnerID,
		CreatedAt: meta.CreatedAt,
		ExpiresAt: meta.ExpiresAt,
	}
}
