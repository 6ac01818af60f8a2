package llmhandler

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/nexus/internal/artifacts"
	"github.com/haasonsaas/nexus/pkg/models"
)

func imageMessage(ref, mimeType, filename string) *models.Message {
	return &models.Message{
		ID:   "msg-1",
		From: models.ReservedUser,
		To:   "agent-1",
		Payload: models.Payload{
			Text: "look at this",
			Attachments: []models.AttachmentRef{
				{Ref: ref, Type: "image", MimeType: mimeType, Filename: filename},
			},
		},
	}
}

func TestFormatIncomingInlinesImageAsTextWithoutVision(t *testing.T) {
	rig := newTestRig(t, Config{})
	ctx := context.Background()

	art, err := rig.h.artifactRepo.StoreArtifact(ctx, models.ReservedUser, "image", "image/png", "shot.png", []byte("fake-png-bytes"))
	if err != nil {
		t.Fatalf("StoreArtifact: %v", err)
	}

	turn := rig.h.formatIncoming(ctx, imageMessage(art.ID, "image/png", "shot.png"))
	if len(turn.Blocks) != 0 {
		t.Fatalf("expected no content blocks without vision support, got %d", len(turn.Blocks))
	}
	if !strings.Contains(turn.Content, "[image attachment: shot.png, image/png]") {
		t.Fatalf("expected text fallback description, got %q", turn.Content)
	}
}

func TestFormatIncomingBuildsImageBlockWithVision(t *testing.T) {
	rig := newTestRig(t, Config{})
	rig.h.cfg.SupportsVision = true
	ctx := context.Background()

	data := []byte("fake-png-bytes")
	art, err := rig.h.artifactRepo.StoreArtifact(ctx, models.ReservedUser, "image", "image/png", "shot.png", data)
	if err != nil {
		t.Fatalf("StoreArtifact: %v", err)
	}

	turn := rig.h.formatIncoming(ctx, imageMessage(art.ID, "image/png", "shot.png"))
	if len(turn.Blocks) != 1 {
		t.Fatalf("expected one content block with vision support, got %d", len(turn.Blocks))
	}
	if turn.Blocks[0].Type != models.ContentBlockImage || turn.Blocks[0].MimeType != "image/png" {
		t.Fatalf("unexpected block: %+v", turn.Blocks[0])
	}
	if string(turn.Blocks[0].Data) != string(data) {
		t.Fatalf("expected block data to match stored artifact bytes")
	}
	if strings.Contains(turn.Content, "[image attachment:") {
		t.Fatalf("expected no inline text fallback when vision handled the attachment, got %q", turn.Content)
	}
}

func TestFormatIncomingFallsBackToTextWhenImageFetchFails(t *testing.T) {
	rig := newTestRig(t, Config{})
	rig.h.artifactRepo = artifacts.NewMemoryRepository(nil, nil, nil)
	rig.h.cfg.SupportsVision = true

	turn := rig.h.formatIncoming(context.Background(), imageMessage("missing-ref", "image/png", "shot.png"))
	if len(turn.Blocks) != 0 {
		t.Fatalf("expected no content blocks when the fetch fails, got %d", len(turn.Blocks))
	}
	if !strings.Contains(turn.Content, "[image attachment: shot.png, image/png]") {
		t.Fatalf("expected text fallback on fetch failure, got %q", turn.Content)
	}
}
