package llmhandler

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
)

// formatIncoming turns an inbound bus message into a user-turn entry (spec
// §4.8 step 3). When the selected LLM service supports vision
// (cfg.SupportsVision), image attachments are fetched from the artifact
// store and built into a multimodal ContentBlock; otherwise, or if the
// fetch fails, they fall back to an inline text description. File
// attachments are always fetched from the artifact store and embedded
// under a delimited section.
func (h *Handler) formatIncoming(ctx context.Context, msg *models.Message) models.Turn {
	var b strings.Builder
	b.WriteString(msg.Payload.Text)

	var blocks []models.ContentBlock

	for _, att := range msg.Payload.Attachments {
		switch att.Type {
		case "image":
			if h.cfg.SupportsVision {
				if cb, ok := h.fetchImageBlock(ctx, att); ok {
					blocks = append(blocks, cb)
					continue
				}
			}
			fmt.Fprintf(&b, "\n\n[image attachment: %s, %s]", attLabel(att), att.MimeType)
		default:
			b.WriteString("\n\n--- attachment: ")
			b.WriteString(attLabel(att))
			b.WriteString(" ---\n")
			b.WriteString(h.fetchAttachmentText(ctx, att))
			b.WriteString("\n--- end attachment ---")
		}
	}

	return models.Turn{Role: models.TurnUser, Content: b.String(), Blocks: blocks}
}

// fetchImageBlock resolves an image attachment's bytes via the artifact
// store and wraps them as a ContentBlock ready for a vision-capable
// provider. ok is false when the store is unavailable or the fetch fails,
// in which case the caller falls back to a text description.
func (h *Handler) fetchImageBlock(ctx context.Context, att models.AttachmentRef) (models.ContentBlock, bool) {
	if h.artifactRepo == nil {
		return models.ContentBlock{}, false
	}
	_, data, err := h.artifactRepo.GetArtifact(ctx, att.Ref)
	if err != nil {
		return models.ContentBlock{}, false
	}
	return models.ContentBlock{Type: models.ContentBlockImage, MimeType: att.MimeType, Data: data}, true
}

func attLabel(att models.AttachmentRef) string {
	if att.Filename != "" {
		return att.Filename
	}
	return att.Ref
}

// fetchAttachmentText resolves a file attachment's content via the
// artifact store. Binary content is reported by mime type rather than
// embedded raw.
func (h *Handler) fetchAttachmentText(ctx context.Context, att models.AttachmentRef) string {
	if h.artifactRepo == nil {
		return "(artifact store unavailable)"
	}
	_, data, err := h.artifactRepo.GetArtifact(ctx, att.Ref)
	if err != nil {
		return fmt.Sprintf("(failed to fetch attachment %s: %v)", att.Ref, err)
	}
	if strings.HasPrefix(att.MimeType, "text/") || att.MimeType == "application/json" || att.MimeType == "" {
		return string(data)
	}
	return fmt.Sprintf("(binary content, %s, %d bytes)", att.MimeType, len(data))
}
