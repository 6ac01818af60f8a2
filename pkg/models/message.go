// Package models holds the wire- and storage-level data types shared across
// the orchestration runtime: messages, roles, agent metadata, and
// conversation turns.
package models

import "time"

// Reserved agent identifiers. Neither is ever terminated and both are
// created on first boot of OrgState.
const (
	ReservedRoot = "root"
	ReservedUser = "user"
)

// Message is the immutable envelope delivered by the MessageBus. Once
// constructed by Send it is never mutated by consumers.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Payload   Payload   `json:"payload"`
	TaskID    string    `json:"task_id,omitempty"`
	CreatedAt string    `json:"created_at"`
	DeliverAt time.Time `json:"deliver_at,omitempty"`

	// enqueueIndex orders delayed messages with an identical DeliverAt in
	// send order. Stamped by the bus, never callers.
	enqueueIndex int64
}

// EnqueueIndex returns the bus-assigned sequence number used to break ties
// between delayed messages sharing a DeliverAt.
func (m *Message) EnqueueIndex() int64 { return m.enqueueIndex }

// SetEnqueueIndex stamps the send-order sequence number onto a message.
// Called only by MessageBus.Send.
func (m *Message) SetEnqueueIndex(i int64) { m.enqueueIndex = i }

// IsDelayed reports whether this message has a delivery time still in the
// future relative to now.
func (m *Message) IsDelayed(now time.Time) bool {
	return !m.DeliverAt.IsZero() && m.DeliverAt.After(now)
}

// Payload is the opaque structured body of a Message.
type Payload struct {
	Text         string            `json:"text,omitempty"`
	Kind         string            `json:"kind,omitempty"` // "error", "abort", or empty
	ErrorType    string            `json:"error_type,omitempty"`
	Attachments  []AttachmentRef   `json:"attachments,omitempty"`
	QuickReplies []string          `json:"quick_replies,omitempty"`
	ToolResult   *ToolResultDetail `json:"tool_result,omitempty"`
	Extra        map[string]any    `json:"extra,omitempty"`
}

// AttachmentRef is an opaque reference to an artifact attached to a message.
type AttachmentRef struct {
	Ref      string `json:"ref"`
	Type     string `json:"type"` // image, file, etc.
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// ToolResultDetail carries a structured tool-result payload when a message
// reports tool activity (used by error/abort diagnostics sent to a parent).
type ToolResultDetail struct {
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	Content    string `json:"content,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// MaxQuickReplies is the invariant cap on Payload.QuickReplies length.
const MaxQuickReplies = 10

// ValidateQuickReplies checks the §3 invariant that quickReplies, when
// present, is an ordered list of at most MaxQuickReplies non-empty strings.
func ValidateQuickReplies(qr []string) error {
	if len(qr) == 0 {
		return nil
	}
	if len(qr) > MaxQuickReplies {
		return ErrTooManyQuickReplies
	}
	for _, s := range qr {
		if s == "" {
			return ErrEmptyQuickReply
		}
	}
	return nil
}
