// Package promptbuilder assembles the system prompt LlmHandler sends on
// every turn: base prompt + role prompt + task brief +
// contact list + tool-group summary. Role prompts and task briefs are
// authored in Markdown; this package renders them to plain text with
// goldmark before they're embedded, since the model receives prose, not
// Markdown source.
package promptbuilder

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Contact is the subset of a contacts.Contact the prompt needs to render,
// kept separate from the contacts package to avoid a needless import.
type Contact struct {
	AgentID string
	Label   string
}

// Builder renders Markdown source to plain text and assembles system
// prompts from it.
type Builder struct {
	md goldmark.Markdown
}

// New creates a Builder with goldmark's default parser.
func New() *Builder {
	return &Builder{md: goldmark.New()}
}

// RenderPlain converts Markdown source into plain prose: headings and
// paragraphs become lines, list items become "- " bullets, emphasis and
// link markup is dropped in favor of the underlying text. Unparseable or
// empty input is returned as-is.
func (b *Builder) RenderPlain(source string) string {
	if strings.TrimSpace(source) == "" {
		return ""
	}
	src := []byte(source)
	doc := b.md.Parser().Parse(text.NewReader(src))

	var out strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.Kind() {
			case ast.KindParagraph, ast.KindHeading, ast.KindListItem:
				out.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindText:
			t := n.(*ast.Text)
			out.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				out.WriteString("\n")
			}
		case ast.KindListItem:
			out.WriteString("- ")
		case ast.KindCodeSpan:
			// children are text nodes; let default traversal emit them.
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return source
	}
	return strings.TrimSpace(out.String())
}

// ToolGroupSummary renders the fixed list of tool-group identifiers a
// role's agents may use into the one-line summary appended to the system
// prompt.
func ToolGroupSummary(groups []string) string {
	if len(groups) == 0 {
		return "You may use any tool group."
	}
	return "You may use the following tool groups: " + strings.Join(groups, ", ") + "."
}

// ContactListSummary renders an agent's known contacts into the prompt
// section the LLM uses to address send_message calls (advisory only, per
// internal/contacts).
func ContactListSummary(contacts []Contact) string {
	if len(contacts) == 0 {
		return "You have no known contacts yet."
	}
	var b strings.Builder
	b.WriteString("Known contacts:\n")
	for _, c := range contacts {
		b.WriteString("- ")
		b.WriteString(c.AgentID)
		if c.Label != "" {
			b.WriteString(" (")
			b.WriteString(c.Label)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// BuildSystemPrompt assembles the full system prompt from its five parts,
// rendering rolePrompt and taskBrief from Markdown to plain text.
func (b *Builder) BuildSystemPrompt(basePrompt, rolePrompt, taskBrief string, contacts []Contact, toolGroups []string) string {
	var sections []string
	if basePrompt != "" {
		sections = append(sections, basePrompt)
	}
	if rendered := b.RenderPlain(rolePrompt); rendered != "" {
		sections = append(sections, rendered)
	}
	if rendered := b.RenderPlain(taskBrief); rendered != "" {
		sections = append(sections, "Task brief:\n"+rendered)
	}
	sections = append(sections, ContactListSummary(contacts))
	sections = append(sections, ToolGroupSummary(toolGroups))
	return strings.Join(sections, "\n\n")
}
