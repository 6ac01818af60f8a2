package promptbuilder

import (
	"strings"
	"testing"
)

func TestRenderPlainStripsMarkdownMarkup(t *testing.T) {
	b := New()
	out := b.RenderPlain("# Billing Clerk\n\nYou handle **billing** disputes.")
	if strings.Contains(out, "#") || strings.Contains(out, "**") {
		t.Fatalf("expected markup stripped, got %q", out)
	}
	if !strings.Contains(out, "Billing Clerk") || !strings.Contains(out, "billing") {
		t.Fatalf("expected text content preserved, got %q", out)
	}
}

func TestRenderPlainEmptyInput(t *testing.T) {
	b := New()
	if got := b.RenderPlain("   "); got != "" {
		t.Fatalf("expected empty output for blank input, got %q", got)
	}
}

func TestToolGroupSummaryUnrestricted(t *testing.T) {
	if got := ToolGroupSummary(nil); !strings.Contains(got, "any tool group") {
		t.Fatalf("expected unrestricted summary, got %q", got)
	}
}

func TestToolGroupSummaryRestricted(t *testing.T) {
	got := ToolGroupSummary([]string{"workspace", "artifact"})
	if !strings.Contains(got, "workspace") || !strings.Contains(got, "artifact") {
		t.Fatalf("expected both groups listed, got %q", got)
	}
}

func TestContactListSummaryEmpty(t *testing.T) {
	if got := ContactListSummary(nil); !strings.Contains(got, "no known contacts") {
		t.Fatalf("expected no-contacts message, got %q", got)
	}
}

func TestContactListSummaryWithLabel(t *testing.T) {
	got := ContactListSummary([]Contact{{AgentID: "abc", Label: "billing clerk"}})
	if !strings.Contains(got, "abc") || !strings.Contains(got, "billing clerk") {
		t.Fatalf("expected id and label in summary, got %q", got)
	}
}

func TestBuildSystemPromptAssemblesAllSections(t *testing.T) {
	b := New()
	out := b.BuildSystemPrompt(
		"You are Nexus.",
		"## Role\nHandle refunds.",
		"Investigate ticket #42.",
		[]Contact{{AgentID: "root"}},
		[]string{"workspace"},
	)
	for _, want := range []string{"You are Nexus.", "Handle refunds.", "ticket #42", "root", "workspace"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected prompt to contain %q, got %q", want, out)
		}
	}
}
