package prompttmpl

import (
	"strings"
	"testing"

	"github.com/andywolf/agentfleet/internal/domain"
)

func TestRenderSubstitutesKnownVariables(t *testing.T) {
	got := Render("Hello {{name}}, repo is {{repo}}", map[string]string{"name": "dev", "repo": "backend"})
	want := "Hello dev, repo is backend"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderLeavesUnknownVariables(t *testing.T) {
	got := Render("Hello {{name}}", map[string]string{})
	if got != "Hello {{name}}" {
		t.Errorf("got %q, want unchanged", got)
	}
}

func TestMergeVariablesCallerWins(t *testing.T) {
	merged := MergeVariables(map[string]string{"a": "builtin"}, map[string]string{"a": "caller"})
	if merged["a"] != "caller" {
		t.Errorf("got %q, want caller value to win", merged["a"])
	}
}

func TestSelectForRoleKnownRoles(t *testing.T) {
	if !strings.Contains(SelectForRole(domain.RolePlanner), "planning agent") {
		t.Error("expected planner skill text")
	}
	if !strings.Contains(SelectForRole(domain.RoleReview), "review agent") {
		t.Error("expected review skill text")
	}
}

func TestSelectForRoleUnknownFallsBackToDev(t *testing.T) {
	got := SelectForRole(domain.AgentRole("dev"))
	if !strings.Contains(got, "development agent") {
		t.Errorf("got %q, want dev fallback skill", got)
	}
}

func TestComposeIncludesSkillAndBody(t *testing.T) {
	out := Compose(domain.RolePlanner, "Design doc: {{doc}}", map[string]string{"doc": "build a widget"})
	if !strings.Contains(out, "planning agent") || !strings.Contains(out, "build a widget") {
		t.Errorf("got %q, missing skill or body", out)
	}
}
