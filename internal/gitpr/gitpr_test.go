package gitpr

import (
	"strings"
	"testing"

	"github.com/andywolf/agentfleet/internal/domain"
)

func TestOwnerAndRepoFromURLHTTPS(t *testing.T) {
	owner, repo, ok := ownerAndRepoFromURL("https://github.com/acme/widgets.git")
	if !ok {
		t.Fatal("expected ok=true for a github.com https URL")
	}
	if owner != "acme" || repo != "widgets" {
		t.Errorf("got (%q, %q), want (acme, widgets)", owner, repo)
	}
}

func TestOwnerAndRepoFromURLSSH(t *testing.T) {
	owner, repo, ok := ownerAndRepoFromURL("git@github.com:acme/widgets.git")
	if !ok {
		t.Fatal("expected ok=true for a github.com ssh URL")
	}
	if owner != "acme" || repo != "widgets" {
		t.Errorf("got (%q, %q), want (acme, widgets)", owner, repo)
	}
}

func TestOwnerAndRepoFromURLWithoutGitSuffix(t *testing.T) {
	owner, repo, ok := ownerAndRepoFromURL("https://github.com/acme/widgets")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if owner != "acme" || repo != "widgets" {
		t.Errorf("got (%q, %q), want (acme, widgets)", owner, repo)
	}
}

func TestOwnerAndRepoFromURLNonGitHubRejected(t *testing.T) {
	_, _, ok := ownerAndRepoFromURL("https://gitlab.com/acme/widgets.git")
	if ok {
		t.Fatal("expected ok=false for a non-github.com remote")
	}
}

func TestOwnerAndRepoFromURLMalformedPathRejected(t *testing.T) {
	_, _, ok := ownerAndRepoFromURL("https://github.com/acme")
	if ok {
		t.Fatal("expected ok=false when the path has no repo segment")
	}
}

func TestPRBodyIncludesDescriptionAndDesignDoc(t *testing.T) {
	item := domain.Item{
		Name:        "Add widgets",
		Description: "Adds the widgets feature.",
		DesignDoc:   "## Goals\n\nShip widgets.",
	}
	body := prBody(item)
	if !strings.Contains(body, "Adds the widgets feature.") {
		t.Error("body missing description")
	}
	if !strings.Contains(body, "Ship widgets.") {
		t.Error("body missing design doc content")
	}
	if !strings.Contains(body, "agentfleetd") {
		t.Error("body missing the automated-open footer")
	}
}

func TestPRBodyOmitsEmptySections(t *testing.T) {
	body := prBody(domain.Item{Name: "Add widgets"})
	if strings.Contains(body, "## Design") {
		t.Error("body should not include a design section when DesignDoc is empty")
	}
}
