package workerctl

import (
	"encoding/json"
	"os"
	"os/exec"
	"strings"

	"github.com/andywolf/agentfleet/internal/memory"
)

// reviewFindingsDoc mirrors review_findings.json's read-only contract
// (spec.md §6): a list of findings plus an overall pass/needs_fixes
// assessment, written by the review agent.
type reviewFindingsDoc struct {
	Findings          []memory.Finding `json:"findings"`
	OverallAssessment string           `json:"overallAssessment"`
	Summary           string           `json:"summary"`
}

// readReviewFindings reads and parses path. found is false if the file does
// not exist or fails to parse, in which case the review loop treats the
// iteration as passing (spec.md §4.10 step 3: "on absence ... break").
func readReviewFindings(path string) (findings []memory.Finding, assessment string, found bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", false
	}
	var doc reviewFindingsDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, "", false
	}
	return doc.Findings, doc.OverallAssessment, true
}

// severityCounts tallies findings by severity for the review_findings_extracted
// event payload.
func severityCounts(findings []memory.Finding) map[string]int {
	counts := map[string]int{"critical": 0, "major": 0, "minor": 0}
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}

// gitStatusSummary runs `git status --porcelain=v1 --branch` in dir and
// returns its trimmed output, the cheapest single command that captures
// both the branch/ahead-behind line and the working-tree state for a
// periodic snapshot.
func gitStatusSummary(dir string) (string, error) {
	cmd := exec.Command("git", "status", "--porcelain=v1", "--branch")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
