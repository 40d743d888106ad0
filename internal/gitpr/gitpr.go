// Package gitpr is the Git/PR Executor (C12): pushes a repository's work
// branch and opens a draft pull request once the Worker Controller's dev and
// review phases finish with it. Grounded on the teacher's
// internal/controller/draft_pr.go for the git-CLI push/branch-detection
// mechanics (exec.CommandContext, ahead-count via `git rev-list --count`),
// with PR creation itself re-pointed from `gh pr create` text parsing at
// internal/ghauth's GitHub App REST client, per spec.md §4.12's "parse
// `number` and `url` from the response" (a JSON API response, not CLI text).
package gitpr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/andywolf/agentfleet/internal/domain"
	"github.com/andywolf/agentfleet/internal/eventbus"
	"github.com/andywolf/agentfleet/internal/eventlog"
	"github.com/andywolf/agentfleet/internal/ghauth"
	"github.com/andywolf/agentfleet/internal/pathlayout"
)

// protectedBranches can never be pushed to directly; a repository whose
// current branch matches one of these (or the discovered default branch) is
// skipped (spec.md §4.12).
var protectedBranches = map[string]bool{"main": true, "master": true}

// transientFiles are deleted from the repo directory before the executor
// inspects its git state, so a leftover review_findings.json never shows up
// as an uncommitted change.
var transientFiles = []string{"review_findings.json"}

// Executor pushes branches and opens draft pull requests. tokens may be nil
// for a deployment with no GitHub App configured, in which case PR creation
// is skipped after a successful push (the branch is still pushed).
type Executor struct {
	layout     pathlayout.Layout
	bus        *eventbus.Bus
	tokens     *ghauth.TokenCache
	httpClient *http.Client
	apiBaseURL string
}

// New constructs an Executor. tokens and apiBaseURL may be zero-valued when
// no GitHub App is configured (see Executor.tokens).
func New(layout pathlayout.Layout, bus *eventbus.Bus, tokens *ghauth.TokenCache, apiBaseURL string) *Executor {
	if apiBaseURL == "" {
		apiBaseURL = "https://api.github.com"
	}
	return &Executor{
		layout:     layout,
		bus:        bus,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBaseURL: apiBaseURL,
	}
}

func newEventID() string { return uuid.New().String() }

func (e *Executor) appendEvent(itemID string, ev domain.Event) error {
	log, err := eventlog.Open(e.layout.ItemEventLog(itemID))
	if err != nil {
		return err
	}
	if err := log.Append(ev); err != nil {
		return err
	}
	e.bus.Publish(ev)
	return nil
}

// Run executes the full per-repository flow for repo, checked out at
// workDir, on behalf of item.
func (e *Executor) Run(item domain.Item, repo domain.RepositoryConfig, workDir string) error {
	for _, name := range transientFiles {
		_ = os.Remove(workDir + string(os.PathSeparator) + name)
	}

	branch, err := currentBranch(workDir)
	if err != nil {
		return fmt.Errorf("gitpr: detecting current branch: %w", err)
	}

	defaultBranch := discoverDefaultBranch(workDir, repo)
	if protectedBranches[branch] || (defaultBranch != "" && branch == defaultBranch) {
		return fmt.Errorf("gitpr: refusing to push protected branch %q for %s", branch, repo.DirectoryName)
	}

	ahead, err := commitsAheadOfBase(workDir, repo.BaseBranch, branch)
	if err != nil {
		return fmt.Errorf("gitpr: computing ahead count: %w", err)
	}
	clean, err := workingTreeClean(workDir)
	if err != nil {
		return fmt.Errorf("gitpr: checking working tree: %w", err)
	}
	if ahead == 0 && clean {
		return e.appendEvent(item.ID, domain.Event{
			ID: newEventID(), Type: domain.EventRepoNoChanges, Timestamp: time.Now(),
			ItemID: item.ID,
			Payload: map[string]interface{}{"repoName": repo.DirectoryName, "branch": branch},
		})
	}

	if err := pushBranch(workDir, branch); err != nil {
		return fmt.Errorf("gitpr: pushing branch %s: %w", branch, err)
	}

	commitHash, err := headCommit(workDir)
	if err != nil {
		return fmt.Errorf("gitpr: reading HEAD: %w", err)
	}

	owner, repoSlug, ok := ownerAndRepoFromURL(repo.URL)
	if !ok || e.tokens == nil {
		// No GitHub App configured, or a local (non-GitHub) repository:
		// the branch is pushed but no PR is opened.
		return nil
	}

	prNumber, prURL, err := e.createDraftPR(owner, repoSlug, branch, repo.BaseBranch, item)
	if err != nil {
		return fmt.Errorf("gitpr: creating pull request: %w", err)
	}

	return e.appendEvent(item.ID, domain.Event{
		ID: newEventID(), Type: domain.EventPRCreated, Timestamp: time.Now(),
		ItemID: item.ID,
		Payload: map[string]interface{}{
			"repoName":   repo.DirectoryName,
			"prUrl":      prURL,
			"prNumber":   prNumber,
			"branch":     branch,
			"commitHash": commitHash,
		},
	})
}

func currentBranch(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// discoverDefaultBranch tries `origin/HEAD` first, matching the teacher's
// preference for a local, network-free check; repo.BaseBranch (the base
// branch given in the item's repository spec) is the fallback. The host API
// is not queried.
func discoverDefaultBranch(dir string, repo domain.RepositoryConfig) string {
	cmd := exec.Command("git", "symbolic-ref", "refs/remotes/origin/HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err == nil {
		ref := strings.TrimSpace(string(out))
		if idx := strings.LastIndex(ref, "/"); idx != -1 {
			return ref[idx+1:]
		}
	}
	return repo.BaseBranch
}

func commitsAheadOfBase(dir, base, branch string) (int, error) {
	if base == "" {
		base = "main"
	}
	cmd := exec.Command("git", "rev-list", "--count", fmt.Sprintf("origin/%s..%s", base, branch))
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		// No tracking ref for base yet: treat any local commit as ahead.
		cmd = exec.Command("git", "rev-list", "--count", branch)
		cmd.Dir = dir
		out, err = cmd.Output()
		if err != nil {
			return 0, err
		}
	}
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%d", &n); err != nil {
		return 0, err
	}
	return n, nil
}

func workingTreeClean(dir string) (bool, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(string(out))) == 0, nil
}

func pushBranch(dir, branch string) error {
	cmd := exec.Command("git", "push", "-u", "origin", branch)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w (output: %s)", err, string(out))
	}
	return nil
}

func headCommit(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// ownerAndRepoFromURL extracts "owner/repo" from a GitHub HTTPS or SSH
// remote URL; ok is false for any non-GitHub remote.
func ownerAndRepoFromURL(url string) (owner, repo string, ok bool) {
	url = strings.TrimSuffix(url, ".git")
	switch {
	case strings.HasPrefix(url, "https://github.com/"):
		url = strings.TrimPrefix(url, "https://github.com/")
	case strings.HasPrefix(url, "git@github.com:"):
		url = strings.TrimPrefix(url, "git@github.com:")
	default:
		return "", "", false
	}
	parts := strings.SplitN(url, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

type pullRequestRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Draft bool   `json:"draft"`
}

type pullRequestResponse struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

// createDraftPR opens a draft PR via the REST API, authenticating with the
// cached GitHub App installation token.
func (e *Executor) createDraftPR(owner, repoSlug, branch, base string, item domain.Item) (int, string, error) {
	if base == "" {
		base = "main"
	}
	token, err := e.tokens.Token()
	if err != nil {
		return 0, "", fmt.Errorf("gitpr: fetching installation token: %w", err)
	}

	body := prBody(item)
	reqBody, err := json.Marshal(pullRequestRequest{
		Title: fmt.Sprintf("%s: draft implementation", item.Name),
		Body:  body,
		Head:  branch,
		Base:  base,
		Draft: true,
	})
	if err != nil {
		return 0, "", err
	}

	url := fmt.Sprintf("%s/repos/%s/%s/pulls", e.apiBaseURL, owner, repoSlug)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed pullRequestResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, "", fmt.Errorf("gitpr: parsing pull request response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return 0, "", fmt.Errorf("gitpr: github api returned status %d creating pull request", resp.StatusCode)
	}
	return parsed.Number, parsed.HTMLURL, nil
}

func prBody(item domain.Item) string {
	var sb strings.Builder
	if item.Description != "" {
		sb.WriteString(item.Description)
		sb.WriteString("\n\n")
	}
	if item.DesignDoc != "" {
		sb.WriteString("## Design\n\n")
		sb.WriteString(item.DesignDoc)
		sb.WriteString("\n\n")
	}
	sb.WriteString("---\n*Opened automatically by agentfleetd.*")
	return sb.String()
}
