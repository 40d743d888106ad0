package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// rand6 produces a 6-hex-character suffix the same way the teacher shortens
// a uuid for branch-name suffixes (agentium/issue-N-<slug>): take a fresh
// random uuid and keep its first 6 hex digits.
func rand6() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
}

// GenerateAgentID builds an id of the form `agent-{role}--{repoName}--{rand6}`
// when repoName is non-empty, or `agent-{role}--{rand6}` otherwise (spec.md
// §3). System roles (planner, review-receiver) never carry a repo name;
// callers are expected to have validated that already.
func GenerateAgentID(role AgentRole, repoName string) string {
	if repoName == "" {
		return fmt.Sprintf("agent-%s--%s", role, rand6())
	}
	return fmt.Sprintf("agent-%s--%s--%s", role, repoName, rand6())
}

// legacyAgentIDPattern recognizes single-hyphen identifiers from an earlier
// naming scheme (`agent-role-repo-rand6` or `agent-role-rand6`), which the
// parser must still be able to recover a role from.
var legacyAgentIDPattern = regexp.MustCompile(`^agent-([a-zA-Z0-9]+)(?:-([a-zA-Z0-9._-]+))?-([a-f0-9]{6})$`)

// ParseAgentID recovers the role (and repository name, if any) encoded in
// an agent id, supporting both the current double-hyphen scheme and the
// legacy single-hyphen one. ok is false if id does not match either scheme.
func ParseAgentID(id string) (role AgentRole, repoName string, ok bool) {
	if !strings.HasPrefix(id, "agent-") {
		return "", "", false
	}
	rest := strings.TrimPrefix(id, "agent-")

	if parts := strings.Split(rest, "--"); len(parts) >= 2 {
		switch len(parts) {
		case 2:
			// agent-{role}--{rand6}
			return AgentRole(parts[0]), "", true
		default:
			// agent-{role}--{repoName}--{rand6}; repoName itself must not
			// contain "--", so anything between the first and last segment
			// belongs to the repo name.
			role = AgentRole(parts[0])
			repo := strings.Join(parts[1:len(parts)-1], "--")
			return role, repo, true
		}
	}

	if m := legacyAgentIDPattern.FindStringSubmatch(id); m != nil {
		return AgentRole(m[1]), m[2], true
	}

	return "", "", false
}
