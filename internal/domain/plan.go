package domain

import "fmt"

// ValidatePlan checks p against the structural rules spec.md §6 requires: a
// version and matching item id, unique task ids, a title and role on every
// task, roles drawn from the item's role set plus the reserved "review"
// role, repositories drawn from the item's repository set, and dependency
// targets that stay inside the same plan.
func ValidatePlan(p Plan, item Item) error {
	if p.Version == "" {
		return fmt.Errorf("domain: plan is missing version")
	}
	if p.ItemID != item.ID {
		return fmt.Errorf("domain: plan itemId %q does not match item %q", p.ItemID, item.ID)
	}

	roles := item.RoleSet()
	roles[string(RoleReview)] = true
	repoNames := item.RepoNames()

	seen := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("domain: task missing id")
		}
		if seen[t.ID] {
			return fmt.Errorf("domain: duplicate task id %q", t.ID)
		}
		seen[t.ID] = true

		if t.Title == "" {
			return fmt.Errorf("domain: task %q missing title", t.ID)
		}
		if t.Agent == "" {
			return fmt.Errorf("domain: task %q missing agent", t.ID)
		}
		if !roles[t.Agent] {
			return fmt.Errorf("domain: task %q has unknown agent role %q", t.ID, t.Agent)
		}
		if !repoNames[t.Repository] {
			return fmt.Errorf("domain: task %q targets unknown repository %q", t.ID, t.Repository)
		}
	}
	for _, t := range p.Tasks {
		for _, dep := range t.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("domain: task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}
	return nil
}

// DevTasksByRepository groups p's dev-role tasks (role neither a system role
// nor review) by
// target repository, used by the Worker Controller's phase 1 fan-out.
func (p Plan) DevTasksByRepository() map[string][]Task {
	out := make(map[string][]Task)
	for _, t := range p.Tasks {
		if IsSystemRole(AgentRole(t.Agent)) || t.Agent == string(RoleReview) {
			continue
		}
		out[t.Repository] = append(out[t.Repository], t)
	}
	return out
}

// ReviewTasksByRepository groups p's review-role tasks by target repository,
// used by the Worker Controller's phase 2 bounded review loop.
func (p Plan) ReviewTasksByRepository() map[string][]Task {
	out := make(map[string][]Task)
	for _, t := range p.Tasks {
		if t.Agent == string(RoleReview) {
			out[t.Repository] = append(out[t.Repository], t)
		}
	}
	return out
}
