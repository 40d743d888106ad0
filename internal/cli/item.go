package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/andywolf/agentfleet/internal/domain"
	"github.com/andywolf/agentfleet/internal/itemmgr"
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Manage items (multi-repository work units)",
}

func init() {
	rootCmd.AddCommand(itemCmd)
}

// --- item create ---

var (
	createName        string
	createDescription string
	createDesignDoc   string
	createRepos       []string
	createInteractive bool
)

var itemCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new item",
	Long: `Create a new item from a name, description, design document, and a list of
repositories.

Each --repo flag takes the form directoryName=role=url[@baseBranch], e.g.
  --repo backend=back=git@github.com:org/backend.git@main
A local repository is given as directoryName=role=local:/abs/path[:symlink|:copy].

With neither --name nor --repo (or with --interactive), a short form walks
through the same fields one at a time.

Example:
  agentfleetd item create --name "add rate limiting" \
    --repo backend=back=git@github.com:org/backend.git \
    --repo frontend=front=git@github.com:org/frontend.git`,
	RunE: runItemCreate,
}

func init() {
	itemCmd.AddCommand(itemCreateCmd)
	itemCreateCmd.Flags().StringVar(&createName, "name", "", "item name")
	itemCreateCmd.Flags().StringVar(&createDescription, "description", "", "item description")
	itemCreateCmd.Flags().StringVar(&createDesignDoc, "design-doc", "", "free-form design document text")
	itemCreateCmd.Flags().StringArrayVar(&createRepos, "repo", nil, "repository spec (directoryName=role=url[@baseBranch] or directoryName=role=local:/path[:symlink|:copy])")
	itemCreateCmd.Flags().BoolVar(&createInteractive, "interactive", false, "force the interactive wizard even if flags are set")
}

func runItemCreate(cmd *cobra.Command, args []string) error {
	if createInteractive || (createName == "" && len(createRepos) == 0) {
		if err := runCreateWizard(); err != nil {
			return err
		}
	}
	if createName == "" {
		return fmt.Errorf("item create: --name is required")
	}
	if len(createRepos) == 0 {
		return fmt.Errorf("item create: at least one --repo is required")
	}

	repos := make([]domain.RepositoryConfig, 0, len(createRepos))
	for _, spec := range createRepos {
		repo, err := parseRepoSpec(spec)
		if err != nil {
			return err
		}
		repos = append(repos, repo)
	}

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	item, err := eng.Items.CreateItem(itemmgr.CreateOptions{
		Name:         createName,
		Description:  createDescription,
		DesignDoc:    createDesignDoc,
		Repositories: repos,
	})
	if err != nil {
		return err
	}
	for _, r := range repos {
		eng.Catalog.Record(r.DirectoryName, r.URL, r.LocalPath, item.ID)
	}
	_ = eng.Catalog.Save()

	fmt.Printf("Created %s (%s)\n", item.ID, item.Name)
	fmt.Println("Run `agentfleetd item setup " + item.ID + "` to stage repositories and start the planner.")
	return nil
}

// runCreateWizard gathers the item's name/description/design doc via a huh
// form and appends one repository at a time until the user declines to add
// another, mirroring the teacher's wizard.ConfirmProjectInfo /
// PromptGreenfield flow (there: bufio prompts over a scanner.ProjectInfo;
// here: a huh.Form over the same "confirm then edit" shape) but built on
// huh instead of a hand-rolled bufio reader.
func runCreateWizard() error {
	group := huh.NewGroup(
		huh.NewInput().Title("Item name").Value(&createName),
		huh.NewText().Title("Description").Value(&createDescription),
		huh.NewText().Title("Design document").Value(&createDesignDoc),
	)
	if err := huh.NewForm(group).Run(); err != nil {
		return fmt.Errorf("item create wizard: %w", err)
	}

	for {
		var dirName, role, repoType, url, localPath string
		repoGroup := huh.NewGroup(
			huh.NewInput().Title("Repository directory name").Value(&dirName),
			huh.NewInput().Title("Role (e.g. front, back, docs)").Value(&role),
			huh.NewSelect[string]().Title("Repository type").
				Options(huh.NewOption("remote", "remote"), huh.NewOption("local", "local")).
				Value(&repoType),
		)
		if err := huh.NewForm(repoGroup).Run(); err != nil {
			return fmt.Errorf("item create wizard: %w", err)
		}

		if repoType == string(domain.RepoLocal) {
			if err := huh.NewForm(huh.NewGroup(
				huh.NewInput().Title("Absolute local path").Value(&localPath),
			)).Run(); err != nil {
				return fmt.Errorf("item create wizard: %w", err)
			}
			createRepos = append(createRepos, fmt.Sprintf("%s=%s=local:%s", dirName, role, localPath))
		} else {
			if err := huh.NewForm(huh.NewGroup(
				huh.NewInput().Title("Remote URL (git@... or https://...)").Value(&url),
			)).Run(); err != nil {
				return fmt.Errorf("item create wizard: %w", err)
			}
			createRepos = append(createRepos, fmt.Sprintf("%s=%s=%s", dirName, role, url))
		}

		another := false
		if err := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().Title("Add another repository?").Value(&another),
		)).Run(); err != nil {
			return fmt.Errorf("item create wizard: %w", err)
		}
		if !another {
			break
		}
	}
	return nil
}

// parseRepoSpec parses one --repo flag value into a RepositoryConfig.
func parseRepoSpec(spec string) (domain.RepositoryConfig, error) {
	parts := strings.SplitN(spec, "=", 3)
	if len(parts) != 3 {
		return domain.RepositoryConfig{}, fmt.Errorf("item create: invalid --repo %q, want directoryName=role=url-or-local-spec", spec)
	}
	dirName, role, rest := parts[0], parts[1], parts[2]
	if dirName == "" || role == "" || rest == "" {
		return domain.RepositoryConfig{}, fmt.Errorf("item create: invalid --repo %q, all three fields are required", spec)
	}

	if strings.HasPrefix(rest, "local:") {
		fields := strings.Split(strings.TrimPrefix(rest, "local:"), ":")
		repo := domain.RepositoryConfig{
			DirectoryName: dirName,
			Role:          role,
			Type:          domain.RepoLocal,
			LocalPath:     fields[0],
			LinkMode:      domain.LinkSymlink,
		}
		if len(fields) > 1 {
			repo.LinkMode = domain.LinkMode(fields[1])
		}
		return repo, nil
	}

	url, baseBranch := rest, ""
	if i := strings.LastIndex(rest, "@"); i > 0 && !strings.Contains(rest[i:], "/") {
		url, baseBranch = rest[:i], rest[i+1:]
	}
	return domain.RepositoryConfig{
		DirectoryName: dirName,
		Role:          role,
		Type:          domain.RepoRemote,
		URL:           url,
		BaseBranch:    baseBranch,
	}, nil
}

// --- item list / get / update / delete ---

var itemListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all items",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		items, err := eng.Items.ListItems()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No items found.")
			return nil
		}
		fmt.Printf("%-20s %-14s %-30s %s\n", "ID", "STATUS", "NAME", "REPOS")
		for _, it := range items {
			status, _, _, err := eng.DerivedStatus(it.ID)
			if err != nil {
				status = domain.ItemError
			}
			names := make([]string, 0, len(it.Repositories))
			for _, r := range it.Repositories {
				names = append(names, r.DirectoryName)
			}
			fmt.Printf("%-20s %-14s %-30s %s\n", it.ID, status, it.Name, strings.Join(names, ","))
		}
		return nil
	},
}

var itemGetCmd = &cobra.Command{
	Use:   "get [item-id]",
	Short: "Show one item's configuration and derived status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		item, err := eng.Items.LoadItem(args[0])
		if err != nil {
			return err
		}
		status, agentStatus, pending, err := eng.DerivedStatus(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ID:          %s\n", item.ID)
		fmt.Printf("Name:        %s\n", item.Name)
		fmt.Printf("Description: %s\n", item.Description)
		fmt.Printf("Status:      %s\n", status)
		fmt.Println("Repositories:")
		for _, r := range item.Repositories {
			fmt.Printf("  - %s (%s, role=%s)\n", r.DirectoryName, r.Type, r.Role)
		}
		if len(agentStatus) > 0 {
			fmt.Println("Agents:")
			for id, s := range agentStatus {
				fmt.Printf("  - %s: %s\n", id, s)
			}
		}
		if len(pending) > 0 {
			fmt.Println("Pending approvals:")
			for _, p := range pending {
				fmt.Printf("  - %s (agent %s): %s\n", p.RequestID, p.AgentID, p.Command)
			}
		}
		return nil
	},
}

var itemUpdateCmd = &cobra.Command{
	Use:   "update [item-id]",
	Short: "Update an item's mutable fields (name, description, design doc)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := itemmgr.UpdateOptions{}
		if cmd.Flags().Changed("name") {
			opts.Name = &createName
		}
		if cmd.Flags().Changed("description") {
			opts.Description = &createDescription
		}
		if cmd.Flags().Changed("design-doc") {
			opts.DesignDoc = &createDesignDoc
		}
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		item, err := eng.Items.UpdateItem(args[0], opts)
		if err != nil {
			return err
		}
		fmt.Printf("Updated %s\n", item.ID)
		return nil
	},
}

var itemDeleteCmd = &cobra.Command{
	Use:   "delete [item-id]",
	Short: "Stop every agent and remove an item's directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			fmt.Printf("This stops every agent of %s and deletes its workspace and event log.\n", args[0])
			fmt.Print("Are you sure? [y/N]: ")
			var confirm string
			fmt.Scanln(&confirm)
			if confirm != "y" && confirm != "Y" {
				fmt.Println("Cancelled.")
				return nil
			}
		}
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		if err := eng.Items.DeleteItem(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var itemSetupCmd = &cobra.Command{
	Use:   "setup [item-id]",
	Short: "Stage every repository and auto-start the planner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		if err := eng.SetupWorkspace(args[0]); err != nil {
			return err
		}
		fmt.Printf("Workspace staged for %s; planner starting.\n", args[0])
		return runAndWait(eng, args[0])
	},
}

var itemRetrySetupCmd = &cobra.Command{
	Use:   "retry-setup [item-id]",
	Short: "Re-stage every repository after a prior failure",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		if err := eng.RetrySetup(args[0]); err != nil {
			return err
		}
		fmt.Printf("Retrying setup for %s.\n", args[0])
		return runAndWait(eng, args[0])
	},
}

var itemCreatePRsCmd = &cobra.Command{
	Use:   "create-prs [item-id]",
	Short: "Finalize: push and open a draft PR for every repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		item, err := eng.Items.LoadItem(args[0])
		if err != nil {
			return err
		}
		for _, repo := range item.Repositories {
			workDir := eng.Layout.RepoWorkspace(item.ID, repo.DirectoryName)
			if err := eng.GitPR.Run(item, repo, workDir); err != nil {
				fmt.Printf("  %s: %v\n", repo.DirectoryName, err)
				continue
			}
			fmt.Printf("  %s: done\n", repo.DirectoryName)
		}
		return nil
	},
}

var startReviewReceiveRepo string

var itemStartReviewReceiveCmd = &cobra.Command{
	Use:   "start-review-receive [item-id]",
	Short: "Re-open a completed item's cycle from PR review comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		agent, err := eng.StartReviewReceive(args[0], startReviewReceiveRepo)
		if err != nil {
			return err
		}
		fmt.Printf("Started review-receiver %s\n", agent.ID)
		return runAndWait(eng, args[0])
	},
}

func init() {
	itemCmd.AddCommand(itemListCmd, itemGetCmd, itemUpdateCmd, itemDeleteCmd,
		itemSetupCmd, itemRetrySetupCmd, itemCreatePRsCmd, itemStartReviewReceiveCmd)

	itemUpdateCmd.Flags().StringVar(&createName, "name", "", "new name")
	itemUpdateCmd.Flags().StringVar(&createDescription, "description", "", "new description")
	itemUpdateCmd.Flags().StringVar(&createDesignDoc, "design-doc", "", "new design document")

	itemDeleteCmd.Flags().BoolP("force", "f", false, "skip confirmation prompt")

	itemStartReviewReceiveCmd.Flags().StringVar(&startReviewReceiveRepo, "repo", "", "target repository (defaults to the most recent pr_created)")
}
