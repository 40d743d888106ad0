// Package engine wires every controller (C1-C12) into one process-scoped
// root struct and runs the startup sequence (orphan recovery, then ready to
// serve the CLI). Grounded on the teacher's internal/controller/controller.go
// `Controller` struct (one struct owning every collaborator plus a *log.Logger,
// built once in a `New`), generalized from one session's worth of
// collaborators to this engine's twelve.
package engine

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andywolf/agentfleet/internal/agentmgr"
	"github.com/andywolf/agentfleet/internal/catalog"
	"github.com/andywolf/agentfleet/internal/config"
	"github.com/andywolf/agentfleet/internal/deriver"
	"github.com/andywolf/agentfleet/internal/domain"
	"github.com/andywolf/agentfleet/internal/eventbus"
	"github.com/andywolf/agentfleet/internal/eventlog"
	"github.com/andywolf/agentfleet/internal/ghauth"
	"github.com/andywolf/agentfleet/internal/gitpr"
	"github.com/andywolf/agentfleet/internal/itemmgr"
	"github.com/andywolf/agentfleet/internal/pathlayout"
	"github.com/andywolf/agentfleet/internal/planwatch"
	"github.com/andywolf/agentfleet/internal/reviewreceive"
	"github.com/andywolf/agentfleet/internal/workerctl"
)

// Engine owns every collaborator for one running process and is the single
// entry point the CLI layer calls into.
type Engine struct {
	Config  config.Config
	Layout  pathlayout.Layout
	Bus     *eventbus.Bus
	Agents  *agentmgr.Manager
	Items   *itemmgr.Manager
	Watch   *planwatch.Watcher
	Workers *workerctl.Controller
	Reviews *reviewreceive.Controller
	GitPR   *gitpr.Executor
	Catalog *catalog.Catalog

	logger *log.Logger
}

// New builds an Engine from cfg. It does not yet start anything in the
// background; call Start to run the crash-recovery pass before serving any
// request.
func New(cfg config.Config) (*Engine, error) {
	logger := log.New(os.Stderr, "[agentfleetd] ", log.LstdFlags)

	layout := pathlayout.New(cfg.DataRoot)
	bus := eventbus.New()
	agents := agentmgr.New(layout, bus, cfg.AssistantBin)
	items := itemmgr.New(layout, bus, agents)
	watch := planwatch.New(layout, bus, agents)

	var tokens *ghauth.TokenCache
	if cfg.GitHub.AppID != "" {
		keyPEM, err := os.ReadFile(cfg.GitHub.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("engine: reading github app private key: %w", err)
		}
		tokens, err = ghauth.NewTokenCache(cfg.GitHub.AppID, cfg.GitHub.InstallationID, keyPEM,
			ghauth.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}))
		if err != nil {
			return nil, fmt.Errorf("engine: initializing github app auth: %w", err)
		}
	}
	gitprEx := gitpr.New(layout, bus, tokens, cfg.GitHub.APIBaseURL)

	workers := workerctl.New(layout, bus, agents, gitprEx)
	reviews := reviewreceive.New(layout, bus, agents, items)

	cat, err := catalog.Open(layout.RepositoriesCatalog())
	if err != nil {
		return nil, fmt.Errorf("engine: opening repositories catalog: %w", err)
	}

	return &Engine{
		Config:  cfg,
		Layout:  layout,
		Bus:     bus,
		Agents:  agents,
		Items:   items,
		Watch:   watch,
		Workers: workers,
		Reviews: reviews,
		GitPR:   gitprEx,
		Catalog: cat,
		logger:  logger,
	}, nil
}

func (e *Engine) logInfo(format string, args ...interface{})    { e.logger.Printf(format, args...) }
func (e *Engine) logWarning(format string, args ...interface{}) { e.logger.Printf("Warning: "+format, args...) }
func (e *Engine) logError(format string, args ...interface{})   { e.logger.Printf("Error: "+format, args...) }

// Start runs the process-startup sequence: orphan recovery must happen
// before anything else subscribes to the event bus or resumes
// orchestration (spec.md §4.6), then every item already waiting on a plan
// (planning or review_receiving) gets its Plan Watcher re-armed, since a
// watcher goroutine does not survive a process restart.
func (e *Engine) Start() error {
	e.logInfo("recovering orphaned agents")
	if err := e.Agents.RecoverOrphans(); err != nil {
		return fmt.Errorf("engine: recovering orphaned agents: %w", err)
	}

	items, err := e.Items.ListItems()
	if err != nil {
		return fmt.Errorf("engine: listing items: %w", err)
	}
	for _, item := range items {
		e.rearmIfAwaitingPlan(item)
	}

	go e.dispatchPlanCreated()
	return nil
}

// dispatchPlanCreated is the glue between the Plan Watcher and the Worker
// Controller: every plan_created event (one per planning cycle, including a
// review-receive reopening) loads the item and its freshly written plan and
// hands both to the Worker Controller. This is the one place the two
// controllers are coupled, so neither needs to import the other.
func (e *Engine) dispatchPlanCreated() {
	sub := e.Bus.SubscribeAll()
	defer sub.Close()
	for ev := range sub.C {
		if ev.Type != domain.EventPlanCreated {
			continue
		}
		item, err := e.Items.LoadItem(ev.ItemID)
		if err != nil {
			e.logWarning("dispatching plan_created for %s: loading item: %v", ev.ItemID, err)
			continue
		}
		plan, err := loadPlan(e.Layout.PlanArtifact(ev.ItemID))
		if err != nil {
			e.logWarning("dispatching plan_created for %s: loading plan: %v", ev.ItemID, err)
			continue
		}
		e.RunPlan(context.Background(), item, plan)
	}
}

func (e *Engine) rearmIfAwaitingPlan(item domain.Item) {
	status, _, _, err := e.Items.DerivedStatus(item.ID)
	if err != nil {
		e.logWarning("checking derived status of %s: %v", item.ID, err)
		return
	}
	switch status {
	case domain.ItemPlanning:
		go e.Watch.Watch(item.ID, domain.RolePlanner, "")
	case domain.ItemReviewReceiving:
		go e.Watch.Watch(item.ID, domain.RoleReviewReceive, "")
	}
}

// RunPlan launches the Worker Controller for item/plan in the background
// once the Plan Watcher's caller has confirmed plan_created fired.
func (e *Engine) RunPlan(ctx context.Context, item domain.Item, plan domain.Plan) {
	go func() {
		if err := e.Workers.Run(ctx, item, plan); err != nil {
			e.logError("worker controller for item %s: %v", item.ID, err)
		}
	}()
}

// DerivedStatus is a thin passthrough kept on Engine so the CLI layer only
// ever talks to one object.
func (e *Engine) DerivedStatus(itemID string) (domain.ItemStatus, map[string]domain.AgentStatus, []deriver.PendingApproval, error) {
	return e.Items.DerivedStatus(itemID)
}

// ReadEvents returns itemID's full event log.
func (e *Engine) ReadEvents(itemID string) ([]domain.Event, error) {
	return eventlog.Read(e.Layout.ItemEventLog(itemID))
}

// SetupWorkspace stages itemID's repositories and arms the Plan Watcher for
// the planner that staging auto-starts (spec.md §4.8/§4.9).
func (e *Engine) SetupWorkspace(itemID string) error {
	if err := e.Items.SetupWorkspace(itemID); err != nil {
		return err
	}
	go e.Watch.Watch(itemID, domain.RolePlanner, "")
	return nil
}

// RetrySetup re-stages itemID and re-arms the Plan Watcher, same as
// SetupWorkspace.
func (e *Engine) RetrySetup(itemID string) error {
	if err := e.Items.RetrySetup(itemID); err != nil {
		return err
	}
	go e.Watch.Watch(itemID, domain.RolePlanner, "")
	return nil
}

// StartReviewReceive re-opens a completed item's cycle for repoName (see
// internal/reviewreceive); the Plan Watcher it arms internally is bound to
// the pre-allocated review-receiver agent id, not started separately here.
func (e *Engine) StartReviewReceive(itemID, repoName string) (domain.Agent, error) {
	return e.Reviews.Start(itemID, repoName)
}

func loadPlan(path string) (domain.Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Plan{}, err
	}
	var plan domain.Plan
	if err := yaml.Unmarshal(raw, &plan); err != nil {
		return domain.Plan{}, err
	}
	return plan, nil
}
