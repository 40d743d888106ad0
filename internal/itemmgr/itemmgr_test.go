package itemmgr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/andywolf/agentfleet/internal/agentmgr"
	"github.com/andywolf/agentfleet/internal/domain"
	"github.com/andywolf/agentfleet/internal/eventbus"
	"github.com/andywolf/agentfleet/internal/pathlayout"
)

func newTestManager(t *testing.T) (*Manager, pathlayout.Layout) {
	t.Helper()
	layout := pathlayout.New(t.TempDir())
	bus := eventbus.New()
	// A path that can never resolve to a real binary: autoStartPlanner's
	// agent spawn fails fast and its error is ignored by SetupWorkspace.
	agents := agentmgr.New(layout, bus, filepath.Join(t.TempDir(), "no-such-assistant-binary"))
	return New(layout, bus, agents), layout
}

func localRepo(t *testing.T, dirName string) domain.RepositoryConfig {
	t.Helper()
	src := filepath.Join(t.TempDir(), dirName+"-src")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "README.md"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	return domain.RepositoryConfig{
		DirectoryName: dirName,
		Role:          "backend",
		Type:          domain.RepoLocal,
		LocalPath:     src,
		LinkMode:      domain.LinkCopy,
	}
}

func TestCreateItemRequiresAtLeastOneRepository(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.CreateItem(CreateOptions{Name: "empty"}); err == nil {
		t.Fatal("expected an error creating an item with no repositories")
	}
}

func TestCreateItemPersistsAndEmitsEvent(t *testing.T) {
	m, _ := newTestManager(t)
	repo := localRepo(t, "api")

	item, err := m.CreateItem(CreateOptions{Name: "Widgets", Repositories: []domain.RepositoryConfig{repo}})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if item.ID == "" {
		t.Fatal("CreateItem did not allocate an id")
	}

	reloaded, err := m.LoadItem(item.ID)
	if err != nil {
		t.Fatalf("LoadItem: %v", err)
	}
	if reloaded.Name != "Widgets" {
		t.Errorf("reloaded.Name = %q, want Widgets", reloaded.Name)
	}

	status, _, _, err := m.DerivedStatus(item.ID)
	if err != nil {
		t.Fatalf("DerivedStatus: %v", err)
	}
	if status != domain.ItemCreated {
		t.Errorf("DerivedStatus = %q, want %q", status, domain.ItemCreated)
	}
}

func TestListItemsReturnsCreatedItems(t *testing.T) {
	m, _ := newTestManager(t)
	repo := localRepo(t, "api")
	if _, err := m.CreateItem(CreateOptions{Name: "One", Repositories: []domain.RepositoryConfig{repo}}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreateItem(CreateOptions{Name: "Two", Repositories: []domain.RepositoryConfig{localRepo(t, "web")}}); err != nil {
		t.Fatal(err)
	}

	items, err := m.ListItems()
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("ListItems() returned %d items, want 2", len(items))
	}
}

func TestUpdateItemAppliesOnlySetFields(t *testing.T) {
	m, _ := newTestManager(t)
	item, err := m.CreateItem(CreateOptions{
		Name:        "Original",
		Description: "original description",
		Repositories: []domain.RepositoryConfig{localRepo(t, "api")},
	})
	if err != nil {
		t.Fatal(err)
	}

	newName := "Renamed"
	updated, err := m.UpdateItem(item.ID, UpdateOptions{Name: &newName})
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if updated.Name != "Renamed" {
		t.Errorf("Name = %q, want Renamed", updated.Name)
	}
	if updated.Description != "original description" {
		t.Errorf("Description changed unexpectedly: %q", updated.Description)
	}
}

func TestDeleteItemRemovesItemDirectory(t *testing.T) {
	m, layout := newTestManager(t)
	item, err := m.CreateItem(CreateOptions{Name: "Throwaway", Repositories: []domain.RepositoryConfig{localRepo(t, "api")}})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteItem(item.ID); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if _, err := os.Stat(layout.ItemDir(item.ID)); !os.IsNotExist(err) {
		t.Fatalf("item directory still exists after delete: err=%v", err)
	}
}

func TestSetupWorkspaceStagesLocalRepository(t *testing.T) {
	m, layout := newTestManager(t)
	repo := localRepo(t, "api")
	item, err := m.CreateItem(CreateOptions{
		Name:         "Widgets",
		DesignDoc:    "Ship widgets.",
		Repositories: []domain.RepositoryConfig{repo},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.SetupWorkspace(item.ID); err != nil {
		t.Fatalf("SetupWorkspace: %v", err)
	}

	staged := layout.RepoWorkspace(item.ID, "api")
	data, err := os.ReadFile(filepath.Join(staged, "README.md"))
	if err != nil {
		t.Fatalf("reading staged file: %v", err)
	}
	if string(data) != "hi" {
		t.Errorf("staged content = %q, want %q", data, "hi")
	}
}
