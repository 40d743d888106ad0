package workspacesetup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/andywolf/agentfleet/internal/domain"
)

func TestStageSymlinkPointsAtSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "file.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(dir, "workspace", "repo")
	if err := Stage(src, target, domain.LinkSymlink); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	fi, err := os.Lstat(target)
	if err != nil {
		t.Fatalf("lstat target: %v", err)
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		t.Fatalf("target is not a symlink")
	}
	resolved, err := os.Readlink(target)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != src {
		t.Errorf("symlink points to %q, want %q", resolved, src)
	}
}

func TestStageCopyDuplicatesTree(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "a.txt"), []byte("contents"), 0o644); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(dir, "workspace", "repo")
	if err := Stage(src, target, domain.LinkCopy); err != nil {
		t.Fatalf("Stage: %v", err)
	}

	fi, err := os.Lstat(target)
	if err != nil {
		t.Fatalf("lstat target: %v", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		t.Fatalf("copy mode produced a symlink")
	}
	data, err := os.ReadFile(filepath.Join(target, "sub", "a.txt"))
	if err != nil {
		t.Fatalf("reading copied file: %v", err)
	}
	if string(data) != "contents" {
		t.Errorf("copied contents = %q, want %q", data, "contents")
	}
}

func TestStageReplacesExistingEntry(t *testing.T) {
	dir := t.TempDir()
	srcA := filepath.Join(dir, "srcA")
	srcB := filepath.Join(dir, "srcB")
	for _, d := range []string{srcA, srcB} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	target := filepath.Join(dir, "workspace", "repo")
	if err := Stage(srcA, target, domain.LinkSymlink); err != nil {
		t.Fatalf("first Stage: %v", err)
	}
	if err := Stage(srcB, target, domain.LinkSymlink); err != nil {
		t.Fatalf("second Stage: %v", err)
	}

	resolved, err := os.Readlink(target)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != srcB {
		t.Errorf("symlink points to %q after retry, want %q", resolved, srcB)
	}
}

func TestStageUnknownLinkModeErrors(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := Stage(src, filepath.Join(dir, "target"), domain.LinkMode("bogus")); err == nil {
		t.Fatal("expected an error for an unknown link mode")
	}
}
