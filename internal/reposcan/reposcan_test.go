package reposcan

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScanDetectsGoModule(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "go.mod"), "module example.com/foo\n")
	mustWrite(t, filepath.Join(dir, "main.go"), "package main\n")
	mustWrite(t, filepath.Join(dir, "util.go"), "package main\n")

	s := Scan(dir)
	if s.BuildSystem != "go" {
		t.Errorf("BuildSystem = %q, want go", s.BuildSystem)
	}
	if s.DominantLanguage != "Go" {
		t.Errorf("DominantLanguage = %q, want Go", s.DominantLanguage)
	}
	if s.TestCommand != "go test ./..." {
		t.Errorf("TestCommand = %q", s.TestCommand)
	}
}

func TestScanDetectsPnpmWorkspace(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "package.json"), "{}")
	mustWrite(t, filepath.Join(dir, "pnpm-lock.yaml"), "")

	s := Scan(dir)
	if s.BuildSystem != "pnpm" {
		t.Errorf("BuildSystem = %q, want pnpm", s.BuildSystem)
	}
}

func TestScanSkipsVendorDirectories(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "go.mod"), "module example.com/foo\n")
	mustWrite(t, filepath.Join(dir, "main.go"), "package main\n")
	mustWrite(t, filepath.Join(dir, "node_modules", "pkg", "index.js"), "module.exports = {}")

	s := Scan(dir)
	if s.DominantLanguage != "Go" {
		t.Errorf("DominantLanguage = %q, want Go (node_modules should be skipped)", s.DominantLanguage)
	}
}

func TestScanNoMarkerFilesReturnsEmptyBuildSystem(t *testing.T) {
	dir := t.TempDir()
	s := Scan(dir)
	if s.BuildSystem != "" {
		t.Errorf("BuildSystem = %q, want empty", s.BuildSystem)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
