// Package reposcan does a lightweight best-effort scan of a staged repository
// workspace — dominant language by file extension and build system by marker
// file — so the planner/dev prompt can be enriched with "this is a Go module
// built with go build/go test" instead of asking the agent to rediscover it.
// Grounded on the teacher's internal/scanner package (file-extension walk
// with a skip-list of vendor/build directories, and a fixed marker-file
// table for build-system detection), trimmed to the subset of languages and
// build systems that table actually lists, since a full project-structure
// report has no consumer in this spec beyond prompt enrichment.
package reposcan

import (
	"os"
	"path/filepath"
	"sort"
)

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".venv": true,
	"__pycache__": true, "dist": true, "build": true, "target": true, ".next": true,
}

var extToLanguage = map[string]string{
	".go": "Go", ".ts": "TypeScript", ".tsx": "TypeScript", ".js": "JavaScript",
	".jsx": "JavaScript", ".py": "Python", ".rs": "Rust", ".rb": "Ruby",
	".java": "Java", ".kt": "Kotlin", ".c": "C", ".cpp": "C++", ".cs": "C#",
}

const maxFiles = 10000

// Summary is the detected characteristics of one repository workspace.
type Summary struct {
	DominantLanguage string
	BuildSystem      string
	BuildCommand     string
	TestCommand      string
}

// Scan walks rootDir and returns a best-effort Summary. Errors walking
// individual files are swallowed — a partial scan beats no enrichment.
func Scan(rootDir string) Summary {
	return Summary{
		DominantLanguage: dominantLanguage(rootDir),
		BuildSystem:      "", // filled in by withBuildSystem below
	}.withBuildSystem(rootDir)
}

func dominantLanguage(rootDir string) string {
	counts := make(map[string]int)
	fileCount := 0

	_ = filepath.Walk(rootDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if fi.IsDir() {
			if skipDirs[fi.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if fileCount >= maxFiles {
			return filepath.SkipAll
		}
		fileCount++
		if lang, ok := extToLanguage[filepath.Ext(path)]; ok {
			counts[lang]++
		}
		return nil
	})

	if len(counts) == 0 {
		return ""
	}
	languages := make([]string, 0, len(counts))
	for l := range counts {
		languages = append(languages, l)
	}
	sort.Slice(languages, func(i, j int) bool { return counts[languages[i]] > counts[languages[j]] })
	return languages[0]
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// withBuildSystem fills BuildSystem/BuildCommand/TestCommand by checking for
// a fixed list of marker files, same priority order as the teacher's
// detectBuildSystem.
func (s Summary) withBuildSystem(rootDir string) Summary {
	switch {
	case fileExists(filepath.Join(rootDir, "go.mod")):
		s.BuildSystem, s.BuildCommand, s.TestCommand = "go", "go build ./...", "go test ./..."
	case fileExists(filepath.Join(rootDir, "package.json")):
		name := "npm"
		switch {
		case fileExists(filepath.Join(rootDir, "pnpm-lock.yaml")):
			name = "pnpm"
		case fileExists(filepath.Join(rootDir, "yarn.lock")):
			name = "yarn"
		case fileExists(filepath.Join(rootDir, "bun.lockb")):
			name = "bun"
		}
		runner := name
		if runner == "npm" {
			runner = "npm run"
		}
		s.BuildSystem, s.BuildCommand, s.TestCommand = name, runner+" build", runner+" test"
	case fileExists(filepath.Join(rootDir, "Cargo.toml")):
		s.BuildSystem, s.BuildCommand, s.TestCommand = "cargo", "cargo build", "cargo test"
	case fileExists(filepath.Join(rootDir, "pyproject.toml")):
		s.BuildSystem, s.BuildCommand, s.TestCommand = "poetry/pip", "poetry install", "pytest"
	case fileExists(filepath.Join(rootDir, "setup.py")), fileExists(filepath.Join(rootDir, "requirements.txt")):
		s.BuildSystem, s.BuildCommand, s.TestCommand = "pip", "pip install -e .", "pytest"
	case fileExists(filepath.Join(rootDir, "pom.xml")):
		s.BuildSystem, s.BuildCommand, s.TestCommand = "maven", "mvn compile", "mvn test"
	case fileExists(filepath.Join(rootDir, "build.gradle")), fileExists(filepath.Join(rootDir, "build.gradle.kts")):
		s.BuildSystem, s.BuildCommand, s.TestCommand = "gradle", "./gradlew build", "./gradlew test"
	case fileExists(filepath.Join(rootDir, "Gemfile")):
		s.BuildSystem, s.BuildCommand, s.TestCommand = "bundler", "bundle install", "bundle exec rspec"
	}
	return s
}
