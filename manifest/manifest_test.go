package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/ember/vm"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ember.toml", `
[project]
name = "test-app"
source = "src/app.yaml"

[runtime]
max-heap-bytes = 1048576
max-stack = 128
max-frames = 16
defer-finalization = true

[collector]
collect-every = 100
barriers = true

[log]
verbosity = 2
file = "ember.log"

[store]
path = "db/programs.db"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Project.Name != "test-app" {
		t.Errorf("project name = %q, want test-app", m.Project.Name)
	}
	want := vm.Config{
		MaxHeapBytes:      1048576,
		MaxStack:          128,
		MaxFrames:         16,
		DeferFinalization: true,
		CollectEvery:      100,
		Barriers:          true,
	}
	if got := m.RuntimeConfig(); got != want {
		t.Errorf("RuntimeConfig() = %+v, want %+v", got, want)
	}
	if m.Log.Verbosity != 2 || m.LogFile() != filepath.Join(m.Dir, "ember.log") {
		t.Errorf("log = %+v, LogFile() = %q", m.Log, m.LogFile())
	}
	if m.StorePath() != filepath.Join(m.Dir, "db", "programs.db") {
		t.Errorf("StorePath() = %q", m.StorePath())
	}
	if m.SourcePath() != filepath.Join(m.Dir, "src", "app.yaml") {
		t.Errorf("SourcePath() = %q", m.SourcePath())
	}
	if m.OutputPath() != filepath.Join(m.Dir, "test-app.emb") {
		t.Errorf("OutputPath() = %q", m.OutputPath())
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ember.toml", `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := m.RuntimeConfig(); got != vm.DefaultConfig() {
		t.Errorf("RuntimeConfig() = %+v, want defaults %+v", got, vm.DefaultConfig())
	}
	if m.Log.Verbosity != 1 || m.LogFile() != "" {
		t.Errorf("log defaults = %+v", m.Log)
	}
	if m.StorePath() != filepath.Join(m.Dir, ".ember", "programs.db") {
		t.Errorf("default store path = %q", m.StorePath())
	}
	if m.SourcePath() != filepath.Join(m.Dir, "main.yaml") {
		t.Errorf("default source = %q", m.SourcePath())
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ember.yaml", `
project:
  name: yaml-app
runtime:
  max-frames: 32
collector:
  barriers: true
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg := m.RuntimeConfig()
	if m.Project.Name != "yaml-app" || cfg.MaxFrames != 32 || !cfg.Barriers {
		t.Errorf("yaml manifest = %+v", m)
	}
	if cfg.MaxStack != vm.DefaultConfig().MaxStack {
		t.Errorf("absent max-stack = %d, want default", cfg.MaxStack)
	}
}

func TestLoadRejectsBadManifests(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		msg     string
	}{
		{"unknown toml key", "ember.toml", "[runtime]\nmax-stak = 3\n", "unknown keys"},
		{"unknown yaml key", "ember.yaml", "runtime:\n  max-stak: 3\n", "parse error"},
		{"negative stack", "ember.toml", "[runtime]\nmax-stack = -1\n", "max-stack"},
		{"negative collect", "ember.toml", "[collector]\ncollect-every = -5\n", "collect-every"},
		{"bad syntax", "ember.toml", "[runtime\n", "parse error"},
	}
	for _, tt := range tests {
		dir := t.TempDir()
		writeFile(t, dir, tt.file, tt.content)
		_, err := Load(dir)
		if err == nil || !strings.Contains(err.Error(), tt.msg) {
			t.Errorf("%s: Load error = %v, want %q", tt.name, err, tt.msg)
		}
	}
}

func TestLoadFileFormat(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.json", "{}")
	if _, err := LoadFile(filepath.Join(dir, "config.json")); err == nil {
		t.Error("LoadFile accepted a .json manifest")
	}
	writeFile(t, dir, "empty.yaml", "")
	m, err := LoadFile(filepath.Join(dir, "empty.yaml"))
	if err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
	if m.RuntimeConfig() != vm.DefaultConfig() {
		t.Error("empty yaml manifest did not yield defaults")
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "ember.toml", "[project]\nname = \"found-project\"\n")

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no ember.toml exists")
	}
}

func TestOutputPathFallsBackToSourceName(t *testing.T) {
	m := &Manifest{Dir: "/app", Project: Project{Source: "progs/sums.yaml"}}
	if got := m.OutputPath(); got != filepath.Join("/app", "sums.emb") {
		t.Errorf("OutputPath() = %q, want /app/sums.emb", got)
	}
}
