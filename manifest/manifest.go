// Package manifest handles ember.toml and ember.yaml project configuration.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/chazu/ember/vm"
)

// FileNames are the manifest names FindAndLoad looks for, in order.
var FileNames = []string{"ember.toml", "ember.yaml", "ember.yml"}

// Manifest represents an ember project configuration.
type Manifest struct {
	Project   Project     `toml:"project" yaml:"project"`
	Runtime   Runtime     `toml:"runtime" yaml:"runtime"`
	Collector Collector   `toml:"collector" yaml:"collector"`
	Log       Log         `toml:"log" yaml:"log"`
	Store     StoreConfig `toml:"store" yaml:"store"`

	// Dir is the directory containing the manifest (set at load time).
	Dir string `toml:"-" yaml:"-"`
	// Path is the manifest file (set at load time, empty for defaults).
	Path string `toml:"-" yaml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name   string `toml:"name" yaml:"name"`
	Source string `toml:"source" yaml:"source"` // program source built by default
	Output string `toml:"output" yaml:"output"` // image written by build
}

// Runtime configures the heap, value stack and interpreter.
type Runtime struct {
	MaxHeapBytes      uint64 `toml:"max-heap-bytes" yaml:"max-heap-bytes"`
	MaxStack          int    `toml:"max-stack" yaml:"max-stack"`
	MaxFrames         int    `toml:"max-frames" yaml:"max-frames"`
	DeferFinalization bool   `toml:"defer-finalization" yaml:"defer-finalization"`
	Trace             bool   `toml:"trace" yaml:"trace"`
}

// Collector configures the cycle collector.
type Collector struct {
	CollectEvery int  `toml:"collect-every" yaml:"collect-every"`
	Barriers     bool `toml:"barriers" yaml:"barriers"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity" yaml:"verbosity"`
	File      string `toml:"file" yaml:"file"`
}

// StoreConfig configures the program store.
type StoreConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// Default returns the configuration used for absent keys.
func Default() *Manifest {
	cfg := vm.DefaultConfig()
	return &Manifest{
		Project: Project{Source: "main.yaml"},
		Runtime: Runtime{
			MaxHeapBytes:      cfg.MaxHeapBytes,
			MaxStack:          cfg.MaxStack,
			MaxFrames:         cfg.MaxFrames,
			DeferFinalization: cfg.DeferFinalization,
		},
		Collector: Collector{
			CollectEvery: cfg.CollectEvery,
			Barriers:     cfg.Barriers,
		},
		Log:   Log{Verbosity: 1},
		Store: StoreConfig{Path: filepath.Join(".ember", "programs.db")},
		Dir:   ".",
	}
}

// Load parses the manifest in the given directory.
func Load(dir string) (*Manifest, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, fmt.Errorf("no manifest in %s", dir)
}

// LoadFile parses a manifest file, choosing the format by extension.
// Unknown keys are errors.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	switch ext := filepath.Ext(path); ext {
	case ".toml":
		md, err := toml.Decode(string(data), m)
		if err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(m); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unknown manifest format %q for %s", ext, path)
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	m.Path = path
	return m, nil
}

// FindAndLoad walks up from startDir to find a manifest, then loads and
// returns it. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return LoadFile(path)
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) validate() error {
	switch {
	case m.Runtime.MaxStack < 0:
		return fmt.Errorf("runtime.max-stack must not be negative")
	case m.Runtime.MaxFrames < 0:
		return fmt.Errorf("runtime.max-frames must not be negative")
	case m.Collector.CollectEvery < 0:
		return fmt.Errorf("collector.collect-every must not be negative")
	case m.Log.Verbosity < -4 || m.Log.Verbosity > 5:
		return fmt.Errorf("log.verbosity %d out of range", m.Log.Verbosity)
	}
	return nil
}

// RuntimeConfig converts the runtime and collector sections.
func (m *Manifest) RuntimeConfig() vm.Config {
	return vm.Config{
		MaxHeapBytes:      m.Runtime.MaxHeapBytes,
		MaxStack:          m.Runtime.MaxStack,
		MaxFrames:         m.Runtime.MaxFrames,
		DeferFinalization: m.Runtime.DeferFinalization,
		CollectEvery:      m.Collector.CollectEvery,
		Barriers:          m.Collector.Barriers,
	}
}

// StorePath returns the program store path relative to the manifest.
func (m *Manifest) StorePath() string {
	return m.resolve(m.Store.Path)
}

// SourcePath returns the default program source path.
func (m *Manifest) SourcePath() string {
	return m.resolve(m.Project.Source)
}

// OutputPath returns the image path build writes by default.
func (m *Manifest) OutputPath() string {
	if m.Project.Output != "" {
		return m.resolve(m.Project.Output)
	}
	name := m.Project.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(m.Project.Source), filepath.Ext(m.Project.Source))
	}
	return m.resolve(name + ".emb")
}

// LogFile returns the log file path, or "" for stderr.
func (m *Manifest) LogFile() string {
	if m.Log.File == "" {
		return ""
	}
	return m.resolve(m.Log.File)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
