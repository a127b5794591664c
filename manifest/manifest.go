// Package manifest handles prism.toml project configuration.
package manifest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/prism/vm"
)

// FileName is the manifest file looked up in project directories.
const FileName = "prism.toml"

// Manifest represents a prism.toml project configuration.
type Manifest struct {
	Project Project   `toml:"project"`
	Source  Source    `toml:"source"`
	VM      VMConfig  `toml:"vm"`
	Log     LogConfig `toml:"log"`

	// Dir is the directory containing the prism.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source locates the program to compile.
type Source struct {
	Entry string `toml:"entry"`
}

// VMConfig configures the machine that runs the program.
type VMConfig struct {
	MemorySize int    `toml:"memory-size"`
	CallDepth  int    `toml:"call-depth"`
	Entry      string `toml:"entry-function"`
	Trace      bool   `toml:"trace"`
}

// LogConfig sets logger verbosity, as in commonlog.Configure.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Defaults returns the configuration used when no manifest exists.
func Defaults() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Source.Entry == "" {
		m.Source.Entry = "main.prism"
	}
	if m.VM.Entry == "" {
		m.VM.Entry = "main"
	}
	if m.VM.MemorySize <= 0 {
		m.VM.MemorySize = vm.DefaultMemorySize
	}
	if m.VM.CallDepth <= 0 {
		m.VM.CallDepth = vm.DefaultCallDepth
	}
}

// Load parses a prism.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a prism.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// EntryPath returns the absolute path of the entry source file.
func (m *Manifest) EntryPath() string {
	return m.resolve(m.Source.Entry)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// MachineConfig builds a vm.Config. trace receives the instruction trace
// when the manifest enables it.
func (m *Manifest) MachineConfig(out, trace io.Writer) vm.Config {
	cfg := vm.Config{
		MemorySize: m.VM.MemorySize,
		CallDepth:  m.VM.CallDepth,
		Output:     out,
	}
	if m.VM.Trace {
		cfg.Trace = trace
	}
	return cfg
}
