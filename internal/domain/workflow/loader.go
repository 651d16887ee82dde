package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry holds the workflow graphs loaded at startup. Graphs are loaded
// once and never mutated afterwards.
type Registry struct {
	graphs map[string]*Graph
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{graphs: make(map[string]*Graph)}
}

// LoadDir reads every *.yaml / *.yml file in dir, builds the graphs and
// returns a registry keyed by graph name. A missing directory yields an
// empty registry, not an error.
func LoadDir(dir string) (*Registry, error) {
	reg := &Registry{graphs: make(map[string]*Graph)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, fmt.Errorf("read workflow dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		g, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if _, dup := reg.graphs[g.Name]; dup {
			return nil, fmt.Errorf("workflow %s defined twice (second in %s)", g.Name, path)
		}
		reg.graphs[g.Name] = g
	}

	return reg, nil
}

// LoadFile parses and builds a single workflow graph from a YAML file.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the configured workflow dir
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}

	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", path, err)
	}
	if err := g.Build(); err != nil {
		return nil, fmt.Errorf("build workflow %s: %w", path, err)
	}

	return &g, nil
}

// Register adds a pre-built graph; used by tests and embedded defaults.
func (r *Registry) Register(g *Graph) error {
	if _, dup := r.graphs[g.Name]; dup {
		return fmt.Errorf("workflow %s already registered", g.Name)
	}
	r.graphs[g.Name] = g
	return nil
}

// Get returns the named graph, or nil if absent.
func (r *Registry) Get(name string) *Graph {
	return r.graphs[name]
}

// Names returns the registered workflow names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.graphs))
	for name := range r.graphs {
		names = append(names, name)
	}
	return names
}
