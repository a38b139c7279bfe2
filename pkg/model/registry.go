package model

import (
	"fmt"
	"path/filepath"
	"sort"
)

// Registry indexes the model configs available for inference, keyed by name
// and revision. It is plain data: build one, pass it to whoever needs it.
type Registry struct {
	models map[string]map[string]*Config
}

func NewRegistry() *Registry {
	return &Registry{models: map[string]map[string]*Config{}}
}

// RegistryFromConfigDir loads every *.json file in dir as a model config.
func RegistryFromConfigDir(dir string) (*Registry, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	reg := NewRegistry()
	for _, file := range files {
		cfg, err := LoadConfig(file)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(cfg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (r *Registry) Register(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if r.models[cfg.Name] == nil {
		r.models[cfg.Name] = map[string]*Config{}
	}
	if _, exists := r.models[cfg.Name][cfg.Revision]; exists {
		return fmt.Errorf("Model %v revision %v is registered twice", cfg.Name, cfg.Revision)
	}
	r.models[cfg.Name][cfg.Revision] = cfg
	return nil
}

// Names returns the unique model names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Revisions returns the revisions of a model, sorted oldest first.
func (r *Registry) Revisions(name string) []string {
	revs := make([]string, 0, len(r.models[name]))
	for rev := range r.models[name] {
		revs = append(revs, rev)
	}
	sort.Strings(revs)
	return revs
}

// LatestRevision returns the newest revision of a model. Revisions are
// date-versioned, so lexicographic max is the latest.
func (r *Registry) LatestRevision(name string) (string, error) {
	revs := r.Revisions(name)
	if len(revs) == 0 {
		return "", fmt.Errorf("Model %q is not registered", name)
	}
	return revs[len(revs)-1], nil
}

// Get returns a model config. An empty revision means the latest.
func (r *Registry) Get(name, revision string) (*Config, error) {
	if revision == "" {
		latest, err := r.LatestRevision(name)
		if err != nil {
			return nil, err
		}
		revision = latest
	}
	cfg, ok := r.models[name][revision]
	if !ok {
		if len(r.models[name]) == 0 {
			return nil, fmt.Errorf("Model %q is not registered", name)
		}
		return nil, fmt.Errorf("Revision %q of model %q is not registered. Available revisions: %v",
			revision, name, r.Revisions(name))
	}
	return cfg, nil
}

func (r *Registry) Len() int {
	n := 0
	for _, revs := range r.models {
		n += len(revs)
	}
	return n
}
