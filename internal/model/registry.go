package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DefaultModel is the model choice used when a request names an unknown model.
const DefaultModel = "log_reg"

// DefaultFiles maps each model choice to its file name inside the models directory.
var DefaultFiles = map[string]string{
	"log_reg":           "logistic_regression.json",
	"random_forest":     "random_forest.json",
	"gradient_boosting": "gradient_boosting.json",
	"knn":               "knn.json",
}

// RegisteredPipeline is a loaded pipeline and where it came from.
type RegisteredPipeline struct {
	Name       string
	Pipeline   Pipeline
	Path       string
	BinaryHash string // SHA-256 of the model file
	LoadedAt   time.Time
}

// Registry holds the pipelines loaded at startup. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	models      map[string]*RegisteredPipeline
	defaultName string
}

// NewRegistry creates an empty registry.
func NewRegistry(defaultName string) *Registry {
	if defaultName == "" {
		defaultName = DefaultModel
	}
	return &Registry{
		models:      make(map[string]*RegisteredPipeline),
		defaultName: defaultName,
	}
}

// Register adds an already-built pipeline under name.
func (r *Registry) Register(name string, p Pipeline) *RegisteredPipeline {
	rp := &RegisteredPipeline{Name: name, Pipeline: p, LoadedAt: time.Now()}

	r.mu.Lock()
	r.models[name] = rp
	r.mu.Unlock()

	return rp
}

// LoadFile parses a pipeline file and registers it under name.
func (r *Registry) LoadFile(name, path string) (*RegisteredPipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", name, err)
	}

	p, err := ParsePipeline(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse model %s: %w", name, err)
	}

	hash := sha256.Sum256(data)
	rp := &RegisteredPipeline{
		Name:       name,
		Pipeline:   p,
		Path:       path,
		BinaryHash: hex.EncodeToString(hash[:]),
		LoadedAt:   time.Now(),
	}

	r.mu.Lock()
	r.models[name] = rp
	r.mu.Unlock()

	return rp, nil
}

// LoadDir loads every file in files (model name -> file name) from dir.
// Missing files are skipped; the returned slice names them.
func (r *Registry) LoadDir(dir string, files map[string]string) (missing []string, err error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, files[name])
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			missing = append(missing, name)
			continue
		}
		if _, err := r.LoadFile(name, path); err != nil {
			return missing, err
		}
	}
	return missing, nil
}

// Get returns the pipeline registered under name.
func (r *Registry) Get(name string) (*RegisteredPipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rp, ok := r.models[name]
	return rp, ok
}

// Resolve returns the named pipeline, falling back to the default model.
func (r *Registry) Resolve(name string) (*RegisteredPipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rp, ok := r.models[name]; ok {
		return rp, nil
	}
	if rp, ok := r.models[r.defaultName]; ok {
		return rp, nil
	}
	return nil, fmt.Errorf("model %q not loaded and default %q unavailable", name, r.defaultName)
}

// Names lists registered model names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
