package loader

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ledgerline/patternd/pkg/schema"
)

// Loader reads pattern documents from a directory tree and serves them as the
// interpreter's pattern library. JSON and YAML documents are accepted; YAML is
// normalized to JSON before decoding so both go through the same structural
// validation and output-shape detection.
//
// Malformed documents are logged and skipped; one bad file never takes the
// library down. The loaded set is swapped atomically on Reload.
type Loader struct {
	dir       string
	logger    *slog.Logger
	validator *docValidator

	mu       sync.RWMutex
	patterns map[string]*schema.Pattern
}

// New creates a Loader over a pattern directory. Call Load before first use.
func New(dir string, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	validator, err := newDocValidator()
	if err != nil {
		return nil, fmt.Errorf("create document validator: %w", err)
	}
	return &Loader{
		dir:       dir,
		logger:    logger,
		validator: validator,
		patterns:  make(map[string]*schema.Pattern),
	}, nil
}

// Load walks the pattern directory and loads every *.json, *.yaml and *.yml
// document. Returns an error only when the directory itself is unreadable.
func (l *Loader) Load() error {
	loaded := make(map[string]*schema.Pattern)

	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			return nil
		}

		pattern, err := l.loadFile(path, ext)
		if err != nil {
			l.logger.Warn("skipping malformed pattern document",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}

		if prev, exists := loaded[pattern.ID]; exists {
			l.logger.Warn("duplicate pattern id, keeping first definition",
				slog.String("pattern_id", pattern.ID),
				slog.String("kept", prev.Name),
				slog.String("path", path))
			return nil
		}

		loaded[pattern.ID] = pattern
		return nil
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "read pattern directory %q: %s", l.dir, err.Error()).
			WithCause(err)
	}

	l.mu.Lock()
	l.patterns = loaded
	l.mu.Unlock()

	l.logger.Info("pattern library loaded",
		slog.String("dir", l.dir),
		slog.Int("patterns", len(loaded)))
	return nil
}

// Reload re-reads the directory and atomically replaces the loaded set.
// Reloading is explicit; there is no file watching.
func (l *Loader) Reload() error {
	return l.Load()
}

// loadFile reads and validates one document, returning the decoded pattern.
func (l *Loader) loadFile(path, ext string) (*schema.Pattern, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if ext == ".yaml" || ext == ".yml" {
		raw, err = yamlToJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("convert YAML: %w", err)
		}
	}

	if err := l.validator.validateDocument(raw); err != nil {
		return nil, err
	}

	var pattern schema.Pattern
	if err := json.Unmarshal(raw, &pattern); err != nil {
		return nil, fmt.Errorf("decode pattern: %w", err)
	}

	// Compile the declared input schema eagerly so a broken one fails at load
	// time, not on the first invocation.
	if len(pattern.InputSchema) > 0 {
		if _, err := l.validator.getOrCompile(pattern.InputSchema); err != nil {
			return nil, fmt.Errorf("compile input schema: %w", err)
		}
	}

	return &pattern, nil
}

// Get returns a loaded pattern by id.
func (l *Loader) Get(id string) (*schema.Pattern, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.patterns[id]
	return p, ok
}

// ValidateInputs checks caller inputs against the pattern's declared input
// schema. Patterns without a schema accept anything.
func (l *Loader) ValidateInputs(id string, inputs map[string]any) error {
	l.mu.RLock()
	pattern, ok := l.patterns[id]
	l.mu.RUnlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "pattern %q not found", id)
	}
	return l.validator.validateInput(inputs, pattern.InputSchema)
}

// List returns all loaded patterns sorted by id.
func (l *Loader) List() []*schema.Pattern {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*schema.Pattern, 0, len(l.patterns))
	for _, p := range l.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of loaded patterns.
func (l *Loader) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.patterns)
}

// yamlToJSON converts a YAML document to JSON bytes.
func yamlToJSON(raw []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeYAML(doc))
}

// normalizeYAML rewrites map[any]any trees (produced for non-string YAML keys)
// into map[string]any so the result marshals to JSON.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
