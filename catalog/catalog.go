// Package catalog holds optional per-event-type payload schemas.
//
// Every payload must be a JSON object. Event types with a registered JSON
// Schema are additionally validated against it before ingestion.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var objectSchema = []byte(`{"type":"object"}`)

// Catalog maps event types to payload schemas.
type Catalog struct {
	mu        sync.RWMutex
	schemas   map[string]json.RawMessage
	validator *Validator
	logger    *slog.Logger
}

// New creates an empty catalog.
func New(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		schemas:   make(map[string]json.RawMessage),
		validator: NewValidator(),
		logger:    logger,
	}
}

// Register compiles schema and attaches it to eventType, replacing any
// previous schema.
func (c *Catalog) Register(eventType string, schema json.RawMessage) error {
	if _, err := c.validator.Compile(schema); err != nil {
		return fmt.Errorf("catalog: %s: %w", eventType, err)
	}

	c.mu.Lock()
	c.schemas[eventType] = schema
	c.mu.Unlock()

	c.logger.Debug("event schema registered", "event_type", eventType)
	return nil
}

// LoadDir registers every *.json file in dir, using the file name without
// extension as the event type.
func (c *Catalog) LoadDir(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("catalog: glob %s: %w", dir, err)
	}

	for _, path := range matches {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return 0, fmt.Errorf("catalog: read %s: %w", path, readErr)
		}
		eventType := strings.TrimSuffix(filepath.Base(path), ".json")
		if regErr := c.Register(eventType, raw); regErr != nil {
			return 0, regErr
		}
	}
	return len(matches), nil
}

// Validate checks that payload is a JSON object and, when eventType has a
// schema, that it satisfies it.
func (c *Catalog) Validate(eventType string, payload json.RawMessage) error {
	if err := c.validator.Validate(objectSchema, payload); err != nil {
		return fmt.Errorf("payload must be a JSON object: %w", err)
	}

	c.mu.RLock()
	schema, ok := c.schemas[eventType]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return c.validator.Validate(schema, payload)
}

// Types returns the event types with a registered schema, sorted.
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	types := make([]string, 0, len(c.schemas))
	for t := range c.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
