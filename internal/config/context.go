package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tOgg1/gmic/internal/models"
)

// Context is the CLI's remembered selection: the connected account and the
// focused conversation.
type Context struct {
	// Self is the connected account.
	Self string `yaml:"self,omitempty"`
	// Partner is the focused conversation partner.
	Partner string `yaml:"partner,omitempty"`
	// ChainID is the chain the account was connected on.
	ChainID string `yaml:"chain_id,omitempty"`
	// UpdatedAt is when the context was last modified.
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
}

// IsEmpty returns true if no account is connected.
func (c *Context) IsEmpty() bool {
	return c.Self == ""
}

// Connect selects an account. The partner belongs to the previous account
// and is cleared.
func (c *Context) Connect(self, chainID string) {
	c.Self = models.NormalizeAddress(self)
	c.ChainID = chainID
	c.Partner = ""
	c.UpdatedAt = time.Now()
}

// Focus selects a conversation partner.
func (c *Context) Focus(partner string) {
	c.Partner = models.NormalizeAddress(partner)
	c.UpdatedAt = time.Now()
}

// Disconnect clears everything.
func (c *Context) Disconnect() {
	c.Self = ""
	c.Partner = ""
	c.ChainID = ""
	c.UpdatedAt = time.Now()
}

// String returns a short human-readable form.
func (c *Context) String() string {
	if c.IsEmpty() {
		return "(not connected)"
	}
	s := "account:" + models.ShortAddress(c.Self)
	if c.Partner != "" {
		s += " partner:" + models.ShortAddress(c.Partner)
	}
	if c.ChainID != "" {
		s += " chain:" + c.ChainID
	}
	return s
}

// ContextStore manages loading and saving context.
type ContextStore struct {
	path string
	mu   sync.RWMutex
}

// NewContextStore creates a new context store.
// If path is empty, uses the default path (~/.config/gmic/context.yaml).
func NewContextStore(path string) *ContextStore {
	if path == "" {
		homeDir, _ := os.UserHomeDir()
		path = filepath.Join(homeDir, ".config", "gmic", "context.yaml")
	}
	return &ContextStore{path: path}
}

// Path returns the context file path.
func (s *ContextStore) Path() string {
	return s.path
}

// Load reads the context from disk.
// Returns an empty context if the file doesn't exist.
func (s *ContextStore) Load() (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := &Context{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ctx, nil
		}
		return nil, fmt.Errorf("failed to read context file: %w", err)
	}

	if err := yaml.Unmarshal(data, ctx); err != nil {
		return nil, fmt.Errorf("failed to parse context file: %w", err)
	}

	return ctx, nil
}

// Save writes the context to disk.
func (s *ContextStore) Save(ctx *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create context directory: %w", err)
	}

	data, err := yaml.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("failed to serialize context: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write context file: %w", err)
	}
	return nil
}

// Clear removes the context file.
func (s *ContextStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove context file: %w", err)
	}
	return nil
}
