package session

import (
	"context"
	"sync"
)

// Manager follows the connected account: Connect replaces the current
// session, Disconnect tears it down.
type Manager struct {
	base Options

	mu      sync.Mutex
	current *Session
}

// NewManager returns a manager that opens sessions from base with Self
// overridden per connection.
func NewManager(base Options) *Manager {
	return &Manager{base: base}
}

// Connect closes any current session and opens one for self.
func (m *Manager) Connect(ctx context.Context, self string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		_ = m.current.Close()
		m.current = nil
	}
	opts := m.base
	opts.Self = self
	s, err := Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	m.current = s
	return s, nil
}

// Disconnect closes the current session, if any.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	err := m.current.Close()
	m.current = nil
	return err
}

// Current returns the connected session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Connected reports whether an account is connected.
func (m *Manager) Connected() bool {
	return m.Current() != nil
}
