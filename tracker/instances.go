package tracker

import (
	"errors"
	"strings"
	"sync"
)

// DefaultInstanceName is the name used when Instance is called with an empty
// name.
const DefaultInstanceName = "$default_instance"

// InstanceManager owns a set of named tracker instances. Names are
// case-insensitive; each name gets its own client and database file. The
// manager is caller-owned: there is no package-level registry.
type InstanceManager struct {
	mu        sync.Mutex
	instances map[string]*Client
}

// NewInstanceManager returns an empty manager.
func NewInstanceManager() *InstanceManager {
	return &InstanceManager{instances: make(map[string]*Client)}
}

// Instance returns the client registered under name, creating it from cfg on
// first use. Later calls with the same name ignore cfg.
func (m *InstanceManager) Instance(name string, cfg Config) (*Client, error) {
	name = normalizeInstanceName(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.instances[name]; ok {
		return c, nil
	}

	// Non-default instances get their own database file unless the caller
	// picked a path explicitly.
	if cfg.DatabasePath == "" && name != DefaultInstanceName {
		cfg.DatabasePath = "event-tracker_" + name + ".db"
	}

	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	m.instances[name] = c
	return c, nil
}

// Close closes every instance and empties the manager.
func (m *InstanceManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, c := range m.instances {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(m.instances, name)
	}
	return errors.Join(errs...)
}

func normalizeInstanceName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultInstanceName
	}
	return name
}
