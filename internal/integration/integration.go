// Package integration provisions the auxiliary bridges a routing decision
// may require before an agent handoff. Provisioning failure aborts the
// handoff and leaves the router in charge.
package integration

import (
	"context"
	"fmt"
	"log/slog"
)

// Provisioner prepares one named integration for use by an agent.
type Provisioner interface {
	Name() string
	Provision(ctx context.Context) error
}

// Manager holds the registered provisioners.
type Manager struct {
	provisioners map[string]Provisioner
	logger       *slog.Logger
}

// NewManager creates an empty integration manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		provisioners: make(map[string]Provisioner),
		logger:       logger,
	}
}

// Register adds a provisioner under its name, replacing any previous one.
func (m *Manager) Register(p Provisioner) {
	m.provisioners[p.Name()] = p
}

// Provision prepares every named integration in order. The first failure
// aborts; integrations provisioned before it are left as-is (they are
// reachability checks, not stateful setup).
func (m *Manager) Provision(ctx context.Context, names []string) error {
	for _, name := range names {
		p, ok := m.provisioners[name]
		if !ok {
			return fmt.Errorf("unknown integration %q", name)
		}
		if err := p.Provision(ctx); err != nil {
			return fmt.Errorf("integration %q: %w", name, err)
		}
		m.logger.Info("integration provisioned", "name", name)
	}
	return nil
}
