package integration

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultBlenderAddr is where the Blender addon's bridge listens.
const DefaultBlenderAddr = "localhost:8765"

// BlenderBridge verifies the Blender addon's local bridge socket is
// accepting connections. The addon itself runs inside Blender; when it is
// not up, tasks that need it cannot proceed and the handoff must not start.
type BlenderBridge struct {
	addr    string
	timeout time.Duration
}

// NewBlenderBridge creates a bridge check against addr; empty means
// DefaultBlenderAddr.
func NewBlenderBridge(addr string) *BlenderBridge {
	if addr == "" {
		addr = DefaultBlenderAddr
	}
	return &BlenderBridge{
		addr:    addr,
		timeout: 2 * time.Second,
	}
}

func (b *BlenderBridge) Name() string {
	return "blender"
}

func (b *BlenderBridge) Provision(ctx context.Context) error {
	dialer := net.Dialer{Timeout: b.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", b.addr)
	if err != nil {
		return fmt.Errorf("blender bridge not reachable at %s (is the addon running?): %w", b.addr, err)
	}
	conn.Close()
	return nil
}

var _ Provisioner = (*BlenderBridge)(nil)
