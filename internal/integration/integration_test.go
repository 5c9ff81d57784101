package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvisioner struct {
	name  string
	fail  bool
	calls int
}

func (p *fakeProvisioner) Name() string { return p.name }

func (p *fakeProvisioner) Provision(ctx context.Context) error {
	p.calls++
	if p.fail {
		return fmt.Errorf("unavailable")
	}
	return nil
}

func TestProvisionUnknownName(t *testing.T) {
	m := NewManager(discardLogger())
	if err := m.Provision(context.Background(), []string{"warpdrive"}); err == nil {
		t.Fatal("expected error for unknown integration")
	}
}

func TestProvisionInOrderStopsAtFailure(t *testing.T) {
	m := NewManager(discardLogger())
	first := &fakeProvisioner{name: "first"}
	second := &fakeProvisioner{name: "second", fail: true}
	third := &fakeProvisioner{name: "third"}
	m.Register(first)
	m.Register(second)
	m.Register(third)

	err := m.Provision(context.Background(), []string{"first", "second", "third"})
	if err == nil {
		t.Fatal("expected provisioning failure")
	}
	if first.calls != 1 {
		t.Fatalf("first not provisioned: %d calls", first.calls)
	}
	if third.calls != 0 {
		t.Fatalf("third provisioned after failure: %d calls", third.calls)
	}
}

func TestProvisionEmptyNames(t *testing.T) {
	m := NewManager(discardLogger())
	if err := m.Provision(context.Background(), nil); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestBlenderBridgeReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	bridge := NewBlenderBridge(ln.Addr().String())
	if err := bridge.Provision(context.Background()); err != nil {
		t.Fatalf("expected reachable bridge, got %v", err)
	}
}

func TestBlenderBridgeUnreachable(t *testing.T) {
	// A listener that is immediately closed yields a refused port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	bridge := NewBlenderBridge(addr)
	if err := bridge.Provision(context.Background()); err == nil {
		t.Fatal("expected unreachable bridge error")
	}
}

func TestBlenderBridgeDefaultAddr(t *testing.T) {
	bridge := NewBlenderBridge("")
	if bridge.addr != DefaultBlenderAddr {
		t.Fatalf("expected default addr, got %q", bridge.addr)
	}
}
