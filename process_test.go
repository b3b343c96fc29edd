package regtest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// newFakeDaemon writes an executable that ignores its arguments and sleeps,
// standing in for bitcoind.
func newFakeDaemon(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	bin := filepath.Join(t.TempDir(), "bitcoind")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\nexec sleep 300\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin
}

func newTestProcessController(t *testing.T, node *fakeNode) *ProcessController {
	t.Helper()
	cfg := testConfig()
	cfg.Binary = newFakeDaemon(t)

	p, err := NewProcessController(cfg)
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	p.waiter.dial = node.dial
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestProcessController_MissingBinary(t *testing.T) {
	cfg := testConfig()
	cfg.Binary = "bitcoind-that-does-not-exist"
	if _, err := NewProcessController(cfg); err == nil {
		t.Fatal("expected an error for a missing binary")
	}
}

func TestProcessController_UsesIPv4Loopback(t *testing.T) {
	p := newTestProcessController(t, &fakeNode{})
	if p.Conn().Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", p.Conn().Host)
	}
}

func TestProcessController_DetectForeignNode(t *testing.T) {
	p := newTestProcessController(t, &fakeNode{})

	_, err := p.Detect(context.Background())
	requireErrorIs(t, err, ErrAlreadyRunning)

	_, err = p.Start(context.Background(), true)
	requireErrorIs(t, err, ErrAlreadyRunning)
	if p.PID() != 0 {
		t.Error("must not launch next to a foreign node")
	}
}

func TestProcessController_DetectNothing(t *testing.T) {
	p := newTestProcessController(t, &fakeNode{probeErr: ErrNotReachable})

	conn, err := p.Detect(context.Background())
	if err != nil || conn != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", conn, err)
	}
}

func TestProcessController_CleanupAtClose(t *testing.T) {
	p := newTestProcessController(t, &fakeNode{})

	if _, err := p.launch(context.Background(), true); err != nil {
		t.Fatalf("failed to launch: %v", err)
	}
	proc, dir := p.proc, p.DataDir()
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("data directory missing: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	select {
	case <-proc.done:
	case <-time.After(5 * time.Second):
		t.Fatal("daemon still running after Close")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("data directory %s survived Close: %v", dir, err)
	}
	if p.PID() != 0 {
		t.Error("a dead process must be forgotten after Close")
	}
}

func TestProcessController_NoCleanupLeavesProcess(t *testing.T) {
	p := newTestProcessController(t, &fakeNode{})

	if _, err := p.launch(context.Background(), false); err != nil {
		t.Fatalf("failed to launch: %v", err)
	}
	proc := p.proc
	defer proc.guard.Release()

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if !proc.alive() {
		t.Fatal("Close must not touch instances launched without cleanup")
	}
}

func TestProcessController_StartStop(t *testing.T) {
	ctx := context.Background()
	// the first probe is Start's detection, before anything was launched.
	node := &fakeNode{probeErrs: []error{ErrNotReachable}}
	p := newTestProcessController(t, node)

	conn, err := p.Start(ctx, false)
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	pid, dir := p.PID(), p.DataDir()
	if pid == 0 || dir == "" {
		t.Fatal("expected a launched process")
	}
	if len(node.generated) != 1 || node.generated[0].blocks != BootstrapBlocks {
		t.Errorf("expected %d bootstrap blocks, got %+v", BootstrapBlocks, node.generated)
	}

	again, err := p.Start(ctx, false)
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if again != conn || p.PID() != pid {
		t.Error("second start must reuse the running process")
	}

	if err := p.Stop(ctx); err != nil {
		t.Fatalf("failed to stop: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("data directory %s survived Stop: %v", dir, err)
	}
	requireErrorIs(t, p.Stop(ctx), ErrUnsupported)
}
