package regtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
)

func localConn() *ConnectionInfo {
	conn := NewConnectionInfo(DefaultConfig())
	conn.SetHost("127.0.0.1")
	return conn
}

func TestWaiter_TimesOutAfterExactAttempts(t *testing.T) {
	const interval = 5 * time.Millisecond
	node := &fakeNode{probeErr: fmt.Errorf("%w: connection refused", ErrNotReachable)}
	w := testWaiter(node, DefaultWaitAttempts, interval)

	start := time.Now()
	err := w.Wait(context.Background(), localConn())
	elapsed := time.Since(start)

	requireErrorIs(t, err, ErrTimeout)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TimeoutError, got %T", err)
	}
	if te.Conn.Port != DefaultRPCPort || te.Conn.Host != "127.0.0.1" {
		t.Errorf("timeout error lacks the connection: %+v", te.Conn)
	}
	if te.Attempts != DefaultWaitAttempts {
		t.Errorf("expected %d attempts in error, got %d", DefaultWaitAttempts, te.Attempts)
	}

	if _, probes := node.counts(); probes != DefaultWaitAttempts {
		t.Errorf("expected exactly %d probes, got %d", DefaultWaitAttempts, probes)
	}
	if floor := (DefaultWaitAttempts - 1) * interval; elapsed < floor {
		t.Errorf("attempts not spaced: took %s, want at least %s", elapsed, floor)
	}
}

func TestWaiter_RetriesRPCErrors(t *testing.T) {
	warmup := &btcjson.RPCError{Code: -28, Message: "Loading block index..."}
	node := &fakeNode{probeErrs: []error{warmup, warmup, io.EOF}}
	w := testWaiter(node, DefaultWaitAttempts, time.Millisecond)

	if err := w.Wait(context.Background(), localConn()); err != nil {
		t.Fatalf("expected the node to become ready, got %v", err)
	}
	if _, probes := node.counts(); probes != 4 {
		t.Errorf("expected 4 probes, got %d", probes)
	}
	if node.shutdowns != node.dials {
		t.Errorf("every client must be shut down: %d dials, %d shutdowns", node.dials, node.shutdowns)
	}
}

func TestWaiter_FatalErrorPropagates(t *testing.T) {
	authErr := errors.New(`status code: 401, response: ""`)
	node := &fakeNode{probeErr: authErr}
	w := testWaiter(node, DefaultWaitAttempts, time.Millisecond)

	err := w.Wait(context.Background(), localConn())
	if !errors.Is(err, authErr) {
		t.Fatalf("expected the auth error, got %v", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatal("a fatal error must not turn into a timeout")
	}
	if _, probes := node.counts(); probes != 1 {
		t.Errorf("expected a single probe, got %d", probes)
	}
}

func TestWaiter_HostUnsetIsFatal(t *testing.T) {
	node := &fakeNode{}
	w := testWaiter(node, DefaultWaitAttempts, time.Millisecond)

	err := w.Wait(context.Background(), NewConnectionInfo(DefaultConfig()))
	requireErrorIs(t, err, ErrHostUnset)
}

func TestWaiter_ContextCanceled(t *testing.T) {
	node := &fakeNode{probeErr: ErrNotReachable}
	w := testWaiter(node, DefaultWaitAttempts, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	err := w.Wait(ctx, localConn())
	requireErrorIs(t, err, context.Canceled)
}

func TestWaiter_Probe(t *testing.T) {
	node := &fakeNode{probeErrs: []error{ErrNotReachable, errors.New("boom")}}
	w := testWaiter(node, 1, time.Millisecond)
	conn := localConn()

	if ok, err := w.Probe(context.Background(), conn); ok || err != nil {
		t.Errorf("unreachable node: expected (false, nil), got (%v, %v)", ok, err)
	}
	if ok, err := w.Probe(context.Background(), conn); ok || err == nil {
		t.Errorf("fatal probe error: expected (false, err), got (%v, %v)", ok, err)
	}
	if ok, err := w.Probe(context.Background(), conn); !ok || err != nil {
		t.Errorf("ready node: expected (true, nil), got (%v, %v)", ok, err)
	}
}

func TestIsTransient(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}

	for name, tc := range map[string]struct {
		err  error
		want bool
	}{
		"not reachable": {fmt.Errorf("%w: x", ErrNotReachable), true},
		"refused":       {refused, true},
		"reset":         {fmt.Errorf("post: %w", syscall.ECONNRESET), true},
		"eof":           {io.EOF, true},
		"rpc error":     {fmt.Errorf("wrapped: %w", &btcjson.RPCError{Code: -28}), true},
		"auth":          {errors.New("status code: 401"), false},
		"host unset":    {ErrHostUnset, false},
		"unknown plain": {errors.New("boom"), false},
		"deadline":      {&net.OpError{Op: "dial", Err: os.ErrDeadlineExceeded}, true},
	} {
		t.Run(name, func(t *testing.T) {
			if got := isTransient(tc.err); got != tc.want {
				t.Errorf("isTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestDial_NotReachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	conn := &ConnectionInfo{User: "u", Password: "p", Port: port}
	conn.SetHost("127.0.0.1")

	_, err = Dial(conn)
	requireErrorIs(t, err, ErrNotReachable)
}
