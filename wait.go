package regtest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/neverDefined/go-regtest/internal/logging"
)

// Waiter polls a node until it answers RPC calls.
type Waiter struct {
	// Interval is the pause between two attempts.
	Interval time.Duration
	// Attempts is the total number of probes before giving up.
	Attempts int

	dial DialFunc
	log  *zap.SugaredLogger
}

// NewWaiter returns a Waiter with the attempt bounds of cfg that dials with
// btcd's rpcclient.
func NewWaiter(cfg *Config) *Waiter {
	return &Waiter{
		Interval: cfg.WaitInterval,
		Attempts: cfg.WaitAttempts,
		dial:     Dial,
		log:      logging.S(),
	}
}

// Probe makes a single getblockchaininfo call. It returns (false, nil) when
// the node is not ready yet and an error only for failures that retrying
// cannot fix.
func (w *Waiter) Probe(_ context.Context, conn *ConnectionInfo) (bool, error) {
	err := w.probe(conn)
	switch {
	case err == nil:
		return true, nil
	case isTransient(err):
		return false, nil
	default:
		return false, err
	}
}

func (w *Waiter) probe(conn *ConnectionInfo) error {
	client, err := w.dial(conn)
	if err != nil {
		return err
	}
	defer client.Shutdown()

	_, err = client.GetBlockChainInfo()
	return err
}

// Wait probes conn until it answers, making at most Attempts probes spaced
// Interval apart. It returns a *TimeoutError when all of them fail with
// transient errors, and returns any other error right away.
func (w *Waiter) Wait(ctx context.Context, conn *ConnectionInfo) error {
	var last error
	for i := 1; i <= w.Attempts; i++ {
		err := w.probe(conn)
		if err == nil {
			w.log.Debugw("bitcoind is answering", "conn", conn.String(), "attempt", i)
			return nil
		}
		if !isTransient(err) {
			return err
		}
		last = err
		w.log.Debugw("bitcoind not ready yet", "conn", conn.String(), "attempt", i, "err", err)

		if i == w.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.Interval):
		}
	}
	return &TimeoutError{Conn: *conn, Attempts: w.Attempts, Last: last}
}
