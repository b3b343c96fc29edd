package regtest

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReachable is returned by a single probe that could not reach the
	// node. Waiter treats it as "not ready yet".
	ErrNotReachable = errors.New("bitcoind not reachable")

	// ErrTimeout is wrapped by every *TimeoutError.
	ErrTimeout = errors.New("timed out waiting for bitcoind")

	// ErrAlreadyRunning means a node the controller does not own already
	// answers on the configured RPC endpoint.
	ErrAlreadyRunning = errors.New("bitcoind already running")

	// ErrAmbiguousInstance means the controller cannot positively identify
	// which running instance is its own.
	ErrAmbiguousInstance = errors.New("ambiguous bitcoind instance")

	// ErrContainerStartTimeout means a started container never got a
	// network address.
	ErrContainerStartTimeout = errors.New("timed out starting bitcoind container")

	// ErrContainerLost means a started container vanished or died before
	// it could be detected.
	ErrContainerLost = errors.New("bitcoind container lost")

	// ErrUnsupported is returned for operations a backend cannot perform.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrConfigRecovery means connection settings could not be recovered
	// from a launch command.
	ErrConfigRecovery = errors.New("cannot recover connection settings")

	// ErrHostUnset is returned when a ConnectionInfo is used before a
	// backend assigned its host.
	ErrHostUnset = errors.New("connection host not set")
)

// TimeoutError is returned when a node did not become ready in time.
type TimeoutError struct {
	Conn     ConnectionInfo
	Attempts int
	// Last is the last transient error seen, if any.
	Last error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timeout while trying to reach bitcoind at %s after %d attempts", e.Conn, e.Attempts)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}
