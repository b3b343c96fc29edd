package regtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/hashicorp/go-multierror"
)

// ---------------------------------------------------------------
//  Backends
// ---------------------------------------------------------------

// Backend names a Controller implementation.
type Backend string

const (
	// BackendProcess runs bitcoind as a local child process.
	BackendProcess Backend = "process"
	// BackendDocker runs bitcoind in a docker container.
	BackendDocker Backend = "docker"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case BackendProcess, BackendDocker:
		return b, nil
	}
	return "", fmt.Errorf("%w: unknown backend %q (want %q or %q)", ErrUnsupported, s, BackendProcess, BackendDocker)
}

// New returns a controller of the given backend. A nil cfg uses GetConfig.
func New(backend Backend, cfg *Config) (Controller, error) {
	switch backend {
	case BackendProcess:
		return NewProcessController(cfg)
	case BackendDocker:
		return NewContainerController(cfg)
	}
	return nil, fmt.Errorf("%w: unknown backend %q", ErrUnsupported, backend)
}

// ---------------------------------------------------------------
//  Package-level fixture
// ---------------------------------------------------------------

var (
	// bitcoindMutex serializes start/stop of the package-level fixture.
	bitcoindMutex sync.Mutex

	// fixture is the controller behind StartBitcoinRegtest, running on
	// fixtureBackend; nil until the first successful start.
	fixture        Controller
	fixtureBackend Backend

	newController = New
)

// DefaultRegtestConfig returns an rpcclient configuration for a node on the
// local host using the package-wide configuration.
//
// Example:
//
//	client, err := rpcclient.New(regtest.DefaultRegtestConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer client.Shutdown()
func DefaultRegtestConfig() *rpcclient.ConnConfig {
	conn := NewConnectionInfo(GetConfig())
	conn.SetHost("127.0.0.1")
	cfg, _ := conn.RPCConfig()
	return cfg
}

// StartBitcoinRegtest starts the package-level fixture with the given backend,
// or returns the connection of the one already running. The fixture is torn
// down by StopBitcoinRegtest. Asking for another backend while a fixture
// exists fails with ErrUnsupported.
//
// Example:
//
//	conn, err := regtest.StartBitcoinRegtest(ctx, regtest.BackendProcess)
//	if err != nil {
//	    log.Fatalf("Failed to start Bitcoin node: %v", err)
//	}
//	defer regtest.StopBitcoinRegtest(ctx) // Always clean up
func StartBitcoinRegtest(ctx context.Context, backend Backend) (*ConnectionInfo, error) {
	bitcoindMutex.Lock()
	defer bitcoindMutex.Unlock()

	if fixture != nil && fixtureBackend != backend {
		return nil, fmt.Errorf("%w: bitcoind fixture already runs on the %s backend, not %s",
			ErrUnsupported, fixtureBackend, backend)
	}
	created := fixture == nil
	if created {
		c, err := newController(backend, nil)
		if err != nil {
			return nil, err
		}
		fixture, fixtureBackend = c, backend
	}
	conn, err := fixture.Start(ctx, true)
	if err != nil && created {
		if closeErr := fixture.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
		fixture, fixtureBackend = nil, ""
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start bitcoind (%s): %w", backend, err)
	}
	return conn, nil
}

// StopBitcoinRegtest stops the package-level fixture and releases it.
// Stopping when nothing was started is a no-op.
func StopBitcoinRegtest(ctx context.Context) error {
	bitcoindMutex.Lock()
	defer bitcoindMutex.Unlock()

	if fixture == nil {
		return nil
	}
	c := fixture
	fixture, fixtureBackend = nil, ""

	stopErr := c.Stop(ctx)
	closeErr := c.Close()
	if stopErr != nil {
		return fmt.Errorf("failed to stop bitcoind: %w", stopErr)
	}
	return closeErr
}

// IsBitcoindRunning reports whether the package-level fixture has a live
// node. A foreign node on the process backend's port counts as running.
func IsBitcoindRunning(ctx context.Context) (bool, error) {
	bitcoindMutex.Lock()
	defer bitcoindMutex.Unlock()

	if fixture == nil {
		return false, nil
	}
	conn, err := fixture.Detect(ctx)
	if errors.Is(err, ErrAlreadyRunning) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check bitcoind status: %w", err)
	}
	return conn != nil, nil
}
