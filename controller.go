package regtest

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Controller manages the lifecycle of a single regtest bitcoind instance.
//
// Implementations are ProcessController and ContainerController. A
// controller is meant to be driven by a single goroutine.
type Controller interface {
	// Start returns the connection of an already running instance the
	// controller may use, or launches one, waits for it to answer RPC and
	// mines the bootstrap blocks. With cleanupAtExit the launched instance
	// is torn down by Close.
	Start(ctx context.Context, cleanupAtExit bool) (*ConnectionInfo, error)

	// Detect returns the connection of an existing usable instance, or nil
	// when there is none. It only inspects.
	Detect(ctx context.Context) (*ConnectionInfo, error)

	// Stop tears down the instance owned by the controller.
	Stop(ctx context.Context) error

	// Close releases everything registered with cleanupAtExit.
	Close() error
}

// backend is what a controller contributes to startInstance.
type backend interface {
	Detect(ctx context.Context) (*ConnectionInfo, error)
	launch(ctx context.Context, cleanupAtExit bool) (*ConnectionInfo, error)
}

// startInstance is the start sequence shared by all controllers: detect,
// launch if nothing was detected, wait for RPC, mine the bootstrap blocks.
func startInstance(ctx context.Context, b backend, w *Waiter, blocks int, log *zap.SugaredLogger, cleanupAtExit bool) (*ConnectionInfo, error) {
	conn, err := b.Detect(ctx)
	if err != nil {
		return nil, err
	}
	if conn != nil {
		log.Infow("using existing bitcoind", "conn", conn.String())
		return conn, nil
	}

	conn, err = b.launch(ctx, cleanupAtExit)
	if err != nil {
		return nil, err
	}

	if err := w.Wait(ctx, conn); err != nil {
		return nil, err
	}

	if err := bootstrap(w.dial, conn, blocks, log); err != nil {
		return nil, fmt.Errorf("failed to bootstrap chain at %s: %w", conn, err)
	}
	log.Infow("bitcoind ready", "conn", conn.String())
	return conn, nil
}

// bootstrap mines blocks to a fresh wallet address. bitcoind >= 0.21 starts
// without a wallet, so the configured one is created (or loaded) first when
// the node reports -18.
func bootstrap(dial DialFunc, conn *ConnectionInfo, blocks int, log *zap.SugaredLogger) error {
	client, err := dial(conn)
	if err != nil {
		return err
	}
	defer client.Shutdown()

	addr, err := client.GetNewAddress("")
	if isRPCCode(err, rpcWalletNotFound) {
		if err := ensureWallet(client, conn.Wallet); err != nil {
			return err
		}
		addr, err = client.GetNewAddress("")
	}
	if err != nil {
		return fmt.Errorf("getnewaddress: %w", err)
	}

	log.Debugw("mining bootstrap blocks", "blocks", blocks, "address", addr.EncodeAddress())
	if _, err := client.GenerateToAddress(int64(blocks), addr, nil); err != nil {
		return fmt.Errorf("generatetoaddress: %w", err)
	}
	return nil
}

func ensureWallet(client NodeClient, name string) error {
	_, err := client.CreateWallet(name)
	if err == nil {
		return nil
	}
	if !isRPCCode(err, rpcWalletError) {
		return fmt.Errorf("createwallet %q: %w", name, err)
	}
	// exists on disk, but not loaded.
	if _, err := client.LoadWallet(name); err != nil {
		return fmt.Errorf("loadwallet %q: %w", name, err)
	}
	return nil
}
