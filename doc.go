/*
Package regtest provisions a disposable Bitcoin Core regtest node as a test fixture.

A node is run either as a local child process (ProcessController) or inside a docker
container (ContainerController). Both implement Controller: Start finds a usable node or
launches one, waits until it answers RPC and mines 101 blocks so the first coinbase is
spendable; Stop and Close tear it down again.

# Quick Start

	ctl, err := regtest.New(regtest.BackendProcess, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer ctl.Close()

	conn, err := ctl.Start(ctx, true) // true: Close kills the node and removes its datadir
	if err != nil {
		log.Fatal(err)
	}

	client, err := regtest.Client(conn)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Shutdown()

	height, _ := client.GetBlockCount()
	fmt.Printf("Block height: %d\n", height) // 101

# Backends

ProcessController execs bitcoind directly (no shell in between) with a private temporary
data directory. It never adopts a node it did not launch: if something already answers on
the configured RPC port, Start fails with ErrAlreadyRunning.

ContainerController runs bitcoind from a fixed image with the RPC and P2P ports published.
Any container whose command starts with "bitcoind" is a candidate. When exactly one is running
as the controller is constructed, the controller takes it over and reads user, password and port
back from its command line. Later it only uses containers it owns: any other running candidate
makes Start fail with ErrAmbiguousInstance rather than pick one.

# Configuration

Default settings:
  - RPC user/password: bitcoin/secret
  - RPC port: 18543 (not bitcoind's 18443, so a developer's own regtest node is left alone)
  - P2P port: 18544
  - Readiness wait: 20 attempts, 500ms apart

Pass a *Config to the constructors, set a package-wide one with SetConfig, or read one from
a TOML file with LoadConfig, which also honours REGTEST_RPCUSER, REGTEST_RPCPASSWORD,
REGTEST_RPCPORT, REGTEST_IMAGE and REGTEST_BITCOIND.

# Cleanup

Instances started with cleanupAtExit are registered with the controller and torn down by
Close, newest first, whatever path the test takes out of its function. Always defer Close:

	ctl, _ := regtest.NewContainerController(nil)
	defer ctl.Close()

Process instances are killed (not terminated; speed matters more than a graceful shutdown
of a throwaway chain) and their data directory is removed. Containers are stopped and
removed.

# Error Handling

Every failure is fatal to the operation; there is no partial success. Match with errors.Is:
  - ErrTimeout: the node never answered RPC (the error is a *TimeoutError)
  - ErrAlreadyRunning: a foreign node occupies the process backend's port
  - ErrAmbiguousInstance: the container backend cannot tell which container is its own
  - ErrContainerStartTimeout, ErrContainerLost: a launched container never came up
  - ErrConfigRecovery: a container's command line lacks rpcuser/rpcpassword/rpcport

# Thread Safety

A controller is meant to be driven by one goroutine. The package-level helpers
StartBitcoinRegtest, StopBitcoinRegtest and IsBitcoindRunning are serialized by a mutex.

# Prerequisites

Install Bitcoin Core for the process backend:
  - macOS: brew install bitcoin
  - Ubuntu/Debian: sudo apt-get install bitcoind
  - Arch: sudo pacman -S bitcoin-core

The container backend needs a reachable docker engine (DOCKER_HOST or the default socket).
Container addresses on docker's bridge network are only routable from Linux hosts.

NOT for production use.
*/
package regtest
