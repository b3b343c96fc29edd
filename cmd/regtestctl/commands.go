package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	regtest "github.com/neverDefined/go-regtest"
	"github.com/neverDefined/go-regtest/internal/logging"
)

var rootCommands = cli.Commands{
	&startCommand,
	&detectCommand,
	&stopCommand,
}

var rootFlags = []cli.Flag{
	&cli.BoolFlag{
		Name:  "v",
		Usage: "verbose output (equivalent to DEBUG log level)",
	},
	&cli.BoolFlag{
		Name:  "console",
		Usage: "log in console mode, with relative timestamps",
	},
	&cli.StringFlag{
		Name:    "backend",
		Aliases: []string{"b"},
		Value:   string(regtest.BackendDocker),
		Usage:   "where to run bitcoind; values: 'docker', 'process'",
	},
	&cli.StringFlag{
		Name:  "config",
		Usage: "TOML file with connection and launch settings; REGTEST_* variables override it",
	},
}

var startCommand = cli.Command{
	Name:   "start",
	Usage:  "start a regtest node, or report the one already running",
	Action: startAction,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "cleanup",
			Usage: "keep running until interrupted, then tear the launched node down",
		},
	},
}

var detectCommand = cli.Command{
	Name:   "detect",
	Usage:  "report the running regtest node, without starting one",
	Action: detectAction,
}

var stopCommand = cli.Command{
	Name:   "stop",
	Usage:  "stop and remove the running regtest node",
	Action: stopAction,
}

func processContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
}

// setupController builds a controller from the global flags.
func setupController(c *cli.Context) (regtest.Controller, error) {
	backend, err := regtest.ParseBackend(c.String("backend"))
	if err != nil {
		return nil, err
	}
	cfg, err := regtest.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	return regtest.New(backend, cfg)
}

func startAction(c *cli.Context) error {
	ctx, cancel := processContext()
	defer cancel()

	ctrl, err := setupController(c)
	if err != nil {
		return err
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			logging.S().Warnw("cleanup failed", "err", err)
		}
	}()

	cleanup := c.Bool("cleanup")
	fmt.Println("    --> starting or detecting container")
	conn, err := ctrl.Start(ctx, cleanup)
	if err != nil {
		return err
	}
	printStatus(conn)

	if cleanup {
		fmt.Println("    --> press Ctrl-C to stop")
		<-ctx.Done()
	}
	return nil
}

func detectAction(c *cli.Context) error {
	ctx, cancel := processContext()
	defer cancel()

	ctrl, err := setupController(c)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	conn, err := ctrl.Detect(ctx)
	switch {
	case errors.Is(err, regtest.ErrAlreadyRunning):
		fmt.Println("    --> a bitcoind not managed by regtestctl is running")
		return nil
	case err != nil:
		return err
	case conn == nil:
		fmt.Println("    --> no bitcoind running")
		return nil
	}
	printStatus(conn)
	return nil
}

func stopAction(c *cli.Context) error {
	ctx, cancel := processContext()
	defer cancel()

	ctrl, err := setupController(c)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	conn, err := ctrl.Detect(ctx)
	if err != nil {
		return err
	}
	if conn == nil {
		fmt.Println("    --> no bitcoind running")
		return nil
	}
	if err := ctrl.Stop(ctx); err != nil {
		return err
	}
	fmt.Printf("    --> stopped bitcoind at %s\n", conn)
	return nil
}

func printStatus(conn *regtest.ConnectionInfo) {
	fmt.Printf("    --> bitcoind running at %s\n", conn)
}
