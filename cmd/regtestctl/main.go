package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/neverDefined/go-regtest/internal/logging"
)

func main() {
	app := cli.NewApp()
	app.Name = "regtestctl"
	app.Usage = "start, detect and stop a bitcoind regtest node"
	app.Description = "regtestctl manages a throwaway bitcoind regtest node, either as a " +
		"local process or in a docker container, for development and tests."
	app.Commands = rootCommands
	app.Flags = rootFlags
	// Disable the built-in -v flag (version), to avoid collisions with the
	// verbosity flag.
	app.HideVersion = true
	app.Before = func(c *cli.Context) error {
		return configureLogging(c)
	}
	// without a subcommand, behave like `regtestctl start`.
	app.Action = startAction

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func configureLogging(c *cli.Context) error {
	if c.Bool("console") {
		logging.ConsoleMode()
	}

	// The LOG_LEVEL environment variable takes precedence.
	if level := os.Getenv(logging.EnvLogLevel); level != "" {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("invalid %s: %w", logging.EnvLogLevel, err)
		}
		logging.SetLevel(l)
		return nil
	}

	switch {
	case c.Bool("v"):
		logging.SetLevel(zapcore.DebugLevel)
	default:
		logging.SetLevel(zapcore.InfoLevel)
	}
	return nil
}
