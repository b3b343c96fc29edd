package regtest

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// containerSubnet is docker's default bridge network; RPC from the host
// reaches a container from an address in this range.
const containerSubnet = "172.17.0.0/16"

// LaunchCommand shapes the bitcoind command line shared by both backends.
// The container backend later reads credentials back out of a running
// container's command with ParseLaunchCommand, so Build and
// ParseLaunchCommand must stay inverses.
type LaunchCommand struct {
	// Binary is the first token of the command.
	Binary    string
	P2PPort   int
	ExtraArgs []string
}

// NewLaunchCommand returns the command shape configured by cfg.
func NewLaunchCommand(cfg *Config) LaunchCommand {
	return LaunchCommand{
		Binary:    cfg.Binary,
		P2PPort:   cfg.P2PPort,
		ExtraArgs: cfg.ExtraArgs,
	}
}

// BuildLaunchCommand builds the default command line for conn; see
// LaunchCommand.Build.
func BuildLaunchCommand(conn *ConnectionInfo, forContainer bool, dataDir string) ([]string, error) {
	return LaunchCommand{Binary: DefaultBinary, P2PPort: DefaultP2PPort}.Build(conn, forContainer, dataDir)
}

// Build returns the daemon command line serving conn. Commands for a local
// process additionally silence console output and use dataDir, which is
// created as a fresh temporary directory when empty.
func (lc LaunchCommand) Build(conn *ConnectionInfo, forContainer bool, dataDir string) ([]string, error) {
	args := []string{
		lc.Binary,
		"-regtest",
		"-port=" + strconv.Itoa(lc.P2PPort),
		"-rpcport=" + strconv.Itoa(conn.Port),
		"-rpcbind=0.0.0.0",
		"-rpcuser=" + conn.User,
		"-rpcpassword=" + conn.Password,
		"-rpcallowip=0.0.0.0/0",
		"-rpcallowip=" + containerSubnet,
	}
	if !forContainer {
		if dataDir == "" {
			dir, err := os.MkdirTemp("", "regtest-bitcoind-")
			if err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
			dataDir = dir
		}
		args = append(args, "-noprinttoconsole", "-datadir="+dataDir)
	}
	return append(args, lc.ExtraArgs...), nil
}

// ParseLaunchCommand recovers user, password and RPC port from a command
// line produced by Build. It scans for key=value tokens (leading dashes
// optional) with the keys rpcuser, rpcpassword and rpcport; the last
// occurrence of a key wins. The host of the result is unset.
func ParseLaunchCommand(args []string) (*ConnectionInfo, error) {
	vals := make(map[string]string, 3)
	for _, arg := range args {
		key, val, ok := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !ok {
			continue
		}
		switch key {
		case "rpcuser", "rpcpassword", "rpcport":
			vals[key] = val
		}
	}

	for _, key := range []string{"rpcuser", "rpcpassword", "rpcport"} {
		if vals[key] == "" {
			return nil, fmt.Errorf("%w: no %s in %q", ErrConfigRecovery, key, args)
		}
	}
	port, err := strconv.Atoi(vals["rpcport"])
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: malformed rpcport %q", ErrConfigRecovery, vals["rpcport"])
	}

	return &ConnectionInfo{
		User:     vals["rpcuser"],
		Password: vals["rpcpassword"],
		Port:     port,
	}, nil
}
