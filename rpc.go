package regtest

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
)

// dialTimeout bounds the TCP preflight of a single probe.
const dialTimeout = 2 * time.Second

// bitcoind wallet RPC error codes.
const (
	rpcWalletError    btcjson.RPCErrorCode = -4
	rpcWalletNotFound btcjson.RPCErrorCode = -18
)

// NodeClient is the part of *rpcclient.Client the controllers use.
type NodeClient interface {
	GetBlockChainInfo() (*btcjson.GetBlockChainInfoResult, error)
	GetBlockCount() (int64, error)
	GetNewAddress(account string) (btcutil.Address, error)
	GenerateToAddress(numBlocks int64, address btcutil.Address, maxTries *int64) ([]*chainhash.Hash, error)
	CreateWallet(name string, opts ...rpcclient.CreateWalletOpt) (*btcjson.CreateWalletResult, error)
	LoadWallet(walletName string) (*btcjson.LoadWalletResult, error)
	Shutdown()
}

var _ NodeClient = (*rpcclient.Client)(nil)

// DialFunc opens an RPC client for conn.
type DialFunc func(conn *ConnectionInfo) (NodeClient, error)

// Dial opens a btcd rpcclient for conn. Because rpcclient retries refused
// HTTP POST requests with a linear backoff for several seconds, Dial first
// checks that the RPC port accepts TCP connections and fails fast with
// ErrNotReachable otherwise.
func Dial(conn *ConnectionInfo) (NodeClient, error) {
	cfg, err := conn.RPCConfig()
	if err != nil {
		return nil, err
	}
	addr, _ := conn.Address()
	c, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotReachable, addr, err)
	}
	_ = c.Close()

	return rpcclient.New(cfg, nil)
}

// Client opens a btcd rpcclient for conn. The caller owns the client and
// must Shutdown it.
func Client(conn *ConnectionInfo) (*rpcclient.Client, error) {
	cfg, err := conn.RPCConfig()
	if err != nil {
		return nil, err
	}
	return rpcclient.New(cfg, nil)
}

// isTransient reports whether err only means "the node is not ready yet":
// nothing listens, the connection broke off, or the node answered with an
// RPC-level error such as -28 (warming up). Everything else, including HTTP
// authentication failures, is fatal.
func isTransient(err error) bool {
	var rpcErr *btcjson.RPCError
	switch {
	case errors.Is(err, ErrNotReachable),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &rpcErr):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isRPCCode(err error, code btcjson.RPCErrorCode) bool {
	var rpcErr *btcjson.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}
