package regtest

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
)

// fakeNode stands in for a bitcoind RPC endpoint.
type fakeNode struct {
	mu sync.Mutex

	// probeErrs are returned by successive getblockchaininfo calls; once
	// exhausted, probeErr is returned (nil: success).
	probeErrs []error
	probeErr  error

	// noWallet makes getnewaddress fail with -18 until a wallet is
	// created or loaded; walletOnDisk makes createwallet fail with -4.
	noWallet     bool
	walletOnDisk bool

	dials     int
	probes    int
	shutdowns int
	created   []string
	loaded    []string
	addresses []btcutil.Address
	generated []generateCall
	height    int64
}

type generateCall struct {
	blocks int64
	addr   string
}

func (n *fakeNode) dial(conn *ConnectionInfo) (NodeClient, error) {
	if !conn.HasHost() {
		return nil, ErrHostUnset
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dials++
	return &fakeClient{node: n}, nil
}

func (n *fakeNode) counts() (dials, probes int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials, n.probes
}

type fakeClient struct {
	node *fakeNode
}

func (c *fakeClient) GetBlockChainInfo() (*btcjson.GetBlockChainInfoResult, error) {
	n := c.node
	n.mu.Lock()
	defer n.mu.Unlock()
	n.probes++
	if len(n.probeErrs) > 0 {
		err := n.probeErrs[0]
		n.probeErrs = n.probeErrs[1:]
		return nil, err
	}
	if n.probeErr != nil {
		return nil, n.probeErr
	}
	return &btcjson.GetBlockChainInfoResult{Chain: "regtest", Blocks: int32(n.height)}, nil
}

func (c *fakeClient) GetBlockCount() (int64, error) {
	c.node.mu.Lock()
	defer c.node.mu.Unlock()
	return c.node.height, nil
}

func (c *fakeClient) GetNewAddress(string) (btcutil.Address, error) {
	n := c.node
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.noWallet {
		return nil, &btcjson.RPCError{Code: rpcWalletNotFound, Message: "No wallet is loaded."}
	}
	hash := make([]byte, 20)
	hash[0] = byte(len(n.addresses) + 1)
	addr, err := btcutil.NewAddressPubKeyHash(hash, &chaincfg.RegressionNetParams)
	if err != nil {
		return nil, err
	}
	n.addresses = append(n.addresses, addr)
	return addr, nil
}

func (c *fakeClient) GenerateToAddress(numBlocks int64, address btcutil.Address, _ *int64) ([]*chainhash.Hash, error) {
	n := c.node
	n.mu.Lock()
	defer n.mu.Unlock()
	n.generated = append(n.generated, generateCall{blocks: numBlocks, addr: address.EncodeAddress()})
	n.height += numBlocks
	hashes := make([]*chainhash.Hash, numBlocks)
	for i := range hashes {
		hashes[i] = &chainhash.Hash{}
	}
	return hashes, nil
}

func (c *fakeClient) CreateWallet(name string, _ ...rpcclient.CreateWalletOpt) (*btcjson.CreateWalletResult, error) {
	n := c.node
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, name)
	if n.walletOnDisk {
		return nil, &btcjson.RPCError{Code: rpcWalletError, Message: "Wallet file verification failed. Database already exists."}
	}
	n.noWallet = false
	return &btcjson.CreateWalletResult{Name: name}, nil
}

func (c *fakeClient) LoadWallet(name string) (*btcjson.LoadWalletResult, error) {
	n := c.node
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loaded = append(n.loaded, name)
	n.noWallet = false
	return &btcjson.LoadWalletResult{Name: name}, nil
}

func (c *fakeClient) Shutdown() {
	c.node.mu.Lock()
	defer c.node.mu.Unlock()
	c.node.shutdowns++
}

// testConfig returns the defaults with a fast readiness wait.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.WaitInterval = time.Millisecond
	return cfg
}

func testWaiter(node *fakeNode, attempts int, interval time.Duration) *Waiter {
	w := NewWaiter(testConfig())
	w.Attempts = attempts
	w.Interval = interval
	w.dial = node.dial
	return w
}

func requireErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected error wrapping %v, got %v", target, err)
	}
}
