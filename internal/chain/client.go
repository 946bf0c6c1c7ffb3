package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vaultbridge/redeemer/internal/logging"
	"github.com/vaultbridge/redeemer/internal/util"
)

var (
	// ErrNotConnected is returned when the client has no RPC connection
	ErrNotConnected = errors.New("not connected")

	// ErrNoPrivateKey is returned when a transaction is attempted in read-only mode
	ErrNoPrivateKey = errors.New("no private key configured")

	// ErrNoWebSocket is returned when a subscription needs a WebSocket endpoint
	ErrNoWebSocket = errors.New("no websocket endpoint configured")

	// ErrTxReverted is returned when a mined transaction has a failed receipt
	ErrTxReverted = errors.New("transaction reverted")
)

// ClientConfig holds configuration for the ledger client
type ClientConfig struct {
	RPCURL        string
	WSEndpoint    string
	ChainID       int64
	FinalityDepth uint64 // blocks behind head treated as final
	MaxGasPrice   *big.Int
	RetryConfig   *util.RetryConfig
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RPCURL:        "http://127.0.0.1:8545",
		WSEndpoint:    "ws://127.0.0.1:8546",
		ChainID:       1,
		FinalityDepth: 12,
		MaxGasPrice:   big.NewInt(200e9),
		RetryConfig:   util.DefaultRetryConfig(),
	}
}

// Client provides RPC access to the ledger chain
type Client struct {
	config     *ClientConfig
	client     *ethclient.Client
	wsClient   *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	nonceMu      sync.Mutex
	pendingNonce uint64

	connected bool
	mu        sync.RWMutex
}

// NewClient creates a ledger client. A nil privateKey gives a read-only client.
func NewClient(config *ClientConfig, privateKey *ecdsa.PrivateKey) (*Client, error) {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.RetryConfig == nil {
		config.RetryConfig = util.DefaultRetryConfig()
	}
	if config.ChainID <= 0 {
		return nil, fmt.Errorf("invalid chain id: %d", config.ChainID)
	}

	c := &Client{
		config:     config,
		privateKey: privateKey,
		chainID:    big.NewInt(config.ChainID),
	}
	if privateKey != nil {
		c.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}
	return c, nil
}

// LoadSignerKey reads a hex-encoded secp256k1 private key from path.
// An empty path yields a nil key (read-only mode).
func LoadSignerKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return nil, nil
	}
	key, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load signer key: %w", err)
	}
	return key, nil
}

// Connect dials the RPC endpoint (with retry), optionally the WebSocket
// endpoint, and verifies the chain id.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	retry := c.config.RetryConfig.WithOnRetry(func(attempt int, err error, wait time.Duration) {
		logging.Warn("RPC dial failed, retrying",
			"attempt", attempt,
			"wait", wait,
			logging.Err(err))
	})
	client, result := util.RetryWithValue(ctx, retry, func() (*ethclient.Client, error) {
		return ethclient.DialContext(ctx, c.config.RPCURL)
	})
	if result.LastError != nil {
		return fmt.Errorf("failed to connect to RPC: %w", result.LastError)
	}
	c.client = client

	if c.config.WSEndpoint != "" {
		ws, err := ethclient.DialContext(ctx, c.config.WSEndpoint)
		if err != nil {
			// subscriptions degrade, reads and writes still work
			logging.Warn("failed to connect to websocket endpoint", logging.Err(err))
		} else {
			c.wsClient = ws
		}
	}

	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain ID: %w", err)
	}
	if chainID.Cmp(c.chainID) != 0 {
		return fmt.Errorf("chain ID mismatch: expected %d, got %d", c.chainID, chainID)
	}

	if c.privateKey != nil {
		nonce, err := c.client.PendingNonceAt(ctx, c.address)
		if err != nil {
			return fmt.Errorf("failed to get nonce: %w", err)
		}
		c.pendingNonce = nonce
	}

	c.connected = true
	logging.Info("connected to ledger",
		"chain_id", c.chainID.String(),
		"signer", c.signerLabel(),
		"websocket", c.wsClient != nil)
	return nil
}

// ReconnectWS redials the WebSocket endpoint after a dropped subscription.
func (c *Client) ReconnectWS(ctx context.Context) error {
	if c.config.WSEndpoint == "" {
		return ErrNoWebSocket
	}

	ws, err := ethclient.DialContext(ctx, c.config.WSEndpoint)
	if err != nil {
		return fmt.Errorf("failed to redial websocket: %w", err)
	}

	c.mu.Lock()
	old := c.wsClient
	c.wsClient = ws
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// HasWSConfig reports whether a WebSocket endpoint is configured.
func (c *Client) HasWSConfig() bool {
	return c.config.WSEndpoint != ""
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	if c.wsClient != nil {
		c.wsClient.Close()
		c.wsClient = nil
	}
	c.connected = false
}

// IsConnected returns true if connected
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Client returns the underlying ethclient
func (c *Client) Client() *ethclient.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// WSClient returns the WebSocket client for subscriptions
func (c *Client) WSClient() *ethclient.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wsClient
}

// Address returns the signer address
func (c *Client) Address() common.Address {
	return c.address
}

// HasSigner reports whether transactions can be signed
func (c *Client) HasSigner() bool {
	return c.privateKey != nil
}

// ChainID returns the chain ID
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

// FinalityDepth returns the configured finality depth
func (c *Client) FinalityDepth() uint64 {
	return c.config.FinalityDepth
}

// TransactOpts creates signing options with a locally tracked nonce
func (c *Client) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.privateKey == nil {
		return nil, ErrNoPrivateKey
	}

	client := c.Client()
	if client == nil {
		return nil, ErrNotConnected
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	if c.config.MaxGasPrice != nil && gasPrice.Cmp(c.config.MaxGasPrice) > 0 {
		gasPrice = c.config.MaxGasPrice
	}

	auth, err := bind.NewKeyedTransactorWithChainID(c.privateKey, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx
	auth.GasPrice = gasPrice

	c.nonceMu.Lock()
	auth.Nonce = new(big.Int).SetUint64(c.pendingNonce)
	c.pendingNonce++
	c.nonceMu.Unlock()

	return auth, nil
}

// SyncNonce resets the local nonce from the network, used after a send fails
func (c *Client) SyncNonce(ctx context.Context) error {
	client := c.Client()
	if client == nil {
		return ErrNotConnected
	}

	nonce, err := client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return fmt.Errorf("failed to get nonce: %w", err)
	}

	c.nonceMu.Lock()
	c.pendingNonce = nonce
	c.nonceMu.Unlock()
	return nil
}

// WaitForReceipt waits for tx to be mined and returns its receipt. A failed
// receipt is returned together with ErrTxReverted.
func (c *Client) WaitForReceipt(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	client := c.Client()
	if client == nil {
		return nil, ErrNotConnected
	}

	receipt, err := bind.WaitMined(ctx, client, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction: %w", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, fmt.Errorf("%w: %s", ErrTxReverted, tx.Hash().Hex())
	}
	return receipt, nil
}

// BlockNumber returns the current head number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	client := c.Client()
	if client == nil {
		return 0, ErrNotConnected
	}

	n, result := util.RetryWithValue(ctx, c.config.RetryConfig, func() (uint64, error) {
		return client.BlockNumber(ctx)
	})
	if result.LastError != nil {
		return 0, fmt.Errorf("failed to get block number: %w", result.LastError)
	}
	return n, nil
}

// FinalizedHeight returns the head number minus the finality depth
func (c *Client) FinalizedHeight(ctx context.Context) (uint64, error) {
	head, err := c.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	return finalizedAt(head, c.config.FinalityDepth), nil
}

// finalizedAt clamps at zero for chains shorter than the finality depth
func finalizedAt(head, depth uint64) uint64 {
	if head < depth {
		return 0
	}
	return head - depth
}

func (c *Client) signerLabel() string {
	if c.privateKey == nil {
		return "read-only"
	}
	return c.address.Hex()
}

// sleepOrDone sleeps for d or returns false if ctx is done first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
