package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"trocswap-bot/internal/cache"
	"trocswap-bot/internal/metrics"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	transferGasLimit    = 21000
	receiptPollInterval = 2 * time.Second
)

// ErrInvalidAddress indicates a malformed ledger address.
var ErrInvalidAddress = errors.New("invalid ledger address")

// ErrSettlementPending indicates a previously submitted transaction for the
// same trade is still in flight; the caller must retry later instead of
// racing a second transfer against it.
var ErrSettlementPending = errors.New("settlement transaction awaiting confirmation")

// ErrUnknownConfirmation indicates a confirmation callback that references
// no recorded settlement; the watcher should redeliver once the deposit
// reference is persisted.
var ErrUnknownConfirmation = errors.New("confirmation references no known settlement")

// errTxReverted marks a transaction the chain accepted and rejected; its
// nonce is spent, so a fresh submission cannot pay twice.
var errTxReverted = errors.New("transaction reverted")

// idempotencyStore persists per-trade settlement hashes and held amounts
// between process restarts. Satisfied by *cache.Redis.
type idempotencyStore interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// node is the subset of the Ethereum RPC used by the gateway.
type node interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

// Config holds ledger client configuration.
type Config struct {
	RPCURL           string
	ChainID          int64
	EscrowAddress    string
	EscrowPrivateKey string
	WeiPerUnit       int64
	Timeout          time.Duration
	Confirmations    uint64
}

// Wallet is a freshly generated custodial key pair. The private key must be
// sealed by the vault before it is persisted anywhere.
type Wallet struct {
	Address       string
	PrivateKeyHex string
}

// Client settles barter balances against an Ethereum-compatible node. The
// escrow account is a custodial hot wallet holding deposits until release.
type Client struct {
	logger        *slog.Logger
	metrics       *metrics.Metrics
	cache         idempotencyStore
	node          node
	closer        func()
	chainID       *big.Int
	escrowAddr    common.Address
	escrowKey     *ecdsa.PrivateKey
	weiPerUnit    *big.Int
	timeout       time.Duration
	confirmations uint64
}

// Dial connects to the configured RPC endpoint and prepares the escrow
// signer.
func Dial(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics, redis *cache.Redis) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.RPCURL)
	if endpoint == "" {
		return nil, fmt.Errorf("ledger rpc url required")
	}
	if !common.IsHexAddress(cfg.EscrowAddress) {
		return nil, fmt.Errorf("escrow address %q: %w", cfg.EscrowAddress, ErrInvalidAddress)
	}
	escrowKey, err := gethcrypto.HexToECDSA(strings.TrimPrefix(cfg.EscrowPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse escrow key: %w", err)
	}

	eth, err := ethclient.Dial(endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial ledger node: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	weiPerUnit := cfg.WeiPerUnit
	if weiPerUnit <= 0 {
		weiPerUnit = 1
	}

	client := &Client{
		logger:        logger.With("component", "ledger"),
		metrics:       metricRegistry,
		node:          eth,
		closer:        eth.Close,
		chainID:       big.NewInt(cfg.ChainID),
		escrowAddr:    common.HexToAddress(cfg.EscrowAddress),
		escrowKey:     escrowKey,
		weiPerUnit:    big.NewInt(weiPerUnit),
		timeout:       timeout,
		confirmations: cfg.Confirmations,
	}
	// A nil *cache.Redis must stay a nil interface value.
	if redis != nil {
		client.cache = redis
	}
	return client, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// EscrowAddress returns the configured escrow account address.
func (c *Client) EscrowAddress() string {
	return c.escrowAddr.Hex()
}

// CreateWallet generates a fresh custodial key pair. It never touches the
// node.
func (c *Client) CreateWallet() (*Wallet, error) {
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate wallet key: %w", err)
	}
	return &Wallet{
		Address:       gethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKeyHex: fmt.Sprintf("%x", gethcrypto.FromECDSA(key)),
	}, nil
}

// Balance returns the address balance in bamekap units, rounded down.
func (c *Client) Balance(ctx context.Context, address string) (int64, error) {
	if !common.IsHexAddress(address) {
		return 0, fmt.Errorf("balance of %q: %w", address, ErrInvalidAddress)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	wei, err := c.node.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		c.observe("balance", "error", 0)
		return 0, fmt.Errorf("ledger balance: %w", err)
	}
	return new(big.Int).Div(wei, c.weiPerUnit).Int64(), nil
}

// DepositToEscrow moves the balance amount from the payer wallet into the
// escrow account and returns the settlement reference. Submissions are
// idempotent per trade identifier.
func (c *Client) DepositToEscrow(ctx context.Context, tradeID, payerKeyHex string, amount int64) (string, error) {
	key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(payerKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("parse payer key: %w", err)
	}
	hash, err := c.sendValue(ctx, "deposit", depositKey(tradeID), key, c.escrowAddr, amount)
	if err != nil {
		return "", err
	}
	c.recordHeldAmount(ctx, tradeID, amount)
	return hash, nil
}

// ReleaseFromEscrow pays the held balance out of the escrow account to the
// recipient address. Submissions are idempotent per trade identifier.
func (c *Client) ReleaseFromEscrow(ctx context.Context, tradeID, recipientAddress string) (string, error) {
	if !common.IsHexAddress(recipientAddress) {
		return "", fmt.Errorf("release to %q: %w", recipientAddress, ErrInvalidAddress)
	}
	trade, err := c.heldAmount(ctx, tradeID)
	if err != nil {
		return "", err
	}
	return c.sendValue(ctx, "release", releaseKey(tradeID), c.escrowKey, common.HexToAddress(recipientAddress), trade)
}

// Transfer moves funds directly between two participant wallets; used by
// the purchase flow.
func (c *Client) Transfer(ctx context.Context, fromKeyHex, toAddress string, amount int64) (string, error) {
	if !common.IsHexAddress(toAddress) {
		return "", fmt.Errorf("transfer to %q: %w", toAddress, ErrInvalidAddress)
	}
	key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(fromKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("parse sender key: %w", err)
	}
	return c.sendValue(ctx, "transfer", "", key, common.HexToAddress(toAddress), amount)
}

func (c *Client) sendValue(ctx context.Context, op, idemKey string, key *ecdsa.PrivateKey, to common.Address, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%s: amount must be positive", op)
	}
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// A previously submitted transaction for the same trade wins unless
	// the chain demonstrably rejected it. An unconfirmed hash is treated
	// as in flight: resubmitting beside it could land both transfers.
	if hash, ok := c.submittedHash(ctx, idemKey); ok {
		err := c.waitConfirmed(ctx, common.HexToHash(hash))
		switch {
		case err == nil:
			c.observe(op, "replayed", time.Since(started))
			return hash, nil
		case errors.Is(err, errTxReverted):
			c.logger.Warn("recorded settlement reverted, resubmitting", "operation", op, "tx", hash)
		default:
			c.observe(op, "pending", time.Since(started))
			return "", fmt.Errorf("%s tx %s: %w", op, hash, ErrSettlementPending)
		}
	}

	from := gethcrypto.PubkeyToAddress(key.PublicKey)
	nonce, err := c.node.PendingNonceAt(ctx, from)
	if err != nil {
		c.observe(op, "error", time.Since(started))
		return "", fmt.Errorf("%s nonce: %w", op, err)
	}
	gasPrice, err := c.node.SuggestGasPrice(ctx)
	if err != nil {
		c.observe(op, "error", time.Since(started))
		return "", fmt.Errorf("%s gas price: %w", op, err)
	}

	tx := gethtypes.NewTransaction(nonce, to, c.toWei(amount), transferGasLimit, gasPrice, nil)
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		c.observe(op, "error", time.Since(started))
		return "", fmt.Errorf("%s sign: %w", op, err)
	}

	if err := c.node.SendTransaction(ctx, signed); err != nil {
		c.observe(op, "error", time.Since(started))
		return "", fmt.Errorf("%s submit: %w", op, err)
	}
	hash := signed.Hash()
	c.rememberHash(ctx, idemKey, hash.Hex())

	if err := c.waitConfirmed(ctx, hash); err != nil {
		c.observe(op, "unconfirmed", time.Since(started))
		return "", fmt.Errorf("%s confirm %s: %w", op, hash.Hex(), err)
	}

	c.observe(op, "ok", time.Since(started))
	c.logger.Info("ledger settlement confirmed", "operation", op, "tx", hash.Hex())
	return hash.Hex(), nil
}

// waitConfirmed polls for the receipt and required confirmation depth.
func (c *Client) waitConfirmed(ctx context.Context, hash common.Hash) error {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.node.TransactionReceipt(ctx, hash)
		switch {
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return fmt.Errorf("fetch receipt: %w", err)
		case receipt != nil && receipt.Status != gethtypes.ReceiptStatusSuccessful:
			return fmt.Errorf("transaction %s: %w", hash.Hex(), errTxReverted)
		case receipt != nil:
			confirmed, err := c.confirmationDepth(ctx, receipt)
			if err != nil {
				return err
			}
			if confirmed >= c.confirmations {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) confirmationDepth(ctx context.Context, receipt *gethtypes.Receipt) (uint64, error) {
	if c.confirmations <= 1 {
		return 1, nil
	}
	header, err := c.node.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("fetch head: %w", err)
	}
	if header == nil || header.Number == nil || receipt.BlockNumber == nil {
		return 0, fmt.Errorf("block metadata unavailable")
	}
	if header.Number.Cmp(receipt.BlockNumber) < 0 {
		return 0, nil
	}
	depth := new(big.Int).Sub(header.Number, receipt.BlockNumber)
	depth.Add(depth, big.NewInt(1))
	return depth.Uint64(), nil
}

// heldAmount re-reads the escrowed amount for a trade from the deposit
// record cached at deposit time.
func (c *Client) heldAmount(ctx context.Context, tradeID string) (int64, error) {
	var amount int64
	if c.cache != nil {
		found, err := c.cache.GetJSON(ctx, amountKey(tradeID), &amount)
		if err == nil && found && amount > 0 {
			return amount, nil
		}
	}
	return 0, fmt.Errorf("no escrowed amount recorded for trade %s", tradeID)
}

func (c *Client) recordHeldAmount(ctx context.Context, tradeID string, amount int64) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetJSON(ctx, amountKey(tradeID), amount, 0); err != nil {
		c.logger.Warn("failed recording held amount", "trade_id", tradeID, "error", err)
	}
}

func (c *Client) submittedHash(ctx context.Context, idemKey string) (string, bool) {
	if idemKey == "" || c.cache == nil {
		return "", false
	}
	var hash string
	found, err := c.cache.GetJSON(ctx, idemKey, &hash)
	if err != nil || !found || hash == "" {
		return "", false
	}
	return hash, true
}

func (c *Client) rememberHash(ctx context.Context, idemKey, hash string) {
	if idemKey == "" || c.cache == nil {
		return
	}
	if err := c.cache.SetJSON(ctx, idemKey, hash, 0); err != nil {
		c.logger.Warn("failed recording settlement hash", "key", idemKey, "error", err)
	}
}

func (c *Client) toWei(amount int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(amount), c.weiPerUnit)
}

func (c *Client) observe(op, status string, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.LedgerRequests.WithLabelValues(op, status).Inc()
	c.metrics.LedgerLatency.WithLabelValues(op, status).Observe(elapsed.Seconds())
}

func depositKey(tradeID string) string { return "ledger:deposit:" + tradeID }
func releaseKey(tradeID string) string { return "ledger:release:" + tradeID }
func amountKey(tradeID string) string  { return "ledger:amount:" + tradeID }
