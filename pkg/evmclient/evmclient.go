// Package evmclient implements the bridge's EVM client: a typed
// JSON-RPC surface fanned out concurrently across every configured
// provider for a chain and reduced to a majority-agreed value.
package evmclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/onebridge/evm-bridge/internal/metrics"
	"github.com/onebridge/evm-bridge/pkg/apperrors"
)

// Client fans out typed JSON-RPC calls across every provider
// registered for one EVM chain, reducing each call to a
// majority-agreed result.
type Client struct {
	chainName        string
	providers        []*ethclient.Client
	urls             []string
	maxConfirmations int
	logger           *zap.Logger
}

// NewClient dials every provider URL for chainName and returns a
// quorum client. maxConfirmations must be at least 2 and
// every provider URL must be HTTPS.
func NewClient(chainName string, urls []string, maxConfirmations int, logger *zap.Logger) (*Client, error) {
	if maxConfirmations < 2 {
		return nil, apperrors.BadRequest(fmt.Sprintf("max_confirmations must be >= 2, got %d", maxConfirmations), nil)
	}
	if len(urls) == 0 {
		return nil, apperrors.BadRequest("at least one EVM provider is required", nil)
	}

	providers := make([]*ethclient.Client, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, apperrors.BadRequest(fmt.Sprintf("invalid provider URL %q", raw), err)
		}
		if u.Scheme != "https" {
			return nil, apperrors.BadRequest(fmt.Sprintf("provider URL %q must be https", raw), nil)
		}
		client, err := ethclient.Dial(raw)
		if err != nil {
			return nil, apperrors.RPCProviderError("dial", err)
		}
		providers = append(providers, client)
	}

	return &Client{
		chainName:        chainName,
		providers:        providers,
		urls:             urls,
		maxConfirmations: maxConfirmations,
		logger:           logger,
	}, nil
}

// Close disconnects every underlying provider connection.
func (c *Client) Close() {
	for _, p := range c.providers {
		p.Close()
	}
}

// MaxConfirmations returns the configured confirmation depth for this
// chain.
func (c *Client) MaxConfirmations() int {
	return c.maxConfirmations
}

// call invokes fn against every provider concurrently and returns the
// per-provider results and errors in provider order.
func (c *Client) call(ctx context.Context, method string, fn func(context.Context, *ethclient.Client) (interface{}, error)) ([]interface{}, []error) {
	results := make([]interface{}, len(c.providers))
	errs := make([]error, len(c.providers))

	start := time.Now()
	var wg sync.WaitGroup
	for i, p := range c.providers {
		wg.Add(1)
		go func(i int, p *ethclient.Client) {
			defer wg.Done()
			results[i], errs[i] = fn(ctx, p)
		}(i, p)
	}
	wg.Wait()
	metrics.EvmRPCDuration.WithLabelValues(c.chainName, method).Observe(time.Since(start).Seconds())

	return results, errs
}

// reduce picks the majority value among non-error results, keyed by
// key(result). It returns RpcProviderError if every provider failed,
// or RpcNoQuorum if no value reached a strict majority.
func (c *Client) reduce(method string, results []interface{}, errs []error, key func(interface{}) string) (interface{}, error) {
	counts := make(map[string]int)
	first := make(map[string]interface{})
	okCount := 0
	var lastErr error

	for i, err := range errs {
		if err != nil {
			lastErr = err
			continue
		}
		okCount++
		k := key(results[i])
		counts[k]++
		if _, seen := first[k]; !seen {
			first[k] = results[i]
		}
	}

	if okCount == 0 {
		metrics.QuorumFailuresTotal.WithLabelValues(c.chainName, method).Inc()
		return nil, apperrors.RPCProviderError(method, lastErr)
	}

	quorum := len(c.providers)/2 + 1
	for k, n := range counts {
		if n >= quorum {
			return first[k], nil
		}
	}
	c.logger.Warn("no quorum",
		zap.String("chain", c.chainName),
		zap.String("method", method),
		zap.Int("ok_count", okCount),
		zap.Int("provider_count", len(c.providers)))
	metrics.QuorumFailuresTotal.WithLabelValues(c.chainName, method).Inc()
	return nil, apperrors.RPCNoQuorum(method)
}

// ChainID returns the chain's EIP-155 chain ID.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	results, errs := c.call(ctx, "chain_id", func(ctx context.Context, p *ethclient.Client) (interface{}, error) {
		id, err := p.ChainID(ctx)
		if err != nil {
			return nil, err
		}
		return id.Uint64(), nil
	})
	v, err := c.reduce("chain_id", results, errs, func(v interface{}) string { return fmt.Sprintf("%d", v) })
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// BlockNumber returns the chain's latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	results, errs := c.call(ctx, "block_number", func(ctx context.Context, p *ethclient.Client) (interface{}, error) {
		return p.BlockNumber(ctx)
	})
	v, err := c.reduce("block_number", results, errs, func(v interface{}) string { return fmt.Sprintf("%d", v) })
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// GasPrice returns the chain's legacy suggested gas price, used as
// the EIP-1559 base-fee proxy when building transactions.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	results, errs := c.call(ctx, "gas_price", func(ctx context.Context, p *ethclient.Client) (interface{}, error) {
		return p.SuggestGasPrice(ctx)
	})
	v, err := c.reduce("gas_price", results, errs, func(v interface{}) string { return v.(*big.Int).String() })
	if err != nil {
		return nil, err
	}
	return v.(*big.Int), nil
}

// MaxPriorityFeePerGas returns the chain's suggested EIP-1559 tip.
func (c *Client) MaxPriorityFeePerGas(ctx context.Context) (*big.Int, error) {
	results, errs := c.call(ctx, "max_priority_fee_per_gas", func(ctx context.Context, p *ethclient.Client) (interface{}, error) {
		return p.SuggestGasTipCap(ctx)
	})
	v, err := c.reduce("max_priority_fee_per_gas", results, errs, func(v interface{}) string { return v.(*big.Int).String() })
	if err != nil {
		return nil, err
	}
	return v.(*big.Int), nil
}

// GetTransactionCount returns addr's pending nonce, which counts
// transactions still in the mempool.
func (c *Client) GetTransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	results, errs := c.call(ctx, "get_transaction_count", func(ctx context.Context, p *ethclient.Client) (interface{}, error) {
		return p.PendingNonceAt(ctx, addr)
	})
	v, err := c.reduce("get_transaction_count", results, errs, func(v interface{}) string { return fmt.Sprintf("%d", v) })
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// GetTransactionReceipt returns txHash's receipt, agreed by status and
// block number across providers. A transaction no provider has mined
// yet returns a nil receipt, not an error.
func (c *Client) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	results, errs := c.call(ctx, "get_transaction_receipt", func(ctx context.Context, p *ethclient.Client) (interface{}, error) {
		r, err := p.TransactionReceipt(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			return (*types.Receipt)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		return r, nil
	})
	v, err := c.reduce("get_transaction_receipt", results, errs, func(v interface{}) string {
		r := v.(*types.Receipt)
		if r == nil {
			return "absent"
		}
		return fmt.Sprintf("%d:%d", r.Status, r.BlockNumber.Uint64())
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Receipt), nil
}

// SendRawTransaction broadcasts a signed, RLP-encoded transaction to
// every provider. One accepting provider is enough: a node that
// already knows the transaction counts as acceptance, so a retried
// broadcast is idempotent.
func (c *Client) SendRawTransaction(ctx context.Context, rawTx []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(rawTx); err != nil {
		return common.Hash{}, apperrors.BadRequest("invalid raw transaction", err)
	}

	_, errs := c.call(ctx, "send_raw_transaction", func(ctx context.Context, p *ethclient.Client) (interface{}, error) {
		if err := p.SendTransaction(ctx, tx); err != nil && !isAlreadyKnown(err) {
			return nil, err
		}
		return tx.Hash(), nil
	})

	var lastErr error
	for _, err := range errs {
		if err == nil {
			return tx.Hash(), nil
		}
		lastErr = err
	}
	metrics.QuorumFailuresTotal.WithLabelValues(c.chainName, "send_raw_transaction").Inc()
	return common.Hash{}, apperrors.RPCProviderError("send_raw_transaction", lastErr)
}

// isAlreadyKnown matches the provider error shapes that mean the
// transaction is already in the pool or chain.
func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") ||
		strings.Contains(msg, "known transaction") ||
		strings.Contains(msg, "transaction already imported")
}

var (
	selectorSymbol   = []byte{0x95, 0xd8, 0x9b, 0x41} // symbol()
	selectorDecimals = []byte{0x31, 0x3c, 0xe5, 0x67} // decimals()
)

// Erc20Symbol returns an ERC-20 token's symbol() string.
func (c *Client) Erc20Symbol(ctx context.Context, token common.Address) (string, error) {
	results, errs := c.call(ctx, "erc20_symbol", func(ctx context.Context, p *ethclient.Client) (interface{}, error) {
		out, err := p.CallContract(ctx, ethereum.CallMsg{To: &token, Data: selectorSymbol}, nil)
		if err != nil {
			return nil, err
		}
		return decodeABIString(out)
	})
	v, err := c.reduce("erc20_symbol", results, errs, func(v interface{}) string { return v.(string) })
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Erc20Decimals returns an ERC-20 token's decimals() value.
func (c *Client) Erc20Decimals(ctx context.Context, token common.Address) (uint8, error) {
	results, errs := c.call(ctx, "erc20_decimals", func(ctx context.Context, p *ethclient.Client) (interface{}, error) {
		out, err := p.CallContract(ctx, ethereum.CallMsg{To: &token, Data: selectorDecimals}, nil)
		if err != nil {
			return nil, err
		}
		if len(out) < 32 {
			return nil, fmt.Errorf("decimals() returned %d bytes, want >= 32", len(out))
		}
		return out[31], nil
	})
	v, err := c.reduce("erc20_decimals", results, errs, func(v interface{}) string { return fmt.Sprintf("%d", v) })
	if err != nil {
		return 0, err
	}
	return v.(uint8), nil
}

// decodeABIString decodes a dynamic ABI-encoded `string` return value:
// a 32-byte offset (ignored, always 0x20 for a single return), a
// 32-byte length, then the UTF-8 bytes padded to a 32-byte boundary.
func decodeABIString(out []byte) (string, error) {
	if len(out) < 64 {
		return "", fmt.Errorf("string return too short: %d bytes", len(out))
	}
	length := new(big.Int).SetBytes(out[32:64]).Uint64()
	if uint64(len(out)) < 64+length {
		return "", fmt.Errorf("string return truncated: want %d data bytes, got %d", length, len(out)-64)
	}
	return strings.TrimRight(string(out[64:64+length]), "\x00"), nil
}
