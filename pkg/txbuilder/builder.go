// Package txbuilder composes, signs and RLP-encodes the bridge's
// outbound EVM transactions: EIP-1559 ERC-20 transfers and native
// value transfers, priced with a short-lived per-chain gas cache and
// signed through the key-derivation seam.
package txbuilder

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/onebridge/evm-bridge/internal/metrics"
	"github.com/onebridge/evm-bridge/pkg/apperrors"
	"github.com/onebridge/evm-bridge/pkg/bridge"
	"github.com/onebridge/evm-bridge/pkg/keys"
)

// Gas limits for the two transaction shapes the bridge emits.
const (
	erc20TransferGasLimit  = 84_000
	nativeTransferGasLimit = 32_000
)

// gasCacheTTL is how long a cached (gas_price, tip) snapshot stays
// usable before the builder refreshes it from the chain.
const gasCacheTTL = 120 * time.Second

// EVMClient is the subset of the quorum client the builder needs for
// gas pricing and nonce lookup.
type EVMClient interface {
	GasPrice(ctx context.Context) (*big.Int, error)
	MaxPriorityFeePerGas(ctx context.Context) (*big.Int, error)
	GetTransactionCount(ctx context.Context, addr common.Address) (uint64, error)
}

// ClientRegistry resolves the quorum client for a chain; chains may
// be registered while the server runs.
type ClientRegistry interface {
	Client(chain string) (EVMClient, bool)
}

// Builder builds and signs EIP-1559 transactions for every configured
// EVM chain, reading contract and gas-cache state from the shared
// bridge state.
type Builder struct {
	State   *bridge.State
	Clients ClientRegistry
	Signer  keys.Signer
	Logger  *zap.Logger
}

// NewBuilder wires a Builder over the shared state, the per-chain
// quorum clients and the signing seam.
func NewBuilder(state *bridge.State, clients ClientRegistry, signer keys.Signer, logger *zap.Logger) *Builder {
	return &Builder{State: state, Clients: clients, Signer: signer, Logger: logger}
}

// gasParams is the per-transaction pricing resolved by resolveGas.
type gasParams struct {
	nonce    uint64
	gasPrice *big.Int
	tip      *big.Int
}

// resolveGas fetches the nonce for from, and either reuses the cached
// (gas_price, tip) when the cache is younger than the TTL or
// refreshes both in parallel with the nonce and writes the fresh
// snapshot back. The nonce is never cached: it must reflect every
// previously submitted transaction.
func (b *Builder) resolveGas(ctx context.Context, chain string, client EVMClient, from common.Address, nowMs int64) (gasParams, error) {
	cached, ok := b.State.GasCacheGet(chain)
	fresh := ok && nowMs-cached.UpdatedAtMs <= gasCacheTTL.Milliseconds()

	if fresh {
		nonce, err := client.GetTransactionCount(ctx, from)
		if err != nil {
			return gasParams{}, apperrors.RPCProviderError("get_transaction_count", err)
		}
		return gasParams{nonce: nonce, gasPrice: cached.GasPrice, tip: cached.Tip}, nil
	}

	var (
		wg       sync.WaitGroup
		nonce    uint64
		gasPrice *big.Int
		tip      *big.Int
		errs     [3]error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		nonce, errs[0] = client.GetTransactionCount(ctx, from)
	}()
	go func() {
		defer wg.Done()
		gasPrice, errs[1] = client.GasPrice(ctx)
	}()
	go func() {
		defer wg.Done()
		tip, errs[2] = client.MaxPriorityFeePerGas(ctx)
	}()
	wg.Wait()

	if errs[0] != nil {
		return gasParams{}, apperrors.RPCProviderError("get_transaction_count", errs[0])
	}
	if errs[1] != nil {
		return gasParams{}, apperrors.GasPolicyFailure("failed to refresh gas price", errs[1])
	}
	if errs[2] != nil {
		return gasParams{}, apperrors.GasPolicyFailure("failed to refresh priority fee", errs[2])
	}

	b.State.GasCacheSet(chain, bridge.GasSnapshot{UpdatedAtMs: nowMs, GasPrice: gasPrice, Tip: tip})
	metrics.GasCacheRefreshesTotal.WithLabelValues(chain).Inc()
	metrics.GasPriceWei.WithLabelValues(chain, "gas_price").Set(float64(gasPrice.Uint64()))
	metrics.GasPriceWei.WithLabelValues(chain, "tip").Set(float64(tip.Uint64()))

	return gasParams{nonce: nonce, gasPrice: gasPrice, tip: tip}, nil
}

// feeCaps computes the EIP-1559 fee fields from a raw (gas_price,
// tip) pair: the tip is bumped 20% and the fee cap leaves room for
// the base fee to double.
func feeCaps(gasPrice, tip *big.Int) (gasFeeCap, gasTipCap *big.Int) {
	gasTipCap = new(big.Int).Add(tip, new(big.Int).Div(tip, big.NewInt(5)))
	gasFeeCap = new(big.Int).Mul(gasPrice, big.NewInt(2))
	gasFeeCap.Add(gasFeeCap, gasTipCap)
	return gasFeeCap, gasTipCap
}

// BuildERC20Transfer builds, signs and encodes an ERC-20 transfer of
// nativeAmount (token-native decimals) from fromPrincipal's derived
// address to toAddr on the named chain. It returns the
// ready-to-broadcast RLP encoding together with the transaction hash.
func (b *Builder) BuildERC20Transfer(ctx context.Context, chain string, fromPrincipal string, toAddr common.Address, nativeAmount uint64, nowMs int64) ([]byte, common.Hash, error) {
	contract, ok := b.State.ResolveEvmContract(chain)
	if !ok {
		return nil, common.Hash{}, apperrors.BadRequest("unknown chain "+chain, nil)
	}
	client, ok := b.Clients.Client(chain)
	if !ok {
		return nil, common.Hash{}, apperrors.BadRequest("no EVM client configured for chain "+chain, nil)
	}

	chainAmount, err := ConvertDecimals(nativeAmount, b.State.Token.Decimals, int(contract.Decimals))
	if err != nil {
		return nil, common.Hash{}, err
	}

	pub, _, err := b.Signer.DeriveSubkey(ctx, fromPrincipal)
	if err != nil {
		return nil, common.Hash{}, err
	}
	fromAddr, err := keys.PubkeyToEVMAddress(pub)
	if err != nil {
		return nil, common.Hash{}, err
	}
	if fromAddr == toAddr {
		return nil, common.Hash{}, apperrors.BadRequest("transfer to self", nil)
	}

	gas, err := b.resolveGas(ctx, chain, client, fromAddr, nowMs)
	if err != nil {
		return nil, common.Hash{}, err
	}
	gasFeeCap, gasTipCap := feeCaps(gas.gasPrice, gas.tip)

	contractAddr := common.HexToAddress(contract.Address)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(contract.ChainID),
		Nonce:     gas.nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       erc20TransferGasLimit,
		To:        &contractAddr,
		Value:     big.NewInt(0),
		Data:      PackERC20Transfer(toAddr, chainAmount),
	})

	return b.signAndEncode(ctx, tx, contract.ChainID, fromPrincipal, fromAddr)
}

// BuildEVMTransfer builds, signs and encodes a native value transfer
// of amountWei from fromPrincipal's derived address to toAddr on the
// named chain.
func (b *Builder) BuildEVMTransfer(ctx context.Context, chain string, fromPrincipal string, toAddr common.Address, amountWei *big.Int, nowMs int64) ([]byte, common.Hash, error) {
	contract, ok := b.State.ResolveEvmContract(chain)
	if !ok {
		return nil, common.Hash{}, apperrors.BadRequest("unknown chain "+chain, nil)
	}
	client, ok := b.Clients.Client(chain)
	if !ok {
		return nil, common.Hash{}, apperrors.BadRequest("no EVM client configured for chain "+chain, nil)
	}

	pub, _, err := b.Signer.DeriveSubkey(ctx, fromPrincipal)
	if err != nil {
		return nil, common.Hash{}, err
	}
	fromAddr, err := keys.PubkeyToEVMAddress(pub)
	if err != nil {
		return nil, common.Hash{}, err
	}
	if fromAddr == toAddr {
		return nil, common.Hash{}, apperrors.BadRequest("transfer to self", nil)
	}

	gas, err := b.resolveGas(ctx, chain, client, fromAddr, nowMs)
	if err != nil {
		return nil, common.Hash{}, err
	}
	gasFeeCap, gasTipCap := feeCaps(gas.gasPrice, gas.tip)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(contract.ChainID),
		Nonce:     gas.nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       nativeTransferGasLimit,
		To:        &toAddr,
		Value:     amountWei,
	})

	return b.signAndEncode(ctx, tx, contract.ChainID, fromPrincipal, fromAddr)
}

// signAndEncode hashes the unsigned transaction, signs the digest
// through the signing seam, recovers the y-parity byte against the
// signer's derived address and returns the signed RLP encoding.
func (b *Builder) signAndEncode(ctx context.Context, tx *types.Transaction, chainID uint64, fromPrincipal string, fromAddr common.Address) ([]byte, common.Hash, error) {
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(chainID))
	digest := signer.Hash(tx)

	var prehash [32]byte
	copy(prehash[:], digest[:])

	rs, err := b.Signer.SignPrehash(ctx, fromPrincipal, prehash)
	if err != nil {
		return nil, common.Hash{}, err
	}
	v, err := keys.RecoverYParity(prehash, rs, fromAddr)
	if err != nil {
		return nil, common.Hash{}, err
	}

	sig := make([]byte, 65)
	copy(sig, rs[:])
	sig[64] = v

	signed, err := tx.WithSignature(signer, sig)
	if err != nil {
		return nil, common.Hash{}, apperrors.Internal(err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, common.Hash{}, apperrors.Internal(err)
	}
	return raw, signed.Hash(), nil
}
