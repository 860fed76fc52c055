package bridge

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/onebridge/evm-bridge/pkg/keys"
	"github.com/onebridge/evm-bridge/pkg/ledger"
)

// EVMClient is the subset of evmclient.Client's surface the bridge
// engine depends on: confirmation polling and broadcast.
type EVMClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SendRawTransaction(ctx context.Context, rawTx []byte) (common.Hash, error)
	MaxConfirmations() int
}

// ClientRegistry resolves the live quorum client for a destination
// chain. Chains can be registered while the engine runs, so lookups
// go through this seam rather than a fixed map.
type ClientRegistry interface {
	Client(chain string) (EVMClient, bool)
}

// TxBuilder is the subset of txbuilder.Builder's surface the bridge
// depends on: building signed EIP-1559 ERC-20 transfers for both the
// source-side pull and the destination-side payout.
type TxBuilder interface {
	BuildERC20Transfer(ctx context.Context, chain string, fromPrincipal string, toAddr common.Address, nativeAmount uint64, nowMs int64) (rawTx []byte, txHash common.Hash, err error)
}

// Store is the durable store's write surface the finalization engine
// commits into.
type Store interface {
	Append(ctx context.Context, log BridgeLog) (id uint64, err error)
	IndexUser(ctx context.Context, user string, id uint64) error
}

// Scheduler arms a finalization tick after a delay, carrying the
// round number the tick should be requested with.
type Scheduler interface {
	After(d time.Duration, round uint64)
}

// Clock supplies the current time in milliseconds, injectable for
// tests.
type Clock func() int64

// Controller wires the bridge state to its collaborators and
// implements intent admission and the finalization engine.
type Controller struct {
	State *State

	Ledger    ledger.Ledger
	Clients   ClientRegistry
	Signer    keys.Signer
	TxBuilder TxBuilder
	Store     Store
	Scheduler Scheduler
	Clock     Clock

	Logger *zap.Logger

	// CanisterPrincipal is the principal name used to derive the
	// bridge's own custodial EVM address and native-ledger identity.
	CanisterPrincipal string
}

// NewController builds a Controller over the given state and
// collaborators.
func NewController(
	state *State,
	ledgerClient ledger.Ledger,
	clients ClientRegistry,
	signer keys.Signer,
	txBuilder TxBuilder,
	store Store,
	scheduler Scheduler,
	clock Clock,
	logger *zap.Logger,
	canisterPrincipal string,
) *Controller {
	return &Controller{
		State:             state,
		Ledger:            ledgerClient,
		Clients:           clients,
		Signer:            signer,
		TxBuilder:         txBuilder,
		Store:             store,
		Scheduler:         scheduler,
		Clock:             clock,
		Logger:            logger,
		CanisterPrincipal: canisterPrincipal,
	}
}

// BridgeRequest is the input to Bridge.
type BridgeRequest struct {
	FromChain string
	ToChain   string
	Amount    uint64
	ToAddr    string // optional recipient override
	User      string // caller principal
	NowMs     int64
}

// RealClock is the production Clock: wall-clock time in milliseconds.
func RealClock() int64 {
	return time.Now().UnixMilli()
}
