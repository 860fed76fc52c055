package bridge

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/onebridge/evm-bridge/pkg/keys"
)

func newEngineTestController(t *testing.T, clients map[string]EVMClient) (*Controller, *mockScheduler, *mockStore) {
	t.Helper()

	state := NewState(TokenMeta{Name: "Test Token", Symbol: "TST", Decimals: 8, Fee: 10_000_000}, 100_000_000)
	state.CanisterEVMAddress = "0x0000000000000000000000000000000000000001"
	for chain := range clients {
		state.EvmTokenContracts[chain] = EvmContract{Address: "0xAAA0000000000000000000000000000000000A", Decimals: 18, ChainID: 1}
	}

	sched := &mockScheduler{}
	store := &mockStore{}

	signer, err := keys.NewLocalSigner(make([]byte, 32))
	if err != nil {
		t.Fatalf("new local signer: %v", err)
	}

	c := NewController(
		state, &mockLedger{}, mockClients(clients), signer, &mockTxBuilder{}, store, sched,
		func() int64 { return 1_700_000_000_000 }, zap.NewNop(), "",
	)
	return c, sched, store
}

// TestFinalizeBridging_NonceExclusion asserts that of three pending
// intents all destined for the same EVM chain, only one is selected
// per round.
func TestFinalizeBridging_NonceExclusion(t *testing.T) {
	c, _, store := newEngineTestController(t, map[string]EVMClient{
		"ETH": &mockEVMClient{MaxConfirmationsValue: 12},
	})

	for i := 0; i < 3; i++ {
		c.State.Pending = append(c.State.Pending, BridgeLog{
			User: "user", From: NativeTarget{}, To: EvmTarget{Chain: "ETH"},
			ICPAmount: 200_000_000, Fee: 10_000_000,
			FromTx: NativeTx{FinalizedFlag: true, BlockHeight: uint64(i + 1)},
		})
	}

	c.FinalizeBridging(context.Background(), 0)

	if len(store.appended) != 0 {
		t.Fatalf("expected nothing finalized yet, got %d", len(store.appended))
	}
	submitted := 0
	for _, p := range c.State.Pending {
		if p.ToTx != nil {
			submitted++
		}
	}
	if submitted != 1 {
		t.Fatalf("expected exactly 1 of 3 same-chain tasks submitted this round, got %d", submitted)
	}
}

// TestFinalizeBridging_RoundIdempotence asserts that a request for a
// round strictly before current_round is a no-op.
func TestFinalizeBridging_RoundIdempotence(t *testing.T) {
	c, sched, _ := newEngineTestController(t, map[string]EVMClient{
		"ETH": &mockEVMClient{MaxConfirmationsValue: 12},
	})
	c.State.Pending = append(c.State.Pending, BridgeLog{
		User: "user", From: NativeTarget{}, To: EvmTarget{Chain: "ETH"},
		ICPAmount: 200_000_000, Fee: 10_000_000,
		FromTx: NativeTx{FinalizedFlag: true, BlockHeight: 1},
	})

	c.State.Lock()
	c.State.currentRound = 5
	c.State.Unlock()

	c.FinalizeBridging(context.Background(), 2)

	if len(sched.calls) != 0 {
		t.Fatalf("expected no re-arm for a stale round request, got %#v", sched.calls)
	}
	if c.State.CurrentRound() != 5 {
		t.Fatalf("expected current_round to stay at 5, got %d", c.State.CurrentRound())
	}
}

// TestFinalizeBridging_EmptyQueueNoOp asserts an empty pending queue
// produces no round at all.
func TestFinalizeBridging_EmptyQueueNoOp(t *testing.T) {
	c, sched, store := newEngineTestController(t, nil)

	c.FinalizeBridging(context.Background(), 0)

	if len(sched.calls) != 0 || len(store.appended) != 0 {
		t.Fatalf("expected a fully empty queue to be a no-op")
	}
	if c.State.CurrentRound() != 0 {
		t.Fatalf("expected current_round unchanged, got %d", c.State.CurrentRound())
	}
}

// TestFinalizeBridging_FullyFinalizedCommitsAndStops exercises a
// complete EVM-to-native task through source confirmation polling and
// native destination settlement, finishing finalized in a single round
// once its source tx is already deep enough, and asserts that no
// re-arm is scheduled once the pending queue drains.
func TestFinalizeBridging_FullyFinalizedCommitsAndStops(t *testing.T) {
	recvHash := common.HexToHash("0xbeef")
	client := &mockEVMClient{
		MaxConfirmationsValue: 2,
		BlockNumberFunc:       func(ctx context.Context) (uint64, error) { return 100, nil },
		GetTransactionReceiptFunc: func(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
			return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(90)}, nil
		},
	}
	c, sched, store := newEngineTestController(t, map[string]EVMClient{"ETH": client})

	c.State.Pending = append(c.State.Pending, BridgeLog{
		User: "user", From: EvmTarget{Chain: "ETH"}, To: NativeTarget{},
		ICPAmount: 200_000_000, Fee: 10_000_000,
		FromTx: EvmTx{FinalizedFlag: false, TxHash: recvHash},
	})

	c.FinalizeBridging(context.Background(), 0)

	if len(c.State.Pending) != 0 {
		t.Fatalf("expected task to be removed from pending once finalized, got %d left", len(c.State.Pending))
	}
	if len(store.appended) != 1 {
		t.Fatalf("expected 1 finalized log committed to the store, got %d", len(store.appended))
	}
	if !store.appended[0].IsFinalized() {
		t.Fatalf("expected committed log to be finalized")
	}
	if len(sched.calls) != 0 {
		t.Fatalf("expected no re-arm once the pending queue drains, got %#v", sched.calls)
	}
}

// TestFinalizeBridging_ErrorRoundBacksOffAndOpensCircuit drives the
// error_rounds counter to the circuit breaker threshold and asserts
// admission is refused once open.
func TestFinalizeBridging_ErrorRoundBacksOffAndOpensCircuit(t *testing.T) {
	client := &mockEVMClient{
		GetTransactionReceiptFunc: func(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
			return nil, errors.New("rpc unavailable")
		},
	}
	c, sched, _ := newEngineTestController(t, map[string]EVMClient{"ETH": client})
	c.State.Pending = append(c.State.Pending, BridgeLog{
		User: "user", From: EvmTarget{Chain: "ETH"}, To: NativeTarget{},
		ICPAmount: 200_000_000, Fee: 10_000_000,
		FromTx: EvmTx{FinalizedFlag: false, TxHash: common.HexToHash("0x1")},
	})

	for i := 0; i < CircuitOpenThreshold; i++ {
		c.FinalizeBridging(context.Background(), c.State.CurrentRound())
	}

	if c.State.ErrorRounds < CircuitOpenThreshold {
		t.Fatalf("expected error_rounds to reach the circuit threshold, got %d", c.State.ErrorRounds)
	}
	if len(sched.calls) == 0 {
		t.Fatalf("expected backoff re-arms before the circuit opened")
	}
	last := sched.calls[len(sched.calls)-1]
	if last.delay != 5*time.Second*time.Duration(CircuitOpenThreshold-1) {
		t.Fatalf("expected escalating 5*error_rounds backoff, got %v", last.delay)
	}

	_, err := c.Bridge(context.Background(), BridgeRequest{
		FromChain: "ICP", ToChain: "ETH", Amount: 200_000_000, User: "new-user", NowMs: 1,
	})
	if err == nil {
		t.Fatalf("expected admission to be refused once the circuit is open")
	}
}
