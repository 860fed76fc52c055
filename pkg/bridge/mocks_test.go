package bridge

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// mockLedger is a manual mock of ledger.Ledger.
type mockLedger struct {
	TransferFromFunc func(ctx context.Context, user, canister string, amount uint64) (uint64, error)
	TransferFunc     func(ctx context.Context, canister, recipient string, amount uint64) (uint64, error)
}

func (m *mockLedger) TransferFrom(ctx context.Context, user, canister string, amount uint64) (uint64, error) {
	if m.TransferFromFunc != nil {
		return m.TransferFromFunc(ctx, user, canister, amount)
	}
	return 1, nil
}

func (m *mockLedger) Transfer(ctx context.Context, canister, recipient string, amount uint64) (uint64, error) {
	if m.TransferFunc != nil {
		return m.TransferFunc(ctx, canister, recipient, amount)
	}
	return 1, nil
}

// mockClients is a fixed-map ClientRegistry.
type mockClients map[string]EVMClient

func (m mockClients) Client(chain string) (EVMClient, bool) {
	c, ok := m[chain]
	return c, ok
}

// mockEVMClient is a manual mock of EVMClient.
type mockEVMClient struct {
	BlockNumberFunc           func(ctx context.Context) (uint64, error)
	GetTransactionReceiptFunc func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SendRawTransactionFunc    func(ctx context.Context, rawTx []byte) (common.Hash, error)
	MaxConfirmationsValue     int
}

func (m *mockEVMClient) BlockNumber(ctx context.Context) (uint64, error) {
	if m.BlockNumberFunc != nil {
		return m.BlockNumberFunc(ctx)
	}
	return 0, nil
}

func (m *mockEVMClient) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if m.GetTransactionReceiptFunc != nil {
		return m.GetTransactionReceiptFunc(ctx, txHash)
	}
	return nil, nil
}

func (m *mockEVMClient) SendRawTransaction(ctx context.Context, rawTx []byte) (common.Hash, error) {
	if m.SendRawTransactionFunc != nil {
		return m.SendRawTransactionFunc(ctx, rawTx)
	}
	return common.Hash{}, nil
}

func (m *mockEVMClient) MaxConfirmations() int {
	if m.MaxConfirmationsValue != 0 {
		return m.MaxConfirmationsValue
	}
	return 12
}

// mockTxBuilder is a manual mock of TxBuilder.
type mockTxBuilder struct {
	BuildERC20TransferFunc func(ctx context.Context, chain string, fromPrincipal string, toAddr common.Address, nativeAmount uint64, nowMs int64) ([]byte, common.Hash, error)
	calls                  int
}

func (m *mockTxBuilder) BuildERC20Transfer(ctx context.Context, chain string, fromPrincipal string, toAddr common.Address, nativeAmount uint64, nowMs int64) ([]byte, common.Hash, error) {
	m.calls++
	if m.BuildERC20TransferFunc != nil {
		return m.BuildERC20TransferFunc(ctx, chain, fromPrincipal, toAddr, nativeAmount, nowMs)
	}
	return []byte{0x01}, common.HexToHash("0xaaaa"), nil
}

// mockStore is a manual mock of Store.
type mockStore struct {
	AppendFunc    func(ctx context.Context, log BridgeLog) (uint64, error)
	IndexUserFunc func(ctx context.Context, user string, id uint64) error
	appended      []BridgeLog
	nextID        uint64
}

func (m *mockStore) Append(ctx context.Context, log BridgeLog) (uint64, error) {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, log)
	}
	id := m.nextID
	m.nextID++
	m.appended = append(m.appended, log)
	return id, nil
}

func (m *mockStore) IndexUser(ctx context.Context, user string, id uint64) error {
	if m.IndexUserFunc != nil {
		return m.IndexUserFunc(ctx, user, id)
	}
	return nil
}

// mockScheduler is a manual mock of Scheduler, recording every
// scheduled re-arm for assertions.
type mockScheduler struct {
	calls []scheduledCall
}

type scheduledCall struct {
	delay time.Duration
	round uint64
}

func (m *mockScheduler) After(d time.Duration, round uint64) {
	m.calls = append(m.calls, scheduledCall{delay: d, round: round})
}
