package store

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/onebridge/evm-bridge/pkg/bridge"
)

// snapshotDTO is the wire form of bridge.Snapshot. Pending entries go
// through the same logPayload projection as committed records, since
// BridgeTarget/BridgeTx are interfaces msgpack cannot marshal
// directly.
type snapshotDTO struct {
	Token                bridge.TokenMeta
	MinThresholdToBridge uint64
	MasterPubKey         []byte
	MasterChainCode      []byte
	CanisterEVMAddress   string
	EvmTokenContracts    map[string]bridge.EvmContract
	EvmProviders         map[string]bridge.EvmProviderConfig
	Pending              []logPayload
	CurrentRound         uint64
	TotalBridgedTokens   uint64
	TotalCollectedFees   uint64
	TotalWithdrawnFees   uint64
	SubBridges           []string
	ErrorRounds          int
}

func encodeSnapshot(snap bridge.Snapshot) ([]byte, error) {
	pending := make([]logPayload, len(snap.Pending))
	for i := range snap.Pending {
		pending[i] = toPayload(&snap.Pending[i])
	}

	dto := snapshotDTO{
		Token:                snap.Token,
		MinThresholdToBridge: snap.MinThresholdToBridge,
		MasterPubKey:         snap.MasterPubKey,
		MasterChainCode:      snap.MasterChainCode,
		CanisterEVMAddress:   snap.CanisterEVMAddress,
		EvmTokenContracts:    snap.EvmTokenContracts,
		EvmProviders:         snap.EvmProviders,
		Pending:              pending,
		CurrentRound:         snap.CurrentRound,
		TotalBridgedTokens:   snap.TotalBridgedTokens,
		TotalCollectedFees:   snap.TotalCollectedFees,
		TotalWithdrawnFees:   snap.TotalWithdrawnFees,
		SubBridges:           snap.SubBridges,
		ErrorRounds:          snap.ErrorRounds,
	}
	return msgpack.Marshal(dto)
}

func decodeSnapshot(data []byte) (bridge.Snapshot, error) {
	var dto snapshotDTO
	if err := msgpack.Unmarshal(data, &dto); err != nil {
		return bridge.Snapshot{}, fmt.Errorf("unmarshal state snapshot: %w", err)
	}

	pending := make([]bridge.BridgeLog, len(dto.Pending))
	for i, p := range dto.Pending {
		log, err := p.toBridgeLog()
		if err != nil {
			return bridge.Snapshot{}, fmt.Errorf("decode pending entry %d: %w", i, err)
		}
		pending[i] = log
	}

	return bridge.Snapshot{
		Token:                dto.Token,
		MinThresholdToBridge: dto.MinThresholdToBridge,
		MasterPubKey:         dto.MasterPubKey,
		MasterChainCode:      dto.MasterChainCode,
		CanisterEVMAddress:   dto.CanisterEVMAddress,
		EvmTokenContracts:    dto.EvmTokenContracts,
		EvmProviders:         dto.EvmProviders,
		Pending:              pending,
		CurrentRound:         dto.CurrentRound,
		TotalBridgedTokens:   dto.TotalBridgedTokens,
		TotalCollectedFees:   dto.TotalCollectedFees,
		TotalWithdrawnFees:   dto.TotalWithdrawnFees,
		SubBridges:           dto.SubBridges,
		ErrorRounds:          dto.ErrorRounds,
	}, nil
}
