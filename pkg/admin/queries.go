package admin

import (
	"context"

	"github.com/onebridge/evm-bridge/pkg/apperrors"
	"github.com/onebridge/evm-bridge/pkg/auth"
	"github.com/onebridge/evm-bridge/pkg/bridge"
	"github.com/onebridge/evm-bridge/pkg/keys"
)

// StateInfo is the non-secret projection of bridge state returned by
// info().
type StateInfo struct {
	TokenName            string                              `json:"token_name"`
	TokenSymbol          string                              `json:"token_symbol"`
	TokenDecimals        int                                 `json:"token_decimals"`
	TokenLogo            string                              `json:"token_logo"`
	TokenBridgeFee       uint64                              `json:"token_bridge_fee"`
	MinThresholdToBridge uint64                              `json:"min_threshold_to_bridge"`
	CanisterEVMAddress   string                              `json:"canister_evm_address"`
	EvmTokenContracts    map[string]bridge.EvmContract       `json:"evm_token_contracts"`
	EvmProviders         map[string]bridge.EvmProviderConfig `json:"evm_providers"`
	PendingCount         int                                 `json:"pending_count"`
	CurrentRound         uint64                              `json:"current_round"`
	ErrorRounds          int                                 `json:"error_rounds"`
	TotalBridgedTokens   uint64                              `json:"total_bridged_tokens"`
	TotalCollectedFees   uint64                              `json:"total_collected_fees"`
	TotalWithdrawnFees   uint64                              `json:"total_withdrawn_fees"`
	TotalBridgeCount     uint64                              `json:"total_bridge_count"`
}

// Info returns the bridge's public state. total_bridge_count is
// always read from the durable log's current length, never cached.
func (s *Service) Info(ctx context.Context) (StateInfo, error) {
	count, err := s.Store.TotalBridgeCount(ctx)
	if err != nil {
		return StateInfo{}, err
	}

	snap := s.State.Checkpoint()
	return StateInfo{
		TokenName:            snap.Token.Name,
		TokenSymbol:          snap.Token.Symbol,
		TokenDecimals:        snap.Token.Decimals,
		TokenLogo:            snap.Token.LogoURL,
		TokenBridgeFee:       snap.Token.Fee,
		MinThresholdToBridge: snap.MinThresholdToBridge,
		CanisterEVMAddress:   snap.CanisterEVMAddress,
		EvmTokenContracts:    snap.EvmTokenContracts,
		EvmProviders:         snap.EvmProviders,
		PendingCount:         len(snap.Pending),
		CurrentRound:         snap.CurrentRound,
		ErrorRounds:          snap.ErrorRounds,
		TotalBridgedTokens:   snap.TotalBridgedTokens,
		TotalCollectedFees:   snap.TotalCollectedFees,
		TotalWithdrawnFees:   snap.TotalWithdrawnFees,
		TotalBridgeCount:     count,
	}, nil
}

// authorizeUserQuery lets a caller read its own derived data; anyone
// else needs the governance or sub-bridge authority.
func (s *Service) authorizeUserQuery(caller auth.Principal, user string) error {
	if string(caller) == user {
		return nil
	}
	if s.Governance != "" && caller == s.Governance {
		return nil
	}
	s.State.Lock()
	defer s.State.Unlock()
	if s.State.SubBridges.Contains(caller) {
		return nil
	}
	return apperrors.Unauthorized("caller may only query its own derived addresses")
}

// EVMAddress returns the derived EVM address for user.
func (s *Service) EVMAddress(ctx context.Context, caller auth.Principal, user string) (string, error) {
	if user == "" {
		user = string(caller)
	}
	if err := s.authorizeUserQuery(caller, user); err != nil {
		return "", err
	}
	pub, _, err := s.Signer.DeriveSubkey(ctx, user)
	if err != nil {
		return "", err
	}
	addr, err := keys.PubkeyToEVMAddress(pub)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}

// SVMAddress returns the derived Solana-side account for user,
// base58-encoded.
func (s *Service) SVMAddress(ctx context.Context, caller auth.Principal, user string) (string, error) {
	if user == "" {
		user = string(caller)
	}
	if err := s.authorizeUserQuery(caller, user); err != nil {
		return "", err
	}
	pub, _, err := s.Signer.DeriveSubkey(ctx, user)
	if err != nil {
		return "", err
	}
	account := keys.SVMAccount(pub)
	return keys.EncodeBase58(account[:]), nil
}

// clampTake bounds a pagination size to the configured window.
func (s *Service) clampTake(take int) int {
	if take < s.PaginationMin {
		return s.PaginationMin
	}
	if take > s.PaginationMax {
		return s.PaginationMax
	}
	return take
}

// PendingLogs returns every intent currently awaiting finalization,
// in admission order.
func (s *Service) PendingLogs() []bridge.BridgeLog {
	s.State.Lock()
	defer s.State.Unlock()
	return append([]bridge.BridgeLog(nil), s.State.Pending...)
}

// MyPendingLogs returns the caller's pending intents in admission
// order.
func (s *Service) MyPendingLogs(caller auth.Principal) []bridge.BridgeLog {
	s.State.Lock()
	defer s.State.Unlock()
	var out []bridge.BridgeLog
	for _, p := range s.State.Pending {
		if p.User == string(caller) {
			out = append(out, p)
		}
	}
	return out
}

// FinalizedLogs pages through the global durable log, newest first.
// prev, when set, is an exclusive upper bound on id.
func (s *Service) FinalizedLogs(ctx context.Context, take int, prev *uint64) ([]bridge.BridgeLog, error) {
	return s.Store.PagedFinalized(ctx, s.clampTake(take), prev)
}

// MyFinalizedLogs pages through the caller's committed records under
// the same pagination law as FinalizedLogs.
func (s *Service) MyFinalizedLogs(ctx context.Context, caller auth.Principal, take int, prev *uint64) ([]bridge.BridgeLog, error) {
	return s.Store.PagedFinalizedForUser(ctx, string(caller), s.clampTake(take), prev)
}

// MyBridgeLog finds the caller's record whose source side matches the
// given EVM transaction hash, searching pending intents before the
// durable log.
func (s *Service) MyBridgeLog(ctx context.Context, caller auth.Principal, fromTxHash string) (bridge.BridgeLog, error) {
	s.State.Lock()
	for _, p := range s.State.Pending {
		if p.User != string(caller) {
			continue
		}
		if evmTx, ok := p.FromTx.(bridge.EvmTx); ok && evmTx.HashHex() == fromTxHash {
			s.State.Unlock()
			return p, nil
		}
	}
	s.State.Unlock()

	log, err := s.Store.ByTxHash(ctx, fromTxHash)
	if err != nil {
		return bridge.BridgeLog{}, err
	}
	if log.User != string(caller) {
		return bridge.BridgeLog{}, apperrors.Unauthorized("record belongs to another user")
	}
	return log, nil
}
