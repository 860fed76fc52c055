package bridge

import (
	"math/big"
	"sync"

	"github.com/onebridge/evm-bridge/pkg/auth"
)

// TokenMeta is the bridged token's metadata and fee.
type TokenMeta struct {
	Name     string
	Symbol   string
	Decimals int
	LogoURL  string
	Fee      uint64 // bridge fee, denominated in Decimals units
}

// EvmContract is one entry of evm_token_contracts: the ERC-20
// contract backing the token on a configured EVM chain.
type EvmContract struct {
	Address  string // checksummed
	Decimals uint8
	ChainID  uint64
}

// EvmProviderConfig is one entry of evm_providers.
type EvmProviderConfig struct {
	MaxConfirmations int
	URLs             []string
}

// GasSnapshot is one entry of evm_latest_gas: the short-lived cache
// of a chain's last-observed gas price and tip.
type GasSnapshot struct {
	UpdatedAtMs int64
	GasPrice    *big.Int
	Tip         *big.Int
}

// State is the bridge's process-wide, in-memory state. All access is
// guarded by a single mutex: readers copy what they need out from
// under the lock, perform any outbound call unlocked, then reacquire
// briefly to commit.
type State struct {
	mu sync.Mutex

	Token                TokenMeta
	MinThresholdToBridge uint64

	MasterPubKey       []byte
	MasterChainCode    []byte
	CanisterEVMAddress string

	EvmTokenContracts map[string]EvmContract
	EvmProviders      map[string]EvmProviderConfig
	EvmLatestGas      map[string]GasSnapshot

	Pending []BridgeLog

	currentRound uint64
	running      bool

	TotalBridgedTokens uint64
	TotalCollectedFees uint64
	TotalWithdrawnFees uint64

	SubBridges auth.SubBridges

	ErrorRounds int
}

// CircuitOpenThreshold is the consecutive-error-round count at which
// intent admission is disabled.
const CircuitOpenThreshold = 42

// NewState builds an empty State for the given token and minimum
// bridge threshold.
func NewState(token TokenMeta, minThreshold uint64) *State {
	return &State{
		Token:                token,
		MinThresholdToBridge: minThreshold,
		EvmTokenContracts:    make(map[string]EvmContract),
		EvmProviders:         make(map[string]EvmProviderConfig),
		EvmLatestGas:         make(map[string]GasSnapshot),
		SubBridges:           make(auth.SubBridges),
	}
}

// Lock and Unlock expose the state's critical section directly to
// callers (admission, the finalization engine, and admin mutations)
// that need multi-step atomic read/write access within one lock
// acquisition. No outbound call may happen between Lock and Unlock.
func (s *State) Lock()   { s.mu.Lock() }
func (s *State) Unlock() { s.mu.Unlock() }

// CurrentRound returns the finalization engine's round counter under
// lock.
func (s *State) CurrentRound() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRound
}

// Running reports whether a finalization round is currently in
// flight.
func (s *State) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ForceClearRunning clears the running flag unconditionally, used on
// restart to recover from a crash mid-round.
func (s *State) ForceClearRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// CanisterAddress returns the bridge's own derived EVM address under
// lock.
func (s *State) CanisterAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CanisterEVMAddress
}

// IsCircuitOpen reports whether admission is currently disabled.
func (s *State) IsCircuitOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrorRounds >= CircuitOpenThreshold
}

// GasCacheGet returns the cached gas snapshot for chain, if one
// exists.
func (s *State) GasCacheGet(chain string) (GasSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.EvmLatestGas[chain]
	return g, ok
}

// GasCacheSet writes a fresh gas snapshot for chain.
func (s *State) GasCacheSet(chain string, snap GasSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EvmLatestGas[chain] = snap
}

// ResolveEvmContract returns the configured contract for chain, or
// false if the chain is unregistered.
func (s *State) ResolveEvmContract(chain string) (EvmContract, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.EvmTokenContracts[chain]
	return c, ok
}

// Snapshot is the serializable projection of State written to the
// durable store's state-cell segment on checkpoint.
type Snapshot struct {
	Token                TokenMeta
	MinThresholdToBridge uint64
	MasterPubKey         []byte
	MasterChainCode      []byte
	CanisterEVMAddress   string
	EvmTokenContracts    map[string]EvmContract
	EvmProviders         map[string]EvmProviderConfig
	Pending              []BridgeLog
	CurrentRound         uint64
	TotalBridgedTokens   uint64
	TotalCollectedFees   uint64
	TotalWithdrawnFees   uint64
	SubBridges           []string
	ErrorRounds          int
}

// Checkpoint takes a serializable snapshot of the durable parts of
// state. The running flag and the gas cache are deliberately
// excluded: running is force-cleared on restart and the gas cache is
// a short-lived derived value, not durable state.
func (s *State) Checkpoint() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := make([]string, 0, len(s.SubBridges))
	for p := range s.SubBridges {
		subs = append(subs, p.String())
	}

	return Snapshot{
		Token:                s.Token,
		MinThresholdToBridge: s.MinThresholdToBridge,
		MasterPubKey:         append([]byte(nil), s.MasterPubKey...),
		MasterChainCode:      append([]byte(nil), s.MasterChainCode...),
		CanisterEVMAddress:   s.CanisterEVMAddress,
		EvmTokenContracts:    copyContracts(s.EvmTokenContracts),
		EvmProviders:         copyProviders(s.EvmProviders),
		Pending:              append([]BridgeLog(nil), s.Pending...),
		CurrentRound:         s.currentRound,
		TotalBridgedTokens:   s.TotalBridgedTokens,
		TotalCollectedFees:   s.TotalCollectedFees,
		TotalWithdrawnFees:   s.TotalWithdrawnFees,
		SubBridges:           subs,
		ErrorRounds:          s.ErrorRounds,
	}
}

// Restore loads a Snapshot back into state after a restart. The
// running flag is always force-cleared.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Token = snap.Token
	s.MinThresholdToBridge = snap.MinThresholdToBridge
	s.MasterPubKey = snap.MasterPubKey
	s.MasterChainCode = snap.MasterChainCode
	s.CanisterEVMAddress = snap.CanisterEVMAddress
	s.EvmTokenContracts = copyContracts(snap.EvmTokenContracts)
	s.EvmProviders = copyProviders(snap.EvmProviders)
	if s.EvmLatestGas == nil {
		s.EvmLatestGas = make(map[string]GasSnapshot)
	}
	s.Pending = append([]BridgeLog(nil), snap.Pending...)
	s.currentRound = snap.CurrentRound
	s.running = false
	s.TotalBridgedTokens = snap.TotalBridgedTokens
	s.TotalCollectedFees = snap.TotalCollectedFees
	s.TotalWithdrawnFees = snap.TotalWithdrawnFees
	s.SubBridges = make(auth.SubBridges, len(snap.SubBridges))
	for _, p := range snap.SubBridges {
		s.SubBridges.Add(auth.Principal(p))
	}
	s.ErrorRounds = snap.ErrorRounds
}

func copyContracts(m map[string]EvmContract) map[string]EvmContract {
	out := make(map[string]EvmContract, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyProviders(m map[string]EvmProviderConfig) map[string]EvmProviderConfig {
	out := make(map[string]EvmProviderConfig, len(m))
	for k, v := range m {
		urls := append([]string(nil), v.URLs...)
		out[k] = EvmProviderConfig{MaxConfirmations: v.MaxConfirmations, URLs: urls}
	}
	return out
}
