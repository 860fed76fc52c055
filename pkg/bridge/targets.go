// Package bridge implements the bridge's in-memory state, intent
// admission, and the round-based finalization engine.
package bridge

import "github.com/ethereum/go-ethereum/common"

// BridgeTarget is the closed sum type: either the native
// ledger or a named EVM chain. It is never encoded as a bare string
// except at the JSON/RPC boundary.
type BridgeTarget interface {
	isBridgeTarget()
	// String returns the chain name: "ICP" for the native ledger, or
	// the EVM chain's configured name otherwise.
	String() string
	// Equals reports whether other names the same target.
	Equals(other BridgeTarget) bool
}

// NativeTarget is the home-chain native ledger.
type NativeTarget struct{}

func (NativeTarget) isBridgeTarget() {}
func (NativeTarget) String() string  { return "ICP" }

// Equals implements BridgeTarget.
func (NativeTarget) Equals(other BridgeTarget) bool {
	_, ok := other.(NativeTarget)
	return ok
}

// EvmTarget names one configured EVM chain.
type EvmTarget struct {
	Chain string
}

func (EvmTarget) isBridgeTarget() {}

// String implements BridgeTarget.
func (t EvmTarget) String() string { return t.Chain }

// Equals implements BridgeTarget.
func (t EvmTarget) Equals(other BridgeTarget) bool {
	o, ok := other.(EvmTarget)
	return ok && o.Chain == t.Chain
}

// ParseTarget resolves a chain name into a BridgeTarget. "ICP" is
// reserved for the native ledger and never appears in
// evm_token_contracts.
func ParseTarget(chainName string) BridgeTarget {
	if chainName == "ICP" {
		return NativeTarget{}
	}
	return EvmTarget{Chain: chainName}
}

// BridgeTx is the closed sum type: a settlement on one
// side of an intent, tagged by chain kind. Equality and SameAs ignore
// the Finalized flag and compare only the identifier payload.
type BridgeTx interface {
	isBridgeTx()
	// Finalized reports whether this side of the intent has settled
	// to the required confirmation depth.
	Finalized() bool
	// SameAs reports whether other identifies the same underlying
	// transaction, regardless of finalization state.
	SameAs(other BridgeTx) bool
}

// NativeTx is a native-ledger settlement. Native-side transactions
// are finalized immediately upon a successful ledger RPC return.
type NativeTx struct {
	FinalizedFlag bool
	BlockHeight   uint64
}

func (NativeTx) isBridgeTx() {}

// Finalized implements BridgeTx.
func (t NativeTx) Finalized() bool { return t.FinalizedFlag }

// SameAs implements BridgeTx.
func (t NativeTx) SameAs(other BridgeTx) bool {
	o, ok := other.(NativeTx)
	return ok && o.BlockHeight == t.BlockHeight
}

// EvmTx is an EVM-chain settlement, identified by transaction hash.
// It starts unfinalized and flips to finalized once its receipt is at
// least max_confirmations blocks old.
type EvmTx struct {
	FinalizedFlag bool
	TxHash        [32]byte
}

func (EvmTx) isBridgeTx() {}

// Finalized implements BridgeTx.
func (t EvmTx) Finalized() bool { return t.FinalizedFlag }

// SameAs implements BridgeTx.
func (t EvmTx) SameAs(other BridgeTx) bool {
	o, ok := other.(EvmTx)
	return ok && o.TxHash == t.TxHash
}

// HashHex returns the 0x-prefixed hex rendering of the transaction
// hash.
func (t EvmTx) HashHex() string {
	return common.Hash(t.TxHash).Hex()
}
