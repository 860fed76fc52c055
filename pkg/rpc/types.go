package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/onebridge/evm-bridge/internal/metrics"
	"github.com/onebridge/evm-bridge/pkg/apperrors"
	"github.com/onebridge/evm-bridge/pkg/bridge"
)

// JSON-RPC 2.0 Types
// https://www.jsonrpc.org/specification

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// Custom error codes (application-specific). categoryCodes maps
	// each error category onto one of these; CodeNotFound has no
	// category of its own.
	CodeBadRequest          = -32001
	CodeBelowThreshold      = -32002
	CodeUnauthorized        = -32003
	CodeDuplicatePending    = -32004
	CodeCircuitOpen         = -32005
	CodeLedgerRejected      = -32006
	CodeRPCNoQuorum         = -32007
	CodeRPCProviderError    = -32008
	CodeGasPolicyFailure    = -32009
	CodeSigRecoveryFailed   = -32010
	CodeConversionOverflow  = -32011
	CodeTransientChainError = -32012
	CodeNotFound            = -32013
)

// Error messages
var errorMessages = map[int]string{
	ParseError:     "Parse error",
	InvalidRequest: "Invalid Request",
	MethodNotFound: "Method not found",
	InvalidParams:  "Invalid params",
	InternalError:  "Internal error",

	CodeBadRequest:          "Bad request",
	CodeBelowThreshold:      "Amount below bridge threshold",
	CodeUnauthorized:        "Unauthorized",
	CodeDuplicatePending:    "Duplicate pending intent",
	CodeCircuitOpen:         "Bridge admission disabled",
	CodeLedgerRejected:      "Ledger rejected",
	CodeRPCNoQuorum:         "Provider quorum failed",
	CodeRPCProviderError:    "Provider error",
	CodeGasPolicyFailure:    "Gas refresh failed",
	CodeSigRecoveryFailed:   "Signature recovery failed",
	CodeConversionOverflow:  "Decimal conversion overflow",
	CodeTransientChainError: "Chain temporarily unavailable",
	CodeNotFound:            "Not found",
}

// categoryCodes maps the bridge's error taxonomy onto RPC codes.
var categoryCodes = map[apperrors.Category]int{
	apperrors.CategoryBadRequest:          CodeBadRequest,
	apperrors.CategoryBelowThreshold:      CodeBelowThreshold,
	apperrors.CategoryUnauthorized:        CodeUnauthorized,
	apperrors.CategoryDuplicatePending:    CodeDuplicatePending,
	apperrors.CategoryCircuitOpen:         CodeCircuitOpen,
	apperrors.CategoryLedgerRejected:      CodeLedgerRejected,
	apperrors.CategoryRPCNoQuorum:         CodeRPCNoQuorum,
	apperrors.CategoryRPCProviderError:    CodeRPCProviderError,
	apperrors.CategoryGasPolicyFailure:    CodeGasPolicyFailure,
	apperrors.CategorySigRecoveryFailed:   CodeSigRecoveryFailed,
	apperrors.CategoryConversionOverflow:  CodeConversionOverflow,
	apperrors.CategoryTransientChainError: CodeTransientChainError,
	apperrors.CategoryBlockHeightTooLarge: CodeLedgerRejected,
}

// NewError creates a new JSON-RPC error
func NewError(code int, data interface{}) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = "Unknown error"
	}
	return &Error{
		Code:    code,
		Message: msg,
		Data:    data,
	}
}

// errorFrom translates a service error into its JSON-RPC form,
// preserving the category as a code and the message as data.
func errorFrom(err error) *Error {
	var be *apperrors.BridgeError
	if errors.As(err, &be) {
		metrics.ErrorsTotal.WithLabelValues("rpc", be.Category.String()).Inc()
		if code, ok := categoryCodes[be.Category]; ok {
			return NewError(code, be.Error())
		}
	}
	return NewError(InternalError, err.Error())
}

// Validate validates the JSON-RPC request
func (r *Request) Validate() error {
	if r.JSONRPC != "2.0" {
		return fmt.Errorf("invalid jsonrpc version: expected 2.0")
	}
	if r.Method == "" {
		return fmt.Errorf("method is required")
	}
	return nil
}

// SuccessResponse creates a successful JSON-RPC response
func SuccessResponse(id interface{}, result interface{}) *Response {
	return &Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// ErrorResponse creates an error JSON-RPC response
func ErrorResponse(id interface{}, err *Error) *Response {
	return &Response{
		JSONRPC: "2.0",
		Error:   err,
		ID:      id,
	}
}

// =============================================================================
// RPC Method Parameters
// =============================================================================

// BridgeParams represents parameters for bridge
type BridgeParams struct {
	FromChain string `json:"from_chain" validate:"required,max=8"`
	ToChain   string `json:"to_chain" validate:"required,max=8"`
	Amount    uint64 `json:"amount" validate:"required"`
	To        string `json:"to,omitempty"`
}

// Erc20TransferParams represents parameters for erc20_transfer and
// erc20_transfer_tx
type Erc20TransferParams struct {
	Chain  string `json:"chain" validate:"required,max=8"`
	To     string `json:"to" validate:"required"`
	Amount uint64 `json:"amount" validate:"required"`
}

// EvmTransferTxParams represents parameters for evm_transfer_tx; the
// amount is denominated in wei and carried as a decimal string.
type EvmTransferTxParams struct {
	Chain     string `json:"chain" validate:"required,max=8"`
	To        string `json:"to" validate:"required"`
	AmountWei string `json:"amount_wei" validate:"required"`
}

// SolTransferTxParams represents parameters for sol_transfer_tx
type SolTransferTxParams struct {
	To              string `json:"to" validate:"required"`
	Lamports        uint64 `json:"lamports" validate:"required"`
	RecentBlockhash string `json:"recent_blockhash" validate:"required"`
}

// SplTransferTxParams represents parameters for spl_transfer_tx
type SplTransferTxParams struct {
	Source          string `json:"source" validate:"required"`
	Destination     string `json:"destination" validate:"required"`
	Amount          uint64 `json:"amount" validate:"required"`
	RecentBlockhash string `json:"recent_blockhash" validate:"required"`
}

// EvmSignParams represents parameters for evm_sign; the caller
// prepays the signing cost in cycles.
type EvmSignParams struct {
	MessageHash   string `json:"message_hash" validate:"required,len=66"`
	PaymentCycles uint64 `json:"payment_cycles"`
}

// AddressParams represents parameters for evm_address and svm_address
type AddressParams struct {
	User string `json:"user,omitempty"`
}

// PagedParams represents parameters for finalized_logs and
// my_finalized_logs
type PagedParams struct {
	Take int     `json:"take"`
	Prev *uint64 `json:"prev,omitempty"`
}

// MyBridgeLogParams represents parameters for my_bridge_log
type MyBridgeLogParams struct {
	FromTx string `json:"from_tx" validate:"required"`
}

// AddEvmContractParams represents parameters for add_evm_contract and
// validate_add_evm_contract
type AddEvmContractParams struct {
	ChainName string `json:"chain_name" validate:"required,max=8"`
	ChainID   uint64 `json:"chain_id" validate:"required"`
	Address   string `json:"address" validate:"required,len=42"`
}

// SetEvmProvidersParams represents parameters for set_evm_providers
// and validate_set_evm_providers
type SetEvmProvidersParams struct {
	ChainName        string   `json:"chain_name" validate:"required,max=8"`
	MaxConfirmations int      `json:"max_confirmations" validate:"required,min=2"`
	Providers        []string `json:"providers" validate:"required,min=1,dive,url"`
}

// CollectFeesParams represents parameters for collect_fees and
// validate_collect_fees
type CollectFeesParams struct {
	To     string `json:"to" validate:"required"`
	Amount uint64 `json:"amount" validate:"required"`
}

// =============================================================================
// RPC Method Results
// =============================================================================

// TxView is the JSON rendering of a settlement on one side of an
// intent.
type TxView struct {
	Kind        string `json:"kind"` // "native" or "evm"
	Finalized   bool   `json:"finalized"`
	BlockHeight uint64 `json:"block_height,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
}

// LogView is the JSON rendering of a BridgeLog.
type LogView struct {
	ID          *uint64 `json:"id,omitempty"`
	User        string  `json:"user"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	ToAddr      string  `json:"to_addr,omitempty"`
	Amount      uint64  `json:"amount"`
	Fee         uint64  `json:"fee"`
	FromTx      *TxView `json:"from_tx,omitempty"`
	ToTx        *TxView `json:"to_tx,omitempty"`
	CreatedAt   int64   `json:"created_at"`
	FinalizedAt int64   `json:"finalized_at"`
	Error       string  `json:"error,omitempty"`
}

// BridgeResult represents the result of bridge: the source-side
// settlement.
type BridgeResult struct {
	FromTx TxView `json:"from_tx"`
}

// SignedTxResult represents a built-and-signed transaction returned
// to the caller for inspection or self-broadcast.
type SignedTxResult struct {
	RawTx  string `json:"raw_tx"`
	TxHash string `json:"tx_hash,omitempty"`
}

// BroadcastResult represents a built, signed and broadcast
// transaction.
type BroadcastResult struct {
	TxHash string `json:"tx_hash"`
}

// SignResult represents the result of evm_sign.
type SignResult struct {
	Signature string `json:"signature"`
	Cost      uint64 `json:"cost_cycles"`
}

// AddressResult represents a derived address.
type AddressResult struct {
	Address string `json:"address"`
}

// ValidateResult carries a mutating call's canonical rendering for
// governance review.
type ValidateResult struct {
	Canonical string `json:"canonical"`
}

// CollectFeesResult represents the result of collect_fees.
type CollectFeesResult struct {
	BlockHeight uint64 `json:"block_height"`
}

func txView(tx bridge.BridgeTx) *TxView {
	switch t := tx.(type) {
	case bridge.NativeTx:
		return &TxView{Kind: "native", Finalized: t.FinalizedFlag, BlockHeight: t.BlockHeight}
	case bridge.EvmTx:
		return &TxView{Kind: "evm", Finalized: t.FinalizedFlag, TxHash: t.HashHex()}
	default:
		return nil
	}
}

func logView(l bridge.BridgeLog) LogView {
	return LogView{
		ID:          l.ID,
		User:        l.User,
		From:        l.From.String(),
		To:          l.To.String(),
		ToAddr:      l.ToAddr,
		Amount:      l.ICPAmount,
		Fee:         l.Fee,
		FromTx:      txView(l.FromTx),
		ToTx:        txView(l.ToTx),
		CreatedAt:   l.CreatedAt,
		FinalizedAt: l.FinalizedAt,
		Error:       l.Error,
	}
}

func logViews(logs []bridge.BridgeLog) []LogView {
	out := make([]LogView, len(logs))
	for i, l := range logs {
		out[i] = logView(l)
	}
	return out
}
