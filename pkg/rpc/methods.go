package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/onebridge/evm-bridge/pkg/admin"
	"github.com/onebridge/evm-bridge/pkg/auth"
	"github.com/onebridge/evm-bridge/pkg/bridge"
	"github.com/onebridge/evm-bridge/pkg/config"
	"github.com/onebridge/evm-bridge/pkg/keys"
)

// MethodHandler handles JSON-RPC method dispatch
type MethodHandler struct {
	server *Server
}

// NewMethodHandler creates a new method handler
func NewMethodHandler(server *Server) *MethodHandler {
	return &MethodHandler{server: server}
}

// Methods that require an authenticated caller principal
var authenticatedMethods = map[string]bool{
	"bridge":                     true,
	"erc20_transfer":             true,
	"erc20_transfer_tx":          true,
	"evm_transfer_tx":            true,
	"spl_transfer_tx":            true,
	"sol_transfer_tx":            true,
	"evm_sign":                   true,
	"evm_address":                true,
	"svm_address":                true,
	"my_pending_logs":            true,
	"my_finalized_logs":          true,
	"my_bridge_log":              true,
	"add_evm_contract":           true,
	"validate_add_evm_contract":  true,
	"set_evm_providers":          true,
	"validate_set_evm_providers": true,
	"collect_fees":               true,
	"validate_collect_fees":      true,
}

// RequiresAuth returns true if the method requires authentication
func (h *MethodHandler) RequiresAuth(method string) bool {
	return authenticatedMethods[method]
}

// Handle dispatches the method call
func (h *MethodHandler) Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, *Error) {
	switch method {
	case "info":
		return h.handleInfo(ctx)
	case "pending_logs":
		return logViews(h.server.admin.PendingLogs()), nil
	case "finalized_logs":
		return h.handleFinalizedLogs(ctx, params)
	case "my_pending_logs":
		return logViews(h.server.admin.MyPendingLogs(callerOf(ctx))), nil
	case "my_finalized_logs":
		return h.handleMyFinalizedLogs(ctx, params)
	case "my_bridge_log":
		return h.handleMyBridgeLog(ctx, params)
	case "evm_address":
		return h.handleEVMAddress(ctx, params)
	case "svm_address":
		return h.handleSVMAddress(ctx, params)
	case "bridge":
		return h.handleBridge(ctx, params)
	case "erc20_transfer":
		return h.handleErc20Transfer(ctx, params, true)
	case "erc20_transfer_tx":
		return h.handleErc20Transfer(ctx, params, false)
	case "evm_transfer_tx":
		return h.handleEvmTransferTx(ctx, params)
	case "sol_transfer_tx":
		return h.handleSolTransferTx(ctx, params)
	case "spl_transfer_tx":
		return h.handleSplTransferTx(ctx, params)
	case "evm_sign":
		return h.handleEvmSign(ctx, params)
	case "add_evm_contract":
		return h.handleAddEvmContract(ctx, params, false)
	case "validate_add_evm_contract":
		return h.handleAddEvmContract(ctx, params, true)
	case "set_evm_providers":
		return h.handleSetEvmProviders(ctx, params, false)
	case "validate_set_evm_providers":
		return h.handleSetEvmProviders(ctx, params, true)
	case "collect_fees":
		return h.handleCollectFees(ctx, params, false)
	case "validate_collect_fees":
		return h.handleCollectFees(ctx, params, true)
	default:
		return nil, NewError(MethodNotFound, method)
	}
}

// callerOf returns the authenticated caller principal; empty when the
// method is public.
func callerOf(ctx context.Context) auth.Principal {
	p, _ := auth.PrincipalFromContext(ctx)
	return p
}

// decodeParams unmarshals and validates a method's params struct.
func decodeParams(params json.RawMessage, v interface{}) *Error {
	if len(params) == 0 {
		params = []byte("{}")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return NewError(InvalidParams, err.Error())
	}
	if err := config.Validate(v); err != nil {
		return NewError(InvalidParams, err.Error())
	}
	return nil
}

func (h *MethodHandler) handleInfo(ctx context.Context) (interface{}, *Error) {
	info, err := h.server.admin.Info(ctx)
	if err != nil {
		return nil, errorFrom(err)
	}
	return info, nil
}

func (h *MethodHandler) handleFinalizedLogs(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p PagedParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	logs, err := h.server.admin.FinalizedLogs(ctx, p.Take, p.Prev)
	if err != nil {
		return nil, errorFrom(err)
	}
	return logViews(logs), nil
}

func (h *MethodHandler) handleMyFinalizedLogs(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p PagedParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	logs, err := h.server.admin.MyFinalizedLogs(ctx, callerOf(ctx), p.Take, p.Prev)
	if err != nil {
		return nil, errorFrom(err)
	}
	return logViews(logs), nil
}

func (h *MethodHandler) handleMyBridgeLog(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p MyBridgeLogParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	log, err := h.server.admin.MyBridgeLog(ctx, callerOf(ctx), p.FromTx)
	if err != nil {
		return nil, errorFrom(err)
	}
	return logView(log), nil
}

func (h *MethodHandler) handleEVMAddress(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p AddressParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := h.server.admin.EVMAddress(ctx, callerOf(ctx), p.User)
	if err != nil {
		return nil, errorFrom(err)
	}
	return &AddressResult{Address: addr}, nil
}

func (h *MethodHandler) handleSVMAddress(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p AddressParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := h.server.admin.SVMAddress(ctx, callerOf(ctx), p.User)
	if err != nil {
		return nil, errorFrom(err)
	}
	return &AddressResult{Address: addr}, nil
}

func (h *MethodHandler) handleBridge(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p BridgeParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	fromTx, err := h.server.controller.Bridge(ctx, bridge.BridgeRequest{
		FromChain: p.FromChain,
		ToChain:   p.ToChain,
		Amount:    p.Amount,
		ToAddr:    p.To,
		User:      string(callerOf(ctx)),
		NowMs:     h.server.clock(),
	})
	if err != nil {
		h.server.logger.Warn("bridge admission refused",
			zap.String("from", p.FromChain),
			zap.String("to", p.ToChain),
			zap.Error(err))
		return nil, errorFrom(err)
	}

	view := txView(fromTx)
	return &BridgeResult{FromTx: *view}, nil
}

func (h *MethodHandler) handleErc20Transfer(ctx context.Context, params json.RawMessage, broadcast bool) (interface{}, *Error) {
	var p Erc20TransferParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if !auth.ValidateEVMAddress(p.To) {
		return nil, NewError(InvalidParams, "to must be an EVM address")
	}

	caller := string(callerOf(ctx))
	raw, hash, err := h.server.builder.BuildERC20Transfer(ctx, p.Chain, caller, common.HexToAddress(p.To), p.Amount, h.server.clock())
	if err != nil {
		return nil, errorFrom(err)
	}

	if !broadcast {
		return &SignedTxResult{RawTx: "0x" + hex.EncodeToString(raw), TxHash: hash.Hex()}, nil
	}

	client, ok := h.server.controller.Clients.Client(p.Chain)
	if !ok {
		return nil, NewError(CodeBadRequest, "no client configured for chain "+p.Chain)
	}
	sent, err := client.SendRawTransaction(ctx, raw)
	if err != nil {
		return nil, errorFrom(err)
	}
	return &BroadcastResult{TxHash: sent.Hex()}, nil
}

func (h *MethodHandler) handleEvmTransferTx(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p EvmTransferTxParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if !auth.ValidateEVMAddress(p.To) {
		return nil, NewError(InvalidParams, "to must be an EVM address")
	}
	amount, ok := new(big.Int).SetString(p.AmountWei, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, NewError(InvalidParams, "amount_wei must be a positive decimal string")
	}

	caller := string(callerOf(ctx))
	raw, hash, err := h.server.builder.BuildEVMTransfer(ctx, p.Chain, caller, common.HexToAddress(p.To), amount, h.server.clock())
	if err != nil {
		return nil, errorFrom(err)
	}
	return &SignedTxResult{RawTx: "0x" + hex.EncodeToString(raw), TxHash: hash.Hex()}, nil
}

func decodeBlockhash(s string) ([32]byte, *Error) {
	var out [32]byte
	raw, err := keys.DecodeBase58(s)
	if err != nil || len(raw) != 32 {
		return out, NewError(InvalidParams, "recent_blockhash must be a base58 32-byte value")
	}
	copy(out[:], raw)
	return out, nil
}

func (h *MethodHandler) handleSolTransferTx(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p SolTransferTxParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	to, err := keys.DecodeSVMAccount(p.To)
	if err != nil {
		return nil, NewError(InvalidParams, "to must be a base58 account key")
	}
	blockhash, rpcErr := decodeBlockhash(p.RecentBlockhash)
	if rpcErr != nil {
		return nil, rpcErr
	}

	blob, buildErr := h.server.builder.BuildSOLTransfer(ctx, string(callerOf(ctx)), to, p.Lamports, blockhash)
	if buildErr != nil {
		return nil, errorFrom(buildErr)
	}
	return &SignedTxResult{RawTx: keys.EncodeBase58(blob)}, nil
}

func (h *MethodHandler) handleSplTransferTx(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p SplTransferTxParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	source, err := keys.DecodeSVMAccount(p.Source)
	if err != nil {
		return nil, NewError(InvalidParams, "source must be a base58 account key")
	}
	dest, err := keys.DecodeSVMAccount(p.Destination)
	if err != nil {
		return nil, NewError(InvalidParams, "destination must be a base58 account key")
	}
	blockhash, rpcErr := decodeBlockhash(p.RecentBlockhash)
	if rpcErr != nil {
		return nil, rpcErr
	}

	blob, buildErr := h.server.builder.BuildSPLTransfer(ctx, string(callerOf(ctx)), source, dest, p.Amount, blockhash)
	if buildErr != nil {
		return nil, errorFrom(buildErr)
	}
	return &SignedTxResult{RawTx: keys.EncodeBase58(blob)}, nil
}

func (h *MethodHandler) handleEvmSign(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p EvmSignParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	caller := callerOf(ctx)
	h.server.controller.State.Lock()
	member := h.server.controller.State.SubBridges.Contains(caller)
	h.server.controller.State.Unlock()
	if !member {
		return nil, NewError(CodeUnauthorized, "caller is not an authorized sub-bridge")
	}

	cost, err := h.server.signer.CostForSign(h.server.keyName)
	if err != nil {
		return nil, errorFrom(err)
	}
	if p.PaymentCycles < cost {
		return nil, NewError(CodeBadRequest, "payment_cycles does not cover the signing cost")
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(p.MessageHash, "0x"))
	if err != nil || len(raw) != 32 {
		return nil, NewError(InvalidParams, "message_hash must be a 32-byte hex value")
	}
	var hash [32]byte
	copy(hash[:], raw)

	rs, err := h.server.signer.SignPrehash(ctx, string(caller), hash)
	if err != nil {
		return nil, errorFrom(err)
	}
	return &SignResult{Signature: "0x" + hex.EncodeToString(rs[:]), Cost: cost}, nil
}

func (h *MethodHandler) handleAddEvmContract(ctx context.Context, params json.RawMessage, validateOnly bool) (interface{}, *Error) {
	var p AddEvmContractParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	req := admin.AddEVMContractRequest{ChainName: p.ChainName, ChainID: p.ChainID, Address: p.Address}

	if validateOnly {
		canonical, err := h.server.admin.ValidateAddEVMContract(req)
		if err != nil {
			return nil, errorFrom(err)
		}
		return &ValidateResult{Canonical: canonical}, nil
	}
	if err := h.server.admin.AddEVMContract(ctx, callerOf(ctx), req); err != nil {
		return nil, errorFrom(err)
	}
	return true, nil
}

func (h *MethodHandler) handleSetEvmProviders(ctx context.Context, params json.RawMessage, validateOnly bool) (interface{}, *Error) {
	var p SetEvmProvidersParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	req := admin.SetEVMProvidersRequest{ChainName: p.ChainName, MaxConfirmations: p.MaxConfirmations, Providers: p.Providers}

	if validateOnly {
		canonical, err := h.server.admin.ValidateSetEVMProviders(req)
		if err != nil {
			return nil, errorFrom(err)
		}
		return &ValidateResult{Canonical: canonical}, nil
	}
	if err := h.server.admin.SetEVMProviders(ctx, callerOf(ctx), req); err != nil {
		return nil, errorFrom(err)
	}
	return true, nil
}

func (h *MethodHandler) handleCollectFees(ctx context.Context, params json.RawMessage, validateOnly bool) (interface{}, *Error) {
	var p CollectFeesParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	req := admin.CollectFeesRequest{To: p.To, Amount: p.Amount}

	if validateOnly {
		canonical, err := h.server.admin.ValidateCollectFees(req)
		if err != nil {
			return nil, errorFrom(err)
		}
		return &ValidateResult{Canonical: canonical}, nil
	}
	height, err := h.server.admin.CollectFees(ctx, callerOf(ctx), req)
	if err != nil {
		return nil, errorFrom(err)
	}
	return &CollectFeesResult{BlockHeight: height}, nil
}
