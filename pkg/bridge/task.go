package bridge

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/onebridge/evm-bridge/internal/metrics"
	"github.com/onebridge/evm-bridge/pkg/apperrors"
	"github.com/onebridge/evm-bridge/pkg/keys"
)

// progressTask advances one selected task by a single step. It is
// idempotent across retries:
// every branch either observes no new state and returns unchanged, or
// performs one idempotent submission. Any error is captured verbatim
// into the returned log's Error field rather than propagated, so a
// single failing task never aborts the round.
func (c *Controller) progressTask(ctx context.Context, t BridgeLog) BridgeLog {
	t.Error = ""

	if evmTx, ok := t.FromTx.(EvmTx); ok && !evmTx.FinalizedFlag {
		chain, ok := t.From.(EvmTarget)
		if !ok {
			t.Error = apperrors.Internal(fmt.Errorf("EVM from_tx on non-EVM source target")).Error()
			return t
		}
		updated, err := c.pollEvmFinality(ctx, chain.Chain, evmTx)
		if err != nil {
			t.Error = err.Error()
			metrics.TasksTotal.WithLabelValues(t.To.String(), "error").Inc()
			return t
		}
		t.FromTx = updated
	}

	if t.FromTx != nil && t.FromTx.Finalized() && t.ToTx == nil {
		if err := c.submitDestination(ctx, &t); err != nil {
			t.Error = err.Error()
			metrics.TasksTotal.WithLabelValues(t.To.String(), "error").Inc()
			return t
		}
		metrics.TasksTotal.WithLabelValues(t.To.String(), "submitted").Inc()
		return t
	}

	if evmTx, ok := t.ToTx.(EvmTx); ok && !evmTx.FinalizedFlag {
		chain, ok := t.To.(EvmTarget)
		if !ok {
			t.Error = apperrors.Internal(fmt.Errorf("EVM to_tx on non-EVM destination target")).Error()
			return t
		}
		updated, err := c.pollEvmFinality(ctx, chain.Chain, evmTx)
		if err != nil {
			t.Error = err.Error()
			metrics.TasksTotal.WithLabelValues(t.To.String(), "error").Inc()
			return t
		}
		t.ToTx = updated
		return t
	}

	metrics.TasksTotal.WithLabelValues(t.To.String(), "retry").Inc()
	return t
}

// pollEvmFinality checks an EVM-side transaction's receipt and flips
// it to finalized once it is buried at least max_confirmations blocks
// deep. A receipt that hasn't appeared yet is not an
// error: the transaction simply stays unfinalized for the next round.
func (c *Controller) pollEvmFinality(ctx context.Context, chain string, tx EvmTx) (BridgeTx, error) {
	client, ok := c.Clients.Client(chain)
	if !ok {
		return tx, apperrors.BadRequest("no EVM client configured for chain "+chain, nil)
	}

	receipt, err := client.GetTransactionReceipt(ctx, common.Hash(tx.TxHash))
	if err != nil {
		return tx, apperrors.RPCProviderError("get_transaction_receipt", err)
	}
	if receipt == nil {
		return tx, nil
	}

	latest, err := client.BlockNumber(ctx)
	if err != nil {
		return tx, apperrors.RPCProviderError("block_number", err)
	}

	depth := latest - receipt.BlockNumber.Uint64()
	if depth >= uint64(client.MaxConfirmations()) && receipt.Status == types.ReceiptStatusSuccessful {
		tx.FinalizedFlag = true
	}
	return tx, nil
}

// submitDestination sends the destination-side settlement once the
// source side has finalized: a native payout for a native
// destination, or a signed ERC-20 transfer from the canister's own
// EVM address otherwise. net is the fee-deducted amount, saturating
// at zero rather than underflowing.
func (c *Controller) submitDestination(ctx context.Context, t *BridgeLog) error {
	var net uint64
	if t.ICPAmount > t.Fee {
		net = t.ICPAmount - t.Fee
	}

	switch to := t.To.(type) {
	case NativeTarget:
		recipient := t.User
		if t.ToAddr != "" {
			recipient = t.ToAddr
		}
		height, err := c.Ledger.Transfer(ctx, c.CanisterPrincipal, recipient, net)
		if err != nil {
			return err
		}
		t.ToTx = NativeTx{FinalizedFlag: true, BlockHeight: height}
		return nil

	case EvmTarget:
		client, ok := c.Clients.Client(to.Chain)
		if !ok {
			return apperrors.BadRequest("no EVM client configured for chain "+to.Chain, nil)
		}

		recipient, err := c.resolveEvmRecipient(ctx, t)
		if err != nil {
			return err
		}

		raw, txHash, err := c.TxBuilder.BuildERC20Transfer(ctx, to.Chain, c.CanisterPrincipal, recipient, net, c.Clock())
		if err != nil {
			return err
		}
		if _, err := client.SendRawTransaction(ctx, raw); err != nil {
			return err
		}
		t.ToTx = EvmTx{FinalizedFlag: false, TxHash: txHash}
		return nil

	default:
		return apperrors.Internal(fmt.Errorf("unknown bridge target type %T", to))
	}
}

// resolveEvmRecipient resolves the destination address for an EVM
// payout: the parsed to_addr override, or the user's own derived EVM
// address.
func (c *Controller) resolveEvmRecipient(ctx context.Context, t *BridgeLog) (common.Address, error) {
	if t.ToAddr != "" {
		return common.HexToAddress(t.ToAddr), nil
	}
	pub, _, err := c.Signer.DeriveSubkey(ctx, t.User)
	if err != nil {
		return common.Address{}, err
	}
	return keys.PubkeyToEVMAddress(pub)
}
