package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/onebridge/evm-bridge/internal/metrics"
	"github.com/onebridge/evm-bridge/pkg/apperrors"
	"github.com/onebridge/evm-bridge/pkg/auth"
)

// Bridge admits a new bridge intent: it validates the
// request against current state, pulls funds on the source side, and
// enqueues a pending log. It returns the source-side transaction.
func (c *Controller) Bridge(ctx context.Context, req BridgeRequest) (BridgeTx, error) {
	from := ParseTarget(req.FromChain)
	to := ParseTarget(req.ToChain)

	fee, err := c.preflight(req, from, to)
	if err != nil {
		return nil, err
	}

	fromTx, err := c.pullSourceFunds(ctx, req, from)
	if err != nil {
		return nil, err
	}

	entry := BridgeLog{
		User:        req.User,
		From:        from,
		To:          to,
		ToAddr:      req.ToAddr,
		ICPAmount:   req.Amount,
		Fee:         fee,
		FromTx:      fromTx,
		ToTx:        nil,
		CreatedAt:   req.NowMs,
		FinalizedAt: 0,
	}

	round, err := c.commitPending(entry)
	if err != nil {
		return nil, err
	}

	delay := 0 * time.Second
	if _, ok := from.(EvmTarget); ok {
		delay = 5 * time.Second
	}
	c.Scheduler.After(delay, round)

	return fromTx, nil
}

// preflight validates an intent against current state. It runs
// entirely under the state lock since it performs no outbound calls.
func (c *Controller) preflight(req BridgeRequest, from, to BridgeTarget) (fee uint64, err error) {
	c.State.Lock()
	defer c.State.Unlock()

	// 1. circuit breaker.
	if c.State.ErrorRounds >= CircuitOpenThreshold {
		return 0, apperrors.CircuitOpen("bridge admission disabled: too many consecutive error rounds")
	}

	// 2. thundering-retry guard: any pending log whose error begins
	// with either chain's name blocks new admissions onto it.
	for i := range c.State.Pending {
		p := &c.State.Pending[i]
		if p.Error == "" {
			continue
		}
		if strings.HasPrefix(p.Error, req.FromChain) || strings.HasPrefix(p.Error, req.ToChain) {
			return 0, apperrors.TransientChainError(p.Error)
		}
	}

	// 3. minimum threshold.
	if req.Amount < c.State.MinThresholdToBridge {
		return 0, apperrors.BelowThreshold(fmt.Sprintf("amount %d is below the minimum %d", req.Amount, c.State.MinThresholdToBridge))
	}

	// 4. from != to.
	if req.FromChain == req.ToChain {
		return 0, apperrors.BadRequest("from_chain and to_chain must differ", nil)
	}

	// 5. registered chains.
	if _, ok := from.(EvmTarget); ok {
		if _, exists := c.State.EvmTokenContracts[req.FromChain]; !exists {
			return 0, apperrors.BadRequest("unknown source chain "+req.FromChain, nil)
		}
	}
	if _, ok := to.(EvmTarget); ok {
		if _, exists := c.State.EvmTokenContracts[req.ToChain]; !exists {
			return 0, apperrors.BadRequest("unknown destination chain "+req.ToChain, nil)
		}
	}

	// 6. to_addr shape.
	if req.ToAddr != "" {
		if _, ok := to.(NativeTarget); ok {
			if _, err := auth.ParsePrincipal(req.ToAddr); err != nil {
				return 0, apperrors.BadRequest("to_addr must be a valid principal for a native destination", err)
			}
		} else if !auth.ValidateEVMAddress(req.ToAddr) || auth.ChecksumAddress(req.ToAddr) != req.ToAddr {
			return 0, apperrors.BadRequest("to_addr must be a checksummed EVM address for an EVM destination", nil)
		}
	}

	// 7. no stacked unfinalized EVM deposit on the same source chain.
	for i := range c.State.Pending {
		p := &c.State.Pending[i]
		if p.User != req.User || !p.From.Equals(from) {
			continue
		}
		if evmTx, ok := p.FromTx.(EvmTx); ok && !evmTx.FinalizedFlag {
			return 0, apperrors.DuplicatePending("an unfinalized deposit is already pending on " + req.FromChain)
		}
	}

	return c.State.Token.Fee, nil
}

// pullSourceFunds performs the source-side pull: a
// native transfer_from, or an EVM ERC-20 transfer from the user's
// derived address to the canister's own address. This is an outbound
// call and must run unlocked.
func (c *Controller) pullSourceFunds(ctx context.Context, req BridgeRequest, from BridgeTarget) (BridgeTx, error) {
	if _, ok := from.(NativeTarget); ok {
		height, err := c.Ledger.TransferFrom(ctx, req.User, c.CanisterPrincipal, req.Amount)
		if err != nil {
			return nil, err
		}
		return NativeTx{FinalizedFlag: true, BlockHeight: height}, nil
	}

	evmFrom := from.(EvmTarget)
	client, ok := c.Clients.Client(evmFrom.Chain)
	if !ok {
		return nil, apperrors.BadRequest("no EVM client configured for chain "+evmFrom.Chain, nil)
	}

	canisterAddr := common.HexToAddress(c.State.CanisterAddress())
	raw, txHash, err := c.TxBuilder.BuildERC20Transfer(ctx, evmFrom.Chain, req.User, canisterAddr, req.Amount, req.NowMs)
	if err != nil {
		return nil, err
	}
	if _, err := client.SendRawTransaction(ctx, raw); err != nil {
		return nil, err
	}
	return EvmTx{FinalizedFlag: false, TxHash: txHash}, nil
}

// commitPending re-validates the dedup invariant and appends entry to
// the pending queue under a single write-critical section, returning
// the round number observed at commit time.
func (c *Controller) commitPending(entry BridgeLog) (uint64, error) {
	c.State.Lock()
	defer c.State.Unlock()

	for i := range c.State.Pending {
		if dedupMatches(&c.State.Pending[i], &entry) {
			return 0, apperrors.DuplicatePending("an identical intent is already pending")
		}
	}

	c.State.Pending = append(c.State.Pending, entry)
	metrics.PendingQueueDepth.Set(float64(len(c.State.Pending)))
	return c.State.currentRound, nil
}
