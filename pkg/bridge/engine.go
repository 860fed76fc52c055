package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onebridge/evm-bridge/internal/metrics"
)

// maxTasksPerRound is the fan-out width of one finalization round.
const maxTasksPerRound = 3

// FinalizeBridging is one invocation of the round-based finalization
// engine. It is idempotent for requestedRound <
// current_round and a no-op while a round is already in flight or the
// pending queue is empty.
func (c *Controller) FinalizeBridging(ctx context.Context, requestedRound uint64) {
	tasks, entered := c.enterRound(requestedRound)
	if !entered {
		return
	}

	roundID := uuid.NewString()
	c.Logger.Debug("finalization round started",
		zap.String("round_id", roundID),
		zap.Uint64("round", requestedRound),
		zap.Int("tasks", len(tasks)))

	start := time.Now()
	results := c.processRound(ctx, tasks)
	metrics.RoundDuration.Observe(time.Since(start).Seconds())

	c.commitRound(ctx, results)

	c.Logger.Debug("finalization round finished",
		zap.String("round_id", roundID),
		zap.Duration("duration", time.Since(start)))
}

// enterRound checks the running-flag and round-number guards, then
// selects tasks in FIFO order under per-EVM-chain mutual exclusion.
func (c *Controller) enterRound(requestedRound uint64) ([]BridgeLog, bool) {
	c.State.Lock()
	defer c.State.Unlock()

	if c.State.running || requestedRound < c.State.currentRound {
		return nil, false
	}
	if len(c.State.Pending) == 0 {
		return nil, false
	}
	c.State.running = true

	selected := make([]BridgeLog, 0, maxTasksPerRound)
	seenChains := make(map[string]bool, maxTasksPerRound)
	for i := range c.State.Pending {
		if len(selected) >= maxTasksPerRound {
			break
		}
		p := c.State.Pending[i]
		if evmTo, ok := p.To.(EvmTarget); ok {
			if seenChains[evmTo.Chain] {
				continue
			}
			seenChains[evmTo.Chain] = true
		}
		selected = append(selected, p)
	}
	return selected, true
}

// taskOutcome pairs a selected task's pre-round snapshot with its
// post-round result, so commitRound can locate the matching pending
// entry by same_with.
type taskOutcome struct {
	before BridgeLog
	after  BridgeLog
}

// processRound fans the selected tasks out concurrently and waits for all
// of them.
func (c *Controller) processRound(ctx context.Context, tasks []BridgeLog) []taskOutcome {
	outcomes := make([]taskOutcome, len(tasks))

	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t BridgeLog) {
			defer wg.Done()
			taskStart := time.Now()
			after := c.progressTask(ctx, t)
			metrics.TaskDuration.WithLabelValues(t.To.String()).Observe(time.Since(taskStart).Seconds())
			outcomes[i] = taskOutcome{before: t, after: after}
		}(i, t)
	}
	wg.Wait()

	return outcomes
}

// commitRound merges results back into pending, commits
// newly-finalized logs, advances the round counter, and re-arms.
func (c *Controller) commitRound(ctx context.Context, outcomes []taskOutcome) {
	now := c.Clock()

	c.State.Lock()
	for _, o := range outcomes {
		for i := range c.State.Pending {
			if c.State.Pending[i].SameWith(&o.before) {
				c.State.Pending[i] = o.after
				break
			}
		}
	}

	var finalized []BridgeLog
	remaining := make([]BridgeLog, 0, len(c.State.Pending))
	for _, p := range c.State.Pending {
		if p.IsFinalized() {
			p.Error = ""
			p.FinalizedAt = now
			finalized = append(finalized, p)
			c.State.TotalBridgedTokens += p.ICPAmount
			c.State.TotalCollectedFees += p.Fee
			metrics.BridgedAmountTotal.WithLabelValues(p.To.String()).Add(float64(p.ICPAmount))
			metrics.CollectedFeesTotal.Add(float64(p.Fee))
			continue
		}
		remaining = append(remaining, p)
	}
	c.State.Pending = remaining
	metrics.PendingQueueDepth.Set(float64(len(c.State.Pending)))

	anyError := false
	for _, o := range outcomes {
		if o.after.Error != "" {
			anyError = true
			break
		}
	}

	c.State.currentRound++
	newRound := c.State.currentRound
	pendingEmpty := len(c.State.Pending) == 0
	c.State.running = false

	if anyError {
		c.State.ErrorRounds++
	} else {
		c.State.ErrorRounds = 0
	}
	errorRounds := c.State.ErrorRounds
	c.State.Unlock()

	for _, f := range finalized {
		id, err := c.Store.Append(ctx, f)
		if err != nil {
			c.Logger.Error("failed to commit finalized bridge log",
				zap.String("user", f.User), zap.Error(err))
			continue
		}
		if err := c.Store.IndexUser(ctx, f.User, id); err != nil {
			c.Logger.Error("failed to index finalized bridge log",
				zap.Uint64("id", id), zap.Error(err))
		}
		metrics.TasksTotal.WithLabelValues(f.To.String(), "finalized").Inc()
	}

	if anyError {
		metrics.RoundsTotal.WithLabelValues("error").Inc()
	} else {
		metrics.RoundsTotal.WithLabelValues("ok").Inc()
	}
	metrics.ErrorRounds.Set(float64(errorRounds))
	if errorRounds >= CircuitOpenThreshold {
		metrics.CircuitOpen.Set(1)
	} else {
		metrics.CircuitOpen.Set(0)
	}

	if pendingEmpty {
		return
	}
	if anyError {
		if errorRounds >= CircuitOpenThreshold {
			c.Logger.Warn("finalization circuit open: admission disabled", zap.Int("error_rounds", errorRounds))
			return
		}
		c.Scheduler.After(time.Duration(5*errorRounds)*time.Second, newRound)
		return
	}
	c.Scheduler.After(1*time.Second, newRound)
}
