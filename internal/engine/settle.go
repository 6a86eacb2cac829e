package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridianlabs/meridian/internal/chain"
	"github.com/meridianlabs/meridian/internal/lock"
	"github.com/meridianlabs/meridian/internal/model"
	"github.com/meridianlabs/meridian/internal/relayer"
	"github.com/meridianlabs/meridian/internal/retry"
)

// Result is what callers get back from a successful settlement.
type Result struct {
	OrderID    string
	DestTxHash string
}

// errLockBusy marks one busy-mutex selection attempt. Resolved inside the
// selection loop; escalates to ErrCodeLockContention only when the whole
// attempt budget is spent.
var errLockBusy = errors.New("relayer mutex busy")

// Settle drives the order described by summary to a terminal state.
//
// Safe to invoke any number of times for the same order: a completed
// order returns its recorded destination tx hash with no network calls
// beyond the status read, a failed order replays its stored reason, and a
// crashed run resumes from the last persisted checkpoint (an unreleased
// reservation is reused, a sent payout is not re-sent).
//
// Any fatal step error marks the record failed, releases the reservation,
// and surfaces as a SettlementError carrying the taxonomy code.
func (e *Engine) Settle(ctx context.Context, summary model.ExecutionSummary) (*Result, error) {
	log := e.logger.With("order_id", summary.OrderID, "source_tx", summary.SourceTxHash)

	// Step 1: record the execution summary, idempotently.
	rec, err := e.recordExecution(ctx, summary)
	if err != nil {
		return nil, classify(err, summary.OrderID, StepRecordExecution)
	}

	// Step 2: gate on current status. Terminal records short-circuit.
	switch rec.Status {
	case model.StatusCompleted:
		log.Info("settlement already completed", "dest_tx", rec.DestTxHash)
		return &Result{OrderID: rec.OrderID, DestTxHash: rec.DestTxHash}, nil
	case model.StatusFailed:
		log.Info("settlement already failed", "reason", rec.ErrorReason)
		return nil, &AlreadyFailedError{OrderID: rec.OrderID, Reason: rec.ErrorReason}
	}

	// Step 3: wait for source-chain confirmation.
	if err := e.waitSourceConfirmation(ctx, rec, log); err != nil {
		return nil, e.fail(ctx, rec, StepSourceConfirmed, err, log)
	}

	// Step 4: select and exclusively reserve a destination relayer.
	if err := e.selectAndReserve(ctx, rec, log); err != nil {
		return nil, e.fail(ctx, rec, StepRelayerReserved, err, log)
	}

	// Step 5: send the destination payout.
	if err := e.sendPayout(ctx, rec, log); err != nil {
		return nil, e.fail(ctx, rec, StepPayoutSent, err, log)
	}

	// Step 6: wait for destination finality.
	if err := e.waitDestinationFinality(ctx, rec, log); err != nil {
		return nil, e.fail(ctx, rec, StepDestinationFinal, err, log)
	}

	// Step 7: mark completed, releasing the reservation.
	rec, err = e.markCompleted(ctx, rec)
	if err != nil {
		return nil, classify(err, rec.OrderID, StepCompleted)
	}

	log.Info("settlement completed", "dest_tx", rec.DestTxHash, "relayer", rec.RelayerAddress)
	return &Result{OrderID: rec.OrderID, DestTxHash: rec.DestTxHash}, nil
}

// recordExecution creates the settlement record on first sight of the
// execution summary. A record that already exists is returned untouched -
// re-recording is a no-op on state.
func (e *Engine) recordExecution(ctx context.Context, sum model.ExecutionSummary) (*model.SettlementRecord, error) {
	rec, err := e.store.Get(ctx, sum.OrderID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}

	now := e.now()
	direction := sum.Direction
	if direction == "" {
		direction = model.DirectionEVMToTron
	}
	patch := model.RecordPatch{
		OrderID:          sum.OrderID,
		Direction:        &direction,
		SourceChainID:    &sum.SourceChainID,
		SourceToken:      &sum.SourceToken,
		Amount:           &sum.Amount,
		RecipientAddress: &sum.RecipientAddress,
		SourceTxHash:     &sum.SourceTxHash,
		LastStep:         model.Ptr(StepRecordExecution),
		LastStepAt:       &now,
	}
	if e.cfg.LargeAmountThreshold.IsPositive() && sum.Amount.GreaterThan(e.cfg.LargeAmountThreshold) {
		patch.LargeAmount = model.Ptr(true)
	}
	return e.store.Upsert(ctx, patch)
}

// waitSourceConfirmation polls the source chain until the transfer is
// deep enough. A checkpoint at or past source_confirmed skips the poll
// entirely (crash resume).
func (e *Engine) waitSourceConfirmation(ctx context.Context, rec *model.SettlementRecord, log *slog.Logger) error {
	if stepRank[rec.LastStep] >= stepRank[StepSourceConfirmed] {
		log.Debug("source already confirmed, skipping poll")
		return nil
	}

	receipt, err := retry.Do(ctx, "wait source confirmation", e.retryOpts(),
		func(ctx context.Context) (*chain.Receipt, error) {
			return e.source.TransactionReceipt(ctx, rec.SourceTxHash, e.cfg.MinConfirmations)
		})
	if err != nil {
		return err
	}

	log.Info("source transfer confirmed", "block", receipt.BlockNumber)
	return e.checkpoint(ctx, rec, StepSourceConfirmed, e.source.Endpoint())
}

// selectAndReserve picks a relayer with sufficient available balance and
// persists an exclusive reservation against it.
//
// An unreleased reservation on the record is reused as-is (idempotent
// resume). Otherwise the whole selection - fetch balances, subtract
// active reservations, choose, lock, re-check, reserve - is retried a
// small fixed number of times with a short fixed backoff: capacity often
// frees up when a competing settlement completes or a stale lock expires.
func (e *Engine) selectAndReserve(ctx context.Context, rec *model.SettlementRecord, log *slog.Logger) error {
	if rec.ReservationActive() {
		log.Info("reusing existing reservation", "relayer", rec.RelayerAddress, "reserved", rec.ReservedAmount)
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.ReserveAttempts; attempt++ {
		err := e.tryReserve(ctx, rec, log)
		if err == nil {
			return nil
		}
		if !errors.Is(err, relayer.ErrNoneEligible) && !errors.Is(err, errLockBusy) {
			return err
		}
		lastErr = err
		log.Debug("selection attempt failed", "attempt", attempt, "error", err)

		if attempt < e.cfg.ReserveAttempts {
			if serr := e.sleep(ctx, e.cfg.ReserveBackoff); serr != nil {
				return serr
			}
		}
	}
	return lastErr
}

// tryReserve is one pass of the selection loop.
func (e *Engine) tryReserve(ctx context.Context, rec *model.SettlementRecord, log *slog.Logger) error {
	snaps, err := retry.Do(ctx, "fetch balances", e.retryOpts(),
		func(ctx context.Context) ([]model.BalanceSnapshot, error) {
			return e.registry.Balances(ctx)
		})
	if err != nil {
		return err
	}

	reserved, err := e.ledger.ActiveReservations(ctx)
	if err != nil {
		return err
	}

	chosen, err := relayer.Choose(relayer.Available(snaps, reserved), rec.Amount)
	if err != nil {
		return err
	}

	key := lock.RelayerKey(chosen.Address)
	token, ok, err := e.mutex.Acquire(ctx, key, e.cfg.MutexTTL)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", key, errLockBusy)
	}
	defer func() {
		if _, rerr := e.mutex.Release(context.WithoutCancel(ctx), key, token); rerr != nil {
			log.Warn("failed to release relayer mutex", "key", key, "error", rerr)
		}
	}()

	// Re-check availability while holding the lock: another settlement
	// may have reserved against this relayer between our unlocked read
	// and the acquire.
	reserved, err = e.ledger.ActiveReservations(ctx)
	if err != nil {
		return err
	}
	raw := chosen.Available // fallback; overwritten from the snapshot below
	for _, snap := range snaps {
		if snap.Address == chosen.Address {
			raw = snap.Balance
			break
		}
	}
	if raw.Sub(reserved[chosen.Address]).LessThan(rec.Amount) {
		return fmt.Errorf("relayer %s raced under lock: %w", chosen.Address, relayer.ErrNoneEligible)
	}

	now := e.now()
	updated, err := e.store.Upsert(ctx, model.RecordPatch{
		OrderID:        rec.OrderID,
		RelayerAddress: &chosen.Address,
		RelayerLabel:   &chosen.Label,
		ReservedAmount: &rec.Amount,
		ReservedAt:     &now,
		LastStep:       model.Ptr(StepRelayerReserved),
		LastStepAt:     &now,
	})
	if err != nil {
		return err
	}
	*rec = *updated

	log.Info("relayer reserved", "relayer", chosen.Address, "label", chosen.Label, "reserved", rec.ReservedAmount)
	return nil
}

// sendPayout submits the destination transfer. A record that already
// carries a destination tx hash skips the send - this is what prevents a
// crash-resumed workflow from paying twice.
func (e *Engine) sendPayout(ctx context.Context, rec *model.SettlementRecord, log *slog.Logger) error {
	if rec.DestTxHash != "" {
		log.Info("payout already sent, skipping", "dest_tx", rec.DestTxHash)
		return nil
	}

	cred, err := e.registry.CredentialByAddress(rec.RelayerAddress)
	if err != nil {
		e.releaseReservation(ctx, rec, log)
		return err
	}

	txHash, err := retry.Do(ctx, "send payout", e.retryOpts(),
		func(ctx context.Context) (string, error) {
			return e.dest.SendPayout(ctx, cred, rec.RecipientAddress, rec.Amount)
		})
	if err != nil {
		// Free the reserved liquidity for other settlements before
		// propagating.
		e.releaseReservation(ctx, rec, log)
		return err
	}

	now := e.now()
	updated, err := e.store.Upsert(ctx, model.RecordPatch{
		OrderID:    rec.OrderID,
		DestTxHash: &txHash,
		LastStep:   model.Ptr(StepPayoutSent),
		LastStepAt: &now,
	})
	if err != nil {
		return err
	}
	*rec = *updated

	log.Info("payout sent", "dest_tx", txHash, "relayer", rec.RelayerAddress)
	return nil
}

// waitDestinationFinality polls the destination ledger until the payout
// is final. "Not final yet" is a normal polling outcome and spends retry
// attempts like any other transient condition.
func (e *Engine) waitDestinationFinality(ctx context.Context, rec *model.SettlementRecord, log *slog.Logger) error {
	if stepRank[rec.LastStep] >= stepRank[StepDestinationFinal] {
		log.Debug("destination already final, skipping poll")
		return nil
	}

	_, err := retry.Do(ctx, "wait destination finality", e.retryOpts(),
		func(ctx context.Context) (struct{}, error) {
			final, err := e.dest.GetFinality(ctx, rec.DestTxHash)
			if err != nil {
				return struct{}{}, err
			}
			if !final {
				return struct{}{}, &chain.TransientError{
					Op:  "await finality",
					Err: fmt.Errorf("%s: %w", rec.DestTxHash, chain.ErrNotYetConfirmed),
				}
			}
			return struct{}{}, nil
		})
	if err != nil {
		return err
	}

	log.Info("destination transfer final", "dest_tx", rec.DestTxHash)
	return e.checkpoint(ctx, rec, StepDestinationFinal, "")
}

// markCompleted releases the reservation and seals the record.
func (e *Engine) markCompleted(ctx context.Context, rec *model.SettlementRecord) (*model.SettlementRecord, error) {
	now := e.now()
	patch := model.RecordPatch{
		OrderID:    rec.OrderID,
		Status:     model.Ptr(model.StatusCompleted),
		LastStep:   model.Ptr(StepCompleted),
		LastStepAt: &now,
	}
	if rec.ReservationActive() {
		patch.ReservationReleasedAt = &now
	}
	return e.store.TransitionStatus(ctx, patch)
}

// fail releases any reservation, seals the record as failed with the
// error checkpoint, and returns the classified error. Persistence uses a
// cancellation-proof context so a timed-out settlement still records why
// it died. The terminal transition is sticky, so fail can never demote a
// record that another run already completed.
func (e *Engine) fail(ctx context.Context, rec *model.SettlementRecord, step string, cause error, log *slog.Logger) error {
	serr := classify(cause, rec.OrderID, step)
	log.Error("settlement failed", "step", step, "code", serr.Code, "error", cause)

	pctx := context.WithoutCancel(ctx)
	now := e.now()
	patch := model.RecordPatch{
		OrderID:       rec.OrderID,
		Status:        model.Ptr(model.StatusFailed),
		LastErrorStep: &step,
		LastErrorAt:   &now,
		ErrorReason:   model.Ptr(serr.Error()),
	}
	if rec.ReservationActive() {
		patch.ReservationReleasedAt = &now
	}
	if _, perr := e.store.TransitionStatus(pctx, patch); perr != nil {
		log.Error("failed to persist failure state", "error", perr)
	}
	return serr
}

// releaseReservation returns reserved liquidity to the pool, best-effort.
func (e *Engine) releaseReservation(ctx context.Context, rec *model.SettlementRecord, log *slog.Logger) {
	if !rec.ReservationActive() {
		return
	}
	now := e.now()
	updated, err := e.store.Upsert(context.WithoutCancel(ctx), model.RecordPatch{
		OrderID:               rec.OrderID,
		ReservationReleasedAt: &now,
	})
	if err != nil {
		log.Error("failed to release reservation", "relayer", rec.RelayerAddress, "error", err)
		return
	}
	*rec = *updated
	log.Info("reservation released", "relayer", rec.RelayerAddress)
}

// checkpoint persists a successful-step marker on the record.
func (e *Engine) checkpoint(ctx context.Context, rec *model.SettlementRecord, step, endpoint string) error {
	now := e.now()
	patch := model.RecordPatch{
		OrderID:    rec.OrderID,
		LastStep:   &step,
		LastStepAt: &now,
	}
	if endpoint != "" {
		patch.RPCEndpoint = &endpoint
	}
	updated, err := e.store.Upsert(ctx, patch)
	if err != nil {
		return err
	}
	*rec = *updated
	return nil
}
