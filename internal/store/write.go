package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/meridianlabs/meridian/internal/model"
)

// ValidationError reports a structurally invalid write: creating a record
// without the minimum execution fields, or a malformed patch. Validation
// errors are never retried by callers - retrying cannot fix the input.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation: %s", e.Message)
}

// Upsert merges the patch onto the existing record for patch.OrderID, or
// creates a new record when none exists.
//
// Merge semantics (monotonic):
//   - unset (nil) patch fields keep the previous value, or the
//     type-appropriate default for a brand-new record
//   - CreatedAt is preserved from the first write; UpdatedAt is always
//     refreshed to the store clock
//   - every successful upsert also indexes the order id into the global
//     settlement_ids set
//
// Creating a brand-new record requires source_tx_hash, source_token and
// amount in the patch; otherwise a ValidationError is returned.
//
// Returns the merged record as persisted.
func (s *Store) Upsert(ctx context.Context, patch model.RecordPatch) (*model.SettlementRecord, error) {
	return s.write(ctx, patch, false)
}

// TransitionStatus is Upsert with the state machine enforced: if the
// current status is terminal (completed or failed), the status field of the
// patch is ignored - terminal states are sticky. All other patch fields
// still merge, so error context can be appended to a finished record.
func (s *Store) TransitionStatus(ctx context.Context, patch model.RecordPatch) (*model.SettlementRecord, error) {
	return s.write(ctx, patch, true)
}

func (s *Store) write(ctx context.Context, patch model.RecordPatch, enforceStatus bool) (*model.SettlementRecord, error) {
	if patch.OrderID == "" {
		return nil, &ValidationError{Field: "order_id", Message: "must not be empty"}
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", *patch.Status)}
	}

	now := s.now()

	// Single-writer connection pool makes the read-merge-write sequence
	// below race-free within this store; the transaction makes it atomic
	// against crashes.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: begin tx: %w", patch.OrderID, err)
	}
	defer tx.Rollback() // No-op if committed

	existing, err := getRecordTx(ctx, tx, patch.OrderID)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: read existing: %w", patch.OrderID, err)
	}

	var rec model.SettlementRecord
	if existing != nil {
		rec = *existing
		if enforceStatus && rec.Status.Terminal() {
			// Terminal status is sticky: drop the status field, keep
			// the rest of the patch.
			patch.Status = nil
		}
	} else {
		if patch.SourceTxHash == nil || *patch.SourceTxHash == "" {
			return nil, &ValidationError{Field: "source_tx_hash", Message: "required to create a settlement record"}
		}
		if patch.SourceToken == nil || *patch.SourceToken == "" {
			return nil, &ValidationError{Field: "source_token", Message: "required to create a settlement record"}
		}
		if patch.Amount == nil || !patch.Amount.IsPositive() {
			return nil, &ValidationError{Field: "amount", Message: "required and positive to create a settlement record"}
		}
		rec = model.SettlementRecord{
			OrderID:   patch.OrderID,
			Direction: model.DirectionEVMToTron,
			Status:    model.StatusRelaying,
			CreatedAt: now,
		}
	}

	applyPatch(&rec, patch)
	rec.UpdatedAt = now

	if err := writeRecordTx(ctx, tx, &rec); err != nil {
		return nil, fmt.Errorf("upsert %s: %w", patch.OrderID, err)
	}

	// Maintain the two set indexes alongside the record. settlement_ids is
	// append-only; active_reservations tracks records that may hold an
	// unreleased reservation.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO settlement_ids (order_id) VALUES (?) ON CONFLICT(order_id) DO NOTHING`,
		rec.OrderID,
	); err != nil {
		return nil, fmt.Errorf("upsert %s: index id: %w", patch.OrderID, err)
	}

	if rec.ReservationActive() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO active_reservations (order_id) VALUES (?) ON CONFLICT(order_id) DO NOTHING`,
			rec.OrderID,
		); err != nil {
			return nil, fmt.Errorf("upsert %s: index reservation: %w", patch.OrderID, err)
		}
	} else if rec.ReservationReleasedAt != nil {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM active_reservations WHERE order_id = ?`,
			rec.OrderID,
		); err != nil {
			return nil, fmt.Errorf("upsert %s: unindex reservation: %w", patch.OrderID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("upsert %s: commit: %w", patch.OrderID, err)
	}

	return &rec, nil
}

// applyPatch copies every set (non-nil) patch field onto the record.
// OrderID and CreatedAt are deliberately not patchable.
func applyPatch(rec *model.SettlementRecord, p model.RecordPatch) {
	if p.Direction != nil {
		rec.Direction = *p.Direction
	}
	if p.SourceChainID != nil {
		rec.SourceChainID = *p.SourceChainID
	}
	if p.SourceToken != nil {
		rec.SourceToken = *p.SourceToken
	}
	if p.Amount != nil {
		rec.Amount = *p.Amount
	}
	if p.RecipientAddress != nil {
		rec.RecipientAddress = *p.RecipientAddress
	}
	if p.SourceTxHash != nil {
		rec.SourceTxHash = *p.SourceTxHash
	}
	if p.DestTxHash != nil {
		rec.DestTxHash = *p.DestTxHash
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.RelayerAddress != nil {
		rec.RelayerAddress = *p.RelayerAddress
	}
	if p.RelayerLabel != nil {
		rec.RelayerLabel = *p.RelayerLabel
	}
	if p.ReservedAmount != nil {
		rec.ReservedAmount = *p.ReservedAmount
	}
	if p.ReservedAt != nil {
		rec.ReservedAt = p.ReservedAt
	}
	if p.ReservationReleasedAt != nil {
		rec.ReservationReleasedAt = p.ReservationReleasedAt
	}
	if p.LastStep != nil {
		rec.LastStep = *p.LastStep
	}
	if p.LastStepAt != nil {
		rec.LastStepAt = p.LastStepAt
	}
	if p.LastErrorStep != nil {
		rec.LastErrorStep = *p.LastErrorStep
	}
	if p.LastErrorAt != nil {
		rec.LastErrorAt = p.LastErrorAt
	}
	if p.ErrorReason != nil {
		rec.ErrorReason = *p.ErrorReason
	}
	if p.RPCEndpoint != nil {
		rec.RPCEndpoint = *p.RPCEndpoint
	}
	if p.LargeAmount != nil {
		rec.LargeAmount = *p.LargeAmount
	}
}

// writeRecordTx persists the full record row. INSERT OR REPLACE is safe
// because the caller merged onto the freshly-read row inside the same
// transaction.
func writeRecordTx(ctx context.Context, tx *sql.Tx, rec *model.SettlementRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO settlements
		(order_id, direction, source_chain_id, source_token, amount,
		 recipient_address, source_tx_hash, dest_tx_hash, status,
		 relayer_address, relayer_label, reserved_amount, reserved_at,
		 reservation_released_at, last_step, last_step_at, last_error_step,
		 last_error_at, error_reason, rpc_endpoint, large_amount,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.OrderID,
		rec.Direction,
		rec.SourceChainID,
		rec.SourceToken,
		rec.Amount.String(),
		rec.RecipientAddress,
		rec.SourceTxHash,
		rec.DestTxHash,
		string(rec.Status),
		rec.RelayerAddress,
		rec.RelayerLabel,
		rec.ReservedAmount.String(),
		timeToMillis(rec.ReservedAt),
		timeToMillis(rec.ReservationReleasedAt),
		rec.LastStep,
		timeToMillis(rec.LastStepAt),
		rec.LastErrorStep,
		timeToMillis(rec.LastErrorAt),
		rec.ErrorReason,
		rec.RPCEndpoint,
		boolToInt(rec.LargeAmount),
		rec.CreatedAt.UnixMilli(),
		rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
