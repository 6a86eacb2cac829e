package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/meridian/internal/model"
)

const recordColumns = `order_id, direction, source_chain_id, source_token, amount,
	recipient_address, source_tx_hash, dest_tx_hash, status,
	relayer_address, relayer_label, reserved_amount, reserved_at,
	reservation_released_at, last_step, last_step_at, last_error_step,
	last_error_at, error_reason, rpc_endpoint, large_amount,
	created_at, updated_at`

// Get returns the settlement record for orderID, or nil if no record
// exists. Absence is not an error.
func (s *Store) Get(ctx context.Context, orderID string) (*model.SettlementRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM settlements WHERE order_id = ?`, orderID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", orderID, err)
	}
	return rec, nil
}

// ListOrderIDs returns every order id ever recorded, sorted ascending.
// Powers enumeration and audit surfaces.
func (s *Store) ListOrderIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT order_id FROM settlement_ids ORDER BY order_id ASC`)
}

// ActiveReservationIDs returns the order ids currently present in the
// active-reservation index. Entries may be stale (the record may have gone
// terminal since); the reservation ledger re-validates each one against
// ground truth.
func (s *Store) ActiveReservationIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT order_id FROM active_reservations ORDER BY order_id ASC`)
}

// RemoveActiveReservation drops an order id from the active-reservation
// index. Idempotent - removing an absent id is a no-op.
func (s *Store) RemoveActiveReservation(ctx context.Context, orderID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM active_reservations WHERE order_id = ?`, orderID); err != nil {
		return fmt.Errorf("remove active reservation %s: %w", orderID, err)
	}
	return nil
}

func (s *Store) queryIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.SettlementRecord, error) {
	var (
		rec            model.SettlementRecord
		amount         string
		reserved       string
		status         string
		reservedAt     sql.NullInt64
		releasedAt     sql.NullInt64
		lastStepAt     sql.NullInt64
		lastErrorAt    sql.NullInt64
		largeAmount    int64
		createdMillis  int64
		updatedMillis  int64
	)

	err := row.Scan(
		&rec.OrderID,
		&rec.Direction,
		&rec.SourceChainID,
		&rec.SourceToken,
		&amount,
		&rec.RecipientAddress,
		&rec.SourceTxHash,
		&rec.DestTxHash,
		&status,
		&rec.RelayerAddress,
		&rec.RelayerLabel,
		&reserved,
		&reservedAt,
		&releasedAt,
		&rec.LastStep,
		&lastStepAt,
		&rec.LastErrorStep,
		&lastErrorAt,
		&rec.ErrorReason,
		&rec.RPCEndpoint,
		&largeAmount,
		&createdMillis,
		&updatedMillis,
	)
	if err != nil {
		return nil, err
	}

	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if rec.ReservedAmount, err = decimal.NewFromString(reserved); err != nil {
		return nil, fmt.Errorf("parse reserved amount %q: %w", reserved, err)
	}
	rec.Status = model.Status(status)
	rec.ReservedAt = millisToTime(reservedAt)
	rec.ReservationReleasedAt = millisToTime(releasedAt)
	rec.LastStepAt = millisToTime(lastStepAt)
	rec.LastErrorAt = millisToTime(lastErrorAt)
	rec.LargeAmount = largeAmount != 0
	rec.CreatedAt = time.UnixMilli(createdMillis).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedMillis).UTC()

	return &rec, nil
}

// getRecordTx reads a record inside an open transaction.
// Returns (nil, nil) when absent.
func getRecordTx(ctx context.Context, tx *sql.Tx, orderID string) (*model.SettlementRecord, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM settlements WHERE order_id = ?`, orderID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func timeToMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func millisToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
