package relayer

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/meridian/internal/model"
)

// RecordSource is the slice of the settlement store the ledger reads.
type RecordSource interface {
	ActiveReservationIDs(ctx context.Context) ([]string, error)
	Get(ctx context.Context, orderID string) (*model.SettlementRecord, error)
	RemoveActiveReservation(ctx context.Context, orderID string) error
}

// Ledger derives, on demand, how much of each relayer's balance is
// currently promised to in-flight settlements.
//
// There is no persistent per-relayer aggregate: the total is recomputed
// from the individual records every time, so the index can never drift
// from ground truth. Index entries whose record turns out terminal or
// released are pruned opportunistically during the scan.
type Ledger struct {
	store RecordSource
}

// NewLedger creates a ledger over the settlement store.
func NewLedger(store RecordSource) *Ledger {
	return &Ledger{store: store}
}

// ActiveReservations returns the summed reserved amount per relayer
// address over all active reservations.
//
// A record is counted only when it is non-terminal, names a relayer with a
// positive reserved amount, and has not released its reservation. Records
// failing any of those are excluded - they never fail the whole scan.
func (l *Ledger) ActiveReservations(ctx context.Context) (map[string]decimal.Decimal, error) {
	ids, err := l.store.ActiveReservationIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan reservation index: %w", err)
	}

	totals := make(map[string]decimal.Decimal)
	for _, id := range ids {
		rec, err := l.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load reserved record %s: %w", id, err)
		}
		if rec == nil || rec.Status.Terminal() || !rec.ReservationActive() {
			// Stale index entry; prune, best-effort.
			_ = l.store.RemoveActiveReservation(ctx, id)
			continue
		}
		totals[rec.RelayerAddress] = totals[rec.RelayerAddress].Add(rec.ReservedAmount)
	}
	return totals, nil
}

// Available adjusts raw balance snapshots by the reserved totals,
// preserving snapshot order. Available balances are floored at zero.
func Available(snaps []model.BalanceSnapshot, reserved map[string]decimal.Decimal) []model.AvailableBalance {
	out := make([]model.AvailableBalance, 0, len(snaps))
	for _, snap := range snaps {
		available := snap.Balance.Sub(reserved[snap.Address])
		if available.IsNegative() {
			available = decimal.Zero
		}
		out = append(out, model.AvailableBalance{
			Address:   snap.Address,
			Label:     snap.Label,
			Available: available,
		})
	}
	return out
}
