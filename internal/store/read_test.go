package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/meridian/internal/model"
)

// TestGet_MissingRecord tests that absence is (nil, nil), not an error.
func TestGet_MissingRecord(t *testing.T) {
	s := createTestStore(t)

	rec, err := s.Get(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

// TestListOrderIDs tests that every upsert indexes the order id exactly once.
func TestListOrderIDs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ids, err := s.ListOrderIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []string{"b-order", "a-order", "c-order"} {
		_, err := s.Upsert(ctx, createPatch(id, "100"))
		require.NoError(t, err)
	}
	// A second write for an existing order must not duplicate the index.
	_, err = s.Upsert(ctx, model.RecordPatch{
		OrderID:  "a-order",
		LastStep: model.Ptr("record_execution"),
	})
	require.NoError(t, err)

	ids, err = s.ListOrderIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-order", "b-order", "c-order"}, ids)
}

// TestActiveReservationIndex tests that setting a reservation indexes the
// order id and releasing it removes the entry.
func TestActiveReservationIndex(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, createPatch("order-r", "1000"))
	require.NoError(t, err)

	ids, err := s.ActiveReservationIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// Reserve.
	now := time.Now().UTC()
	reserved := decimal.RequireFromString("1000")
	_, err = s.Upsert(ctx, model.RecordPatch{
		OrderID:        "order-r",
		RelayerAddress: model.Ptr("TRelayer1"),
		RelayerLabel:   model.Ptr("relayer-1"),
		ReservedAmount: &reserved,
		ReservedAt:     &now,
	})
	require.NoError(t, err)

	ids, err = s.ActiveReservationIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"order-r"}, ids)

	// Release.
	released := now.Add(time.Second)
	_, err = s.Upsert(ctx, model.RecordPatch{
		OrderID:               "order-r",
		ReservationReleasedAt: &released,
	})
	require.NoError(t, err)

	ids, err = s.ActiveReservationIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// TestRemoveActiveReservation_Idempotent tests pruning an absent entry.
func TestRemoveActiveReservation_Idempotent(t *testing.T) {
	s := createTestStore(t)

	err := s.RemoveActiveReservation(context.Background(), "ghost-order")
	assert.NoError(t, err)
}

// TestScanRecord_OptionalFields tests that nullable columns round-trip.
func TestScanRecord_OptionalFields(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	errorAt := time.Now().UTC().Truncate(time.Millisecond)
	_, err := s.Upsert(ctx, createPatch("order-opt", "77"))
	require.NoError(t, err)

	_, err = s.Upsert(ctx, model.RecordPatch{
		OrderID:       "order-opt",
		LastErrorStep: model.Ptr("send_payout"),
		LastErrorAt:   &errorAt,
		ErrorReason:   model.Ptr("broadcast refused"),
		RPCEndpoint:   model.Ptr("https://rpc.example.org"),
		LargeAmount:   model.Ptr(true),
	})
	require.NoError(t, err)

	rec, err := s.Get(ctx, "order-opt")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "send_payout", rec.LastErrorStep)
	require.NotNil(t, rec.LastErrorAt)
	assert.Equal(t, errorAt.UnixMilli(), rec.LastErrorAt.UnixMilli())
	assert.Equal(t, "broadcast refused", rec.ErrorReason)
	assert.Equal(t, "https://rpc.example.org", rec.RPCEndpoint)
	assert.True(t, rec.LargeAmount)
	assert.Nil(t, rec.ReservedAt)
	assert.Nil(t, rec.ReservationReleasedAt)
}
