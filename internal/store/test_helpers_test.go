package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/meridian/internal/model"
)

// createTestStore creates a temp-file store for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createPatch builds a minimal valid creation patch for an order.
func createPatch(orderID, amount string) model.RecordPatch {
	amt := decimal.RequireFromString(amount)
	return model.RecordPatch{
		OrderID:          orderID,
		SourceChainID:    model.Ptr(int64(1)),
		SourceToken:      model.Ptr("0xdac17f958d2ee523a2206206994597c13d831ec7"),
		Amount:           &amt,
		RecipientAddress: model.Ptr("TN3W4H6rK2ce4vX9YnFQHwKENnHjoxb3m9"),
		SourceTxHash:     model.Ptr("0x" + orderID + "aa"),
	}
}

// fakeClock is a mutable wall clock for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
