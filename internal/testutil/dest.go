package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/meridian/internal/chain"
	"github.com/meridianlabs/meridian/internal/model"
)

// Payout is one transfer the fake destination ledger accepted.
type Payout struct {
	From   string
	To     string
	Amount decimal.Decimal
	TxHash string
}

// FakeDest is an in-memory chain.DestinationClient. Balances are scripted
// per relayer address; payouts are recorded and assigned sequential tx
// ids; finality resolves immediately unless delayed or reverted.
type FakeDest struct {
	mu            sync.Mutex
	balances      map[string]decimal.Decimal
	payouts       []Payout
	payoutErr     error
	finalityDelay map[string]int
	reverted      map[string]bool
	payoutDelay   time.Duration
	txSeq         int

	balanceCalls  int
	payoutCalls   int
	finalityCalls int
}

// NewFakeDest creates a fake destination ledger with no balances.
func NewFakeDest() *FakeDest {
	return &FakeDest{
		balances:      make(map[string]decimal.Decimal),
		finalityDelay: make(map[string]int),
		reverted:      make(map[string]bool),
	}
}

// SetBalance scripts a relayer's on-ledger balance.
func (d *FakeDest) SetBalance(address string, balance decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.balances[address] = balance
}

// FailPayouts makes every subsequent SendPayout return err. Pass nil to
// restore normal behavior.
func (d *FakeDest) FailPayouts(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payoutErr = err
}

// SetPayoutDelay makes every SendPayout block for d before accepting.
// Used to hold a settlement in its payout step while a competing one
// runs out of selection attempts.
func (d *FakeDest) SetPayoutDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payoutDelay = delay
}

// DelayFinality makes the next polls for txHash answer not-final.
func (d *FakeDest) DelayFinality(txHash string, polls int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finalityDelay[txHash] = polls
}

// RevertTx scripts txHash to resolve as reverted on the destination.
func (d *FakeDest) RevertTx(txHash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reverted[txHash] = true
}

// Payouts returns a copy of every accepted payout, in acceptance order.
func (d *FakeDest) Payouts() []Payout {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Payout, len(d.payouts))
	copy(out, d.payouts)
	return out
}

// Calls returns the per-method call counts (balance, payout, finality).
func (d *FakeDest) Calls() (int, int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.balanceCalls, d.payoutCalls, d.finalityCalls
}

// GetBalance implements chain.DestinationClient.
func (d *FakeDest) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.balanceCalls++
	return d.balances[address], nil
}

// SendPayout implements chain.DestinationClient.
func (d *FakeDest) SendPayout(ctx context.Context, from model.RelayerCredential, to string, amount decimal.Decimal) (string, error) {
	d.mu.Lock()
	delay := d.payoutDelay
	d.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.payoutCalls++
	if d.payoutErr != nil {
		return "", d.payoutErr
	}
	d.txSeq++
	txHash := fmt.Sprintf("tron-tx-%04d", d.txSeq)
	d.payouts = append(d.payouts, Payout{From: from.Address, To: to, Amount: amount, TxHash: txHash})
	return txHash, nil
}

// GetFinality implements chain.DestinationClient.
func (d *FakeDest) GetFinality(ctx context.Context, txHash string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finalityCalls++
	if d.reverted[txHash] {
		return false, &chain.RevertError{Chain: "destination", TxHash: txHash}
	}
	if d.finalityDelay[txHash] > 0 {
		d.finalityDelay[txHash]--
		return false, nil
	}
	return true, nil
}
