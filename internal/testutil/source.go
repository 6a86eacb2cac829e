package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/meridianlabs/meridian/internal/chain"
)

// FakeSource is an in-memory chain.SourceClient. Transactions start
// unknown; Confirm, Delay and Revert script their outcomes.
type FakeSource struct {
	mu       sync.Mutex
	receipts map[string]*chain.Receipt
	pending  map[string]int
	reverted map[string]bool
	calls    int
}

// NewFakeSource creates an empty fake source chain.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		receipts: make(map[string]*chain.Receipt),
		pending:  make(map[string]int),
		reverted: make(map[string]bool),
	}
}

// Confirm scripts txHash to resolve as successfully mined at block.
func (s *FakeSource) Confirm(txHash string, block uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[txHash] = &chain.Receipt{
		TxHash:      txHash,
		Status:      chain.ReceiptSuccess,
		BlockNumber: block,
	}
}

// Delay makes the next polls not-yet-confirmed answers for txHash before
// its scripted outcome applies.
func (s *FakeSource) Delay(txHash string, polls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[txHash] = polls
}

// Revert scripts txHash to resolve as mined-but-reverted.
func (s *FakeSource) Revert(txHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reverted[txHash] = true
}

// Calls returns how many receipt polls the fake has served.
func (s *FakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// TransactionReceipt implements chain.SourceClient.
func (s *FakeSource) TransactionReceipt(ctx context.Context, txHash string, minConfirmations uint64) (*chain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if s.pending[txHash] > 0 {
		s.pending[txHash]--
		return nil, &chain.TransientError{
			Op:       "eth_getTransactionReceipt",
			Endpoint: s.Endpoint(),
			Err:      fmt.Errorf("%s: %w", txHash, chain.ErrNotYetConfirmed),
		}
	}
	if s.reverted[txHash] {
		return nil, &chain.RevertError{Chain: "source", TxHash: txHash}
	}
	if r, ok := s.receipts[txHash]; ok {
		return r, nil
	}
	return nil, &chain.TransientError{
		Op:       "eth_getTransactionReceipt",
		Endpoint: s.Endpoint(),
		Err:      fmt.Errorf("%s: %w", txHash, chain.ErrNotYetConfirmed),
	}
}

// Endpoint implements chain.SourceClient.
func (s *FakeSource) Endpoint() string { return "fake://source" }
