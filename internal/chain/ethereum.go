package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthSource reads transaction receipts from an EVM chain over JSON-RPC.
type EthSource struct {
	client   *ethclient.Client
	endpoint string
}

// DialEthSource connects to the source chain RPC endpoint.
func DialEthSource(ctx context.Context, endpoint string) (*EthSource, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial source rpc %s: %w", endpoint, err)
	}
	return &EthSource{client: client, endpoint: endpoint}, nil
}

// NewEthSource wraps an existing client. Used by tests with a simulated
// backend.
func NewEthSource(client *ethclient.Client, endpoint string) *EthSource {
	return &EthSource{client: client, endpoint: endpoint}
}

// Endpoint implements SourceClient.
func (s *EthSource) Endpoint() string {
	return s.endpoint
}

// Close releases the underlying RPC connection.
func (s *EthSource) Close() {
	s.client.Close()
}

// TransactionReceipt implements SourceClient.
//
// A missing receipt and a receipt above the confirmation depth both come
// back as TransientError wrapping ErrNotYetConfirmed; the caller polls. A
// reverted transaction comes back as RevertError and must not be retried.
func (s *EthSource) TransactionReceipt(ctx context.Context, txHash string, minConfirmations uint64) (*Receipt, error) {
	receipt, err := s.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, &TransientError{Op: "get receipt", Endpoint: s.endpoint, Err: fmt.Errorf("%s: %w", txHash, ErrNotYetConfirmed)}
	}
	if err != nil {
		return nil, &TransientError{Op: "get receipt", Endpoint: s.endpoint, Err: err}
	}

	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return nil, &TransientError{Op: "get head block", Endpoint: s.endpoint, Err: err}
	}

	mined := receipt.BlockNumber.Uint64()
	var depth uint64
	if head >= mined {
		depth = head - mined + 1
	}
	if depth < minConfirmations {
		return nil, &TransientError{
			Op:       "await confirmations",
			Endpoint: s.endpoint,
			Err:      fmt.Errorf("%s at depth %d of %d: %w", txHash, depth, minConfirmations, ErrNotYetConfirmed),
		}
	}

	if receipt.Status == types.ReceiptStatusFailed {
		return nil, &RevertError{Chain: "source", TxHash: txHash}
	}

	return &Receipt{
		TxHash:      txHash,
		Status:      ReceiptSuccess,
		BlockNumber: mined,
	}, nil
}
