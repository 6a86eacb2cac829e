// Package chain holds the engine's narrow view of the two ledgers it
// talks to: receipt polling on the EVM source chain and balance / payout /
// finality calls on the Tron destination ledger.
//
// The orchestrator only ever sees these interfaces. Signing and broadcast
// on the destination side are pluggable - the production TronClient
// delegates payout signing to an external signer service, and tests plug
// in fakes.
package chain

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/meridian/internal/model"
)

// ReceiptStatus is the outcome of a mined source-chain transaction.
type ReceiptStatus int

const (
	// ReceiptSuccess means the transaction executed without reverting.
	ReceiptSuccess ReceiptStatus = iota + 1
	// ReceiptReverted means the transaction was mined but reverted.
	// Reverts are permanent: re-polling cannot change the outcome.
	ReceiptReverted
)

// Receipt is the confirmed view of a source-chain transaction.
type Receipt struct {
	TxHash      string
	Status      ReceiptStatus
	BlockNumber uint64
}

// SourceClient reads the EVM source chain.
type SourceClient interface {
	// TransactionReceipt returns the receipt for txHash once it has at
	// least minConfirmations confirmations. Not-yet-mined and
	// not-yet-deep-enough both surface as TransientError so callers can
	// poll with backoff; a mined-but-reverted transaction surfaces as
	// RevertError.
	TransactionReceipt(ctx context.Context, txHash string, minConfirmations uint64) (*Receipt, error)

	// Endpoint returns the RPC endpoint in use, recorded on settlement
	// checkpoints for observability.
	Endpoint() string
}

// DestinationClient covers the destination-ledger calls the engine needs.
type DestinationClient interface {
	// GetBalance returns the relayer's token balance in the smallest
	// unit.
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)

	// SendPayout transfers amount from the relayer credential to the
	// recipient and returns the destination transaction id.
	SendPayout(ctx context.Context, from model.RelayerCredential, to string, amount decimal.Decimal) (string, error)

	// GetFinality reports whether the payout transaction is final.
	// false means "not final yet", not failure; a reverted payout
	// surfaces as RevertError.
	GetFinality(ctx context.Context, txHash string) (bool, error)
}
