package model

import (
	"crypto/ecdsa"
	"time"

	"github.com/shopspring/decimal"
)

// RelayerCredential is a payout account on the destination ledger, derived
// once from configuration and immutable for the process lifetime.
//
// The address is the Tron base58check form derived from the private key.
// Credentials are re-derived wholesale when the registry's cache is
// invalidated, never patched incrementally.
type RelayerCredential struct {
	Address    string
	Label      string
	PrivateKey *ecdsa.PrivateKey
}

// BalanceSnapshot is one relayer's raw on-ledger balance at fetch time,
// before any reservation accounting is applied.
type BalanceSnapshot struct {
	Address   string
	Label     string
	Balance   decimal.Decimal
	FetchedAt time.Time
}

// AvailableBalance is a relayer's balance after subtracting the amounts
// currently promised to in-flight settlements. This is what the selector
// decides on.
type AvailableBalance struct {
	Address   string
	Label     string
	Available decimal.Decimal
}
