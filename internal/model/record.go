package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction identifies the bridging direction of a settlement.
// Only EVM → Tron is supported; the constant exists so records are
// self-describing in the audit log.
const DirectionEVMToTron = "evm_to_tron"

// Status is the settlement state machine's main axis.
//
// relaying is the only non-terminal state. completed and failed are
// terminal: once a record reaches either, its status never changes again
// (the store enforces this on every transition).
type Status string

const (
	// StatusRelaying means the settlement is in flight: the source-side
	// transfer has been recorded but the destination payout has not been
	// confirmed final.
	StatusRelaying Status = "relaying"

	// StatusCompleted means the destination payout is confirmed final.
	StatusCompleted Status = "completed"

	// StatusFailed means the settlement hit an unrecoverable error.
	// Any reservation held at the time of failure has been released.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	return s == StatusRelaying || s == StatusCompleted || s == StatusFailed
}

// SettlementRecord is the durable state of one settlement attempt, keyed by
// the externally supplied order id. Records are created once, mutated only
// through the store's monotonic merge, and never deleted.
//
// Amounts are exact decimals in the token's smallest unit (no floats).
type SettlementRecord struct {
	OrderID          string          `json:"order_id"`
	Direction        string          `json:"direction"`
	SourceChainID    int64           `json:"source_chain_id"`
	SourceToken      string          `json:"source_token"`
	Amount           decimal.Decimal `json:"amount"`
	RecipientAddress string          `json:"recipient_address"`
	SourceTxHash     string          `json:"source_tx_hash"`

	// DestTxHash is set at most once, only after the payout send succeeds.
	DestTxHash string `json:"dest_tx_hash,omitempty"`

	Status Status `json:"status"`

	// Reservation sub-state. RelayerAddress/ReservedAmount are set while a
	// relayer's liquidity is promised to this settlement;
	// ReservationReleasedAt marks the promise released. A record must have
	// its reservation released before or at the moment it turns terminal.
	RelayerAddress        string          `json:"relayer_address,omitempty"`
	RelayerLabel          string          `json:"relayer_label,omitempty"`
	ReservedAmount        decimal.Decimal `json:"reserved_amount"`
	ReservedAt            *time.Time      `json:"reserved_at,omitempty"`
	ReservationReleasedAt *time.Time      `json:"reservation_released_at,omitempty"`

	// Checkpoints for crash resumption and observability.
	LastStep      string     `json:"last_step,omitempty"`
	LastStepAt    *time.Time `json:"last_step_at,omitempty"`
	LastErrorStep string     `json:"last_error_step,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
	ErrorReason   string     `json:"error_reason,omitempty"`
	RPCEndpoint   string     `json:"rpc_endpoint,omitempty"`

	// LargeAmount is a non-functional annotation (UX hint); it never gates
	// settlement behavior.
	LargeAmount bool `json:"large_amount,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReservationActive reports whether the record currently holds an
// unreleased reservation against a relayer.
func (r *SettlementRecord) ReservationActive() bool {
	return r.RelayerAddress != "" &&
		r.ReservedAmount.IsPositive() &&
		r.ReservationReleasedAt == nil
}

// ExecutionSummary is the orchestrator's sole required input: the confirmed
// (or at least broadcast) source-side transfer handed over by the
// authorization/relay layer.
type ExecutionSummary struct {
	OrderID          string          `json:"order_id"`
	Direction        string          `json:"direction"`
	SourceChainID    int64           `json:"source_chain_id"`
	SourceToken      string          `json:"source_token"`
	Amount           decimal.Decimal `json:"amount"`
	RecipientAddress string          `json:"recipient_address"`
	SourceTxHash     string          `json:"source_tx_hash"`
}

// RecordPatch is a partial update merged onto a SettlementRecord.
//
// nil pointer fields mean "keep the previous value". The store applies
// patches with the monotonic merge: CreatedAt is never overwritten,
// UpdatedAt is always refreshed, and a terminal status is sticky.
type RecordPatch struct {
	OrderID string

	Direction        *string
	SourceChainID    *int64
	SourceToken      *string
	Amount           *decimal.Decimal
	RecipientAddress *string
	SourceTxHash     *string
	DestTxHash       *string
	Status           *Status

	RelayerAddress        *string
	RelayerLabel          *string
	ReservedAmount        *decimal.Decimal
	ReservedAt            *time.Time
	ReservationReleasedAt *time.Time

	LastStep      *string
	LastStepAt    *time.Time
	LastErrorStep *string
	LastErrorAt   *time.Time
	ErrorReason   *string
	RPCEndpoint   *string

	LargeAmount *bool
}

// Ptr returns a pointer to v. Convenience for building RecordPatch values.
func Ptr[T any](v T) *T {
	return &v
}
