// Package engine drives one settlement from a confirmed EVM-side transfer
// to a terminal state: record, confirm source, reserve destination
// liquidity, pay out, confirm finality, complete.
//
// The engine owns no state of its own - everything durable lives in the
// settlement store, so any number of engine instances (or re-invocations
// after a crash) can run concurrently against the same store. Steps
// checkpoint after every success and consult the checkpoints on entry,
// which makes re-running the whole workflow for an order a safe no-op.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/meridian/internal/chain"
	"github.com/meridianlabs/meridian/internal/lock"
	"github.com/meridianlabs/meridian/internal/relayer"
	"github.com/meridianlabs/meridian/internal/retry"
	"github.com/meridianlabs/meridian/internal/store"
)

// Step names, persisted on checkpoints in execution order.
const (
	StepRecordExecution  = "record_execution"
	StepSourceConfirmed  = "source_confirmed"
	StepRelayerReserved  = "relayer_reserved"
	StepPayoutSent       = "payout_sent"
	StepDestinationFinal = "destination_final"
	StepCompleted        = "completed"
)

// stepRank orders checkpoints so a resumed run can tell which steps are
// already behind it.
var stepRank = map[string]int{
	StepRecordExecution:  1,
	StepSourceConfirmed:  2,
	StepRelayerReserved:  3,
	StepPayoutSent:       4,
	StepDestinationFinal: 5,
	StepCompleted:        6,
}

// Config are the engine's operational parameters, loaded once at startup.
type Config struct {
	// MinConfirmations is the source-chain confirmation depth required
	// before a transfer counts as confirmed.
	MinConfirmations uint64

	// MutexTTL bounds how long a crashed holder can keep a relayer
	// locked.
	MutexTTL time.Duration

	// ReserveAttempts and ReserveBackoff drive the selection loop.
	// Contention resolution is fixed-delay and attempts-bounded, not
	// exponential: capacity usually frees up quickly or not at all.
	ReserveAttempts int
	ReserveBackoff  time.Duration

	// Retry configures the executor for network-facing steps. RetryIf is
	// overridden by the engine: only transient RPC errors may consume
	// attempts.
	Retry retry.Options

	// LargeAmountThreshold, when positive, flags records above it in the
	// audit trail. Annotation only.
	LargeAmountThreshold decimal.Decimal
}

// Engine orchestrates settlements.
type Engine struct {
	store    *store.Store
	registry *relayer.Registry
	ledger   *relayer.Ledger
	mutex    lock.Mutex
	source   chain.SourceClient
	dest     chain.DestinationClient

	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the wall clock for checkpoints and reservations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithSleep overrides the contention backoff sleep. Tests use this to
// avoid real delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// New creates an Engine over the given collaborators.
func New(
	s *store.Store,
	registry *relayer.Registry,
	ledger *relayer.Ledger,
	mutex lock.Mutex,
	source chain.SourceClient,
	dest chain.DestinationClient,
	cfg Config,
	opts ...Option,
) *Engine {
	if cfg.ReserveAttempts <= 0 {
		cfg.ReserveAttempts = 3
	}
	if cfg.ReserveBackoff <= 0 {
		cfg.ReserveBackoff = 300 * time.Millisecond
	}
	if cfg.MutexTTL <= 0 {
		cfg.MutexTTL = 30 * time.Second
	}
	if cfg.MinConfirmations == 0 {
		cfg.MinConfirmations = 1
	}

	e := &Engine{
		store:    s,
		registry: registry,
		ledger:   ledger,
		mutex:    mutex,
		source:   source,
		dest:     dest,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// retryOpts is the executor configuration for network-facing steps. The
// classification is pinned here: only transient RPC errors spend attempts.
func (e *Engine) retryOpts() retry.Options {
	opts := e.cfg.Retry
	opts.RetryIf = chain.IsTransient
	return opts
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
