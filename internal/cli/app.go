package cli

import (
	"log/slog"
	"os"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/meridian/internal/config"
	"github.com/meridianlabs/meridian/internal/engine"
	"github.com/meridianlabs/meridian/internal/relayer"
	"github.com/meridianlabs/meridian/internal/retry"
	"github.com/meridianlabs/meridian/internal/store"
)

// setupLogging installs the process-wide slog handler. Logs go to stderr
// so JSON command output on stdout stays parseable.
func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// loadConfig reads the config file named by the global --config flag.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// openStore opens the settlement database named by the config.
func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// engineConfig maps file configuration onto the engine's parameters.
func engineConfig(cfg *config.Config) engine.Config {
	threshold, ok := cfg.LargeThreshold()
	if !ok {
		threshold = decimal.Zero
	}
	return engine.Config{
		MinConfirmations:     cfg.MinConfirmations,
		MutexTTL:             cfg.MutexTTL.Std(),
		ReserveAttempts:      cfg.ReserveAttempts,
		ReserveBackoff:       cfg.ReserveBackoff.Std(),
		LargeAmountThreshold: threshold,
		Retry: retry.Options{
			Attempts:  cfg.Retry.Attempts,
			BaseDelay: cfg.Retry.BaseDelay.Std(),
			MaxDelay:  cfg.Retry.MaxDelay.Std(),
			Timeout:   cfg.Retry.Timeout.Std(),
		},
	}
}

// newRegistry builds the relayer registry over the configured keys and
// the given balance source.
func newRegistry(cfg *config.Config, fetcher relayer.BalanceFetcher) *relayer.Registry {
	return relayer.NewRegistry(cfg.RelayerKeyList(), fetcher, cfg.BalanceCacheTTL.Std())
}
