package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meridianlabs/meridian/internal/chain"
	"github.com/meridianlabs/meridian/internal/engine"
	"github.com/meridianlabs/meridian/internal/lock"
	"github.com/meridianlabs/meridian/internal/model"
	"github.com/meridianlabs/meridian/internal/relayer"
)

// SettleOptions holds flags for the settle command.
type SettleOptions struct {
	*RootOptions
}

// NewSettleCommand creates the settle command.
func NewSettleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SettleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "settle <summary.json>",
		Short: "Settle one order from an execution summary",
		Long: `Settle one order described by an execution summary JSON file.

The summary is the handoff from the relay layer: order id, source chain,
token, amount, recipient and the source transaction hash. Pass "-" to
read the summary from stdin.

Settling is idempotent: re-running a completed order prints its recorded
destination transaction hash, re-running a failed order replays the
stored failure, and an interrupted run resumes from its last checkpoint.

Example:
  meridian settle --config meridian.yaml ./order-1234.json
  cat summary.json | meridian settle -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettle(opts, args[0], cmd)
		},
	}

	return cmd
}

func runSettle(opts *SettleOptions, summaryPath string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	sum, err := readSummary(summaryPath, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read execution summary", err)
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	source, err := chain.DialEthSource(ctx, cfg.SourceRPCURL)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to dial source rpc", err)
	}
	defer source.Close()

	dest := chain.NewTronClient(cfg.DestinationRPCURL, cfg.SignerURL, cfg.TokenContract)
	registry := newRegistry(cfg, dest)

	eng := engine.New(st, registry, relayer.NewLedger(st), lock.NewStoreMutex(st),
		source, dest, engineConfig(cfg))

	slog.Info("settling order", "order_id", sum.OrderID, "amount", sum.Amount)
	res, err := eng.Settle(ctx, sum)
	if err != nil {
		code := string(engine.CodeOf(err))
		if code == "" {
			code = "INTERNAL"
		}
		_ = out.Error(code, err.Error(), sum.OrderID)
		return WrapExitError(ExitFailure, "settlement failed", err)
	}

	return out.Success(map[string]string{
		"order_id":     res.OrderID,
		"dest_tx_hash": res.DestTxHash,
	})
}

// readSummary decodes the execution summary from a file or, for "-",
// from stdin.
func readSummary(path string, stdin io.Reader) (model.ExecutionSummary, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return model.ExecutionSummary{}, err
		}
		defer f.Close()
		r = f
	}

	var sum model.ExecutionSummary
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sum); err != nil {
		return model.ExecutionSummary{}, err
	}
	if sum.OrderID == "" {
		return model.ExecutionSummary{}, errors.New("summary missing order_id")
	}
	return sum, nil
}

// signalContext derives a context cancelled by SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
