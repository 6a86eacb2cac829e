package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/meridianlabs/meridian/internal/model"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <order-id>",
		Short: "Show the settlement record for an order",
		Long: `Show the full settlement record for one order: status, amounts,
reservation state, checkpoints and any recorded failure.

Example:
  meridian status --config meridian.yaml order-1234
  meridian status --format json order-1234`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runStatus(opts *RootOptions, orderID string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.Get(cmd.Context(), orderID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read settlement record", err)
	}
	if rec == nil {
		_ = out.Error("NOT_FOUND", fmt.Sprintf("no settlement record for order %s", orderID), orderID)
		return WrapExitError(ExitFailure, "order not found", nil)
	}

	return out.SuccessText(rec, func(w io.Writer) { renderRecord(w, rec) })
}

func renderRecord(w io.Writer, rec *model.SettlementRecord) {
	fmt.Fprintf(w, "Order:      %s\n", rec.OrderID)
	fmt.Fprintf(w, "Status:     %s\n", rec.Status)
	fmt.Fprintf(w, "Amount:     %s %s\n", rec.Amount, rec.SourceToken)
	fmt.Fprintf(w, "Recipient:  %s\n", rec.RecipientAddress)
	fmt.Fprintf(w, "Source tx:  %s (chain %d)\n", rec.SourceTxHash, rec.SourceChainID)
	if rec.DestTxHash != "" {
		fmt.Fprintf(w, "Dest tx:    %s\n", rec.DestTxHash)
	}
	if rec.RelayerAddress != "" {
		released := "held"
		if rec.ReservationReleasedAt != nil {
			released = "released"
		}
		fmt.Fprintf(w, "Relayer:    %s (%s, reservation %s)\n", rec.RelayerAddress, rec.RelayerLabel, released)
	}
	if rec.LastStep != "" {
		fmt.Fprintf(w, "Last step:  %s\n", rec.LastStep)
	}
	if rec.ErrorReason != "" {
		fmt.Fprintf(w, "Failure:    %s (at %s)\n", rec.ErrorReason, rec.LastErrorStep)
	}
	if rec.LargeAmount {
		fmt.Fprintln(w, "Note:       large amount")
	}
	fmt.Fprintf(w, "Updated:    %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
}
