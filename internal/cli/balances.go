package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/meridianlabs/meridian/internal/chain"
	"github.com/meridianlabs/meridian/internal/relayer"
)

// balanceRow is one relayer's balance view in the balances output.
type balanceRow struct {
	Address   string `json:"address"`
	Label     string `json:"label"`
	Balance   string `json:"balance"`
	Reserved  string `json:"reserved"`
	Available string `json:"available"`
}

// NewBalancesCommand creates the balances command.
func NewBalancesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Show relayer balances on the destination ledger",
		Long: `Fetch each configured relayer's token balance from the destination
ledger and show it alongside the amount currently reserved and the
balance available for new settlements.

Example:
  MERIDIAN_RELAYER_KEYS=... meridian balances --config meridian.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBalances(rootOpts, cmd)
		},
	}
	return cmd
}

func runBalances(opts *RootOptions, cmd *cobra.Command) error {
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

	dest := chain.NewTronClient(cfg.DestinationRPCURL, cfg.SignerURL, cfg.TokenContract)
	registry := newRegistry(cfg, dest)

	snaps, err := registry.Balances(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to fetch balances", err)
	}
	reserved, err := relayer.NewLedger(st).ActiveReservations(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compute reservations", err)
	}

	available := relayer.Available(snaps, reserved)
	rows := make([]balanceRow, len(snaps))
	for i, snap := range snaps {
		rows[i] = balanceRow{
			Address:   snap.Address,
			Label:     snap.Label,
			Balance:   snap.Balance.String(),
			Reserved:  reserved[snap.Address].String(),
			Available: available[i].Available.String(),
		}
	}

	return out.SuccessText(rows, func(w io.Writer) {
		for _, row := range rows {
			fmt.Fprintf(w, "%-12s %s  balance=%s reserved=%s available=%s\n",
				row.Label, row.Address, row.Balance, row.Reserved, row.Available)
		}
	})
}
