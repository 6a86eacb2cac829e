package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/meridianlabs/meridian/internal/relayer"
)

// NewReservationsCommand creates the reservations command.
func NewReservationsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reservations",
		Short: "Show liquidity currently reserved per relayer",
		Long: `Show the amount of destination liquidity currently promised to
in-flight settlements, summed per relayer. Stale index entries left by
crashed runs are pruned as a side effect.

Example:
  meridian reservations --config meridian.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReservations(rootOpts, cmd)
		},
	}
	return cmd
}

func runReservations(opts *RootOptions, cmd *cobra.Command) error {
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

	reserved, err := relayer.NewLedger(st).ActiveReservations(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compute reservations", err)
	}

	data := make(map[string]string, len(reserved))
	addrs := make([]string, 0, len(reserved))
	for addr, amount := range reserved {
		data[addr] = amount.String()
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	return out.SuccessText(data, func(w io.Writer) {
		if len(addrs) == 0 {
			fmt.Fprintln(w, "no active reservations")
			return
		}
		for _, addr := range addrs {
			fmt.Fprintf(w, "%s  %s\n", addr, data[addr])
		}
	})
}
