package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewOrdersCommand creates the orders command.
func NewOrdersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List every order id known to the store",
		Long: `List every order id the engine has ever recorded, sorted.

Example:
  meridian orders --config meridian.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrders(rootOpts, cmd)
		},
	}
	return cmd
}

func runOrders(opts *RootOptions, cmd *cobra.Command) error {
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

	ids, err := st.ListOrderIDs(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list orders", err)
	}

	return out.SuccessText(ids, func(w io.Writer) {
		if len(ids) == 0 {
			fmt.Fprintln(w, "no orders recorded")
			return
		}
		for _, id := range ids {
			fmt.Fprintln(w, id)
		}
	})
}
