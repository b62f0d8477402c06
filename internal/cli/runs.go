package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opendiscourse/congress-data-service/internal/ledger"
	"github.com/opendiscourse/congress-data-service/internal/models"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*Options
	Endpoint string
	Limit    int
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *Options) *cobra.Command {
	opts := &RunsOptions{Options: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "List sync runs, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			l := ledger.New(store)
			if len(args) == 1 {
				run, err := l.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("sync run %s not found", args[0])
				}
				return writeJSON(cmd.OutOrStdout(), run)
			}

			runs, err := l.List(cmd.Context(), opts.Endpoint, opts.Limit)
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []*models.SyncRun{}
			}
			return writeJSON(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", "", "only runs of this endpoint (entity type)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum number of runs")

	return cmd
}
