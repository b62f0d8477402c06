package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opendiscourse/congress-data-service/internal/analysis"
)

// AnalyzeOptions holds flags for the analyze command.
type AnalyzeOptions struct {
	*Options
	Congress      int
	Congresses    []int
	Member        string
	GroupBy       string
	MinCosponsors int
}

var analyses = []string{
	"statistics", "temporal", "policy-areas", "bipartisan",
	"network", "success", "committees", "compare",
	"member", "sessions",
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(rootOpts *Options) *cobra.Command {
	opts := &AnalyzeOptions{Options: rootOpts}

	cmd := &cobra.Command{
		Use:   "analyze <" + strings.Join(analyses, "|") + ">",
		Short: "Run an analysis over ingested records",
		Long: `Compute statistics over the records in the store and print them as JSON.

Example:
  congress analyze statistics --congress 118
  congress analyze temporal --congress 118 --group-by quarter
  congress analyze compare --congresses 116,117,118
  congress analyze member --member B000944
  congress analyze sessions --congress 118`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: analyses,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := opts.run(cmd.Context(), analysis.New(store), args[0])
			if errors.Is(err, analysis.ErrNoData) {
				return fmt.Errorf("%s: %w; ingest records first", args[0], err)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().IntVar(&opts.Congress, "congress", 0, "congress number (0 for all)")
	cmd.Flags().IntSliceVar(&opts.Congresses, "congresses", nil, "congresses to compare")
	cmd.Flags().StringVar(&opts.GroupBy, "group-by", "month", "temporal bucket: day, week, month or quarter")
	cmd.Flags().StringVar(&opts.Member, "member", "", "member: bioguide id")
	cmd.Flags().IntVar(&opts.MinCosponsors, "min-cosponsors", analysis.DefaultMinCosponsors, "network: minimum cosponsors per bill")

	return cmd
}

func (o *AnalyzeOptions) run(ctx context.Context, a *analysis.Analyzer, name string) (any, error) {
	switch name {
	case "statistics":
		return a.BillStatistics(ctx, o.Congress)
	case "temporal":
		grouping, err := analysis.ParseGrouping(o.GroupBy)
		if err != nil {
			return nil, err
		}
		return a.Temporal(ctx, o.Congress, grouping)
	case "policy-areas":
		return a.PolicyAreas(ctx, o.Congress)
	case "bipartisan":
		return a.Bipartisan(ctx, o.Congress)
	case "network":
		return a.CosponsorNetwork(ctx, o.Congress, o.MinCosponsors)
	case "success":
		return a.SuccessFactors(ctx, o.Congress)
	case "committees":
		return a.CommitteeEffectiveness(ctx, o.Congress)
	case "compare":
		if len(o.Congresses) < 2 {
			return nil, errors.New("compare needs at least two --congresses")
		}
		return a.CompareCongresses(ctx, o.Congresses)
	case "member":
		if o.Member == "" {
			return nil, errors.New("member needs --member")
		}
		return a.MemberStatistics(ctx, o.Member, o.Congress)
	case "sessions":
		return a.SessionStatistics(ctx, o.Congress)
	}
	return nil, fmt.Errorf("unknown analysis %q", name)
}
