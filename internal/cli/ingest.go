package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/opendiscourse/congress-data-service/internal/ingestion"
	"github.com/opendiscourse/congress-data-service/internal/models"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*Options
	Congress int
	SubType  string
	FromDate string
	ToDate   string
	Days     int
	MaxPages int
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *Options) *cobra.Command {
	opts := &IngestOptions{Options: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <entity>",
		Short: "Run a full ingestion of one entity type",
		Long: `Fetch every page of an entity collection, normalize each record and
upsert it. The run is recorded in the sync ledger.

Example:
  congress ingest bills --congress 118 --sub-type hr
  congress ingest amendments --congress 118 --from-date 2024-01-01 --max-pages 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := models.ParseEntityType(args[0])
			if err != nil {
				return err
			}
			filters, err := opts.filters()
			if err != nil {
				return err
			}
			mode := models.ModeFull
			if filters.Days > 0 {
				mode = models.ModeIncremental
			}
			return runJobs(cmd.Context(), cmd.OutOrStdout(), opts.Options, ingestion.Job{
				Entity:   entity,
				Mode:     mode,
				Filters:  filters,
				MaxPages: opts.MaxPages,
			})
		},
	}

	cmd.Flags().IntVar(&opts.Congress, "congress", 0, "congress number")
	cmd.Flags().StringVar(&opts.SubType, "sub-type", "", "bill, amendment or report type (requires --congress)")
	cmd.Flags().StringVar(&opts.FromDate, "from-date", "", "only records updated on or after this date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&opts.ToDate, "to-date", "", "only records updated on or before this date")
	cmd.Flags().IntVar(&opts.Days, "days", 0, "only records updated in the trailing window of this many days")
	cmd.Flags().IntVar(&opts.MaxPages, "max-pages", 0, "stop after this many pages (0 for no limit)")

	return cmd
}

func (o *IngestOptions) filters() (models.Filters, error) {
	f := models.Filters{Congress: o.Congress, SubType: o.SubType, Days: o.Days}

	var err error
	if f.FromDate, err = models.ParseDateFilter(o.FromDate); err != nil {
		return f, err
	}
	if f.ToDate, err = models.ParseDateFilter(o.ToDate); err != nil {
		return f, err
	}
	return f, f.Validate()
}

// SyncRecentOptions holds flags for the sync-recent command.
type SyncRecentOptions struct {
	*Options
	Entities []string
	Days     int
}

// NewSyncRecentCommand creates the sync-recent command.
func NewSyncRecentCommand(rootOpts *Options) *cobra.Command {
	opts := &SyncRecentOptions{Options: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync-recent",
		Short: "Ingest records updated in the last few days",
		Long: `Run an incremental sync over the trailing window of --days days
(INCREMENTAL_DAYS by default) for each entity type, one after another.

Example:
  congress sync-recent --entity bills --entity members --days 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := opts.Entities
			if len(names) == 0 {
				names = opts.cfg.Ingestion.Entities
			}
			days := opts.Days
			if days <= 0 {
				days = opts.cfg.Ingestion.IncrementalDays
			}

			jobs := make([]ingestion.Job, 0, len(names))
			for _, name := range names {
				entity, err := models.ParseEntityType(name)
				if err != nil {
					return err
				}
				jobs = append(jobs, ingestion.Job{
					Entity:  entity,
					Mode:    models.ModeIncremental,
					Filters: models.Filters{Days: days},
				})
			}
			return runJobs(cmd.Context(), cmd.OutOrStdout(), opts.Options, jobs...)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Entities, "entity", "e", nil, "entity type to sync (repeatable; default INGESTION_ENTITIES)")
	cmd.Flags().IntVar(&opts.Days, "days", 0, "window size in days (default INCREMENTAL_DAYS)")

	return cmd
}

// NewIngestOneCommand creates the ingest-one command.
func NewIngestOneCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest-one <entity> <key>",
		Short: "Fetch and upsert a single record by natural key",
		Long: `Fetch one record from its detail endpoint and upsert it.

Example:
  congress ingest-one bills 118-hr-1234
  congress ingest-one members P000197`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := models.ParseEntityType(args[0])
			if err != nil {
				return err
			}
			key, err := models.ParseNaturalKey(entity, args[1])
			if err != nil {
				return err
			}
			return runJobs(cmd.Context(), cmd.OutOrStdout(), opts, ingestion.Job{
				Entity: entity,
				Mode:   models.ModeSingle,
				Key:    key,
			})
		},
	}
}

// runJobs runs each job in order and prints one report per job. It stops
// early only when ctx is cancelled.
func runJobs(ctx context.Context, w io.Writer, opts *Options, jobs ...ingestion.Job) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := opts.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	service, err := opts.newService(store)
	if err != nil {
		return err
	}

	var reports []ingestion.Report
	var out []reportOutput
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		r := service.Run(ctx, job)
		reports = append(reports, r)
		out = append(out, newReportOutput(job.Entity, r))
	}

	var printErr error
	if len(out) == 1 {
		printErr = writeJSON(w, out[0])
	} else {
		printErr = writeJSON(w, out)
	}
	if printErr != nil {
		return fmt.Errorf("failed to write report: %w", printErr)
	}
	return firstFailure(reports)
}
