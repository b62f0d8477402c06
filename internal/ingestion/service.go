package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opendiscourse/congress-data-service/internal/config"
	"github.com/opendiscourse/congress-data-service/internal/ledger"
	"github.com/opendiscourse/congress-data-service/internal/metrics"
	"github.com/opendiscourse/congress-data-service/internal/models"
	"github.com/opendiscourse/congress-data-service/internal/ratelimit"
	"github.com/opendiscourse/congress-data-service/internal/storage"
	"github.com/opendiscourse/congress-data-service/internal/value"
)

// Job describes one ingestion run.
type Job struct {
	Entity   models.EntityType
	Mode     models.SyncMode
	Filters  models.Filters
	MaxPages int
	Key      models.NaturalKey // single mode only
}

// Report is the outcome of a run. Err is nil for completed runs.
type Report struct {
	RunID   string
	Status  models.SyncStatus
	Summary models.RunSummary
	Err     error
}

// Service handles data ingestion from the Congress.gov API
type Service struct {
	config     config.IngestionConfig
	storage    storage.Storage
	fetcher    *Fetcher
	normalizer *Normalizer
	ledger     *ledger.Ledger
	logger     logrus.FieldLogger
	now        func() time.Time
}

// NewService creates a new ingestion service
func NewService(cfg config.IngestionConfig, store storage.Storage, source Source, governor *ratelimit.Governor, logger logrus.FieldLogger) *Service {
	return &Service{
		config:     cfg,
		storage:    store,
		fetcher:    NewFetcher(source, governor, cfg, logger),
		normalizer: NewNormalizer(),
		ledger:     ledger.New(store),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Ingest runs a full ingestion of one entity type. A Days filter makes it
// an incremental run over the trailing window.
func (s *Service) Ingest(ctx context.Context, entity models.EntityType, filters models.Filters, maxPages int) models.RunSummary {
	mode := models.ModeFull
	if filters.Days > 0 {
		mode = models.ModeIncremental
	}
	return s.Run(ctx, Job{Entity: entity, Mode: mode, Filters: filters, MaxPages: maxPages}).Summary
}

// SyncRecent ingests records changed in the last days days. days <= 0 uses
// the configured default.
func (s *Service) SyncRecent(ctx context.Context, entity models.EntityType, days int) models.RunSummary {
	if days <= 0 {
		days = s.config.IncrementalDays
	}
	return s.Run(ctx, Job{
		Entity:  entity,
		Mode:    models.ModeIncremental,
		Filters: models.Filters{Days: days},
	}).Summary
}

// IngestOne fetches and stores a single record by natural key.
func (s *Service) IngestOne(ctx context.Context, entity models.EntityType, key models.NaturalKey) models.RunSummary {
	return s.Run(ctx, Job{Entity: entity, Mode: models.ModeSingle, Key: key}).Summary
}

// Run executes job under one ledger row. No error escapes: the report and
// the ledger row carry the outcome.
func (s *Service) Run(ctx context.Context, job Job) (report Report) {
	started := s.now()
	if job.Mode == "" {
		job.Mode = models.ModeFull
	}

	filters, params := s.resolveFilters(job)

	log := s.logger.WithFields(logrus.Fields{
		"entity": job.Entity,
		"mode":   job.Mode,
	})

	handle, err := s.ledger.Begin(ctx, string(job.Entity), job.Mode, params)
	if err != nil {
		log.WithError(err).Error("could not open sync run")
		metrics.SyncRuns.WithLabelValues(string(job.Entity), string(job.Mode), string(models.StatusFailed)).Inc()
		return Report{Status: models.StatusFailed, Err: err}
	}
	report.RunID = handle.ID()
	log = log.WithField("run_id", report.RunID)
	log.WithField("params", params).Info("sync run started")

	defer func() {
		if r := recover(); r != nil {
			report.Status = models.StatusFailed
			report.Err = fmt.Errorf("panic during ingestion: %v", r)
		}

		// The run may have been cancelled; the ledger row must still close.
		if err := s.ledger.Complete(context.WithoutCancel(ctx), handle, report.Summary, report.Status, report.Err); err != nil {
			log.WithError(err).Error("could not complete sync run")
		}

		metrics.SyncRuns.WithLabelValues(string(job.Entity), string(job.Mode), string(report.Status)).Inc()
		metrics.SyncRunDuration.WithLabelValues(string(job.Entity), string(job.Mode)).Observe(s.now().Sub(started).Seconds())

		entry := log.WithFields(logrus.Fields{
			"status":    report.Status,
			"processed": report.Summary.Processed,
			"created":   report.Summary.Created,
			"updated":   report.Summary.Updated,
			"failed":    report.Summary.Failed,
		})
		if report.Err != nil {
			entry.WithError(report.Err).Error("sync run failed")
		} else {
			entry.Info("sync run completed")
		}
	}()

	report.Status = models.StatusFailed
	report.Err = s.execute(ctx, job, filters, &report.Summary, log)
	if report.Err == nil {
		report.Status = models.StatusCompleted
	}
	return report
}

// resolveFilters turns a Days filter into an explicit window and renders
// the ledger parameters.
func (s *Service) resolveFilters(job Job) (models.Filters, map[string]any) {
	filters := job.Filters
	params := filters.Params()

	if filters.Days > 0 && filters.FromDate == nil && filters.ToDate == nil {
		from, to := IncrementalWindow(s.now(), filters.Days)
		filters.FromDate, filters.ToDate = &from, &to
		params["from_date"] = from.Format(time.RFC3339)
		params["to_date"] = to.Format(time.RFC3339)
	}
	if job.MaxPages > 0 {
		params["max_pages"] = job.MaxPages
	}
	if job.Mode == models.ModeSingle {
		params["key"] = job.Key.String()
	}
	return filters, params
}

func (s *Service) execute(ctx context.Context, job Job, filters models.Filters, summary *models.RunSummary, log logrus.FieldLogger) error {
	if err := job.Filters.Validate(); err != nil {
		return fmt.Errorf("invalid filters: %w", err)
	}

	if job.Mode == models.ModeSingle {
		return s.ingestSingle(ctx, job, summary, log)
	}

	paths, err := collectionPaths(job.Entity, filters)
	if err != nil {
		return err
	}

	pager := s.fetcher.FetchPages(job.Entity, paths, filterParams(filters), job.MaxPages)
	for pager.Next(ctx) {
		rec, err := s.normalizer.NormalizeItem(pager.Record(), job.Entity)
		if err == nil {
			rec = s.enrich(ctx, rec, log)
		}
		s.store(ctx, job.Entity, rec, err, summary, log)
	}

	log.WithField("pages", pager.Pages()).Debug("fetch finished")
	return pager.Err()
}

func (s *Service) ingestSingle(ctx context.Context, job Job, summary *models.RunSummary, log logrus.FieldLogger) error {
	if len(job.Key) == 0 {
		return errors.New("single-record ingestion needs a key")
	}

	path, responseKey, err := detailPath(job.Entity, job.Key)
	if err != nil {
		return err
	}

	raw, err := s.fetcher.FetchDetail(ctx, job.Entity, path, responseKey)
	if err != nil {
		return &FetchError{Endpoint: path, Page: 1, Err: err}
	}

	rec, err := s.normalizer.Normalize(raw, job.Entity)
	s.store(ctx, job.Entity, rec, err, summary, log)
	return nil
}

// enrich replaces a list payload with the detail payload for records the
// list endpoints return only partially. Any failure keeps the list record.
func (s *Service) enrich(ctx context.Context, rec *models.Record, log logrus.FieldLogger) *models.Record {
	if !s.config.EnrichDetails || !needsDetail(rec) {
		return rec
	}

	path, responseKey, err := detailPath(rec.EntityType, rec.Key)
	if err != nil {
		return rec
	}

	entry := log.WithFields(logrus.Fields{"key": rec.Key.String(), "path": path})
	raw, err := s.fetcher.FetchDetail(ctx, rec.EntityType, path, responseKey)
	if err != nil {
		entry.WithError(err).Warn("detail fetch failed, keeping list record")
		return rec
	}

	detailed, err := s.normalizer.Normalize(mergeDetail(rec.Raw, raw), rec.EntityType)
	if err != nil {
		entry.WithError(err).Warn("detail record did not normalize, keeping list record")
		return rec
	}
	return detailed
}

func needsDetail(rec *models.Record) bool {
	switch rec.EntityType {
	case models.EntityBills:
		return rec.String("title") == ""
	case models.EntityMembers:
		return true
	}
	return false
}

// mergeDetail overlays the detail payload on the list payload so fields
// only the list carries survive.
func mergeDetail(list, detail value.Object) value.Object {
	merged := make(value.Object, len(list)+len(detail))
	for k, v := range list {
		merged[k] = v
	}
	for k, v := range detail {
		merged[k] = v
	}
	return merged
}

// store upserts one normalized record and counts the outcome. normErr is
// the normalization error for rec, if any.
func (s *Service) store(ctx context.Context, entity models.EntityType, rec *models.Record, normErr error, summary *models.RunSummary, log logrus.FieldLogger) {
	if normErr != nil {
		summary.Fail()
		metrics.RecordsProcessed.WithLabelValues(string(entity), "failed").Inc()

		entry := log.WithError(normErr)
		var ne *NormalizationError
		if errors.As(normErr, &ne) {
			entry = entry.WithField("field", ne.Field)
		}
		entry.Warn("record failed normalization")
		return
	}

	outcome, err := s.storage.Upsert(ctx, rec)
	if err != nil {
		summary.Fail()
		metrics.RecordsProcessed.WithLabelValues(string(entity), "failed").Inc()
		log.WithError(err).WithField("key", rec.Key.String()).Warn("record failed to store")
		return
	}

	summary.Add(outcome)
	metrics.RecordsProcessed.WithLabelValues(string(entity), string(outcome)).Inc()
}

// Start runs an incremental sync of the configured entity types now and
// then every Interval until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	entities := s.scheduledEntities()
	if len(entities) == 0 {
		return errors.New("no valid entity types configured for scheduled ingestion")
	}

	// Perform initial ingestion
	s.syncAll(ctx, entities)

	// Set up periodic ingestion
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.syncAll(ctx, entities)
		}
	}
}

func (s *Service) scheduledEntities() []models.EntityType {
	var entities []models.EntityType
	for _, name := range s.config.Entities {
		et, err := models.ParseEntityType(name)
		if err != nil {
			s.logger.WithError(err).Warn("skipping scheduled entity type")
			continue
		}
		entities = append(entities, et)
	}
	return entities
}

func (s *Service) syncAll(ctx context.Context, entities []models.EntityType) {
	for _, entity := range entities {
		if ctx.Err() != nil {
			return
		}
		s.SyncRecent(ctx, entity, s.config.IncrementalDays)
	}
}
