package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/opendiscourse/congress-data-service/internal/congress"
	"github.com/opendiscourse/congress-data-service/internal/ingestion"
	"github.com/opendiscourse/congress-data-service/internal/models"
	"github.com/opendiscourse/congress-data-service/internal/ratelimit"
	"github.com/opendiscourse/congress-data-service/internal/storage"
)

// quotaHeadroom is the share of RATE_LIMIT_PER_HOUR left unused.
const quotaHeadroom = 0.04

func (o *Options) openStore() (storage.Storage, error) {
	store, err := storage.NewStorage(o.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

func (o *Options) governor() (*ratelimit.Governor, error) {
	if o.cfg.API.RateLimitPerHour > 0 {
		return ratelimit.FromQuota(o.cfg.API.RateLimitPerHour, quotaHeadroom)
	}
	return ratelimit.New(o.cfg.API.RateLimitInterval), nil
}

func (o *Options) newService(store storage.Storage) (*ingestion.Service, error) {
	if o.cfg.API.Key == "" {
		o.logger.Warn("CONGRESS_API_KEY is not set; requests will be rejected by the API")
	}
	client, err := congress.NewClient(o.cfg.API)
	if err != nil {
		return nil, err
	}
	governor, err := o.governor()
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit: %w", err)
	}
	o.logger.WithField("interval", governor.Interval().String()).Debug("rate governor ready")

	return ingestion.NewService(o.cfg.Ingestion, store, client, governor, o.logger), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RunFailedError is returned by ingestion commands whose run ended Failed.
type RunFailedError struct {
	RunID string
	Err   error
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("sync run %s failed: %v", e.RunID, e.Err)
}

func (e *RunFailedError) Unwrap() error { return e.Err }

type reportOutput struct {
	RunID   string            `json:"run_id"`
	Entity  models.EntityType `json:"entity"`
	Status  models.SyncStatus `json:"status"`
	Summary models.RunSummary `json:"summary"`
	Error   string            `json:"error,omitempty"`
}

func newReportOutput(entity models.EntityType, r ingestion.Report) reportOutput {
	out := reportOutput{
		RunID:   r.RunID,
		Entity:  entity,
		Status:  r.Status,
		Summary: r.Summary,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

// firstFailure returns a RunFailedError for the first failed report.
func firstFailure(reports []ingestion.Report) error {
	for _, r := range reports {
		if r.Status == models.StatusFailed {
			return &RunFailedError{RunID: r.RunID, Err: r.Err}
		}
	}
	return nil
}
