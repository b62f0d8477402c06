package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opendiscourse/congress-data-service/internal/congress"
	"github.com/opendiscourse/congress-data-service/internal/config"
	"github.com/opendiscourse/congress-data-service/internal/metrics"
	"github.com/opendiscourse/congress-data-service/internal/models"
	"github.com/opendiscourse/congress-data-service/internal/ratelimit"
	"github.com/opendiscourse/congress-data-service/internal/value"
)

// Source is the remote API records are read from.
type Source interface {
	GetCollection(ctx context.Context, path string, params url.Values, pageToken string) (*congress.Page, error)
	GetDetail(ctx context.Context, path, key string) (value.Object, error)
}

// FetchError reports a page that could not be fetched. Records yielded
// before it remain valid.
type FetchError struct {
	Endpoint string
	Page     int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s page %d: %v", e.Endpoint, e.Page, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher performs throttled, retried requests against a Source.
type Fetcher struct {
	source       Source
	governor     *ratelimit.Governor
	retryCount   int
	retryBackoff time.Duration
	logger       logrus.FieldLogger
}

// NewFetcher creates a new fetcher
func NewFetcher(source Source, governor *ratelimit.Governor, cfg config.IngestionConfig, logger logrus.FieldLogger) *Fetcher {
	retries := cfg.RetryCount
	if retries < 1 {
		retries = 1
	}
	return &Fetcher{
		source:       source,
		governor:     governor,
		retryCount:   retries,
		retryBackoff: cfg.RetryBackoff,
		logger:       logger,
	}
}

// FetchPages returns a lazy iterator over the records of paths, walked in
// order. maxPages caps the pages read from each path; <= 0 means no limit.
func (f *Fetcher) FetchPages(entity models.EntityType, paths []string, params url.Values, maxPages int) *Pager {
	return &Pager{
		fetcher:  f,
		entity:   entity,
		paths:    paths,
		params:   params,
		maxPages: maxPages,
	}
}

// FetchDetail fetches a single resource with the same throttling and
// retry policy as pages.
func (f *Fetcher) FetchDetail(ctx context.Context, entity models.EntityType, path, key string) (value.Object, error) {
	var obj value.Object
	err := f.withRetry(ctx, entity, path, func() error {
		var err error
		obj, err = f.source.GetDetail(ctx, path, key)
		return err
	})
	return obj, err
}

// withRetry runs call after each throttle release until it succeeds, fails
// permanently or runs out of attempts.
func (f *Fetcher) withRetry(ctx context.Context, entity models.EntityType, path string, call func() error) error {
	var lastErr error

	for attempt := 0; attempt < f.retryCount; attempt++ {
		if err := f.governor.Throttle(ctx); err != nil {
			return err
		}

		err := call()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || !congress.IsTemporary(err) {
			return err
		}

		entry := f.logger.WithFields(logrus.Fields{
			"entity":  entity,
			"path":    path,
			"attempt": attempt + 1,
		}).WithError(err)
		if errors.Is(err, congress.ErrRateLimited) {
			entry.WithField("interval", f.governor.Interval().String()).
				Warn("rate limited by Congress.gov, consider a longer RATE_LIMIT_INTERVAL")
		} else {
			entry.Warn("request failed, retrying")
		}

		if attempt < f.retryCount-1 {
			metrics.FetchRetries.WithLabelValues(string(entity)).Inc()
			waitTime := time.Duration(attempt+1) * f.retryBackoff
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", f.retryCount, lastErr)
}

// Pager iterates records page by page. It is forward-only and cannot be
// restarted; once Next returns false, Err reports why.
type Pager struct {
	fetcher  *Fetcher
	entity   models.EntityType
	paths    []string
	params   url.Values
	maxPages int

	pathIdx   int
	pathPages int
	token     string
	buf       []value.Value
	current   value.Value
	pages     int
	done      bool
	err       error
}

// Next advances to the next record, fetching the next page when the
// current one is exhausted.
func (p *Pager) Next(ctx context.Context) bool {
	for len(p.buf) == 0 {
		if p.done || !p.fetch(ctx) {
			p.current = nil
			return false
		}
	}
	p.current, p.buf = p.buf[0], p.buf[1:]
	return true
}

// Record returns the item Next moved to. Items are not guaranteed to be
// objects.
func (p *Pager) Record() value.Value {
	return p.current
}

// Err returns the *FetchError that stopped iteration, or nil if the
// source was exhausted.
func (p *Pager) Err() error {
	return p.err
}

// Pages returns the number of pages fetched so far across all paths.
func (p *Pager) Pages() int {
	return p.pages
}

func (p *Pager) fetch(ctx context.Context) bool {
	if p.maxPages > 0 && p.pathPages >= p.maxPages {
		p.nextPath()
	}
	if p.pathIdx >= len(p.paths) {
		p.done = true
		return false
	}

	path := p.paths[p.pathIdx]
	var page *congress.Page
	err := p.fetcher.withRetry(ctx, p.entity, path, func() error {
		var err error
		page, err = p.fetcher.source.GetCollection(ctx, path, p.params, p.token)
		return err
	})
	if err != nil {
		p.err = &FetchError{Endpoint: path, Page: p.pages + 1, Err: err}
		p.done = true
		return false
	}

	p.pages++
	p.pathPages++
	p.fetcher.logger.WithFields(logrus.Fields{
		"entity":  p.entity,
		"path":    path,
		"page":    p.pages,
		"records": len(page.Records),
	}).Debug("fetched page")

	if len(page.Records) == 0 || page.Next == "" {
		p.nextPath()
	} else {
		p.token = page.Next
	}
	p.buf = page.Records
	return true
}

func (p *Pager) nextPath() {
	p.pathIdx++
	p.pathPages = 0
	p.token = ""
}
