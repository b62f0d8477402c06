// Package analysis computes statistics and cosponsorship networks over
// ingested bills, members and Congressional Record issues. Everything is derived from RecordStore queries so each
// storage backend supports it.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opendiscourse/congress-data-service/internal/models"
	"github.com/opendiscourse/congress-data-service/internal/storage"
	"github.com/opendiscourse/congress-data-service/internal/value"
)

// ErrNoData is returned when no bills match the request.
var ErrNoData = errors.New("no data available")

const (
	// maxBills caps how many bills one analysis reads.
	maxBills  = 10000
	batchSize = 500
)

// Analyzer runs analyses against a record store.
type Analyzer struct {
	store storage.RecordStore
}

// New creates a new analyzer
func New(store storage.RecordStore) *Analyzer {
	return &Analyzer{store: store}
}

// loadBills reads the bills of one congress (all congresses when congress
// is 0), newest first.
func (a *Analyzer) loadBills(ctx context.Context, congress int) ([]*models.Record, error) {
	return a.load(ctx, models.Query{EntityType: models.EntityBills, Congress: congress})
}

func (a *Analyzer) load(ctx context.Context, q models.Query) ([]*models.Record, error) {
	var out []*models.Record
	for len(out) < maxBills {
		q.Limit = min(batchSize, maxBills-len(out))
		q.Offset = len(out)

		batch, err := a.store.QueryRecords(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", q.EntityType, err)
		}
		out = append(out, batch...)
		if len(batch) < q.Limit {
			break
		}
	}
	return out, nil
}

// round2 rounds to two decimal places.
func round2(f float64) float64 {
	return decimal.NewFromFloat(f).Round(2).InexactFloat64()
}

// percent returns part/total*100 rounded to two places, or 0 for an empty
// total.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}

// members returns the objects of a list blob, which the API serves either
// as a plain array or wrapped as {"item": [...]}.
func members(v value.Value) []value.Object {
	var arr value.Array
	switch node := v.(type) {
	case value.Array:
		arr = node
	case value.Object:
		arr, _ = node.LookupArray("item")
	}

	out := make([]value.Object, 0, len(arr))
	for _, el := range arr {
		if obj, ok := el.(value.Object); ok {
			out = append(out, obj)
		}
	}
	return out
}

// sponsor returns the first sponsor of a bill.
func sponsor(bill *models.Record) (value.Object, bool) {
	list := members(bill.JSON("sponsors"))
	if len(list) == 0 {
		return nil, false
	}
	return list[0], true
}

// cosponsors returns the cosponsor objects of a bill, from the cosponsors
// column or the raw payload.
func cosponsors(bill *models.Record) []value.Object {
	if list := members(bill.JSON("cosponsors")); len(list) > 0 {
		return list
	}
	if v, ok := bill.Raw.Lookup("cosponsors"); ok {
		return members(v)
	}
	return nil
}

func str(obj value.Object, path string) string {
	s, _ := obj.LookupString(path)
	return s
}
