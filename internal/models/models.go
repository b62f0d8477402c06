package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opendiscourse/congress-data-service/internal/value"
)

// EntityType names a kind of legislative record and its local collection.
type EntityType string

const (
	EntityBills       EntityType = "bills"
	EntityMembers     EntityType = "members"
	EntityAmendments  EntityType = "amendments"
	EntityCommittees  EntityType = "committees"
	EntityNominations EntityType = "nominations"
	EntityTreaties    EntityType = "treaties"
	EntityReports     EntityType = "reports"
	EntityHearings    EntityType = "hearings"
	EntityRecords     EntityType = "records"
)

// AllEntityTypes lists every supported entity type in ingestion order.
var AllEntityTypes = []EntityType{
	EntityBills,
	EntityMembers,
	EntityAmendments,
	EntityCommittees,
	EntityNominations,
	EntityTreaties,
	EntityReports,
	EntityHearings,
	EntityRecords,
}

// ParseEntityType accepts plural or singular names ("bill", "bills").
func ParseEntityType(s string) (EntityType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, et := range AllEntityTypes {
		if name == string(et) || name+"s" == string(et) {
			return et, nil
		}
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// NaturalKey is the ordered list of externally meaningful key parts.
type NaturalKey []string

// String renders the key as a stable id, e.g. "118-hr-1234".
func (k NaturalKey) String() string {
	return strings.Join(k, "-")
}

// ParseNaturalKey splits a rendered key back into parts for the entity.
// The last part absorbs any remaining separators. A missing last part
// takes its field default when the field has one ("118-5" for a treaty
// without suffix).
func ParseNaturalKey(entity EntityType, s string) (NaturalKey, error) {
	schema, err := SchemaFor(entity)
	if err != nil {
		return nil, err
	}
	fields := schema.KeyFields()
	n := len(fields)
	parts := strings.SplitN(s, "-", n)
	if last := fields[n-1]; len(parts) == n-1 && !last.Required {
		parts = append(parts, last.Default)
	}
	if len(parts) != n {
		return nil, fmt.Errorf("key %q for %s needs %d parts", s, entity, n)
	}
	return NaturalKey(parts), nil
}

// Record is a normalized, schema-conformant legislative record.
type Record struct {
	EntityType EntityType     `json:"entity_type"`
	Key        NaturalKey     `json:"key"`
	Fields     map[string]any `json:"fields"`
	Raw        value.Object   `json:"raw_data"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// String returns the string field or "".
func (r *Record) String(name string) string {
	s, _ := r.Fields[name].(string)
	return s
}

// Int returns the integer field or 0.
func (r *Record) Int(name string) int64 {
	n, _ := r.Fields[name].(int64)
	return n
}

// Bool returns the boolean field or false.
func (r *Record) Bool(name string) bool {
	b, _ := r.Fields[name].(bool)
	return b
}

// Time returns the date/timestamp field and whether it was set.
func (r *Record) Time(name string) (time.Time, bool) {
	t, ok := r.Fields[name].(time.Time)
	return t, ok
}

// JSON returns the semi-structured field or nil.
func (r *Record) JSON(name string) value.Value {
	v, _ := r.Fields[name].(value.Value)
	return v
}

// UpsertOutcome classifies a successful upsert.
type UpsertOutcome string

const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
)

// SyncMode is the kind of ingestion run.
type SyncMode string

const (
	ModeFull        SyncMode = "full"
	ModeIncremental SyncMode = "incremental"
	ModeSingle      SyncMode = "single"
)

// SyncStatus is the state of a SyncRun.
type SyncStatus string

const (
	StatusRunning   SyncStatus = "running"
	StatusCompleted SyncStatus = "completed"
	StatusFailed    SyncStatus = "failed"
)

// RunSummary is returned to callers of an ingestion run.
type RunSummary struct {
	Processed int `json:"processed" bson:"processed"`
	Created   int `json:"created" bson:"created"`
	Updated   int `json:"updated" bson:"updated"`
	Failed    int `json:"failed" bson:"failed"`
}

// Add records one outcome and keeps Processed in step.
func (s *RunSummary) Add(outcome UpsertOutcome) {
	s.Processed++
	switch outcome {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	}
}

// Fail records one failed record.
func (s *RunSummary) Fail() {
	s.Processed++
	s.Failed++
}

// SyncRun is one ledger entry.
type SyncRun struct {
	ID          string         `json:"id"`
	Endpoint    string         `json:"endpoint"`
	Mode        SyncMode       `json:"mode"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Status      SyncStatus     `json:"status"`
	Counts      RunSummary     `json:"counts"`
	Error       *string        `json:"error,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Filters are the recognised ingestion filter keys.
type Filters struct {
	Congress int        `json:"congress,omitempty"`
	SubType  string     `json:"sub_type,omitempty"`
	FromDate *time.Time `json:"from_date,omitempty"`
	ToDate   *time.Time `json:"to_date,omitempty"`
	Days     int        `json:"days,omitempty"`
}

// Validate checks filter combinations.
func (f Filters) Validate() error {
	if f.Congress < 0 {
		return errors.New("congress must not be negative")
	}
	if f.Days < 0 {
		return errors.New("days must not be negative")
	}
	if f.Days > 0 && (f.FromDate != nil || f.ToDate != nil) {
		return errors.New("days cannot be combined with an explicit date range")
	}
	if f.SubType != "" && f.Congress == 0 {
		return errors.New("sub_type requires congress")
	}
	if f.FromDate != nil && f.ToDate != nil && f.ToDate.Before(*f.FromDate) {
		return errors.New("to_date is before from_date")
	}
	return nil
}

// Params renders the filters for the ledger's parameters column.
func (f Filters) Params() map[string]any {
	p := map[string]any{}
	if f.Congress > 0 {
		p["congress"] = f.Congress
	}
	if f.SubType != "" {
		p["sub_type"] = f.SubType
	}
	if f.FromDate != nil {
		p["from_date"] = f.FromDate.UTC().Format(time.RFC3339)
	}
	if f.ToDate != nil {
		p["to_date"] = f.ToDate.UTC().Format(time.RFC3339)
	}
	if f.Days > 0 {
		p["days"] = f.Days
	}
	return p
}

// ParseDateFilter accepts "2006-01-02" or RFC3339.
func ParseDateFilter(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC3339", s)
}

// Query is a read-side filter over one collection.
type Query struct {
	EntityType EntityType
	Congress   int
	SubType    string
	FromDate   *time.Time
	ToDate     *time.Time
	IsLaw      *bool
	Limit      int
	Offset     int
}

// DefaultQueryLimit caps queries that do not set a limit.
const DefaultQueryLimit = 100

// EffectiveLimit returns Limit or the default.
func (q Query) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultQueryLimit
	}
	return q.Limit
}

// CongressParam formats an optional congress number for logs and params.
func CongressParam(congress int) string {
	if congress <= 0 {
		return "all"
	}
	return strconv.Itoa(congress)
}
