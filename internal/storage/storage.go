package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/opendiscourse/congress-data-service/internal/config"
	"github.com/opendiscourse/congress-data-service/internal/models"
)

// Storage interface defines the contract for data storage
type Storage interface {
	RecordStore
	RunStore

	// EnsureSchema creates the tables, collections and indexes the backend
	// needs. It is safe to call on every start.
	EnsureSchema(ctx context.Context) error
	Close() error
}

// RecordStore holds normalized legislative records.
type RecordStore interface {
	// Upsert inserts the record or overwrites every mutable field of the
	// existing row with the same natural key, atomically per record.
	Upsert(ctx context.Context, rec *models.Record) (models.UpsertOutcome, error)
	// GetRecord returns nil when no record has the key.
	GetRecord(ctx context.Context, entity models.EntityType, key models.NaturalKey) (*models.Record, error)
	QueryRecords(ctx context.Context, q models.Query) ([]*models.Record, error)
	// SearchRecords matches text case-insensitively against title-like fields.
	SearchRecords(ctx context.Context, entity models.EntityType, text string, limit int) ([]*models.Record, error)
	// SampleRecords returns min(size, M) distinct rows chosen uniformly at
	// random from the M rows matching q.
	SampleRecords(ctx context.Context, entity models.EntityType, size int, q models.Query) ([]*models.Record, error)
}

// RunStore holds sync ledger rows.
type RunStore interface {
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	FinishSyncRun(ctx context.Context, run *models.SyncRun) error
	// GetSyncRun returns nil when no run has the id.
	GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error)
	ListSyncRuns(ctx context.Context, endpoint string, limit int) ([]*models.SyncRun, error)
}

// StoreError wraps a backend failure with the operation and record it
// concerned.
type StoreError struct {
	Op     string
	Entity models.EntityType
	Key    string
	Err    error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %s %s: %v", e.Op, e.Entity, e.Key, e.Err)
	}
	if e.Entity != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Entity, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, entity models.EntityType, key string, err error) error {
	return &StoreError{Op: op, Entity: entity, Key: key, Err: err}
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "dynamodb":
		return NewDynamoDBStorage(cfg)
	case "mongodb":
		return NewMongoDBStorage(cfg)
	case "postgresql":
		return NewPostgreSQLStorage(cfg)
	case "sqlite":
		return NewSQLiteStorage(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// ErrInvalidQuery is wrapped by read errors caused by the query itself
// rather than the backend.
var ErrInvalidQuery = errors.New("invalid query")

// checkQuery rejects filters the entity type has no column for.
func checkQuery(q models.Query) (*models.Schema, error) {
	schema, err := models.SchemaFor(q.EntityType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	switch {
	case q.Congress > 0 && schema.CongressField == "":
		return nil, fmt.Errorf("%w: %s cannot be filtered by congress", ErrInvalidQuery, q.EntityType)
	case q.SubType != "" && schema.SubTypeField == "":
		return nil, fmt.Errorf("%w: %s cannot be filtered by sub_type", ErrInvalidQuery, q.EntityType)
	case (q.FromDate != nil || q.ToDate != nil) && schema.DateField == "":
		return nil, fmt.Errorf("%w: %s cannot be filtered by date", ErrInvalidQuery, q.EntityType)
	case q.IsLaw != nil && schema.LawField == "":
		return nil, fmt.Errorf("%w: %s cannot be filtered by is_law", ErrInvalidQuery, q.EntityType)
	case q.Offset < 0:
		return nil, fmt.Errorf("%w: offset must not be negative", ErrInvalidQuery)
	}
	return schema, nil
}

// sampleSize clamps a requested sample size.
func sampleSize(size int) int {
	if size <= 0 {
		return models.DefaultQueryLimit
	}
	return size
}

// searchLimit clamps a requested search limit.
func searchLimit(limit int) int {
	if limit <= 0 {
		return models.DefaultQueryLimit
	}
	return limit
}
