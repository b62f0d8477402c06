package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/opendiscourse/congress-data-service/internal/config"
	"github.com/opendiscourse/congress-data-service/internal/models"
)

var postgresDialect = dialect{
	name:     "postgresql",
	numbered: true,
	types: map[models.FieldKind]string{
		models.KindString:    "TEXT",
		models.KindInt:       "BIGINT",
		models.KindDate:      "DATE",
		models.KindTimestamp: "TIMESTAMPTZ",
		models.KindBool:      "BOOLEAN",
		models.KindJSON:      "JSONB",
	},
	stampType: "TIMESTAMPTZ",
	likeOp:    "ILIKE",
	returning: true,
}

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	*sqlStore
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(cfg config.StorageConfig) (*PostgreSQLStorage, error) {
	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	storage := &PostgreSQLStorage{sqlStore: newSQLStore(db, postgresDialect)}

	// Create tables if they don't exist
	if err := storage.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema exists: %w", err)
	}

	return storage, nil
}
