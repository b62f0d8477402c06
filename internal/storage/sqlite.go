package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/opendiscourse/congress-data-service/internal/config"
	"github.com/opendiscourse/congress-data-service/internal/models"
)

// Column declarations matter here: go-sqlite3 returns time.Time for DATE and
// TIMESTAMP columns and bool for BOOLEAN columns.
var sqliteDialect = dialect{
	name: "sqlite",
	types: map[models.FieldKind]string{
		models.KindString:    "TEXT",
		models.KindInt:       "INTEGER",
		models.KindDate:      "DATE",
		models.KindTimestamp: "TIMESTAMP",
		models.KindBool:      "BOOLEAN",
		models.KindJSON:      "TEXT",
	},
	stampType: "TIMESTAMP",
	likeOp:    "LIKE",
}

// SQLiteStorage implements Storage interface using a local SQLite file
type SQLiteStorage struct {
	*sqlStore
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(cfg config.StorageConfig) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", cfg.SQLitePath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	storage := &SQLiteStorage{sqlStore: newSQLStore(db, sqliteDialect)}
	if err := storage.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema exists: %w", err)
	}

	return storage, nil
}
