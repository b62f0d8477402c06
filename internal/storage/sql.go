package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opendiscourse/congress-data-service/internal/models"
	"github.com/opendiscourse/congress-data-service/internal/value"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name      string
	numbered  bool // $1 placeholders instead of ?
	types     map[models.FieldKind]string
	stampType string
	likeOp    string
	// returning classifies upserts with RETURNING (xmax = 0) instead of a
	// transaction.
	returning bool
}

// sqlStore implements Storage on database/sql. Queries are written with ?
// placeholders and rebound for the dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

type scanner interface {
	Scan(dest ...any) error
}

func newSQLStore(db *sql.DB, d dialect) *sqlStore {
	return &sqlStore{
		db:      db,
		dialect: d,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *sqlStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func quote(ident string) string {
	return `"` + ident + `"`
}

// EnsureSchema creates one table per entity type plus the sync_runs table.
func (s *sqlStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.schemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storeErr("ensure_schema", "", "", fmt.Errorf("%s: %w", stmt, err))
		}
	}
	return nil
}

func (s *sqlStore) schemaStatements() []string {
	var stmts []string
	for _, entity := range models.AllEntityTypes {
		schema, _ := models.SchemaFor(entity)

		cols := []string{"id TEXT PRIMARY KEY"}
		for _, f := range schema.Fields {
			col := quote(f.Name) + " " + s.dialect.types[f.Kind]
			if f.Key {
				col += " NOT NULL"
			}
			cols = append(cols, col)
		}
		cols = append(cols,
			"raw_data "+s.dialect.types[models.KindJSON]+" NOT NULL",
			"created_at "+s.dialect.stampType+" NOT NULL",
			"updated_at "+s.dialect.stampType+" NOT NULL",
		)
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
			schema.Table, strings.Join(cols, ",\n\t")))

		for _, col := range []string{schema.CongressField, schema.SubTypeField, schema.DateField, schema.LawField} {
			if col == "" {
				continue
			}
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)",
				schema.Table, col, schema.Table, quote(col)))
		}
	}

	stmts = append(stmts,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sync_runs (
	id TEXT PRIMARY KEY,
	endpoint TEXT NOT NULL,
	mode TEXT NOT NULL,
	started_at %[1]s NOT NULL,
	completed_at %[1]s,
	status TEXT NOT NULL,
	records_processed INTEGER NOT NULL DEFAULT 0,
	records_created INTEGER NOT NULL DEFAULT 0,
	records_updated INTEGER NOT NULL DEFAULT 0,
	records_failed INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	parameters %[2]s
)`, s.dialect.stampType, s.dialect.types[models.KindJSON]),
		"CREATE INDEX IF NOT EXISTS idx_sync_runs_endpoint ON sync_runs (endpoint, started_at)",
	)
	return stmts
}

func columnList(schema *models.Schema) []string {
	cols := []string{"id"}
	for _, f := range schema.Fields {
		cols = append(cols, quote(f.Name))
	}
	return append(cols, "raw_data", "created_at", "updated_at")
}

func bindField(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case value.Value:
		data, err := value.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case time.Time:
		return val.UTC(), nil
	default:
		return val, nil
	}
}

// Upsert inserts or overwrites the record keyed by its rendered natural key.
func (s *sqlStore) Upsert(ctx context.Context, rec *models.Record) (models.UpsertOutcome, error) {
	id := rec.Key.String()
	schema, err := models.SchemaFor(rec.EntityType)
	if err != nil {
		return "", storeErr("upsert", rec.EntityType, id, err)
	}

	now := s.now()
	args := []any{id}
	for _, f := range schema.Fields {
		arg, err := bindField(rec.Fields[f.Name])
		if err != nil {
			return "", storeErr("upsert", rec.EntityType, id, fmt.Errorf("field %s: %w", f.Name, err))
		}
		args = append(args, arg)
	}
	raw, err := value.Marshal(rec.Raw)
	if err != nil {
		return "", storeErr("upsert", rec.EntityType, id, err)
	}
	args = append(args, string(raw), now, now)

	cols := columnList(schema)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	var outcome models.UpsertOutcome
	if s.dialect.returning {
		outcome, err = s.upsertReturning(ctx, schema, cols, placeholders, args)
	} else {
		outcome, err = s.upsertTx(ctx, schema, cols, placeholders, args)
	}
	if err != nil {
		return "", storeErr("upsert", rec.EntityType, id, err)
	}

	rec.UpdatedAt = now
	if outcome == models.OutcomeCreated {
		rec.CreatedAt = now
	}
	return outcome, nil
}

func (s *sqlStore) upsertReturning(ctx context.Context, schema *models.Schema, cols []string, placeholders string, args []any) (models.UpsertOutcome, error) {
	var sets []string
	for _, col := range cols[1 : len(cols)-2] {
		sets = append(sets, col+" = EXCLUDED."+col)
	}
	sets = append(sets, "updated_at = EXCLUDED.updated_at")

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s RETURNING (xmax = 0)",
		schema.Table, strings.Join(cols, ", "), placeholders, strings.Join(sets, ", "))

	var inserted bool
	if err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&inserted); err != nil {
		return "", err
	}
	if inserted {
		return models.OutcomeCreated, nil
	}
	return models.OutcomeUpdated, nil
}

func (s *sqlStore) upsertTx(ctx context.Context, schema *models.Schema, cols []string, placeholders string, args []any) (models.UpsertOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, s.rebind(fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO NOTHING",
		schema.Table, strings.Join(cols, ", "), placeholders)), args...)
	if err != nil {
		return "", fmt.Errorf("insert: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("rows affected: %w", err)
	}

	outcome := models.OutcomeCreated
	if rowsAffected == 0 {
		// Row exists: overwrite everything but id and created_at.
		var sets []string
		var updateArgs []any
		for i, col := range cols[1 : len(cols)-2] {
			sets = append(sets, col+" = ?")
			updateArgs = append(updateArgs, args[i+1])
		}
		sets = append(sets, "updated_at = ?")
		updateArgs = append(updateArgs, args[len(args)-1], args[0])

		_, err = tx.ExecContext(ctx, s.rebind(fmt.Sprintf("UPDATE %s SET %s WHERE id = ?",
			schema.Table, strings.Join(sets, ", "))), updateArgs...)
		if err != nil {
			return "", fmt.Errorf("update: %w", err)
		}
		outcome = models.OutcomeUpdated
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return outcome, nil
}

func (s *sqlStore) scanRecord(schema *models.Schema, row scanner) (*models.Record, error) {
	var id string
	var raw []byte
	var created, updated time.Time

	holders := make([]any, len(schema.Fields))
	for i, f := range schema.Fields {
		switch f.Kind {
		case models.KindString:
			holders[i] = new(sql.NullString)
		case models.KindInt:
			holders[i] = new(sql.NullInt64)
		case models.KindDate, models.KindTimestamp:
			holders[i] = new(sql.NullTime)
		case models.KindBool:
			holders[i] = new(sql.NullBool)
		case models.KindJSON:
			holders[i] = new([]byte)
		}
	}

	dest := append([]any{&id}, holders...)
	dest = append(dest, &raw, &created, &updated)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	rec := &models.Record{
		EntityType: schema.Entity,
		Fields:     make(map[string]any, len(schema.Fields)),
		CreatedAt:  created.UTC(),
		UpdatedAt:  updated.UTC(),
	}
	for i, f := range schema.Fields {
		switch h := holders[i].(type) {
		case *sql.NullString:
			if h.Valid {
				rec.Fields[f.Name] = h.String
			} else {
				rec.Fields[f.Name] = nil
			}
		case *sql.NullInt64:
			if h.Valid {
				rec.Fields[f.Name] = h.Int64
			} else {
				rec.Fields[f.Name] = nil
			}
		case *sql.NullTime:
			if h.Valid {
				rec.Fields[f.Name] = h.Time.UTC()
			} else {
				rec.Fields[f.Name] = nil
			}
		case *sql.NullBool:
			if h.Valid {
				rec.Fields[f.Name] = h.Bool
			} else {
				rec.Fields[f.Name] = nil
			}
		case *[]byte:
			if *h == nil {
				rec.Fields[f.Name] = nil
				continue
			}
			v, err := value.Parse(*h)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			rec.Fields[f.Name] = v
		}
	}

	obj, err := value.ParseObject(raw)
	if err != nil {
		return nil, fmt.Errorf("raw_data: %w", err)
	}
	rec.Raw = obj
	rec.Key = schema.KeyOf(rec.Fields)
	return rec, nil
}

// GetRecord retrieves a record by natural key
func (s *sqlStore) GetRecord(ctx context.Context, entity models.EntityType, key models.NaturalKey) (*models.Record, error) {
	schema, err := models.SchemaFor(entity)
	if err != nil {
		return nil, storeErr("get", entity, key.String(), err)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", strings.Join(columnList(schema), ", "), schema.Table)
	rec, err := s.scanRecord(schema, s.db.QueryRowContext(ctx, s.rebind(query), key.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Record not found
	}
	if err != nil {
		return nil, storeErr("get", entity, key.String(), err)
	}
	return rec, nil
}

// where renders the filter of q as a WHERE clause.
func (s *sqlStore) where(schema *models.Schema, q models.Query) (string, []any) {
	var conds []string
	var args []any
	if q.Congress > 0 {
		conds = append(conds, quote(schema.CongressField)+" = ?")
		args = append(args, q.Congress)
	}
	if q.SubType != "" {
		conds = append(conds, "LOWER("+quote(schema.SubTypeField)+") = ?")
		args = append(args, strings.ToLower(q.SubType))
	}
	if q.FromDate != nil {
		conds = append(conds, quote(schema.DateField)+" >= ?")
		args = append(args, q.FromDate.UTC())
	}
	if q.ToDate != nil {
		conds = append(conds, quote(schema.DateField)+" <= ?")
		args = append(args, q.ToDate.UTC())
	}
	if q.IsLaw != nil {
		conds = append(conds, quote(schema.LawField)+" = ?")
		args = append(args, *q.IsLaw)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderBy(schema *models.Schema) string {
	if schema.DateField == "" {
		return " ORDER BY id"
	}
	return " ORDER BY " + quote(schema.DateField) + " DESC NULLS LAST, id"
}

func (s *sqlStore) queryRecords(ctx context.Context, schema *models.Schema, query string, args ...any) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		rec, err := s.scanRecord(schema, rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// QueryRecords returns records matching q, newest first by the entity's
// date field.
func (s *sqlStore) QueryRecords(ctx context.Context, q models.Query) ([]*models.Record, error) {
	schema, err := checkQuery(q)
	if err != nil {
		return nil, storeErr("query", q.EntityType, "", err)
	}

	where, args := s.where(schema, q)
	query := fmt.Sprintf("SELECT %s FROM %s%s%s LIMIT ? OFFSET ?",
		strings.Join(columnList(schema), ", "), schema.Table, where, orderBy(schema))
	args = append(args, q.EffectiveLimit(), q.Offset)

	records, err := s.queryRecords(ctx, schema, query, args...)
	if err != nil {
		return nil, storeErr("query", q.EntityType, "", err)
	}
	return records, nil
}

// SearchRecords matches text against the entity's title fields.
func (s *sqlStore) SearchRecords(ctx context.Context, entity models.EntityType, text string, limit int) ([]*models.Record, error) {
	schema, err := models.SchemaFor(entity)
	if err != nil {
		return nil, storeErr("search", entity, "", err)
	}

	fields := searchColumns(schema)
	pattern := "%" + escapeLike(strings.TrimSpace(text)) + "%"
	conds := make([]string, len(fields))
	args := make([]any, 0, len(fields)+1)
	for i, f := range fields {
		conds[i] = fmt.Sprintf("%s %s ? ESCAPE '\\'", f, s.dialect.likeOp)
		args = append(args, pattern)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE (%s)%s LIMIT ?",
		strings.Join(columnList(schema), ", "), schema.Table, strings.Join(conds, " OR "), orderBy(schema))
	args = append(args, searchLimit(limit))

	records, err := s.queryRecords(ctx, schema, query, args...)
	if err != nil {
		return nil, storeErr("search", entity, "", err)
	}
	return records, nil
}

func searchColumns(schema *models.Schema) []string {
	if len(schema.TitleFields) == 0 {
		return []string{"id"}
	}
	cols := make([]string, len(schema.TitleFields))
	for i, f := range schema.TitleFields {
		cols[i] = quote(f)
	}
	return cols
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// SampleRecords draws distinct rows with ORDER BY RANDOM().
func (s *sqlStore) SampleRecords(ctx context.Context, entity models.EntityType, size int, q models.Query) ([]*models.Record, error) {
	q.EntityType = entity
	schema, err := checkQuery(q)
	if err != nil {
		return nil, storeErr("sample", entity, "", err)
	}

	where, args := s.where(schema, q)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY RANDOM() LIMIT ?",
		strings.Join(columnList(schema), ", "), schema.Table, where)
	args = append(args, sampleSize(size))

	records, err := s.queryRecords(ctx, schema, query, args...)
	if err != nil {
		return nil, storeErr("sample", entity, "", err)
	}
	return records, nil
}

const syncRunColumns = `id, endpoint, mode, started_at, completed_at, status,
	records_processed, records_created, records_updated, records_failed, error_message, parameters`

// CreateSyncRun inserts a new ledger row.
func (s *sqlStore) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	params, err := json.Marshal(run.Parameters)
	if err != nil {
		return storeErr("create_sync_run", "", run.ID, err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO sync_runs (`+syncRunColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.Endpoint, string(run.Mode), run.StartedAt.UTC(), nullTime(run.CompletedAt), string(run.Status),
		run.Counts.Processed, run.Counts.Created, run.Counts.Updated, run.Counts.Failed,
		run.Error, string(params),
	)
	if err != nil {
		return storeErr("create_sync_run", "", run.ID, err)
	}
	return nil
}

// FinishSyncRun writes the final status and counts of a run.
func (s *sqlStore) FinishSyncRun(ctx context.Context, run *models.SyncRun) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`UPDATE sync_runs SET
		completed_at = ?, status = ?,
		records_processed = ?, records_created = ?, records_updated = ?, records_failed = ?,
		error_message = ?
		WHERE id = ?`),
		nullTime(run.CompletedAt), string(run.Status),
		run.Counts.Processed, run.Counts.Created, run.Counts.Updated, run.Counts.Failed,
		run.Error, run.ID,
	)
	if err != nil {
		return storeErr("finish_sync_run", "", run.ID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return storeErr("finish_sync_run", "", run.ID, errors.New("sync run not found"))
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func scanSyncRun(row scanner) (*models.SyncRun, error) {
	var (
		run         models.SyncRun
		mode        string
		status      string
		completedAt sql.NullTime
		errMsg      sql.NullString
		params      []byte
	)
	err := row.Scan(&run.ID, &run.Endpoint, &mode, &run.StartedAt, &completedAt, &status,
		&run.Counts.Processed, &run.Counts.Created, &run.Counts.Updated, &run.Counts.Failed,
		&errMsg, &params)
	if err != nil {
		return nil, err
	}

	run.Mode = models.SyncMode(mode)
	run.Status = models.SyncStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		run.CompletedAt = &t
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &run.Parameters); err != nil {
			return nil, fmt.Errorf("parameters: %w", err)
		}
	}
	return &run, nil
}

// GetSyncRun retrieves a ledger row by id
func (s *sqlStore) GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+syncRunColumns+` FROM sync_runs WHERE id = ?`), id)
	run, err := scanSyncRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get_sync_run", "", id, err)
	}
	return run, nil
}

// ListSyncRuns returns the most recent runs first.
func (s *sqlStore) ListSyncRuns(ctx context.Context, endpoint string, limit int) ([]*models.SyncRun, error) {
	query := `SELECT ` + syncRunColumns + ` FROM sync_runs`
	var args []any
	if endpoint != "" {
		query += ` WHERE endpoint = ?`
		args = append(args, endpoint)
	}
	query += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, searchLimit(limit))

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, storeErr("list_sync_runs", "", "", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, storeErr("list_sync_runs", "", "", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list_sync_runs", "", "", err)
	}
	return runs, nil
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}
