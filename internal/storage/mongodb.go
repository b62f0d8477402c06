package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/opendiscourse/congress-data-service/internal/config"
	"github.com/opendiscourse/congress-data-service/internal/models"
)

const syncRunsCollection = "sync_runs"

// MongoDBStorage implements Storage interface using MongoDB. Each entity
// type has its own collection keyed by the rendered natural key.
type MongoDBStorage struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

// NewMongoDBStorage creates a new MongoDB storage instance
func NewMongoDBStorage(cfg config.StorageConfig) (*MongoDBStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDBURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	storage := &MongoDBStorage{
		client: client,
		db:     client.Database(cfg.MongoDatabase),
		now:    func() time.Time { return time.Now().UTC() },
	}

	// Create indexes if they don't exist
	if err := storage.EnsureSchema(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ensure indexes exist: %w", err)
	}

	return storage, nil
}

// EnsureSchema creates the filter indexes of every collection.
func (m *MongoDBStorage) EnsureSchema(ctx context.Context) error {
	for _, entity := range models.AllEntityTypes {
		schema, _ := models.SchemaFor(entity)

		var indexes []mongo.IndexModel
		for _, field := range []string{schema.CongressField, schema.SubTypeField, schema.DateField, schema.LawField} {
			if field != "" {
				indexes = append(indexes, mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}})
			}
		}
		if len(indexes) == 0 {
			continue
		}
		if _, err := m.db.Collection(schema.Table).Indexes().CreateMany(ctx, indexes); err != nil {
			return storeErr("ensure_schema", entity, "", err)
		}
	}

	_, err := m.db.Collection(syncRunsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "endpoint", Value: 1}, {Key: "started_at", Value: -1}},
	})
	if err != nil {
		return storeErr("ensure_schema", "", "", err)
	}
	return nil
}

// Upsert writes the record with $set and keeps created_at with
// $setOnInsert. UpsertedCount tells a new document from an update.
func (m *MongoDBStorage) Upsert(ctx context.Context, rec *models.Record) (models.UpsertOutcome, error) {
	id := rec.Key.String()
	schema, err := models.SchemaFor(rec.EntityType)
	if err != nil {
		return "", storeErr("upsert", rec.EntityType, id, err)
	}

	now := m.now()
	set := bson.M{
		"raw_data":   nativeField(rec.Raw),
		"updated_at": now,
	}
	for _, f := range schema.Fields {
		set[f.Name] = nativeField(rec.Fields[f.Name])
	}

	result, err := m.db.Collection(schema.Table).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set, "$setOnInsert": bson.M{"created_at": now}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return "", storeErr("upsert", rec.EntityType, id, err)
	}

	rec.UpdatedAt = now
	if result.UpsertedCount > 0 {
		rec.CreatedAt = now
		return models.OutcomeCreated, nil
	}
	return models.OutcomeUpdated, nil
}

func (m *MongoDBStorage) decodeRecord(schema *models.Schema, doc bson.M) (*models.Record, error) {
	rec := &models.Record{
		EntityType: schema.Entity,
		Fields:     make(map[string]any, len(schema.Fields)),
	}
	for _, f := range schema.Fields {
		v, err := typedField(f, fromBSON(doc[f.Name]))
		if err != nil {
			return nil, err
		}
		rec.Fields[f.Name] = v
	}

	raw, err := rawObject(fromBSON(doc["raw_data"]))
	if err != nil {
		return nil, err
	}
	rec.Raw = raw
	rec.Key = schema.KeyOf(rec.Fields)

	if t, ok := fromBSON(doc["created_at"]).(time.Time); ok {
		rec.CreatedAt = t
	}
	if t, ok := fromBSON(doc["updated_at"]).(time.Time); ok {
		rec.UpdatedAt = t
	}
	return rec, nil
}

// fromBSON converts driver types into plain Go data.
func fromBSON(v any) any {
	switch val := v.(type) {
	case primitive.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case primitive.M:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = fromBSON(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = fromBSON(e)
		}
		return out
	case primitive.A:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = fromBSON(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = fromBSON(e)
		}
		return out
	case primitive.DateTime:
		return val.Time().UTC()
	case int32:
		return int64(val)
	case primitive.Decimal128:
		return val.String()
	default:
		return val
	}
}

// GetRecord retrieves a record by natural key
func (m *MongoDBStorage) GetRecord(ctx context.Context, entity models.EntityType, key models.NaturalKey) (*models.Record, error) {
	schema, err := models.SchemaFor(entity)
	if err != nil {
		return nil, storeErr("get", entity, key.String(), err)
	}

	var doc bson.M
	err = m.db.Collection(schema.Table).FindOne(ctx, bson.M{"_id": key.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil // Record not found
	}
	if err != nil {
		return nil, storeErr("get", entity, key.String(), err)
	}

	rec, err := m.decodeRecord(schema, doc)
	if err != nil {
		return nil, storeErr("get", entity, key.String(), err)
	}
	return rec, nil
}

func mongoFilter(schema *models.Schema, q models.Query) bson.M {
	filter := bson.M{}
	if q.Congress > 0 {
		filter[schema.CongressField] = q.Congress
	}
	if q.SubType != "" {
		filter[schema.SubTypeField] = bson.M{"$regex": "^" + regexp.QuoteMeta(q.SubType) + "$", "$options": "i"}
	}
	if q.FromDate != nil || q.ToDate != nil {
		rng := bson.M{}
		if q.FromDate != nil {
			rng["$gte"] = q.FromDate.UTC()
		}
		if q.ToDate != nil {
			rng["$lte"] = q.ToDate.UTC()
		}
		filter[schema.DateField] = rng
	}
	if q.IsLaw != nil {
		filter[schema.LawField] = *q.IsLaw
	}
	return filter
}

func mongoSort(schema *models.Schema) bson.D {
	if schema.DateField == "" {
		return bson.D{{Key: "_id", Value: 1}}
	}
	return bson.D{{Key: schema.DateField, Value: -1}, {Key: "_id", Value: 1}}
}

func (m *MongoDBStorage) find(ctx context.Context, schema *models.Schema, filter any, opts *options.FindOptions) ([]*models.Record, error) {
	cursor, err := m.db.Collection(schema.Table).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*models.Record
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		rec, err := m.decodeRecord(schema, doc)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, cursor.Err()
}

// QueryRecords returns records matching q, newest first by the entity's
// date field.
func (m *MongoDBStorage) QueryRecords(ctx context.Context, q models.Query) ([]*models.Record, error) {
	schema, err := checkQuery(q)
	if err != nil {
		return nil, storeErr("query", q.EntityType, "", err)
	}

	opts := options.Find().
		SetSort(mongoSort(schema)).
		SetSkip(int64(q.Offset)).
		SetLimit(int64(q.EffectiveLimit()))

	records, err := m.find(ctx, schema, mongoFilter(schema, q), opts)
	if err != nil {
		return nil, storeErr("query", q.EntityType, "", err)
	}
	return records, nil
}

// SearchRecords matches text case-insensitively against title fields.
func (m *MongoDBStorage) SearchRecords(ctx context.Context, entity models.EntityType, text string, limit int) ([]*models.Record, error) {
	schema, err := models.SchemaFor(entity)
	if err != nil {
		return nil, storeErr("search", entity, "", err)
	}

	fields := schema.TitleFields
	if len(fields) == 0 {
		fields = []string{"_id"}
	}
	pattern := bson.M{"$regex": regexp.QuoteMeta(text), "$options": "i"}
	or := make(bson.A, len(fields))
	for i, f := range fields {
		or[i] = bson.M{f: pattern}
	}

	opts := options.Find().SetSort(mongoSort(schema)).SetLimit(int64(searchLimit(limit)))
	records, err := m.find(ctx, schema, bson.M{"$or": or}, opts)
	if err != nil {
		return nil, storeErr("search", entity, "", err)
	}
	return records, nil
}

// SampleRecords loads the matching ids, shuffles them and fetches the first
// size. $sample is avoided because it may repeat documents.
func (m *MongoDBStorage) SampleRecords(ctx context.Context, entity models.EntityType, size int, q models.Query) ([]*models.Record, error) {
	q.EntityType = entity
	schema, err := checkQuery(q)
	if err != nil {
		return nil, storeErr("sample", entity, "", err)
	}

	coll := m.db.Collection(schema.Table)
	cursor, err := coll.Find(ctx, mongoFilter(schema, q), options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, storeErr("sample", entity, "", err)
	}
	var idDocs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &idDocs); err != nil {
		return nil, storeErr("sample", entity, "", err)
	}

	ids := make([]string, len(idDocs))
	for i, d := range idDocs {
		ids[i] = d.ID
	}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	if n := sampleSize(size); len(ids) > n {
		ids = ids[:n]
	}
	if len(ids) == 0 {
		return nil, nil
	}

	records, err := m.find(ctx, schema, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
	if err != nil {
		return nil, storeErr("sample", entity, "", err)
	}
	return records, nil
}

type syncRunDoc struct {
	ID          string            `bson:"_id"`
	Endpoint    string            `bson:"endpoint"`
	Mode        string            `bson:"mode"`
	StartedAt   time.Time         `bson:"started_at"`
	CompletedAt *time.Time        `bson:"completed_at,omitempty"`
	Status      string            `bson:"status"`
	Counts      models.RunSummary `bson:"counts"`
	Error       *string           `bson:"error,omitempty"`
	Parameters  map[string]any    `bson:"parameters,omitempty"`
}

func (d syncRunDoc) toModel() *models.SyncRun {
	run := &models.SyncRun{
		ID:         d.ID,
		Endpoint:   d.Endpoint,
		Mode:       models.SyncMode(d.Mode),
		StartedAt:  d.StartedAt.UTC(),
		Status:     models.SyncStatus(d.Status),
		Counts:     d.Counts,
		Error:      d.Error,
		Parameters: d.Parameters,
	}
	if d.CompletedAt != nil {
		t := d.CompletedAt.UTC()
		run.CompletedAt = &t
	}
	return run
}

// CreateSyncRun inserts a new ledger document.
func (m *MongoDBStorage) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	doc := syncRunDoc{
		ID:          run.ID,
		Endpoint:    run.Endpoint,
		Mode:        string(run.Mode),
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Status:      string(run.Status),
		Counts:      run.Counts,
		Error:       run.Error,
		Parameters:  run.Parameters,
	}
	if _, err := m.db.Collection(syncRunsCollection).InsertOne(ctx, doc); err != nil {
		return storeErr("create_sync_run", "", run.ID, err)
	}
	return nil
}

// FinishSyncRun writes the final status and counts of a run.
func (m *MongoDBStorage) FinishSyncRun(ctx context.Context, run *models.SyncRun) error {
	set := bson.M{
		"completed_at": run.CompletedAt,
		"status":       string(run.Status),
		"counts":       run.Counts,
	}
	if run.Error != nil {
		set["error"] = *run.Error
	}

	result, err := m.db.Collection(syncRunsCollection).UpdateOne(ctx, bson.M{"_id": run.ID}, bson.M{"$set": set})
	if err != nil {
		return storeErr("finish_sync_run", "", run.ID, err)
	}
	if result.MatchedCount == 0 {
		return storeErr("finish_sync_run", "", run.ID, errors.New("sync run not found"))
	}
	return nil
}

// GetSyncRun retrieves a ledger document by id
func (m *MongoDBStorage) GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error) {
	var doc syncRunDoc
	err := m.db.Collection(syncRunsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get_sync_run", "", id, err)
	}
	return doc.toModel(), nil
}

// ListSyncRuns returns the most recent runs first.
func (m *MongoDBStorage) ListSyncRuns(ctx context.Context, endpoint string, limit int) ([]*models.SyncRun, error) {
	filter := bson.M{}
	if endpoint != "" {
		filter["endpoint"] = endpoint
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(searchLimit(limit)))

	cursor, err := m.db.Collection(syncRunsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, storeErr("list_sync_runs", "", "", err)
	}
	var docs []syncRunDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storeErr("list_sync_runs", "", "", err)
	}

	runs := make([]*models.SyncRun, len(docs))
	for i, d := range docs {
		runs[i] = d.toModel()
	}
	return runs, nil
}

// Close closes the MongoDB connection
func (m *MongoDBStorage) Close() error {
	return m.client.Disconnect(context.Background())
}
