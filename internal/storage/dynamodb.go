package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"

	"github.com/opendiscourse/congress-data-service/internal/config"
	"github.com/opendiscourse/congress-data-service/internal/models"
	"github.com/opendiscourse/congress-data-service/internal/value"
)

// Times are stored as fixed-width UTC strings with nanoseconds so range
// filters can compare them lexically.
const dynamoTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatDynamoTime(t time.Time) string {
	return t.UTC().Format(dynamoTimeLayout)
}

// parseDynamoTime also reads values written without a fraction.
func parseDynamoTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// DynamoDBStorage implements Storage interface using AWS DynamoDB
type DynamoDBStorage struct {
	client      *dynamodb.DynamoDB
	tablePrefix string
	now         func() time.Time
}

// NewDynamoDBStorage creates a new DynamoDB storage instance
func NewDynamoDBStorage(cfg config.StorageConfig) (*DynamoDBStorage, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	storage := &DynamoDBStorage{
		client:      dynamodb.New(sess),
		tablePrefix: cfg.TableName,
		now:         func() time.Time { return time.Now().UTC() },
	}

	// Create tables if they don't exist (for local testing)
	if err := storage.EnsureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure tables exist: %w", err)
	}

	return storage, nil
}

func (d *DynamoDBStorage) table(name string) string {
	if d.tablePrefix == "" {
		return name
	}
	return d.tablePrefix + "_" + name
}

// EnsureSchema creates one table per entity type plus the sync runs table.
func (d *DynamoDBStorage) EnsureSchema(ctx context.Context) error {
	for _, entity := range models.AllEntityTypes {
		schema, _ := models.SchemaFor(entity)
		if err := d.ensureTable(ctx, d.table(schema.Table)); err != nil {
			return storeErr("ensure_schema", entity, "", err)
		}
	}
	if err := d.ensureTable(ctx, d.table(syncRunsCollection)); err != nil {
		return storeErr("ensure_schema", "", "", err)
	}
	return nil
}

// ensureTable creates the DynamoDB table if it doesn't exist
func (d *DynamoDBStorage) ensureTable(ctx context.Context, name string) error {
	// Check if table exists
	_, err := d.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err == nil {
		return nil // Table already exists
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("id"),
				KeyType:       aws.String("HASH"),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("id"),
				AttributeType: aws.String("S"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}

	if _, err := d.client.CreateTableWithContext(ctx, input); err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}

	// Wait for table to be created
	return d.client.WaitUntilTableExistsWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
}

func keyAttr(id string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{"id": {S: aws.String(id)}}
}

// dynamoField converts a typed field into the value stored in its
// attribute. JSON blobs are stored as strings.
func dynamoField(v any) (any, error) {
	switch val := v.(type) {
	case value.Value:
		data, err := value.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case time.Time:
		return formatDynamoTime(val), nil
	default:
		return val, nil
	}
}

// Upsert writes the record with UpdateItem. ALL_OLD returns nothing when
// the item did not exist before.
func (d *DynamoDBStorage) Upsert(ctx context.Context, rec *models.Record) (models.UpsertOutcome, error) {
	id := rec.Key.String()
	schema, err := models.SchemaFor(rec.EntityType)
	if err != nil {
		return "", storeErr("upsert", rec.EntityType, id, err)
	}

	now := d.now()
	stamp := formatDynamoTime(now)
	raw, err := value.Marshal(rec.Raw)
	if err != nil {
		return "", storeErr("upsert", rec.EntityType, id, err)
	}

	update := expression.Set(expression.Name("raw_data"), expression.Value(string(raw))).
		Set(expression.Name("updated_at"), expression.Value(stamp)).
		Set(expression.Name("created_at"), expression.IfNotExists(expression.Name("created_at"), expression.Value(stamp)))
	for _, f := range schema.Fields {
		v := rec.Fields[f.Name]
		if v == nil {
			update = update.Remove(expression.Name(f.Name))
			continue
		}
		stored, err := dynamoField(v)
		if err != nil {
			return "", storeErr("upsert", rec.EntityType, id, fmt.Errorf("field %s: %w", f.Name, err))
		}
		update = update.Set(expression.Name(f.Name), expression.Value(stored))
	}

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return "", storeErr("upsert", rec.EntityType, id, err)
	}

	out, err := d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table(schema.Table)),
		Key:                       keyAttr(id),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              aws.String(dynamodb.ReturnValueAllOld),
	})
	if err != nil {
		return "", storeErr("upsert", rec.EntityType, id, err)
	}

	rec.UpdatedAt = now
	if len(out.Attributes) == 0 {
		rec.CreatedAt = now
		return models.OutcomeCreated, nil
	}
	return models.OutcomeUpdated, nil
}

func decodeAttr(f models.Field, av *dynamodb.AttributeValue) (any, error) {
	if av == nil || (av.NULL != nil && *av.NULL) {
		return nil, nil
	}
	switch f.Kind {
	case models.KindString:
		if av.S != nil {
			return *av.S, nil
		}
	case models.KindInt:
		if av.N != nil {
			return strconv.ParseInt(*av.N, 10, 64)
		}
	case models.KindDate, models.KindTimestamp:
		if av.S != nil {
			return parseDynamoTime(*av.S)
		}
	case models.KindBool:
		if av.BOOL != nil {
			return *av.BOOL, nil
		}
	case models.KindJSON:
		if av.S != nil {
			return value.Parse([]byte(*av.S))
		}
	}
	return nil, fmt.Errorf("unexpected attribute for %s field", f.Kind)
}

func (d *DynamoDBStorage) decodeRecord(schema *models.Schema, item map[string]*dynamodb.AttributeValue) (*models.Record, error) {
	rec := &models.Record{
		EntityType: schema.Entity,
		Fields:     make(map[string]any, len(schema.Fields)),
	}
	for _, f := range schema.Fields {
		v, err := decodeAttr(f, item[f.Name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		rec.Fields[f.Name] = v
	}

	if av := item["raw_data"]; av != nil && av.S != nil {
		raw, err := value.ParseObject([]byte(*av.S))
		if err != nil {
			return nil, fmt.Errorf("raw_data: %w", err)
		}
		rec.Raw = raw
	}
	for name, dst := range map[string]*time.Time{"created_at": &rec.CreatedAt, "updated_at": &rec.UpdatedAt} {
		if av := item[name]; av != nil && av.S != nil {
			if t, err := parseDynamoTime(*av.S); err == nil {
				*dst = t
			}
		}
	}
	rec.Key = schema.KeyOf(rec.Fields)
	return rec, nil
}

// GetRecord retrieves a record by natural key
func (d *DynamoDBStorage) GetRecord(ctx context.Context, entity models.EntityType, key models.NaturalKey) (*models.Record, error) {
	schema, err := models.SchemaFor(entity)
	if err != nil {
		return nil, storeErr("get", entity, key.String(), err)
	}

	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table(schema.Table)),
		Key:       keyAttr(key.String()),
	})
	if err != nil {
		return nil, storeErr("get", entity, key.String(), err)
	}
	if result.Item == nil {
		return nil, nil // Record not found
	}

	rec, err := d.decodeRecord(schema, result.Item)
	if err != nil {
		return nil, storeErr("get", entity, key.String(), err)
	}
	return rec, nil
}

// scanFilter renders the server-side part of q. Sub types are compared
// case-insensitively on the client.
func scanFilter(schema *models.Schema, q models.Query) *expression.ConditionBuilder {
	var conds []expression.ConditionBuilder
	if q.Congress > 0 {
		conds = append(conds, expression.Name(schema.CongressField).Equal(expression.Value(q.Congress)))
	}
	if q.FromDate != nil {
		conds = append(conds, expression.Name(schema.DateField).GreaterThanEqual(
			expression.Value(formatDynamoTime(*q.FromDate))))
	}
	if q.ToDate != nil {
		conds = append(conds, expression.Name(schema.DateField).LessThanEqual(
			expression.Value(formatDynamoTime(*q.ToDate))))
	}
	if q.IsLaw != nil {
		conds = append(conds, expression.Name(schema.LawField).Equal(expression.Value(*q.IsLaw)))
	}

	switch len(conds) {
	case 0:
		return nil
	case 1:
		return &conds[0]
	default:
		cond := expression.And(conds[0], conds[1], conds[2:]...)
		return &cond
	}
}

// scanAll scans the entity table and decodes every matching item.
func (d *DynamoDBStorage) scanAll(ctx context.Context, schema *models.Schema, q models.Query) ([]*models.Record, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(d.table(schema.Table))}

	if cond := scanFilter(schema, q); cond != nil {
		expr, err := expression.NewBuilder().WithFilter(*cond).Build()
		if err != nil {
			return nil, err
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	var records []*models.Record
	var decodeErr error
	err := d.client.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		for _, item := range page.Items {
			rec, err := d.decodeRecord(schema, item)
			if err != nil {
				decodeErr = err
				return false
			}
			if q.SubType != "" && !strings.EqualFold(rec.String(schema.SubTypeField), q.SubType) {
				continue
			}
			records = append(records, rec)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return records, decodeErr
}

// sortRecords orders newest first by the date field, then by key.
func sortRecords(schema *models.Schema, records []*models.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if schema.DateField != "" {
			ti, iok := records[i].Time(schema.DateField)
			tj, jok := records[j].Time(schema.DateField)
			if iok != jok {
				return iok
			}
			if iok && !ti.Equal(tj) {
				return ti.After(tj)
			}
		}
		return records[i].Key.String() < records[j].Key.String()
	})
}

func paginate(records []*models.Record, offset, limit int) []*models.Record {
	if offset >= len(records) {
		return nil
	}
	records = records[offset:]
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}

// QueryRecords scans the table with a filter expression, then sorts and
// pages on the client.
func (d *DynamoDBStorage) QueryRecords(ctx context.Context, q models.Query) ([]*models.Record, error) {
	schema, err := checkQuery(q)
	if err != nil {
		return nil, storeErr("query", q.EntityType, "", err)
	}

	records, err := d.scanAll(ctx, schema, q)
	if err != nil {
		return nil, storeErr("query", q.EntityType, "", err)
	}
	sortRecords(schema, records)
	return paginate(records, q.Offset, q.EffectiveLimit()), nil
}

// SearchRecords matches text case-insensitively against title fields.
func (d *DynamoDBStorage) SearchRecords(ctx context.Context, entity models.EntityType, text string, limit int) ([]*models.Record, error) {
	schema, err := models.SchemaFor(entity)
	if err != nil {
		return nil, storeErr("search", entity, "", err)
	}

	records, err := d.scanAll(ctx, schema, models.Query{EntityType: entity})
	if err != nil {
		return nil, storeErr("search", entity, "", err)
	}

	needle := strings.ToLower(strings.TrimSpace(text))
	var matched []*models.Record
	for _, rec := range records {
		if matchesTitle(schema, rec, needle) {
			matched = append(matched, rec)
		}
	}
	sortRecords(schema, matched)
	return paginate(matched, 0, searchLimit(limit)), nil
}

func matchesTitle(schema *models.Schema, rec *models.Record, needle string) bool {
	if len(schema.TitleFields) == 0 {
		return strings.Contains(strings.ToLower(rec.Key.String()), needle)
	}
	for _, f := range schema.TitleFields {
		if strings.Contains(strings.ToLower(rec.String(f)), needle) {
			return true
		}
	}
	return false
}

// SampleRecords shuffles the matching items and keeps the first size.
func (d *DynamoDBStorage) SampleRecords(ctx context.Context, entity models.EntityType, size int, q models.Query) ([]*models.Record, error) {
	q.EntityType = entity
	schema, err := checkQuery(q)
	if err != nil {
		return nil, storeErr("sample", entity, "", err)
	}

	records, err := d.scanAll(ctx, schema, q)
	if err != nil {
		return nil, storeErr("sample", entity, "", err)
	}
	rand.Shuffle(len(records), func(i, j int) { records[i], records[j] = records[j], records[i] })
	return paginate(records, 0, sampleSize(size)), nil
}

// CreateSyncRun stores a new ledger item
func (d *DynamoDBStorage) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	item, err := dynamodbattribute.MarshalMap(run)
	if err != nil {
		return storeErr("create_sync_run", "", run.ID, fmt.Errorf("failed to marshal sync run: %w", err))
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table(syncRunsCollection)),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return storeErr("create_sync_run", "", run.ID, err)
	}
	return nil
}

// FinishSyncRun replaces the ledger item of an existing run.
func (d *DynamoDBStorage) FinishSyncRun(ctx context.Context, run *models.SyncRun) error {
	item, err := dynamodbattribute.MarshalMap(run)
	if err != nil {
		return storeErr("finish_sync_run", "", run.ID, fmt.Errorf("failed to marshal sync run: %w", err))
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table(syncRunsCollection)),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
		return storeErr("finish_sync_run", "", run.ID, errors.New("sync run not found"))
	}
	if err != nil {
		return storeErr("finish_sync_run", "", run.ID, err)
	}
	return nil
}

// GetSyncRun retrieves a ledger item by id
func (d *DynamoDBStorage) GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table(syncRunsCollection)),
		Key:       keyAttr(id),
	})
	if err != nil {
		return nil, storeErr("get_sync_run", "", id, err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var run models.SyncRun
	if err := dynamodbattribute.UnmarshalMap(result.Item, &run); err != nil {
		return nil, storeErr("get_sync_run", "", id, fmt.Errorf("failed to unmarshal sync run: %w", err))
	}
	return &run, nil
}

// ListSyncRuns returns the most recent runs first.
func (d *DynamoDBStorage) ListSyncRuns(ctx context.Context, endpoint string, limit int) ([]*models.SyncRun, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(d.table(syncRunsCollection))}
	if endpoint != "" {
		expr, err := expression.NewBuilder().
			WithFilter(expression.Name("endpoint").Equal(expression.Value(endpoint))).
			Build()
		if err != nil {
			return nil, storeErr("list_sync_runs", "", "", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	var runs []*models.SyncRun
	var decodeErr error
	err := d.client.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		var batch []*models.SyncRun
		if err := dynamodbattribute.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			decodeErr = err
			return false
		}
		runs = append(runs, batch...)
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, storeErr("list_sync_runs", "", "", err)
	}

	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if n := searchLimit(limit); len(runs) > n {
		runs = runs[:n]
	}
	return runs, nil
}

// Close closes the DynamoDB connection
func (d *DynamoDBStorage) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
