package storage

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/opendiscourse/congress-data-service/internal/models"
	"github.com/opendiscourse/congress-data-service/internal/value"
)

// nativeField converts a typed record field into plain Go data for
// document stores.
func nativeField(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case value.Value:
		return value.ToNative(val)
	case time.Time:
		return val.UTC()
	default:
		return val
	}
}

// typedField converts a value read back from a document store into the Go
// type of the field kind.
func typedField(f models.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch f.Kind {
	case models.KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil

	case models.KindInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int32:
			return int64(n), nil
		case int:
			return int64(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("field %s: non-integer %v", f.Name, n)
			}
			return int64(n), nil
		case string:
			i, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			return i, nil
		}

	case models.KindDate, models.KindTimestamp:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			return parsed.UTC(), nil
		}

	case models.KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}

	case models.KindJSON:
		return value.FromNative(v)
	}

	return nil, fmt.Errorf("field %s: unexpected stored type %T for %s", f.Name, v, f.Kind)
}

// rawObject converts a stored raw payload back into an Object.
func rawObject(v any) (value.Object, error) {
	if v == nil {
		return value.Object{}, nil
	}
	val, err := value.FromNative(v)
	if err != nil {
		return nil, err
	}
	obj, ok := val.(value.Object)
	if !ok {
		return nil, fmt.Errorf("raw payload is %s, not an object", value.Kind(val))
	}
	return obj, nil
}
