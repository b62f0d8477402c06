package ingestion

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/opendiscourse/congress-data-service/internal/models"
	"github.com/opendiscourse/congress-data-service/internal/value"
)

// NormalizationError reports a record that could not be mapped to its
// schema.
type NormalizationError struct {
	Entity models.EntityType
	Field  string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: field %s: %s", e.Entity, e.Field, e.Reason)
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer maps raw API payloads onto the field tables in models.
type Normalizer struct {
	validate *validator.Validate
}

// NewNormalizer creates a new normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{validate: validator.New()}
}

// NormalizeItem normalizes one element of a collection page. Elements
// that are not objects fail with a NormalizationError on field "-".
func (n *Normalizer) NormalizeItem(item value.Value, entity models.EntityType) (*models.Record, error) {
	raw, ok := item.(value.Object)
	if !ok {
		return nil, &NormalizationError{Entity: entity, Field: "-", Reason: "item is not an object (got " + value.Kind(item) + ")"}
	}
	return n.Normalize(raw, entity)
}

// Normalize converts one raw payload into a Record. The raw payload is kept
// on the record unchanged.
func (n *Normalizer) Normalize(raw value.Object, entity models.EntityType) (*models.Record, error) {
	schema, err := models.SchemaFor(entity)
	if err != nil {
		return nil, &NormalizationError{Entity: entity, Field: "-", Reason: err.Error()}
	}
	if raw == nil {
		return nil, &NormalizationError{Entity: entity, Field: "-", Reason: "empty payload"}
	}

	rec := &models.Record{
		EntityType: entity,
		Fields:     make(map[string]any, len(schema.Fields)),
		Raw:        raw,
	}

	for _, field := range schema.Fields {
		v := sourceValue(raw, field)

		typed, err := coerce(v, field)
		if err != nil {
			return nil, &NormalizationError{Entity: entity, Field: field.Name, Reason: err.Error()}
		}

		if field.Key {
			part := models.FormatKeyPart(typed)
			if part == "" && !field.Required {
				part = field.Default
				if typed, err = coerce(value.String(field.Default), field); err != nil {
					return nil, &NormalizationError{Entity: entity, Field: field.Name, Reason: err.Error()}
				}
				if typed == nil && field.Kind == models.KindString {
					typed = part
				}
			}
			if field.Required {
				if err := n.validate.Var(part, "required"); err != nil {
					return nil, &NormalizationError{Entity: entity, Field: field.Name, Reason: "missing required field"}
				}
			}
			rec.Key = append(rec.Key, part)
		}

		rec.Fields[field.Name] = typed
	}

	return rec, nil
}

// sourceValue returns the first present, non-null source value, falling
// back to the field's derivation.
func sourceValue(raw value.Object, field models.Field) value.Value {
	for _, src := range field.Sources {
		if v, ok := raw.Lookup(src); ok && !value.IsNull(v) {
			return v
		}
	}
	if field.Derive != nil {
		if v, ok := field.Derive(raw); ok {
			return v
		}
	}
	return nil
}

// coerce converts v to the Go type of the field kind. Absent values become
// nil.
func coerce(v value.Value, field models.Field) (any, error) {
	if value.IsNull(v) {
		return nil, nil
	}

	switch field.Kind {
	case models.KindString:
		s, ok := value.AsString(v)
		if !ok {
			return nil, fmt.Errorf("expected string, got %s", value.Kind(v))
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		if field.Fold {
			s = strings.ToLower(s)
		}
		return s, nil

	case models.KindInt:
		if s, ok := v.(value.String); ok && strings.TrimSpace(string(s)) == "" {
			return nil, nil
		}
		i, ok := value.AsInt(v)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %s", value.Kind(v))
		}
		return i, nil

	case models.KindDate, models.KindTimestamp:
		s, ok := value.AsString(v)
		if !ok {
			return nil, fmt.Errorf("expected date string, got %s", value.Kind(v))
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		t, err := parseTime(s)
		if err != nil {
			return nil, err
		}
		if field.Kind == models.KindDate {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
		return t, nil

	case models.KindBool:
		b, ok := value.AsBool(v)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %s", value.Kind(v))
		}
		return b, nil

	case models.KindJSON:
		return v, nil
	}

	return nil, fmt.Errorf("unknown field kind %s", field.Kind)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
