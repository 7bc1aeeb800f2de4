package query

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDPath is the document path of every entity identifier.
const IDPath = "_id"

var (
	timeType     = reflect.TypeOf(time.Time{})
	objectIDType = reflect.TypeOf(primitive.ObjectID{})
)

// Field is one queryable path of an entity.
type Field struct {
	// Path is the dotted document path.
	Path string

	// JSONName is set for top-level fields.
	JSONName string

	// Type is the scalar type the path holds, the element type for slices.
	Type reflect.Type

	// Index locates top-level fields in the struct.
	Index int

	// Repeated marks slice fields.
	Repeated bool
}

// Schema describes the document paths of an entity type, derived from its
// bson and json tags. Fields hidden from json are not part of the schema.
type Schema struct {
	Type   reflect.Type
	fields map[string]*Field
	byJSON map[string]*Field
}

var schemaCache sync.Map

// SchemaFor returns the cached schema of T.
func SchemaFor[T any]() *Schema {
	var zero T
	return SchemaOf(reflect.TypeOf(zero))
}

// SchemaOf returns the cached schema of the struct type t.
func SchemaOf(t reflect.Type) *Schema {
	if cached, ok := schemaCache.Load(t); ok {
		return cached.(*Schema)
	}

	schema := &Schema{
		Type:   t,
		fields: map[string]*Field{},
		byJSON: map[string]*Field{},
	}
	schema.collect(t, "", true)

	actual, _ := schemaCache.LoadOrStore(t, schema)
	return actual.(*Schema)
}

func (s *Schema) collect(t reflect.Type, prefix string, topLevel bool) {
	for i := 0; i < t.NumField(); i++ {
		structField := t.Field(i)
		if !structField.IsExported() {
			continue
		}
		bsonName := tagName(structField.Tag.Get("bson"))
		jsonName := tagName(structField.Tag.Get("json"))
		if bsonName == "-" || jsonName == "-" {
			continue
		}
		if bsonName == "" {
			bsonName = strings.ToLower(structField.Name)
		}

		path := bsonName
		if prefix != "" {
			path = prefix + "." + bsonName
		}

		fieldType := structField.Type
		repeated := false
		if fieldType.Kind() == reflect.Slice {
			repeated = true
			fieldType = fieldType.Elem()
		}
		if fieldType.Kind() == reflect.Ptr {
			fieldType = fieldType.Elem()
		}

		field := &Field{
			Path:     path,
			Type:     fieldType,
			Index:    i,
			Repeated: repeated,
		}
		if topLevel {
			field.JSONName = jsonName
			if field.JSONName == "" {
				field.JSONName = structField.Name
			}
			s.byJSON[field.JSONName] = field
		}
		s.fields[path] = field

		if fieldType.Kind() == reflect.Struct && fieldType != timeType {
			s.collect(fieldType, path, false)
		}
	}
}

func tagName(tag string) string {
	if idx := strings.Index(tag, ","); idx >= 0 {
		return tag[:idx]
	}
	return tag
}

// Field returns the field at a dotted document path.
func (s *Schema) Field(path string) (*Field, bool) {
	field, ok := s.fields[path]
	return field, ok
}

// FieldByJSONName returns the top-level field serialized under name.
func (s *Schema) FieldByJSONName(name string) (*Field, bool) {
	field, ok := s.byJSON[name]
	return field, ok
}

// Has reports whether the path belongs to the schema.
func (s *Schema) Has(path string) bool {
	_, ok := s.fields[path]
	return ok
}

// Coerce converts a raw query-string value to the Go type the field holds.
func (f *Field) Coerce(raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)

	switch {
	case f.Type == objectIDType:
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q is not an identifier", f.Path, raw)
		}
		return id, nil

	case f.Type == timeType:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, raw); err == nil {
				return parsed.UTC(), nil
			}
		}
		return nil, fmt.Errorf("invalid %s: %q is not a date", f.Path, raw)
	}

	switch f.Type.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if value, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return value, nil
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q is not a number", f.Path, raw)
		}
		return value, nil

	case reflect.Float32, reflect.Float64:
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q is not a number", f.Path, raw)
		}
		return value, nil

	case reflect.Bool:
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q is not a boolean", f.Path, raw)
		}
		return value, nil

	case reflect.String:
		return raw, nil
	}

	return nil, fmt.Errorf("field %s cannot be filtered", f.Path)
}
