// Package handlerfactory produces the list, get, create, update and delete
// HTTP handlers of an entity type on top of a storage repository. Entity
// specific behaviour is supplied by the domain controllers through hooks.
package handlerfactory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/thoas/go-funk"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
	"github.com/patric-chuzhbe/toursapi/internal/models"
	"github.com/patric-chuzhbe/toursapi/internal/query"
	"github.com/patric-chuzhbe/toursapi/internal/response"
)

// DefaultIDParam is the route parameter holding the entity identifier.
const DefaultIDParam = "id"

// Options are the per-entity settings and hooks of a Factory.
type Options[T any] struct {
	// Singular and Plural key the entity in the response data.
	Singular string
	Plural   string

	QueryOptions []query.Option

	// PreFilter restricts List to a subset, e.g. the reviews of one tour.
	PreFilter func(r *http.Request) (bson.M, error)

	// Populate resolves references of a single entity before it is returned.
	Populate func(ctx context.Context, entity *T) error

	// PopulateList resolves references of listed entities.
	PopulateList func(ctx context.Context, items []T) error

	// BeforeCreate runs after decoding and before validation.
	BeforeCreate func(r *http.Request, entity *T) error

	// BeforeUpdate runs on the overlaid entity before validation. It receives
	// the document paths present in the request and returns the paths to set.
	BeforeUpdate func(r *http.Request, entity *T, paths []string) ([]string, error)

	// AfterWrite runs after every successful create, update and delete.
	AfterWrite func(ctx context.Context, entity *T)

	IDParam  string
	Validate *validator.Validate
	Now      func() time.Time
}

// Factory holds the handlers of one entity type.
type Factory[T any] struct {
	repo    storage.Repository[T]
	options Options[T]
	schema  *query.Schema
	builder *query.Builder
}

// New returns the handlers of T served by repo.
func New[T any](repo storage.Repository[T], options Options[T]) *Factory[T] {
	if options.IDParam == "" {
		options.IDParam = DefaultIDParam
	}
	if options.Validate == nil {
		options.Validate = models.NewValidator()
	}
	if options.Now == nil {
		options.Now = time.Now
	}

	schema := query.SchemaFor[T]()
	return &Factory[T]{
		repo:    repo,
		options: options,
		schema:  schema,
		builder: query.NewBuilder(schema, options.QueryOptions...),
	}
}

// Builder returns the query builder of the entity.
func (f *Factory[T]) Builder() *query.Builder {
	return f.builder
}

func (f *Factory[T]) id(r *http.Request) (primitive.ObjectID, error) {
	return storage.ParseID(chi.URLParam(r, f.options.IDParam))
}

// GetAll lists the entities selected by the query string.
func (f *Factory[T]) GetAll(w http.ResponseWriter, r *http.Request) {
	descriptor, err := f.builder.Build(r.URL.Query())
	if err != nil {
		response.Error(w, r, err)
		return
	}

	if f.options.PreFilter != nil {
		extra, err := f.options.PreFilter(r)
		if err != nil {
			response.Error(w, r, err)
			return
		}
		descriptor = descriptor.And(extra)
	}

	items, err := f.repo.Find(r.Context(), descriptor)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	if f.options.PopulateList != nil {
		if err := f.options.PopulateList(r.Context(), items); err != nil {
			response.Error(w, r, err)
			return
		}
	}

	projected, err := f.Project(items, descriptor.Fields)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.List(w, f.options.Plural, projected, len(items))
}

// Project limits the serialized entities to the requested document paths.
func (f *Factory[T]) Project(items []T, fields []string) (interface{}, error) {
	if len(fields) == 0 {
		return items, nil
	}

	keys := []string{"_id"}
	for _, field := range fields {
		top, _, _ := strings.Cut(field, ".")
		if schemaField, ok := f.schema.Field(top); ok && schemaField.JSONName != "" {
			keys = append(keys, schemaField.JSONName)
		}
	}

	result := make([]map[string]json.RawMessage, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("in internal/handlerfactory/handlerfactory.go/Project(): error while `json.Marshal()` calling: %w", err)
		}
		all := map[string]json.RawMessage{}
		if err := json.Unmarshal(raw, &all); err != nil {
			return nil, fmt.Errorf("in internal/handlerfactory/handlerfactory.go/Project(): error while `json.Unmarshal()` calling: %w", err)
		}

		kept := map[string]json.RawMessage{}
		for key, value := range all {
			if funk.ContainsString(keys, key) {
				kept[key] = value
			}
		}
		result = append(result, kept)
	}

	return result, nil
}

// GetOne returns the entity with the identifier of the route.
func (f *Factory[T]) GetOne(w http.ResponseWriter, r *http.Request) {
	id, err := f.id(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	entity, err := f.repo.FindByID(r.Context(), id)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	if f.options.Populate != nil {
		if err := f.options.Populate(r.Context(), entity); err != nil {
			response.Error(w, r, err)
			return
		}
	}

	response.Data(w, http.StatusOK, f.options.Singular, entity)
}

// CreateOne validates and inserts the entity of the request body.
func (f *Factory[T]) CreateOne(w http.ResponseWriter, r *http.Request) {
	entity := new(T)
	if defaulter, ok := any(entity).(models.Defaulter); ok {
		defaulter.SetDefaults(f.options.Now().UTC())
	}

	if err := response.DecodeJSON(r, entity); err != nil {
		response.Error(w, r, err)
		return
	}
	f.setID(entity, primitive.NilObjectID)

	if f.options.BeforeCreate != nil {
		if err := f.options.BeforeCreate(r, entity); err != nil {
			response.Error(w, r, err)
			return
		}
	}

	if err := f.options.Validate.Struct(entity); err != nil {
		response.Error(w, r, err)
		return
	}

	created, err := f.repo.Create(r.Context(), entity)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	if f.options.AfterWrite != nil {
		f.options.AfterWrite(r.Context(), created)
	}

	response.Data(w, http.StatusCreated, f.options.Singular, created)
}

// UpdateOne applies the fields of the request body to the entity. The whole
// entity is validated again and only the supplied fields are written.
func (f *Factory[T]) UpdateOne(w http.ResponseWriter, r *http.Request) {
	id, err := f.id(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	body, err := response.ReadBody(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	supplied := map[string]json.RawMessage{}
	if err := response.UnmarshalBody(body, &supplied); err != nil {
		response.Error(w, r, err)
		return
	}

	entity, err := f.repo.FindByID(r.Context(), id)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	if err := response.UnmarshalBody(body, entity); err != nil {
		response.Error(w, r, err)
		return
	}
	f.setID(entity, id)

	paths := f.suppliedPaths(supplied)
	if f.options.BeforeUpdate != nil {
		paths, err = f.options.BeforeUpdate(r, entity, paths)
		if err != nil {
			response.Error(w, r, err)
			return
		}
	}

	if err := f.options.Validate.Struct(entity); err != nil {
		response.Error(w, r, err)
		return
	}

	set, err := SetFor(entity, paths)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	updated, err := f.repo.FindByIDAndUpdate(r.Context(), id, set)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	if f.options.AfterWrite != nil {
		f.options.AfterWrite(r.Context(), updated)
	}

	response.Data(w, http.StatusOK, f.options.Singular, updated)
}

// DeleteOne removes the entity and answers with no content.
func (f *Factory[T]) DeleteOne(w http.ResponseWriter, r *http.Request) {
	id, err := f.id(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	deleted, err := f.repo.FindByIDAndDelete(r.Context(), id)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	if f.options.AfterWrite != nil {
		f.options.AfterWrite(r.Context(), deleted)
	}

	response.NoContent(w)
}

// suppliedPaths maps the json keys of a request body onto document paths.
// Keys outside the schema and the identifier are ignored.
func (f *Factory[T]) suppliedPaths(supplied map[string]json.RawMessage) []string {
	paths := []string{}
	for key := range supplied {
		field, ok := f.schema.FieldByJSONName(key)
		if !ok || field.Path == query.IDPath {
			continue
		}
		paths = append(paths, field.Path)
	}
	return paths
}

func (f *Factory[T]) setID(entity *T, id primitive.ObjectID) {
	field, ok := f.schema.Field(query.IDPath)
	if !ok {
		return
	}
	value := reflect.ValueOf(entity).Elem().Field(field.Index)
	if value.CanSet() && value.Type() == reflect.TypeOf(id) {
		value.Set(reflect.ValueOf(id))
	}
}

// SetFor returns the update setting the given top-level paths of entity to
// their current values. Paths the entity omits map to nil and are removed.
func SetFor(entity interface{}, paths []string) (bson.M, error) {
	raw, err := bson.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("in internal/handlerfactory/handlerfactory.go/SetFor(): error while `bson.Marshal()` calling: %w", err)
	}
	doc := bson.M{}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("in internal/handlerfactory/handlerfactory.go/SetFor(): error while `bson.Unmarshal()` calling: %w", err)
	}

	set := bson.M{}
	for _, path := range funk.UniqString(paths) {
		if path == query.IDPath {
			continue
		}
		set[path] = doc[path]
	}
	return set, nil
}
