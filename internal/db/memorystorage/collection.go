package memorystorage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
	"github.com/patric-chuzhbe/toursapi/internal/query"
)

// Collection keeps documents of one entity type as bson documents and
// evaluates queries against them in process.
type Collection[T any] struct {
	mu         sync.RWMutex
	docs       map[primitive.ObjectID]bson.M
	order      []primitive.ObjectID
	baseFilter bson.M
	uniqueKeys [][]string
}

// CollectionOption configures a Collection.
type CollectionOption func(*collectionOptions)

type collectionOptions struct {
	baseFilter bson.M
	uniqueKeys [][]string
}

// WithBaseFilter hides documents not matching filter from every read and
// every find-and-modify operation.
func WithBaseFilter(filter bson.M) CollectionOption {
	return func(options *collectionOptions) {
		options.baseFilter = filter
	}
}

// WithUniqueKey declares a unique, possibly compound, key.
func WithUniqueKey(paths ...string) CollectionOption {
	return func(options *collectionOptions) {
		options.uniqueKeys = append(options.uniqueKeys, paths)
	}
}

// NewCollection returns an empty collection.
func NewCollection[T any](optionsProto ...CollectionOption) *Collection[T] {
	options := &collectionOptions{}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	return &Collection[T]{
		docs:       map[primitive.ObjectID]bson.M{},
		baseFilter: options.baseFilter,
		uniqueKeys: options.uniqueKeys,
	}
}

func toDoc(entity interface{}) (bson.M, error) {
	raw, err := bson.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("in internal/db/memorystorage/collection.go/toDoc(): error while `bson.Marshal()` calling: %w", err)
	}

	doc := bson.M{}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("in internal/db/memorystorage/collection.go/toDoc(): error while `bson.Unmarshal()` calling: %w", err)
	}

	return doc, nil
}

func fromDoc[T any](doc bson.M) (*T, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("in internal/db/memorystorage/collection.go/fromDoc(): error while `bson.Marshal()` calling: %w", err)
	}

	entity := new(T)
	if err := bson.Unmarshal(raw, entity); err != nil {
		return nil, fmt.Errorf("in internal/db/memorystorage/collection.go/fromDoc(): error while `bson.Unmarshal()` calling: %w", err)
	}

	return entity, nil
}

func cloneDoc(doc bson.M) bson.M {
	cloned := make(bson.M, len(doc))
	for key, value := range doc {
		cloned[key] = value
	}
	return cloned
}

// visible returns the documents matching the base filter and filter, in
// insertion order. The caller holds the lock.
func (c *Collection[T]) visible(filter bson.M) ([]bson.M, error) {
	combined := query.MergeFilters(c.baseFilter, filter)

	result := []bson.M{}
	for _, id := range c.order {
		doc := c.docs[id]
		ok, err := matches(doc, combined)
		if err != nil {
			return nil, fmt.Errorf("in internal/db/memorystorage/collection.go/visible(): error while `matches()` calling: %w", err)
		}
		if ok {
			result = append(result, doc)
		}
	}

	return result, nil
}

func sortDocs(docs []bson.M, keys bson.D) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, key := range keys {
			direction := directionOf(key.Value)
			order := compareDocs(
				sortValue(docs[i], key.Key, direction),
				sortValue(docs[j], key.Key, direction),
			)
			if order != 0 {
				return order*direction < 0
			}
		}
		return false
	})
}

func directionOf(value interface{}) int {
	if number, ok := normalize(value).(float64); ok && number < 0 {
		return -1
	}
	return 1
}

// project keeps the _id and the requested top-level fields.
func project(doc bson.M, fields []string) bson.M {
	if len(fields) == 0 {
		return doc
	}

	projected := bson.M{query.IDPath: doc[query.IDPath]}
	for _, field := range fields {
		top, _, _ := strings.Cut(field, ".")
		if value, ok := doc[top]; ok {
			projected[top] = value
		}
	}
	return projected
}

func (c *Collection[T]) decodeAll(docs []bson.M, fields []string) ([]T, error) {
	result := make([]T, 0, len(docs))
	for _, doc := range docs {
		entity, err := fromDoc[T](project(doc, fields))
		if err != nil {
			return nil, err
		}
		result = append(result, *entity)
	}
	return result, nil
}

// Find returns the page of matching documents the descriptor selects.
func (c *Collection[T]) Find(ctx context.Context, descriptor *query.Descriptor) ([]T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	docs, err := c.visible(descriptor.Filter)
	if err != nil {
		return nil, err
	}

	sortDocs(docs, descriptor.Sort)

	skip := descriptor.Skip()
	if skip >= int64(len(docs)) {
		return []T{}, nil
	}
	if skip > 0 {
		docs = docs[skip:]
	}
	if descriptor.Limit > 0 && descriptor.Limit < len(docs) {
		docs = docs[:descriptor.Limit]
	}

	return c.decodeAll(docs, descriptor.Fields)
}

// Count returns the number of visible documents matching filter.
func (c *Collection[T]) Count(ctx context.Context, filter bson.M) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	docs, err := c.visible(filter)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

// FindOne returns the first visible document matching filter.
func (c *Collection[T]) FindOne(ctx context.Context, filter bson.M) (*T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	docs, err := c.visible(filter)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, storage.ErrNotFound
	}
	return fromDoc[T](docs[0])
}

// FindByID returns the visible document with the identifier.
func (c *Collection[T]) FindByID(ctx context.Context, id primitive.ObjectID) (*T, error) {
	return c.FindOne(ctx, bson.M{query.IDPath: id})
}

// Create inserts entity, generating its identifier when it has none.
func (c *Collection[T]) Create(ctx context.Context, entity *T) (*T, error) {
	doc, err := toDoc(entity)
	if err != nil {
		return nil, err
	}

	id, ok := doc[query.IDPath].(primitive.ObjectID)
	if !ok || id.IsZero() {
		id = primitive.NewObjectID()
		doc[query.IDPath] = id
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.docs[id]; exists {
		return nil, &storage.DuplicateKeyError{Field: query.IDPath, Value: id.Hex()}
	}
	if err := c.checkUnique(doc, id); err != nil {
		return nil, err
	}

	c.docs[id] = doc
	c.order = append(c.order, id)

	return fromDoc[T](doc)
}

// FindByIDAndUpdate sets the given paths on the visible document. A nil value
// removes the path.
func (c *Collection[T]) FindByIDAndUpdate(ctx context.Context, id primitive.ObjectID, set bson.M) (*T, error) {
	normalized, err := toDoc(bson.M{"set": set})
	if err != nil {
		return nil, err
	}
	values, _ := toDocument(normalized["set"])

	c.mu.Lock()
	defer c.mu.Unlock()

	docs, err := c.visible(bson.M{query.IDPath: id})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, storage.ErrNotFound
	}

	updated := cloneDoc(docs[0])
	for path, value := range values {
		if path == query.IDPath {
			continue
		}
		if value == nil {
			unsetPath(updated, path)
			continue
		}
		setPath(updated, path, value)
	}

	if err := c.checkUnique(updated, id); err != nil {
		return nil, err
	}
	c.docs[id] = updated

	return fromDoc[T](updated)
}

// FindByIDAndDelete removes the visible document and returns it.
func (c *Collection[T]) FindByIDAndDelete(ctx context.Context, id primitive.ObjectID) (*T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	docs, err := c.visible(bson.M{query.IDPath: id})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, storage.ErrNotFound
	}

	c.remove(id)

	return fromDoc[T](docs[0])
}

// DeleteMany removes every document matching filter, hidden ones included.
func (c *Collection[T]) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []primitive.ObjectID
	for _, id := range c.order {
		ok, err := matches(c.docs[id], filter)
		if err != nil {
			return 0, err
		}
		if ok {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		c.remove(id)
	}

	return int64(len(removed)), nil
}

func (c *Collection[T]) remove(id primitive.ObjectID) {
	delete(c.docs, id)
	for i, current := range c.order {
		if current == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// snapshot returns the visible documents matching filter. Used by the
// aggregation helpers.
func (c *Collection[T]) snapshot(filter bson.M) ([]bson.M, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.visible(filter)
}

func (c *Collection[T]) checkUnique(doc bson.M, self primitive.ObjectID) error {
	for _, key := range c.uniqueKeys {
		values := make([]interface{}, len(key))
		complete := true
		for i, path := range key {
			resolved := lookup(doc, path)
			if len(resolved) == 0 || normalize(resolved[0]) == nil {
				complete = false
				break
			}
			values[i] = resolved[0]
		}
		if !complete {
			continue
		}

		for id, other := range c.docs {
			if id == self {
				continue
			}
			same := true
			for i, path := range key {
				resolved := lookup(other, path)
				var otherValue interface{}
				if len(resolved) > 0 {
					otherValue = resolved[0]
				}
				if !equalValues(values[i], otherValue) {
					same = false
					break
				}
			}
			if same {
				return &storage.DuplicateKeyError{Field: strings.Join(key, ", "), Value: formatKey(values)}
			}
		}
	}
	return nil
}

func formatKey(values []interface{}) string {
	parts := make([]string, len(values))
	for i, value := range values {
		if id, ok := value.(primitive.ObjectID); ok {
			parts[i] = id.Hex()
			continue
		}
		parts[i] = fmt.Sprint(value)
	}
	return strings.Join(parts, ", ")
}

func setPath(doc bson.M, path string, value interface{}) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		doc[head] = value
		return
	}
	child, ok := toDocument(doc[head])
	if ok {
		child = cloneDoc(child)
	} else {
		child = bson.M{}
	}
	setPath(child, rest, value)
	doc[head] = child
}

func unsetPath(doc bson.M, path string) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		delete(doc, head)
		return
	}
	child, ok := toDocument(doc[head])
	if !ok {
		return
	}
	child = cloneDoc(child)
	unsetPath(child, rest)
	doc[head] = child
}
