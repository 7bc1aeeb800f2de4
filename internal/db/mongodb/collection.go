package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
	"github.com/patric-chuzhbe/toursapi/internal/query"
)

var (
	duplicateValuePattern = regexp.MustCompile(`(["'])((?:\\.|[^\\])*?)\1`)
	duplicateIndexPattern = regexp.MustCompile(`index: (\S+)`)
)

// Collection serves one entity type from a MongoDB collection.
type Collection[T any] struct {
	coll       *mongo.Collection
	baseFilter bson.M
}

// NewCollection wraps coll. baseFilter is added to every read and every
// find-and-modify operation.
func NewCollection[T any](coll *mongo.Collection, baseFilter bson.M) *Collection[T] {
	return &Collection[T]{
		coll:       coll,
		baseFilter: baseFilter,
	}
}

func (c *Collection[T]) filter(filter bson.M) bson.M {
	return query.MergeFilters(c.baseFilter, filter)
}

// translateError maps driver errors onto the storage sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		duplicate := &storage.DuplicateKeyError{}
		message := err.Error()
		if match := duplicateIndexPattern.FindStringSubmatch(message); match != nil {
			duplicate.Field = match[1]
		}
		if match := duplicateValuePattern.FindStringSubmatch(message); match != nil {
			duplicate.Value = match[2]
		}
		return fmt.Errorf("%w: %s", duplicate, message)
	}
	return err
}

// Find returns the page of matching documents the descriptor selects.
func (c *Collection[T]) Find(ctx context.Context, descriptor *query.Descriptor) ([]T, error) {
	findOptions := options.Find().
		SetProjection(descriptor.Projection()).
		SetSkip(descriptor.Skip())
	if len(descriptor.Sort) > 0 {
		findOptions.SetSort(descriptor.Sort)
	}
	if descriptor.Limit > 0 {
		findOptions.SetLimit(int64(descriptor.Limit))
	}

	cursor, err := c.coll.Find(ctx, c.filter(descriptor.Filter), findOptions)
	if err != nil {
		return nil, fmt.Errorf("in internal/db/mongodb/collection.go/Find(): error while `c.coll.Find()` calling: %w", translateError(err))
	}
	defer cursor.Close(ctx)

	result := []T{}
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("in internal/db/mongodb/collection.go/Find(): error while `cursor.All()` calling: %w", err)
	}

	return result, nil
}

// Count returns the number of visible documents matching filter.
func (c *Collection[T]) Count(ctx context.Context, filter bson.M) (int64, error) {
	count, err := c.coll.CountDocuments(ctx, c.filter(filter))
	if err != nil {
		return 0, fmt.Errorf("in internal/db/mongodb/collection.go/Count(): error while `c.coll.CountDocuments()` calling: %w", err)
	}
	return count, nil
}

// FindOne returns the first visible document matching filter.
func (c *Collection[T]) FindOne(ctx context.Context, filter bson.M) (*T, error) {
	return c.findOne(ctx, c.filter(filter))
}

func (c *Collection[T]) findOne(ctx context.Context, filter bson.M) (*T, error) {
	entity := new(T)
	err := c.coll.FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{query.VersionField: 0})).Decode(entity)
	if err != nil {
		return nil, translateError(err)
	}
	return entity, nil
}

// FindByID returns the visible document with the identifier.
func (c *Collection[T]) FindByID(ctx context.Context, id primitive.ObjectID) (*T, error) {
	return c.FindOne(ctx, bson.M{query.IDPath: id})
}

// Create inserts entity and reads it back.
func (c *Collection[T]) Create(ctx context.Context, entity *T) (*T, error) {
	inserted, err := c.coll.InsertOne(ctx, entity)
	if err != nil {
		return nil, translateError(err)
	}

	id, ok := inserted.InsertedID.(primitive.ObjectID)
	if !ok {
		return nil, fmt.Errorf("in internal/db/mongodb/collection.go/Create(): unexpected identifier type %T", inserted.InsertedID)
	}

	return c.findOne(ctx, bson.M{query.IDPath: id})
}

// FindByIDAndUpdate sets the given paths and returns the updated document.
// A nil value removes the path.
func (c *Collection[T]) FindByIDAndUpdate(ctx context.Context, id primitive.ObjectID, set bson.M) (*T, error) {
	update := bson.M{}
	toSet := bson.M{}
	toUnset := bson.M{}
	for path, value := range set {
		if path == query.IDPath {
			continue
		}
		if value == nil {
			toUnset[path] = ""
			continue
		}
		toSet[path] = value
	}
	if len(toSet) > 0 {
		update["$set"] = toSet
	}
	if len(toUnset) > 0 {
		update["$unset"] = toUnset
	}
	if len(update) == 0 {
		return c.FindByID(ctx, id)
	}

	entity := new(T)
	err := c.coll.FindOneAndUpdate(
		ctx,
		c.filter(bson.M{query.IDPath: id}),
		update,
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{query.VersionField: 0}),
	).Decode(entity)
	if err != nil {
		return nil, translateError(err)
	}

	return entity, nil
}

// FindByIDAndDelete removes the visible document and returns it.
func (c *Collection[T]) FindByIDAndDelete(ctx context.Context, id primitive.ObjectID) (*T, error) {
	entity := new(T)
	err := c.coll.FindOneAndDelete(ctx, c.filter(bson.M{query.IDPath: id})).Decode(entity)
	if err != nil {
		return nil, translateError(err)
	}
	return entity, nil
}

// DeleteMany removes every document matching filter, hidden ones included.
func (c *Collection[T]) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	result, err := c.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("in internal/db/mongodb/collection.go/DeleteMany(): error while `c.coll.DeleteMany()` calling: %w", err)
	}
	return result.DeletedCount, nil
}

func decodeAggregate[R any](ctx context.Context, coll *mongo.Collection, pipeline mongo.Pipeline) ([]R, error) {
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	result := []R{}
	if err := cursor.All(ctx, &result); err != nil {
		return nil, err
	}
	return result, nil
}
