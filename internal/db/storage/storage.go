// Package storage declares the persistence contracts shared by every backend:
// a generic entity repository, the tour and review extensions used by
// aggregation endpoints, and the sentinel errors backends translate into.
package storage

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/patric-chuzhbe/toursapi/internal/models"
	"github.com/patric-chuzhbe/toursapi/internal/query"
)

var (
	// ErrNotFound is returned when no document matches the identifier or filter.
	ErrNotFound = errors.New("document not found")

	// ErrDuplicateKey is returned when a write violates a unique key.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidID is returned when an identifier is not a valid ObjectID.
	ErrInvalidID = errors.New("invalid identifier")
)

// DuplicateKeyError carries the offending value of a unique key violation.
type DuplicateKeyError struct {
	Field string
	Value interface{}
}

func (e *DuplicateKeyError) Error() string {
	return "duplicate key " + e.Field
}

// Unwrap lets errors.Is match ErrDuplicateKey.
func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateKey
}

// Repository is the entity capability set the handler factory is built on.
type Repository[T any] interface {
	Find(ctx context.Context, descriptor *query.Descriptor) ([]T, error)

	Count(ctx context.Context, filter bson.M) (int64, error)

	FindOne(ctx context.Context, filter bson.M) (*T, error)

	FindByID(ctx context.Context, id primitive.ObjectID) (*T, error)

	Create(ctx context.Context, entity *T) (*T, error)

	// FindByIDAndUpdate applies set and returns the updated entity.
	FindByIDAndUpdate(ctx context.Context, id primitive.ObjectID, set bson.M) (*T, error)

	// FindByIDAndDelete removes the entity and returns it as it was before removal.
	FindByIDAndDelete(ctx context.Context, id primitive.ObjectID) (*T, error)

	DeleteMany(ctx context.Context, filter bson.M) (int64, error)
}

// TourRepository adds the aggregation and geospatial queries of the tours collection.
type TourRepository interface {
	Repository[models.Tour]

	Stats(ctx context.Context, minRating float64) ([]models.TourStats, error)

	MonthlyPlan(ctx context.Context, year int) ([]models.MonthlyPlan, error)

	// Within returns tours whose start location lies inside the spherical cap
	// around center with the given radius expressed in radians.
	Within(ctx context.Context, center models.Coordinates, radius float64) ([]models.Tour, error)

	// Distances returns every tour with the distance from center to its start
	// location, in meters scaled by multiplier, nearest first.
	Distances(ctx context.Context, center models.Coordinates, multiplier float64) ([]models.TourDistance, error)
}

// ReviewRepository adds the rating aggregation of the reviews collection.
type ReviewRepository interface {
	Repository[models.Review]

	RatingSummaries(ctx context.Context, tourIDs []primitive.ObjectID) (map[primitive.ObjectID]models.RatingSummary, error)
}

// Repositories bundles the collections a backend serves.
type Repositories struct {
	Tours    TourRepository
	Users    Repository[models.User]
	Reviews  ReviewRepository
	Bookings Repository[models.Booking]
}

// ParseID converts a hex identifier into an ObjectID.
func ParseID(hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, &InvalidIDError{Value: hex}
	}
	return id, nil
}

// InvalidIDError reports the malformed identifier.
type InvalidIDError struct {
	Value string
}

func (e *InvalidIDError) Error() string {
	return "invalid _id: " + e.Value
}

// Unwrap lets errors.Is match ErrInvalidID.
func (e *InvalidIDError) Unwrap() error {
	return ErrInvalidID
}
