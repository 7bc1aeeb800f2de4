// Package memorystorage is the in-process storage backend. It keeps the
// collections as bson documents and evaluates filters, sorting, projection,
// geo queries and aggregations in Go, so the API runs without a database.
package memorystorage

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
	"github.com/patric-chuzhbe/toursapi/internal/models"
)

// MemoryStorage holds the four collections of the API.
type MemoryStorage struct {
	Tours    *TourCollection
	Users    *Collection[models.User]
	Reviews  *ReviewCollection
	Bookings *Collection[models.Booking]
}

// New returns an empty storage with the base filters and unique keys of
// every collection.
func New() (*MemoryStorage, error) {
	return &MemoryStorage{
		Tours: &TourCollection{
			Collection: NewCollection[models.Tour](
				WithBaseFilter(bson.M{"secretTour": bson.M{"$ne": true}}),
				WithUniqueKey("name"),
			),
		},
		Users: NewCollection[models.User](
			WithBaseFilter(bson.M{"active": bson.M{"$ne": false}}),
			WithUniqueKey("email"),
		),
		Reviews: &ReviewCollection{
			Collection: NewCollection[models.Review](
				WithUniqueKey("tour", "user"),
			),
		},
		Bookings: NewCollection[models.Booking](),
	}, nil
}

// Repositories exposes the collections through the storage contracts.
func (theStorage *MemoryStorage) Repositories() storage.Repositories {
	return storage.Repositories{
		Tours:    theStorage.Tours,
		Users:    theStorage.Users,
		Reviews:  theStorage.Reviews,
		Bookings: theStorage.Bookings,
	}
}

func (theStorage *MemoryStorage) Close() error {
	return nil
}

func (theStorage *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}
