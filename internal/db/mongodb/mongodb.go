// Package mongodb provides the MongoDB implementation of the storage
// contracts: generic entity collections, the tour aggregation pipelines,
// geospatial queries and the indexes they rely on.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
	"github.com/patric-chuzhbe/toursapi/internal/models"
)

// Collection names.
const (
	ToursCollection    = "tours"
	UsersCollection    = "users"
	ReviewsCollection  = "reviews"
	BookingsCollection = "bookings"
)

// MongoDB is a MongoDB-backed implementation of the API storage.
type MongoDB struct {
	client            *mongo.Client
	database          *mongo.Database
	connectionTimeout time.Duration

	Tours    *TourCollection
	Users    *Collection[models.User]
	Reviews  *ReviewCollection
	Bookings *Collection[models.Booking]
}

// New connects to the deployment at uri, checks it is reachable and
// creates the indexes of every collection.
func New(
	ctx context.Context,
	uri string,
	databaseName string,
	connectionTimeout time.Duration,
) (*MongoDB, error) {
	clientOptions := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(connectionTimeout).
		SetServerSelectionTimeout(connectionTimeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/mongodb/mongodb.go/New(): error while `mongo.Connect()` calling: %w",
				err,
			)
	}

	result := NewWithDatabase(client.Database(databaseName))
	result.client = client
	result.connectionTimeout = connectionTimeout

	if err := result.Ping(ctx); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/mongodb/mongodb.go/New(): error while `result.Ping()` calling: %w",
				err,
			)
	}

	if err := result.EnsureIndexes(ctx); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/mongodb/mongodb.go/New(): error while `result.EnsureIndexes()` calling: %w",
				err,
			)
	}

	return result, nil
}

// NewWithDatabase builds the collections on an existing database handle.
func NewWithDatabase(database *mongo.Database) *MongoDB {
	return &MongoDB{
		client:   database.Client(),
		database: database,
		Tours: &TourCollection{
			Collection: NewCollection[models.Tour](
				database.Collection(ToursCollection),
				bson.M{"secretTour": bson.M{"$ne": true}},
			),
		},
		Users: NewCollection[models.User](
			database.Collection(UsersCollection),
			bson.M{"active": bson.M{"$ne": false}},
		),
		Reviews: &ReviewCollection{
			Collection: NewCollection[models.Review](database.Collection(ReviewsCollection), nil),
		},
		Bookings: NewCollection[models.Booking](database.Collection(BookingsCollection), nil),
	}
}

// Indexes lists the indexes of every collection.
func Indexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		ToursCollection: {
			{Keys: bson.D{{Key: "price", Value: 1}, {Key: "ratingsAverage", Value: -1}}},
			{Keys: bson.D{{Key: "slug", Value: 1}}},
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "startLocation", Value: "2dsphere"}}},
		},
		UsersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		ReviewsCollection: {
			{Keys: bson.D{{Key: "tour", Value: 1}, {Key: "user", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
}

// EnsureIndexes creates the missing indexes.
func (db *MongoDB) EnsureIndexes(ctx context.Context) error {
	for collection, indexModels := range Indexes() {
		if _, err := db.database.Collection(collection).Indexes().CreateMany(ctx, indexModels); err != nil {
			return fmt.Errorf(
				"in internal/db/mongodb/mongodb.go/EnsureIndexes(): error while `CreateMany()` calling for %s: %w",
				collection,
				err,
			)
		}
	}
	return nil
}

// Repositories exposes the collections through the storage contracts.
func (db *MongoDB) Repositories() storage.Repositories {
	return storage.Repositories{
		Tours:    db.Tours,
		Users:    db.Users,
		Reviews:  db.Reviews,
		Bookings: db.Bookings,
	}
}

// Ping checks the primary is reachable.
func (db *MongoDB) Ping(ctx context.Context) error {
	if db.connectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, db.connectionTimeout)
		defer cancel()
	}
	return db.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (db *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return db.client.Disconnect(ctx)
}
