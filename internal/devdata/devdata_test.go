package devdata

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/patric-chuzhbe/toursapi/internal/auth"
	"github.com/patric-chuzhbe/toursapi/internal/db/memorystorage"
	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
)

const fixturesDir = "../../dev-data"

func TestLoad(t *testing.T) {
	fixtures, err := Load(fixturesDir)
	require.NoError(t, err)

	assert.Len(t, fixtures.Tours, 3)
	assert.Len(t, fixtures.Users, 6)
	assert.Len(t, fixtures.Reviews, 4)
	assert.Equal(t, "test1234", fixtures.Users[0].Password)
	assert.Equal(t, "admin", fixtures.Users[0].Role)

	_, err = Load(t.TempDir())
	assert.Error(t, err)

	dir := t.TempDir()
	for _, name := range []string{ToursFile, UsersFile, ReviewsFile} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{"not": "a list"}`), 0o644))
	}
	_, err = Load(dir)
	assert.Error(t, err)
}

func TestImportAndDelete(t *testing.T) {
	ctx := context.Background()

	theStorage, err := memorystorage.New()
	require.NoError(t, err)

	fixtures, err := Load(fixturesDir)
	require.NoError(t, err)

	importer := New(theStorage.Repositories(), bcrypt.MinCost)
	require.NoError(t, importer.Import(ctx, fixtures))

	forestHiker, err := storage.ParseID("5c88fa8cf4afda39709c2951")
	require.NoError(t, err)
	tour, err := theStorage.Tours.FindByID(ctx, forestHiker)
	require.NoError(t, err)
	assert.Equal(t, "the-forest-hiker", tour.Slug)
	assert.Equal(t, 2, tour.RatingsQuantity)
	assert.Equal(t, 5.0, tour.RatingsAverage)
	assert.Equal(t, "Point", tour.StartLocation.Type)

	admin, err := theStorage.Users.FindOne(ctx, bson.M{"email": "admin@natours.io"})
	require.NoError(t, err)
	assert.NotEqual(t, "test1234", admin.Password)
	assert.True(t, auth.CorrectPassword(admin.Password, "test1234"))
	assert.True(t, admin.Active)

	reviews, err := theStorage.Reviews.Count(ctx, bson.M{"tour": forestHiker})
	require.NoError(t, err)
	assert.Equal(t, int64(2), reviews)

	// The unique keys reject a second import.
	assert.Error(t, importer.Import(ctx, fixtures))

	require.NoError(t, importer.Delete(ctx))
	for _, count := range []func(context.Context, bson.M) (int64, error){
		theStorage.Tours.Count,
		theStorage.Users.Count,
		theStorage.Reviews.Count,
		theStorage.Bookings.Count,
	} {
		n, err := count(ctx, bson.M{})
		require.NoError(t, err)
		assert.Zero(t, n)
	}
}

func TestImportRejectsInvalidTour(t *testing.T) {
	theStorage, err := memorystorage.New()
	require.NoError(t, err)

	fixtures, err := Load(fixturesDir)
	require.NoError(t, err)
	fixtures.Tours[0].Name = "Short"
	fixtures.Tours[0].ID = primitive.NewObjectID()

	err = New(theStorage.Repositories(), bcrypt.MinCost).Import(context.Background(), fixtures)
	assert.Error(t, err)
}
