package memorystorage

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
	"github.com/patric-chuzhbe/toursapi/internal/models"
	"github.com/patric-chuzhbe/toursapi/internal/query"
)

func newTour(name string, price float64, difficulty string) *models.Tour {
	tour := &models.Tour{
		Name:         name,
		Duration:     5,
		MaxGroupSize: 10,
		Difficulty:   difficulty,
		Price:        price,
		Summary:      "summary",
		ImageCover:   "cover.jpg",
	}
	tour.SetDefaults(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return tour
}

func seedTours(t *testing.T, theStorage *MemoryStorage) []*models.Tour {
	t.Helper()

	prices := []float64{397, 497, 997, 1197, 1497, 497, 2997, 1997, 897}
	difficulties := []string{"easy", "medium", "difficult"}

	var created []*models.Tour
	for i, price := range prices {
		tour := newTour(fmt.Sprintf("The Test Tour %02d", i), price, difficulties[i%3])
		tour.RatingsAverage = 4.0 + float64(i%10)/10
		tour.RatingsQuantity = i
		result, err := theStorage.Tours.Create(context.Background(), tour)
		require.NoError(t, err)
		created = append(created, result)
	}
	return created
}

func build(t *testing.T, rawQuery string) *query.Descriptor {
	t.Helper()

	values, err := url.ParseQuery(rawQuery)
	require.NoError(t, err)

	descriptor, err := query.NewBuilder(query.SchemaFor[models.Tour]()).Build(values)
	require.NoError(t, err)
	return descriptor
}

func TestFindHonoursFilters(t *testing.T) {
	theStorage, err := New()
	require.NoError(t, err)
	seedTours(t, theStorage)

	type tTestCase struct {
		name      string
		query     string
		predicate func(tour models.Tour) bool
	}
	testCases := []tTestCase{
		{
			name:      "price range",
			query:     "price[gte]=500&price[lt]=2000",
			predicate: func(tour models.Tour) bool { return tour.Price >= 500 && tour.Price < 2000 },
		},
		{
			name:      "equality",
			query:     "difficulty=easy",
			predicate: func(tour models.Tour) bool { return tour.Difficulty == "easy" },
		},
		{
			name:  "combined",
			query: "difficulty=medium&ratingsAverage[gt]=4.3",
			predicate: func(tour models.Tour) bool {
				return tour.Difficulty == "medium" && tour.RatingsAverage > 4.3
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			tours, err := theStorage.Tours.Find(context.Background(), build(t, testCase.query))
			require.NoError(t, err)
			require.NotEmpty(t, tours)

			for _, tour := range tours {
				assert.True(t, testCase.predicate(tour), tour.Name)
			}

			count, err := theStorage.Tours.Count(context.Background(), build(t, testCase.query).Filter)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tours)), count)
		})
	}
}

func TestFindSortsAndLimits(t *testing.T) {
	theStorage, err := New()
	require.NoError(t, err)
	seedTours(t, theStorage)

	tours, err := theStorage.Tours.Find(context.Background(), build(t, "price[gte]=500&sort=-price&limit=2"))
	require.NoError(t, err)

	require.Len(t, tours, 2)
	assert.Equal(t, 2997.0, tours[0].Price)
	assert.Equal(t, 1997.0, tours[1].Price)
}

func TestPaginationReproducesTheFullList(t *testing.T) {
	theStorage, err := New()
	require.NoError(t, err)
	seedTours(t, theStorage)

	full, err := theStorage.Tours.Find(context.Background(), build(t, "sort=price&limit=1000"))
	require.NoError(t, err)
	require.Len(t, full, 9)

	for _, limit := range []int{1, 3, 9} {
		var concatenated []models.Tour
		for page := 1; page <= len(full)/limit; page++ {
			tours, err := theStorage.Tours.Find(
				context.Background(),
				build(t, fmt.Sprintf("sort=price&limit=%d&page=%d", limit, page)),
			)
			require.NoError(t, err)
			concatenated = append(concatenated, tours...)
		}
		assert.Equal(t, full, concatenated, "limit %d", limit)
	}

	beyond, err := theStorage.Tours.Find(context.Background(), build(t, "limit=5&page=7"))
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func TestFindProjectsFields(t *testing.T) {
	theStorage, err := New()
	require.NoError(t, err)
	seedTours(t, theStorage)

	tours, err := theStorage.Tours.Find(context.Background(), build(t, "fields=name&limit=1"))
	require.NoError(t, err)
	require.Len(t, tours, 1)

	assert.NotEmpty(t, tours[0].Name)
	assert.False(t, tours[0].ID.IsZero())
	assert.Zero(t, tours[0].Price)
}

func TestCreateGetUpdateDelete(t *testing.T) {
	theStorage, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	tour := newTour("The Forest Hiker", 397, "easy")
	tour.StartDates = []time.Time{time.Date(2021, 4, 25, 9, 0, 0, 0, time.UTC)}

	created, err := theStorage.Tours.Create(ctx, tour)
	require.NoError(t, err)
	require.False(t, created.ID.IsZero())

	fetched, err := theStorage.Tours.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, fetched)
	assert.Equal(t, tour.Name, fetched.Name)
	assert.Equal(t, tour.StartDates, fetched.StartDates)

	updated, err := theStorage.Tours.FindByIDAndUpdate(ctx, created.ID, bson.M{"price": 500.0, "_id": primitive.NewObjectID()})
	require.NoError(t, err)
	assert.Equal(t, 500.0, updated.Price)
	assert.Equal(t, created.ID, updated.ID)

	_, err = theStorage.Tours.Create(ctx, newTour("The Forest Hiker", 100, "easy"))
	var duplicate *storage.DuplicateKeyError
	require.ErrorAs(t, err, &duplicate)
	assert.Equal(t, "The Forest Hiker", duplicate.Value)

	deleted, err := theStorage.Tours.FindByIDAndDelete(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, deleted.ID)

	_, err = theStorage.Tours.FindByID(ctx, created.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = theStorage.Tours.FindByIDAndDelete(ctx, created.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = theStorage.Tours.FindByIDAndUpdate(ctx, created.ID, bson.M{"price": 1.0})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBaseFiltersHideDocuments(t *testing.T) {
	theStorage, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	secret := newTour("The Secret Tour Of All", 100, "easy")
	secret.SecretTour = true
	created, err := theStorage.Tours.Create(ctx, secret)
	require.NoError(t, err)

	_, err = theStorage.Tours.FindByID(ctx, created.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	tours, err := theStorage.Tours.Find(ctx, query.NewDescriptor(nil))
	require.NoError(t, err)
	assert.Empty(t, tours)

	user := &models.User{Name: "Jonas", Email: "jonas@example.com"}
	user.SetDefaults(time.Now())
	createdUser, err := theStorage.Users.Create(ctx, user)
	require.NoError(t, err)

	_, err = theStorage.Users.FindByIDAndUpdate(ctx, createdUser.ID, bson.M{"active": false})
	require.NoError(t, err)

	_, err = theStorage.Users.FindOne(ctx, bson.M{"email": "jonas@example.com"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	removed, err := theStorage.Users.DeleteMany(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestUpdateUnsetsNilValues(t *testing.T) {
	theStorage, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	user := &models.User{Name: "Jonas", Email: "jonas@example.com", PasswordResetToken: "abc"}
	user.SetDefaults(time.Now())
	created, err := theStorage.Users.Create(ctx, user)
	require.NoError(t, err)

	updated, err := theStorage.Users.FindByIDAndUpdate(ctx, created.ID, bson.M{"passwordResetToken": nil})
	require.NoError(t, err)
	assert.Empty(t, updated.PasswordResetToken)
}

func TestStatsAndMonthlyPlan(t *testing.T) {
	theStorage, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	first := newTour("The Forest Hiker", 400, "easy")
	first.RatingsAverage = 4.7
	first.RatingsQuantity = 10
	first.StartDates = []time.Time{
		time.Date(2021, 4, 25, 9, 0, 0, 0, time.UTC),
		time.Date(2021, 7, 20, 9, 0, 0, 0, time.UTC),
		time.Date(2022, 4, 5, 9, 0, 0, 0, time.UTC),
	}
	second := newTour("The Sea Explorer", 600, "easy")
	second.RatingsAverage = 4.9
	second.RatingsQuantity = 4
	second.StartDates = []time.Time{time.Date(2021, 4, 1, 9, 0, 0, 0, time.UTC)}
	third := newTour("The Snow Adventurer", 1000, "difficult")
	third.RatingsAverage = 4.2

	for _, tour := range []*models.Tour{first, second, third} {
		_, err := theStorage.Tours.Create(ctx, tour)
		require.NoError(t, err)
	}

	stats, err := theStorage.Tours.Stats(ctx, 4.5)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, models.TourStats{
		Difficulty: "easy",
		NumTours:   2,
		NumRatings: 14,
		AvgRating:  4.8,
		AvgPrice:   500,
		MinPrice:   400,
		MaxPrice:   600,
	}, roundStats(stats[0]))

	plan, err := theStorage.Tours.MonthlyPlan(ctx, 2021)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, 4, plan[0].Month)
	assert.Equal(t, 2, plan[0].NumTourStarts)
	assert.ElementsMatch(t, []string{"The Forest Hiker", "The Sea Explorer"}, plan[0].Tours)
	assert.Equal(t, 7, plan[1].Month)
}

func roundStats(stats models.TourStats) models.TourStats {
	stats.AvgRating = models.RoundRating(stats.AvgRating)
	return stats
}

func TestGeoQueries(t *testing.T) {
	theStorage, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	locations := map[string][]float64{
		"The Miami Beach Tour":   {-80.185942, 25.774772},
		"The Los Angeles Tour":   {-118.243683, 34.052235},
		"The New York City Tour": {-74.005974, 40.712776},
	}
	for name, coordinates := range locations {
		tour := newTour(name, 500, "easy")
		tour.StartLocation = &models.GeoPoint{Type: models.GeoJSONPoint, Coordinates: coordinates}
		_, err := theStorage.Tours.Create(ctx, tour)
		require.NoError(t, err)
	}
	_, err = theStorage.Tours.Create(ctx, newTour("The Nowhere Tour Ever", 500, "easy"))
	require.NoError(t, err)

	losAngeles := models.Coordinates{Lat: 34.111745, Lng: -118.113491}

	within, err := theStorage.Tours.Within(ctx, losAngeles, 400/3963.2)
	require.NoError(t, err)
	require.Len(t, within, 1)
	assert.Equal(t, "The Los Angeles Tour", within[0].Name)

	distances, err := theStorage.Tours.Distances(ctx, losAngeles, 0.001)
	require.NoError(t, err)
	require.Len(t, distances, 3)
	assert.Equal(t, "The Los Angeles Tour", distances[0].Name)
	assert.Equal(t, "The New York City Tour", distances[2].Name)
	assert.InDelta(t, 13.5, distances[0].Distance, 1)
}

func TestRatingSummaries(t *testing.T) {
	theStorage, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	tourID := primitive.NewObjectID()
	otherTourID := primitive.NewObjectID()
	for i, rating := range []float64{4, 5, 5} {
		review := &models.Review{Review: "nice", Rating: rating, Tour: tourID, User: primitive.NewObjectID()}
		review.SetDefaults(time.Now())
		_, err := theStorage.Reviews.Create(ctx, review)
		require.NoError(t, err, i)
	}

	summaries, err := theStorage.Reviews.RatingSummaries(ctx, []primitive.ObjectID{tourID, otherTourID})
	require.NoError(t, err)

	require.Len(t, summaries, 1)
	assert.Equal(t, 3, summaries[tourID].Quantity)
	assert.InDelta(t, 4.67, summaries[tourID].Average, 0.01)

	userID := primitive.NewObjectID()
	review := &models.Review{Review: "again", Rating: 3, Tour: tourID, User: userID}
	_, err = theStorage.Reviews.Create(ctx, review)
	require.NoError(t, err)
	_, err = theStorage.Reviews.Create(ctx, &models.Review{Review: "twice", Rating: 3, Tour: tourID, User: userID})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func Test(t *testing.T) {
	t.Run("The base memorystorage package test", func(t *testing.T) {
		theStorage, err := New()
		assert.NoError(t, err, "The memorystorage.New() should not return error")

		err = theStorage.Ping(context.Background())
		assert.NoError(t, err, "The memorystorage.Ping() should not return error")

		err = theStorage.Close()
		assert.NoError(t, err, "The memorystorage.Close() should not return error")
	})
}
