package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/patric-chuzhbe/toursapi/internal/models"
	"github.com/patric-chuzhbe/toursapi/internal/query"
)

// TourCollection adds the aggregation pipelines and geo queries of tours.
type TourCollection struct {
	*Collection[models.Tour]
}

// ReviewCollection adds the rating aggregation of reviews.
type ReviewCollection struct {
	*Collection[models.Review]
}

// Stats groups the tours rated at least minRating by difficulty.
func (c *TourCollection) Stats(ctx context.Context, minRating float64) ([]models.TourStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: c.filter(bson.M{"ratingsAverage": bson.M{"$gte": minRating}})}},
		{{Key: "$group", Value: bson.M{
			"_id":        "$difficulty",
			"numTours":   bson.M{"$sum": 1},
			"numRatings": bson.M{"$sum": "$ratingsQuantity"},
			"avgRating":  bson.M{"$avg": "$ratingsAverage"},
			"avgPrice":   bson.M{"$avg": "$price"},
			"minPrice":   bson.M{"$min": "$price"},
			"maxPrice":   bson.M{"$max": "$price"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "avgPrice", Value: 1}, {Key: "_id", Value: 1}}}},
	}

	stats, err := decodeAggregate[models.TourStats](ctx, c.coll, pipeline)
	if err != nil {
		return nil, fmt.Errorf("in internal/db/mongodb/tours.go/Stats(): error while `decodeAggregate()` calling: %w", err)
	}
	return stats, nil
}

// MonthlyPlan counts the tour starts of every month of year, busiest first.
func (c *TourCollection) MonthlyPlan(ctx context.Context, year int) ([]models.MonthlyPlan, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: c.filter(bson.M{})}},
		{{Key: "$unwind", Value: "$startDates"}},
		{{Key: "$match", Value: bson.M{"startDates": bson.M{"$gte": from, "$lt": to}}}},
		{{Key: "$group", Value: bson.M{
			"_id":           bson.M{"$month": "$startDates"},
			"numTourStarts": bson.M{"$sum": 1},
			"tours":         bson.M{"$push": "$name"},
		}}},
		{{Key: "$addFields", Value: bson.M{"month": "$_id"}}},
		{{Key: "$project", Value: bson.M{"_id": 0}}},
		{{Key: "$sort", Value: bson.D{{Key: "numTourStarts", Value: -1}, {Key: "month", Value: 1}}}},
		{{Key: "$limit", Value: 12}},
	}

	plan, err := decodeAggregate[models.MonthlyPlan](ctx, c.coll, pipeline)
	if err != nil {
		return nil, fmt.Errorf("in internal/db/mongodb/tours.go/MonthlyPlan(): error while `decodeAggregate()` calling: %w", err)
	}
	return plan, nil
}

// Within returns the tours starting inside the spherical cap around center.
func (c *TourCollection) Within(ctx context.Context, center models.Coordinates, radius float64) ([]models.Tour, error) {
	descriptor := query.NewDescriptor(bson.M{
		"startLocation": bson.M{
			"$geoWithin": bson.M{
				"$centerSphere": bson.A{bson.A{center.Lng, center.Lat}, radius},
			},
		},
	})

	return c.Find(ctx, descriptor)
}

// Distances returns every tour with the scaled distance to center, nearest first.
func (c *TourCollection) Distances(ctx context.Context, center models.Coordinates, multiplier float64) ([]models.TourDistance, error) {
	geoNear := bson.M{
		"near": bson.M{
			"type":        models.GeoJSONPoint,
			"coordinates": bson.A{center.Lng, center.Lat},
		},
		"key":                "startLocation",
		"distanceField":      "distance",
		"distanceMultiplier": multiplier,
		"spherical":          true,
	}
	if len(c.baseFilter) > 0 {
		geoNear["query"] = c.baseFilter
	}

	pipeline := mongo.Pipeline{
		{{Key: "$geoNear", Value: geoNear}},
		{{Key: "$project", Value: bson.M{"distance": 1, "name": 1}}},
	}

	distances, err := decodeAggregate[models.TourDistance](ctx, c.coll, pipeline)
	if err != nil {
		return nil, fmt.Errorf("in internal/db/mongodb/tours.go/Distances(): error while `decodeAggregate()` calling: %w", err)
	}
	return distances, nil
}

type ratingRow struct {
	Tour      primitive.ObjectID `bson:"_id"`
	NRating   int                `bson:"nRating"`
	AvgRating float64            `bson:"avgRating"`
}

// RatingSummaries counts and averages the reviews of each listed tour.
func (c *ReviewCollection) RatingSummaries(
	ctx context.Context,
	tourIDs []primitive.ObjectID,
) (map[primitive.ObjectID]models.RatingSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: c.filter(bson.M{"tour": bson.M{"$in": tourIDs}})}},
		{{Key: "$group", Value: bson.M{
			"_id":       "$tour",
			"nRating":   bson.M{"$sum": 1},
			"avgRating": bson.M{"$avg": "$rating"},
		}}},
	}

	rows, err := decodeAggregate[ratingRow](ctx, c.coll, pipeline)
	if err != nil {
		return nil, fmt.Errorf("in internal/db/mongodb/tours.go/RatingSummaries(): error while `decodeAggregate()` calling: %w", err)
	}

	result := make(map[primitive.ObjectID]models.RatingSummary, len(rows))
	for _, row := range rows {
		result[row.Tour] = models.RatingSummary{
			Quantity: row.NRating,
			Average:  row.AvgRating,
		}
	}
	return result, nil
}
