package memorystorage

import (
	"context"
	"math"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/patric-chuzhbe/toursapi/internal/models"
)

// earthRadiusMeters is the sphere radius distances are measured on.
const earthRadiusMeters = 6378100.0

// TourCollection adds the aggregations and geo queries of tours.
type TourCollection struct {
	*Collection[models.Tour]
}

// ReviewCollection adds the rating aggregation of reviews.
type ReviewCollection struct {
	*Collection[models.Review]
}

func (c *Collection[T]) all(filter bson.M) ([]T, error) {
	docs, err := c.snapshot(filter)
	if err != nil {
		return nil, err
	}
	return c.decodeAll(docs, nil)
}

// Stats groups the tours rated at least minRating by difficulty.
func (c *TourCollection) Stats(ctx context.Context, minRating float64) ([]models.TourStats, error) {
	tours, err := c.all(bson.M{"ratingsAverage": bson.M{"$gte": minRating}})
	if err != nil {
		return nil, err
	}

	groups := map[string]*models.TourStats{}
	ratingSums := map[string]float64{}
	priceSums := map[string]float64{}
	for _, tour := range tours {
		key := tour.Difficulty
		group, ok := groups[key]
		if !ok {
			group = &models.TourStats{
				Difficulty: key,
				MinPrice:   tour.Price,
				MaxPrice:   tour.Price,
			}
			groups[key] = group
		}
		group.NumTours++
		group.NumRatings += tour.RatingsQuantity
		group.MinPrice = math.Min(group.MinPrice, tour.Price)
		group.MaxPrice = math.Max(group.MaxPrice, tour.Price)
		ratingSums[key] += tour.RatingsAverage
		priceSums[key] += tour.Price
	}

	result := make([]models.TourStats, 0, len(groups))
	for key, group := range groups {
		group.AvgRating = ratingSums[key] / float64(group.NumTours)
		group.AvgPrice = priceSums[key] / float64(group.NumTours)
		result = append(result, *group)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AvgPrice != result[j].AvgPrice {
			return result[i].AvgPrice < result[j].AvgPrice
		}
		return result[i].Difficulty < result[j].Difficulty
	})

	return result, nil
}

// MonthlyPlan counts the tour starts of every month of year, busiest first.
func (c *TourCollection) MonthlyPlan(ctx context.Context, year int) ([]models.MonthlyPlan, error) {
	tours, err := c.all(bson.M{})
	if err != nil {
		return nil, err
	}

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	months := map[int]*models.MonthlyPlan{}
	for _, tour := range tours {
		for _, start := range tour.StartDates {
			if start.Before(from) || !start.Before(to) {
				continue
			}
			month := int(start.UTC().Month())
			plan, ok := months[month]
			if !ok {
				plan = &models.MonthlyPlan{Month: month, Tours: []string{}}
				months[month] = plan
			}
			plan.NumTourStarts++
			plan.Tours = append(plan.Tours, tour.Name)
		}
	}

	result := make([]models.MonthlyPlan, 0, len(months))
	for _, plan := range months {
		result = append(result, *plan)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].NumTourStarts != result[j].NumTourStarts {
			return result[i].NumTourStarts > result[j].NumTourStarts
		}
		return result[i].Month < result[j].Month
	})
	if len(result) > 12 {
		result = result[:12]
	}

	return result, nil
}

// Within returns the tours starting inside the spherical cap around center.
func (c *TourCollection) Within(ctx context.Context, center models.Coordinates, radius float64) ([]models.Tour, error) {
	tours, err := c.all(bson.M{})
	if err != nil {
		return nil, err
	}

	result := []models.Tour{}
	for _, tour := range tours {
		position, ok := tour.StartLocation.Position()
		if !ok {
			continue
		}
		if angularDistance(center, position) <= radius {
			result = append(result, tour)
		}
	}

	return result, nil
}

// Distances returns every tour with the scaled distance to center, nearest first.
func (c *TourCollection) Distances(ctx context.Context, center models.Coordinates, multiplier float64) ([]models.TourDistance, error) {
	tours, err := c.all(bson.M{})
	if err != nil {
		return nil, err
	}

	result := []models.TourDistance{}
	for _, tour := range tours {
		position, ok := tour.StartLocation.Position()
		if !ok {
			continue
		}
		result = append(result, models.TourDistance{
			ID:       tour.ID,
			Name:     tour.Name,
			Distance: angularDistance(center, position) * earthRadiusMeters * multiplier,
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Distance < result[j].Distance
	})

	return result, nil
}

// angularDistance is the haversine central angle between two points, in radians.
func angularDistance(a, b models.Coordinates) float64 {
	toRadians := func(degrees float64) float64 { return degrees * math.Pi / 180 }

	lat1, lat2 := toRadians(a.Lat), toRadians(b.Lat)
	deltaLat := lat2 - lat1
	deltaLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(deltaLng/2)*math.Sin(deltaLng/2)

	return 2 * math.Asin(math.Min(1, math.Sqrt(h)))
}

// RatingSummaries counts and averages the reviews of each listed tour.
func (c *ReviewCollection) RatingSummaries(
	ctx context.Context,
	tourIDs []primitive.ObjectID,
) (map[primitive.ObjectID]models.RatingSummary, error) {
	ids := make(bson.A, len(tourIDs))
	for i, id := range tourIDs {
		ids[i] = id
	}

	reviews, err := c.all(bson.M{"tour": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}

	sums := map[primitive.ObjectID]float64{}
	result := map[primitive.ObjectID]models.RatingSummary{}
	for _, review := range reviews {
		summary := result[review.Tour]
		summary.Quantity++
		sums[review.Tour] += review.Rating
		result[review.Tour] = summary
	}
	for id, summary := range result {
		summary.Average = sums[id] / float64(summary.Quantity)
		result[id] = summary
	}

	return result, nil
}
