// Package populate resolves the user references of tours, reviews and
// bookings into the summaries returned to clients.
package populate

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/patric-chuzhbe/toursapi/internal/models"
	"github.com/patric-chuzhbe/toursapi/internal/query"
)

type userFinder interface {
	Find(ctx context.Context, descriptor *query.Descriptor) ([]models.User, error)
}

type tourFinder interface {
	Find(ctx context.Context, descriptor *query.Descriptor) ([]models.Tour, error)
}

func idsFilter(ids []primitive.ObjectID) bson.M {
	values := make(bson.A, 0, len(ids))
	for _, id := range ids {
		values = append(values, id)
	}
	return bson.M{query.IDPath: bson.M{"$in": values}}
}

// Users returns the visible users among ids keyed by identifier.
func Users(ctx context.Context, users userFinder, ids []primitive.ObjectID) (map[primitive.ObjectID]models.User, error) {
	result := map[primitive.ObjectID]models.User{}
	if len(ids) == 0 {
		return result, nil
	}

	found, err := users.Find(ctx, query.NewDescriptor(idsFilter(ids)))
	if err != nil {
		return nil, fmt.Errorf("in internal/populate/populate.go/Users(): error while `users.Find()` calling: %w", err)
	}
	for _, usr := range found {
		result[usr.ID] = usr
	}
	return result, nil
}

// Guides replaces the guide references of tour with the guide summaries.
func Guides(ctx context.Context, users userFinder, tour *models.Tour) error {
	found, err := Users(ctx, users, tour.Guides)
	if err != nil {
		return err
	}

	tour.GuideDetails = make([]models.UserSummary, 0, len(tour.Guides))
	for _, id := range tour.Guides {
		if usr, ok := found[id]; ok {
			tour.GuideDetails = append(tour.GuideDetails, usr.Summary())
		}
	}
	return nil
}

// Authors attaches the name and photo of the author to every review.
func Authors(ctx context.Context, users userFinder, reviews []models.Review) error {
	ids := make([]primitive.ObjectID, 0, len(reviews))
	for _, review := range reviews {
		ids = append(ids, review.User)
	}

	found, err := Users(ctx, users, ids)
	if err != nil {
		return err
	}

	for i := range reviews {
		if usr, ok := found[reviews[i].User]; ok {
			reviews[i].Author = &models.UserSummary{ID: usr.ID, Name: usr.Name, Photo: usr.Photo}
		}
	}
	return nil
}

// Bookings attaches the tour name and the customer to every booking.
func Bookings(ctx context.Context, users userFinder, tours tourFinder, bookings []models.Booking) error {
	userIDs := make([]primitive.ObjectID, 0, len(bookings))
	tourIDs := make([]primitive.ObjectID, 0, len(bookings))
	for _, booking := range bookings {
		userIDs = append(userIDs, booking.User)
		tourIDs = append(tourIDs, booking.Tour)
	}

	customers, err := Users(ctx, users, userIDs)
	if err != nil {
		return err
	}

	names := map[primitive.ObjectID]string{}
	if len(tourIDs) > 0 {
		found, err := tours.Find(ctx, query.NewDescriptor(idsFilter(tourIDs)))
		if err != nil {
			return fmt.Errorf("in internal/populate/populate.go/Bookings(): error while `tours.Find()` calling: %w", err)
		}
		for _, tour := range found {
			names[tour.ID] = tour.Name
		}
	}

	for i := range bookings {
		if usr, ok := customers[bookings[i].User]; ok {
			summary := usr.Summary()
			bookings[i].Customer = &summary
		}
		bookings[i].TourName = names[bookings[i].Tour]
	}
	return nil
}
