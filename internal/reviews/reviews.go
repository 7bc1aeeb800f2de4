// Package reviews serves the review resource, on its own and nested under
// a tour. Every review write schedules the recalculation of the tour rating.
package reviews

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/thoas/go-funk"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/patric-chuzhbe/toursapi/internal/apperr"
	"github.com/patric-chuzhbe/toursapi/internal/auth"
	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
	"github.com/patric-chuzhbe/toursapi/internal/handlerfactory"
	"github.com/patric-chuzhbe/toursapi/internal/models"
	"github.com/patric-chuzhbe/toursapi/internal/populate"
	"github.com/patric-chuzhbe/toursapi/internal/query"
	"github.com/patric-chuzhbe/toursapi/internal/response"
)

// TourIDParam is the route parameter of the nested routes.
const TourIDParam = "tourId"

// Messages of the review endpoints.
const (
	MessageTourNotFound = "No tour found with that ID"
	MessageNotOwner     = "You can only change your own reviews"
)

// updatablePaths are the fields a review author may change.
var updatablePaths = []string{"review", "rating"}

type tourGetter interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Tour, error)
}

type userFinder interface {
	Find(ctx context.Context, descriptor *query.Descriptor) ([]models.User, error)
}

type ratingsQueue interface {
	Enqueue(tourID primitive.ObjectID)
}

// Controller holds the review handlers.
type Controller struct {
	*handlerfactory.Factory[models.Review]

	reviews storage.Repository[models.Review]
	tours   tourGetter
	users   userFinder
	ratings ratingsQueue
}

// New returns the review handlers.
func New(
	reviews storage.Repository[models.Review],
	tours tourGetter,
	users userFinder,
	ratings ratingsQueue,
) *Controller {
	c := &Controller{
		reviews: reviews,
		tours:   tours,
		users:   users,
		ratings: ratings,
	}

	c.Factory = handlerfactory.New[models.Review](reviews, handlerfactory.Options[models.Review]{
		Singular:  "review",
		Plural:    "reviews",
		PreFilter: preFilter,
		Populate: func(ctx context.Context, review *models.Review) error {
			items := []models.Review{*review}
			if err := populate.Authors(ctx, c.users, items); err != nil {
				return err
			}
			*review = items[0]
			return nil
		},
		PopulateList: func(ctx context.Context, items []models.Review) error {
			return populate.Authors(ctx, c.users, items)
		},
		BeforeCreate: c.beforeCreate,
		BeforeUpdate: func(r *http.Request, review *models.Review, paths []string) ([]string, error) {
			return funk.IntersectString(paths, updatablePaths), nil
		},
		AfterWrite: func(ctx context.Context, review *models.Review) {
			c.ratings.Enqueue(review.Tour)
		},
	})

	return c
}

// preFilter narrows the nested list to the reviews of the tour in the route.
func preFilter(r *http.Request) (bson.M, error) {
	raw := chi.URLParam(r, TourIDParam)
	if raw == "" {
		return bson.M{}, nil
	}

	tourID, err := storage.ParseID(raw)
	if err != nil {
		return nil, err
	}
	return bson.M{"tour": tourID}, nil
}

// beforeCreate binds the review to the tour of the route and to the author.
func (c *Controller) beforeCreate(r *http.Request, review *models.Review) error {
	usr, ok := auth.CurrentUser(r.Context())
	if !ok {
		return apperr.Unauthorized(auth.MessageNotLoggedIn)
	}
	review.User = usr.ID

	if raw := chi.URLParam(r, TourIDParam); raw != "" && review.Tour.IsZero() {
		tourID, err := storage.ParseID(raw)
		if err != nil {
			return err
		}
		review.Tour = tourID
	}

	if review.Tour.IsZero() {
		return nil
	}

	_, err := c.tours.FindByID(r.Context(), review.Tour)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(MessageTourNotFound)
	}
	return err
}

// RequireAuthor lets a review be changed only by its author or an admin.
func (c *Controller) RequireAuthor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		usr, ok := auth.CurrentUser(r.Context())
		if !ok {
			response.Error(w, r, apperr.Unauthorized(auth.MessageNotLoggedIn))
			return
		}
		if usr.Role == models.RoleAdmin {
			next.ServeHTTP(w, r)
			return
		}

		id, err := storage.ParseID(chi.URLParam(r, handlerfactory.DefaultIDParam))
		if err != nil {
			response.Error(w, r, err)
			return
		}

		review, err := c.reviews.FindByID(r.Context(), id)
		if err != nil {
			response.Error(w, r, err)
			return
		}
		if review.User != usr.ID {
			response.Error(w, r, apperr.Forbidden(MessageNotOwner))
			return
		}

		next.ServeHTTP(w, r)
	})
}
