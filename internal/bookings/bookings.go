// Package bookings serves the booking resource and the payment flow that
// creates bookings: the checkout session and the payment provider webhook.
package bookings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/patric-chuzhbe/toursapi/internal/apperr"
	"github.com/patric-chuzhbe/toursapi/internal/auth"
	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
	"github.com/patric-chuzhbe/toursapi/internal/handlerfactory"
	"github.com/patric-chuzhbe/toursapi/internal/logger"
	"github.com/patric-chuzhbe/toursapi/internal/models"
	"github.com/patric-chuzhbe/toursapi/internal/payment"
	"github.com/patric-chuzhbe/toursapi/internal/populate"
	"github.com/patric-chuzhbe/toursapi/internal/query"
	"github.com/patric-chuzhbe/toursapi/internal/response"
)

// TourIDParam is the route parameter of the checkout session.
const TourIDParam = "tourId"

// MessageTourNotFound answers a checkout of an unknown tour.
const MessageTourNotFound = "No tour found with that ID"

// MessageInvalidWebhook is the reason given for a webhook failure that
// carries no client-safe cause.
const MessageInvalidWebhook = "invalid payload"

type gateway interface {
	CreateCheckoutSession(ctx context.Context, params payment.CheckoutParams) (*payment.Session, error)
	ParseCompletedCheckout(payload []byte, signature string) (*payment.CompletedCheckout, bool, error)
}

type tourFinder interface {
	Find(ctx context.Context, descriptor *query.Descriptor) ([]models.Tour, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Tour, error)
}

type userFinder interface {
	Find(ctx context.Context, descriptor *query.Descriptor) ([]models.User, error)
	FindOne(ctx context.Context, filter bson.M) (*models.User, error)
}

// Settings are the public addresses the checkout redirects to.
type Settings struct {
	FrontendURL   string
	PublicBaseURL string
}

// Controller holds the booking handlers.
type Controller struct {
	*handlerfactory.Factory[models.Booking]

	bookings storage.Repository[models.Booking]
	tours    tourFinder
	users    userFinder
	gateway  gateway
	settings Settings
	now      func() time.Time
}

// New returns the booking handlers.
func New(
	bookings storage.Repository[models.Booking],
	tours tourFinder,
	users userFinder,
	gw gateway,
	settings Settings,
) *Controller {
	c := &Controller{
		bookings: bookings,
		tours:    tours,
		users:    users,
		gateway:  gw,
		settings: settings,
		now:      time.Now,
	}

	c.Factory = handlerfactory.New[models.Booking](bookings, handlerfactory.Options[models.Booking]{
		Singular: "booking",
		Plural:   "bookings",
		Populate: func(ctx context.Context, booking *models.Booking) error {
			items := []models.Booking{*booking}
			if err := populate.Bookings(ctx, c.users, c.tours, items); err != nil {
				return err
			}
			*booking = items[0]
			return nil
		},
		PopulateList: func(ctx context.Context, items []models.Booking) error {
			return populate.Bookings(ctx, c.users, c.tours, items)
		},
	})

	return c
}

// CheckoutSession opens a payment session for the tour of the route.
func (c *Controller) CheckoutSession(w http.ResponseWriter, r *http.Request) {
	usr, ok := auth.CurrentUser(r.Context())
	if !ok {
		response.Error(w, r, apperr.Unauthorized(auth.MessageNotLoggedIn))
		return
	}

	tourID, err := storage.ParseID(chi.URLParam(r, TourIDParam))
	if err != nil {
		response.Error(w, r, err)
		return
	}

	tour, err := c.tours.FindByID(r.Context(), tourID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = apperr.NotFound(MessageTourNotFound)
		}
		response.Error(w, r, err)
		return
	}

	base := response.BaseURL(r, c.settings.PublicBaseURL)
	frontend := strings.TrimRight(c.settings.FrontendURL, "/")
	if frontend == "" {
		frontend = base
	}

	session, err := c.gateway.CreateCheckoutSession(r.Context(), payment.CheckoutParams{
		TourID:        tour.ID.Hex(),
		TourName:      tour.Name,
		TourSummary:   tour.Summary,
		ImageURL:      imageURL(base, tour.ImageCover),
		Price:         tour.Price,
		CustomerEmail: usr.Email,
		SuccessURL:    fmt.Sprintf("%s/success?tour=%s", frontend, tour.ID.Hex()),
		CancelURL:     fmt.Sprintf("%s/tour/%s", frontend, tour.Slug),
	})
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"session": session,
	})
}

func imageURL(base, reference string) string {
	if reference == "" || strings.HasPrefix(reference, "http://") || strings.HasPrefix(reference, "https://") {
		return reference
	}
	return base + "/img/tours/" + reference
}

// Webhook turns a completed checkout reported by the payment provider into
// a booking. Other events are acknowledged and ignored.
func (c *Controller) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := response.ReadBody(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	checkout, completed, err := c.gateway.ParseCompletedCheckout(payload, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		logger.Log.Debugw("webhook rejected", "err", err)
		reason := MessageInvalidWebhook
		var invalid *payment.InvalidEventError
		if errors.As(err, &invalid) {
			reason = invalid.Error()
		}
		response.Error(w, r, apperr.Validation("Webhook error: "+reason))
		return
	}

	if completed {
		if err := c.createFromCheckout(r.Context(), checkout); err != nil {
			response.Error(w, r, err)
			return
		}
	}

	response.JSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (c *Controller) createFromCheckout(ctx context.Context, checkout *payment.CompletedCheckout) error {
	tourID, err := storage.ParseID(checkout.TourID)
	if err != nil {
		return err
	}

	usr, err := c.users.FindOne(ctx, bson.M{"email": strings.ToLower(checkout.CustomerEmail)})
	if err != nil {
		return fmt.Errorf("in internal/bookings/bookings.go/createFromCheckout(): error while `c.users.FindOne()` calling: %w", err)
	}

	booking := &models.Booking{
		Tour:  tourID,
		User:  usr.ID,
		Price: checkout.Amount,
	}
	booking.SetDefaults(c.now().UTC())

	created, err := c.bookings.Create(ctx, booking)
	if err != nil {
		return fmt.Errorf("in internal/bookings/bookings.go/createFromCheckout(): error while `c.bookings.Create()` calling: %w", err)
	}

	logger.Log.Infow("booking created", "booking", created.ID.Hex(), "tour", tourID.Hex(), "user", usr.ID.Hex())
	return nil
}

// My lists the bookings of the signed in user.
func (c *Controller) My(w http.ResponseWriter, r *http.Request) {
	usr, ok := auth.CurrentUser(r.Context())
	if !ok {
		response.Error(w, r, apperr.Unauthorized(auth.MessageNotLoggedIn))
		return
	}

	items, err := c.bookings.Find(r.Context(), query.NewDescriptor(bson.M{"user": usr.ID}))
	if err != nil {
		response.Error(w, r, err)
		return
	}
	if err := populate.Bookings(r.Context(), c.users, c.tours, items); err != nil {
		response.Error(w, r, err)
		return
	}

	response.List(w, "bookings", items, len(items))
}
