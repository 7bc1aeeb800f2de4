// Package tours serves the tour resource: the generic CRUD handlers, the
// top five alias, the statistics and monthly plan aggregations, the
// geospatial queries and the image upload.
package tours

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gosimple/slug"
	"github.com/thoas/go-funk"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/patric-chuzhbe/toursapi/internal/apperr"
	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
	"github.com/patric-chuzhbe/toursapi/internal/handlerfactory"
	"github.com/patric-chuzhbe/toursapi/internal/imagestore"
	"github.com/patric-chuzhbe/toursapi/internal/models"
	"github.com/patric-chuzhbe/toursapi/internal/populate"
	"github.com/patric-chuzhbe/toursapi/internal/query"
	"github.com/patric-chuzhbe/toursapi/internal/response"
)

const (
	// StatsMinRating is the lowest average rating counted by the statistics.
	StatsMinRating = 4.5

	// MaxTourImages is the number of gallery images a tour accepts.
	MaxTourImages = 3

	// MaxUploadBytes bounds multipart uploads.
	MaxUploadBytes = 10 << 20

	earthRadiusMiles = 3963.2
	earthRadiusKm    = 6378.1
	metersToMiles    = 0.000621371
	metersToKm       = 0.001
)

// Messages of the geospatial endpoints.
const (
	MessageLatLng      = "Please provide latitude and longitude in the format lat,lng."
	MessageUnit        = "Please provide the unit as mi or km."
	MessageNoImages    = "Please upload an imageCover or images."
	MessageTooManyFile = "Too many images uploaded."
)

// MultiValueFields may be repeated in the query string to match any of the values.
var MultiValueFields = []string{
	"duration",
	"ratingsQuantity",
	"ratingsAverage",
	"maxGroupSize",
	"difficulty",
	"price",
}

type reviewFinder interface {
	Find(ctx context.Context, descriptor *query.Descriptor) ([]models.Review, error)
}

type userFinder interface {
	Find(ctx context.Context, descriptor *query.Descriptor) ([]models.User, error)
}

type imageSaver interface {
	Save(ctx context.Context, upload imagestore.Upload) (string, error)
}

// Controller holds the tour handlers.
type Controller struct {
	*handlerfactory.Factory[models.Tour]

	tours   storage.TourRepository
	reviews reviewFinder
	users   userFinder
	images  imageSaver
}

// New returns the tour handlers.
func New(tours storage.TourRepository, reviews reviewFinder, users userFinder, images imageSaver) *Controller {
	c := &Controller{
		tours:   tours,
		reviews: reviews,
		users:   users,
		images:  images,
	}

	c.Factory = handlerfactory.New[models.Tour](tours, handlerfactory.Options[models.Tour]{
		Singular:     "tour",
		Plural:       "tours",
		QueryOptions: []query.Option{query.WithMultiValueFields(MultiValueFields...)},
		Populate:     c.populate,
		BeforeCreate: func(r *http.Request, tour *models.Tour) error {
			tour.NormalizeGeometry()
			tour.Slug = slug.Make(tour.Name)
			return nil
		},
		BeforeUpdate: func(r *http.Request, tour *models.Tour, paths []string) ([]string, error) {
			tour.NormalizeGeometry()
			if funk.ContainsString(paths, "name") {
				tour.Slug = slug.Make(tour.Name)
				paths = append(paths, "slug")
			}
			return paths, nil
		},
	})

	return c
}

// populate attaches the guides and the reviews of a single tour.
func (c *Controller) populate(ctx context.Context, tour *models.Tour) error {
	if err := populate.Guides(ctx, c.users, tour); err != nil {
		return err
	}

	reviews, err := c.reviews.Find(ctx, query.NewDescriptor(bson.M{"tour": tour.ID}))
	if err != nil {
		return fmt.Errorf("in internal/tours/tours.go/populate(): error while `c.reviews.Find()` calling: %w", err)
	}
	if err := populate.Authors(ctx, c.users, reviews); err != nil {
		return err
	}
	tour.Reviews = reviews

	return nil
}

// AliasTopTours rewrites the query into the five best rated, cheapest tours.
func AliasTopTours(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		values := r.URL.Query()
		values.Set("limit", "5")
		values.Set("sort", "-ratingsAverage,price")
		values.Set("fields", "name,price,ratingsAverage,summary,difficulty")
		r.URL.RawQuery = values.Encode()

		next.ServeHTTP(w, r)
	})
}

// Stats groups the well rated tours by difficulty.
func (c *Controller) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := c.tours.Stats(r.Context(), StatsMinRating)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.List(w, "stats", stats, len(stats))
}

// MonthlyPlan counts the tour starts of each month of the year.
func (c *Controller) MonthlyPlan(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "year")
	year, err := strconv.Atoi(raw)
	if err != nil || year < 1 {
		response.Error(w, r, apperr.Validation(fmt.Sprintf("Invalid year: %s", raw)))
		return
	}

	plan, err := c.tours.MonthlyPlan(r.Context(), year)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.List(w, "plan", plan, len(plan))
}

// Within lists the tours starting inside the given distance of a point.
func (c *Controller) Within(w http.ResponseWriter, r *http.Request) {
	center, err := parseLatLng(chi.URLParam(r, "latlng"))
	if err != nil {
		response.Error(w, r, err)
		return
	}

	distance, err := strconv.ParseFloat(chi.URLParam(r, "distance"), 64)
	if err != nil || distance < 0 {
		response.Error(w, r, apperr.Validation(fmt.Sprintf("Invalid distance: %s", chi.URLParam(r, "distance"))))
		return
	}

	var radius float64
	switch chi.URLParam(r, "unit") {
	case "mi":
		radius = distance / earthRadiusMiles
	case "km":
		radius = distance / earthRadiusKm
	default:
		response.Error(w, r, apperr.Validation(MessageUnit))
		return
	}

	tours, err := c.tours.Within(r.Context(), center, radius)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.List(w, "data", tours, len(tours))
}

// Distances lists every tour with its distance from a point, nearest first.
func (c *Controller) Distances(w http.ResponseWriter, r *http.Request) {
	center, err := parseLatLng(chi.URLParam(r, "latlng"))
	if err != nil {
		response.Error(w, r, err)
		return
	}

	var multiplier float64
	switch chi.URLParam(r, "unit") {
	case "mi":
		multiplier = metersToMiles
	case "km":
		multiplier = metersToKm
	default:
		response.Error(w, r, apperr.Validation(MessageUnit))
		return
	}

	distances, err := c.tours.Distances(r.Context(), center, multiplier)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.List(w, "data", distances, len(distances))
}

func parseLatLng(raw string) (models.Coordinates, error) {
	latRaw, lngRaw, ok := strings.Cut(raw, ",")
	if !ok {
		return models.Coordinates{}, apperr.Validation(MessageLatLng)
	}

	lat, latErr := strconv.ParseFloat(strings.TrimSpace(latRaw), 64)
	lng, lngErr := strconv.ParseFloat(strings.TrimSpace(lngRaw), 64)
	if latErr != nil || lngErr != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return models.Coordinates{}, apperr.Validation(MessageLatLng)
	}

	return models.Coordinates{Lat: lat, Lng: lng}, nil
}

// UploadImages stores the multipart imageCover and images of a tour and
// sets them on it.
func (c *Controller) UploadImages(w http.ResponseWriter, r *http.Request) {
	id, err := storage.ParseID(chi.URLParam(r, handlerfactory.DefaultIDParam))
	if err != nil {
		response.Error(w, r, err)
		return
	}

	if _, err := c.tours.FindByID(r.Context(), id); err != nil {
		response.Error(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		response.Error(w, r, apperr.Validation(fmt.Sprintf("Invalid multipart body: %v", err)))
		return
	}

	covers := r.MultipartForm.File["imageCover"]
	gallery := r.MultipartForm.File["images"]
	if len(covers) == 0 && len(gallery) == 0 {
		response.Error(w, r, apperr.Validation(MessageNoImages))
		return
	}
	if len(covers) > 1 || len(gallery) > MaxTourImages {
		response.Error(w, r, apperr.Validation(MessageTooManyFile))
		return
	}

	set := bson.M{}
	if len(covers) == 1 {
		reference, err := c.store(r.Context(), covers[0], id.Hex(), "cover")
		if err != nil {
			response.Error(w, r, err)
			return
		}
		set["imageCover"] = reference
	}

	if len(gallery) > 0 {
		references := make([]string, 0, len(gallery))
		for i, header := range gallery {
			reference, err := c.store(r.Context(), header, id.Hex(), strconv.Itoa(i+1))
			if err != nil {
				response.Error(w, r, err)
				return
			}
			references = append(references, reference)
		}
		set["images"] = references
	}

	updated, err := c.tours.FindByIDAndUpdate(r.Context(), id, set)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, "tour", updated)
}

func (c *Controller) store(ctx context.Context, header *multipart.FileHeader, ownerID, suffix string) (string, error) {
	data, err := readPart(header)
	if err != nil {
		return "", err
	}

	upload, err := imagestore.Prepare(data, "tour", ownerID, suffix)
	if err != nil {
		return "", err
	}

	return c.images.Save(ctx, upload)
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("in internal/tours/tours.go/readPart(): error while `header.Open()` calling: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("in internal/tours/tours.go/readPart(): error while `io.ReadAll()` calling: %w", err)
	}
	return data, nil
}
