// Package router assembles the HTTP surface of the API: the global
// middleware chain and the /api/v1 routes of every resource.
package router

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/patric-chuzhbe/toursapi/internal/apperr"
	"github.com/patric-chuzhbe/toursapi/internal/auth"
	"github.com/patric-chuzhbe/toursapi/internal/bookings"
	"github.com/patric-chuzhbe/toursapi/internal/gzippedhttp"
	"github.com/patric-chuzhbe/toursapi/internal/logger"
	"github.com/patric-chuzhbe/toursapi/internal/models"
	"github.com/patric-chuzhbe/toursapi/internal/response"
	"github.com/patric-chuzhbe/toursapi/internal/reviews"
	"github.com/patric-chuzhbe/toursapi/internal/tours"
	"github.com/patric-chuzhbe/toursapi/internal/users"
)

// APIPrefix is the mount point of the resources.
const APIPrefix = "/api/v1"

// Messages of the router itself.
const (
	MessageTooManyRequests = "Too many requests from this IP, please try again in an hour!"
	MessageStorageDown     = "Storage is unavailable"
)

// WebhookBodyLimit bounds the payment provider events, which exceed the
// default JSON body limit.
const WebhookBodyLimit = 1 << 20

type pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the handlers the router dispatches to.
type Dependencies struct {
	Auth     *auth.Auth
	Tours    *tours.Controller
	Users    *users.Controller
	Reviews  *reviews.Controller
	Bookings *bookings.Controller
	Pinger   pinger
}

// Settings tune the global middleware.
type Settings struct {
	ServiceName        string
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	BodyLimitBytes     int64
}

// Router holds the dependencies shared by the routes.
type Router struct {
	deps     Dependencies
	settings Settings
}

// New returns the root handler of the service.
func New(deps Dependencies, settings Settings) http.Handler {
	rt := &Router{deps: deps, settings: settings}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(logger.WithLoggingHTTPMiddleware)
	router.Use(response.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   settings.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Encoding", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Use(gzippedhttp.GzipResponse)
	router.Use(gzippedhttp.UngzipRequest)
	router.Use(rt.bodyLimit)

	router.NotFound(rt.NotFound)
	router.MethodNotAllowed(rt.NotFound)

	router.Get(`/ping`, rt.GetPing)

	router.Route(APIPrefix, func(r chi.Router) {
		r.Use(httprate.Limit(
			settings.RateLimitRequests,
			settings.RateLimitWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				response.Error(w, r, apperr.Operational(http.StatusTooManyRequests, MessageTooManyRequests))
			}),
		))

		r.Route(`/tours`, rt.tourRoutes)
		r.Route(`/users`, rt.userRoutes)
		r.Route(`/reviews`, rt.reviewRoutes)
		r.Route(`/bookings`, rt.bookingRoutes)
	})

	serviceName := settings.ServiceName
	if serviceName == "" {
		serviceName = "toursapi"
	}
	return otelhttp.NewHandler(router, serviceName)
}

func (rt *Router) tourRoutes(r chi.Router) {
	controller := rt.deps.Tours
	protect := rt.deps.Auth.Protect
	staff := auth.RestrictTo(models.RoleAdmin, models.RoleLeadGuide)

	r.Route(`/{`+reviews.TourIDParam+`}/reviews`, rt.reviewRoutes)

	r.With(tours.AliasTopTours).Get(`/top-5-cheap`, controller.GetAll)
	r.Get(`/tour-stats`, controller.Stats)
	r.With(protect, auth.RestrictTo(models.RoleAdmin, models.RoleLeadGuide, models.RoleGuide)).
		Get(`/monthly-plan/{year}`, controller.MonthlyPlan)
	r.Get(`/tours-within/{distance}/center/{latlng}/unit/{unit}`, controller.Within)
	r.Get(`/distances/{latlng}/unit/{unit}`, controller.Distances)

	r.Get(`/`, controller.GetAll)
	r.With(protect, staff).Post(`/`, controller.CreateOne)
	r.Get(`/{id}`, controller.GetOne)
	r.With(protect, staff).Patch(`/{id}`, controller.UpdateOne)
	r.With(protect, staff).Patch(`/{id}/images`, controller.UploadImages)
	r.With(protect, staff).Delete(`/{id}`, controller.DeleteOne)
}

func (rt *Router) userRoutes(r chi.Router) {
	authentication := rt.deps.Auth
	controller := rt.deps.Users

	r.Post(`/signup`, authentication.HandleSignup)
	r.Post(`/login`, authentication.HandleLogin)
	r.Get(`/logout`, authentication.HandleLogout)
	r.Post(`/forgotPassword`, authentication.HandleForgotPassword)
	r.Patch(`/resetPassword/{token}`, authentication.HandleResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(authentication.Protect)

		r.Patch(`/updateMyPassword`, authentication.HandleUpdatePassword)
		r.With(users.Me).Get(`/me`, controller.GetOne)
		r.Patch(`/updateMe`, controller.UpdateMe)
		r.Delete(`/deleteMe`, controller.DeleteMe)

		r.Group(func(r chi.Router) {
			r.Use(auth.RestrictTo(models.RoleAdmin))

			r.Get(`/`, controller.GetAll)
			r.Post(`/`, controller.CreateUser)
			r.Get(`/{id}`, controller.GetOne)
			r.Patch(`/{id}`, controller.UpdateOne)
			r.Delete(`/{id}`, controller.DeleteOne)
		})
	})
}

func (rt *Router) reviewRoutes(r chi.Router) {
	controller := rt.deps.Reviews
	owners := auth.RestrictTo(models.RoleUser, models.RoleAdmin)

	r.Use(rt.deps.Auth.Protect)

	r.Get(`/`, controller.GetAll)
	r.With(auth.RestrictTo(models.RoleUser)).Post(`/`, controller.CreateOne)
	r.Get(`/{id}`, controller.GetOne)
	r.With(owners, controller.RequireAuthor).Patch(`/{id}`, controller.UpdateOne)
	r.With(owners, controller.RequireAuthor).Delete(`/{id}`, controller.DeleteOne)
}

func (rt *Router) bookingRoutes(r chi.Router) {
	controller := rt.deps.Bookings

	r.Post(`/webhook-checkout`, controller.Webhook)

	r.Group(func(r chi.Router) {
		r.Use(rt.deps.Auth.Protect)

		r.Post(`/checkout-session/{`+bookings.TourIDParam+`}`, controller.CheckoutSession)
		r.Get(`/my`, controller.My)

		r.Group(func(r chi.Router) {
			r.Use(auth.RestrictTo(models.RoleAdmin, models.RoleLeadGuide))

			r.Get(`/`, controller.GetAll)
			r.Post(`/`, controller.CreateOne)
			r.Get(`/{id}`, controller.GetOne)
			r.Patch(`/{id}`, controller.UpdateOne)
			r.Delete(`/{id}`, controller.DeleteOne)
		})
	})
}

// GetPing reports whether the storage answers.
func (rt *Router) GetPing(w http.ResponseWriter, r *http.Request) {
	if err := rt.deps.Pinger.Ping(r.Context()); err != nil {
		logger.Log.Errorw("storage ping failed", "err", err)
		response.Error(w, r, apperr.Operational(http.StatusInternalServerError, MessageStorageDown))
		return
	}

	response.JSON(w, http.StatusOK, response.Envelope{Status: "success"})
}

// NotFound answers every route the API does not define.
func (rt *Router) NotFound(w http.ResponseWriter, r *http.Request) {
	response.Error(w, r, apperr.NotFound(fmt.Sprintf("Can't find %s on this server!", r.URL.RequestURI())))
}

// bodyLimit caps request bodies. Multipart uploads and the payment webhook
// get their own, larger limits.
func (rt *Router) bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limit := rt.limitFor(r); limit > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

func (rt *Router) limitFor(r *http.Request) int64 {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "multipart/form-data":
		return tours.MaxUploadBytes
	case strings.HasSuffix(r.URL.Path, "/bookings/webhook-checkout"):
		return WebhookBodyLimit
	}
	return rt.settings.BodyLimitBytes
}
