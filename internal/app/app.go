// Package app initializes and runs the tours API service.
// It configures logging, storage, the domain services and routing,
// and handles graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/patric-chuzhbe/toursapi/internal/auth"
	"github.com/patric-chuzhbe/toursapi/internal/bookings"
	"github.com/patric-chuzhbe/toursapi/internal/config"
	"github.com/patric-chuzhbe/toursapi/internal/db/memorystorage"
	"github.com/patric-chuzhbe/toursapi/internal/db/mongodb"
	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
	"github.com/patric-chuzhbe/toursapi/internal/imagestore"
	"github.com/patric-chuzhbe/toursapi/internal/logger"
	"github.com/patric-chuzhbe/toursapi/internal/mailer"
	"github.com/patric-chuzhbe/toursapi/internal/payment"
	"github.com/patric-chuzhbe/toursapi/internal/ratings"
	"github.com/patric-chuzhbe/toursapi/internal/response"
	"github.com/patric-chuzhbe/toursapi/internal/reviews"
	"github.com/patric-chuzhbe/toursapi/internal/router"
	"github.com/patric-chuzhbe/toursapi/internal/telemetry"
	"github.com/patric-chuzhbe/toursapi/internal/tours"
	"github.com/patric-chuzhbe/toursapi/internal/users"
)

// ServiceName identifies the service in traces and logs.
const ServiceName = "toursapi"

type backend interface {
	Repositories() storage.Repositories
	Ping(ctx context.Context) error
	Close() error
}

// App encapsulates the configuration, HTTP handler, storage backend
// and background services needed to run the tours API.
type App struct {
	cfg               *config.Config
	db                backend
	ratings           *ratings.Recalculator
	stopRatings       context.CancelFunc
	shutdownTelemetry telemetry.ShutdownFunc
	httpHandler       http.Handler
}

// New initializes a new instance of App by:
// - loading configuration
// - initializing logger and tracing
// - selecting and setting up storage
// - starting the ratings recalculator
// - setting up the controllers and router
func New() (*App, error) {
	var err error
	app := &App{}

	app.cfg, err = config.New()
	if err != nil {
		return nil, err
	}

	err = logger.Init(app.cfg.LogLevel, app.cfg.IsProduction())
	if err != nil {
		return nil, err
	}
	response.SetProduction(app.cfg.IsProduction())

	app.shutdownTelemetry = telemetry.Setup(
		context.Background(),
		ServiceName,
		app.cfg.OTLPEndpoint,
		app.cfg.OTLPInsecure,
	)

	app.db, err = getStorage(app.cfg)
	if err != nil {
		return nil, err
	}
	repos := app.db.Repositories()

	images, err := imagestore.New(context.Background(), imagestore.Settings{
		Kind:                app.cfg.ImageStorage,
		UploadDir:           app.cfg.UploadDir,
		PublicBaseURL:       app.cfg.PublicBaseURL,
		S3Bucket:            app.cfg.S3Bucket,
		S3Region:            app.cfg.S3Region,
		S3Endpoint:          app.cfg.S3Endpoint,
		S3AccessKey:         app.cfg.S3AccessKey,
		S3SecretKey:         app.cfg.S3SecretKey,
		CloudinaryCloudName: app.cfg.CloudinaryCloudName,
		CloudinaryAPIKey:    app.cfg.CloudinaryAPIKey,
		CloudinaryAPISecret: app.cfg.CloudinaryAPISecret,
	})
	if err != nil {
		return nil, fmt.Errorf("in internal/app/app.go/New(): error while `imagestore.New()` calling: %w", err)
	}

	theMailer, err := getMailer(app.cfg)
	if err != nil {
		return nil, err
	}

	app.ratings = ratings.New(
		repos.Reviews,
		repos.Tours,
		app.cfg.RatingsQueueCapacity,
		app.cfg.RatingsFlushInterval,
	)
	ratingsRunCtx, stopRatings := context.WithCancel(context.Background())
	app.stopRatings = stopRatings

	go app.ratings.Run(ratingsRunCtx)
	app.ratings.ListenErrors(func(err error) {
		logger.Log.Errorw("ratings recalculation failed", "err", err)
	})

	app.httpHandler = router.New(
		router.Dependencies{
			Auth: auth.New(
				repos.Users,
				auth.NewTokenService([]byte(app.cfg.JWTSecret), app.cfg.JWTExpiresIn),
				theMailer,
				auth.Settings{
					CookieName:      app.cfg.AuthCookieName,
					CookieExpiresIn: app.cfg.JWTCookieExpiresIn,
					BcryptCost:      app.cfg.BcryptCost,
					ResetTTL:        app.cfg.PasswordResetTTL,
					PublicBaseURL:   app.cfg.PublicBaseURL,
				},
			),
			Tours:   tours.New(repos.Tours, repos.Reviews, repos.Users, images),
			Users:   users.New(repos.Users, images),
			Reviews: reviews.New(repos.Reviews, repos.Tours, repos.Users, app.ratings),
			Bookings: bookings.New(
				repos.Bookings,
				repos.Tours,
				repos.Users,
				payment.NewStripe(app.cfg.StripeSecretKey, app.cfg.StripeWebhookSecret, app.cfg.PaymentCurrency),
				bookings.Settings{
					FrontendURL:   app.cfg.FrontendURL,
					PublicBaseURL: app.cfg.PublicBaseURL,
				},
			),
			Pinger: app.db,
		},
		router.Settings{
			ServiceName:        ServiceName,
			CORSAllowedOrigins: app.cfg.CORSAllowedOrigins,
			RateLimitRequests:  app.cfg.RateLimitRequests,
			RateLimitWindow:    app.cfg.RateLimitWindow,
			BodyLimitBytes:     app.cfg.BodyLimitBytes,
		},
	)

	return app, nil
}

// Run starts the HTTP server with graceful shutdown support.
// It listens for system signals and cleans up resources upon termination.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.serve(ctx)
}

func (a *App) serve(ctx context.Context) error {
	logger.Log.Infow("server running", "RunAddr", a.cfg.RunAddr, "env", a.cfg.AppEnv)

	server := &http.Server{
		Addr:    a.cfg.RunAddr,
		Handler: a.httpHandler,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Log.Infoln("Received shutdown signal. Draining requests and exiting...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			runErr = fmt.Errorf("server shutdown error: %w", err)
		}

	case err := <-serverErrCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	return errors.Join(runErr, a.releaseResources())
}

// releaseResources stops the ratings recalculator, flushes telemetry and
// closes the storage backend.
func (a *App) releaseResources() error {
	a.stopRatings()
	<-a.ratings.Done()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.shutdownTelemetry(ctx); err != nil {
		logger.Log.Errorw("telemetry shutdown error", "err", err)
	}

	if err := a.db.Close(); err != nil {
		return fmt.Errorf("in internal/app/app.go/releaseResources(): error while `a.db.Close()` calling: %w", err)
	}
	return nil
}

// Close finalizes resources used by App such as logging.
func (a *App) Close() {
	if err := logger.Sync(); err != nil {
		fmt.Println("Logger sync error:", err)
	}
}

func getStorage(cfg *config.Config) (backend, error) {
	if cfg.DatabaseURI == "" {
		logger.Log.Warnln("no database configured, data is kept in memory")
		return memorystorage.New()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBConnectionTimeout)
	defer cancel()

	return mongodb.New(ctx, cfg.DatabaseURI, cfg.DatabaseName, cfg.DBConnectionTimeout)
}

func getMailer(cfg *config.Config) (*mailer.Mailer, error) {
	if cfg.EmailHost == "" {
		return mailer.New(mailer.LogSender{}), nil
	}

	sender, err := mailer.NewSMTPSender(mailer.SMTPSettings{
		Host:     cfg.EmailHost,
		Port:     cfg.EmailPort,
		Username: cfg.EmailUsername,
		Password: cfg.EmailPassword,
		From:     cfg.EmailFrom,
	})
	if err != nil {
		return nil, err
	}

	return mailer.New(sender), nil
}
