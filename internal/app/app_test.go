package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/toursapi/internal/config"
	"github.com/patric-chuzhbe/toursapi/internal/db/memorystorage"
	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
	"github.com/patric-chuzhbe/toursapi/internal/ratings"
)

type mockBackend struct {
	mock.Mock
	repos storage.Repositories
}

func (m *mockBackend) Repositories() storage.Repositories {
	return m.repos
}

func (m *mockBackend) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockBackend) Close() error {
	return m.Called().Error(0)
}

func newTestApp(t *testing.T, runAddr string) (*App, *mockBackend, *bool) {
	t.Helper()

	theStorage, err := memorystorage.New()
	require.NoError(t, err)

	db := &mockBackend{repos: theStorage.Repositories()}
	db.On("Close").Return(nil).Once()

	recalculator := ratings.New(theStorage.Reviews, theStorage.Tours, 10, 10*time.Millisecond)
	ratingsCtx, stopRatings := context.WithCancel(context.Background())
	go recalculator.Run(ratingsCtx)

	telemetryFlushed := false
	app := &App{
		cfg: &config.Config{
			RunAddr:         runAddr,
			AppEnv:          config.EnvDevelopment,
			ShutdownTimeout: time.Second,
		},
		db:          db,
		ratings:     recalculator,
		stopRatings: stopRatings,
		shutdownTelemetry: func(context.Context) error {
			telemetryFlushed = true
			return nil
		},
		httpHandler: http.NotFoundHandler(),
	}

	return app, db, &telemetryFlushed
}

func TestServeReleasesResources(t *testing.T) {
	type tTestCase struct {
		name    string
		runAddr string
		cancel  bool
		wantErr bool
	}
	testCases := []tTestCase{
		{
			name:    "the listener fails",
			runAddr: "127.0.0.1:-1",
			wantErr: true,
		},
		{
			name:    "a shutdown signal arrives",
			runAddr: "127.0.0.1:0",
			cancel:  true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			app, db, telemetryFlushed := newTestApp(t, tc.runAddr)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tc.cancel {
				cancel()
			}

			err := app.serve(ctx)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			db.AssertExpectations(t)
			assert.True(t, *telemetryFlushed)
			select {
			case <-app.ratings.Done():
			default:
				t.Fatal("ratings recalculator is still running")
			}
		})
	}
}
