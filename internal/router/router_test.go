package router

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/patric-chuzhbe/toursapi/internal/auth"
	"github.com/patric-chuzhbe/toursapi/internal/bookings"
	"github.com/patric-chuzhbe/toursapi/internal/db/memorystorage"
	"github.com/patric-chuzhbe/toursapi/internal/mockservices"
	"github.com/patric-chuzhbe/toursapi/internal/models"
	"github.com/patric-chuzhbe/toursapi/internal/reviews"
	"github.com/patric-chuzhbe/toursapi/internal/tours"
	"github.com/patric-chuzhbe/toursapi/internal/users"
)

const testPassword = "test1234"

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Token   string `json:"token"`
	Results int    `json:"results"`
	Data    struct {
		User    map[string]interface{}   `json:"user"`
		Tour    map[string]interface{}   `json:"tour"`
		Tours   []map[string]interface{} `json:"tours"`
		Review  map[string]interface{}   `json:"review"`
		Reviews []map[string]interface{} `json:"reviews"`
	} `json:"data"`
}

type nopQueue struct{}

func (nopQueue) Enqueue(primitive.ObjectID) {}

type testServer struct {
	srv     *httptest.Server
	storage *memorystorage.MemoryStorage
	pinger  *mockservices.PingerMock
	gateway *mockservices.GatewayMock
	tokens  map[string]string
}

type initOption func(*Settings)

func withRateLimit(requests int) initOption {
	return func(settings *Settings) {
		settings.RateLimitRequests = requests
	}
}

func setupTestServer(t *testing.T, optionsProto ...initOption) *testServer {
	t.Helper()

	server, err := newTestServer(optionsProto...)
	require.NoError(t, err)
	t.Cleanup(server.srv.Close)

	for _, spec := range []struct{ key, role string }{
		{"user", models.RoleUser},
		{"guide", models.RoleGuide},
		{"admin", models.RoleAdmin},
	} {
		server.tokens[spec.key], err = server.addUser(spec.key, spec.role)
		require.NoError(t, err)
	}

	return server
}

func newTestServer(optionsProto ...initOption) (*testServer, error) {
	theStorage, err := memorystorage.New()
	if err != nil {
		return nil, err
	}

	settings := Settings{
		CORSAllowedOrigins: []string{"https://front.example.com"},
		RateLimitRequests:  1000,
		RateLimitWindow:    time.Hour,
		BodyLimitBytes:     10 << 10,
	}
	for _, protoOption := range optionsProto {
		protoOption(&settings)
	}

	mailer := &mockservices.MailerMock{}
	mailer.On("SendWelcome", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	pinger := &mockservices.PingerMock{}
	gateway := &mockservices.GatewayMock{}
	images := &mockservices.ImageStoreMock{}

	tokens := auth.NewTokenService([]byte("the-test-secret-of-at-least-32-chars"), time.Hour)
	theAuth := auth.New(theStorage.Users, tokens, mailer, auth.Settings{
		CookieName:      "jwt",
		CookieExpiresIn: time.Hour,
		BcryptCost:      bcrypt.MinCost,
		ResetTTL:        10 * time.Minute,
	})

	handler := New(Dependencies{
		Auth:     theAuth,
		Tours:    tours.New(theStorage.Tours, theStorage.Reviews, theStorage.Users, images),
		Users:    users.New(theStorage.Users, images),
		Reviews:  reviews.New(theStorage.Reviews, theStorage.Tours, theStorage.Users, nopQueue{}),
		Bookings: bookings.New(theStorage.Bookings, theStorage.Tours, theStorage.Users, gateway, bookings.Settings{}),
		Pinger:   pinger,
	}, settings)

	return &testServer{
		srv:     httptest.NewServer(handler),
		storage: theStorage,
		pinger:  pinger,
		gateway: gateway,
		tokens:  map[string]string{},
	}, nil
}

func (s *testServer) addUser(key, role string) (string, error) {
	hash, err := auth.HashPassword(testPassword, bcrypt.MinCost)
	if err != nil {
		return "", err
	}

	usr := &models.User{Name: strings.ToUpper(key[:1]) + key[1:], Email: key + "@example.com", Role: role, Password: hash}
	usr.SetDefaults(time.Now())
	if _, err := s.storage.Users.Create(context.Background(), usr); err != nil {
		return "", err
	}

	var body envelope
	resp, err := s.client().
		SetBody(map[string]string{"email": key + "@example.com", "password": testPassword}).
		SetResult(&body).
		Post("/api/v1/users/login")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", errors.New(resp.String())
	}
	return body.Token, nil
}

func (s *testServer) client() *resty.Request {
	return resty.New().SetBaseURL(s.srv.URL).R()
}

func (s *testServer) as(key string) *resty.Request {
	return s.client().SetAuthToken(s.tokens[key])
}

func (s *testServer) createTour(t *testing.T, name string, price float64) string {
	t.Helper()

	var body envelope
	resp, err := s.as("admin").
		SetBody(map[string]interface{}{
			"name":         name,
			"duration":     5,
			"maxGroupSize": 25,
			"difficulty":   "easy",
			"price":        price,
			"summary":      "Breathtaking hike through the Canadian Banff National Park",
			"imageCover":   "tour-1-cover.jpg",
		}).
		SetResult(&body).
		Post("/api/v1/tours")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())
	return body.Data.Tour["_id"].(string)
}

func TestGetPing(t *testing.T) {
	s := setupTestServer(t)

	s.pinger.On("Ping", mock.Anything).Return(nil).Once()
	resp, err := s.client().Get("/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	s.pinger.On("Ping", mock.Anything).Return(errors.New("connection refused")).Once()
	var body envelope
	resp, err = s.client().SetError(&body).Get("/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())
	assert.Equal(t, MessageStorageDown, body.Message)

	s.pinger.AssertExpectations(t)
}

func TestNotFound(t *testing.T) {
	s := setupTestServer(t)

	type tTestCase struct {
		name   string
		method string
		path   string
	}
	testCases := []tTestCase{
		{name: "unknown resource", method: http.MethodGet, path: "/api/v1/planets?x=1"},
		{name: "unknown root", method: http.MethodGet, path: "/overview"},
		{name: "unknown method", method: http.MethodPut, path: "/api/v1/tours"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var body envelope
			resp, err := s.client().SetError(&body).Execute(tc.method, tc.path)
			require.NoError(t, err)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode())
			assert.Equal(t, "fail", body.Status)
			assert.Equal(t, "Can't find "+tc.path+" on this server!", body.Message)
		})
	}
}

func TestTourAccess(t *testing.T) {
	s := setupTestServer(t)

	type tTestCase struct {
		name       string
		who        string
		wantStatus int
	}
	testCases := []tTestCase{
		{name: "anonymous", who: "", wantStatus: http.StatusUnauthorized},
		{name: "regular user", who: "user", wantStatus: http.StatusForbidden},
		{name: "guide", who: "guide", wantStatus: http.StatusForbidden},
		{name: "admin", who: "admin", wantStatus: http.StatusCreated},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			request := s.client()
			if tc.who != "" {
				request = s.as(tc.who)
			}
			resp, err := request.
				SetBody(map[string]interface{}{
					"name": "The Sea Explorer " + tc.name, "duration": 7, "maxGroupSize": 15, "difficulty": "medium",
					"price": 497, "summary": "Exploring the jaw-dropping US east coast", "imageCover": "tour-2-cover.jpg",
				}).
				Post("/api/v1/tours")
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, resp.StatusCode(), resp.String())
		})
	}

	var body envelope
	resp, err := s.client().SetResult(&body).Get("/api/v1/tours")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, 1, body.Results)

	resp, err = s.client().Get("/api/v1/tours/monthly-plan/2021")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())

	resp, err = s.as("guide").Get("/api/v1/tours/monthly-plan/2021")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	resp, err = s.as("user").Get("/api/v1/tours/monthly-plan/2021")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode())

	resp, err = s.client().Get("/api/v1/tours/top-5-cheap")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
}

func TestNestedReviews(t *testing.T) {
	s := setupTestServer(t)
	tourID := s.createTour(t, "The Forest Hiker", 397)

	var body envelope
	resp, err := s.as("user").
		SetBody(map[string]interface{}{"review": "Loved it", "rating": 5}).
		SetResult(&body).
		Post("/api/v1/tours/" + tourID + "/reviews")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())
	assert.Equal(t, tourID, body.Data.Review["tour"])
	reviewID := body.Data.Review["_id"].(string)

	resp, err = s.as("admin").
		SetBody(map[string]interface{}{"review": "Admins do not review", "rating": 1}).
		Post("/api/v1/tours/" + tourID + "/reviews")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode())

	resp, err = s.client().Get("/api/v1/tours/" + tourID + "/reviews")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())

	resp, err = s.as("guide").SetResult(&body).Get("/api/v1/tours/" + tourID + "/reviews")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, 1, body.Results)

	resp, err = s.as("guide").SetBody(map[string]interface{}{"rating": 1}).Patch("/api/v1/reviews/" + reviewID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode())

	resp, err = s.as("admin").Delete("/api/v1/reviews/" + reviewID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode())

	resp, err = s.client().SetResult(&body).Get("/api/v1/tours/" + tourID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "the-forest-hiker", body.Data.Tour["slug"])
}

func TestUserRoutes(t *testing.T) {
	s := setupTestServer(t)

	var body envelope
	resp, err := s.as("user").SetResult(&body).Get("/api/v1/users/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "user@example.com", body.Data.User["email"])

	resp, err = s.as("user").SetBody(map[string]string{"password": "x"}).SetError(&body).Patch("/api/v1/users/updateMe")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.Equal(t, users.MessageNotForPasswords, body.Message)

	resp, err = s.as("user").Get("/api/v1/users")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode())

	resp, err = s.as("admin").SetResult(&body).Get("/api/v1/users")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, 3, body.Results)

	resp, err = s.as("guide").Delete("/api/v1/users/deleteMe")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode())

	resp, err = s.as("guide").SetError(&body).Get("/api/v1/users/me")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())
	assert.Equal(t, auth.MessageUserGone, body.Message)
}

func TestWebhookIsPublic(t *testing.T) {
	s := setupTestServer(t)

	s.gateway.On("ParseCompletedCheckout", mock.Anything, "t=1,v1=sig").Return(nil, false, nil).Once()

	resp, err := s.client().
		SetHeader("Stripe-Signature", "t=1,v1=sig").
		SetHeader("Content-Type", "application/json").
		SetBody(`{"type":"payment_intent.created"}`).
		Post("/api/v1/bookings/webhook-checkout")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	resp, err = s.client().Get("/api/v1/bookings/my")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())

	resp, err = s.as("user").Get("/api/v1/bookings")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode())

	s.gateway.AssertExpectations(t)
}

func TestRateLimit(t *testing.T) {
	s := setupTestServer(t, withRateLimit(5))

	// The three logins of the setup are counted already.
	for i := 0; i < 2; i++ {
		resp, err := s.client().Get("/api/v1/tours")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode())
	}

	var body envelope
	resp, err := s.client().SetError(&body).Get("/api/v1/tours")
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode())
	assert.Equal(t, MessageTooManyRequests, body.Message)

	s.pinger.On("Ping", mock.Anything).Return(nil)
	resp, err = s.client().Get("/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
}

func TestBodyLimit(t *testing.T) {
	s := setupTestServer(t)

	resp, err := s.as("admin").
		SetBody(map[string]interface{}{"name": "Big", "description": strings.Repeat("x", 11<<10)}).
		Post("/api/v1/tours")
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode())
}

func TestGzipAndCORS(t *testing.T) {
	s := setupTestServer(t)
	s.createTour(t, "The Snow Adventurer", 997)

	request, err := http.NewRequest(http.MethodGet, s.srv.URL+"/api/v1/tours", nil)
	require.NoError(t, err)
	request.Header.Set("Accept-Encoding", "gzip")
	request.Header.Set("Origin", "https://front.example.com")

	resp, err := http.DefaultTransport.RoundTrip(request)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
	assert.Equal(t, "https://front.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	zr, err := gzip.NewReader(resp.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "The Snow Adventurer")

	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	_, err = zw.Write([]byte(`{"email":"user@example.com","password":"` + testPassword + `"}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	loginResp, err := s.client().
		SetHeader("Content-Encoding", "gzip").
		SetHeader("Content-Type", "application/json").
		SetBody(compressed.Bytes()).
		Post("/api/v1/users/login")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, loginResp.StatusCode())
}
