// Package users serves the account resource: the self service endpoints of
// the signed in user and the administrative CRUD.
package users

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/thoas/go-funk"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/patric-chuzhbe/toursapi/internal/apperr"
	"github.com/patric-chuzhbe/toursapi/internal/auth"
	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
	"github.com/patric-chuzhbe/toursapi/internal/handlerfactory"
	"github.com/patric-chuzhbe/toursapi/internal/imagestore"
	"github.com/patric-chuzhbe/toursapi/internal/models"
	"github.com/patric-chuzhbe/toursapi/internal/response"
)

// MaxPhotoBytes bounds the multipart body of UpdateMe.
const MaxPhotoBytes = 10 << 20

// Messages of the user endpoints.
const (
	MessageNotForPasswords = "This route is not for password updates. Please use /updateMyPassword."
	MessageUseSignup       = "This route is not defined! Please use /signup instead"
)

// selfServicePaths are the fields a user may change on their own account.
var selfServicePaths = []string{"name", "email", "photo"}

var passwordKeys = []string{"password", "passwordConfirm"}

type imageSaver interface {
	Save(ctx context.Context, upload imagestore.Upload) (string, error)
}

// Controller holds the user handlers.
type Controller struct {
	*handlerfactory.Factory[models.User]

	users    storage.Repository[models.User]
	images   imageSaver
	validate *validator.Validate
}

// New returns the user handlers.
func New(users storage.Repository[models.User], images imageSaver) *Controller {
	c := &Controller{
		users:    users,
		images:   images,
		validate: models.NewValidator(),
	}

	c.Factory = handlerfactory.New[models.User](users, handlerfactory.Options[models.User]{
		Singular: "user",
		Plural:   "users",
		Validate: c.validate,
		BeforeUpdate: func(r *http.Request, usr *models.User, paths []string) ([]string, error) {
			usr.Email = strings.ToLower(strings.TrimSpace(usr.Email))
			return paths, nil
		},
	})

	return c
}

// CreateUser points administrators to the signup route.
func (c *Controller) CreateUser(w http.ResponseWriter, r *http.Request) {
	response.Error(w, r, apperr.Operational(http.StatusInternalServerError, MessageUseSignup))
}

// Me routes the request to the account of the signed in user.
func Me(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		usr, ok := auth.CurrentUser(r.Context())
		if !ok {
			response.Error(w, r, apperr.Unauthorized(auth.MessageNotLoggedIn))
			return
		}

		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			rctx.URLParams.Add(handlerfactory.DefaultIDParam, usr.ID.Hex())
		}
		next.ServeHTTP(w, r)
	})
}

// UpdateMe changes the name, email and photo of the signed in user. The
// body is JSON or multipart with an optional photo file.
func (c *Controller) UpdateMe(w http.ResponseWriter, r *http.Request) {
	usr, ok := auth.CurrentUser(r.Context())
	if !ok {
		response.Error(w, r, apperr.Unauthorized(auth.MessageNotLoggedIn))
		return
	}

	fields, photo, err := c.readUpdate(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	current, err := c.users.FindByID(r.Context(), usr.ID)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	paths := []string{}
	if name, ok := fields["name"]; ok {
		current.Name = name
		paths = append(paths, "name")
	}
	if email, ok := fields["email"]; ok {
		current.Email = strings.ToLower(strings.TrimSpace(email))
		paths = append(paths, "email")
	}

	if photo != nil {
		upload, err := imagestore.Prepare(photo, "user", usr.ID.Hex(), "")
		if err != nil {
			response.Error(w, r, err)
			return
		}
		reference, err := c.images.Save(r.Context(), upload)
		if err != nil {
			response.Error(w, r, err)
			return
		}
		current.Photo = reference
		paths = append(paths, "photo")
	}

	if err := c.validate.Struct(current); err != nil {
		response.Error(w, r, err)
		return
	}

	set, err := handlerfactory.SetFor(current, funk.IntersectString(paths, selfServicePaths))
	if err != nil {
		response.Error(w, r, err)
		return
	}

	updated, err := c.users.FindByIDAndUpdate(r.Context(), usr.ID, set)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, "user", updated)
}

// readUpdate returns the string fields and the photo of an UpdateMe body.
// Password fields are rejected before anything is stored.
func (c *Controller) readUpdate(r *http.Request) (map[string]string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return readMultipart(r)
	}

	body, err := response.ReadBody(r)
	if err != nil {
		return nil, nil, err
	}
	raw := map[string]json.RawMessage{}
	if err := response.UnmarshalBody(body, &raw); err != nil {
		return nil, nil, err
	}

	for _, key := range passwordKeys {
		if _, ok := raw[key]; ok {
			return nil, nil, apperr.Validation(MessageNotForPasswords)
		}
	}

	fields := map[string]string{}
	for _, key := range []string{"name", "email"} {
		value, ok := raw[key]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(value, &text); err != nil {
			return nil, nil, apperr.Validation(fmt.Sprintf("Invalid %s: %s", key, value))
		}
		fields[key] = text
	}

	return fields, nil, nil
}

func readMultipart(r *http.Request) (map[string]string, []byte, error) {
	if err := r.ParseMultipartForm(MaxPhotoBytes); err != nil {
		return nil, nil, apperr.Validation(fmt.Sprintf("Invalid multipart body: %v", err))
	}

	for _, key := range passwordKeys {
		if _, ok := r.MultipartForm.Value[key]; ok {
			return nil, nil, apperr.Validation(MessageNotForPasswords)
		}
	}

	fields := map[string]string{}
	for _, key := range []string{"name", "email"} {
		if values := r.MultipartForm.Value[key]; len(values) > 0 {
			fields[key] = values[0]
		}
	}

	headers := r.MultipartForm.File["photo"]
	if len(headers) == 0 {
		return fields, nil, nil
	}

	file, err := headers[0].Open()
	if err != nil {
		return nil, nil, fmt.Errorf("in internal/users/users.go/readMultipart(): error while `headers[0].Open()` calling: %w", err)
	}
	defer file.Close()

	photo, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, fmt.Errorf("in internal/users/users.go/readMultipart(): error while `io.ReadAll()` calling: %w", err)
	}

	return fields, photo, nil
}

// DeleteMe deactivates the account of the signed in user.
func (c *Controller) DeleteMe(w http.ResponseWriter, r *http.Request) {
	usr, ok := auth.CurrentUser(r.Context())
	if !ok {
		response.Error(w, r, apperr.Unauthorized(auth.MessageNotLoggedIn))
		return
	}

	if _, err := c.users.FindByIDAndUpdate(r.Context(), usr.ID, bson.M{"active": false}); err != nil {
		response.Error(w, r, err)
		return
	}

	response.NoContent(w)
}
