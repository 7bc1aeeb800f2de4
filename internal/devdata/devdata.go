// Package devdata loads the JSON fixtures of a development database and
// imports them into, or deletes them from, a storage backend.
package devdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/patric-chuzhbe/toursapi/internal/auth"
	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
	"github.com/patric-chuzhbe/toursapi/internal/logger"
	"github.com/patric-chuzhbe/toursapi/internal/models"
	"github.com/patric-chuzhbe/toursapi/internal/ratings"
)

// Fixture file names.
const (
	ToursFile   = "tours.json"
	UsersFile   = "users.json"
	ReviewsFile = "reviews.json"
)

// UserFixture is a user as written in the fixtures, with a plain password.
type UserFixture struct {
	models.User
	Password string `json:"password"`
}

// Fixtures are the documents of a development database.
type Fixtures struct {
	Tours   []models.Tour
	Users   []UserFixture
	Reviews []models.Review
}

func readJSONFile(fileName string, target interface{}) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(target)
}

// Load reads the three fixture files of dir.
func Load(dir string) (*Fixtures, error) {
	fixtures := &Fixtures{}

	files := []struct {
		name   string
		target interface{}
	}{
		{ToursFile, &fixtures.Tours},
		{UsersFile, &fixtures.Users},
		{ReviewsFile, &fixtures.Reviews},
	}
	for _, file := range files {
		if err := readJSONFile(filepath.Join(dir, file.name), file.target); err != nil {
			return nil, fmt.Errorf("in internal/devdata/devdata.go/Load(): error while reading %s: %w", file.name, err)
		}
	}

	return fixtures, nil
}

// Importer writes fixtures into the repositories of a backend.
type Importer struct {
	repos      storage.Repositories
	bcryptCost int
	validate   *validator.Validate
	now        func() time.Time
}

// New returns an importer hashing passwords with bcryptCost.
func New(repos storage.Repositories, bcryptCost int) *Importer {
	return &Importer{
		repos:      repos,
		bcryptCost: bcryptCost,
		validate:   models.NewValidator(),
		now:        time.Now,
	}
}

// Import inserts the tours, users and reviews, then recalculates the rating
// aggregates of every reviewed tour.
func (imp *Importer) Import(ctx context.Context, fixtures *Fixtures) error {
	now := imp.now()

	for i := range fixtures.Tours {
		tour := fixtures.Tours[i]
		tour.NormalizeGeometry()
		tour.Slug = slug.Make(tour.Name)
		tour.SetDefaults(now)
		if err := imp.validate.Struct(&tour); err != nil {
			return fmt.Errorf("in internal/devdata/devdata.go/Import(): tour %q is invalid: %w", tour.Name, err)
		}
		if _, err := imp.repos.Tours.Create(ctx, &tour); err != nil {
			return fmt.Errorf("in internal/devdata/devdata.go/Import(): error while `imp.repos.Tours.Create()` calling: %w", err)
		}
	}

	for _, fixture := range fixtures.Users {
		usr := fixture.User
		hash, err := auth.HashPassword(fixture.Password, imp.bcryptCost)
		if err != nil {
			return err
		}
		usr.Password = hash
		usr.SetDefaults(now)
		if _, err := imp.repos.Users.Create(ctx, &usr); err != nil {
			return fmt.Errorf("in internal/devdata/devdata.go/Import(): error while `imp.repos.Users.Create()` calling: %w", err)
		}
	}

	var reviewed []primitive.ObjectID
	for i := range fixtures.Reviews {
		review := fixtures.Reviews[i]
		review.SetDefaults(now)
		if _, err := imp.repos.Reviews.Create(ctx, &review); err != nil {
			return fmt.Errorf("in internal/devdata/devdata.go/Import(): error while `imp.repos.Reviews.Create()` calling: %w", err)
		}
		reviewed = append(reviewed, review.Tour)
	}

	if len(reviewed) > 0 {
		recalculator := ratings.New(imp.repos.Reviews, imp.repos.Tours, 1, time.Second)
		if err := recalculator.Recalculate(ctx, reviewed); err != nil {
			return err
		}
	}

	logger.Log.Infow("data successfully loaded",
		"tours", len(fixtures.Tours),
		"users", len(fixtures.Users),
		"reviews", len(fixtures.Reviews),
	)
	return nil
}

// Delete removes every document of the four collections.
func (imp *Importer) Delete(ctx context.Context) error {
	collections := []struct {
		name   string
		delete func(ctx context.Context, filter bson.M) (int64, error)
	}{
		{"tours", imp.repos.Tours.DeleteMany},
		{"reviews", imp.repos.Reviews.DeleteMany},
		{"users", imp.repos.Users.DeleteMany},
		{"bookings", imp.repos.Bookings.DeleteMany},
	}

	for _, collection := range collections {
		removed, err := collection.delete(ctx, bson.M{})
		if err != nil {
			return fmt.Errorf("in internal/devdata/devdata.go/Delete(): error while deleting %s: %w", collection.name, err)
		}
		logger.Log.Infow("data successfully deleted", "collection", collection.name, "count", removed)
	}
	return nil
}
