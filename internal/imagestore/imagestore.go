// Package imagestore keeps uploaded tour and user images. The backend is
// chosen at startup: the local filesystem, an S3 compatible bucket or
// Cloudinary.
package imagestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/patric-chuzhbe/toursapi/internal/apperr"
)

// Storage kinds.
const (
	KindLocal      = "local"
	KindS3         = "s3"
	KindCloudinary = "cloudinary"
)

// MessageNotAnImage rejects uploads whose content is not an image.
const MessageNotAnImage = "Not an image! Please upload only images."

// Upload is an image ready to be stored.
type Upload struct {
	Key         string
	Data        []byte
	ContentType string
}

// Store saves an upload and returns the reference persisted on the entity.
type Store interface {
	Save(ctx context.Context, upload Upload) (string, error)
}

// Settings select and configure the backend.
type Settings struct {
	Kind          string
	UploadDir     string
	PublicBaseURL string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
}

// New returns the backend named by settings.Kind.
func New(ctx context.Context, settings Settings) (Store, error) {
	switch settings.Kind {
	case "", KindLocal:
		return NewLocal(settings.UploadDir)
	case KindS3:
		return NewS3(ctx, settings)
	case KindCloudinary:
		return NewCloudinary(settings.CloudinaryCloudName, settings.CloudinaryAPIKey, settings.CloudinaryAPISecret), nil
	}
	return nil, fmt.Errorf("unknown image storage %q", settings.Kind)
}

// Prepare checks that data is an image and names it after the owner. The
// name has the form <prefix>-<ownerID>-<random>[-<suffix>].<ext>.
func Prepare(data []byte, prefix, ownerID, suffix string) (Upload, error) {
	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return Upload{}, apperr.Validation(MessageNotAnImage)
	}

	parts := []string{prefix, ownerID, uuid.NewString()}
	if suffix != "" {
		parts = append(parts, suffix)
	}

	return Upload{
		Key:         strings.Join(parts, "-") + detected.Extension(),
		Data:        data,
		ContentType: detected.String(),
	}, nil
}
