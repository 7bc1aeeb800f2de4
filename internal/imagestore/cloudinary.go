package imagestore

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultCloudinaryURL is the upload API root.
const DefaultCloudinaryURL = "https://api.cloudinary.com/v1_1"

// Cloudinary uploads images with signed requests.
type Cloudinary struct {
	client    *resty.Client
	cloudName string
	apiKey    string
	apiSecret string
	now       func() time.Time
}

type cloudinaryResult struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewCloudinary returns an uploader for the given account.
func NewCloudinary(cloudName, apiKey, apiSecret string) *Cloudinary {
	return &Cloudinary{
		client:    resty.New().SetBaseURL(DefaultCloudinaryURL),
		cloudName: cloudName,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		now:       time.Now,
	}
}

// WithBaseURL points the uploader at another API root.
func (c *Cloudinary) WithBaseURL(baseURL string) *Cloudinary {
	c.client.SetBaseURL(baseURL)
	return c
}

// Sign returns the signature of the upload parameters: the sorted
// key=value pairs joined by '&' followed by the secret, hashed with sha1.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}

	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}

// Save uploads the image under its key and returns the delivery URL.
func (c *Cloudinary) Save(ctx context.Context, upload Upload) (string, error) {
	publicID := strings.TrimSuffix(upload.Key, extensionOf(upload.Key))
	params := map[string]string{
		"public_id": publicID,
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
	}

	var result cloudinaryResult
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(params).
		SetFormData(map[string]string{
			"api_key":   c.apiKey,
			"signature": Sign(params, c.apiSecret),
		}).
		SetFileReader("file", upload.Key, bytes.NewReader(upload.Data)).
		SetResult(&result).
		SetError(&result).
		ForceContentType("application/json").
		Post("/" + c.cloudName + "/image/upload")
	if err != nil {
		return "", fmt.Errorf("in internal/imagestore/cloudinary.go/Save(): error while `c.client.R().Post()` calling: %w", err)
	}

	if resp.IsError() {
		message := resp.Status()
		if result.Error != nil {
			message = result.Error.Message
		}
		return "", fmt.Errorf("cloudinary upload failed: %s", message)
	}

	return result.SecureURL, nil
}

func extensionOf(key string) string {
	if i := strings.LastIndex(key, "."); i >= 0 {
		return key[i:]
	}
	return ""
}
