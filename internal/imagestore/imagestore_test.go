package imagestore

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/toursapi/internal/apperr"
)

func pngBytes(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPrepare(t *testing.T) {
	t.Run("images are named after their owner", func(t *testing.T) {
		upload, err := Prepare(pngBytes(t), "tour", "5c88fa8cf4afda39709c2955", "cover")
		require.NoError(t, err)

		assert.Equal(t, "image/png", upload.ContentType)
		assert.True(t, strings.HasPrefix(upload.Key, "tour-5c88fa8cf4afda39709c2955-"))
		assert.True(t, strings.HasSuffix(upload.Key, "-cover.png"))
	})

	t.Run("other content is rejected", func(t *testing.T) {
		_, err := Prepare([]byte("just some text"), "user", "1", "")
		require.Error(t, err)

		var appErr *apperr.Error
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
		assert.Equal(t, MessageNotAnImage, appErr.Message)
	})
}

func TestLocal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "img", "users")
	store, err := NewLocal(dir)
	require.NoError(t, err)

	data := pngBytes(t)
	reference, err := store.Save(context.Background(), Upload{Key: "user-1.png", Data: data})
	require.NoError(t, err)
	assert.Equal(t, "user-1.png", reference)

	stored, err := os.ReadFile(filepath.Join(dir, "user-1.png"))
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(
	ctx context.Context,
	params *s3.PutObjectInput,
	optFns ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3(t *testing.T) {
	putter := &fakePutter{}
	store := NewS3WithClient(putter, "tours-images", "https://cdn.example.com/")

	reference, err := store.Save(context.Background(), Upload{Key: "tour-1.png", Data: []byte("data"), ContentType: "image/png"})
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/tour-1.png", reference)
	assert.Equal(t, "tours-images", *putter.input.Bucket)
	assert.Equal(t, "tour-1.png", *putter.input.Key)
	assert.Equal(t, "image/png", *putter.input.ContentType)
	assert.Equal(t, []byte("data"), putter.body)

	putter.err = errors.New("access denied")
	_, err = store.Save(context.Background(), Upload{Key: "tour-2.png"})
	assert.Error(t, err)
}

func TestCloudinary(t *testing.T) {
	const secret = "cloudinary-secret"
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		expected := Sign(map[string]string{
			"public_id": "user-1",
			"timestamp": "1709294400",
		}, secret)
		if r.FormValue("signature") != expected || r.FormValue("api_key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid Signature"}}`))
			return
		}

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, []byte("image"), data)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"secure_url":"https://res.cloudinary.com/demo/image/upload/user-1.png"}`))
	}))
	defer server.Close()

	t.Run("a signed upload returns the delivery url", func(t *testing.T) {
		store := NewCloudinary("demo", "key", secret).WithBaseURL(server.URL)
		store.now = func() time.Time { return now }

		reference, err := store.Save(context.Background(), Upload{Key: "user-1.png", Data: []byte("image")})
		require.NoError(t, err)
		assert.Equal(t, "https://res.cloudinary.com/demo/image/upload/user-1.png", reference)
	})

	t.Run("a rejected upload is an error", func(t *testing.T) {
		store := NewCloudinary("demo", "key", "wrong").WithBaseURL(server.URL)
		store.now = func() time.Time { return now }

		_, err := store.Save(context.Background(), Upload{Key: "user-1.png", Data: []byte("image")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Invalid Signature")
	})
}

func TestNew(t *testing.T) {
	store, err := New(context.Background(), Settings{Kind: KindLocal, UploadDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, store)

	store, err = New(context.Background(), Settings{Kind: KindCloudinary})
	require.NoError(t, err)
	assert.IsType(t, &Cloudinary{}, store)

	_, err = New(context.Background(), Settings{Kind: "ftp"})
	assert.Error(t, err)
}
