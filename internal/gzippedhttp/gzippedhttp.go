// Package gzippedhttp compresses responses for clients that accept gzip and
// inflates gzip encoded request bodies.
package gzippedhttp

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/patric-chuzhbe/toursapi/internal/apperr"
	"github.com/patric-chuzhbe/toursapi/internal/response"
)

// MessageBadGzip answers a request body that is not valid gzip.
const MessageBadGzip = "Request body is not valid gzip"

// CompressedReader inflates a gzip request body.
type CompressedReader struct {
	r  io.ReadCloser
	zr *gzip.Reader
}

// NewCompressedReader returns a reader of the inflated requestBody.
func NewCompressedReader(requestBody io.ReadCloser) (*CompressedReader, error) {
	zippedRequestBody, err := gzip.NewReader(requestBody)
	if err != nil {
		return nil, err
	}

	return &CompressedReader{
		r:  requestBody,
		zr: zippedRequestBody,
	}, nil
}

func (c *CompressedReader) Read(p []byte) (n int, err error) {
	return c.zr.Read(p)
}

// Close closes both the gzip reader and the request body.
func (c *CompressedReader) Close() error {
	if err := c.r.Close(); err != nil {
		return err
	}
	return c.zr.Close()
}

// CompressedHTTPResponseWriter gzips the response body. The gzip stream is
// opened on the first write so bodiless responses stay bodiless.
type CompressedHTTPResponseWriter struct {
	w           http.ResponseWriter
	zw          *gzip.Writer
	wroteHeader bool
	status      int
}

// NewCompressedHTTPResponseWriter wraps w.
func NewCompressedHTTPResponseWriter(w http.ResponseWriter) *CompressedHTTPResponseWriter {
	return &CompressedHTTPResponseWriter{w: w}
}

func bodyAllowed(status int) bool {
	return status != http.StatusNoContent && status != http.StatusNotModified && status >= http.StatusOK
}

// WriteHeader announces the gzip encoding for responses carrying a body.
func (c *CompressedHTTPResponseWriter) WriteHeader(statusCode int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	c.status = statusCode

	if bodyAllowed(statusCode) && c.w.Header().Get("Content-Encoding") == "" {
		c.w.Header().Set("Content-Encoding", "gzip")
		c.w.Header().Add("Vary", "Accept-Encoding")
		c.w.Header().Del("Content-Length")
	}
	c.w.WriteHeader(statusCode)
}

func (c *CompressedHTTPResponseWriter) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	if c.w.Header().Get("Content-Encoding") != "gzip" {
		return c.w.Write(p)
	}

	if c.zw == nil {
		c.zw = gzipWriterPool.Get().(*gzip.Writer)
		c.zw.Reset(c.w)
	}
	return c.zw.Write(p)
}

func (c *CompressedHTTPResponseWriter) Header() http.Header {
	return c.w.Header()
}

// Close flushes the gzip stream, if one was opened.
func (c *CompressedHTTPResponseWriter) Close() error {
	if c.zw == nil {
		return nil
	}
	err := c.zw.Close()
	if err != nil {
		return err
	}
	gzipWriterPool.Put(c.zw)
	c.zw = nil
	return nil
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (c *CompressedHTTPResponseWriter) Unwrap() http.ResponseWriter {
	return c.w
}

var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
		return w
	},
}

// GzipResponse compresses the response when the request accepts gzip.
func GzipResponse(h http.Handler) http.Handler {
	middleware := func(w http.ResponseWriter, r *http.Request) {
		finalResponse := w

		clientAcceptsGzip := strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
		if clientAcceptsGzip {
			responseWithCompression := NewCompressedHTTPResponseWriter(w)
			finalResponse = responseWithCompression
			defer responseWithCompression.Close()
		}

		h.ServeHTTP(finalResponse, r)
	}

	return http.HandlerFunc(middleware)
}

// UngzipRequest inflates request bodies sent with Content-Encoding gzip.
func UngzipRequest(h http.Handler) http.Handler {
	middleware := func(w http.ResponseWriter, r *http.Request) {
		clientSendsGzippedData := strings.Contains(r.Header.Get("Content-Encoding"), "gzip")
		if clientSendsGzippedData {
			requestBodyWithCompression, err := NewCompressedReader(r.Body)
			if err != nil {
				response.Error(w, r, apperr.Validation(MessageBadGzip))
				return
			}
			r.Body = requestBodyWithCompression
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1
			defer requestBodyWithCompression.Close()
		}

		h.ServeHTTP(w, r)
	}

	return http.HandlerFunc(middleware)
}
