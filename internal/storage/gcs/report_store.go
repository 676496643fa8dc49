// Package gcs uploads finished catalog reports to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/movie-index/internal/export"
)

// maxObjectName is the GCS limit on encoded object names.
const maxObjectName = 1024

// ErrInvalidObject is returned for report names GCS would reject.
var ErrInvalidObject = errors.New("invalid report object name")

// Config selects where reports land.
type Config struct {
	Bucket string
	// CacheControl is set on every upload. Defaults to no-cache.
	CacheControl string
}

// ReportStore writes catalog reports as objects in one bucket. Each upload
// replaces the previous object of the same name.
type ReportStore struct {
	bucket       *storage.BucketHandle
	name         string
	cacheControl string
}

// New creates a ReportStore. Credentials are resolved by the client.
func New(client *storage.Client, cfg Config) (*ReportStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	cacheControl := cfg.CacheControl
	if cacheControl == "" {
		cacheControl = "no-cache"
	}
	return &ReportStore{
		bucket:       client.Bucket(bucket),
		name:         bucket,
		cacheControl: cacheControl,
	}, nil
}

// PutObject uploads the report read from r as object and returns its gs:// URI.
// An empty contentType falls back to export.ContentType. A failed copy aborts
// the upload so no partial report is committed.
func (s *ReportStore) PutObject(ctx context.Context, object string, contentType string, r io.Reader) (string, error) {
	if err := validateObject(object); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = export.ContentType
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = s.cacheControl
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("upload report %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("commit report %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.name, object), nil
}

func validateObject(object string) error {
	switch {
	case strings.TrimSpace(object) == "":
		return fmt.Errorf("%w: empty", ErrInvalidObject)
	case object == "." || object == "..":
		return fmt.Errorf("%w: %q", ErrInvalidObject, object)
	case len(object) > maxObjectName:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidObject, maxObjectName)
	case !utf8.ValidString(object), strings.ContainsAny(object, "\r\n"):
		return fmt.Errorf("%w: %q", ErrInvalidObject, object)
	}
	return nil
}
