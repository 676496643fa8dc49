package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/movie-index/internal/catalog"
)

// DefaultDestination is used when no destination is configured.
const DefaultDestination = "movielist.csv"

// ObjectStore writes a finished report and returns its URI.
type ObjectStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Destination is a parsed export target.
type Destination struct {
	// Bucket is set for gs:// destinations only.
	Bucket string
	// Path is the object name for gs:// or the filesystem path otherwise.
	Path string
}

// Remote reports whether the destination lives in Cloud Storage.
func (d Destination) Remote() bool {
	return d.Bucket != ""
}

// ParseDestination splits raw into a bucket/object pair for gs:// URIs or a
// plain filesystem path. An empty raw yields DefaultDestination.
func ParseDestination(raw string) (Destination, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Destination{Path: DefaultDestination}, nil
	}
	if !strings.HasPrefix(raw, "gs://") {
		return Destination{Path: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Destination{}, fmt.Errorf("parse destination %q: %w", raw, err)
	}
	object := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || object == "" {
		return Destination{}, fmt.Errorf("destination %q must be gs://bucket/object", raw)
	}
	return Destination{Bucket: u.Host, Path: object}, nil
}

// Exporter renders the report and writes it through an ObjectStore.
type Exporter struct {
	store  ObjectStore
	logger *zap.Logger
}

// New builds an Exporter backed by store.
func New(store ObjectStore, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{store: store, logger: logger}
}

// Export writes entries to path, replacing whatever was there. It returns the
// URI of the written report.
func (e *Exporter) Export(ctx context.Context, entries []catalog.Entry, path string) (string, error) {
	if e.store == nil {
		return "", fmt.Errorf("export store is not configured")
	}
	var buf bytes.Buffer
	if err := Write(&buf, entries); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	uri, err := e.store.PutObject(ctx, path, ContentType, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return "", fmt.Errorf("write report to %s: %w", path, err)
	}
	e.logger.Info("report exported", zap.String("uri", uri), zap.Int("rows", len(entries)))
	return uri, nil
}
