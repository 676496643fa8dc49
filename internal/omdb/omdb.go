// Package omdb resolves canonical titles against an OMDb-compatible metadata
// provider.
//
// The provider is queried with the literal title (t=<title>&r=json) and the
// response is decoded into a typed payload. Only Title, Year, Genre and
// imdbRating survive the mapping into catalog.MovieRecord; every other field
// the provider returns is discarded at the decoding boundary.
package omdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/movie-index/internal/catalog"
)

// DefaultBaseURL is the public OMDb endpoint.
const DefaultBaseURL = "http://www.omdbapi.com/"

const maxBodyBytes = 1 << 20

var (
	// ErrNotFound is returned when the provider reports no match.
	ErrNotFound = errors.New("title not found")
	// ErrMalformed is returned when a success response lacks a Title.
	ErrMalformed = errors.New("malformed provider response")
)

// StatusError reports a non-2xx provider response.
type StatusError struct {
	Title      string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d for %q", e.StatusCode, e.Title)
}

// Config describes how to reach the provider.
type Config struct {
	BaseURL string
	APIKey  string
}

// Client resolves titles via HTTP.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// New builds a Client. A nil httpClient falls back to http.DefaultClient.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse provider base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("provider base url must be http(s), got %q", raw)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: u,
		apiKey:  cfg.APIKey,
		http:    httpClient,
		logger:  logger,
	}, nil
}

// responseFlag decodes OMDb's quoted "True"/"False" response indicator.
type responseFlag bool

func (f *responseFlag) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var b bool
		if berr := json.Unmarshal(data, &b); berr != nil {
			return fmt.Errorf("decode Response flag: %w", err)
		}
		*f = responseFlag(b)
		return nil
	}
	*f = responseFlag(strings.EqualFold(strings.TrimSpace(s), "true"))
	return nil
}

type payload struct {
	Response   responseFlag `json:"Response"`
	Error      string       `json:"Error"`
	Title      string       `json:"Title"`
	Year       string       `json:"Year"`
	Genre      string       `json:"Genre"`
	IMDBRating string       `json:"imdbRating"`
}

// Resolve looks up title and maps the provider answer to a MovieRecord tagged
// with source. It returns ErrNotFound, ErrMalformed, a *StatusError, or a
// transport error when no record can be produced.
func (c *Client) Resolve(ctx context.Context, title string, source catalog.Source) (catalog.MovieRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.queryURL(title), nil)
	if err != nil {
		return catalog.MovieRecord{}, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return catalog.MovieRecord{}, fmt.Errorf("provider request for %q: %w", title, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close provider body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return catalog.MovieRecord{}, &StatusError{Title: title, StatusCode: resp.StatusCode}
	}

	var p payload
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&p); err != nil {
		return catalog.MovieRecord{}, fmt.Errorf("decode provider response for %q: %w", title, err)
	}
	return toRecord(title, p, source)
}

func (c *Client) queryURL(title string) string {
	u := *c.baseURL
	q := u.Query()
	q.Set("t", title)
	q.Set("r", "json")
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func toRecord(lookup string, p payload, source catalog.Source) (catalog.MovieRecord, error) {
	if !p.Response {
		if p.Error != "" {
			return catalog.MovieRecord{}, fmt.Errorf("%w: %q: %s", ErrNotFound, lookup, p.Error)
		}
		return catalog.MovieRecord{}, fmt.Errorf("%w: %q", ErrNotFound, lookup)
	}
	if strings.TrimSpace(p.Title) == "" {
		return catalog.MovieRecord{}, fmt.Errorf("%w: missing Title for %q", ErrMalformed, lookup)
	}
	return catalog.MovieRecord{
		Title:      p.Title,
		Year:       truncateYear(p.Year),
		Genre:      p.Genre,
		IMDBRating: p.IMDBRating,
		Source:     source,
	}, nil
}

// truncateYear keeps the first four characters, so "1999–2001" becomes "1999".
func truncateYear(y string) string {
	r := []rune(y)
	if len(r) <= 4 {
		return y
	}
	return string(r[:4])
}
