// Package listing scrapes directory-style HTML index pages for candidate titles
// using gocolly. The remote page format is treated as untrusted: only anchor
// text is extracted and nothing else about the markup is relied upon.
package listing

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/movie-index/internal/catalog"
	"github.com/JakeFAU/movie-index/internal/httpclient"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout bounds a single listing request. Zero disables the timeout.
	Timeout time.Duration
}

// Listing is the outcome of fetching one source.
type Listing struct {
	Source     catalog.Source
	StatusCode int
	Bytes      int
	Duration   time.Duration
	// Titles holds raw anchor text in document order.
	Titles []string
}

// OK reports whether the listing responded with a 2xx status.
func (l Listing) OK() bool {
	return l.StatusCode >= 200 && l.StatusCode < 300
}

// Fetcher retrieves listing pages with a Colly collector.
type Fetcher struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	// Status handling happens in our own response hook so any 2xx counts.
	c.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(httpclient.NewTransport(httpclient.Config{UserAgent: cfg.UserAgent}))
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		baseCollector: c,
		logger:        logger,
	}
}

// FetchTitles returns the raw anchor text of every hyperlink on source. A
// non-2xx response yields no titles and no error.
func (f *Fetcher) FetchTitles(ctx context.Context, source catalog.Source) ([]string, error) {
	l, err := f.Fetch(ctx, source)
	if err != nil {
		return nil, err
	}
	return l.Titles, nil
}

// Fetch retrieves source and extracts its anchor text. Transport failures are
// returned as errors; non-2xx statuses are logged and produce an empty listing.
func (f *Fetcher) Fetch(ctx context.Context, source catalog.Source) (Listing, error) {
	result := Listing{Source: source}
	var fetchErr error
	start := time.Now()

	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, string(source), &fetchErr); err != nil {
		return Listing{Source: source}, err
	}
	result.Duration = time.Since(start)

	if !result.OK() {
		f.logger.Warn("listing returned non-2xx status",
			zap.String("source", string(source)),
			zap.Int("status_code", result.StatusCode),
		)
		result.Titles = nil
		return result, nil
	}
	f.logger.Debug("listing fetched",
		zap.String("source", string(source)),
		zap.Int("titles", len(result.Titles)),
		zap.Duration("dur", result.Duration),
	)
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *Listing, fetchErr *error) {
	// Listing servers often label index pages text/plain or omit the header,
	// and colly only dispatches OnHTML for html content types. Anchors are
	// parsed straight from the body instead.
	hooks.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		result.Bytes = len(r.Body)
		r.Body = bytes.ReplaceAll(r.Body, []byte("\r"), nil)
		if !result.OK() {
			return
		}
		titles, err := anchorTexts(r.Body)
		if err != nil {
			*fetchErr = err
			return
		}
		result.Titles = titles
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

// anchorTexts returns the non-empty text of every <a> in body, in document order.
func anchorTexts(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	var titles []string
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		if text := s.Text(); text != "" {
			titles = append(titles, text)
		}
	})
	return titles, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("listing fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("listing visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("listing response failed: %w", *fetchErr)
		}
		return nil
	}
}
