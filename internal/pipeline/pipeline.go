// Package pipeline runs one catalog build: fetch every listing source, resolve
// each new canonical title, then filter, rank and export the catalog.
//
// Work is strictly sequential. The current source travels as an argument
// through fetch and resolve calls; nothing about it is kept on the Runner.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/movie-index/internal/catalog"
	"github.com/JakeFAU/movie-index/internal/listing"
	"github.com/JakeFAU/movie-index/internal/metrics"
	"github.com/JakeFAU/movie-index/internal/omdb"
	"github.com/JakeFAU/movie-index/internal/progress"
	"github.com/JakeFAU/movie-index/internal/title"
)

// ListingFetcher retrieves the raw anchor text of a listing page.
type ListingFetcher interface {
	Fetch(ctx context.Context, source catalog.Source) (listing.Listing, error)
}

// Resolver turns a canonical title into a record.
type Resolver interface {
	Resolve(ctx context.Context, title string, source catalog.Source) (catalog.MovieRecord, error)
}

// Exporter persists the ranked catalog and returns where it went.
type Exporter interface {
	Export(ctx context.Context, entries []catalog.Entry, path string) (string, error)
}

// Notifier announces a finished run.
type Notifier interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Config holds the per-run inputs.
type Config struct {
	Sources     []catalog.Source
	Genres      []string
	Destination string
	Descending  bool
}

// Summary describes a finished run.
type Summary struct {
	RunID      uuid.UUID
	Sources    int
	Candidates int
	Outcomes   map[progress.Outcome]int
	Rows       int
	URI        string
	Duration   time.Duration
}

// RunReport is the message published after a successful export.
type RunReport struct {
	RunID      string         `json:"run_id"`
	URI        string         `json:"uri"`
	Rows       int            `json:"rows"`
	Sources    int            `json:"sources"`
	Candidates int            `json:"candidates"`
	Outcomes   map[string]int `json:"outcomes"`
	DurationMS int64          `json:"duration_ms"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Report converts s into its published form.
func (s Summary) Report(finished time.Time) RunReport {
	outcomes := make(map[string]int, len(s.Outcomes))
	for k, v := range s.Outcomes {
		outcomes[string(k)] = v
	}
	return RunReport{
		RunID:      s.RunID.String(),
		URI:        s.URI,
		Rows:       s.Rows,
		Sources:    s.Sources,
		Candidates: s.Candidates,
		Outcomes:   outcomes,
		DurationMS: s.Duration.Milliseconds(),
		FinishedAt: finished.UTC(),
	}
}

// Runner wires the pipeline collaborators together.
type Runner struct {
	fetcher  ListingFetcher
	resolver Resolver
	exporter Exporter
	emitter  progress.Emitter
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithEmitter routes progress events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(r *Runner) {
		if e != nil {
			r.emitter = e
		}
	}
}

// WithNotifier publishes a RunReport after every successful export.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) {
		r.notifier = n
	}
}

// WithLogger sets the run logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds a Runner. All three collaborators are required.
func New(fetcher ListingFetcher, resolver Resolver, exporter Exporter, opts ...Option) (*Runner, error) {
	if fetcher == nil || resolver == nil || exporter == nil {
		return nil, errors.New("pipeline requires a fetcher, resolver and exporter")
	}
	r := &Runner{
		fetcher:  fetcher,
		resolver: resolver,
		exporter: exporter,
		emitter:  progress.NopEmitter{},
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// run carries the state of a single Run call.
type run struct {
	*Runner
	id      uuid.UUID
	logger  *zap.Logger
	catalog *catalog.Catalog
	summary Summary
}

// Run executes the pipeline once. Listing and lookup failures are logged and
// skipped; cancellation and export failures abort the run and are returned.
func (r *Runner) Run(ctx context.Context, cfg Config) (Summary, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	rn := &run{
		Runner:  r,
		id:      id,
		logger:  r.logger.With(zap.String("run_id", id.String())),
		catalog: catalog.New(),
		summary: Summary{
			RunID:    id,
			Sources:  len(cfg.Sources),
			Outcomes: make(map[progress.Outcome]int),
		},
	}
	start := r.now()
	rn.emit(progress.Event{Stage: progress.StageRunStart})
	rn.logger.Info("run started", zap.Int("sources", len(cfg.Sources)), zap.Strings("genres", cfg.Genres))

	uri, err := rn.execute(ctx, cfg)
	rn.summary.Duration = r.now().Sub(start)
	if err != nil {
		rn.emit(progress.Event{Stage: progress.StageRunError, Dur: rn.summary.Duration, Note: err.Error()})
		rn.logger.Error("run failed", zap.Error(err), zap.Duration("dur", rn.summary.Duration))
		return rn.summary, err
	}
	rn.summary.URI = uri
	rn.emit(progress.Event{Stage: progress.StageRunDone, Dur: rn.summary.Duration})
	rn.logSummary()
	rn.notify(ctx)
	return rn.summary, nil
}

func (rn *run) execute(ctx context.Context, cfg Config) (string, error) {
	for _, source := range cfg.Sources {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("run canceled: %w", err)
		}
		if err := rn.processSource(ctx, source); err != nil {
			return "", err
		}
	}

	rn.catalog.FilterByGenre(cfg.Genres)
	entries := rn.catalog.Ranked(cfg.Descending)
	rn.summary.Rows = len(entries)

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("run canceled: %w", err)
	}
	uri, err := rn.exporter.Export(ctx, entries, cfg.Destination)
	if err != nil {
		return "", fmt.Errorf("export catalog: %w", err)
	}
	return uri, nil
}

// processSource only returns an error on cancellation.
func (rn *run) processSource(ctx context.Context, source catalog.Source) error {
	logger := rn.logger.With(zap.String("source", string(source)))
	page, err := rn.fetcher.Fetch(ctx, source)
	evt := progress.Event{
		Stage:       progress.StageListingDone,
		Site:        metrics.SanitizeSite(string(source)),
		Source:      string(source),
		Bytes:       int64(page.Bytes),
		Titles:      int64(len(page.Titles)),
		StatusClass: progress.ClassifyStatus(page.StatusCode),
		Dur:         page.Duration,
	}
	if err != nil {
		evt.Note = err.Error()
		rn.emit(evt)
		if ctx.Err() != nil {
			return fmt.Errorf("run canceled: %w", ctx.Err())
		}
		logger.Error("listing fetch failed; skipping source", zap.Error(err))
		return nil
	}
	rn.emit(evt)
	rn.summary.Candidates += len(page.Titles)

	for _, raw := range page.Titles {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run canceled: %w", err)
		}
		rn.processTitle(ctx, logger, source, raw)
	}
	return nil
}

func (rn *run) processTitle(ctx context.Context, logger *zap.Logger, source catalog.Source, raw string) {
	key, err := title.Canonical(raw)
	if err != nil {
		logger.Debug("skipping listing entry", zap.String("raw", raw), zap.Error(err))
		rn.recordLookup(raw, progress.OutcomeInvalid, 0, "")
		return
	}
	if !rn.catalog.MarkSeen(key) {
		rn.recordLookup(key, progress.OutcomeDuplicate, 0, "")
		return
	}
	// An earlier lookup may already have stored a record under this title.
	if _, ok := rn.catalog.Get(key); ok {
		logger.Debug("title already cataloged", zap.String("title", key))
		rn.recordLookup(key, progress.OutcomeDuplicate, 0, "")
		return
	}

	start := rn.now()
	record, err := rn.resolver.Resolve(ctx, key, source)
	dur := rn.now().Sub(start)
	if err != nil {
		outcome := progress.OutcomeError
		switch {
		case errors.Is(err, omdb.ErrNotFound):
			outcome = progress.OutcomeNotFound
			logger.Info("title not found", zap.String("title", key))
		default:
			logger.Warn("title lookup failed", zap.String("title", key), zap.Error(err))
		}
		rn.recordLookup(key, outcome, dur, err.Error())
		return
	}

	storeKey := record.Title
	if storeKey == "" {
		storeKey = key
	}
	if !rn.catalog.UpsertIfAbsent(storeKey, record) {
		logger.Debug("record already cataloged", zap.String("title", key), zap.String("stored_as", storeKey))
		rn.recordLookup(key, progress.OutcomeDuplicate, dur, "")
		return
	}
	logger.Debug("title resolved",
		zap.String("title", key),
		zap.String("rating", record.IMDBRating),
		zap.String("genre", record.Genre),
	)
	rn.recordLookup(key, progress.OutcomeFound, dur, "")
}

func (rn *run) recordLookup(t string, outcome progress.Outcome, dur time.Duration, note string) {
	rn.summary.Outcomes[outcome]++
	rn.emit(progress.Event{
		Stage:   progress.StageLookupDone,
		Title:   t,
		Outcome: outcome,
		Dur:     dur,
		Note:    note,
	})
}

func (rn *run) emit(evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(rn.id)
	evt.TS = rn.now().UTC()
	rn.emitter.Emit(evt)
}

// notify failures are logged only; the report is already written.
func (rn *run) notify(ctx context.Context) {
	if rn.notifier == nil {
		return
	}
	id, err := rn.notifier.Publish(ctx, rn.summary.Report(rn.now()))
	if err != nil {
		rn.logger.Warn("run notification failed", zap.Error(err))
		return
	}
	rn.logger.Debug("run notification published", zap.String("message_id", id))
}

func (rn *run) logSummary() {
	s := rn.summary
	rn.logger.Info("run complete",
		zap.Int("sources", s.Sources),
		zap.Int("candidates", s.Candidates),
		zap.Int("found", s.Outcomes[progress.OutcomeFound]),
		zap.Int("not_found", s.Outcomes[progress.OutcomeNotFound]),
		zap.Int("invalid", s.Outcomes[progress.OutcomeInvalid]),
		zap.Int("duplicate", s.Outcomes[progress.OutcomeDuplicate]),
		zap.Int("errors", s.Outcomes[progress.OutcomeError]),
		zap.Int("rows", s.Rows),
		zap.String("uri", s.URI),
		zap.Duration("dur", s.Duration),
	)
}
