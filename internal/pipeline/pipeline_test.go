package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/movie-index/internal/catalog"
	"github.com/JakeFAU/movie-index/internal/export"
	"github.com/JakeFAU/movie-index/internal/httpclient"
	"github.com/JakeFAU/movie-index/internal/listing"
	"github.com/JakeFAU/movie-index/internal/omdb"
	"github.com/JakeFAU/movie-index/internal/progress"
	"github.com/JakeFAU/movie-index/internal/storage/local"
)

const listingPage = `<html><body><h1>Index of /tv/</h1><pre>
<a href="../">../</a>
<a href="Foo%20(2010)/">Foo (2010)/</a>
<a href="Bar/">Bar/</a>
</pre></body></html>`

func newListingServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/tv/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func newProviderServer(t *testing.T, answers map[string]string) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body, ok := answers[req.URL.Query().Get("t")]
		if !ok {
			body = `{"Response":"False","Error":"Movie not found!"}`
		}
		_, _ = w.Write([]byte(body))
	})
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func newHTTPRunner(t *testing.T, providerURL, dir string, opts ...Option) *Runner {
	t.Helper()
	fetcher := listing.New(listing.Config{UserAgent: "movie-index-test", Timeout: 5 * time.Second}, zap.NewNop())
	resolver, err := omdb.New(omdb.Config{BaseURL: providerURL + "/"},
		httpclient.New(httpclient.Config{Timeout: 5 * time.Second}), zap.NewNop())
	require.NoError(t, err)
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	runner, err := New(fetcher, resolver, export.New(store, zap.NewNop()), opts...)
	require.NoError(t, err)
	return runner
}

// TestRunEndToEnd drives real HTTP collaborators: one listing with a found and
// a missing title produces exactly one exported row.
func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	listingSrv := newListingServer(t, http.StatusOK, listingPage)
	provider := newProviderServer(t, map[string]string{
		"Foo": `{"Title":"Foo","Year":"2010–2012","Genre":"Comedy","imdbRating":"7.5","Response":"True"}`,
	})
	dir := t.TempDir()
	recorder := &recordingEmitter{}
	runner := newHTTPRunner(t, provider.URL, dir, WithEmitter(recorder))

	source := catalog.Source(listingSrv.URL + "/tv/")
	summary, err := runner.Run(context.Background(), Config{
		Sources:     []catalog.Source{source},
		Destination: "movielist.csv",
		Descending:  true,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "movielist.csv"))
	require.NoError(t, err)
	want := "Title|Year|Genre|IMDB rating|Index\n" +
		"Foo|2010|Comedy|7.5|" + string(source) + "\n"
	assert.Equal(t, want, string(data))

	assert.Equal(t, 1, summary.Sources)
	assert.Equal(t, 3, summary.Candidates)
	assert.Equal(t, 1, summary.Rows)
	assert.Equal(t, 1, summary.Outcomes[progress.OutcomeFound])
	assert.Equal(t, 1, summary.Outcomes[progress.OutcomeNotFound])
	assert.Equal(t, 1, summary.Outcomes[progress.OutcomeInvalid])
	assert.Contains(t, summary.URI, "movielist.csv")

	stages := recorder.Stages()
	require.NotEmpty(t, stages)
	assert.Equal(t, progress.StageRunStart, stages[0])
	assert.Equal(t, progress.StageRunDone, stages[len(stages)-1])
	for _, evt := range recorder.Events() {
		require.NoError(t, evt.Validate())
		assert.Equal(t, summary.RunID, evt.RunUUID())
	}
}

// TestRunNonOKListing checks a failing listing contributes nothing and the
// run still exports a header-only report.
func TestRunNonOKListing(t *testing.T) {
	t.Parallel()

	listingSrv := newListingServer(t, http.StatusInternalServerError, listingPage)
	provider := newProviderServer(t, nil)
	dir := t.TempDir()
	runner := newHTTPRunner(t, provider.URL, dir)

	summary, err := runner.Run(context.Background(), Config{
		Sources:     []catalog.Source{catalog.Source(listingSrv.URL + "/tv/")},
		Destination: "out/report.csv",
	})
	require.NoError(t, err)
	assert.Zero(t, summary.Candidates)
	assert.Zero(t, summary.Rows)

	data, err := os.ReadFile(filepath.Join(dir, "out", "report.csv"))
	require.NoError(t, err)
	assert.Equal(t, "Title|Year|Genre|IMDB rating|Index\n", string(data))
}

func TestRunDeduplicatesAcrossSources(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[catalog.Source][]string{
		"http://a.example/": {"Alpha (2001)/", "Beta/", "Alpha/"},
		"http://b.example/": {"Alpha", "Gamma"},
	}}
	resolver := &fakeResolver{records: map[string]catalog.MovieRecord{
		"Alpha": {Title: "Alpha", Year: "2001", Genre: "Drama", IMDBRating: "6.0"},
		"Beta":  {Title: "Beta", Year: "2002", Genre: "Comedy", IMDBRating: "9.1"},
		"Gamma": {Title: "Gamma", Year: "2003", Genre: "Drama, Crime", IMDBRating: "7.2"},
	}}
	exporter := &fakeExporter{}
	runner, err := New(fetcher, resolver, exporter)
	require.NoError(t, err)

	summary, err := runner.Run(context.Background(), Config{
		Sources:    []catalog.Source{"http://a.example/", "http://b.example/"},
		Descending: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, resolver.Calls())
	require.Len(t, exporter.entries, 3)
	assert.Equal(t, "Beta", exporter.entries[0].Key)
	assert.Equal(t, "Gamma", exporter.entries[1].Key)
	assert.Equal(t, "Alpha", exporter.entries[2].Key)
	assert.Equal(t, catalog.Source("http://a.example/"), exporter.entries[2].Record.Source)
	assert.Equal(t, 2, summary.Outcomes[progress.OutcomeDuplicate])
}

func TestRunSkipsLookupForCatalogedTitle(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[catalog.Source][]string{
		"http://a.example/": {"The Alpha/"},
		"http://b.example/": {"Alpha (2001)/", "Beta/"},
	}}
	resolver := &fakeResolver{records: map[string]catalog.MovieRecord{
		"The Alpha": {Title: "Alpha", Year: "2001", IMDBRating: "6.0"},
		"Beta":      {Title: "Beta", Year: "2002", IMDBRating: "7.0"},
	}}
	exporter := &fakeExporter{}
	runner, err := New(fetcher, resolver, exporter)
	require.NoError(t, err)

	summary, err := runner.Run(context.Background(), Config{
		Sources:    []catalog.Source{"http://a.example/", "http://b.example/"},
		Descending: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"The Alpha", "Beta"}, resolver.Calls())
	require.Len(t, exporter.entries, 2)
	assert.Equal(t, "Beta", exporter.entries[0].Key)
	assert.Equal(t, "Alpha", exporter.entries[1].Key)
	assert.Equal(t, catalog.Source("http://a.example/"), exporter.entries[1].Record.Source)
	assert.Equal(t, 1, summary.Outcomes[progress.OutcomeDuplicate])
	assert.Equal(t, 2, summary.Outcomes[progress.OutcomeFound])
}

func TestRunAppliesGenreFilter(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[catalog.Source][]string{
		"http://a.example/": {"Alpha", "Beta", "Gamma"},
	}}
	resolver := &fakeResolver{records: map[string]catalog.MovieRecord{
		"Alpha": {Title: "Alpha", Genre: "Drama", IMDBRating: "6.0"},
		"Beta":  {Title: "Beta", Genre: "Comedy", IMDBRating: "9.1"},
		"Gamma": {Title: "Gamma", Genre: "Crime, Drama", IMDBRating: "7.2"},
	}}
	exporter := &fakeExporter{}
	runner, err := New(fetcher, resolver, exporter)
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), Config{
		Sources:    []catalog.Source{"http://a.example/"},
		Genres:     []string{"drama"},
		Descending: true,
	})
	require.NoError(t, err)
	require.Len(t, exporter.entries, 2)
	assert.Equal(t, "Gamma", exporter.entries[0].Key)
	assert.Equal(t, "Alpha", exporter.entries[1].Key)
}

func TestRunContainsFetchAndLookupErrors(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		pages: map[catalog.Source][]string{"http://ok.example/": {"Alpha", "Broken"}},
		errs:  map[catalog.Source]error{"http://down.example/": errors.New("connection refused")},
	}
	resolver := &fakeResolver{
		records: map[string]catalog.MovieRecord{"Alpha": {Title: "Alpha", IMDBRating: "5.0"}},
		errs:    map[string]error{"Broken": &omdb.StatusError{Title: "Broken", StatusCode: http.StatusBadGateway}},
	}
	exporter := &fakeExporter{}
	runner, err := New(fetcher, resolver, exporter)
	require.NoError(t, err)

	summary, err := runner.Run(context.Background(), Config{
		Sources: []catalog.Source{"http://down.example/", "http://ok.example/"},
	})
	require.NoError(t, err)
	require.Len(t, exporter.entries, 1)
	assert.Equal(t, 1, summary.Outcomes[progress.OutcomeError])
	assert.Equal(t, 1, summary.Outcomes[progress.OutcomeFound])
}

func TestRunExportFailureIsFatal(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[catalog.Source][]string{"http://a.example/": {"Alpha"}}}
	resolver := &fakeResolver{records: map[string]catalog.MovieRecord{"Alpha": {Title: "Alpha"}}}
	exporter := &fakeExporter{err: errors.New("disk full")}
	recorder := &recordingEmitter{}
	runner, err := New(fetcher, resolver, exporter, WithEmitter(recorder))
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), Config{Sources: []catalog.Source{"http://a.example/"}})
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
	stages := recorder.Stages()
	assert.Equal(t, progress.StageRunError, stages[len(stages)-1])
}

func TestRunCanceledExportsNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &fakeFetcher{pages: map[catalog.Source][]string{"http://a.example/": {"Alpha", "Beta"}}}
	resolver := &fakeResolver{
		records: map[string]catalog.MovieRecord{"Alpha": {Title: "Alpha"}, "Beta": {Title: "Beta"}},
		onCall:  func(string) { cancel() },
	}
	exporter := &fakeExporter{}
	runner, err := New(fetcher, resolver, exporter)
	require.NoError(t, err)

	_, err = runner.Run(ctx, Config{Sources: []catalog.Source{"http://a.example/"}})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, exporter.called)
	assert.Equal(t, []string{"Alpha"}, resolver.Calls())
}

func TestRunPublishesReport(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[catalog.Source][]string{"http://a.example/": {"Alpha", "Nope", "..."}}}
	resolver := &fakeResolver{records: map[string]catalog.MovieRecord{"Alpha": {Title: "Alpha", IMDBRating: "7.0"}}}
	notifier := &fakeNotifier{}
	runner, err := New(fetcher, resolver, &fakeExporter{}, WithNotifier(notifier))
	require.NoError(t, err)

	summary, err := runner.Run(context.Background(), Config{
		Sources:     []catalog.Source{"http://a.example/"},
		Destination: "movielist.csv",
	})
	require.NoError(t, err)
	require.Len(t, notifier.payloads, 1)
	report, ok := notifier.payloads[0].(RunReport)
	require.True(t, ok)
	assert.Equal(t, summary.RunID.String(), report.RunID)
	assert.Equal(t, "file://movielist.csv", report.URI)
	assert.Equal(t, 1, report.Rows)
	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, map[string]int{"found": 1, "not_found": 1, "invalid": 1}, report.Outcomes)
}

func TestRunNotifierFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{err: errors.New("topic missing")}
	runner, err := New(&fakeFetcher{}, &fakeResolver{}, &fakeExporter{}, WithNotifier(notifier))
	require.NoError(t, err)
	_, err = runner.Run(context.Background(), Config{})
	require.NoError(t, err)
}

func TestRunSkipsNotifierOnExportFailure(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	runner, err := New(&fakeFetcher{}, &fakeResolver{}, &fakeExporter{err: errors.New("denied")}, WithNotifier(notifier))
	require.NoError(t, err)
	_, err = runner.Run(context.Background(), Config{})
	require.Error(t, err)
	assert.Empty(t, notifier.payloads)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(nil, &fakeResolver{}, &fakeExporter{})
	require.Error(t, err)
}

func TestRunUsesClockForDurations(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var ticks int
	clock := func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Second)
	}
	runner, err := New(&fakeFetcher{}, &fakeResolver{}, &fakeExporter{}, WithClock(clock))
	require.NoError(t, err)

	summary, err := runner.Run(context.Background(), Config{})
	require.NoError(t, err)
	assert.Positive(t, summary.Duration)
}

type fakeFetcher struct {
	pages map[catalog.Source][]string
	errs  map[catalog.Source]error
}

func (f *fakeFetcher) Fetch(_ context.Context, source catalog.Source) (listing.Listing, error) {
	if err := f.errs[source]; err != nil {
		return listing.Listing{Source: source}, err
	}
	return listing.Listing{Source: source, StatusCode: http.StatusOK, Titles: f.pages[source]}, nil
}

type fakeResolver struct {
	mu      sync.Mutex
	records map[string]catalog.MovieRecord
	errs    map[string]error
	calls   []string
	onCall  func(string)
}

func (r *fakeResolver) Resolve(_ context.Context, t string, source catalog.Source) (catalog.MovieRecord, error) {
	r.mu.Lock()
	r.calls = append(r.calls, t)
	r.mu.Unlock()
	if r.onCall != nil {
		r.onCall(t)
	}
	if err := r.errs[t]; err != nil {
		return catalog.MovieRecord{}, err
	}
	rec, ok := r.records[t]
	if !ok {
		return catalog.MovieRecord{}, fmt.Errorf("%w: %q", omdb.ErrNotFound, t)
	}
	rec.Source = source
	return rec, nil
}

func (r *fakeResolver) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeExporter struct {
	entries []catalog.Entry
	called  bool
	err     error
}

func (e *fakeExporter) Export(_ context.Context, entries []catalog.Entry, path string) (string, error) {
	e.called = true
	if e.err != nil {
		return "", e.err
	}
	e.entries = entries
	return "file://" + path, nil
}

type fakeNotifier struct {
	payloads []any
	err      error
}

func (n *fakeNotifier) Publish(_ context.Context, payload any) (string, error) {
	if n.err != nil {
		return "", n.err
	}
	n.payloads = append(n.payloads, payload)
	return "msg-1", nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Events() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

func (r *recordingEmitter) Stages() []progress.Stage {
	events := r.Events()
	out := make([]progress.Stage, len(events))
	for i, evt := range events {
		out[i] = evt.Stage
	}
	return out
}
