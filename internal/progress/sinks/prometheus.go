package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/movie-index/internal/progress"
)

// PrometheusSink turns progress events into run, listing and lookup metrics.
type PrometheusSink struct {
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram

	listingFetches *prometheus.CounterVec
	listingTitles  *prometheus.CounterVec
	listingBytes   *prometheus.CounterVec

	lookups        *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg, falling back to the
// default registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movieindex_runs_total",
			Help: "Pipeline runs partitioned by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "movieindex_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		listingFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movieindex_listing_fetches_total",
			Help: "Listing fetches partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		listingTitles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movieindex_listing_titles_total",
			Help: "Candidate titles extracted per site.",
		}, []string{"site"}),
		listingBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movieindex_listing_bytes_total",
			Help: "Listing bytes downloaded per site.",
		}, []string{"site"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movieindex_lookups_total",
			Help: "Listing entries partitioned by lookup outcome.",
		}, []string{"outcome"}),
		lookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "movieindex_lookup_duration_seconds",
			Help:    "Metadata provider latency partitioned by outcome.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"outcome"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runs,
		s.runDuration,
		s.listingFetches,
		s.listingTitles,
		s.listingBytes,
		s.lookups,
		s.lookupDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunDone:
			s.observeRun(evt, "success")
		case progress.StageRunError:
			s.observeRun(evt, "error")
		case progress.StageListingDone:
			s.observeListing(evt)
		case progress.StageLookupDone:
			s.observeLookup(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) observeRun(evt progress.Event, result string) {
	s.runs.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) observeListing(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.listingFetches.WithLabelValues(site, statusClass).Inc()
	if evt.Titles > 0 {
		s.listingTitles.WithLabelValues(site).Add(float64(evt.Titles))
	}
	if evt.Bytes > 0 {
		s.listingBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
}

func (s *PrometheusSink) observeLookup(evt progress.Event) {
	outcome := string(evt.Outcome)
	s.lookups.WithLabelValues(outcome).Inc()
	// Only provider round trips carry a duration.
	if evt.Dur > 0 {
		s.lookupDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
}

// Close is a no-op; collectors stay registered for the final textfile dump.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
