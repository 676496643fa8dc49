package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/movie-index/internal/catalog"
	"github.com/JakeFAU/movie-index/internal/config"
	"github.com/JakeFAU/movie-index/internal/export"
	"github.com/JakeFAU/movie-index/internal/httpclient"
	"github.com/JakeFAU/movie-index/internal/listing"
	"github.com/JakeFAU/movie-index/internal/logging"
	"github.com/JakeFAU/movie-index/internal/metrics"
	"github.com/JakeFAU/movie-index/internal/omdb"
	"github.com/JakeFAU/movie-index/internal/pipeline"
	"github.com/JakeFAU/movie-index/internal/progress"
	"github.com/JakeFAU/movie-index/internal/progress/sinks"
	"github.com/JakeFAU/movie-index/internal/publisher/pubsub"
	gcsstore "github.com/JakeFAU/movie-index/internal/storage/gcs"
	localstore "github.com/JakeFAU/movie-index/internal/storage/local"
)

const hubCloseTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "movieindex: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "movieindex",
		Short: "Build a ranked movie catalog from directory listings.",
		Long: `movieindex scrapes directory-style listing pages, looks every title up
against an OMDb-compatible provider and exports the rating-ranked catalog as a
pipe-delimited report.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "path to a YAML config file")
	flags.StringSlice("source", nil, "listing URL to scan (repeatable)")
	flags.StringSlice("genre", nil, "keep only titles whose genre contains this value (repeatable)")
	flags.String("output", "", "report destination: local path or gs://bucket/object")

	for key, flag := range map[string]string{
		"sources":            "source",
		"genres":             "genre",
		"export.destination": "output",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	reg := metrics.NewRegistry()
	hub, err := buildHub(cfg, reg, logger)
	if err != nil {
		return err
	}

	runErr := execute(ctx, cfg, reg, hub, logger)

	closeCtx, cancel := context.WithTimeout(context.Background(), hubCloseTimeout)
	defer cancel()
	if err := hub.Close(closeCtx); err != nil {
		logger.Warn("progress hub close failed", zap.Error(err))
	}
	if err := metrics.WriteTextfile(cfg.Metrics.Textfile, reg); err != nil {
		logger.Warn("metrics textfile not written", zap.Error(err))
	}
	return runErr
}

func buildHub(cfg config.Config, reg prometheus.Registerer, logger *zap.Logger) (*progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if cfg.Progress.LogEvents {
		sinkList = append(sinkList, sinks.NewLogSink(logger.Named("progress")))
	}
	return progress.NewHub(progress.Config{Logger: logger.Named("progress")}, sinkList...), nil
}

func execute(
	ctx context.Context,
	cfg config.Config,
	reg prometheus.Registerer,
	hub *progress.Hub,
	logger *zap.Logger,
) error {
	dest, err := export.ParseDestination(cfg.Export.Destination)
	if err != nil {
		return err
	}
	store, closeStore, err := buildStore(ctx, dest)
	if err != nil {
		return err
	}
	defer closeStore()

	fetcher := listing.New(listing.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.RequestTimeout(),
	}, logger.Named("listing"))

	client := httpclient.New(httpclient.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.RequestTimeout(),
	})
	client.Transport, err = metrics.InstrumentTransport(reg, "omdb", client.Transport)
	if err != nil {
		return err
	}
	resolver, err := omdb.New(omdb.Config{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
	}, client, logger.Named("omdb"))
	if err != nil {
		return fmt.Errorf("init provider client: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithEmitter(hub),
		pipeline.WithLogger(logger.Named("pipeline")),
	}
	notifyCfg := pubsub.Config{ProjectID: cfg.Notify.ProjectID, TopicID: cfg.Notify.Topic}
	if notifyCfg.Enabled() {
		publisher, psClient, err := pubsub.Dial(ctx, notifyCfg)
		if err != nil {
			return fmt.Errorf("init run notifications: %w", err)
		}
		defer func() {
			publisher.Stop()
			if err := psClient.Close(); err != nil {
				logger.Warn("pubsub client close failed", zap.Error(err))
			}
		}()
		opts = append(opts, pipeline.WithNotifier(publisher))
	}

	runner, err := pipeline.New(fetcher, resolver, export.New(store, logger.Named("export")), opts...)
	if err != nil {
		return err
	}

	sources := make([]catalog.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sources = append(sources, catalog.Source(s))
	}
	if _, err := runner.Run(ctx, pipeline.Config{
		Sources:     sources,
		Genres:      cfg.Genres,
		Destination: dest.Path,
		Descending:  cfg.Export.Descending,
	}); err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}
	return nil
}

func buildStore(ctx context.Context, dest export.Destination) (export.ObjectStore, func(), error) {
	if !dest.Remote() {
		store, err := localstore.New(localstore.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("init local store: %w", err)
		}
		return store, func() {}, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage client: %w", err)
	}
	store, err := gcsstore.New(client, gcsstore.Config{Bucket: dest.Bucket})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("init gcs store: %w", err)
	}
	return store, func() { _ = client.Close() }, nil
}
