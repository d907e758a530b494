package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"ewintr.nl/tubedigest/config"
	"ewintr.nl/tubedigest/fetcher"
	"ewintr.nl/tubedigest/model"
	"ewintr.nl/tubedigest/newsletter"
	"ewintr.nl/tubedigest/process"
	"ewintr.nl/tubedigest/retry"
	"ewintr.nl/tubedigest/storage"
	"github.com/gofrs/flock"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tubedigest",
		Short:         "Email digest of new YouTube videos",
		Long:          "tubedigest summarizes the videos that configured YouTube channels published since the last run and mails the summaries as one newsletter.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cache := &cobra.Command{
		Use:   "cache",
		Short: "Manage the transcript cache",
	}
	cache.AddCommand(&cobra.Command{
		Use:   "clear [video-id...]",
		Short: "Remove cached transcripts, all of them when no ids are given",
		RunE:  clearCache,
	})

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Fetch, summarize and mail new videos once",
		Args:  cobra.NoArgs,
		RunE:  run,
	})
	root.AddCommand(cache)
	root.AddCommand(&cobra.Command{
		Use:   "watermarks",
		Short: "Show how far each channel has been processed",
		Args:  cobra.NoArgs,
		RunE:  showWatermarks,
	})

	return root
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if cfg.Channels, err = config.LoadChannels(cfg.ChannelsFile); err != nil {
		logger.Error("invalid channel file", slog.String("error", err.Error()))
		return err
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LockPath), 0o755); err != nil {
		return fmt.Errorf("creating lock dir: %w", err)
	}
	lock := flock.New(cfg.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring run lock: %w", err)
	}
	if !locked {
		err := fmt.Errorf("another run holds %s", cfg.LockPath)
		logger.Error("not starting run", slog.String("error", err.Error()))
		return err
	}
	defer lock.Unlock()

	db, err := openStore(cfg)
	if err != nil {
		logger.Error("unable to open storage", slog.String("error", err.Error()))
		return err
	}
	defer db.Close()
	cache, closeCache, err := openCache(ctx, cfg, db)
	if err != nil {
		logger.Error("unable to open transcript cache", slog.String("error", err.Error()))
		return err
	}
	defer closeCache()

	retryConfig := retry.DefaultConfig()
	retryConfig.MaxAttempts = cfg.MaxAttempts
	retryConfig.MaxRateWait = cfg.MaxRateWait
	rc := retry.New(retryConfig, logger)

	source, err := newSource(ctx, cfg, rc)
	if err != nil {
		logger.Error("unable to create video source", slog.String("error", err.Error()))
		return err
	}

	httpClient := &http.Client{Timeout: cfg.CallTimeout}
	acquirer := fetcher.NewAcquirer(
		cache,
		fetcher.NewInnertube(httpClient, cfg.CaptionLanguages, rc),
		fetcher.NewYtDlp(cfg.YtDlpPath, cfg.AudioDir),
		newTranscribers(cfg),
		rc,
		logger,
	)
	summarizer := process.NewSummarizer(
		newSummaryProviders(cfg),
		process.Constraints{MaxKeyPoints: cfg.MaxKeyPoints, TargetWords: cfg.TargetWords},
		cfg.MaxTranscriptChars,
		rc,
		logger,
	)
	mail := newsletter.New(cfg.EmailFrom, cfg.EmailTo, newSender(cfg, httpClient, rc, logger), logger)

	var archive storage.Archive
	if cfg.WeaviateHost != "" {
		wv, err := storage.NewWeaviate(cfg.WeaviateHost, cfg.WeaviateAPIKey, cfg.OpenAIAPIKey)
		if err == nil {
			err = wv.EnsureSchema(ctx)
		}
		if err != nil {
			logger.Warn("archive disabled, unable to reach weaviate", slog.String("error", err.Error()))
		} else {
			archive = wv
		}
	}

	pipeline := process.NewPipeline(cfg.Channels, source, acquirer, summarizer, mail, db, archive, process.Options{
		Concurrency:         cfg.Concurrency,
		MaxVideosPerChannel: cfg.MaxVideosPerChannel,
		InitialLookback:     cfg.InitialLookback,
		RunTimeout:          cfg.RunTimeout,
		CallTimeout:         cfg.CallTimeout,
		MaxFailedRuns:       cfg.MaxFailedRuns,
		AlwaysAdvance:       cfg.AlwaysAdvance,
	}, logger)

	report, err := pipeline.Run(ctx)
	logger.Info("run finished",
		slog.String("run", report.RunID.String()),
		slog.Int("channels", report.Channels),
		slog.Int("failed_channels", len(report.FailedChannels)),
		slog.Int("new_videos", report.NewVideos),
		slog.Int("summarized", report.Summarized),
		slog.Int("failed", report.Failed),
		slog.Int("dropped", report.Dropped),
		slog.Int("entries", report.Entries),
		slog.Bool("delivered", report.Delivered),
	)
	if err != nil {
		logger.Error("run failed", slog.String("error", err.Error()))
		return err
	}

	return nil
}

func clearCache(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	cache, closeCache, err := openCache(cmd.Context(), cfg, db)
	if err != nil {
		return err
	}
	defer closeCache()

	ids := make([]model.YoutubeVideoID, 0, len(args))
	for _, a := range args {
		ids = append(ids, model.YoutubeVideoID(a))
	}
	n, err := cache.Clear(cmd.Context(), ids...)
	if err != nil {
		return err
	}
	logger.Info("cleared transcript cache", slog.Int64("removed", n))
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d transcripts\n", n)

	return nil
}

func showWatermarks(cmd *cobra.Command, _ []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	if err := cfg.ValidateStorage(); err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	channels, err := db.Channels(cmd.Context())
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Channel", "Name", "Watermark", "Age"})
	now := time.Now()
	for _, c := range channels {
		wm, age := "never", "-"
		if !c.Watermark.IsZero() {
			wm = c.Watermark.Local().Format(time.DateTime)
			age = now.Sub(c.Watermark).Truncate(time.Minute).String()
		}
		tw.AppendRow(table.Row{c.ID, c.Name, wm, age})
	}
	tw.Render()

	return nil
}

func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return config.Config{}, nil, fmt.Errorf("%w: LOG_LEVEL: %w", model.ErrConfiguration, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return cfg, logger, nil
}

func openStore(cfg config.Config) (*storage.SQL, error) {
	if cfg.Storage == "postgres" {
		return storage.NewPostgres(storage.PostgresInfo{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
		})
	}

	return storage.NewSQLite(cfg.SQLitePath)
}

func openCache(ctx context.Context, cfg config.Config, db *storage.SQL) (storage.TranscriptCache, func(), error) {
	if cfg.TranscriptCache != "redis" {
		return db, func() {}, nil
	}
	r, err := storage.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}

	return r, func() { r.Close() }, nil
}

func newSource(ctx context.Context, cfg config.Config, rc retry.Controller) (fetcher.VideoSource, error) {
	switch cfg.VideoSource {
	case "miniflux":
		return fetcher.NewMiniflux(fetcher.MinifluxInfo{
			Endpoint: cfg.MinifluxEndpoint,
			ApiKey:   cfg.MinifluxAPIKey,
		}, rc), nil
	case "rss":
		return fetcher.NewRSS(rc), nil
	}

	ytClient, err := youtube.NewService(ctx, option.WithAPIKey(cfg.YoutubeAPIKey))
	if err != nil {
		return nil, fmt.Errorf("unable to create youtube service: %w", err)
	}

	return fetcher.NewYoutube(ytClient, rc), nil
}

func newSummaryProviders(cfg config.Config) []process.Provider {
	providers := []process.Provider{}
	for _, name := range cfg.SummaryProviders {
		switch strings.ToLower(name) {
		case "openai":
			providers = append(providers, process.NewOpenAIProvider("openai", cfg.OpenAIAPIKey, "", cfg.OpenAIModel))
		case "groq":
			providers = append(providers, process.NewOpenAIProvider("groq", cfg.GroqAPIKey, fetcher.GroqBaseURL, cfg.GroqModel))
		}
	}

	return providers
}

func newTranscribers(cfg config.Config) []fetcher.Transcriber {
	transcribers := []fetcher.Transcriber{}
	for _, name := range cfg.TranscriptionProviders {
		switch strings.ToLower(name) {
		case "openai":
			transcribers = append(transcribers, fetcher.NewWhisper("openai", cfg.OpenAIAPIKey, "", cfg.OpenAITranscriptionModel))
		case "groq":
			transcribers = append(transcribers, fetcher.NewWhisper("groq", cfg.GroqAPIKey, fetcher.GroqBaseURL, cfg.GroqTranscriptionModel))
		}
	}

	return transcribers
}

func newSender(cfg config.Config, client *http.Client, rc retry.Controller, logger *slog.Logger) newsletter.Sender {
	if cfg.Delivery == "smtp" {
		return newsletter.NewSMTP(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password)
	}

	return newsletter.NewPostmark(cfg.PostmarkToken, client, rc, logger)
}
