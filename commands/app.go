package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"listingwatch/config"
	"listingwatch/scraper/extract"
	"listingwatch/scraper/trademe"
	"listingwatch/services"
	"listingwatch/storage"
	"listingwatch/utils"
)

// app is the wired object graph shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *utils.Logger
	kv       storage.KV
	store    *storage.SnapshotStore
	market   *trademe.Client
	pipeline *services.Pipeline
	metrics  *services.Metrics
	closers  []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.logger.Sync()
	return errors.Join(errs...)
}

// newApp builds the pipeline from cfg. A nil registry skips metrics.
func newApp(ctx context.Context, cfg *config.Config, logger *utils.Logger, reg prometheus.Registerer) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	kv, err := openKV(cfg)
	if err != nil {
		return nil, err
	}
	a.kv = kv
	a.closers = append(a.closers, kv.Close)
	a.store = storage.NewSnapshotStore(kv, cfg.RecentChangesLimit)

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.pipeline = services.NewPipeline(services.PipelineConfig{
		WatchlistMaxPages: cfg.WatchlistMaxPages,
		TrackedURLs:       cfg.TrackedURLs,
	}, a.store, logger)

	if cfg.HasTradeMeCredentials() {
		a.market = trademe.New(trademe.Config{
			BaseURL:         cfg.TradeMeBaseURL,
			ConsumerKey:     cfg.TradeMeConsumerKey,
			ConsumerSecret:  cfg.TradeMeConsumerSecret,
			Token:           cfg.TradeMeToken,
			TokenSecret:     cfg.TradeMeTokenSecret,
			CategoryPrefix:  cfg.TradeMeCategoryPrefix,
			PageSize:        cfg.TradeMePageSize,
			MaxAttempts:     cfg.TradeMeMaxAttempts,
			RetryDelay:      cfg.TradeMeRetryDelay(),
			RetryBackoff:    cfg.TradeMeRetryBackoff,
			RequestInterval: cfg.TradeMeRateLimit(),
		}, logger)
		a.pipeline.WithMarketplace(a.market)
	} else {
		logger.Warn("[app] TRADEME_CONSUMER_KEY/SECRET not set, watchlist disabled")
	}

	rules, err := loadRules(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.pipeline.WithPages(newFetcher(cfg, logger), extract.New(rules, logger))

	a.pipeline.WithArchiver(services.NewArchiver(services.ArchiverConfig{
		Concurrency: cfg.ImageConcurrency,
		ChunkPause:  cfg.ImageChunkPause(),
		Timeout:     cfg.ImageTimeout(),
		MaxBytes:    cfg.ImageMaxBytes,
		UserAgent:   cfg.UserAgent,
	}, blobs, a.store, logger))

	if cfg.ChangesCSVPath != "" {
		w, err := storage.NewChangeCSVWriter(cfg.ChangesCSVPath)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open changes csv: %w", err)
		}
		a.closers = append(a.closers, w.Close)
		a.pipeline.WithChangeWriter(w)
	}

	if reg != nil {
		a.metrics = services.NewMetrics(reg)
		a.pipeline.WithMetrics(a.metrics)
	}

	return a, nil
}

func openKV(cfg *config.Config) (storage.KV, error) {
	switch cfg.StoreBackend {
	case "", "memory":
		return storage.NewMemoryKV(), nil
	case "redis":
		return storage.NewRedisKV(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisNamespace)
	case "postgres":
		return storage.NewPostgresKV(cfg.DSN())
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q (memory, redis, postgres)", cfg.StoreBackend)
	}
}

func openBlobs(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.BlobBackend {
	case "", "memory":
		return storage.NewMemoryBlob(), nil
	case "minio", "s3":
		return storage.NewMinioBlobStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown BLOB_BACKEND %q (memory, minio)", cfg.BlobBackend)
	}
}

func loadRules(cfg *config.Config) ([]extract.SiteRule, error) {
	if cfg.SiteRulesPath == "" {
		return nil, nil
	}
	rules, err := extract.LoadSiteRules(cfg.SiteRulesPath)
	if err != nil {
		return nil, fmt.Errorf("load site rules: %w", err)
	}
	return rules, nil
}

func newFetcher(cfg *config.Config, logger *utils.Logger) extract.Fetcher {
	if cfg.FetchMode == "browser" {
		return extract.NewBrowserFetcher(cfg.ChromeBin, cfg.UserAgent, cfg.FetchTimeout(), logger)
	}
	return extract.NewHTTPFetcher(cfg.FetchTimeout(), cfg.UserAgent)
}
