// Package bootstrap turns a loaded Config into a ready Service.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/okian/badgeboard/internal/adapters/objectstore"
	"github.com/okian/badgeboard/internal/adapters/repository"
	"github.com/okian/badgeboard/internal/adapters/smarterer"
	service "github.com/okian/badgeboard/internal/app"
	"github.com/okian/badgeboard/internal/config"
	"github.com/okian/badgeboard/pkg/logger"
	"github.com/okian/badgeboard/pkg/metrics"
)

// App bundles the service with the resources the caller must release.
type App struct {
	Service *service.Service
	Store   repository.Store
}

// Close releases the store.
func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// Build resets the metrics registry from cfg, opens the store, builds the
// remote client and the optional badge mirror, and wires them into a Service.
// Handlers that expose metrics must be created after Build.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	metrics.Init(
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithMetricsEnabled(cfg.MetricsEnabled),
	)

	store, err := repository.Open(ctx, cfg.StoreDriver, cfg.StoreDSN, repository.WithLogger(log.Named("store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	remote := smarterer.New(
		smarterer.WithBaseURLs(cfg.APIBaseURL, cfg.OAuthBaseURL),
		smarterer.WithClientCredentials(cfg.ClientID, cfg.ClientSecret),
		smarterer.WithTimeout(cfg.RemoteTimeout),
		smarterer.WithInsecureSkipVerify(cfg.RemoteInsecureSkipVerify),
		smarterer.WithLogger(log.Named("smarterer")),
	)

	opts := []service.Option{
		service.WithLogger(log.Named("service")),
		service.WithTestIDs(cfg.TestIDs...),
		service.WithRetries(cfg.RemoteRetries, 0),
		service.WithConcurrency(cfg.SyncConcurrency),
	}

	if cfg.MirrorEnabled {
		uploader, err := objectstore.NewS3Uploader(ctx, objectstore.S3Config{
			Bucket:          cfg.MirrorBucket,
			Endpoint:        cfg.MirrorEndpoint,
			Region:          cfg.MirrorRegion,
			AccessKeyID:     cfg.MirrorAccessKeyID,
			SecretAccessKey: cfg.MirrorSecretAccessKey,
			PublicBaseURL:   cfg.MirrorPublicBaseURL,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("badge mirror: %w", err)
		}
		opts = append(opts, service.WithMirror(objectstore.NewMirror(uploader, objectstore.WithPrefix(cfg.MirrorPrefix))))
		log.Info(ctx, "badge mirroring enabled", logger.String("bucket", cfg.MirrorBucket))
	}

	log.Info(ctx, "store ready",
		logger.String("driver", cfg.StoreDriver),
		logger.Any("test_ids", cfg.TestIDs),
	)

	return &App{
		Service: service.New(store, remote, opts...),
		Store:   store,
	}, nil
}
