package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/kitchensink/engine/account"
	"github.com/WessleyAI/kitchensink/engine/asset"
	"github.com/WessleyAI/kitchensink/engine/database"
	"github.com/WessleyAI/kitchensink/engine/database/neo4jdb"
	"github.com/WessleyAI/kitchensink/engine/database/qdrantdb"
	"github.com/WessleyAI/kitchensink/engine/subscription"
	"github.com/WessleyAI/kitchensink/pkg/activity"
	"github.com/WessleyAI/kitchensink/pkg/natsutil"
	"github.com/WessleyAI/kitchensink/pkg/resilience"
	"github.com/nats-io/nats.go"
)

// services is the wired object graph behind both the CLI and the server.
type services struct {
	// store is the guarded backend; db additionally reports changes to the
	// notifier.
	store    *database.Guarded
	db       database.Database
	registry *subscription.Registry
	notifier *subscription.Notifier
	assets   asset.Store
	accounts *account.Service
	activity *activity.Indicator
	nc       *nats.Conn
	logger   *slog.Logger
}

func openServices(ctx context.Context, cfg config, logger *slog.Logger) (*services, error) {
	s := &services{activity: activity.New(), logger: logger}
	s.activity.Watch(func(visible bool) {
		logger.Debug("network activity", "visible", visible)
	})

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	opts := resilience.DefaultBreakerOpts
	if cfg.BreakerThreshold > 0 {
		opts.FailThreshold = cfg.BreakerThreshold
	}
	if cfg.BreakerTimeout > 0 {
		opts.Timeout = cfg.BreakerTimeout
	}
	opts.OnStateChange = func(from, to resilience.State) {
		logger.Warn("record store breaker", "from", from.String(), "to", to.String(), "backend", cfg.Backend)
	}
	s.store = database.WithBreaker(backend, opts)
	s.registry = subscription.NewRegistry(s.store, logger)

	var pub subscription.Publisher
	if cfg.NATSURL != "" {
		s.nc, err = natsutil.Connect(cfg.NATSURL, "kitchensink", logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		pub = subscription.NewNATSPublisher(s.nc)
	}
	s.notifier = subscription.NewNotifier(s.registry, pub, logger)
	s.db = database.Observe(s.store, s.notifier.OnChange, logger)

	s.assets, err = openAssets(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.accounts = account.NewService(cfg.Directory, s.db, s.assets,
		account.WithActivity(s.activity),
		account.WithLogger(logger),
	)
	logger.Debug("services ready", "backend", cfg.Backend, "assets", cfg.AssetBackend, "nats", s.nc != nil)
	return s, nil
}

func openBackend(ctx context.Context, cfg config, logger *slog.Logger) (database.Database, error) {
	switch cfg.Backend {
	case "qdrant":
		store, err := qdrantdb.New(cfg.QdrantAddr, cfg.Collection, cfg.PageSize)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureCollection(ctx); err != nil {
			store.Close()
			return nil, err
		}
		logger.Info("qdrant store ready", "addr", cfg.QdrantAddr, "collection", cfg.Collection)
		return store, nil
	case "neo4j":
		store, err := neo4jdb.New(ctx, cfg.Neo4jURL, cfg.Neo4jUser, cfg.Neo4jPass, cfg.Neo4jDB, cfg.PageSize)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		logger.Info("neo4j store ready", "url", cfg.Neo4jURL)
		return store, nil
	default:
		return database.NewMemory(database.WithPageSize(cfg.PageSize)), nil
	}
}

func openAssets(ctx context.Context, cfg config) (asset.Store, error) {
	if cfg.AssetBackend != "s3" {
		return asset.NewDisk(cfg.AssetDir)
	}
	s3, err := asset.NewS3(asset.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		Prefix:    cfg.S3Prefix,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Insecure:  cfg.S3Insecure,
	})
	if err != nil {
		return nil, err
	}
	if err := s3.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("asset: ensure bucket %s: %w", cfg.S3Bucket, err)
	}
	return s3, nil
}

// Close releases the backend and the NATS connection.
func (s *services) Close() error {
	var errs []error
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// withServices opens the services for the duration of fn.
func (a *app) withServices(ctx context.Context, fn func(*services) error) error {
	s, err := openServices(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			a.logger.Warn("close services", "err", err)
		}
	}()
	return fn(s)
}
