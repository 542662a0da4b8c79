package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dtroode/pastedb/internal/api/cli"
	"github.com/dtroode/pastedb/internal/config"
	"github.com/dtroode/pastedb/internal/logger"
	"github.com/dtroode/pastedb/internal/model"
	"github.com/dtroode/pastedb/internal/password"
	pointermemory "github.com/dtroode/pastedb/internal/repository/memory"
	"github.com/dtroode/pastedb/internal/repository/postgres"
	"github.com/dtroode/pastedb/internal/repository/sqlite"
	"github.com/dtroode/pastedb/internal/service"
	"github.com/dtroode/pastedb/internal/storage/cache"
	"github.com/dtroode/pastedb/internal/storage/gcs"
	storagelog "github.com/dtroode/pastedb/internal/storage/logging"
	"github.com/dtroode/pastedb/internal/storage/memory"
	storage "github.com/dtroode/pastedb/internal/storage/minio"
	"github.com/dtroode/pastedb/internal/storage/paste"
	"github.com/dtroode/pastedb/internal/storage/s3"
	"github.com/dtroode/pastedb/internal/storage/selector"
	"github.com/dtroode/pastedb/internal/token"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Printf("failed to parse config: %v", err)
		_ = cli.Fail(os.Stdout, err)
		return 1
	}
	logger := logger.New(cfg.LogLevel)

	logger.Debug("pastedb starting",
		"version", buildVersion,
		"date", buildDate,
		"commit", buildCommit)

	hc := &http.Client{}
	registry := selector.NewRegistry(hc, logger)

	pg, closers := registerBackends(ctx, cfg, registry, hc, logger)
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("failed to release resource", "error", err)
			}
		}
	}()

	selected, err := registry.Select(ctx, cfg.Backend.Preferred, cfg.Backend.PingTimeout)
	if err != nil {
		logger.Error("failed to select backend", "error", err)
		_ = cli.Fail(os.Stdout, err)
		return 1
	}

	backend := decorate(selected, cfg, logger)

	pointers, closePointers, err := openPointers(ctx, cfg, pg)
	if err != nil {
		logger.Error("failed to open index pointer store", "error", err)
		_ = cli.Fail(os.Stdout, err)
		return 1
	}
	if closePointers != nil {
		defer closePointers()
	}

	store := service.NewStore(backend, pointers, logger,
		service.WithAvailableBackends(registry.Names()),
		service.WithIndexID(cfg.Index.ID))

	accounts := func(ctx context.Context) (cli.Accounts, error) {
		a, err := service.NewAuth(ctx, store,
			password.NewPBKDF2(cfg.Auth.Iterations, cfg.Auth.SaltBytes),
			token.NewRandom(cfg.Auth.TokenBytes),
			logger,
			service.WithSessionTTL(cfg.Auth.SessionTTL))
		if err != nil {
			return nil, err
		}
		return a, nil
	}

	router := cli.NewRouter(store, accounts, os.Stdout, logger)
	if err := router.Run(ctx, os.Args[1:]); err != nil {
		return 1
	}
	return 0
}

// registerBackends registers every configured backend in preference order:
// the pastebin adapters from BACKEND_ENABLED first, then the optional object
// stores and PostgreSQL. Backends that fail to initialize are skipped.
func registerBackends(
	ctx context.Context,
	cfg *config.Config,
	registry *selector.Registry,
	hc *http.Client,
	logger *logger.Logger,
) (*postgres.Connection, []func() error) {
	opts := []paste.Option{
		paste.WithHTTPClient(hc),
		paste.WithUserAgent(cfg.Backend.UserAgent),
	}

	for _, name := range cfg.Backend.Enabled {
		switch strings.TrimSpace(name) {
		case "dpaste":
			registry.Register(paste.NewDPaste(opts...))
		case "pasteee":
			registry.Register(paste.NewPasteEe(cfg.Backend.PasteEeKey, opts...))
		case "hastebin":
			registry.Register(paste.NewHastebin(opts...))
		case "justpaste":
			registry.Register(paste.NewJustPaste(opts...))
		case "pastebincom":
			registry.Register(paste.NewPastebinCom(cfg.Backend.PastebinKey, opts...))
		case "controlc":
			registry.Register(paste.NewControlC(opts...))
		case "memory":
			registry.Register(memory.New("memory"))
		case "":
		default:
			logger.Warn("unknown backend in BACKEND_ENABLED", "backend", name)
		}
	}

	var closers []func() error

	if cfg.Minio.Endpoint != "" {
		mc, err := minio.New(cfg.Minio.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
			Secure: cfg.Minio.UseSSL,
		})
		if err != nil {
			logger.Warn("failed to create minio client", "error", err)
		} else if client, err := storage.NewClient(ctx, mc, cfg.Minio.Bucket); err != nil {
			logger.Warn("failed to initialize minio backend", "error", err)
		} else {
			registry.Register(client)
		}
	}

	if cfg.S3.Bucket != "" {
		b, err := s3.New(ctx, cfg.S3)
		if err != nil {
			logger.Warn("failed to initialize s3 backend", "error", err)
		} else {
			registry.Register(b)
		}
	}

	if cfg.GCS.Bucket != "" {
		b, closeFn, err := gcs.New(ctx, cfg.GCS)
		if err != nil {
			logger.Warn("failed to initialize gcs backend", "error", err)
		} else {
			registry.Register(b)
			closers = append(closers, closeFn)
		}
	}

	var pg *postgres.Connection
	if cfg.Postgres.DSN != "" {
		conn, err := postgres.NewConnection(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.Warn("failed to initialize postgres backend", "error", err)
		} else {
			pg = conn
			registry.Register(postgres.NewBlobRepository(conn, conn.URL()))
			closers = append(closers, func() error {
				conn.Close()
				return nil
			})
		}
	}

	return pg, closers
}

// decorate wraps the selected backend. The cache sits outermost so only
// real remote calls get logged.
func decorate(b model.Backend, cfg *config.Config, logger *logger.Logger) model.Backend {
	if cfg.Backend.LogCalls {
		b = storagelog.New(b, logger)
	}
	if cfg.Backend.CacheSize > 0 {
		b = cache.New(b, cfg.Backend.CacheSize, cfg.Backend.CacheTTL)
	}
	return b
}

// openPointers picks where the id of the latest index snapshot is kept:
// a sqlite file when INDEX_DSN is set, PostgreSQL when it is configured,
// process memory otherwise.
func openPointers(ctx context.Context, cfg *config.Config, pg *postgres.Connection) (model.IndexPointerStore, func() error, error) {
	switch {
	case cfg.Index.DSN != "":
		db, err := sqlite.Open(ctx, cfg.Index.DSN)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.NewPointerRepository(db), db.Close, nil
	case pg != nil:
		return postgres.NewPointerRepository(pg), nil, nil
	default:
		return pointermemory.NewPointerStore(), nil, nil
	}
}
