package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"sunat-client/internal/bridge"
	"sunat-client/internal/download"
	"sunat-client/internal/ple"
	"sunat-client/internal/poller"
	"sunat-client/internal/services/health"
	"sunat-client/internal/shared/backend"
	"sunat-client/internal/shared/config"
	"sunat-client/internal/shared/storage/db"
	"sunat-client/internal/shared/storage/object"
	localstore "sunat-client/internal/shared/storage/object/local"
	s3store "sunat-client/internal/shared/storage/object/s3"
	"sunat-client/internal/shared/telemetry"
	"sunat-client/internal/tickets"
	"sunat-client/internal/tracker"
	"sunat-client/internal/watchlist"
)

// resumeConcurrency bounds how many monitors are initialized at once on start.
const resumeConcurrency = 4

// App holds the agent's shared dependencies.
type App struct {
	Config    config.Config
	Router    *gin.Engine
	DB        *sql.DB
	Store     object.ObjectStore
	Backend   *backend.Client
	Tickets   *tickets.Client
	PLE       *ple.Client
	Poller    *poller.Poller
	Watchlist *watchlist.Service
	Tracker   *tracker.Tracker
	Downloads *download.Coordinator
	Workflows *bridge.Workflows
	Health    *health.Service
}

// Build prepares every dependency and the bridge router. It opens the database
// when DATABASE_URL is set; dev-like environments fall back to memory.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}

	client, err := backend.New(backend.Options{
		BaseURL: cfg.BackendURL,
		Token:   cfg.BackendToken,
		Timeout: cfg.BackendTimeout,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, err
	}

	app := &App{
		Config:  cfg,
		DB:      sqlDB,
		Store:   store,
		Backend: client,
		Tickets: tickets.NewClient(client),
		PLE:     ple.NewClient(client),
	}
	buildServices(app)

	app.Router = bridge.NewRouter(bridge.Deps{
		Config:  cfg,
		Handler: bridge.NewHandler(app.Tracker, app.Downloads, app.Workflows),
		Health:  app.Health,
	})
	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Printf("bootstrap: DATABASE_URL empty; using in-memory watchlist")
		return nil, nil
	}
	sqlDB, err := db.OpenAndMigrate(ctx, cfg.DatabaseURL)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database unavailable; using in-memory watchlist: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	case "none":
		return nil, nil
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func buildServices(app *App) {
	var repo watchlist.Repo
	if app.DB != nil {
		repo = &watchlist.PGRepo{DB: app.DB}
	} else {
		repo = watchlist.NewMemoryRepo()
	}
	app.Watchlist = watchlist.NewService(repo)

	app.Poller = poller.New(app.Tickets, poller.WithDefaults(app.Config.PollInterval, app.Config.PollMaxAttempts))
	app.Tracker = tracker.New(app.Tickets,
		tracker.WithPoller(app.Poller),
		tracker.WithRecorder(app.Watchlist),
		tracker.WithOwner(app.Config.DefaultRUC),
	)
	app.Downloads = download.New(app.Poller, app.Tickets, app.Store, app.Watchlist)
	app.Workflows = bridge.NewWorkflows(app.PLE,
		ple.WithCloseDelay(app.Config.PLECloseDelay),
		ple.WithMaxEntryBytes(app.Config.PLEMaxEntryBytes),
	)

	app.Health = health.NewService()
	if app.DB != nil {
		app.Health.Register("database", app.DB.PingContext)
	}
}

// ResumeActive restarts monitors for every ticket the watchlist still considers
// active, so polling survives an agent restart. Tickets that no longer exist on
// the backend are logged and skipped.
func (a *App) ResumeActive(ctx context.Context) error {
	entries, err := a.Watchlist.Active(ctx, "")
	if err != nil {
		return fmt.Errorf("list active tickets: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resumeConcurrency)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			if _, err := a.Tracker.Monitor(gctx, e.TicketID); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				telemetry.Warn("bootstrap.resume_failed", map[string]any{
					"ticket_id": e.TicketID,
					"ruc":       e.OwnerID,
					"error":     err.Error(),
				})
				return nil
			}
			telemetry.Info("bootstrap.resumed", map[string]any{
				"ticket_id": e.TicketID,
				"ruc":       e.OwnerID,
				"status":    string(e.Status),
			})
			return nil
		})
	}
	return g.Wait()
}

// Close stops monitors and releases the database.
func (a *App) Close() error {
	if a.Tracker != nil {
		a.Tracker.Dispose()
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
