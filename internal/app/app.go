// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RPLaine/newsroom-processor/internal/config"
	"github.com/RPLaine/newsroom-processor/internal/core"
	db "github.com/RPLaine/newsroom-processor/internal/core/database"
	"github.com/RPLaine/newsroom-processor/internal/core/ingestion_engine"
	"github.com/RPLaine/newsroom-processor/internal/core/llm"
	objectclient "github.com/RPLaine/newsroom-processor/internal/core/object-client"
	"github.com/RPLaine/newsroom-processor/internal/dispatcher"
	"github.com/RPLaine/newsroom-processor/internal/services"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	DBClient  core.DbClient
	LLM       core.LLMProvider
	Mirror    *ingestion_engine.OutputMirror
	Processes *services.ProcessService
	Server    *Server
}

func NewApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("data store initialized and ready", zap.String("data_dir", cfg.DataDir))

	llmProvider, err := llm.NewProvider(appCtx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the LLM provider: %w", err)
	}
	log.Info("LLM provider ready", zap.String("provider", cfg.LLMProvider))

	// A job lock may be held across a whole LLM call.
	locks := db.NewKeyedLocker(cfg.LLMTimeout + cfg.StoreLockTimeout)

	useReadability := false
	jobs := services.NewJobService(dbClient, llmProvider, locks, log).
		WithExtractor(ingestion_engine.NewDocconvExtractor(useReadability))
	processes := services.NewProcessService(dbClient, llmProvider, locks, log)

	a := &App{cfg: cfg, log: log, DBClient: dbClient, LLM: llmProvider, Processes: processes}

	if cfg.MirrorEnabled() {
		objClient, err := objectclient.NewS3Client(appCtx, cfg, log)
		if err != nil {
			return nil, err
		}
		a.Mirror = ingestion_engine.NewOutputMirror(objClient, cfg.BucketName, log)
		jobs.WithArchiver(a.Mirror)
		processes.WithArchiver(a.Mirror)
		log.Info("object storage mirror enabled", zap.String("bucket", cfg.BucketName))
	}

	users := services.NewUserService(dbClient)
	d := dispatcher.New(users, jobs, processes, log)
	a.Server = NewServer(cfg, users, jobs, processes, d, log)
	return a, nil
}

// Run serves HTTP until ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.Mirror != nil {
		a.Mirror.Start(gctx, a.cfg.MirrorWorkers)
	}

	g.Go(a.Server.Start)
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := a.Server.Shutdown(shutdownCtx)
		if perr := a.Processes.Shutdown(shutdownCtx); perr != nil {
			a.log.Warn("auto-advance runners did not stop in time", zap.Error(perr))
		}
		if a.Mirror != nil {
			a.Mirror.Wait()
		}
		return err
	})

	return g.Wait()
}

func (a *App) Close() {
	if c, ok := a.LLM.(io.Closer); ok {
		_ = c.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
	_ = a.log.Sync()
}
