package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openctemio/vulncatalog/internal/app/dedup"
	"github.com/openctemio/vulncatalog/internal/infra/controller"
	infrahttp "github.com/openctemio/vulncatalog/internal/infra/http"
	"github.com/openctemio/vulncatalog/internal/infra/http/handler"
	"github.com/openctemio/vulncatalog/internal/infra/http/routes"
	"github.com/openctemio/vulncatalog/internal/infra/jobs"
	"github.com/openctemio/vulncatalog/internal/infra/postgres"
	"github.com/openctemio/vulncatalog/internal/infra/redis"
)

const (
	shutdownTimeout       = 30 * time.Second
	workerHTTPReadTimeout = 10 * time.Second
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background worker",
	Long: `Run the job worker that processes queued batches and auto-resolution
requests, the periodic resolution sweep, and the operational HTTP endpoints
(/health, /ready, /metrics on WORKER_HTTP_ADDR). Every
WORKER_STATS_INTERVAL it refreshes the catalog gauges.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := newAppEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	cfg, log := env.cfg, env.log

	log.Info("starting worker", "app", cfg.App.Name, "env", cfg.App.Env, "version", version)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	if err := env.startTelemetry(ctx); err != nil {
		return err
	}
	db, err := env.openDB(ctx)
	if err != nil {
		return err
	}
	redisClient, err := env.openRedis(ctx)
	if err != nil {
		return err
	}
	prometheus.MustRegister(db.StatsCollector(), redis.NewPoolCollector(redisClient))

	// ==========================================================================
	// Services
	// ==========================================================================
	svc, err := env.newService(ctx, db)
	if err != nil {
		return err
	}
	loader, err := env.newLoader(ctx)
	if err != nil {
		return err
	}

	sweeper, err := dedup.NewResolutionSweeper(svc, dedup.SweeperConfig{
		Enabled:  cfg.Worker.SweepEnabled,
		Schedule: cfg.Worker.SweepSchedule,
		Lookback: cfg.Worker.SweepLookback,
	}, log)
	if err != nil {
		return err
	}

	controllers := controller.NewManager(controller.NewPrometheusMetrics(prometheus.DefaultRegisterer), log)
	if interval := cfg.Worker.StatsInterval; interval > 0 {
		controllers.Register(controller.NewCatalogStatsController(
			postgres.NewUnifiedRepository(db),
			controller.CatalogStatsConfig{Interval: interval},
			log,
		))
	}

	// ==========================================================================
	// Job worker and HTTP server
	// ==========================================================================
	worker := jobs.NewWorker(jobs.WorkerConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Concurrency:   cfg.Worker.Concurrency,
		Queue:         cfg.Worker.Queue,
	}, jobs.NewDedupTaskHandler(svc, loader, log), log)

	server := infrahttp.NewServer(infrahttp.ServerConfig{
		Addr:        cfg.Worker.HTTPAddr,
		ReadTimeout: workerHTTPReadTimeout,
		Production:  cfg.IsProduction(),
	}, log)
	routes.Register(server.Router(), handler.NewHealthHandler(
		handler.WithCheck("database", db),
		handler.WithCheck("redis", redisClient),
		handler.WithVersion(version),
	))

	sweeper.Start()
	defer sweeper.Stop()
	if err := controllers.Start(ctx); err != nil {
		return err
	}
	defer controllers.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("worker stopped with error", "error", err)
		return err
	}
	log.Info("worker stopped")
	return nil
}
