package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/openctemio/vulncatalog/pkg/logger"
)

// WorkerConfig holds the configuration for the job worker.
type WorkerConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
	Queue         string
}

// Worker processes background jobs.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *logger.Logger
}

// NewWorker creates a new background job worker serving handler.
func NewWorker(cfg WorkerConfig, handler *DedupTaskHandler, log *logger.Logger) *Worker {
	queue := cfg.Queue
	if queue == "" {
		queue = DefaultQueue
	}

	log = log.With("component", "job_worker")
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				queue:     10,
				"default": 1,
			},
			Logger: asynqLogger{log},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				log.Warn("task failed",
					"type", task.Type(),
					"retried", retried,
					"max_retry", maxRetry,
					"error", err,
				)
			}),
		},
	)

	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	return &Worker{
		server: server,
		mux:    mux,
		logger: log,
	}
}

// Stop stops the worker gracefully.
func (w *Worker) Stop() {
	w.logger.Info("stopping job worker")
	w.server.Shutdown()
}

// Run starts the worker and blocks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting job worker")

	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}

	<-ctx.Done()
	w.Stop()
	return nil
}

// asynqLogger routes asynq's internal logging through the service logger.
type asynqLogger struct {
	log *logger.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...)) }
