package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/openctemio/vulncatalog/pkg/logger"
)

// DefaultQueue is the queue deduplication tasks are enqueued on.
const DefaultQueue = "dedup"

// Client manages enqueueing background jobs using Asynq.
type Client struct {
	client *asynq.Client
	queue  string
	logger *logger.Logger
}

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Queue         string
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	queue := cfg.Queue
	if queue == "" {
		queue = DefaultQueue
	}

	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queue,
		logger: log.With("component", "job_client"),
	}
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueProcessBatch enqueues a batch processing job and returns its task id.
func (c *Client) EnqueueProcessBatch(ctx context.Context, payload ProcessBatchPayload) (string, error) {
	task, err := NewProcessBatchTask(payload, c.queue)
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue batch",
			"batch_uri", payload.BatchURI,
			"error", err,
		)
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.Info("batch queued",
		"task_id", info.ID,
		"batch_uri", payload.BatchURI,
		"inline", payload.Batch != nil,
		"queue", info.Queue,
	)
	return info.ID, nil
}

// EnqueueResolveVanished enqueues an auto-resolution job and returns its task id.
func (c *Client) EnqueueResolveVanished(ctx context.Context, payload ResolveVanishedPayload) (string, error) {
	task, err := NewResolveVanishedTask(payload, c.queue)
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue resolve",
			"repository_id", payload.RepositoryID,
			"scan_id", payload.ScanID,
			"error", err,
		)
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.Info("resolve queued",
		"task_id", info.ID,
		"repository_id", payload.RepositoryID,
		"scan_id", payload.ScanID,
		"queue", info.Queue,
	)
	return info.ID, nil
}
