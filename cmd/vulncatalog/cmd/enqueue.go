package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openctemio/vulncatalog/internal/infra/jobs"
)

var (
	flagEnqueueResolve    bool
	flagEnqueueInline     bool
	flagEnqueueRepository string
	flagEnqueueScan       string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue work for the background worker",
}

var enqueueProcessCmd = &cobra.Command{
	Use:   "process URI",
	Short: "Queue a batch document for processing",
	Long: `Queue a batch document for the worker. By default only the URI is queued
and the worker loads it; --inline loads the document here and queues its
content, for documents the worker cannot reach.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnqueueProcess,
}

var enqueueResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Queue auto-resolution for a completed scan",
	Args:  cobra.NoArgs,
	RunE:  runEnqueueResolve,
}

func init() {
	enqueueProcessCmd.Flags().BoolVar(&flagEnqueueResolve, "resolve", false, "Auto-resolve vanished vulnerabilities after processing")
	enqueueProcessCmd.Flags().BoolVar(&flagEnqueueInline, "inline", false, "Load the document locally and queue its content")

	enqueueResolveCmd.Flags().StringVar(&flagEnqueueRepository, "repository", "", "Repository id (required)")
	enqueueResolveCmd.Flags().StringVar(&flagEnqueueScan, "scan", "", "Current scan id (required)")
	_ = enqueueResolveCmd.MarkFlagRequired("repository")
	_ = enqueueResolveCmd.MarkFlagRequired("scan")

	enqueueCmd.AddCommand(enqueueProcessCmd)
	enqueueCmd.AddCommand(enqueueResolveCmd)
}

// enqueueOutput is the result of the enqueue commands.
type enqueueOutput struct {
	TaskID string `json:"task_id" yaml:"task_id"`
	Queue  string `json:"queue" yaml:"queue"`
}

func (e *appEnv) newJobClient() *jobs.Client {
	client := jobs.NewClient(jobs.ClientConfig{
		RedisAddr:     e.cfg.Redis.Addr(),
		RedisPassword: e.cfg.Redis.Password,
		RedisDB:       e.cfg.Redis.DB,
		Queue:         e.cfg.Worker.Queue,
	}, e.log)
	e.onClose("job client", client.Close)
	return client
}

func runEnqueueProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env, err := newAppEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	payload := jobs.ProcessBatchPayload{BatchURI: args[0], Resolve: flagEnqueueResolve}
	if flagEnqueueInline {
		loader, err := env.newLoader(ctx)
		if err != nil {
			return err
		}
		batch, err := loader.Load(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load batch: %w", err)
		}
		payload = jobs.ProcessBatchPayload{Batch: batch, Resolve: flagEnqueueResolve}
	}

	return enqueue(cmd, env, func(ctx context.Context, c *jobs.Client) (string, error) {
		return c.EnqueueProcessBatch(ctx, payload)
	})
}

func runEnqueueResolve(cmd *cobra.Command, args []string) error {
	env, err := newAppEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	return enqueue(cmd, env, func(ctx context.Context, c *jobs.Client) (string, error) {
		return c.EnqueueResolveVanished(ctx, jobs.ResolveVanishedPayload{
			RepositoryID: flagEnqueueRepository,
			ScanID:       flagEnqueueScan,
		})
	})
}

func enqueue(cmd *cobra.Command, env *appEnv, fn func(context.Context, *jobs.Client) (string, error)) error {
	taskID, err := fn(cmd.Context(), env.newJobClient())
	if err != nil {
		return err
	}

	out := enqueueOutput{TaskID: taskID, Queue: env.cfg.Worker.Queue}
	w := cmd.OutOrStdout()
	if done, err := printStructured(w, flagOutput, out); done {
		return err
	}
	fmt.Fprintf(w, "Queued task %s on %s\n", out.TaskID, out.Queue)
	return nil
}
