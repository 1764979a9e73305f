package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/casepilot/internal/app"
	"github.com/lucasnoah/casepilot/internal/config"
	"github.com/lucasnoah/casepilot/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Handle requests from the Redis request stream",
	Long: `Consume the request stream as a member of the consumer group, handle each
job with the dispatcher and publish the envelope to the result stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		a, err := openApp(cmd, app.Options{EventLog: true, Runs: true})
		if err != nil {
			return err
		}
		defer a.Close()
		defer a.Log.Sync()

		q, client, err := openQueue(a.Config)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := q.EnsureGroup(cmd.Context()); err != nil {
			return err
		}

		w := queue.NewWorker(q, a.Dispatcher, queue.WorkerOptions{
			Name:        name,
			Concurrency: concurrency,
			Logger:      a.Log.Named("worker"),
			Observe:     a.Metrics.ObserveJob,
		})
		err = w.Run(cmd.Context())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

var workerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show request and result stream lengths",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		q, client, err := openQueue(cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		requests, results, err := q.Status(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "requests: %d\nresults:  %d\n", requests, results)
		return nil
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <message>",
	Short: "Push a request onto the Redis request stream",
	Long: `Push a request for a worker to handle and print its job id. With --wait the
command blocks until the worker publishes the envelope.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		conversation, _ := cmd.Flags().GetString("conversation")
		taskName, _ := cmd.Flags().GetString("task")
		paramsFlag, _ := cmd.Flags().GetString("params")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		wait, _ := cmd.Flags().GetDuration("wait")
		format, _ := cmd.Flags().GetString("format")

		if err := checkFormat(format); err != nil {
			return err
		}
		variant, err := parseTask(taskName)
		if err != nil {
			return err
		}
		params, err := parseParams(paramsFlag)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		q, client, err := openQueue(cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		job, err := q.Enqueue(cmd.Context(), queue.Job{
			Message:        strings.Join(args, " "),
			ProjectID:      project,
			ConversationID: conversation,
			Task:           string(variant),
			TimeoutSeconds: timeout.Seconds(),
			Params:         params,
		})
		if err != nil {
			return err
		}
		if wait <= 0 {
			fmt.Fprintln(cmd.OutOrStdout(), job.ID)
			return nil
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "enqueued %s, waiting for result...\n", job.ID)

		ctx, cancel := context.WithTimeout(cmd.Context(), wait)
		defer cancel()
		res, err := q.WaitResult(ctx, job.ID, 0)
		if err != nil {
			return fmt.Errorf("wait for %s: %w", job.ID, err)
		}
		if format == "json" {
			if err := writeJSON(cmd.OutOrStdout(), res.Response); err != nil {
				return err
			}
		} else {
			printEnvelope(cmd.OutOrStdout(), res.Response)
		}
		if !res.Response.OK {
			return fmt.Errorf("request failed (%s): %s", res.Response.Reason(), res.Response.Error)
		}
		return nil
	},
}

func openQueue(cfg *config.Config) (*queue.Queue, *redis.Client, error) {
	if cfg.Queue.RedisURL == "" {
		return nil, nil, errors.New("queue.redis_url is not set (or CASEPILOT_REDIS_URL)")
	}
	client, err := queue.ConnectRedis(cfg.Queue.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	q := queue.New(client, queue.Options{
		Stream:       cfg.Queue.Stream,
		ResultStream: cfg.Queue.ResultStream,
		Group:        cfg.Queue.Group,
		Block:        cfg.QueueBlock(),
	})
	return q, client, nil
}

func init() {
	workerCmd.Flags().String("name", "worker", "consumer name prefix")
	workerCmd.Flags().Int("concurrency", 2, "concurrent consumers")
	workerCmd.AddCommand(workerStatusCmd)

	enqueueCmd.Flags().StringP("project", "p", "", "project id (required)")
	enqueueCmd.Flags().String("conversation", "", "conversation id")
	enqueueCmd.Flags().String("task", "", "skip classification and run this task")
	enqueueCmd.Flags().String("params", "", "workflow parameters as JSON or @file")
	enqueueCmd.Flags().Duration("timeout", 0, "request deadline")
	enqueueCmd.Flags().Duration("wait", 0, "wait this long for the result (0 prints the job id and exits)")
	enqueueCmd.Flags().String("format", "text", "Output format: text or json")
}
