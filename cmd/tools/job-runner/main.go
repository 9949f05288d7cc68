// Package main implements the job-runner CLI for invoking scheduler tasks
// directly, bypassing the dispatcher Lambda.
//
// It is meant for local development, manual catch-up runs and operational
// debugging. Tasks go through the same TaskRunner as the Lambda and the HTTP
// trigger, under the same job lock and history bookkeeping.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --task=process_scheduled
//	go run ./cmd/tools/job-runner --task=reclaim_stuck --reference-time=2026-03-01T12:05:00Z
//	go run ./cmd/tools/job-runner --dry-run --task=process_scheduled
//	go run ./cmd/tools/job-runner --list
//	go run ./cmd/tools/job-runner --stats
//	go run ./cmd/tools/job-runner --init-schema
//
// Configuration comes from the environment (or .env via the config loader).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"

	"smsdispatch/internal/app"
	"smsdispatch/internal/config"
	"smsdispatch/internal/db"
	"smsdispatch/internal/scheduler"
	"smsdispatch/internal/types"
)

var taskDescriptions = map[scheduler.TaskType]string{
	scheduler.TaskProcessScheduled: "Send due pending, scheduled and retry messages (one batch)",
	scheduler.TaskReclaimStuck:     "Reset messages stuck in processing past the stale threshold",
}

const lockTTL = 15 * time.Minute

var errUsage = errors.New("usage error")

type options struct {
	task       scheduler.TaskType
	refTime    *time.Time
	list       bool
	dryRun     bool
	stats      bool
	initSchema bool
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
			flag.CommandLine.Usage()
		}
		os.Exit(2)
	}

	switch {
	case opts.list:
		printAvailableTasks(os.Stderr)
		return
	case opts.dryRun:
		if err := printPayload(os.Stdout, scheduler.TriggerPayload{Task: opts.task, ReferenceTime: opts.refTime}); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("job-runner failed", "error", err)
		os.Exit(1)
	}
}

// parseFlags validates the flag combination. Exactly one of --list,
// --stats, --init-schema or --task is required; --dry-run needs --task.
func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var opts options
	taskFlag := fs.String("task", "", "Task type to execute (process_scheduled, reclaim_stuck)")
	refTimeFlag := fs.String("reference-time", "", "Override reference time (RFC3339, e.g. 2026-03-01T12:05:00Z)")
	fs.BoolVar(&opts.list, "list", false, "List all available task types and exit")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Print the JSON trigger payload without executing")
	fs.BoolVar(&opts.stats, "stats", false, "Print message counts by status")
	fs.BoolVar(&opts.initSchema, "init-schema", false, "Apply the embedded database schema")

	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(out, "Invoke scheduler tasks directly, bypassing Lambda.\n\n")
		fmt.Fprintf(out, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if opts.list || opts.stats || opts.initSchema {
		return opts, nil
	}

	if *taskFlag == "" {
		return opts, fmt.Errorf("%w: --task is required", errUsage)
	}
	opts.task = scheduler.TaskType(*taskFlag)
	if !opts.task.Valid() {
		return opts, fmt.Errorf("%w: unknown task type %q", errUsage, *taskFlag)
	}

	if *refTimeFlag != "" {
		t, err := time.Parse(time.RFC3339, *refTimeFlag)
		if err != nil {
			return opts, fmt.Errorf("%w: invalid --reference-time %q: expected RFC3339", errUsage, *refTimeFlag)
		}
		opts.refTime = &t
	}
	return opts, nil
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	switch {
	case opts.initSchema:
		return initSchema(ctx, cfg, logger)
	case opts.stats:
		return printStats(ctx, cfg, os.Stdout)
	}

	result, err := executeTask(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	logger.Info("task execution succeeded", "task", string(opts.task), "result", result)
	return nil
}

// executeTask mirrors the dispatcher Lambda flow: lock, history, run.
func executeTask(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger) (string, error) {
	pipeline, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		return "", fmt.Errorf("wiring pipeline: %w", err)
	}
	defer pipeline.Close()

	jobLocks := db.NewJobLockRepository(pipeline.Pool, nil)
	jobHistory := db.NewJobHistoryRepository(pipeline.Pool)
	workerID := "job-runner-" + uuid.NewString()

	now := time.Now().UTC()
	if opts.refTime != nil {
		now = opts.refTime.UTC()
	}

	taskStr := string(opts.task)
	logger.Info("executing task",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", workerID,
	)

	lockID := fmt.Sprintf("%s:%s", opts.task, now.Truncate(opts.task.Window()).Format("2006-01-02T15:04"))
	acquired, err := jobLocks.Acquire(ctx, lockID, workerID, lockTTL)
	if err != nil {
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}

	jobID, err := jobHistory.Start(ctx, taskStr)
	if err != nil {
		logger.Warn("failed to record job start (continuing anyway)", "error", err)
		jobID = 0
	}

	items, execErr := pipeline.Runner.Run(scheduler.WithSource(ctx, scheduler.SourceCLI), opts.task, now)

	status := "success"
	if execErr != nil {
		status = "failed"
	}
	if jobID != 0 {
		if finishErr := jobHistory.Finish(ctx, jobID, status, items, execErr); finishErr != nil {
			logger.Error("failed to record job completion", "job_id", jobID, "error", finishErr)
		}
	}

	if execErr != nil {
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}
	return fmt.Sprintf("task %s complete: %d items processed", taskStr, items), nil
}

func initSchema(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := db.ApplySchema(ctx, pool); err != nil {
		return err
	}
	logger.Info("schema applied")
	return nil
}

func printStats(ctx context.Context, cfg *config.Config, w io.Writer) error {
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	counts, err := db.NewMessageRepository(pool).CountByStatus(ctx)
	if err != nil {
		return err
	}
	writeStats(w, counts)
	return nil
}

// writeStats prints one line per known status, zero counts included.
func writeStats(w io.Writer, counts map[types.MessageStatus]int) {
	total := 0
	for _, s := range types.AllMessageStatuses {
		fmt.Fprintf(w, "  %-10s  %d\n", s, counts[s])
		total += counts[s]
	}
	fmt.Fprintf(w, "  %-10s  %d\n", "total", total)
}

// printAvailableTasks prints task types sorted by name.
func printAvailableTasks(w io.Writer) {
	fmt.Fprintf(w, "Available task types:\n\n")

	tasks := make([]scheduler.TaskType, 0, len(taskDescriptions))
	for t := range taskDescriptions {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i] < tasks[j] })

	maxLen := 0
	for _, t := range tasks {
		maxLen = max(maxLen, len(t))
	}
	for _, t := range tasks {
		fmt.Fprintf(w, "  %-*s  %s  (every %s)\n", maxLen, string(t), taskDescriptions[t], t.Window())
	}
	fmt.Fprintln(w)
}

// printPayload writes the EventBridge payload for manual invocation.
func printPayload(w io.Writer, payload scheduler.TriggerPayload) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
