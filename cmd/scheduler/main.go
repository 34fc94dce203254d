// Command scheduler is the periodic-work process: automation job
// evaluation (spec.md §4.12) and the three retention sweeps (spec.md
// §4.13), each driven by its own ticker inside one errgroup.Group, the
// same composition shape cmd/worker and the teacher's root main.go use.
// It also builds the one internal/controlplane.Service this deployment
// runs, since internal/scheduler.Evaluator needs it as a Submitter and
// nothing else in this binary exposes the control-plane verbs over a
// transport -- that is explicitly out of scope (spec.md §1).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/meetcast/core/internal/artifacts"
	"github.com/meetcast/core/internal/config"
	"github.com/meetcast/core/internal/controlplane"
	"github.com/meetcast/core/internal/logging"
	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/pipeline"
	"github.com/meetcast/core/internal/queue"
	"github.com/meetcast/core/internal/quota"
	"github.com/meetcast/core/internal/retention"
	"github.com/meetcast/core/internal/scheduler"
	"github.com/meetcast/core/internal/sourcesync"
	"github.com/meetcast/core/internal/storagepg"
)

func main() {
	cli, err := config.ParseCli(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "scheduler: parsing flags:", err)
		os.Exit(1)
	}

	repo, err := storagepg.Open(cli.PostgresURL, config.Clock)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scheduler: connecting to postgres:", err)
		os.Exit(1)
	}

	dispatcher, err := queue.Dial(cli.AMQPURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scheduler: dialing amqp:", err)
		os.Exit(1)
	}
	defer dispatcher.Close()

	store, err := artifacts.New(cli.ArtifactRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scheduler: opening artifact store:", err)
		os.Exit(1)
	}

	var cache quota.Counter
	if cli.RedisURL != "" {
		client := goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: []string{cli.RedisURL}})
		cache = quota.NewRedisCounter(client, "meetcast:quota:concurrent_tasks:")
	}

	quotaSvc := &quota.Service{Repo: repo, Cache: cache}
	syncer := &sourcesync.Syncer{
		Repo:        repo,
		Enumerators: map[models.SourceKind]sourcesync.Enumerator{},
		Clock:       config.Clock,
	}
	pipe := pipeline.New(repo, dispatcher)

	// Service and Evaluator reference each other only through interfaces
	// (Service needs Evaluator as Sched, Evaluator needs Service as
	// Submitter), so one is built first with the field left nil and
	// backfilled once the other exists.
	svc := &controlplane.Service{Repo: repo, Sync: syncer, Pipe: pipe, Quota: quotaSvc}
	eval := &scheduler.Evaluator{Repo: repo, Sync: syncer, Submitter: svc}
	svc.Sched = eval

	retentionCtl := &retention.Controller{Repo: repo, Files: store, Quota: quotaSvc}

	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return runTicker(ctx, 1*time.Minute, "automation", func(ctx context.Context) error {
			results, err := eval.RunDueJobs(ctx, false)
			if err != nil {
				return err
			}
			for _, r := range results {
				logging.LogNoScope("automation job ran", "job_id", r.JobID, "candidates", r.Candidates, "submitted", r.Submitted, "skipped", r.Skipped, "failed", r.Failed)
			}
			return nil
		})
	})

	group.Go(func() error {
		return runTicker(ctx, 1*time.Hour, "retention", func(ctx context.Context) error {
			return retentionCtl.RunAll(ctx, retention.Config{
				SoftDeleteDays: config.DefaultSoftDeleteDays,
				HardDeleteDays: config.DefaultHardDeleteDays,
			})
		})
	})

	group.Go(func() error {
		return handleSignals(ctx)
	})

	if err := group.Wait(); err != nil {
		logging.LogNoScope("scheduler shutting down", "err", err)
	}
}

// runTicker runs fn immediately and then every interval, the same
// select{ctx.Done / ticker.C} shape the teacher's reconcileBalancer loop
// uses, logging and continuing past a failed run rather than exiting the
// whole process over one bad tick.
func runTicker(ctx context.Context, interval time.Duration, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logging.LogNoScope(name+" run failed", "err", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logging.LogNoScope(name+" run failed", "err", err)
			}
		}
	}
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case s := <-c:
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}
