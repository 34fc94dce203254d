// Command worker is the queue-consuming process: it dials Postgres, the
// artifact store, and the AMQP broker, then runs one consume loop per
// configured queue, handing every delivery to internal/worker.Runner.
// Mirrors the teacher's root main.go composition (flag parsing, an
// errgroup.Group of background loops, signal-driven shutdown) scoped down
// to a single binary instead of catalyst-api's combined API/balancer/node.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/meetcast/core/internal/artifacts"
	"github.com/meetcast/core/internal/config"
	"github.com/meetcast/core/internal/failure"
	"github.com/meetcast/core/internal/logging"
	"github.com/meetcast/core/internal/pipeline"
	"github.com/meetcast/core/internal/providers"
	"github.com/meetcast/core/internal/queue"
	"github.com/meetcast/core/internal/storagepg"
	"github.com/meetcast/core/internal/worker"
)

func main() {
	cli, err := config.ParseCli(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "worker: parsing flags:", err)
		os.Exit(1)
	}

	repo, err := storagepg.Open(cli.PostgresURL, config.Clock)
	if err != nil {
		fmt.Fprintln(os.Stderr, "worker: connecting to postgres:", err)
		os.Exit(1)
	}

	store, err := artifacts.New(cli.ArtifactRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, "worker: opening artifact store:", err)
		os.Exit(1)
	}

	dispatcher, err := queue.Dial(cli.AMQPURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "worker: dialing amqp:", err)
		os.Exit(1)
	}
	defer dispatcher.Close()

	pipe := pipeline.New(repo, dispatcher)

	// No concrete per-platform upload SDK is wired yet (spec.md §4.9.6
	// treats these as opaque adapters); NopUploader keeps a misconfigured
	// preset failing loudly with FailureResourceMissing rather than
	// silently succeeding, until a real SDK adapter is registered here.
	uploaders := providers.NewRegistry()
	for _, platform := range []string{"youtube", "vimeo", "s3"} {
		uploaders.Register(platform, providers.NopUploader{})
	}

	runner := &worker.Runner{
		Repo:    repo,
		Store:   store,
		Pipe:    pipe,
		Queue:   dispatcher,
		Failure: failure.New(repo),

		Downloader:        providers.NewHTTPDownloader(),
		Transcriber:       providers.NewHTTPTranscriber(cli.TranscriberURL, cli.TranscriptionModel),
		TopicPrimary:      providers.NewHTTPTopicExtractor(cli.TopicExtractorURL),
		SubtitleGenerator: providers.LocalSubtitleGenerator{},
		Uploaders:         uploaders,
	}
	if cli.TopicExtractorURL2 != "" {
		runner.TopicSecondary = providers.NewHTTPTopicExtractor(cli.TopicExtractorURL2)
	}

	group, ctx := errgroup.WithContext(context.Background())

	queues := cli.WorkerQueues
	if len(queues) == 0 {
		queues = []string{string(queue.Downloads), string(queue.Uploads), string(queue.ProcessingCPU), string(queue.AsyncOperations)}
	}
	for _, name := range queues {
		name := queue.Name(name)
		deliveries, err := dispatcher.Consume(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "worker: consuming %s: %v\n", name, err)
			os.Exit(1)
		}
		for i := 0; i < cli.WorkerConcurrency; i++ {
			group.Go(func() error {
				return consumeLoop(ctx, dispatcher, name, deliveries, runner)
			})
		}
	}

	if cli.RedisURL != "" {
		// Present only so a future quota fast-path reader on this process
		// shares the same client; the worker itself does not consult quota.
		_ = goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: []string{cli.RedisURL}})
	}

	group.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		return http.ListenAndServe(cli.MetricsAddr, mux)
	})

	group.Go(func() error {
		return handleSignals(ctx)
	})

	if err := group.Wait(); err != nil {
		logging.LogNoScope("worker shutting down", "err", err)
	}
}

// consumeLoop drains deliveries until ctx is cancelled, running runner on
// each one and requeueing (or dead-lettering, via the dispatcher's own
// MaxRetries check) on failure rather than nacking back onto the same
// queue, so a poison message doesn't spin the consumer.
func consumeLoop(ctx context.Context, dispatcher *queue.Dispatcher, name queue.Name, deliveries <-chan amqp.Delivery, runner *worker.Runner) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("worker: %s delivery channel closed", name)
			}
			handleDelivery(ctx, dispatcher, name, d, runner)
		}
	}
}

func handleDelivery(ctx context.Context, dispatcher *queue.Dispatcher, name queue.Name, d amqp.Delivery, runner *worker.Runner) {
	var task queue.Task
	if err := json.Unmarshal(d.Body, &task); err != nil {
		logging.LogNoScope("discarding undecodable task", "queue", name, "err", err)
		_ = d.Ack(false)
		return
	}
	task.Priority = d.Priority

	if err := runner.Dispatch(ctx, task); err != nil {
		logging.LogError(logging.Scope(stringer(task.UserID), stringer(task.ID)), "task dispatch failed", err, "queue", name, "kind", task.Kind)
		if rqErr := dispatcher.Requeue(ctx, name, task, task.Priority); rqErr != nil {
			logging.LogNoScope("requeue failed", "queue", name, "task_id", task.ID, "err", rqErr)
		}
		_ = d.Ack(false)
		return
	}
	_ = d.Ack(false)
}

type stringer string

func (s stringer) String() string { return string(s) }

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
