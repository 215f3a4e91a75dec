package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sd8capricon/graph-rag/internal/bootstrap"
	"github.com/sd8capricon/graph-rag/internal/jobs"
	"github.com/sd8capricon/graph-rag/internal/queue"
	"github.com/sd8capricon/graph-rag/internal/storage"
	"github.com/sd8capricon/graph-rag/internal/util"
	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/graph"
	"github.com/sd8capricon/graph-rag/pkg/leaselock"
	"github.com/sd8capricon/graph-rag/pkg/loader"
	ioloader "github.com/sd8capricon/graph-rag/pkg/loader/io"
	s3loader "github.com/sd8capricon/graph-rag/pkg/loader/s3"
	webloader "github.com/sd8capricon/graph-rag/pkg/loader/web"
	"github.com/sd8capricon/graph-rag/pkg/logger"
	"github.com/sd8capricon/graph-rag/pkg/store/neo4j"
	pgxstore "github.com/sd8capricon/graph-rag/pkg/store/pgx"
)

func main() {
	util.LoadEnv()
	bootstrap.InitLogger("worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	aiClient, err := bootstrap.NewAIClient()
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}

	graphStore, err := bootstrap.NewGraphStore(ctx)
	if err != nil {
		logger.Fatal("Could not connect to Neo4j", "err", err)
	}
	defer graphStore.Close(context.Background())

	pool, err := bootstrap.NewPostgresPool(ctx)
	if err != nil {
		logger.Fatal("Could not connect to Postgres", "err", err)
	}
	defer pool.Close()
	registry := pgxstore.New(pool)

	ingestCfg, err := bootstrap.IngestConfig()
	if err != nil {
		logger.Fatal("Could not load tokenizer", "err", err)
	}

	router := &loader.Router{
		Web:   webloader.NewWebGraphLoader(&http.Client{Timeout: time.Minute}),
		Local: ioloader.NewIOGraphFileLoader(),
	}
	if bucket := util.GetEnv("AWS_BUCKET"); bucket != "" {
		s3Client, err := storage.NewS3Client(ctx)
		if err != nil {
			logger.Fatal("Could not create S3 client", "err", err)
		}
		router.S3 = s3loader.NewS3GraphFileLoaderWithClient(bucket, s3Client)
	}

	extractor := graph.NewExtractor(aiClient)
	summarizer := graph.NewCommunitySummarizer(graph.NewCommunitySummarizerParams{
		Store:     graphStore,
		Detector:  neo4j.NewLeidenDetector(graphStore),
		Client:    aiClient,
		Summaries: ingestCfg.Summaries,
	})
	pipeline := graph.NewPipeline(graph.NewPipelineParams{
		Registry: registry,
		Resolver: graph.NewOntologyResolver(aiClient),
		Store:    graphStore,
		Ingestors: []graph.Ingestor{
			graph.NewLexicalIngestor(graphStore, aiClient,
				graph.WithThreshold(ingestCfg.LexicalThreshold),
				graph.WithNeighbours(ingestCfg.LexicalNeighbours),
			),
			graph.NewPropertyIngestor(graphStore, extractor, summarizer),
		},
		Split: ingestCfg.Split,
	})

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	manager := jobs.NewManager(jobs.NewManagerParams{
		Registry:  registry,
		Store:     registry,
		Publisher: queue.NewPublisher(ch),
		Locker:    leaselock.New(pool),
		Runner:    pipeline,
		Loader:    router,
		QueueName: queue.IngestQueue,
	})

	staleAfter := time.Duration(util.GetEnvNumeric("JOB_STALE_MIN", 30)) * time.Minute
	if n, err := manager.Recover(ctx, staleAfter); err != nil {
		logger.Error("Failed to recover stale jobs", "err", err)
	} else if n > 0 {
		logger.Info("Recovered stale jobs", "count", n)
	}

	// Prefetch 1 keeps one job per worker in flight.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.IngestQueue,
		"ingest_queue_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.IngestQueue, "err", err)
	}

	handler := queue.HandleIngest(manager)
	logger.Info("Listening for messages")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed")
				return
			}
			startTime := time.Now()
			logger.Info("[Worker] Received message", "queue", queue.IngestQueue)

			if err := queue.Process(ctx, consumerCh, msg, queue.IngestQueue, handler); err == nil {
				logger.Info("[Worker] Message processed successfully", "queue", queue.IngestQueue)
			}

			logMetrics(aiClient, time.Since(startTime))
			aiClient.ResetMetrics()
			logger.Info("[Worker] Waiting for next message")
		}
	}
}

func logMetrics(aiClient ai.GraphAIClient, processing time.Duration) {
	metrics := aiClient.GetMetrics()
	logger.Info(
		"[Worker] AI Metrics",
		"input_tokens", metrics.InputTokens,
		"output_tokens", metrics.OutputTokens,
		"total_tokens", metrics.TotalTokens,
		"duration", clock(time.Duration(metrics.DurationMs)*time.Millisecond),
	)
	logger.Info("[Worker] Processing time", "duration", clock(processing))
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
