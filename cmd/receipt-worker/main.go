package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/zombor/receipt-pipeline/internal/analysis"
	"github.com/zombor/receipt-pipeline/internal/ocr"
	"github.com/zombor/receipt-pipeline/internal/processing"
	"github.com/zombor/receipt-pipeline/internal/queue"
	"github.com/zombor/receipt-pipeline/internal/summary"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	fs := ff.NewFlagSet("receipt-worker")
	var (
		redisAddr   = fs.StringLong("redis-addr", "localhost:6379", "Redis broker address")
		queueName   = fs.StringLong("queue", "receipt:tasks", "Task queue name")
		workers     = fs.IntLong("workers", 4, "Number of parallel workers")
		dbPath      = fs.StringLong("db", "receipt-results.db", "Result database file path")
		storeKind   = fs.StringLong("object-store", "local", "Object store backend: 'local' or 's3'")
		storagePath = fs.StringLong("storage", "./uploads", "Local object store directory ('local' backend)")
		s3Endpoint  = fs.StringLong("s3-endpoint", "", "S3-compatible endpoint URL (e.g. minio)")
		s3Bucket    = fs.StringLong("s3-bucket", "receipts", "S3 bucket name")
		s3Key       = fs.StringLong("s3-key", "", "S3 access key ID")
		s3Secret    = fs.StringLong("s3-secret", "", "S3 secret access key")
		s3Region    = fs.StringLong("s3-region", "us-east-1", "S3 region")
		summarizer  = fs.StringLong("summarizer", "openrouter", "Summary provider: 'openrouter', 'gemini' or 'off'")
		orKey       = fs.StringLong("openrouter-key", "", "OpenRouter API key (or set RECEIPT_WORKER_OPENROUTER_KEY)")
		orModel     = fs.StringLong("openrouter-model", "google/gemma-2-27b-it:free", "OpenRouter model name")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ocrLanguage = fs.StringLong("ocr-language", "eng", "Tesseract language")
		highValue   = fs.IntLong("high-value-threshold", 500, "HIGH_VALUE tag threshold in whole currency units")
		lowValue    = fs.IntLong("low-value-threshold", 2, "LOW_VALUE tag threshold in whole currency units")
		oldDays     = fs.IntLong("old-receipt-days", 90, "OLD_RECEIPT tag age in days")
		metricsAddr = fs.StringLong("metrics-addr", ":9090", "Prometheus metrics listen address (empty to disable)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_WORKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx := context.Background()

	slog.Info("Initializing result store...", "path", *dbPath)
	store, err := processing.NewBoltStore(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize result store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var objects processing.ObjectStore
	switch *storeKind {
	case "local":
		slog.Info("Initializing local object store...", "path", *storagePath)
		objects, err = processing.NewLocalStore(*storagePath)
		if err != nil {
			slog.Error("Failed to initialize object store", "error", err)
			os.Exit(1)
		}
	case "s3":
		slog.Info("Initializing S3 object store...", "endpoint", *s3Endpoint, "bucket", *s3Bucket)
		objects, err = processing.NewS3Store(ctx, processing.S3Config{
			Endpoint:        *s3Endpoint,
			Bucket:          *s3Bucket,
			AccessKeyID:     *s3Key,
			SecretAccessKey: *s3Secret,
			Region:          *s3Region,
		})
		if err != nil {
			slog.Error("Failed to initialize object store", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid object store backend", "backend", *storeKind, "valid", "local or s3")
		os.Exit(1)
	}

	slog.Info("Initializing OCR engine...", "language", *ocrLanguage)
	recognizer, err := ocr.NewTesseract(*ocrLanguage)
	if err != nil {
		slog.Error("OCR engine is not available", "error", err)
		os.Exit(1)
	}

	var summarizerImpl summary.Summarizer
	switch *summarizer {
	case "openrouter":
		slog.Info("Initializing OpenRouter summarizer...", "model", *orModel)
		summarizerImpl = summary.NewOpenRouter("", *orKey, *orModel)
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini summarizer...", "model", *geminiModel)
		summarizerImpl, err = summary.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "off":
		slog.Info("Summaries disabled")
	default:
		slog.Error("Invalid summarizer", "type", *summarizer, "valid", "openrouter, gemini or off")
		os.Exit(1)
	}
	if summarizerImpl != nil {
		defer summarizerImpl.Close()
	}

	analyzer := analysis.NewEngine(analysis.Config{
		HighValueThreshold: float64(*highValue),
		LowValueThreshold:  float64(*lowValue),
		FutureDateGrace:    24 * time.Hour,
		OldReceiptAge:      time.Duration(*oldDays) * 24 * time.Hour,
	})

	service := processing.NewService(store, objects, recognizer, analyzer, summarizerImpl)

	slog.Info("Connecting to Redis...", "addr", *redisAddr)
	redisClient := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer redisClient.Close()

	taskQueue := queue.NewRedisQueue(redisClient, *queueName, store)

	// Tasks a previous worker abandoned mid-flight go back on the queue
	if requeued, err := taskQueue.Requeue(ctx); err != nil {
		slog.Error("Failed to requeue abandoned tasks", "error", err)
		os.Exit(1)
	} else if requeued > 0 {
		slog.Info("Requeued abandoned tasks", "count", requeued)
	}

	pool := queue.NewWorkerPool(taskQueue, func(ctx context.Context, task queue.Task) error {
		return service.Process(ctx, task.TaskID, task.SourceKey, task.GenerateSummary)
	}, *workers)
	pool.Start()

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("Metrics listening", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				slog.Error("Metrics server error", "error", err)
			}
		}()
	}

	slog.Info("Worker started", "queue", *queueName, "workers", *workers, "version", version)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	pool.Stop(30 * time.Second)
}
