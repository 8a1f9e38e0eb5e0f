// Command watercooler-pipeline runs the export -> extract -> dedupe -> build
// sequence that turns a directory of watercooler markdown threads into an
// indexed memory backend.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/watercooler-dev/wc-memory-go/internal/backend"
	"github.com/watercooler-dev/wc-memory-go/internal/backend/episodic"
	"github.com/watercooler-dev/wc-memory-go/internal/backend/hierarchical"
	"github.com/watercooler-dev/wc-memory-go/internal/backend/nullb"
	"github.com/watercooler-dev/wc-memory-go/internal/llmclient"
	"github.com/watercooler-dev/wc-memory-go/internal/pipeline"
	"github.com/watercooler-dev/wc-memory-go/pkg/metrics"
)

var met = metrics.New()

var (
	mStagesRun     = func(stage string) *metrics.Counter { return met.Counter(metrics.WithLabels("wc_pipeline_stages_total", "stage", stage), "Stages run") }
	mStageFailures = func(stage string) *metrics.Counter { return met.Counter(metrics.WithLabels("wc_pipeline_stage_failures_total", "stage", stage), "Stage failures") }
	mStageDuration = func(stage string) *metrics.Histogram { return met.Histogram(metrics.WithLabels("wc_pipeline_stage_duration_seconds", "stage", stage), "Stage duration", nil) }
	mRunsActive    = met.Gauge("wc_pipeline_runs_active", "Pipeline runs currently executing")
)

func main() {
	var (
		threadsDir  = flag.String("threads-dir", "", "directory of watercooler thread markdown files (overrides WC_THREADS_DIR)")
		workDir     = flag.String("work-dir", "", "pipeline working directory (overrides WC_PIPELINE_WORK_DIR)")
		runID       = flag.String("run-id", "", "resume a specific run ID instead of starting a new one")
		fromStage   = flag.String("from", "", "start from this stage (export|extract|dedupe|build)")
		toStage     = flag.String("to", "", "stop after this stage")
		testMode    = flag.Bool("test", false, "limit to a small number of threads")
		testLimit   = flag.Int("test-limit", 3, "thread count cap in test mode")
		metricsPort = flag.Int("metrics-port", 9092, "metrics server port")
		fresh       = flag.Bool("fresh", false, "discard any existing work directory before running")
		incr        = flag.Bool("incremental", false, "skip unchanged threads using the cached per-topic state")
	)
	flag.Parse()

	log := slog.Default()

	cfg := pipeline.LoadConfigFromEnv(*threadsDir, *workDir)
	cfg.TestMode = *testMode
	cfg.TestLimit = *testLimit
	if *fresh {
		cfg.Fresh = true
	}
	if *incr {
		cfg.Incremental = true
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Error("config error", "detail", e)
		}
		os.Exit(1)
	}

	met.ServeAsync(*metricsPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	llm := llmclient.New(
		llmclient.ChatConfig{BaseURL: cfg.LLM.BaseURL, Model: cfg.LLM.Model, APIKey: cfg.LLM.APIKey},
		llmclient.EmbeddingConfig{BaseURL: cfg.Embedding.BaseURL, Model: cfg.Embedding.Model, APIKey: cfg.Embedding.APIKey, Dimension: cfg.Embedding.EmbeddingDim, BatchSize: cfg.Embedding.BatchSize},
	)

	reg := backend.NewRegistry(log)
	reg.RegisterBuiltins(map[string]backend.Factory{
		"null": nullb.Factory,
		"hierarchical": hierarchical.Factory(hierarchical.Config{
			Neo4jURI:         os.Getenv("WC_NEO4J_URI"),
			Neo4jUser:        os.Getenv("WC_NEO4J_USER"),
			Neo4jPassword:    os.Getenv("WC_NEO4J_PASSWORD"),
			QdrantAddr:       os.Getenv("WC_QDRANT_ADDR"),
			QdrantCollection: envOr("WC_QDRANT_COLLECTION", "watercooler"),
			EmbedDim:         cfg.Embedding.EmbeddingDim,
		}, llm),
		"episodic": episodic.Factory(episodic.Config{
			Addr:      envOr("WC_FALKORDB_ADDR", "localhost:6379"),
			Password:  os.Getenv("WC_FALKORDB_PASSWORD"),
			GraphName: envOr("WC_FALKORDB_GRAPH", "watercooler"),
		}, llm),
	})

	be, err := reg.Resolve()
	if err != nil {
		log.Error("backend resolve failed", "error", err)
		os.Exit(1)
	}
	if hc := be.Healthcheck(ctx); !hc.OK {
		log.Warn("backend healthcheck failed at startup", "detail", hc.Details)
	}

	runner, err := pipeline.NewRunner(cfg, *runID, log, llm, llm, be)
	if err != nil {
		log.Error("runner init failed", "error", err)
		os.Exit(1)
	}
	log.Info("pipeline run starting", "run_id", runner.RunID, "work_dir", cfg.WorkDir)

	mRunsActive.Inc()
	defer mRunsActive.Dec()

	ok := runWithMetrics(ctx, runner, pipeline.Stage(*fromStage), pipeline.Stage(*toStage))
	if !ok {
		os.Exit(1)
	}
}

// runWithMetrics runs each stage individually so per-stage counters/
// histograms can be recorded around the shared Runner.RunStage call.
func runWithMetrics(ctx context.Context, runner *pipeline.Runner, from, to pipeline.Stage) bool {
	stages := pipeline.OrderedStages()
	start := 0
	end := len(stages)
	for i, s := range stages {
		if from != "" && s == from {
			start = i
		}
		if to != "" && s == to {
			end = i + 1
		}
	}

	for _, stage := range stages[start:end] {
		begin := time.Now()
		ok := runner.RunStage(ctx, stage, false)
		mStageDuration(string(stage)).Since(begin)
		mStagesRun(string(stage)).Inc()
		if !ok {
			mStageFailures(string(stage)).Inc()
			return false
		}
	}
	return true
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
