package pipeline

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/watercooler-dev/wc-memory-go/internal/backend"
	"github.com/watercooler-dev/wc-memory-go/internal/graphbuilder"
)

// NewRunID mints a lowercase ULID, matching the run identifier shape used
// throughout the on-disk state and log file names.
func NewRunID() string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return strings.ToLower(id.String())
}

// Runner orchestrates the export -> extract -> dedupe -> build sequence
// for one run, persisting state after every stage transition so a crash
// loses at most the stage in flight.
type Runner struct {
	Config Config
	RunID  string

	State *PipelineState
	Stats *Stats

	log *slog.Logger

	summarizer graphbuilder.Summarizer
	embedder   graphbuilder.Embedder
	backend    backend.MemoryBackend
}

// NewRunner loads or creates a run's state and constructs a Runner wired
// against the given summarizer/embedder/backend.
func NewRunner(cfg Config, runID string, log *slog.Logger, summarizer graphbuilder.Summarizer, embedder graphbuilder.Embedder, be backend.MemoryBackend) (*Runner, error) {
	if runID == "" {
		runID = NewRunID()
	}
	if log == nil {
		log = slog.Default()
	}
	log = slog.New(NewRedactingHandler(log.Handler()))
	if cfg.Fresh {
		if err := os.RemoveAll(cfg.WorkDir); err != nil {
			return nil, fmt.Errorf("pipeline: fresh: remove work dir: %w", err)
		}
	}
	if err := cfg.EnsureWorkDir(); err != nil {
		return nil, err
	}

	state, err := LoadOrCreateState(cfg.WorkDir, runID, cfg.ThreadsDir, cfg.TestMode)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load state: %w", err)
	}

	return &Runner{
		Config:     cfg,
		RunID:      runID,
		State:      state,
		Stats:      NewStats(),
		log:        log.With("run_id", runID),
		summarizer: summarizer,
		embedder:   embedder,
		backend:    be,
	}, nil
}

func (r *Runner) saveState() error {
	return r.State.Save(StatePath(r.Config.WorkDir, r.RunID))
}

// RunStage runs a single stage, skipping it if already completed unless
// force is set. Returns whether the stage ended in a completed state.
func (r *Runner) RunStage(ctx context.Context, stage Stage, force bool) bool {
	log := r.log.With("stage", stage)
	stageState := r.State.GetStage(stage)

	if stageState.Status == StatusCompleted && !force {
		log.Info("stage already completed, skipping")
		return true
	}

	if can, reason := r.State.CanRunStage(stage); !can && !force {
		log.Error("cannot run stage", "reason", reason)
		return false
	}

	runner, err := NewStageRunner(stage, r.Config, r.State, log, r.summarizer, r.embedder, r.backend)
	if err != nil {
		log.Error("no runner for stage", "error", err)
		return false
	}

	if errs := runner.ValidateInputs(); len(errs) > 0 {
		for _, e := range errs {
			log.Error("validation error", "detail", e)
		}
		stageState.fail(fmt.Errorf("validation failed: %s", strings.Join(errs, "; ")))
		r.saveState()
		return false
	}

	start := time.Now()
	stageState.start(0)
	r.saveState()
	log.Info("stage starting")

	outputs, err := runner.Run(ctx)
	elapsed := time.Since(start)
	r.Stats.RecordStageDuration(stage, elapsed)

	if err != nil {
		stageState.fail(err)
		r.Stats.Errors = append(r.Stats.Errors, fmt.Sprintf("%s: %s", stage, err))
		log.Error("stage failed", "error", err, "elapsed", formatDuration(elapsed))
		r.saveState()
		return false
	}

	stageState.Outputs = outputs
	stageState.applyOutputs(stage, outputs)
	stageState.complete()
	r.Stats.applyStageOutputs(stage, outputs)
	log.Info("stage completed", "elapsed", formatDuration(elapsed))
	r.saveState()
	return true
}

// RunAll runs every stage from fromStage to toStage inclusive (both
// optional; empty string means "no bound"), stopping at the first failure.
func (r *Runner) RunAll(ctx context.Context, fromStage, toStage Stage) bool {
	stages := OrderedStages()

	if fromStage != "" {
		idx := indexOfStage(stages, fromStage)
		if idx < 0 {
			r.log.Error("unknown from-stage", "stage", fromStage)
			return false
		}
		stages = stages[idx:]
	}
	if toStage != "" {
		idx := indexOfStage(stages, toStage)
		if idx < 0 {
			r.log.Error("unknown to-stage", "stage", toStage)
			return false
		}
		stages = stages[:idx+1]
	}

	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	r.log.Info("running pipeline", "stages", strings.Join(names, " -> "))
	if r.Config.TestMode {
		r.log.Warn("test mode enabled", "limit", r.Config.TestLimit)
	}

	start := time.Now()
	success := true
	for _, stage := range stages {
		if !r.RunStage(ctx, stage, false) {
			success = false
			break
		}
	}
	elapsed := time.Since(start)

	report := r.Stats.Summary(elapsed)
	for _, line := range strings.Split(strings.TrimRight(report, "\n"), "\n") {
		r.log.Info(line)
	}

	if success {
		r.log.Info("pipeline completed successfully", "elapsed", formatDuration(elapsed))
	} else {
		r.log.Error("pipeline failed", "elapsed", formatDuration(elapsed))
	}
	return success
}

func indexOfStage(stages []Stage, target Stage) int {
	for i, s := range stages {
		if s == target {
			return i
		}
	}
	return -1
}

// StatusReport is a snapshot of a run's stage-by-stage progress.
type StatusReport struct {
	RunID        string
	ThreadsDir   string
	WorkDir      string
	TestMode     bool
	IsComplete   bool
	CurrentStage Stage
	Stages       map[Stage]StageState
}

// Status returns the current state of the run for display.
func (r *Runner) Status() StatusReport {
	stages := make(map[Stage]StageState, len(r.State.Stages))
	for _, s := range OrderedStages() {
		stages[s] = *r.State.GetStage(s)
	}
	return StatusReport{
		RunID:        r.RunID,
		ThreadsDir:   r.State.ThreadsDir,
		WorkDir:      r.State.WorkDir,
		TestMode:     r.State.TestMode,
		IsComplete:   r.State.IsComplete(),
		CurrentStage: r.State.CurrentStage(),
		Stages:       stages,
	}
}
