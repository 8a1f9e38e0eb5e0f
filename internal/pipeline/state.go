package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/watercooler-dev/wc-memory-go/internal/incremental"
)

// StageStatus is the lifecycle status of one pipeline stage.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// Stage identifies one step of the pipeline.
type Stage string

const (
	StageExport  Stage = "export"
	StageExtract Stage = "extract"
	StageDedupe  Stage = "dedupe"
	StageBuild   Stage = "build"
)

// OrderedStages returns the pipeline's stages in execution order.
func OrderedStages() []Stage {
	return []Stage{StageExport, StageExtract, StageDedupe, StageBuild}
}

// StageState tracks one stage's progress, resumable across process restarts.
type StageState struct {
	Status      StageStatus `json:"status"`
	StartedAt   string      `json:"started_at,omitempty"`
	CompletedAt string      `json:"completed_at,omitempty"`
	Error       string      `json:"error,omitempty"`

	TotalItems    int `json:"total_items"`
	ProcessedItems int `json:"processed_items"`
	FailedItems   int `json:"failed_items"`

	CurrentBatch int `json:"current_batch"`
	TotalBatches int `json:"total_batches"`

	Outputs map[string]any `json:"outputs,omitempty"`
}

// ProgressPct returns the stage's completion percentage, 0 when there's
// nothing to process yet.
func (s StageState) ProgressPct() float64 {
	if s.TotalItems == 0 {
		return 0
	}
	return float64(s.ProcessedItems) / float64(s.TotalItems) * 100
}

func (s *StageState) start(totalItems int) {
	s.Status = StatusRunning
	s.StartedAt = time.Now().UTC().Format(time.RFC3339)
	s.TotalItems = totalItems
	s.ProcessedItems = 0
	s.FailedItems = 0
	s.Error = ""
}

func (s *StageState) complete() {
	s.Status = StatusCompleted
	s.CompletedAt = time.Now().UTC().Format(time.RFC3339)
}

func (s *StageState) fail(err error) {
	s.Status = StatusFailed
	s.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	s.Error = RedactSensitive(err.Error())
}

func (s *StageState) updateProgress(processed, failed int) {
	s.ProcessedItems = processed
	s.FailedItems = failed
}

// applyOutputs derives TotalItems/ProcessedItems from a completed stage's
// outputs map, so the persisted per-stage item counts mirror the same
// figures folded into the run-level Stats (see Stats.applyStageOutputs).
// Export's processed count follows changed_topics rather than thread_count
// when incremental mode reports it, since unchanged topics did no work.
func (s *StageState) applyOutputs(stage Stage, outputs map[string]any) {
	intOf := func(key string) int {
		n, _ := outputs[key].(int)
		return n
	}

	var total, processed int
	switch stage {
	case StageExport:
		total = intOf("thread_count")
		processed = total
		if _, ok := outputs["changed_topics"]; ok {
			processed = intOf("changed_topics")
		}
	case StageExtract:
		total = intOf("entries_summarized")
		processed = total
	case StageDedupe:
		total = intOf("chunk_count")
		processed = total
	case StageBuild:
		total = intOf("embeddings_done")
		processed = total
	}
	s.TotalItems = total
	s.updateProgress(processed, s.FailedItems)
}

// PipelineState is the full resumable state of one pipeline run.
type PipelineState struct {
	RunID     string `json:"run_id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`

	ThreadsDir string `json:"threads_dir"`
	WorkDir    string `json:"work_dir"`
	TestMode   bool   `json:"test_mode"`

	Stages map[Stage]*StageState `json:"stages"`
}

// NewPipelineState creates a fresh state with every stage pending.
func NewPipelineState(runID, threadsDir, workDir string, testMode bool) *PipelineState {
	now := time.Now().UTC().Format(time.RFC3339)
	st := &PipelineState{
		RunID:      runID,
		CreatedAt:  now,
		UpdatedAt:  now,
		ThreadsDir: threadsDir,
		WorkDir:    workDir,
		TestMode:   testMode,
		Stages:     make(map[Stage]*StageState),
	}
	for _, s := range OrderedStages() {
		st.Stages[s] = &StageState{Status: StatusPending}
	}
	return st
}

// GetStage returns the state for a stage, creating a pending entry if
// missing (defensive against state files written by an older stage list).
func (p *PipelineState) GetStage(stage Stage) *StageState {
	if p.Stages == nil {
		p.Stages = make(map[Stage]*StageState)
	}
	s, ok := p.Stages[stage]
	if !ok {
		s = &StageState{Status: StatusPending}
		p.Stages[stage] = s
	}
	return s
}

// CurrentStage returns the first running or pending stage in order, or
// empty string if the pipeline is complete.
func (p *PipelineState) CurrentStage() Stage {
	for _, s := range OrderedStages() {
		st := p.GetStage(s)
		if st.Status == StatusRunning || st.Status == StatusPending {
			return s
		}
	}
	return ""
}

// IsComplete reports whether every stage has completed.
func (p *PipelineState) IsComplete() bool {
	for _, s := range OrderedStages() {
		if p.GetStage(s).Status != StatusCompleted {
			return false
		}
	}
	return true
}

// CanRunStage reports whether stage's dependencies (every earlier stage
// completed) are satisfied, and if not, why.
func (p *PipelineState) CanRunStage(stage Stage) (bool, string) {
	stages := OrderedStages()
	idx := -1
	for i, s := range stages {
		if s == stage {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, fmt.Sprintf("unknown stage %q", stage)
	}
	for _, prev := range stages[:idx] {
		st := p.GetStage(prev)
		if st.Status != StatusCompleted {
			return false, fmt.Sprintf("previous stage %q not completed (status: %s)", prev, st.Status)
		}
	}
	if p.GetStage(stage).Status == StatusRunning {
		return false, fmt.Sprintf("stage %q is already running", stage)
	}
	return true, "ok"
}

// Save persists state atomically: a crash mid-write must never leave a
// corrupt state file that a resumed run would silently treat as fresh.
func (p *PipelineState) Save(path string) error {
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: marshal state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pipeline: ensure state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-state-*")
	if err != nil {
		return fmt.Errorf("pipeline: create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("pipeline: write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("pipeline: sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("pipeline: close state: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// LoadPipelineState loads a state file from disk. A present-but-corrupt
// file is a hard failure: resuming over a silently-reset state could lose
// track of work already done against a live backend.
func LoadPipelineState(path string) (*PipelineState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st PipelineState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("pipeline: state file %s is corrupt, refusing to resume: %w", path, err)
	}
	return &st, nil
}

// StatePath returns the path a run's state file lives at.
func StatePath(workDir, runID string) string {
	return filepath.Join(workDir, "state", runID+".json")
}

// ListRuns returns run IDs under workDir/state, most recently modified first.
func ListRuns(workDir string) ([]string, error) {
	dir := filepath.Join(workDir, "state")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	type runInfo struct {
		id      string
		modTime time.Time
	}
	var runs []runInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		name := e.Name()
		if name == filepath.Base(incremental.StatePath(workDir)) {
			continue
		}
		runs = append(runs, runInfo{id: trimJSONExt(name), modTime: info.ModTime()})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].modTime.After(runs[j].modTime) })

	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.id
	}
	return ids, nil
}

func trimJSONExt(name string) string {
	const ext = ".json"
	if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
		return name[:len(name)-len(ext)]
	}
	return name
}

// LoadOrCreateState loads a run's existing state, or creates a new one if
// none exists.
func LoadOrCreateState(workDir, runID, threadsDir string, testMode bool) (*PipelineState, error) {
	path := StatePath(workDir, runID)
	if _, err := os.Stat(path); err == nil {
		return LoadPipelineState(path)
	}
	return NewPipelineState(runID, threadsDir, workDir, testMode), nil
}
