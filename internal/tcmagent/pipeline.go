package tcmagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joelkehle/tcm-agent/internal/logging"
)

const (
	StageExtraction = "extraction"
	StageDiagnosis  = "diagnosis"
	StageTreatment  = "treatment"
)

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type StageProgressFn func(stage, message string)

type PipelineOptions struct {
	ExtractionRetries int
	Treatment         TreatmentOptions
}

func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		ExtractionRetries: DefaultExtractionRetries,
		Treatment:         DefaultTreatmentOptions(),
	}
}

// Pipeline runs extraction, diagnosis and treatment in order against one
// Caller. Stage failures never abort the run; each stage degrades to its
// best-effort output.
type Pipeline struct {
	extractor *Extractor
	diagnoser *Diagnoser
	treater   *Treater
	opts      PipelineOptions
	logger    *slog.Logger
}

func NewPipeline(caller Caller, opts PipelineOptions) *Pipeline {
	if opts.ExtractionRetries <= 0 {
		opts.ExtractionRetries = DefaultExtractionRetries
	}
	opts.Treatment = opts.Treatment.withDefaults()
	return &Pipeline{
		extractor: NewExtractor(caller),
		diagnoser: NewDiagnoser(caller),
		treater:   NewTreater(caller, opts.Treatment),
		opts:      opts,
		logger:    logging.New("pipeline"),
	}
}

func (p *Pipeline) Run(ctx context.Context, rec CaseRecord) (PipelineResult, error) {
	return p.runWithProgress(ctx, rec, nil)
}

func (p *Pipeline) RunWithProgress(ctx context.Context, rec CaseRecord, progress StageProgressFn) (PipelineResult, error) {
	return p.runWithProgress(ctx, rec, progress)
}

func (p *Pipeline) runWithProgress(ctx context.Context, rec CaseRecord, progress StageProgressFn) (PipelineResult, error) {
	res := PipelineResult{
		Case:     rec,
		Metadata: RunMetadata{RunID: uuid.NewString(), StagesExecuted: []string{}, StartedAt: time.Now()},
	}
	if rec.IsEmpty() {
		return res, errors.New("case record has no fields")
	}
	logger := p.logger.With("run_id", res.Metadata.RunID)
	logger.Info("pipeline_started", "fields", len(rec.Fields))

	emit(progress, StageExtraction, "Extracting structured symptoms...")
	stageStarted := time.Now()
	res.Symptoms, res.Extraction = p.extractor.Extract(ctx, rec, p.opts.ExtractionRetries)
	if err := ctx.Err(); err != nil {
		return res, &StageError{Stage: StageExtraction, Err: err}
	}
	res.Metadata.StagesExecuted = append(res.Metadata.StagesExecuted, StageExtraction)
	emit(progress, StageExtraction, fmt.Sprintf("Extraction complete in %s (attempts=%d validated=%t)",
		time.Since(stageStarted).Round(time.Millisecond), res.Extraction.Attempts, res.Extraction.Validated))

	emit(progress, StageDiagnosis, "Diagnosing disease and pattern...")
	stageStarted = time.Now()
	res.Diagnosis, res.Diagnose = p.diagnoser.Diagnose(ctx, res.Symptoms)
	if err := ctx.Err(); err != nil {
		return res, &StageError{Stage: StageDiagnosis, Err: err}
	}
	res.Metadata.StagesExecuted = append(res.Metadata.StagesExecuted, StageDiagnosis)
	emit(progress, StageDiagnosis, fmt.Sprintf("Diagnosis complete in %s: %s",
		time.Since(stageStarted).Round(time.Millisecond), res.Diagnosis.TCMDiagnosis))

	emit(progress, StageTreatment, "Building prescription...")
	stageStarted = time.Now()
	res.Plan, res.Treatment = p.treater.Treat(ctx, res.Symptoms, res.Diagnosis)
	if err := ctx.Err(); err != nil {
		return res, &StageError{Stage: StageTreatment, Err: err}
	}
	res.Metadata.StagesExecuted = append(res.Metadata.StagesExecuted, StageTreatment)
	emit(progress, StageTreatment, fmt.Sprintf("Treatment complete in %s (cycles=%d accepted=%t)",
		time.Since(stageStarted).Round(time.Millisecond), res.Treatment.Cycles, res.Treatment.Accepted))

	res = finalize(res)
	logger.Info("pipeline_completed",
		"total_llm_calls", res.Metadata.TotalLLMCalls,
		"elapsed_ms", res.Metadata.CompletedAt.Sub(res.Metadata.StartedAt).Milliseconds())
	return res, nil
}

func emit(progress StageProgressFn, stage, message string) {
	if progress != nil {
		progress(stage, message)
	}
}

func finalize(res PipelineResult) PipelineResult {
	res.Metadata.CompletedAt = time.Now()
	res.Metadata.TotalLLMCalls = res.Extraction.LLMCalls + res.Diagnose.LLMCalls + res.Treatment.LLMCalls
	return res
}

func StageNameFromError(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "pipeline"
}
