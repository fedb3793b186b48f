package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medcode-agent/backend/internal/coding"
	"github.com/medcode-agent/backend/internal/judge"
	"github.com/medcode-agent/backend/internal/llm"
	"github.com/medcode-agent/backend/internal/metrics"
	"github.com/medcode-agent/backend/internal/telemetry"
	"github.com/medcode-agent/backend/pkg/logger"
)

// State is the lifecycle position of a run. Transitions are monotonic; a
// failed run keeps the error of the stage that failed it.
type State string

const (
	StateCreated           State = "created"
	StateEntitiesExtracted State = "entities_extracted"
	StateDiagnosisCoded    State = "diagnosis_coded"
	StateProcedureCoded    State = "procedure_coded"
	StateSupplyCoded       State = "supply_coded"
	StateAggregated        State = "aggregated"
	StateJudged            State = "judged"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
)

func stateFor(space coding.CodeSpace) State {
	if space == coding.SpaceProcedure {
		return StateProcedureCoded
	}
	return StateSupplyCoded
}

// Run is the unit of work: one clinical document flowing through the staged
// pipeline. A Run is owned by a single Process call and never shared.
type Run struct {
	TraceID    string
	StartedAt  time.Time
	State      State
	Result     *coding.CodingResult
	Evaluation *judge.JudgementRecord
	TokenUsage llm.Usage

	// Err is fatal: the run produced no result. EvaluationErr is advisory:
	// the coding result stands but the audit verdict is missing.
	Err           error
	EvaluationErr error
}

// Extractor produces the three disjoint term lists from document text.
type Extractor interface {
	Extract(ctx context.Context, documentText string) (*coding.EntitySet, llm.Usage, error)
}

// Assigner maps one stage's terms to code assignments.
type Assigner interface {
	Assign(ctx context.Context, spec coding.CodeSpaceSpec, terms []string, contextDiagnosisCodes []string) ([]coding.CodeAssignment, llm.Usage, error)
}

// Evaluator renders the audit verdict over a finished coding result.
type Evaluator interface {
	Evaluate(ctx context.Context, documentText string, result *coding.CodingResult) (*judge.JudgementRecord, llm.Usage, error)
}

// Service orchestrates the staged pipeline: extraction, diagnosis coding,
// concurrent procedure and supply coding, aggregation and optional
// evaluation.
type Service struct {
	extractor Extractor
	assigner  Assigner
	evaluator Evaluator
	recorder  *telemetry.Recorder
	specs     map[coding.CodeSpace]coding.CodeSpaceSpec
}

func NewService(extractor Extractor, assigner Assigner, evaluator Evaluator, recorder *telemetry.Recorder, specs map[coding.CodeSpace]coding.CodeSpaceSpec) *Service {
	return &Service{
		extractor: extractor,
		assigner:  assigner,
		evaluator: evaluator,
		recorder:  recorder,
		specs:     specs,
	}
}

type stageResult struct {
	space       coding.CodeSpace
	assignments []coding.CodeAssignment
	usage       llm.Usage
	err         error
}

// Process runs one document through the full pipeline. The returned Run is
// always non-nil; on a non-nil error the run is failed and any partial
// results on it are diagnostic only. An evaluation failure does not fail
// the run.
func (s *Service) Process(ctx context.Context, documentText string, evaluate bool) (*Run, error) {
	run := &Run{
		TraceID:   uuid.New().String(),
		StartedAt: time.Now(),
		State:     StateCreated,
	}

	logger.Info("Pipeline run started",
		zap.String("trace_id", run.TraceID),
		zap.Int("document_chars", len(documentText)),
		zap.Bool("evaluate", evaluate),
	)

	entities, err := s.extract(ctx, run, documentText)
	if err != nil {
		return run, s.fail(ctx, run, documentText, fmt.Errorf("entity extraction: %w", err))
	}
	run.State = StateEntitiesExtracted

	// Partial results stay attached to the run for diagnostics; only a
	// completed run surfaces them as a coding result.
	result := &coding.CodingResult{Entities: *entities}
	run.Result = result

	diagnosis, err := s.assignStage(ctx, run, coding.SpaceDiagnosis, entities.DiagnosticTerms, nil)
	if err != nil {
		return run, s.fail(ctx, run, documentText, err)
	}
	result.DiagnosisCodes = diagnosis
	run.State = StateDiagnosisCoded

	diagnosisCodes := make([]string, len(diagnosis))
	for i, a := range diagnosis {
		diagnosisCodes[i] = a.Code
	}

	// Procedure and supply coding depend only on the diagnosis stage, never
	// on each other, so they run concurrently and join before aggregation.
	results := make(chan stageResult, 2)
	var wg sync.WaitGroup
	for _, space := range []coding.CodeSpace{coding.SpaceProcedure, coding.SpaceSupply} {
		wg.Add(1)
		go func(space coding.CodeSpace) {
			defer wg.Done()
			start := time.Now()
			assignments, usage, err := s.assigner.Assign(ctx, s.specs[space], entities.TermsFor(space), diagnosisCodes)
			metrics.StageDuration.WithLabelValues(string(space)).Observe(time.Since(start).Seconds())
			results <- stageResult{space: space, assignments: assignments, usage: usage, err: err}
		}(space)
	}
	wg.Wait()
	close(results)

	var stageErr error
	for r := range results {
		recordUsage(run, string(r.space), r.usage)
		if r.err != nil {
			if stageErr == nil {
				stageErr = r.err
			}
			continue
		}
		result.SetAssignments(r.space, r.assignments)
		run.State = stateFor(r.space)
	}
	if stageErr != nil {
		return run, s.fail(ctx, run, documentText, stageErr)
	}

	run.State = StateAggregated

	for _, space := range []coding.CodeSpace{coding.SpaceDiagnosis, coding.SpaceProcedure, coding.SpaceSupply} {
		metrics.CodesAssigned.WithLabelValues(string(space)).Add(float64(len(result.AssignmentsFor(space))))
	}

	if evaluate && s.evaluator != nil {
		s.evaluate(ctx, run, documentText)
	}

	run.State = StateCompleted
	metrics.RunsTotal.WithLabelValues("success").Inc()

	s.snapshot(ctx, run, documentText)

	logger.Info("Pipeline run completed",
		zap.String("trace_id", run.TraceID),
		zap.Int("icd_codes", len(result.DiagnosisCodes)),
		zap.Int("cpt_codes", len(result.ProcedureCodes)),
		zap.Int("hcpcs_codes", len(result.SupplyCodes)),
		zap.Int("tokens", run.TokenUsage.TotalTokens),
		zap.Duration("elapsed", time.Since(run.StartedAt)),
	)

	return run, nil
}

// recordUsage accumulates usage on the run and feeds the per-stage token
// counters.
func recordUsage(run *Run, stage string, usage llm.Usage) {
	run.TokenUsage.Add(usage)
	metrics.LLMTokensUsed.WithLabelValues(stage, "prompt").Add(float64(usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(stage, "completion").Add(float64(usage.CompletionTokens))
}

func (s *Service) extract(ctx context.Context, run *Run, documentText string) (*coding.EntitySet, error) {
	start := time.Now()
	entities, usage, err := s.extractor.Extract(ctx, documentText)
	metrics.StageDuration.WithLabelValues("extraction").Observe(time.Since(start).Seconds())

	recordUsage(run, "extraction", usage)
	if err != nil {
		return nil, err
	}
	return entities, nil
}

func (s *Service) assignStage(ctx context.Context, run *Run, space coding.CodeSpace, terms []string, contextDiagnosisCodes []string) ([]coding.CodeAssignment, error) {
	start := time.Now()
	assignments, usage, err := s.assigner.Assign(ctx, s.specs[space], terms, contextDiagnosisCodes)
	metrics.StageDuration.WithLabelValues(string(space)).Observe(time.Since(start).Seconds())

	recordUsage(run, string(space), usage)
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

// evaluate runs the judge and records its verdict. A judge failure degrades
// the run instead of failing it: the coding result was already produced and
// remains valid without the audit verdict.
func (s *Service) evaluate(ctx context.Context, run *Run, documentText string) {
	start := time.Now()
	record, usage, err := s.evaluator.Evaluate(ctx, documentText, run.Result)
	metrics.StageDuration.WithLabelValues("judge").Observe(time.Since(start).Seconds())

	recordUsage(run, "judge", usage)
	if err != nil {
		run.EvaluationErr = err
		logger.Warn("Evaluation failed, returning coding result without verdict",
			zap.String("trace_id", run.TraceID),
			zap.Error(err),
		)
		return
	}

	run.Evaluation = record
	run.State = StateJudged

	metrics.JudgeScore.Observe(record.OverallScore)
	metrics.ComplianceRisk.WithLabelValues(string(record.ComplianceRisk)).Inc()

	if s.recorder != nil {
		s.recorder.Record(ctx, run.TraceID, record)
	}
}

func (s *Service) fail(ctx context.Context, run *Run, documentText string, err error) error {
	run.State = StateFailed
	run.Err = err
	metrics.RunsTotal.WithLabelValues("failure").Inc()

	logger.Error("Pipeline run failed",
		zap.String("trace_id", run.TraceID),
		zap.Error(err),
	)

	s.snapshot(ctx, run, documentText)
	return err
}

func (s *Service) snapshot(ctx context.Context, run *Run, documentText string) {
	if s.recorder == nil {
		return
	}

	snapshot := telemetry.Snapshot{
		TraceID:    run.TraceID,
		CreatedAt:  run.StartedAt,
		Success:    run.Err == nil,
		State:      string(run.State),
		InputText:  documentText,
		TokensUsed: run.TokenUsage.TotalTokens,
	}
	if run.Err != nil {
		snapshot.Error = run.Err.Error()
	}
	if run.Result != nil {
		if encoded, err := json.Marshal(run.Result); err == nil {
			snapshot.OutputJSON = string(encoded)
		}
	}

	s.recorder.RecordSnapshot(ctx, snapshot)
}
