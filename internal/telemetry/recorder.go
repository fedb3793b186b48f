package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medcode-agent/backend/internal/judge"
	"github.com/medcode-agent/backend/pkg/logger"
)

// Score is one flat named observability signal derived from a judgement.
type Score struct {
	Name    string
	Value   float64
	Comment string
}

// Snapshot captures a run's input and output for later audit.
type Snapshot struct {
	TraceID    string
	CreatedAt  time.Time
	Success    bool
	State      string
	Error      string
	InputText  string
	OutputJSON string
	TokensUsed int
}

// Sink receives scores and snapshots. Implementations must tolerate being
// called from concurrent runs; failures never propagate to the pipeline.
type Sink interface {
	RecordScores(ctx context.Context, traceID string, scores []Score) error
	RecordSnapshot(ctx context.Context, snapshot Snapshot) error
}

// Recorder maps judge verdicts into flat signals and forwards them to the
// sink. Sink errors are logged and swallowed.
type Recorder struct {
	sink Sink
}

func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink}
}

// MapScores flattens a JudgementRecord into named signals. The mapping is
// total and deterministic: the same record always yields the same scores in
// the same order.
func MapScores(rec *judge.JudgementRecord) []Score {
	scores := make([]Score, 0, 3+len(rec.SectionJudgements)+2*len(rec.CodeJudgements))

	scores = append(scores, Score{
		Name:  "overall_score",
		Value: rec.OverallScore,
	})

	scores = append(scores, Score{
		Name:    "overall_verdict",
		Value:   verdictValue(rec.OverallVerdict),
		Comment: rec.Summary,
	})

	scores = append(scores, Score{
		Name:    "compliance_risk",
		Value:   riskValue(rec.ComplianceRisk),
		Comment: fmt.Sprintf("Risk Level: %s", rec.ComplianceRisk),
	})

	for _, sj := range rec.SectionJudgements {
		scores = append(scores, Score{
			Name:    fmt.Sprintf("section_%s_verdict", sj.Section),
			Value:   verdictValue(sj.Verdict),
			Comment: sj.Notes,
		})
	}

	for _, cj := range rec.CodeJudgements {
		scores = append(scores, Score{
			Name:    fmt.Sprintf("code_%s_support", cj.Code),
			Value:   supportValue(cj.DocumentationSupport),
			Comment: fmt.Sprintf("Term match: %t, Issues: %s", cj.TermMatch, issueSummary(cj.Issues)),
		})

		if cj.LinkageValid != nil {
			value := 0.0
			if *cj.LinkageValid {
				value = 1.0
			}
			scores = append(scores, Score{
				Name:  fmt.Sprintf("%s_code_%s_linkage", cj.CodeSpace, cj.Code),
				Value: value,
			})
		}
	}

	return scores
}

// Record maps and forwards the judgement scores for one run.
func (r *Recorder) Record(ctx context.Context, traceID string, rec *judge.JudgementRecord) {
	if r.sink == nil || rec == nil {
		return
	}

	scores := MapScores(rec)
	if err := r.sink.RecordScores(ctx, traceID, scores); err != nil {
		logger.Warn("Failed to record evaluation scores",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		return
	}

	logger.Debug("Evaluation scores recorded",
		zap.String("trace_id", traceID),
		zap.Int("scores", len(scores)),
	)
}

// RecordSnapshot forwards a run snapshot for audit.
func (r *Recorder) RecordSnapshot(ctx context.Context, snapshot Snapshot) {
	if r.sink == nil {
		return
	}

	if err := r.sink.RecordSnapshot(ctx, snapshot); err != nil {
		logger.Warn("Failed to record run snapshot",
			zap.String("trace_id", snapshot.TraceID),
			zap.Error(err),
		)
	}
}

func verdictValue(v judge.Verdict) float64 {
	if v == judge.VerdictPass {
		return 1.0
	}
	return 0.0
}

func riskValue(r judge.RiskLevel) float64 {
	switch r {
	case judge.RiskLow:
		return 1.0
	case judge.RiskMedium:
		return 0.5
	case judge.RiskHigh:
		return 0.0
	}
	return 0.5
}

func supportValue(s judge.SupportLevel) float64 {
	switch s {
	case judge.SupportFull:
		return 1.0
	case judge.SupportPartial:
		return 0.5
	case judge.SupportHallucinated:
		return 0.0
	}
	return 0.0
}

func issueSummary(issues []string) string {
	if len(issues) == 0 {
		return "None"
	}
	return strings.Join(issues, "; ")
}
