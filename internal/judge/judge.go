package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/medcode-agent/backend/internal/coding"
	"github.com/medcode-agent/backend/internal/llm"
	"github.com/medcode-agent/backend/pkg/logger"
)

// ErrEvaluation marks a failed judge invocation. The coding result it was
// meant to audit remains valid.
var ErrEvaluation = errors.New("evaluation failure")

// Engine is the reasoning collaborator for the judge's second-pass
// invocation.
type Engine interface {
	Invoke(ctx context.Context, req llm.InvokeRequest, out interface{}) (llm.Usage, error)
}

// Service evaluates a complete coding output against its source document.
type Service struct {
	engine Engine
	model  string
}

func NewService(engine Engine, model string) *Service {
	return &Service{
		engine: engine,
		model:  model,
	}
}

const judgeInstructions = `You are a strict, conservative medical coding auditor.
You evaluate the correctness, documentation support, linkage validity and
compliance risk of structured medical coding output. You may judge only from
the provided clinical note and the provided coding output; never invent,
assume, infer, or extrapolate undocumented clinical facts.

Apply these responsibilities in strict priority order:

1. Clinical documentation alignment (highest priority). A code is supported
   only if explicitly documented in the note. Never accept implications,
   typical care patterns, rule-outs, or planned or expected services. When
   extracted terms conflict with the note, the note always wins.
2. Medical necessity. Diagnosis codes must make the linked procedure and
   supply codes clinically plausible. Mark linkage invalid when service
   intensity exceeds the documented severity or the service contradicts an
   uncomplicated, outpatient or low-acuity context.
3. Term-to-code traceability. Every code must map to at least one extracted
   term that the note supports; downgrade the code when the term lacks
   documentation support.
4. Confidence alignment. High confidence paired with weak documentation is
   misaligned; moderate confidence with partial support is aligned.
5. Hallucination detection. A code not traceable to the note, or one that
   implies undocumented procedures, diagnostics, severity or treatment
   intensity, is a hallucination and automatically raises compliance risk.

Classify each code's documentation_support as "full" (clearly and explicitly
documented), "partial" (loosely implied or incompletely documented) or
"hallucinated" (absent, contradicted, or speculative). Do not penalize
missing specificity unless the code exceeds what is documented.

Assign compliance_risk: "low" for routine clearly supported coding, "medium"
for plausible but audit-sensitive coding, "high" for likely documentation or
medical necessity failure. Pay special attention to IV therapies, high
intensity E/M, invasive procedures, and any mismatch between documented
severity and treatment intensity.

When uncertain, downgrade support rather than guessing.

Return JSON only, with this exact shape:
{"overall_verdict": "pass|fail", "overall_score": 0.0,
 "section_judgements": [{"section": "icd|cpt|hcpcs", "verdict": "pass|fail", "notes": "..."}],
 "code_judgements": [{"code": "...", "code_space": "icd|cpt|hcpcs",
   "term_match": true, "documentation_support": "full|partial|hallucinated",
   "linkage_valid": true, "confidence_alignment": true, "issues": ["..."]}],
 "compliance_risk": "low|medium|high", "summary": "...", "notes": "..."}
overall_score is between 0.0 and 1.0, summary is at least 30 characters, and
linkage_valid is omitted for diagnosis codes.`

// Evaluate runs the single judge invocation over the finished coding result.
// The result is rendered as compact JSON to control payload size.
func (s *Service) Evaluate(ctx context.Context, documentText string, result *coding.CodingResult) (*JudgementRecord, llm.Usage, error) {
	var usage llm.Usage

	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, usage, fmt.Errorf("%w: encode coding output: %v", ErrEvaluation, err)
	}

	payload := fmt.Sprintf("Clinical Note:\n%s\n\nMedical Coding Output:\n%s", documentText, encoded)

	var record JudgementRecord
	usage, err = s.engine.Invoke(ctx, llm.InvokeRequest{
		Model:        s.model,
		Instructions: judgeInstructions,
		Payload:      payload,
	}, &record)
	if err != nil {
		return nil, usage, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	if err := record.Validate(); err != nil {
		return nil, usage, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	logger.Info("Coding output judged",
		zap.String("verdict", string(record.OverallVerdict)),
		zap.Float64("score", record.OverallScore),
		zap.String("compliance_risk", string(record.ComplianceRisk)),
	)

	return &record, usage, nil
}
