package judge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/medcode-agent/backend/internal/coding"
	"github.com/medcode-agent/backend/internal/llm"
)

type fakeEngine struct {
	reply   string
	err     error
	invokes int
	lastReq llm.InvokeRequest
}

func (f *fakeEngine) Invoke(ctx context.Context, req llm.InvokeRequest, out interface{}) (llm.Usage, error) {
	f.invokes++
	f.lastReq = req
	if f.err != nil {
		return llm.Usage{}, f.err
	}
	if err := json.Unmarshal([]byte(f.reply), out); err != nil {
		return llm.Usage{}, err
	}
	return llm.Usage{TotalTokens: 50}, nil
}

func validReply() string {
	return `{
		"overall_verdict": "pass",
		"overall_score": 0.87,
		"section_judgements": [
			{"section": "icd", "verdict": "pass"},
			{"section": "hcpcs", "verdict": "pass"}
		],
		"code_judgements": [
			{"code": "E11.9", "code_space": "icd", "term_match": true, "documentation_support": "full", "confidence_alignment": true},
			{"code": "J1815", "code_space": "hcpcs", "term_match": true, "documentation_support": "full", "linkage_valid": true, "confidence_alignment": true}
		],
		"compliance_risk": "low",
		"summary": "All assigned codes are directly supported by the documented encounter."
	}`
}

func sampleResult() *coding.CodingResult {
	return &coding.CodingResult{
		Entities: coding.EntitySet{
			DiagnosticTerms: []string{"type 2 diabetes mellitus"},
			SupplyTerms:     []string{"insulin injection"},
		},
		DiagnosisCodes: []coding.CodeAssignment{{Code: "E11.9", Confidence: 0.95}},
		SupplyCodes: []coding.CodeAssignment{
			{Code: "J1815", Confidence: 0.9, LinkedDiagnosisCodes: []string{"E11.9"}},
		},
	}
}

func TestEvaluate(t *testing.T) {
	engine := &fakeEngine{reply: validReply()}
	service := NewService(engine, "gpt-4o")

	record, usage, err := service.Evaluate(context.Background(), "Patient with type 2 diabetes received insulin.", sampleResult())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if engine.invokes != 1 {
		t.Errorf("engine invoked %d times, want exactly 1", engine.invokes)
	}
	if record.OverallVerdict != VerdictPass || record.OverallScore != 0.87 {
		t.Errorf("unexpected record: verdict=%s score=%v", record.OverallVerdict, record.OverallScore)
	}
	if usage.TotalTokens != 50 {
		t.Errorf("usage = %d tokens, want 50", usage.TotalTokens)
	}
	if !strings.Contains(engine.lastReq.Payload, "E11.9") {
		t.Error("payload must carry the coding result being audited")
	}
}

func TestEvaluateInvalidRecord(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{
			name:  "unknown verdict",
			reply: `{"overall_verdict": "maybe", "overall_score": 0.5, "compliance_risk": "low", "summary": "A summary long enough to pass the length gate."}`,
		},
		{
			name:  "score out of range",
			reply: `{"overall_verdict": "pass", "overall_score": 1.5, "compliance_risk": "low", "summary": "A summary long enough to pass the length gate."}`,
		},
		{
			name:  "rubber-stamp summary",
			reply: `{"overall_verdict": "pass", "overall_score": 0.9, "compliance_risk": "low", "summary": "ok"}`,
		},
		{
			name:  "unknown risk level",
			reply: `{"overall_verdict": "pass", "overall_score": 0.9, "compliance_risk": "none", "summary": "A summary long enough to pass the length gate."}`,
		},
		{
			name:  "unknown support level",
			reply: `{"overall_verdict": "pass", "overall_score": 0.9, "compliance_risk": "low", "summary": "A summary long enough to pass the length gate.", "code_judgements": [{"code": "E11.9", "code_space": "icd", "documentation_support": "strong"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{reply: tt.reply}
			service := NewService(engine, "gpt-4o")

			_, _, err := service.Evaluate(context.Background(), "text", sampleResult())
			if !errors.Is(err, ErrEvaluation) {
				t.Errorf("Evaluate() error = %v, want %v", err, ErrEvaluation)
			}
		})
	}
}

func TestEvaluateEngineFailure(t *testing.T) {
	engine := &fakeEngine{err: llm.ErrReasoning}
	service := NewService(engine, "gpt-4o")

	_, _, err := service.Evaluate(context.Background(), "text", sampleResult())
	if !errors.Is(err, ErrEvaluation) {
		t.Fatalf("Evaluate() error = %v, want %v", err, ErrEvaluation)
	}
}

func TestJudgementRecordValidate(t *testing.T) {
	record := JudgementRecord{
		OverallVerdict: VerdictFail,
		OverallScore:   0.2,
		ComplianceRisk: RiskHigh,
		Summary:        "Multiple codes lack documentation support in the encounter text.",
		SectionJudgements: []SectionJudgement{
			{Section: "cpt", Verdict: VerdictFail, Notes: "unsupported E/M level"},
		},
		CodeJudgements: []CodeJudgement{
			{Code: "99215", CodeSpace: "cpt", DocumentationSupport: SupportHallucinated},
		},
	}

	if err := record.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}

	record.SectionJudgements[0].Verdict = "unknown"
	if err := record.Validate(); err == nil {
		t.Error("Validate() should reject unknown section verdicts")
	}
}
