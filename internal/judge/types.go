package judge

import (
	"fmt"
	"strings"
)

type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// SupportLevel classifies how strongly a code is backed by explicit text in
// the source document.
type SupportLevel string

const (
	SupportHallucinated SupportLevel = "hallucinated"
	SupportPartial      SupportLevel = "partial"
	SupportFull         SupportLevel = "full"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// minSummaryLength guards against one-line rubber-stamp summaries.
const minSummaryLength = 30

// CodeJudgement is the verdict for one assigned code.
type CodeJudgement struct {
	Code                 string       `json:"code"`
	CodeSpace            string       `json:"code_space"`
	TermMatch            bool         `json:"term_match"`
	DocumentationSupport SupportLevel `json:"documentation_support"`
	LinkageValid         *bool        `json:"linkage_valid,omitempty"`
	ConfidenceAlignment  bool         `json:"confidence_alignment"`
	Issues               []string     `json:"issues,omitempty"`
}

// SectionJudgement is the pass/fail verdict for one code space section.
type SectionJudgement struct {
	Section string  `json:"section"`
	Verdict Verdict `json:"verdict"`
	Notes   string  `json:"notes,omitempty"`
}

// JudgementRecord is the complete judge output for one run. Read-only once
// produced.
type JudgementRecord struct {
	OverallVerdict    Verdict            `json:"overall_verdict"`
	OverallScore      float64            `json:"overall_score"`
	SectionJudgements []SectionJudgement `json:"section_judgements"`
	CodeJudgements    []CodeJudgement    `json:"code_judgements"`
	ComplianceRisk    RiskLevel          `json:"compliance_risk"`
	Summary           string             `json:"summary"`
	Notes             string             `json:"notes,omitempty"`
}

// Validate enforces the record's structural contract: known enum values,
// score range and a substantive summary.
func (r *JudgementRecord) Validate() error {
	if r.OverallVerdict != VerdictPass && r.OverallVerdict != VerdictFail {
		return fmt.Errorf("unknown overall verdict %q", r.OverallVerdict)
	}
	if r.OverallScore < 0.0 || r.OverallScore > 1.0 {
		return fmt.Errorf("overall score %.3f out of range", r.OverallScore)
	}
	switch r.ComplianceRisk {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return fmt.Errorf("unknown compliance risk %q", r.ComplianceRisk)
	}
	if len(strings.TrimSpace(r.Summary)) < minSummaryLength {
		return fmt.Errorf("summary shorter than %d characters", minSummaryLength)
	}

	for _, sj := range r.SectionJudgements {
		if sj.Verdict != VerdictPass && sj.Verdict != VerdictFail {
			return fmt.Errorf("section %s has unknown verdict %q", sj.Section, sj.Verdict)
		}
	}
	for _, cj := range r.CodeJudgements {
		switch cj.DocumentationSupport {
		case SupportHallucinated, SupportPartial, SupportFull:
		default:
			return fmt.Errorf("code %s has unknown support level %q", cj.Code, cj.DocumentationSupport)
		}
	}

	return nil
}
