package coding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/medcode-agent/backend/internal/llm"
	"github.com/medcode-agent/backend/pkg/logger"
)

// Extractor converts normalized clinical text into the three disjoint term
// lists. It has no retrieval dependency and no upstream stage.
type Extractor struct {
	engine Engine
	model  string
}

func NewExtractor(engine Engine, model string) *Extractor {
	return &Extractor{
		engine: engine,
		model:  model,
	}
}

const extractionInstructions = `You are a medical coding entity extraction engine.
You receive clinical encounter text and must extract billing-relevant medical
concepts into three U.S. medical coding categories. Return terms only, no codes.

Rules for ICD-10-CM diagnostic terms:
- Include only conditions explicitly documented as a diagnosis or assessment.
- Exclude anything negated, denied, ruled out, or listed as a possibility.
- Exclude symptoms that are part of a confirmed diagnosis, normal exam findings,
  and screening statements without a diagnosis.
- If no diagnosis is documented, extract standalone symptoms only.
- Normalize abbreviations and shorthand to full clinical terms.

Rules for CPT-4 procedure and service terms:
- Include only services actually performed during this encounter: evaluation and
  management, laboratory tests performed, imaging completed, therapeutic
  procedures such as infusions and injections.
- Exclude planned, ordered, or future services, counseling alone, and clinical
  observations without an associated service.
- Extract E/M services at category level only; never infer visit level or
  complexity.

Rules for HCPCS Level II terms:
- Include only non-CPT billable items administered or provided during the
  encounter: injectable or infused medications, supplies, biologicals, durable
  medical equipment. Normalize medications as drug name, route, strength.
- Exclude oral medications prescribed for home use and home medications not
  administered during the visit.

General rules:
- No term may appear in more than one category.
- When multiple interpretations are possible, choose the least specific term
  that remains billing-relevant; never invent specificity that is not
  documented.

Return JSON only, with this exact shape:
{"icd_terms": ["..."], "cpt_terms": ["..."], "hcpcs_terms": ["..."]}`

// Extract runs the single entity-extraction reasoning invocation and
// validates the returned term lists.
func (x *Extractor) Extract(ctx context.Context, documentText string) (*EntitySet, llm.Usage, error) {
	var entities EntitySet

	usage, err := x.engine.Invoke(ctx, llm.InvokeRequest{
		Model:        x.model,
		Instructions: extractionInstructions,
		Payload:      fmt.Sprintf("Clinical encounter text:\n\n%s", documentText),
	}, &entities)
	if err != nil {
		return nil, usage, fmt.Errorf("entity extraction: %w", err)
	}

	if err := entities.Validate(); err != nil {
		return nil, usage, fmt.Errorf("entity extraction: %w: %v", llm.ErrReasoning, err)
	}

	logger.Info("Entities extracted",
		zap.Int("diagnostic_terms", len(entities.DiagnosticTerms)),
		zap.Int("procedure_terms", len(entities.ProcedureTerms)),
		zap.Int("supply_terms", len(entities.SupplyTerms)),
	)

	return &entities, usage, nil
}
