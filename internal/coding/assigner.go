package coding

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/medcode-agent/backend/internal/llm"
	"github.com/medcode-agent/backend/pkg/logger"
)

// Assigner is the code-assignment stage, generic over code space. The same
// control flow serves all three catalogs; CodeSpaceSpec carries what differs.
type Assigner struct {
	engine  Engine
	gateway Gateway
}

func NewAssigner(engine Engine, gateway Gateway) *Assigner {
	return &Assigner{
		engine:  engine,
		gateway: gateway,
	}
}

const assignmentInstructions = `You are a certified medical coding specialist for the %s catalog.
You receive a list of clinical terms, retrieval candidates from the reference
catalog grouped by originating term, and possibly the diagnosis codes already
assigned in this encounter.

Rules:
- Select the most accurate and most specific code for each term, applying the
  catalog's official coding guidelines.
- The retrieved candidates are suggestions. If they do not contain the correct
  code or lack sufficient specificity, use your expert coding knowledge to
  provide the correct code instead. An empty candidate list never forces you
  to skip a term.
- Keep output order aligned with the input term order.
- Confidence must be between 0.0 and 1.0 and reflect documentation strength.%s

Return JSON only, with this exact shape:
{"codes": [{"code": "...", "description": "...", "confidence": 0.0, "linked_icd_codes": ["..."]}]}
For diagnosis coding, linked_icd_codes must be omitted or empty.`

const linkageInstructions = `
- Link every code to one or more of the provided diagnosis codes to justify
  medical necessity. Only use diagnosis codes from the provided list. A code
  you cannot link to any documented diagnosis must not be emitted.`

// assignmentPayload is the single reasoning payload covering all terms of
// the stage, keeping the decision session-local across the whole term list.
type assignmentPayload struct {
	Terms          []string               `json:"terms"`
	Candidates     map[string][]Candidate `json:"candidates_by_term"`
	DiagnosisCodes []string               `json:"context_icd_codes,omitempty"`
}

type assignmentReply struct {
	Codes []CodeAssignment `json:"codes"`
}

// Assign maps the stage's terms to code assignments. It issues exactly one
// batched retrieval call and one reasoning invocation regardless of term
// count, then enforces the stage postconditions.
func (a *Assigner) Assign(ctx context.Context, spec CodeSpaceSpec, terms []string, contextDiagnosisCodes []string) ([]CodeAssignment, llm.Usage, error) {
	var usage llm.Usage

	if len(terms) == 0 {
		return nil, usage, nil
	}

	candidates, err := a.gateway.Search(ctx, spec.Space, terms, spec.TopK)
	if err != nil {
		return nil, usage, fmt.Errorf("%s coding: %w", spec.Space, err)
	}

	payload := assignmentPayload{
		Terms:      terms,
		Candidates: candidates,
	}
	if spec.RequiresLinkage {
		payload.DiagnosisCodes = contextDiagnosisCodes
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, usage, fmt.Errorf("%s coding: encode payload: %w", spec.Space, err)
	}

	extra := ""
	if spec.RequiresLinkage {
		extra = linkageInstructions
	}

	var reply assignmentReply
	usage, err = a.engine.Invoke(ctx, llm.InvokeRequest{
		Model:        spec.Model,
		Instructions: fmt.Sprintf(assignmentInstructions, catalogName(spec.Space), extra),
		Payload:      string(encoded),
	}, &reply)
	if err != nil {
		return nil, usage, fmt.Errorf("%s coding: %w", spec.Space, err)
	}

	if err := validateAssignments(spec, reply.Codes, contextDiagnosisCodes); err != nil {
		return nil, usage, fmt.Errorf("%s coding: %w", spec.Space, err)
	}

	logger.Info("Codes assigned",
		zap.String("space", string(spec.Space)),
		zap.Int("terms", len(terms)),
		zap.Int("codes", len(reply.Codes)),
	)

	return reply.Codes, usage, nil
}

// validateAssignments enforces the stage postconditions: confidence range
// for every space, and for linkage spaces a non-empty linkage whose every
// element was assigned by this run's diagnosis stage.
func validateAssignments(spec CodeSpaceSpec, assignments []CodeAssignment, contextDiagnosisCodes []string) error {
	known := make(map[string]struct{}, len(contextDiagnosisCodes))
	for _, code := range contextDiagnosisCodes {
		known[code] = struct{}{}
	}

	for i, a := range assignments {
		if a.Code == "" {
			return fmt.Errorf("%w: assignment %d has no code", llm.ErrReasoning, i)
		}
		if a.Confidence < 0.0 || a.Confidence > 1.0 {
			return fmt.Errorf("%w: code %s confidence %.3f out of range", llm.ErrReasoning, a.Code, a.Confidence)
		}

		if !spec.RequiresLinkage {
			continue
		}
		if len(a.LinkedDiagnosisCodes) == 0 {
			return fmt.Errorf("%w: code %s has no diagnosis linkage", ErrLinkage, a.Code)
		}
		for _, linked := range a.LinkedDiagnosisCodes {
			if _, ok := known[linked]; !ok {
				return fmt.Errorf("%w: code %s links unknown diagnosis code %s", ErrLinkage, a.Code, linked)
			}
		}
	}

	return nil
}

func catalogName(space CodeSpace) string {
	switch space {
	case SpaceDiagnosis:
		return "ICD-10-CM"
	case SpaceProcedure:
		return "CPT-4"
	case SpaceSupply:
		return "HCPCS Level II"
	}
	return string(space)
}
