package coding

import (
	"context"
	"fmt"
	"strings"

	"github.com/medcode-agent/backend/internal/llm"
)

// CodeSpace names one of the three billing-code catalogs.
type CodeSpace string

const (
	SpaceDiagnosis CodeSpace = "icd"
	SpaceProcedure CodeSpace = "cpt"
	SpaceSupply    CodeSpace = "hcpcs"
)

// CodeSpaceSpec parameterizes the generic assignment stage for one catalog.
// The three stages differ only in catalog, linkage requirement and model,
// never in control flow.
type CodeSpaceSpec struct {
	Space           CodeSpace
	Catalog         string
	RequiresLinkage bool
	TopK            int
	Model           string
}

// Engine is the reasoning collaborator consumed by the stages. *llm.Client
// satisfies it; tests substitute fakes.
type Engine interface {
	Invoke(ctx context.Context, req llm.InvokeRequest, out interface{}) (llm.Usage, error)
}

// Gateway is the batched retrieval collaborator. One Search call covers the
// full term list of a stage.
type Gateway interface {
	Search(ctx context.Context, space CodeSpace, queries []string, k int) (map[string][]Candidate, error)
}

// Candidate is one projected nearest-neighbor reference entry. It lives only
// for the duration of a single retrieval round trip.
type Candidate struct {
	Code        string  `json:"id"`
	Description string  `json:"desc,omitempty"`
	Category    string  `json:"category,omitempty"`
	Disease     string  `json:"disease,omitempty"`
	Score       float64 `json:"score"`
}

// EntitySet holds the three disjoint term lists produced by entity
// extraction. Order is preserved through the assignment stages.
type EntitySet struct {
	DiagnosticTerms []string `json:"icd_terms"`
	ProcedureTerms  []string `json:"cpt_terms"`
	SupplyTerms     []string `json:"hcpcs_terms"`
}

// TermsFor returns the term list feeding the given code space.
func (e *EntitySet) TermsFor(space CodeSpace) []string {
	switch space {
	case SpaceDiagnosis:
		return e.DiagnosticTerms
	case SpaceProcedure:
		return e.ProcedureTerms
	case SpaceSupply:
		return e.SupplyTerms
	}
	return nil
}

// Validate rejects a term that appears in more than one list. Comparison is
// case-insensitive since the lists come from a reasoning invocation.
func (e *EntitySet) Validate() error {
	seen := make(map[string]CodeSpace)
	for _, space := range []CodeSpace{SpaceDiagnosis, SpaceProcedure, SpaceSupply} {
		for _, term := range e.TermsFor(space) {
			key := strings.ToLower(strings.TrimSpace(term))
			if key == "" {
				continue
			}
			if prev, ok := seen[key]; ok && prev != space {
				return fmt.Errorf("term %q appears in both %s and %s lists", term, prev, space)
			}
			seen[key] = space
		}
	}
	return nil
}

// IsEmpty reports whether extraction found nothing billable.
func (e *EntitySet) IsEmpty() bool {
	return len(e.DiagnosticTerms) == 0 && len(e.ProcedureTerms) == 0 && len(e.SupplyTerms) == 0
}

// CodeAssignment is one assigned billing code. LinkedDiagnosisCodes is empty
// for diagnosis-space assignments and non-empty for every other space.
type CodeAssignment struct {
	Code                 string   `json:"code"`
	Description          string   `json:"description,omitempty"`
	Confidence           float64  `json:"confidence"`
	LinkedDiagnosisCodes []string `json:"linked_icd_codes,omitempty"`
}

// CodingResult aggregates one run's entity set and per-space assignments.
// It is owned by a single pipeline run and never shared.
type CodingResult struct {
	Entities       EntitySet        `json:"entities"`
	DiagnosisCodes []CodeAssignment `json:"icd_codes"`
	ProcedureCodes []CodeAssignment `json:"cpt_codes"`
	SupplyCodes    []CodeAssignment `json:"hcpcs_codes"`
}

// SetAssignments stores a stage result under its code space.
func (r *CodingResult) SetAssignments(space CodeSpace, assignments []CodeAssignment) {
	switch space {
	case SpaceDiagnosis:
		r.DiagnosisCodes = assignments
	case SpaceProcedure:
		r.ProcedureCodes = assignments
	case SpaceSupply:
		r.SupplyCodes = assignments
	}
}

// AssignmentsFor returns the assignments for one code space.
func (r *CodingResult) AssignmentsFor(space CodeSpace) []CodeAssignment {
	switch space {
	case SpaceDiagnosis:
		return r.DiagnosisCodes
	case SpaceProcedure:
		return r.ProcedureCodes
	case SpaceSupply:
		return r.SupplyCodes
	}
	return nil
}

// DiagnosisCodeSet returns the set of diagnosis codes assigned in this run,
// used to verify linkage referential integrity.
func (r *CodingResult) DiagnosisCodeSet() map[string]struct{} {
	set := make(map[string]struct{}, len(r.DiagnosisCodes))
	for _, a := range r.DiagnosisCodes {
		set[a.Code] = struct{}{}
	}
	return set
}
