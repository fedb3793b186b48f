package coding

import (
	"context"
	"errors"
	"testing"

	"github.com/medcode-agent/backend/internal/llm"
)

func TestExtract(t *testing.T) {
	engine := &fakeEngine{
		reply: `{"icd_terms": ["type 2 diabetes mellitus"], "cpt_terms": ["office visit"], "hcpcs_terms": []}`,
		usage: llm.Usage{TotalTokens: 42},
	}
	extractor := NewExtractor(engine, "gpt-4o-mini")

	entities, usage, err := extractor.Extract(context.Background(), "Patient with type 2 diabetes seen in clinic.")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if engine.invokes != 1 {
		t.Errorf("engine invoked %d times, want exactly 1", engine.invokes)
	}
	if len(entities.DiagnosticTerms) != 1 || len(entities.ProcedureTerms) != 1 || len(entities.SupplyTerms) != 0 {
		t.Errorf("unexpected entity set: %+v", entities)
	}
	if usage.TotalTokens != 42 {
		t.Errorf("usage = %d tokens, want 42", usage.TotalTokens)
	}
}

func TestExtractRejectsOverlappingLists(t *testing.T) {
	engine := &fakeEngine{
		reply: `{"icd_terms": ["chest pain"], "cpt_terms": ["chest pain"], "hcpcs_terms": []}`,
	}
	extractor := NewExtractor(engine, "gpt-4o-mini")

	_, _, err := extractor.Extract(context.Background(), "Chest pain evaluation.")
	if !errors.Is(err, llm.ErrReasoning) {
		t.Fatalf("Extract() error = %v, want %v", err, llm.ErrReasoning)
	}
}

func TestExtractEnginePropagatesFailure(t *testing.T) {
	engine := &fakeEngine{err: llm.ErrReasoning}
	extractor := NewExtractor(engine, "gpt-4o-mini")

	_, _, err := extractor.Extract(context.Background(), "text")
	if !errors.Is(err, llm.ErrReasoning) {
		t.Fatalf("Extract() error = %v, want %v", err, llm.ErrReasoning)
	}
}
