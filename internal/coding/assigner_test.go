package coding

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/medcode-agent/backend/internal/llm"
)

type fakeEngine struct {
	reply   string
	err     error
	usage   llm.Usage
	invokes int
	lastReq llm.InvokeRequest
}

func (f *fakeEngine) Invoke(ctx context.Context, req llm.InvokeRequest, out interface{}) (llm.Usage, error) {
	f.invokes++
	f.lastReq = req
	if f.err != nil {
		return f.usage, f.err
	}
	if err := json.Unmarshal([]byte(f.reply), out); err != nil {
		return f.usage, err
	}
	return f.usage, nil
}

type fakeGateway struct {
	candidates map[string][]Candidate
	err        error
	searches   int
	lastSpace  CodeSpace
	lastTerms  []string
}

func (f *fakeGateway) Search(ctx context.Context, space CodeSpace, queries []string, k int) (map[string][]Candidate, error) {
	f.searches++
	f.lastSpace = space
	f.lastTerms = queries
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

func diagnosisSpec() CodeSpaceSpec {
	return CodeSpaceSpec{
		Space:   SpaceDiagnosis,
		Catalog: "icd10cm",
		TopK:    5,
		Model:   "gpt-4o",
	}
}

func supplySpec() CodeSpaceSpec {
	return CodeSpaceSpec{
		Space:           SpaceSupply,
		Catalog:         "hcpcs_level2",
		RequiresLinkage: true,
		TopK:            5,
		Model:           "gpt-4o",
	}
}

func TestAssignSingleRetrievalBatch(t *testing.T) {
	engine := &fakeEngine{
		reply: `{"codes": [
			{"code": "E11.9", "confidence": 0.95},
			{"code": "I10", "confidence": 0.9},
			{"code": "J45.909", "confidence": 0.85}
		]}`,
		usage: llm.Usage{TotalTokens: 100},
	}
	gateway := &fakeGateway{candidates: map[string][]Candidate{}}
	assigner := NewAssigner(engine, gateway)

	terms := []string{"type 2 diabetes", "hypertension", "asthma"}
	assignments, usage, err := assigner.Assign(context.Background(), diagnosisSpec(), terms, nil)
	if err != nil {
		t.Fatalf("Assign() error = %v", err)
	}

	if gateway.searches != 1 {
		t.Errorf("gateway searched %d times for %d terms, want exactly 1", gateway.searches, len(terms))
	}
	if len(gateway.lastTerms) != len(terms) {
		t.Errorf("gateway received %d terms, want %d", len(gateway.lastTerms), len(terms))
	}
	if engine.invokes != 1 {
		t.Errorf("engine invoked %d times, want exactly 1", engine.invokes)
	}
	if len(assignments) != 3 {
		t.Errorf("got %d assignments, want 3", len(assignments))
	}
	if usage.TotalTokens != 100 {
		t.Errorf("usage = %d tokens, want 100", usage.TotalTokens)
	}
}

func TestAssignEmptyTermsSkipsCollaborators(t *testing.T) {
	engine := &fakeEngine{}
	gateway := &fakeGateway{}
	assigner := NewAssigner(engine, gateway)

	assignments, _, err := assigner.Assign(context.Background(), supplySpec(), nil, []string{"E11.9"})
	if err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if assignments != nil {
		t.Errorf("got %v, want nil assignments", assignments)
	}
	if gateway.searches != 0 || engine.invokes != 0 {
		t.Error("no terms should mean no retrieval and no reasoning invocation")
	}
}

func TestAssignLinkagePostconditions(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr error
	}{
		{
			name:  "valid linkage",
			reply: `{"codes": [{"code": "J1815", "confidence": 0.9, "linked_icd_codes": ["E11.9"]}]}`,
		},
		{
			name:    "missing linkage",
			reply:   `{"codes": [{"code": "J1815", "confidence": 0.9}]}`,
			wantErr: ErrLinkage,
		},
		{
			name:    "linkage to code outside this run",
			reply:   `{"codes": [{"code": "J1815", "confidence": 0.9, "linked_icd_codes": ["Z99.9"]}]}`,
			wantErr: ErrLinkage,
		},
		{
			name:    "confidence above range",
			reply:   `{"codes": [{"code": "J1815", "confidence": 1.2, "linked_icd_codes": ["E11.9"]}]}`,
			wantErr: llm.ErrReasoning,
		},
		{
			name:    "missing code",
			reply:   `{"codes": [{"code": "", "confidence": 0.9, "linked_icd_codes": ["E11.9"]}]}`,
			wantErr: llm.ErrReasoning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{reply: tt.reply}
			gateway := &fakeGateway{candidates: map[string][]Candidate{}}
			assigner := NewAssigner(engine, gateway)

			_, _, err := assigner.Assign(context.Background(), supplySpec(), []string{"insulin"}, []string{"E11.9"})
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Assign() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Assign() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAssignDiagnosisAllowsEmptyLinkage(t *testing.T) {
	engine := &fakeEngine{
		reply: `{"codes": [{"code": "E11.9", "confidence": 0.95}]}`,
	}
	gateway := &fakeGateway{candidates: map[string][]Candidate{}}
	assigner := NewAssigner(engine, gateway)

	assignments, _, err := assigner.Assign(context.Background(), diagnosisSpec(), []string{"type 2 diabetes"}, nil)
	if err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if len(assignments) != 1 || len(assignments[0].LinkedDiagnosisCodes) != 0 {
		t.Errorf("diagnosis assignments should carry no linkage, got %v", assignments)
	}
}

func TestAssignRetrievalFailurePropagates(t *testing.T) {
	sentinel := errors.New("backend down")
	engine := &fakeEngine{}
	gateway := &fakeGateway{err: sentinel}
	assigner := NewAssigner(engine, gateway)

	_, _, err := assigner.Assign(context.Background(), diagnosisSpec(), []string{"hypertension"}, nil)
	if !errors.Is(err, sentinel) {
		t.Fatalf("Assign() error = %v, want wrapped %v", err, sentinel)
	}
	if engine.invokes != 0 {
		t.Error("retrieval failure must prevent the reasoning invocation")
	}
}
