package pipeline

import (
	"errors"

	"github.com/medcode-agent/backend/internal/coding"
	"github.com/medcode-agent/backend/internal/document"
	"github.com/medcode-agent/backend/internal/judge"
	"github.com/medcode-agent/backend/internal/llm"
	"github.com/medcode-agent/backend/internal/retrieval"
)

// ErrorKind classifies a run error into the stable label exposed on the API
// and stored with audit snapshots.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, document.ErrExtraction):
		return "document_extraction_failure"
	case errors.Is(err, coding.ErrLinkage):
		return "linkage_violation"
	case errors.Is(err, retrieval.ErrRetrieval):
		return "retrieval_failure"
	case errors.Is(err, llm.ErrReasoning):
		return "reasoning_failure"
	case errors.Is(err, judge.ErrEvaluation):
		return "evaluation_failure"
	default:
		return "internal_error"
	}
}
