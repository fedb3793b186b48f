package models

import "time"

// RunRecord is the persisted audit snapshot of one pipeline run.
type RunRecord struct {
	TraceID    string    `json:"trace_id"`
	Success    bool      `json:"success"`
	State      string    `json:"state"`
	Error      string    `json:"error,omitempty"`
	InputText  string    `json:"input_text,omitempty"`
	OutputJSON string    `json:"output_json,omitempty"`
	TokensUsed int       `json:"tokens_used"`
	CreatedAt  time.Time `json:"created_at"`
}

// ScoreRecord is one flattened evaluation signal attached to a run.
type ScoreRecord struct {
	ID        int       `json:"id"`
	TraceID   string    `json:"trace_id"`
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
