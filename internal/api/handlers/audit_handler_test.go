package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/medcode-agent/backend/internal/storage/models"
)

type fakeAuditStore struct {
	runs   map[string]*models.RunRecord
	scores map[string][]models.ScoreRecord
	err    error
}

func (f *fakeAuditStore) GetRun(ctx context.Context, traceID string) (*models.RunRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.runs[traceID], nil
}

func (f *fakeAuditStore) ListScores(ctx context.Context, traceID string) ([]models.ScoreRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scores[traceID], nil
}

func newAuditApp(store AuditStore) *fiber.App {
	app := fiber.New()
	app.Get("/api/v1/runs/:trace_id", NewAuditHandler(store).HandleGetRun)
	return app
}

func TestHandleGetRun(t *testing.T) {
	store := &fakeAuditStore{
		runs: map[string]*models.RunRecord{
			"trace-1": {
				TraceID:    "trace-1",
				Success:    true,
				State:      "completed",
				TokensUsed: 100,
				CreatedAt:  time.Unix(1700000000, 0),
			},
		},
		scores: map[string][]models.ScoreRecord{
			"trace-1": {
				{ID: 1, TraceID: "trace-1", Name: "overall_score", Value: 0.9},
				{ID: 2, TraceID: "trace-1", Name: "overall_verdict", Value: 1},
			},
		},
	}

	resp, err := newAuditApp(store).Test(httptest.NewRequest("GET", "/api/v1/runs/trace-1", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}

	var body struct {
		Run    models.RunRecord     `json:"run"`
		Scores []models.ScoreRecord `json:"scores"`
	}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("response did not decode: %v", err)
	}
	if body.Run.TraceID != "trace-1" || !body.Run.Success || body.Run.State != "completed" {
		t.Errorf("run = %+v, want stored snapshot", body.Run)
	}
	if len(body.Scores) != 2 || body.Scores[0].Name != "overall_score" {
		t.Errorf("scores = %+v, want the two stored scores in order", body.Scores)
	}
}

func TestHandleGetRunNotFound(t *testing.T) {
	store := &fakeAuditStore{runs: map[string]*models.RunRecord{}}

	resp, err := newAuditApp(store).Test(httptest.NewRequest("GET", "/api/v1/runs/missing", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusNotFound)
	}
}

func TestHandleGetRunStoreFailure(t *testing.T) {
	store := &fakeAuditStore{err: fmt.Errorf("database locked")}

	resp, err := newAuditApp(store).Test(httptest.NewRequest("GET", "/api/v1/runs/trace-1", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusInternalServerError)
	}
}
