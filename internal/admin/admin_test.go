package admin_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-analyzer/internal/admin"
	"github.com/spigell/hh-analyzer/internal/chain"
	"github.com/spigell/hh-analyzer/internal/llm"
	"github.com/spigell/hh-analyzer/internal/metrics"
	"github.com/spigell/hh-analyzer/internal/models"
	"github.com/spigell/hh-analyzer/internal/queue"
	"github.com/spigell/hh-analyzer/internal/repository"
	"github.com/spigell/hh-analyzer/internal/repository/repotest"
)

type fakeRunner struct {
	configs []chain.Config
	fail    bool
}

func (f *fakeRunner) Run(_ context.Context, postingID string, cfg chain.Config) chain.Outcome {
	f.configs = append(f.configs, cfg)
	if f.fail {
		return chain.Outcome{PostingID: postingID, ChainID: cfg.ID, ErrorMessage: "posting " + postingID + " not found"}
	}
	return chain.Outcome{PostingID: postingID, ChainID: cfg.ID, Success: true}
}

type harness struct {
	server   *admin.Server
	driver   *queue.Driver
	postings *repository.PostingRepository
	scores   *repository.ScoreRepository
	registry *llm.Registry
	runner   *fakeRunner
	metrics  *metrics.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := repotest.Open(t)
	reg := metrics.NewRegistry()
	h := &harness{
		driver:   queue.New(repository.NewQueueRepository(db), queue.NewMemoryGuard(), zap.NewNop(), reg),
		postings: repository.NewPostingRepository(db),
		scores:   repository.NewScoreRepository(db),
		registry: llm.NewRegistry(repository.NewModelRepository(db), zap.NewNop()),
		runner:   &fakeRunner{},
		metrics:  reg,
	}
	h.server = admin.New(admin.Deps{
		Queue:    h.driver,
		Postings: h.postings,
		Runner:   h.runner,
		Catalog:  chain.NewCatalog(),
		Models:   h.registry,
		Scores:   h.scores,
		Audits:   repository.NewAuditRepository(db),
		Metrics:  reg,
		Logger:   zap.NewNop(),
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestEnqueueIDsAndDepth(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/queues/update/enqueue", `{"ids":["1","2","2"],"priority":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	summary := decode[queue.BatchSummary](t, rec)
	if summary.Succeeded != 2 || summary.Skipped != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rec = h.do(t, http.MethodGet, "/api/queues/UPDATE/depth", "")
	depth := decode[map[string]any](t, rec)
	if depth["depth"] != float64(2) || depth["kind"] != "UPDATE" {
		t.Fatalf("unexpected depth: %v", depth)
	}

	rec = h.do(t, http.MethodGet, "/api/queues/UPDATE/stats", "")
	stats := decode[queue.Stats](t, rec)
	if stats.New != 2 || stats.Total != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if got := h.metrics.Counter("queue_enqueued_total", map[string]string{"kind": "UPDATE"}); got != 2 {
		t.Fatalf("expected enqueue counter 2, got %v", got)
	}
}

func TestEnqueueAllUsesStoredPostings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		if err := h.postings.Upsert(ctx, &models.Posting{ID: id}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if err := h.postings.Archive(ctx, "3", time.Now()); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := h.scores.Upsert(ctx, &models.PostingScore{ID: "s1", PostingID: "1", Rating: "GOOD"}); err != nil {
		t.Fatalf("score: %v", err)
	}

	rec := h.do(t, http.MethodPost, "/api/queues/analysis_full/enqueue", `{"all":true,"unscored":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	summary := decode[queue.BatchSummary](t, rec)
	if summary.Succeeded != 1 {
		t.Fatalf("expected only posting 2 to be enqueued, got %+v", summary)
	}
}

func TestEnqueueValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{name: "unknown kind", path: "/api/queues/bogus/enqueue", body: `{"ids":["1"]}`, code: http.StatusBadRequest},
		{name: "empty body", path: "/api/queues/UPDATE/enqueue", body: `{}`, code: http.StatusBadRequest},
		{name: "broken json", path: "/api/queues/UPDATE/enqueue", body: `{"ids":`, code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRunChain(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/chains/primary_only/run/42?force=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decode[chain.Outcome](t, rec)
	if out.PostingID != "42" || out.ChainID != string(chain.PrimaryOnly) {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if !h.runner.configs[0].ForceReanalyze {
		t.Fatalf("expected force to be passed to the runner")
	}

	if rec := h.do(t, http.MethodPost, "/api/chains/nope/run/42", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown chain, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodPost, "/api/chains/primary_only/run/42?force=maybe", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad force, got %d", rec.Code)
	}

	h.runner.fail = true
	rec = h.do(t, http.MethodPost, "/api/chains/full_analysis/run/404", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for failed run, got %d", rec.Code)
	}
	if out := decode[chain.Outcome](t, rec); out.Success || out.ErrorMessage == "" {
		t.Fatalf("expected failed outcome, got %+v", out)
	}
}

func TestModelsDiagnoseAndReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, _, err := h.registry.Sync(ctx, []llm.ModelSpec{
		{Name: "primary", Model: "deepseek-chat", Priority: 1},
		{Name: "backup", Model: "gpt-4o-mini", Priority: 2},
	}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	rec := h.do(t, http.MethodGet, "/api/models", "")
	report := decode[[]llm.Diagnosis](t, rec)
	if len(report) != 2 || report[0].Name != "primary" {
		t.Fatalf("unexpected report: %+v", report)
	}

	path := "/api/models/" + strconv.FormatUint(uint64(report[0].ID), 10) + "/reset"
	if rec := h.do(t, http.MethodPost, path, ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := h.do(t, http.MethodPost, "/api/models/999/reset", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown model, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodPost, "/api/models/abc/reset", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/api/models/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestPostingScore(t *testing.T) {
	h := newHarness(t)

	if rec := h.do(t, http.MethodGet, "/api/postings/1/score", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	if err := h.scores.Upsert(context.Background(), &models.PostingScore{ID: "s1", PostingID: "1", TotalScore: 150, Rating: "MODERATE"}); err != nil {
		t.Fatalf("score: %v", err)
	}
	rec := h.do(t, http.MethodGet, "/api/postings/1/score", "")
	score := decode[models.PostingScore](t, rec)
	if score.TotalScore != 150 || score.Rating != "MODERATE" {
		t.Fatalf("unexpected score: %+v", score)
	}

	if rec := h.do(t, http.MethodGet, "/api/postings/1/audits?limit=0", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestMetricsSnapshot(t *testing.T) {
	h := newHarness(t)
	h.metrics.IncCounter("chain_runs_total", map[string]string{"chain": "FULL_ANALYSIS", "result": "completed"}, 1)

	snap := decode[metrics.Snapshot](t, h.do(t, http.MethodGet, "/api/metrics", ""))
	if len(snap.Counters) != 1 || snap.Counters[0].Name != "chain_runs_total" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
