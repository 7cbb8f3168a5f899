package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"storyloom/internal/api"
	"storyloom/internal/collab"
	"storyloom/internal/config"
	"storyloom/internal/engine"
	"storyloom/internal/logging"
	"storyloom/internal/run"
	"storyloom/internal/testsupport"
)

type stubAdapter struct {
	mu         sync.Mutex
	phase      run.Phase
	kickoffs   int
	completion collab.Completion
}

func (s *stubAdapter) Kickoff(_ context.Context, _ *run.Run) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kickoffs++
	return fmt.Sprintf("%s-job-%d", s.phase, s.kickoffs), nil
}

func (s *stubAdapter) IsComplete(_ context.Context, _ string) (collab.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completion, nil
}

func (s *stubAdapter) RetryFailedUnits(_ context.Context, _ *run.Run, _ string) error { return nil }

func (s *stubAdapter) Cancel(_ context.Context, _ string) error { return nil }

func (s *stubAdapter) Progress(_ context.Context, _ string) (collab.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return collab.Progress{Phase: s.phase, Completed: s.completion.SuccessCount, Total: s.completion.TotalUnits}, nil
}

func (s *stubAdapter) setCompletion(c collab.Completion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completion = c
}

type harness struct {
	daemon    *Daemon
	baseURL   string
	scripting *stubAdapter
	store     *run.Store
	cfg       *config.Config
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)

	adapters := map[run.Phase]collab.Adapter{}
	h := &harness{store: store, cfg: cfg}
	for _, phase := range run.WorkingPhases() {
		stub := &stubAdapter{phase: phase}
		adapters[phase] = stub
		if phase == run.PhaseScripting {
			h.scripting = stub
		}
	}
	registry, err := collab.NewRegistry(adapters)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	eng, err := engine.New(store, registry, nil, engine.Settings{}, logging.NewNop())
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	d, err := New(cfg, store, eng, logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(d.Stop)

	h.daemon = d
	h.baseURL = "http://" + d.api.Addr()
	return h
}

func (h *harness) request(t *testing.T, method, path string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.baseURL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

const startBody = `{"title":"Fox Tales","brief":"a fox learns to fly","voiceId":"nova"}`

func startPayload() api.StartRequest {
	return api.StartRequest{OwnerRef: "project-1", Config: json.RawMessage(startBody)}
}

func TestAPIRunLifecycle(t *testing.T) {
	h := newHarness(t)

	resp, body := h.request(t, http.MethodPost, "/api/runs", startPayload(), "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d: %s", resp.StatusCode, body)
	}
	var created api.RunView
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if created.Phase != "scripting" {
		t.Fatalf("expected scripting, got %s", created.Phase)
	}

	// Duplicate active run is a conflict.
	resp, _ = h.request(t, http.MethodPost, "/api/runs", startPayload(), "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate start: expected 409, got %d", resp.StatusCode)
	}

	// Owner lookup returns the active run.
	resp, body = h.request(t, http.MethodGet, "/api/runs?owner=project-1", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("active lookup: expected 200, got %d", resp.StatusCode)
	}
	var active api.RunView
	if err := json.Unmarshal(body, &active); err != nil {
		t.Fatalf("decode active: %v", err)
	}
	if active.ID != created.ID {
		t.Fatalf("expected active run %s, got %s", created.ID, active.ID)
	}

	// Status carries live progress.
	h.scripting.setCompletion(collab.Completion{SuccessCount: 2, TotalUnits: 5})
	resp, body = h.request(t, http.MethodGet, "/api/runs/"+created.ID, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", resp.StatusCode)
	}
	var status api.RunView
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(status.Progress) != 1 || status.Progress[0].Completed != 2 {
		t.Fatalf("unexpected progress: %+v", status.Progress)
	}

	// Advance while the job is running reports waiting.
	resp, body = h.request(t, http.MethodPost, "/api/runs/"+created.ID+"/advance", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("advance: expected 200, got %d", resp.StatusCode)
	}
	var action api.ActionResponse
	if err := json.Unmarshal(body, &action); err != nil {
		t.Fatalf("decode action: %v", err)
	}
	if action.Action != string(engine.ActionWaiting) {
		t.Fatalf("expected waiting, got %s", action.Action)
	}

	// Cancel finishes the run.
	resp, body = h.request(t, http.MethodPost, "/api/runs/"+created.ID+"/cancel", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &action); err != nil {
		t.Fatalf("decode action: %v", err)
	}
	if action.Phase != "canceled" {
		t.Fatalf("expected canceled, got %s", action.Phase)
	}

	// Retry of a canceled run is a phase mismatch.
	resp, _ = h.request(t, http.MethodPost, "/api/runs/"+created.ID+"/retry", nil, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("retry canceled: expected 409, got %d", resp.StatusCode)
	}

	// Listing includes the canceled run.
	resp, body = h.request(t, http.MethodGet, "/api/runs?phase=canceled", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var list api.RunListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Runs) != 1 || list.Runs[0].ID != created.ID {
		t.Fatalf("unexpected listing: %+v", list.Runs)
	}
}

func TestAPIUnknownRun(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.request(t, http.MethodGet, "/api/runs/no-such-run", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAPIHealth(t *testing.T) {
	h := newHarness(t)
	resp, body := h.request(t, http.MethodGet, "/api/health", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var health api.HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	h := newHarness(t, testsupport.WithAPIToken("hunter2"))

	resp, _ := h.request(t, http.MethodGet, "/api/runs", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	resp, _ = h.request(t, http.MethodGet, "/api/runs", nil, "wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}
	resp, _ = h.request(t, http.MethodGet, "/api/runs", nil, "hunter2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
	// Health stays open for probes.
	resp, _ = h.request(t, http.MethodGet, "/api/health", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected open health endpoint, got %d", resp.StatusCode)
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	h := newHarness(t)

	other, err := New(h.cfg, h.store, mustEngine(t, h.store), logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := other.Start(context.Background()); err == nil {
		other.Stop()
		t.Fatal("expected second instance to be rejected")
	}
}

func mustEngine(t *testing.T, store *run.Store) *engine.Engine {
	t.Helper()
	adapters := map[run.Phase]collab.Adapter{}
	for _, phase := range run.WorkingPhases() {
		adapters[phase] = &stubAdapter{phase: phase}
	}
	registry, err := collab.NewRegistry(adapters)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	eng, err := engine.New(store, registry, nil, engine.Settings{}, logging.NewNop())
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	return eng
}

func TestSweeperAdvancesRunsWithoutPolling(t *testing.T) {
	h := newHarness(t)

	resp, body := h.request(t, http.MethodPost, "/api/runs", startPayload(), "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d", resp.StatusCode)
	}
	var created api.RunView
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode run: %v", err)
	}

	h.scripting.setCompletion(collab.Completion{Done: true, SuccessCount: 5, TotalUnits: 5})

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		current, err := h.store.GetByID(context.Background(), created.ID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if current.Phase == run.PhaseIllustrating {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("sweeper never advanced the run")
}
