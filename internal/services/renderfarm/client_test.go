package renderfarm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storyloom/internal/collab"
	"storyloom/internal/services/stagejob"
)

func TestClientSubmitAndFetchResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/renders":
			var req SubmitRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			if req.AspectRatio != "16:9" {
				t.Fatalf("unexpected payload: %+v", req)
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"jobId": "rdr-9"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/renders/rdr-9/result":
			_ = json.NewEncoder(w).Encode(Result{ObjectKey: "renders/run-1/final.mp4", DurationSeconds: 92.5})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "tok")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	jobID, err := client.Submit(context.Background(), SubmitRequest{RunID: "run-1", AspectRatio: "16:9", SceneCount: 5})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	result, err := client.FetchResult(context.Background(), jobID)
	if err != nil {
		t.Fatalf("FetchResult failed: %v", err)
	}
	if result.ObjectKey != "renders/run-1/final.mp4" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestFetchResultRejectsEmptyKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Result{})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := client.FetchResult(context.Background(), "rdr-9"); err == nil {
		t.Fatal("expected error for missing object key")
	}
}

func TestAdapterSingleUnitCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(stagejob.Status{
			JobID:        "rdr-9",
			State:        stagejob.StateCompleted,
			SuccessCount: 1,
			TotalUnits:   1,
			UpdatedAt:    time.Now(),
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	adapter := NewAdapter(client, 20*time.Minute)
	completion, err := adapter.IsComplete(context.Background(), "rdr-9")
	if err != nil {
		t.Fatalf("IsComplete failed: %v", err)
	}
	if collab.Classify(completion) != collab.OutcomeSucceeded {
		t.Fatalf("expected success, got %+v", completion)
	}

	var _ collab.ArtifactProducer = adapter
	var _ collab.Adapter = adapter
}
