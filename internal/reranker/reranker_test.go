package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestRerankOrdersByScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rerank" {
			http.NotFound(w, r)
			return
		}
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// Score the last document highest.
		results := make([]rerankResult, len(req.Documents))
		for i := range req.Documents {
			results[i] = rerankResult{Index: i, Score: float64(i)}
		}
		json.NewEncoder(w).Encode(rerankResponse{Results: results})
	}))
	defer srv.Close()

	rr := NewHTTPReranker(srv.URL, "test-model")
	out, err := rr.Rerank(context.Background(), "query", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	want := []string{"c", "b", "a"}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestRerankKeepsOmittedCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only score the middle document.
		json.NewEncoder(w).Encode(rerankResponse{Results: []rerankResult{{Index: 1, Score: 0.9}}})
	}))
	defer srv.Close()

	rr := NewHTTPReranker(srv.URL, "test-model")
	out, err := rr.Rerank(context.Background(), "query", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected all 3 candidates, got %d", len(out))
	}
	if out[0] != "b" {
		t.Errorf("scored candidate must come first, got %q", out[0])
	}
}

func TestRerankSingleCandidateSkipsServer(t *testing.T) {
	rr := NewHTTPReranker("http://127.0.0.1:1", "test-model")
	out, err := rr.Rerank(context.Background(), "query", []string{"only"})
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if len(out) != 1 || out[0] != "only" {
		t.Errorf("unexpected result: %v", out)
	}
}

func TestRerankServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rerank model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	rr := NewHTTPReranker(srv.URL, "test-model")
	if _, err := rr.Rerank(context.Background(), "q", []string{"a", "b"}); err == nil {
		t.Fatal("expected error from 500 response")
	}
}

func TestPassthrough(t *testing.T) {
	in := []string{"x", "y", "z"}
	out, err := Passthrough{}.Rerank(context.Background(), "q", in)
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("passthrough must not reorder: %v", out)
	}
}
