package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestComplete_SendsRequestAndParsesReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}

		var req struct {
			Model       string    `json:"model"`
			Messages    []Message `json:"messages"`
			Temperature float64   `json:"temperature"`
			MaxTokens   int       `json:"max_tokens"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o" || req.Temperature != 0.5 || req.MaxTokens != 500 {
			t.Errorf("unexpected request params: %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "The lich is dead."}},
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "test-key", "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	reply, err := client.Complete(context.Background(), "gpt-4o", []Message{
		{Role: "system", Content: "summarize"},
		{Role: "user", Content: "transcript"},
	}, 0.5, 500)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "The lich is dead." {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestComplete_FlattensMultipartContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": []any{
					map[string]any{"type": "text", "text": "part one "},
					map[string]any{"type": "text", "text": "part two"},
				}}},
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	reply, err := client.Complete(context.Background(), "gpt-4o", []Message{{Role: "user", Content: "hi"}}, -1, 0)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "part one part two" {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestComplete_SurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Complete(context.Background(), "gpt-4o", []Message{{Role: "user", Content: "hi"}}, -1, 0)
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("expected API error message, got %v", err)
	}
}

func TestNewClient_RequiresAPIBase(t *testing.T) {
	if _, err := NewClient("", "key", ""); err == nil {
		t.Fatalf("expected error for missing API base")
	}
}

func TestComplete_RequiresModel(t *testing.T) {
	client, err := NewClient("http://localhost:1", "", "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.Complete(context.Background(), "  ", nil, -1, 0); err == nil {
		t.Fatalf("expected error for empty model")
	}
}
