package xai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"poster/internal/config"
)

func newTestClient(baseURL string) *Client {
	return NewClient(config.XAIConfig{
		APIKey:      "test-key",
		BaseURL:     baseURL,
		ChatModel:   "grok-4-fast-reasoning",
		NamingModel: "grok-4-fast-non-reasoning",
		ImageModel:  "grok-2-image",
	})
}

func chatCompletionJSON(content string) string {
	payload := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

func TestGenerateName_TrimsAndReturnsContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionJSON("  Sunset Castle  ")))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	name, err := client.GenerateName(context.Background(), "name this", "Fallback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Sunset Castle" {
		t.Fatalf("unexpected name %q", name)
	}
}

func TestGenerateName_FallsBackOnEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionJSON("   ")))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	name, err := client.GenerateName(context.Background(), "name this", "Generated Image")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Generated Image" {
		t.Fatalf("expected fallback got %q", name)
	}
}

func TestGenerateName_ClampsToFiftyRunes(t *testing.T) {
	long := strings.Repeat("标题", 40)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionJSON(long)))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	name, err := client.GenerateName(context.Background(), "name this", "Fallback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len([]rune(name)); got != nameLengthLimit {
		t.Fatalf("expected %d runes got %d", nameLengthLimit, got)
	}
}

func TestNameSummaryPrompt_Variants(t *testing.T) {
	both := NameSummaryPrompt("https://example.com", "some text")
	if !strings.Contains(both, "Website: https://example.com") || !strings.Contains(both, "Text: some text") {
		t.Fatalf("unexpected combined prompt %q", both)
	}

	site := NameSummaryPrompt("https://example.com", "")
	if !strings.HasSuffix(site, "Website: https://example.com") {
		t.Fatalf("unexpected website prompt %q", site)
	}

	text := NameSummaryPrompt("", "just text")
	if !strings.HasSuffix(text, "just text") || strings.Contains(text, "Website:") {
		t.Fatalf("unexpected text prompt %q", text)
	}
}

func TestNameSummaryPrompt_TruncatesLongText(t *testing.T) {
	long := strings.Repeat("x", 500)
	prompt := NameSummaryPrompt("", long)
	if strings.Contains(prompt, strings.Repeat("x", nameSubjectLimit+1)) {
		t.Fatal("subject text was not truncated")
	}
	if !strings.Contains(prompt, strings.Repeat("x", nameSubjectLimit)) {
		t.Fatal("truncated subject text missing")
	}
}
