package leonardo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"poster/internal/config"
)

func newTestClient(baseURL string, maxAttempts int) *Client {
	return NewClient(config.LeonardoConfig{
		APIKey:          "test-key",
		BaseURL:         baseURL,
		PollInterval:    time.Millisecond,
		PollMaxAttempts: maxAttempts,
	})
}

func TestCreateInitImage_DecodesNestedFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/init-image" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header %q", got)
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["extension"] != "png" {
			t.Fatalf("expected extension png got %q", body["extension"])
		}

		// fields 在响应里是 JSON 字符串而不是对象。
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"uploadInitImage": {
				"id": "init-123",
				"url": "https://upload.example.invalid/slot",
				"fields": "{\"key\":\"uploads/init-123.png\",\"policy\":\"abc\"}"
			}
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 5)
	init, err := client.CreateInitImage(context.Background(), "png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if init.ID != "init-123" {
		t.Fatalf("unexpected id %q", init.ID)
	}
	if init.Fields["key"] != "uploads/init-123.png" || init.Fields["policy"] != "abc" {
		t.Fatalf("unexpected fields %v", init.Fields)
	}
}

func TestUploadReferenceBytes_SendsMultipartFields(t *testing.T) {
	var gotContentType string
	upload := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("policy"); got != "abc" {
			t.Fatalf("expected policy field got %q", got)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("missing file part: %v", err)
		}
		file.Close()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upload.Close()

	client := newTestClient("http://unused.invalid", 5)
	init := &InitImage{
		ID:        "init-123",
		UploadURL: upload.URL,
		Fields:    map[string]string{"policy": "abc"},
	}
	if err := client.UploadReferenceBytes(context.Background(), init, "ref.png", []byte("png-bytes")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(gotContentType, "multipart/form-data") {
		t.Fatalf("unexpected content type %q", gotContentType)
	}
}

func TestGenerate_PollsUntilComplete(t *testing.T) {
	var statusCalls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/generations":
			var req GenerationRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode generation request: %v", err)
			}
			if req.Prompt != "a knight" {
				t.Fatalf("unexpected prompt %q", req.Prompt)
			}
			_, _ = w.Write([]byte(`{"sdGenerationJob":{"generationId":"gen-1"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/generations/gen-1":
			if statusCalls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{"generations_by_pk":{"status":"PENDING","generated_images":[]}}`))
				return
			}
			_, _ = w.Write([]byte(`{
				"generations_by_pk": {
					"status": "COMPLETE",
					"generated_images": [
						{"id": "img-1", "url": "https://cdn.example.invalid/1.png"},
						{"id": "img-2", "url": "https://cdn.example.invalid/2.png"}
					]
				}
			}`))
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, 10)
	generation, err := client.Generate(context.Background(), GenerationRequest{Prompt: "a knight", NumImages: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(generation.Images) != 2 {
		t.Fatalf("expected 2 images got %d", len(generation.Images))
	}
	if got := statusCalls.Load(); got != 3 {
		t.Fatalf("expected 3 status fetches got %d", got)
	}
}

func TestGenerate_FailedStatusReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"sdGenerationJob":{"generationId":"gen-2"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"generations_by_pk":{"status":"FAILED","generated_images":[]}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 10)
	_, err := client.Generate(context.Background(), GenerationRequest{Prompt: "x", NumImages: 1})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed got %v", err)
	}
}

func TestWaitForGeneration_TimesOut(t *testing.T) {
	var statusCalls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		statusCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"generations_by_pk":{"status":"PENDING","generated_images":[]}}`))
	}))
	defer server.Close()

	const maxAttempts = 7
	client := newTestClient(server.URL, maxAttempts)
	_, err := client.WaitForGeneration(context.Background(), "gen-3")
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("expected ErrGenerationTimeout got %v", err)
	}
	if got := statusCalls.Load(); got != maxAttempts {
		t.Fatalf("expected %d status fetches got %d", maxAttempts, got)
	}
}
