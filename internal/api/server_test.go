package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/burnbox/burnbox/internal/audit"
	"github.com/burnbox/burnbox/internal/ratelimit"
	"github.com/burnbox/burnbox/internal/secret"
	"github.com/burnbox/burnbox/internal/storage"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	store := storage.NewMemoryBackend(0)
	t.Cleanup(store.Close)

	engine := secret.NewEngine(store, secret.Config{
		SiteSecret:   bytes.Repeat([]byte{0xCD}, 32),
		MinTTL:       time.Second,
		MaxTTL:       7 * 24 * time.Hour,
		DefaultTTL:   24 * time.Hour,
		SoftLimit:    1000,
		HardLimit:    10000,
		BandFraction: 0.2,
	}, ratelimit.Unlimited{}, ratelimit.Unlimited{}, audit.NewRecorder(zerolog.Nop()))

	srv := NewServer(engine, Config{ListenAddr: ":0"})
	return srv.BuildRouter()
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	resp := rec.Result()
	var parsed map[string]any
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if len(data) > 0 {
		if err := json.Unmarshal(data, &parsed); err != nil {
			t.Fatalf("response %d is not JSON: %s", resp.StatusCode, data)
		}
	}
	return resp, parsed
}

func createSecret(t *testing.T, h http.Handler, body map[string]any) (shareID, adminID string) {
	t.Helper()
	resp, result := doRequest(t, h, "POST", "/v1/secrets", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create returned %d: %v", resp.StatusCode, result)
	}
	shareID, _ = result["share_id"].(string)
	adminID, _ = result["admin_id"].(string)
	if shareID == "" || adminID == "" {
		t.Fatalf("create response missing identifiers: %v", result)
	}
	return shareID, adminID
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)
	resp, result := doRequest(t, h, "GET", "/v1/sys/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health returned %d", resp.StatusCode)
	}
	if result["status"] != "ok" {
		t.Errorf("status = %v", result["status"])
	}
}

func TestCreateRevealConfirmFlow(t *testing.T) {
	h := newTestHandler(t)

	shareID, adminID := createSecret(t, h, map[string]any{
		"content":     "hello",
		"ttl_seconds": 60,
	})

	resp, result := doRequest(t, h, "POST", "/v1/secrets/"+shareID+"/reveal", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reveal returned %d: %v", resp.StatusCode, result)
	}
	if result["content"] != "hello" {
		t.Errorf("content = %v", result["content"])
	}
	if result["replayable"] != true {
		t.Error("first reveal should be replayable")
	}

	resp, _ = doRequest(t, h, "POST", "/v1/secrets/"+shareID+"/confirm", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("confirm returned %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, h, "POST", "/v1/secrets/"+shareID+"/reveal", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("reveal after confirm returned %d, want 404", resp.StatusCode)
	}

	resp, result = doRequest(t, h, "GET", "/v1/private/"+adminID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status returned %d", resp.StatusCode)
	}
	if result["state"] != "received" {
		t.Errorf("state = %v, want received", result["state"])
	}
}

func TestBonusReplayOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	shareID, _ := createSecret(t, h, map[string]any{"content": "hello"})

	doRequest(t, h, "POST", "/v1/secrets/"+shareID+"/reveal", nil)

	resp, result := doRequest(t, h, "POST", "/v1/secrets/"+shareID+"/reveal", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay returned %d", resp.StatusCode)
	}
	if result["content"] != "hello" || result["replayable"] != false {
		t.Errorf("replay response: %v", result)
	}

	resp, _ = doRequest(t, h, "POST", "/v1/secrets/"+shareID+"/reveal", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("third reveal returned %d, want 404", resp.StatusCode)
	}
}

func TestGoneResponsesAreIndistinguishable(t *testing.T) {
	h := newTestHandler(t)
	shareID, _ := createSecret(t, h, map[string]any{"content": "hello"})

	// Consume the secret fully
	doRequest(t, h, "POST", "/v1/secrets/"+shareID+"/reveal", nil)
	doRequest(t, h, "POST", "/v1/secrets/"+shareID+"/confirm", nil)

	_, consumed := doRequest(t, h, "POST", "/v1/secrets/"+shareID+"/reveal", nil)
	_, unknown := doRequest(t, h, "POST", "/v1/secrets/bxs_never_existed/reveal", nil)

	// Consumed and never-existed must produce the same body, or the
	// response leaks whether a link was ever valid.
	a, _ := json.Marshal(consumed)
	b, _ := json.Marshal(unknown)
	if !bytes.Equal(a, b) {
		t.Errorf("gone responses differ: %s vs %s", a, b)
	}
}

func TestPassphraseOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	shareID, _ := createSecret(t, h, map[string]any{
		"content":    "classified",
		"passphrase": "hunter2",
	})

	resp, _ := doRequest(t, h, "POST", "/v1/secrets/"+shareID+"/reveal", map[string]any{"passphrase": "wrong"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong passphrase returned %d, want 403", resp.StatusCode)
	}

	resp, result := doRequest(t, h, "POST", "/v1/secrets/"+shareID+"/reveal", map[string]any{"passphrase": "hunter2"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("correct passphrase returned %d", resp.StatusCode)
	}
	if result["content"] != "classified" {
		t.Errorf("content = %v", result["content"])
	}
}

func TestBurnOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	shareID, adminID := createSecret(t, h, map[string]any{"content": "hello"})

	resp, _ := doRequest(t, h, "DELETE", "/v1/private/"+adminID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("burn returned %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, h, "POST", "/v1/secrets/"+shareID+"/reveal", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("reveal after burn returned %d, want 404", resp.StatusCode)
	}

	resp, result := doRequest(t, h, "GET", "/v1/private/"+adminID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status after burn returned %d", resp.StatusCode)
	}
	if result["state"] != "burned" {
		t.Errorf("state = %v, want burned", result["state"])
	}

	resp, _ = doRequest(t, h, "DELETE", "/v1/private/"+adminID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("double burn returned %d, want 404", resp.StatusCode)
	}
}

func TestCreateValidation(t *testing.T) {
	h := newTestHandler(t)

	resp, _ := doRequest(t, h, "POST", "/v1/secrets", map[string]any{
		"content":     "x",
		"ttl_seconds": 999999999,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("oversized ttl returned %d, want 400", resp.StatusCode)
	}

	resp, _ = doRequest(t, h, "POST", "/v1/secrets", map[string]any{
		"content": string(bytes.Repeat([]byte("a"), 10001)),
	})
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized content returned %d, want 413", resp.StatusCode)
	}

	// Unknown fields are rejected, not ignored
	resp, _ = doRequest(t, h, "POST", "/v1/secrets", map[string]any{
		"content": "x",
		"extra":   true,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown field returned %d, want 400", resp.StatusCode)
	}
}

func TestTruncationOverHTTP(t *testing.T) {
	h := newTestHandler(t)

	resp, result := doRequest(t, h, "POST", "/v1/secrets", map[string]any{
		"content": string(bytes.Repeat([]byte("a"), 2000)),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create returned %d", resp.StatusCode)
	}
	if result["truncated"] != true {
		t.Error("content above the soft limit should be truncated")
	}
	if size, ok := result["original_size"].(float64); !ok || int(size) != 2000 {
		t.Errorf("original_size = %v", result["original_size"])
	}
	stored, _ := result["stored_size"].(float64)
	if stored < 800 || stored > 1000 {
		t.Errorf("stored_size %v outside the truncation band", stored)
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest("GET", "/v1/sys/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("responses should carry X-Request-ID")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics returned %d", rec.Code)
	}
}
