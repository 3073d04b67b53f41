package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ent0n29/chorus/internal/config"
	"github.com/ent0n29/chorus/internal/keys"
	"github.com/ent0n29/chorus/internal/memory"
)

func newTestServer(t *testing.T) (*Server, *memory.InMemoryStore, *keys.InMemoryStore) {
	t.Helper()
	store := memory.NewInMemoryStore()
	keyStore := keys.NewInMemoryStore()
	cfg := config.Config{BotKey: "ina", GenerationModel: "gpt-oss:120b"}
	return New(cfg, store, keyStore, nil), store, keyStore
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reqBody *strings.Reader
	if body == "" {
		reqBody = strings.NewReader("")
	} else {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestHealthAndReady(t *testing.T) {
	s, _, _ := newTestServer(t)
	r := s.Router()

	rec, body := doJSON(t, r, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", rec.Code, body)
	}
	rec, body = doJSON(t, r, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("readyz = %d %v", rec.Code, body)
	}
}

func TestMemoryInspection(t *testing.T) {
	s, store, _ := newTestServer(t)
	r := s.Router()

	scope := memory.Scope{BotKey: "ina", GuildID: 7, ChannelID: 100, UserID: 42}
	_ = store.Append(context.Background(), scope, memory.Turn{ID: 1, Role: memory.RoleUser, Content: "hello"})

	rec, body := doJSON(t, r, http.MethodGet, "/v1/memory?guild_id=7&channel_id=100&user_id=42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", rec.Code, body)
	}
	if body["scope"] != "ina_7_100_42" {
		t.Fatalf("scope = %v", body["scope"])
	}
	if body["recent_count"] != float64(1) {
		t.Fatalf("recent_count = %v, want 1", body["recent_count"])
	}

	rec, _ = doJSON(t, r, http.MethodGet, "/v1/memory?guild_id=7&channel_id=100&user_id=43", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown scope status = %d, want 404", rec.Code)
	}

	rec, _ = doJSON(t, r, http.MethodGet, "/v1/memory?channel_id=100", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing user_id status = %d, want 400", rec.Code)
	}
}

func TestModelOverrideEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t)
	r := s.Router()

	rec, body := doJSON(t, r, http.MethodGet, "/v1/model", "")
	if rec.Code != http.StatusOK || body["model"] != "gpt-oss:120b" {
		t.Fatalf("default model = %d %v", rec.Code, body)
	}

	rec, _ = doJSON(t, r, http.MethodPut, "/v1/model", `{"model":"llama3.3:70b"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set model status = %d", rec.Code)
	}
	_, body = doJSON(t, r, http.MethodGet, "/v1/model", "")
	if body["model"] != "llama3.3:70b" || body["override"] != "llama3.3:70b" {
		t.Fatalf("after override: %v", body)
	}

	rec, _ = doJSON(t, r, http.MethodDelete, "/v1/model", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("clear model status = %d", rec.Code)
	}
	_, body = doJSON(t, r, http.MethodGet, "/v1/model", "")
	if body["model"] != "gpt-oss:120b" || body["override"] != "" {
		t.Fatalf("after clear: %v", body)
	}

	rec, _ = doJSON(t, r, http.MethodPut, "/v1/model", `{"model":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank model status = %d, want 400", rec.Code)
	}
}

func TestKeyAdminEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t)
	r := s.Router()

	rec, body := doJSON(t, r, http.MethodPost, "/v1/keys/generation", `{"keys":["k1","k2","k1"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("add keys status = %d %v", rec.Code, body)
	}
	if body["added"] != float64(2) || body["skipped"] != float64(1) {
		t.Fatalf("stats = %v, want added=2 skipped=1", body)
	}

	rec, body = doJSON(t, r, http.MethodGet, "/v1/keys/generation", "")
	if rec.Code != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("stats = %d %v", rec.Code, body)
	}
	for _, k := range body["keys"].([]any) {
		if strings.Contains(k.(string), "k1") || !strings.HasPrefix(k.(string), "key:") {
			t.Fatalf("key list leaks raw material: %v", body["keys"])
		}
	}

	rec, _ = doJSON(t, r, http.MethodPost, "/v1/keys/banana", `{"keys":["k"]}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown provider status = %d, want 404", rec.Code)
	}
}
