package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/osvaldoandrade/netdemo/internal/demos"
	"github.com/osvaldoandrade/netdemo/internal/registry"
	"github.com/osvaldoandrade/netdemo/pkg/config"
	"github.com/osvaldoandrade/netdemo/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SANDBOX_ENABLED", "false")
	for k, v := range env {
		t.Setenv(k, v)
	}
	cfg, err := config.LoadConfigOptional("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.WorkerPollSeconds = 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

// withEcho adds a fast unprivileged demo next to the built-in catalog.
func withEcho(t *testing.T) *registry.Registry {
	t.Helper()
	reg := demos.NewRegistry(demos.Options{})
	err := reg.Register(domain.DemoRecipe{
		ID:               "echo",
		Name:             "Echo",
		Category:         "test",
		MaxRuntime:       5,
		ParametersSchema: map[string]any{"type": "object"},
	}, func(_ context.Context, p any) domain.ExecutionResult {
		return domain.ExecutionResult{Success: true, Data: map[string]any{"echo": p}, Metadata: map[string]any{}}
	}, func(raw map[string]any) (any, error) {
		return raw["message"], nil
	})
	if err != nil {
		t.Fatalf("register echo: %v", err)
	}
	return reg
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...ApplicationOption) (*Application, *httptest.Server) {
	t.Helper()
	opts = append([]ApplicationOption{WithLogOutput(io.Discard), WithRegistry(withEcho(t))}, opts...)
	application, err := NewApplication(cfg, opts...)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	SetupMappings(application)

	ctx, cancel := context.WithCancel(context.Background())
	application.Start(ctx)
	srv := httptest.NewServer(application.Engine)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		application.Workers.Wait()
		_ = application.Close(context.Background())
	})
	return application, srv
}

func doJSON(t *testing.T, method, url, token string, body any) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func waitTerminal(t *testing.T, url, token string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		code, body := doJSON(t, http.MethodGet, url, token, nil)
		if code != http.StatusOK {
			t.Fatalf("poll: %d %v", code, body)
		}
		if domain.JobStatus(body["status"].(string)).Terminal() {
			return body
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("job did not finish in time")
	return nil
}

func TestHTTPIntegrationFlow(t *testing.T) {
	_, srv := newTestApp(t, testConfig(t, nil))

	code, body := doJSON(t, http.MethodGet, srv.URL+"/api/health", "", nil)
	if code != http.StatusOK || body["status"] != "degraded" {
		t.Fatalf("health: %d %v", code, body)
	}

	code, body = doJSON(t, http.MethodGet, srv.URL+"/api/demos", "", nil)
	if code != http.StatusOK || body["count"].(float64) != 3 {
		t.Fatalf("demos: %d %v", code, body)
	}

	code, body = doJSON(t, http.MethodPost, srv.URL+"/api/jobs", "", map[string]any{
		"demo_id":    "tcp-handshake",
		"parameters": map[string]any{"target_ip": "192.168.1.1", "target_port": 80},
	})
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("private target: expected 422, got %d %v", code, body)
	}
	if vs, _ := body["violations"].([]any); len(vs) == 0 || vs[0].(map[string]any)["field"] != "target_ip" {
		t.Fatalf("expected target_ip violation, got %v", body)
	}

	code, _ = doJSON(t, http.MethodPost, srv.URL+"/api/jobs", "", map[string]any{"demo_id": "nope", "parameters": map[string]any{}})
	if code != http.StatusNotFound {
		t.Fatalf("unknown demo: expected 404, got %d", code)
	}

	code, body = doJSON(t, http.MethodPost, srv.URL+"/api/jobs", "", map[string]any{
		"demo_id":    "echo",
		"parameters": map[string]any{"message": "hello"},
	})
	if code != http.StatusAccepted || body["status"] != "pending" {
		t.Fatalf("submit: %d %v", code, body)
	}
	id := body["job_id"].(string)

	done := waitTerminal(t, srv.URL+"/api/jobs/"+id, "")
	if done["status"] != string(domain.StatusCompleted) {
		t.Fatalf("expected completed, got %v", done)
	}
	result := done["result"].(map[string]any)
	meta := result["metadata"].(map[string]any)
	if result["success"] != true || meta["job_id"] != id || meta["isolation"] != "direct" {
		t.Fatalf("unexpected result: %v", result)
	}
	if done["started_at"] == nil || done["completed_at"] == nil {
		t.Fatalf("timestamps missing: %v", done)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(raw), "netdemo_jobs_submitted_total") {
		t.Fatalf("metrics missing job counters")
	}
}

func TestHTTPStaticAuth(t *testing.T) {
	const token = "integration-token"
	_, srv := newTestApp(t, testConfig(t, map[string]string{"AUTH_TOKEN": token}))

	code, _ := doJSON(t, http.MethodPost, srv.URL+"/api/jobs", "", map[string]any{"demo_id": "echo"})
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	code, _ = doJSON(t, http.MethodPost, srv.URL+"/api/jobs", "wrong", map[string]any{"demo_id": "echo"})
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", code)
	}
	code, body := doJSON(t, http.MethodPost, srv.URL+"/api/jobs", token, map[string]any{"demo_id": "echo", "parameters": map[string]any{"message": "x"}})
	if code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %v", code, body)
	}
	code, body = doJSON(t, http.MethodPost, srv.URL+"/api/admin/jobs/cleanup", token, map[string]any{})
	if code != http.StatusOK {
		t.Fatalf("cleanup: %d %v", code, body)
	}

	// Catalog reads stay public.
	code, _ = doJSON(t, http.MethodGet, srv.URL+"/api/demos/echo", "", nil)
	if code != http.StatusOK {
		t.Fatalf("expected public demo read, got %d", code)
	}
}

func TestHTTPRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig(t, map[string]string{"STORE_BACKEND": "redis", "REDIS_ADDR": mr.Addr()})
	application, srv := newTestApp(t, cfg, WithRedisClient(rdb))
	if application.Store.Backend() != "redis" {
		t.Fatalf("expected redis store, got %s", application.Store.Backend())
	}

	code, body := doJSON(t, http.MethodPost, srv.URL+"/api/jobs", "", map[string]any{"demo_id": "echo", "parameters": map[string]any{"message": "r"}})
	if code != http.StatusAccepted {
		t.Fatalf("submit: %d %v", code, body)
	}
	id := body["job_id"].(string)
	if !mr.Exists("netdemo:job:" + id) {
		t.Fatalf("job hash not written to redis")
	}
	done := waitTerminal(t, srv.URL+"/api/jobs/"+id, "")
	if done["status"] != string(domain.StatusCompleted) {
		t.Fatalf("expected completed, got %v", done)
	}
}

func TestRedisFallbackToMemory(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t, map[string]string{"STORE_BACKEND": "redis", "REDIS_ADDR": addr})
	application, _ := newTestApp(t, cfg)
	if application.Store.Backend() != "memory" {
		t.Fatalf("expected memory fallback, got %s", application.Store.Backend())
	}
}
