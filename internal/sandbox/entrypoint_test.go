package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/osvaldoandrade/netdemo/pkg/domain"
)

func writeParams(t *testing.T, dir string, raw map[string]any) string {
	t.Helper()
	b, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	p := filepath.Join(dir, InputFile)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func readResult(t *testing.T, path string) domain.ExecutionResult {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	var res domain.ExecutionResult
	if err := json.Unmarshal(b, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return res
}

func TestRunEntrypoint(t *testing.T) {
	tests := []struct {
		name     string
		demoID   string
		params   map[string]any
		wantCode int
		wantOK   bool
	}{
		{"success", "plain", map[string]any{"name": "x"}, 0, true},
		{"invalid params", "plain", map[string]any{}, 1, false},
		{"unknown demo", "missing", map[string]any{}, 1, false},
		{"no demo id", "", map[string]any{}, 1, false},
	}
	reg := testRegistry(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			in := writeParams(t, dir, tt.params)
			out := filepath.Join(dir, OutputFile)
			var stderr bytes.Buffer
			code := RunEntrypoint(context.Background(), reg, tt.demoID, in, out, &stderr)
			if code != tt.wantCode {
				t.Fatalf("exit code = %d, want %d (stderr %q)", code, tt.wantCode, stderr.String())
			}
			if res := readResult(t, out); res.Success != tt.wantOK {
				t.Fatalf("success = %v, want %v: %+v", res.Success, tt.wantOK, res)
			}
		})
	}
}

func TestRunEntrypointMissingInput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, OutputFile)
	code := RunEntrypoint(context.Background(), testRegistry(t), "plain", filepath.Join(dir, "absent.json"), out, nil)
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if res := readResult(t, out); res.Success || res.Error == "" {
		t.Fatalf("expected failure result, got %+v", res)
	}
}
