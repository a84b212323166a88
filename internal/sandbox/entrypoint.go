package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/osvaldoandrade/netdemo/internal/registry"
	"github.com/osvaldoandrade/netdemo/pkg/domain"
)

// RunEntrypoint is the body of the in-sandbox binary: load the input
// artifact, execute demoID, write the output artifact. It returns the
// process exit code, 0 only when the demo succeeded.
func RunEntrypoint(ctx context.Context, reg *registry.Registry, demoID, inputPath, outputPath string, stderr io.Writer) (code int) {
	if stderr == nil {
		stderr = io.Discard
	}
	res := func() (res domain.ExecutionResult) {
		defer func() {
			if rec := recover(); rec != nil {
				res = domain.Failure(fmt.Sprintf("demo panicked: %v", rec), nil)
			}
		}()
		if demoID == "" {
			return domain.Failure(DemoIDEnv+" is not set", nil)
		}
		raw, err := loadParams(inputPath)
		if err != nil {
			return domain.Failure(err.Error(), nil)
		}
		out, err := reg.Execute(ctx, demoID, raw)
		if err != nil {
			return domain.Failure(err.Error(), nil)
		}
		return out
	}()
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}

	if err := writeResult(outputPath, res); err != nil {
		fmt.Fprintf(stderr, "netdemo-sandbox: %v\n", err)
		return 2
	}
	if !res.Success {
		fmt.Fprintf(stderr, "netdemo-sandbox: %s failed: %s\n", demoID, res.Error)
		return 1
	}
	return 0
}

func loadParams(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read parameters: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	return raw, nil
}

// writeResult writes through a temp file so a killed sandbox never leaves a
// truncated artifact behind.
func writeResult(path string, res domain.ExecutionResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".result-*")
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write result: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
