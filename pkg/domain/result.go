package domain

import (
	"encoding/json"
	"fmt"
)

// Metadata keys shared by every ExecutionResult producer.
const (
	MetaExecutionTimeMS = "execution_time_ms"
	MetaDemoID          = "demo_id"
	MetaDemoVersion     = "demo_version"
	MetaJobID           = "job_id"
	MetaIsolation       = "isolation"
	MetaTimedOut        = "timed_out"
	MetaExitCode        = "exit_code"
	MetaStdout          = "stdout"
	MetaStderr          = "stderr"
)

// ExecutionResult is the structured outcome of one demo execution.
type ExecutionResult struct {
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// Clone returns a copy whose data and metadata maps are not shared with r.
func (r *ExecutionResult) Clone() *ExecutionResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Data = copyMap(r.Data)
	c.Metadata = copyMap(r.Metadata)
	return &c
}

// Failure builds an unsuccessful result carrying msg as its error.
func Failure(msg string, metadata map[string]any) ExecutionResult {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return ExecutionResult{Success: false, Error: msg, Metadata: metadata}
}

// WithMeta sets key on the result metadata, allocating it when needed.
func (r *ExecutionResult) WithMeta(key string, v any) {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata[key] = v
}

// ToPayload converts a demo-specific result struct into the untyped document
// stored in ExecutionResult.Data.
func ToPayload(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return out, nil
}
