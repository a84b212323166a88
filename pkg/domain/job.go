package domain

import (
	"encoding"
	"errors"
	"fmt"
	"time"
)

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusTimeout   JobStatus = "timeout"
)

var (
	_ encoding.BinaryMarshaler = JobStatus("")
	_ encoding.TextMarshaler   = JobStatus("")
)

func (s JobStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s JobStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

func (s JobStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusFailed, StatusTimeout:
		return 2
	}
	return -1
}

// ErrInvalidTransition is returned when an update would move a job backwards
// or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid job status transition")

type Job struct {
	ID         string           `json:"job_id"`
	DemoID     string           `json:"demo_id"`
	Parameters map[string]any   `json:"parameters"`
	Status     JobStatus        `json:"status"`
	Result     *ExecutionResult `json:"result"`
	// TraceParent/TraceState carry the W3C trace context of the submitting request
	// so the worker span joins the same trace.
	TraceParent string     `json:"trace_parent,omitempty"`
	TraceState  string     `json:"trace_state,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// NewJob returns a PENDING job created at now.
func NewJob(id, demoID string, params map[string]any, now time.Time) *Job {
	if params == nil {
		params = map[string]any{}
	}
	return &Job{
		ID:         id,
		DemoID:     demoID,
		Parameters: params,
		Status:     StatusPending,
		CreatedAt:  now,
	}
}

// Transition applies status (and result, on terminal states) following the
// PENDING -> RUNNING -> {COMPLETED, FAILED, TIMEOUT} machine.
//
// It returns changed=false with a nil error when the update is a no-op: the
// job is already in that status, or a RUNNING update arrives for a job that
// has already reached a terminal state. Any other move out of a terminal state
// or backwards is ErrInvalidTransition. StartedAt is written only on the first
// entry to RUNNING; CompletedAt and Result only on the first terminal entry.
func (j *Job) Transition(status JobStatus, result *ExecutionResult, now time.Time) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	if j.Status == status {
		return false, nil
	}
	if j.Status.Terminal() {
		if status == StatusRunning {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
	}
	if status.rank() < j.Status.rank() {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
	}

	t := now
	if status == StatusRunning && j.StartedAt == nil {
		j.StartedAt = &t
	}
	j.Status = status
	if status.Terminal() {
		j.CompletedAt = &t
		if result != nil {
			j.Result = result.Clone()
		}
	}
	return true, nil
}

// Clone returns a deep copy: parameters, timestamps and result are not shared.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Parameters = copyMap(j.Parameters)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	c.Result = j.Result.Clone()
	return &c
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

// JobResponse is the external job snapshot returned by the API.
type JobResponse struct {
	JobID       string           `json:"job_id"`
	DemoID      string           `json:"demo_id"`
	Status      JobStatus        `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at"`
	Result      *ExecutionResult `json:"result"`
}

func (j *Job) Response() JobResponse {
	return JobResponse{
		JobID:       j.ID,
		DemoID:      j.DemoID,
		Status:      j.Status,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Result:      j.Result,
	}
}
