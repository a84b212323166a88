package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/osvaldoandrade/netdemo/pkg/domain"
	"github.com/osvaldoandrade/netdemo/pkg/persistence"
)

// Plugin implements PluginPersistence for in-memory storage.
// Used in dev and as the fallback when Redis is unreachable at startup.
type Plugin struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	pending   []string
	expiry    map[string]time.Time
	notify    chan struct{}
	retention time.Duration
	now       func() time.Time
}

// NewPlugin creates a new in-memory persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	return New(config), nil
}

// New returns the concrete plugin; tests use it to reach the storage directly.
func New(config persistence.PluginConfig) *Plugin {
	return &Plugin{
		jobs:      make(map[string]*domain.Job),
		expiry:    make(map[string]time.Time),
		notify:    make(chan struct{}, 1),
		retention: config.RetentionOrDefault(),
		now:       config.Clock(),
	}
}

func (p *Plugin) JobStorage() persistence.JobStorage { return p }

func (p *Plugin) Backend() string { return "memory" }

// Health always returns nil for in-memory storage
func (p *Plugin) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op for in-memory storage
func (p *Plugin) Close() error {
	return nil
}

func init() {
	persistence.RegisterProvider("memory", NewPlugin)
}

func (p *Plugin) Submit(ctx context.Context, job *domain.Job) error {
	p.mu.Lock()
	if _, exists := p.jobs[job.ID]; exists {
		p.mu.Unlock()
		return persistence.ErrAlreadyExists
	}
	p.jobs[job.ID] = job.Clone()
	p.pending = append(p.pending, job.ID)
	p.mu.Unlock()
	p.signal()
	return nil
}

func (p *Plugin) Get(ctx context.Context, id string) (*domain.Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return job.Clone(), nil
}

func (p *Plugin) Update(ctx context.Context, id string, status domain.JobStatus, result *domain.ExecutionResult) (*domain.Job, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[id]
	if !ok {
		return nil, false, persistence.ErrNotFound
	}
	now := p.now()
	changed, err := job.Transition(status, result, now)
	if err != nil {
		return job.Clone(), false, err
	}
	if changed && job.Status.Terminal() {
		p.expiry[id] = now.Add(p.retention)
	}
	return job.Clone(), changed, nil
}

func (p *Plugin) Dequeue(ctx context.Context, wait time.Duration) (string, bool, error) {
	var timer *time.Timer
	for {
		p.mu.Lock()
		if len(p.pending) > 0 {
			id := p.pending[0]
			p.pending[0] = ""
			p.pending = p.pending[1:]
			more := len(p.pending) > 0
			p.mu.Unlock()
			if more {
				p.signal()
			}
			return id, true, nil
		}
		p.mu.Unlock()

		if wait <= 0 {
			return "", false, nil
		}
		if timer == nil {
			timer = time.NewTimer(wait)
			defer timer.Stop()
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-timer.C:
			return "", false, nil
		case <-p.notify:
		}
	}
}

func (p *Plugin) PendingLength(ctx context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.pending)), nil
}

func (p *Plugin) Count(ctx context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.jobs)), nil
}

func (p *Plugin) CleanupExpired(ctx context.Context, limit int, before time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	type entry struct {
		id string
		at time.Time
	}
	due := make([]entry, 0)
	for id, at := range p.expiry {
		if !at.After(before) {
			due = append(due, entry{id, at})
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	if limit <= 0 {
		limit = persistence.DefaultCleanupLimit
	}
	if len(due) > limit {
		due = due[:limit]
	}
	for _, e := range due {
		delete(p.jobs, e.id)
		delete(p.expiry, e.id)
	}
	return len(due), nil
}

func (p *Plugin) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}
