package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/osvaldoandrade/netdemo/pkg/domain"
	"github.com/osvaldoandrade/netdemo/pkg/persistence"
	"github.com/osvaldoandrade/netdemo/pkg/persistence/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStoreCollectorReportsDepth(t *testing.T) {
	store := memory.New(persistence.PluginConfig{})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Submit(ctx, domain.NewJob(id, "tcp-handshake", nil, time.Now())); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if _, _, err := store.Dequeue(ctx, 0); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(newStoreCollector(store, "memory", nil))

	expected := `
# HELP netdemo_jobs_stored Current number of job records held by the store.
# TYPE netdemo_jobs_stored gauge
netdemo_jobs_stored{backend="memory"} 3
# HELP netdemo_queue_depth Current number of PENDING jobs waiting for a worker.
# TYPE netdemo_queue_depth gauge
netdemo_queue_depth{backend="memory"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected)); err != nil {
		t.Fatal(err)
	}
}
