package worker

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/muse-engine/internal/classify"
	"github.com/danielpatrickdp/muse-engine/internal/depth"
	"github.com/danielpatrickdp/muse-engine/internal/namer"
	"github.com/danielpatrickdp/muse-engine/internal/origin"
	"github.com/danielpatrickdp/muse-engine/internal/outcome"
	"github.com/danielpatrickdp/muse-engine/internal/policy"
	"github.com/danielpatrickdp/muse-engine/internal/registry"
	"github.com/danielpatrickdp/muse-engine/internal/runlog"
	"github.com/danielpatrickdp/muse-engine/internal/sim"
	"github.com/danielpatrickdp/muse-engine/internal/taxonomy"
)

func tempStore(t *testing.T) *registry.Store {
	t.Helper()
	store, err := registry.NewStore(filepath.Join(t.TempDir(), "worker_test.db"), origin.Builtin())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := runlog.Init(store.DB()); err != nil {
		t.Fatalf("runlog.Init: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newWorker(t *testing.T, store *registry.Store, seed int64) *Worker {
	t.Helper()
	origins := origin.Builtin()
	rng := rand.New(rand.NewSource(seed))
	return &Worker{
		ID:         0,
		Policy:     policy.New(policy.DefaultConfig(), store, origins, rng),
		Renderer:   sim.Renderer{},
		Extractor:  sim.Extractor{},
		Store:      store,
		Namer:      namer.New(store, rng),
		Depth:      depth.New(origins),
		Classifier: classify.New(nil),
		OutcomeCfg: outcome.DefaultConfig(),
	}
}

func TestClosedLoopProducesDiscoveriesAndLog(t *testing.T) {
	store := tempStore(t)
	w := newWorker(t, store, 42)

	if err := w.Run(context.Background(), 5); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := runlog.Recent(store.DB(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 run log entries, got %d", len(entries))
	}
	for _, e := range entries {
		switch e.Status {
		case runlog.StatusLearned, runlog.StatusNoLearning, runlog.StatusFailed:
		default:
			t.Fatalf("unexpected status %q", e.Status)
		}
	}

	colors, err := store.List(taxonomy.DomainColor, 100)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(colors) == 0 {
		t.Fatalf("closed loop produced no color discoveries")
	}
	for _, d := range colors {
		if d.Name == "" {
			t.Fatalf("discovery %s stored without a name", d.Key)
		}
	}

	snap, err := store.Coverage(taxonomy.DomainColor)
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if snap.ObservedCount == 0 {
		t.Fatalf("coverage did not advance")
	}
}

func TestRenderFailureLogsFailedStatus(t *testing.T) {
	store := tempStore(t)
	w := newWorker(t, store, 1)
	w.Renderer = failingRenderer{}

	if err := w.Run(context.Background(), 2); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := runlog.Recent(store.DB(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Status != runlog.StatusFailed {
			t.Fatalf("expected failed status, got %q", e.Status)
		}
		if e.Reason == "" {
			t.Fatalf("failed entry missing reason")
		}
	}
}

type failingRenderer struct{}

func (failingRenderer) Render(context.Context, taxonomy.ParameterSet) (taxonomy.Artifact, error) {
	return taxonomy.Artifact{}, errors.New("pipeline offline")
}

func TestCancelledContextStopsBetweenRuns(t *testing.T) {
	store := tempStore(t)
	w := newWorker(t, store, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx, 10); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := runlog.Recent(store.DB(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("no run should start under a cancelled context, got %d", len(entries))
	}
}

func TestRestartResetsPolicyButKeepsRegistry(t *testing.T) {
	store := tempStore(t)

	w := newWorker(t, store, 7)
	if err := w.Run(context.Background(), 4); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if w.Policy.State().TotalRuns != 4 {
		t.Fatalf("expected 4 recorded runs, got %d", w.Policy.State().TotalRuns)
	}

	before, err := store.List(taxonomy.DomainColor, 100)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(before) == 0 {
		t.Fatalf("expected discoveries before restart")
	}

	// A fresh worker over the same store models a process restart.
	w2 := newWorker(t, store, 7)
	if w2.Policy.State().TotalRuns != 0 {
		t.Fatalf("policy state survived restart")
	}
	after, err := store.List(taxonomy.DomainColor, 100)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("registry changed across restart: %d != %d", len(after), len(before))
	}
}

func TestNameConflictRegeneratesAndRetries(t *testing.T) {
	store := tempStore(t)
	w := newWorker(t, store, 3)

	// Another worker commits "Crimsa" for a different key first.
	committed := taxonomy.Discovery{
		Tier: taxonomy.TierPure, Domain: taxonomy.DomainColor, Key: "240-0-0-100",
		Name: "Crimsa", DepthBreakdown: map[string]float64{"red": 100}, DepthPct: 100,
	}
	if _, err := store.Upsert(committed); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	batch := []taxonomy.Discovery{{
		Tier: taxonomy.TierPure, Domain: taxonomy.DomainColor, Key: "0-0-240-100",
		Name: "Crimsa", DepthBreakdown: map[string]float64{"blue": 100}, DepthPct: 100,
	}}
	novel, err := w.upsertWithBackoff(context.Background(), "run-nc", batch)
	if err != nil {
		t.Fatalf("upsertWithBackoff: %v", err)
	}
	if novel[taxonomy.TierPure] != 1 {
		t.Fatalf("expected the batch to land after renaming, got %v", novel)
	}

	got, err := store.Lookup(taxonomy.TierPure, taxonomy.DomainColor, "0-0-240-100")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil {
		t.Fatal("renamed discovery not stored")
	}
	if got.Name == "Crimsa" || got.Name == "" {
		t.Fatalf("expected a regenerated name, got %q", got.Name)
	}

	first, err := store.Lookup(taxonomy.TierPure, taxonomy.DomainColor, "240-0-0-100")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if first.Name != "Crimsa" {
		t.Fatalf("committed discovery renamed: %q", first.Name)
	}
}

func TestPoolSharesOneStore(t *testing.T) {
	store := tempStore(t)

	err := RunPool(context.Background(), 2, 3, func(id int) *Worker {
		w := newWorker(t, store, int64(100+id))
		w.ID = id
		return w
	})
	if err != nil {
		t.Fatalf("RunPool: %v", err)
	}

	entries, err := runlog.Recent(store.DB(), 20)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 6 {
		t.Fatalf("expected 6 run log entries across the pool, got %d", len(entries))
	}
}
