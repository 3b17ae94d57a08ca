package worker

// #region imports
import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/muse-engine/internal/classify"
	"github.com/danielpatrickdp/muse-engine/internal/depth"
	"github.com/danielpatrickdp/muse-engine/internal/metrics"
	"github.com/danielpatrickdp/muse-engine/internal/namer"
	"github.com/danielpatrickdp/muse-engine/internal/outcome"
	"github.com/danielpatrickdp/muse-engine/internal/policy"
	"github.com/danielpatrickdp/muse-engine/internal/registry"
	"github.com/danielpatrickdp/muse-engine/internal/runlog"
	"github.com/danielpatrickdp/muse-engine/internal/taxonomy"
)

// #endregion

// #region boundaries

// Renderer is the external media pipeline that turns parameters into an
// artifact. The engine treats it as an opaque collaborator.
type Renderer interface {
	Render(ctx context.Context, params taxonomy.ParameterSet) (taxonomy.Artifact, error)
}

// Extractor supplies raw per-instance measurements for a rendered artifact.
// Domains it cannot measure are simply absent from the outcome, never
// zero-filled.
type Extractor interface {
	Extract(ctx context.Context, artifact taxonomy.Artifact, params taxonomy.ParameterSet) (taxonomy.RunOutcome, error)
}

// #endregion

// #region constants

// maxStoreRetries bounds the exponential backoff on transient store errors.
const maxStoreRetries = 4

// #endregion

// #region worker

// Worker owns one single-threaded run loop: decide, render, classify, score,
// name, upsert, log. Concurrency exists only across workers; the registry
// store is the single shared mutable resource.
type Worker struct {
	ID         int
	Policy     *policy.Engine
	Renderer   Renderer
	Extractor  Extractor
	Store      *registry.Store
	Namer      *namer.Namer
	Depth      *depth.Calculator
	Classifier *classify.Classifier
	OutcomeCfg outcome.Config
	Interval   time.Duration // pause between runs; zero = none
}

// #endregion

// #region run-loop

// Run executes the loop until ctx is cancelled or maxRuns completes
// (maxRuns <= 0 runs forever). Cancellation is checked between runs only: a
// started run always finishes its full classify→name→upsert sequence.
func (w *Worker) Run(ctx context.Context, maxRuns int) error {
	for i := 0; maxRuns <= 0 || i < maxRuns; i++ {
		select {
		case <-ctx.Done():
			log.Printf("[WORKER %d] stopping between runs", w.ID)
			return nil
		default:
		}

		w.runOnce(context.WithoutCancel(ctx))

		if w.Interval > 0 {
			select {
			case <-ctx.Done():
				log.Printf("[WORKER %d] stopping between runs", w.ID)
				return nil
			case <-time.After(w.Interval):
			}
		}
	}
	return nil
}

// #endregion

// #region run-once

func (w *Worker) runOnce(ctx context.Context) {
	runID := uuid.New().String()

	dec, err := w.Policy.Decide()
	if err != nil {
		w.finish(runID, runlog.StatusFailed, "", 0, fmt.Sprintf("policy: %v", err))
		return
	}
	metrics.ExploitRatio.WithLabelValues(strconv.Itoa(w.ID)).Set(dec.ExploitRatio)
	log.Printf("[WORKER %d] run=%s mode=%s ratio=%.2f", w.ID, runID, dec.Mode, dec.ExploitRatio)

	artifact, err := w.Renderer.Render(ctx, dec.Params)
	if err != nil {
		w.Policy.RecordRun(dec.Params, false)
		w.finish(runID, runlog.StatusFailed, string(dec.Mode), 0, fmt.Sprintf("render: %v", err))
		return
	}

	out, err := w.Extractor.Extract(ctx, artifact, dec.Params)
	if err != nil {
		w.Policy.RecordRun(dec.Params, false)
		w.finish(runID, runlog.StatusFailed, string(dec.Mode), 0, fmt.Sprintf("extract: %v", err))
		return
	}
	out.RunID = runID

	verdict := outcome.Evaluate(out, w.OutcomeCfg)
	discoveries := w.learn(runID, out, verdict.Good)
	if len(discoveries) == 0 {
		w.Policy.RecordRun(dec.Params, false)
		w.finish(runID, runlog.StatusNoLearning, string(dec.Mode), 0, "no measurable discoveries")
		return
	}

	novelByTier, err := w.upsertWithBackoff(ctx, runID, discoveries)
	if err != nil {
		// Missing learning: the run itself is not retried; forward progress
		// beats completeness of any single run's contribution.
		log.Printf("[WORKER %d] missing learning run=%s: %v", w.ID, runID, err)
		w.Policy.RecordRun(dec.Params, false)
		w.finish(runID, runlog.StatusNoLearning, string(dec.Mode), 0, fmt.Sprintf("missing learning: %v", err))
		return
	}

	novel := 0
	for tier, n := range novelByTier {
		metrics.DiscoveriesTotal.WithLabelValues(string(tier)).Add(float64(n))
		novel += n
	}
	w.Policy.RecordRun(dec.Params, novel > 0)
	w.publishCoverage()
	w.finish(runID, runlog.StatusLearned, string(dec.Mode), novel, "")
}

// #endregion

// #region learn

// learn classifies and scores one run's measurements into registry-ready
// discoveries. A depth computation defect (empty breakdown for a non-empty
// value) is surfaced loudly and the entry skipped, never stored as depth 0.
func (w *Worker) learn(runID string, out taxonomy.RunOutcome, good bool) []taxonomy.Discovery {
	entries := w.Classifier.Run(out)
	discoveries := make([]taxonomy.Discovery, 0, len(entries))

	for _, entry := range entries {
		bd, pct, err := w.Depth.Score(entry.Domain, entry.Value)
		if err != nil {
			log.Printf("[WORKER %d] DEPTH DEFECT run=%s %s/%s: %v",
				w.ID, runID, entry.Tier, entry.Domain, err)
			continue
		}

		key := entry.Value.Key()
		name, flagged, err := w.Namer.Name(entry.Tier, entry.Domain, key, "")
		if err != nil {
			log.Printf("[WORKER %d] naming failed run=%s %s/%s: %v",
				w.ID, runID, entry.Tier, entry.Domain, err)
			continue
		}
		if flagged {
			metrics.NamingFallbacks.Inc()
		}

		discoveries = append(discoveries, taxonomy.Discovery{
			Tier:           entry.Tier,
			Domain:         entry.Domain,
			Key:            key,
			Name:           name,
			FlaggedName:    flagged,
			DepthBreakdown: bd,
			DepthPct:       pct,
			Good:           good,
			SourceRunIDs:   []string{runID},
		})
	}
	return discoveries
}

// #endregion

// #region upsert-backoff

// upsertWithBackoff writes the batch, retrying transient store errors with
// bounded exponential backoff. A per-tier name uniqueness violation means
// another worker committed one of our candidate names for a different key
// first; the colliding names are regenerated and the batch retried. Other
// non-transient errors abort immediately.
func (w *Worker) upsertWithBackoff(ctx context.Context, runID string, ds []taxonomy.Discovery) (map[taxonomy.Tier]int, error) {
	var novel map[taxonomy.Tier]int
	op := func() error {
		n, already, err := w.Store.UpsertBatch(runID, ds)
		if err != nil {
			if registry.IsNameConflict(err) {
				log.Printf("[WORKER %d] name conflict run=%s, regenerating", w.ID, runID)
				ds = w.refreshNames(ds)
				return err
			}
			if registry.IsTransient(err) {
				metrics.UpsertRetries.Inc()
				return err
			}
			return backoff.Permanent(err)
		}
		if already {
			log.Printf("[WORKER %d] run=%s already acknowledged", w.ID, runID)
		}
		novel = n
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxStoreRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return novel, nil
}

// refreshNames re-resolves names whose candidate is now taken in the
// registry. The namer's uniqueness check sees the committed row and hands
// out a fresh token.
func (w *Worker) refreshNames(ds []taxonomy.Discovery) []taxonomy.Discovery {
	for i, d := range ds {
		taken, err := w.Store.NameExists(d.Tier, d.Name)
		if err != nil || !taken {
			continue
		}
		name, flagged, err := w.Namer.Name(d.Tier, d.Domain, d.Key, "")
		if err != nil {
			continue
		}
		ds[i].Name = name
		ds[i].FlaggedName = flagged
	}
	return ds
}

// #endregion

// #region finish

// finish records the run's single terminal status.
func (w *Worker) finish(runID string, status runlog.Status, mode string, novel int, reason string) {
	metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	log.Printf("[WORKER %d] run=%s status=%s novel=%d %s", w.ID, runID, status, novel, reason)
	if err := runlog.Log(w.Store.DB(), runlog.Entry{
		RunID:      runID,
		Status:     status,
		Mode:       mode,
		NovelCount: novel,
		Reason:     reason,
	}); err != nil {
		log.Printf("[WORKER %d] run log write failed: %v", w.ID, err)
	}
}

func (w *Worker) publishCoverage() {
	snaps, err := w.Store.CoverageAll()
	if err != nil {
		return
	}
	for _, s := range snaps {
		metrics.CoveragePct.WithLabelValues(string(s.Domain)).Set(s.CoveragePct)
	}
}

// #endregion

// #region pool

// RunPool runs n independent workers concurrently against the shared store.
// Ordering between workers is not guaranteed and nothing may assume it.
func RunPool(ctx context.Context, n int, maxRuns int, newWorker func(id int) *Worker) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)
	for i := 0; i < n; i++ {
		w := newWorker(i)
		g.Go(func() error {
			return w.Run(gctx, maxRuns)
		})
	}
	return g.Wait()
}

// #endregion
