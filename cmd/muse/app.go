package main

// #region imports
import (
	"context"
	"fmt"
	"log"
	mrand "math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/muse-engine/internal/api"
	"github.com/danielpatrickdp/muse-engine/internal/classify"
	"github.com/danielpatrickdp/muse-engine/internal/config"
	"github.com/danielpatrickdp/muse-engine/internal/depth"
	"github.com/danielpatrickdp/muse-engine/internal/namer"
	"github.com/danielpatrickdp/muse-engine/internal/origin"
	"github.com/danielpatrickdp/muse-engine/internal/outcome"
	"github.com/danielpatrickdp/muse-engine/internal/policy"
	"github.com/danielpatrickdp/muse-engine/internal/registry"
	"github.com/danielpatrickdp/muse-engine/internal/runlog"
	"github.com/danielpatrickdp/muse-engine/internal/sim"
	"github.com/danielpatrickdp/muse-engine/internal/taxonomy"
	"github.com/danielpatrickdp/muse-engine/internal/worker"
)

// #endregion

// #region root

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "muse",
		Short:         "Registry and exploration engine for the generative pipeline",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("MUSE_CONFIG"), "path to YAML config")

	root.AddCommand(
		newRunCmd(&cfgPath),
		newSimulateCmd(&cfgPath),
		newServeCmd(&cfgPath),
		newInspectCmd(&cfgPath),
		newCoverageCmd(&cfgPath),
	)
	return root
}

// #endregion

// #region setup

type env struct {
	cfg     *config.Config
	origins *origin.Table
	store   *registry.Store
}

// setup loads config (fatal on invalid overrides), the origin table, and the
// registry store.
func setup(cfgPath string) (*env, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	origins, err := origin.Load(cfg.OriginOverlay)
	if err != nil {
		return nil, err
	}
	store, err := registry.NewStore(cfg.DBPath, origins)
	if err != nil {
		return nil, err
	}
	if err := runlog.Init(store.DB()); err != nil {
		store.Close()
		return nil, err
	}
	return &env{cfg: cfg, origins: origins, store: store}, nil
}

// newWorkerFn builds the per-worker wiring. Each worker gets its own policy
// engine and random source: policy state is process-local by design and the
// run loop is single-threaded within a worker.
func (e *env) newWorkerFn(seed int64, extractor worker.Extractor) func(id int) *worker.Worker {
	return func(id int) *worker.Worker {
		rng := mrand.New(mrand.NewSource(seed + int64(id)))
		engine := policy.New(e.cfg.PolicyConfig(), e.store, e.origins, rng)
		return &worker.Worker{
			ID:         id,
			Policy:     engine,
			Renderer:   sim.Renderer{},
			Extractor:  extractor,
			Store:      e.store,
			Namer:      namer.New(e.store, rng),
			Depth:      depth.New(e.origins),
			Classifier: classify.New(e.cfg.FocusDomains()),
			OutcomeCfg: outcome.Config{
				MaxBrightnessStdDev: e.cfg.Outcome.MaxBrightnessStdDev,
				MotionMin:           e.cfg.Outcome.MotionMin,
				MotionMax:           e.cfg.Outcome.MotionMax,
			},
		}
	}
}

// #endregion

// #region run

func newRunCmd(cfgPath *string) *cobra.Command {
	var runs int
	var intervalMS int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the worker pool against the shared registry",
		RunE: func(_ *cobra.Command, _ []string) error {
			e, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer e.store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Printf("[MUSE] starting %d workers (db=%s)", e.cfg.Workers, e.cfg.DBPath)
			mk := e.newWorkerFn(time.Now().UnixNano(), sim.Extractor{})
			wrapped := func(id int) *worker.Worker {
				w := mk(id)
				w.Interval = time.Duration(intervalMS) * time.Millisecond
				return w
			}
			return worker.RunPool(ctx, e.cfg.Workers, runs, wrapped)
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 0, "runs per worker (0 = until interrupted)")
	cmd.Flags().IntVar(&intervalMS, "interval", 250, "pause between runs in milliseconds")
	return cmd
}

// #endregion

// #region simulate

func newSimulateCmd(cfgPath *string) *cobra.Command {
	var runs int
	var seed int64

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive deterministic closed-loop cycles and print a summary",
		RunE: func(_ *cobra.Command, _ []string) error {
			e, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer e.store.Close()

			w := e.newWorkerFn(seed, sim.Extractor{})(0)
			if err := w.Run(context.Background(), runs); err != nil {
				return err
			}
			return printSummary(e, runs)
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 20, "number of simulated runs")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	return cmd
}

func printSummary(e *env, runs int) error {
	snaps, err := e.store.CoverageAll()
	if err != nil {
		return err
	}
	fmt.Printf("simulated %d runs\n", runs)
	for _, s := range snaps {
		if s.ObservedCount == 0 {
			continue
		}
		fmt.Printf("  %-12s %5d / %-6d (%.2f%%)\n",
			s.Domain, s.ObservedCount, s.EstimatedSpaceSize, s.CoveragePct)
	}

	entries, err := runlog.Recent(e.store.DB(), runs)
	if err != nil {
		return err
	}
	learned, missing, failed := 0, 0, 0
	for _, en := range entries {
		switch en.Status {
		case runlog.StatusLearned:
			learned++
		case runlog.StatusNoLearning:
			missing++
		case runlog.StatusFailed:
			failed++
		}
	}
	fmt.Printf("  runs: %d learned, %d without learning, %d failed\n", learned, missing, failed)
	return nil
}

// #endregion

// #region serve

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only registry and coverage API",
		RunE: func(_ *cobra.Command, _ []string) error {
			e, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer e.store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return api.New(e.store, e.cfg.HTTPAddr).Start(ctx)
		},
	}
}

// #endregion

// #region inspect

func newInspectCmd(cfgPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "inspect [domain]",
		Short: "Dump registry contents for a domain (or all domains)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			e, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer e.store.Close()

			domains := taxonomy.AllDomains()
			if len(args) == 1 {
				d := taxonomy.Domain(args[0])
				if _, ok := taxonomy.TierOf(d); !ok {
					return fmt.Errorf("unknown domain %q", args[0])
				}
				domains = []taxonomy.Domain{d}
			}

			for _, d := range domains {
				ds, err := e.store.List(d, limit)
				if err != nil {
					return err
				}
				if len(ds) == 0 {
					continue
				}
				fmt.Printf("%s:\n", d)
				for _, disc := range ds {
					flag := ""
					if disc.FlaggedName {
						flag = " [rename-pending]"
					}
					fmt.Printf("  %-24s key=%-32s depth=%.0f%% count=%d good=%v%s\n",
						disc.Name, disc.Key, disc.DepthPct, disc.Count, disc.Good, flag)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries per domain")
	return cmd
}

// #endregion

// #region coverage

func newCoverageCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "coverage",
		Short: "Print per-domain coverage snapshots",
		RunE: func(_ *cobra.Command, _ []string) error {
			e, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer e.store.Close()

			snaps, err := e.store.CoverageAll()
			if err != nil {
				return err
			}
			for _, s := range snaps {
				fmt.Printf("%-12s %6d / %-8d %6.2f%%\n",
					s.Domain, s.ObservedCount, s.EstimatedSpaceSize, s.CoveragePct)
			}
			return nil
		},
	}
}

// #endregion
