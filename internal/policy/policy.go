package policy

// #region imports
import (
	"fmt"
	"log"
	"strings"

	"github.com/danielpatrickdp/muse-engine/internal/origin"
	"github.com/danielpatrickdp/muse-engine/internal/taxonomy"
)

// #endregion

// #region interfaces

// Registry is the subset of the registry store the engine consults.
type Registry interface {
	QueryGood(tier taxonomy.Tier, domain taxonomy.Domain, limit int) ([]taxonomy.Discovery, error)
	Coverage(domain taxonomy.Domain) (taxonomy.CoverageSnapshot, error)
}

// Rand is the injected random source. *math/rand.Rand satisfies it;
// tests supply scripted sequences.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// #endregion

// #region mode

// Mode is the decision a cycle lands on.
type Mode string

const (
	ModeExploit  Mode = "exploit"
	ModeExplore  Mode = "explore"
	ModeTargeted Mode = "explore-targeted"
)

// #endregion

// #region config

// Config holds the engine's tunables. An operator override, when set, is
// honored verbatim and never adjusted.
type Config struct {
	BaseExploitRatio         float64
	OverrideExploitRatio     *float64
	TargetedExploreProb      float64
	CoverageFloor            float64
	CoverageGateThresholdPct float64
	CriticalDomains          []taxonomy.Domain
	LowDiscoveryRatePct      float64
	DiscoveryPenalty         float64
	MinExploitRatio          float64
	RecentWindow             int
	MaxResample              int
	SimilarityThreshold      float64
	BaseDurationSec          int
	GoodPoolLimit            int
}

// DefaultConfig returns the baseline tunables.
func DefaultConfig() Config {
	return Config{
		BaseExploitRatio:         0.7,
		TargetedExploreProb:      0.2,
		CoverageFloor:            0.3,
		CoverageGateThresholdPct: 20,
		CriticalDomains:          []taxonomy.Domain{taxonomy.DomainColor, taxonomy.DomainMotion},
		LowDiscoveryRatePct:      10,
		DiscoveryPenalty:         0.2,
		MinExploitRatio:          0.1,
		RecentWindow:             20,
		MaxResample:              5,
		SimilarityThreshold:      0.6,
		BaseDurationSec:          15,
		GoodPoolLimit:            32,
	}
}

// #endregion

// #region state

// minRateSample is the minimum recent-run window before the discovery rate
// influences the ratio.
const minRateSample = 5

// State is the engine's process-local memory. It is deliberately not
// durable: a process restart returns the policy to baseline.
type State struct {
	TotalRuns        int
	RecentPrompts    []string // most-recent-first, bounded
	LastExploitRatio float64

	recentNovel []bool // bounded window backing the discovery rate
}

// DiscoveryRatePct is the fraction of recent runs that produced at least one
// novel discovery.
func (s *State) DiscoveryRatePct() float64 {
	if len(s.recentNovel) == 0 {
		return 0
	}
	n := 0
	for _, v := range s.recentNovel {
		if v {
			n++
		}
	}
	return float64(n) / float64(len(s.recentNovel)) * 100
}

// #endregion

// #region decision

// Decision is one cycle's output: the chosen mode and the next run's
// parameter set.
type Decision struct {
	Mode         Mode
	ExploitRatio float64
	Params       taxonomy.ParameterSet
	SourceNames  []string // names of exploited discoveries, empty on explore
}

// #endregion

// #region engine

// Engine is the top-level decision procedure: given run history, coverage,
// and the exploit/explore ratio, it selects the next run's parameters.
type Engine struct {
	cfg     Config
	reg     Registry
	origins *origin.Table
	rand    Rand
	state   State
}

// New creates an engine with zeroed state. Restart-resets-to-baseline is by
// construction: nothing rehydrates State from the store.
func New(cfg Config, reg Registry, origins *origin.Table, rand Rand) *Engine {
	if cfg.GoodPoolLimit <= 0 {
		cfg.GoodPoolLimit = DefaultConfig().GoodPoolLimit
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = DefaultConfig().RecentWindow
	}
	return &Engine{cfg: cfg, reg: reg, origins: origins, rand: rand}
}

// State returns a copy of the engine's process-local state.
func (e *Engine) State() State {
	return e.state
}

// #endregion

// #region effective-ratio

// EffectiveExploitRatio computes the ratio for the next decision. The
// operator override is returned verbatim; otherwise the webapp baseline is
// adjusted downward for discovery exhaustion and capped below the floor
// while any critical domain's coverage lags the gate threshold.
func (e *Engine) EffectiveExploitRatio() (float64, error) {
	if e.cfg.OverrideExploitRatio != nil {
		return *e.cfg.OverrideExploitRatio, nil
	}

	r := e.cfg.BaseExploitRatio

	if len(e.state.recentNovel) >= minRateSample && e.state.DiscoveryRatePct() < e.cfg.LowDiscoveryRatePct {
		r -= e.cfg.DiscoveryPenalty
		if r < e.cfg.MinExploitRatio {
			r = e.cfg.MinExploitRatio
		}
	}

	for _, d := range e.cfg.CriticalDomains {
		snap, err := e.reg.Coverage(d)
		if err != nil {
			return 0, fmt.Errorf("coverage %s: %w", d, err)
		}
		if snap.CoveragePct < e.cfg.CoverageGateThresholdPct && r > e.cfg.CoverageFloor {
			r = e.cfg.CoverageFloor
		}
	}

	if r < 0 {
		r = 0
	}
	if r > 1 {
		r = 1
	}
	return r, nil
}

// #endregion

// #region decide

// Decide runs one decision cycle and returns the next run's parameters.
func (e *Engine) Decide() (Decision, error) {
	ratio, err := e.EffectiveExploitRatio()
	if err != nil {
		return Decision{}, err
	}
	e.state.LastExploitRatio = ratio

	if e.rand.Float64() < ratio {
		if dec, ok := e.exploit(ratio); ok {
			dec.Params.DurationSec = e.Duration()
			return dec, nil
		}
		log.Printf("[POLICY] good-entry pool empty, falling back to explore")
	}

	dec, err := e.explore(ratio)
	if err != nil {
		return Decision{}, err
	}
	dec.Params.DurationSec = e.Duration()
	return dec, nil
}

// #endregion

// #region exploit

// exploit builds the next parameter set from known-good discoveries,
// excluding entries referenced by recent prompts. An empty pool reports
// ok=false so the caller can fall back to explore.
func (e *Engine) exploit(ratio float64) (Decision, bool) {
	var names []string
	params := taxonomy.ParameterSet{}

	pick := func(tier taxonomy.Tier, d taxonomy.Domain) (taxonomy.Discovery, bool) {
		pool, err := e.reg.QueryGood(tier, d, e.cfg.GoodPoolLimit)
		if err != nil {
			log.Printf("[POLICY] query good %s/%s: %v", tier, d, err)
			return taxonomy.Discovery{}, false
		}
		pool = e.excludeRecent(pool)
		if len(pool) == 0 {
			return taxonomy.Discovery{}, false
		}
		return pool[e.weightedIndex(len(pool))], true
	}

	assign := map[taxonomy.Domain]*string{
		taxonomy.DomainGenre:     &params.Genre,
		taxonomy.DomainMood:      &params.Mood,
		taxonomy.DomainTheme:     &params.Theme,
		taxonomy.DomainSetting:   &params.Setting,
		taxonomy.DomainSceneType: &params.SceneType,
		taxonomy.DomainStyle:     &params.Style,
		taxonomy.DomainPlot:      &params.Plot,
	}
	for _, d := range taxonomy.NarrativeDomains() {
		if disc, ok := pick(taxonomy.TierNarrative, d); ok {
			*assign[d] = disc.Key
			names = append(names, disc.Name)
		}
	}

	// Gradient discoveries carry composite keys that do not round-trip into a
	// single parameter field, so exploit recycles every other blended domain.
	blended := map[taxonomy.Domain]*string{
		taxonomy.DomainCamera:      &params.CameraMove,
		taxonomy.DomainMotion:      &params.MotionStyle,
		taxonomy.DomainLighting:    &params.Lighting,
		taxonomy.DomainComposition: &params.Composition,
		taxonomy.DomainGraphics:    &params.Graphics,
		taxonomy.DomainTemporal:    &params.Temporal,
		taxonomy.DomainTechnical:   &params.Technical,
	}
	for d, field := range blended {
		if disc, ok := pick(taxonomy.TierBlended, d); ok {
			*field = disc.Key
			names = append(names, disc.Name)
		}
	}

	if disc, ok := pick(taxonomy.TierPure, taxonomy.DomainColor); ok {
		if c, err := parseColorKey(disc.Key); err == nil {
			params.Palette = []taxonomy.ColorValue{c}
			names = append(names, disc.Name)
		}
	}

	if len(names) == 0 {
		return Decision{}, false
	}

	params.Prompt = "exploit " + strings.Join(names, " ")
	return Decision{
		Mode:         ModeExploit,
		ExploitRatio: ratio,
		Params:       params,
		SourceNames:  names,
	}, true
}

// excludeRecent drops discoveries whose names appear in the bounded recent
// prompt window, avoiding immediate repetition.
func (e *Engine) excludeRecent(pool []taxonomy.Discovery) []taxonomy.Discovery {
	out := pool[:0]
	for _, d := range pool {
		recent := false
		for _, p := range e.state.RecentPrompts {
			if strings.Contains(p, d.Name) {
				recent = true
				break
			}
		}
		if !recent {
			out = append(out, d)
		}
	}
	return out
}

// weightedIndex samples an index biased toward the front of the pool, which
// the store orders by low count and recent first_seen.
func (e *Engine) weightedIndex(n int) int {
	total := n * (n + 1) / 2
	r := e.rand.Intn(total)
	for i := 0; i < n; i++ {
		r -= n - i
		if r < 0 {
			return i
		}
	}
	return n - 1
}

// #endregion

// #region explore

// explore samples a novel combination, optionally through the targeted
// gap-filling sub-path, and resamples on near-duplicate overlap with the
// recent prompt window (bounded attempts).
func (e *Engine) explore(ratio float64) (Decision, error) {
	mode := ModeExplore
	gaps := e.coverageGaps()
	if len(gaps) > 0 && e.rand.Float64() < e.cfg.TargetedExploreProb {
		mode = ModeTargeted
	}

	var params taxonomy.ParameterSet
	for attempt := 0; ; attempt++ {
		if mode == ModeTargeted {
			params = e.sampleTargeted(gaps)
		} else {
			params = e.sampleNovel()
		}
		if attempt >= e.cfg.MaxResample || !e.nearDuplicate(params.Prompt) {
			break
		}
	}

	return Decision{Mode: mode, ExploitRatio: ratio, Params: params}, nil
}

// coverageGaps lists domains whose coverage is below the gate threshold.
func (e *Engine) coverageGaps() []taxonomy.Domain {
	var gaps []taxonomy.Domain
	for _, d := range taxonomy.AllDomains() {
		snap, err := e.reg.Coverage(d)
		if err != nil {
			continue
		}
		if snap.CoveragePct < e.cfg.CoverageGateThresholdPct {
			gaps = append(gaps, d)
		}
	}
	return gaps
}

// sampleNovel draws an unconstrained combination from the origin vocabulary.
func (e *Engine) sampleNovel() taxonomy.ParameterSet {
	p := taxonomy.ParameterSet{
		Genre:       e.randomToken(taxonomy.DomainGenre),
		Mood:        e.randomToken(taxonomy.DomainMood),
		Theme:       e.randomToken(taxonomy.DomainTheme),
		Setting:     e.randomToken(taxonomy.DomainSetting),
		SceneType:   e.randomToken(taxonomy.DomainSceneType),
		Style:       e.randomToken(taxonomy.DomainStyle),
		Plot:        e.randomToken(taxonomy.DomainPlot),
		CameraMove:  e.randomToken(taxonomy.DomainCamera),
		MotionStyle: e.randomToken(taxonomy.DomainMotion),
		Gradient:    e.randomToken(taxonomy.DomainGradient),
		Lighting:    e.randomToken(taxonomy.DomainLighting),
		Composition: e.randomToken(taxonomy.DomainComposition),
		Graphics:    e.randomToken(taxonomy.DomainGraphics),
		Temporal:    e.randomToken(taxonomy.DomainTemporal),
		Technical:   e.randomToken(taxonomy.DomainTechnical),
		Palette:     []taxonomy.ColorValue{e.randomColor(), e.randomColor()},
	}
	p.Prompt = promptOf("explore", p)
	return p
}

// sampleTargeted biases the draw toward under-covered domains: gap domains
// get fresh random draws, everything else stays at the first primitive.
func (e *Engine) sampleTargeted(gaps []taxonomy.Domain) taxonomy.ParameterSet {
	gapSet := make(map[taxonomy.Domain]bool, len(gaps))
	for _, d := range gaps {
		gapSet[d] = true
	}

	p := taxonomy.ParameterSet{}
	fields := map[taxonomy.Domain]*string{
		taxonomy.DomainGenre:     &p.Genre,
		taxonomy.DomainMood:      &p.Mood,
		taxonomy.DomainTheme:     &p.Theme,
		taxonomy.DomainSetting:   &p.Setting,
		taxonomy.DomainSceneType: &p.SceneType,
		taxonomy.DomainStyle:     &p.Style,
		taxonomy.DomainPlot:      &p.Plot,
		taxonomy.DomainCamera:      &p.CameraMove,
		taxonomy.DomainMotion:      &p.MotionStyle,
		taxonomy.DomainGradient:    &p.Gradient,
		taxonomy.DomainLighting:    &p.Lighting,
		taxonomy.DomainComposition: &p.Composition,
		taxonomy.DomainGraphics:    &p.Graphics,
		taxonomy.DomainTemporal:    &p.Temporal,
		taxonomy.DomainTechnical:   &p.Technical,
	}
	for d, field := range fields {
		if gapSet[d] {
			*field = e.randomToken(d)
		} else {
			*field = e.firstToken(d)
		}
	}
	if gapSet[taxonomy.DomainColor] {
		p.Palette = []taxonomy.ColorValue{e.randomColor(), e.randomColor()}
	}
	p.Prompt = promptOf("explore-targeted", p)
	return p
}

// promptOf renders a parameter set into the run prompt used for the
// recent-window dedup.
func promptOf(mode string, p taxonomy.ParameterSet) string {
	parts := []string{mode}
	for _, v := range []string{
		p.Genre, p.Mood, p.Theme, p.Setting, p.SceneType, p.Style, p.Plot,
		p.CameraMove, p.MotionStyle, p.Gradient, p.Lighting, p.Composition,
		p.Graphics, p.Temporal, p.Technical,
	} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	for _, c := range p.Palette {
		parts = append(parts, c.Key())
	}
	return strings.Join(parts, " ")
}

func (e *Engine) randomToken(d taxonomy.Domain) string {
	prims := e.origins.Primitives(d)
	if len(prims) == 0 {
		return ""
	}
	return prims[e.rand.Intn(len(prims))].Value
}

func (e *Engine) firstToken(d taxonomy.Domain) string {
	prims := e.origins.Primitives(d)
	if len(prims) == 0 {
		return ""
	}
	return prims[0].Value
}

func (e *Engine) randomColor() taxonomy.ColorValue {
	return taxonomy.ColorValue{
		R:       uint8(e.rand.Intn(16) * taxonomy.ColorChannelStep),
		G:       uint8(e.rand.Intn(16) * taxonomy.ColorChannelStep),
		B:       uint8(e.rand.Intn(16) * taxonomy.ColorChannelStep),
		Opacity: e.rand.Intn(4) * taxonomy.OpacityBucketSize,
	}
}

// #endregion

// #region dedup

// nearDuplicate reports whether a prompt overlaps a recent one beyond the
// similarity threshold.
func (e *Engine) nearDuplicate(prompt string) bool {
	for _, recent := range e.state.RecentPrompts {
		if similarity(prompt, recent) > e.cfg.SimilarityThreshold {
			return true
		}
	}
	return false
}

// similarity is token overlap over the larger token count.
func similarity(a, b string) float64 {
	ta := strings.Fields(a)
	tb := strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	overlap := 0
	for _, t := range tb {
		if set[t] {
			overlap++
		}
	}
	max := len(ta)
	if len(tb) > max {
		max = len(tb)
	}
	return float64(overlap) / float64(max)
}

// #endregion

// #region record

// RecordRun folds a completed run back into the process-local state.
func (e *Engine) RecordRun(params taxonomy.ParameterSet, producedNovel bool) {
	e.state.TotalRuns++

	e.state.RecentPrompts = append([]string{params.Prompt}, e.state.RecentPrompts...)
	if len(e.state.RecentPrompts) > e.cfg.RecentWindow {
		e.state.RecentPrompts = e.state.RecentPrompts[:e.cfg.RecentWindow]
	}

	e.state.recentNovel = append(e.state.recentNovel, producedNovel)
	if len(e.state.recentNovel) > e.cfg.RecentWindow {
		e.state.recentNovel = e.state.recentNovel[1:]
	}
}

// #endregion

// #region duration

// Duration returns the run duration in seconds: stepped, monotonically
// non-decreasing growth with total runs, independent of the exploit/explore
// choice.
func (e *Engine) Duration() int {
	base := e.cfg.BaseDurationSec
	if base <= 0 {
		base = DefaultConfig().BaseDurationSec
	}
	switch {
	case e.state.TotalRuns < 25:
		return base
	case e.state.TotalRuns < 100:
		return base * 2
	case e.state.TotalRuns < 400:
		return base * 4
	default:
		return base * 8
	}
}

// #endregion

// #region color-key

// parseColorKey reverses taxonomy.ColorValue.Key.
func parseColorKey(key string) (taxonomy.ColorValue, error) {
	var r, g, b, o int
	if _, err := fmt.Sscanf(key, "%d-%d-%d-%d", &r, &g, &b, &o); err != nil {
		return taxonomy.ColorValue{}, fmt.Errorf("parse color key %q: %w", key, err)
	}
	return taxonomy.ColorValue{R: uint8(r), G: uint8(g), B: uint8(b), Opacity: o}, nil
}

// #endregion
