package taxonomy

// #region imports
import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// #endregion

// #region tier

// Tier is the taxonomy level a discovery belongs to.
type Tier string

const (
	TierPure      Tier = "pure"
	TierBlended   Tier = "blended"
	TierNarrative Tier = "narrative"
)

// #endregion

// #region domain

// Domain identifies one measurable axis of a rendered artifact.
type Domain string

const (
	DomainColor       Domain = "color"
	DomainSound       Domain = "sound"
	DomainGradient    Domain = "gradient"
	DomainCamera      Domain = "camera"
	DomainMotion      Domain = "motion"
	DomainLighting    Domain = "lighting"
	DomainComposition Domain = "composition"
	DomainGraphics    Domain = "graphics"
	DomainTemporal    Domain = "temporal"
	DomainTechnical   Domain = "technical"
	DomainGenre       Domain = "genre"
	DomainMood        Domain = "mood"
	DomainTheme       Domain = "theme"
	DomainSetting     Domain = "setting"
	DomainSceneType   Domain = "scene_type"
	DomainStyle       Domain = "style"
	DomainPlot        Domain = "plot"

	// DomainFullBlend is the composite domain for discoveries that span
	// several measured domains in a single window.
	DomainFullBlend Domain = "full_blend"
)

// #endregion

// #region tier-mapping

// tierByDomain is the fixed taxonomy table. It is not configurable per run.
var tierByDomain = map[Domain]Tier{
	DomainColor:       TierPure,
	DomainSound:       TierPure,
	DomainGradient:    TierBlended,
	DomainCamera:      TierBlended,
	DomainMotion:      TierBlended,
	DomainLighting:    TierBlended,
	DomainComposition: TierBlended,
	DomainGraphics:    TierBlended,
	DomainTemporal:    TierBlended,
	DomainTechnical:   TierBlended,
	DomainFullBlend:   TierBlended,
	DomainGenre:       TierNarrative,
	DomainMood:        TierNarrative,
	DomainTheme:       TierNarrative,
	DomainSetting:     TierNarrative,
	DomainSceneType:   TierNarrative,
	DomainStyle:       TierNarrative,
	DomainPlot:        TierNarrative,
}

// TierOf returns the tier a domain belongs to, or false for unknown domains.
func TierOf(d Domain) (Tier, bool) {
	t, ok := tierByDomain[d]
	return t, ok
}

// AllDomains returns every known domain in stable order.
func AllDomains() []Domain {
	out := make([]Domain, 0, len(tierByDomain))
	for d := range tierByDomain {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NarrativeDomains returns the narrative-tier domains in stable order.
func NarrativeDomains() []Domain {
	var out []Domain
	for _, d := range AllDomains() {
		if tierByDomain[d] == TierNarrative {
			out = append(out, d)
		}
	}
	return out
}

// #endregion

// #region raw-value

// RawValue is the typed payload extracted for one (tier, domain). The key a
// variant produces is the normalized, quantized identity used by the registry.
type RawValue interface {
	Key() string
}

// #endregion

// #region color-value

// Color quantization: 16 levels per channel, opacity in quarters.
const (
	ColorChannelStep  = 16
	OpacityBucketSize = 25
)

// ColorSpaceSize is the cardinality of the quantized color key space.
const ColorSpaceSize = 16 * 16 * 16 * 4

// ColorValue is a raw per-frame dominant color with opacity in percent.
type ColorValue struct {
	R, G, B uint8
	Opacity int
}

// Key returns the quantized color cell identity, e.g. "128-128-128-100".
func (c ColorValue) Key() string {
	q := func(v uint8) int { return int(v) / ColorChannelStep * ColorChannelStep }
	o := c.Opacity
	if o < 0 {
		o = 0
	}
	if o > 100 {
		o = 100
	}
	o = o / OpacityBucketSize * OpacityBucketSize
	return fmt.Sprintf("%d-%d-%d-%d", q(c.R), q(c.G), q(c.B), o)
}

// #endregion

// #region token-value

// TokenValue is a categorical observation (camera move, mood, sound class...).
type TokenValue struct {
	Token string
}

// Key returns the normalized token.
func (t TokenValue) Key() string {
	return strings.ToLower(strings.TrimSpace(t.Token))
}

// #endregion

// #region gradient-value

// GradientValue is a color-combining window observation: a gradient kind plus
// its component stops. Windows whose stops collapse to one quantized cell are
// re-routed to the pure color tier by the classifier and never appear here.
type GradientValue struct {
	Kind  string
	Stops []ColorValue
}

// Key returns the gradient identity, e.g. "linear:0-0-0-100>240-240-240-100".
func (g GradientValue) Key() string {
	kind := strings.ToLower(strings.TrimSpace(g.Kind))
	parts := make([]string, 0, len(g.Stops))
	for _, s := range g.Stops {
		parts = append(parts, s.Key())
	}
	return kind + ":" + strings.Join(parts, ">")
}

// #endregion

// #region blend-value

// BlendValue is a composite observation spanning several domains at once.
// Component breakdowns are flattened to domain-qualified keys before scoring.
type BlendValue struct {
	Components map[Domain]RawValue
}

// Key joins component keys in domain order, e.g. "color:0-0-0-100|motion:slow".
func (b BlendValue) Key() string {
	domains := make([]Domain, 0, len(b.Components))
	for d := range b.Components {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })
	parts := make([]string, 0, len(domains))
	for _, d := range domains {
		parts = append(parts, string(d)+":"+b.Components[d].Key())
	}
	return strings.Join(parts, "|")
}

// #endregion

// #region discovery

// Discovery is the unit stored in the registry: a named, depth-scored,
// deduplicated record of an observed value.
type Discovery struct {
	Tier           Tier
	Domain         Domain
	Key            string
	Name           string
	FlaggedName    bool // fallback identifier, queued for batch renaming
	DepthBreakdown map[string]float64
	DepthPct       float64
	Count          int64
	Good           bool
	FirstSeen      time.Time
	LastSeen       time.Time
	SourceRunIDs   []string
}

// #endregion

// #region coverage

// CoverageSnapshot is a derived, per-domain view of how much of the known
// value space the registry already holds. It is never stored durably.
type CoverageSnapshot struct {
	Domain             Domain  `json:"domain"`
	ObservedCount      int64   `json:"observed_count"`
	EstimatedSpaceSize int64   `json:"estimated_space_size"`
	CoveragePct        float64 `json:"coverage_pct"`
}

// #endregion

// #region parameter-set

// ParameterSet is the structured input an external renderer consumes for one
// run. The engine never parses free text itself; Prompt is an opaque label
// used only for recent-run de-duplication.
type ParameterSet struct {
	Prompt      string
	Genre       string
	Mood        string
	Theme       string
	Setting     string
	SceneType   string
	Style       string
	Plot        string
	CameraMove  string
	MotionStyle string
	Gradient    string
	Lighting    string
	Composition string
	Graphics    string
	Temporal    string
	Technical   string
	Palette     []ColorValue
	DurationSec int
}

// NarrativeFields returns the narrative-tier fields keyed by domain.
// Empty fields are omitted so unmeasured domains never produce entries.
func (p ParameterSet) NarrativeFields() map[Domain]string {
	out := make(map[Domain]string)
	put := func(d Domain, v string) {
		if strings.TrimSpace(v) != "" {
			out[d] = v
		}
	}
	put(DomainGenre, p.Genre)
	put(DomainMood, p.Mood)
	put(DomainTheme, p.Theme)
	put(DomainSetting, p.Setting)
	put(DomainSceneType, p.SceneType)
	put(DomainStyle, p.Style)
	put(DomainPlot, p.Plot)
	return out
}

// #endregion

// #region run-outcome

// Artifact is the opaque handle to a rendered output.
type Artifact struct {
	Path        string
	DurationSec int
}

// FrameSample is one instant's extracted measurements. Nil fields mean the
// extractor did not measure that domain for this frame.
type FrameSample struct {
	Index int
	Color *ColorValue
	Sound *TokenValue
}

// WindowSample is one bounded-window measurement for a blended domain.
// Colors carries component colors for color-combining windows (gradients);
// Magnitude is a generic numeric intensity used by the outcome gate.
type WindowSample struct {
	Domain    Domain
	Value     RawValue
	Colors    []ColorValue
	Magnitude float64
}

// RunOutcome is the ephemeral input to classification: one run's raw
// extracted measurements plus the parameters that produced the artifact.
// It is not persisted beyond classification except via derived Discoveries.
type RunOutcome struct {
	RunID   string
	Params  ParameterSet
	Frames  []FrameSample
	Windows []WindowSample
}

// #endregion
