package classify

// #region imports
import (
	"github.com/danielpatrickdp/muse-engine/internal/taxonomy"
)

// #endregion

// #region entry

// Entry is one classified measurement: the tier/domain it belongs to plus its
// typed raw value. The order entries are produced in is stable run to run.
type Entry struct {
	Tier   taxonomy.Tier
	Domain taxonomy.Domain
	Value  taxonomy.RawValue
}

// #endregion

// #region classifier

// Classifier partitions one run's raw measurements into the three registry
// tiers per the fixed taxonomy. A nil focus set processes every domain;
// otherwise only the listed domains are emitted (operator extraction focus).
type Classifier struct {
	focus map[taxonomy.Domain]bool // nil = all domains
}

// New creates a classifier. focus restricts which domains are processed;
// pass nil for no restriction.
func New(focus []taxonomy.Domain) *Classifier {
	if len(focus) == 0 {
		return &Classifier{}
	}
	set := make(map[taxonomy.Domain]bool, len(focus))
	for _, d := range focus {
		set[d] = true
	}
	return &Classifier{focus: set}
}

func (c *Classifier) wants(d taxonomy.Domain) bool {
	return c.focus == nil || c.focus[d]
}

// #endregion

// #region run

// Run classifies a run outcome into an ordered entry sequence.
// Unmeasured domains produce no entries at all: a consumer must never see a
// phantom discovery for a domain the extractor did not measure. One run
// contributes at most one entry per (tier, domain, key), even when separate
// paths land in the same cell (a frame color and a collapsed window).
func (c *Classifier) Run(out taxonomy.RunOutcome) []Entry {
	var entries []Entry
	entries = append(entries, c.pure(out)...)
	entries = append(entries, c.blended(out)...)
	entries = append(entries, c.narrative(out)...)
	return dedup(entries)
}

// dedup keeps the first entry per (tier, domain, key).
func dedup(entries []Entry) []Entry {
	seen := make(map[string]bool, len(entries))
	out := entries[:0]
	for _, e := range entries {
		k := string(e.Tier) + "/" + string(e.Domain) + "/" + e.Value.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

// #endregion

// #region pure

// pure emits single-instant values: per-frame dominant color and per-sample
// sound class. Repeated keys within one run are collapsed to one entry.
func (c *Classifier) pure(out taxonomy.RunOutcome) []Entry {
	var entries []Entry
	seenColor := make(map[string]bool)
	seenSound := make(map[string]bool)

	for _, f := range out.Frames {
		if f.Color != nil && c.wants(taxonomy.DomainColor) {
			if k := f.Color.Key(); !seenColor[k] {
				seenColor[k] = true
				entries = append(entries, Entry{taxonomy.TierPure, taxonomy.DomainColor, *f.Color})
			}
		}
		if f.Sound != nil && c.wants(taxonomy.DomainSound) {
			if k := f.Sound.Key(); k != "" && !seenSound[k] {
				seenSound[k] = true
				entries = append(entries, Entry{taxonomy.TierPure, taxonomy.DomainSound, *f.Sound})
			}
		}
	}
	return entries
}

// #endregion

// #region blended

// blended emits bounded-window values. A color-combining window whose
// components all quantize to one cell is not a blend at all: it re-routes to
// the pure color tier instead.
func (c *Classifier) blended(out taxonomy.RunOutcome) []Entry {
	var entries []Entry
	seen := make(map[string]bool)

	add := func(tier taxonomy.Tier, d taxonomy.Domain, v taxonomy.RawValue) {
		k := string(tier) + "/" + string(d) + "/" + v.Key()
		if seen[k] {
			return
		}
		seen[k] = true
		entries = append(entries, Entry{tier, d, v})
	}

	// First categorical value seen per blended domain, for the composite.
	firstByDomain := make(map[taxonomy.Domain]taxonomy.RawValue)

	for _, w := range out.Windows {
		tier, ok := taxonomy.TierOf(w.Domain)
		if !ok || tier != taxonomy.TierBlended || !c.wants(w.Domain) {
			continue
		}

		if len(w.Colors) > 0 {
			if collapses(w.Colors) {
				// Combining the window's samples yields a single pure value.
				if c.wants(taxonomy.DomainColor) {
					add(taxonomy.TierPure, taxonomy.DomainColor, w.Colors[0])
				}
				continue
			}
			kind := "linear"
			if w.Value != nil && w.Value.Key() != "" {
				kind = w.Value.Key()
			}
			add(taxonomy.TierBlended, w.Domain, taxonomy.GradientValue{Kind: kind, Stops: w.Colors})
			continue
		}

		if w.Value == nil || w.Value.Key() == "" {
			continue
		}
		add(taxonomy.TierBlended, w.Domain, w.Value)
		if _, dup := firstByDomain[w.Domain]; !dup {
			firstByDomain[w.Domain] = w.Value
		}
	}

	if blend := c.fullBlend(out, firstByDomain); blend != nil {
		add(taxonomy.TierBlended, taxonomy.DomainFullBlend, *blend)
	}
	return entries
}

// collapses reports whether every component color lands in one quantized cell.
func collapses(colors []taxonomy.ColorValue) bool {
	first := colors[0].Key()
	for _, c := range colors[1:] {
		if c.Key() != first {
			return false
		}
	}
	return true
}

// fullBlend builds the composite multi-domain value for the run: the first
// observation of each measured blended domain plus the dominant frame color.
// Runs measuring fewer than two domains produce no composite.
func (c *Classifier) fullBlend(out taxonomy.RunOutcome, byDomain map[taxonomy.Domain]taxonomy.RawValue) *taxonomy.BlendValue {
	if !c.wants(taxonomy.DomainFullBlend) {
		return nil
	}
	comps := make(map[taxonomy.Domain]taxonomy.RawValue, len(byDomain)+1)
	for d, v := range byDomain {
		comps[d] = v
	}
	for _, f := range out.Frames {
		if f.Color != nil {
			comps[taxonomy.DomainColor] = *f.Color
			break
		}
	}
	if len(comps) < 2 {
		return nil
	}
	return &taxonomy.BlendValue{Components: comps}
}

// #endregion

// #region narrative

// narrative emits composite story-level values derived from the parameter
// set that produced the run, not from decoded samples.
func (c *Classifier) narrative(out taxonomy.RunOutcome) []Entry {
	fields := out.Params.NarrativeFields()
	var entries []Entry
	for _, d := range taxonomy.NarrativeDomains() {
		v, ok := fields[d]
		if !ok || !c.wants(d) {
			continue
		}
		tv := taxonomy.TokenValue{Token: v}
		if tv.Key() == "" {
			continue
		}
		entries = append(entries, Entry{taxonomy.TierNarrative, d, tv})
	}
	return entries
}

// #endregion
