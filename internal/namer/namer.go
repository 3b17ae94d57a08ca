package namer

// #region imports
import (
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/muse-engine/internal/taxonomy"
)

// #endregion

// #region interfaces

// Registry is the subset of the registry store the namer consults. Every
// writer path goes through this one namer; there is no second name generator.
type Registry interface {
	Lookup(tier taxonomy.Tier, domain taxonomy.Domain, key string) (*taxonomy.Discovery, error)
	NameExists(tier taxonomy.Tier, name string) (bool, error)
}

// Rand is the injected random source. *math/rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}

// #endregion

// #region grammar

// maxAttempts bounds token regeneration before the fallback path.
const maxAttempts = 8

// Curated consonant/vowel grammar. Onsets avoid unpronounceable clusters.
var (
	onsets = []string{
		"b", "d", "f", "g", "k", "l", "m", "n", "p", "r", "s", "t", "v", "z",
		"br", "dr", "fl", "gl", "kr", "pl", "sel", "tor", "vel", "zar",
	}
	vowels = []string{"a", "e", "i", "o", "u", "ae", "ia", "ou"}
	codas  = []string{"", "", "n", "r", "s", "l", "th"}
)

// domainPrefixes give each domain's names a recognizable family. Colors are
// bare tokens.
var domainPrefixes = map[taxonomy.Domain]string{
	taxonomy.DomainColor:       "",
	taxonomy.DomainSound:       "Echo-",
	taxonomy.DomainGradient:    "Flow-",
	taxonomy.DomainCamera:      "Lens-",
	taxonomy.DomainMotion:      "Drift-",
	taxonomy.DomainLighting:    "Lumen-",
	taxonomy.DomainComposition: "Frame-",
	taxonomy.DomainGraphics:    "Glyph-",
	taxonomy.DomainTemporal:    "Pulse-",
	taxonomy.DomainTechnical:   "Grain-",
	taxonomy.DomainFullBlend:   "Weave-",
	taxonomy.DomainGenre:       "Saga-",
	taxonomy.DomainMood:        "Aura-",
	taxonomy.DomainTheme:       "Motif-",
	taxonomy.DomainSetting:     "Vista-",
	taxonomy.DomainSceneType:   "Scene-",
	taxonomy.DomainStyle:       "Form-",
	taxonomy.DomainPlot:        "Arc-",
}

// #endregion

// #region namer

// Namer synthesizes unique, pronounceable names for novel discoveries. It is
// the single source of truth for naming: it never renames, and rediscovering
// an identical key always yields the already-assigned name.
type Namer struct {
	reg  Registry
	rand Rand
}

// New creates a namer over the given registry reader and random source.
func New(reg Registry, rand Rand) *Namer {
	return &Namer{reg: reg, rand: rand}
}

// #endregion

// #region name

// Name resolves the name for (tier, domain, key). A non-empty existing name
// is returned unchanged. Otherwise the registry is checked for the key and
// its name reused; only a genuinely novel key receives a fresh token.
// flagged reports whether the fallback identifier path was taken, in which
// case the discovery is queued for later batch renaming.
func (n *Namer) Name(tier taxonomy.Tier, domain taxonomy.Domain, key, existing string) (name string, flagged bool, err error) {
	if existing != "" {
		return existing, false, nil
	}

	prior, err := n.reg.Lookup(tier, domain, key)
	if err != nil {
		return "", false, fmt.Errorf("namer lookup: %w", err)
	}
	if prior != nil {
		return prior.Name, prior.FlaggedName, nil
	}

	prefix := domainPrefixes[domain]
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate := prefix + n.token()
		taken, err := n.reg.NameExists(tier, candidate)
		if err != nil {
			return "", false, fmt.Errorf("namer uniqueness check: %w", err)
		}
		if !taken {
			return candidate, false, nil
		}
	}

	// Collision budget exhausted: disambiguated fallback, run continues.
	fallback := prefix + n.token() + "-" + uuid.New().String()[:8]
	log.Printf("[NAMER] collision budget exhausted for %s/%s key=%s, fallback=%s",
		tier, domain, key, fallback)
	return fallback, true, nil
}

// #endregion

// #region token

// token builds a 2-3 syllable pronounceable word from the grammar.
func (n *Namer) token() string {
	syllables := 2 + n.rand.Intn(2)
	var b strings.Builder
	for i := 0; i < syllables; i++ {
		b.WriteString(onsets[n.rand.Intn(len(onsets))])
		b.WriteString(vowels[n.rand.Intn(len(vowels))])
	}
	b.WriteString(codas[n.rand.Intn(len(codas))])
	s := b.String()
	return strings.ToUpper(s[:1]) + s[1:]
}

// #endregion
