package origin

// #region imports
import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/muse-engine/internal/taxonomy"
)

// #endregion

// #region primitive

// Primitive is one canonical baseline value for a domain. RGB is the weight
// basis for color-like domains; categorical domains use Index.
type Primitive struct {
	Value string
	RGB   *[3]uint8
	Index int
}

// #endregion

// #region table

// Table is the versioned set of canonical primitives per domain. It is
// loaded once at process start and never mutated afterwards.
type Table struct {
	Version string
	prims   map[taxonomy.Domain][]Primitive
}

// NewTable builds a table from explicit primitive lists. Used by tests and
// embedders that bypass the built-in set.
func NewTable(version string, prims map[taxonomy.Domain][]Primitive) *Table {
	return &Table{Version: version, prims: prims}
}

// Primitives returns the canonical list for a domain (nil if none).
func (t *Table) Primitives(d taxonomy.Domain) []Primitive {
	return t.prims[d]
}

// SpaceSize returns the bounded-finite cardinality of a domain's key space:
// the quantized cell count for color, the origin-list length otherwise.
func (t *Table) SpaceSize(d taxonomy.Domain) int64 {
	switch d {
	case taxonomy.DomainColor:
		return taxonomy.ColorSpaceSize
	case taxonomy.DomainFullBlend:
		// Composite keys have no closed-form space; bound by the product of
		// the two smallest contributing lists to keep coverage meaningful.
		return int64(len(t.prims[taxonomy.DomainMotion])) * int64(len(t.prims[taxonomy.DomainLighting]))
	default:
		return int64(len(t.prims[d]))
	}
}

// #endregion

// #region builtin

func rgb(r, g, b uint8) *[3]uint8 { return &[3]uint8{r, g, b} }

// Builtin returns the built-in origin table.
func Builtin() *Table {
	t := &Table{Version: "2026.2", prims: map[taxonomy.Domain][]Primitive{
		taxonomy.DomainColor: {
			{Value: "black", RGB: rgb(0, 0, 0)},
			{Value: "white", RGB: rgb(255, 255, 255)},
			{Value: "red", RGB: rgb(255, 0, 0)},
			{Value: "green", RGB: rgb(0, 255, 0)},
			{Value: "blue", RGB: rgb(0, 0, 255)},
			{Value: "yellow", RGB: rgb(255, 255, 0)},
			{Value: "cyan", RGB: rgb(0, 255, 255)},
			{Value: "magenta", RGB: rgb(255, 0, 255)},
			{Value: "orange", RGB: rgb(255, 128, 0)},
			{Value: "gray", RGB: rgb(128, 128, 128)},
		},
		taxonomy.DomainSound:       tokens("silence", "tone", "noise", "beat", "drone", "chirp"),
		taxonomy.DomainGradient:    tokens("flat", "linear", "radial", "conic", "diamond"),
		taxonomy.DomainCamera:      tokens("static", "pan", "tilt", "zoom_in", "zoom_out", "dolly", "orbit", "handheld"),
		taxonomy.DomainMotion:      tokens("still", "slow", "medium", "fast", "erratic"),
		taxonomy.DomainLighting:    tokens("low_key", "high_key", "natural", "neon", "silhouette"),
		taxonomy.DomainComposition: tokens("centered", "thirds", "symmetric", "diagonal", "frame_in_frame"),
		taxonomy.DomainGraphics:    tokens("none", "overlay", "particles", "typography", "geometry"),
		taxonomy.DomainTemporal:    tokens("steady", "accelerating", "decelerating", "pulsing", "reversed"),
		taxonomy.DomainTechnical:   tokens("clean", "grain", "glitch", "vhs", "bloom"),
		taxonomy.DomainGenre:       tokens("drama", "comedy", "thriller", "documentary", "noir", "fantasy", "scifi", "romance"),
		taxonomy.DomainMood:        tokens("calm", "tense", "joyful", "melancholic", "eerie", "triumphant"),
		taxonomy.DomainTheme:       tokens("identity", "loss", "discovery", "conflict", "renewal", "isolation"),
		taxonomy.DomainSetting:     tokens("city", "forest", "ocean", "desert", "interior", "orbit_station"),
		taxonomy.DomainSceneType:   tokens("establishing", "dialogue", "montage", "chase", "reveal", "closing"),
		taxonomy.DomainStyle:       tokens("minimal", "baroque", "retro", "photoreal", "painterly", "abstract"),
		taxonomy.DomainPlot:        tokens("quest", "return", "escape", "transformation", "rivalry", "sacrifice"),
	}}
	return t
}

func tokens(vals ...string) []Primitive {
	out := make([]Primitive, len(vals))
	for i, v := range vals {
		out[i] = Primitive{Value: v, Index: i}
	}
	return out
}

// #endregion

// #region overlay

type overlayFile struct {
	Version string                       `yaml:"version"`
	Domains map[string][]overlayPrimRow `yaml:"domains"`
}

type overlayPrimRow struct {
	Value string  `yaml:"value"`
	RGB   []uint8 `yaml:"rgb"`
}

// Load returns the built-in table merged with the overlay file at path.
// An empty path returns the built-in table unchanged.
func Load(path string) (*Table, error) {
	t := Builtin()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read origin overlay: %w", err)
	}
	var ov overlayFile
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return nil, fmt.Errorf("parse origin overlay: %w", err)
	}

	if ov.Version != "" {
		t.Version = ov.Version
	}
	for name, rows := range ov.Domains {
		d := taxonomy.Domain(name)
		if _, ok := taxonomy.TierOf(d); !ok {
			return nil, fmt.Errorf("origin overlay: unknown domain %q", name)
		}
		for _, row := range rows {
			p := Primitive{Value: row.Value, Index: len(t.prims[d])}
			if len(row.RGB) == 3 {
				p.RGB = rgb(row.RGB[0], row.RGB[1], row.RGB[2])
			}
			if d == taxonomy.DomainColor && p.RGB == nil {
				return nil, fmt.Errorf("origin overlay: color primitive %q missing rgb", row.Value)
			}
			t.prims[d] = append(t.prims[d], p)
		}
	}
	return t, nil
}

// #endregion
