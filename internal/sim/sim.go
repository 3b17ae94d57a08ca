// Package sim provides deterministic in-process stand-ins for the external
// renderer and extractor, used by the simulate command and the test suite to
// drive full closed-loop cycles without a media pipeline.
package sim

// #region imports
import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/danielpatrickdp/muse-engine/internal/taxonomy"
)

// #endregion

// #region renderer

// Renderer produces an in-memory artifact handle. Same parameters, same
// artifact.
type Renderer struct{}

// Render implements worker.Renderer.
func (Renderer) Render(_ context.Context, params taxonomy.ParameterSet) (taxonomy.Artifact, error) {
	return taxonomy.Artifact{
		Path:        fmt.Sprintf("mem://render/%x", seed(params)),
		DurationSec: params.DurationSec,
	}, nil
}

// #endregion

// #region extractor

// Extractor synthesizes measurements purely from the parameter set, so a
// given parameter set always reproduces the same keys.
type Extractor struct {
	// SkipSound leaves sound unmeasured, exercising the classification-gap
	// path (no phantom entries for unmeasured domains).
	SkipSound bool
}

var soundClasses = []string{"tone", "beat", "noise", "drone"}

// Extract implements worker.Extractor.
func (e Extractor) Extract(_ context.Context, _ taxonomy.Artifact, params taxonomy.ParameterSet) (taxonomy.RunOutcome, error) {
	h := seed(params)
	out := taxonomy.RunOutcome{Params: params}

	palette := params.Palette
	if len(palette) == 0 {
		palette = []taxonomy.ColorValue{colorFrom(h)}
	}

	for i := 0; i < 4; i++ {
		c := palette[i%len(palette)]
		f := taxonomy.FrameSample{Index: i, Color: &c}
		if !e.SkipSound {
			// Modulo in uint64: converting the shifted hash to int first can
			// go negative and index out of range.
			s := taxonomy.TokenValue{Token: soundClasses[(h>>uint(i))%uint64(len(soundClasses))]}
			f.Sound = &s
		}
		out.Frames = append(out.Frames, f)
	}

	if params.MotionStyle != "" {
		out.Windows = append(out.Windows, taxonomy.WindowSample{
			Domain:    taxonomy.DomainMotion,
			Value:     taxonomy.TokenValue{Token: params.MotionStyle},
			Magnitude: 0.1 + float64(h%80)/100,
		})
	}
	if params.Lighting != "" {
		out.Windows = append(out.Windows, taxonomy.WindowSample{
			Domain: taxonomy.DomainLighting,
			Value:  taxonomy.TokenValue{Token: params.Lighting},
		})
	}
	if params.CameraMove != "" {
		out.Windows = append(out.Windows, taxonomy.WindowSample{
			Domain: taxonomy.DomainCamera,
			Value:  taxonomy.TokenValue{Token: params.CameraMove},
		})
	}
	if params.Composition != "" {
		out.Windows = append(out.Windows, taxonomy.WindowSample{
			Domain: taxonomy.DomainComposition,
			Value:  taxonomy.TokenValue{Token: params.Composition},
		})
	}
	if params.Graphics != "" {
		out.Windows = append(out.Windows, taxonomy.WindowSample{
			Domain: taxonomy.DomainGraphics,
			Value:  taxonomy.TokenValue{Token: params.Graphics},
		})
	}
	if len(palette) >= 2 {
		kind := params.Gradient
		if kind == "" {
			kind = "linear"
		}
		out.Windows = append(out.Windows, taxonomy.WindowSample{
			Domain: taxonomy.DomainGradient,
			Value:  taxonomy.TokenValue{Token: kind},
			Colors: palette[:2],
		})
	}

	return out, nil
}

// #endregion

// #region helpers

func seed(params taxonomy.ParameterSet) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s", params.Prompt, params.Genre, params.Mood, params.MotionStyle, params.Lighting)
	return h.Sum64()
}

func colorFrom(h uint64) taxonomy.ColorValue {
	return taxonomy.ColorValue{
		R:       uint8(h % 256),
		G:       uint8((h >> 8) % 256),
		B:       uint8((h >> 16) % 256),
		Opacity: 100,
	}
}

// #endregion
