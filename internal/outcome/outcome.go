package outcome

// #region imports
import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/muse-engine/internal/taxonomy"
)

// #endregion

// #region config

// Config bounds the "outcome was good" criterion.
type Config struct {
	MaxBrightnessStdDev float64 // luminance spread across frames
	MotionMin           float64 // acceptable motion magnitude range
	MotionMax           float64
}

// DefaultConfig returns the default gate bounds.
func DefaultConfig() Config {
	return Config{
		MaxBrightnessStdDev: 48,
		MotionMin:           0.05,
		MotionMax:           0.95,
	}
}

// #endregion

// #region verdict

// Metric is one named gate measurement with its pass flag.
type Metric struct {
	Name  string
	Value float64
	Pass  bool
}

// Verdict is the gate's decision for a run. Good marks the run's discoveries
// as reusable by the exploit path.
type Verdict struct {
	Good        bool
	Metrics     []Metric
	FailReasons []string
}

// #endregion

// #region evaluate

// Evaluate checks measured brightness consistency and motion range. Only
// metrics the extractor actually measured participate; a run with no
// measurable signal at all is not good.
func Evaluate(out taxonomy.RunOutcome, cfg Config) Verdict {
	var metrics []Metric
	var failReasons []string
	passed := true
	measured := false

	// 1. Brightness consistency across measured frames.
	if lum := luminances(out.Frames); len(lum) > 0 {
		measured = true
		spread := stdDev(lum)
		pass := spread <= cfg.MaxBrightnessStdDev
		metrics = append(metrics, Metric{Name: "brightness_stddev", Value: spread, Pass: pass})
		if !pass {
			passed = false
			failReasons = append(failReasons,
				fmt.Sprintf("brightness stddev %.2f exceeds %.2f", spread, cfg.MaxBrightnessStdDev))
		}
	}

	// 2. Motion magnitudes within the expected range.
	for _, w := range out.Windows {
		if w.Domain != taxonomy.DomainMotion {
			continue
		}
		measured = true
		pass := w.Magnitude >= cfg.MotionMin && w.Magnitude <= cfg.MotionMax
		metrics = append(metrics, Metric{Name: "motion_magnitude", Value: w.Magnitude, Pass: pass})
		if !pass {
			passed = false
			failReasons = append(failReasons,
				fmt.Sprintf("motion magnitude %.3f outside [%.3f, %.3f]", w.Magnitude, cfg.MotionMin, cfg.MotionMax))
		}
	}

	if !measured {
		return Verdict{Good: false, FailReasons: []string{"no measurable signal"}}
	}
	return Verdict{Good: passed, Metrics: metrics, FailReasons: failReasons}
}

// #endregion

// #region math

func luminances(frames []taxonomy.FrameSample) []float64 {
	var out []float64
	for _, f := range frames {
		if f.Color == nil {
			continue
		}
		c := *f.Color
		out = append(out, 0.2126*float64(c.R)+0.7152*float64(c.G)+0.0722*float64(c.B))
	}
	return out
}

func stdDev(vals []float64) float64 {
	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))

	variance := 0.0
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vals))
	return math.Sqrt(variance)
}

// #endregion
