package depth

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danielpatrickdp/muse-engine/internal/origin"
	"github.com/danielpatrickdp/muse-engine/internal/taxonomy"
)

func monoTable() *origin.Table {
	return origin.NewTable("test", map[taxonomy.Domain][]origin.Primitive{
		taxonomy.DomainColor: {
			{Value: "black", RGB: &[3]uint8{0, 0, 0}},
			{Value: "white", RGB: &[3]uint8{255, 255, 255}},
		},
		taxonomy.DomainMotion: {
			{Value: "still", Index: 0},
			{Value: "slow", Index: 1},
			{Value: "fast", Index: 2},
		},
		taxonomy.DomainCamera: {
			{Value: "static", Index: 0},
			{Value: "pan", Index: 1},
			{Value: "tilt", Index: 2},
			{Value: "zoom_in", Index: 3},
		},
	})
}

func TestColorMidpointSplitsEvenly(t *testing.T) {
	calc := New(monoTable())

	bd, pct, err := calc.Score(taxonomy.DomainColor, taxonomy.ColorValue{R: 128, G: 128, B: 128, Opacity: 100})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	want := map[string]float64{"black": 50, "white": 50}
	if diff := cmp.Diff(want, bd); diff != "" {
		t.Fatalf("breakdown mismatch (-want +got):\n%s", diff)
	}
	if pct != 50 {
		t.Fatalf("expected depth 50 for an even split, got %f", pct)
	}
}

func TestColorExactPrimitive(t *testing.T) {
	calc := New(monoTable())

	bd, pct, err := calc.Score(taxonomy.DomainColor, taxonomy.ColorValue{R: 0, G: 0, B: 0, Opacity: 100})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if diff := cmp.Diff(map[string]float64{"black": 100}, bd); diff != "" {
		t.Fatalf("breakdown mismatch (-want +got):\n%s", diff)
	}
	if pct != 100 {
		t.Fatalf("expected depth 100, got %f", pct)
	}
}

func TestColorSumAlwaysHundred(t *testing.T) {
	calc := New(origin.Builtin())

	samples := []taxonomy.ColorValue{
		{R: 12, G: 200, B: 33, Opacity: 100},
		{R: 250, G: 1, B: 128, Opacity: 50},
		{R: 77, G: 77, B: 78, Opacity: 0},
	}
	for _, c := range samples {
		bd, pct, err := calc.Score(taxonomy.DomainColor, c)
		if err != nil {
			t.Fatalf("Score(%v): %v", c, err)
		}
		sum := 0.0
		for _, w := range bd {
			if w < 0 {
				t.Fatalf("negative contribution in %v", bd)
			}
			sum += w
		}
		if math.Abs(sum-100) > 1e-9 {
			t.Fatalf("breakdown sums to %f for %v", sum, c)
		}
		if pct < 0 || pct > 100 {
			t.Fatalf("depth %f out of range", pct)
		}
	}
}

func TestCategoricalExactMatch(t *testing.T) {
	calc := New(monoTable())

	bd, pct, err := calc.Score(taxonomy.DomainMotion, taxonomy.TokenValue{Token: "Slow"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if diff := cmp.Diff(map[string]float64{"slow": 100}, bd); diff != "" {
		t.Fatalf("breakdown mismatch (-want +got):\n%s", diff)
	}
	if pct != 100 {
		t.Fatalf("expected depth 100, got %f", pct)
	}
}

func TestCategoricalNoMatchSplitsNearest(t *testing.T) {
	calc := New(monoTable())

	bd, _, err := calc.Score(taxonomy.DomainCamera, taxonomy.TokenValue{Token: "whirl"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(bd) != nearestK {
		t.Fatalf("expected %d-way split, got %v", nearestK, bd)
	}
	sum := 0.0
	for _, w := range bd {
		sum += w
	}
	if math.Abs(sum-100) > 1e-9 {
		t.Fatalf("split sums to %f", sum)
	}
}

func TestBlendFlattensToQualifiedKeys(t *testing.T) {
	calc := New(monoTable())

	bd, pct, err := calc.Score(taxonomy.DomainFullBlend, taxonomy.BlendValue{
		Components: map[taxonomy.Domain]taxonomy.RawValue{
			taxonomy.DomainColor:  taxonomy.ColorValue{R: 0, G: 0, B: 0, Opacity: 100},
			taxonomy.DomainMotion: taxonomy.TokenValue{Token: "slow"},
		},
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	want := map[string]float64{"color.black": 100, "motion.slow": 100}
	if diff := cmp.Diff(want, bd); diff != "" {
		t.Fatalf("flattened breakdown mismatch (-want +got):\n%s", diff)
	}
	if pct != 100 {
		t.Fatalf("expected dominant 100, got %f", pct)
	}

	// Each domain-qualified sub-breakdown must sum to 100 on its own.
	sums := map[string]float64{}
	for k, w := range bd {
		domain, _, _ := strings.Cut(k, ".")
		sums[domain] += w
	}
	for d, sum := range sums {
		if math.Abs(sum-100) > 1e-9 {
			t.Fatalf("sub-breakdown for %s sums to %f", d, sum)
		}
	}
}

func TestGradientAveragesStops(t *testing.T) {
	calc := New(monoTable())

	bd, _, err := calc.Score(taxonomy.DomainGradient, taxonomy.GradientValue{
		Kind: "linear",
		Stops: []taxonomy.ColorValue{
			{R: 0, G: 0, B: 0, Opacity: 100},
			{R: 255, G: 255, B: 255, Opacity: 100},
		},
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	want := map[string]float64{"black": 50, "white": 50}
	if diff := cmp.Diff(want, bd); diff != "" {
		t.Fatalf("breakdown mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyValueIsDefect(t *testing.T) {
	calc := New(monoTable())

	cases := []struct {
		name   string
		domain taxonomy.Domain
		value  taxonomy.RawValue
	}{
		{"empty token", taxonomy.DomainMotion, taxonomy.TokenValue{Token: "  "}},
		{"empty blend", taxonomy.DomainFullBlend, taxonomy.BlendValue{}},
		{"empty gradient", taxonomy.DomainGradient, taxonomy.GradientValue{Kind: "linear"}},
	}
	for _, tc := range cases {
		_, pct, err := calc.Score(tc.domain, tc.value)
		if !errors.Is(err, ErrEmptyBreakdown) {
			t.Fatalf("%s: expected ErrEmptyBreakdown, got %v (pct=%f)", tc.name, err, pct)
		}
	}
}
