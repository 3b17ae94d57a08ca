package depth

// #region imports
import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/danielpatrickdp/muse-engine/internal/origin"
	"github.com/danielpatrickdp/muse-engine/internal/taxonomy"
)

// #endregion

// #region errors

// ErrEmptyBreakdown marks a depth computation defect: a non-empty raw value
// produced no contributions. Callers must surface this loudly, never record
// it as depth 0.
var ErrEmptyBreakdown = errors.New("depth: empty breakdown for non-empty value")

// #endregion

// #region calculator

// nearestK is the number of primitives an unmatched categorical value is
// split across.
const nearestK = 3

// Calculator scores raw values against the origin table. It is a pure
// function over its inputs; the table is read-only.
type Calculator struct {
	origins *origin.Table
}

// New creates a calculator over the given origin table.
func New(origins *origin.Table) *Calculator {
	return &Calculator{origins: origins}
}

// #endregion

// #region score

// Score computes the provenance breakdown and scalar depth for one raw value.
// Within one domain the breakdown sums to exactly 100. Composite blend values
// are flattened to domain-qualified keys ("color.black"); each domain's
// sub-breakdown still sums to 100 and the scalar is the dominant contribution
// across the flattened map.
func (c *Calculator) Score(d taxonomy.Domain, raw taxonomy.RawValue) (map[string]float64, float64, error) {
	switch v := raw.(type) {
	case taxonomy.ColorValue:
		bd := colorBreakdown(v, c.origins.Primitives(taxonomy.DomainColor))
		return finish(bd)
	case taxonomy.TokenValue:
		bd := tokenBreakdown(v, c.origins.Primitives(d))
		return finish(bd)
	case taxonomy.GradientValue:
		bd := c.gradientBreakdown(v)
		return finish(bd)
	case taxonomy.BlendValue:
		return c.blendBreakdown(v)
	default:
		return nil, 0, fmt.Errorf("depth: unsupported value type %T for domain %s", raw, d)
	}
}

func finish(bd map[string]float64) (map[string]float64, float64, error) {
	if len(bd) == 0 {
		return nil, 0, ErrEmptyBreakdown
	}
	roundTo100(bd)
	return bd, dominant(bd), nil
}

// #endregion

// #region color

// colorBreakdown projects the value onto the best pair of color primitives:
// the linear interpolation in RGB space with the smallest residual.
func colorBreakdown(v taxonomy.ColorValue, prims []origin.Primitive) map[string]float64 {
	p := [3]float64{float64(v.R), float64(v.G), float64(v.B)}

	// Exact primitive match short-circuits to 100.
	for _, pr := range prims {
		if pr.RGB == nil {
			continue
		}
		if dist(p, toF(*pr.RGB)) == 0 {
			return map[string]float64{pr.Value: 100}
		}
	}

	best := math.MaxFloat64
	var bestA, bestB string
	var bestT float64
	for i := 0; i < len(prims); i++ {
		if prims[i].RGB == nil {
			continue
		}
		a := toF(*prims[i].RGB)
		for j := i + 1; j < len(prims); j++ {
			if prims[j].RGB == nil {
				continue
			}
			b := toF(*prims[j].RGB)
			t, res := project(p, a, b)
			if res < best {
				best = res
				bestA, bestB = prims[i].Value, prims[j].Value
				bestT = t
			}
		}
	}
	if bestA == "" {
		return nil
	}
	return map[string]float64{
		bestA: (1 - bestT) * 100,
		bestB: bestT * 100,
	}
}

func toF(c [3]uint8) [3]float64 {
	return [3]float64{float64(c[0]), float64(c[1]), float64(c[2])}
}

func dist(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// project returns the clamped interpolation factor of p onto segment a→b and
// the residual distance from p to that point.
func project(p, a, b [3]float64) (float64, float64) {
	ab := [3]float64{b[0] - a[0], b[1] - a[1], b[2] - a[2]}
	ap := [3]float64{p[0] - a[0], p[1] - a[1], p[2] - a[2]}
	denom := ab[0]*ab[0] + ab[1]*ab[1] + ab[2]*ab[2]
	if denom == 0 {
		return 0, dist(p, a)
	}
	t := (ap[0]*ab[0] + ap[1]*ab[1] + ap[2]*ab[2]) / denom
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	q := [3]float64{a[0] + t*ab[0], a[1] + t*ab[1], a[2] + t*ab[2]}
	return t, dist(p, q)
}

// #endregion

// #region categorical

// tokenBreakdown scores a categorical value: an exact canonical match yields
// 100 to that primitive; otherwise the value is split evenly across the
// nearest K primitives by edit distance.
func tokenBreakdown(v taxonomy.TokenValue, prims []origin.Primitive) map[string]float64 {
	key := v.Key()
	if key == "" || len(prims) == 0 {
		return nil
	}
	for _, pr := range prims {
		if pr.Value == key {
			return map[string]float64{pr.Value: 100}
		}
	}

	type cand struct {
		value string
		d     int
	}
	cands := make([]cand, 0, len(prims))
	for _, pr := range prims {
		cands = append(cands, cand{pr.Value, editDistance(key, pr.Value)})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].d != cands[j].d {
			return cands[i].d < cands[j].d
		}
		return cands[i].value < cands[j].value
	})

	k := nearestK
	if k > len(cands) {
		k = len(cands)
	}
	out := make(map[string]float64, k)
	for i := 0; i < k; i++ {
		out[cands[i].value] = 100 / float64(k)
	}
	return out
}

func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// #endregion

// #region gradient

// gradientBreakdown explains a gradient through the color primitives behind
// its stops: the mean of the per-stop breakdowns, which still sums to 100.
func (c *Calculator) gradientBreakdown(v taxonomy.GradientValue) map[string]float64 {
	if len(v.Stops) == 0 {
		return nil
	}
	prims := c.origins.Primitives(taxonomy.DomainColor)
	acc := make(map[string]float64)
	for _, stop := range v.Stops {
		bd := colorBreakdown(stop, prims)
		for k, w := range bd {
			acc[k] += w / float64(len(v.Stops))
		}
	}
	return acc
}

// #endregion

// #region blend

// blendBreakdown flattens a multi-domain blend into domain-qualified keys.
// Nested per-domain maps are never returned: a flat consumer must be able to
// summarize the result into one scalar.
func (c *Calculator) blendBreakdown(v taxonomy.BlendValue) (map[string]float64, float64, error) {
	if len(v.Components) == 0 {
		return nil, 0, ErrEmptyBreakdown
	}
	out := make(map[string]float64)
	for cd, cv := range v.Components {
		sub, _, err := c.Score(cd, cv)
		if err != nil {
			return nil, 0, fmt.Errorf("blend component %s: %w", cd, err)
		}
		for k, w := range sub {
			out[string(cd)+"."+k] = w
		}
	}
	if len(out) == 0 {
		return nil, 0, ErrEmptyBreakdown
	}
	return out, dominant(out), nil
}

// #endregion

// #region helpers

// roundTo100 rounds contributions to whole percents and pins the sum to
// exactly 100 by adjusting the dominant entry.
func roundTo100(bd map[string]float64) {
	keys := make([]string, 0, len(bd))
	for k := range bd {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sum := 0.0
	largest := keys[0]
	for _, k := range keys {
		bd[k] = math.Round(bd[k])
		sum += bd[k]
		if bd[k] > bd[largest] {
			largest = k
		}
	}
	bd[largest] += 100 - sum
}

func dominant(bd map[string]float64) float64 {
	max := 0.0
	for _, w := range bd {
		if w > max {
			max = w
		}
	}
	return max
}

// #endregion
