// Package vector provides the fixed-layout preference/content vector primitives
// shared by the feature store, the preference aggregator and retrieval.
package vector

import (
	"math"
	"sort"
)

// Layout of every content and preference vector.
// The text segment comes first, followed by three category sub-ranges.
const (
	// TextDim is the width of the semantic text segment.
	TextDim = 384
	// CategoryDim is the width of the category segment.
	CategoryDim = 100
	// Dim is the total vector width.
	Dim = TextDim + CategoryDim

	// Level1Dim, Level2Dim and Level3Dim are the category hierarchy widths.
	Level1Dim = 40
	Level2Dim = 30
	Level3Dim = 30
)

// Epsilon is the norm below which a vector is treated as zero.
const Epsilon = 1e-8

// MaxInteractionCount is the interaction count at which the personal weight saturates.
const MaxInteractionCount = 1000

// MaxPersonalWeight caps the personal share so the global signal never disappears.
const MaxPersonalWeight = 0.9

// Segment weights applied when text and category signals are combined into
// one vector.
const (
	TextWeight     = 0.6
	CategoryWeight = 1.4
)

// Range is a half-open [Start, End) index range into a vector.
type Range struct {
	Start int
	End   int
}

// Len returns the width of the range.
func (r Range) Len() int { return r.End - r.Start }

// Segment ranges. These must match between writers and readers exactly.
var (
	TextRange     = Range{0, TextDim}
	CategoryRange = Range{TextDim, Dim}
	Level1Range   = Range{TextDim, TextDim + Level1Dim}
	Level2Range   = Range{TextDim + Level1Dim, TextDim + Level1Dim + Level2Dim}
	Level3Range   = Range{TextDim + Level1Dim + Level2Dim, Dim}
)

// LevelRange returns the category sub-range for hierarchy level 1..3.
// ok is false for any other level.
func LevelRange(level int) (Range, bool) {
	switch level {
	case 1:
		return Level1Range, true
	case 2:
		return Level2Range, true
	case 3:
		return Level3Range, true
	default:
		return Range{}, false
	}
}

// Zero returns a new zero vector of the full dimension.
func Zero() []float32 {
	return make([]float32, Dim)
}

// Norm returns the L2 norm of v, accumulated in float64.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		f := float64(x)
		sum += f * f
	}
	return math.Sqrt(sum)
}

// IsZero reports whether v has a norm at or below Epsilon.
func IsZero(v []float32) bool {
	return Norm(v) <= Epsilon
}

// Normalize returns v scaled to unit length. A vector whose norm is at or below
// Epsilon (including NaN input) yields a zero vector of the same length.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := Norm(v)
	if !(n > Epsilon) || math.IsInf(n, 0) {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// Scale returns a new vector with every element multiplied by w.
func Scale(v []float32, w float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * w)
	}
	return out
}

// AddInto adds src into dst element-wise. Extra elements in either slice are ignored.
func AddInto(dst, src []float32) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		dst[i] += src[i]
	}
}

// Blend combines a personal and a global vector with the given weights and
// re-normalizes the result. Each input is normalized before weighting, so an
// empty profile simply contributes nothing. Weights need not sum to 1.
func Blend(personal []float32, wPersonal float64, global []float32, wGlobal float64) []float32 {
	dim := len(personal)
	if len(global) > dim {
		dim = len(global)
	}
	if dim == 0 {
		dim = Dim
	}

	acc := make([]float32, dim)
	if len(personal) > 0 {
		AddInto(acc, Scale(Normalize(personal), wPersonal))
	}
	if len(global) > 0 {
		AddInto(acc, Scale(Normalize(global), wGlobal))
	}
	return Normalize(acc)
}

// PersonalWeight maps a user's interaction count to the weight given to their
// personal vector: log1p(n)/log1p(1000), capped at 0.9. Zero interactions give 0.
func PersonalWeight(interactions int) float64 {
	if interactions <= 0 {
		return 0
	}
	w := math.Log1p(float64(interactions)) / math.Log1p(MaxInteractionCount)
	return math.Min(w, MaxPersonalWeight)
}

// Cosine returns the cosine similarity of a and b. Mismatched lengths or a
// zero operand return 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := Norm(a), Norm(b)
	if na <= Epsilon || nb <= Epsilon {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}

// Slice returns a copy of v restricted to r. Out-of-range requests return nil.
func Slice(v []float32, r Range) []float32 {
	if r.Start < 0 || r.End > len(v) || r.Start > r.End {
		return nil
	}
	out := make([]float32, r.Len())
	copy(out, v[r.Start:r.End])
	return out
}

// TopIndices returns the indices of the k largest values of v in descending
// order of value. Equal values keep the lower index first.
func TopIndices(v []float32, k int) []int {
	if k <= 0 || len(v) == 0 {
		return nil
	}
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return v[idx[i]] > v[idx[j]]
	})
	if k > len(idx) {
		k = len(idx)
	}
	return idx[:k]
}

// Usable reports whether v can take part in similarity computations:
// it must have the full dimension, only finite entries, and a non-zero norm.
func Usable(v []float32) bool {
	if len(v) != Dim {
		return false
	}
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return !IsZero(v)
}
