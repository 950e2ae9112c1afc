// Package scoring aggregates reviewer scores for parallel response approvals.
//
// Each reviewer's raw influence (stage weightage) is turned into a weight by
// finding an exponent x such that the sum of a_i^x is close to TargetSum, then
// normalising a_i^x by that sum. Larger influences always get larger weights
// and the weights sum to one.
package scoring

import (
	"math"
)

const (
	TargetSum   = 10.0
	MinExponent = 0.01
	MaxExponent = 5.0

	// PointsPerWeight converts a question's scoring_weight to its maximum score.
	PointsPerWeight = 10.0
	// FallbackFraction of the maximum is used for questions nobody scored.
	FallbackFraction = 0.5

	bisectIterations = 100
	bisectTolerance  = 1e-9
)

// Exponent finds x in [MinExponent, MaxExponent] with sum(raw_i^x) close to
// TargetSum. When the target lies outside the range reachable on that
// interval, the nearest bound is returned. ok is false for empty input or
// any non-positive or non-finite influence.
func Exponent(raw []float64) (x float64, ok bool) {
	if len(raw) == 0 {
		return 0, false
	}
	for _, a := range raw {
		if a <= 0 || math.IsNaN(a) || math.IsInf(a, 0) {
			return 0, false
		}
	}

	sum := func(x float64) float64 {
		total := 0.0
		for _, a := range raw {
			total += math.Pow(a, x)
		}
		return total
	}

	lo, hi := MinExponent, MaxExponent
	fLo, fHi := sum(lo), sum(hi)
	increasing := fHi >= fLo
	low, high := fLo, fHi
	if !increasing {
		low, high = fHi, fLo
	}
	switch {
	case TargetSum <= low:
		if increasing {
			return lo, true
		}
		return hi, true
	case TargetSum >= high:
		if increasing {
			return hi, true
		}
		return lo, true
	}

	for i := 0; i < bisectIterations && hi-lo > bisectTolerance; i++ {
		mid := (lo + hi) / 2
		above := sum(mid) > TargetSum
		if above == increasing {
			hi = mid
		} else {
			lo = mid
		}
	}
	return (lo + hi) / 2, true
}

// ExponentWeights turns raw influences into weights summing to one. Any
// invalid input, or a numerical failure, yields equal weights.
func ExponentWeights(raw []float64) []float64 {
	n := len(raw)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []float64{1}
	}
	x, ok := Exponent(raw)
	if !ok {
		return EqualWeights(n)
	}

	powered := make([]float64, n)
	total := 0.0
	for i, a := range raw {
		powered[i] = math.Pow(a, x)
		total += powered[i]
	}
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return EqualWeights(n)
	}
	for i := range powered {
		powered[i] /= total
	}
	return powered
}

func EqualWeights(n int) []float64 {
	if n <= 0 {
		return nil
	}
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

// Contribution is one reviewer's score for a question. Weightage is the
// reviewer stage's raw influence; nil means unweighted.
type Contribution struct {
	Score     float64
	Weightage *int
}

// WeightedScore combines contributions into one score. If any contributor has
// no weightage, every contributor is weighted equally.
func WeightedScore(contribs []Contribution) (score float64, weights []float64) {
	if len(contribs) == 0 {
		return 0, nil
	}
	raw := make([]float64, len(contribs))
	equal := false
	for i, c := range contribs {
		if c.Weightage == nil {
			equal = true
			break
		}
		raw[i] = float64(*c.Weightage)
	}
	if equal {
		weights = EqualWeights(len(contribs))
	} else {
		weights = ExponentWeights(raw)
	}
	for i, c := range contribs {
		score += weights[i] * c.Score
	}
	return score, weights
}

// MaxScore is the highest score a question with scoringWeight can get.
func MaxScore(scoringWeight float64) float64 {
	return scoringWeight * PointsPerWeight
}

// FallbackScore is the score assumed for a question nobody scored.
func FallbackScore(scoringWeight float64) float64 {
	return MaxScore(scoringWeight) * FallbackFraction
}

// Percentage expresses score against the question's maximum, clamped to
// [0, 100].
func Percentage(score, scoringWeight float64) float64 {
	max := MaxScore(scoringWeight)
	if max <= 0 {
		return 0
	}
	return clamp(score/max*100, 0, 100)
}

// Average is the arithmetic mean of scores; ok is false when there are none.
func Average(scores []float64) (avg float64, ok bool) {
	if len(scores) == 0 {
		return 0, false
	}
	total := 0.0
	for _, s := range scores {
		total += s
	}
	return total / float64(len(scores)), true
}

// QuestionResult is the aggregated score for one question.
type QuestionResult struct {
	Score         float64
	ScoringWeight float64
}

// Overall is the percentage of achievable points obtained across questions,
// so heavier questions count proportionally more.
func Overall(results []QuestionResult) float64 {
	actual, max := 0.0, 0.0
	for _, r := range results {
		actual += r.Score
		max += MaxScore(r.ScoringWeight)
	}
	if max <= 0 {
		return 0
	}
	return clamp(actual/max*100, 0, 100)
}

// Round2 rounds to two decimals for presentation and persistence.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
