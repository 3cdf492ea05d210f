// Package confidence maps a probability, its decision threshold and the
// resulting label to a confidence score in [0, 1].
package confidence

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/nao1215/phishguard/internal/model"
)

// ErrUnknownRule is returned by Parse for an unrecognized rule name.
var ErrUnknownRule = errors.New("unknown confidence rule")

// minDenominator keeps ratios finite for thresholds at 0 or 1.
const minDenominator = 0.01

// Rule computes a confidence score. Every rule returns 0 for LabelUnknown.
type Rule interface {
	Confidence(probability, threshold float64, label model.Label) float64
	Name() string
}

// ThresholdRatio scores how far past the threshold a probability is,
// relative to the threshold itself.
type ThresholdRatio struct{}

// Confidence implements Rule.
func (ThresholdRatio) Confidence(p, t float64, label model.Label) float64 {
	switch label {
	case model.LabelPhishing:
		return math.Min(1, p/math.Max(t, minDenominator))
	case model.LabelBenign:
		return math.Min(1, (1-p)/math.Max(1-t, minDenominator))
	default:
		return 0
	}
}

// Name implements Rule.
func (ThresholdRatio) Name() string { return "threshold-ratio" }

// DistanceNormalized scores the distance from the threshold, normalized by
// the largest distance possible on that side of it. The result is in
// [0.5, 1] for labeled results.
type DistanceNormalized struct{}

// Confidence implements Rule.
func (DistanceNormalized) Confidence(p, t float64, label model.Label) float64 {
	if label != model.LabelPhishing && label != model.LabelBenign {
		return 0
	}
	span := math.Max(t, 1-t)
	if span <= 0 {
		return 1
	}
	return 0.5 + 0.5*math.Min(1, math.Abs(p-t)/span)
}

// Name implements Rule.
func (DistanceNormalized) Name() string { return "distance-normalized" }

// Parse returns the rule named s.
func Parse(s string) (Rule, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ratio", "threshold-ratio", "threshold_ratio":
		return ThresholdRatio{}, nil
	case "distance", "distance-normalized", "distance_normalized":
		return DistanceNormalized{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRule, s)
	}
}

// Ensemble is the confidence of an ensemble verdict at a fixed 0.5
// threshold: max(p, 1-p), or 0 for LabelUnknown.
func Ensemble(p float64, label model.Label) float64 {
	if label == model.LabelUnknown {
		return 0
	}
	return math.Max(p, 1-p)
}
