package confidence

import (
	"errors"
	"math"
	"testing"

	"github.com/nao1215/phishguard/internal/model"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestThresholdRatio(t *testing.T) {
	t.Parallel()

	r := ThresholdRatio{}
	tests := []struct {
		name  string
		p, t  float64
		label model.Label
		want  float64
	}{
		{"phishing ratio", 0.6, 0.8, model.LabelPhishing, 0.75},
		{"phishing saturates", 0.9, 0.5, model.LabelPhishing, 1},
		{"benign ratio", 0.2, 0.6, model.LabelBenign, 1},
		{"benign partial", 0.7, 0.4, model.LabelBenign, 0.5},
		{"zero threshold guarded", 0.001, 0, model.LabelPhishing, 0.1},
		{"unit threshold guarded", 0.999, 1, model.LabelBenign, 0.1},
		{"unknown is zero", 0.5, 0.5, model.LabelUnknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := r.Confidence(tt.p, tt.t, tt.label); !near(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDistanceNormalized(t *testing.T) {
	t.Parallel()

	r := DistanceNormalized{}
	tests := []struct {
		name  string
		p, t  float64
		label model.Label
		want  float64
	}{
		{"at threshold", 0.5, 0.5, model.LabelPhishing, 0.5},
		{"far phishing", 1, 0.5, model.LabelPhishing, 1},
		{"far benign", 0, 0.5, model.LabelBenign, 1},
		{"skewed threshold", 0.1, 0.2, model.LabelBenign, 0.5 + 0.5*(0.1/0.8)},
		{"unknown is zero", 0.9, 0.5, model.LabelUnknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := r.Confidence(tt.p, tt.t, tt.label); !near(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRulesStayInRange(t *testing.T) {
	t.Parallel()

	rules := []Rule{ThresholdRatio{}, DistanceNormalized{}}
	for _, r := range rules {
		for p := 0.0; p <= 1.0; p += 0.05 {
			for th := 0.0; th <= 1.0; th += 0.1 {
				label := model.LabelFor(p, th)
				c := r.Confidence(p, th, label)
				if c < 0 || c > 1 || math.IsNaN(c) {
					t.Fatalf("%s: confidence %v out of range for p=%v t=%v", r.Name(), c, p, th)
				}
			}
		}
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]string{
		"ratio":               "threshold-ratio",
		"Threshold-Ratio":     "threshold-ratio",
		"distance":            "distance-normalized",
		"distance_normalized": "distance-normalized",
	} {
		r, err := Parse(name)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", name, err)
			continue
		}
		if r.Name() != want {
			t.Errorf("%q: expected %s, got %s", name, want, r.Name())
		}
	}

	if _, err := Parse("softmax"); !errors.Is(err, ErrUnknownRule) {
		t.Errorf("expected ErrUnknownRule, got %v", err)
	}
}

func TestEnsemble(t *testing.T) {
	t.Parallel()

	if got := Ensemble(0.3, model.LabelBenign); !near(got, 0.7) {
		t.Errorf("expected 0.7, got %v", got)
	}
	if got := Ensemble(0.5, model.LabelUnknown); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}
