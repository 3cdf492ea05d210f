// Package ensemble combines per-modality outcomes into a single verdict.
package ensemble

import (
	"fmt"

	"github.com/nao1215/phishguard/internal/confidence"
	"github.com/nao1215/phishguard/internal/model"
)

// DecisionThreshold separates phishing from benign ensemble scores.
// A score equal to it is benign.
const DecisionThreshold = 0.5

// Vote is one modality's contribution to the ensemble.
type Vote struct {
	Modality model.Modality
	Outcome  model.Outcome
}

// Aggregate combines votes into the ensemble result. See AggregateNamed.
func Aggregate(votes []Vote) model.AnalysisResult {
	return AggregateNamed(votes, model.EnsembleModelName)
}

// AggregateNamed averages the probabilities of every Scored vote with equal
// weight. When no vote is Scored the result is UNKNOWN at 0.5. Full
// analyses always carry a Scored URL vote, so a URL-only verdict is simply
// the mean of one. Explanations hold one line per vote followed by a
// summary line.
func AggregateNamed(votes []Vote, name string) model.AnalysisResult {
	var (
		sum   float64
		valid int
	)
	lines := make([]string, 0, len(votes)+1)
	for _, v := range votes {
		if s, ok := v.Outcome.(model.Scored); ok {
			sum += s.Probability
			valid++
			lines = append(lines, fmt.Sprintf("%s: %s (%s)", v.Modality.ShortName(), s.Label, percent(s.Probability)))
			continue
		}
		lines = append(lines, v.Modality.ShortName()+": Unable to analyze")
	}

	if valid == 0 {
		lines = append(lines, fmt.Sprintf("Ensemble Score: %s (Average of 0 model(s))", percent(model.UnknownProbability)))
		return model.AnalysisResult{
			Probability:  model.UnknownProbability,
			Label:        model.LabelUnknown,
			Confidence:   0,
			Explanations: lines,
			ModelName:    name,
		}
	}
	p := sum / float64(valid)

	label := model.LabelBenign
	if p > DecisionThreshold {
		label = model.LabelPhishing
	}
	lines = append(lines, fmt.Sprintf("Ensemble Score: %s (Average of %d model(s))", percent(p), valid))

	return model.AnalysisResult{
		Probability:  p,
		Label:        label,
		Confidence:   confidence.Ensemble(p, label),
		Explanations: lines,
		ModelName:    name,
	}
}

func percent(p float64) string {
	return fmt.Sprintf("%.2f%%", p*100)
}
