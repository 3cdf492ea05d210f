// Package scorer defines the interface to the phishing models and an HTTP
// client for model sidecar processes.
//
// A Scorer only turns prepared features into probabilities. Decision
// thresholds, labels and confidence are applied by the caller.
package scorer

import (
	"context"
	"errors"
	"math"

	"github.com/nao1215/phishguard/internal/domgraph"
	"github.com/nao1215/phishguard/internal/htmlcodec"
	"github.com/nao1215/phishguard/internal/model"
)

// ErrInvalidResponse is returned when a model returns no probabilities or
// a value outside [0, 1].
var ErrInvalidResponse = errors.New("invalid model response")

// Input is the prepared features of one request.
type Input struct {
	Modality model.Modality `json:"modality"`

	// IDs holds one row per sample: a single URL sequence, or one row per
	// HTML window.
	IDs [][]int32 `json:"ids,omitempty"`

	// AttentionMask accompanies IDs for HTML windows.
	AttentionMask [][]int8 `json:"attention_mask,omitempty"`

	// Graph is set for the DOM modality.
	Graph *domgraph.Graph `json:"graph,omitempty"`
}

// Rows returns the number of probabilities a model should return for in.
func (in *Input) Rows() int {
	if in.Graph != nil {
		return 1
	}
	return len(in.IDs)
}

// URLInput wraps an encoded URL sequence.
func URLInput(ids []int32) *Input {
	return &Input{Modality: model.ModalityURL, IDs: [][]int32{ids}}
}

// HTMLInput wraps a batch of encoded HTML windows.
func HTMLInput(b *htmlcodec.Batch) *Input {
	return &Input{Modality: model.ModalityHTML, IDs: b.IDs, AttentionMask: b.AttentionMask}
}

// DOMInput wraps a DOM graph.
func DOMInput(g *domgraph.Graph) *Input {
	return &Input{Modality: model.ModalityDOM, Graph: g}
}

// Scorer returns one phishing probability per input row.
type Scorer interface {
	Score(ctx context.Context, in *Input) ([]float64, error)
}

// Func adapts an ordinary function to the Scorer interface.
type Func func(ctx context.Context, in *Input) ([]float64, error)

// Score implements Scorer.
func (f Func) Score(ctx context.Context, in *Input) ([]float64, error) {
	return f(ctx, in)
}

// Constant returns a Scorer that reports p for every row.
func Constant(p float64) Scorer {
	return Func(func(_ context.Context, in *Input) ([]float64, error) {
		out := make([]float64, max(1, in.Rows()))
		for i := range out {
			out[i] = p
		}
		return out, nil
	})
}

// Validate checks that probs is a usable model response.
func Validate(probs []float64) error {
	if len(probs) == 0 {
		return ErrInvalidResponse
	}
	for _, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return ErrInvalidResponse
		}
	}
	return nil
}

// Mean averages probabilities; an empty slice yields 0.
func Mean(probs []float64) float64 {
	return htmlcodec.MeanProbability(probs)
}
