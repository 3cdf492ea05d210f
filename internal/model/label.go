package model

// Label is the verdict attached to a probability.
type Label string

const (
	// LabelPhishing marks a probability at or above the decision threshold.
	LabelPhishing Label = "PHISHING"
	// LabelBenign marks a probability below the decision threshold.
	LabelBenign Label = "BENIGN"
	// LabelUnknown marks a modality that produced no usable probability.
	LabelUnknown Label = "UNKNOWN"
)

// UnknownProbability is reported alongside LabelUnknown.
const UnknownProbability = 0.5

// LabelFor applies a per-model decision threshold. A probability equal to
// the threshold counts as phishing.
func LabelFor(probability, threshold float64) Label {
	if probability >= threshold {
		return LabelPhishing
	}
	return LabelBenign
}

// Modality identifies one of the three independent classifiers.
type Modality string

const (
	// ModalityURL scores the URL string.
	ModalityURL Modality = "url"
	// ModalityHTML scores the raw HTML bytes.
	ModalityHTML Modality = "html"
	// ModalityDOM scores the DOM tree as a graph.
	ModalityDOM Modality = "dom"
)

// Modalities lists every modality in aggregation order.
func Modalities() []Modality {
	return []Modality{ModalityURL, ModalityHTML, ModalityDOM}
}

// ModelName returns the display name used in results and explanations.
func (m Modality) ModelName() string {
	switch m {
	case ModalityURL:
		return "URL Model (RNN)"
	case ModalityHTML:
		return "HTML Model (Transformer)"
	case ModalityDOM:
		return "DOM Model (GCN)"
	default:
		return string(m)
	}
}

// ShortName returns the name used in ensemble explanation lines.
func (m Modality) ShortName() string {
	switch m {
	case ModalityURL:
		return "URL Model"
	case ModalityHTML:
		return "HTML Model"
	case ModalityDOM:
		return "DOM Model"
	default:
		return string(m)
	}
}

// Ensemble model names.
const (
	EnsembleModelName     = "Ensemble (Combined)"
	FileEnsembleModelName = "Ensemble (HTML + DOM)"
)

// Outcome is the result of one modality: either Scored or Unavailable.
// Degradation is carried as a value so callers can never mistake a skipped
// stage for a real probability.
type Outcome interface {
	isOutcome()
}

// Scored is a modality that produced a probability.
type Scored struct {
	Probability float64
	Threshold   float64
	Label       Label
}

// Unavailable is a modality that could not produce a probability.
type Unavailable struct {
	// Reason is the human-readable explanation of the failure.
	Reason string
}

func (Scored) isOutcome()      {}
func (Unavailable) isOutcome() {}

// NewScored labels a probability against its model threshold.
func NewScored(probability, threshold float64) Scored {
	return Scored{
		Probability: probability,
		Threshold:   threshold,
		Label:       LabelFor(probability, threshold),
	}
}
