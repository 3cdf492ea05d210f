// Package domgraph converts DOM records into node-feature matrices and
// symmetric, degree-normalized sparse adjacency for the DOM model.
package domgraph

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/nao1215/phishguard/internal/model"
)

const (
	// ExtraFeatures is the number of features appended after the tag
	// one-hot: degree, href, src, input, password and text length.
	ExtraFeatures = 6
	// DefaultMaxNodes bounds the nodes kept per graph.
	DefaultMaxNodes = 2048
	// DefaultTagTopK is the tag vocabulary size the DOM model expects.
	DefaultTagTopK = 64
	// maxDegree caps the degree before the log transform.
	maxDegree = 50
)

// ErrEmptyTagVocab is returned when a tag vocabulary file lists no tags.
var ErrEmptyTagVocab = errors.New("tag vocabulary is empty")

// TagVocab maps lowercase tag names to one-hot columns.
type TagVocab struct {
	tags  []string
	index map[string]int
}

// NewTagVocab builds a vocabulary from the tag list; its size is the length
// of the list.
func NewTagVocab(tags []string) *TagVocab {
	v := &TagVocab{
		tags:  make([]string, len(tags)),
		index: make(map[string]int, len(tags)),
	}
	for i, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		v.tags[i] = t
		if _, dup := v.index[t]; !dup {
			v.index[t] = i
		}
	}
	return v
}

// LoadTagVocab reads a vocabulary from a JSON file of the form
// {"tags": ["div", "a", ...]}.
func LoadTagVocab(path string) (*TagVocab, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read tag vocabulary: %w", err)
	}
	var file struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tag vocabulary: %w", err)
	}
	if len(file.Tags) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyTagVocab)
	}
	return NewTagVocab(file.Tags), nil
}

// Size returns the number of one-hot columns.
func (v *TagVocab) Size() int {
	return len(v.tags)
}

// Index returns the column of tag and whether the tag is known.
func (v *TagVocab) Index(tag string) (int, bool) {
	i, ok := v.index[strings.ToLower(tag)]
	return i, ok
}

// Graph is the model input derived from a DOM record.
type Graph struct {
	// NumNodes is the number of kept nodes.
	NumNodes int `json:"num_nodes"`

	// FeatureDim is the tag vocabulary size plus ExtraFeatures.
	FeatureDim int `json:"feature_dim"`

	// Features holds one row of FeatureDim values per node.
	Features [][]float32 `json:"x"`

	// Rows and Cols are the coalesced adjacency coordinates, sorted by
	// (row, col).
	Rows []int `json:"row"`
	Cols []int `json:"col"`

	// Values are the summed edge multiplicities.
	Values []float32 `json:"-"`

	// Weights are the normalized values D^-1/2 A D^-1/2.
	Weights []float32 `json:"weight"`

	// Degree is the row sum of Values per node.
	Degree []float32 `json:"-"`
}

// NumEdges returns the number of stored adjacency entries.
func (g *Graph) NumEdges() int {
	return len(g.Rows)
}

// Weight returns the normalized weight at (i, j), or 0.
func (g *Graph) Weight(i, j int) float32 {
	k, ok := g.find(i, j)
	if !ok {
		return 0
	}
	return g.Weights[k]
}

// Value returns the raw summed value at (i, j), or 0.
func (g *Graph) Value(i, j int) float32 {
	k, ok := g.find(i, j)
	if !ok {
		return 0
	}
	return g.Values[k]
}

func (g *Graph) find(i, j int) (int, bool) {
	k := sort.Search(len(g.Rows), func(k int) bool {
		if g.Rows[k] != i {
			return g.Rows[k] > i
		}
		return g.Cols[k] >= j
	})
	if k < len(g.Rows) && g.Rows[k] == i && g.Cols[k] == j {
		return k, true
	}
	return 0, false
}

type entry struct {
	row, col int
}

// Build converts rec into a graph. It never fails: a record without nodes
// becomes a single featureless node with a self-loop, nodes beyond maxNodes
// are dropped together with their edges, and out-of-range edges are
// ignored. A non-positive maxNodes uses DefaultMaxNodes.
func Build(rec *model.DOMRecord, vocab *TagVocab, maxNodes int) *Graph {
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	tagDim := vocab.Size()
	dim := tagDim + ExtraFeatures

	var nodes []model.DOMNode
	var edges []model.DOMEdge
	if rec != nil {
		nodes, edges = rec.Nodes, rec.Edges
	}

	if len(nodes) == 0 {
		return &Graph{
			NumNodes:   1,
			FeatureDim: dim,
			Features:   [][]float32{make([]float32, dim)},
			Rows:       []int{0},
			Cols:       []int{0},
			Values:     []float32{1},
			Weights:    []float32{1},
			Degree:     []float32{1},
		}
	}

	total := len(nodes)
	keep := min(total, maxNodes)

	features := make([][]float32, keep)
	for i := range keep {
		features[i] = nodeFeatures(nodes[i], vocab, dim)
	}

	counts := make(map[entry]float32, 2*len(edges)+keep)
	for _, e := range edges {
		if e.U < 0 || e.V < 0 || e.U >= total || e.V >= total {
			continue
		}
		if e.U >= keep || e.V >= keep {
			continue
		}
		counts[entry{e.U, e.V}]++
		counts[entry{e.V, e.U}]++
	}
	for i := range keep {
		counts[entry{i, i}]++
	}

	keys := make([]entry, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b entry) int {
		if c := cmp.Compare(a.row, b.row); c != 0 {
			return c
		}
		return cmp.Compare(a.col, b.col)
	})

	g := &Graph{
		NumNodes:   keep,
		FeatureDim: dim,
		Features:   features,
		Rows:       make([]int, len(keys)),
		Cols:       make([]int, len(keys)),
		Values:     make([]float32, len(keys)),
		Weights:    make([]float32, len(keys)),
		Degree:     make([]float32, keep),
	}
	for k, key := range keys {
		v := counts[key]
		g.Rows[k] = key.row
		g.Cols[k] = key.col
		g.Values[k] = v
		g.Degree[key.row] += v
	}
	for k := range keys {
		di := float64(g.Degree[g.Rows[k]])
		dj := float64(g.Degree[g.Cols[k]])
		g.Weights[k] = float32(float64(g.Values[k]) / math.Sqrt(di*dj))
	}
	for i := range keep {
		g.Features[i][tagDim] = float32(math.Log1p(math.Min(float64(g.Degree[i]), maxDegree)))
	}
	return g
}

// nodeFeatures builds the one-hot tag region followed by the extras. The
// degree slot is filled once the adjacency is known.
func nodeFeatures(n model.DOMNode, vocab *TagVocab, dim int) []float32 {
	x := make([]float32, dim)
	if i, ok := vocab.Index(n.Tag); ok {
		x[i] = 1
	}
	base := vocab.Size()
	x[base+1] = float32(n.Href)
	x[base+2] = float32(n.Src)
	x[base+3] = float32(n.IsInput)
	x[base+4] = float32(n.IsPassword)
	x[base+5] = float32(math.Log1p(math.Max(0, n.TextLen)))
	return x
}
