package domgraph

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nao1215/phishguard/internal/model"
)

func testVocab() *TagVocab {
	return NewTagVocab([]string{"html", "head", "body", "div", "a", "form", "input"})
}

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestBuildEmptyRecord(t *testing.T) {
	t.Parallel()

	for _, rec := range []*model.DOMRecord{nil, {}} {
		g := Build(rec, testVocab(), 0)
		if g.NumNodes != 1 {
			t.Fatalf("expected 1 node, got %d", g.NumNodes)
		}
		if g.FeatureDim != 7+ExtraFeatures {
			t.Errorf("expected %d columns, got %d", 7+ExtraFeatures, g.FeatureDim)
		}
		for _, v := range g.Features[0] {
			if v != 0 {
				t.Fatalf("expected all-zero features, got %v", g.Features[0])
			}
		}
		if g.NumEdges() != 1 || g.Value(0, 0) != 1 || g.Weight(0, 0) != 1 {
			t.Errorf("expected a single self-loop, got rows=%v cols=%v", g.Rows, g.Cols)
		}
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	rec := &model.DOMRecord{
		Nodes: []model.DOMNode{
			{Tag: "html"},
			{Tag: "body"},
			{Tag: "form"},
			{Tag: "input", IsInput: 1, IsPassword: 1},
			{Tag: "marquee", Href: 1, TextLen: 9},
		},
		Edges: []model.DOMEdge{
			{U: 0, V: 1}, {U: 1, V: 2}, {U: 2, V: 3}, {U: 1, V: 4},
			{U: 0, V: 1},  // duplicate
			{U: 7, V: 1},  // out of range
			{U: -1, V: 0}, // negative
		},
	}
	g := Build(rec, testVocab(), 0)

	t.Run("shape", func(t *testing.T) {
		t.Parallel()

		if g.NumNodes != 5 || len(g.Features) != 5 {
			t.Fatalf("expected 5 nodes, got %d", g.NumNodes)
		}
		for i, row := range g.Features {
			if len(row) != g.FeatureDim {
				t.Errorf("row %d: expected %d columns, got %d", i, g.FeatureDim, len(row))
			}
		}
	})

	t.Run("adjacency is symmetric with self-loops", func(t *testing.T) {
		t.Parallel()

		for k := range g.Rows {
			i, j := g.Rows[k], g.Cols[k]
			if !approx(g.Weight(i, j), g.Weight(j, i)) {
				t.Errorf("weight (%d,%d)=%v differs from (%d,%d)=%v", i, j, g.Weight(i, j), j, i, g.Weight(j, i))
			}
		}
		for i := range g.NumNodes {
			if g.Value(i, i) < 1 {
				t.Errorf("node %d has no self-loop", i)
			}
			if g.Degree[i] < 1 {
				t.Errorf("node %d degree %v below 1", i, g.Degree[i])
			}
		}
	})

	t.Run("duplicate edges are summed", func(t *testing.T) {
		t.Parallel()

		if g.Value(0, 1) != 2 || g.Value(1, 0) != 2 {
			t.Errorf("expected summed value 2, got %v and %v", g.Value(0, 1), g.Value(1, 0))
		}
		if g.Value(1, 7) != 0 {
			t.Error("out-of-range edge should be ignored")
		}
	})

	t.Run("normalized weights", func(t *testing.T) {
		t.Parallel()

		// node 0: self 1 + two copies of 0-1 = 3
		// node 1: self 1 + 2 (to 0) + 1 (to 2) + 1 (to 4) = 5
		if !approx(g.Degree[0], 3) || !approx(g.Degree[1], 5) {
			t.Fatalf("unexpected degrees %v", g.Degree)
		}
		want := float32(2 / math.Sqrt(15))
		if !approx(g.Weight(0, 1), want) {
			t.Errorf("expected weight %v, got %v", want, g.Weight(0, 1))
		}
	})

	t.Run("features", func(t *testing.T) {
		t.Parallel()

		base := testVocab().Size()
		input := g.Features[3]
		if input[6] != 1 {
			t.Errorf("expected input one-hot, got %v", input[:base])
		}
		if input[base+3] != 1 || input[base+4] != 1 {
			t.Errorf("expected input and password flags, got %v", input[base:])
		}
		// degree of node 3: self + edge to 2
		if !approx(input[base], float32(math.Log1p(2))) {
			t.Errorf("expected log degree, got %v", input[base])
		}

		unknown := g.Features[4]
		for i := range base {
			if unknown[i] != 0 {
				t.Fatalf("unknown tag should have zero one-hot, got %v", unknown[:base])
			}
		}
		if unknown[base+1] != 1 {
			t.Errorf("expected href flag, got %v", unknown[base+1])
		}
		if !approx(unknown[base+5], float32(math.Log1p(9))) {
			t.Errorf("expected log text length, got %v", unknown[base+5])
		}
	})
}

func TestBuildTruncatesNodes(t *testing.T) {
	t.Parallel()

	rec := &model.DOMRecord{
		Nodes: []model.DOMNode{{Tag: "div"}, {Tag: "div"}, {Tag: "div"}, {Tag: "div"}},
		Edges: []model.DOMEdge{{U: 0, V: 1}, {U: 1, V: 3}, {U: 2, V: 3}},
	}
	g := Build(rec, testVocab(), 2)
	if g.NumNodes != 2 {
		t.Fatalf("expected 2 nodes, got %d", g.NumNodes)
	}
	for k := range g.Rows {
		if g.Rows[k] >= 2 || g.Cols[k] >= 2 {
			t.Errorf("edge (%d,%d) references a dropped node", g.Rows[k], g.Cols[k])
		}
	}
	if g.NumEdges() != 4 {
		t.Errorf("expected 2 self-loops and one edge pair, got %d entries", g.NumEdges())
	}
}

func TestDegreeIsCapped(t *testing.T) {
	t.Parallel()

	rec := &model.DOMRecord{Nodes: make([]model.DOMNode, 80)}
	for i := 1; i < 80; i++ {
		rec.Edges = append(rec.Edges, model.DOMEdge{U: 0, V: i})
	}
	g := Build(rec, testVocab(), 0)
	if got := g.Features[0][testVocab().Size()]; !approx(got, float32(math.Log1p(50))) {
		t.Errorf("expected capped log degree, got %v", got)
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()

	doc := `<html><head><title>Sign in</title></head><body>
		<form action="/login"><input type="text" name="user"><input type="password" name="pw"></form>
		<a href="https://example.com">home</a><img src="logo.png">
	</body></html>`
	rec, err := Extract(strings.NewReader(doc), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tags := make([]string, len(rec.Nodes))
	for i, n := range rec.Nodes {
		tags[i] = n.Tag
	}
	want := []string{"html", "head", "title", "body", "form", "input", "input", "a", "img"}
	if strings.Join(tags, ",") != strings.Join(want, ",") {
		t.Fatalf("expected tags %v, got %v", want, tags)
	}
	if len(rec.Edges) != len(rec.Nodes)-1 {
		t.Errorf("expected a tree with %d edges, got %d", len(rec.Nodes)-1, len(rec.Edges))
	}
	if rec.Nodes[6].IsPassword != 1 || rec.Nodes[6].IsInput != 1 {
		t.Errorf("expected password input, got %+v", rec.Nodes[6])
	}
	if rec.Nodes[7].Href != 1 || rec.Nodes[7].TextLen != 4 {
		t.Errorf("expected anchor with href and text, got %+v", rec.Nodes[7])
	}
	if rec.Nodes[8].Src != 1 {
		t.Errorf("expected img with src, got %+v", rec.Nodes[8])
	}

	limited, err := Extract(strings.NewReader(doc), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limited.Nodes) != 3 {
		t.Errorf("expected 3 nodes, got %d", len(limited.Nodes))
	}
}

func TestLoadTagVocab(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tags.json")
	if err := os.WriteFile(path, []byte(`{"tags": ["DIV", "a"]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	v, err := LoadTagVocab(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if i, ok := v.Index("div"); !ok || i != 0 {
		t.Errorf("expected div at 0, got %d %v", i, ok)
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte(`{"tags": []}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTagVocab(empty); !errors.Is(err, ErrEmptyTagVocab) {
		t.Errorf("expected ErrEmptyTagVocab, got %v", err)
	}
}
