package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Errors returned when decoding a DOM record.
var (
	// ErrDOMNotObject is returned when the DOM payload is not a JSON object.
	ErrDOMNotObject = errors.New("dom must be an object")

	// ErrDOMMissingNodes is returned when the DOM payload has no nodes key.
	ErrDOMMissingNodes = errors.New("dom must contain a nodes list")

	// ErrDOMInvalidNode is returned for a node that is neither a tag string
	// nor an object.
	ErrDOMInvalidNode = errors.New("dom node must be a tag string or an object")
)

// DOMRecord is an ordered list of DOM nodes and the edges between them.
type DOMRecord struct {
	Nodes []DOMNode `json:"nodes"`
	Edges []DOMEdge `json:"edges,omitempty"`
	Label *int      `json:"label,omitempty"`
}

// DOMNode is one element of a DOM record with its attributes resolved to
// numeric features.
type DOMNode struct {
	// Tag is the lowercase element name.
	Tag string

	// Href is non-zero when the element carries a link target.
	Href float64

	// Src is non-zero when the element loads a resource.
	Src float64

	// IsInput is non-zero for form inputs.
	IsInput float64

	// IsPassword is non-zero for password inputs.
	IsPassword float64

	// TextLen is the length of the element's own text.
	TextLen float64
}

// DOMEdge connects two node indices.
type DOMEdge struct {
	U int
	V int
}

// ParseDOMRecord decodes and validates a DOM payload.
func ParseDOMRecord(raw []byte) (*DOMRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrDOMNotObject
	}
	var rec DOMRecord
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

type domRecordJSON struct {
	Nodes *[]json.RawMessage `json:"nodes"`
	Edges []json.RawMessage  `json:"edges"`
	Label json.RawMessage    `json:"label"`
}

// UnmarshalJSON validates the record shape. Edges that are neither a pair
// nor an object with endpoints are dropped.
func (r *DOMRecord) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrDOMNotObject
	}

	var raw domRecordJSON
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrDOMNotObject, err)
	}
	if raw.Nodes == nil {
		return ErrDOMMissingNodes
	}

	nodes := make([]DOMNode, 0, len(*raw.Nodes))
	for i, n := range *raw.Nodes {
		node, err := decodeNode(n)
		if err != nil {
			return fmt.Errorf("node %d: %w", i, err)
		}
		nodes = append(nodes, node)
	}

	edges := make([]DOMEdge, 0, len(raw.Edges))
	for _, e := range raw.Edges {
		if edge, ok := decodeEdge(e); ok {
			edges = append(edges, edge)
		}
	}

	r.Nodes = nodes
	r.Edges = edges
	r.Label = nil
	if len(raw.Label) > 0 {
		var v any
		if err := json.Unmarshal(raw.Label, &v); err == nil {
			if f, ok := toNumber(v); ok {
				label := int(f)
				r.Label = &label
			}
		}
	}
	return nil
}

type domNodeJSON struct {
	Tag   string         `json:"tag"`
	Attrs map[string]any `json:"attrs,omitempty"`
	// TextLen is kept as a raw value because producers send numbers or
	// numeric strings.
	TextLen any `json:"text_len,omitempty"`
}

func decodeNode(data json.RawMessage) (DOMNode, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return DOMNode{}, ErrDOMInvalidNode
	}

	switch trimmed[0] {
	case '"':
		var tag string
		if err := json.Unmarshal(trimmed, &tag); err != nil {
			return DOMNode{}, err
		}
		return resolveNode(tag, nil, nil), nil
	case '{':
		var n domNodeJSON
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return DOMNode{}, err
		}
		return resolveNode(n.Tag, n.Attrs, n.TextLen), nil
	default:
		return DOMNode{}, ErrDOMInvalidNode
	}
}

// resolveNode applies attribute precedence: for each feature the first
// non-zero source wins.
func resolveNode(tag string, attrs map[string]any, textLen any) DOMNode {
	tag = strings.ToLower(strings.TrimSpace(tag))
	node := DOMNode{Tag: tag}

	node.TextLen = firstNonZero(coerce(textLen), coerce(attrs["text_len"]))
	node.Href = firstNonZero(coerce(attrs["href"]), coerce(attrs["has_href"]))
	node.Src = firstNonZero(coerce(attrs["src"]), coerce(attrs["has_src"]))

	node.IsInput = coerce(attrs["is_input"])
	if node.IsInput == 0 && tag == "input" {
		node.IsInput = 1
	}

	node.IsPassword = coerce(attrs["is_pw"])
	if node.IsPassword == 0 {
		if typ, ok := attrs["type"].(string); ok {
			switch strings.ToLower(strings.TrimSpace(typ)) {
			case "password", "pwd":
				node.IsPassword = 1
			}
		}
	}
	return node
}

func firstNonZero(values ...float64) float64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

// coerce converts a loosely typed attribute value to a feature value.
// Booleans become 0 or 1, numbers and numeric strings keep their value,
// other non-empty values count as 1.
func coerce(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0
		}
		return x
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
		return 1
	case map[string]any:
		if len(x) == 0 {
			return 0
		}
		return 1
	case []any:
		if len(x) == 0 {
			return 0
		}
		return 1
	default:
		return 0
	}
}

func decodeEdge(data json.RawMessage) (DOMEdge, bool) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return DOMEdge{}, false
	}

	switch x := v.(type) {
	case []any:
		if len(x) < 2 {
			return DOMEdge{}, false
		}
		u, okU := toNumber(x[0])
		w, okV := toNumber(x[1])
		if !okU || !okV {
			return DOMEdge{}, false
		}
		return DOMEdge{U: int(u), V: int(w)}, true
	case map[string]any:
		u, okU := endpoint(x, "src", "u")
		w, okV := endpoint(x, "dst", "v")
		if !okU || !okV {
			return DOMEdge{}, false
		}
		return DOMEdge{U: u, V: w}, true
	default:
		return DOMEdge{}, false
	}
}

func endpoint(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			f, ok := toNumber(v)
			if !ok {
				return 0, false
			}
			return int(f), true
		}
	}
	return 0, false
}

func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// MarshalJSON writes the node in object form with resolved attributes.
func (n DOMNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(domNodeJSON{
		Tag: n.Tag,
		Attrs: map[string]any{
			"has_href": n.Href,
			"has_src":  n.Src,
			"is_input": n.IsInput,
			"is_pw":    n.IsPassword,
		},
		TextLen: n.TextLen,
	})
}

// UnmarshalJSON accepts the tag-string and object node forms.
func (n *DOMNode) UnmarshalJSON(data []byte) error {
	node, err := decodeNode(data)
	if err != nil {
		return err
	}
	*n = node
	return nil
}

// MarshalJSON writes the edge as a [u, v] pair.
func (e DOMEdge) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{e.U, e.V})
}

// UnmarshalJSON accepts the pair and object edge forms.
func (e *DOMEdge) UnmarshalJSON(data []byte) error {
	edge, ok := decodeEdge(data)
	if !ok {
		return fmt.Errorf("invalid dom edge: %s", bytes.TrimSpace(data))
	}
	*e = edge
	return nil
}
