// Package urlcodec normalizes URLs and encodes them into fixed-length
// character index sequences for the URL model.
package urlcodec

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
)

const (
	// PadIndex fills the sequence after the last character.
	PadIndex int32 = 0
	// UnkIndex replaces characters outside the vocabulary.
	UnkIndex int32 = 1
	// DefaultMaxLen is the sequence length the URL model was trained on.
	DefaultMaxLen = 256
)

// ErrEmptyVocab is returned when a vocabulary file lists no symbols.
var ErrEmptyVocab = errors.New("vocabulary is empty")

// Normalize keeps only the scheme, user info and host of raw and appends a
// single trailing slash. When raw has no scheme or host it is returned
// unchanged, so Normalize never fails and Normalize(Normalize(u)) equals
// Normalize(u).
func Normalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	netloc := u.Host
	if u.User != nil {
		netloc = u.User.String() + "@" + u.Host
	}
	return u.Scheme + "://" + netloc + "/"
}

// Vocab maps characters to model indices. It is immutable after
// construction and safe for concurrent use.
type Vocab struct {
	itos []string
	stoi map[rune]int32
}

// NewVocab builds a vocabulary from an index-to-symbol list. Entry 0 is the
// pad symbol and entry 1 the unknown symbol. Multi-rune entries cannot match
// a single character and are kept only to preserve indices.
func NewVocab(itos []string) *Vocab {
	v := &Vocab{
		itos: append([]string(nil), itos...),
		stoi: make(map[rune]int32, len(itos)),
	}
	for i, s := range itos {
		r := []rune(s)
		if len(r) != 1 {
			continue
		}
		if _, dup := v.stoi[r[0]]; !dup {
			v.stoi[r[0]] = int32(i)
		}
	}
	return v
}

// LoadVocab reads a vocabulary from a JSON file of the form
// {"itos": ["<pad>", "<unk>", "a", ...]}.
func LoadVocab(path string) (*Vocab, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read URL vocabulary: %w", err)
	}
	var file struct {
		ITOS []string `json:"itos"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse URL vocabulary: %w", err)
	}
	if len(file.ITOS) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyVocab)
	}
	return NewVocab(file.ITOS), nil
}

// Size returns the number of symbols including pad and unknown.
func (v *Vocab) Size() int {
	return len(v.itos)
}

// Index returns the index of r, or UnkIndex.
func (v *Vocab) Index(r rune) int32 {
	if i, ok := v.stoi[r]; ok {
		return i
	}
	return UnkIndex
}

// Encode converts raw into exactly maxLen indices. Characters beyond maxLen
// are dropped and short inputs are padded with PadIndex. A non-positive
// maxLen uses DefaultMaxLen.
func (v *Vocab) Encode(raw string, maxLen int, normalize bool) []int32 {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if normalize {
		raw = Normalize(raw)
	}

	ids := make([]int32, maxLen)
	i := 0
	for _, r := range raw {
		if i >= maxLen {
			break
		}
		ids[i] = v.Index(r)
		i++
	}
	return ids
}
