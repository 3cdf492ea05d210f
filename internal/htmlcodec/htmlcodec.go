// Package htmlcodec splits HTML documents into byte-level token windows for
// the HTML model.
//
// Every byte is its own token (0-255). Three marker tokens follow the byte
// range: PAD, CLS and SEP. A window of the document is encoded as
// [CLS] + bytes + [SEP] and right-padded with PAD to MaxLen tokens.
package htmlcodec

import (
	"math"
	"math/rand/v2"
)

// Marker token ids.
const (
	PadID int32 = 256
	CLSID int32 = 257
	SEPID int32 = 258
)

const (
	// DefaultMaxLen is the number of tokens per window including markers.
	DefaultMaxLen = 2048
	// DefaultMaxWindows bounds the windows scored per document.
	DefaultMaxWindows = 4
)

// Window is a half-open byte range [Start, End) of a document.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes in the window.
func (w Window) Len() int {
	return w.End - w.Start
}

// Batch is a set of encoded windows ready for scoring.
type Batch struct {
	IDs           [][]int32
	AttentionMask [][]int8
	Windows       []Window
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	return len(b.IDs)
}

// Codec encodes documents into windows. The zero value is not usable; use
// New.
type Codec struct {
	maxLen     int
	stride     int
	maxWindows int
	rng        *rand.Rand
}

// Option configures a Codec.
type Option func(*Codec)

// WithMaxLen sets the tokens per window. Values below 3 are ignored because a
// window must hold both markers and at least one byte.
func WithMaxLen(n int) Option {
	return func(c *Codec) {
		if n >= 3 {
			c.maxLen = n
		}
	}
}

// WithStride sets the distance between window starts. Non-positive values
// keep the default of half the window span.
func WithStride(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.stride = n
		}
	}
}

// WithMaxWindows bounds the windows per document. Non-positive values are
// ignored.
func WithMaxWindows(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxWindows = n
		}
	}
}

// WithSeed makes random crops of EncodeSingle deterministic.
func WithSeed(seed uint64) Option {
	return func(c *Codec) {
		c.rng = rand.New(rand.NewPCG(seed, seed)) //nolint:gosec // crop position is not security sensitive
	}
}

// New creates a Codec with DefaultMaxLen, DefaultMaxWindows and a stride of
// half the window span unless overridden.
func New(opts ...Option) *Codec {
	c := &Codec{
		maxLen:     DefaultMaxLen,
		maxWindows: DefaultMaxWindows,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.stride <= 0 {
		c.stride = max(1, c.span()/2)
	}
	return c
}

// span is the number of document bytes a window holds once CLS and SEP take
// their slots.
func (c *Codec) span() int { return c.maxLen - 2 }

// MaxLen returns the tokens per window.
func (c *Codec) MaxLen() int { return c.maxLen }

// MaxWindows returns the window bound.
func (c *Codec) MaxWindows() int { return c.maxWindows }

// Windows returns the windows the codec would encode for a document of the
// given length. Each window spans at most MaxLen-2 bytes so that every byte
// of it survives Tokenize.
func (c *Codec) Windows(length int) []Window {
	return MakeWindows(length, c.span(), c.stride, c.maxWindows)
}

// MakeWindows computes the byte windows of a document, each at most size
// bytes wide.
//
// A document that fits in one window yields [0, length). Longer documents
// get windows starting at multiples of stride, plus a final window ending at
// length when the stride grid does not reach the end. When more than
// maxWindows windows result, maxWindows of them are kept at evenly spaced
// indices, always including the first and the last.
func MakeWindows(length, size, stride, maxWindows int) []Window {
	if length < 0 {
		length = 0
	}
	if size <= 0 {
		size = DefaultMaxLen - 2
	}
	if length <= size {
		return []Window{{Start: 0, End: length}}
	}
	if stride <= 0 {
		stride = max(1, size/2)
	}
	if maxWindows <= 0 {
		maxWindows = DefaultMaxWindows
	}

	limit := max(1, length-size+1)
	starts := make([]int, 0, limit/stride+2)
	for s := 0; s < limit; s += stride {
		starts = append(starts, s)
	}
	if last := starts[len(starts)-1]; last+size < length {
		starts = append(starts, length-size)
	}

	if len(starts) > maxWindows {
		starts = spread(starts, maxWindows)
	}

	windows := make([]Window, len(starts))
	for i, s := range starts {
		windows[i] = Window{Start: s, End: min(s+size, length)}
	}
	return windows
}

// spread picks k elements of xs at rounded, evenly spaced indices. Halves
// round to even so the selection is stable across platforms.
func spread(xs []int, k int) []int {
	n := len(xs)
	if k == 1 {
		return []int{xs[0]}
	}
	out := make([]int, 0, k)
	step := float64(n-1) / float64(k-1)
	prev := -1
	for i := range k {
		idx := int(math.RoundToEven(float64(i) * step))
		if idx <= prev {
			idx = prev + 1
		}
		if idx >= n {
			idx = n - 1
		}
		out = append(out, xs[idx])
		prev = idx
	}
	return out
}

// Tokenize encodes one window of doc as [CLS] + bytes + [SEP] followed by
// padding. At most MaxLen-2 bytes of the window are kept.
func (c *Codec) Tokenize(doc []byte, w Window) ([]int32, []int8) {
	ids := make([]int32, c.maxLen)
	mask := make([]int8, c.maxLen)

	start := clamp(w.Start, 0, len(doc))
	end := clamp(w.End, start, len(doc))
	seg := doc[start:end]
	if len(seg) > c.maxLen-2 {
		seg = seg[:c.maxLen-2]
	}

	ids[0] = CLSID
	for i, b := range seg {
		ids[i+1] = int32(b)
	}
	ids[len(seg)+1] = SEPID
	for i := len(seg) + 2; i < c.maxLen; i++ {
		ids[i] = PadID
	}
	for i, id := range ids {
		if id != PadID {
			mask[i] = 1
		}
	}
	return ids, mask
}

// EncodeMulti encodes every window of doc.
func (c *Codec) EncodeMulti(doc []byte) *Batch {
	return c.encode(doc, c.Windows(len(doc)))
}

// EncodeSingle encodes a single window of doc. With random set, the window
// starts at a random offset; otherwise it is the head of the document.
func (c *Codec) EncodeSingle(doc []byte, random bool) *Batch {
	size := c.span()
	w := Window{Start: 0, End: min(len(doc), size)}
	if random && len(doc) > size {
		start := c.intN(len(doc) - size + 1)
		w = Window{Start: start, End: start + size}
	}
	return c.encode(doc, []Window{w})
}

func (c *Codec) encode(doc []byte, windows []Window) *Batch {
	b := &Batch{
		IDs:           make([][]int32, len(windows)),
		AttentionMask: make([][]int8, len(windows)),
		Windows:       windows,
	}
	for i, w := range windows {
		b.IDs[i], b.AttentionMask[i] = c.Tokenize(doc, w)
	}
	return b
}

func (c *Codec) intN(n int) int {
	if c.rng != nil {
		return c.rng.IntN(n)
	}
	return rand.IntN(n) //nolint:gosec // crop position is not security sensitive
}

// MeanProbability averages per-window probabilities. An empty slice yields
// 0.
func MeanProbability(probs []float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range probs {
		sum += p
	}
	return sum / float64(len(probs))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
