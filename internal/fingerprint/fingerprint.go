// Package fingerprint computes similarity and identity digests of page
// content.
//
// TLSH digests let the history store find phishing kits that were
// redeployed with small edits. The SHA3 content hash identifies exact
// copies.
package fingerprint

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/glaslos/tlsh"
	"golang.org/x/crypto/sha3"
)

// digestPrefix marks the TLSH version in stored digests.
const digestPrefix = "T1"

// DefaultMaxDistance is the TLSH distance under which two pages are
// considered near-duplicates.
const DefaultMaxDistance = 70

var (
	// ErrTooShort is returned when the input lacks the length or variety
	// TLSH needs.
	ErrTooShort = errors.New("content too short or uniform for a TLSH digest")

	// ErrInvalidDigest is returned for digests that do not parse.
	ErrInvalidDigest = errors.New("invalid TLSH digest")
)

// Digest returns the TLSH digest of b with the T1 prefix.
func Digest(b []byte) (string, error) {
	h, err := tlsh.HashBytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTooShort, err)
	}
	return digestPrefix + strings.ToUpper(h.String()), nil
}

// Distance returns the TLSH distance between two digests. Zero means
// identical; larger values mean less similar.
func Distance(a, b string) (int, error) {
	ta, err := parse(a)
	if err != nil {
		return 0, err
	}
	tb, err := parse(b)
	if err != nil {
		return 0, err
	}
	return ta.Diff(tb), nil
}

// Similar reports whether two digests are within maxDistance of each other.
func Similar(a, b string, maxDistance int) (bool, int, error) {
	d, err := Distance(a, b)
	if err != nil {
		return false, 0, err
	}
	return d <= maxDistance, d, nil
}

func parse(digest string) (*tlsh.TLSH, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(digest), digestPrefix)
	if raw == "" {
		return nil, ErrInvalidDigest
	}
	t, err := tlsh.ParseStringToTlsh(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDigest, err)
	}
	return t, nil
}

// ContentHash returns the hex SHA3-256 of b, or "" for empty input.
func ContentHash(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	sum := sha3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
