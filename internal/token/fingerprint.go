package token

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"lukechampine.com/blake3"
)

// Algo selects the fingerprint hash.
type Algo string

const (
	AlgoSHA256 Algo = "sha256"
	AlgoBLAKE3 Algo = "blake3"
)

// canonicalSep joins span tokens in the canonical form. U+001F (unit
// separator) cannot appear inside a token, so the join is unambiguous.
const canonicalSep = "\x1f"

// CanonicalJoin returns the canonical encoding of a token span. The form
// depends only on the tokens, so whitespace and formatting changes outside
// the span never alter it.
func CanonicalJoin(tokens []string) string {
	return strings.Join(tokens, canonicalSep)
}

// Fingerprint hashes a token span's canonical form with the given
// algorithm and returns lowercase hex. Unknown algorithms fall back to
// sha256 so stored anchors always decode.
func Fingerprint(tokens []string, algo Algo) string {
	canonical := []byte(CanonicalJoin(tokens))
	switch algo {
	case AlgoBLAKE3:
		sum := blake3.Sum256(canonical)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(canonical)
		return hex.EncodeToString(sum[:])
	}
}

// HashContent returns the lowercase hex SHA-256 of content. Used for
// version and passage content hashes regardless of the anchor algorithm.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
