package errgroup

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

const fingerprintInputLimit = 500

var (
	lineColPattern = regexp.MustCompile(`:\d+:\d+`)
	queryPattern   = regexp.MustCompile(`\?[^\s):]*`)
)

// NormalizeStack strips the volatile parts of a stack trace so that the same
// failure fingerprints identically across builds: query strings on source
// URLs are removed, then line/column pairs become ":X:X". Query stripping
// runs first and stops at a colon so a trailing :line:col still gets masked.
func NormalizeStack(stack string) string {
	normalized := queryPattern.ReplaceAllString(stack, "")
	return lineColPattern.ReplaceAllString(normalized, ":X:X")
}

// Fingerprint computes the stable identity of one kind of error. The input
// is errorType, errorName and the normalized stack joined by ":", truncated
// to 500 characters, hashed with SHA-256 and truncated to 32 hex characters.
// A missing stack still produces a valid fingerprint.
func Fingerprint(errorType, errorName, stack string) string {
	composite := errorType + ":" + errorName + ":" + NormalizeStack(stack)
	if len(composite) > fingerprintInputLimit {
		composite = composite[:fingerprintInputLimit]
	}
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])[:32]
}
