package linkage

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// DefaultMinStreamKeyLength is the shortest stream key accepted as proof of a
// link on its own. Shorter keys such as "main" or "1" collide across channels.
const DefaultMinStreamKeyLength = 10

var ignoredTokens = map[string]struct{}{
	"rtmp": {}, "srt": {}, "rtmp_pull": {}, "rtp": {}, "hls": {},
	"1935": {}, "57716": {}, "live": {}, "http": {}, "https": {},
}

var (
	repeatedSlashes = regexp.MustCompile(`/+`)
	partSeparators  = regexp.MustCompile(`[:/@?]`)
	regionToken     = regexp.MustCompile(`-(\d+)\.`)
)

// Matcher decides whether two endpoint addresses refer to the same stream.
type Matcher struct {
	MinStreamKeyLength int
}

// NewMatcher returns a Matcher using minKeyLength, or the default when it is
// not positive.
func NewMatcher(minKeyLength int) Matcher {
	if minKeyLength <= 0 {
		minKeyLength = DefaultMinStreamKeyLength
	}
	return Matcher{MinStreamKeyLength: minKeyLength}
}

// foldAddress case-folds a trimmed address. A Caser keeps state, so each call
// builds its own.
func foldAddress(raw string) string {
	return cases.Fold().String(strings.TrimSpace(raw))
}

// NormalizeURL case-folds the address, collapses repeated slashes and strips
// leading and trailing slashes.
func NormalizeURL(raw string) string {
	trimmed := foldAddress(raw)
	if trimmed == "" {
		return ""
	}
	return strings.Trim(repeatedSlashes.ReplaceAllString(trimmed, "/"), "/")
}

// StreamKey returns the last meaningful token of an address, skipping
// protocol names, well-known ports and the "live" application name.
func StreamKey(raw string) string {
	parts := partSeparators.Split(foldAddress(raw), -1)
	for i := len(parts) - 1; i >= 0; i-- {
		part := parts[i]
		if part == "" {
			continue
		}
		if _, skip := ignoredTokens[part]; skip {
			continue
		}
		return part
	}
	return ""
}

// RegionIndex extracts the numeric region token from hosts such as
// "ingest-1.example.com". It returns 0 when the address carries none.
func RegionIndex(address string) int {
	match := regionToken.FindStringSubmatch(address)
	if match == nil {
		return 0
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return n
}

// Match reports whether output (an upstream push address) feeds endpoint (a
// downstream ingest address).
//
// Normalised equality always matches. Otherwise the shorter address must
// occur inside the longer one ending on a path boundary and it must carry a
// path beyond the host, so two channels sharing an ingest host do not link.
// As a last resort equal stream keys of at least MinStreamKeyLength match.
func (m Matcher) Match(output, endpoint string) bool {
	out := NormalizeURL(output)
	in := NormalizeURL(endpoint)
	if out == "" || in == "" {
		return false
	}
	if out == in {
		return true
	}

	long, short := out, in
	if len(short) > len(long) {
		long, short = short, long
	}
	if hasPath(short) && containsAtBoundary(long, short) {
		return true
	}

	minLen := m.MinStreamKeyLength
	if minLen <= 0 {
		minLen = DefaultMinStreamKeyLength
	}
	outKey := StreamKey(output)
	if len(outKey) >= minLen && outKey == StreamKey(endpoint) {
		return true
	}
	return false
}

// MatchAny reports whether any output matches any endpoint and returns the
// first matching endpoint.
func (m Matcher) MatchAny(outputs, endpoints []string) (string, bool) {
	for _, out := range outputs {
		for _, endpoint := range endpoints {
			if m.Match(out, endpoint) {
				return endpoint, true
			}
		}
	}
	return "", false
}

func hasPath(normalized string) bool {
	rest := normalized
	if i := strings.Index(rest, ":/"); i >= 0 {
		rest = rest[i+2:]
	}
	slash := strings.IndexByte(rest, '/')
	return slash > 0 && slash < len(rest)-1
}

func containsAtBoundary(long, short string) bool {
	for start := 0; start <= len(long)-len(short); {
		i := strings.Index(long[start:], short)
		if i < 0 {
			return false
		}
		end := start + i + len(short)
		if end == len(long) || strings.IndexByte("/?&#,", long[end]) >= 0 {
			return true
		}
		start += i + 1
	}
	return false
}
