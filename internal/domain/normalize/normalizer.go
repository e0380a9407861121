// Package normalize implements the Payload Normalizer: a pure function that
// folds a proposed tool call's argument tree into a single, searchable
// string for regex and keyword matching, without mutating the original tree.
package normalize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

// zeroWidthRunes are stripped from every string before NFKC folding, per
// spec §4.1: zero-width space, zero-width non-joiner, zero-width joiner,
// and the byte-order-mark/zero-width-no-break-space.
var zeroWidthRunes = map[rune]struct{}{
	'​': {},
	'‌': {},
	'‍': {},
	'﻿': {},
}

// Result is the output of normalizing a tool call request.
type Result struct {
	// Tool is the normalized tool name (currently passed through unchanged;
	// normalization hooks exist here for future tool-name casing rules).
	Tool string
	// Flattened is the depth-first concatenation of every scalar and string
	// value in the argument tree, NFKC-folded with zero-width runes stripped.
	Flattened string
	// Fingerprint is the xxhash-64 digest of Flattened, stored alongside it
	// so the Chain Analyzer's block-bypass-retry pattern can cheaply rule
	// out an exact repeat before paying for a Levenshtein comparison.
	Fingerprint uint64
}

// Normalize folds a tool call's argument tree into a flattened string. The
// original tree is never mutated; callers keep it for storage separately.
func Normalize(tool string, args map[string]interface{}) Result {
	var b strings.Builder
	flattenMap(args, &b)
	flattened := FoldString(strings.TrimSpace(b.String()))
	return Result{
		Tool:        tool,
		Flattened:   flattened,
		Fingerprint: xxhash.Sum64String(flattened),
	}
}

// FoldString applies the normalizer's string transform in isolation: strip
// zero-width code points, then NFKC fold. Exported so callers that only have
// a single string (e.g. a tool result body) can reuse the same normalization
// the flattener applies to argument trees.
func FoldString(s string) string {
	return norm.NFKC.String(stripZeroWidth(s))
}

// stripZeroWidth removes the zero-width code points enumerated in spec §4.1.
func stripZeroWidth(s string) string {
	if !strings.ContainsAny(s, "​‌‍﻿") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if _, drop := zeroWidthRunes[r]; drop {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// flattenMap performs the depth-first traversal described in spec §4.1,
// visiting map keys in sorted order so the flattened string (and therefore
// any regex match position) is deterministic across runs.
func flattenMap(m map[string]interface{}, b *strings.Builder) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		flattenValue(m[k], b)
	}
}

// flattenValue appends the scalar/string contribution of v to b, recursing
// into maps and slices.
func flattenValue(v interface{}, b *strings.Builder) {
	switch val := v.(type) {
	case nil:
		return
	case string:
		writeSep(b)
		b.WriteString(val)
	case bool:
		writeSep(b)
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case float64:
		writeSep(b)
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case int:
		writeSep(b)
		b.WriteString(strconv.Itoa(val))
	case int64:
		writeSep(b)
		b.WriteString(strconv.FormatInt(val, 10))
	case map[string]interface{}:
		flattenMap(val, b)
	case []interface{}:
		for _, item := range val {
			flattenValue(item, b)
		}
	default:
		writeSep(b)
		fmt.Fprintf(b, "%v", val)
	}
}

// writeSep inserts the single-space separator between flattened values,
// skipping the separator before the very first value.
func writeSep(b *strings.Builder) {
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
}
