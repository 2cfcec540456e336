// Package extract recognizes media references in free text.
//
// Every function here is pure: it inspects a message and reports what it
// found, leaving the decision about which media item is meant to the resolver.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Fold normalises text for matching: NFKC composition followed by lowercasing,
// so full-width digits and mixed case compare equal to their plain forms.
func Fold(s string) string {
	return cases.Lower(language.Und).String(norm.NFKC.String(s))
}

// ContainsAny reports whether folded text contains any of the given phrases.
func ContainsAny(text string, phrases ...string) bool {
	folded := Fold(text)
	for _, p := range phrases {
		if strings.Contains(folded, p) {
			return true
		}
	}
	return false
}

var (
	numericPattern = regexp.MustCompile(`(?i)image\s*(\d+)`)
	ordinalPattern = regexp.MustCompile(`(?i)\b(first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth)\s+image`)
)

var ordinals = map[string]int{
	"first":   1,
	"second":  2,
	"third":   3,
	"fourth":  4,
	"fifth":   5,
	"sixth":   6,
	"seventh": 7,
	"eighth":  8,
	"ninth":   9,
	"tenth":   10,
}

// NumericMatch is a reference to a display index.
type NumericMatch struct {
	Index   int
	Phrase  string
	Ordinal bool
}

// NumericReference finds "image 2" style references, falling back to ordinal
// words ("second image"). Digits take precedence over ordinals. Digits too
// large for an int yield Index -1, which no display index can match.
func NumericReference(text string) (NumericMatch, bool) {
	folded := Fold(text)
	if m := numericPattern.FindStringSubmatch(folded); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			n = -1
		}
		return NumericMatch{Index: n, Phrase: m[0]}, true
	}
	if m := ordinalPattern.FindStringSubmatch(folded); m != nil {
		return NumericMatch{Index: ordinals[m[1]], Phrase: m[0], Ordinal: true}, true
	}
	return NumericMatch{}, false
}

// RecencyKind classifies a recency phrase.
type RecencyKind string

const (
	RecencyLast     RecencyKind = "last"
	RecencyPrevious RecencyKind = "previous"
	RecencyThat     RecencyKind = "that"
	RecencyFirst    RecencyKind = "first"
)

type recencyRule struct {
	kind    RecencyKind
	pattern *regexp.Regexp
}

// Checked in order; the first family to match wins.
var recencyRules = []recencyRule{
	{RecencyLast, regexp.MustCompile(`(?i)\b(last|latest|most\s+recent|recent)\s+(image|video|media|one)\b`)},
	{RecencyPrevious, regexp.MustCompile(`(?i)\b(previous|prior)\s+(image|video|media)\b`)},
	{RecencyThat, regexp.MustCompile(`(?i)\b(that|this|the)\s+(image|video|media|one)\b`)},
	{RecencyFirst, regexp.MustCompile(`(?i)\bfirst\s+(image|video|media)\b`)},
}

// RecencyMatch is a relative reference such as "the last image".
type RecencyMatch struct {
	Kind   RecencyKind
	Phrase string
}

// RecencyReference finds relative references ("last image", "that one").
func RecencyReference(text string) (RecencyMatch, bool) {
	folded := Fold(text)
	for _, rule := range recencyRules {
		if m := rule.pattern.FindString(folded); m != "" {
			return RecencyMatch{Kind: rule.kind, Phrase: m}, true
		}
	}
	return RecencyMatch{}, false
}

var filenamePattern = regexp.MustCompile(`(?i)[a-z0-9_-]+\.(png|jpg|jpeg|gif|webp|mp4|mov|pdf)`)

// FilenameReferences returns every file-name-like token in text, lowercased,
// in order of appearance and without duplicates.
func FilenameReferences(text string) []string {
	found := filenamePattern.FindAllString(Fold(text), -1)
	if len(found) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(found))
	out := make([]string, 0, len(found))
	for _, f := range found {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// MultiImagePhrases signal an operation over several media items at once.
var MultiImagePhrases = []string{
	"combine",
	"merge",
	"collage",
	"compare",
	"which is better",
	"both",
	"side by side",
	"using reference",
	"with reference",
}

// HasMultiImageOperation reports whether text asks for an operation over several items.
func HasMultiImageOperation(text string) bool {
	return ContainsAny(text, MultiImagePhrases...)
}

// BaseName strips the directory and the final extension from a file name.
func BaseName(fileName string) string {
	name := fileName
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}
