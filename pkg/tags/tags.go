// Package tags derives semantic keywords for media items.
//
// The heuristic extractor reads keywords out of file names. A vision-based
// tagger can replace it by implementing Extractor.
package tags

import (
	"net/url"
	"path"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/otherjamesbrown/mediaref/pkg/extract"
)

// Extractor computes lowercase semantic tags for a media item.
// The result must be non-nil; an empty slice means no tags were found.
type Extractor interface {
	Extract(fileName, url string) []string
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(fileName, url string) []string

func (f ExtractorFunc) Extract(fileName, url string) []string {
	return f(fileName, url)
}

// DefaultNouns are the object keywords recognised by the heuristic extractor.
var DefaultNouns = []string{"car", "house", "tree", "logo", "background", "portrait", "landscape", "product", "person"}

// DefaultColors are the color keywords recognised by the heuristic extractor.
var DefaultColors = []string{"red", "blue", "green", "yellow", "black", "white", "gray", "purple", "orange"}

// Heuristic matches a fixed vocabulary against the file name.
type Heuristic struct {
	vocabulary []string
}

// NewHeuristic builds a heuristic extractor. Nil slices fall back to the defaults.
func NewHeuristic(nouns, colors []string) *Heuristic {
	if nouns == nil {
		nouns = DefaultNouns
	}
	if colors == nil {
		colors = DefaultColors
	}
	vocab := make([]string, 0, len(nouns)+len(colors))
	for _, w := range append(append([]string{}, nouns...), colors...) {
		if w = extract.Fold(strings.TrimSpace(w)); w != "" {
			vocab = append(vocab, w)
		}
	}
	return &Heuristic{vocabulary: vocab}
}

// Extract returns every vocabulary word that occurs as a substring of the file
// name, in vocabulary order. Without a file name the last path segment of the
// URL is used instead.
func (h *Heuristic) Extract(fileName, rawURL string) []string {
	name := fileName
	if name == "" {
		name = nameFromURL(rawURL)
	}
	name = extract.Fold(name)

	out := []string{}
	if name == "" {
		return out
	}
	for _, w := range h.vocabulary {
		if strings.Contains(name, w) {
			out = append(out, w)
		}
	}
	return out
}

func nameFromURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// CachedExtractor memoises another extractor in a bounded LRU cache.
// It is safe for concurrent use when the wrapped extractor is.
type CachedExtractor struct {
	next  Extractor
	cache *lru.Cache[string, []string]
}

const defaultCacheSize = 1024

// NewCachedExtractor wraps next with an LRU cache of size entries.
func NewCachedExtractor(next Extractor, size int) (*CachedExtractor, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, []string](size)
	if err != nil {
		return nil, err
	}
	return &CachedExtractor{next: next, cache: cache}, nil
}

func (c *CachedExtractor) Extract(fileName, rawURL string) []string {
	key := fileName + "\x00" + rawURL
	if tags, ok := c.cache.Get(key); ok {
		return append([]string{}, tags...)
	}
	tags := c.next.Extract(fileName, rawURL)
	if tags == nil {
		tags = []string{}
	}
	c.cache.Add(key, append([]string{}, tags...))
	return tags
}

// Len reports the number of cached entries.
func (c *CachedExtractor) Len() int {
	return c.cache.Len()
}
