package resolver

import (
	"fmt"
)

// Config holds configuration for the resolver.
type Config struct {
	// Confidence assigned per resolution path.
	Confidence ConfidenceConfig `json:"confidence" yaml:"confidence"`

	// FallbackSuggestions is how many recent items to offer when "image N" does not exist.
	FallbackSuggestions int `json:"fallback_suggestions" yaml:"fallback_suggestions"`

	// MinNameMatchLength is the shortest upload base name that counts as named in the text.
	MinNameMatchLength int `json:"min_name_match_length" yaml:"min_name_match_length"`

	// Tag vocabulary overrides; nil keeps the built-in lists.
	Nouns  []string `json:"nouns,omitempty" yaml:"nouns,omitempty"`
	Colors []string `json:"colors,omitempty" yaml:"colors,omitempty"`

	// TagCacheSize bounds the tag extractor cache.
	TagCacheSize int `json:"tag_cache_size" yaml:"tag_cache_size"`
}

// ConfidenceConfig configures the confidence reported by each resolution path.
type ConfidenceConfig struct {
	ExplicitUpload float64 `json:"explicit_upload" yaml:"explicit_upload"` // 1.0
	Reinjected     float64 `json:"reinjected" yaml:"reinjected"`           // 1.0
	NamedUpload    float64 `json:"named_upload" yaml:"named_upload"`       // 0.9
	MultiImage     float64 `json:"multi_image" yaml:"multi_image"`         // 0.85
	Numeric        float64 `json:"numeric" yaml:"numeric"`                 // 1.0
	Recency        float64 `json:"recency" yaml:"recency"`                 // 0.9
	Filename       float64 `json:"filename" yaml:"filename"`               // 0.95
	Semantic       float64 `json:"semantic" yaml:"semantic"`               // 0.8
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	return Config{
		Confidence: ConfidenceConfig{
			ExplicitUpload: 1.0,
			Reinjected:     1.0,
			NamedUpload:    0.9,
			MultiImage:     0.85,
			Numeric:        1.0,
			Recency:        0.9,
			Filename:       0.95,
			Semantic:       0.8,
		},
		FallbackSuggestions: 3,
		MinNameMatchLength:  3,
		TagCacheSize:        1024,
	}
}

// Validate fills unset values with defaults and rejects confidences outside [0,1].
func (c *Config) Validate() error {
	def := DefaultConfig()
	fields := []struct {
		name string
		v    *float64
		def  float64
	}{
		{"explicit_upload", &c.Confidence.ExplicitUpload, def.Confidence.ExplicitUpload},
		{"reinjected", &c.Confidence.Reinjected, def.Confidence.Reinjected},
		{"named_upload", &c.Confidence.NamedUpload, def.Confidence.NamedUpload},
		{"multi_image", &c.Confidence.MultiImage, def.Confidence.MultiImage},
		{"numeric", &c.Confidence.Numeric, def.Confidence.Numeric},
		{"recency", &c.Confidence.Recency, def.Confidence.Recency},
		{"filename", &c.Confidence.Filename, def.Confidence.Filename},
		{"semantic", &c.Confidence.Semantic, def.Confidence.Semantic},
	}
	for _, f := range fields {
		if *f.v == 0 {
			*f.v = f.def
		}
		if *f.v < 0 || *f.v > 1 {
			return fmt.Errorf("confidence.%s must be within [0,1], got %v", f.name, *f.v)
		}
	}
	if c.FallbackSuggestions == 0 {
		c.FallbackSuggestions = def.FallbackSuggestions
	}
	if c.FallbackSuggestions < 0 {
		return fmt.Errorf("fallback_suggestions must not be negative")
	}
	if c.MinNameMatchLength == 0 {
		c.MinNameMatchLength = def.MinNameMatchLength
	}
	if c.TagCacheSize == 0 {
		c.TagCacheSize = def.TagCacheSize
	}
	return nil
}
