package resolver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/otherjamesbrown/mediaref/pkg/extract"
	"github.com/otherjamesbrown/mediaref/pkg/media"
	"github.com/otherjamesbrown/mediaref/pkg/tags"
)

// Phase is one resolution strategy. Resolve returns nil when the strategy does
// not apply, letting the next phase run.
type Phase interface {
	Name() string
	Resolve(in *turnInput) *RobustMediaContext
}

// Phase names, in evaluation order.
const (
	PhaseUploads  = "explicit_uploads"
	PhaseNumeric  = "numeric_reference"
	PhaseRecency  = "recency_reference"
	PhaseFilename = "filename_reference"
	PhaseSemantic = "semantic_match"
	PhaseFallback = "fallback"
)

// turnInput is the read-only view of one resolution call shared by all phases.
// Tags computed along the way are cached here and surfaced as updates.
type turnInput struct {
	message      string
	folded       string
	uploads      []media.EnhancedMedia
	conversation []media.EnhancedMedia
	turn         int

	extractor tags.Extractor
	computed  map[string][]string
	tagOrder  []string
}

func newTurnInput(message string, uploads, conversation []media.EnhancedMedia, turn int, extractor tags.Extractor) *turnInput {
	return &turnInput{
		message:      message,
		folded:       extract.Fold(message),
		uploads:      uploads,
		conversation: conversation,
		turn:         turn,
		extractor:    extractor,
		computed:     make(map[string][]string),
	}
}

// tagsFor returns m's semantic tags, computing them on first use.
func (in *turnInput) tagsFor(m media.EnhancedMedia) []string {
	if m.HasTags() {
		return m.SemanticTags
	}
	if t, ok := in.computed[m.PersistentID]; ok {
		return t
	}
	t := in.extractor.Extract(m.FileName, m.URL)
	if t == nil {
		t = []string{}
	}
	in.computed[m.PersistentID] = t
	in.tagOrder = append(in.tagOrder, m.PersistentID)
	return t
}

// withTags returns a copy of m carrying any tags computed during this call.
func (in *turnInput) withTags(m media.EnhancedMedia) media.EnhancedMedia {
	c := m.Clone()
	if !c.HasTags() {
		if t, ok := in.computed[m.PersistentID]; ok {
			c.SemanticTags = append([]string{}, t...)
		}
	}
	return c
}

func (in *turnInput) mentionsTag(m media.EnhancedMedia) (string, bool) {
	for _, t := range in.tagsFor(m) {
		if t != "" && strings.Contains(in.folded, t) {
			return t, true
		}
	}
	return "", false
}

func resolved(method Method, confidence float64, intent string, items []media.EnhancedMedia) *RobustMediaContext {
	indices := make([]int, 0, len(items))
	for _, m := range items {
		indices = append(indices, m.DisplayIndex)
	}
	return &RobustMediaContext{
		ResolvedMedia: items,
		Resolution: MediaResolution{
			Method:         method,
			Confidence:     confidence,
			MatchedIndices: indices,
			UserIntent:     intent,
		},
	}
}

func ambiguous(intent string, candidates []media.EnhancedMedia, req *DisambiguationRequest) *RobustMediaContext {
	indices := make([]int, 0, len(candidates))
	for _, m := range candidates {
		indices = append(indices, m.DisplayIndex)
	}
	return &RobustMediaContext{
		ResolvedMedia: []media.EnhancedMedia{},
		Resolution: MediaResolution{
			Method:         MethodAmbiguous,
			Confidence:     0,
			MatchedIndices: indices,
			UserIntent:     intent,
		},
		Disambiguation: req,
	}
}

func single(m media.EnhancedMedia) []media.EnhancedMedia {
	return []media.EnhancedMedia{m.WithRole(media.RolePrimary)}
}

// uploadsPhase resolves media attached to the current message.
type uploadsPhase struct {
	cfg Config
}

func (p uploadsPhase) Name() string { return PhaseUploads }

func (p uploadsPhase) Resolve(in *turnInput) *RobustMediaContext {
	uploads := in.uploads
	if len(uploads) == 0 {
		return nil
	}
	op := DetectOperation(in.message)

	if allReinjected(uploads) {
		items := assignRoles(in.decorate(uploads), op)
		return resolved(MethodReinjectedSelection, p.cfg.Confidence.Reinjected, "reinjected_"+string(op), items)
	}

	if len(uploads) == 1 {
		return resolved(MethodExplicitUpload, p.cfg.Confidence.ExplicitUpload, "single_upload_"+string(op), single(in.withTags(uploads[0])))
	}

	var named []media.EnhancedMedia
	var why []string
	for _, u := range uploads {
		if reason, ok := p.namedInText(in, u); ok {
			named = append(named, u)
			why = append(why, fmt.Sprintf("%d:%s", u.DisplayIndex, reason))
		}
	}
	if len(named) == 1 {
		out := resolved(MethodSemanticMatch, p.cfg.Confidence.NamedUpload, "named_upload_"+string(op), single(in.withTags(named[0])))
		out.Resolution.DebugInfo = map[string]string{"matched_by": why[0]}
		return out
	}

	if extract.HasMultiImageOperation(in.message) {
		// A named subset still resolves to every upload.
		items := assignRoles(in.decorate(uploads), op)
		out := resolved(MethodExplicitUpload, p.cfg.Confidence.MultiImage, "multi_image_"+string(op), items)
		if len(named) > 0 {
			out.Resolution.DebugInfo = map[string]string{"named_uploads": strings.Join(why, ",")}
		}
		return out
	}

	candidates := in.decorate(uploads)
	req := newDisambiguation(ReasonMultipleUploadsUnclearTarget, equalOptions(candidates, func(m media.EnhancedMedia) string {
		return "Uploaded with this message: " + m.Label()
	}), "")
	return ambiguous("ambiguous_upload_target", candidates, req)
}

// namedInText reports whether the message names u by file name, base name or tag.
func (p uploadsPhase) namedInText(in *turnInput, u media.EnhancedMedia) (string, bool) {
	if u.FileName != "" {
		name := extract.Fold(u.FileName)
		if strings.Contains(in.folded, name) {
			return "filename", true
		}
		base := extract.Fold(extract.BaseName(u.FileName))
		if len(base) >= p.cfg.MinNameMatchLength && strings.Contains(in.folded, base) {
			return "basename", true
		}
	}
	if tag, ok := in.mentionsTag(u); ok {
		return "tag=" + tag, true
	}
	return "", false
}

func allReinjected(items []media.EnhancedMedia) bool {
	for _, m := range items {
		if !m.IsReinjected {
			return false
		}
	}
	return true
}

func (in *turnInput) decorate(items []media.EnhancedMedia) []media.EnhancedMedia {
	out := make([]media.EnhancedMedia, 0, len(items))
	for _, m := range items {
		out = append(out, in.withTags(m))
	}
	return out
}

// numericPhase resolves "image 2" and "second image".
type numericPhase struct {
	cfg Config
}

func (p numericPhase) Name() string { return PhaseNumeric }

func (p numericPhase) Resolve(in *turnInput) *RobustMediaContext {
	ref, ok := extract.NumericReference(in.message)
	if !ok {
		return nil
	}
	for _, m := range in.conversation {
		if m.DisplayIndex == ref.Index {
			out := resolved(MethodNumericReference, p.cfg.Confidence.Numeric, "numeric_"+string(DetectOperation(in.message)), single(in.withTags(m)))
			out.Resolution.DebugInfo = map[string]string{"phrase": ref.Phrase}
			return out
		}
	}

	recent := byRecency(in.conversation)
	if len(recent) > p.cfg.FallbackSuggestions {
		recent = recent[:p.cfg.FallbackSuggestions]
	}
	recent = in.decorate(recent)

	action := "No media has been shared in this conversation yet"
	if n := len(in.conversation); n > 0 {
		action = fmt.Sprintf("Choose a number between %d and %d", in.conversation[0].DisplayIndex, in.conversation[n-1].DisplayIndex)
	}
	req := newDisambiguation(ReasonReferencedImageNotFound, equalOptions(recent, uploadedAt), action)
	out := ambiguous("numeric_reference_not_found", nil, req)
	out.Resolution.DebugInfo = map[string]string{"phrase": ref.Phrase, "requested_index": strconv.Itoa(ref.Index)}
	return out
}

// recencyPhase resolves "the last image", "that one" and similar.
type recencyPhase struct {
	cfg Config
}

func (p recencyPhase) Name() string { return PhaseRecency }

func (p recencyPhase) Resolve(in *turnInput) *RobustMediaContext {
	if len(in.conversation) == 0 {
		return nil
	}
	ref, ok := extract.RecencyReference(in.message)
	if !ok {
		return nil
	}
	sorted := byRecency(in.conversation)
	pick := sorted[0]
	if ref.Kind == extract.RecencyFirst {
		pick = sorted[len(sorted)-1]
	}
	out := resolved(MethodRecencyReference, p.cfg.Confidence.Recency, "recency_"+string(ref.Kind), single(in.withTags(pick)))
	out.Resolution.DebugInfo = map[string]string{"phrase": ref.Phrase}
	return out
}

// filenamePhase resolves "logo.png".
type filenamePhase struct {
	cfg Config
}

func (p filenamePhase) Name() string { return PhaseFilename }

func (p filenamePhase) Resolve(in *turnInput) *RobustMediaContext {
	tokens := extract.FilenameReferences(in.message)
	if len(tokens) == 0 {
		return nil
	}
	var matches []media.EnhancedMedia
	for _, m := range in.conversation {
		if m.FileName == "" {
			continue
		}
		name := extract.Fold(m.FileName)
		for _, tok := range tokens {
			if strings.Contains(name, tok) {
				matches = append(matches, m)
				break
			}
		}
	}

	switch len(matches) {
	case 0:
		return nil
	case 1:
		out := resolved(MethodFilenameReference, p.cfg.Confidence.Filename, "filename_"+string(DetectOperation(in.message)), single(in.withTags(matches[0])))
		out.Resolution.DebugInfo = map[string]string{"tokens": strings.Join(tokens, ",")}
		return out
	default:
		candidates := in.decorate(matches)
		req := newDisambiguation(ReasonMultipleFilesSameName, equalOptions(candidates, uploadedAt), "")
		return ambiguous("ambiguous_filename", candidates, req)
	}
}

// semanticPhase matches message words against each item's tags.
type semanticPhase struct {
	cfg Config
}

func (p semanticPhase) Name() string { return PhaseSemantic }

func (p semanticPhase) Resolve(in *turnInput) *RobustMediaContext {
	var matches []media.EnhancedMedia
	var hits []string
	for _, m := range in.conversation {
		if tag, ok := in.mentionsTag(m); ok {
			matches = append(matches, m)
			hits = append(hits, fmt.Sprintf("%d:%s", m.DisplayIndex, tag))
		}
	}

	switch len(matches) {
	case 0:
		return nil
	case 1:
		out := resolved(MethodSemanticMatch, p.cfg.Confidence.Semantic, "semantic_"+string(DetectOperation(in.message)), single(in.withTags(matches[0])))
		out.Resolution.DebugInfo = map[string]string{"tag_hits": hits[0]}
		return out
	default:
		candidates := in.decorate(matches)
		req := newDisambiguation(ReasonMultipleSemanticMatches, equalOptions(candidates, func(m media.EnhancedMedia) string {
			return fmt.Sprintf("%s, tagged %s", m.Label(), strings.Join(m.SemanticTags, ", "))
		}), "")
		out := ambiguous("ambiguous_semantic_match", candidates, req)
		out.Resolution.DebugInfo = map[string]string{"tag_hits": strings.Join(hits, ",")}
		return out
	}
}

// fallbackPhase always applies: nothing in the message refers to media.
type fallbackPhase struct{}

func (fallbackPhase) Name() string { return PhaseFallback }

func (fallbackPhase) Resolve(in *turnInput) *RobustMediaContext {
	return &RobustMediaContext{
		ResolvedMedia: []media.EnhancedMedia{},
		Resolution: MediaResolution{
			Method:         MethodFallback,
			Confidence:     0,
			MatchedIndices: []int{},
			UserIntent:     IntentNoMediaOperation,
		},
	}
}

// DefaultPhases returns the resolution strategies in evaluation order.
func DefaultPhases(cfg Config) []Phase {
	return []Phase{
		uploadsPhase{cfg: cfg},
		numericPhase{cfg: cfg},
		recencyPhase{cfg: cfg},
		filenamePhase{cfg: cfg},
		semanticPhase{cfg: cfg},
		fallbackPhase{},
	}
}
