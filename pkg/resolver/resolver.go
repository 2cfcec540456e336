package resolver

import (
	"sort"
	"time"

	"github.com/google/uuid"

	mrerrors "github.com/otherjamesbrown/mediaref/pkg/errors"
	"github.com/otherjamesbrown/mediaref/pkg/logging"
	"github.com/otherjamesbrown/mediaref/pkg/media"
	"github.com/otherjamesbrown/mediaref/pkg/tags"
)

// Observer receives per-phase and per-resolution measurements.
type Observer interface {
	ObservePhase(phase string, matched bool, elapsed time.Duration)
	ObserveResolution(method Method, confidence float64, disambiguation bool, elapsed time.Duration)
}

// Resolver runs the resolution phases in a fixed order. The first phase that
// returns a result wins and later phases never run.
//
// A Resolver holds no per-call state and is safe for concurrent use as long as
// its tag extractor is.
type Resolver struct {
	config    Config
	extractor tags.Extractor
	phases    []Phase
	logger    logging.Logger
	observer  Observer
}

// NewResolver creates a resolver. A nil extractor uses the heuristic file name
// extractor behind an LRU cache; nil logger and observer are allowed.
func NewResolver(config Config, extractor tags.Extractor, logger logging.Logger, observer Observer) *Resolver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := config.Validate(); err != nil {
		logger.Warn("Invalid resolver config, using defaults", logging.Err(err))
		config = DefaultConfig()
	}
	if extractor == nil {
		extractor = DefaultExtractor(config)
	}
	return &Resolver{
		config:    config,
		extractor: extractor,
		phases:    DefaultPhases(config),
		logger:    logger.With(logging.Component("resolver")),
		observer:  observer,
	}
}

// DefaultExtractor builds the heuristic tag extractor described by config.
func DefaultExtractor(config Config) tags.Extractor {
	h := tags.NewHeuristic(config.Nouns, config.Colors)
	cached, err := tags.NewCachedExtractor(h, config.TagCacheSize)
	if err != nil {
		return h
	}
	return cached
}

// Config returns the effective configuration.
func (r *Resolver) Config() Config {
	return r.config
}

// PhaseNames lists the phases in evaluation order.
func (r *Resolver) PhaseNames() []string {
	names := make([]string, 0, len(r.phases))
	for _, p := range r.phases {
		names = append(names, p.Name())
	}
	return names
}

// Resolve decides which media userMessage refers to.
//
// currentTurnUploads are the items attached to this message (already
// registered); conversationMedia is the registry snapshot. Neither is
// modified: roles are set on copies and statistic changes are returned in
// RobustMediaContext.Updates. Malformed input fails with an error wrapping
// errors.ErrValidation; ambiguity is reported in the result, not as an error.
func (r *Resolver) Resolve(userMessage string, currentTurnUploads, conversationMedia []media.EnhancedMedia, currentTurn int) (*RobustMediaContext, error) {
	start := time.Now()

	conversation, err := validateInput(currentTurnUploads, conversationMedia, currentTurn)
	if err != nil {
		return nil, err
	}

	resolutionID := uuid.NewString()
	log := r.logger.With(logging.F("resolution_id", resolutionID), logging.F("turn", currentTurn))

	in := newTurnInput(userMessage, currentTurnUploads, conversation, currentTurn, r.extractor)

	var out *RobustMediaContext
	evaluated := 0
	for _, phase := range r.phases {
		phaseStart := time.Now()
		out = phase.Resolve(in)
		evaluated++
		if r.observer != nil {
			r.observer.ObservePhase(phase.Name(), out != nil, time.Since(phaseStart))
		}
		if out != nil {
			log.Debug("Phase matched", logging.F("phase", phase.Name()), logging.F("method", string(out.Resolution.Method)))
			break
		}
		log.Debug("Phase skipped", logging.F("phase", phase.Name()))
	}

	r.finish(out, in, evaluated, resolutionID)

	if out.NeedsDisambiguation() {
		log.Info("Disambiguation required",
			logging.F("reason", string(out.Disambiguation.Reason)),
			logging.F("options", len(out.Disambiguation.Options)))
	} else {
		log.Debug("Media resolved",
			logging.F("method", string(out.Resolution.Method)),
			logging.F("confidence", out.Resolution.Confidence),
			logging.F("indices", out.Resolution.MatchedIndices))
	}

	if r.observer != nil {
		r.observer.ObserveResolution(out.Resolution.Method, out.Resolution.Confidence, out.NeedsDisambiguation(), time.Since(start))
	}
	return out, nil
}

// finish fills the fields every outcome shares.
func (r *Resolver) finish(out *RobustMediaContext, in *turnInput, evaluated int, resolutionID string) {
	out.ResolutionID = resolutionID
	out.CurrentTurnMedia = in.decorate(in.uploads)
	out.AvailableMedia = in.decorate(in.conversation)
	if out.ResolvedMedia == nil {
		out.ResolvedMedia = []media.EnhancedMedia{}
	}
	if out.Resolution.MatchedIndices == nil {
		out.Resolution.MatchedIndices = []int{}
	}

	known := make(map[string]bool, len(in.conversation))
	for _, m := range in.conversation {
		known[m.PersistentID] = true
	}

	var updates []media.Update
	for _, id := range in.tagOrder {
		if known[id] {
			updates = append(updates, media.TagsComputed(id, in.computed[id]))
		}
	}
	if !out.NeedsDisambiguation() {
		for _, m := range out.ResolvedMedia {
			if known[m.PersistentID] {
				updates = append(updates, media.ReferenceRecorded(m.PersistentID, in.turn))
			}
		}
	}
	out.Updates = updates

	stats := Stats{
		TotalMedia:       len(in.conversation),
		CurrentTurnCount: len(in.uploads),
		ResolvedCount:    len(out.ResolvedMedia),
		ByType:           make(map[string]int),
		ByRole:           make(map[string]int),
		PhasesEvaluated:  evaluated,
	}
	for _, m := range in.conversation {
		stats.ByType[string(m.Type)]++
	}
	for _, m := range out.ResolvedMedia {
		if m.Role != media.RoleNone {
			stats.ByRole[string(m.Role)]++
		}
	}
	out.Stats = stats
}

// validateInput enforces the call boundary and returns the conversation
// ordered by display index.
func validateInput(uploads, conversation []media.EnhancedMedia, turn int) ([]media.EnhancedMedia, error) {
	if turn < 0 {
		return nil, mrerrors.Precondition("currentTurn", "must not be negative, got %d", turn)
	}

	sorted := make([]media.EnhancedMedia, len(conversation))
	copy(sorted, conversation)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DisplayIndex < sorted[j].DisplayIndex
	})
	if err := media.ValidateItems(sorted); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(uploads))
	for i, u := range uploads {
		if u.PersistentID == "" {
			return nil, mrerrors.Precondition("currentTurnUploads", "upload %d has no persistent ID", i)
		}
		if u.DisplayIndex < 1 {
			return nil, mrerrors.Precondition("currentTurnUploads", "upload %s has display index %d", u.PersistentID, u.DisplayIndex)
		}
		if seen[u.PersistentID] {
			return nil, mrerrors.Precondition("currentTurnUploads", "duplicate persistent ID %s", u.PersistentID)
		}
		seen[u.PersistentID] = true
	}
	return sorted, nil
}
