// Package turn runs one conversation turn end to end: it registers the
// turn's uploads, resolves the message against the stored registry, persists
// the resulting statistics and reports the outcome.
package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/otherjamesbrown/mediaref/pkg/audit"
	mrerrors "github.com/otherjamesbrown/mediaref/pkg/errors"
	"github.com/otherjamesbrown/mediaref/pkg/events"
	"github.com/otherjamesbrown/mediaref/pkg/logging"
	"github.com/otherjamesbrown/mediaref/pkg/media"
	"github.com/otherjamesbrown/mediaref/pkg/observability"
	"github.com/otherjamesbrown/mediaref/pkg/resolver"
	"github.com/otherjamesbrown/mediaref/pkg/store"
)

// Request is one user turn.
type Request struct {
	ConversationID string           `json:"conversationId"`
	Message        string           `json:"message"`
	Uploads        []media.RawMedia `json:"uploads,omitempty"`
	// Reinjected lists persistent IDs of earlier media the user attached again.
	Reinjected []string `json:"reinjected,omitempty"`
	Turn       int      `json:"turn"`
}

// Result is the outcome of a turn.
type Result struct {
	Context *resolver.RobustMediaContext `json:"context"`
	// Version is the registry version after the turn's updates were stored.
	Version int64 `json:"version"`
	// GroundingText is the media context for the model. Empty when the user must choose.
	GroundingText string `json:"groundingText,omitempty"`
	// DisambiguationText is the question for the user, if any.
	DisambiguationText string `json:"disambiguationText,omitempty"`
}

// Publisher receives resolution outcomes.
type Publisher interface {
	PublishResolved(ctx context.Context, params events.ResolvedParams) error
	PublishDisambiguationRequired(ctx context.Context, params events.DisambiguationParams) error
}

// Options configures a Handler. Zero values disable the optional sinks.
type Options struct {
	Backend    string
	Publisher  Publisher
	Recorder   audit.Recorder
	Metrics    *observability.ResolverMetrics
	Tracer     *observability.Tracer
	Logger     logging.Logger
	MaxRetries int
}

// Handler runs turns against a Store.
type Handler struct {
	store      store.Store
	resolver   *resolver.Resolver
	backend    string
	publisher  Publisher
	recorder   audit.Recorder
	metrics    *observability.ResolverMetrics
	tracer     *observability.Tracer
	logger     logging.Logger
	maxRetries int
}

// NewHandler creates a turn handler.
func NewHandler(st store.Store, r *resolver.Resolver, opts Options) *Handler {
	h := &Handler{
		store:      st,
		resolver:   r,
		backend:    opts.Backend,
		publisher:  opts.Publisher,
		recorder:   opts.Recorder,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		logger:     opts.Logger,
		maxRetries: opts.MaxRetries,
	}
	if h.backend == "" {
		h.backend = store.BackendMemory
	}
	if h.publisher == nil {
		h.publisher = events.NopPublisher{}
	}
	if h.recorder == nil {
		h.recorder = audit.NopRecorder{}
	}
	if h.tracer == nil {
		h.tracer = observability.NewTracer()
	}
	if h.logger == nil {
		h.logger = logging.NewNopLogger()
	}
	h.logger = h.logger.With(logging.Component("turn"))
	return h
}

// HandleTurn registers the request's uploads, resolves the message and stores
// the resulting updates. Publishing and auditing failures are logged and do
// not fail the turn.
func (h *Handler) HandleTurn(ctx context.Context, req Request) (*Result, error) {
	if req.ConversationID == "" {
		return nil, mrerrors.Precondition("conversationId", "is required")
	}
	if req.Turn < 0 {
		return nil, mrerrors.Precondition("turn", "must be non-negative, got %d", req.Turn)
	}

	start := time.Now()
	ctx = logging.ContextWithConversation(ctx, req.ConversationID)
	ctx, span := h.tracer.StartTurnSpan(ctx, req.ConversationID, req.Turn, len(req.Uploads)+len(req.Reinjected))
	defer span.End()
	spanHelper := observability.NewSpanHelper(span)

	result, err := h.handle(ctx, req, start)
	if err != nil {
		spanHelper.SetError(err, mrerrors.IsErrorRetryable(err))
		h.logger.WithContext(ctx).Warn("Turn failed",
			logging.Err(err),
			logging.F("turn", req.Turn))
		return nil, err
	}

	rc := result.Context
	spanHelper.SetResolution(rc.ResolutionID, string(rc.Resolution.Method), rc.Resolution.Confidence, rc.Resolution.MatchedIndices)
	if rc.NeedsDisambiguation() {
		spanHelper.SetDisambiguation(string(rc.Disambiguation.Reason))
	}
	spanHelper.SetSuccess()
	return result, nil
}

func (h *Handler) handle(ctx context.Context, req Request, start time.Time) (*Result, error) {
	uploads, err := h.registerUploads(ctx, req)
	if err != nil {
		return nil, err
	}

	reg, version, err := h.load(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	uploads, err = h.addReinjected(reg, uploads, req.Reinjected)
	if err != nil {
		return nil, err
	}

	conversation := reg.Items()
	if h.metrics != nil {
		h.metrics.RecordRegistrySize(len(conversation))
	}

	_, resolveSpan := h.tracer.StartSpan(ctx, observability.SpanResolve)
	rc, err := h.resolver.Resolve(req.Message, uploads, conversation, req.Turn)
	resolveSpan.End()
	if err != nil {
		return nil, err
	}
	ctx = logging.ContextWithResolution(ctx, rc.ResolutionID)

	version, err = h.apply(ctx, req.ConversationID, version, rc.Updates)
	if err != nil {
		return nil, err
	}

	h.publish(ctx, req, rc)
	h.record(ctx, req, rc, time.Since(start))

	result := &Result{Context: rc, Version: version}
	if rc.NeedsDisambiguation() {
		result.DisambiguationText = resolver.FormatDisambiguation(rc.Disambiguation)
	} else {
		result.GroundingText = resolver.FormatMediaContextForAI(rc)
	}

	h.logger.WithContext(ctx).Debug("Turn handled",
		logging.F("method", string(rc.Resolution.Method)),
		logging.F("matched_indices", rc.Resolution.MatchedIndices),
		logging.F("version", version),
		logging.F("duration", time.Since(start)))
	return result, nil
}

// registerUploads stores the turn's uploads and returns their registry entries.
// Known URLs resolve to their existing entry but stay plain uploads; only
// Request.Reinjected marks an item as reinjected.
func (h *Handler) registerUploads(ctx context.Context, req Request) ([]media.EnhancedMedia, error) {
	if len(req.Uploads) == 0 {
		return nil, nil
	}
	ctx, span := h.tracer.StartStoreSpan(ctx, h.backend, "register")
	defer span.End()

	entries, err := h.store.Register(ctx, req.ConversationID, req.Uploads, req.Turn, media.MessageRoleUser)
	h.observeStore("register", err)
	if err != nil {
		return nil, fmt.Errorf("registering uploads: %w", err)
	}

	out := make([]media.EnhancedMedia, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, m := range entries {
		if seen[m.PersistentID] {
			continue
		}
		seen[m.PersistentID] = true
		out = append(out, m)
	}
	return out, nil
}

func (h *Handler) addReinjected(reg *media.Registry, uploads []media.EnhancedMedia, ids []string) ([]media.EnhancedMedia, error) {
	for _, id := range ids {
		m, ok := reg.Get(id)
		if !ok {
			return nil, mrerrors.Precondition("reinjected", "unknown media %s", id)
		}
		if containsID(uploads, id) {
			continue
		}
		m.IsReinjected = true
		uploads = append(uploads, m)
	}
	return uploads, nil
}

func (h *Handler) load(ctx context.Context, conversationID string) (*media.Registry, int64, error) {
	ctx, span := h.tracer.StartStoreSpan(ctx, h.backend, "load")
	defer span.End()

	reg, version, err := h.store.Load(ctx, conversationID)
	h.observeStore("load", err)
	if err != nil {
		return nil, 0, fmt.Errorf("loading registry: %w", err)
	}
	return reg, version, nil
}

func (h *Handler) apply(ctx context.Context, conversationID string, version int64, updates []media.Update) (int64, error) {
	if len(updates) == 0 {
		return version, nil
	}
	ctx, span := h.tracer.StartStoreSpan(ctx, h.backend, "apply")
	defer span.End()

	next, err := store.ApplyWithRetry(ctx, h.store, conversationID, version, updates, h.maxRetries, h.logger.WithContext(ctx))
	h.observeStore("apply", err)
	if err != nil {
		observability.NewSpanHelper(span).SetError(err, mrerrors.IsErrorRetryable(err))
		return 0, fmt.Errorf("storing resolution updates: %w", err)
	}
	return next, nil
}

func (h *Handler) publish(ctx context.Context, req Request, rc *resolver.RobustMediaContext) {
	ctx, span := h.tracer.StartSpan(ctx, observability.SpanPublish)
	defer span.End()

	var (
		eventType string
		err       error
	)
	if rc.NeedsDisambiguation() {
		eventType = events.EventMediaDisambiguationRequired
		err = h.publisher.PublishDisambiguationRequired(ctx, events.DisambiguationParams{
			ConversationID:   req.ConversationID,
			ResolutionID:     rc.ResolutionID,
			Turn:             req.Turn,
			Reason:           string(rc.Disambiguation.Reason),
			CandidateIndices: optionIndices(rc.Disambiguation),
			SuggestedAction:  rc.Disambiguation.SuggestedAction,
		})
	} else {
		eventType = events.EventMediaResolved
		err = h.publisher.PublishResolved(ctx, events.ResolvedParams{
			ConversationID: req.ConversationID,
			ResolutionID:   rc.ResolutionID,
			Turn:           req.Turn,
			Method:         string(rc.Resolution.Method),
			Confidence:     rc.Resolution.Confidence,
			MatchedIndices: rc.Resolution.MatchedIndices,
			UserIntent:     rc.Resolution.UserIntent,
			PersistentIDs:  persistentIDs(rc.ResolvedMedia),
		})
	}

	status := observability.StatusSuccess
	if err != nil {
		status = observability.StatusError
		observability.NewSpanHelper(span).SetError(err, true)
		h.logger.WithContext(ctx).Warn("Failed to publish resolution event",
			logging.Err(err),
			logging.F("event_type", eventType))
	}
	if h.metrics != nil {
		h.metrics.RecordEventPublished(eventType, status)
	}
}

func (h *Handler) record(ctx context.Context, req Request, rc *resolver.RobustMediaContext, elapsed time.Duration) {
	ctx, span := h.tracer.StartSpan(ctx, observability.SpanAudit)
	defer span.End()

	entry := audit.Entry{
		ConversationID: req.ConversationID,
		ResolutionID:   rc.ResolutionID,
		Turn:           req.Turn,
		Method:         string(rc.Resolution.Method),
		Confidence:     rc.Resolution.Confidence,
		MatchedIndices: rc.Resolution.MatchedIndices,
		UserIntent:     rc.Resolution.UserIntent,
		Message:        req.Message,
		Duration:       elapsed,
	}
	if rc.Disambiguation != nil {
		entry.Reason = string(rc.Disambiguation.Reason)
	}
	if err := h.recorder.Record(ctx, entry); err != nil {
		observability.NewSpanHelper(span).SetError(err, false)
		h.logger.WithContext(ctx).Warn("Failed to record audit entry", logging.Err(err))
	}
}

func (h *Handler) observeStore(operation string, err error) {
	if h.metrics == nil {
		return
	}
	status := observability.StatusSuccess
	switch {
	case mrerrors.IsVersionConflict(err):
		status = observability.StatusConflict
	case err != nil:
		status = observability.StatusError
	}
	h.metrics.RecordStoreOperation(h.backend, operation, status)
}

func optionIndices(req *resolver.DisambiguationRequest) []int {
	out := make([]int, 0, len(req.Options))
	for _, opt := range req.Options {
		out = append(out, opt.Media.DisplayIndex)
	}
	return out
}

func persistentIDs(items []media.EnhancedMedia) []string {
	out := make([]string, 0, len(items))
	for _, m := range items {
		out = append(out, m.PersistentID)
	}
	return out
}

func containsID(items []media.EnhancedMedia, id string) bool {
	for _, m := range items {
		if m.PersistentID == id {
			return true
		}
	}
	return false
}
