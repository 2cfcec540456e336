// Package resolver decides which media item(s) a chat message refers to.
package resolver

import (
	"github.com/otherjamesbrown/mediaref/pkg/media"
)

// Method names the strategy that produced a resolution.
type Method string

const (
	MethodExplicitUpload      Method = "explicit_upload"
	MethodReinjectedSelection Method = "reinjected_selection"
	MethodNumericReference    Method = "numeric_reference"
	MethodRecencyReference    Method = "recency_reference"
	MethodFilenameReference   Method = "filename_reference"
	MethodSemanticMatch       Method = "semantic_match"
	MethodAmbiguous           Method = "ambiguous"
	MethodFallback            Method = "fallback"
)

// Operation is the kind of edit a message asks for.
type Operation string

const (
	OperationCombine           Operation = "combine"
	OperationCompare           Operation = "compare"
	OperationMaskEdit          Operation = "mask_edit"
	OperationEditWithReference Operation = "edit_with_reference"
	OperationEdit              Operation = "edit"
)

// IntentNoMediaOperation is the intent reported when nothing in the message refers to media.
const IntentNoMediaOperation = "no_media_operation"

// MediaResolution describes how the target media was chosen.
type MediaResolution struct {
	Method         Method            `json:"method" yaml:"method"`
	Confidence     float64           `json:"confidence" yaml:"confidence"`
	MatchedIndices []int             `json:"matchedIndices" yaml:"matched_indices"`
	UserIntent     string            `json:"userIntent" yaml:"user_intent"`
	DebugInfo      map[string]string `json:"debugInfo,omitempty" yaml:"debug_info,omitempty"`
}

// MediaOption is one candidate offered to the user when the target is unclear.
type MediaOption struct {
	Media         media.EnhancedMedia `json:"media" yaml:"media"`
	Justification string              `json:"justification" yaml:"justification"`
	Confidence    float64             `json:"confidence" yaml:"confidence"`
}

// DisambiguationRequest asks the user to pick among candidates.
type DisambiguationRequest struct {
	Required        bool          `json:"required" yaml:"required"`
	Reason          Reason        `json:"reason" yaml:"reason"`
	Options         []MediaOption `json:"options" yaml:"options"`
	SuggestedAction string        `json:"suggestedAction,omitempty" yaml:"suggested_action,omitempty"`
}

// Stats summarises a resolution.
type Stats struct {
	TotalMedia       int            `json:"totalMedia" yaml:"total_media"`
	CurrentTurnCount int            `json:"currentTurnCount" yaml:"current_turn_count"`
	ResolvedCount    int            `json:"resolvedCount" yaml:"resolved_count"`
	ByType           map[string]int `json:"byType" yaml:"by_type"`
	ByRole           map[string]int `json:"byRole" yaml:"by_role"`
	PhasesEvaluated  int            `json:"phasesEvaluated" yaml:"phases_evaluated"`
}

// RobustMediaContext is the full outcome of one resolution.
//
// When Disambiguation is non-nil the caller must show the options to the user
// and must not forward media context to the model. Updates carry every
// statistic change the resolution implies; inputs are never modified.
type RobustMediaContext struct {
	ResolutionID     string                 `json:"resolutionId" yaml:"resolution_id"`
	CurrentTurnMedia []media.EnhancedMedia  `json:"currentTurnMedia" yaml:"current_turn_media"`
	AvailableMedia   []media.EnhancedMedia  `json:"availableMedia" yaml:"available_media"`
	ResolvedMedia    []media.EnhancedMedia  `json:"resolvedMedia" yaml:"resolved_media"`
	Resolution       MediaResolution        `json:"resolution" yaml:"resolution"`
	Disambiguation   *DisambiguationRequest `json:"disambiguation,omitempty" yaml:"disambiguation,omitempty"`
	Stats            Stats                  `json:"stats" yaml:"stats"`
	Updates          []media.Update         `json:"updates,omitempty" yaml:"updates,omitempty"`
}

// NeedsDisambiguation reports whether the user has to choose before the turn can proceed.
func (c *RobustMediaContext) NeedsDisambiguation() bool {
	return c != nil && c.Disambiguation != nil && c.Disambiguation.Required
}
