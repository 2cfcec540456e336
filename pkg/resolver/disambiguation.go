package resolver

import (
	"fmt"
	"sort"

	"github.com/otherjamesbrown/mediaref/pkg/media"
)

// Reason is the closed set of causes for asking the user to choose.
type Reason string

const (
	ReasonMultipleUploadsUnclearTarget Reason = "multiple_uploads_unclear_target"
	ReasonReferencedImageNotFound      Reason = "referenced_image_not_found"
	ReasonMultipleFilesSameName        Reason = "multiple_files_same_name"
	ReasonMultipleSemanticMatches      Reason = "multiple_semantic_matches"
)

// ReasonInfo describes a disambiguation reason.
type ReasonInfo struct {
	Description     string
	SuggestedAction string
	Prompt          string
}

// ReasonRegistry holds the metadata for every Reason.
var ReasonRegistry = map[Reason]ReasonInfo{
	ReasonMultipleUploadsUnclearTarget: {
		Description:     "Several files were uploaded and the message does not say which one to use",
		SuggestedAction: "Tell me which upload to edit, or say \"combine\" to use all of them",
		Prompt:          "You uploaded several files. Which one should I use?",
	},
	ReasonReferencedImageNotFound: {
		Description:     "The message refers to a media number that does not exist in this conversation",
		SuggestedAction: "Pick one of the listed items by its number",
		Prompt:          "I couldn't find that item. Did you mean one of these?",
	},
	ReasonMultipleFilesSameName: {
		Description:     "More than one media item matches the file name in the message",
		SuggestedAction: "Refer to the file by its number, for example \"image 2\"",
		Prompt:          "Several files match that name. Which one did you mean?",
	},
	ReasonMultipleSemanticMatches: {
		Description:     "More than one media item matches the description in the message",
		SuggestedAction: "Refer to the item by its number, for example \"image 2\"",
		Prompt:          "Several items match that description. Which one did you mean?",
	},
}

// IsValid reports whether r is a known reason.
func (r Reason) IsValid() bool {
	_, ok := ReasonRegistry[r]
	return ok
}

// Description returns the human-readable description of r.
func (r Reason) Description() string {
	return ReasonRegistry[r].Description
}

// SuggestedAction returns the default suggested action for r.
func (r Reason) SuggestedAction() string {
	return ReasonRegistry[r].SuggestedAction
}

func newDisambiguation(reason Reason, options []MediaOption, action string) *DisambiguationRequest {
	if action == "" {
		action = reason.SuggestedAction()
	}
	if options == nil {
		options = []MediaOption{}
	}
	return &DisambiguationRequest{
		Required:        true,
		Reason:          reason,
		Options:         options,
		SuggestedAction: action,
	}
}

// equalOptions offers every item with the same weight.
func equalOptions(items []media.EnhancedMedia, justify func(media.EnhancedMedia) string) []MediaOption {
	if len(items) == 0 {
		return nil
	}
	w := 1.0 / float64(len(items))
	opts := make([]MediaOption, 0, len(items))
	for _, m := range items {
		opts = append(opts, MediaOption{Media: m, Justification: justify(m), Confidence: w})
	}
	return opts
}

func uploadedAt(m media.EnhancedMedia) string {
	return fmt.Sprintf("%s, uploaded at turn %d", m.Label(), m.UploadTurn)
}

// byRecency orders items newest first; ties go to the higher display index.
func byRecency(items []media.EnhancedMedia) []media.EnhancedMedia {
	sorted := make([]media.EnhancedMedia, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].UploadTurn != sorted[j].UploadTurn {
			return sorted[i].UploadTurn > sorted[j].UploadTurn
		}
		return sorted[i].DisplayIndex > sorted[j].DisplayIndex
	})
	return sorted
}
