package resolver

import (
	"fmt"
	"strings"

	"github.com/otherjamesbrown/mediaref/pkg/media"
)

// FormatMediaListForUser renders the numbered media list shown to users.
func FormatMediaListForUser(items []media.EnhancedMedia) string {
	if len(items) == 0 {
		return "No media has been shared in this conversation yet."
	}
	var sb strings.Builder
	sb.WriteString("Media in this conversation:\n")
	for _, m := range items {
		fmt.Fprintf(&sb, "  %d. %s", m.DisplayIndex, m.Label())
		switch m.Source {
		case media.SourceAIGenerated:
			sb.WriteString(" [generated]")
		case media.SourceMediaLibrary:
			sb.WriteString(" [library]")
		}
		if m.IsReinjected {
			sb.WriteString(" [attached again]")
		}
		fmt.Fprintf(&sb, " - turn %d\n", m.UploadTurn)
	}
	return sb.String()
}

// FormatMediaContextForAI renders the grounding text for the language model.
// It returns "" when nothing was resolved or the user still has to choose.
func FormatMediaContextForAI(ctx *RobustMediaContext) string {
	if ctx == nil || ctx.NeedsDisambiguation() || len(ctx.ResolvedMedia) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "[Media context: %s, method=%s, confidence=%.2f]\n",
		ctx.Resolution.UserIntent, ctx.Resolution.Method, ctx.Resolution.Confidence)
	for _, m := range ctx.ResolvedMedia {
		fmt.Fprintf(&sb, "- %s %d", m.Noun(), m.DisplayIndex)
		if m.FileName != "" {
			fmt.Fprintf(&sb, " file=%q", m.FileName)
		}
		fmt.Fprintf(&sb, " type=%s", m.Type)
		if m.Role != media.RoleNone {
			fmt.Fprintf(&sb, " role=%s", m.Role)
		}
		if len(m.SemanticTags) > 0 {
			fmt.Fprintf(&sb, " tags=%s", strings.Join(m.SemanticTags, ","))
		}
		fmt.Fprintf(&sb, " url=%s\n", m.URL)
	}
	return sb.String()
}

// FormatDisambiguation renders the question and options shown to the user.
func FormatDisambiguation(req *DisambiguationRequest) string {
	if req == nil || !req.Required {
		return ""
	}
	var sb strings.Builder
	prompt := ReasonRegistry[req.Reason].Prompt
	if prompt == "" {
		prompt = "Which media did you mean?"
	}
	sb.WriteString(prompt)
	sb.WriteString("\n")
	for i, opt := range req.Options {
		fmt.Fprintf(&sb, "  %d) %s\n", i+1, opt.Justification)
	}
	if req.SuggestedAction != "" {
		sb.WriteString(req.SuggestedAction)
		sb.WriteString("\n")
	}
	return sb.String()
}
