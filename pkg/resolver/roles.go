package resolver

import (
	"strings"

	"github.com/otherjamesbrown/mediaref/pkg/extract"
	"github.com/otherjamesbrown/mediaref/pkg/media"
)

type operationRule struct {
	op       Operation
	keywords []string
}

// Checked in priority order.
var operationRules = []operationRule{
	{OperationCombine, []string{"combine", "merge", "collage"}},
	{OperationCompare, []string{"compare", "which", "better"}},
	{OperationMaskEdit, []string{"mask", "inpaint"}},
	{OperationEditWithReference, []string{"style", "reference"}},
}

// DetectOperation classifies the edit a message asks for. Anything that does
// not name a more specific operation is a plain edit.
func DetectOperation(text string) Operation {
	for _, rule := range operationRules {
		if extract.ContainsAny(text, rule.keywords...) {
			return rule.op
		}
	}
	return OperationEdit
}

// AssignMediaRoles returns copies of items with roles set for the operation
// detected in text. The input slice and its elements are not modified.
func AssignMediaRoles(items []media.EnhancedMedia, text string) []media.EnhancedMedia {
	return assignRoles(items, DetectOperation(text))
}

func assignRoles(items []media.EnhancedMedia, op Operation) []media.EnhancedMedia {
	out := make([]media.EnhancedMedia, 0, len(items))
	switch op {
	case OperationCombine, OperationCompare:
		for _, m := range items {
			out = append(out, m.WithRole(media.RoleReference))
		}

	case OperationMaskEdit:
		primaryAssigned := false
		for _, m := range items {
			switch {
			case isMask(m):
				out = append(out, m.WithRole(media.RoleMask))
			case !primaryAssigned:
				out = append(out, m.WithRole(media.RolePrimary))
				primaryAssigned = true
			default:
				out = append(out, m.WithRole(media.RoleReference))
			}
		}

	default:
		for i, m := range items {
			role := media.RoleReference
			if i == 0 {
				role = media.RolePrimary
			}
			out = append(out, m.WithRole(role))
		}
	}
	return out
}

func isMask(m media.EnhancedMedia) bool {
	return strings.Contains(extract.Fold(m.FileName), "mask")
}
