// Package media holds the canonical record for media exchanged in a conversation
// and the registry that assigns each item its permanent display index.
package media

import (
	"fmt"
	"path"
	"strings"
)

// Type is the broad kind of a media item.
type Type string

const (
	TypeImage Type = "image"
	TypeVideo Type = "video"
	TypePDF   Type = "pdf"
	TypeAudio Type = "audio"
)

// IsValid reports whether t is a known media type.
func (t Type) IsValid() bool {
	switch t {
	case TypeImage, TypeVideo, TypePDF, TypeAudio:
		return true
	}
	return false
}

// Source records where a media item came from.
type Source string

const (
	SourceUserUpload   Source = "user_upload"
	SourceMediaLibrary Source = "media_library"
	SourceAIGenerated  Source = "ai_generated"
)

// Role is the part a media item plays in a single resolution. It is never persisted.
type Role string

const (
	RoleNone           Role = ""
	RolePrimary        Role = "primary"
	RoleReference      Role = "reference"
	RoleMask           Role = "mask"
	RoleStyleReference Role = "style_reference"
)

// MessageRole is the author of a conversation message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// SourceFor maps a message author to the source recorded for media first seen in that message.
func SourceFor(role MessageRole) Source {
	switch role {
	case MessageRoleAssistant:
		return SourceAIGenerated
	case MessageRoleSystem:
		return SourceMediaLibrary
	default:
		return SourceUserUpload
	}
}

// EnhancedMedia is one media item as known to the conversation.
//
// PersistentID and DisplayIndex are assigned once by the Registry and never change.
// SemanticTags is nil until computed; an empty non-nil slice means "computed, no tags".
type EnhancedMedia struct {
	PersistentID  string `json:"persistentId" yaml:"persistent_id"`
	URL           string `json:"url" yaml:"url"`
	Type          Type   `json:"type" yaml:"type"`
	MimeType      string `json:"mimeType,omitempty" yaml:"mime_type,omitempty"`
	FileSizeBytes int64  `json:"fileSizeBytes,omitempty" yaml:"file_size_bytes,omitempty"`
	FileName      string `json:"fileName,omitempty" yaml:"file_name,omitempty"`

	DisplayIndex int    `json:"displayIndex" yaml:"display_index"`
	UploadTurn   int    `json:"uploadTurn" yaml:"upload_turn"`
	Source       Source `json:"source" yaml:"source"`

	SemanticTags []string `json:"semanticTags" yaml:"semantic_tags,omitempty"`
	Role         Role     `json:"role,omitempty" yaml:"role,omitempty"`

	ReferenceCount     int `json:"referenceCount" yaml:"reference_count"`
	LastReferencedTurn int `json:"lastReferencedTurn" yaml:"last_referenced_turn"`

	IsReinjected bool `json:"isReinjected,omitempty" yaml:"is_reinjected,omitempty"`
}

// Clone returns a copy that shares no slices with m.
func (m EnhancedMedia) Clone() EnhancedMedia {
	if m.SemanticTags != nil {
		m.SemanticTags = append([]string(nil), m.SemanticTags...)
	}
	return m
}

// HasTags reports whether semantic tags have been computed.
func (m EnhancedMedia) HasTags() bool {
	return m.SemanticTags != nil
}

// WithRole returns a copy of m carrying role.
func (m EnhancedMedia) WithRole(role Role) EnhancedMedia {
	c := m.Clone()
	c.Role = role
	return c
}

// Noun is the user-facing word for the item's type ("image", "video", ...).
func (m EnhancedMedia) Noun() string {
	switch m.Type {
	case TypePDF:
		return "document"
	case "":
		return "media"
	default:
		return string(m.Type)
	}
}

// Label renders the item the way users refer to it, e.g. "Image 2 (logo.png)".
func (m EnhancedMedia) Label() string {
	noun := m.Noun()
	label := fmt.Sprintf("%s%s %d", strings.ToUpper(noun[:1]), noun[1:], m.DisplayIndex)
	if m.FileName != "" {
		label += " (" + m.FileName + ")"
	}
	return label
}

// RawMedia is an attachment as supplied by the message store or upload pipeline.
type RawMedia struct {
	Type          Type   `json:"type" yaml:"type"`
	URL           string `json:"url" yaml:"url"`
	FileName      string `json:"fileName,omitempty" yaml:"file_name,omitempty"`
	MimeType      string `json:"mimeType,omitempty" yaml:"mime_type,omitempty"`
	FileSizeBytes int64  `json:"fileSizeBytes,omitempty" yaml:"file_size_bytes,omitempty"`
	PersistentID  string `json:"persistentId,omitempty" yaml:"persistent_id,omitempty"`
	Source        Source `json:"source,omitempty" yaml:"source,omitempty"`
}

// Message is one conversation message with its attachments.
type Message struct {
	Role    MessageRole `json:"role" yaml:"role"`
	Content string      `json:"content" yaml:"content"`
	Media   []RawMedia  `json:"media,omitempty" yaml:"media,omitempty"`
}

// InferType fills in a missing type from the mime type or the file extension.
func InferType(raw RawMedia) Type {
	if raw.Type.IsValid() {
		return raw.Type
	}
	switch mt := strings.ToLower(raw.MimeType); {
	case strings.HasPrefix(mt, "image/"):
		return TypeImage
	case strings.HasPrefix(mt, "video/"):
		return TypeVideo
	case strings.HasPrefix(mt, "audio/"):
		return TypeAudio
	case mt == "application/pdf":
		return TypePDF
	}

	name := raw.FileName
	if name == "" {
		name = raw.URL
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".mp4", ".mov", ".webm":
		return TypeVideo
	case ".pdf":
		return TypePDF
	case ".mp3", ".wav", ".m4a", ".ogg":
		return TypeAudio
	default:
		return TypeImage
	}
}
