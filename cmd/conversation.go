package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	mrerrors "github.com/otherjamesbrown/mediaref/pkg/errors"
	"github.com/otherjamesbrown/mediaref/pkg/media"
)

// ConversationFile is the on-disk form of a conversation: its messages in
// order, each with the attachments it carried.
type ConversationFile struct {
	ConversationID string          `json:"conversation_id" yaml:"conversation_id"`
	Messages       []media.Message `json:"messages" yaml:"messages"`
}

// loadConversationFile reads a conversation from JSON, or YAML when the file
// ends in .yaml or .yml.
func loadConversationFile(path string) (*ConversationFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading conversation file: %w", err)
	}

	var conv ConversationFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &conv)
	default:
		err = json.Unmarshal(data, &conv)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing conversation file %s: %w", path, err)
	}
	return &conv, nil
}

// parseUpload parses an --upload value of the form url[#fileName].
// Without a fragment the file name is the last path segment of the URL.
func parseUpload(value string) (media.RawMedia, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return media.RawMedia{}, mrerrors.Precondition("upload", "empty value")
	}

	url, name, hasName := strings.Cut(value, "#")
	if url == "" {
		return media.RawMedia{}, mrerrors.Precondition("upload", "%q has no URL", value)
	}
	if !hasName || name == "" {
		name = lastSegment(url)
	}

	raw := media.RawMedia{URL: url, FileName: name}
	raw.Type = media.InferType(raw)
	return raw, nil
}

func lastSegment(url string) string {
	if i := strings.IndexAny(url, "?"); i >= 0 {
		url = url[:i]
	}
	url = strings.TrimRight(url, "/")
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}
