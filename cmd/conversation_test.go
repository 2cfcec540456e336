package cmd

import (
	"testing"

	"github.com/otherjamesbrown/mediaref/pkg/media"
)

func TestParseUpload(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		wantURL  string
		wantName string
		wantType media.Type
		wantErr  bool
	}{
		{
			name:     "url only",
			value:    "https://cdn.example.com/uploads/logo.png",
			wantURL:  "https://cdn.example.com/uploads/logo.png",
			wantName: "logo.png",
			wantType: media.TypeImage,
		},
		{
			name:     "explicit name",
			value:    "https://cdn.example.com/x/abc123#holiday.mp4",
			wantURL:  "https://cdn.example.com/x/abc123",
			wantName: "holiday.mp4",
			wantType: media.TypeVideo,
		},
		{
			name:     "query string dropped from name",
			value:    "https://cdn.example.com/a/report.pdf?sig=xyz",
			wantURL:  "https://cdn.example.com/a/report.pdf?sig=xyz",
			wantName: "report.pdf",
			wantType: media.TypePDF,
		},
		{name: "empty", value: "  ", wantErr: true},
		{name: "name without url", value: "#logo.png", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := parseUpload(tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if raw.URL != tt.wantURL {
				t.Errorf("URL = %q, want %q", raw.URL, tt.wantURL)
			}
			if raw.FileName != tt.wantName {
				t.Errorf("FileName = %q, want %q", raw.FileName, tt.wantName)
			}
			if raw.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", raw.Type, tt.wantType)
			}
		})
	}
}

func TestLoadConversationFile_JSON(t *testing.T) {
	path := writeConversation(t, "chat.json", testConversation)

	conv, err := loadConversationFile(path)
	if err != nil {
		t.Fatalf("loadConversationFile() error = %v", err)
	}
	if conv.ConversationID != "conv-file" {
		t.Errorf("ConversationID = %q", conv.ConversationID)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(conv.Messages))
	}
	if got := conv.Messages[0].Media[1].FileName; got != "dog.png" {
		t.Errorf("second attachment = %q, want dog.png", got)
	}
	if conv.Messages[1].Role != media.MessageRoleAssistant {
		t.Errorf("second role = %q", conv.Messages[1].Role)
	}
}

func TestLoadConversationFile_YAML(t *testing.T) {
	path := writeConversation(t, "chat.yaml", `conversation_id: conv-yaml
messages:
  - role: user
    content: logo attached
    media:
      - type: image
        url: https://cdn.example.com/logo.png
        file_name: logo.png
`)

	conv, err := loadConversationFile(path)
	if err != nil {
		t.Fatalf("loadConversationFile() error = %v", err)
	}
	if conv.ConversationID != "conv-yaml" {
		t.Errorf("ConversationID = %q", conv.ConversationID)
	}
	if len(conv.Messages) != 1 || len(conv.Messages[0].Media) != 1 {
		t.Fatalf("unexpected messages: %+v", conv.Messages)
	}
	if got := conv.Messages[0].Media[0].FileName; got != "logo.png" {
		t.Errorf("FileName = %q, want logo.png", got)
	}
}

func TestLoadConversationFile_Errors(t *testing.T) {
	if _, err := loadConversationFile("/nonexistent/chat.json"); err == nil {
		t.Error("expected error for missing file")
	}
	path := writeConversation(t, "bad.json", "{not json")
	if _, err := loadConversationFile(path); err == nil {
		t.Error("expected error for malformed file")
	}
}
