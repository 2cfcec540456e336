package cmd

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/otherjamesbrown/mediaref/config"
	"github.com/otherjamesbrown/mediaref/pkg/media"
	"github.com/otherjamesbrown/mediaref/pkg/resolver"
	"github.com/otherjamesbrown/mediaref/pkg/turn"
)

func TestNewResolveCommand(t *testing.T) {
	deps, _ := createTestDeps(t, testConfig(config.OutputFormatText))
	cmd := NewResolveCommand(deps)

	if cmd.Use != "resolve <message>" {
		t.Errorf("Use = %q", cmd.Use)
	}
	for _, flag := range []string{"conversation", "conversation-id", "upload", "reinject", "turn", "show-updates"} {
		if cmd.Flags().Lookup(flag) == nil {
			t.Errorf("expected flag %q to exist", flag)
		}
	}
}

func TestNewResolveCommand_WithNilDeps(t *testing.T) {
	if cmd := NewResolveCommand(nil); cmd == nil {
		t.Fatal("NewResolveCommand with nil deps returned nil")
	}
}

func decodeResult(t *testing.T, data []byte) *turn.Result {
	t.Helper()
	var result turn.Result
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decoding output: %v\n%s", err, data)
	}
	if result.Context == nil {
		t.Fatalf("output has no context:\n%s", data)
	}
	return &result
}

func TestResolve_ConversationFile_Numeric(t *testing.T) {
	deps, stdout := createTestDeps(t, testConfig(config.OutputFormatJSON))
	path := writeConversation(t, "chat.json", testConversation)

	cmd := NewResolveCommand(deps)
	cmd.SetArgs([]string{"edit image 2", "--conversation", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	result := decodeResult(t, stdout.Bytes())
	rc := result.Context
	if rc.Resolution.Method != resolver.MethodNumericReference {
		t.Errorf("Method = %q, want %q", rc.Resolution.Method, resolver.MethodNumericReference)
	}
	if len(rc.ResolvedMedia) != 1 || rc.ResolvedMedia[0].FileName != "dog.png" {
		t.Fatalf("ResolvedMedia = %+v, want dog.png", rc.ResolvedMedia)
	}
	if result.GroundingText == "" {
		t.Error("expected grounding text")
	}
	if len(rc.Updates) == 0 {
		t.Error("expected registry updates for the referenced item")
	}
}

func TestResolve_ConversationFile_Text(t *testing.T) {
	deps, stdout := createTestDeps(t, testConfig(config.OutputFormatText))
	path := writeConversation(t, "chat.json", testConversation)

	cmd := NewResolveCommand(deps)
	cmd.SetArgs([]string{"make image 1 brighter", "-c", path, "--show-updates"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	out := stdout.String()
	for _, want := range []string{"numeric_reference", "Image 1 (cat.png)", "Registry updates:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestResolve_ConversationFile_ReinjectUnknown(t *testing.T) {
	deps, _ := createTestDeps(t, testConfig(config.OutputFormatJSON))
	path := writeConversation(t, "chat.json", testConversation)

	cmd := NewResolveCommand(deps)
	cmd.SetArgs([]string{"use this", "-c", path, "--reinject", "img_missing"})
	cmd.SilenceUsage = true
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for unknown reinjected media")
	}
}

func TestResolve_Store_ExplicitUploads(t *testing.T) {
	deps, stdout := createTestDeps(t, testConfig(config.OutputFormatJSON))

	cmd := NewResolveCommand(deps)
	cmd.SetArgs([]string{"combine these",
		"--conversation-id", "conv-local",
		"--upload", "https://cdn.example.com/cat.png",
		"--upload", "https://cdn.example.com/dog.png",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	rc := decodeResult(t, stdout.Bytes()).Context
	if rc.Resolution.Method != resolver.MethodExplicitUpload {
		t.Errorf("Method = %q, want %q", rc.Resolution.Method, resolver.MethodExplicitUpload)
	}
	if got := rc.Resolution.MatchedIndices; len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("MatchedIndices = %v, want [1 2]", got)
	}
}

func TestResolve_ConversationFile_ReuploadIsNotReinjected(t *testing.T) {
	deps, stdout := createTestDeps(t, testConfig(config.OutputFormatJSON))
	path := writeConversation(t, "chat.json", testConversation)

	cmd := NewResolveCommand(deps)
	cmd.SetArgs([]string{"make it red", "-c", path,
		"--upload", "https://cdn.example.com/cat.png",
		"--upload", "https://cdn.example.com/dog.png",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	rc := decodeResult(t, stdout.Bytes()).Context
	if !rc.NeedsDisambiguation() {
		t.Fatalf("expected disambiguation, got method %q", rc.Resolution.Method)
	}
	if rc.Disambiguation.Reason != resolver.ReasonMultipleUploadsUnclearTarget {
		t.Errorf("Reason = %q, want %q", rc.Disambiguation.Reason, resolver.ReasonMultipleUploadsUnclearTarget)
	}
	if len(rc.ResolvedMedia) != 0 {
		t.Errorf("ResolvedMedia = %+v, want none", rc.ResolvedMedia)
	}
}

func TestResolve_RequiresConversation(t *testing.T) {
	deps, _ := createTestDeps(t, testConfig(config.OutputFormatText))
	err := runResolve(context.Background(), deps, &resolveOptions{turn: -1}, "edit this")
	if err == nil || !strings.Contains(err.Error(), "--conversation") {
		t.Fatalf("expected missing conversation error, got %v", err)
	}
}

func TestResolve_InvalidUpload(t *testing.T) {
	deps, _ := createTestDeps(t, testConfig(config.OutputFormatText))
	opts := &resolveOptions{conversationID: "c", uploads: []string{"#logo.png"}, turn: -1}
	if err := runResolve(context.Background(), deps, opts, "edit this"); err == nil {
		t.Fatal("expected error for upload without URL")
	}
}

func TestResolve_Remote(t *testing.T) {
	cfg := testConfig(config.OutputFormatJSON)
	cfg.Client.ServerAddress = "bufnet"
	deps, stdout := createTestDeps(t, cfg)
	deps.InitClient = startBufServer(t)

	first := &resolveOptions{
		conversationID: "conv-remote",
		uploads:        []string{"https://cdn.example.com/cat.png", "https://cdn.example.com/dog.png"},
		turn:           -1,
	}
	if err := runResolve(context.Background(), deps, first, "combine these"); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if got := decodeResult(t, stdout.Bytes()).Context.Resolution.Method; got != resolver.MethodExplicitUpload {
		t.Errorf("first Method = %q", got)
	}

	stdout.Reset()
	second := &resolveOptions{conversationID: "conv-remote", turn: -1}
	if err := runResolve(context.Background(), deps, second, "edit image 2"); err != nil {
		t.Fatalf("second turn: %v", err)
	}
	rc := decodeResult(t, stdout.Bytes()).Context
	if rc.Resolution.Method != resolver.MethodNumericReference {
		t.Errorf("second Method = %q, want %q", rc.Resolution.Method, resolver.MethodNumericReference)
	}
	if len(rc.ResolvedMedia) != 1 || rc.ResolvedMedia[0].FileName != "dog.png" {
		t.Errorf("ResolvedMedia = %+v, want dog.png", rc.ResolvedMedia)
	}
}

func TestNextTurn(t *testing.T) {
	if got := nextTurn(nil); got != 0 {
		t.Errorf("nextTurn(nil) = %d, want 0", got)
	}
	items := []media.EnhancedMedia{
		{PersistentID: "a", UploadTurn: 0, LastReferencedTurn: 4},
		{PersistentID: "b", UploadTurn: 2, LastReferencedTurn: 2},
	}
	if got := nextTurn(items); got != 5 {
		t.Errorf("nextTurn() = %d, want 5", got)
	}
}

func TestAppendUnique(t *testing.T) {
	a := media.EnhancedMedia{PersistentID: "a"}
	items := appendUnique(nil, a)
	items = appendUnique(items, a)
	items = appendUnique(items, media.EnhancedMedia{PersistentID: "b"})
	if len(items) != 2 {
		t.Errorf("got %d items, want 2", len(items))
	}
}
