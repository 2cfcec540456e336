package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/mediaref/config"
	"github.com/otherjamesbrown/mediaref/pkg/logging"
	"github.com/otherjamesbrown/mediaref/pkg/media"
	"github.com/otherjamesbrown/mediaref/pkg/resolver"
	"github.com/otherjamesbrown/mediaref/pkg/turn"
)

// resolveOptions holds the flags of the resolve command.
type resolveOptions struct {
	conversationFile string
	conversationID   string
	uploads          []string
	reinjected       []string
	turn             int
	showUpdates      bool
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(deps *CommandDeps) *cobra.Command {
	deps = withDefaults(deps)
	opts := &resolveOptions{}

	cmd := &cobra.Command{
		Use:   "resolve <message>",
		Short: "Resolve which media a message refers to",
		Long: `Resolve which media a user message refers to.

The conversation comes from one of two places:

  --conversation FILE     a JSON or YAML file of messages with attachments;
                          the message is treated as the next turn
  --conversation-id ID    a registry held in the configured store, or on the
                          server when one is configured

Uploads attached with the message are given as --upload url[#fileName].

Examples:
  mediaref resolve "make image 2 brighter" --conversation chat.json
  mediaref resolve "combine these" --conversation-id c-42 \
      --upload https://cdn.example.com/a.png --upload https://cdn.example.com/b.png
  mediaref resolve "use the logo" --conversation-id c-42 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd.Context(), deps, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.conversationFile, "conversation", "c", "", "Conversation file (JSON or YAML)")
	cmd.Flags().StringVar(&opts.conversationID, "conversation-id", "", "Conversation ID in the registry store")
	cmd.Flags().StringArrayVarP(&opts.uploads, "upload", "u", nil, "Media uploaded with the message (url[#fileName])")
	cmd.Flags().StringSliceVar(&opts.reinjected, "reinject", nil, "Persistent IDs of earlier media attached again")
	cmd.Flags().IntVar(&opts.turn, "turn", -1, "Turn index of the message (default: next turn)")
	cmd.Flags().BoolVar(&opts.showUpdates, "show-updates", false, "Include registry updates in text output")
	cmd.MarkFlagsMutuallyExclusive("conversation", "conversation-id")

	return cmd
}

func runResolve(ctx context.Context, deps *CommandDeps, opts *resolveOptions, message string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.conversationFile == "" && opts.conversationID == "" {
		return fmt.Errorf("one of --conversation or --conversation-id is required")
	}

	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := deps.NewLogger(cfg)

	uploads := make([]media.RawMedia, 0, len(opts.uploads))
	for _, u := range opts.uploads {
		raw, err := parseUpload(u)
		if err != nil {
			return err
		}
		uploads = append(uploads, raw)
	}

	var result *turn.Result
	switch {
	case opts.conversationFile != "":
		result, err = resolveFromFile(cfg, logger, opts, message, uploads)
	case cfg.Client.ServerAddress != "":
		result, err = resolveRemote(ctx, deps, cfg, opts, message, uploads)
	default:
		result, err = resolveLocal(ctx, deps, cfg, logger, opts, message, uploads)
	}
	if err != nil {
		return err
	}

	return writeOutput(deps.Stdout, cfg.OutputFormat, result, func(w io.Writer) error {
		return printResolveText(w, result, opts.showUpdates)
	})
}

// resolveFromFile resolves against a registry rebuilt from a conversation file.
// Nothing is persisted; the updates are reported only.
func resolveFromFile(cfg *config.Config, logger logging.Logger, opts *resolveOptions, message string, uploads []media.RawMedia) (*turn.Result, error) {
	conv, err := loadConversationFile(opts.conversationFile)
	if err != nil {
		return nil, err
	}
	reg, err := media.BuildRegistry(conv.Messages)
	if err != nil {
		return nil, fmt.Errorf("building registry: %w", err)
	}

	currentTurn := opts.turn
	if currentTurn < 0 {
		currentTurn = len(conv.Messages)
	}

	added, err := reg.AddMessage(media.Message{Role: media.MessageRoleUser, Content: message, Media: uploads}, currentTurn)
	if err != nil {
		return nil, err
	}
	current := make([]media.EnhancedMedia, 0, len(added)+len(opts.reinjected))
	for _, m := range added {
		current = appendUnique(current, m)
	}
	for _, id := range opts.reinjected {
		m, ok := reg.Get(id)
		if !ok {
			return nil, fmt.Errorf("reinjected media %s is not in the conversation", id)
		}
		m.IsReinjected = true
		current = appendUnique(current, m)
	}

	r := resolver.NewResolver(cfg.Resolver, nil, logger, nil)
	rc, err := r.Resolve(message, current, reg.Items(), currentTurn)
	if err != nil {
		return nil, err
	}
	if err := reg.Apply(rc.Updates); err != nil {
		return nil, fmt.Errorf("applying updates: %w", err)
	}

	return newTurnResult(rc, 0), nil
}

// resolveLocal runs the turn against the configured store in-process.
func resolveLocal(ctx context.Context, deps *CommandDeps, cfg *config.Config, logger logging.Logger, opts *resolveOptions, message string, uploads []media.RawMedia) (*turn.Result, error) {
	applyStoredSecrets(cfg, deps.NewCredentialStore, logger)

	rt, err := newRuntime(ctx, cfg, logger, runtimeOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("Failed to close runtime", logging.Err(err))
		}
	}()

	currentTurn := opts.turn
	if currentTurn < 0 {
		reg, _, err := rt.Store.Load(ctx, opts.conversationID)
		if err != nil {
			return nil, fmt.Errorf("loading registry: %w", err)
		}
		currentTurn = nextTurn(reg.Items())
	}

	return rt.Handler.HandleTurn(ctx, turn.Request{
		ConversationID: opts.conversationID,
		Message:        message,
		Uploads:        uploads,
		Reinjected:     opts.reinjected,
		Turn:           currentTurn,
	})
}

// resolveRemote sends the turn to a mediaref server.
func resolveRemote(ctx context.Context, deps *CommandDeps, cfg *config.Config, opts *resolveOptions, message string, uploads []media.RawMedia) (*turn.Result, error) {
	c, err := deps.InitClient(ctx, &cfg.Client)
	if err != nil {
		return nil, fmt.Errorf("connecting to server: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.Client.Timeout)
	defer cancel()

	currentTurn := opts.turn
	if currentTurn < 0 {
		list, err := c.ListMedia(ctx, opts.conversationID)
		if err != nil {
			return nil, err
		}
		currentTurn = nextTurn(list.Media)
	}

	var result *turn.Result
	err = c.WithRetry(ctx, func() error {
		var callErr error
		result, callErr = c.ResolveTurn(ctx, &turn.Request{
			ConversationID: opts.conversationID,
			Message:        message,
			Uploads:        uploads,
			Reinjected:     opts.reinjected,
			Turn:           currentTurn,
		})
		return callErr
	})
	return result, err
}

// nextTurn is the turn after the latest one any item was uploaded or referenced in.
func nextTurn(items []media.EnhancedMedia) int {
	if len(items) == 0 {
		return 0
	}
	latest := 0
	for _, m := range items {
		latest = max(latest, m.UploadTurn, m.LastReferencedTurn)
	}
	return latest + 1
}

func appendUnique(items []media.EnhancedMedia, m media.EnhancedMedia) []media.EnhancedMedia {
	for _, existing := range items {
		if existing.PersistentID == m.PersistentID {
			return items
		}
	}
	return append(items, m)
}

func newTurnResult(rc *resolver.RobustMediaContext, version int64) *turn.Result {
	result := &turn.Result{Context: rc, Version: version}
	if rc.NeedsDisambiguation() {
		result.DisambiguationText = resolver.FormatDisambiguation(rc.Disambiguation)
	} else {
		result.GroundingText = resolver.FormatMediaContextForAI(rc)
	}
	return result
}

func printResolveText(w io.Writer, result *turn.Result, showUpdates bool) error {
	rc := result.Context
	fmt.Fprintf(w, "Resolution:  %s\n", rc.ResolutionID)
	fmt.Fprintf(w, "Method:      %s (confidence %.2f)\n", rc.Resolution.Method, rc.Resolution.Confidence)
	fmt.Fprintf(w, "Intent:      %s\n", rc.Resolution.UserIntent)
	if result.Version > 0 {
		fmt.Fprintf(w, "Version:     %d\n", result.Version)
	}
	fmt.Fprintln(w)

	if rc.NeedsDisambiguation() {
		fmt.Fprintln(w, result.DisambiguationText)
	} else if len(rc.ResolvedMedia) == 0 {
		fmt.Fprintln(w, "No media referenced.")
	} else {
		fmt.Fprintln(w, "Resolved media:")
		for _, m := range rc.ResolvedMedia {
			line := "  " + m.Label()
			if m.Role != media.RoleNone {
				line += " [" + string(m.Role) + "]"
			}
			fmt.Fprintln(w, line)
		}
	}

	if showUpdates && len(rc.Updates) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Registry updates:")
		for _, u := range rc.Updates {
			fmt.Fprintf(w, "  %s %s\n", u.Kind, u.PersistentID)
		}
	}
	return nil
}
