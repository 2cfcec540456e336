package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/mediaref/pkg/logging"
	"github.com/otherjamesbrown/mediaref/pkg/media"
	"github.com/otherjamesbrown/mediaref/pkg/resolver"
	"github.com/otherjamesbrown/mediaref/pkg/rpc"
)

// NewRegistryCommand creates the registry command group.
func NewRegistryCommand(deps *CommandDeps) *cobra.Command {
	deps = withDefaults(deps)

	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect conversation media registries",
	}
	cmd.AddCommand(newRegistryShowCommand(deps))
	return cmd
}

func newRegistryShowCommand(deps *CommandDeps) *cobra.Command {
	var (
		conversationFile string
		conversationID   string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "List the media known to a conversation",
		Long: `List the media known to a conversation in display order.

Examples:
  mediaref registry show --conversation chat.json
  mediaref registry show --conversation-id c-42 -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegistryShow(cmd.Context(), deps, conversationFile, conversationID)
		},
	}

	cmd.Flags().StringVarP(&conversationFile, "conversation", "c", "", "Conversation file (JSON or YAML)")
	cmd.Flags().StringVar(&conversationID, "conversation-id", "", "Conversation ID in the registry store")
	cmd.MarkFlagsMutuallyExclusive("conversation", "conversation-id")
	return cmd
}

func runRegistryShow(ctx context.Context, deps *CommandDeps, conversationFile, conversationID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if conversationFile == "" && conversationID == "" {
		return fmt.Errorf("one of --conversation or --conversation-id is required")
	}

	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := deps.NewLogger(cfg)

	var resp *rpc.ListMediaResponse
	switch {
	case conversationFile != "":
		conv, err := loadConversationFile(conversationFile)
		if err != nil {
			return err
		}
		reg, err := media.BuildRegistry(conv.Messages)
		if err != nil {
			return fmt.Errorf("building registry: %w", err)
		}
		resp = listing(conv.ConversationID, 0, reg.Items())

	case cfg.Client.ServerAddress != "":
		c, err := deps.InitClient(ctx, &cfg.Client)
		if err != nil {
			return fmt.Errorf("connecting to server: %w", err)
		}
		defer c.Close()
		ctx, cancel := context.WithTimeout(ctx, cfg.Client.Timeout)
		defer cancel()
		if resp, err = c.ListMedia(ctx, conversationID); err != nil {
			return err
		}

	default:
		applyStoredSecrets(cfg, deps.NewCredentialStore, logger)
		st, err := openStore(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer st.Close()
		reg, version, err := st.Load(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("loading registry: %w", err)
		}
		resp = listing(conversationID, version, reg.Items())
	}

	logger.Debug("Registry loaded",
		logging.F("conversation_id", resp.ConversationID),
		logging.F("items", len(resp.Media)))

	return writeOutput(deps.Stdout, cfg.OutputFormat, resp, func(w io.Writer) error {
		return printRegistryText(w, resp)
	})
}

func listing(conversationID string, version int64, items []media.EnhancedMedia) *rpc.ListMediaResponse {
	return &rpc.ListMediaResponse{
		ConversationID: conversationID,
		Version:        version,
		Media:          items,
		Listing:        resolver.FormatMediaListForUser(items),
	}
}

func printRegistryText(w io.Writer, resp *rpc.ListMediaResponse) error {
	if len(resp.Media) == 0 {
		fmt.Fprintln(w, "No media in this conversation.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTYPE\tNAME\tUPLOADED\tREFS\tLAST\tID")
	for _, m := range resp.Media {
		name := m.FileName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			m.DisplayIndex, m.Type, name, m.UploadTurn, m.ReferenceCount, m.LastReferencedTurn, m.PersistentID)
	}
	return tw.Flush()
}
