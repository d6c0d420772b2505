package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"docchat-go/internal/model"
	"docchat-go/internal/selection"

	"github.com/spf13/cobra"
)

var (
	createMode      string
	createDocuments []string
	historyLimit    int
)

// chatsCmd 管理会话
var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List and create conversations",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		convs, err := newDirectory(newClient()).List(cmd.Context())
		if err != nil {
			return err
		}
		printConversations(cmd.OutOrStdout(), convs)
		return nil
	},
}

var chatsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a conversation scoped to the given documents",
	Long: `Create a conversation. The reasoning mode and document scope are fixed at
creation time and used by default for every message sent to it.

Example:
  docchat chats create "Boiler QA" --mode ReACT --doc boiler-manual`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChatsCreate,
}

// historyCmd 打印会话的已提交历史
var historyCmd = &cobra.Command{
	Use:   "history <chat-id>",
	Short: "Print the committed messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit := historyLimit
		if limit == 0 {
			limit = cfg.Client.HistoryLimit
		}
		msgs, err := newDirectory(newClient()).History(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			printMessage(cmd.OutOrStdout(), m)
		}
		return nil
	},
}

func init() {
	chatsCreateCmd.Flags().StringVarP(&createMode, "mode", "m", string(model.DefaultMode), "reasoning mode: RAG, ReACT or Flare")
	chatsCreateCmd.Flags().StringSliceVarP(&createDocuments, "doc", "d", nil, "document id to scope the conversation to (repeatable)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "number of most recent messages (0 uses client.history_limit)")

	chatsCmd.AddCommand(chatsListCmd, chatsCreateCmd)
}

func runChatsCreate(cmd *cobra.Command, args []string) error {
	mode, err := model.ParseMode(createMode)
	if err != nil {
		return err
	}
	sel := selection.NewStore()
	sel.SetMode(mode)
	for _, id := range createDocuments {
		if !sel.DocumentSelected(id) {
			sel.ToggleDocument(id)
		}
	}

	conv, err := newDirectory(newClient()).Create(cmd.Context(), strings.Join(args, " "), sel.Snapshot())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created conversation %s (%s, %d documents)\n", conv.ID, conv.Mode, len(conv.DocumentIDs))
	return nil
}

func printConversations(w io.Writer, convs []model.Conversation) {
	if len(convs) == 0 {
		fmt.Fprintln(w, "No conversations yet. Create one with: docchat chats create <name>")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMODE\tDOCUMENTS\tCREATED")
	for _, c := range convs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Mode, strings.Join(c.DocumentIDs, ","), c.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}

func printMessage(w io.Writer, m model.Message) {
	prefix := "you"
	if m.Role == model.RoleAssistant {
		prefix = "assistant"
	}
	fmt.Fprintf(w, "%s> %s\n", prefix, m.Text)
}
