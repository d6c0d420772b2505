package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"docchat-go/internal/directory"
	"docchat-go/internal/errs"
	"docchat-go/internal/model"
	"docchat-go/internal/selection"
	"docchat-go/internal/session"
	"docchat-go/pkg/log"

	"github.com/spf13/cobra"
)

var (
	askMode      string
	askDocuments []string
	askTemplates []string
	chatNewName  string
	chatNewDocs  []string
)

// askCmd 发送一条问题并等待回答
var askCmd = &cobra.Command{
	Use:   "ask <chat-id> <question...>",
	Short: "Send a single question to a conversation",
	Long: `Send one question and print the reply as it arrives.

Without --mode the conversation's own mode is used; without --doc the backend
answers from the conversation's document scope. Ctrl-C cancels the reply.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAsk,
}

// chatCmd 进入交互式会话
var chatCmd = &cobra.Command{
	Use:   "chat [chat-id]",
	Short: "Start an interactive conversation",
	Long: `Open a conversation and chat with it line by line.

Lines starting with / are commands:
  /mode [RAG|ReACT|Flare]  show or change the mode used for the next message
  /doc <id>                toggle a document for the next message
  /template <id>           toggle a template for the next message
  /context                 show the current selection
  /retry                   resend the question of the last failed reply
  /history                 print the conversation so far
  /quit                    leave

Ctrl-C cancels a reply in progress; pressed while idle it leaves.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	askCmd.Flags().StringVarP(&askMode, "mode", "m", "", "mode for this question (defaults to the conversation's)")
	askCmd.Flags().StringSliceVarP(&askDocuments, "doc", "d", nil, "document id to include (repeatable)")
	askCmd.Flags().StringSliceVarP(&askTemplates, "template", "t", nil, "template id to include (repeatable)")
	chatCmd.Flags().StringVar(&chatNewName, "new", "", "create a conversation with this name and open it")
	chatCmd.Flags().StringSliceVarP(&chatNewDocs, "doc", "d", nil, "document scope for --new (repeatable)")
}

// openConversation 在目录中查找会话，找不到时返回 Validation 错误。
func openConversation(ctx context.Context, dir *directory.Directory, id string) (model.Conversation, error) {
	if _, err := dir.List(ctx); err != nil {
		return model.Conversation{}, err
	}
	conv, ok := dir.Find(id)
	if !ok {
		return model.Conversation{}, errs.Validation(fmt.Sprintf("conversation %s not found", id))
	}
	return conv, nil
}

// cancelOnInterrupt 在收到 SIGINT 时取消进行中的发送；idle 时调用 onIdle。返回停止监听的函数。
func cancelOnInterrupt(orch *session.Orchestrator, onIdle func()) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigCh:
				if orch.Cancel() {
					log.Infow("send cancelled by user", "chat_id", orch.Conversation().ID)
					continue
				}
				if onIdle != nil {
					onIdle()
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client := newClient()
	tr, err := newTransport(client)
	if err != nil {
		return err
	}
	conv, err := openConversation(ctx, newDirectory(client), args[0])
	if err != nil {
		return err
	}

	sel := selection.NewStore()
	sel.SetMode(conv.Mode)
	if askMode != "" {
		mode, err := model.ParseMode(askMode)
		if err != nil {
			return err
		}
		sel.SetMode(mode)
	}
	for _, id := range askDocuments {
		if !sel.DocumentSelected(id) {
			sel.ToggleDocument(id)
		}
	}
	for _, id := range askTemplates {
		if !sel.TemplateSelected(id) {
			sel.ToggleTemplate(id)
		}
	}

	out := newRenderer(cmd.OutOrStdout())
	orch := session.New(conv, tr, sel, session.WithObserver(out.observe))
	stop := cancelOnInterrupt(orch, nil)
	defer stop()
	return orch.Submit(ctx, strings.Join(args[1:], " "))
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client := newClient()
	tr, err := newTransport(client)
	if err != nil {
		return err
	}
	dir := newDirectory(client)
	sel := selection.NewStore()

	var conv model.Conversation
	switch {
	case chatNewName != "":
		for _, id := range chatNewDocs {
			if !sel.DocumentSelected(id) {
				sel.ToggleDocument(id)
			}
		}
		conv, err = dir.Create(ctx, chatNewName, sel.Snapshot())
		// 文档范围已经固定在会话上，之后的消息默认沿用会话的范围
		sel.ClearDocuments()
	case len(args) == 1:
		conv, err = openConversation(ctx, dir, args[0])
	default:
		return errs.Validation("give a conversation id or --new <name>")
	}
	if err != nil {
		return err
	}
	sel.SetMode(conv.Mode)

	history, err := dir.History(ctx, conv.ID, cfg.Client.HistoryLimit)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Conversation %s (%s, %s). Type /help for commands.\n", conv.Name, conv.ID, conv.Mode)
	for _, m := range history {
		printMessage(w, m)
	}

	out := newRenderer(w)
	orch := session.New(conv, tr, sel, session.WithHistory(history), session.WithObserver(out.observe))
	stop := cancelOnInterrupt(orch, func() {
		fmt.Fprintln(w)
		log.Sync()
		os.Exit(exitOK)
	})
	defer stop()

	r := &repl{out: w, sel: sel, orch: orch, prompt: stdinIsTerminal()}
	return r.run(ctx, cmd.InOrStdin())
}

// repl 是交互式会话的读入循环。发送是阻塞的，因此一次只会有一条消息在途。
type repl struct {
	out    io.Writer
	sel    *selection.Store
	orch   *session.Orchestrator
	prompt bool
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if r.prompt {
			fmt.Fprint(r.out, "you> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		if quit := r.handle(ctx, scanner.Text()); quit {
			return nil
		}
	}
}

// handle 处理一行输入，返回是否退出。
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.report(r.orch.Submit(ctx, line))
		return false
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit", "q":
		return true
	case "help":
		fmt.Fprintln(r.out, "commands: /mode [m] /doc <id> /template <id> /context /retry /history /quit")
	case "mode":
		if arg == "" {
			for _, m := range model.Modes {
				marker := " "
				if m == r.sel.Mode() {
					marker = "*"
				}
				fmt.Fprintf(r.out, "%s %-6s %s\n", marker, m, m.Description())
			}
			return false
		}
		mode, err := model.ParseMode(arg)
		if err != nil {
			fmt.Fprintf(r.out, "! %v\n", err)
			return false
		}
		r.sel.SetMode(mode)
		fmt.Fprintf(r.out, "mode: %s\n", mode)
	case "doc":
		if arg == "" {
			fmt.Fprintln(r.out, "! usage: /doc <document-id>")
			return false
		}
		fmt.Fprintf(r.out, "document %s %s\n", arg, selectedWord(r.sel.ToggleDocument(arg)))
	case "template":
		if arg == "" {
			fmt.Fprintln(r.out, "! usage: /template <template-id>")
			return false
		}
		fmt.Fprintf(r.out, "template %s %s\n", arg, selectedWord(r.sel.ToggleTemplate(arg)))
	case "context":
		snap := r.sel.Snapshot()
		docs, tpls := r.sel.Counts()
		fmt.Fprintf(r.out, "Docs: %d / Templates: %d\n", docs, tpls)
		fmt.Fprintf(r.out, "mode: %s\ndocuments: %s\ntemplates: %s\n", snap.Mode, listOrNone(snap.DocumentIDs), listOrNone(snap.TemplateIDs))
	case "retry":
		r.report(r.orch.Resubmit(ctx))
	case "history":
		for _, m := range r.orch.Messages() {
			printMessage(r.out, m)
		}
	default:
		fmt.Fprintf(r.out, "! unknown command /%s (try /help)\n", name)
	}
	return false
}

// report 打印没有进入会话日志的错误；传输失败已作为 failed 回复显示过。
func (r *repl) report(err error) {
	switch {
	case err == nil:
	case errs.Is(err, errs.KindValidation):
		fmt.Fprintf(r.out, "! %s\n", errs.MessageOf(err))
	case errs.Is(err, errs.KindUnauthorized):
		fmt.Fprintln(r.out, "! run `docchat login` to sign in again")
	}
}

func selectedWord(selected bool) string {
	if selected {
		return "selected"
	}
	return "deselected"
}

func listOrNone(ids []string) string {
	if len(ids) == 0 {
		return "(none)"
	}
	return strings.Join(ids, ", ")
}
