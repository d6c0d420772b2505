// Command docchat 是文档问答后端的命令行客户端：登录、管理会话、发送问题并实时显示回答。
package main

import (
	"fmt"
	"os"

	"docchat-go/internal/api"
	"docchat-go/internal/config"
	"docchat-go/internal/directory"
	"docchat-go/internal/errs"
	"docchat-go/internal/transport"
	"docchat-go/pkg/log"

	"github.com/spf13/cobra"
)

// 退出码
const (
	exitOK           = 0
	exitFailure      = 1
	exitUnauthorized = 2
	exitCancelled    = 130
)

var (
	// Global flags
	configPath    string
	transportName string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "docchat",
	Short: "docchat - chat with your documents from the terminal",
	Long: `docchat talks to a document Q&A backend.

Log in once, then create conversations scoped to uploaded documents and ask
questions in RAG, ReACT or Flare mode. Streaming replies are printed as they
arrive; press Ctrl-C during a reply to cancel it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if transportName != "" {
			loaded.Client.Transport = transportName
		}
		cfg = loaded
		// 终端输出留给对话内容，日志只写文件
		log.InitFileOnly(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&transportName, "transport", "", "override client.transport (http or websocket)")

	rootCmd.AddCommand(loginCmd, logoutCmd, passwdCmd, chatsCmd, historyCmd, docsCmd, templatesCmd, askCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", errs.MessageOf(err))
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

// exitCode 把错误分类映射为进程退出码，脚本可以据此判断是否需要重新登录。
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errs.Is(err, errs.KindUnauthorized):
		return exitUnauthorized
	case errs.Is(err, errs.KindCancelled):
		return exitCancelled
	}
	return exitFailure
}

func tokenStore() api.FileToken {
	return api.FileToken{Path: cfg.Client.TokenFile}
}

func newClient() *api.Client {
	return api.NewClient(cfg.Client, tokenStore())
}

func newDirectory(client *api.Client) *directory.Directory {
	return directory.New(client)
}

// newTransport 按 client.transport 选择发送方式。
func newTransport(client *api.Client) (transport.Transport, error) {
	switch cfg.Client.Transport {
	case "http":
		return transport.NewHTTPTransport(client, cfg.Client.Stream), nil
	case "websocket":
		return transport.NewWebsocketTransport(client, cfg.Client.FirstByteTimeout), nil
	}
	return nil, errs.Validation(fmt.Sprintf("unknown transport %q (want http or websocket)", cfg.Client.Transport))
}
