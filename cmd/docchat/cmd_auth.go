package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"docchat-go/internal/api"
	"docchat-go/internal/errs"
	"docchat-go/pkg/log"
	"docchat-go/pkg/token"

	"github.com/spf13/cobra"
)

var (
	loginUsername   string
	loginPassword   string
	currentPassword string
	newPassword     string
)

// loginCmd 用用户名密码换取 token 并保存到本地
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the access token locally",
	Long: `Exchange a username and password for an access token.

The token is written to client.token_file with owner-only permissions and is
attached as a bearer credential to every later command. When --password is
omitted it is read from the first line of stdin.`,
	RunE: runLogin,
}

// logoutCmd 删除本地保存的 token
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := tokenStore().Clear(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	},
}

// passwdCmd 修改当前账号的密码
var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the password of the logged-in account",
	Long: `Change the password of the account the stored token belongs to.

Passwords not given as flags are read from stdin, one per line: the current
password first, then the new one. The stored token stays valid.`,
	RunE: runPasswd,
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "account name")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password (read from stdin when empty)")
	_ = loginCmd.MarkFlagRequired("username")
	passwdCmd.Flags().StringVar(&currentPassword, "current", "", "current password (read from stdin when empty)")
	passwdCmd.Flags().StringVar(&newPassword, "new", "", "new password (read from stdin when empty)")
}

// readSecret 返回 value；为空时打印提示并从 in 读取一行。
func readSecret(in *bufio.Reader, prompt io.Writer, label, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprintf(prompt, "%s: ", label)
	line, err := in.ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if err != nil && line == "" {
		return "", errs.Validation(strings.ToLower(label) + " is required")
	}
	return line, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	password, err := readSecret(bufio.NewReader(cmd.InOrStdin()), cmd.ErrOrStderr(), "Password", loginPassword)
	if err != nil {
		return err
	}

	// 登录请求本身不需要凭证
	client := api.NewClient(cfg.Client, nil)
	out, err := client.Login(cmd.Context(), loginUsername, password)
	if err != nil {
		return err
	}
	if err := tokenStore().Save(out.Token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	log.Infow("logged in", "username", loginUsername, "token_file", cfg.Client.TokenFile)

	if exp, ok := token.ExpiresAt(out.Token); ok {
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (token valid until %s).\n", loginUsername, exp.Local().Format("2006-01-02 15:04"))
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s.\n", loginUsername)
	}
	return nil
}

func runPasswd(cmd *cobra.Command, args []string) error {
	in := bufio.NewReader(cmd.InOrStdin())
	current, err := readSecret(in, cmd.ErrOrStderr(), "Current password", currentPassword)
	if err != nil {
		return err
	}
	next, err := readSecret(in, cmd.ErrOrStderr(), "New password", newPassword)
	if err != nil {
		return err
	}
	if err := newClient().ChangePassword(cmd.Context(), current, next); err != nil {
		return err
	}
	log.Infow("password changed")
	fmt.Fprintln(cmd.OutOrStdout(), "Password changed.")
	return nil
}

// stdinIsTerminal 判断标准输入是否为交互终端，用于决定是否打印提示符。
func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
