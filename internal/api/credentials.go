package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoCredential 表示本地没有可用的 bearer 凭证。
var ErrNoCredential = errors.New("no credential available")

// Credentials 提供不透明的 bearer 凭证，由外部认证流程签发。
type Credentials interface {
	Token() (string, error)
}

// StaticToken 是固定的凭证。
type StaticToken string

func (t StaticToken) Token() (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", ErrNoCredential
	}
	return string(t), nil
}

// FileToken 从本地文件读取凭证，login 命令负责写入。
type FileToken struct {
	Path string
}

func (f FileToken) Token() (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoCredential
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", ErrNoCredential
	}
	return tok, nil
}

// Save 以仅当前用户可读的权限写入凭证。
func (f FileToken) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	return os.WriteFile(f.Path, []byte(token+"\n"), 0o600)
}

// Clear 删除本地凭证。
func (f FileToken) Clear() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
