// Package api 是后端 REST 接口的客户端，负责附加 bearer 凭证并对失败进行分类。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"docchat-go/internal/config"
	"docchat-go/internal/errs"
	"docchat-go/internal/model"
	"docchat-go/pkg/log"
	"docchat-go/pkg/token"
)

// 接口路径，与服务端路由保持一致。
const (
	pathLogin     = "/api/v1/users/login"
	pathPassword  = "/api/v1/auth/change-password"
	pathChats     = "/api/v1/chats"
	pathDocuments = "/api/v1/documents"
	pathTemplates = "/api/v1/templates"
)

// Client 是后端接口的 HTTP 客户端。
type Client struct {
	baseURL string
	creds   Credentials
	// httpClient 用于普通 JSON 请求，带总超时。
	httpClient *http.Client
	// streamClient 用于发送消息，只限制首字节等待时间，不限制流的总时长。
	streamClient *http.Client
	now          func() time.Time
}

// NewClient 根据客户端配置创建 Client。
func NewClient(cfg config.ClientConfig, creds Credentials) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.FirstByteTimeout
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		creds:        creds,
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		streamClient: &http.Client{Transport: transport},
		now:          time.Now,
	}
}

// BaseURL 返回后端根地址。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// BearerToken 返回当前凭证。缺失或已过期时返回 Unauthorized，不会发出任何请求。
func (c *Client) BearerToken() (string, error) {
	if c.creds == nil {
		return "", errs.Unauthorized("not logged in", ErrNoCredential)
	}
	tok, err := c.creds.Token()
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			return "", errs.Unauthorized("not logged in", err)
		}
		return "", errs.Unauthorized("credential unavailable", err)
	}
	if token.Expired(tok, c.now()) {
		return "", errs.Unauthorized("credential expired", nil)
	}
	return tok, nil
}

// NewRequest 构造一个带 bearer 凭证的请求，body 不为 nil 时编码为 JSON。
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	tok, err := c.BearerToken()
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return req, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// DoStream 发出请求并在收到响应头后返回。非 2xx 响应会被读取、关闭并转换为分类错误；
// 成功时调用方负责关闭 Body。
func (c *Client) DoStream(req *http.Request) (*http.Response, error) {
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, ClassifyNetworkError(req.Context(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, classifyStatus(resp)
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, req *http.Request, out any) error {
	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ClassifyNetworkError(ctx, err)
	}
	defer resp.Body.Close()
	log.Debugw("api request", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode, "latency", c.now().Sub(start).String())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(resp)
	}
	return DecodeEnvelope(resp.Body, out)
}

// DecodeEnvelope 解码 {code, message, data} 外壳并把 data 写入 out。
func DecodeEnvelope(r io.Reader, out any) error {
	env := model.Envelope[json.RawMessage]{}
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return errs.Transport("malformed response body", err)
	}
	if env.Code >= 400 {
		return statusError(env.Code, env.Message)
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return errs.Transport("malformed response body", errors.New("missing data"))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errs.Transport("malformed response body", err)
	}
	return nil
}

// ClassifyNetworkError 把请求层面的失败转换为 Cancelled 或 Transport。
func ClassifyNetworkError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return errs.Cancelled(err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errs.Transport("timed out waiting for the server", err)
	}
	return errs.Transport("network error", err)
}

func classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))

	// 后端的错误体通常是 {"code":..,"message":..} 或 {"error":..}
	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		switch {
		case env.Message != "":
			msg = env.Message
		case env.Error != "":
			msg = env.Error
		}
	}
	return statusError(resp.StatusCode, msg)
}

func statusError(code int, msg string) error {
	if msg == "" {
		msg = http.StatusText(code)
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return errs.Unauthorized(msg, fmt.Errorf("server returned %d", code))
	}
	return errs.Transport(fmt.Sprintf("server returned %d: %s", code, msg), nil)
}

// Login 使用用户名密码换取 token，不需要已有凭证。
func (c *Client) Login(ctx context.Context, username, password string) (model.LoginResponse, error) {
	var out model.LoginResponse
	req, err := c.newRequest(ctx, http.MethodPost, pathLogin, model.LoginRequest{Username: username, Password: password})
	if err != nil {
		return out, err
	}
	err = c.doJSON(ctx, req, &out)
	return out, err
}

// ChangePassword 修改当前用户的密码，已保存的凭证保持有效。
func (c *Client) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	req, err := c.NewRequest(ctx, http.MethodPost, pathPassword, model.ChangePasswordRequest{
		CurrentPassword: currentPassword,
		NewPassword:     newPassword,
	})
	if err != nil {
		return err
	}
	return c.doJSON(ctx, req, nil)
}

// ListChats 返回服务端顺序（最近优先）的会话列表。
func (c *Client) ListChats(ctx context.Context) ([]model.Conversation, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, pathChats, nil)
	if err != nil {
		return nil, err
	}
	var out []model.Conversation
	if err := c.doJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateChat 创建会话并返回后端分配的记录。
func (c *Client) CreateChat(ctx context.Context, in model.CreateChatRequest) (model.Conversation, error) {
	var out model.Conversation
	req, err := c.NewRequest(ctx, http.MethodPost, pathChats, in)
	if err != nil {
		return out, err
	}
	if err := c.doJSON(ctx, req, &out); err != nil {
		return out, err
	}
	if out.ID == "" {
		return out, errs.Transport("malformed response body", errors.New("missing chat_id"))
	}
	return out, nil
}

// ChatMessages 返回会话的已提交历史，limit 小于等于 0 时由服务端决定条数。
func (c *Client) ChatMessages(ctx context.Context, chatID string, limit int) ([]model.ChatMessage, error) {
	path := pathChats + "/" + url.PathEscape(chatID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out []model.ChatMessage
	if err := c.doJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MessagesPath 返回发送消息的接口路径。
func MessagesPath(chatID string) string {
	return pathChats + "/" + url.PathEscape(chatID) + "/messages"
}

// WebsocketURL 返回会话的 websocket 地址，凭证通过查询参数传递。
func (c *Client) WebsocketURL(chatID string) (string, error) {
	tok, err := c.BearerToken()
	if err != nil {
		return "", err
	}
	u, err := url.Parse(c.baseURL + pathChats + "/" + url.PathEscape(chatID) + "/ws")
	if err != nil {
		return "", errs.Transport("invalid base url", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("token", tok)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ListDocuments 分页列出可选文档。
func (c *Client) ListDocuments(ctx context.Context, page int) (model.DocumentPage, error) {
	var out model.DocumentPage
	if page < 1 {
		page = 1
	}
	req, err := c.NewRequest(ctx, http.MethodGet, pathDocuments+"/list?page="+strconv.Itoa(page), nil)
	if err != nil {
		return out, err
	}
	err = c.doJSON(ctx, req, &out)
	return out, err
}

// DocumentStatus 查询文档是否已处理完成。
func (c *Client) DocumentStatus(ctx context.Context, documentID string) (model.DocumentStatusResponse, error) {
	var out model.DocumentStatusResponse
	req, err := c.NewRequest(ctx, http.MethodGet, pathDocuments+"/status/"+url.PathEscape(documentID), nil)
	if err != nil {
		return out, err
	}
	err = c.doJSON(ctx, req, &out)
	return out, err
}

// DeleteDocument 删除一份文档。
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	req, err := c.NewRequest(ctx, http.MethodDelete, pathDocuments+"/"+url.PathEscape(documentID), nil)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, req, nil)
}

// ListTemplates 列出可选的请求/响应模板。
func (c *Client) ListTemplates(ctx context.Context) ([]model.Template, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, pathTemplates, nil)
	if err != nil {
		return nil, err
	}
	var out []model.Template
	if err := c.doJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateTemplate 创建模板。
func (c *Client) CreateTemplate(ctx context.Context, title, body string) (model.Template, error) {
	var out model.Template
	req, err := c.NewRequest(ctx, http.MethodPost, pathTemplates, map[string]string{"title": title, "body": body})
	if err != nil {
		return out, err
	}
	err = c.doJSON(ctx, req, &out)
	return out, err
}

// DeleteTemplate 删除模板。
func (c *Client) DeleteTemplate(ctx context.Context, id string) error {
	req, err := c.NewRequest(ctx, http.MethodDelete, pathTemplates+"/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, req, nil)
}
