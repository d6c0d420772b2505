package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docchat-go/internal/config"
	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/llm"
	"docchat-go/pkg/log"

	"github.com/google/uuid"
)

const defaultHistoryTurns = 20

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// StreamResponse 根据会话与本轮上下文调用模型，分块写入 writer。
	// 只有完整生成的回答才会与问题一起写入历史，返回的是已保存的助手消息。
	StreamResponse(ctx context.Context, user *model.User, conv *model.Conversation, req model.SendMessageRequest, writer llm.FragmentWriter) (*model.ChatMessage, error)
}

type chatService struct {
	llmClient    llm.Client
	messageRepo  repository.MessageRepository
	documentRepo repository.DocumentRepository
	templateRepo repository.TemplateRepository
	cfg          config.LLMConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(llmClient llm.Client, messageRepo repository.MessageRepository, documentRepo repository.DocumentRepository, templateRepo repository.TemplateRepository, cfg config.LLMConfig) ChatService {
	return &chatService{
		llmClient:    llmClient,
		messageRepo:  messageRepo,
		documentRepo: documentRepo,
		templateRepo: templateRepo,
		cfg:          cfg,
	}
}

func (s *chatService) StreamResponse(ctx context.Context, user *model.User, conv *model.Conversation, req model.SendMessageRequest, writer llm.FragmentWriter) (*model.ChatMessage, error) {
	query := strings.TrimSpace(req.Message)
	if query == "" {
		return nil, fmt.Errorf("%w: 消息不能为空", ErrInvalidArgument)
	}
	// 本轮请求携带的模式优先，缺省时使用会话创建时的模式
	mode := conv.Mode
	if req.Mode != "" {
		if !req.Mode.Valid() {
			return nil, fmt.Errorf("%w: 未知的模式 %q", ErrInvalidArgument, req.Mode)
		}
		mode = req.Mode
	}
	docIDs := req.DocumentIDs
	if len(docIDs) == 0 {
		docIDs = conv.DocumentIDs
	}

	// 1. 构建上下文与 system 消息、历史
	docs, err := s.documentRepo.FindBatchByIDs(user.ID, docIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	tpls, err := s.templateRepo.FindBatchByIDs(user.ID, req.TemplateIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	history, err := s.loadHistory(ctx, conv.ID)
	if err != nil {
		log.Errorf("Failed to load conversation history: %v", err)
		history = []model.ChatMessage{}
	}
	messages := s.composeMessages(s.buildSystemMessage(mode, docs, tpls), history, query)

	// 2. 拦截 writer 以捕获完整答案
	answer := &strings.Builder{}
	interceptor := llm.FragmentWriterFunc(func(fragment string) error {
		answer.WriteString(fragment)
		return writer.WriteFragment(fragment)
	})
	if err := s.llmClient.StreamChatMessages(ctx, messages, s.buildGenerationParams(), interceptor); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 3. 保存问答。使用后台上下文，客户端断开不影响已成功生成的答案
	now := time.Now()
	question := model.ChatMessage{ID: uuid.NewString(), Role: string(model.RoleUser), Content: query, Timestamp: now}
	reply := model.ChatMessage{ID: uuid.NewString(), Role: string(model.RoleAssistant), Content: answer.String(), Timestamp: time.Now()}
	if err := s.messageRepo.Append(context.Background(), conv.ID, question, reply); err != nil {
		// 只记录错误，回答已经交付给客户端
		log.Errorf("Failed to save conversation history: %v", err)
	}
	return &reply, nil
}

// loadHistory 取最近若干轮对话，每轮是一问一答两条消息，窗口总是从用户消息开始。
func (s *chatService) loadHistory(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	turns := s.cfg.Prompt.HistoryTurns
	if turns <= 0 {
		turns = defaultHistoryTurns
	}
	return s.messageRepo.History(ctx, conversationID, turns*2)
}

func (s *chatService) buildSystemMessage(mode model.Mode, docs []model.Document, tpls []model.Template) string {
	refStart := s.cfg.Prompt.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := s.cfg.Prompt.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}

	var sys strings.Builder
	if s.cfg.Prompt.Rules != "" {
		sys.WriteString(s.cfg.Prompt.Rules)
		sys.WriteString("\n\n")
	}
	fmt.Fprintf(&sys, "Reasoning mode: %s (%s)\n\n", mode, mode.Description())

	sys.WriteString(refStart)
	sys.WriteString("\n")
	if len(docs) > 0 {
		for i, d := range docs {
			fmt.Fprintf(&sys, "[%d] (%s) %s\n", i+1, d.FileName, d.ID)
		}
	} else {
		noRes := s.cfg.Prompt.NoResultText
		if noRes == "" {
			noRes = "（本轮未选择文档）"
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)

	for _, t := range tpls {
		fmt.Fprintf(&sys, "\n\nResponse template %q:\n%s", t.Title, t.Body)
	}
	return sys.String()
}

func (s *chatService) composeMessages(systemMsg string, history []model.ChatMessage, userInput string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: systemMsg})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: userInput})
	return msgs
}

func (s *chatService) buildGenerationParams() *llm.GenerationParams {
	var gp llm.GenerationParams
	if s.cfg.Generation.Temperature != 0 {
		t := s.cfg.Generation.Temperature
		gp.Temperature = &t
	}
	if s.cfg.Generation.TopP != 0 {
		p := s.cfg.Generation.TopP
		gp.TopP = &p
	}
	if s.cfg.Generation.MaxTokens != 0 {
		m := s.cfg.Generation.MaxTokens
		gp.MaxTokens = &m
	}
	if gp.Temperature == nil && gp.TopP == nil && gp.MaxTokens == nil {
		return nil
	}
	return &gp
}
