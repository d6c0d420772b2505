package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"docchat-go/internal/config"
	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/hash"
	"docchat-go/pkg/llm"
	"docchat-go/pkg/token"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeUserRepo struct {
	users map[string]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*model.User{}}
}

func (r *fakeUserRepo) Create(u *model.User) error {
	u.ID = uint(len(r.users) + 1)
	r.users[u.Username] = u
	return nil
}

func (r *fakeUserRepo) FindByUsername(username string) (*model.User, error) {
	if u, ok := r.users[username]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) FindByID(id uint) (*model.User, error) {
	for _, u := range r.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) UpdatePassword(id uint, hashed string) error {
	u, err := r.FindByID(id)
	if err != nil {
		return err
	}
	u.Password = hashed
	return nil
}

type fakeConversationRepo struct {
	convs []model.Conversation
}

func (r *fakeConversationRepo) Create(c *model.Conversation) error {
	r.convs = append([]model.Conversation{*c}, r.convs...)
	return nil
}

func (r *fakeConversationRepo) ListByUser(userID uint) ([]model.Conversation, error) {
	var out []model.Conversation
	for _, c := range r.convs {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeConversationRepo) FindByID(userID uint, id string) (*model.Conversation, error) {
	for _, c := range r.convs {
		if c.ID == id && c.UserID == userID {
			c := c
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

type fakeMessageRepo struct {
	stored    map[string][]model.ChatMessage
	lastLimit int
}

func (r *fakeMessageRepo) Append(_ context.Context, id string, msgs ...model.ChatMessage) error {
	if r.stored == nil {
		r.stored = map[string][]model.ChatMessage{}
	}
	r.stored[id] = append(r.stored[id], msgs...)
	return nil
}

func (r *fakeMessageRepo) History(_ context.Context, id string, limit int) ([]model.ChatMessage, error) {
	r.lastLimit = limit
	h := r.stored[id]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return h, nil
}

type fakeDocumentRepo struct {
	docs []model.Document
}

func (r *fakeDocumentRepo) Upsert(d *model.Document) error {
	r.docs = append(r.docs, *d)
	return nil
}

func (r *fakeDocumentRepo) FindByID(userID uint, id string) (*model.Document, error) {
	for _, d := range r.docs {
		if d.ID == id && d.UserID == userID {
			d := d
			return &d, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeDocumentRepo) FindPage(userID uint, offset, limit int) ([]model.Document, int64, error) {
	return r.docs, int64(len(r.docs)), nil
}

func (r *fakeDocumentRepo) FindBatchByIDs(userID uint, ids []string) ([]model.Document, error) {
	var out []model.Document
	for _, d := range r.docs {
		for _, id := range ids {
			if d.ID == id && d.UserID == userID {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

func (r *fakeDocumentRepo) Delete(userID uint, id string) (bool, error) {
	for i, d := range r.docs {
		if d.ID == id && d.UserID == userID {
			r.docs = append(r.docs[:i], r.docs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type fakeTemplateRepo struct {
	tpls []model.Template
}

func (r *fakeTemplateRepo) Create(t *model.Template) error {
	r.tpls = append(r.tpls, *t)
	return nil
}

func (r *fakeTemplateRepo) FindAll(userID uint) ([]model.Template, error) {
	return r.tpls, nil
}

func (r *fakeTemplateRepo) FindBatchByIDs(userID uint, ids []string) ([]model.Template, error) {
	var out []model.Template
	for _, t := range r.tpls {
		for _, id := range ids {
			if t.ID == id {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (r *fakeTemplateRepo) Delete(userID uint, id string) (bool, error) {
	for i, t := range r.tpls {
		if t.ID == id {
			r.tpls = append(r.tpls[:i], r.tpls[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// fakeLLM 按顺序写出 fragments，err 不为空时在写完后返回它。
type fakeLLM struct {
	fragments []string
	err       error
	got       []llm.Message
}

func (f *fakeLLM) StreamChatMessages(_ context.Context, messages []llm.Message, _ *llm.GenerationParams, w llm.FragmentWriter) error {
	f.got = messages
	for _, frag := range f.fragments {
		if err := w.WriteFragment(frag); err != nil {
			return err
		}
	}
	return f.err
}

var (
	_ repository.UserRepository         = (*fakeUserRepo)(nil)
	_ repository.ConversationRepository = (*fakeConversationRepo)(nil)
	_ repository.MessageRepository      = (*fakeMessageRepo)(nil)
	_ repository.DocumentRepository     = (*fakeDocumentRepo)(nil)
	_ repository.TemplateRepository     = (*fakeTemplateRepo)(nil)
)

func TestUserService_LoginAndLogout(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := newFakeUserRepo()
	jwt := token.NewJWTManager("secret", 1, 7)
	svc := NewUserService(repo, jwt, rdb)

	require.NoError(t, svc.SeedUsers([]config.SeedUser{{Username: "alice", Password: "pw"}}))
	require.NoError(t, svc.SeedUsers([]config.SeedUser{{Username: "alice", Password: "other"}}))
	assert.True(t, hash.CheckPasswordHash("pw", repo.users["alice"].Password))
	assert.Equal(t, "USER", repo.users["alice"].Role)

	_, _, err := svc.Login("alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login("nobody", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	access, refresh, err := svc.Login("alice", "pw")
	require.NoError(t, err)
	claims, err := jwt.VerifyToken(access)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)

	newAccess, _, err := svc.RefreshToken(refresh)
	require.NoError(t, err)
	assert.NotEmpty(t, newAccess)

	ctx := context.Background()
	revoked, err := svc.IsRevoked(ctx, access)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, svc.Logout(ctx, access))
	revoked, err = svc.IsRevoked(ctx, access)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestUserService_Register(t *testing.T) {
	svc := NewUserService(newFakeUserRepo(), token.NewJWTManager("s", 1, 1), nil)

	u, err := svc.Register(" bob ", "pw")
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)

	_, err = svc.Register("bob", "pw")
	assert.Error(t, err)
	_, err = svc.Register("  ", "pw")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUserService_ChangePassword(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewUserService(repo, token.NewJWTManager("s", 1, 1), nil)
	require.NoError(t, svc.SeedUsers([]config.SeedUser{{Username: "alice", Password: "pw"}}))
	alice := repo.users["alice"]

	assert.ErrorIs(t, svc.ChangePassword(alice, "wrong", "new-pw"), ErrInvalidArgument)
	assert.ErrorIs(t, svc.ChangePassword(alice, "pw", "  "), ErrInvalidArgument)
	assert.True(t, hash.CheckPasswordHash("pw", alice.Password))

	require.NoError(t, svc.ChangePassword(alice, "pw", "new-pw"))
	assert.True(t, hash.CheckPasswordHash("new-pw", alice.Password))

	_, _, err := svc.Login("alice", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login("alice", "new-pw")
	assert.NoError(t, err)

	assert.ErrorIs(t, svc.ChangePassword(&model.User{ID: 99}, "pw", "x"), ErrNotFound)
}

func TestConversationService(t *testing.T) {
	msgs := &fakeMessageRepo{}
	svc := NewConversationService(&fakeConversationRepo{}, msgs)
	ctx := context.Background()
	alice := &model.User{ID: 1}
	bob := &model.User{ID: 2}

	_, err := svc.Create(ctx, alice, model.CreateChatRequest{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = svc.Create(ctx, alice, model.CreateChatRequest{Name: "x", Mode: "chain"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	conv, err := svc.Create(ctx, alice, model.CreateChatRequest{Name: " Boiler QA "})
	require.NoError(t, err)
	assert.Equal(t, "Boiler QA", conv.Name)
	assert.Equal(t, model.ModeRAG, conv.Mode)
	assert.Equal(t, []string{}, conv.DocumentIDs)
	assert.NotEmpty(t, conv.ID)

	list, err := svc.List(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []model.Conversation{}, list)

	_, err = svc.History(ctx, bob, conv.ID, 10)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, msgs.Append(ctx, conv.ID, model.ChatMessage{ID: "m1"}))
	history, err := svc.History(ctx, alice, conv.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func newChatFixture(fl *fakeLLM) (ChatService, *fakeMessageRepo) {
	msgs := &fakeMessageRepo{}
	docs := &fakeDocumentRepo{docs: []model.Document{
		{ID: "d1", UserID: 1, FileName: "boiler-manual.pdf", Status: model.DocumentReady},
		{ID: "d2", UserID: 1, FileName: "pump-spec.pdf", Status: model.DocumentReady},
	}}
	tpls := &fakeTemplateRepo{tpls: []model.Template{{ID: "t1", UserID: 1, Title: "Bullets", Body: "Answer in bullets."}}}
	cfg := config.LLMConfig{Prompt: config.LLMPromptConfig{Rules: "Answer from the references only."}}
	return NewChatService(fl, msgs, docs, tpls, cfg), msgs
}

func TestChatService_StreamResponse(t *testing.T) {
	fl := &fakeLLM{fragments: []string{"42", " bar"}}
	svc, msgs := newChatFixture(fl)
	user := &model.User{ID: 1}
	conv := &model.Conversation{ID: "c1", Mode: model.ModeRAG, DocumentIDs: []string{"d1"}}
	require.NoError(t, msgs.Append(context.Background(), "c1",
		model.ChatMessage{Role: "user", Content: "hello"},
		model.ChatMessage{Role: "assistant", Content: "hi"},
	))

	var streamed []string
	reply, err := svc.StreamResponse(context.Background(), user, conv, model.SendMessageRequest{
		Message:     " max pressure? ",
		Mode:        model.ModeReACT,
		TemplateIDs: []string{"t1"},
	}, llm.FragmentWriterFunc(func(f string) error {
		streamed = append(streamed, f)
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"42", " bar"}, streamed)
	assert.Equal(t, "42 bar", reply.Content)
	assert.NotEmpty(t, reply.ID)

	require.Len(t, fl.got, 4)
	system := fl.got[0].Content
	assert.Equal(t, "system", fl.got[0].Role)
	assert.True(t, strings.HasPrefix(system, "Answer from the references only."))
	assert.Contains(t, system, "Reasoning mode: ReACT")
	assert.Contains(t, system, "(boiler-manual.pdf) d1")
	assert.NotContains(t, system, "pump-spec.pdf")
	assert.Contains(t, system, "Answer in bullets.")
	assert.Equal(t, llm.Message{Role: "user", Content: "max pressure?"}, fl.got[3])

	stored := msgs.stored["c1"]
	require.Len(t, stored, 4)
	assert.Equal(t, "max pressure?", stored[2].Content)
	assert.Equal(t, reply.ID, stored[3].ID)
}

func TestChatService_HistoryWindowCountsTurns(t *testing.T) {
	fl := &fakeLLM{fragments: []string{"ok"}}
	msgs := &fakeMessageRepo{}
	cfg := config.LLMConfig{Prompt: config.LLMPromptConfig{HistoryTurns: 2}}
	svc := NewChatService(fl, msgs, &fakeDocumentRepo{}, &fakeTemplateRepo{}, cfg)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, msgs.Append(ctx, "c1",
			model.ChatMessage{Role: "user", Content: fmt.Sprintf("q%d", i)},
			model.ChatMessage{Role: "assistant", Content: fmt.Sprintf("a%d", i)},
		))
	}
	w := llm.FragmentWriterFunc(func(string) error { return nil })

	_, err := svc.StreamResponse(ctx, &model.User{ID: 1}, &model.Conversation{ID: "c1", Mode: model.ModeRAG},
		model.SendMessageRequest{Message: "next"}, w)
	require.NoError(t, err)
	assert.Equal(t, 4, msgs.lastLimit)
	// system + 两轮历史 + 本次问题
	require.Len(t, fl.got, 6)
	assert.Equal(t, llm.Message{Role: "user", Content: "q3"}, fl.got[1])
	assert.Equal(t, llm.Message{Role: "assistant", Content: "a4"}, fl.got[4])

	svc = NewChatService(fl, msgs, &fakeDocumentRepo{}, &fakeTemplateRepo{}, config.LLMConfig{})
	_, err = svc.StreamResponse(ctx, &model.User{ID: 1}, &model.Conversation{ID: "c1", Mode: model.ModeRAG},
		model.SendMessageRequest{Message: "again"}, w)
	require.NoError(t, err)
	assert.Equal(t, 2*defaultHistoryTurns, msgs.lastLimit)
}

func TestChatService_FailedStreamIsNotPersisted(t *testing.T) {
	fl := &fakeLLM{fragments: []string{"partial"}, err: errors.New("upstream reset")}
	svc, msgs := newChatFixture(fl)

	_, err := svc.StreamResponse(context.Background(), &model.User{ID: 1}, &model.Conversation{ID: "c1", Mode: model.ModeRAG},
		model.SendMessageRequest{Message: "q"}, llm.FragmentWriterFunc(func(string) error { return nil }))
	require.Error(t, err)
	assert.Empty(t, msgs.stored["c1"])
}

func TestChatService_RejectsBadInput(t *testing.T) {
	fl := &fakeLLM{}
	svc, _ := newChatFixture(fl)
	conv := &model.Conversation{ID: "c1", Mode: model.ModeRAG}
	w := llm.FragmentWriterFunc(func(string) error { return nil })

	_, err := svc.StreamResponse(context.Background(), &model.User{ID: 1}, conv, model.SendMessageRequest{Message: "  "}, w)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = svc.StreamResponse(context.Background(), &model.User{ID: 1}, conv, model.SendMessageRequest{Message: "q", Mode: "tree"}, w)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Nil(t, fl.got)
}

func TestDocumentService(t *testing.T) {
	users := newFakeUserRepo()
	require.NoError(t, users.Create(&model.User{Username: "alice"}))
	docs := &fakeDocumentRepo{}
	svc := NewDocumentService(docs, users)

	require.NoError(t, svc.SeedDocuments([]config.SeedDocument{{ID: "d1", Owner: "alice", FileName: "manual.pdf"}}))
	assert.Error(t, svc.SeedDocuments([]config.SeedDocument{{ID: "d2", Owner: "ghost"}}))

	alice := users.users["alice"]
	st, err := svc.Status(alice, "d1")
	require.NoError(t, err)
	assert.True(t, st.Ready)

	_, err = svc.Status(alice, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	page, err := svc.List(alice, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.EqualValues(t, 1, page.Total)

	assert.ErrorIs(t, svc.Delete(&model.User{ID: 99}, "d1"), ErrNotFound)
	require.NoError(t, svc.Delete(alice, "d1"))
	assert.ErrorIs(t, svc.Delete(alice, "d1"), ErrNotFound)
	_, err = svc.Status(alice, "d1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTemplateService(t *testing.T) {
	svc := NewTemplateService(&fakeTemplateRepo{})
	user := &model.User{ID: 1}

	_, err := svc.Create(user, " ", "body")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	tpl, err := svc.Create(user, "Summary", "Three bullets.")
	require.NoError(t, err)

	list, err := svc.List(user)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.Delete(user, tpl.ID))
	assert.ErrorIs(t, svc.Delete(user, tpl.ID), ErrNotFound)
}
