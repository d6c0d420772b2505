package service

import (
	"fmt"
	"strings"
	"time"

	"docchat-go/internal/model"
	"docchat-go/internal/repository"

	"github.com/google/uuid"
)

// TemplateService 接口定义了模板管理的业务操作。
type TemplateService interface {
	Create(user *model.User, title, body string) (*model.Template, error)
	List(user *model.User) ([]model.Template, error)
	Delete(user *model.User, id string) error
}

type templateService struct {
	repo repository.TemplateRepository
}

// NewTemplateService 创建一个新的 TemplateService 实例。
func NewTemplateService(repo repository.TemplateRepository) TemplateService {
	return &templateService{repo: repo}
}

func (s *templateService) Create(user *model.User, title, body string) (*model.Template, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: 模板标题不能为空", ErrInvalidArgument)
	}
	tpl := &model.Template{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

func (s *templateService) List(user *model.User) ([]model.Template, error) {
	tpls, err := s.repo.FindAll(user.ID)
	if err != nil {
		return nil, err
	}
	if tpls == nil {
		tpls = []model.Template{}
	}
	return tpls, nil
}

func (s *templateService) Delete(user *model.User, id string) error {
	deleted, err := s.repo.Delete(user.ID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: 模板 %s 不存在", ErrNotFound, id)
	}
	return nil
}
