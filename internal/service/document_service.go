package service

import (
	"errors"
	"fmt"

	"docchat-go/internal/config"
	"docchat-go/internal/model"
	"docchat-go/internal/repository"
	"docchat-go/pkg/log"

	"gorm.io/gorm"
)

// documentPageSize 是文档列表每页条数。
const documentPageSize = 20

// DocumentService 接口定义了文档查询相关的业务操作。
type DocumentService interface {
	List(user *model.User, page int) (*model.DocumentPage, error)
	Status(user *model.User, documentID string) (*model.DocumentStatusResponse, error)
	Delete(user *model.User, documentID string) error
	// SeedDocuments 写入配置中声明的文档记录，owner 为用户名。
	SeedDocuments(docs []config.SeedDocument) error
}

type documentService struct {
	documentRepo repository.DocumentRepository
	userRepo     repository.UserRepository
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(documentRepo repository.DocumentRepository, userRepo repository.UserRepository) DocumentService {
	return &documentService{documentRepo: documentRepo, userRepo: userRepo}
}

func (s *documentService) List(user *model.User, page int) (*model.DocumentPage, error) {
	if page < 1 {
		page = 1
	}
	docs, total, err := s.documentRepo.FindPage(user.ID, (page-1)*documentPageSize, documentPageSize)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []model.Document{}
	}
	return &model.DocumentPage{Documents: docs, Total: total, Page: page}, nil
}

func (s *documentService) Status(user *model.User, documentID string) (*model.DocumentStatusResponse, error) {
	doc, err := s.documentRepo.FindByID(user.ID, documentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: 文档 %s 不存在", ErrNotFound, documentID)
	}
	if err != nil {
		return nil, err
	}
	return &model.DocumentStatusResponse{DocumentID: doc.ID, Status: doc.Status, Ready: doc.Ready()}, nil
}

// Delete 删除用户自己的文档记录。
func (s *documentService) Delete(user *model.User, documentID string) error {
	deleted, err := s.documentRepo.Delete(user.ID, documentID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: 文档 %s 不存在", ErrNotFound, documentID)
	}
	log.Infof("[DocumentService] 用户 %s 删除了文档 %s", user.Username, documentID)
	return nil
}

func (s *documentService) SeedDocuments(docs []config.SeedDocument) error {
	for _, d := range docs {
		owner, err := s.userRepo.FindByUsername(d.Owner)
		if err != nil {
			return fmt.Errorf("seed document %s: owner %s: %w", d.ID, d.Owner, err)
		}
		status := model.DocumentStatus(d.Status)
		if status == "" {
			status = model.DocumentReady
		}
		if err := s.documentRepo.Upsert(&model.Document{ID: d.ID, UserID: owner.ID, FileName: d.FileName, Status: status}); err != nil {
			return fmt.Errorf("seed document %s: %w", d.ID, err)
		}
		log.Infof("[DocumentService] 已写入种子文档 %s (%s)", d.ID, d.FileName)
	}
	return nil
}
