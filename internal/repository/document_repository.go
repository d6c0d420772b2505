package repository

import (
	"docchat-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRepository 接口定义了文档记录的持久化操作。
// 文档由外部摄取流程写入，这里负责查询、删除和种子数据。
type DocumentRepository interface {
	// Upsert 按 ID 插入或更新文档记录。
	Upsert(doc *model.Document) error
	FindByID(userID uint, id string) (*model.Document, error)
	FindPage(userID uint, offset, limit int) ([]model.Document, int64, error)
	FindBatchByIDs(userID uint, ids []string) ([]model.Document, error)
	// Delete 删除文档记录，返回是否有记录被删除。
	Delete(userID uint, id string) (bool, error)
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Upsert(doc *model.Document) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "file_name", "status"}),
	}).Create(doc).Error
}

func (r *documentRepository) FindByID(userID uint, id string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindPage 分页检索用户的文档，返回文档列表与总数。
func (r *documentRepository) FindPage(userID uint, offset, limit int) ([]model.Document, int64, error) {
	var docs []model.Document
	var total int64

	db := r.db.Model(&model.Document{}).Where("user_id = ?", userID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("created_at DESC").Order("id").Offset(offset).Limit(limit).Find(&docs).Error
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func (r *documentRepository) FindBatchByIDs(userID uint, ids []string) ([]model.Document, error) {
	var docs []model.Document
	if len(ids) == 0 {
		return docs, nil
	}
	err := r.db.Where("user_id = ? AND id IN ?", userID, ids).Find(&docs).Error
	return docs, err
}

func (r *documentRepository) Delete(userID uint, id string) (bool, error) {
	res := r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&model.Document{})
	return res.RowsAffected > 0, res.Error
}
