package repository

import (
	"docchat-go/internal/model"

	"gorm.io/gorm"
)

// TemplateRepository 接口定义了模板的数据操作方法。
type TemplateRepository interface {
	Create(tpl *model.Template) error
	FindAll(userID uint) ([]model.Template, error)
	FindBatchByIDs(userID uint, ids []string) ([]model.Template, error)
	// Delete 删除模板，返回是否有记录被删除。
	Delete(userID uint, id string) (bool, error)
}

type templateRepository struct {
	db *gorm.DB
}

// NewTemplateRepository 创建一个新的 TemplateRepository 实例。
func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &templateRepository{db: db}
}

// Create 在数据库中插入一个新的模板记录。
func (r *templateRepository) Create(tpl *model.Template) error {
	return r.db.Create(tpl).Error
}

// FindAll 按创建时间正序返回用户的全部模板。
func (r *templateRepository) FindAll(userID uint) ([]model.Template, error) {
	var tpls []model.Template
	err := r.db.Where("user_id = ?", userID).Order("created_at").Order("id").Find(&tpls).Error
	return tpls, err
}

func (r *templateRepository) FindBatchByIDs(userID uint, ids []string) ([]model.Template, error) {
	var tpls []model.Template
	if len(ids) == 0 {
		return tpls, nil
	}
	err := r.db.Where("user_id = ? AND id IN ?", userID, ids).Find(&tpls).Error
	return tpls, err
}

func (r *templateRepository) Delete(userID uint, id string) (bool, error) {
	res := r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&model.Template{})
	return res.RowsAffected > 0, res.Error
}
