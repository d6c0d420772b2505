package model

import "time"

// DocumentStatus 是文档处理流水线的状态，由外部摄取流程维护。
type DocumentStatus string

const (
	DocumentProcessing DocumentStatus = "processing"
	DocumentReady      DocumentStatus = "ready"
	DocumentFailed     DocumentStatus = "failed"
)

// Document 代表一份已上传、可作为会话检索范围的文档。
type Document struct {
	ID        string         `gorm:"type:varchar(64);primaryKey" json:"document_id"`
	UserID    uint           `gorm:"index;not null" json:"-"`
	FileName  string         `gorm:"type:varchar(255);not null" json:"filename"`
	Status    DocumentStatus `gorm:"type:varchar(16);not null;default:'processing'" json:"status"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (Document) TableName() string {
	return "documents"
}

// Ready 判断文档是否已可用于检索。
func (d Document) Ready() bool {
	return d.Status == DocumentReady
}

// DocumentPage 是文档分页列表的响应体。
type DocumentPage struct {
	Documents []Document `json:"documents"`
	Total     int64      `json:"total"`
	Page      int        `json:"page"`
}

// DocumentStatusResponse 是文档状态查询的响应体。
type DocumentStatusResponse struct {
	DocumentID string         `json:"document_id"`
	Status     DocumentStatus `json:"status"`
	Ready      bool           `json:"ready"`
}
