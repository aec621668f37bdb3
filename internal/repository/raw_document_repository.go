// Package repository 提供了数据访问层的实现。
package repository

import (
	"idle-universe-go/internal/model"

	"gorm.io/gorm"
)

// RawDocumentRepository 定义了原始文档目录的操作接口。
type RawDocumentRepository interface {
	// Create 写入一条新的抓取记录。重爬同一来源会产生新的 FetchTimestamp 记录，
	// 旧记录被取代但不被修改。
	Create(doc *model.RawDocument) error
	BatchCreate(docs []*model.RawDocument) error
	// FindLatestBySource 返回每个来源最近一次抓取的文档集合。
	FindLatestBySource(sourceID string) ([]model.RawDocument, error)
	Count() (int64, error)
}

type rawDocumentRepository struct {
	db *gorm.DB
}

// NewRawDocumentRepository 创建一个新的 RawDocumentRepository 实例。
func NewRawDocumentRepository(db *gorm.DB) RawDocumentRepository {
	return &rawDocumentRepository{db: db}
}

func (r *rawDocumentRepository) Create(doc *model.RawDocument) error {
	return r.db.Create(doc).Error
}

func (r *rawDocumentRepository) BatchCreate(docs []*model.RawDocument) error {
	if len(docs) == 0 {
		return nil
	}
	return r.db.Create(docs).Error
}

func (r *rawDocumentRepository) FindLatestBySource(sourceID string) ([]model.RawDocument, error) {
	var docs []model.RawDocument
	err := r.db.Where("source_id = ?", sourceID).
		Order("fetch_timestamp DESC").
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *rawDocumentRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&model.RawDocument{}).Count(&count).Error
	return count, err
}
