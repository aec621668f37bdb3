package repository

import (
	"idle-universe-go/internal/model"

	"gorm.io/gorm"
)

// NormalizedDocumentRepository 定义了归一化文档活动集的操作接口。
// 活动集内 content_hash 唯一，整体替换发生在每次去重之后。
type NormalizedDocumentRepository interface {
	// ReplaceActiveSet 在一个事务内用给定文档集替换整个活动集。
	ReplaceActiveSet(docs []model.NormalizedDocument) error
	FindAll() ([]model.NormalizedDocument, error)
	Count() (int64, error)
}

type normalizedDocumentRepository struct {
	db *gorm.DB
}

// NewNormalizedDocumentRepository 创建一个新的 NormalizedDocumentRepository 实例。
func NewNormalizedDocumentRepository(db *gorm.DB) NormalizedDocumentRepository {
	return &normalizedDocumentRepository{db: db}
}

func (r *normalizedDocumentRepository) ReplaceActiveSet(docs []model.NormalizedDocument) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&model.NormalizedDocument{}).Error; err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		return tx.Create(&docs).Error
	})
}

func (r *normalizedDocumentRepository) FindAll() ([]model.NormalizedDocument, error) {
	var docs []model.NormalizedDocument
	err := r.db.Order("fetch_timestamp ASC").Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *normalizedDocumentRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&model.NormalizedDocument{}).Count(&count).Error
	return count, err
}
