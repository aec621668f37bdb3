// Package model 包含了应用的数据模型定义。
package model

import "time"

// RawDocument 对应于数据库中的 raw_documents 表。
// 一条记录代表一次抓取得到的原始文档，创建后不可变；
// 重新抓取会以新的 FetchTimestamp 写入新记录（supersede），而不是修改旧记录。
type RawDocument struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SourceID       string    `gorm:"type:varchar(64);not null;index" json:"sourceId"`
	URL            string    `gorm:"type:varchar(512);not null" json:"url"`
	Title          string    `gorm:"type:varchar(512)" json:"title"`
	FetchTimestamp time.Time `gorm:"not null;index" json:"fetchTimestamp"`
	Language       string    `gorm:"type:varchar(8);not null" json:"language"`
	// ObjectKey 是原始内容在 MinIO 中的对象键（raw/{source_id}/{fetch_ts}.json）。
	ObjectKey string `gorm:"type:varchar(255);not null" json:"objectKey"`
	RawText   string `gorm:"type:longtext" json:"rawText"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (RawDocument) TableName() string {
	return "raw_documents"
}

// NormalizedDocument 对应于数据库中的 normalized_documents 表。
// 由翻译与去重阶段从 RawDocument 派生，按 content_hash 唯一标识；
// 活动集中不会同时存在两条相同 content_hash 的记录。
type NormalizedDocument struct {
	ContentHash    string    `gorm:"type:varchar(64);primaryKey;column:content_hash" json:"contentHash"`
	SourceID       string    `gorm:"type:varchar(64);not null;index" json:"sourceId"`
	URL            string    `gorm:"type:varchar(512)" json:"url"`
	Title          string    `gorm:"type:varchar(512)" json:"title"`
	CanonicalText  string    `gorm:"type:longtext;not null" json:"canonicalText"`
	Language       string    `gorm:"type:varchar(8);not null" json:"language"`
	Translated     bool      `gorm:"not null;default:false" json:"translated"`
	FetchTimestamp time.Time `gorm:"not null" json:"fetchTimestamp"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (NormalizedDocument) TableName() string {
	return "normalized_documents"
}
