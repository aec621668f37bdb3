// Package tasks 定义了投递到 Kafka 的任务结构。
package tasks

const (
	// TypeCrawl 表示抓取任务：爬取来源站点并在完成后重建索引。
	TypeCrawl = "crawl"
	// TypeRebuild 表示重建任务：从已有的归一化文档重建向量索引。
	TypeRebuild = "rebuild"
)

// IngestTask 代表一个知识库构建任务。
type IngestTask struct {
	// Type 为 TypeCrawl 或 TypeRebuild。
	Type string `json:"type"`
	// SourceID 非空时只爬取该来源，为空时爬取所有启用的来源。仅对 crawl 有效。
	SourceID string `json:"source_id,omitempty"`
	// RequestID 用于日志关联与失败计数。
	RequestID string `json:"request_id"`
}
