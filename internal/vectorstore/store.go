// Package vectorstore 定义了向量索引后端的统一接口。
// 具体实现见 flat（本地平面索引）与 es（Elasticsearch kNN）子包。
package vectorstore

import (
	"context"
	"fmt"

	"idle-universe-go/internal/model"
)

// Store 是向量索引后端的统一接口。
// 索引是不可变快照：Rebuild 原子地替换整个索引，查询请求要么命中旧版本要么命中新版本。
type Store interface {
	// Rebuild 用给定段落集全量重建索引并原子切换。失败时当前索引保持可用。
	Rebuild(ctx context.Context, passages []model.Passage) error
	// Search 返回与查询向量最相似的至多 k 个段落，按相似度降序。
	// 相似度相同的按入索引顺序排列。索引为空或命中不足 k 条时返回实际命中数。
	Search(ctx context.Context, queryVector []float32, k int) ([]model.ScoredPassage, error)
	// Info 返回当前活动索引的概要信息。
	Info(ctx context.Context) (IndexInfo, error)
}

// IndexInfo 描述当前活动索引的状态。
type IndexInfo struct {
	Version      string `json:"version"`
	PassageCount int    `json:"passageCount"`
	Dimensions   int    `json:"dimensions"`
	BuiltAt      string `json:"builtAt"`
}

// IndexCorruptionError 表示持久化的索引数据不完整或内部不一致。
// 加载端遇到它应拒绝使用该索引版本，而不是部分加载。
type IndexCorruptionError struct {
	Version string
	Reason  string
}

func (e *IndexCorruptionError) Error() string {
	return fmt.Sprintf("索引版本 %s 已损坏: %s", e.Version, e.Reason)
}
