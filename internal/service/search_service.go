package service

import (
	"context"
	"fmt"

	"idle-universe-go/internal/config"
	"idle-universe-go/internal/model"
	"idle-universe-go/internal/vectorstore"
	"idle-universe-go/pkg/embedding"
	"idle-universe-go/pkg/log"
)

// SearchService 提供不经过生成阶段的纯检索能力, 用于调试与前端引用展示。
type SearchService interface {
	Search(ctx context.Context, query string, topK int) ([]model.SearchResponseDTO, error)
}

type searchService struct {
	embeddingClient embedding.Client
	store           vectorstore.Store
	indexCfg        config.IndexConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embeddingClient embedding.Client, store vectorstore.Store, indexCfg config.IndexConfig) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		store:           store,
		indexCfg:        indexCfg,
	}
}

// Search 向量化查询并返回过滤相似度下限后的命中结果。
func (s *searchService) Search(ctx context.Context, query string, topK int) ([]model.SearchResponseDTO, error) {
	if topK <= 0 {
		topK = s.indexCfg.TopK
	}

	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}

	results, err := s.store.Search(ctx, queryVector, topK)
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	dtos := make([]model.SearchResponseDTO, 0, len(results))
	for _, r := range results {
		if r.Score < s.indexCfg.MinScore {
			continue
		}
		dtos = append(dtos, model.SearchResponseDTO{
			PassageID: r.Passage.PassageID,
			SourceID:  r.Passage.SourceID,
			Title:     r.Passage.Title,
			Text:      r.Passage.Text,
			Score:     r.Score,
		})
	}
	log.Infof("[SearchService] 检索完成, query: '%s', 返回 %d 条", query, len(dtos))
	return dtos, nil
}
