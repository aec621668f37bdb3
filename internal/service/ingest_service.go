package service

import (
	"context"
	"fmt"
	"time"

	"idle-universe-go/internal/model"
	"idle-universe-go/internal/repository"
	"idle-universe-go/internal/vectorstore"
	"idle-universe-go/pkg/kafka"
	"idle-universe-go/pkg/log"
	"idle-universe-go/pkg/tasks"

	"github.com/google/uuid"
)

// IngestService 定义了知识库构建相关的操作。
type IngestService interface {
	// EnqueueCrawl 投递一个抓取任务, 返回请求 ID。sourceID 为空时抓取所有来源。
	EnqueueCrawl(ctx context.Context, sourceID string) (string, error)
	// EnqueueRebuild 投递一个仅重建索引的任务, 返回请求 ID。
	EnqueueRebuild(ctx context.Context) (string, error)
	// Status 返回知识库当前状态。
	Status(ctx context.Context) (*IngestStatus, error)
}

// IngestStatus 汇总知识库各层的当前规模。
type IngestStatus struct {
	RawDocumentCount        int64                 `json:"rawDocumentCount"`
	NormalizedDocumentCount int64                 `json:"normalizedDocumentCount"`
	Index                   vectorstore.IndexInfo `json:"index"`
	GeneratedAt             model.LocalTime       `json:"generatedAt"`
}

type ingestService struct {
	rawRepo  repository.RawDocumentRepository
	normRepo repository.NormalizedDocumentRepository
	store    vectorstore.Store
}

// NewIngestService 创建一个新的 IngestService 实例。
func NewIngestService(rawRepo repository.RawDocumentRepository, normRepo repository.NormalizedDocumentRepository, store vectorstore.Store) IngestService {
	return &ingestService{
		rawRepo:  rawRepo,
		normRepo: normRepo,
		store:    store,
	}
}

func (s *ingestService) EnqueueCrawl(ctx context.Context, sourceID string) (string, error) {
	requestID := uuid.NewString()
	task := tasks.IngestTask{
		Type:      tasks.TypeCrawl,
		SourceID:  sourceID,
		RequestID: requestID,
	}
	if err := kafka.ProduceIngestTask(task); err != nil {
		return "", fmt.Errorf("投递抓取任务失败: %w", err)
	}
	log.Infof("[IngestService] 已投递抓取任务: request=%s, source=%s", requestID, sourceID)
	return requestID, nil
}

func (s *ingestService) EnqueueRebuild(ctx context.Context) (string, error) {
	requestID := uuid.NewString()
	task := tasks.IngestTask{
		Type:      tasks.TypeRebuild,
		RequestID: requestID,
	}
	if err := kafka.ProduceIngestTask(task); err != nil {
		return "", fmt.Errorf("投递重建任务失败: %w", err)
	}
	log.Infof("[IngestService] 已投递重建任务: request=%s", requestID)
	return requestID, nil
}

func (s *ingestService) Status(ctx context.Context) (*IngestStatus, error) {
	rawCount, err := s.rawRepo.Count()
	if err != nil {
		return nil, fmt.Errorf("统计原始文档失败: %w", err)
	}
	normCount, err := s.normRepo.Count()
	if err != nil {
		return nil, fmt.Errorf("统计归一化文档失败: %w", err)
	}
	info, err := s.store.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取索引状态失败: %w", err)
	}
	return &IngestStatus{
		RawDocumentCount:        rawCount,
		NormalizedDocumentCount: normCount,
		Index:                   info,
		GeneratedAt:             model.LocalTime(time.Now()),
	}, nil
}
