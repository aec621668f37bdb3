// Package pipeline 实现知识库的离线摄取流水线。
// 一次全量摄取依次经过抓取、原始落库、翻译归一化、去重、切块向量化与索引重建。
package pipeline

import (
	"context"
	"fmt"

	"idle-universe-go/internal/config"
	"idle-universe-go/internal/crawler"
	"idle-universe-go/internal/dedupe"
	"idle-universe-go/internal/indexer"
	"idle-universe-go/internal/model"
	"idle-universe-go/internal/repository"
	"idle-universe-go/internal/translator"
	"idle-universe-go/internal/vectorstore"
	"idle-universe-go/pkg/log"
	"idle-universe-go/pkg/storage"
	"idle-universe-go/pkg/tasks"
)

// Processor 消费摄取任务并驱动整条流水线。
type Processor struct {
	crawler    *crawler.Crawler
	translator *translator.Translator
	dedup      *dedupe.Deduplicator
	builder    *indexer.Builder
	store      vectorstore.Store
	rawRepo    repository.RawDocumentRepository
	normRepo   repository.NormalizedDocumentRepository
	bucket     string
}

// NewProcessor 创建一个 Processor。
func NewProcessor(
	c *crawler.Crawler,
	t *translator.Translator,
	d *dedupe.Deduplicator,
	b *indexer.Builder,
	store vectorstore.Store,
	rawRepo repository.RawDocumentRepository,
	normRepo repository.NormalizedDocumentRepository,
	minioCfg config.MinIOConfig,
) *Processor {
	return &Processor{
		crawler:    c,
		translator: t,
		dedup:      d,
		builder:    b,
		store:      store,
		rawRepo:    rawRepo,
		normRepo:   normRepo,
		bucket:     minioCfg.BucketName,
	}
}

// Process 按任务类型执行全量摄取或仅索引重建。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) error {
	log.Infof("[Pipeline] 开始处理任务 %s, 类型: %s", task.RequestID, task.Type)
	switch task.Type {
	case tasks.TypeCrawl:
		return p.runFullIngest(ctx, task.SourceID)
	case tasks.TypeRebuild:
		return p.rebuildIndex(ctx)
	default:
		return fmt.Errorf("未知的任务类型: %s", task.Type)
	}
}

// runFullIngest 执行一次完整的抓取与索引重建。sourceID 非空时只抓取该来源。
func (p *Processor) runFullIngest(ctx context.Context, sourceID string) error {
	rawDocs, err := p.crawler.Crawl(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("抓取阶段失败: %w", err)
	}
	if len(rawDocs) == 0 {
		return fmt.Errorf("抓取阶段没有产出任何文档")
	}

	if err := p.persistRawDocuments(ctx, rawDocs); err != nil {
		return err
	}

	normalized := p.translator.Normalize(ctx, rawDocs)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(normalized) == 0 {
		return fmt.Errorf("归一化阶段没有产出任何文档")
	}

	// 单来源抓取时保留其他来源的既有文档, 只替换该来源的部分
	if sourceID != "" {
		existing, err := p.normRepo.FindAll()
		if err != nil {
			return fmt.Errorf("读取归一化文档失败: %w", err)
		}
		for _, doc := range existing {
			if doc.SourceID != sourceID {
				normalized = append(normalized, doc)
			}
		}
	}

	deduped := p.dedup.Deduplicate(normalized)
	if err := p.normRepo.ReplaceActiveSet(deduped); err != nil {
		return fmt.Errorf("替换归一化文档活动集失败: %w", err)
	}

	return p.buildAndSwap(ctx, deduped)
}

// rebuildIndex 跳过抓取, 用当前归一化活动集重建索引。
// 用于调整切块或向量化参数后的重算。
func (p *Processor) rebuildIndex(ctx context.Context) error {
	docs, err := p.normRepo.FindAll()
	if err != nil {
		return fmt.Errorf("读取归一化文档失败: %w", err)
	}
	if len(docs) == 0 {
		return fmt.Errorf("归一化文档活动集为空, 无法重建索引")
	}
	return p.buildAndSwap(ctx, docs)
}

// persistRawDocuments 把原始文档正文写入 MinIO, 目录记录写入 MySQL。
// 对象键形如 raw/{source_id}/{fetch_ts}.json。
func (p *Processor) persistRawDocuments(ctx context.Context, docs []model.RawDocument) error {
	records := make([]*model.RawDocument, 0, len(docs))
	for i := range docs {
		doc := &docs[i]
		doc.ObjectKey = fmt.Sprintf("raw/%s/%d.json", doc.SourceID, doc.FetchTimestamp.UnixNano())
		if err := storage.PutJSONObject(ctx, p.bucket, doc.ObjectKey, doc); err != nil {
			return fmt.Errorf("写入原始文档对象 %s 失败: %w", doc.ObjectKey, err)
		}
		records = append(records, doc)
	}
	if err := p.rawRepo.BatchCreate(records); err != nil {
		return fmt.Errorf("写入原始文档目录失败: %w", err)
	}
	log.Infof("[Pipeline] 原始文档落库完成: %d 篇", len(records))
	return nil
}

// buildAndSwap 切块向量化后全量重建索引。重建失败时旧索引保持可查。
func (p *Processor) buildAndSwap(ctx context.Context, docs []model.NormalizedDocument) error {
	passages, err := p.builder.BuildPassages(ctx, docs)
	if err != nil {
		return fmt.Errorf("段落构建失败: %w", err)
	}
	if len(passages) == 0 {
		return fmt.Errorf("没有可入索引的段落")
	}
	if err := p.store.Rebuild(ctx, passages); err != nil {
		return fmt.Errorf("索引重建失败: %w", err)
	}
	log.Infof("[Pipeline] 索引重建完成: %d 个段落", len(passages))
	return nil
}
