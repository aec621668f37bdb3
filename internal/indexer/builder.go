package indexer

import (
	"context"
	"fmt"

	"idle-universe-go/internal/config"
	"idle-universe-go/internal/model"
	"idle-universe-go/pkg/embedding"
	"idle-universe-go/pkg/log"
)

// EmbeddingError 表示某个片段向量化失败。失败片段被跳过，同文档的其余片段不受影响。
type EmbeddingError struct {
	PassageID string
	Err       error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("片段 %s 向量化失败: %v", e.PassageID, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Builder 把归一化文档切分并向量化为可入索引的段落。
type Builder struct {
	cfg       config.IndexConfig
	embedding embedding.Client
}

// NewBuilder 创建一个 Builder。
func NewBuilder(cfg config.IndexConfig, embeddingClient embedding.Client) *Builder {
	return &Builder{cfg: cfg, embedding: embeddingClient}
}

// BuildPassages 把文档集切分为段落并向量化。
// 段落 ID 形如 {content_hash}_{chunk_id}，chunk_id 从 0 递增，跳过的片段不重排编号。
// 先尝试整篇批量调用；批量失败时退回逐片段调用，只跳过真正失败的片段并记录日志，
// 同文档的其余片段照常产出，不中断整批。
func (b *Builder) BuildPassages(ctx context.Context, docs []model.NormalizedDocument) ([]model.Passage, error) {
	var passages []model.Passage

	for _, doc := range docs {
		chunks := SplitText(doc.CanonicalText, b.cfg.ChunkSize, b.cfg.ChunkOverlap)
		if len(chunks) == 0 {
			continue
		}

		texts := make([]string, len(chunks))
		for i, chunk := range chunks {
			texts[i] = chunk.Text
		}

		vectors, err := b.embedding.CreateEmbeddings(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			vectors, err = b.embedChunksOneByOne(ctx, doc.ContentHash, chunks)
			if err != nil {
				return nil, err
			}
		}

		for i, chunk := range chunks {
			if vectors[i] == nil {
				continue
			}
			passages = append(passages, model.Passage{
				PassageID:        fmt.Sprintf("%s_%d", doc.ContentHash, i),
				SourceID:         doc.SourceID,
				Title:            doc.Title,
				Text:             chunk.Text,
				OffsetInDocument: chunk.Offset,
				Embedding:        vectors[i],
			})
		}
	}

	log.Infof("[Indexer] 段落构建完成: %d 篇文档, %d 个段落", len(docs), len(passages))
	return passages, nil
}

// embedChunksOneByOne 逐片段向量化一篇文档，失败片段对应位置留 nil。
// 只有上下文取消才返回错误。
func (b *Builder) embedChunksOneByOne(ctx context.Context, contentHash string, chunks []Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	for i, chunk := range chunks {
		vec, err := b.embedding.CreateEmbedding(ctx, chunk.Text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			embErr := &EmbeddingError{PassageID: fmt.Sprintf("%s_%d", contentHash, i), Err: err}
			log.Errorf("[Indexer] %v, 跳过该片段", embErr)
			continue
		}
		vectors[i] = vec
	}
	return vectors, nil
}
