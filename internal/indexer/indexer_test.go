package indexer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"idle-universe-go/internal/config"
	"idle-universe-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextShortInputSingleChunk(t *testing.T) {
	chunks := SplitText("short text", 500, 150)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Offset)
}

func TestSplitTextWindowAndOverlap(t *testing.T) {
	text := strings.Repeat("a", 10)
	chunks := SplitText(text, 4, 2)

	// 窗口 4, 步长 2: [0,4) [2,6) [4,8) [6,10)
	require.Len(t, chunks, 4)
	assert.Equal(t, 0, chunks[0].Offset)
	assert.Equal(t, 2, chunks[1].Offset)
	assert.Equal(t, 6, chunks[3].Offset)
	for _, c := range chunks {
		assert.Equal(t, "aaaa", c.Text)
	}
}

func TestSplitTextCountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("中", 6)
	chunks := SplitText(text, 4, 2)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, "中中中中", chunks[0].Text)
	assert.Equal(t, 2, chunks[1].Offset)
}

func TestSplitTextDeterministic(t *testing.T) {
	text := strings.Repeat("latata queencard tomboy ", 50)
	a := SplitText(text, 100, 30)
	b := SplitText(text, 100, 30)
	assert.Equal(t, a, b)
}

func TestSplitTextEmpty(t *testing.T) {
	assert.Empty(t, SplitText("", 500, 150))
}

type fakeEmbedder struct {
	failOn string // 包含该子串的批次返回错误
	calls  int
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if f.failOn != "" && strings.Contains(text, f.failOn) {
			return nil, errors.New("embedding backend unavailable")
		}
		vectors[i] = []float32{float32(len(text)), 1, 0}
	}
	return vectors, nil
}

func testIndexConfig() config.IndexConfig {
	return config.IndexConfig{ChunkSize: 20, ChunkOverlap: 5}
}

func TestBuildPassagesAssignsIDs(t *testing.T) {
	b := NewBuilder(testIndexConfig(), &fakeEmbedder{})

	passages, err := b.BuildPassages(context.Background(), []model.NormalizedDocument{
		{ContentHash: "abc123", SourceID: "wikipedia", Title: "T",
			CanonicalText: strings.Repeat("x", 50)},
	})
	require.NoError(t, err)
	require.NotEmpty(t, passages)

	assert.Equal(t, "abc123_0", passages[0].PassageID)
	assert.Equal(t, "abc123_1", passages[1].PassageID)
	assert.Equal(t, 0, passages[0].OffsetInDocument)
	assert.Equal(t, 15, passages[1].OffsetInDocument)
	for _, p := range passages {
		assert.Equal(t, "wikipedia", p.SourceID)
		assert.NotEmpty(t, p.Embedding)
	}
}

func TestBuildPassagesKeepsSiblingsOnChunkFailure(t *testing.T) {
	b := NewBuilder(testIndexConfig(), &fakeEmbedder{failOn: "BAD"})

	// 4 个片段, 只有最后一个片段包含失败标记
	text := strings.Repeat("y", 57) + "BAD"
	passages, err := b.BuildPassages(context.Background(), []model.NormalizedDocument{
		{ContentHash: "doc", CanonicalText: text},
	})
	require.NoError(t, err)

	// 批量调用失败后退回逐片段, 失败片段被跳过且不重排编号, 其余片段保留
	require.Len(t, passages, 3)
	assert.Equal(t, "doc_0", passages[0].PassageID)
	assert.Equal(t, "doc_1", passages[1].PassageID)
	assert.Equal(t, "doc_2", passages[2].PassageID)
}

func TestBuildPassagesFailedChunksDoNotAbortBatch(t *testing.T) {
	b := NewBuilder(testIndexConfig(), &fakeEmbedder{failOn: "FAIL"})

	passages, err := b.BuildPassages(context.Background(), []model.NormalizedDocument{
		{ContentHash: "bad", CanonicalText: "FAIL FAIL FAIL"},
		{ContentHash: "good", CanonicalText: "a normal document text"},
	})
	require.NoError(t, err)

	// 一篇文档的全部片段失败也只影响它自己
	require.NotEmpty(t, passages)
	for _, p := range passages {
		assert.True(t, strings.HasPrefix(p.PassageID, "good_"))
	}
}

func TestBuildPassagesSkipsEmptyDocuments(t *testing.T) {
	b := NewBuilder(testIndexConfig(), &fakeEmbedder{})
	passages, err := b.BuildPassages(context.Background(), []model.NormalizedDocument{
		{ContentHash: "empty", CanonicalText: ""},
	})
	require.NoError(t, err)
	assert.Empty(t, passages)
}
