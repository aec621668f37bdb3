package flat

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"idle-universe-go/internal/model"
	"idle-universe-go/internal/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passage(id string, vec ...float32) model.Passage {
	return model.Passage{PassageID: id, SourceID: "wikipedia", Text: "text " + id, Embedding: vec}
}

func TestSearchOrdersByCosineSimilarity(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Rebuild(context.Background(), []model.Passage{
		passage("far", 0, 1, 0),
		passage("close", 1, 0.1, 0),
		passage("exact", 1, 0, 0),
	}))

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "exact", results[0].Passage.PassageID)
	assert.Equal(t, "close", results[1].Passage.PassageID)
	assert.Equal(t, "far", results[2].Passage.PassageID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchTiesKeepInsertionOrder(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	// 两个段落与查询向量的相似度完全相同
	require.NoError(t, s.Rebuild(context.Background(), []model.Passage{
		passage("first", 2, 0, 0),
		passage("second", 5, 0, 0),
	}))

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Passage.PassageID)
	assert.Equal(t, "second", results[1].Passage.PassageID)
}

func TestSearchFewerThanK(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Rebuild(context.Background(), []model.Passage{
		passage("only", 1, 0, 0),
	}))

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchEmptyIndex(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 4)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRebuildFailureKeepsCurrentSnapshot(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Rebuild(context.Background(), []model.Passage{
		passage("keep", 1, 0, 0),
	}))

	// 维度不一致的重建失败, 旧快照保持可查
	err = s.Rebuild(context.Background(), []model.Passage{
		passage("a", 1, 0, 0),
		passage("b", 1, 0),
	})
	require.Error(t, err)

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "keep", results[0].Passage.PassageID)
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Rebuild(context.Background(), []model.Passage{
		passage("p1", 1, 0, 0),
		passage("p2", 0, 1, 0),
	}))

	info, err := s.Info(context.Background())
	require.NoError(t, err)

	// 重新打开同一目录, 加载到同一版本
	reopened, err := New(dir)
	require.NoError(t, err)

	info2, err := reopened.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, info.Version, info2.Version)
	assert.Equal(t, 2, info2.PassageCount)
	assert.Equal(t, 3, info2.Dimensions)

	results, err := reopened.Search(context.Background(), []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p2", results[0].Passage.PassageID)
	assert.Equal(t, "text p2", results[0].Passage.Text)
}

func TestCorruptIndexRejectedOnLoad(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.Rebuild(context.Background(), []model.Passage{
		passage("p1", 1, 0, 0),
	}))

	info, err := s.Info(context.Background())
	require.NoError(t, err)

	// 删除向量文件, 元数据仍在: 版本视为损坏, 拒绝加载
	require.NoError(t, os.Remove(filepath.Join(dir, info.Version, "index.vec")))

	_, err = New(dir)
	require.Error(t, err)
	var corrupt *vectorstore.IndexCorruptionError
	assert.ErrorAs(t, err, &corrupt)
}

func TestRebuildReplacesPreviousVersion(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Rebuild(context.Background(), []model.Passage{
		passage("old", 1, 0, 0),
	}))
	require.NoError(t, s.Rebuild(context.Background(), []model.Passage{
		passage("new", 1, 0, 0),
	}))

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Passage.PassageID)
}
