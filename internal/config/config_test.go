package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInitHonorsExplicitZeroPolicyValues(t *testing.T) {
	Conf = Config{}
	Init(writeConfigFile(t, `
index:
  min_score: 0
  chunk_overlap: 0
`))

	// 显式配置的 0 是合法取值, 不能被默认值覆盖
	assert.Zero(t, Conf.Index.MinScore)
	assert.Zero(t, Conf.Index.ChunkOverlap)
	assert.Equal(t, 4, Conf.Index.TopK)
	assert.Equal(t, 500, Conf.Index.ChunkSize)
}

func TestInitAppliesDefaultsWhenUnset(t *testing.T) {
	Conf = Config{}
	Init(writeConfigFile(t, `
server:
  port: "8080"
`))

	assert.InDelta(t, 0.25, Conf.Index.MinScore, 1e-9)
	assert.Equal(t, 150, Conf.Index.ChunkOverlap)
	assert.Equal(t, 4, Conf.Index.TopK)
	assert.Equal(t, "flat", Conf.Index.Backend)
	assert.Equal(t, 20, Conf.Chat.HistoryLimit)
}
