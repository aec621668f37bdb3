// Package flat 实现基于内积暴力扫描的本地平面向量索引。
// 向量在入索引时做 L2 归一化，内积即余弦相似度。
package flat

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"idle-universe-go/internal/model"
	"idle-universe-go/internal/vectorstore"
	"idle-universe-go/pkg/log"

	"github.com/google/uuid"
)

const (
	vectorFileName = "index.vec"
	metaFileName   = "index.meta.json"
	currentFile    = "CURRENT"
)

// snapshot 是一个不可变的索引版本，查询只读不写。
type snapshot struct {
	version  string
	passages []model.Passage
	vectors  [][]float32
	dims     int
	builtAt  time.Time
}

// Store 持有当前活动快照，Rebuild 通过原子指针交换发布新版本。
type Store struct {
	dir     string
	current atomic.Pointer[snapshot]
}

var _ vectorstore.Store = (*Store)(nil)

// New 打开或创建 dir 下的平面索引。
// CURRENT 指针存在时加载其指向的版本，数据不完整返回 IndexCorruptionError；
// CURRENT 不存在时从空索引开始。
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建索引目录失败: %w", err)
	}

	s := &Store{dir: dir}
	s.current.Store(&snapshot{version: "", builtAt: time.Time{}})

	currentBytes, err := os.ReadFile(filepath.Join(dir, currentFile))
	if os.IsNotExist(err) {
		log.Infof("[FlatIndex] 未发现已有索引, 从空索引启动: %s", dir)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取索引指针失败: %w", err)
	}

	version := strings.TrimSpace(string(currentBytes))
	snap, err := loadSnapshot(dir, version)
	if err != nil {
		return nil, err
	}
	s.current.Store(snap)
	log.Infof("[FlatIndex] 已加载索引版本 %s: %d 个段落, %d 维", version, len(snap.passages), snap.dims)
	return s, nil
}

// Rebuild 把段落集写为新的索引版本并原子切换 CURRENT 指针。
// 任一步失败时当前版本保持活动，新版本目录被清理。
func (s *Store) Rebuild(ctx context.Context, passages []model.Passage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dims := 0
	vectors := make([][]float32, len(passages))
	for i, p := range passages {
		if len(p.Embedding) == 0 {
			return fmt.Errorf("段落 %s 缺少向量", p.PassageID)
		}
		if dims == 0 {
			dims = len(p.Embedding)
		} else if len(p.Embedding) != dims {
			return fmt.Errorf("段落 %s 向量维度不一致: 期望 %d, 实际 %d", p.PassageID, dims, len(p.Embedding))
		}
		vectors[i] = normalize(p.Embedding)
	}

	version := "v-" + uuid.NewString()
	versionDir := filepath.Join(s.dir, version)
	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		return fmt.Errorf("创建索引版本目录失败: %w", err)
	}

	if err := writeVectors(filepath.Join(versionDir, vectorFileName), vectors, dims); err != nil {
		os.RemoveAll(versionDir)
		return err
	}
	if err := writeMeta(filepath.Join(versionDir, metaFileName), passages); err != nil {
		os.RemoveAll(versionDir)
		return err
	}

	// 指针文件通过临时文件加重命名替换, 读到的 CURRENT 要么是旧版本要么是新版本
	if err := replaceCurrent(s.dir, version); err != nil {
		os.RemoveAll(versionDir)
		return err
	}

	old := s.current.Load()
	s.current.Store(&snapshot{
		version:  version,
		passages: passages,
		vectors:  vectors,
		dims:     dims,
		builtAt:  time.Now(),
	})
	log.Infof("[FlatIndex] 索引重建完成, 版本 %s: %d 个段落", version, len(passages))

	if old != nil && old.version != "" {
		if err := os.RemoveAll(filepath.Join(s.dir, old.version)); err != nil {
			log.Warnf("[FlatIndex] 清理旧版本 %s 失败: %v", old.version, err)
		}
	}
	return nil
}

// Search 对当前快照做全量内积扫描，返回相似度最高的至多 k 条结果。
// 相似度相同的段落按入索引顺序排列。
func (s *Store) Search(ctx context.Context, queryVector []float32, k int) ([]model.ScoredPassage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := s.current.Load()
	if snap == nil || len(snap.passages) == 0 {
		return nil, nil
	}
	if len(queryVector) != snap.dims {
		return nil, fmt.Errorf("查询向量维度不匹配: 索引 %d 维, 查询 %d 维", snap.dims, len(queryVector))
	}
	if k <= 0 {
		return nil, nil
	}

	query := normalize(queryVector)
	scored := make([]model.ScoredPassage, len(snap.passages))
	for i, vec := range snap.vectors {
		scored[i] = model.ScoredPassage{
			Passage: snap.passages[i],
			Score:   float64(dot(query, vec)),
		}
	}

	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].Score > scored[b].Score
	})
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// Info 返回当前活动索引的概要。
func (s *Store) Info(ctx context.Context) (vectorstore.IndexInfo, error) {
	snap := s.current.Load()
	info := vectorstore.IndexInfo{
		Version:      snap.version,
		PassageCount: len(snap.passages),
		Dimensions:   snap.dims,
	}
	if !snap.builtAt.IsZero() {
		info.BuiltAt = snap.builtAt.Format(time.RFC3339)
	}
	return info, nil
}

// loadSnapshot 从版本目录加载向量文件与元数据文件。
// 两个文件必须同时存在且条数一致，否则该版本视为损坏。
func loadSnapshot(dir, version string) (*snapshot, error) {
	versionDir := filepath.Join(dir, version)

	metaBytes, err := os.ReadFile(filepath.Join(versionDir, metaFileName))
	if err != nil {
		return nil, &vectorstore.IndexCorruptionError{Version: version,
			Reason: fmt.Sprintf("元数据文件不可读: %v", err)}
	}
	var passages []model.Passage
	if err := json.Unmarshal(metaBytes, &passages); err != nil {
		return nil, &vectorstore.IndexCorruptionError{Version: version,
			Reason: fmt.Sprintf("元数据解析失败: %v", err)}
	}

	vectors, dims, err := readVectors(filepath.Join(versionDir, vectorFileName))
	if err != nil {
		return nil, &vectorstore.IndexCorruptionError{Version: version,
			Reason: fmt.Sprintf("向量文件不可读: %v", err)}
	}
	if len(vectors) != len(passages) {
		return nil, &vectorstore.IndexCorruptionError{Version: version,
			Reason: fmt.Sprintf("向量条数 %d 与元数据条数 %d 不一致", len(vectors), len(passages))}
	}

	return &snapshot{
		version:  version,
		passages: passages,
		vectors:  vectors,
		dims:     dims,
		builtAt:  time.Now(),
	}, nil
}

// writeVectors 以小端二进制写出向量文件: uint32 条数, uint32 维度, 连续的 float32 数据。
func writeVectors(path string, vectors [][]float32, dims int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建向量文件失败: %w", err)
	}
	defer f.Close()

	header := [2]uint32{uint32(len(vectors)), uint32(dims)}
	if err := binary.Write(f, binary.LittleEndian, header[:]); err != nil {
		return fmt.Errorf("写入向量文件头失败: %w", err)
	}
	for _, vec := range vectors {
		if err := binary.Write(f, binary.LittleEndian, vec); err != nil {
			return fmt.Errorf("写入向量数据失败: %w", err)
		}
	}
	return f.Sync()
}

func readVectors(path string) ([][]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var header [2]uint32
	if err := binary.Read(f, binary.LittleEndian, header[:]); err != nil {
		return nil, 0, fmt.Errorf("读取向量文件头失败: %w", err)
	}
	count, dims := int(header[0]), int(header[1])

	vectors := make([][]float32, count)
	for i := 0; i < count; i++ {
		vec := make([]float32, dims)
		if err := binary.Read(f, binary.LittleEndian, vec); err != nil {
			return nil, 0, fmt.Errorf("读取第 %d 条向量失败: %w", i, err)
		}
		vectors[i] = vec
	}
	return vectors, dims, nil
}

// metaPassage 是元数据文件里的段落记录, 向量不重复存储。
type metaPassage struct {
	PassageID        string `json:"passage_id"`
	SourceID         string `json:"source_id"`
	Title            string `json:"title"`
	Text             string `json:"text"`
	OffsetInDocument int    `json:"offset_in_document"`
}

func writeMeta(path string, passages []model.Passage) error {
	metas := make([]metaPassage, len(passages))
	for i, p := range passages {
		metas[i] = metaPassage{
			PassageID:        p.PassageID,
			SourceID:         p.SourceID,
			Title:            p.Title,
			Text:             p.Text,
			OffsetInDocument: p.OffsetInDocument,
		}
	}
	data, err := json.Marshal(metas)
	if err != nil {
		return fmt.Errorf("序列化索引元数据失败: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("写入索引元数据失败: %w", err)
	}
	return nil
}

// replaceCurrent 用临时文件加重命名的方式替换 CURRENT 指针文件。
func replaceCurrent(dir, version string) error {
	tmp, err := os.CreateTemp(dir, "CURRENT-*")
	if err != nil {
		return fmt.Errorf("创建指针临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(version + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("写入指针临时文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("落盘指针临时文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, currentFile)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("切换指针文件失败: %w", err)
	}
	return nil
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
