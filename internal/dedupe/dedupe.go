// Package dedupe 实现归一化文档的精确去重与近重复去重。
package dedupe

import (
	"encoding/hex"
	"sort"
	"strings"

	"idle-universe-go/internal/model"
	"idle-universe-go/pkg/log"

	"golang.org/x/crypto/blake2b"
)

// shingleSize 是近重复判定使用的词级 shingle 宽度。
const shingleSize = 3

// Deduplicator 对归一化文档集做两阶段去重。
type Deduplicator struct {
	// similarityThreshold 是 Jaccard 近重复判定阈值，相似度达到该值的文档对视为近重复。
	similarityThreshold float64
}

// New 创建一个 Deduplicator。
func New(similarityThreshold float64) *Deduplicator {
	return &Deduplicator{similarityThreshold: similarityThreshold}
}

// Fingerprint 计算文本的内容指纹：先做大小写折叠与空白归一化，
// 再取 BLAKE2b-256 摘要的十六进制串。两份仅空白或大小写不同的文本指纹相同。
func Fingerprint(text string) string {
	canonical := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := blake2b.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Deduplicate 返回去重后的文档集。
// 精确重复（指纹相同）只保留 FetchTimestamp 最新的一条；
// 近重复（词级 3-shingle Jaccard 相似度达到阈值）同样保留最新的一条。
// 被丢弃的文档记录日志，不构成错误。
func (d *Deduplicator) Deduplicate(docs []model.NormalizedDocument) []model.NormalizedDocument {
	if len(docs) == 0 {
		return nil
	}

	// 第一阶段：按指纹分组，组内保留最新
	byHash := make(map[string]model.NormalizedDocument)
	order := make([]string, 0, len(docs))
	for _, doc := range docs {
		hash := doc.ContentHash
		if hash == "" {
			hash = Fingerprint(doc.CanonicalText)
			doc.ContentHash = hash
		}
		existing, ok := byHash[hash]
		if !ok {
			byHash[hash] = doc
			order = append(order, hash)
			continue
		}
		if doc.FetchTimestamp.After(existing.FetchTimestamp) {
			log.Infof("[Dedupe] 精确重复, 丢弃旧文档: %s (%s)", existing.Title, existing.URL)
			byHash[hash] = doc
		} else {
			log.Infof("[Dedupe] 精确重复, 丢弃文档: %s (%s)", doc.Title, doc.URL)
		}
	}

	unique := make([]model.NormalizedDocument, 0, len(byHash))
	for _, hash := range order {
		unique = append(unique, byHash[hash])
	}

	// 第二阶段：对剩余文档做两两 Jaccard 比较，近重复对保留最新
	discarded := make(map[int]bool)
	shingleSets := make([]map[string]struct{}, len(unique))
	for i, doc := range unique {
		shingleSets[i] = shingles(doc.CanonicalText)
	}
	for i := 0; i < len(unique); i++ {
		if discarded[i] {
			continue
		}
		for j := i + 1; j < len(unique); j++ {
			if discarded[j] {
				continue
			}
			sim := jaccard(shingleSets[i], shingleSets[j])
			if sim < d.similarityThreshold {
				continue
			}
			// 保留抓取时间更新的一方
			if unique[j].FetchTimestamp.After(unique[i].FetchTimestamp) {
				log.Infof("[Dedupe] 近重复 (相似度 %.3f), 丢弃文档: %s (%s)", sim, unique[i].Title, unique[i].URL)
				discarded[i] = true
				break
			}
			log.Infof("[Dedupe] 近重复 (相似度 %.3f), 丢弃文档: %s (%s)", sim, unique[j].Title, unique[j].URL)
			discarded[j] = true
		}
	}

	result := make([]model.NormalizedDocument, 0, len(unique))
	for i, doc := range unique {
		if !discarded[i] {
			result = append(result, doc)
		}
	}

	// 稳定输出顺序，便于下游分块结果可复现
	sort.SliceStable(result, func(a, b int) bool {
		return result[a].ContentHash < result[b].ContentHash
	})
	log.Infof("[Dedupe] 去重完成: 输入 %d 篇, 保留 %d 篇", len(docs), len(result))
	return result
}

// shingles 把文本切成词级 shingle 集合。词数不足一个 shingle 时整体作为单个元素。
func shingles(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{})
	if len(words) < shingleSize {
		if len(words) > 0 {
			set[strings.Join(words, " ")] = struct{}{}
		}
		return set
	}
	for i := 0; i+shingleSize <= len(words); i++ {
		set[strings.Join(words[i:i+shingleSize], " ")] = struct{}{}
	}
	return set
}

// jaccard 计算两个 shingle 集合的 Jaccard 相似度。
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for s := range a {
		if _, ok := b[s]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
