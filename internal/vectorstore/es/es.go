// Package es 实现基于 Elasticsearch dense_vector kNN 的向量索引后端。
// 每次重建写入一个新的版本化索引，再通过别名原子切换。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"idle-universe-go/internal/config"
	"idle-universe-go/internal/model"
	"idle-universe-go/internal/vectorstore"
	"idle-universe-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
)

// Store 通过别名访问当前活动的版本化索引。
type Store struct {
	client *elasticsearch.Client
	cfg    config.ElasticsearchConfig
	dims   int
}

var _ vectorstore.Store = (*Store)(nil)

// New 创建 Elasticsearch 向量索引后端。dims 是向量维度，建索引时写入 mapping。
func New(esCfg config.ElasticsearchConfig, dims int) (*Store, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("创建 Elasticsearch 客户端失败: %w", err)
	}
	return &Store{client: client, cfg: esCfg, dims: dims}, nil
}

// esPassage 是写入 Elasticsearch 的文档结构。
type esPassage struct {
	PassageID        string    `json:"passage_id"`
	SourceID         string    `json:"source_id"`
	Title            string    `json:"title"`
	Text             string    `json:"text"`
	OffsetInDocument int       `json:"offset_in_document"`
	InsertionOrder   int       `json:"insertion_order"`
	Vector           []float32 `json:"vector"`
}

// Rebuild 把段落集写入新的版本化索引并切换别名。
// 写入或切换失败时别名保持指向旧索引，新索引被删除。
func (s *Store) Rebuild(ctx context.Context, passages []model.Passage) error {
	version := fmt.Sprintf("%s-v-%s", s.cfg.IndexPrefix, uuid.NewString())

	if err := s.createIndex(ctx, version); err != nil {
		return err
	}

	for i, p := range passages {
		if len(p.Embedding) == 0 {
			s.deleteIndex(ctx, version)
			return fmt.Errorf("段落 %s 缺少向量", p.PassageID)
		}
		doc := esPassage{
			PassageID:        p.PassageID,
			SourceID:         p.SourceID,
			Title:            p.Title,
			Text:             p.Text,
			OffsetInDocument: p.OffsetInDocument,
			InsertionOrder:   i,
			Vector:           p.Embedding,
		}
		docBytes, err := json.Marshal(doc)
		if err != nil {
			s.deleteIndex(ctx, version)
			return fmt.Errorf("序列化段落 %s 失败: %w", p.PassageID, err)
		}
		req := esapi.IndexRequest{
			Index:      version,
			DocumentID: p.PassageID,
			Body:       bytes.NewReader(docBytes),
		}
		res, err := req.Do(ctx, s.client)
		if err != nil {
			s.deleteIndex(ctx, version)
			return fmt.Errorf("写入段落 %s 失败: %w", p.PassageID, err)
		}
		res.Body.Close()
		if res.IsError() {
			s.deleteIndex(ctx, version)
			return fmt.Errorf("写入段落 %s 时 Elasticsearch 返回错误: %s", p.PassageID, res.String())
		}
	}

	// 切换前刷新, 保证新索引立即可查
	if res, err := s.client.Indices.Refresh(s.client.Indices.Refresh.WithIndex(version)); err == nil {
		res.Body.Close()
	}

	if err := s.swapAlias(ctx, version); err != nil {
		s.deleteIndex(ctx, version)
		return err
	}
	log.Infof("[ESIndex] 索引重建完成, 版本 %s: %d 个段落", version, len(passages))
	return nil
}

// Search 执行 kNN 检索，返回至多 k 条结果。
// 相似度并列时按 insertion_order 升序排列。
func (s *Store) Search(ctx context.Context, queryVector []float32, k int) ([]model.ScoredPassage, error) {
	if k <= 0 {
		return nil, nil
	}

	exists, err := s.aliasExists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              k,
			"num_candidates": k * 10,
		},
		"sort": []interface{}{
			map[string]interface{}{"_score": "desc"},
			map[string]interface{}{"insertion_order": "asc"},
		},
		"size": k,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("序列化检索请求失败: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.cfg.Alias),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("Elasticsearch 检索失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("Elasticsearch 返回错误: %s", string(bodyBytes))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source esPassage `json:"_source"`
				Score  float64   `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("解析 Elasticsearch 响应失败: %w", err)
	}

	results := make([]model.ScoredPassage, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.ScoredPassage{
			Passage: model.Passage{
				PassageID:        hit.Source.PassageID,
				SourceID:         hit.Source.SourceID,
				Title:            hit.Source.Title,
				Text:             hit.Source.Text,
				OffsetInDocument: hit.Source.OffsetInDocument,
			},
			Score: hit.Score,
		})
	}
	return results, nil
}

// Info 返回当前别名指向的索引名与文档数。
func (s *Store) Info(ctx context.Context) (vectorstore.IndexInfo, error) {
	info := vectorstore.IndexInfo{Dimensions: s.dims}

	exists, err := s.aliasExists(ctx)
	if err != nil || !exists {
		return info, err
	}

	res, err := s.client.Indices.GetAlias(
		s.client.Indices.GetAlias.WithContext(ctx),
		s.client.Indices.GetAlias.WithName(s.cfg.Alias),
	)
	if err != nil {
		return info, fmt.Errorf("查询别名失败: %w", err)
	}
	defer res.Body.Close()
	var aliasResp map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&aliasResp); err != nil {
		return info, fmt.Errorf("解析别名响应失败: %w", err)
	}
	for indexName := range aliasResp {
		info.Version = indexName
		break
	}

	countRes, err := s.client.Count(
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(s.cfg.Alias),
	)
	if err != nil {
		return info, fmt.Errorf("统计索引文档数失败: %w", err)
	}
	defer countRes.Body.Close()
	var countResp struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(countRes.Body).Decode(&countResp); err != nil {
		return info, fmt.Errorf("解析文档数响应失败: %w", err)
	}
	info.PassageCount = countResp.Count
	return info, nil
}

// createIndex 创建版本化索引，向量字段用 cosine 相似度。
func (s *Store) createIndex(ctx context.Context, indexName string) error {
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"passage_id": { "type": "keyword" },
				"source_id": { "type": "keyword" },
				"title": { "type": "text" },
				"text": { "type": "text" },
				"offset_in_document": { "type": "integer" },
				"insertion_order": { "type": "integer" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, s.dims)

	res, err := s.client.Indices.Create(
		indexName,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("创建索引 %s 失败: %w", indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("创建索引 %s 时 Elasticsearch 返回错误: %s", indexName, res.String())
	}
	return nil
}

// swapAlias 在一次别名更新请求里完成旧索引摘除与新索引挂载。
func (s *Store) swapAlias(ctx context.Context, newIndex string) error {
	actions := map[string]interface{}{
		"actions": []map[string]interface{}{
			{"remove": map[string]interface{}{
				"index": s.cfg.IndexPrefix + "-v-*",
				"alias": s.cfg.Alias,
			}},
			{"add": map[string]interface{}{
				"index": newIndex,
				"alias": s.cfg.Alias,
			}},
		},
	}
	body, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("序列化别名更新请求失败: %w", err)
	}

	res, err := s.client.Indices.UpdateAliases(
		bytes.NewReader(body),
		s.client.Indices.UpdateAliases.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("切换索引别名失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		// remove 在别名尚不存在时会报 404, 退化为只执行 add
		return s.addAliasOnly(ctx, newIndex)
	}
	return nil
}

func (s *Store) addAliasOnly(ctx context.Context, newIndex string) error {
	res, err := s.client.Indices.PutAlias(
		[]string{newIndex},
		s.cfg.Alias,
		s.client.Indices.PutAlias.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("挂载索引别名失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return errors.New("挂载索引别名时 Elasticsearch 返回错误")
	}
	return nil
}

func (s *Store) aliasExists(ctx context.Context) (bool, error) {
	res, err := s.client.Indices.ExistsAlias(
		[]string{s.cfg.Alias},
		s.client.Indices.ExistsAlias.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("检查索引别名失败: %w", err)
	}
	defer res.Body.Close()
	return res.StatusCode == http.StatusOK, nil
}

func (s *Store) deleteIndex(ctx context.Context, indexName string) {
	res, err := s.client.Indices.Delete(
		[]string{indexName},
		s.client.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		log.Warnf("[ESIndex] 清理索引 %s 失败: %v", indexName, err)
		return
	}
	res.Body.Close()
}
