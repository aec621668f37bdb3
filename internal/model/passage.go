package model

// Passage 是切块与向量化之后的检索单元，随索引元数据表一起持久化。
// 创建后不可变，仅在全量重建索引时整体替换。
type Passage struct {
	PassageID string `json:"passage_id"` // {content_hash}_{chunk_id}
	SourceID  string `json:"source_id"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	// OffsetInDocument 是该分块在 canonical_text 中的起始 rune 偏移。
	OffsetInDocument int `json:"offset_in_document"`
	// Embedding 是定长实数向量，只存在于向量文件中，元数据表内不重复存储。
	Embedding []float32 `json:"-"`
}

// ScoredPassage 是一次相似度检索的单条命中结果。
type ScoredPassage struct {
	Passage Passage `json:"passage"`
	Score   float64 `json:"score"`
}

// SearchResponseDTO 定义了返回给前端的检索结果结构。
type SearchResponseDTO struct {
	PassageID string  `json:"passageId"`
	SourceID  string  `json:"sourceId"`
	Title     string  `json:"title"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}
