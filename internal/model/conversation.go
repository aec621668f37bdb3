package model

import "time"

// ChatMessage 代表存储在 Redis 中的单条对话消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TurnState 表示一次问答在状态机中的位置。
type TurnState string

const (
	TurnReceived       TurnState = "RECEIVED"
	TurnQueryRewritten TurnState = "QUERY_REWRITTEN"
	TurnRetrieved      TurnState = "RETRIEVED"
	TurnAnswered       TurnState = "ANSWERED"
	TurnError          TurnState = "ERROR"
)

// ConversationTurn 记录一次问答交互的完整过程。
// 它是会话内的临时数据，由调用方持有，随会话结束丢弃，永不写入知识库。
type ConversationTurn struct {
	Question            string    `json:"question"`
	RewrittenQuery      string    `json:"rewrittenQuery"`
	RetrievedPassageIDs []string  `json:"retrievedPassageIds"`
	Answer              string    `json:"answer"`
	State               TurnState `json:"state"`
}
