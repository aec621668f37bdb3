// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"time"

	"idle-universe-go/internal/config"
	"idle-universe-go/internal/qa"
	"idle-universe-go/internal/repository"
	"idle-universe-go/pkg/log"

	"github.com/gorilla/websocket"
)

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// StreamResponse 执行一轮问答并把答案分块流式写入 WebSocket。
	StreamResponse(ctx context.Context, question, sessionID string, ws *websocket.Conn, shouldStop func() bool) error
	// ClearSession 丢弃会话的对话历史。
	ClearSession(ctx context.Context, sessionID string) error
}

type chatService struct {
	chain            *qa.Chain
	conversationRepo repository.ConversationRepository
	chatCfg          config.ChatConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(chain *qa.Chain, conversationRepo repository.ConversationRepository, chatCfg config.ChatConfig) ChatService {
	return &chatService{
		chain:            chain,
		conversationRepo: conversationRepo,
		chatCfg:          chatCfg,
	}
}

// StreamResponse 载入会话历史, 驱动问答链, 完成后保存本轮并发送完成通知。
func (s *chatService) StreamResponse(ctx context.Context, question, sessionID string, ws *websocket.Conn, shouldStop func() bool) error {
	history, err := s.conversationRepo.GetHistory(ctx, sessionID)
	if err != nil {
		log.Errorf("[ChatService] 读取会话 %s 历史失败: %v", sessionID, err)
		history = nil
	}

	interceptor := &wsChunkWriter{conn: ws, shouldStop: shouldStop}
	turn, err := s.chain.AskStream(ctx, question, history, interceptor)
	if err != nil {
		return err
	}

	sendCompletion(ws)

	if turn.Answer != "" {
		// 用后台上下文保存, 请求取消不应丢掉已生成完的答案
		if err := s.conversationRepo.AppendTurn(context.Background(), sessionID, question, turn.Answer, s.chatCfg.HistoryLimit); err != nil {
			log.Errorf("[ChatService] 保存会话 %s 历史失败: %v", sessionID, err)
		}
	}
	return nil
}

func (s *chatService) ClearSession(ctx context.Context, sessionID string) error {
	return s.conversationRepo.Clear(ctx, sessionID)
}

// wsChunkWriter 把模型分块包装成 {"chunk":"..."} 下发, 停止标志生效后跳过下发。
type wsChunkWriter struct {
	conn       *websocket.Conn
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsChunkWriter) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		return nil
	}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON。
func sendCompletion(ws *websocket.Conn) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
