// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"idle-universe-go/internal/service"
	"idle-universe-go/pkg/log"
	"idle-universe-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 聊天连接。
type ChatHandler struct {
	chatService    service.ChatService
	sessionManager *token.SessionManager
	stopToken      string
	stopTokenLock  sync.Mutex
	// 每连接停止标志
	stopFlags sync.Map // key: conn pointer string, value: bool
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, sessionManager *token.SessionManager) *ChatHandler {
	return &ChatHandler{
		chatService:    chatService,
		sessionManager: sessionManager,
	}
}

// GetWebsocketToken 为新会话签发一个连接令牌与停止令牌。
// 会话 ID 只用于关联对话历史，不承载用户身份。
func (h *ChatHandler) GetWebsocketToken(c *gin.Context) {
	sessionID := uuid.NewString()
	sessionToken, err := h.sessionManager.GenerateSessionToken(sessionID)
	if err != nil {
		log.Errorf("签发会话令牌失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法创建会话", "data": nil})
		return
	}

	h.stopTokenLock.Lock()
	h.stopToken = "WSS_STOP_CMD_" + token.GenerateRandomString(16)
	stopToken := h.stopToken
	h.stopTokenLock.Unlock()

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"sessionToken": sessionToken,
		"cmdToken":     stopToken,
	}})
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.sessionManager.VerifySessionToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	sessionID := claims.SessionID
	log.Infof("WebSocket 连接已建立, 会话: %s", sessionID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}
		log.Infof("收到 WebSocket 消息: %s", string(message))

		if h.handleControlMessage(conn, message) {
			continue
		}

		shouldStop := func() bool {
			v, ok := h.stopFlags.Load(connKey(conn))
			return ok && v.(bool)
		}
		// 清除上一轮的停止标志
		h.stopFlags.Delete(connKey(conn))

		err = h.chatService.StreamResponse(c.Request.Context(), string(message), sessionID, conn, shouldStop)
		if err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			errResp := map[string]string{"error": "AI服务暂时不可用，请稍后重试"}
			b, _ := json.Marshal(errResp)
			_ = conn.WriteMessage(websocket.TextMessage, b)
			// 错误时也发送 completion 通知, 客户端才能解除等待态
			notif := map[string]interface{}{
				"type":      "completion",
				"status":    "finished",
				"message":   "响应已完成",
				"timestamp": time.Now().UnixMilli(),
				"date":      time.Now().Format("2006-01-02T15:04:05"),
			}
			cb, _ := json.Marshal(notif)
			_ = conn.WriteMessage(websocket.TextMessage, cb)
			break
		}
	}
}

// handleControlMessage 识别并处理停止指令, 返回 true 表示消息已被消费。
// 支持 JSON 指令 {"type":"stop","_internal_cmd_token":"..."} 与整条等于停止令牌的旧格式。
func (h *ChatHandler) handleControlMessage(conn *websocket.Conn, message []byte) bool {
	h.stopTokenLock.Lock()
	stopTokenValue := h.stopToken
	h.stopTokenLock.Unlock()

	if len(message) > 0 && message[0] == '{' {
		var ctrl map[string]interface{}
		if err := json.Unmarshal(message, &ctrl); err == nil {
			if t, ok := ctrl["type"].(string); ok && t == "stop" {
				if tok, ok := ctrl["_internal_cmd_token"].(string); ok && tok == stopTokenValue {
					h.stopFlags.Store(connKey(conn), true)
					resp := map[string]interface{}{
						"type":      "stop",
						"message":   "响应已停止",
						"timestamp": time.Now().UnixMilli(),
						"date":      time.Now().Format("2006-01-02T15:04:05"),
					}
					b, _ := json.Marshal(resp)
					_ = conn.WriteMessage(websocket.TextMessage, b)
					return true
				}
			}
		}
	}

	if stopTokenValue != "" && string(message) == stopTokenValue {
		log.Info("收到停止指令，正在中断流式响应...")
		h.stopFlags.Store(connKey(conn), true)
		return true
	}
	return false
}

func connKey(conn *websocket.Conn) string {
	return fmt.Sprintf("%p", conn)
}
