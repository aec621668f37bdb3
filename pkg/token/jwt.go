// Package token 提供了 WebSocket 会话令牌的生成和验证功能。
// 令牌只承载会话标识，用于把对话历史关联到一条 WebSocket 连接，不做用户认证。
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionManager 负责管理会话令牌的签发和验证。
type SessionManager struct {
	secretKey  []byte
	sessionDur time.Duration
}

// SessionClaims 定义了会话令牌中承载的数据。
type SessionClaims struct {
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// NewSessionManager 创建一个新的 SessionManager 实例。
func NewSessionManager(secret string, expireMinutes int) *SessionManager {
	return &SessionManager{
		secretKey:  []byte(secret),
		sessionDur: time.Duration(expireMinutes) * time.Minute,
	}
}

// GenerateSessionToken 为给定的会话 ID 签发一个新令牌。
func (m *SessionManager) GenerateSessionToken(sessionID string) (string, error) {
	claims := SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.sessionDur)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifySessionToken 验证给定的令牌字符串。
// 如果令牌有效，返回其中的 SessionClaims；签名不匹配或已过期则返回错误。
func (m *SessionManager) VerifySessionToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("解析会话令牌失败: %w", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, errors.New("无效的会话令牌")
	}
	return claims, nil
}

// GenerateRandomString 生成指定字节长度的随机十六进制字符串。
func GenerateRandomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
