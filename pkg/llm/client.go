// Package llm 提供了大语言模型提供商的统一调用接口。
// 具体提供商（openai / zhipu）在进程启动时由配置解析一次，之后对调用方完全透明。
package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"idle-universe-go/internal/config"

	"github.com/gorilla/websocket"
)

// MessageWriter 定义了写出流式消息的接口。
// websocket.Conn 和各类拦截器都可以实现它。
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Message 表示一条角色消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为。
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Client 定义了 LLM 客户端的统一接口。
type Client interface {
	// Generate 以非流式方式调用聊天接口并返回完整文本。
	Generate(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
	// StreamChatMessages 调用聊天接口并将流式分块写入 writer。
	StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) error
}

// ProviderError 表示一次提供商调用失败（认证失败、限流或超时）。
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("提供商 %s 调用失败: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("提供商 %s 返回状态码 %d", e.Provider, e.Status)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewClient 根据配置中的提供商创建 LLM 客户端。
// 提供商在进程启动时解析一次，不支持的提供商属于启动期错误。
func NewClient(cfg config.LLMConfig, apiKey string) (Client, error) {
	httpClient := &http.Client{Timeout: time.Duration(cfg.TimeoutSecs) * time.Second}
	switch cfg.Provider {
	case "openai":
		return &openaiClient{cfg: cfg, apiKey: apiKey, client: httpClient}, nil
	case "zhipu":
		return &zhipuClient{cfg: cfg, apiKey: apiKey, client: httpClient}, nil
	default:
		return nil, fmt.Errorf("不支持的模型提供商: %s", cfg.Provider)
	}
}

// Retry 以指数退避执行 fn，最多 attempts 次。
// ctx 取消后不再发起新的尝试。
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return err
}

// chatRequest 是 OpenAI 风格 chat/completions 的请求体，智谱 v4 接口与其兼容。
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// applyGeneration 把调用方传入或配置中的生成参数注入请求体（传参优先生效）。
func applyGeneration(req *chatRequest, cfg config.LLMConfig, gen *GenerationParams) {
	if gen != nil {
		req.Temperature = gen.Temperature
		req.TopP = gen.TopP
		req.MaxTokens = gen.MaxTokens
		return
	}
	if cfg.Generation.Temperature != 0 {
		t := cfg.Generation.Temperature
		req.Temperature = &t
	}
	if cfg.Generation.TopP != 0 {
		p := cfg.Generation.TopP
		req.TopP = &p
	}
	if cfg.Generation.MaxTokens != 0 {
		m := cfg.Generation.MaxTokens
		req.MaxTokens = &m
	}
}

// consumeSSEStream 逐行读取 text/event-stream 响应，把增量内容写入 writer。
func consumeSSEStream(body io.Reader, writer MessageWriter) error {
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("读取流式响应失败: %w", err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			return nil
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 {
			content := chunk.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			if err := writer.WriteMessage(websocket.TextMessage, []byte(content)); err != nil {
				return fmt.Errorf("写出流式分块失败: %w", err)
			}
		}
	}
}
