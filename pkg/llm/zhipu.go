package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"idle-universe-go/internal/config"
)

// zhipuClient 通过智谱AI 的 v4 接口提供生成能力，请求格式与 OpenAI 兼容。
type zhipuClient struct {
	cfg    config.LLMConfig
	apiKey string
	client *http.Client
}

const zhipuDefaultBaseURL = "https://open.bigmodel.cn/api/paas/v4"

func (c *zhipuClient) baseURL() string {
	if c.cfg.BaseURL != "" {
		return c.cfg.BaseURL
	}
	return zhipuDefaultBaseURL
}

// Generate 以非流式方式调用智谱AI 并返回完整文本。
func (c *zhipuClient) Generate(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   false,
	}
	applyGeneration(&reqBody, c.cfg, gen)

	resp, err := c.doChatRequest(ctx, reqBody)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", &ProviderError{Provider: "zhipu", Err: fmt.Errorf("解析响应失败: %w", err)}
	}
	if len(chatResp.Choices) == 0 {
		return "", &ProviderError{Provider: "zhipu", Err: fmt.Errorf("返回了空的 choices")}
	}
	return chatResp.Choices[0].Message.Content, nil
}

// StreamChatMessages 调用智谱AI 并将流式分块写入 writer。
func (c *zhipuClient) StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) error {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   true,
	}
	applyGeneration(&reqBody, c.cfg, gen)

	resp, err := c.doChatRequest(ctx, reqBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return consumeSSEStream(resp.Body, writer)
}

func (c *zhipuClient) doChatRequest(ctx context.Context, reqBody chatRequest) (*http.Response, error) {
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL()+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if reqBody.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "zhipu", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &ProviderError{Provider: "zhipu", Status: resp.StatusCode,
			Err: fmt.Errorf("非 200 响应: %s", string(bodyBytes))}
	}
	return resp, nil
}
