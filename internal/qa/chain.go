// Package qa 实现带历史感知的检索增强问答链。
// 一轮问答依次经过查询改写、向量检索、答案生成三个阶段。
package qa

import (
	"context"
	"fmt"
	"strings"
	"time"

	"idle-universe-go/internal/config"
	"idle-universe-go/internal/model"
	"idle-universe-go/internal/vectorstore"
	"idle-universe-go/pkg/embedding"
	"idle-universe-go/pkg/llm"
	"idle-universe-go/pkg/log"
)

// Chain 把检索与生成组装成一条问答链。对话历史由调用方传入，链本身无状态。
type Chain struct {
	llmClient llm.Client
	embedding embedding.Client
	store     vectorstore.Store

	indexCfg config.IndexConfig
	llmCfg   config.LLMConfig
	chatCfg  config.ChatConfig
}

// NewChain 创建一条问答链。
func NewChain(llmClient llm.Client, embeddingClient embedding.Client, store vectorstore.Store,
	indexCfg config.IndexConfig, llmCfg config.LLMConfig, chatCfg config.ChatConfig) *Chain {
	return &Chain{
		llmClient: llmClient,
		embedding: embeddingClient,
		store:     store,
		indexCfg:  indexCfg,
		llmCfg:    llmCfg,
		chatCfg:   chatCfg,
	}
}

const condensePromptTemplate = `根据下面的对话历史，把用户的最新问题改写成一个不依赖上下文、可独立理解的完整问题。
只输出改写后的问题本身，不要任何解释。

对话历史：
%s

最新问题：%s`

// Ask 执行一轮非流式问答，返回记录各阶段产物与最终状态的回合。
// 任一阶段失败时回合状态为 ERROR，错误同时返回。
func (c *Chain) Ask(ctx context.Context, question string, history []model.ChatMessage) (*model.ConversationTurn, error) {
	turn := &model.ConversationTurn{Question: question, State: model.TurnReceived}

	passages, err := c.prepare(ctx, turn, history)
	if err != nil {
		turn.State = model.TurnError
		return turn, err
	}

	messages := c.composeMessages(passages, history, question)
	var answer string
	err = llm.Retry(ctx, c.llmCfg.MaxRetries, c.backoff(), func() error {
		out, genErr := c.llmClient.Generate(ctx, messages, nil)
		if genErr != nil {
			return genErr
		}
		answer = out
		return nil
	})
	if err != nil {
		turn.State = model.TurnError
		return turn, fmt.Errorf("答案生成失败: %w", err)
	}

	turn.Answer = answer
	turn.State = model.TurnAnswered
	return turn, nil
}

// AskStream 执行一轮流式问答，分块写入 writer。
// 生成阶段只在尚未写出任何分块时重试，已经写出分块后的失败直接返回错误。
func (c *Chain) AskStream(ctx context.Context, question string, history []model.ChatMessage, writer llm.MessageWriter) (*model.ConversationTurn, error) {
	turn := &model.ConversationTurn{Question: question, State: model.TurnReceived}

	passages, err := c.prepare(ctx, turn, history)
	if err != nil {
		turn.State = model.TurnError
		return turn, err
	}

	messages := c.composeMessages(passages, history, question)
	capture := &capturingWriter{inner: writer}

	attempts := c.llmCfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	backoff := c.backoff()
	for i := 0; i < attempts; i++ {
		err = c.llmClient.StreamChatMessages(ctx, messages, nil, capture)
		if err == nil {
			break
		}
		// 已有分块抵达客户端, 重试会产生重复输出
		if capture.wroteAny || i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			turn.State = model.TurnError
			return turn, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	if err != nil {
		turn.State = model.TurnError
		return turn, fmt.Errorf("流式答案生成失败: %w", err)
	}

	turn.Answer = capture.answer.String()
	turn.State = model.TurnAnswered
	return turn, nil
}

// prepare 执行生成前的查询改写与向量检索两个阶段，结果记录在 turn 上。
func (c *Chain) prepare(ctx context.Context, turn *model.ConversationTurn, history []model.ChatMessage) ([]model.ScoredPassage, error) {
	rewritten, err := c.rewriteQuery(ctx, turn.Question, history)
	if err != nil {
		return nil, err
	}
	turn.RewrittenQuery = rewritten
	turn.State = model.TurnQueryRewritten

	passages, err := c.retrieve(ctx, rewritten)
	if err != nil {
		return nil, err
	}
	for _, p := range passages {
		turn.RetrievedPassageIDs = append(turn.RetrievedPassageIDs, p.Passage.PassageID)
	}
	turn.State = model.TurnRetrieved
	return passages, nil
}

// rewriteQuery 把跟进问题改写为独立问题。历史为空时恒等改写，不调用模型。
func (c *Chain) rewriteQuery(ctx context.Context, question string, history []model.ChatMessage) (string, error) {
	if len(history) == 0 {
		return question, nil
	}

	recent := history
	if limit := c.chatCfg.RewriteTurns * 2; limit > 0 && len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	var sb strings.Builder
	for _, msg := range recent {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}

	messages := []llm.Message{
		{Role: "user", Content: fmt.Sprintf(condensePromptTemplate, sb.String(), question)},
	}

	var rewritten string
	err := llm.Retry(ctx, c.llmCfg.MaxRetries, c.backoff(), func() error {
		out, genErr := c.llmClient.Generate(ctx, messages, nil)
		if genErr != nil {
			return genErr
		}
		rewritten = strings.TrimSpace(out)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("查询改写失败: %w", err)
	}
	if rewritten == "" {
		rewritten = question
	}
	log.Debugf("[QAChain] 查询改写: '%s' -> '%s'", question, rewritten)
	return rewritten, nil
}

// retrieve 向量化改写后的查询并检索, 相似度低于下限的命中被滤除。
// 没有任何命中通过下限不是错误, 生成阶段会走零上下文路径。
func (c *Chain) retrieve(ctx context.Context, query string) ([]model.ScoredPassage, error) {
	queryVector, err := c.embedding.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}

	results, err := c.store.Search(ctx, queryVector, c.indexCfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	filtered := make([]model.ScoredPassage, 0, len(results))
	for _, r := range results {
		if r.Score >= c.indexCfg.MinScore {
			filtered = append(filtered, r)
		}
	}
	log.Debugf("[QAChain] 检索命中 %d 条, 过滤后剩余 %d 条", len(results), len(filtered))
	return filtered, nil
}

// composeMessages 组装系统消息、对话历史与当前问题。
func (c *Chain) composeMessages(passages []model.ScoredPassage, history []model.ChatMessage, question string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: c.buildSystemMessage(passages)})
	for _, msg := range history {
		messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: question})
	return messages
}

// buildSystemMessage 把检索到的段落包裹进系统消息。
// 无上下文时写入占位文本, 让模型明确知道本轮没有参考资料。
func (c *Chain) buildSystemMessage(passages []model.ScoredPassage) string {
	rules := c.llmCfg.Prompt.Rules
	refStart := c.llmCfg.Prompt.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := c.llmCfg.Prompt.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}

	var sys strings.Builder
	if rules != "" {
		sys.WriteString(rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if len(passages) > 0 {
		// 与切块大小对齐的截断上限, 防止异常长的段落撑爆提示词
		const maxSnippetRunes = 1000
		for i, p := range passages {
			label := p.Passage.Title
			if label == "" {
				label = p.Passage.SourceID
			}
			snippet := p.Passage.Text
			if runes := []rune(snippet); len(runes) > maxSnippetRunes {
				snippet = string(runes[:maxSnippetRunes]) + "…"
			}
			sys.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, label, snippet))
		}
	} else {
		noResult := c.llmCfg.Prompt.NoResultText
		if noResult == "" {
			noResult = "（本轮无检索结果）"
		}
		sys.WriteString(noResult)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

func (c *Chain) backoff() time.Duration {
	return time.Duration(c.llmCfg.RetryBackoffMS) * time.Millisecond
}

// capturingWriter 记录是否已有分块写出, 同时累积完整答案。
type capturingWriter struct {
	inner    llm.MessageWriter
	answer   strings.Builder
	wroteAny bool
}

func (w *capturingWriter) WriteMessage(messageType int, data []byte) error {
	w.wroteAny = true
	w.answer.Write(data)
	return w.inner.WriteMessage(messageType, data)
}
