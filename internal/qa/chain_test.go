package qa

import (
	"context"
	"errors"
	"strings"
	"testing"

	"idle-universe-go/internal/config"
	"idle-universe-go/internal/model"
	"idle-universe-go/internal/vectorstore"
	"idle-universe-go/pkg/llm"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLLM 按调用顺序区分改写与生成: 含改写提示词的请求返回 rewritten, 其余返回 answer。
type fakeLLM struct {
	rewritten     string
	answer        string
	generateErr   error
	generateFailN int
	generateCalls int
	rewriteCalls  int
	lastMessages  []llm.Message
	streamChunks  []string
	streamErr     error
	streamFailN   int
	streamCalls   int
}

func (f *fakeLLM) Generate(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	last := messages[len(messages)-1].Content
	if strings.Contains(last, "对话历史") {
		f.rewriteCalls++
		return f.rewritten, nil
	}
	f.generateCalls++
	f.lastMessages = messages
	if f.generateErr != nil && (f.generateFailN == 0 || f.generateCalls <= f.generateFailN) {
		return "", f.generateErr
	}
	return f.answer, nil
}

func (f *fakeLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	f.streamCalls++
	f.lastMessages = messages
	for _, chunk := range f.streamChunks {
		if err := writer.WriteMessage(websocket.TextMessage, []byte(chunk)); err != nil {
			return err
		}
	}
	if f.streamErr != nil && (f.streamFailN == 0 || f.streamCalls <= f.streamFailN) {
		return f.streamErr
	}
	return nil
}

type fakeEmbedder struct{ vector []float32 }

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return f.vector, nil
}

func (f *fakeEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

type fakeStore struct {
	results []model.ScoredPassage
	err     error
}

func (f *fakeStore) Rebuild(ctx context.Context, passages []model.Passage) error { return nil }

func (f *fakeStore) Search(ctx context.Context, queryVector []float32, k int) ([]model.ScoredPassage, error) {
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.results) {
		return f.results[:k], nil
	}
	return f.results, nil
}

func (f *fakeStore) Info(ctx context.Context) (vectorstore.IndexInfo, error) {
	return vectorstore.IndexInfo{PassageCount: len(f.results)}, nil
}

func scored(id string, score float64) model.ScoredPassage {
	return model.ScoredPassage{
		Passage: model.Passage{PassageID: id, Title: "出道", Text: "text " + id},
		Score:   score,
	}
}

func newChain(fake *fakeLLM, store *fakeStore) *Chain {
	return NewChain(fake, &fakeEmbedder{vector: []float32{1, 0, 0}}, store,
		config.IndexConfig{TopK: 4, MinScore: 0.25},
		config.LLMConfig{MaxRetries: 3, RetryBackoffMS: 1},
		config.ChatConfig{RewriteTurns: 3},
	)
}

func TestAskIdentityRewriteOnEmptyHistory(t *testing.T) {
	fake := &fakeLLM{answer: "2018年5月2日出道。"}
	chain := newChain(fake, &fakeStore{results: []model.ScoredPassage{scored("p1", 0.9)}})

	turn, err := chain.Ask(context.Background(), "(G)I-DLE是什么时候出道的？", nil)
	require.NoError(t, err)

	assert.Equal(t, model.TurnAnswered, turn.State)
	// 空历史不触发改写调用, 改写结果就是原问题
	assert.Zero(t, fake.rewriteCalls)
	assert.Equal(t, "(G)I-DLE是什么时候出道的？", turn.RewrittenQuery)
	assert.Equal(t, []string{"p1"}, turn.RetrievedPassageIDs)
	assert.Equal(t, "2018年5月2日出道。", turn.Answer)
}

func TestAskRewritesFollowUpQuestion(t *testing.T) {
	fake := &fakeLLM{rewritten: "(G)I-DLE 的五周年纪念日是哪天？", answer: "2023年5月2日。"}
	chain := newChain(fake, &fakeStore{results: []model.ScoredPassage{scored("p1", 0.8)}})

	history := []model.ChatMessage{
		{Role: "user", Content: "(G)I-DLE是什么时候出道的？"},
		{Role: "assistant", Content: "2018年5月2日。"},
	}
	turn, err := chain.Ask(context.Background(), "那她们的五周年是哪天？", history)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.rewriteCalls)
	assert.Equal(t, "(G)I-DLE 的五周年纪念日是哪天？", turn.RewrittenQuery)
	assert.Equal(t, model.TurnAnswered, turn.State)

	// 生成消息里保留了原问题而不是改写结果, 历史夹在 system 与当前问题之间
	last := fake.lastMessages[len(fake.lastMessages)-1]
	assert.Equal(t, "那她们的五周年是哪天？", last.Content)
	assert.Equal(t, "system", fake.lastMessages[0].Role)
	assert.Len(t, fake.lastMessages, 4)
}

func TestAskFiltersBelowMinScore(t *testing.T) {
	fake := &fakeLLM{answer: "回答"}
	chain := newChain(fake, &fakeStore{results: []model.ScoredPassage{
		scored("hit", 0.7),
		scored("weak", 0.1),
	}})

	turn, err := chain.Ask(context.Background(), "问题", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hit"}, turn.RetrievedPassageIDs)
}

func TestAskZeroContextStillAnswers(t *testing.T) {
	fake := &fakeLLM{answer: "资料中没有相关信息。"}
	chain := newChain(fake, &fakeStore{results: []model.ScoredPassage{scored("weak", 0.05)}})

	turn, err := chain.Ask(context.Background(), "无关问题", nil)
	require.NoError(t, err)

	assert.Equal(t, model.TurnAnswered, turn.State)
	assert.Empty(t, turn.RetrievedPassageIDs)
	// 系统消息携带无结果占位文本
	assert.Contains(t, fake.lastMessages[0].Content, "（本轮无检索结果）")
}

func TestAskRetriesTransientGenerateFailure(t *testing.T) {
	fake := &fakeLLM{answer: "最终答案", generateErr: errors.New("timeout"), generateFailN: 2}
	chain := newChain(fake, &fakeStore{results: []model.ScoredPassage{scored("p1", 0.9)}})

	turn, err := chain.Ask(context.Background(), "问题", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, fake.generateCalls)
	assert.Equal(t, "最终答案", turn.Answer)
}

func TestAskSurfacesProviderErrorAfterRetries(t *testing.T) {
	provErr := &llm.ProviderError{Provider: "openai", Status: 429}
	fake := &fakeLLM{generateErr: provErr}
	chain := newChain(fake, &fakeStore{results: []model.ScoredPassage{scored("p1", 0.9)}})

	turn, err := chain.Ask(context.Background(), "问题", nil)
	require.Error(t, err)

	assert.Equal(t, model.TurnError, turn.State)
	assert.Equal(t, 3, fake.generateCalls)
	var pe *llm.ProviderError
	assert.ErrorAs(t, err, &pe)
}

func TestAskRetrievalFailureEndsInErrorState(t *testing.T) {
	fake := &fakeLLM{answer: "不该到这里"}
	chain := newChain(fake, &fakeStore{err: errors.New("index unavailable")})

	turn, err := chain.Ask(context.Background(), "问题", nil)
	require.Error(t, err)
	assert.Equal(t, model.TurnError, turn.State)
	assert.Zero(t, fake.generateCalls)
}

type collectWriter struct{ chunks []string }

func (w *collectWriter) WriteMessage(messageType int, data []byte) error {
	w.chunks = append(w.chunks, string(data))
	return nil
}

func TestAskStreamCollectsAnswer(t *testing.T) {
	fake := &fakeLLM{streamChunks: []string{"2018年", "5月2日", "出道。"}}
	chain := newChain(fake, &fakeStore{results: []model.ScoredPassage{scored("p1", 0.9)}})

	writer := &collectWriter{}
	turn, err := chain.AskStream(context.Background(), "出道时间？", nil, writer)
	require.NoError(t, err)

	assert.Equal(t, model.TurnAnswered, turn.State)
	assert.Equal(t, "2018年5月2日出道。", turn.Answer)
	assert.Equal(t, []string{"2018年", "5月2日", "出道。"}, writer.chunks)
}

func TestAskStreamRetriesBeforeFirstChunk(t *testing.T) {
	fake := &fakeLLM{streamErr: errors.New("connect reset"), streamFailN: 2}
	// 前两次失败时还没有写出分块
	chain := newChain(fake, &fakeStore{results: []model.ScoredPassage{scored("p1", 0.9)}})

	writer := &collectWriter{}
	turn, err := chain.AskStream(context.Background(), "问题", nil, writer)
	require.NoError(t, err)
	assert.Equal(t, 3, fake.streamCalls)
	assert.Equal(t, model.TurnAnswered, turn.State)
}

func TestAskStreamNoRetryAfterFirstChunk(t *testing.T) {
	fake := &fakeLLM{streamChunks: []string{"部分答案"}, streamErr: errors.New("connection lost")}
	chain := newChain(fake, &fakeStore{results: []model.ScoredPassage{scored("p1", 0.9)}})

	writer := &collectWriter{}
	turn, err := chain.AskStream(context.Background(), "问题", nil, writer)
	require.Error(t, err)

	// 已写出分块, 不再重试
	assert.Equal(t, 1, fake.streamCalls)
	assert.Equal(t, model.TurnError, turn.State)
}
