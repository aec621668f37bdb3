package translator

import (
	"context"
	"errors"
	"testing"
	"time"

	"idle-universe-go/internal/config"
	"idle-universe-go/internal/model"
	"idle-universe-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
	failN    int // 前 failN 次调用返回 err, 之后成功
}

func (f *fakeLLM) Generate(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	f.calls++
	if f.err != nil && (f.failN == 0 || f.calls <= f.failN) {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	return errors.New("not implemented")
}

func testConfig() config.TranslatorConfig {
	return config.TranslatorConfig{
		TargetLanguage:     "zh",
		SupportedLanguages: []string{"zh", "en", "ko"},
	}
}

func TestNormalizePassThroughTargetLanguage(t *testing.T) {
	fake := &fakeLLM{}
	tr := New(testConfig(), fake, 3, time.Millisecond)

	docs := tr.Normalize(context.Background(), []model.RawDocument{
		{SourceID: "baike", URL: "https://a", Language: "zh", RawText: "女团于2018年5月2日出道。"},
	})

	require.Len(t, docs, 1)
	assert.Equal(t, "女团于2018年5月2日出道。", docs[0].CanonicalText)
	assert.False(t, docs[0].Translated)
	// 目标语言文档不触发模型调用
	assert.Zero(t, fake.calls)
}

func TestNormalizeTranslatesForeignLanguage(t *testing.T) {
	fake := &fakeLLM{response: "该组合于2018年出道。"}
	tr := New(testConfig(), fake, 3, time.Millisecond)

	docs := tr.Normalize(context.Background(), []model.RawDocument{
		{SourceID: "wikipedia", URL: "https://a", Language: "en", RawText: "The group debuted in 2018."},
	})

	require.Len(t, docs, 1)
	assert.Equal(t, "该组合于2018年出道。", docs[0].CanonicalText)
	assert.True(t, docs[0].Translated)
	assert.Equal(t, "zh", docs[0].Language)
	assert.Equal(t, 1, fake.calls)
}

func TestNormalizeRetriesThenSucceeds(t *testing.T) {
	fake := &fakeLLM{response: "译文", err: errors.New("timeout"), failN: 2}
	tr := New(testConfig(), fake, 3, time.Millisecond)

	docs := tr.Normalize(context.Background(), []model.RawDocument{
		{URL: "https://a", Language: "en", RawText: "text"},
	})

	require.Len(t, docs, 1)
	assert.Equal(t, 3, fake.calls)
}

func TestNormalizeDropFailedByDefault(t *testing.T) {
	fake := &fakeLLM{err: errors.New("provider down")}
	tr := New(testConfig(), fake, 2, time.Millisecond)

	docs := tr.Normalize(context.Background(), []model.RawDocument{
		{URL: "https://a", Language: "en", RawText: "text"},
		{URL: "https://b", Language: "zh", RawText: "中文文本"},
	})

	// 翻译失败的文档被丢弃, 目标语言文档不受影响
	require.Len(t, docs, 1)
	assert.Equal(t, "https://b", docs[0].URL)
}

func TestNormalizeKeepOriginalOnFailure(t *testing.T) {
	cfg := testConfig()
	cfg.KeepOriginalOnFailure = true
	fake := &fakeLLM{err: errors.New("provider down")}
	tr := New(cfg, fake, 2, time.Millisecond)

	docs := tr.Normalize(context.Background(), []model.RawDocument{
		{URL: "https://a", Language: "en", RawText: "original english text"},
	})

	require.Len(t, docs, 1)
	assert.Equal(t, "original english text", docs[0].CanonicalText)
	assert.Equal(t, "en", docs[0].Language)
	assert.False(t, docs[0].Translated)
}

func TestNormalizeSkipsUnsupportedLanguage(t *testing.T) {
	fake := &fakeLLM{}
	tr := New(testConfig(), fake, 3, time.Millisecond)

	docs := tr.Normalize(context.Background(), []model.RawDocument{
		{URL: "https://a", Language: "ja", RawText: "テキスト"},
	})

	assert.Empty(t, docs)
	assert.Zero(t, fake.calls)
}

func TestTranslationErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &TranslationError{SourceLang: "en", TargetLang: "zh", URL: "https://a", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "en -> zh")
}
