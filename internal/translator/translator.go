// Package translator 负责把多语言原始文档归一化为目标语言的规范文本。
package translator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"idle-universe-go/internal/config"
	"idle-universe-go/internal/model"
	"idle-universe-go/pkg/llm"
	"idle-universe-go/pkg/log"
)

// TranslationError 表示单篇文档翻译失败。
type TranslationError struct {
	SourceLang string
	TargetLang string
	URL        string
	Err        error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("翻译失败 (%s -> %s) %s: %v", e.SourceLang, e.TargetLang, e.URL, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// Translator 把原始文档翻译为目标语言。目标语言文档直接透传，不调用模型。
type Translator struct {
	cfg        config.TranslatorConfig
	llmClient  llm.Client
	maxRetries int
	backoff    time.Duration
}

// New 创建一个 Translator。
func New(cfg config.TranslatorConfig, llmClient llm.Client, maxRetries int, backoff time.Duration) *Translator {
	return &Translator{
		cfg:        cfg,
		llmClient:  llmClient,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

const translatePromptTemplate = `你是一名专业翻译。请把下面的%s文本完整翻译成中文。
要求：
1. 保留人名、团名、歌曲名、专辑名等专有名词的原文写法
2. 保留日期、数字等事实信息，不要增删内容
3. 只输出译文本身，不要任何解释

原文：
%s`

var languageNames = map[string]string{
	"zh": "中文",
	"en": "英文",
	"ko": "韩文",
}

// Normalize 把一批原始文档归一化为目标语言的规范文档。
// 单篇翻译失败按 KeepOriginalOnFailure 决定保留原文还是丢弃，均不中断整批。
// 返回的文档不带内容指纹，由去重阶段填充。
func (t *Translator) Normalize(ctx context.Context, docs []model.RawDocument) []model.NormalizedDocument {
	result := make([]model.NormalizedDocument, 0, len(docs))
	failed := 0

	for _, doc := range docs {
		normalized := model.NormalizedDocument{
			SourceID:       doc.SourceID,
			URL:            doc.URL,
			Title:          doc.Title,
			Language:       t.cfg.TargetLanguage,
			FetchTimestamp: doc.FetchTimestamp,
		}

		switch {
		case doc.Language == t.cfg.TargetLanguage:
			// 已是目标语言, 透传
			normalized.CanonicalText = doc.RawText
		case !t.supported(doc.Language):
			log.Warnf("[Translator] 不支持的语言 %s, 跳过文档: %s", doc.Language, doc.URL)
			continue
		default:
			translated, err := t.translate(ctx, doc.RawText, doc.Language, doc.URL)
			if err != nil {
				failed++
				log.Errorf("[Translator] %v", err)
				if !t.cfg.KeepOriginalOnFailure {
					continue
				}
				// 保留原文进入后续阶段, 语言标记保持原语言
				normalized.CanonicalText = doc.RawText
				normalized.Language = doc.Language
				break
			}
			normalized.CanonicalText = translated
			normalized.Translated = true
			// 标题一并翻译, 失败只保留原标题
			if doc.Title != "" {
				if title, titleErr := t.translate(ctx, doc.Title, doc.Language, doc.URL); titleErr == nil {
					normalized.Title = title
				}
			}
		}

		if strings.TrimSpace(normalized.CanonicalText) == "" {
			continue
		}
		result = append(result, normalized)
	}

	log.Infof("[Translator] 归一化完成: 输入 %d 篇, 输出 %d 篇, 翻译失败 %d 篇", len(docs), len(result), failed)
	return result
}

// translate 调用 LLM 翻译单篇文本，带指数退避重试。
func (t *Translator) translate(ctx context.Context, text, fromLang, pageURL string) (string, error) {
	langName, ok := languageNames[fromLang]
	if !ok {
		langName = fromLang
	}
	messages := []llm.Message{
		{Role: "user", Content: fmt.Sprintf(translatePromptTemplate, langName, text)},
	}

	var translated string
	err := llm.Retry(ctx, t.maxRetries, t.backoff, func() error {
		out, err := t.llmClient.Generate(ctx, messages, nil)
		if err != nil {
			return err
		}
		translated = out
		return nil
	})
	if err != nil {
		return "", &TranslationError{SourceLang: fromLang, TargetLang: t.cfg.TargetLanguage, URL: pageURL, Err: err}
	}
	return strings.TrimSpace(translated), nil
}

func (t *Translator) supported(lang string) bool {
	for _, l := range t.cfg.SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}
