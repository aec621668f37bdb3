// Package crawler 负责从配置的来源站点抓取原始文档。
package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"idle-universe-go/internal/config"
	"idle-universe-go/internal/model"
	"idle-universe-go/pkg/log"
	"idle-universe-go/pkg/tika"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// FetchError 表示某个页面抓取失败。单页失败会被跳过并计数，不会中断整个来源。
type FetchError struct {
	SourceID string
	URL      string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("抓取失败 [%s] %s: 状态码 %d", e.SourceID, e.URL, e.Status)
	}
	return fmt.Sprintf("抓取失败 [%s] %s: %v", e.SourceID, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Crawler 按来源配置并发抓取页面，对每个来源独立限速。
type Crawler struct {
	cfg        config.CrawlerConfig
	tikaClient *tika.Client
	client     *http.Client
}

// New 创建一个 Crawler。tikaClient 可以为 nil，此时非 HTML 响应直接跳过。
func New(cfg config.CrawlerConfig, tikaClient *tika.Client) *Crawler {
	return &Crawler{
		cfg:        cfg,
		tikaClient: tikaClient,
		client: &http.Client{
			Timeout: time.Duration(cfg.FetchTimeoutSecs) * time.Second,
		},
	}
}

// CrawlAll 并发抓取所有启用的来源并返回原始文档集合。
func (c *Crawler) CrawlAll(ctx context.Context) ([]model.RawDocument, error) {
	return c.Crawl(ctx, "")
}

// Crawl 并发抓取启用的来源。onlySourceID 非空时只抓取该来源。
// 单个来源整体失败只记录日志，其余来源的结果仍然返回。
func (c *Crawler) Crawl(ctx context.Context, onlySourceID string) ([]model.RawDocument, error) {
	var (
		mu   sync.Mutex
		docs []model.RawDocument
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	for _, source := range c.cfg.Sources {
		if onlySourceID != "" && source.ID != onlySourceID {
			continue
		}
		if !source.Enabled {
			log.Infof("[Crawler] 来源 %s 未启用, 跳过", source.ID)
			continue
		}
		source := source
		g.Go(func() error {
			pages, err := c.crawlSource(ctx, source)
			if err != nil {
				// 来源级失败不拖垮其他来源, 但上下文取消要向上传播
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Errorf("[Crawler] 来源 %s 抓取失败: %v", source.ID, err)
				return nil
			}
			mu.Lock()
			docs = append(docs, pages...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Infof("[Crawler] 全部来源抓取完成, 共 %d 篇文档", len(docs))
	return docs, nil
}

// crawlSource 从种子 URL 开始按广度优先抓取一个来源，最多 MaxPages 页。
// 页面失败被计数并跳过，全部页面失败时返回错误。
func (c *Crawler) crawlSource(ctx context.Context, source config.SourceConfig) ([]model.RawDocument, error) {
	rps := source.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := source.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	maxPages := source.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	queue := []string{source.URL}
	visited := map[string]bool{source.URL: true}
	var (
		docs    []model.RawDocument
		fetched int
		failed  int
	)

	// MaxPages 限制的是抓取次数而不是成功文档数,
	// 否则一个全是短页面的来源会被无限抓下去
	for len(queue) > 0 && fetched < maxPages {
		pageURL := queue[0]
		queue = queue[1:]

		if err := limiter.Wait(ctx); err != nil {
			return docs, err
		}
		fetched++

		doc, links, err := c.fetchPage(ctx, source, pageURL)
		if err != nil {
			failed++
			log.Warnf("[Crawler] 页面抓取失败, 已跳过: %v", err)
			continue
		}
		if doc != nil {
			docs = append(docs, *doc)
		}
		for _, link := range links {
			if !visited[link] {
				visited[link] = true
				queue = append(queue, link)
			}
		}
	}

	if len(docs) == 0 && failed > 0 {
		return nil, &FetchError{SourceID: source.ID, URL: source.URL,
			Err: fmt.Errorf("全部 %d 个页面抓取失败", failed)}
	}
	log.Infof("[Crawler] 来源 %s 完成: 成功 %d 页, 失败 %d 页", source.ID, len(docs), failed)
	return docs, nil
}

// fetchPage 抓取并解析单个页面，返回文档与后续待抓取链接。
// 正文为空的页面返回 nil 文档但不算失败。
func (c *Crawler) fetchPage(ctx context.Context, source config.SourceConfig, pageURL string) (*model.RawDocument, []string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, nil, &FetchError{SourceID: source.ID, URL: pageURL, Err: err}
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, &FetchError{SourceID: source.ID, URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, nil, &FetchError{SourceID: source.ID, URL: pageURL, Status: resp.StatusCode,
			Err: fmt.Errorf("非 200 响应")}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") {
		// 非 HTML 响应交给 Tika 抽取正文
		if c.tikaClient == nil {
			log.Warnf("[Crawler] 非 HTML 内容且未配置 Tika, 跳过: %s (%s)", pageURL, contentType)
			return nil, nil, nil
		}
		text, err := c.tikaClient.ExtractText(resp.Body, contentType)
		if err != nil {
			return nil, nil, &FetchError{SourceID: source.ID, URL: pageURL, Err: err}
		}
		if strings.TrimSpace(text) == "" {
			return nil, nil, nil
		}
		return &model.RawDocument{
			SourceID:       source.ID,
			URL:            pageURL,
			FetchTimestamp: time.Now(),
			Language:       source.Language,
			RawText:        text,
		}, nil, nil
	}

	page, err := ParsePage(resp.Body, source.Type, pageURL)
	if err != nil {
		return nil, nil, &FetchError{SourceID: source.ID, URL: pageURL, Err: err}
	}
	if strings.TrimSpace(page.Text) == "" {
		return nil, page.Links, nil
	}
	return &model.RawDocument{
		SourceID:       source.ID,
		URL:            pageURL,
		Title:          page.Title,
		FetchTimestamp: time.Now(),
		Language:       source.Language,
		RawText:        page.Text,
	}, page.Links, nil
}
