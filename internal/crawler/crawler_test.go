package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"idle-universe-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const longParagraph = "(G)I-DLE is a South Korean girl group formed by Cube Entertainment that debuted on May 2, 2018."

func wikiHTML(title, extra string) string {
	return fmt.Sprintf(`<html><head><title>%s - Wikipedia</title></head><body>
<div id="mw-content-text">
<p>%s</p>
<p>short</p>
<h2>Career</h2>
<p>%s The group released their debut EP I Am with the lead single Latata that year.</p>
%s
</div></body></html>`, title, longParagraph, longParagraph, extra)
}

func newCrawlerForTest(ts *httptest.Server, sources ...config.SourceConfig) *Crawler {
	return New(config.CrawlerConfig{
		Sources:          sources,
		Workers:          2,
		FetchTimeoutSecs: 5,
	}, nil)
}

func TestCrawlAllFollowsLinksUpToMaxPages(t *testing.T) {
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	mux.HandleFunc("/seed", func(w http.ResponseWriter, r *http.Request) {
		links := `<a href="/page1">one</a><a href="/page2">two</a><a href="/page3">three</a>`
		fmt.Fprint(w, wikiHTML("Seed", links))
	})
	for _, p := range []string{"/page1", "/page2", "/page3"} {
		p := p
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, wikiHTML("Page "+p, ""))
		})
	}

	c := newCrawlerForTest(ts, config.SourceConfig{
		ID: "wikipedia", URL: ts.URL + "/seed", Type: "wikipedia", Language: "en",
		Enabled: true, MaxPages: 3, RequestsPerSecond: 100, Burst: 10,
	})

	docs, err := c.CrawlAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 3)
	for _, doc := range docs {
		assert.Equal(t, "wikipedia", doc.SourceID)
		assert.Equal(t, "en", doc.Language)
		assert.Contains(t, doc.RawText, "debuted on May 2, 2018")
		assert.False(t, doc.FetchTimestamp.IsZero())
	}
}

func TestCrawlMaxPagesCapsFetchesNotDocuments(t *testing.T) {
	var requests int32
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	// 每页正文都低于段落长度下限, 不产出文档, 但不断给出新链接
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		fmt.Fprintf(w, `<html><head><title>Stub</title></head><body>
<div id="mw-content-text"><p>short</p>
<a href="/next%d">next</a><a href="/next%d">more</a></div></body></html>`, n*2, n*2+1)
	})

	c := newCrawlerForTest(ts, config.SourceConfig{
		ID: "wikipedia", URL: ts.URL + "/seed", Type: "wikipedia", Language: "en",
		Enabled: true, MaxPages: 3, RequestsPerSecond: 100, Burst: 10,
	})

	docs, err := c.CrawlAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
}

func TestCrawlSkipsFailedPages(t *testing.T) {
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	mux.HandleFunc("/seed", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, wikiHTML("Seed", `<a href="/broken">broken</a><a href="/good">good</a>`))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/good", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, wikiHTML("Good", ""))
	})

	c := newCrawlerForTest(ts, config.SourceConfig{
		ID: "wikipedia", URL: ts.URL + "/seed", Type: "wikipedia", Language: "en",
		Enabled: true, MaxPages: 5, RequestsPerSecond: 100, Burst: 10,
	})

	docs, err := c.CrawlAll(context.Background())
	require.NoError(t, err)
	// 失败页面被跳过, 其余页面正常返回
	assert.Len(t, docs, 2)
}

func TestCrawlAllSourceFailureDoesNotAbortOthers(t *testing.T) {
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, wikiHTML("OK", ""))
	})
	mux.HandleFunc("/dead", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})

	c := newCrawlerForTest(ts,
		config.SourceConfig{ID: "good", URL: ts.URL + "/ok", Type: "wikipedia", Language: "en",
			Enabled: true, MaxPages: 1, RequestsPerSecond: 100, Burst: 10},
		config.SourceConfig{ID: "bad", URL: ts.URL + "/dead", Type: "news", Language: "en",
			Enabled: true, MaxPages: 1, RequestsPerSecond: 100, Burst: 10},
	)

	docs, err := c.CrawlAll(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "good", docs[0].SourceID)
}

func TestCrawlAllSkipsDisabledSources(t *testing.T) {
	c := newCrawlerForTest(nil, config.SourceConfig{
		ID: "off", URL: "http://127.0.0.1:1/none", Type: "news", Enabled: false,
	})
	docs, err := c.CrawlAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestParsePageNewsArticle(t *testing.T) {
	page, err := ParsePage(strings.NewReader(fmt.Sprintf(
		`<html><head><title>Soompi News | Soompi</title></head><body>
<nav><p>%s</p></nav>
<article><p>%s</p><p>tiny</p></article>
</body></html>`, longParagraph, longParagraph)), "news", "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "Soompi News", page.Title)
	// nav 里的段落不属于 article, 不应出现两次
	assert.Equal(t, longParagraph, page.Text)
}

func TestParsePageLinksSameHostOnly(t *testing.T) {
	page, err := ParsePage(strings.NewReader(
		`<html><body>
<a href="/local">l</a>
<a href="https://other.example.org/x">ext</a>
<a href="#anchor">a</a>
<a href="/local?utm=1">dup</a>
</body></html>`), "news", "https://example.com/page")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/local"}, page.Links)
}

func TestParsePageCommunityCapsPosts(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&sb, "<p>%s post number %d</p>", longParagraph, i)
	}
	sb.WriteString("</body></html>")

	page, err := ParsePage(strings.NewReader(sb.String()), "community", "https://example.com/r")
	require.NoError(t, err)
	assert.Len(t, strings.Split(page.Text, "\n\n"), maxCommunityPosts)
}
