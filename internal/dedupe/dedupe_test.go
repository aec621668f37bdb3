package dedupe

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"idle-universe-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintNormalizesWhitespaceAndCase(t *testing.T) {
	a := Fingerprint("(G)I-DLE debuted  in\t2018.")
	b := Fingerprint("(g)i-dle DEBUTED in 2018.")
	assert.Equal(t, a, b)

	c := Fingerprint("(G)I-DLE debuted in 2019.")
	assert.NotEqual(t, a, c)
}

func TestDeduplicateExactKeepsLatest(t *testing.T) {
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := old.Add(48 * time.Hour)

	docs := []model.NormalizedDocument{
		{ContentHash: Fingerprint("same text"), CanonicalText: "same text", URL: "https://a", FetchTimestamp: old},
		{ContentHash: Fingerprint("same text"), CanonicalText: "same text", URL: "https://b", FetchTimestamp: recent},
	}

	result := New(0.90).Deduplicate(docs)
	require.Len(t, result, 1)
	assert.Equal(t, "https://b", result[0].URL)
}

func TestDeduplicateNearDuplicate(t *testing.T) {
	// 足够长且不重复的共同正文, 只差结尾一个词的两份页面构成近重复
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&sb, "word%d ", i)
	}
	base := sb.String()
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := old.Add(time.Hour)

	docs := []model.NormalizedDocument{
		{ContentHash: Fingerprint(base + "alpha"), CanonicalText: base + "alpha", URL: "https://near-old", FetchTimestamp: old},
		{ContentHash: Fingerprint(base + "beta"), CanonicalText: base + "beta", URL: "https://near-new", FetchTimestamp: recent},
		{ContentHash: Fingerprint("a completely unrelated article about something else entirely with no overlap"), CanonicalText: "a completely unrelated article about something else entirely with no overlap", URL: "https://distinct", FetchTimestamp: old},
	}

	result := New(0.90).Deduplicate(docs)
	require.Len(t, result, 2)

	urls := []string{result[0].URL, result[1].URL}
	assert.Contains(t, urls, "https://near-new")
	assert.Contains(t, urls, "https://distinct")
	assert.NotContains(t, urls, "https://near-old")
}

func TestDeduplicateBelowThresholdKept(t *testing.T) {
	docs := []model.NormalizedDocument{
		{ContentHash: "h1", CanonicalText: "the group debuted on may second twenty eighteen with latata", FetchTimestamp: time.Now()},
		{ContentHash: "h2", CanonicalText: "queencard topped the charts in twenty twenty three worldwide", FetchTimestamp: time.Now()},
	}
	result := New(0.90).Deduplicate(docs)
	assert.Len(t, result, 2)
}

func TestDeduplicateEmptyInput(t *testing.T) {
	assert.Empty(t, New(0.90).Deduplicate(nil))
}
