package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/fusion/internal/db"
	"horse.fit/fusion/internal/media"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Phnom Penh Daily</title>
  <link>https://example.com</link>
  <item>
    <title>Older story</title>
    <link>https://example.com/older</link>
    <guid>older-guid</guid>
    <pubDate>Mon, 05 Oct 2026 08:00:00 GMT</pubDate>
    <description>Old body</description>
  </item>
  <item>
    <title>Floods in Battambang</title>
    <link>https://example.com/floods</link>
    <guid>floods-guid</guid>
    <pubDate>Tue, 06 Oct 2026 09:30:00 GMT</pubDate>
    <description>&lt;p&gt;Heavy &lt;b&gt;rain&lt;/b&gt; flooded the province.&lt;/p&gt;&lt;p&gt;Boats deployed.&lt;/p&gt;</description>
    <enclosure url="https://example.com/floods.jpg" type="image/jpeg" length="1234"/>
  </item>
  <item>
    <title>Market prices</title>
    <link>https://example.com/market</link>
    <pubDate>Wed, 07 Oct 2026 10:00:00 GMT</pubDate>
    <description>Rice prices rose.</description>
  </item>
</channel>
</rss>`

func serveFeed(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = fmt.Fprint(w, testFeed)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFeedFetcherReturnsItemsAfterCursorOldestFirst(t *testing.T) {
	t.Parallel()

	server := serveFeed(t)
	fetcher := NewFeedFetcher(FeedOptions{HTTPClient: server.Client()}, zerolog.Nop())
	source := db.SourceRecord{SourceID: 1, Name: "daily", SourceType: db.SourceTypeWebsite, Locator: server.URL}

	items, next, err := fetcher.Fetch(context.Background(), source, "2026-10-05T08:00:00Z", 10)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].ExternalID != "floods-guid" || items[1].ExternalID != "https://example.com/market" {
		t.Fatalf("unexpected ids %q, %q", items[0].ExternalID, items[1].ExternalID)
	}
	if items[0].Content != "Heavy rain flooded the province.\n\nBoats deployed." {
		t.Fatalf("content = %q", items[0].Content)
	}
	if got, ok := items[0].Media.(media.URLMedia); !ok || got.URL != "https://example.com/floods.jpg" {
		t.Fatalf("media = %#v", items[0].Media)
	}
	if items[1].Media != nil {
		t.Fatalf("market item should have no media")
	}
	if next != "2026-10-07T10:00:00Z" {
		t.Fatalf("next cursor = %q", next)
	}
}

func TestFeedFetcherRespectsLimitAndKeepsCursorWhenEmpty(t *testing.T) {
	t.Parallel()

	server := serveFeed(t)
	fetcher := NewFeedFetcher(FeedOptions{HTTPClient: server.Client()}, zerolog.Nop())
	source := db.SourceRecord{Locator: server.URL}

	items, next, err := fetcher.Fetch(context.Background(), source, "", 1)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(items) != 1 || items[0].Title != "Older story" {
		t.Fatalf("unexpected items %+v", items)
	}
	if next != "2026-10-05T08:00:00Z" {
		t.Fatalf("next cursor = %q", next)
	}

	cursor := "2026-10-08T00:00:00Z"
	items, next, err = fetcher.Fetch(context.Background(), source, cursor, 10)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(items) != 0 || next != cursor {
		t.Fatalf("expected no items and unchanged cursor, got %d items, cursor %q", len(items), next)
	}
}

func TestFeedFetcherRejectsBadCursor(t *testing.T) {
	t.Parallel()

	fetcher := NewFeedFetcher(FeedOptions{}, zerolog.Nop())
	if _, _, err := fetcher.Fetch(context.Background(), db.SourceRecord{Locator: "http://127.0.0.1:1"}, "yesterday", 5); err == nil {
		t.Fatalf("expected cursor parse error")
	}
}

func TestFeedFetcherExpandsSummariesFromArticle(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("The provincial authorities reported that the water level kept rising overnight. ", 10)
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/feed", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `<rss version="2.0"><channel><title>x</title>
<item><title>Short</title><link>%s/article</link><guid>a1</guid>
<pubDate>Tue, 06 Oct 2026 09:30:00 GMT</pubDate><description>Teaser only.</description></item>
</channel></rss>`, base)
	})
	mux.HandleFunc("/article", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprint(w, long)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	base = server.URL

	fetcher := NewFeedFetcher(FeedOptions{HTTPClient: server.Client(), FetchArticles: true}, zerolog.Nop())
	items, _, err := fetcher.Fetch(context.Background(), db.SourceRecord{Locator: server.URL + "/feed"}, "", 5)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].Content != strings.TrimSpace(long) {
		t.Fatalf("content was not expanded: %q", items[0].Content)
	}
}

func TestHTMLTextDropsScriptsAndDecodesEntities(t *testing.T) {
	t.Parallel()

	got := htmlText(`<div>Tom &amp; Jerry<script>alert(1)</script></div><p>Second</p>`)
	if got != "Tom & Jerry\n\nSecond" {
		t.Fatalf("htmlText() = %q", got)
	}
	if plain := htmlText("  plain   text "); plain != "plain text" {
		t.Fatalf("htmlText(plain) = %q", plain)
	}
}

func TestFetchArticleTextExtractsReadableBody(t *testing.T) {
	t.Parallel()

	paragraph := strings.Repeat("Rescue teams reached the flooded villages on Tuesday morning with boats and supplies. ", 6)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, `<html><head><title>Floods</title></head><body>
<nav>Home | World | Sports</nav>
<article><h1>Floods</h1><p>%s</p><p>%s</p></article>
</body></html>`, paragraph, paragraph)
	}))
	defer server.Close()

	text, err := FetchArticleText(context.Background(), server.URL, "Floods", ArticleOptions{HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("FetchArticleText() error = %v", err)
	}
	if !strings.Contains(text, "Rescue teams reached the flooded villages") {
		t.Fatalf("unexpected article text %q", text)
	}
}

func TestFetchArticleTextReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if _, err := FetchArticleText(context.Background(), server.URL, "", ArticleOptions{HTTPClient: server.Client()}); err == nil {
		t.Fatalf("expected status error")
	}
	if _, err := FetchArticleText(context.Background(), " ", "", ArticleOptions{}); err == nil {
		t.Fatalf("expected empty url error")
	}
}

func TestCleanTextCollapsesWhitespaceAndPreservesParagraphs(t *testing.T) {
	t.Parallel()

	got := cleanText("  First   paragraph \n\n Second\tparagraph \r\n\r\nThird line ")
	want := "First paragraph\n\nSecond paragraph\n\nThird line"
	if got != want {
		t.Fatalf("cleanText mismatch\nwant: %q\ngot:  %q", want, got)
	}
}

func telegramServer(t *testing.T, updates string, gotOffset *string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/botTOKEN/getUpdates", func(w http.ResponseWriter, r *http.Request) {
		if gotOffset != nil {
			*gotOffset = r.URL.Query().Get("offset")
		}
		_, _ = fmt.Fprintf(w, `{"ok":true,"result":%s}`, updates)
	})
	mux.HandleFunc("/botTOKEN/getFile", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("file_id") != "big" {
			_, _ = fmt.Fprint(w, `{"ok":false,"description":"file not found"}`)
			return
		}
		_, _ = fmt.Fprint(w, `{"ok":true,"result":{"file_id":"big","file_path":"photos/file_1.jpg"}}`)
	})
	mux.HandleFunc("/file/botTOKEN/photos/file_1.jpg", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("jpeg-bytes"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

const telegramUpdates = `[
 {"update_id": 41, "channel_post": {"message_id": 7, "date": 1791450000,
   "chat": {"id": -100123, "username": "khnews", "title": "KH News"},
   "text": "Floods hit Battambang\nBoats were deployed overnight."}},
 {"update_id": 42, "channel_post": {"message_id": 8, "date": 1791450060,
   "chat": {"id": -100999, "username": "other", "title": "Other"},
   "text": "Unrelated"}},
 {"update_id": 43, "channel_post": {"message_id": 9, "date": 1791450120,
   "chat": {"id": -100123, "username": "khnews"},
   "caption": "Photos from the flood", "media_group_id": "g1",
   "photo": [{"file_id": "small", "width": 90, "height": 60, "file_size": 900},
             {"file_id": "big", "width": 1280, "height": 853, "file_size": 90000}]}},
 {"update_id": 44, "channel_post": {"message_id": 10, "date": 1791450121,
   "chat": {"id": -100123, "username": "khnews"}, "media_group_id": "g1",
   "photo": [{"file_id": "second", "width": 800, "height": 600}]}}
]`

func TestTelegramFetcherFiltersChannelAndMapsPosts(t *testing.T) {
	t.Parallel()

	var offset string
	server := telegramServer(t, telegramUpdates, &offset)
	fetcher := NewTelegramFetcher(NewTelegramClient(server.URL, "TOKEN", server.Client()))
	source := db.SourceRecord{SourceType: db.SourceTypeTelegram, Locator: "@khnews"}

	items, next, err := fetcher.Fetch(context.Background(), source, "40", 50)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if offset != "41" {
		t.Fatalf("offset = %q, want 41", offset)
	}
	if next != "44" {
		t.Fatalf("next cursor = %q, want 44", next)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}

	first := items[0]
	if first.ExternalID != "-100123:7" || first.Title != "Floods hit Battambang" {
		t.Fatalf("unexpected first item %+v", first)
	}
	if first.URL != "https://t.me/khnews/7" {
		t.Fatalf("url = %q", first.URL)
	}
	if !first.PublishedAt.Equal(time.Unix(1791450000, 0)) {
		t.Fatalf("published = %v", first.PublishedAt)
	}

	photo := items[1]
	if photo.GroupKey != "g1" || photo.Content != "Photos from the flood" {
		t.Fatalf("unexpected photo item %+v", photo)
	}
	if got, ok := photo.Media.(media.TelegramMedia); !ok || got.FileID != "big" {
		t.Fatalf("media = %#v, want largest photo", photo.Media)
	}
	if items[2].GroupKey != "g1" || items[2].Content != "" {
		t.Fatalf("unexpected second group part %+v", items[2])
	}
}

func TestTelegramFetcherStartsWithoutOffsetAndKeepsCursorWhenIdle(t *testing.T) {
	t.Parallel()

	var offset string
	server := telegramServer(t, `[]`, &offset)
	fetcher := NewTelegramFetcher(NewTelegramClient(server.URL, "TOKEN", server.Client()))

	items, next, err := fetcher.Fetch(context.Background(), db.SourceRecord{Locator: "khnews"}, "", 10)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if offset != "" || len(items) != 0 || next != "" {
		t.Fatalf("offset=%q items=%d next=%q", offset, len(items), next)
	}
	if _, _, err := fetcher.Fetch(context.Background(), db.SourceRecord{Locator: "khnews"}, "abc", 10); err == nil {
		t.Fatalf("expected cursor parse error")
	}
}

func TestTelegramClientDownloadFile(t *testing.T) {
	t.Parallel()

	server := telegramServer(t, `[]`, nil)
	client := NewTelegramClient(server.URL, "TOKEN", server.Client())

	data, err := client.DownloadFile(context.Background(), "big")
	if err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("data = %q", data)
	}
	if _, err := client.DownloadFile(context.Background(), "missing"); err == nil {
		t.Fatalf("expected getFile failure")
	}
	if _, err := NewTelegramClient(server.URL, "", nil).DownloadFile(context.Background(), "big"); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestRegistryFor(t *testing.T) {
	t.Parallel()

	registry := Registry{db.SourceTypeTelegram: NewTelegramFetcher(NewTelegramClient("", "", nil))}
	if _, err := registry.For(db.SourceTypeTelegram); err != nil {
		t.Fatalf("For(telegram) error = %v", err)
	}
	if _, err := registry.For(db.SourceTypeWebsite); err == nil {
		t.Fatalf("expected missing fetcher error")
	}
}
