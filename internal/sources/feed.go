package sources

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"horse.fit/fusion/internal/db"
	"horse.fit/fusion/internal/media"
)

const (
	DefaultFeedTimeout  = 20 * time.Second
	defaultFeedMaxBytes = 5 * 1024 * 1024

	// Feed bodies shorter than this are treated as summaries and replaced by
	// the linked article text when it can be extracted.
	summaryRunes = 400
)

// FeedFetcher reads RSS/Atom sources. The cursor is the RFC3339 publish time
// of the newest item already handed out.
type FeedFetcher struct {
	httpClient    *http.Client
	parser        *gofeed.Parser
	fetchArticles bool
	logger        zerolog.Logger
}

type FeedOptions struct {
	HTTPClient    *http.Client
	FetchArticles bool
}

func NewFeedFetcher(opts FeedOptions, logger zerolog.Logger) *FeedFetcher {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultFeedTimeout}
	}
	return &FeedFetcher{
		httpClient:    client,
		parser:        gofeed.NewParser(),
		fetchArticles: opts.FetchArticles,
		logger:        logger,
	}
}

func (f *FeedFetcher) Fetch(ctx context.Context, source db.SourceRecord, cursor string, limit int) ([]RawItem, string, error) {
	since, err := parseTimeCursor(cursor)
	if err != nil {
		return nil, cursor, err
	}

	body, err := f.download(ctx, source.Locator)
	if err != nil {
		return nil, cursor, err
	}
	feed, err := f.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, cursor, fmt.Errorf("parse feed %s: %w", source.Name, err)
	}

	items := make([]RawItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}
		published := itemTime(entry)
		if !published.After(since) {
			continue
		}
		items = append(items, RawItem{
			ExternalID:  cmp.Or(strings.TrimSpace(entry.GUID), strings.TrimSpace(entry.Link)),
			Title:       strings.TrimSpace(entry.Title),
			Content:     htmlText(cmp.Or(entry.Content, entry.Description)),
			URL:         strings.TrimSpace(entry.Link),
			PublishedAt: published,
			Media:       itemImage(entry),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.Before(items[j].PublishedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	if len(items) == 0 {
		return nil, cursor, nil
	}

	if f.fetchArticles {
		for i := range items {
			if err := ctx.Err(); err != nil {
				return nil, cursor, err
			}
			f.expandSummary(ctx, &items[i])
		}
	}

	next := items[len(items)-1].PublishedAt.UTC().Format(time.RFC3339Nano)
	return items, next, nil
}

func (f *FeedFetcher) download(ctx context.Context, locator string) ([]byte, error) {
	target := strings.TrimSpace(locator)
	if target == "" {
		return nil, fmt.Errorf("feed locator is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/rss+xml,application/atom+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch feed status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultFeedMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}
	return body, nil
}

func (f *FeedFetcher) expandSummary(ctx context.Context, item *RawItem) {
	if item.URL == "" || len([]rune(item.Content)) >= summaryRunes {
		return
	}
	text, err := FetchArticleText(ctx, item.URL, item.Title, ArticleOptions{HTTPClient: f.httpClient})
	if err != nil {
		f.logger.Debug().Err(err).Str("url", item.URL).Msg("article extraction failed; keeping feed summary")
		return
	}
	if len([]rune(text)) > len([]rune(item.Content)) {
		item.Content = text
	}
}

func parseTimeCursor(cursor string) (time.Time, error) {
	trimmed := strings.TrimSpace(cursor)
	if trimmed == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse feed cursor %q: %w", cursor, err)
	}
	return parsed, nil
}

func itemTime(entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC()
	}
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed.UTC()
	}
	return time.Time{}
}

func itemImage(entry *gofeed.Item) media.Source {
	for _, enclosure := range entry.Enclosures {
		if enclosure == nil || strings.TrimSpace(enclosure.URL) == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(enclosure.Type), "image/") || enclosure.Type == "" {
			return media.URLMedia{URL: strings.TrimSpace(enclosure.URL)}
		}
	}
	if entry.Image != nil && strings.TrimSpace(entry.Image.URL) != "" {
		return media.URLMedia{URL: strings.TrimSpace(entry.Image.URL)}
	}
	return nil
}

var blockTags = map[string]bool{
	"p": true, "br": true, "div": true, "li": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "blockquote": true, "tr": true,
}

// htmlText flattens an HTML fragment from a feed body to plain paragraphs.
func htmlText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return cleanText(fragment)
	}

	var out strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	skip := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return cleanText(out.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
			}
			if blockTags[tag] {
				out.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				out.WriteString("\n")
			}
		case html.TextToken:
			if skip == 0 {
				out.Write(tokenizer.Text())
			}
		}
	}
}
