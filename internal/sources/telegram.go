package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"horse.fit/fusion/internal/db"
	"horse.fit/fusion/internal/media"
	"horse.fit/fusion/internal/textutil"
)

const (
	DefaultTelegramAPIBase = "https://api.telegram.org"
	defaultTelegramTimeout = 30 * time.Second
	telegramTitleRunes     = 120
	telegramMaxFileBytes   = 20 * 1024 * 1024
)

// TelegramClient is a minimal Bot API client covering update polling and file
// downloads.
type TelegramClient struct {
	apiBase  string
	botToken string
	client   *http.Client
}

func NewTelegramClient(apiBase, botToken string, client *http.Client) *TelegramClient {
	base := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if base == "" {
		base = DefaultTelegramAPIBase
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTelegramTimeout}
	}
	return &TelegramClient{apiBase: base, botToken: botToken, client: client}
}

type telegramResponse[T any] struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      T      `json:"result"`
}

type telegramUpdate struct {
	UpdateID    int64            `json:"update_id"`
	ChannelPost *telegramMessage `json:"channel_post"`
}

type telegramMessage struct {
	MessageID    int64           `json:"message_id"`
	Date         int64           `json:"date"`
	Chat         telegramChat    `json:"chat"`
	Text         string          `json:"text"`
	Caption      string          `json:"caption"`
	MediaGroupID string          `json:"media_group_id"`
	Photo        []telegramPhoto `json:"photo"`
}

type telegramChat struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Title    string `json:"title"`
}

type telegramPhoto struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size"`
}

type telegramFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

func (c *TelegramClient) call(ctx context.Context, method string, params url.Values, out any) error {
	if strings.TrimSpace(c.botToken) == "" {
		return fmt.Errorf("telegram bot token is not configured")
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.botToken, method)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram %s: %s", method, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode telegram %s: %w", method, err)
	}
	return nil
}

func (c *TelegramClient) getUpdates(ctx context.Context, offset int64, limit int) ([]telegramUpdate, error) {
	params := url.Values{}
	if offset > 0 {
		params.Set("offset", strconv.FormatInt(offset, 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(min(limit, 100)))
	}
	params.Set("allowed_updates", `["channel_post"]`)

	var resp telegramResponse[[]telegramUpdate]
	if err := c.call(ctx, "getUpdates", params, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("telegram getUpdates: %s", resp.Description)
	}
	return resp.Result, nil
}

// DownloadFile resolves a file id to its path and downloads the content.
func (c *TelegramClient) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	params := url.Values{}
	params.Set("file_id", fileID)

	var resp telegramResponse[telegramFile]
	if err := c.call(ctx, "getFile", params, &resp); err != nil {
		return nil, err
	}
	if !resp.OK || strings.TrimSpace(resp.Result.FilePath) == "" {
		return nil, fmt.Errorf("telegram getFile %s: %s", fileID, resp.Description)
	}

	endpoint := fmt.Sprintf("%s/file/bot%s/%s", c.apiBase, c.botToken, resp.Result.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	fileResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download telegram file: %w", err)
	}
	defer fileResp.Body.Close()
	if fileResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download telegram file: %s", fileResp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(fileResp.Body, telegramMaxFileBytes))
	if err != nil {
		return nil, fmt.Errorf("read telegram file: %w", err)
	}
	return data, nil
}

// TelegramFetcher turns channel posts into raw items. The source locator is
// the channel username (with or without @) or its numeric chat id; the cursor
// is the last update id seen.
type TelegramFetcher struct {
	client *TelegramClient
}

func NewTelegramFetcher(client *TelegramClient) *TelegramFetcher {
	return &TelegramFetcher{client: client}
}

func (f *TelegramFetcher) Fetch(ctx context.Context, source db.SourceRecord, cursor string, limit int) ([]RawItem, string, error) {
	var last int64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, cursor, fmt.Errorf("parse telegram cursor %q: %w", cursor, err)
		}
		last = parsed
	}

	var offset int64
	if last > 0 {
		offset = last + 1
	}
	updates, err := f.client.getUpdates(ctx, offset, limit)
	if err != nil {
		return nil, cursor, err
	}

	items := make([]RawItem, 0, len(updates))
	maxID := last
	for _, update := range updates {
		if update.UpdateID > maxID {
			maxID = update.UpdateID
		}
		post := update.ChannelPost
		if post == nil || !matchesChannel(post.Chat, source.Locator) {
			continue
		}
		items = append(items, postToRawItem(post))
	}

	next := cursor
	if maxID > last {
		next = strconv.FormatInt(maxID, 10)
	}
	return items, next, nil
}

func matchesChannel(chat telegramChat, locator string) bool {
	want := strings.TrimPrefix(strings.TrimSpace(locator), "@")
	if want == "" {
		return false
	}
	if strings.EqualFold(chat.Username, want) {
		return true
	}
	return strconv.FormatInt(chat.ID, 10) == want
}

func postToRawItem(post *telegramMessage) RawItem {
	text := strings.TrimSpace(post.Text)
	if text == "" {
		text = strings.TrimSpace(post.Caption)
	}

	item := RawItem{
		ExternalID:  fmt.Sprintf("%d:%d", post.Chat.ID, post.MessageID),
		GroupKey:    post.MediaGroupID,
		Title:       textutil.FirstLine(text, telegramTitleRunes),
		Content:     text,
		PublishedAt: time.Unix(post.Date, 0).UTC(),
	}
	if post.Chat.Username != "" {
		item.URL = fmt.Sprintf("https://t.me/%s/%d", post.Chat.Username, post.MessageID)
	}
	if photo, ok := largestPhoto(post.Photo); ok {
		item.Media = media.TelegramMedia{FileID: photo.FileID}
	}
	return item
}

func largestPhoto(sizes []telegramPhoto) (telegramPhoto, bool) {
	var best telegramPhoto
	found := false
	for _, size := range sizes {
		if size.FileID == "" {
			continue
		}
		if !found || size.Width*size.Height > best.Width*best.Height ||
			(size.Width*size.Height == best.Width*best.Height && size.FileSize > best.FileSize) {
			best = size
			found = true
		}
	}
	return best, found
}
