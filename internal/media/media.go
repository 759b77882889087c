// Package media downloads one attachment per post, accepts only JPEG,
// re-encodes it and uploads the result before recording it.
package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"horse.fit/fusion/internal/db"
)

const (
	DefaultMaxBytes     = 10 * 1024 * 1024
	DefaultFetchTimeout = 30 * time.Second
	jpegQuality         = 85
	outputMimeType      = "image/jpeg"
	defaultUserAgent    = "fusion-media/1.0"
)

// ErrUnsupportedFormat rejects anything that is not a JPEG before upload.
var ErrUnsupportedFormat = errors.New("unsupported media format")

// Source is where an attachment comes from. The set is closed.
type Source interface {
	mediaSource()
}

// TelegramMedia is a file stored by the Telegram Bot API.
type TelegramMedia struct {
	FileID string
}

// URLMedia is a plain HTTP(S) download.
type URLMedia struct {
	URL string
}

// AdapterMedia is fetched by a source-specific adapter.
type AdapterMedia struct {
	Name  string
	Fetch func(ctx context.Context) ([]byte, error)
}

func (TelegramMedia) mediaSource() {}
func (URLMedia) mediaSource()      {}
func (AdapterMedia) mediaSource()  {}

// TelegramFiles resolves and downloads Bot API files.
type TelegramFiles interface {
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

type Downloader struct {
	httpClient *http.Client
	telegram   TelegramFiles
	maxBytes   int64
}

func NewDownloader(httpClient *http.Client, telegram TelegramFiles) *Downloader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultFetchTimeout}
	}
	return &Downloader{httpClient: httpClient, telegram: telegram, maxBytes: DefaultMaxBytes}
}

func (d *Downloader) Download(ctx context.Context, src Source) ([]byte, error) {
	switch s := src.(type) {
	case TelegramMedia:
		if d.telegram == nil {
			return nil, fmt.Errorf("download telegram file: no telegram client configured")
		}
		if strings.TrimSpace(s.FileID) == "" {
			return nil, fmt.Errorf("download telegram file: empty file id")
		}
		return d.telegram.DownloadFile(ctx, s.FileID)
	case URLMedia:
		return d.downloadURL(ctx, s.URL)
	case AdapterMedia:
		if s.Fetch == nil {
			return nil, fmt.Errorf("download %s media: adapter has no fetch func", s.Name)
		}
		return s.Fetch(ctx)
	default:
		return nil, fmt.Errorf("unknown media source %T", src)
	}
}

func (d *Downloader) downloadURL(ctx context.Context, rawURL string) ([]byte, error) {
	target := strings.TrimSpace(rawURL)
	if target == "" {
		return nil, fmt.Errorf("download media: empty url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "image/jpeg,image/*;q=0.8")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch media status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	if int64(len(body)) > d.maxBytes {
		return nil, fmt.Errorf("media exceeds %d bytes", d.maxBytes)
	}
	return body, nil
}

// Image is a normalized JPEG ready for upload.
type Image struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Normalize accepts JPEG input only and re-encodes it, which also drops any
// embedded metadata.
func Normalize(raw []byte) (Image, error) {
	detected := mimetype.Detect(raw)
	if !detected.Is(outputMimeType) {
		return Image{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, detected.String())
	}

	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return Image{}, fmt.Errorf("%w: decode jpeg: %v", ErrUnsupportedFormat, err)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, decoded, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Image{}, fmt.Errorf("encode jpeg: %w", err)
	}
	bounds := decoded.Bounds()
	return Image{
		Data:     out.Bytes(),
		MimeType: outputMimeType,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}

// Uploader stores a blob under key in object storage.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

type Store interface {
	InsertMediaAsset(ctx context.Context, asset db.MediaAsset) (int64, error)
}

// Pipeline downloads, normalizes, uploads and records one attachment.
type Pipeline struct {
	downloader *Downloader
	uploader   Uploader
	store      Store
	logger     zerolog.Logger
}

func NewPipeline(downloader *Downloader, uploader Uploader, store Store, logger zerolog.Logger) *Pipeline {
	return &Pipeline{downloader: downloader, uploader: uploader, store: store, logger: logger}
}

// Attach stores src for an item. The media row is written only after the
// upload succeeded.
func (p *Pipeline) Attach(ctx context.Context, itemID int64, src Source) (db.MediaAsset, error) {
	if p == nil || p.downloader == nil || p.uploader == nil || p.store == nil {
		return db.MediaAsset{}, fmt.Errorf("media pipeline is not initialized")
	}

	raw, err := p.downloader.Download(ctx, src)
	if err != nil {
		return db.MediaAsset{}, err
	}
	img, err := Normalize(raw)
	if err != nil {
		return db.MediaAsset{}, err
	}

	key := objectKey(itemID, img.Data)
	if err := p.uploader.Upload(ctx, key, img.Data, img.MimeType); err != nil {
		return db.MediaAsset{}, fmt.Errorf("upload media item_id=%d: %w", itemID, err)
	}

	asset := db.MediaAsset{
		ItemID:    itemID,
		ObjectKey: key,
		MimeType:  img.MimeType,
		Width:     img.Width,
		Height:    img.Height,
		SizeBytes: int64(len(img.Data)),
	}
	id, err := p.store.InsertMediaAsset(ctx, asset)
	if err != nil {
		return db.MediaAsset{}, err
	}
	asset.MediaAssetID = id
	p.logger.Debug().
		Int64("item_id", itemID).
		Str("object_key", key).
		Int("width", img.Width).
		Int("height", img.Height).
		Msg("media stored")
	return asset, nil
}

func objectKey(itemID int64, data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("items/%d/%s.jpg", itemID, hex.EncodeToString(sum[:8]))
}
