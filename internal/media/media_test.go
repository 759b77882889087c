package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/fusion/internal/db/dbtest"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	return img
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(w, h), &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode jpeg fixture: %v", err)
	}
	return buf.Bytes()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(8, 8)); err != nil {
		t.Fatalf("encode png fixture: %v", err)
	}
	return buf.Bytes()
}

type recordingUploader struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (u *recordingUploader) Upload(_ context.Context, key string, _ []byte, contentType string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	if contentType != "image/jpeg" {
		return errors.New("unexpected content type " + contentType)
	}
	u.keys = append(u.keys, key)
	return nil
}

type stubTelegram struct {
	files map[string][]byte
}

func (s stubTelegram) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	data, ok := s.files[fileID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

func TestNormalizeReencodesJPEG(t *testing.T) {
	t.Parallel()

	img, err := Normalize(jpegBytes(t, 32, 24))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if img.MimeType != "image/jpeg" {
		t.Fatalf("mime = %q, want image/jpeg", img.MimeType)
	}
	if img.Width != 32 || img.Height != 24 {
		t.Fatalf("dimensions = %dx%d, want 32x24", img.Width, img.Height)
	}
	if _, err := jpeg.Decode(bytes.NewReader(img.Data)); err != nil {
		t.Fatalf("re-encoded data is not a jpeg: %v", err)
	}
}

func TestNormalizeRejectsNonJPEG(t *testing.T) {
	t.Parallel()

	cases := map[string][]byte{
		"png":   pngBytes(t),
		"text":  []byte("definitely not an image"),
		"empty": nil,
	}
	for name, raw := range cases {
		if _, err := Normalize(raw); !errors.Is(err, ErrUnsupportedFormat) {
			t.Fatalf("%s: Normalize() error = %v, want ErrUnsupportedFormat", name, err)
		}
	}
}

func TestDownloadDispatchesEveryVariant(t *testing.T) {
	t.Parallel()

	payload := jpegBytes(t, 4, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/photo.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	d := NewDownloader(server.Client(), stubTelegram{files: map[string][]byte{"file-1": payload}})
	sources := []Source{
		TelegramMedia{FileID: "file-1"},
		URLMedia{URL: server.URL + "/photo.jpg"},
		AdapterMedia{Name: "fixture", Fetch: func(context.Context) ([]byte, error) { return payload, nil }},
	}
	for _, src := range sources {
		got, err := d.Download(context.Background(), src)
		if err != nil {
			t.Fatalf("Download(%T) error = %v", src, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("Download(%T) returned %d bytes, want %d", src, len(got), len(payload))
		}
	}

	if _, err := d.Download(context.Background(), URLMedia{URL: server.URL + "/missing.jpg"}); err == nil {
		t.Fatalf("expected error for 404 download")
	}
	if _, err := NewDownloader(nil, nil).Download(context.Background(), TelegramMedia{FileID: "x"}); err == nil {
		t.Fatalf("expected error without telegram client")
	}
}

func TestDownloadEnforcesSizeLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{0xff}, 64))
	}))
	defer server.Close()

	d := NewDownloader(server.Client(), nil)
	d.maxBytes = 32
	_, err := d.Download(context.Background(), URLMedia{URL: server.URL})
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("Download() error = %v, want size limit error", err)
	}
}

func TestAttachRecordsUploadedAsset(t *testing.T) {
	t.Parallel()

	store := dbtest.NewMemory()
	uploader := &recordingUploader{}
	payload := jpegBytes(t, 16, 10)
	pipeline := NewPipeline(NewDownloader(nil, stubTelegram{files: map[string][]byte{"f": payload}}), uploader, store, zerolog.Nop())

	asset, err := pipeline.Attach(context.Background(), 42, TelegramMedia{FileID: "f"})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if asset.MediaAssetID == 0 || asset.ItemID != 42 {
		t.Fatalf("unexpected asset %+v", asset)
	}
	if !strings.HasPrefix(asset.ObjectKey, "items/42/") || !strings.HasSuffix(asset.ObjectKey, ".jpg") {
		t.Fatalf("object key = %q", asset.ObjectKey)
	}
	if asset.Width != 16 || asset.Height != 10 {
		t.Fatalf("dimensions = %dx%d, want 16x10", asset.Width, asset.Height)
	}
	if len(uploader.keys) != 1 || uploader.keys[0] != asset.ObjectKey {
		t.Fatalf("uploaded keys = %v", uploader.keys)
	}
	if rows := store.MediaAssets(); len(rows) != 1 {
		t.Fatalf("media rows = %d, want 1", len(rows))
	}
}

func TestAttachWritesNoRowWhenUploadFails(t *testing.T) {
	t.Parallel()

	store := dbtest.NewMemory()
	uploader := &recordingUploader{err: errors.New("bucket unavailable")}
	payload := jpegBytes(t, 4, 4)
	pipeline := NewPipeline(NewDownloader(nil, stubTelegram{files: map[string][]byte{"f": payload}}), uploader, store, zerolog.Nop())

	if _, err := pipeline.Attach(context.Background(), 7, TelegramMedia{FileID: "f"}); err == nil {
		t.Fatalf("expected upload error")
	}
	if rows := store.MediaAssets(); len(rows) != 0 {
		t.Fatalf("media rows = %d, want 0", len(rows))
	}
}

func TestAttachRejectsNonJPEGBeforeUpload(t *testing.T) {
	t.Parallel()

	store := dbtest.NewMemory()
	uploader := &recordingUploader{}
	raw := pngBytes(t)
	pipeline := NewPipeline(NewDownloader(nil, nil), uploader, store, zerolog.Nop())

	_, err := pipeline.Attach(context.Background(), 1, AdapterMedia{Name: "png", Fetch: func(context.Context) ([]byte, error) { return raw, nil }})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Attach() error = %v, want ErrUnsupportedFormat", err)
	}
	if len(uploader.keys) != 0 {
		t.Fatalf("upload should not run for rejected media")
	}
	if rows := store.MediaAssets(); len(rows) != 0 {
		t.Fatalf("media rows = %d, want 0", len(rows))
	}
}

func TestLocalUploaderWritesUnderDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	u := LocalUploader{Dir: dir}
	if err := u.Upload(context.Background(), "../../items/1/abc.jpg", []byte("data"), "image/jpeg"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "items", "1", "abc.jpg"))
	if err != nil {
		t.Fatalf("read uploaded file: %v", err)
	}
	if string(got) != "data" {
		t.Fatalf("uploaded content = %q", got)
	}
}
