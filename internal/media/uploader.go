package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalUploader writes blobs below Dir. It stands in for object storage in
// single-host deployments.
type LocalUploader struct {
	Dir string
}

func (u LocalUploader) Upload(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	root := strings.TrimSpace(u.Dir)
	if root == "" {
		return fmt.Errorf("local uploader: empty directory")
	}
	clean := filepath.Clean("/" + key)
	target := filepath.Join(root, clean)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create media directory: %w", err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write media file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize media file: %w", err)
	}
	return nil
}
