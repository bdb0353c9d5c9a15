package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"touchgrass/internal/channel"
)

// Bot API file downloads are capped at 20 MB server-side.
const maxDownloadBytes = 20 << 20

// FetchDocument downloads an attached file into destDir and returns the
// saved path. File names are sanitized; collisions get a timestamp prefix.
func (c *Channel) FetchDocument(ctx context.Context, doc *channel.Document, destDir string) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("no document")
	}
	if doc.FileSize > maxDownloadBytes {
		return "", fmt.Errorf("file %q is %d bytes, over the 20 MB download limit", doc.FileName, doc.FileSize)
	}

	file, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: doc.FileID})
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(c.token), nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download file: status %s", resp.Status)
	}

	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return "", fmt.Errorf("create uploads dir: %w", err)
	}

	name := sanitizeFileName(doc.FileName)
	if name == "" {
		name = sanitizeFileName(filepath.Base(file.FilePath))
	}
	if name == "" {
		name = "upload.bin"
	}

	dest := filepath.Join(destDir, name)
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if os.IsExist(err) {
		dest = filepath.Join(destDir, fmt.Sprintf("%d-%s", time.Now().UnixMilli(), name))
		out, err = os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	}
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, io.LimitReader(resp.Body, maxDownloadBytes+1)); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return dest, nil
}

// sanitizeFileName strips directories and characters that could escape
// the uploads dir or confuse a shell prompt mention.
func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20, r == 0x7f:
			continue
		case strings.ContainsRune(`;&|$<>'"`+"`", r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimLeft(b.String(), ".")
}
