package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// DownloadAudio fetches an episode enclosure to dest. The file is written
// beside dest with a .part suffix and renamed once complete, so dest never
// holds a truncated download. Returns the byte count written.
func (c *Client) DownloadAudio(ctx context.Context, rawURL, dest string) (int64, error) {
	cleaned, err := c.guard.ValidateURL(ctx, rawURL)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cleaned, nil)
	if err != nil {
		return 0, fmt.Errorf("feed: build download request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("feed: download %s: %w", cleaned, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("feed: download %s: unexpected status %d", cleaned, resp.StatusCode)
	}
	if resp.ContentLength > c.maxAudio {
		return 0, fmt.Errorf("feed: download %s: declared size %d exceeds %d byte limit",
			cleaned, resp.ContentLength, c.maxAudio)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("feed: create download dir: %w", err)
	}
	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("feed: create temp file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(resp.Body, c.maxAudio+1))
	closeErr := f.Close()
	switch {
	case err != nil:
		os.Remove(tmp)
		return 0, fmt.Errorf("feed: download %s: %w", cleaned, err)
	case closeErr != nil:
		os.Remove(tmp)
		return 0, fmt.Errorf("feed: close temp file: %w", closeErr)
	case n > c.maxAudio:
		os.Remove(tmp)
		return 0, fmt.Errorf("feed: download %s: exceeds %d byte limit", cleaned, c.maxAudio)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("feed: finalize download: %w", err)
	}
	return n, nil
}
