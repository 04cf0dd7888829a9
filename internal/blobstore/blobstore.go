// Package blobstore is the idempotent URL→file resolver for profile
// avatars, post images and follower avatars. It downloads an image once
// per (key, url) pair, re-encodes it to JPEG at a fixed quality, and
// serves every later call for the same pair from disk. Grounded on the
// teacher's internal/file package for the "derive a stable filename, fail
// soft, never panic" shape, generalized from markdown filenames to
// content-addressed image paths.
package blobstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/gif"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/instarelay/instacore/internal/logger"
)

const (
	maxProfileDimension = 1200
	jpegQuality         = 85
)

// Store saves images under root/{profiles,posts,followers}/.
type Store struct {
	root   string
	client *http.Client
}

// New creates a Store rooted at root, creating its subdirectories.
func New(root string) (*Store, error) {
	for _, sub := range []string{"profiles", "posts", "followers"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create blob directory %s: %w", sub, err)
		}
	}
	return &Store{
		root:   root,
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Item is one entry of a batch save request.
type Item struct {
	Key string
	URL string
}

// SaveProfileAvatar downloads and stores a profile avatar, downscaled to
// at most 1200x1200 and re-encoded as JPEG at quality 85.
func (s *Store) SaveProfileAvatar(ctx context.Context, username, url string) *string {
	return s.save(ctx, "profiles", username, url, true)
}

// SavePostImage downloads and stores a post image under the same bounds
// as a profile avatar.
func (s *Store) SavePostImage(ctx context.Context, postID, url string) *string {
	return s.save(ctx, "posts", postID, url, true)
}

// SaveFollowerAvatar downloads and stores a follower avatar without
// downscaling (§4.7: "Follower avatars are not downscaled").
func (s *Store) SaveFollowerAvatar(ctx context.Context, username, url string) *string {
	return s.save(ctx, "followers", username, url, false)
}

// BatchSaveFollowerAvatars saves a batch of follower avatars; failures for
// individual items are swallowed and reported as a nil path rather than
// aborting the batch.
func (s *Store) BatchSaveFollowerAvatars(ctx context.Context, items []Item) map[string]*string {
	out := make(map[string]*string, len(items))
	for _, item := range items {
		out[item.Key] = s.SaveFollowerAvatar(ctx, item.Key, item.URL)
	}
	return out
}

// save is the shared idempotent-download-and-encode path. It never
// returns an error: network/decode failures are logged and result in a
// nil path, per §4.7 ("never raise").
func (s *Store) save(ctx context.Context, subdir, key, url string, downscale bool) *string {
	if url == "" {
		return nil
	}

	digest := md5.Sum([]byte(url))
	filename := fmt.Sprintf("%s_%s.jpg", sanitizeKey(key), hex.EncodeToString(digest[:]))
	path := filepath.Join(s.root, subdir, filename)

	if _, err := os.Stat(path); err == nil {
		return &path
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		logger.WarnMsg(fmt.Sprintf("blobstore: failed to build request for %s: %v", url, err))
		return nil
	}

	resp, err := s.client.Do(req)
	if err != nil {
		logger.WarnMsg(fmt.Sprintf("blobstore: download failed for %s: %v", url, err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.WarnMsg(fmt.Sprintf("blobstore: download status %d for %s", resp.StatusCode, url))
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.WarnMsg(fmt.Sprintf("blobstore: failed to read body for %s: %v", url, err))
		return nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		logger.WarnMsg(fmt.Sprintf("blobstore: failed to decode image for %s: %v", url, err))
		return nil
	}

	if downscale {
		img = downscaleToFit(img, maxProfileDimension, maxProfileDimension)
	}

	out, err := os.Create(path)
	if err != nil {
		logger.WarnMsg(fmt.Sprintf("blobstore: failed to create file %s: %v", path, err))
		return nil
	}
	defer out.Close()

	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		logger.WarnMsg(fmt.Sprintf("blobstore: failed to encode jpeg %s: %v", path, err))
		_ = os.Remove(path)
		return nil
	}

	return &path
}

// Cleanup removes files in every subdirectory older than days and returns
// the number removed.
func (s *Store) Cleanup(days int) int {
	cutoff := time.Now().AddDate(0, 0, -days)
	removed := 0

	for _, sub := range []string{"profiles", "posts", "followers"} {
		dir := filepath.Join(s.root, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
					removed++
				}
			}
		}
	}

	return removed
}

func sanitizeKey(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "item"
	}
	return string(out)
}
