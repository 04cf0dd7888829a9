package blobstore

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func osModTimeInPast(t *testing.T, days int) time.Time {
	t.Helper()
	return time.Now().AddDate(0, 0, -days)
}

func testImageServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		img := image.NewRGBA(image.Rect(0, 0, 10, 10))
		for y := 0; y < 10; y++ {
			for x := 0; x < 10; x++ {
				img.Set(x, y, color.RGBA{R: 255, A: 255})
			}
		}
		w.Header().Set("Content-Type", "image/jpeg")
		if err := jpeg.Encode(w, img, nil); err != nil {
			t.Fatalf("failed to encode test image: %v", err)
		}
	}))
}

func TestSaveProfileAvatarDownloadsOnce(t *testing.T) {
	srv := testImageServer(t)
	defer srv.Close()

	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	path := store.SaveProfileAvatar(context.Background(), "alice", srv.URL)
	if path == nil {
		t.Fatal("expected a non-nil path")
	}
	if filepath.Dir(*path) != filepath.Join(root, "profiles") {
		t.Errorf("expected path under profiles/, got %s", *path)
	}

	info, err := os.Stat(*path)
	if err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
	firstModTime := info.ModTime()

	path2 := store.SaveProfileAvatar(context.Background(), "alice", srv.URL)
	if path2 == nil || *path2 != *path {
		t.Fatal("expected the same path on a repeat call")
	}
	info2, _ := os.Stat(*path2)
	if !info2.ModTime().Equal(firstModTime) {
		t.Error("expected no re-download on repeat call with identical (key, url)")
	}
}

func TestSaveAvatarNetworkFailureReturnsNil(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	path := store.SaveProfileAvatar(context.Background(), "bob", "http://127.0.0.1:1/no-such-host")
	if path != nil {
		t.Error("expected nil path on network failure")
	}
}

func TestSaveAvatarEmptyURLReturnsNil(t *testing.T) {
	root := t.TempDir()
	store, _ := New(root)
	if path := store.SaveProfileAvatar(context.Background(), "carol", ""); path != nil {
		t.Error("expected nil path for empty url")
	}
}

func TestBatchSaveFollowerAvatars(t *testing.T) {
	srv := testImageServer(t)
	defer srv.Close()

	root := t.TempDir()
	store, _ := New(root)

	results := store.BatchSaveFollowerAvatars(context.Background(), []Item{
		{Key: "f1", URL: srv.URL},
		{Key: "f2", URL: ""},
	})

	if results["f1"] == nil {
		t.Error("expected f1 to resolve to a path")
	}
	if results["f2"] != nil {
		t.Error("expected f2 (empty url) to resolve to nil")
	}
}

func TestCleanupRemovesOldFiles(t *testing.T) {
	root := t.TempDir()
	store, _ := New(root)

	stalePath := filepath.Join(root, "profiles", "stale_abc.jpg")
	if err := os.WriteFile(stalePath, []byte("data"), 0o644); err != nil {
		t.Fatalf("failed to write stale file: %v", err)
	}

	oldTime := osModTimeInPast(t, 40)
	if err := os.Chtimes(stalePath, oldTime, oldTime); err != nil {
		t.Fatalf("failed to set mod time: %v", err)
	}

	removed := store.Cleanup(30)
	if removed != 1 {
		t.Errorf("expected 1 file removed, got %d", removed)
	}
	if _, err := os.Stat(stalePath); !os.IsNotExist(err) {
		t.Error("expected stale file to be removed")
	}
}
