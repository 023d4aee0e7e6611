package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestBucket(t *testing.T) *LocalBucket {
	t.Helper()
	b, err := NewLocal(t.TempDir(), "http://127.0.0.1:8787/")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return b
}

func TestLocalBucket_CreateOpen(t *testing.T) {
	b := newTestBucket(t)
	ctx := context.Background()

	if err := b.Create(ctx, "videos/ad.mp4", "video/mp4", strings.NewReader("data")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ok, err := b.Exists(ctx, "videos/ad.mp4")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	rc, err := b.Open(ctx, "videos/ad.mp4")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}

	attrs, err := b.Attrs(ctx, "videos/ad.mp4")
	if err != nil {
		t.Fatalf("Attrs: %v", err)
	}
	if attrs.Size != 4 || attrs.ContentType != "video/mp4" {
		t.Errorf("attrs = %+v", attrs)
	}
}

func TestLocalBucket_NotFound(t *testing.T) {
	b := newTestBucket(t)
	ctx := context.Background()

	if _, err := b.Open(ctx, "videos/missing.mp4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open = %v, want ErrNotFound", err)
	}
	if _, err := b.Attrs(ctx, "videos/missing.mp4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Attrs = %v, want ErrNotFound", err)
	}
	if ok, err := b.Exists(ctx, "videos/missing.mp4"); ok || err != nil {
		t.Errorf("Exists = %v, %v", ok, err)
	}
}

func TestLocalBucket_List(t *testing.T) {
	b := newTestBucket(t)
	ctx := context.Background()
	for _, name := range []string{"videos/b.mp4", "videos/a.mov", "videos/output/vertical_a.mp4", "other/c.mp4"} {
		if err := b.Create(ctx, name, "", strings.NewReader("x")); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
	}

	objs, err := b.List(ctx, "videos/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, o := range objs {
		names = append(names, o.Path)
	}
	want := "videos/a.mov,videos/b.mp4,videos/output/vertical_a.mp4"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("List = %s, want %s", got, want)
	}
}

func TestLocalBucket_RejectsEscape(t *testing.T) {
	b := newTestBucket(t)
	for _, name := range []string{"../etc/passwd", "..", "", "videos/../../x"} {
		if _, err := b.LocalPath(name); err == nil {
			t.Errorf("LocalPath(%q) should fail", name)
		}
	}
	if p, err := b.LocalPath("/videos/a.mp4"); err != nil || p != filepath.Join(b.Root(), "videos", "a.mp4") {
		t.Errorf("leading slash: %q, %v", p, err)
	}
}

func TestLocalBucket_URL(t *testing.T) {
	b := newTestBucket(t)
	got, err := b.URL(context.Background(), "output/vertical_my ad.mp4")
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if want := "http://127.0.0.1:8787/media/output/vertical_my%20ad.mp4"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestMaterialize_Local(t *testing.T) {
	b := newTestBucket(t)
	ctx := context.Background()
	b.Create(ctx, "videos/a.mp4", "", strings.NewReader("x"))

	p, cleanup, err := Materialize(ctx, b, "videos/a.mp4", t.TempDir())
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	cleanup()
	if _, err := os.Stat(p); err != nil {
		t.Errorf("local object removed by cleanup: %v", err)
	}

	if _, _, err := Materialize(ctx, b, "videos/none.mp4", t.TempDir()); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing object err = %v", err)
	}
}

func TestMaterialize_Remote(t *testing.T) {
	lb := newTestBucket(t)
	ctx := context.Background()
	lb.Create(ctx, "videos/a.mp4", "", strings.NewReader("remote"))

	// Wrapping hides LocalPath so the object is downloaded.
	var b Bucket = struct{ Bucket }{lb}
	p, cleanup, err := Materialize(ctx, b, "videos/a.mp4", t.TempDir())
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	data, _ := os.ReadFile(p)
	if string(data) != "remote" || filepath.Ext(p) != ".mp4" {
		t.Errorf("temp copy %s = %q", p, data)
	}
	cleanup()
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Error("cleanup should remove the temp copy")
	}
}

func TestUploadFile(t *testing.T) {
	b := newTestBucket(t)
	src := filepath.Join(t.TempDir(), "render.mp4")
	os.WriteFile(src, []byte("clip"), 0644)

	if err := UploadFile(context.Background(), b, "output/landscape_a.mp4", src, "video/mp4"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if ok, _ := b.Exists(context.Background(), "output/landscape_a.mp4"); !ok {
		t.Error("uploaded object missing")
	}
}
