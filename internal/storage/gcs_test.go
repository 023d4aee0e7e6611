package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"
)

const testBucketName = "ads"

type gcsObject struct {
	contentType string
	data        string
}

// fakeGCS answers the subset of the JSON API the bucket uses.
type fakeGCS struct {
	mu      sync.Mutex
	objects map[string]gcsObject
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	objectsPath := "/storage/v1/b/" + testBucketName + "/o"
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/upload"+objectsPath:
		f.upload(w, r)
	case r.Method == http.MethodGet && r.URL.Path == objectsPath:
		f.list(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, objectsPath+"/"):
		f.mu.Lock()
		name := strings.TrimPrefix(r.URL.Path, objectsPath+"/")
		obj, ok := f.objects[name]
		f.mu.Unlock()
		if !ok {
			notFound(w)
			return
		}
		writeGCSJSON(w, objectResource(name, obj))
	default:
		notFound(w)
	}
}

func (f *fakeGCS) upload(w http.ResponseWriter, r *http.Request) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/related" {
		http.Error(w, "unsupported upload", http.StatusBadRequest)
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var meta struct {
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
	}
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dataPart, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(dataPart)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	obj := gcsObject{contentType: meta.ContentType, data: string(data)}
	f.mu.Lock()
	f.objects[meta.Name] = obj
	f.mu.Unlock()
	writeGCSJSON(w, objectResource(meta.Name, obj))
}

func (f *fakeGCS) list(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	f.mu.Lock()
	var names []string
	for name := range f.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	items := make([]map[string]any, 0, len(names))
	for _, name := range names {
		items = append(items, objectResource(name, f.objects[name]))
	}
	f.mu.Unlock()
	writeGCSJSON(w, map[string]any{"kind": "storage#objects", "items": items})
}

func objectResource(name string, obj gcsObject) map[string]any {
	return map[string]any{
		"kind":        "storage#object",
		"bucket":      testBucketName,
		"name":        name,
		"contentType": obj.contentType,
		"size":        fmt.Sprint(len(obj.data)),
		"updated":     "2024-05-01T10:00:00Z",
		"generation":  "1",
	}
}

func writeGCSJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"error":{"code":404,"message":"No such object"}}`))
}

func newTestGCS(t *testing.T, objects map[string]gcsObject) (*GCSBucket, *fakeGCS) {
	t.Helper()
	t.Setenv("STORAGE_EMULATOR_HOST", "")
	fake := &fakeGCS{objects: objects}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	b, err := NewGCS(context.Background(), testBucketName, "", time.Hour,
		option.WithEndpoint(server.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("NewGCS: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, fake
}

func TestGCSBucket_ListAndAttrs(t *testing.T) {
	b, _ := newTestGCS(t, map[string]gcsObject{
		"videos/ad.mp4":             {contentType: "video/mp4", data: "video"},
		"videos/output/clip.mp4":    {contentType: "video/mp4", data: "clip"},
		"audio/ad.wav":              {contentType: "audio/wav", data: "RIFF"},
		"videos/notes.txt":          {data: "x"},
		"transcripts/ad.json":       {contentType: "application/json", data: "{}"},
		"videos/output/nowm_ad.mp4": {contentType: "video/mp4", data: "clean"},
	})
	ctx := context.Background()

	objs, err := b.List(ctx, "videos/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objs) != 4 {
		t.Fatalf("List returned %d objects: %+v", len(objs), objs)
	}
	if objs[0].Path != "videos/ad.mp4" || objs[0].Size != 5 || objs[0].ContentType != "video/mp4" {
		t.Errorf("first object = %+v", objs[0])
	}
	if objs[1].ContentType != ContentType("notes.txt") {
		t.Errorf("fallback content type = %q", objs[1].ContentType)
	}
	if want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC); !objs[0].Updated.Equal(want) {
		t.Errorf("Updated = %v, want %v", objs[0].Updated, want)
	}

	attrs, err := b.Attrs(ctx, "audio/ad.wav")
	if err != nil {
		t.Fatalf("Attrs: %v", err)
	}
	if attrs.Path != "audio/ad.wav" || attrs.Size != 4 {
		t.Errorf("Attrs = %+v", attrs)
	}
}

func TestGCSBucket_NotFound(t *testing.T) {
	b, _ := newTestGCS(t, map[string]gcsObject{
		"videos/ad.mp4": {contentType: "video/mp4", data: "video"},
	})
	ctx := context.Background()

	ok, err := b.Exists(ctx, "videos/ad.mp4")
	if err != nil || !ok {
		t.Errorf("Exists(existing) = %v, %v", ok, err)
	}
	ok, err = b.Exists(ctx, "videos/missing.mp4")
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v", ok, err)
	}
	if _, err := b.Attrs(ctx, "videos/missing.mp4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Attrs err = %v, want ErrNotFound", err)
	}
	if _, err := b.Open(ctx, "videos/missing.mp4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open err = %v, want ErrNotFound", err)
	}
}

func TestGCSBucket_Create(t *testing.T) {
	b, fake := newTestGCS(t, map[string]gcsObject{})
	ctx := context.Background()

	if err := b.Create(ctx, "videos/ad.mp4", "video/mp4", strings.NewReader("video")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	fake.mu.Lock()
	got := fake.objects["videos/ad.mp4"]
	fake.mu.Unlock()
	if got.data != "video" || got.contentType != "video/mp4" {
		t.Errorf("stored = %+v", got)
	}
}

type failingReader struct{ sent bool }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.sent {
		return 0, errors.New("client disconnected")
	}
	r.sent = true
	return copy(p, "partial"), nil
}

func TestGCSBucket_CreateAbortsOnReadError(t *testing.T) {
	b, fake := newTestGCS(t, map[string]gcsObject{})

	if err := b.Create(context.Background(), "videos/ad.mp4", "video/mp4", &failingReader{}); err == nil {
		t.Fatal("expected error")
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if _, ok := fake.objects["videos/ad.mp4"]; ok {
		t.Error("partial upload was committed")
	}
}
