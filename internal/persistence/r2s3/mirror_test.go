package r2s3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"playerbots/internal/sim/clock"
	"playerbots/internal/sim/monitor"
)

type capture struct {
	mu     sync.Mutex
	path   string
	header http.Header
	body   []byte
}

func (c *capture) snapshot() (string, http.Header, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path, c.header, c.body
}

func newUploadServer(t *testing.T, status int) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.path = r.URL.Path
		c.header = r.Header.Clone()
		c.body = body
		c.mu.Unlock()
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func writeSegment(t *testing.T, path string, payload []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestPutFile_SignsAndUploads(t *testing.T) {
	srv, got := newUploadServer(t, http.StatusOK)
	c, err := New(srv.URL, "trailbucket", "AKIDEXAMPLE", "sekrit")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	payload := []byte("compressed-rows")
	local := filepath.Join(t.TempDir(), "seg.jsonl.zst")
	writeSegment(t, local, payload)

	if err := c.PutFile(context.Background(), "trails/bank/seg.jsonl.zst", local); err != nil {
		t.Fatalf("put: %v", err)
	}

	path, hdr, body := got.snapshot()
	if path != "/trailbucket/trails/bank/seg.jsonl.zst" {
		t.Fatalf("request path: %s", path)
	}
	if string(body) != string(payload) {
		t.Fatalf("body: %q", body)
	}
	if ct := hdr.Get("Content-Type"); ct != "application/zstd" {
		t.Fatalf("content type: %s", ct)
	}
	sum := sha256.Sum256(payload)
	if h := hdr.Get("x-amz-content-sha256"); h != hex.EncodeToString(sum[:]) {
		t.Fatalf("payload hash: %s", h)
	}
	auth := hdr.Get("Authorization")
	if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/") {
		t.Fatalf("authorization: %s", auth)
	}
	if !strings.Contains(auth, "SignedHeaders="+signedHeaderList) {
		t.Fatalf("signed headers: %s", auth)
	}
	if !strings.Contains(auth, "/auto/s3/aws4_request") {
		t.Fatalf("credential scope: %s", auth)
	}
}

func TestPutFile_SurfacesRejections(t *testing.T) {
	srv, _ := newUploadServer(t, http.StatusForbidden)
	c, err := New(srv.URL, "trailbucket", "AKIDEXAMPLE", "sekrit")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	local := filepath.Join(t.TempDir(), "seg.jsonl.zst")
	writeSegment(t, local, []byte("rows"))

	err = c.PutFile(context.Background(), "trails/seg.jsonl.zst", local)
	if err == nil || !strings.Contains(err.Error(), "status 403") {
		t.Fatalf("rejection not surfaced: %v", err)
	}
	if err := c.PutFile(context.Background(), "///", local); err == nil {
		t.Fatalf("unusable key accepted")
	}
}

func TestNew_ValidatesInputs(t *testing.T) {
	if _, err := New("", "b", "k", "s"); err == nil {
		t.Fatalf("empty endpoint accepted")
	}
	if _, err := New("accountid.r2.cloudflarestorage.com", "b", "k", ""); err == nil {
		t.Fatalf("empty secret accepted")
	}
	c, err := New("accountid.r2.cloudflarestorage.com", "b", "k", "s")
	if err != nil {
		t.Fatalf("bare host rejected: %v", err)
	}
	if c.base.Scheme != "https" {
		t.Fatalf("scheme: %s", c.base.Scheme)
	}
}

func TestObjectKey_LayoutPerTrail(t *testing.T) {
	dataDir := t.TempDir()
	seg := filepath.Join(dataDir, "bank", "bank-2025-11-03-17.jsonl.zst")
	writeSegment(t, seg, []byte("rows"))
	loose := filepath.Join(dataDir, "readme.txt")
	writeSegment(t, loose, []byte("x"))

	m := &Mirror{dataDir: dataDir, prefix: "trails"}
	key, err := m.objectKey(seg)
	if err != nil || key != "trails/bank/2025-11-03/bank-2025-11-03-17.jsonl.zst" {
		t.Fatalf("segment key: %q err=%v", key, err)
	}
	key, err = m.objectKey(loose)
	if err != nil || key != "trails/readme.txt" {
		t.Fatalf("loose key: %q err=%v", key, err)
	}

	outside := filepath.Join(t.TempDir(), "other.txt")
	writeSegment(t, outside, []byte("x"))
	if _, err := m.objectKey(outside); err == nil {
		t.Fatalf("path outside data dir accepted")
	}
}

func TestMirror_ShipsRotatedSegments(t *testing.T) {
	srv, got := newUploadServer(t, http.StatusOK)
	client, err := New(srv.URL, "trailbucket", "AKIDEXAMPLE", "sekrit")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	dataDir := t.TempDir()
	seg := filepath.Join(dataDir, "bank", "bank-2025-11-03-17.jsonl.zst")
	writeSegment(t, seg, []byte("rows"))

	mon := monitor.New(monitor.Config{}, clock.NewManual(0), nil)
	m := NewMirror(client, dataDir, "trails", 1, 8, time.Millisecond, mon, nil)
	m.Enqueue(seg)
	m.Close()

	path, _, _ := got.snapshot()
	if path != "/trailbucket/trails/bank/2025-11-03/bank-2025-11-03-17.jsonl.zst" {
		t.Fatalf("uploaded path: %s", path)
	}
	st := m.Stats()
	if st.UploadSuccessTotal != 1 || st.UploadFailTotal != 0 {
		t.Fatalf("stats: %+v", st)
	}
	if n := mon.Counter(CounterMirrorUploaded); n != 1 {
		t.Fatalf("upload counter: %d", n)
	}
	if w := mon.Window(WindowMirrorUploadMs); w == nil || w.Len() == 0 {
		t.Fatalf("no upload duration samples")
	}
}
