package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"captiond/internal/accel"
	"captiond/internal/httpapi"
	"captiond/internal/llava"
	"captiond/internal/manager"
	"captiond/internal/runtime"
)

const modelID = "test/llava-tiny"

// newServer writes the tiny artifact into a temp cache and serves the API
// over acc.
func newServer(t *testing.T, acc runtime.Accelerator) (*httptest.Server, *manager.Manager) {
	t.Helper()
	cache := t.TempDir()
	if err := llava.WriteArtifact(filepath.Join(cache, filepath.FromSlash(modelID)), llava.DefaultArtifact()); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	log := zerolog.Nop()
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Provider:    llava.NewProvider(acc, log),
		Accelerator: acc,
		ModelSource: modelID,
		CacheDir:    cache,
		Publisher:   manager.NewMemoryPublisher(0),
		Logger:      &log,
	})
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(srv.Close)
	return srv, mgr
}

func newPool() *accel.Pool {
	return accel.NewPool(accel.PoolConfig{Name: "e2e-gpu", TotalBytes: 64 << 20, ContextBytes: 1 << 20, BF16: true, ComputeCapability: "8.9"})
}

func writeImage(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 5), G: 120, B: uint8(y * 5), A: 255})
		}
	}
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return p
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	return do(t, req)
}

func httpPostJSON(t *testing.T, url string, payload any) (*http.Response, []byte) {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("json: %v (%s)", err, body)
	}
	return v
}
