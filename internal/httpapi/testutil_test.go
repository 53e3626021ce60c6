package httpapi

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"captiond/internal/manager"
	"captiond/pkg/types"
)

type loadCall struct{ device, quant string }

type mockService struct {
	mu        sync.Mutex
	loads     []loadCall
	infers    []manager.GenerationRequest
	loadErr   error
	inferErr  error
	text      string
	unloads   int
	teardowns int
	tearErr   error
	status    types.HealthResponse
	gpu       types.GPUStatusResponse
	events    []types.LifecycleEvent
	ready     bool
}

func (m *mockService) Load(ctx context.Context, device, quant string) (types.HealthResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.loadLocked(device, quant)
	return m.status, err
}

func (m *mockService) loadLocked(device, quant string) error {
	m.loads = append(m.loads, loadCall{device, quant})
	if m.loadErr != nil {
		return m.loadErr
	}
	m.status.Loaded = true
	m.status.Config = []string{device, quant}
	return nil
}

func (m *mockService) Caption(ctx context.Context, device, quant string, req manager.GenerationRequest) (manager.GenerationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(device, quant); err != nil {
		return manager.GenerationResult{}, err
	}
	m.infers = append(m.infers, req)
	if m.inferErr != nil {
		return manager.GenerationResult{}, m.inferErr
	}
	text := m.text
	if text == "" {
		text = "a red square"
	}
	return manager.GenerationResult{Text: text, NewTokens: 3}, nil
}

func (m *mockService) Unload() {
	m.mu.Lock()
	m.unloads++
	m.status.Loaded = false
	m.status.Config = nil
	m.mu.Unlock()
}

func (m *mockService) Teardown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardowns++
	return m.tearErr
}

func (m *mockService) Status() types.HealthResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockService) GPUStatus() types.GPUStatusResponse { return m.gpu }
func (m *mockService) Ready() bool                        { return m.ready }

func (m *mockService) RecentEvents() types.EventsResponse {
	return types.EventsResponse{Events: append([]types.LifecycleEvent{}, m.events...)}
}

func (m *mockService) lastInfer() manager.GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.infers[len(m.infers)-1]
}

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 220, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// multipartRequest builds a POST with an optional "image" part and fields.
func multipartRequest(t *testing.T, path string, img []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if img != nil {
		fw, err := mw.CreateFormFile("image", "upload.png")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		fw.Write(img)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
