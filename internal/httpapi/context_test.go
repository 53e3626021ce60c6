package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"captiond/pkg/types"
)

func TestJoinContexts_CancelsWhenEitherDone(t *testing.T) {
	for _, first := range []string{"a", "b"} {
		a, ac := context.WithCancel(context.Background())
		b, bc := context.WithCancel(context.Background())
		j, cancelJ := joinContexts(a, b)
		if first == "a" {
			ac()
		} else {
			bc()
		}
		select {
		case <-j.Done():
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("joined context did not cancel when %s was canceled", first)
		}
		cancelJ()
		ac()
		bc()
	}
}

type ctxKey struct{}

func TestJoinContexts_KeepsRequestValues(t *testing.T) {
	base, stop := context.WithCancelCause(context.Background())
	req := context.WithValue(context.Background(), ctxKey{}, "req-1")
	j, cancel := joinContexts(base, req)
	defer cancel()
	if got := j.Value(ctxKey{}); got != "req-1" {
		t.Fatalf("value = %v", got)
	}
	shutdown := errors.New("shutting down")
	stop(shutdown)
	select {
	case <-j.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("joined context outlived base")
	}
	if !errors.Is(context.Cause(j), shutdown) {
		t.Fatalf("cause = %v", context.Cause(j))
	}
}

func TestSetBaseContext_NilResetsToBackground(t *testing.T) {
	t.Cleanup(func() { SetBaseContext(nil) })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	SetBaseContext(ctx)
	if serverBaseCtx.Err() == nil {
		t.Fatalf("base context not installed")
	}
	// nolint:staticcheck // SA1012: nil selects the background context
	SetBaseContext(nil)
	if serverBaseCtx.Err() != nil {
		t.Fatalf("nil should reset to Background")
	}
}

// blockingService waits in Load until its context ends.
type blockingService struct {
	mockService
}

func (s *blockingService) Load(ctx context.Context, device, quant string) (types.HealthResponse, error) {
	<-ctx.Done()
	return types.HealthResponse{}, ctx.Err()
}

func TestShutdownCancelsInFlightLoad(t *testing.T) {
	t.Cleanup(func() { SetBaseContext(nil) })
	base, cancel := context.WithCancel(context.Background())
	SetBaseContext(base)
	h := NewMux(&blockingService{})

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- serve(h, httptest.NewRequest(http.MethodPost, "/load", nil)) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case w := <-done:
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status=%d", w.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("load did not return after base context was canceled")
	}
	if !errors.Is(base.Err(), context.Canceled) {
		t.Fatalf("base not canceled")
	}
}
