package cvservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/segment-replay/internal/world"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Token = "secret"
	return NewClientWithHTTP(cfg, srv.Client())
}

func TestDiscoverTextSendsScreenshotAndDecodesResults(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/criteria-text-discover", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Correlation-Id"))

		var req TextDiscoverRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []byte{0xff, 0xd8}, req.Screenshot.Data)

		_, _ = w.Write([]byte(`{"results":[{"text":"game over screen","rect":{"x":1,"y":2,"width":30,"height":10},"resolution":{"x":640,"y":480}}]}`))
	})

	got, err := client.DiscoverText(context.Background(), TextDiscoverRequest{
		Screenshot: Image{Width: 640, Height: 480, Data: []byte{0xff, 0xd8}},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "game over screen", got[0].Text)
	assert.Equal(t, world.Rect{X: 1, Y: 2, Width: 30, Height: 10}, got[0].Rect)
	assert.Equal(t, world.Size{Width: 640, Height: 480}, got[0].Resolution)
}

func TestQueryObjectsRoutesByQueryKind(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"results":[]}`))
	})

	text := "door"
	image := "aGVsbG8="
	_, err := client.QueryObjects(context.Background(), ObjectQueryRequest{TextQuery: &text})
	require.NoError(t, err)
	_, err = client.QueryObjects(context.Background(), ObjectQueryRequest{ImageQuery: &image})
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []string{"/criteria-object-text-query", "/criteria-object-image-query"}, paths)
	mu.Unlock()

	_, err = client.QueryObjects(context.Background(), ObjectQueryRequest{TextQuery: &text, ImageQuery: &image})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestNonOKStatusIsAnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	})

	_, err := client.MatchImage(context.Background(), ImageMatchRequest{ImageToMatch: "abc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestCancelledContextAbortsRequest(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := client.DiscoverText(ctx, TextDiscoverRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestResolveBaseURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"http://localhost:8000/", "http://localhost:8000"},
		{"http://127.0.0.1:9000", "http://127.0.0.1:9000"},
		{"https://cv.example.com", "https://cv.example.com/aiservice"},
		{"https://cv.example.com/aiservice/", "https://cv.example.com/aiservice"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveBaseURL(tc.in))
		})
	}
}
