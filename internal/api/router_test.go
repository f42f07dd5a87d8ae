package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/timmy/artfeed/internal/config"
	"github.com/timmy/artfeed/internal/domain"
	"github.com/timmy/artfeed/internal/logger"
	"github.com/timmy/artfeed/internal/protocol"
	"github.com/timmy/artfeed/internal/repository"
	"github.com/timmy/artfeed/internal/service"
	"github.com/timmy/artfeed/internal/storage"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Services) {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "api.db"),
		AutoMigrate: true,
		LogLevel:    "silent",
	})
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	store := repository.NewStore(db)
	t.Cleanup(func() { store.Close() })

	l, _ := test.NewNullLogger()
	log := &logger.Logger{Entry: logrus.NewEntry(l)}

	local, err := storage.NewLocalStorage(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	notifier := service.NewArtworkNotifier(store.Artworks, log, 4)
	downloader := service.NewDownloadService(store.Artworks, store.Downloads, local, log, &service.DownloadConfig{QueueSize: 16})
	subscriber := service.NewSubscriberService(store.Sources, store, notifier, downloader, log, &service.SubscriberConfig{QueueSize: 4})
	sources := service.NewSourceManager(store.Sources, log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go subscriber.Start(ctx)
	t.Cleanup(cancel)

	svc := &Services{
		Store:      store,
		Subscriber: subscriber,
		Downloader: downloader,
		Notifier:   notifier,
		Sources:    sources,
	}
	cfg := &config.Config{Server: config.ServerConfig{
		Mode: "test",
		CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}}
	return SetupRouter(svc, cfg, log), svc
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatalf("encode body: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestPublishFlow(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/api/v1/source", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET source before select = %d", w.Code)
	}

	w = do(t, r, http.MethodPut, "/api/v1/source", map[string]string{"component": "pkg/Source"})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT source = %d, body = %s", w.Code, w.Body.String())
	}

	state, _ := json.Marshal(protocol.SourceState{
		Description: "Daily Pic",
		CurrentArtwork: &protocol.ArtworkPayload{
			ImageURI: "https://x/1.jpg",
			Title:    "T",
		},
	})
	msg := protocol.Message{Action: protocol.ActionPublishState, Token: "pkg/Source", State: state}

	w = do(t, r, http.MethodPost, "/api/v1/publish", msg)
	if w.Code != http.StatusAccepted {
		t.Fatalf("publish = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status  string `json:"status"`
		Outcome string `json:"outcome"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "accepted" || resp.Outcome != string(service.OutcomeIngested) {
		t.Errorf("publish response = %+v", resp)
	}

	w = do(t, r, http.MethodGet, "/api/v1/artworks/current", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("current = %d", w.Code)
	}
	var art struct {
		ID       int64  `json:"id"`
		ImageURI string `json:"image_uri"`
		Title    string `json:"title"`
	}
	json.Unmarshal(w.Body.Bytes(), &art)
	if art.ImageURI != "https://x/1.jpg" || art.Title != "T" {
		t.Errorf("current artwork = %s", w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/api/v1/artworks?limit=5", nil)
	var list struct {
		Total int64 `json:"total"`
		Limit int   `json:"limit"`
	}
	json.Unmarshal(w.Body.Bytes(), &list)
	if w.Code != http.StatusOK || list.Total != 1 || list.Limit != 5 {
		t.Errorf("list = %d %s", w.Code, w.Body.String())
	}

	// A different token is accepted on the wire but changes nothing.
	msg.Token = "other/Source"
	w = do(t, r, http.MethodPost, "/api/v1/publish", msg)
	json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusAccepted || resp.Outcome != string(service.OutcomeRejected) {
		t.Errorf("rejected publish = %d %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/api/v1/admin/stats", nil)
	var stats struct {
		Subscriber service.SubscriberStats `json:"subscriber"`
		Artworks   int64                   `json:"artworks"`
	}
	json.Unmarshal(w.Body.Bytes(), &stats)
	if w.Code != http.StatusOK || stats.Artworks != 1 || stats.Subscriber.Ingested != 1 || stats.Subscriber.Rejected != 1 {
		t.Errorf("stats = %d %s", w.Code, w.Body.String())
	}
}

func TestRequestErrors(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"malformed publish", http.MethodPost, "/api/v1/publish", "{not json", http.StatusBadRequest},
		{"select without component", http.MethodPut, "/api/v1/source", map[string]string{}, http.StatusBadRequest},
		{"select bad component", http.MethodPut, "/api/v1/source", map[string]string{"component": "nope"}, http.StatusBadRequest},
		{"next without source", http.MethodPost, "/api/v1/source/next", nil, http.StatusNotFound},
		{"bad artwork id", http.MethodGet, "/api/v1/artworks/abc", nil, http.StatusBadRequest},
		{"missing artwork", http.MethodGet, "/api/v1/artworks/99", nil, http.StatusNotFound},
		{"no current artwork", http.MethodGet, "/api/v1/artworks/current", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestNextWithoutCallback(t *testing.T) {
	r, svc := newTestRouter(t)
	if _, err := svc.Sources.SelectSource(context.Background(), "pkg/Source", ""); err != nil {
		t.Fatalf("SelectSource: %v", err)
	}
	w := do(t, r, http.MethodPost, "/api/v1/source/next", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestAdminResumeReturnsWhenQueueFull(t *testing.T) {
	r, svc := newTestRouter(t)
	for i := 0; i < 20; i++ {
		art := domain.NewArtwork()
		art.SourceComponentName = "pkg/Source"
		art.ImageURI = "https://x/a.jpg"
		if err := svc.Store.Artworks.Create(context.Background(), art); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- do(t, r, http.MethodPost, "/api/v1/admin/downloads/resume", map[string]int{"limit": 100})
	}()

	var w *httptest.ResponseRecorder
	select {
	case w = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("resume blocked on a full download queue")
	}
	var resp struct {
		Queued int `json:"queued"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || resp.Queued != 16 {
		t.Errorf("resume = %d %s, want 16 queued", w.Code, w.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		origin     string
		wantStatus int
		wantHeader string
	}{
		{"http://localhost:3000", http.StatusNoContent, "http://localhost:3000"},
		{"http://evil.example", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/v1/artworks", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}
