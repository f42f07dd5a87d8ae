package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/timmy/artfeed/internal/config"
	"github.com/timmy/artfeed/internal/domain"
	"github.com/timmy/artfeed/internal/logger"
	"github.com/timmy/artfeed/internal/protocol"
	"github.com/timmy/artfeed/internal/repository"
)

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	s := repository.NewStore(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestLogger() (*logger.Logger, *test.Hook) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	return &logger.Logger{Entry: logrus.NewEntry(l)}, hook
}

func warnings(hook *test.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e)
		}
	}
	return out
}

// recorder captures hook and trigger calls in order.
type recorder struct {
	mu     sync.Mutex
	events []string
	// committed reports whether the artwork was readable when the trigger fired.
	committed map[int64]bool
	// sources records the source logging field seen by each trigger.
	sources  map[int64]string
	artworks ArtworkGetter
}

func (r *recorder) InsertCompleted(_ context.Context, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("insert:%d", id))
}

func (r *recorder) Trigger(ctx context.Context, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("trigger:%d", id))
	if r.sources == nil {
		r.sources = make(map[int64]string)
	}
	r.sources[id] = logger.GetFieldString(ctx, logger.FieldSource)
	if r.artworks != nil {
		if r.committed == nil {
			r.committed = make(map[int64]bool)
		}
		_, err := r.artworks.GetByID(ctx, id)
		r.committed[id] = err == nil
	}
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type failingIngester struct {
	calls int
}

func (f *failingIngester) IngestArtwork(context.Context, *domain.Source, *domain.Artwork) (int64, error) {
	f.calls++
	return 0, errors.New("disk full")
}

func publish(t *testing.T, token string, state interface{}) *protocol.Message {
	t.Helper()
	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	return &protocol.Message{Action: protocol.ActionPublishState, Token: token, State: raw}
}

type fixture struct {
	store *repository.Store
	rec   *recorder
	hook  *test.Hook
	svc   *SubscriberService
}

func newFixture(t *testing.T, active string) *fixture {
	t.Helper()
	store := newTestStore(t)
	if active != "" {
		if _, err := store.Sources.Select(context.Background(), active, ""); err != nil {
			t.Fatalf("Select: %v", err)
		}
	}
	log, hook := newTestLogger()
	rec := &recorder{artworks: store.Artworks}
	svc := NewSubscriberService(store.Sources, store, rec, rec, log, &SubscriberConfig{QueueSize: 4})
	return &fixture{store: store, rec: rec, hook: hook, svc: svc}
}

func (f *fixture) artworkCount(t *testing.T) int64 {
	t.Helper()
	n, err := f.store.Artworks.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func (f *fixture) current(t *testing.T) *domain.Source {
	t.Helper()
	src, err := f.store.Sources.GetCurrent(context.Background())
	if err != nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	return src
}

func TestWorkedExample(t *testing.T) {
	f := newFixture(t, "pkg/Source")

	msg := publish(t, "pkg/Source", protocol.SourceState{
		Description:           "Daily Pic",
		WantsNetworkAvailable: true,
		UserCommands:          []domain.UserCommand{{ID: protocol.BuiltinCommandIDNextArtwork}},
		CurrentArtwork: &protocol.ArtworkPayload{
			ImageURI:    "https://x/1.jpg",
			Title:       "T",
			Byline:      "B",
			Attribution: "A",
			Token:       "1",
		},
	})

	outcome, err := f.svc.HandleMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if outcome != OutcomeIngested {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeIngested)
	}

	src := f.current(t)
	if !src.SupportsNextArtwork {
		t.Error("SupportsNextArtwork = false, want true")
	}
	if len(src.Commands) != 0 {
		t.Errorf("Commands = %+v, want empty", src.Commands)
	}
	if src.Description != "Daily Pic" || !src.WantsNetworkAvailable {
		t.Errorf("source = %+v", src)
	}

	if n := f.artworkCount(t); n != 1 {
		t.Fatalf("artwork count = %d, want 1", n)
	}
	art, err := f.store.Artworks.GetCurrent(context.Background())
	if err != nil {
		t.Fatalf("GetCurrent artwork: %v", err)
	}
	if art.ImageURI != "https://x/1.jpg" || art.Title != "T" || art.Byline != "B" ||
		art.Attribution != "A" || art.Token != "1" || art.SourceComponentName != "pkg/Source" {
		t.Errorf("artwork = %+v", art)
	}

	want := []string{fmt.Sprintf("insert:%d", art.ID), fmt.Sprintf("trigger:%d", art.ID)}
	got := f.rec.Events()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("events = %v, want %v", got, want)
	}
	if got := f.rec.sources[art.ID]; got != "pkg/Source" {
		t.Errorf("trigger source field = %q, want pkg/Source", got)
	}
	var ingested *logrus.Entry
	for _, e := range f.hook.AllEntries() {
		if e.Message == "Artwork ingested" {
			ingested = e
		}
	}
	if ingested == nil {
		t.Fatal("missing ingest log entry")
	}
	if ingested.Data[logger.FieldSource] != "pkg/Source" || ingested.Data[logger.FieldArtworkID] != art.ID {
		t.Errorf("ingest log fields = %v", ingested.Data)
	}
	if !f.rec.committed[art.ID] {
		t.Error("trigger fired before the artwork was committed")
	}
}

func TestIgnoresOtherActions(t *testing.T) {
	tests := []struct {
		name string
		msg  *protocol.Message
	}{
		{"nil message", nil},
		{"command action", &protocol.Message{Action: protocol.ActionHandleCommand, Token: "pkg/Source", State: json.RawMessage(`{"description":"x"}`)}},
		{"unknown action", &protocol.Message{Action: "subscribe", Token: "pkg/Source"}},
		{"no state", &protocol.Message{Action: protocol.ActionPublishState, Token: "pkg/Source"}},
		{"null state", &protocol.Message{Action: protocol.ActionPublishState, Token: "pkg/Source", State: json.RawMessage(`null`)}},
		{"garbage state", &protocol.Message{Action: protocol.ActionPublishState, Token: "pkg/Source", State: json.RawMessage(`{"description":`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "pkg/Source")
			before := f.current(t)

			outcome, err := f.svc.HandleMessage(context.Background(), tt.msg)
			if err != nil || outcome != OutcomeIgnored {
				t.Fatalf("HandleMessage = %q, %v; want ignored", outcome, err)
			}
			after := f.current(t)
			if after.Description != before.Description || !after.UpdatedAt.Equal(before.UpdatedAt) {
				t.Errorf("source changed: %+v -> %+v", before, after)
			}
			if n := f.artworkCount(t); n != 0 {
				t.Errorf("artwork count = %d, want 0", n)
			}
			if len(f.hook.AllEntries()) != 0 {
				t.Errorf("expected no log output, got %d entries", len(f.hook.AllEntries()))
			}
			if len(f.rec.Events()) != 0 {
				t.Errorf("unexpected events %v", f.rec.Events())
			}
		})
	}
}

func TestRejectsMismatchedToken(t *testing.T) {
	tests := []struct {
		name   string
		active string
		token  string
	}{
		{"different source", "pkg/Source", "other/Source"},
		{"empty token", "pkg/Source", ""},
		{"full form not accepted", "com.example/.Art", "com.example/com.example.Art"},
		{"no active source", "", "pkg/Source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.active)
			msg := publish(t, tt.token, protocol.SourceState{
				Description:    "hijack",
				CurrentArtwork: &protocol.ArtworkPayload{ImageURI: "https://x/evil.jpg"},
			})

			outcome, err := f.svc.HandleMessage(context.Background(), msg)
			if err != nil || outcome != OutcomeRejected {
				t.Fatalf("HandleMessage = %q, %v; want rejected", outcome, err)
			}
			if src := f.current(t); src != nil && src.Description != "" {
				t.Errorf("source description = %q, want unchanged", src.Description)
			}
			if n := f.artworkCount(t); n != 0 {
				t.Errorf("artwork count = %d, want 0", n)
			}
			if w := warnings(f.hook); len(w) != 1 {
				t.Errorf("warnings = %d, want 1", len(w))
			} else if w[0].Data[logger.FieldToken] != tt.token {
				t.Errorf("warning token field = %v, want %q", w[0].Data[logger.FieldToken], tt.token)
			}
			if len(f.rec.Events()) != 0 {
				t.Errorf("unexpected events %v", f.rec.Events())
			}
		})
	}
}

func TestAcceptsShortFormToken(t *testing.T) {
	f := newFixture(t, "com.example/com.example.Art")
	msg := publish(t, "com.example/.Art", protocol.SourceState{Description: "ok"})

	outcome, err := f.svc.HandleMessage(context.Background(), msg)
	if err != nil || outcome != OutcomeUpdated {
		t.Fatalf("HandleMessage = %q, %v; want updated", outcome, err)
	}
}

func TestUpdateWithoutArtwork(t *testing.T) {
	f := newFixture(t, "pkg/Source")
	ctx := context.Background()

	first := publish(t, "pkg/Source", protocol.SourceState{
		Description:           "first",
		WantsNetworkAvailable: true,
		UserCommands: []domain.UserCommand{
			{ID: 1, Title: "Share"},
			{ID: protocol.BuiltinCommandIDNextArtwork},
			{ID: 7, Title: "Like"},
		},
	})
	if outcome, err := f.svc.HandleMessage(ctx, first); err != nil || outcome != OutcomeUpdated {
		t.Fatalf("first = %q, %v", outcome, err)
	}

	src := f.current(t)
	if src.Description != "first" || !src.WantsNetworkAvailable || !src.SupportsNextArtwork {
		t.Errorf("after first: %+v", src)
	}
	if len(src.Commands) != 2 || src.Commands[0].ID != 1 || src.Commands[1].ID != 7 {
		t.Errorf("commands = %+v, want [1 7] in order", src.Commands)
	}

	// A second publish replaces rather than accumulates.
	second := publish(t, "pkg/Source", protocol.SourceState{
		Description:  "second",
		UserCommands: []domain.UserCommand{{ID: 3, Title: "Info"}},
	})
	if outcome, err := f.svc.HandleMessage(ctx, second); err != nil || outcome != OutcomeUpdated {
		t.Fatalf("second = %q, %v", outcome, err)
	}
	src = f.current(t)
	if src.Description != "second" || src.WantsNetworkAvailable || src.SupportsNextArtwork {
		t.Errorf("after second: %+v", src)
	}
	if len(src.Commands) != 1 || src.Commands[0].ID != 3 {
		t.Errorf("commands = %+v, want [3]", src.Commands)
	}

	if n := f.artworkCount(t); n != 0 {
		t.Errorf("artwork count = %d, want 0", n)
	}
	if len(f.rec.Events()) != 0 {
		t.Errorf("unexpected events %v", f.rec.Events())
	}
}

func TestMetaFont(t *testing.T) {
	tests := []struct {
		name     string
		metaFont string
		want     string
	}{
		{"absent keeps default", "", domain.MetaFontDefault},
		{"set overrides", "elegant", "elegant"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "pkg/Source")
			msg := publish(t, "pkg/Source", protocol.SourceState{
				CurrentArtwork: &protocol.ArtworkPayload{ImageURI: "https://x/1.jpg", MetaFont: tt.metaFont},
			})
			if outcome, err := f.svc.HandleMessage(context.Background(), msg); err != nil || outcome != OutcomeIngested {
				t.Fatalf("HandleMessage = %q, %v", outcome, err)
			}
			art, err := f.store.Artworks.GetCurrent(context.Background())
			if err != nil {
				t.Fatalf("GetCurrent: %v", err)
			}
			if art.MetaFont != tt.want {
				t.Errorf("MetaFont = %q, want %q", art.MetaFont, tt.want)
			}
		})
	}
}

func TestViewIntentSanitized(t *testing.T) {
	tests := []struct {
		name     string
		intent   *string
		want     *string
		warnings int
	}{
		{"absent", nil, nil, 0},
		{"web link kept", strPtr("https://example.com/art/1"), strPtr("https://example.com/art/1"), 0},
		{"file uri dropped", strPtr("file:///sdcard/secret.jpg"), nil, 1},
		{"no scheme dropped", strPtr("just some text"), nil, 1},
		{"unparsable dropped", strPtr("http://[::1"), nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "pkg/Source")
			msg := publish(t, "pkg/Source", protocol.SourceState{
				CurrentArtwork: &protocol.ArtworkPayload{ImageURI: "https://x/1.jpg", ViewIntent: tt.intent},
			})
			outcome, err := f.svc.HandleMessage(context.Background(), msg)
			if err != nil || outcome != OutcomeIngested {
				t.Fatalf("HandleMessage = %q, %v; bad view intent must not abort", outcome, err)
			}
			art, err := f.store.Artworks.GetCurrent(context.Background())
			if err != nil {
				t.Fatalf("GetCurrent: %v", err)
			}
			switch {
			case tt.want == nil && art.ViewIntent != nil:
				t.Errorf("ViewIntent = %q, want nil", *art.ViewIntent)
			case tt.want != nil && (art.ViewIntent == nil || *art.ViewIntent != *tt.want):
				t.Errorf("ViewIntent = %v, want %q", art.ViewIntent, *tt.want)
			}
			if w := warnings(f.hook); len(w) != tt.warnings {
				t.Errorf("warnings = %d, want %d", len(w), tt.warnings)
			}
		})
	}
}

func TestAbortLeavesStoresUnchanged(t *testing.T) {
	f := newFixture(t, "pkg/Source")
	ctx := context.Background()

	// Without the artworks table the insert fails after the source update ran.
	if err := f.store.DB().Migrator().DropTable(&domain.Artwork{}); err != nil {
		t.Fatalf("DropTable: %v", err)
	}

	msg := publish(t, "pkg/Source", protocol.SourceState{
		Description:    "changed",
		CurrentArtwork: &protocol.ArtworkPayload{ImageURI: "https://x/1.jpg"},
	})
	outcome, err := f.svc.HandleMessage(ctx, msg)
	if err == nil || outcome != OutcomeAborted {
		t.Fatalf("HandleMessage = %q, %v; want aborted with error", outcome, err)
	}
	if src := f.current(t); src.Description != "" {
		t.Errorf("source description = %q, want rollback", src.Description)
	}
	if len(f.rec.Events()) != 0 {
		t.Errorf("hook or trigger fired on abort: %v", f.rec.Events())
	}
}

func TestAbortDoesNotTrigger(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Sources.Select(context.Background(), "pkg/Source", ""); err != nil {
		t.Fatalf("Select: %v", err)
	}
	log, _ := newTestLogger()
	rec := &recorder{}
	ingester := &failingIngester{}
	svc := NewSubscriberService(store.Sources, ingester, rec, rec, log, nil)

	msg := publish(t, "pkg/Source", protocol.SourceState{
		CurrentArtwork: &protocol.ArtworkPayload{ImageURI: "https://x/1.jpg"},
	})
	outcome, err := svc.HandleMessage(context.Background(), msg)
	if outcome != OutcomeAborted || err == nil {
		t.Fatalf("HandleMessage = %q, %v", outcome, err)
	}
	if ingester.calls != 1 {
		t.Errorf("ingester calls = %d, want 1 (no retry)", ingester.calls)
	}
	if len(rec.Events()) != 0 {
		t.Errorf("unexpected events %v", rec.Events())
	}
	if stats := svc.Stats(); stats.Aborted != 1 || stats.Received != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSubmitHandlesInOrder(t *testing.T) {
	f := newFixture(t, "pkg/Source")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.Start(ctx)
		close(done)
	}()

	for i := 1; i <= 3; i++ {
		msg := publish(t, "pkg/Source", protocol.SourceState{
			Description:    fmt.Sprintf("v%d", i),
			CurrentArtwork: &protocol.ArtworkPayload{ImageURI: fmt.Sprintf("https://x/%d.jpg", i)},
		})
		outcome, err := f.svc.Submit(ctx, msg)
		if err != nil || outcome != OutcomeIngested {
			t.Fatalf("Submit #%d = %q, %v", i, outcome, err)
		}
	}

	recent, err := f.store.Artworks.ListRecent(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 3 || recent[0].ImageURI != "https://x/3.jpg" || recent[2].ImageURI != "https://x/1.jpg" {
		t.Errorf("recent = %+v", recent)
	}
	if src := f.current(t); src.Description != "v3" {
		t.Errorf("description = %q, want v3", src.Description)
	}
	if stats := f.svc.Stats(); stats.Ingested != 3 {
		t.Errorf("stats = %+v", stats)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	if _, err := f.svc.Submit(context.Background(), publish(t, "pkg/Source", protocol.SourceState{})); !errors.Is(err, ErrSubscriberStopped) {
		t.Errorf("Submit after stop = %v, want ErrSubscriberStopped", err)
	}
}

func TestMergeCapabilities(t *testing.T) {
	src := &domain.Source{
		ComponentName:       "pkg/Source",
		Description:         "old",
		SupportsNextArtwork: true,
		Commands:            domain.UserCommands{{ID: 9, Title: "Old"}},
	}
	MergeCapabilities(src, &protocol.SourceState{Description: "new"})
	if src.Description != "new" || src.SupportsNextArtwork || len(src.Commands) != 0 {
		t.Errorf("merged = %+v", src)
	}
	if src.Commands == nil {
		t.Error("Commands should be an empty list, not nil")
	}
}

func strPtr(s string) *string { return &s }
