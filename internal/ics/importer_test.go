package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixturecal/internal/config"
	"fixturecal/internal/games"
	"fixturecal/internal/model"
)

type keyRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]model.Game
	saves  int
}

func newKeyRepo() *keyRepo { return &keyRepo{byID: make(map[int64]model.Game)} }

func (r *keyRepo) All(ctx context.Context) ([]model.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Game, 0, len(r.byID))
	for _, g := range r.byID {
		out = append(out, g)
	}
	games.SortByDate(out)
	return out, nil
}

func (r *keyRepo) ByID(ctx context.Context, id int64) (model.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.byID[id]
	if !ok {
		return model.Game{}, games.ErrNotFound
	}
	return g, nil
}

func (r *keyRepo) ByKey(ctx context.Context, key model.BusinessKey) (model.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.byID {
		if g.Key() == key {
			return g, nil
		}
	}
	return model.Game{}, games.ErrNotFound
}

func (r *keyRepo) Save(ctx context.Context, g *model.Game) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g.ID == 0 {
		r.nextID++
		g.ID = r.nextID
	}
	r.saves++
	r.byID[g.ID] = *g
	return nil
}

func (r *keyRepo) Delete(ctx context.Context, id int64) error { return errors.New("not implemented") }

func (r *keyRepo) BySeason(ctx context.Context, season int) ([]model.Game, error) {
	return nil, errors.New("not implemented")
}

func (r *keyRepo) Close() error { return nil }

type feedServer struct {
	mu   sync.Mutex
	body string
	hits int
}

func (s *feedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
	if r.URL.Path == "/broken.ics" {
		http.Error(w, "nope", http.StatusInternalServerError)
		return
	}
	sum := sha256.Sum256([]byte(s.body))
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "text/calendar")
	_, _ = w.Write([]byte(s.body))
}

func (s *feedServer) setBody(b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = b
}

func importClock() time.Time { return time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC) }

func TestImporter_InsertsThenRefreshesOnlyChanges(t *testing.T) {
	ctx := context.Background()
	srv := &feedServer{body: string(readFixture(t, "club.ics"))}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	repo := newKeyRepo()
	imp := NewImporter(NewFetcher(t.TempDir()), repo, WithImportClock(importClock))
	feeds := []config.FeedConfig{{ID: "club", URL: ts.URL + "/club.ics", Club: "Arsenal", Competition: "Premier League"}}

	res, err := imp.Import(ctx, feeds)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Inserted: 2, Skipped: 1}, res)

	all, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.BusinessKey{Competition: "Premier League", Location: model.Home, Opponents: "Spurs", Season: 2025}, all[0].Key())
	assert.Equal(t, "Sky Sports", all[0].Broadcaster)
	assert.Equal(t, time.Date(2025, 8, 16, 14, 0, 0, 0, time.UTC), all[0].DatePlayed)
	assert.Equal(t, model.Away, all[1].Location)
	assert.Equal(t, "Leeds United", all[1].Opponents)

	res, err = imp.Import(ctx, feeds)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Unchanged: 2, Skipped: 1}, res)
	assert.Equal(t, 2, repo.saves)

	srv.setBody(strings.Replace(srv.body, "DTSTART:20250816T140000Z", "DTSTART:20250817T163000Z", 1))
	res, err = imp.Import(ctx, feeds)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Updated: 1, Unchanged: 1, Skipped: 1}, res)

	g, err := repo.ByID(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 8, 17, 16, 30, 0, 0, time.UTC), g.DatePlayed)
	assert.Equal(t, "Sky Sports", g.Broadcaster)
}

func TestImporter_FailedFeedIsSkipped(t *testing.T) {
	srv := &feedServer{body: string(readFixture(t, "club.ics"))}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	repo := newKeyRepo()
	imp := NewImporter(NewFetcher(t.TempDir()), repo, WithImportClock(importClock))
	res, err := imp.Import(context.Background(), []config.FeedConfig{
		{ID: "broken", URL: ts.URL + "/broken.ics", Club: "Arsenal", Competition: "League"},
		{ID: "club", URL: ts.URL + "/club.ics", Club: "Arsenal", Competition: "League"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"broken"}, res.Failed)
	assert.Equal(t, 2, res.Inserted)
}

func TestImporter_OutsideHorizonIsIgnored(t *testing.T) {
	srv := &feedServer{body: string(readFixture(t, "club.ics"))}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	far := func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }
	imp := NewImporter(NewFetcher(t.TempDir()), newKeyRepo(), WithImportClock(far))
	res, err := imp.Import(context.Background(), []config.FeedConfig{{ID: "club", URL: ts.URL + "/club.ics", Club: "Arsenal"}})
	require.NoError(t, err)
	assert.Equal(t, ImportResult{}, res)
}

func TestImporter_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	imp := NewImporter(NewFetcher(t.TempDir()), newKeyRepo())
	_, err := imp.Import(ctx, []config.FeedConfig{{ID: "club", URL: "http://127.0.0.1:1/x.ics", Club: "Arsenal"}})
	assert.ErrorIs(t, err, context.Canceled)
}
