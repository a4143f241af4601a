package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixturecal/internal/changelog"
	"fixturecal/internal/model"
	"fixturecal/internal/remote"
	"fixturecal/internal/remote/memstore"
	"fixturecal/internal/view"
)

var kickoff = time.Date(2025, 8, 16, 14, 0, 0, 0, time.UTC)

func allPolicy() view.Policy {
	return view.Policy{ID: "all", CalendarID: "all", Selector: view.SelectAll, Projection: view.ProjectDatePlayed, Duration: 2 * time.Hour, Transparency: remote.Transparent}
}

func homePolicy() view.Policy {
	return view.Policy{ID: "home", CalendarID: "home", Selector: view.SelectHome, Projection: view.ProjectDatePlayed, Duration: 2 * time.Hour}
}

func fixtures() []model.Game {
	return []model.Game{
		{ID: 1, Competition: "League", Location: model.Home, Opponents: "Spurs", Season: 2025, DatePlayed: kickoff},
		{ID: 2, Competition: "League", Location: model.Away, Opponents: "Leeds", Season: 2025, DatePlayed: kickoff.Add(7 * 24 * time.Hour)},
		{ID: 3, Competition: "FA Cup", Location: model.Home, Opponents: "Wigan", Season: 2025, DatePlayed: kickoff.Add(14 * 24 * time.Hour)},
	}
}

func TestReconcile_CreatesMissingEntries(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	e := New(store)

	changes, err := e.Reconcile(ctx, allPolicy(), "all", fixtures())
	require.NoError(t, err)
	assert.Equal(t, []changelog.Entry{
		changelog.Added("all", 1, "Spurs (H) League"),
		changelog.Added("all", 2, "Leeds (A) League"),
		changelog.Added("all", 3, "Wigan (H) FA Cup"),
	}, changes.Entries())

	evs := store.Events("all")
	require.Len(t, evs, 3)
	assert.Equal(t, kickoff, evs[0].Start)
	assert.Equal(t, kickoff.Add(2*time.Hour), evs[0].End)
	assert.Equal(t, remote.Transparent, evs[0].Transparency)
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	e := New(store)
	games := fixtures()

	_, err := e.Reconcile(ctx, allPolicy(), "all", games)
	require.NoError(t, err)
	store.ResetCalls()

	changes, err := e.Reconcile(ctx, allPolicy(), "all", games)
	require.NoError(t, err)
	assert.True(t, changes.Empty())
	assert.Zero(t, store.Mutations())
	assert.Equal(t, 1, store.Calls(memstore.OpList))
}

func TestReconcile_MinimalDiff(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	e := New(store)
	games := fixtures()

	_, err := e.Reconcile(ctx, allPolicy(), "all", games)
	require.NoError(t, err)
	store.ResetCalls()

	games[1].Result = "1-3"
	changes, err := e.Reconcile(ctx, allPolicy(), "all", games)
	require.NoError(t, err)
	assert.Equal(t, []changelog.Entry{changelog.Updated("all", 2, "Leeds (A) League")}, changes.Entries())

	patches := store.Patches()
	require.Len(t, patches, 1)
	assert.Equal(t, []string{"description"}, patches[0].Fields())
	assert.Equal(t, "Result: 1-3", *patches[0].Description)
	assert.Equal(t, 1, store.Mutations())
}

func TestReconcile_PartitionRemovesNonMembers(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	e := New(store)
	games := fixtures()

	changes, err := e.Reconcile(ctx, homePolicy(), "home", games)
	require.NoError(t, err)
	for _, entry := range changes.Entries() {
		assert.NotEqual(t, int64(2), entry.GameID, "away game must not be added to home")
	}
	assert.Equal(t, 2, changes.Count(changelog.KindAdded))

	games[2].Location = model.Away
	changes, err = e.Reconcile(ctx, homePolicy(), "home", games)
	require.NoError(t, err)
	assert.Equal(t, []changelog.Entry{changelog.Removed("home", 3)}, changes.Entries())
	assert.Len(t, store.Events("home"), 1)
}

func TestReconcile_RemovesDeletedGames(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	e := New(store)
	games := fixtures()

	_, err := e.Reconcile(ctx, allPolicy(), "all", games)
	require.NoError(t, err)

	changes, err := e.Reconcile(ctx, allPolicy(), "all", games[:2])
	require.NoError(t, err)
	assert.Equal(t, []changelog.Entry{changelog.Removed("all", 3)}, changes.Entries())
}

func TestReconcile_IgnoresRoundTripJitter(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	g := fixtures()[0]
	g.Opponents = "Atlético"
	store.Put("all", remote.Event{
		GameID:      1,
		Title:       "Atlético (H) League ",
		Description: "",
		Start:       kickoff.Add(400 * time.Millisecond),
		End:         kickoff.Add(2*time.Hour + 999*time.Millisecond),
		// Empty transparency reads as opaque.
	})

	p := allPolicy()
	p.Transparency = remote.Opaque
	changes, err := New(store).Reconcile(ctx, p, "all", []model.Game{g})
	require.NoError(t, err)
	assert.True(t, changes.Empty())
	assert.Zero(t, store.Mutations())
}

func TestReconcile_EventFailureDoesNotAbortPass(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	e := New(store)
	games := fixtures()

	_, err := e.Reconcile(ctx, allPolicy(), "all", games[:2])
	require.NoError(t, err)

	games[0].Result = "2-0"
	games = append(games, model.Game{ID: 4, Location: model.Home, Opponents: "Hull", DatePlayed: kickoff})
	store.FailNext(memstore.OpUpdate, "all", 1, errors.New("503"))
	store.FailNext(memstore.OpCreate, "all", 4, errors.New("quota"))

	changes, err := e.Reconcile(ctx, allPolicy(), "all", games)
	require.NoError(t, err)
	assert.Equal(t, []changelog.Entry{changelog.Added("all", 3, "Wigan (H) FA Cup")}, changes.Entries())

	// The failed entries converge on the next cycle.
	changes, err = e.Reconcile(ctx, allPolicy(), "all", games)
	require.NoError(t, err)
	assert.Equal(t, []changelog.Entry{
		changelog.Updated("all", 1, "Spurs (H) League"),
		changelog.Added("all", 4, "Hull (H)"),
	}, changes.Entries())
}

func TestReconcile_DeleteFailureStillProcessesOthers(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.Put("all", remote.Event{GameID: 8, Start: kickoff})
	store.Put("all", remote.Event{GameID: 9, Start: kickoff})
	store.FailNext(memstore.OpDelete, "all", 8, errors.New("500"))

	changes, err := New(store).Reconcile(ctx, allPolicy(), "all", fixtures()[:1])
	require.NoError(t, err)
	assert.Equal(t, []changelog.Entry{
		changelog.Added("all", 1, "Spurs (H) League"),
		changelog.Removed("all", 9),
	}, changes.Entries())
}

func TestReconcile_ListFailureIsFatalForPass(t *testing.T) {
	store := memstore.New()
	boom := errors.New("unauthorized")
	store.FailNext(memstore.OpList, "all", memstore.AnyGame, boom)

	_, err := New(store).Reconcile(context.Background(), allPolicy(), "all", fixtures())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, store.Mutations())
}

func TestReconcile_ProjectionFailureIsPerEvent(t *testing.T) {
	sale := kickoff.Add(-30 * 24 * time.Hour)
	games := fixtures()
	games[0].TicketsOnSale = &sale

	p := view.Policy{ID: "tickets", CalendarID: "tickets", Selector: view.SelectAll, Projection: view.ProjectTicketsOnSale, Duration: time.Hour, TitlePrefix: "Tickets:"}
	changes, err := New(memstore.New()).Reconcile(context.Background(), p, "tickets", games)
	require.NoError(t, err)
	assert.Equal(t, []changelog.Entry{changelog.Added("tickets", 1, "Tickets: Spurs (H) League")}, changes.Entries())
}

func TestReconcile_SkipsUnsavedAndDuplicateGames(t *testing.T) {
	games := fixtures()[:1]
	games = append(games, games[0], model.Game{Opponents: "New", DatePlayed: kickoff})

	store := memstore.New()
	changes, err := New(store).Reconcile(context.Background(), allPolicy(), "all", games)
	require.NoError(t, err)
	assert.Equal(t, 1, changes.Len())
	assert.Equal(t, 1, store.Calls(memstore.OpCreate))
}

func TestDiff(t *testing.T) {
	cur := remote.Event{Title: "a", Start: kickoff, End: kickoff.Add(time.Hour)}
	want := cur
	assert.True(t, Diff(cur, want).IsEmpty())

	want.Start = kickoff.Add(time.Minute)
	want.Transparency = remote.Transparent
	p := Diff(cur, want)
	assert.Equal(t, []string{"start", "transparency"}, p.Fields())
	assert.Equal(t, want.Start, *p.Start)
}
