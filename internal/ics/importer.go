package ics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fixturecal/internal/config"
	"fixturecal/internal/games"
	appLog "fixturecal/internal/log"
	"fixturecal/internal/model"
	"fixturecal/internal/view"
)

const importHorizon = 366 * 24 * time.Hour

// ImportResult counts what one import did to the game set.
type ImportResult struct {
	Inserted  int      `json:"inserted"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Skipped   int      `json:"skipped"`
	Failed    []string `json:"failed_feeds,omitempty"`
}

// Importer merges fixture feeds into a game repository.
type Importer struct {
	fetcher *Fetcher
	repo    games.Repository
	log     *appLog.Logger
	now     func() time.Time
}

type ImporterOption func(*Importer)

func WithImportLogger(l *appLog.Logger) ImporterOption { return func(i *Importer) { i.log = l } }

func WithImportClock(now func() time.Time) ImporterOption {
	return func(i *Importer) { i.now = now }
}

func NewImporter(fetcher *Fetcher, repo games.Repository, opts ...ImporterOption) *Importer {
	i := &Importer{fetcher: fetcher, repo: repo, log: appLog.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Import fetches every feed and merges its fixtures by business key. New
// fixtures are inserted; known games only get their kick-off and
// broadcaster refreshed, and only when they differ. A feed that cannot be
// fetched or parsed is logged and listed in Failed. The returned error is
// reserved for repository failures.
func (i *Importer) Import(ctx context.Context, feeds []config.FeedConfig) (ImportResult, error) {
	var res ImportResult
	now := i.now()
	window := ExpandConfig{RangeStart: now.Add(-importHorizon), RangeEnd: now.Add(importHorizon)}

	for _, fc := range feeds {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		feed := Feed{ID: fc.ID, URL: fc.URL}
		fixtures, skipped, err := i.readFeed(ctx, feed, fc, window)
		if err != nil {
			i.log.Error("feed import failed", err, "feed", fc.ID)
			res.Failed = append(res.Failed, fc.ID)
			continue
		}
		res.Skipped += skipped
		for _, f := range fixtures {
			if err := i.merge(ctx, f, &res); err != nil {
				return res, err
			}
		}
	}

	i.log.Info("fixtures imported", "inserted", res.Inserted, "updated", res.Updated,
		"unchanged", res.Unchanged, "skipped", res.Skipped, "failed_feeds", len(res.Failed))
	return res, nil
}

func (i *Importer) readFeed(ctx context.Context, feed Feed, fc config.FeedConfig, window ExpandConfig) ([]Fixture, int, error) {
	fr, err := i.fetcher.Fetch(ctx, feed)
	if err != nil {
		return nil, 0, err
	}
	events, err := Parse(feed, fr.Body, i.log)
	if err != nil {
		return nil, 0, err
	}
	occs, err := Expand(events, window, i.log)
	if err != nil {
		return nil, 0, err
	}

	spec := FixtureSpec{Club: fc.Club, Competition: fc.Competition, Season: fc.Season}
	var out []Fixture
	skipped := 0
	for _, occ := range occs {
		f, err := ToFixture(occ, spec)
		if err != nil {
			i.log.Debug("occurrence skipped", "feed", feed.ID, "uid", occ.Event.UID, "reason", err.Error())
			skipped++
			continue
		}
		if f.Competition == "" {
			i.log.Debug("occurrence skipped", "feed", feed.ID, "uid", occ.Event.UID, "reason", "no competition")
			skipped++
			continue
		}
		out = append(out, f)
	}
	return out, skipped, nil
}

func (i *Importer) merge(ctx context.Context, f Fixture, res *ImportResult) error {
	g := f.Game()
	existing, err := i.repo.ByKey(ctx, g.Key())
	switch {
	case errors.Is(err, games.ErrNotFound):
		if err := i.repo.Save(ctx, &g); err != nil {
			return fmt.Errorf("insert %s: %w", g.Key(), err)
		}
		i.log.Debug("game inserted", "game_id", g.ID, "key", g.Key().String())
		res.Inserted++
		return nil
	case err != nil:
		return fmt.Errorf("lookup %s: %w", g.Key(), err)
	}

	if !refresh(&existing, f) {
		res.Unchanged++
		return nil
	}
	if err := i.repo.Save(ctx, &existing); err != nil {
		return fmt.Errorf("update game %d: %w", existing.ID, err)
	}
	i.log.Debug("game refreshed", "game_id", existing.ID, "key", existing.Key().String())
	res.Updated++
	return nil
}

// refresh copies the feed-owned fields onto g and reports whether any
// changed. An empty broadcaster in the feed leaves the stored one alone.
func refresh(g *model.Game, f Fixture) bool {
	changed := false
	if !view.SameSecond(g.DatePlayed, f.Kickoff) {
		g.DatePlayed = f.Kickoff
		changed = true
	}
	if f.Broadcaster != "" && !view.TextEqual(g.Broadcaster, f.Broadcaster) {
		g.Broadcaster = f.Broadcaster
		changed = true
	}
	return changed
}
