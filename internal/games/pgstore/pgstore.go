// Package pgstore is a games.Repository on PostgreSQL via a pgx pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fixturecal/internal/games"
	"fixturecal/internal/model"
)

const (
	defaultMinConns        = 1
	defaultMaxConns        = 8
	defaultMaxConnLifetime = 30 * time.Minute
	defaultMaxConnIdleTime = 5 * time.Minute
)

func init() {
	games.Register("postgres", func(ctx context.Context, dsn string) (games.Repository, error) {
		return Open(ctx, dsn)
	})
}

const createGamesSQL = `
CREATE TABLE IF NOT EXISTS games (
  id bigserial PRIMARY KEY,
  competition text NOT NULL,
  location text NOT NULL CHECK (location IN ('HOME', 'AWAY')),
  opponents text NOT NULL,
  season integer NOT NULL,
  date_played timestamptz NOT NULL,
  tickets_on_sale timestamptz,
  result text NOT NULL DEFAULT '',
  attendance integer NOT NULL DEFAULT 0,
  match_report text NOT NULL DEFAULT '',
  broadcaster text NOT NULL DEFAULT '',
  attended boolean NOT NULL DEFAULT false,
  UNIQUE (competition, location, opponents, season)
)`

const createSeasonIndexSQL = `CREATE INDEX IF NOT EXISTS idx_games_season ON games (season)`

const columns = `id, competition, location, opponents, season, date_played,
  tickets_on_sale, result, attendance, match_report, broadcaster, attended`

// Repository implements games.Repository.
type Repository struct {
	Pool *pgxpool.Pool
}

// Open connects to databaseURL and ensures the schema exists.
func Open(ctx context.Context, databaseURL string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	cfg.MinConns = defaultMinConns
	cfg.MaxConns = defaultMaxConns
	cfg.MaxConnLifetime = defaultMaxConnLifetime
	cfg.MaxConnIdleTime = defaultMaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	r := &Repository{Pool: pool}
	if err := r.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createGamesSQL); err != nil {
		return fmt.Errorf("create games: %w", err)
	}
	if _, err := r.Pool.Exec(ctx, createSeasonIndexSQL); err != nil {
		return fmt.Errorf("create season index: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	r.Pool.Close()
	return nil
}

func (r *Repository) All(ctx context.Context) ([]model.Game, error) {
	return r.query(ctx, `SELECT `+columns+` FROM games ORDER BY date_played, id`)
}

func (r *Repository) BySeason(ctx context.Context, season int) ([]model.Game, error) {
	return r.query(ctx, `SELECT `+columns+` FROM games WHERE season = $1 ORDER BY date_played, id`, season)
}

func (r *Repository) ByID(ctx context.Context, id int64) (model.Game, error) {
	g, err := scan(r.Pool.QueryRow(ctx, `SELECT `+columns+` FROM games WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Game{}, fmt.Errorf("game %d: %w", id, games.ErrNotFound)
		}
		return model.Game{}, err
	}
	return g, nil
}

func (r *Repository) ByKey(ctx context.Context, key model.BusinessKey) (model.Game, error) {
	g, err := scan(r.Pool.QueryRow(ctx,
		`SELECT `+columns+` FROM games
		 WHERE competition = $1 AND location = $2 AND opponents = $3 AND season = $4`,
		key.Competition, string(key.Location), key.Opponents, key.Season,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Game{}, fmt.Errorf("game %s: %w", key, games.ErrNotFound)
		}
		return model.Game{}, err
	}
	return g, nil
}

func (r *Repository) Save(ctx context.Context, g *model.Game) error {
	var sale *time.Time
	if g.TicketsOnSale != nil {
		t := g.TicketsOnSale.UTC()
		sale = &t
	}

	if g.ID == 0 {
		err := r.Pool.QueryRow(ctx,
			`INSERT INTO games (competition, location, opponents, season, date_played,
			   tickets_on_sale, result, attendance, match_report, broadcaster, attended)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 RETURNING id`,
			g.Competition, string(g.Location), g.Opponents, g.Season, g.DatePlayed.UTC(),
			sale, g.Result, g.Attendance, g.MatchReport, g.Broadcaster, g.Attended,
		).Scan(&g.ID)
		if err != nil {
			return fmt.Errorf("insert game %s: %w", g.Key(), err)
		}
		return nil
	}

	res, err := r.Pool.Exec(ctx,
		`UPDATE games SET competition = $2, location = $3, opponents = $4, season = $5,
		   date_played = $6, tickets_on_sale = $7, result = $8, attendance = $9,
		   match_report = $10, broadcaster = $11, attended = $12
		 WHERE id = $1`,
		g.ID, g.Competition, string(g.Location), g.Opponents, g.Season, g.DatePlayed.UTC(),
		sale, g.Result, g.Attendance, g.MatchReport, g.Broadcaster, g.Attended,
	)
	if err != nil {
		return fmt.Errorf("update game %d: %w", g.ID, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("game %d: %w", g.ID, games.ErrNotFound)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.Pool.Exec(ctx, `DELETE FROM games WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete game %d: %w", id, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("game %d: %w", id, games.ErrNotFound)
	}
	return nil
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]model.Game, error) {
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query games: %w", err)
	}
	defer rows.Close()

	var out []model.Game
	for rows.Next() {
		g, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scan(row pgx.Row) (model.Game, error) {
	var (
		g        model.Game
		location string
		sale     *time.Time
	)
	err := row.Scan(&g.ID, &g.Competition, &location, &g.Opponents, &g.Season, &g.DatePlayed,
		&sale, &g.Result, &g.Attendance, &g.MatchReport, &g.Broadcaster, &g.Attended)
	if err != nil {
		return model.Game{}, err
	}
	g.Location = model.Location(location)
	g.DatePlayed = g.DatePlayed.UTC()
	if sale != nil {
		t := sale.UTC()
		g.TicketsOnSale = &t
	}
	return g, nil
}
