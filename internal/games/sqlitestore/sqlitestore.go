// Package sqlitestore is the default games.Repository, backed by a single
// SQLite file.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"fixturecal/internal/games"
	"fixturecal/internal/model"
)

//go:embed schema.sql
var schemaSQL string

func init() {
	games.Register("sqlite", func(ctx context.Context, dsn string) (games.Repository, error) {
		return Open(ctx, dsn)
	})
}

const columns = `id, competition, location, opponents, season, date_played,
	tickets_on_sale, result, attendance, match_report, broadcaster, attended`

// Store implements games.Repository.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
// Ids come from AUTOINCREMENT, so a deleted game's id is never reused.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) All(ctx context.Context) ([]model.Game, error) {
	return s.query(ctx, `SELECT `+columns+` FROM games ORDER BY date_played, id`)
}

func (s *Store) BySeason(ctx context.Context, season int) ([]model.Game, error) {
	return s.query(ctx, `SELECT `+columns+` FROM games WHERE season = ? ORDER BY date_played, id`, season)
}

func (s *Store) ByID(ctx context.Context, id int64) (model.Game, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM games WHERE id = ?`, id)
	g, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Game{}, fmt.Errorf("game %d: %w", id, games.ErrNotFound)
	}
	return g, err
}

func (s *Store) ByKey(ctx context.Context, key model.BusinessKey) (model.Game, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM games WHERE competition = ? AND location = ? AND opponents = ? AND season = ?`,
		key.Competition, string(key.Location), key.Opponents, key.Season)
	g, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Game{}, fmt.Errorf("game %s: %w", key, games.ErrNotFound)
	}
	return g, err
}

func (s *Store) Save(ctx context.Context, g *model.Game) error {
	var sale sql.NullTime
	if g.TicketsOnSale != nil {
		sale = sql.NullTime{Time: g.TicketsOnSale.UTC(), Valid: true}
	}
	args := []any{
		g.Competition, string(g.Location), g.Opponents, g.Season, g.DatePlayed.UTC(),
		sale, g.Result, g.Attendance, g.MatchReport, g.Broadcaster, g.Attended,
	}

	if g.ID == 0 {
		res, err := s.db.ExecContext(ctx, `INSERT INTO games (competition, location, opponents, season, date_played,
			tickets_on_sale, result, attendance, match_report, broadcaster, attended)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return fmt.Errorf("insert game %s: %w", g.Key(), err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert game %s: %w", g.Key(), err)
		}
		g.ID = id
		return nil
	}

	res, err := s.db.ExecContext(ctx, `UPDATE games SET competition = ?, location = ?, opponents = ?, season = ?,
		date_played = ?, tickets_on_sale = ?, result = ?, attendance = ?, match_report = ?, broadcaster = ?,
		attended = ? WHERE id = ?`, append(args, g.ID)...)
	if err != nil {
		return fmt.Errorf("update game %d: %w", g.ID, err)
	}
	return expectOne(res, g.ID)
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete game %d: %w", id, err)
	}
	return expectOne(res, id)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]model.Game, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
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

type scanner interface {
	Scan(dest ...any) error
}

func scan(r scanner) (model.Game, error) {
	var (
		g        model.Game
		location string
		played   time.Time
		sale     sql.NullTime
	)
	err := r.Scan(&g.ID, &g.Competition, &location, &g.Opponents, &g.Season, &played,
		&sale, &g.Result, &g.Attendance, &g.MatchReport, &g.Broadcaster, &g.Attended)
	if err != nil {
		return model.Game{}, err
	}
	g.Location = model.Location(location)
	g.DatePlayed = played.UTC()
	if sale.Valid {
		t := sale.Time.UTC()
		g.TicketsOnSale = &t
	}
	return g, nil
}

func expectOne(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("game %d: %w", id, games.ErrNotFound)
	}
	return nil
}
