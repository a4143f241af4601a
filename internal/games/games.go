// Package games defines the persistence boundary for the game set. The
// sync engine only reads through Source; the importer and the attendance
// toggle write through Repository. Backends register themselves by
// driver name and are selected with Open.
package games

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"fixturecal/internal/model"
)

// ErrNotFound is returned when no game matches an id or business key.
var ErrNotFound = errors.New("game not found")

// Source is the read side the sync driver consumes.
type Source interface {
	All(ctx context.Context) ([]model.Game, error)
	ByID(ctx context.Context, id int64) (model.Game, error)
}

// Repository is a Source that can also write.
type Repository interface {
	Source
	// Save inserts g when g.ID is zero, assigning the new id, and
	// updates the stored row otherwise.
	Save(ctx context.Context, g *model.Game) error
	Delete(ctx context.Context, id int64) error
	BySeason(ctx context.Context, season int) ([]model.Game, error)
	ByKey(ctx context.Context, key model.BusinessKey) (model.Game, error)
	Close() error
}

// OpenFunc opens a Repository for a data source name.
type OpenFunc func(ctx context.Context, dsn string) (Repository, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]OpenFunc)
)

// Register makes a backend available under name. It panics on a
// duplicate name, as database/sql does.
func Register(name string, open OpenFunc) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, dup := drivers[name]; dup {
		panic("games: Register called twice for driver " + name)
	}
	drivers[name] = open
}

// Drivers lists the registered backend names.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	out := make([]string, 0, len(drivers))
	for name := range drivers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Open opens the repository registered as driver.
func Open(ctx context.Context, driver, dsn string) (Repository, error) {
	driversMu.RLock()
	open, ok := drivers[driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("games: unknown driver %q (forgotten import?)", driver)
	}
	return open(ctx, dsn)
}

// SortByDate orders games by kick-off, then id.
func SortByDate(gs []model.Game) {
	sort.SliceStable(gs, func(i, j int) bool {
		if !gs[i].DatePlayed.Equal(gs[j].DatePlayed) {
			return gs[i].DatePlayed.Before(gs[j].DatePlayed)
		}
		return gs[i].ID < gs[j].ID
	})
}
