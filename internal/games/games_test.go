package games

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixturecal/internal/model"
)

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "nosuch", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nosuch")
}

func TestRegister_Duplicate(t *testing.T) {
	open := func(ctx context.Context, dsn string) (Repository, error) { return nil, nil }
	Register("test-dup", open)
	assert.Contains(t, Drivers(), "test-dup")
	assert.Panics(t, func() { Register("test-dup", open) })
}

func TestSortByDate(t *testing.T) {
	d := time.Date(2025, 1, 1, 15, 0, 0, 0, time.UTC)
	gs := []model.Game{{ID: 3, DatePlayed: d}, {ID: 1, DatePlayed: d.Add(time.Hour)}, {ID: 2, DatePlayed: d}}
	SortByDate(gs)
	assert.Equal(t, []int64{2, 3, 1}, []int64{gs[0].ID, gs[1].ID, gs[2].ID})
}
