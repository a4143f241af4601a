package changelog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// sample is deliberately inserted out of order.
func sample() *Set {
	return New(
		Removed("unattended", 3),
		Added("attended", 3, "Leeds United (A) FA Cup"),
		Updated("all", 2, "Spurs (H) League - Sky Sports"),
		Added("all", 1, "Chelsea (A) League"),
		Removed("all", 2),
	)
}

func TestSet_OrderIsTotal(t *testing.T) {
	s := sample()
	got := s.Entries()
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.Negative(t, Compare(got[i-1], got[i]), "%v before %v", got[i-1], got[i])
	}
	assert.Equal(t, KindUpdated, got[1].Kind)
	assert.Equal(t, KindRemoved, got[2].Kind)
}

func TestSet_Deduplicates(t *testing.T) {
	s := New()
	assert.True(t, s.Add(Added("all", 1, "first")))
	assert.False(t, s.Add(Added("all", 1, "second")))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "first", s.Entries()[0].Title)
}

func TestSet_MergeAndCount(t *testing.T) {
	a := New(Added("home", 1, "x"))
	b := New(Added("home", 1, "x"), Removed("away", 4))
	a.Merge(b)
	a.Merge(nil)

	assert.Equal(t, 2, a.Len())
	assert.Equal(t, 1, a.Count(KindAdded))
	assert.Equal(t, 1, a.Count(KindRemoved))
	assert.Zero(t, a.Count(KindUpdated))
	assert.Len(t, a.Calendar("away"), 1)
}

func TestSet_NilAndEmpty(t *testing.T) {
	var s *Set
	assert.True(t, s.Empty())
	assert.Nil(t, s.Entries())

	b, err := json.Marshal(New())
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(b))
}

func TestSet_WriteToGolden(t *testing.T) {
	var buf bytes.Buffer
	_, err := sample().WriteTo(&buf)
	require.NoError(t, err)
	golden(t).Assert(t, "changes_text", buf.Bytes())
}

func TestSet_JSONGolden(t *testing.T) {
	b, err := json.MarshalIndent(sample(), "", "  ")
	require.NoError(t, err)
	golden(t).Assert(t, "changes_json", append(b, '\n'))

	var back Set
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, sample().Entries(), back.Entries())
}

func TestKind(t *testing.T) {
	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("updated")))
	assert.Equal(t, KindUpdated, k)
	assert.Error(t, k.UnmarshalText([]byte("moved")))

	_, err := Kind(0).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "kind(9)", Kind(9).String())
}
