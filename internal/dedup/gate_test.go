package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mapfolio/place-crawler/internal/place"
	"github.com/mapfolio/place-crawler/internal/storage/memory"
)

func TestGatePartition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewPlaceStore()
	require.NoError(t, store.Upsert(ctx, place.Place{ID: "100"}))
	require.NoError(t, store.Upsert(ctx, place.Place{ID: "300"}))

	gate := NewGate(store)
	got, err := gate.Partition(ctx, []place.Candidate{
		{ID: "100", Name: "Cafe"},
		{ID: "200", Name: "Bakery"},
		{ID: "300", Name: "Bar"},
		{ID: "400", Name: "Noodles"},
	})
	require.NoError(t, err)

	require.Equal(t, []string{"100", "300"}, candidateIDs(got.Known))
	require.Equal(t, []string{"200", "400"}, candidateIDs(got.Unknown))
}

func TestGatePartitionCollapsesDuplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	gate := NewGate(memory.NewPlaceStore())

	got, err := gate.Partition(ctx, []place.Candidate{
		{ID: "100", Name: "first"},
		{ID: "100", Name: "second"},
		{ID: ""},
		{ID: "200"},
	})
	require.NoError(t, err)
	require.Empty(t, got.Known)
	require.Equal(t, []string{"100", "200"}, candidateIDs(got.Unknown))
	require.Equal(t, "first", got.Unknown[0].Name)
}

func TestGatePartitionEmpty(t *testing.T) {
	t.Parallel()

	gate := NewGate(memory.NewPlaceStore())
	got, err := gate.Partition(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, got.Known)
	require.Empty(t, got.Unknown)
}

type failingStore struct{}

func (failingStore) Upsert(context.Context, place.Place) error { return nil }

func (failingStore) ExistingIDs(context.Context, []string) ([]string, error) {
	return nil, errors.New("connection reset")
}

func TestGatePartitionStoreError(t *testing.T) {
	t.Parallel()

	gate := NewGate(failingStore{})
	_, err := gate.Partition(context.Background(), []place.Candidate{{ID: "100"}})
	require.ErrorContains(t, err, "look up existing ids")
}

func candidateIDs(cs []place.Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}
