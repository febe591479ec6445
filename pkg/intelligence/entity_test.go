package intelligence_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeeper/recall/pkg/intelligence"
	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/storage"
)

type fakeEntityStore struct {
	entities []*storage.Entity
	linked   []*storage.Memory
	findErr  error

	gotIDs []string
}

func (f *fakeEntityStore) FindEntities(ctx context.Context, userID string, names []string) ([]*storage.Entity, error) {
	return f.entities, f.findErr
}

func (f *fakeEntityStore) MemoriesForEntities(ctx context.Context, userID string, ids []string, limit int) ([]*storage.Memory, error) {
	f.gotIDs = ids
	return f.linked, nil
}

func TestEntityBoosterSearch(t *testing.T) {
	store := &fakeEntityStore{
		entities: []*storage.Entity{{ID: "e1", Name: "Alice"}, {ID: "e2", Name: "Paris"}},
		linked:   []*storage.Memory{{ID: "m1", Score: 2}, {ID: "m2", Score: 1}},
	}
	booster := intelligence.NewEntityBooster(store)

	res, err := booster.Search(context.Background(), "u1", []string{"Alice", "paris", "alice"}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "paris"}, res.Match.Names)
	assert.Equal(t, []string{"e1", "e2"}, store.gotIDs)
	require.Len(t, res.Memories, 2)
	assert.Equal(t, "m1", res.Memories[0].ID)
}

func TestEntityBoosterSearchNoNames(t *testing.T) {
	booster := intelligence.NewEntityBooster(&fakeEntityStore{})
	res, err := booster.Search(context.Background(), "u1", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Memories)
}

func TestEntityBoosterSearchResolutionFailureKeepsNames(t *testing.T) {
	booster := intelligence.NewEntityBooster(&fakeEntityStore{findErr: errors.New("db down")})
	res, err := booster.Search(context.Background(), "u1", []string{"Alice"}, 10)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, []string{"Alice"}, res.Match.Names)
}

func TestEntityBoostValues(t *testing.T) {
	booster := intelligence.NewEntityBooster(nil)
	match := intelligence.NewEntityMatch(
		[]string{"Alice", "Paris", "Bob"},
		[]*storage.Entity{{ID: "e-bob", Name: "Bob"}},
	)

	none := memory.Record{Content: "nothing relevant"}
	one := memory.Record{Content: "met alice today"}
	two := memory.Record{Content: "Alice went to Paris"}
	three := memory.Record{Content: "Alice went to Paris", EntityIDs: []string{"e-bob"}}
	partialWord := memory.Record{Content: "Bobby and Malice"}

	assert.Equal(t, 1.0, booster.Boost(none, match))
	assert.InDelta(t, 1.2, booster.Boost(one, match), 1e-9)
	assert.InDelta(t, 1.4, booster.Boost(two, match), 1e-9)
	assert.InDelta(t, 1.6, booster.Boost(three, match), 1e-9)
	assert.Equal(t, 0, booster.Overlap(partialWord, match))

	spanish := intelligence.NewEntityMatch([]string{"Ana", "José"}, nil)
	assert.Equal(t, 0, booster.Overlap(memory.Record{Content: "Nos vemos mañana en la oficina"}, spanish))
	assert.Equal(t, 1.0, booster.Boost(memory.Record{Content: "Nos vemos mañana en la oficina"}, spanish))
	assert.Equal(t, 0, booster.Overlap(memory.Record{Content: "café con Joséfina"}, spanish))
	assert.Equal(t, 2, booster.Overlap(memory.Record{Content: "almuerzo con José, y después Ana"}, spanish))
	assert.Equal(t, 1, booster.Overlap(memory.Record{Content: "über-Ana"}, spanish))
}

func TestEntityBoostIsMonotonicAndCapped(t *testing.T) {
	booster := intelligence.NewEntityBooster(nil)
	names := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7"}
	match := intelligence.NewEntityMatch(names, nil)

	prev := 0.0
	content := ""
	for _, n := range names {
		content += " " + n
		b := booster.Boost(memory.Record{Content: content}, match)
		assert.GreaterOrEqual(t, b, 1.0)
		assert.GreaterOrEqual(t, b, prev)
		prev = b
	}
	assert.InDelta(t, 2.0, prev, 1e-9)
}

func TestEntityBoostWithoutQueryEntities(t *testing.T) {
	booster := intelligence.NewEntityBooster(nil)
	assert.Equal(t, 1.0, booster.Boost(memory.Record{Content: "anything"}, intelligence.NewEntityMatch(nil, nil)))
}
