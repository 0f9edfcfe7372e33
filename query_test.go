package busbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaceboats/busbus/model"
)

func TestQueryableWhere(t *testing.T) {
	routes := []model.Route{
		{ID: "r1", Type: model.RouteTypeBus},
		{ID: "r2", Type: model.RouteTypeRail},
		{ID: "r3", Type: model.RouteTypeBus},
	}

	q := FromSlice(routes).Where(func(r model.Route) bool { return r.Type == model.RouteTypeBus })
	got := q.All()
	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, "r3", got[1].ID)
}

func TestQueryableWhereIsDestructiveOnSharedSource(t *testing.T) {
	// Deriving a Where from a Queryable shares its underlying puller --
	// draining the derived Queryable also advances the original, per
	// queryable.py's shared self.it semantics.
	routes := []model.Route{{ID: "r1"}, {ID: "r2"}, {ID: "r3"}}
	base := FromSlice(routes)
	derived := base.Where(func(r model.Route) bool { return true })

	first, ok := derived.Next()
	require.True(t, ok)
	assert.Equal(t, "r1", first.ID)

	// base's next pull continues from where derived left off.
	second, ok := base.Next()
	require.True(t, ok)
	assert.Equal(t, "r2", second.ID)
}

func TestQueryableWhereAttr(t *testing.T) {
	stops := []*Stop{
		{Stop: model.Stop{ID: "s1", Name: "First"}},
		{Stop: model.Stop{ID: "s2", Name: "Second"}},
	}
	q := FromSlice(stops).WhereAttr("ID", "s2")
	got := q.All()
	require.Len(t, got, 1)
	assert.Equal(t, "s2", got[0].ID)
}

func TestChainedQueryable(t *testing.T) {
	a := FromSlice([]model.Route{{ID: "a1"}, {ID: "a2"}})
	b := FromSlice([]model.Route{{ID: "b1"}})

	chained := Chain(a, b)
	got := chained.All()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a1", "a2", "b1"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestChainedQueryableWhere(t *testing.T) {
	a := FromSlice([]model.Route{{ID: "a1", Type: model.RouteTypeBus}, {ID: "a2", Type: model.RouteTypeRail}})
	b := FromSlice([]model.Route{{ID: "b1", Type: model.RouteTypeBus}})

	chained := Chain(a, b).Where(func(r model.Route) bool { return r.Type == model.RouteTypeBus })
	got := chained.All()
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "b1", got[1].ID)
}

func TestLazyRefMemoizes(t *testing.T) {
	calls := 0
	ref := NewLazyRef(func() (int, bool) {
		calls++
		return 42, true
	})

	v, ok := ref.Get()
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	v, ok = ref.Get()
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)
}

func TestLazyRefAbsent(t *testing.T) {
	ref := NewLazyRef(func() (int, bool) { return 0, false })
	_, ok := ref.Get()
	assert.False(t, ok)
}
