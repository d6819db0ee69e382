package cache_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/phonebook/internal/cache"
	"github.com/HerbHall/phonebook/internal/testutil"
	"github.com/HerbHall/phonebook/pkg/models"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const settle = 2 * time.Second

func newCoordinator(t *testing.T, api cache.API, opts ...cache.CoordinatorOption) *cache.Coordinator {
	t.Helper()
	c := cache.NewCoordinator(api, cache.NewStore(10), zap.NewNop(), opts...)
	t.Cleanup(c.Close)
	return c
}

func idle(c *cache.Coordinator) func() bool {
	return func() bool { return !c.Store().State().Loading }
}

func TestCoordinator_SearchLoadsFirstPage(t *testing.T) {
	api := newFakeAPI(numbered(12)...)
	c := newCoordinator(t, api)

	require.NoError(t, c.Search(context.Background()))

	st := c.Store().State()
	assert.Len(t, st.Items, 10)
	assert.Equal(t, 12, st.Pagination.Total)
	assert.True(t, st.Pagination.HasNextPage)
	assert.Equal(t, cache.PhaseIdle, st.Phase())
}

func TestCoordinator_EmptyResultReplacesList(t *testing.T) {
	api := newFakeAPI(numbered(3)...)
	c := newCoordinator(t, api)
	require.NoError(t, c.Search(context.Background()))
	require.Len(t, c.Store().State().Items, 3)

	c.Store().Dispatch(cache.KeywordChanged{Keyword: "nobody"})
	require.NoError(t, c.Search(context.Background()))

	st := c.Store().State()
	assert.NotNil(t, st.Items)
	assert.Empty(t, st.Items)
	assert.Equal(t, 0, st.Pagination.Total)
}

func TestCoordinator_DebouncesKeyword(t *testing.T) {
	api := newFakeAPI("Alice", "Albert", "Bob")
	clk := testutil.NewClock()
	c := newCoordinator(t, api, cache.WithClock(clk))

	c.SetKeyword("a")
	clk.Add(200 * time.Millisecond)
	c.SetKeyword("al")
	clk.Add(200 * time.Millisecond)
	c.SetKeyword("alb")
	clk.Add(399 * time.Millisecond)

	assert.Equal(t, "alb", c.Store().State().Query.Keyword, "keyword is recorded before the search")
	assert.Empty(t, api.listQueries(), "searched before typing paused")

	clk.Add(time.Millisecond)
	require.Eventually(t, func() bool {
		return len(api.listQueries()) == 1 && idle(c)()
	}, settle, time.Millisecond)

	assert.Equal(t, "alb", api.listQueries()[0].Keyword)
	assert.Equal(t, []string{"Albert"}, itemNames(c.Store().State().Items))
}

func TestCoordinator_ToggleSortSearchesImmediately(t *testing.T) {
	api := newFakeAPI("Bob", "Alice", "Carol")
	clk := clock.NewMock()
	c := newCoordinator(t, api, cache.WithClock(clk))
	require.NoError(t, c.Search(context.Background()))

	c.ToggleSort()
	c.Wait()

	st := c.Store().State()
	assert.Equal(t, models.SortDesc, st.Query.SortMode)
	assert.Equal(t, []string{"Carol", "Bob", "Alice"}, itemNames(st.Items))

	c.ToggleSort()
	c.Wait()
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, itemNames(c.Store().State().Items))
}

func TestCoordinator_SortCancelsPendingKeyword(t *testing.T) {
	api := newFakeAPI("Bob", "Alice")
	clk := clock.NewMock()
	c := newCoordinator(t, api, cache.WithClock(clk))

	c.SetKeyword("bo")
	c.ToggleSort()
	c.Wait()
	clk.Add(time.Second)
	c.Wait()

	queries := api.listQueries()
	require.Len(t, queries, 1)
	assert.Equal(t, "bo", queries[0].Keyword)
	assert.Equal(t, models.SortDesc, queries[0].SortMode)
}

func TestCoordinator_LoadMoreAppends(t *testing.T) {
	api := newFakeAPI(numbered(25)...)
	c := newCoordinator(t, api)
	require.NoError(t, c.Search(context.Background()))

	require.True(t, c.LoadMore())
	c.Wait()
	st := c.Store().State()
	assert.Len(t, st.Items, 20)
	assert.Equal(t, 2, st.Pagination.Page)

	release := api.hold("", 3)
	require.True(t, c.LoadMore())
	assert.False(t, c.LoadMore(), "second load-more while one is running")
	release()
	c.Wait()

	st = c.Store().State()
	assert.Len(t, st.Items, 25)
	assert.False(t, st.Pagination.HasNextPage)
	assert.False(t, c.LoadMore(), "load-more past the last page")

	seen := map[string]bool{}
	for _, it := range st.Items {
		assert.False(t, seen[it.ID], "duplicate %s", it.ID)
		seen[it.ID] = true
	}
}

func TestCoordinator_LoadMoreIgnoresPendingKeyword(t *testing.T) {
	api := newFakeAPI(numbered(27)...)
	clk := clock.NewMock()
	c := newCoordinator(t, api, cache.WithClock(clk))
	require.NoError(t, c.Search(context.Background()))

	c.SetKeyword("Zed")
	require.True(t, c.LoadMore())
	c.Wait()

	queries := api.listQueries()
	require.Len(t, queries, 2)
	assert.Equal(t, "", queries[1].Keyword, "next page used the unsearched keyword")
	assert.Equal(t, 2, queries[1].Page)

	st := c.Store().State()
	assert.Len(t, st.Items, 20)
	assert.Equal(t, "Contact 00", st.Items[0].Name)
	assert.Equal(t, 27, st.Pagination.Total)
	assert.True(t, st.Pagination.HasNextPage)
	assert.Equal(t, "Zed", st.Query.Keyword)
	assert.Equal(t, "", st.Loaded.Keyword)

	clk.Add(cache.DefaultDebounce)
	require.Eventually(t, func() bool {
		return len(api.listQueries()) == 3 && idle(c)()
	}, settle, time.Millisecond)

	st = c.Store().State()
	assert.Empty(t, st.Items)
	assert.Equal(t, 0, st.Pagination.Total)
	assert.Equal(t, "Zed", st.Loaded.Keyword)
}

func TestCoordinator_StaleSearchDiscarded(t *testing.T) {
	api := newFakeAPI("Alice", "Anton", "Bob", "Bianca")
	c := newCoordinator(t, api)

	release := api.hold("a", 1)
	defer release()
	c.Store().Dispatch(cache.KeywordChanged{Keyword: "a"})
	c.Refresh()

	c.Store().Dispatch(cache.KeywordChanged{Keyword: "bi"})
	c.Refresh()
	require.Eventually(t, func() bool {
		return len(c.Store().State().Items) == 1
	}, settle, time.Millisecond)

	release()
	c.Wait()

	st := c.Store().State()
	assert.Equal(t, []string{"Bianca"}, itemNames(st.Items))
	assert.Equal(t, "bi", st.Query.Keyword)
	assert.False(t, st.Loading)
}

func TestCoordinator_SearchInvalidatesLoadMore(t *testing.T) {
	api := newFakeAPI(numbered(15)...)
	c := newCoordinator(t, api)
	require.NoError(t, c.Search(context.Background()))

	release := api.hold("", 2)
	defer release()
	require.True(t, c.LoadMore())

	c.SetSort(models.SortByName, models.SortDesc)
	require.Eventually(t, func() bool {
		st := c.Store().State()
		return len(st.Items) == 10 && st.Items[0].Name == "Contact 14"
	}, settle, time.Millisecond)

	release()
	c.Wait()

	st := c.Store().State()
	assert.Len(t, st.Items, 10, "stale next page was appended")
	assert.Equal(t, 1, st.Pagination.Page)
}

func TestCoordinator_FailedReadKeepsItems(t *testing.T) {
	api := newFakeAPI(numbered(5)...)
	c := newCoordinator(t, api)
	require.NoError(t, c.Search(context.Background()))
	before := c.Store().State().Items

	api.setListErr(errServer)
	err := c.Search(context.Background())
	require.ErrorIs(t, err, errServer)

	st := c.Store().State()
	assert.Equal(t, before, st.Items)
	assert.Equal(t, cache.PhaseError, st.Phase())
	assert.ErrorIs(t, st.Err, errServer)

	c.Store().Dispatch(cache.ErrorCleared{})
	assert.Equal(t, cache.PhaseIdle, c.Store().State().Phase())
}

func TestCoordinator_SearchTrimsKeyword(t *testing.T) {
	api := newFakeAPI("Alice", "Bob")
	c := newCoordinator(t, api)

	c.Store().Dispatch(cache.KeywordChanged{Keyword: "  bob "})
	require.NoError(t, c.Search(context.Background()))

	q := api.listQueries()
	require.Len(t, q, 1)
	assert.Equal(t, "bob", q[0].Keyword)
	assert.True(t, strings.EqualFold("Bob", c.Store().State().Items[0].Name))
}
