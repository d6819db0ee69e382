package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/phonebook/pkg/models"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Coordinator turns keyword, sort and scroll events into list requests and
// commits only the newest response to the Store.
type Coordinator struct {
	api    API
	store  *Store
	logger *zap.Logger
	clock  clock.Clock
	delay  time.Duration

	debouncer *Debouncer

	// mu makes the load-more check and its dispatch atomic.
	mu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock sets the clock driving the keyword debounce.
func WithClock(c clock.Clock) CoordinatorOption {
	return func(co *Coordinator) { co.clock = c }
}

// WithDebounce sets the keyword quiet period.
func WithDebounce(d time.Duration) CoordinatorOption {
	return func(co *Coordinator) { co.delay = d }
}

// NewCoordinator returns a Coordinator reading through api into store.
func NewCoordinator(api API, store *Store, logger *zap.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		api:    api,
		store:  store,
		logger: logger,
		clock:  clock.New(),
		delay:  DefaultDebounce,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.debouncer = NewDebouncer(c.clock, c.delay)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Store returns the store the coordinator writes to.
func (c *Coordinator) Store() *Store { return c.store }

// Search fetches page 1 of the current query and waits for the result.
func (c *Coordinator) Search(ctx context.Context) error {
	c.debouncer.Cancel()
	c.mu.Lock()
	q := c.firstPage()
	st := c.store.Dispatch(QueryStarted{Query: q})
	c.mu.Unlock()
	return c.fetch(ctx, q, false, st.Generation)
}

// Refresh starts a page 1 search in the background.
func (c *Coordinator) Refresh() {
	c.debouncer.Cancel()
	c.startSearch()
}

// SetKeyword records the keyword immediately and searches for it once
// typing has paused for the debounce period.
func (c *Coordinator) SetKeyword(keyword string) {
	c.store.Dispatch(KeywordChanged{Keyword: keyword})
	c.debouncer.Trigger(c.startSearch)
}

// SetSort changes the sort order and searches immediately.
func (c *Coordinator) SetSort(field string, dir models.SortDirection) {
	c.store.Dispatch(SortChanged{SortBy: field, SortMode: dir})
	c.debouncer.Cancel()
	c.startSearch()
}

// ToggleSort flips the sort direction and searches immediately.
func (c *Coordinator) ToggleSort() {
	q := c.store.State().Query
	c.SetSort(q.SortBy, q.SortMode.Toggle())
}

// LoadMore requests the next page of the loaded result set when one exists
// and no read is running. A keyword still waiting for its debounced search
// does not apply. It reports whether a request was started.
func (c *Coordinator) LoadMore() bool {
	c.mu.Lock()
	st := c.store.State()
	if !st.CanLoadMore() {
		c.mu.Unlock()
		return false
	}
	q := st.Loaded
	q.Page = st.Pagination.Page + 1
	st = c.store.Dispatch(QueryStarted{Query: q, Append: true})
	c.mu.Unlock()

	c.goFetch(q, true, st.Generation)
	return true
}

// Wait blocks until background requests started so far have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close cancels the pending debounce and in-flight requests.
func (c *Coordinator) Close() {
	c.debouncer.Cancel()
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) startSearch() {
	c.mu.Lock()
	q := c.firstPage()
	st := c.store.Dispatch(QueryStarted{Query: q})
	c.mu.Unlock()
	c.goFetch(q, false, st.Generation)
}

func (c *Coordinator) firstPage() models.PageQuery {
	q := c.store.State().Query
	q.Keyword = strings.TrimSpace(q.Keyword)
	q.Page = models.DefaultPage
	if q.Limit <= 0 {
		q.Limit = models.DefaultLimit
	}
	return q
}

func (c *Coordinator) goFetch(q models.PageQuery, appendPage bool, gen uint64) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.fetch(c.ctx, q, appendPage, gen)
	}()
}

func (c *Coordinator) fetch(ctx context.Context, q models.PageQuery, appendPage bool, gen uint64) error {
	page, err := c.api.List(ctx, q)
	if err != nil {
		st := c.store.Dispatch(QueryFailed{Generation: gen, Err: err})
		if st.Generation == gen {
			c.logger.Warn("contact list request failed",
				zap.String("keyword", q.Keyword),
				zap.Int("page", q.Page),
				zap.Error(err),
			)
		}
		return err
	}
	st := c.store.Dispatch(QuerySucceeded{Generation: gen, Query: q, Append: appendPage, Page: page})
	if st.Generation != gen {
		c.logger.Debug("discarded stale contact list response",
			zap.Uint64("generation", gen),
			zap.Uint64("latest", st.Generation),
		)
	}
	return nil
}
