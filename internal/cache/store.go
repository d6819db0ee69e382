package cache

import (
	"sync"

	"github.com/HerbHall/phonebook/pkg/models"
)

// Store holds the cache state and serializes every change through Reduce.
type Store struct {
	mu sync.Mutex
	// notifyMu is taken before mu is released so subscribers see states in
	// dispatch order.
	notifyMu sync.Mutex
	state    State
	subs     map[int]func(State)
	nextSub  int
}

// NewStore returns a Store with an empty first page for the given page size.
func NewStore(limit int) *Store {
	if limit <= 0 || limit > models.MaxLimit {
		limit = models.DefaultLimit
	}
	return &Store{
		state: State{
			Items: []models.Contact{},
			Query: models.PageQuery{
				SortBy:   models.SortByName,
				SortMode: models.SortAsc,
				Page:     models.DefaultPage,
				Limit:    limit,
			},
			Pagination: models.NewPagination(models.DefaultPage, limit, 0),
			Mutations:  map[string]MutationState{},
		},
		subs: make(map[int]func(State)),
	}
}

// State returns the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies a and returns the resulting state. Subscribers are
// called outside the state lock, once per dispatch, in dispatch order.
// A subscriber must not call Dispatch.
func (s *Store) Dispatch(a Action) State {
	s.mu.Lock()
	s.state = Reduce(s.state, a)
	st := s.state
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
	return st
}

// Subscribe registers fn to be called after every dispatch. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
