// Package cache keeps a local, paginated copy of the contact collection in
// sync with the server.
//
// All changes go through Store.Dispatch, which applies a typed Action with
// the pure Reduce function. The Coordinator drives searches, sorting and
// incremental loading; the MutationManager applies updates and deletes
// optimistically and rolls them back when the server rejects them.
package cache

import (
	"github.com/HerbHall/phonebook/pkg/models"
)

// Phase is the read state of the cache.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseFetching:
		return "fetching"
	case PhaseError:
		return "error"
	default:
		return "idle"
	}
}

// MutationKind tells which operation a mutation record belongs to.
type MutationKind int

const (
	MutationUpdate MutationKind = iota + 1
	MutationDelete
)

// MutationState is the status of the latest mutation of one contact. It is
// one of Pending, Committed or RolledBack.
type MutationState interface {
	mutationKind() MutationKind
}

// Pending is an in-flight mutation and the data needed to undo it.
type Pending struct {
	Kind MutationKind
	Seq  uint64
	// Snapshot is the cached entry before the mutation, nil if the contact
	// was not in the list.
	Snapshot *models.Contact
	// Index is the position Snapshot occupied in the list.
	Index int
	// Current is the Current slot before the mutation, when it held the
	// same contact.
	Current *models.Contact
}

// Committed records a mutation the server accepted.
type Committed struct {
	Kind MutationKind
}

// RolledBack records a mutation the server rejected; the cache was restored.
type RolledBack struct {
	Kind MutationKind
	Err  error
}

func (p Pending) mutationKind() MutationKind    { return p.Kind }
func (c Committed) mutationKind() MutationKind  { return c.Kind }
func (r RolledBack) mutationKind() MutationKind { return r.Kind }

// State is the whole client cache. Values returned by Store are snapshots;
// their slices and maps must not be modified.
type State struct {
	Items      []models.Contact
	Pagination models.Pagination
	// Query is the keyword and sort the user asked for. It may be ahead of
	// Items while a debounced search is pending.
	Query models.PageQuery
	// Loaded is the query whose pages are in Items. Load-more continues it.
	Loaded  models.PageQuery
	Loading bool
	Err     error

	// Current is the contact last loaded by id, for detail and edit views.
	Current *models.Contact

	// Mutations holds the latest mutation status per contact id.
	Mutations map[string]MutationState

	// Generation identifies the newest list request. Responses carrying an
	// older generation are discarded.
	Generation uint64
}

// Phase derives the read phase from the state.
func (s State) Phase() Phase {
	switch {
	case s.Loading:
		return PhaseFetching
	case s.Err != nil:
		return PhaseError
	default:
		return PhaseIdle
	}
}

// InFlight reports whether a mutation of id is awaiting the server.
func (s State) InFlight(id string) bool {
	_, ok := s.Mutations[id].(Pending)
	return ok
}

// CanLoadMore reports whether a next page exists and no read is running.
func (s State) CanLoadMore() bool {
	return !s.Loading && s.Pagination.HasNextPage
}

// Contact returns the cached entry with id.
func (s State) Contact(id string) (models.Contact, bool) {
	if i := indexOf(s.Items, id); i >= 0 {
		return s.Items[i], true
	}
	return models.Contact{}, false
}

func indexOf(items []models.Contact, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
