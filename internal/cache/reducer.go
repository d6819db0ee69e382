package cache

import (
	"slices"

	"github.com/HerbHall/phonebook/pkg/models"
)

// Reduce returns the state that results from applying a to s. It never
// modifies s; slices and maps are copied before they change.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case KeywordChanged:
		s.Query.Keyword = a.Keyword

	case SortChanged:
		s.Query.SortBy = a.SortBy
		s.Query.SortMode = a.SortMode

	case QueryStarted:
		s.Generation++
		s.Loading = true
		s.Err = nil
		if !a.Append {
			s.Query = a.Query
		}

	case QuerySucceeded:
		if a.Generation != s.Generation || a.Page == nil {
			return s
		}
		s.Loading = false
		s.Err = nil
		if a.Append {
			s.Items = appendNew(s.Items, a.Page.Items)
		} else {
			// A new search replaces the list even when the result is empty.
			s.Items = slices.Clone(a.Page.Items)
			if s.Items == nil {
				s.Items = []models.Contact{}
			}
			s.Mutations = pruneSettled(s.Mutations)
			s.Loaded = a.Query
		}
		s.Loaded.Page = a.Page.Pagination.Page
		s.Pagination = a.Page.Pagination

	case QueryFailed:
		if a.Generation != s.Generation {
			return s
		}
		s.Loading = false
		s.Err = a.Err

	case CurrentLoaded:
		c := a.Contact.Clone()
		s.Current = &c

	case CreateSucceeded:
		if indexOf(s.Items, a.Contact.ID) < 0 {
			s.Items = slices.Insert(slices.Clone(s.Items), 0, a.Contact.Clone())
			s.Pagination = adjustTotal(s.Pagination, 1)
		}

	case RequestFailed:
		s.Err = a.Err

	case UpdateDispatched:
		p := Pending{Kind: MutationUpdate, Seq: a.Seq, Index: -1}
		if i := indexOf(s.Items, a.ID); i >= 0 {
			snap := s.Items[i].Clone()
			p.Snapshot, p.Index = &snap, i
			s.Items = slices.Clone(s.Items)
			s.Items[i] = a.Patch.ApplyTo(snap)
		}
		if s.Current != nil && s.Current.ID == a.ID {
			p.Current = s.Current
			next := a.Patch.ApplyTo(*s.Current)
			s.Current = &next
		}
		s.Mutations = withMutation(s.Mutations, a.ID, p)

	case UpdateSucceeded:
		if i := indexOf(s.Items, a.ID); i >= 0 {
			s.Items = slices.Clone(s.Items)
			s.Items[i] = a.Contact.Clone()
		}
		if s.Current != nil && s.Current.ID == a.ID {
			c := a.Contact.Clone()
			s.Current = &c
		}
		s.Mutations = settle(s.Mutations, a.ID, a.Seq, Committed{Kind: MutationUpdate})

	case UpdateFailed:
		s.Err = a.Err
		p, ok := latestPending(s.Mutations, a.ID, a.Seq)
		if !ok {
			return s
		}
		if p.Snapshot != nil {
			if i := indexOf(s.Items, a.ID); i >= 0 {
				s.Items = slices.Clone(s.Items)
				s.Items[i] = p.Snapshot.Clone()
			}
		}
		if p.Current != nil && s.Current != nil && s.Current.ID == a.ID {
			s.Current = p.Current
		}
		s.Mutations = withMutation(s.Mutations, a.ID, RolledBack{Kind: MutationUpdate, Err: a.Err})

	case DeleteDispatched:
		p := Pending{Kind: MutationDelete, Seq: a.Seq, Index: -1}
		if i := indexOf(s.Items, a.ID); i >= 0 {
			snap := s.Items[i].Clone()
			p.Snapshot, p.Index = &snap, i
			s.Items = slices.Delete(slices.Clone(s.Items), i, i+1)
		}
		if s.Current != nil && s.Current.ID == a.ID {
			p.Current = s.Current
			s.Current = nil
		}
		s.Mutations = withMutation(s.Mutations, a.ID, p)

	case DeleteSucceeded:
		// A search that completed meanwhile may have brought the row back.
		if i := indexOf(s.Items, a.ID); i >= 0 {
			s.Items = slices.Delete(slices.Clone(s.Items), i, i+1)
		}
		s.Pagination = adjustTotal(s.Pagination, -1)
		s.Mutations = settle(s.Mutations, a.ID, a.Seq, Committed{Kind: MutationDelete})

	case DeleteFailed:
		s.Err = a.Err
		p, ok := latestPending(s.Mutations, a.ID, a.Seq)
		if !ok {
			return s
		}
		if p.Snapshot != nil && indexOf(s.Items, a.ID) < 0 {
			at := min(max(p.Index, 0), len(s.Items))
			s.Items = slices.Insert(slices.Clone(s.Items), at, p.Snapshot.Clone())
		}
		if p.Current != nil && s.Current == nil {
			s.Current = p.Current
		}
		s.Mutations = withMutation(s.Mutations, a.ID, RolledBack{Kind: MutationDelete, Err: a.Err})

	case ErrorCleared:
		s.Err = nil
		s.Mutations = pruneSettled(s.Mutations)
	}
	return s
}

// appendNew returns items followed by every entry of next whose id is not
// already present.
func appendNew(items, next []models.Contact) []models.Contact {
	out := make([]models.Contact, 0, len(items)+len(next))
	out = append(out, items...)
	seen := make(map[string]struct{}, len(out))
	for i := range out {
		seen[out[i].ID] = struct{}{}
	}
	for i := range next {
		if _, dup := seen[next[i].ID]; dup {
			continue
		}
		seen[next[i].ID] = struct{}{}
		out = append(out, next[i].Clone())
	}
	return out
}

func adjustTotal(p models.Pagination, delta int) models.Pagination {
	total := max(p.Total+delta, 0)
	if p.Limit <= 0 {
		p.Total = total
		return p
	}
	page := max(p.Page, models.DefaultPage)
	return models.NewPagination(page, p.Limit, total)
}

func withMutation(m map[string]MutationState, id string, st MutationState) map[string]MutationState {
	out := make(map[string]MutationState, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[id] = st
	return out
}

// latestPending returns the pending record of id when seq is still the
// newest mutation of that contact.
func latestPending(m map[string]MutationState, id string, seq uint64) (Pending, bool) {
	p, ok := m[id].(Pending)
	if !ok || p.Seq != seq {
		return Pending{}, false
	}
	return p, true
}

// settle records the outcome of mutation seq. A newer mutation of the same
// contact keeps its pending record.
func settle(m map[string]MutationState, id string, seq uint64, st MutationState) map[string]MutationState {
	if p, ok := m[id].(Pending); ok && p.Seq != seq {
		return m
	}
	return withMutation(m, id, st)
}

// pruneSettled drops committed and rolled back records.
func pruneSettled(m map[string]MutationState) map[string]MutationState {
	out := make(map[string]MutationState, len(m))
	for k, v := range m {
		if _, ok := v.(Pending); ok {
			out[k] = v
		}
	}
	return out
}
