package cache_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/phonebook/internal/cache"
	"github.com/HerbHall/phonebook/internal/client"
	"github.com/HerbHall/phonebook/pkg/models"
)

var errServer = errors.New("server unavailable")

// fakeAPI is an in-memory contact collection. List requests can be held
// back with gates to control the order in which responses arrive.
type fakeAPI struct {
	mu       sync.Mutex
	contacts []models.Contact
	queries  []models.PageQuery
	gates    map[string]chan struct{}

	listErr   error
	createErr error
	updateErr error
	deleteErr error

	// onWrite runs inside Update and Delete before the server answers.
	onWrite func()
}

var (
	_ cache.API = (*fakeAPI)(nil)
	_ cache.API = (*client.Client)(nil)
)

func newFakeAPI(names ...string) *fakeAPI {
	f := &fakeAPI{gates: map[string]chan struct{}{}}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range names {
		f.contacts = append(f.contacts, models.Contact{
			ID:        fmt.Sprintf("id-%02d", i),
			Name:      name,
			Phone:     fmt.Sprintf("0812-3000-%04d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return f
}

func numbered(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Contact %02d", i)
	}
	return out
}

func gateKey(keyword string, page int) string {
	return fmt.Sprintf("%s#%d", keyword, page)
}

// hold makes List block for keyword and page until the returned function is
// called.
func (f *fakeAPI) hold(keyword string, page int) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[gateKey(keyword, page)] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeAPI) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *fakeAPI) listQueries() []models.PageQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.queries)
}

func (f *fakeAPI) List(ctx context.Context, q models.PageQuery) (*models.Page[models.Contact], error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	gate := f.gates[gateKey(q.Keyword, q.Page)]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var matched []models.Contact
	for _, c := range f.contacts {
		if q.Keyword == "" || strings.Contains(strings.ToLower(c.Name), strings.ToLower(q.Keyword)) {
			matched = append(matched, c)
		}
	}
	slices.SortFunc(matched, func(a, b models.Contact) int {
		if q.SortMode == models.SortDesc {
			return strings.Compare(b.Name, a.Name)
		}
		return strings.Compare(a.Name, b.Name)
	})
	start := min((q.Page-1)*q.Limit, len(matched))
	end := min(start+q.Limit, len(matched))
	return &models.Page[models.Contact]{
		Items:      slices.Clone(matched[start:end]),
		Pagination: models.NewPagination(q.Page, q.Limit, len(matched)),
	}, nil
}

func (f *fakeAPI) Create(_ context.Context, in models.ContactInput) (*models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	c := models.Contact{
		ID:    fmt.Sprintf("id-new-%d", len(f.contacts)),
		Name:  in.Name,
		Phone: in.Phone,
		Email: in.Email,
	}
	f.contacts = append(f.contacts, c)
	return &c, nil
}

func (f *fakeAPI) Get(_ context.Context, id string) (*models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.contacts {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeAPI) Update(_ context.Context, id string, patch models.ContactPatch) (*models.Contact, error) {
	f.runHook()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	for i, c := range f.contacts {
		if c.ID == id {
			f.contacts[i] = patch.ApplyTo(c)
			f.contacts[i].UpdatedAt = c.UpdatedAt.Add(time.Hour)
			out := f.contacts[i]
			return &out, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeAPI) Delete(_ context.Context, id string) error {
	f.runHook()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i, c := range f.contacts {
		if c.ID == id {
			f.contacts = slices.Delete(f.contacts, i, i+1)
			return nil
		}
	}
	return errors.New("not found")
}

func (f *fakeAPI) runHook() {
	f.mu.Lock()
	hook := f.onWrite
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func itemNames(items []models.Contact) []string {
	out := make([]string, len(items))
	for i, c := range items {
		out[i] = c.Name
	}
	return out
}
