package cache

import (
	"context"
	"sync/atomic"

	"github.com/HerbHall/phonebook/pkg/models"
	"go.uber.org/zap"
)

// MutationManager applies writes to the Store before the server confirms
// them and undoes them when the server rejects them.
//
// Each method blocks until the server answers; the cache reflects the
// optimistic change as soon as the method is called.
type MutationManager struct {
	api    API
	store  *Store
	logger *zap.Logger
	seq    atomic.Uint64
}

// NewMutationManager returns a MutationManager writing through api.
func NewMutationManager(api API, store *Store, logger *zap.Logger) *MutationManager {
	return &MutationManager{api: api, store: store, logger: logger}
}

// Update overlays patch onto the cached contact, sends it, and replaces the
// entry with the server's record. On failure the cached entry is restored
// field for field.
func (m *MutationManager) Update(ctx context.Context, id string, patch models.ContactPatch) (*models.Contact, error) {
	seq := m.seq.Add(1)
	m.store.Dispatch(UpdateDispatched{ID: id, Seq: seq, Patch: patch})

	c, err := m.api.Update(ctx, id, patch)
	if err != nil {
		m.store.Dispatch(UpdateFailed{ID: id, Seq: seq, Err: err})
		m.logger.Warn("contact update rolled back", zap.String("contact_id", id), zap.Error(err))
		return nil, err
	}
	m.store.Dispatch(UpdateSucceeded{ID: id, Seq: seq, Contact: *c})
	return c, nil
}

// Delete removes the cached contact, sends the delete, and puts the contact
// back at its previous position if the server refuses.
func (m *MutationManager) Delete(ctx context.Context, id string) error {
	seq := m.seq.Add(1)
	m.store.Dispatch(DeleteDispatched{ID: id, Seq: seq})

	if err := m.api.Delete(ctx, id); err != nil {
		m.store.Dispatch(DeleteFailed{ID: id, Seq: seq, Err: err})
		m.logger.Warn("contact delete rolled back", zap.String("contact_id", id), zap.Error(err))
		return err
	}
	m.store.Dispatch(DeleteSucceeded{ID: id, Seq: seq})
	return nil
}

// Create sends in and prepends the created contact to the list. Creation is
// not optimistic because the id comes from the server.
func (m *MutationManager) Create(ctx context.Context, in models.ContactInput) (*models.Contact, error) {
	c, err := m.api.Create(ctx, in)
	if err != nil {
		m.store.Dispatch(RequestFailed{Err: err})
		return nil, err
	}
	m.store.Dispatch(CreateSucceeded{Contact: *c})
	return c, nil
}

// Load fetches one contact into the Current slot.
func (m *MutationManager) Load(ctx context.Context, id string) (*models.Contact, error) {
	c, err := m.api.Get(ctx, id)
	if err != nil {
		m.store.Dispatch(RequestFailed{Err: err})
		return nil, err
	}
	m.store.Dispatch(CurrentLoaded{Contact: *c})
	return c, nil
}

// ClearError resets the visible error.
func (m *MutationManager) ClearError() {
	m.store.Dispatch(ErrorCleared{})
}
