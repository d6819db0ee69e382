package cache

import (
	"context"

	"github.com/HerbHall/phonebook/pkg/models"
)

// API is the remote contact collection. *client.Client satisfies it.
type API interface {
	List(ctx context.Context, q models.PageQuery) (*models.Page[models.Contact], error)
	Create(ctx context.Context, in models.ContactInput) (*models.Contact, error)
	Get(ctx context.Context, id string) (*models.Contact, error)
	Update(ctx context.Context, id string, patch models.ContactPatch) (*models.Contact, error)
	Delete(ctx context.Context, id string) error
}
