package testutil

import (
	"github.com/google/uuid"

	"github.com/HerbHall/phonebook/pkg/models"
)

// NewContact returns a Contact with sensible defaults, suitable for test fixtures.
// Override individual fields with the With* options.
func NewContact(opts ...func(*models.Contact)) models.Contact {
	c := models.Contact{
		ID:        uuid.New().String(),
		Name:      "Test Contact",
		Phone:     "0812-3000-0000",
		CreatedAt: Epoch,
		UpdatedAt: Epoch,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithID sets the contact ID.
func WithID(id string) func(*models.Contact) {
	return func(c *models.Contact) { c.ID = id }
}

// WithName sets the contact name.
func WithName(name string) func(*models.Contact) {
	return func(c *models.Contact) { c.Name = name }
}

// WithPhone sets the contact phone.
func WithPhone(phone string) func(*models.Contact) {
	return func(c *models.Contact) { c.Phone = phone }
}

// WithEmail sets the contact email.
func WithEmail(email string) func(*models.Contact) {
	return func(c *models.Contact) { c.Email = email }
}

// WithAvatar sets the contact avatar reference.
func WithAvatar(ref string) func(*models.Contact) {
	return func(c *models.Contact) { c.Avatar = &ref }
}
