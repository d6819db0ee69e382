package models

import (
	"strings"
	"time"
)

// Contact is a single phonebook record.
type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email,omitempty"`
	Avatar    *string   `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the contact.
func (c Contact) Clone() Contact {
	if c.Avatar != nil {
		avatar := *c.Avatar
		c.Avatar = &avatar
	}
	return c
}

// AvatarRef returns the avatar reference or an empty string.
func (c Contact) AvatarRef() string {
	if c.Avatar == nil {
		return ""
	}
	return *c.Avatar
}

// ContactInput is the request body for creating a contact.
type ContactInput struct {
	Name   string  `json:"name" validate:"required,min=2,max=100"`
	Phone  string  `json:"phone" validate:"required,phone"`
	Email  string  `json:"email,omitempty" validate:"omitempty,email,max=255"`
	Avatar *string `json:"avatar,omitempty"`
}

// Normalize trims surrounding whitespace from the text fields.
func (in *ContactInput) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.TrimSpace(in.Email)
}

// ContactPatch is a partial update. Nil fields are left unchanged.
// An empty Email or Avatar clears the stored value.
type ContactPatch struct {
	Name   *string `json:"name,omitempty" validate:"omitempty,min=2,max=100"`
	Phone  *string `json:"phone,omitempty" validate:"omitempty,phone"`
	Email  *string `json:"email,omitempty" validate:"omitempty,email,max=255"`
	Avatar *string `json:"avatar,omitempty"`
}

// IsEmpty reports whether the patch carries no fields.
func (p ContactPatch) IsEmpty() bool {
	return p.Name == nil && p.Phone == nil && p.Email == nil && p.Avatar == nil
}

// Normalize trims surrounding whitespace from the provided text fields.
func (p *ContactPatch) Normalize() {
	for _, f := range []*string{p.Name, p.Phone, p.Email, p.Avatar} {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
}

// ApplyTo overlays the patch onto c and returns the result.
func (p ContactPatch) ApplyTo(c Contact) Contact {
	out := c.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Phone != nil {
		out.Phone = *p.Phone
	}
	if p.Email != nil {
		out.Email = *p.Email
	}
	if p.Avatar != nil {
		if *p.Avatar == "" {
			out.Avatar = nil
		} else {
			avatar := *p.Avatar
			out.Avatar = &avatar
		}
	}
	return out
}

// PhoneDigits strips every non-digit character from phone.
func PhoneDigits(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
