package cache

import "github.com/HerbHall/phonebook/pkg/models"

// Action is a typed change request applied by Reduce.
type Action interface {
	isAction()
}

// KeywordChanged records the keyword being typed. It does not fetch.
type KeywordChanged struct{ Keyword string }

// SortChanged sets the sort field and direction. It does not fetch.
type SortChanged struct {
	SortBy   string
	SortMode models.SortDirection
}

// QueryStarted begins a list request and makes it the newest generation.
// Append requests load Query.Page after the cached items.
type QueryStarted struct {
	Query  models.PageQuery
	Append bool
}

// QuerySucceeded delivers the result of generation Generation for Query.
type QuerySucceeded struct {
	Generation uint64
	Query      models.PageQuery
	Append     bool
	Page       *models.Page[models.Contact]
}

// QueryFailed reports a failed list request of generation Generation.
type QueryFailed struct {
	Generation uint64
	Err        error
}

// CurrentLoaded stores a contact fetched by id.
type CurrentLoaded struct{ Contact models.Contact }

// CreateSucceeded adds a contact the server created.
type CreateSucceeded struct{ Contact models.Contact }

// RequestFailed records a failed non-list request.
type RequestFailed struct{ Err error }

// UpdateDispatched overlays Patch onto the cached contact before the server
// answers.
type UpdateDispatched struct {
	ID    string
	Seq   uint64
	Patch models.ContactPatch
}

// UpdateSucceeded replaces the cached contact with the server's record.
type UpdateSucceeded struct {
	ID      string
	Seq     uint64
	Contact models.Contact
}

// UpdateFailed restores the contact from its snapshot.
type UpdateFailed struct {
	ID  string
	Seq uint64
	Err error
}

// DeleteDispatched removes the contact before the server answers.
type DeleteDispatched struct {
	ID  string
	Seq uint64
}

// DeleteSucceeded confirms a delete.
type DeleteSucceeded struct {
	ID  string
	Seq uint64
}

// DeleteFailed re-inserts the contact at its previous position.
type DeleteFailed struct {
	ID  string
	Seq uint64
	Err error
}

// ErrorCleared resets the error and forgets settled mutations.
type ErrorCleared struct{}

func (KeywordChanged) isAction()   {}
func (SortChanged) isAction()      {}
func (QueryStarted) isAction()     {}
func (QuerySucceeded) isAction()   {}
func (QueryFailed) isAction()      {}
func (CurrentLoaded) isAction()    {}
func (CreateSucceeded) isAction()  {}
func (RequestFailed) isAction()    {}
func (UpdateDispatched) isAction() {}
func (UpdateSucceeded) isAction()  {}
func (UpdateFailed) isAction()     {}
func (DeleteDispatched) isAction() {}
func (DeleteSucceeded) isAction()  {}
func (DeleteFailed) isAction()     {}
func (ErrorCleared) isAction()     {}
