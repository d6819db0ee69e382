// Package contacts implements the contact store: validated create, read,
// update and delete of phonebook records, paginated search, and the HTTP
// plugin exposing them.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/HerbHall/phonebook/internal/apierr"
	"github.com/HerbHall/phonebook/internal/services"
	"github.com/HerbHall/phonebook/pkg/models"
	pkgplugin "github.com/HerbHall/phonebook/pkg/plugin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UniquenessPolicy controls whether a phone number may be shared by contacts.
type UniquenessPolicy string

const (
	// UniquenessOff allows duplicate phone numbers.
	UniquenessOff UniquenessPolicy = "off"
	// UniquenessExact rejects a phone whose digits equal a stored phone's digits.
	UniquenessExact UniquenessPolicy = "exact"
	// UniquenessSubstring rejects a phone whose digits occur inside a stored
	// phone's digits. A short number therefore collides with a longer one.
	UniquenessSubstring UniquenessPolicy = "substring"
)

// ParseUniquenessPolicy parses a configured policy name. Empty means exact.
func ParseUniquenessPolicy(s string) (UniquenessPolicy, error) {
	switch p := UniquenessPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return UniquenessExact, nil
	case UniquenessOff, UniquenessExact, UniquenessSubstring:
		return p, nil
	default:
		return "", fmt.Errorf("unknown phone uniqueness policy %q (want off, exact or substring)", s)
	}
}

// AssetRemover deletes a stored avatar by its public reference.
type AssetRemover interface {
	Remove(ctx context.Context, ref string) error
}

// Service validates contact requests and applies them to the repository.
type Service struct {
	repo     services.ContactRepository
	assets   AssetRemover
	policy   UniquenessPolicy
	validate *validator.Validate
	events   pkgplugin.EventBus
	logger   *zap.Logger

	// writeMu makes the phone uniqueness check and the write that follows
	// one step.
	writeMu sync.Mutex
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithUniqueness sets the phone uniqueness policy.
func WithUniqueness(p UniquenessPolicy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// WithAssetRemover sets where avatar files of updated and deleted contacts
// are cleaned up.
func WithAssetRemover(a AssetRemover) ServiceOption {
	return func(s *Service) { s.assets = a }
}

// WithPublisher publishes contact.created, contact.updated and
// contact.deleted events on bus.
func WithPublisher(bus pkgplugin.EventBus) ServiceOption {
	return func(s *Service) { s.events = bus }
}

// NewService creates a Service over repo.
func NewService(repo services.ContactRepository, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:     repo,
		policy:   UniquenessExact,
		validate: newValidator(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the active phone uniqueness policy.
func (s *Service) Policy() UniquenessPolicy { return s.policy }

// List returns one page of contacts matching q.
func (s *Service) List(ctx context.Context, q models.PageQuery) (*models.Page[models.Contact], error) {
	q.Keyword = strings.TrimSpace(q.Keyword)
	if q.SortBy == "" {
		q.SortBy = models.SortByName
	}
	if q.SortMode != models.SortDesc {
		q.SortMode = models.SortAsc
	}
	switch {
	case q.Page < 1:
		return nil, fmt.Errorf("page must be at least 1, got %d: %w", q.Page, apierr.ErrInvalidQuery)
	case q.Limit < 1 || q.Limit > models.MaxLimit:
		return nil, fmt.Errorf("limit must be between 1 and %d, got %d: %w", models.MaxLimit, q.Limit, apierr.ErrInvalidQuery)
	case !services.IsContactSortField(q.SortBy):
		return nil, fmt.Errorf("cannot sort by %q: %w", q.SortBy, apierr.ErrInvalidQuery)
	}

	res, err := s.repo.List(ctx, services.ContactFilter{Keyword: q.Keyword}, services.ListOptions{
		Limit:     q.Limit,
		Offset:    q.Offset(),
		SortBy:    q.SortBy,
		SortOrder: string(q.SortMode),
	})
	if err != nil {
		return nil, fmt.Errorf("list contacts: %v: %w", err, apierr.ErrStorage)
	}
	return &models.Page[models.Contact]{
		Items:      res.Items,
		Pagination: models.NewPagination(q.Page, q.Limit, res.Total),
	}, nil
}

// Create validates in and stores it as a new contact.
func (s *Service) Create(ctx context.Context, in models.ContactInput) (*models.Contact, error) {
	in.Normalize()
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.checkPhone(ctx, in.Phone, ""); err != nil {
		return nil, err
	}

	c := models.Contact{Name: in.Name, Phone: in.Phone, Email: in.Email}
	if ref := strings.TrimSpace(valueOf(in.Avatar)); ref != "" {
		c.Avatar = &ref
	}
	if err := s.repo.Create(ctx, &c); err != nil {
		return nil, fmt.Errorf("create contact: %v: %w", err, apierr.ErrStorage)
	}

	s.logger.Info("contact created", zap.String("id", c.ID))
	s.publish(ctx, pkgplugin.TopicContactCreated, c)
	return &c, nil
}

// Get returns the contact with id.
func (s *Service) Get(ctx context.Context, id string) (*models.Contact, error) {
	if !validID(id) {
		return nil, notFound(id)
	}
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, repoError("get contact", id, err)
	}
	return c, nil
}

// Update merges patch into the stored contact and returns the result.
// Fields absent from patch keep their stored values; the avatar reference is
// only written when patch carries one.
func (s *Service) Update(ctx context.Context, id string, patch models.ContactPatch) (*models.Contact, error) {
	if !validID(id) {
		return nil, notFound(id)
	}
	patch.Normalize()
	if patch.IsEmpty() {
		return nil, apierr.NewValidation(apierr.FieldError{Message: "no fields to update"})
	}
	if err := s.validatePatch(patch); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, repoError("get contact", id, err)
	}

	merged := patch.ApplyTo(*existing)
	if models.PhoneDigits(merged.Phone) != models.PhoneDigits(existing.Phone) {
		if err := s.checkPhone(ctx, merged.Phone, id); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, &merged); err != nil {
		return nil, repoError("update contact", id, err)
	}
	if patch.Avatar != nil {
		old, err := s.repo.SwapAvatar(ctx, id, merged.Avatar)
		if err != nil {
			return nil, repoError("set avatar", id, err)
		}
		if old != "" && old != merged.AvatarRef() {
			s.removeAsset(ctx, id, old)
		}
	}

	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, repoError("get contact", id, err)
	}

	s.logger.Info("contact updated", zap.String("id", id))
	s.publish(ctx, pkgplugin.TopicContactUpdated, *updated)
	return updated, nil
}

// Delete removes the contact with id and, best-effort, its avatar file.
func (s *Service) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return notFound(id)
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return repoError("get contact", id, err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return repoError("delete contact", id, err)
	}
	if ref := existing.AvatarRef(); ref != "" {
		s.removeAsset(ctx, id, ref)
	}

	s.logger.Info("contact deleted", zap.String("id", id))
	s.publish(ctx, pkgplugin.TopicContactDeleted, *existing)
	return nil
}

// Count returns the number of stored contacts.
func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count contacts: %v: %w", err, apierr.ErrStorage)
	}
	return n, nil
}

// checkPhone enforces the uniqueness policy for phone, ignoring excludeID.
func (s *Service) checkPhone(ctx context.Context, phone, excludeID string) error {
	if s.policy == UniquenessOff {
		return nil
	}
	match := services.PhoneMatchExact
	if s.policy == UniquenessSubstring {
		match = services.PhoneMatchContains
	}

	other, err := s.repo.FindByPhoneDigits(ctx, models.PhoneDigits(phone), match, excludeID)
	switch {
	case errors.Is(err, services.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("check phone: %v: %w", err, apierr.ErrStorage)
	}
	return apierr.NewConflict(apierr.FieldError{
		Field:   "phone",
		Message: fmt.Sprintf("is already used by %s", other.Name),
	})
}

func (s *Service) removeAsset(ctx context.Context, id, ref string) {
	if s.assets == nil {
		return
	}
	if err := s.assets.Remove(ctx, ref); err != nil {
		s.logger.Warn("failed to remove avatar",
			zap.String("contact_id", id),
			zap.String("avatar", ref),
			zap.Error(err),
		)
	}
}

func (s *Service) publish(ctx context.Context, topic string, c models.Contact) {
	if s.events == nil {
		return
	}
	s.events.PublishAsync(context.WithoutCancel(ctx), pkgplugin.Event{
		Topic:   topic,
		Source:  "contacts",
		Payload: c.Clone(),
	})
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func notFound(id string) error {
	return fmt.Errorf("contact %s: %w", id, apierr.ErrNotFound)
}

func repoError(op, id string, err error) error {
	if errors.Is(err, services.ErrNotFound) {
		return notFound(id)
	}
	return fmt.Errorf("%s %s: %v: %w", op, id, err, apierr.ErrStorage)
}

func valueOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
