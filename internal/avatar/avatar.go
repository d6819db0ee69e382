// Package avatar stores contact avatar images and links them to contact records.
//
// An upload is validated (presence, owning contact, media type, size), written
// under a collision-resistant name, and then linked to the contact. When the
// link fails the new file is removed again; when it succeeds the previous
// avatar file is removed. Both cleanups are best-effort and only logged.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/HerbHall/phonebook/internal/apierr"
	"github.com/HerbHall/phonebook/internal/services"
	"github.com/HerbHall/phonebook/pkg/models"
	"github.com/benbjohnson/clock"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultMaxBytes is the largest accepted avatar (2 MiB).
const DefaultMaxBytes int64 = 2 << 20

// allowedTypes maps accepted media types to the extension used when the
// uploaded file name carries none.
var allowedTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

var allowedExts = map[string]bool{"jpeg": true, "jpg": true, "png": true, "webp": true}

var uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "phonebook",
	Subsystem: "avatar",
	Name:      "uploads_total",
	Help:      "Avatar uploads by outcome.",
}, []string{"result"})

// ContactStore is the subset of the contact repository the manager needs.
type ContactStore interface {
	Get(ctx context.Context, id string) (*models.Contact, error)
	SwapAvatar(ctx context.Context, id string, avatar *string) (string, error)
}

// Config locates avatar files.
type Config struct {
	Dir        string // Directory on the filesystem holding the files.
	PublicPath string // URL prefix under which the files are served.
	MaxBytes   int64  // Size limit; DefaultMaxBytes when zero.
}

// File is one uploaded image.
type File struct {
	Name        string // Client-supplied file name, used for the extension.
	ContentType string // Declared media type; may be empty.
	Data        []byte
}

// Manager validates, stores and links avatar images.
type Manager struct {
	fs       afero.Fs
	contacts ContactStore
	cfg      Config
	clock    clock.Clock
	logger   *zap.Logger

	mu        sync.Mutex
	lastToken int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used to derive file name tokens.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager returns a Manager storing files on fs.
func NewManager(fs afero.Fs, contacts ContactStore, cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.PublicPath == "" {
		cfg.PublicPath = "/avatars"
	}
	cfg.PublicPath = "/" + strings.Trim(cfg.PublicPath, "/")
	m := &Manager{
		fs:       fs,
		contacts: contacts,
		cfg:      cfg,
		clock:    clock.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxBytes returns the configured size limit.
func (m *Manager) MaxBytes() int64 { return m.cfg.MaxBytes }

// PublicPath returns the URL prefix of avatar references.
func (m *Manager) PublicPath() string { return m.cfg.PublicPath }

// FS returns a read-only view of the avatar directory, for serving files.
func (m *Manager) FS() afero.Fs {
	return afero.NewReadOnlyFs(afero.NewBasePathFs(m.fs, m.cfg.Dir))
}

// Upload stores f as the avatar of contactID and returns its public reference.
func (m *Manager) Upload(ctx context.Context, contactID string, f File) (string, error) {
	ref, err := m.upload(ctx, contactID, f)
	if err != nil {
		uploadsTotal.WithLabelValues(outcome(err)).Inc()
		return "", err
	}
	uploadsTotal.WithLabelValues("ok").Inc()
	return ref, nil
}

func (m *Manager) upload(ctx context.Context, contactID string, f File) (string, error) {
	var missing []apierr.FieldError
	if len(f.Data) == 0 {
		missing = append(missing, apierr.FieldError{Field: "avatar", Message: "file is required"})
	}
	if strings.TrimSpace(contactID) == "" {
		missing = append(missing, apierr.FieldError{Field: "id", Message: "contact id is required"})
	}
	if len(missing) > 0 {
		return "", apierr.NewValidation(missing...)
	}

	contact, err := m.lookup(ctx, contactID)
	if err != nil {
		return "", err
	}

	ext, err := m.validateType(f)
	if err != nil {
		return "", err
	}
	if int64(len(f.Data)) > m.cfg.MaxBytes {
		return "", fmt.Errorf("avatar is %d bytes, limit is %d: %w", len(f.Data), m.cfg.MaxBytes, apierr.ErrPayloadTooLarge)
	}

	if err := m.fs.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create avatar dir: %v: %w", err, apierr.ErrStorage)
	}

	name := fmt.Sprintf("avatar_%s_%d.%s", contact.ID, m.nextToken(), ext)
	filePath := path.Join(m.cfg.Dir, name)
	if err := afero.WriteFile(m.fs, filePath, f.Data, 0o644); err != nil {
		return "", fmt.Errorf("write avatar: %v: %w", err, apierr.ErrStorage)
	}

	ref := path.Join(m.cfg.PublicPath, name)
	old, err := m.contacts.SwapAvatar(ctx, contact.ID, &ref)
	if err != nil {
		if rmErr := m.fs.Remove(filePath); rmErr != nil {
			m.logger.Error("failed to remove orphaned avatar",
				zap.String("file", filePath),
				zap.Error(rmErr),
			)
		}
		if errors.Is(err, services.ErrNotFound) {
			return "", fmt.Errorf("contact %s: %w", contact.ID, apierr.ErrNotFound)
		}
		return "", fmt.Errorf("link avatar: %v: %w", err, apierr.ErrStorage)
	}

	if old != "" && old != ref {
		if err := m.Remove(ctx, old); err != nil {
			m.logger.Warn("failed to remove previous avatar",
				zap.String("contact_id", contact.ID),
				zap.String("avatar", old),
				zap.Error(err),
			)
		}
	}

	m.logger.Info("avatar uploaded",
		zap.String("contact_id", contact.ID),
		zap.String("avatar", ref),
		zap.Int("bytes", len(f.Data)),
	)
	return ref, nil
}

// Remove deletes the file behind ref. References outside the public path
// are rejected; a file that is already gone is not an error.
func (m *Manager) Remove(_ context.Context, ref string) error {
	name, ok := m.fileName(ref)
	if !ok {
		return fmt.Errorf("avatar reference %q is outside %s", ref, m.cfg.PublicPath)
	}
	err := m.fs.Remove(path.Join(m.cfg.Dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove avatar %q: %w", ref, err)
	}
	return nil
}

// fileName extracts the bare file name from a public reference.
func (m *Manager) fileName(ref string) (string, bool) {
	name, found := strings.CutPrefix(ref, m.cfg.PublicPath+"/")
	if !found || name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", false
	}
	return name, true
}

func (m *Manager) lookup(ctx context.Context, id string) (*models.Contact, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apierr.NewValidation(apierr.FieldError{Field: "id", Message: "must be a valid contact id"})
	}
	c, err := m.contacts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, fmt.Errorf("contact %s: %w", id, apierr.ErrNotFound)
		}
		return nil, fmt.Errorf("get contact: %v: %w", err, apierr.ErrStorage)
	}
	return c, nil
}

// validateType checks the declared type, the file extension and the sniffed
// content against the allow-set and returns the extension to store under.
func (m *Manager) validateType(f File) (string, error) {
	declared := strings.ToLower(strings.TrimSpace(f.ContentType))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared != "" && declared != "application/octet-stream" {
		if _, ok := allowedTypes[declared]; !ok {
			return "", fmt.Errorf("media type %q: %w", declared, apierr.ErrUnsupportedMediaType)
		}
	}

	sniffed := mimetype.Detect(f.Data).String()
	fallbackExt, ok := allowedTypes[sniffed]
	if !ok {
		return "", fmt.Errorf("content type %q: %w", sniffed, apierr.ErrUnsupportedMediaType)
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(f.Name), "."))
	if ext == "" {
		return fallbackExt, nil
	}
	if !allowedExts[ext] {
		return "", fmt.Errorf("extension %q: %w", ext, apierr.ErrUnsupportedMediaType)
	}
	return ext, nil
}

// nextToken returns a strictly increasing millisecond timestamp.
func (m *Manager) nextToken() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.clock.Now().UnixMilli()
	if t <= m.lastToken {
		t = m.lastToken + 1
	}
	m.lastToken = t
	return t
}

func outcome(err error) string {
	switch {
	case errors.Is(err, apierr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apierr.ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, apierr.ErrUnsupportedMediaType):
		return "unsupported_type"
	case errors.Is(err, apierr.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
