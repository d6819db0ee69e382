package contacts

import (
	"context"
	"fmt"
	"net/http"

	"github.com/HerbHall/phonebook/internal/avatar"
	"github.com/HerbHall/phonebook/internal/services"
	"github.com/HerbHall/phonebook/pkg/models"
	pkgplugin "github.com/HerbHall/phonebook/pkg/plugin"
	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Fallbacks used when the plugin config leaves a key unset.
const (
	defaultAvatarDir  = "public/avatars"
	defaultPublicPath = "/avatars"
)

var (
	_ pkgplugin.Plugin        = (*Plugin)(nil)
	_ pkgplugin.HealthChecker = (*Plugin)(nil)
	_ pkgplugin.Validator     = (*Plugin)(nil)
	_ pkgplugin.AssetProvider = (*Plugin)(nil)
)

// Plugin serves the contact store and avatar uploads.
type Plugin struct {
	store        pkgplugin.Store
	fs           afero.Fs
	clock        clock.Clock
	events       pkgplugin.EventBus
	exposeErrors bool

	cfg          *viper.Viper
	logger       *zap.Logger
	service      *Service
	avatars      *avatar.Manager
	avatarDir    string
	defaultLimit int
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithClock sets the clock used for avatar file names.
func WithClock(c clock.Clock) Option {
	return func(p *Plugin) { p.clock = c }
}

// WithEventBus publishes contact change events on bus.
func WithEventBus(bus pkgplugin.EventBus) Option {
	return func(p *Plugin) { p.events = bus }
}

// WithExposeErrors includes internal error detail in 5xx responses.
func WithExposeErrors(expose bool) Option {
	return func(p *Plugin) { p.exposeErrors = expose }
}

// New creates the contacts plugin. Avatar files are stored on fs.
func New(store pkgplugin.Store, fs afero.Fs, opts ...Option) *Plugin {
	p := &Plugin{
		store: store,
		fs:    fs,
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Name() string    { return "contacts" }
func (p *Plugin) Version() string { return "1.0.0" }

// Init runs the contact migrations and wires the service and avatar manager.
func (p *Plugin) Init(cfg *viper.Viper, logger *zap.Logger) error {
	p.cfg = cfg
	p.logger = logger

	policy, err := ParseUniquenessPolicy(cfg.GetString("phone_uniqueness"))
	if err != nil {
		return err
	}

	p.defaultLimit = models.DefaultLimit
	if cfg.IsSet("default_limit") {
		p.defaultLimit = cfg.GetInt("default_limit")
	}

	p.avatarDir = cfg.GetString("avatar.dir")
	if p.avatarDir == "" {
		p.avatarDir = defaultAvatarDir
	}
	publicPath := cfg.GetString("avatar.public_path")
	if publicPath == "" {
		publicPath = defaultPublicPath
	}

	repo, err := services.NewSQLiteContactRepository(context.Background(), p.store)
	if err != nil {
		return fmt.Errorf("contact repository: %w", err)
	}

	p.avatars = avatar.NewManager(p.fs, repo, avatar.Config{
		Dir:        p.avatarDir,
		PublicPath: publicPath,
		MaxBytes:   cfg.GetInt64("avatar.max_bytes"),
	}, logger.Named("avatar"), avatar.WithClock(p.clock))

	svcOpts := []ServiceOption{
		WithUniqueness(policy),
		WithAssetRemover(p.avatars),
	}
	if p.events != nil {
		svcOpts = append(svcOpts, WithPublisher(p.events))
	}
	p.service = NewService(repo, logger, svcOpts...)

	logger.Info("contacts configured",
		zap.String("phone_uniqueness", string(policy)),
		zap.Int("default_limit", p.defaultLimit),
		zap.String("avatar_dir", p.avatarDir),
	)
	return nil
}

// ValidateConfig implements pkgplugin.Validator.
func (p *Plugin) ValidateConfig() error {
	if p.defaultLimit < 1 || p.defaultLimit > models.MaxLimit {
		return fmt.Errorf("default_limit must be between 1 and %d, got %d", models.MaxLimit, p.defaultLimit)
	}
	return nil
}

// Start creates the avatar directory.
func (p *Plugin) Start(_ context.Context) error {
	if err := p.fs.MkdirAll(p.avatarDir, 0o755); err != nil {
		return fmt.Errorf("create avatar dir %q: %w", p.avatarDir, err)
	}
	return nil
}

func (p *Plugin) Stop() error { return nil }

// Service returns the contact service. Nil before Init.
func (p *Plugin) Service() *Service { return p.service }

// Avatars returns the avatar manager. Nil before Init.
func (p *Plugin) Avatars() *avatar.Manager { return p.avatars }

// Health implements pkgplugin.HealthChecker.
func (p *Plugin) Health(ctx context.Context) pkgplugin.HealthStatus {
	n, err := p.service.Count(ctx)
	if err != nil {
		return pkgplugin.HealthStatus{Status: "unhealthy", Message: err.Error()}
	}
	schema, err := p.store.SchemaVersion(ctx, "contacts")
	if err != nil {
		return pkgplugin.HealthStatus{Status: "unhealthy", Message: err.Error()}
	}
	return pkgplugin.HealthStatus{
		Status: "ok",
		Details: map[string]string{
			"contacts":       fmt.Sprint(n),
			"schema_version": fmt.Sprint(schema),
		},
	}
}

// Assets serves stored avatar files read-only under the public path.
func (p *Plugin) Assets() (string, http.Handler) {
	prefix := p.avatars.PublicPath()
	files := http.FileServer(afero.NewHttpFs(p.avatars.FS()).Dir("/"))
	return prefix, http.StripPrefix(prefix, files)
}
