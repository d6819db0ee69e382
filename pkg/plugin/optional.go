package plugin

import (
	"context"
	"net/http"
)

// HealthChecker is implemented by plugins that report their health status.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// Validator is implemented by plugins that validate their config post-init.
type Validator interface {
	ValidateConfig() error
}

// AssetProvider is implemented by plugins that serve static files outside
// the /api/v1 tree. Prefix is a URL path such as "/avatars".
type AssetProvider interface {
	Assets() (prefix string, handler http.Handler)
}
