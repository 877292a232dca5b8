package config

import (
	"strings"
	"time"

	"github.com/target/catalog-sync/internal/domain/model"
)

// UpstreamConfig configures the commerce API client.
type UpstreamConfig struct {
	APIVersion string        `env:"API_VERSION" envDefault:"2024-01"`
	Timeout    time.Duration `env:"TIMEOUT"     envDefault:"10s"`
	// MaxAttempts caps attempts per call, first try included.
	MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"3"`
	// RateLimitDelay is the wait after a 429 that carries no Retry-After header.
	RateLimitDelay time.Duration `env:"RATE_LIMIT_DELAY" envDefault:"1100ms"`
	// RetryDelay is the wait after a 5xx or transport failure.
	RetryDelay time.Duration `env:"RETRY_DELAY" envDefault:"1s"`
	// MinCallSpacing is the minimum gap between write calls to one store. Zero or a negative value
	// disables spacing; Sanitize normalises both to -1, which the client reads as "off".
	MinCallSpacing time.Duration `env:"MIN_CALL_SPACING" envDefault:"500ms"`
	PageSize       int           `env:"PAGE_SIZE"        envDefault:"250"`
	// MainMaxPages and TargetMaxPages bound catalog pagination; 0 follows every page.
	MainMaxPages   int `env:"MAIN_MAX_PAGES"   envDefault:"0"`
	TargetMaxPages int `env:"TARGET_MAX_PAGES" envDefault:"0"`
}

// Sanitize applies guardrails to upstream configuration values.
func (u *UpstreamConfig) Sanitize() {
	u.APIVersion = strings.TrimSpace(u.APIVersion)
	if u.APIVersion == "" {
		u.APIVersion = "2024-01"
	}
	if u.Timeout <= 0 {
		u.Timeout = 10 * time.Second
	}
	if u.MaxAttempts < 1 {
		u.MaxAttempts = 1
	}
	if u.PageSize < 1 || u.PageSize > 250 {
		u.PageSize = 250
	}
	if u.MinCallSpacing <= 0 {
		u.MinCallSpacing = -1
	}
	if u.MainMaxPages < 0 {
		u.MainMaxPages = 0
	}
	if u.TargetMaxPages < 0 {
		u.TargetMaxPages = 0
	}
}

// MainStoreConfig identifies the authoritative catalog every reseller store is synced from.
type MainStoreConfig struct {
	Domain      string `env:"DOMAIN"`
	AccessToken string `env:"ACCESS_TOKEN"`
}

// Sanitize normalises the main store domain.
func (m *MainStoreConfig) Sanitize() {
	m.Domain = model.NormalizeDomain(m.Domain)
	m.AccessToken = strings.TrimSpace(m.AccessToken)
}

// Configured reports whether both the domain and the token are set.
func (m *MainStoreConfig) Configured() bool {
	return m.Domain != "" && m.AccessToken != ""
}

// Credentials returns the main store API credentials.
func (m *MainStoreConfig) Credentials() model.Credentials {
	return model.Credentials{Domain: m.Domain, AccessToken: m.AccessToken}
}
