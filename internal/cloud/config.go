package cloud

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	DriverTencent = "tencent"
	DriverFixture = "fixture"

	DefaultRegion          = "ap-seoul"
	DefaultRequestTimeout  = 20 * time.Second
	DefaultListConcurrency = 10
)

// Config selects and configures the provider backend.
type Config struct {
	Driver      string
	FixturePath string
	Tencent     TencentConfig
	// Enabled switches optional services off regardless of what the backend
	// supports.
	Enabled Capabilities
}

// TencentConfig stores credentials and tuning for Tencent Cloud.
type TencentConfig struct {
	SecretID        string
	SecretKey       string
	Region          string
	RequestTimeout  time.Duration
	CdnDomain       string
	CdnAppName      string
	ListConcurrency int
}

// Enabled reports whether credentials have been supplied.
func (c TencentConfig) Enabled() bool {
	return len(c.missingRequiredFields()) == 0
}

// Validate ensures the Tencent configuration is usable.
func (c TencentConfig) Validate() error {
	if missing := c.missingRequiredFields(); len(missing) > 0 {
		return fmt.Errorf("%w: missing tencent configuration: %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%w: request timeout cannot be negative", ErrConfiguration)
	}
	if c.ListConcurrency < 0 {
		return fmt.Errorf("%w: list concurrency cannot be negative", ErrConfiguration)
	}
	return nil
}

func (c TencentConfig) missingRequiredFields() []string {
	missing := make([]string, 0, 2)
	if strings.TrimSpace(c.SecretID) == "" {
		missing = append(missing, "LIVEWATCH_TENCENT_SECRET_ID")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		missing = append(missing, "LIVEWATCH_TENCENT_SECRET_KEY")
	}
	return missing
}

func (c TencentConfig) withDefaults() TencentConfig {
	if strings.TrimSpace(c.Region) == "" {
		c.Region = DefaultRegion
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ListConcurrency == 0 {
		c.ListConcurrency = DefaultListConcurrency
	}
	if strings.TrimSpace(c.CdnAppName) == "" {
		c.CdnAppName = "live"
	}
	return c
}

// Validate ensures the selected driver has what it needs.
func (c Config) Validate() error {
	switch c.driver() {
	case DriverTencent:
		return c.Tencent.Validate()
	case DriverFixture:
		if strings.TrimSpace(c.FixturePath) == "" {
			return fmt.Errorf("%w: fixture driver requires a fixture path", ErrConfiguration)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown provider driver %q", ErrConfiguration, c.Driver)
	}
}

func (c Config) driver() string {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" {
		return DriverTencent
	}
	return driver
}

// New builds the configured provider. Configuration problems are returned
// here so they surface at startup rather than per call.
func New(cfg Config, logger *slog.Logger) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.driver() {
	case DriverFixture:
		provider, err := LoadStaticProvider(cfg.FixturePath)
		if err != nil {
			return nil, err
		}
		provider.caps = provider.caps.Restrict(cfg.Enabled)
		return provider, nil
	case DriverTencent:
		provider, err := NewTencentProvider(cfg.Tencent, logger)
		if err != nil {
			return nil, err
		}
		provider.caps = provider.caps.Restrict(cfg.Enabled)
		return provider, nil
	}
	return nil, errors.New("unreachable provider driver")
}
