package models

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spike-events/spike-directory/pkg/providers"
	"gopkg.in/yaml.v3"
)

// Bootstrap policies for unknown callers while the user table is empty.
const (
	BootstrapLatched  = "latched"
	BootstrapCount    = "count"
	BootstrapDisabled = "disabled"
)

const (
	DefaultAddress     = ":3333"
	DefaultLockTTL     = 10 * 60 * time.Second
	DefaultStopTimeout = 60 * time.Second
	DefaultHTTPTimeout = 60 * time.Second
)

// DirectoryOptions options
type DirectoryOptions struct {
	Developer   bool          `yaml:"developer"`
	Address     string        `yaml:"address" validate:"required"`
	StopTimeout time.Duration `yaml:"stopTimeout"`
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
	LogLevel    string        `yaml:"logLevel" validate:"omitempty,oneof=DEBUG ERR INFO"`

	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Locks    LockConfig     `yaml:"locks"`
	Sync     SyncConfig     `yaml:"sync"`

	NatsConfig *NatsConfig `yaml:"nats"`
}

type DatabaseConfig struct {
	Provider providers.DatabaseProvider `yaml:"provider" validate:"required,oneof=postgres sqlite"`
	DSN      string                     `yaml:"dsn" validate:"required"`
}

type AuthConfig struct {
	// AdminRoles are the role slugs allowed to manage the directory.
	AdminRoles []string `yaml:"adminRoles" validate:"required,min=1,dive,required"`

	// BreakGlassUID, when set, is granted every defined role without a
	// directory lookup. Every use is logged.
	BreakGlassUID string `yaml:"breakGlassUid"`

	Bootstrap string `yaml:"bootstrap" validate:"required,oneof=latched count disabled"`

	JWT JWTConfig `yaml:"jwt"`

	// StaticTokens maps a service uid to the bcrypt hash of its secret.
	StaticTokens map[string]string `yaml:"staticTokens"`
}

type JWTConfig struct {
	HMACSecret       string `yaml:"hmacSecret"`
	RSAPublicKeyFile string `yaml:"rsaPublicKeyFile" validate:"omitempty,file"`
	Issuer           string `yaml:"issuer"`
	IgnoreExpiration bool   `yaml:"ignoreExpiration"`
}

type LockConfig struct {
	TTL       time.Duration `yaml:"ttl" validate:"required,gt=0"`
	RateLimit float64       `yaml:"rateLimit" validate:"min=0"`
	RateBurst int           `yaml:"rateBurst" validate:"min=0"`
}

type SyncConfig struct {
	UsersFile string `yaml:"usersFile" validate:"omitempty,file"`
}

type NatsConfig struct {
	LocalNats      bool   `yaml:"localNats"`
	LocalNatsDebug bool   `yaml:"localNatsDebug"`
	LocalNatsTrace bool   `yaml:"localNatsTrace"`
	NatsURL        string `yaml:"natsUrl"`
}

// DefaultOptions returns options with every optional setting filled in.
func DefaultOptions() DirectoryOptions {
	return DirectoryOptions{
		Address:     DefaultAddress,
		StopTimeout: DefaultStopTimeout,
		HTTPTimeout: DefaultHTTPTimeout,
		Database: DatabaseConfig{
			Provider: providers.SqliteProvider,
			DSN:      "directory.db",
		},
		Auth: AuthConfig{
			AdminRoles: []string{"admin"},
			Bootstrap:  BootstrapLatched,
		},
		Locks: LockConfig{
			TTL: DefaultLockTTL,
		},
	}
}

// LoadOptions reads the YAML file at path (if any) over the defaults and then
// applies environment overrides.
func LoadOptions(path string) (DirectoryOptions, error) {
	opts := DefaultOptions()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return opts, fmt.Errorf("read options %s: %w", path, err)
		}
		if err = yaml.Unmarshal(data, &opts); err != nil {
			return opts, fmt.Errorf("parse options %s: %w", path, err)
		}
	}
	if err := opts.ApplyEnv(os.LookupEnv); err != nil {
		return opts, err
	}
	return opts, nil
}

// ApplyEnv overrides options from environment variables.
func (p *DirectoryOptions) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("UM_ADMIN_ROLES"); ok && v != "" {
		p.Auth.AdminRoles = splitList(v)
	}
	if v, ok := lookup("UM_LOCK_ENTITY_DELAY"); ok && v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("UM_LOCK_ENTITY_DELAY: %w", err)
		}
		p.Locks.TTL = time.Duration(seconds) * time.Second
	}
	if v, ok := lookup("API_LOG_LEVEL"); ok {
		p.LogLevel = v
	}
	if v, ok := lookup("DATABASE_PROVIDER"); ok && v != "" {
		p.Database.Provider = providers.DatabaseProvider(v)
	}
	if v, ok := lookup("DATABASE_DSN"); ok && v != "" {
		p.Database.DSN = v
	}
	if v, ok := lookup("NATS_URL"); ok && v != "" {
		if p.NatsConfig == nil {
			p.NatsConfig = &NatsConfig{}
		}
		p.NatsConfig.NatsURL = v
	}
	if v, ok := lookup("JWT_SECRET"); ok && v != "" {
		p.Auth.JWT.HMACSecret = v
	}
	return nil
}

// IsValid validate options
func (p *DirectoryOptions) IsValid() error {
	if err := IsValid(p); err != nil {
		return err
	}
	if p.NatsConfig != nil && !p.NatsConfig.LocalNats && len(p.NatsConfig.NatsURL) == 0 {
		return fmt.Errorf("NatsURL is required")
	}
	if p.Auth.JWT.HMACSecret == "" && p.Auth.JWT.RSAPublicKeyFile == "" && len(p.Auth.StaticTokens) == 0 {
		return fmt.Errorf("at least one credential verifier must be configured")
	}
	return nil
}

// Debug reports whether verbose tracing is enabled.
func (p *DirectoryOptions) Debug() bool {
	return p.LogLevel == "DEBUG"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
