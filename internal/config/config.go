package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/terraconstructs/gatehouse/pkg/agent"
	"github.com/terraconstructs/gatehouse/pkg/credential"
	"github.com/terraconstructs/gatehouse/pkg/resource"
	"github.com/terraconstructs/gatehouse/pkg/session"
)

// EnvPrefix is prepended to every key when read from the environment,
// e.g. GATEHOUSE_SESSION_SECONDS_TO_LIVE.
const EnvPrefix = "GATEHOUSE"

// MinInternalKeyLength is the shortest accepted internal pre-shared key.
const MinInternalKeyLength = 32

// Config holds the application configuration
type Config struct {
	// Database connection string (DSN). postgres:// URLs use pgdriver,
	// anything else is opened as SQLite.
	DatabaseURL string

	// Redis URL. When set, sessions live in Redis instead of the database.
	RedisURL string

	// Server bind address (host:port)
	ServerAddr string

	Environment string
	LogLevel    string

	// Debug relaxes cookie security, CORS and client address checks for
	// local development.
	Debug bool

	Session  SessionConfig
	Internal InternalConfig
	CORS     CORSConfig
	IP       IPConfig
	Signin   SigninConfig

	Observability ObservabilityConfig

	// MachineAgentID identifies the service's own agent.
	MachineAgentID string

	// Perspectives names the perspective ids sessions may be opened under.
	Perspectives map[session.Perspective]string

	// PerspectiveRules restricts which perspectives may call which secure
	// endpoints. Empty means every configured perspective may call any of them.
	PerspectiveRules []resource.PerspectiveRule
}

// SessionConfig names the session credentials and sets their lifetime.
type SessionConfig struct {
	SecondsToLive      int
	IDName             string
	CookieKeyName      string
	APIKeyName         string
	LoggedInCookieName string
	SigninPath         string
}

// InternalConfig configures service-to-service calls.
type InternalConfig struct {
	KeyHeader            string
	Key                  string
	ForwardedAgentHeader string
}

type CORSConfig struct {
	RestrictedOrigin    string
	LocalOrigin         string
	DisableRestrictions bool
}

type IPConfig struct {
	BoundaryHeader string
	DebugAddress   string
}

// ObservabilityConfig selects where traces are exported. An empty
// OTLPEndpoint keeps spans in process.
type ObservabilityConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	OTLPProtocol   string
	OTLPInsecure   bool
}

// OTLPProtocolHTTP is the only supported OTLP transport.
const OTLPProtocolHTTP = "http/protobuf"

// SigninConfig bounds failed sign-in attempts per client address.
type SigninConfig struct {
	MaxAttempts      int
	Window           time.Duration
	TrackedAddresses int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "file:gatehouse.db?cache=shared")
	v.SetDefault("redis_url", "")
	v.SetDefault("server_addr", "localhost:8080")
	v.SetDefault("environment", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("debug", false)

	v.SetDefault("session.seconds_to_live", 86400)
	v.SetDefault("session.id_name", "session_id")
	v.SetDefault("session.cookie_key_name", "session_key")
	v.SetDefault("session.api_key_name", "x-api-key")
	v.SetDefault("session.logged_in_cookie_name", "logged_in")
	v.SetDefault("session.signin_path", "/signin")

	v.SetDefault("internal.key_header", "x-internal-psk")
	v.SetDefault("internal.key", "")
	v.SetDefault("internal.forwarded_agent_header", "x-forwarded-agent")

	v.SetDefault("machine_agent_id", agent.SystemID)

	v.SetDefault("cors.restricted_origin", "")
	v.SetDefault("cors.local_origin", "http://localhost:5173")
	v.SetDefault("cors.disable_restrictions", false)

	v.SetDefault("ip.boundary_header", "x-forwarded-for")
	v.SetDefault("ip.debug_address", "127.0.0.1")

	v.SetDefault("signin.max_attempts", 10)
	v.SetDefault("signin.window", 15*time.Minute)
	v.SetDefault("signin.tracked_addresses", 4096)

	v.SetDefault("observability.service_name", "gatehouse")
	v.SetDefault("observability.service_version", "dev")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", OTLPProtocolHTTP)
	v.SetDefault("observability.otlp_insecure", false)

	v.SetDefault("perspectives", map[string]string{"1": "customer", "2": "administrator"})
}

// Load reads configuration from the global viper instance: defaults, then
// any config file the caller loaded, then GATEHOUSE_ environment variables.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		DatabaseURL: v.GetString("database_url"),
		RedisURL:    v.GetString("redis_url"),
		ServerAddr:  v.GetString("server_addr"),
		Environment: v.GetString("environment"),
		LogLevel:    v.GetString("log_level"),
		Debug:       v.GetBool("debug"),
		Session: SessionConfig{
			SecondsToLive:      v.GetInt("session.seconds_to_live"),
			IDName:             v.GetString("session.id_name"),
			CookieKeyName:      v.GetString("session.cookie_key_name"),
			APIKeyName:         v.GetString("session.api_key_name"),
			LoggedInCookieName: v.GetString("session.logged_in_cookie_name"),
			SigninPath:         v.GetString("session.signin_path"),
		},
		Internal: InternalConfig{
			KeyHeader:            v.GetString("internal.key_header"),
			Key:                  v.GetString("internal.key"),
			ForwardedAgentHeader: v.GetString("internal.forwarded_agent_header"),
		},
		MachineAgentID: v.GetString("machine_agent_id"),
		CORS: CORSConfig{
			RestrictedOrigin:    v.GetString("cors.restricted_origin"),
			LocalOrigin:         v.GetString("cors.local_origin"),
			DisableRestrictions: v.GetBool("cors.disable_restrictions"),
		},
		IP: IPConfig{
			BoundaryHeader: v.GetString("ip.boundary_header"),
			DebugAddress:   v.GetString("ip.debug_address"),
		},
		Signin: SigninConfig{
			MaxAttempts:      v.GetInt("signin.max_attempts"),
			Window:           v.GetDuration("signin.window"),
			TrackedAddresses: v.GetInt("signin.tracked_addresses"),
		},
		Observability: ObservabilityConfig{
			ServiceName:    v.GetString("observability.service_name"),
			ServiceVersion: v.GetString("observability.service_version"),
			OTLPEndpoint:   v.GetString("observability.otlp_endpoint"),
			OTLPProtocol:   v.GetString("observability.otlp_protocol"),
			OTLPInsecure:   v.GetBool("observability.otlp_insecure"),
		},
	}
	cfg.Observability.Environment = cfg.Environment

	perspectives, err := parsePerspectives(v.GetStringMapString("perspectives"))
	if err != nil {
		return nil, err
	}
	cfg.Perspectives = perspectives

	if err := v.UnmarshalKey("perspective_rules", &cfg.PerspectiveRules); err != nil {
		return nil, fmt.Errorf("perspective_rules: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parsePerspectives(raw map[string]string) (map[session.Perspective]string, error) {
	out := make(map[session.Perspective]string, len(raw))
	for k, name := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("perspectives: id %q is not an integer", k)
		}
		out[session.Perspective(id)] = name
	}
	return out, nil
}

// Validate checks the values Load cannot default its way out of.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.Session.SecondsToLive <= 0 {
		return fmt.Errorf("session.seconds_to_live must be positive")
	}
	for key, name := range map[string]string{
		"session.id_name":                 c.Session.IDName,
		"session.cookie_key_name":         c.Session.CookieKeyName,
		"session.api_key_name":            c.Session.APIKeyName,
		"session.logged_in_cookie_name":   c.Session.LoggedInCookieName,
		"internal.key_header":             c.Internal.KeyHeader,
		"internal.forwarded_agent_header": c.Internal.ForwardedAgentHeader,
	} {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
	}
	if c.Internal.Key != "" && len(c.Internal.Key) < MinInternalKeyLength {
		return fmt.Errorf("internal.key must be at least %d characters", MinInternalKeyLength)
	}
	if _, err := uuid.Parse(c.MachineAgentID); err != nil {
		return fmt.Errorf("machine_agent_id: %w", err)
	}
	if c.Signin.MaxAttempts <= 0 || c.Signin.TrackedAddresses <= 0 || c.Signin.Window <= 0 {
		return fmt.Errorf("signin limits must be positive")
	}
	if len(c.Perspectives) == 0 {
		return fmt.Errorf("at least one perspective must be configured")
	}
	if c.Observability.OTLPEndpoint != "" && c.Observability.OTLPProtocol != OTLPProtocolHTTP {
		return fmt.Errorf("observability.otlp_protocol %q is not supported, use %s",
			c.Observability.OTLPProtocol, OTLPProtocolHTTP)
	}
	return nil
}

// Names returns the configured credential names.
func (c *Config) Names() credential.Names {
	return credential.Names{
		SessionID:  c.Session.IDName,
		SessionKey: c.Session.CookieKeyName,
		APIKey:     c.Session.APIKeyName,
		LoggedIn:   c.Session.LoggedInCookieName,
	}
}

// SessionSettings returns the resolver settings.
func (c *Config) SessionSettings() session.Settings {
	return session.Settings{
		Names:      c.Names(),
		TTL:        time.Duration(c.Session.SecondsToLive) * time.Second,
		SigninPath: c.Session.SigninPath,
	}
}

// InternalKey returns the internal key. It is unconfigured when no key is set.
func (c *Config) InternalKey() credential.InternalKey {
	return credential.NewInternalKey(c.Internal.KeyHeader, c.Internal.Key)
}

func (c *Config) CORSPolicy() resource.CORSPolicy {
	return resource.CORSPolicy{
		RestrictedOrigin:    c.CORS.RestrictedOrigin,
		LocalOrigin:         c.CORS.LocalOrigin,
		DisableRestrictions: c.CORS.DisableRestrictions,
		Debug:               c.Debug,
		Names:               c.Names(),
	}
}

func (c *Config) IPAddressSource() credential.IPAddressSource {
	return credential.IPAddressSource{
		BoundaryHeader: c.IP.BoundaryHeader,
		Debug:          c.Debug,
		DebugAddress:   c.IP.DebugAddress,
	}
}

// MachineAgent is the agent the service acts as on its own behalf.
func (c *Config) MachineAgent() agent.Agent {
	return agent.Machine(c.MachineAgentID)
}

// PerspectiveIDs returns the configured perspective ids in ascending order.
func (c *Config) PerspectiveIDs() []session.Perspective {
	ids := make([]session.Perspective, 0, len(c.Perspectives))
	for id := range c.Perspectives {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// PerspectivePolicy builds the policy secure endpoints check sessions
// against: casbin rules when any are configured, otherwise every configured
// perspective.
func (c *Config) PerspectivePolicy() (resource.PerspectivePolicy, error) {
	if len(c.PerspectiveRules) == 0 {
		return resource.AllowPerspectives(c.PerspectiveIDs()...), nil
	}
	return resource.NewCasbinPerspectives(c.Perspectives, c.PerspectiveRules)
}

// PerspectiveByName looks up a perspective id by name or number.
func (c *Config) PerspectiveByName(name string) (session.Perspective, error) {
	for id, n := range c.Perspectives {
		if strings.EqualFold(n, name) {
			return id, nil
		}
	}
	if id, err := strconv.Atoi(name); err == nil {
		if _, ok := c.Perspectives[session.Perspective(id)]; ok {
			return session.Perspective(id), nil
		}
	}
	return 0, fmt.Errorf("unknown perspective %q", name)
}
