package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"obuoy/core"

	"github.com/spf13/viper"
)

// StartupMode defines how OBuoy handles unreachable dependencies at startup
type StartupMode string

const (
	// StartupModeStrict fails fast on any initialization error (default)
	StartupModeStrict StartupMode = "strict"
	// StartupModeGraceful starts with degraded functionality, logging warnings
	StartupModeGraceful StartupMode = "graceful"
)

// Variant selects one of the two startup sequences
type Variant string

const (
	// VariantFull resolves the maps key from env then config and exports the
	// MongoDB connection string in development
	VariantFull Variant = "full"
	// VariantMinimal resolves the maps key from the environment only
	VariantMinimal Variant = "minimal"
)

// Names of the configuration keys that are also environment variable names.
// They are read verbatim (no prefix) to stay compatible with existing deployments.
const (
	GoogleAPIKeyName      = "GoogleApiKey"
	MongoDBConnectionName = "MongoDBConnection"
)

// HTTPClientConfig configures one named outbound HTTP client
type HTTPClientConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	UserAgent           string        `mapstructure:"user_agent"`
}

// Config holds all configuration for the OBuoy service
type Config struct {
	// Environment is Development, Staging or Production
	Environment Environment `mapstructure:"environment"`

	// StartupMode controls how initialization failures are handled
	StartupMode StartupMode `mapstructure:"startup_mode"`

	Startup struct {
		Variant Variant `mapstructure:"variant"`
	} `mapstructure:"startup"`

	// GoogleAPIKey is the config value of GoogleApiKey. The environment
	// variable of the same name is consulted separately by the maps package.
	GoogleAPIKey string `mapstructure:"googleapikey"`

	// MongoDBConnection is the config value of MongoDBConnection
	MongoDBConnection string `mapstructure:"mongodbconnection"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // console or json, empty = by environment
	} `mapstructure:"log"`

	Server struct {
		Host                 string        `mapstructure:"host"`
		Port                 int           `mapstructure:"port" validate:"min=1,max=65535"`
		HTTPSPort            int           `mapstructure:"https_port" validate:"min=0,max=65535"`
		CertFile             string        `mapstructure:"cert_file"`
		KeyFile              string        `mapstructure:"key_file"`
		ReadTimeout          time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
		WriteTimeout         time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
		IdleTimeout          time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
		ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
		TrustProxy           bool          `mapstructure:"trust_proxy"`
		TrustedProxyNetworks []string      `mapstructure:"trusted_proxy_networks"`
		Autocert             struct {
			Enabled  bool     `mapstructure:"enabled"`
			Domains  []string `mapstructure:"domains"`
			CacheDir string   `mapstructure:"cache_dir"`
			Email    string   `mapstructure:"email"`
		} `mapstructure:"autocert"`
	} `mapstructure:"server"`

	HSTS struct {
		// Sent outside development only. Default 30 days.
		MaxAge            time.Duration `mapstructure:"max_age" validate:"gte=0"`
		IncludeSubDomains bool          `mapstructure:"include_subdomains"`
		Preload           bool          `mapstructure:"preload"`
	} `mapstructure:"hsts"`

	Antiforgery struct {
		CookieName string        `mapstructure:"cookie_name" validate:"required"`
		FieldName  string        `mapstructure:"field_name" validate:"required"`
		HeaderName string        `mapstructure:"header_name" validate:"required"`
		SigningKey string        `mapstructure:"signing_key"`
		TokenTTL   time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
	} `mapstructure:"antiforgery"`

	RateLimit struct {
		RequestsPerSecond int `mapstructure:"requests_per_second" validate:"gt=0"`
		Burst             int `mapstructure:"burst" validate:"gt=0"`
	} `mapstructure:"rate_limit"`

	MongoDB struct {
		URI         string        `mapstructure:"uri"`
		Database    string        `mapstructure:"database" validate:"required"`
		MaxPoolSize uint64        `mapstructure:"max_pool_size" validate:"gt=0"`
		Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	} `mapstructure:"mongodb"`

	Cache struct {
		LocalSize int           `mapstructure:"local_size" validate:"gt=0"`
		TTL       time.Duration `mapstructure:"ttl" validate:"gt=0"`
		Redis     struct {
			Enabled  bool   `mapstructure:"enabled"`
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
			PoolSize int    `mapstructure:"pool_size"`
		} `mapstructure:"redis"`
	} `mapstructure:"cache"`

	Maps struct {
		CenterLat float64 `mapstructure:"center_lat" validate:"gte=-90,lte=90"`
		CenterLng float64 `mapstructure:"center_lng" validate:"gte=-180,lte=180"`
		Zoom      int     `mapstructure:"zoom" validate:"min=0,max=22"`
		MapID     string  `mapstructure:"map_id"`
		ScriptURL string  `mapstructure:"script_url" validate:"required,url"`
	} `mapstructure:"maps"`

	NDBC struct {
		Enabled        bool          `mapstructure:"enabled"`
		BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
		PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
		Retention      time.Duration `mapstructure:"retention" validate:"gt=0"`
		MaxFailures    uint32        `mapstructure:"max_failures" validate:"gt=0"`
		BreakerTimeout time.Duration `mapstructure:"breaker_timeout" validate:"gt=0"`
	} `mapstructure:"ndbc"`

	HTTPClients map[string]HTTPClientConfig `mapstructure:"http_clients"`

	Secrets struct {
		Provider string `mapstructure:"provider"` // env, vault, aws
		Vault    struct {
			Address string `mapstructure:"address"`
			Token   string `mapstructure:"token"`
			Path    string `mapstructure:"path"`
		} `mapstructure:"vault"`
		AWS struct {
			Region    string `mapstructure:"region"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
			SecretID  string `mapstructure:"secret_id"`
		} `mapstructure:"aws"`
	} `mapstructure:"secrets"`

	Tracing struct {
		Enabled     bool    `mapstructure:"enabled"`
		SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
	} `mapstructure:"tracing"`
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", string(EnvProduction))
	v.SetDefault("startup_mode", string(StartupModeStrict))
	v.SetDefault("startup.variant", string(VariantFull))

	// Registered so OBUOY_GOOGLEAPIKEY / OBUOY_MONGODBCONNECTION reach Unmarshal
	v.SetDefault("googleapikey", "")
	v.SetDefault("mongodbconnection", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.https_port", 0)
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.trusted_proxy_networks", []string{})
	v.SetDefault("server.autocert.enabled", false)
	v.SetDefault("server.autocert.domains", []string{})
	v.SetDefault("server.autocert.cache_dir", "./data/autocert")

	v.SetDefault("hsts.max_age", 30*24*time.Hour)
	v.SetDefault("hsts.include_subdomains", false)
	v.SetDefault("hsts.preload", false)

	v.SetDefault("antiforgery.cookie_name", ".OBuoy.Antiforgery")
	v.SetDefault("antiforgery.field_name", "__RequestVerificationToken")
	v.SetDefault("antiforgery.header_name", "X-CSRF-Token")
	v.SetDefault("antiforgery.signing_key", "")
	v.SetDefault("antiforgery.token_ttl", 2*time.Hour)

	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb.database", "obuoy")
	v.SetDefault("mongodb.max_pool_size", 10)
	v.SetDefault("mongodb.timeout", 10*time.Second)

	v.SetDefault("cache.local_size", 1024)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 10)

	v.SetDefault("maps.center_lat", 30.0)
	v.SetDefault("maps.center_lng", -75.0)
	v.SetDefault("maps.zoom", 4)
	v.SetDefault("maps.map_id", "")
	v.SetDefault("maps.script_url", "https://maps.googleapis.com/maps/api/js")

	v.SetDefault("ndbc.enabled", true)
	v.SetDefault("ndbc.base_url", "https://www.ndbc.noaa.gov/data/realtime2/")
	v.SetDefault("ndbc.poll_interval", 10*time.Minute)
	v.SetDefault("ndbc.retention", 30*24*time.Hour)
	v.SetDefault("ndbc.max_failures", 5)
	v.SetDefault("ndbc.breaker_timeout", time.Minute)

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.vault.path", "secret/obuoy")
	v.SetDefault("secrets.aws.secret_id", "obuoy/secrets")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// loadFromEnv sets up environment variable loading
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix("OBUOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("environment", "OBUOY_ENVIRONMENT", "ENVIRONMENT")
	_ = v.BindEnv("startup_mode", "OBUOY_STARTUP_MODE")
	_ = v.BindEnv("startup.variant", "OBUOY_STARTUP_VARIANT")
}

// LoadConfig loads configuration from file and environment variables with
// the environment pinned to env. An empty env leaves it to the usual sources.
func LoadConfig(file string, env Environment) (*Config, error) {
	v := viper.New()
	if env != "" {
		v.Set("environment", string(env))
	}
	return Load(v, file)
}

// EnvironmentFromFile reads only the environment key of the config file.
// A missing file in the search paths means Production.
func EnvironmentFromFile(file string) (Environment, error) {
	v := viper.New()
	setConfigPaths(v, file)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return "", fmt.Errorf("failed to read config: %w", err)
		}
	}
	return ParseEnvironment(v.GetString("environment"))
}

func setConfigPaths(v *viper.Viper, file string) {
	if file != "" {
		v.SetConfigFile(file)
		return
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
}

// Load reads configuration into v. When file is empty the usual search
// paths are tried and a missing file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	setConfigPaths(v, file)

	setDefaults(v)
	loadFromEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	env, err := ParseEnvironment(string(config.Environment))
	if err != nil {
		return nil, err
	}
	config.Environment = env

	if err := LoadSecrets(&config); err != nil {
		return nil, err
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// IsGracefulMode returns true if the startup mode is graceful
func (c *Config) IsGracefulMode() bool {
	return c.StartupMode == StartupModeGraceful
}

// IsDevelopment reports whether the configured environment is Development
func (c *Config) IsDevelopment() bool {
	return c.Environment.IsDevelopment()
}

// TLSEnabled reports whether an HTTPS listener will be started
func (c *Config) TLSEnabled() bool {
	return c.Server.Autocert.Enabled || (c.Server.CertFile != "" && c.Server.KeyFile != "")
}

// HTTPClient returns the named client configuration, falling back to the
// default client ("default") and finally to built-in values.
func (c *Config) HTTPClient(name string) HTTPClientConfig {
	if cc, ok := c.HTTPClients[strings.ToLower(name)]; ok {
		return cc.withDefaults()
	}
	if cc, ok := c.HTTPClients["default"]; ok {
		return cc.withDefaults()
	}
	return HTTPClientConfig{}.withDefaults()
}

func (h HTTPClientConfig) withDefaults() HTTPClientConfig {
	if h.Timeout <= 0 {
		h.Timeout = 30 * time.Second
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 4
	}
	if h.UserAgent == "" {
		h.UserAgent = "obuoy/1.0"
	}
	return h
}

// MongoURI picks the connection string for the buoy store: the process
// environment variable MongoDBConnection, then the config value of the same
// name, then mongodb.uri.
func (c *Config) MongoURI(lookup func(string) (string, bool)) string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(MongoDBConnectionName); ok && v != "" {
		return v
	}
	if c.MongoDBConnection != "" {
		return c.MongoDBConnection
	}
	return c.MongoDB.URI
}

// validateConfig validates the configuration for security and correctness
func validateConfig(config *Config) error {
	if err := core.ValidateStruct(config); err != nil {
		return err
	}

	switch config.StartupMode {
	case StartupModeStrict, StartupModeGraceful:
	default:
		return fmt.Errorf("invalid startup_mode %q", config.StartupMode)
	}

	switch config.Startup.Variant {
	case VariantFull, VariantMinimal:
	default:
		return fmt.Errorf("invalid startup.variant %q", config.Startup.Variant)
	}

	if err := validateMongoURI(config.MongoDB.URI); err != nil {
		return err
	}
	if config.MongoDBConnection != "" {
		if err := validateMongoURI(config.MongoDBConnection); err != nil {
			return fmt.Errorf("%s: %w", MongoDBConnectionName, err)
		}
	}

	if config.Server.HTTPSPort != 0 && config.Server.HTTPSPort == config.Server.Port {
		return fmt.Errorf("server.https_port must differ from server.port")
	}
	if (config.Server.CertFile == "") != (config.Server.KeyFile == "") {
		return fmt.Errorf("server.cert_file and server.key_file must be set together")
	}
	if config.Server.Autocert.Enabled {
		if len(config.Server.Autocert.Domains) == 0 {
			return fmt.Errorf("server.autocert.domains is required when autocert is enabled")
		}
		for _, d := range config.Server.Autocert.Domains {
			if !isValidDomain(d) {
				return fmt.Errorf("invalid autocert domain %q", d)
			}
		}
	}

	for _, network := range config.Server.TrustedProxyNetworks {
		if !isValidIPOrCIDR(network) {
			return fmt.Errorf("invalid trusted proxy network %q", network)
		}
	}

	if config.Cache.Redis.Enabled && config.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required when redis is enabled")
	}

	if config.Antiforgery.SigningKey != "" && len(config.Antiforgery.SigningKey) < 32 {
		return fmt.Errorf("antiforgery.signing_key must be at least 32 characters")
	}

	switch config.Secrets.Provider {
	case "", "env", "vault", "aws":
	default:
		return fmt.Errorf("unsupported secret provider: %s", config.Secrets.Provider)
	}

	return nil
}

func validateMongoURI(uri string) error {
	if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
		return fmt.Errorf("invalid MongoDB URI: must start with mongodb:// or mongodb+srv://")
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid MongoDB URI: missing host")
	}
	return nil
}

// isValidDomain performs a light syntax check on a DNS name
func isValidDomain(domain string) bool {
	if len(domain) == 0 || len(domain) > 253 {
		return false
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
				return false
			}
		}
	}
	return true
}

func isValidIPOrCIDR(ipStr string) bool {
	if strings.Contains(ipStr, "/") {
		_, _, err := net.ParseCIDR(ipStr)
		return err == nil
	}
	return net.ParseIP(ipStr) != nil
}
