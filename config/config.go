package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Environment string          `json:"environment"`
	Server      ServerConfig    `json:"server"`
	Database    DatabaseConfig  `json:"database"`
	Logging     LoggingConfig   `json:"logging"`
	Webhooks    WebhooksConfig  `json:"webhooks"`
	Providers   ProvidersConfig `json:"providers"`
	Tenants     []TenantKey     `json:"tenants"`
}

type ServerConfig struct {
	Port           string        `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	MaxHeaderBytes int           `json:"max_header_bytes"`

	// PublicBaseURL is the externally reachable base URL, used by signature
	// schemes that sign the absolute callback URL.
	PublicBaseURL string `json:"public_base_url"`
}

type DatabaseConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	User         string        `json:"user"`
	Password     string        `json:"password"`
	DBName       string        `json:"dbname"`
	SSLMode      string        `json:"sslmode"`
	MaxOpenConns int           `json:"max_open_conns"`
	MaxIdleConns int           `json:"max_idle_conns"`
	MaxLifetime  time.Duration `json:"max_lifetime"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type WebhooksConfig struct {
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
	ToleranceSeconds     int `json:"tolerance_seconds"`
}

type ProvidersConfig struct {
	Greenhouse ProviderSecret `json:"greenhouse"`
	Lever      ProviderSecret `json:"lever"`
	Calendly   ProviderSecret `json:"calendly"`
	Twilio     TwilioConfig   `json:"twilio"`
}

type ProviderSecret struct {
	WebhookSecret string `json:"webhook_secret"`
}

type TwilioConfig struct {
	AuthToken string `json:"auth_token"`
}

// TenantKey maps an API key to a tenant. Tenant management is owned by
// another service; keys are provisioned into this one.
type TenantKey struct {
	APIKey   string `json:"api_key"`
	TenantID string `json:"tenant_id"`
}

func LoadConfig() (*Config, error) {
	config := &Config{}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	config.Environment = env

	configDir, err := filepath.Abs("config")
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, "config.json")

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}

		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	config.loadFromEnv()
	config.setDefaults()

	return config, nil
}

func (c *Config) loadFromEnv() {
	if host := os.Getenv("DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Database.Port)
	}
	if user := os.Getenv("DB_USER"); user != "" {
		c.Database.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		c.Database.Password = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		c.Database.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		c.Database.SSLMode = sslmode
	}

	if serverPort := os.Getenv("SERVER_PORT"); serverPort != "" {
		c.Server.Port = serverPort
	}
	if baseURL := os.Getenv("PUBLIC_BASE_URL"); baseURL != "" {
		c.Server.PublicBaseURL = baseURL
	}

	if secret := os.Getenv("GREENHOUSE_WEBHOOK_SECRET"); secret != "" {
		c.Providers.Greenhouse.WebhookSecret = secret
	}
	if secret := os.Getenv("LEVER_WEBHOOK_SECRET"); secret != "" {
		c.Providers.Lever.WebhookSecret = secret
	}
	if secret := os.Getenv("CALENDLY_WEBHOOK_SECRET"); secret != "" {
		c.Providers.Calendly.WebhookSecret = secret
	}
	if token := os.Getenv("TWILIO_AUTH_TOKEN"); token != "" {
		c.Providers.Twilio.AuthToken = token
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func (c *Config) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Webhooks.SweepIntervalSeconds == 0 {
		c.Webhooks.SweepIntervalSeconds = 60
	}
	if c.Webhooks.ToleranceSeconds == 0 {
		c.Webhooks.ToleranceSeconds = 300
	}
}

func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database port is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Webhooks.SweepIntervalSeconds) * time.Second
}

func (c *Config) Tolerance() time.Duration {
	return time.Duration(c.Webhooks.ToleranceSeconds) * time.Second
}

// TenantKeyMap converts the provisioned key list into the lookup shape the
// middleware uses.
func (c *Config) TenantKeyMap() map[string]string {
	keys := make(map[string]string, len(c.Tenants))
	for _, t := range c.Tenants {
		keys[t.APIKey] = t.TenantID
	}
	return keys
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
