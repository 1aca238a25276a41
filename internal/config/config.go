package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the full backend configuration. Values are read from a yaml
// file and can be overridden through environment variables, matching the
// deployment model where the orchestrator credentials arrive via the
// container environment.
type Config struct {
	Server struct {
		Port        int `yaml:"port"`
		MetricsPort int `yaml:"metrics_port"`
	} `yaml:"server"`

	Database struct {
		Dialect string `yaml:"dialect"` // "sqlite3" or "postgres"
		DSN     string `yaml:"dsn"`
	} `yaml:"database"`

	Orchestrator struct {
		Host           string `yaml:"host"`
		Username       string `yaml:"username"`
		Password       string `yaml:"password"`
		Tenant         string `yaml:"tenant"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"orchestrator"`

	Keycloak struct {
		IntrospectionEndpoint string `yaml:"introspection_endpoint"`
		ClientID              string `yaml:"client_id"`
		ClientSecret          string `yaml:"client_secret"`
		// DevSecret enables offline HMAC token verification when no
		// introspection endpoint is configured.
		DevSecret string `yaml:"dev_secret"`
	} `yaml:"keycloak"`

	Vault struct {
		Address    string `yaml:"address"`
		Port       int    `yaml:"port"`
		AdminToken string `yaml:"admin_token"`
	} `yaml:"vault"`

	Marketplace struct {
		URL            string `yaml:"url"`
		ConsumerKey    string `yaml:"consumer_key"`
		ConsumerSecret string `yaml:"consumer_secret"`
	} `yaml:"marketplace"`
}

// Load reads the configuration file at path and applies environment
// overrides. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(cfg)

	if cfg.Orchestrator.Host == "" {
		return nil, fmt.Errorf("orchestrator host is not configured")
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.MetricsPort = 9090
	cfg.Database.Dialect = "sqlite3"
	cfg.Database.DSN = "croupier.db"
	cfg.Orchestrator.TimeoutSeconds = 30
	cfg.Vault.Port = 8200
	return cfg
}

func applyEnv(cfg *Config) {
	setString(&cfg.Orchestrator.Host, "ORCHESTRATOR_HOST")
	setString(&cfg.Orchestrator.Username, "ORCHESTRATOR_USER")
	setString(&cfg.Orchestrator.Password, "ORCHESTRATOR_PASS")
	setString(&cfg.Orchestrator.Tenant, "ORCHESTRATOR_TENANT")
	setString(&cfg.Database.Dialect, "DATABASE_DIALECT")
	setString(&cfg.Database.DSN, "DATABASE_DSN")
	setString(&cfg.Keycloak.IntrospectionEndpoint, "OIDC_OP_TOKEN_ENDPOINT")
	setString(&cfg.Keycloak.ClientID, "OIDC_RP_CLIENT_ID")
	setString(&cfg.Keycloak.ClientSecret, "OIDC_RP_CLIENT_SECRET")
	setString(&cfg.Vault.Address, "VAULT_ADDRESS")
	setInt(&cfg.Vault.Port, "VAULT_PORT")
	setString(&cfg.Vault.AdminToken, "VAULT_ADMIN_TOKEN")
	setString(&cfg.Marketplace.URL, "MARKETPLACE_URL")
	setString(&cfg.Marketplace.ConsumerKey, "M_CONSUMER_KEY")
	setString(&cfg.Marketplace.ConsumerSecret, "M_CONSUMER_SECRET")
	setInt(&cfg.Server.Port, "CROUPIER_PORT")
	setInt(&cfg.Server.MetricsPort, "CROUPIER_METRICS_PORT")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// OrchestratorTimeout returns the configured adapter timeout.
func (c *Config) OrchestratorTimeout() time.Duration {
	return time.Duration(c.Orchestrator.TimeoutSeconds) * time.Second
}
