package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Database struct {
		Driver   string `yaml:"driver"` // "postgres" or "sqlite"
		Host     string `yaml:"host"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		Port     string `yaml:"port"`
		SSLMode  string `yaml:"sslmode"`
		Path     string `yaml:"path"` // sqlite only
	} `yaml:"database"`
	Radon struct {
		BaseURL      string        `yaml:"base_url"`
		APIKey       string        `yaml:"api_key"`
		Timeout      time.Duration `yaml:"timeout"`
		MaxNewTokens int           `yaml:"max_new_tokens"`
		Temperature  float64       `yaml:"temperature"`
	} `yaml:"radon"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	JWT struct {
		Secret string `yaml:"secret"`
	} `yaml:"jwt"`
	Log struct {
		Level  string `yaml:"level"`  // debug, info, warn, error
		Format string `yaml:"format"` // json or text
	} `yaml:"log"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// DSN generates the PostgreSQL DSN from database config
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.Database.Host,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.Port,
		c.Database.SSLMode,
	)
}

// Load reads and parses the YAML configuration file, then applies
// environment overrides for secrets. A .env file is honored if present.
func Load(filePath string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if v := os.Getenv("RADON_API_KEY"); v != "" {
		cfg.Radon.APIKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Radon.Timeout == 0 {
		c.Radon.Timeout = 120 * time.Second
	}
	if c.Radon.MaxNewTokens == 0 {
		c.Radon.MaxNewTokens = 512
	}
	if c.Radon.Temperature == 0 {
		c.Radon.Temperature = 0.7
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("database.dbname is required")
		}
		if c.Database.Port == "" {
			return fmt.Errorf("database.port is required")
		}
		if c.Database.SSLMode == "" {
			return fmt.Errorf("database.sslmode is required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database.driver: %s", c.Database.Driver)
	}
	if c.Radon.BaseURL == "" {
		return fmt.Errorf("radon.base_url is required")
	}
	if c.Radon.APIKey == "" {
		return fmt.Errorf("radon.api_key is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	return nil
}
