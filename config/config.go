package config

import (
	"fmt"
	"os"
	"time"

	"github.com/alejandrodnm/polybet/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa de polybet.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	Lock    LockConfig    `yaml:"lock"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig controla el engine de apuestas.
type EngineConfig struct {
	Operator    string `yaml:"operator"`     // address 0x del operador; deriva el escrow
	GrantAmount uint64 `yaml:"grant_amount"` // faucet por identidad (una sola vez)
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LockConfig controla el lock Redis entre hosts. Sin redis_addr basta el write
// lock de SQLite (Exclusive) para serializar procesos del mismo host.
type LockConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Key           string `yaml:"key"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`   // vacío = stderr
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
// Si path no existe se parte de una configuración vacía (env + defaults).
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Operator devuelve la identidad del operador ya validada.
func (c *Config) Operator() domain.Identity {
	return domain.Identity(c.Engine.Operator)
}

// LockTTL devuelve el TTL del lock como time.Duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Lock.TTLSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POLYBET_OPERATOR"); v != "" {
		cfg.Engine.Operator = v
	}
	if v := os.Getenv("POLYBET_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Lock.RedisAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Engine.GrantAmount == 0 {
		cfg.Engine.GrantAmount = 10000
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polybet.db"
	}
	if cfg.Lock.Key == "" {
		cfg.Lock.Key = "polybet"
	}
	if cfg.Lock.TTLSeconds <= 0 {
		cfg.Lock.TTLSeconds = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 3
	}
}

// validate normaliza el operador a su forma checksummed.
func (c *Config) validate() error {
	if c.Engine.Operator == "" {
		return fmt.Errorf("engine.operator is required (or POLYBET_OPERATOR)")
	}
	op, err := domain.ParseIdentity(c.Engine.Operator)
	if err != nil {
		return fmt.Errorf("engine.operator: %w", err)
	}
	c.Engine.Operator = string(op)
	return nil
}
