package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del circuit breaker.
type Config struct {
	Monitor   MonitorConfig   `yaml:"monitor"`
	Inspector InspectorConfig `yaml:"inspector"`
	Fixtures  FixturesConfig  `yaml:"fixtures"`
	Chain     ChainConfig     `yaml:"chain"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// MonitorConfig controla el worker pool y los rechecks.
type MonitorConfig struct {
	Workers          int     `yaml:"workers"`
	FetchesPerSecond float64 `yaml:"fetches_per_second"`
	RecheckThreshold int     `yaml:"recheck_threshold"`
	RecheckDelayMS   int     `yaml:"recheck_delay_ms"`
	RecheckBudget    int     `yaml:"recheck_budget"` // fetches por tx entre pasadas de watch
	WatchIntervalSec int     `yaml:"watch_interval_seconds"`
}

// InspectorConfig controla los checks.
type InspectorConfig struct {
	Whitelist []string `yaml:"whitelist"` // solvers exentos; vacío = team multisig
}

// FixturesConfig indica dónde están los snapshots de settlements.
type FixturesConfig struct {
	Dir string `yaml:"dir"`
}

// ChainConfig configura la lectura on-chain. Sin RPC URL los datos on-chain
// también salen de los fixtures.
type ChainConfig struct {
	RPCURL string `yaml:"rpc_url"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if _, err := cfg.WhitelistAddresses(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// RecheckDelay devuelve la espera entre rechecks como time.Duration.
func (c *Config) RecheckDelay() time.Duration {
	return time.Duration(c.Monitor.RecheckDelayMS) * time.Millisecond
}

// WatchInterval devuelve el intervalo de watch como time.Duration.
func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Monitor.WatchIntervalSec) * time.Second
}

// WhitelistAddresses decodifica la whitelist. Nil si está vacía.
func (c *Config) WhitelistAddresses() ([]common.Address, error) {
	if len(c.Inspector.Whitelist) == 0 {
		return nil, nil
	}
	addrs := make([]common.Address, 0, len(c.Inspector.Whitelist))
	for _, s := range c.Inspector.Whitelist {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("inspector.whitelist: invalid address %q", s)
		}
		addrs = append(addrs, common.HexToAddress(s))
	}
	return addrs, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("CB_FIXTURES_DIR"); v != "" {
		cfg.Fixtures.Dir = v
	}
	if v := os.Getenv("CB_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("CB_DB_PATH"); v != "" {
		cfg.Storage.DSN = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Monitor.Workers <= 0 {
		cfg.Monitor.Workers = 4
	}
	if cfg.Monitor.FetchesPerSecond <= 0 {
		cfg.Monitor.FetchesPerSecond = 10
	}
	if cfg.Monitor.RecheckThreshold < 0 {
		cfg.Monitor.RecheckThreshold = 0
	}
	if cfg.Monitor.RecheckDelayMS <= 0 {
		cfg.Monitor.RecheckDelayMS = 2000
	}
	if cfg.Monitor.RecheckBudget <= 0 {
		cfg.Monitor.RecheckBudget = 128
	}
	if cfg.Monitor.WatchIntervalSec <= 0 {
		cfg.Monitor.WatchIntervalSec = 12 // un bloque
	}
	if cfg.Fixtures.Dir == "" {
		cfg.Fixtures.Dir = "testdata/settlements"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "circuitbreaker.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
