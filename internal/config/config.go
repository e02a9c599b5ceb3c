package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env          string       `yaml:"env" env:"ENV" env-default:"local"`
	LogLevel     string       `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	HTTP         HTTP         `yaml:"http"`
	MySQL        MySQL        `yaml:"mysql"`
	Redis        Redis        `yaml:"redis"`
	Engine       Engine       `yaml:"engine"`
	Reservations Reservations `yaml:"reservations"`
	Reorder      Reorder      `yaml:"reorder"`
	Events       Events       `yaml:"events"`
}

type HTTP struct {
	Addr string `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
}

type MySQL struct {
	DSN             string        `yaml:"dsn" env:"MYSQL_DSN" env-default:"root:root@tcp(localhost:3306)/inventory?parseTime=true&multiStatements=true"`
	MaxOpenConns    int           `yaml:"max_open_conns" env-default:"50"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env-default:"25"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env-default:"5m"`
	Migrate         bool          `yaml:"migrate" env:"MYSQL_MIGRATE" env-default:"true"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	PoolSize int    `yaml:"pool_size" env-default:"100"`
}

type Engine struct {
	OperationTimeout time.Duration `yaml:"operation_timeout" env:"ENGINE_OPERATION_TIMEOUT" env-default:"5s"`
	AcquireTimeout   time.Duration `yaml:"acquire_timeout" env:"ENGINE_ACQUIRE_TIMEOUT" env-default:"2s"`
	// AdjustPolicy is "clamp" or "reject".
	AdjustPolicy string `yaml:"adjust_policy" env:"ENGINE_ADJUST_POLICY" env-default:"clamp" validate:"oneof=clamp reject"`
	// SeedFile optionally names a yaml file of opening stock applied at startup.
	SeedFile string `yaml:"seed_file" env:"ENGINE_SEED_FILE"`
}

type Reservations struct {
	TTL                 time.Duration `yaml:"ttl" env-default:"30m"`
	SweepInterval       time.Duration `yaml:"sweep_interval" env-default:"1m"`
	LocationID          string        `yaml:"location_id" env-default:"main"`
	DefaultReorderPoint int           `yaml:"default_reorder_point" env-default:"10"`
}

type Reorder struct {
	GRPCTarget string        `yaml:"grpc_target" env:"REORDER_GRPC_TARGET"`
	Timeout    time.Duration `yaml:"timeout" env-default:"500ms"`
	CacheTTL   time.Duration `yaml:"cache_ttl" env-default:"5m"`
}

type Events struct {
	// Sink is "redis", "kafka" or "log".
	Sink         string        `yaml:"sink" env:"EVENTS_SINK" env-default:"log" validate:"oneof=redis kafka log"`
	QueueSize    int           `yaml:"queue_size" env-default:"10000"`
	Workers      int           `yaml:"workers" env-default:"4"`
	MaxAttempts  int           `yaml:"max_attempts" env-default:"3"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env-default:"500ms"`
	KafkaBrokers []string      `yaml:"kafka_brokers" env:"KAFKA_BROKERS" env-separator:","`
	StockTopic   string        `yaml:"stock_topic" env-default:"inventory.stock-changed"`
	OrderTopic   string        `yaml:"order_topic" env-default:"inventory.order-status"`
}

// Load reads the yaml file at path and applies environment overrides.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

type SeedItem struct {
	TenantID   string `yaml:"tenant_id"`
	SKU        string `yaml:"sku"`
	LocationID string `yaml:"location_id"`
	Quantity   int    `yaml:"quantity"`
}

type seedFile struct {
	Items []SeedItem `yaml:"items"`
}

// LoadSeed reads the opening stock list at path.
func LoadSeed(path string) ([]SeedItem, error) {
	var f seedFile
	if err := cleanenv.ReadConfig(path, &f); err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	for i := range f.Items {
		if f.Items[i].LocationID == "" {
			f.Items[i].LocationID = "main"
		}
	}
	return f.Items, nil
}
