package rewards

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	HTTP struct {
		Port         int           `mapstructure:"port"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"http"`

	DB struct {
		DSN     string `mapstructure:"dsn"`
		Retries uint64 `mapstructure:"retries"`
		Migrate bool   `mapstructure:"migrate"`
	} `mapstructure:"db"`

	Cache struct {
		Addr     string        `mapstructure:"addr"`
		User     string        `mapstructure:"user"`
		Password string        `mapstructure:"password"`
		TTL      time.Duration `mapstructure:"ttl"`
	} `mapstructure:"cache"`

	Mongo struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`

	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
		GroupID string   `mapstructure:"group_id"`
		Workers int      `mapstructure:"workers"`
	} `mapstructure:"kafka"`

	Rabbit struct {
		URL     string `mapstructure:"url"`
		Workers int    `mapstructure:"workers"`
	} `mapstructure:"rabbit"`

	Points struct {
		PerUnit string `mapstructure:"per_unit"` // баллов за единицу валюты
	} `mapstructure:"points"`

	Promo struct {
		ChunkSize   int `mapstructure:"chunk_size"`
		ExpireBatch int `mapstructure:"expire_batch"`
	} `mapstructure:"promo"`

	Push struct {
		URL       string        `mapstructure:"url"`
		ChunkSize int           `mapstructure:"chunk_size"`
		Interval  time.Duration `mapstructure:"interval"`
		Timeout   time.Duration `mapstructure:"timeout"`
	} `mapstructure:"push"`

	Otel struct {
		Endpoint string `mapstructure:"endpoint"`
	} `mapstructure:"otel"`
}

// Лимит размера пакетной записи
const MaxBatchSize = 500

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.retries", 3)
	v.SetDefault("db.migrate", true)

	v.SetDefault("cache.addr", "")
	v.SetDefault("cache.user", "")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "rewardsDB")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "purchases")
	v.SetDefault("kafka.group_id", "purchases_rewards")
	v.SetDefault("kafka.workers", 5)

	v.SetDefault("rabbit.url", "")
	v.SetDefault("rabbit.workers", 5)

	v.SetDefault("points.per_unit", "1")

	v.SetDefault("promo.chunk_size", MaxBatchSize)
	v.SetDefault("promo.expire_batch", 400)

	v.SetDefault("push.url", "https://exp.host/--/api/v2/push/send")
	v.SetDefault("push.chunk_size", 50)
	v.SetDefault("push.interval", time.Second)
	v.SetDefault("push.timeout", 10*time.Second)

	v.SetDefault("otel.endpoint", "")
}

// LoadConfig читает config.yaml (если есть) и переменные окружения REWARDS_*
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("REWARDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.PointsPerUnit(); err != nil {
		return errors.New("points.per_unit must be a positive number")
	}
	if c.Promo.ChunkSize <= 0 || c.Promo.ChunkSize > MaxBatchSize {
		c.Promo.ChunkSize = MaxBatchSize
	}
	if c.Promo.ExpireBatch <= 0 {
		c.Promo.ExpireBatch = 400
	}
	if c.Promo.ExpireBatch > MaxBatchSize {
		c.Promo.ExpireBatch = MaxBatchSize
	}
	if c.Push.ChunkSize <= 0 {
		c.Push.ChunkSize = 50
	}
	if c.Kafka.Workers <= 0 {
		c.Kafka.Workers = 1
	}
	if c.Rabbit.Workers <= 0 {
		c.Rabbit.Workers = 1
	}
	return nil
}

func (c *Config) PointsPerUnit() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.Points.PerUnit)
	if err != nil {
		return decimal.Zero, err
	}
	if !rate.IsPositive() {
		return decimal.Zero, errors.New("rate must be positive")
	}
	return rate, nil
}
