package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Payment struct {
		Provider      string `mapstructure:"PROVIDER"`
		Currency      string `mapstructure:"CURRENCY"`
		WebhookSecret string `mapstructure:"WEBHOOK_SECRET"`
	} `mapstructure:"PAYMENT"`
	Marketplace Marketplace `mapstructure:"MARKETPLACE"`
}

// Marketplace holds the platform-wide settlement constants. All amounts are
// integer minor units (cents).
type Marketplace struct {
	PricePerItem        int64         `mapstructure:"PRICE_PER_ITEM"`
	BatchSize           int           `mapstructure:"BATCH_SIZE"`
	ContributorShareBps int64         `mapstructure:"CONTRIBUTOR_SHARE_BPS"`
	MinWithdrawal       int64         `mapstructure:"MIN_WITHDRAWAL"`
	OrderTTL            time.Duration `mapstructure:"ORDER_TTL"`
}

// Defaults applied when the marketplace section is absent: the agency pays a
// flat $25.00 per item, batches cap at 5 items and contributors keep 80% of
// the sale price.
const (
	DefaultPricePerItem        int64 = 2500
	DefaultBatchSize                 = 5
	DefaultContributorShareBps int64 = 8000
	DefaultMinWithdrawal       int64 = 1000
	DefaultOrderTTL                  = 30 * time.Minute
)

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		zap.L().Error("failed to read config", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	cfg.Marketplace.applyDefaults()

	return &cfg
}

func (m *Marketplace) applyDefaults() {
	if m.PricePerItem <= 0 {
		m.PricePerItem = DefaultPricePerItem
	}
	if m.BatchSize <= 0 {
		m.BatchSize = DefaultBatchSize
	}
	if m.ContributorShareBps <= 0 || m.ContributorShareBps > 10000 {
		m.ContributorShareBps = DefaultContributorShareBps
	}
	if m.MinWithdrawal <= 0 {
		m.MinWithdrawal = DefaultMinWithdrawal
	}
	if m.OrderTTL <= 0 {
		m.OrderTTL = DefaultOrderTTL
	}
}
