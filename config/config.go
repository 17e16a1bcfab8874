package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config for the whole application
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	API        APIConfig        `mapstructure:"api"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Volatility VolatilityConfig `mapstructure:"volatility"`
	Rates      RatesConfig      `mapstructure:"rates"`
	Data       DataConfig       `mapstructure:"data"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Admission  AdmissionConfig  `mapstructure:"admission"`
}

// General application configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// Configuration for the API server
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ResultsFeed     bool          `mapstructure:"results_feed"`
}

// Defaults for a pricing request and the Monte Carlo engine
type PricingConfig struct {
	Simulations  int    `mapstructure:"simulations"`
	Workers      int    `mapstructure:"workers"`
	Process      string `mapstructure:"process"`
	StepsPerYear int    `mapstructure:"steps_per_year"`
	DaysPerYear  int    `mapstructure:"days_per_year"`
	Seed         uint64 `mapstructure:"seed"`
	RateDataset  string `mapstructure:"rate_dataset"`
	HistoryStart string `mapstructure:"history_start"`
	HistoryEnd   string `mapstructure:"history_end"`
	MMARSteps    int    `mapstructure:"mmar_steps"`
	MMARDepth    int    `mapstructure:"mmar_cascade_depth"`
}

// Configuration for the volatility estimators
type VolatilityConfig struct {
	Mode                   string  `mapstructure:"mode"`
	MLEDtDays              int     `mapstructure:"mle_dt_days"`
	MLEAnnualizationDays   int     `mapstructure:"mle_annualization_days"`
	TradingDaysPerYear     int     `mapstructure:"trading_days_per_year"`
	RegressionSeed         uint64  `mapstructure:"regression_seed"`
	RegressionTestFraction float64 `mapstructure:"regression_test_fraction"`
}

// Configuration for the risk-free-rate forecaster
type RatesConfig struct {
	Source                string   `mapstructure:"source"`
	Dir                   string   `mapstructure:"dir"`
	Cap                   float64  `mapstructure:"cap"`
	ChangepointPriorScale float64  `mapstructure:"changepoint_prior_scale"`
	HorizonDays           int      `mapstructure:"horizon_days"`
	S3                    S3Config `mapstructure:"s3"`
}

// S3 location of the yield-curve datasets
type S3Config struct {
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// Configuration for historical price data. Source "csv" reads PricesDir,
// "sample" serves synthetic closes for SampleTickers.
type DataConfig struct {
	Source        string   `mapstructure:"source"`
	PricesDir     string   `mapstructure:"prices_dir"`
	SampleTickers []string `mapstructure:"sample_tickers"`
}

// Configuration for the Redis price cache
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Configuration for Kafka result publishing
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	Codec        string        `mapstructure:"codec"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// Configuration for metrics
type MetricsConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// Configuration for Prometheus metrics
type PrometheusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Configuration for the circuit breaker around data providers
type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Configuration for the simulation admission controller
type AdmissionConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Strategy       string  `mapstructure:"strategy"`
	MaxSimulations int64   `mapstructure:"max_simulations"`
	Rate           float64 `mapstructure:"rate"`
	Burst          int     `mapstructure:"burst"`
}

// Load reads the configuration from path (or ./config/config.yaml when path is
// empty) and environment variables. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("PRICER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "euro-option-pricer")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "120s")
	v.SetDefault("api.shutdown_timeout", "30s")
	v.SetDefault("api.request_timeout", "90s")
	v.SetDefault("api.results_feed", true)

	// Pricing defaults
	v.SetDefault("pricing.simulations", 10000)
	v.SetDefault("pricing.workers", 20)
	v.SetDefault("pricing.process", "GBM")
	v.SetDefault("pricing.steps_per_year", 365)
	v.SetDefault("pricing.days_per_year", 365)
	v.SetDefault("pricing.seed", 0)
	v.SetDefault("pricing.rate_dataset", "AU-10")
	v.SetDefault("pricing.history_start", "2022-01-01")
	v.SetDefault("pricing.history_end", "2025-03-30")
	v.SetDefault("pricing.mmar_steps", 252)
	v.SetDefault("pricing.mmar_cascade_depth", 8)

	// Volatility defaults
	v.SetDefault("volatility.mode", "blend")
	v.SetDefault("volatility.mle_dt_days", 252)
	v.SetDefault("volatility.mle_annualization_days", 365)
	v.SetDefault("volatility.trading_days_per_year", 252)
	v.SetDefault("volatility.regression_seed", 0)
	v.SetDefault("volatility.regression_test_fraction", 0.2)

	// Rates defaults
	v.SetDefault("rates.source", "dir")
	v.SetDefault("rates.dir", "./data/rates")
	v.SetDefault("rates.cap", 0.06)
	v.SetDefault("rates.changepoint_prior_scale", 0.01)
	v.SetDefault("rates.horizon_days", 365)
	v.SetDefault("rates.s3.region", "us-east-1")
	v.SetDefault("rates.s3.prefix", "rates/")

	// Data defaults
	v.SetDefault("data.source", "csv")
	v.SetDefault("data.prices_dir", "./data/prices")
	v.SetDefault("data.sample_tickers", []string{"AAPL", "MSFT", "GOOGL", "AMZN", "SPY", "QQQ"})

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "6h")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "options.priced")
	v.SetDefault("kafka.codec", "json")
	v.SetDefault("kafka.batch_timeout", "50ms")

	// Metrics defaults
	v.SetDefault("metrics.prometheus.enabled", true)
	v.SetDefault("metrics.prometheus.port", 9090)

	// Breaker defaults
	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.timeout", "60s")

	// Admission defaults
	v.SetDefault("admission.enabled", true)
	v.SetDefault("admission.strategy", "block")
	v.SetDefault("admission.max_simulations", 200000)
	v.SetDefault("admission.rate", 0)
	v.SetDefault("admission.burst", 0)
}

// GetConfigPath returns the config path from PRICER_CONFIG_PATH, if set
func GetConfigPath() string {
	return os.Getenv("PRICER_CONFIG_PATH")
}
