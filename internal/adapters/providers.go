package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rzzdr/euro-option-pricer/config"
	"github.com/rzzdr/euro-option-pricer/internal/kafka"
	"github.com/rzzdr/euro-option-pricer/internal/store"
	"github.com/rzzdr/euro-option-pricer/pkg/metrics"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/circuit"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/errors"
)

// BreakerConfig converts the breaker section into a circuit configuration.
// State changes are exported as a gauge when recorder is set.
func BreakerConfig(cfg config.BreakerConfig, recorder *metrics.Recorder) circuit.Config {
	bc := circuit.DefaultConfig()
	bc.OnStateChange = func(name string, _, to circuit.State) {
		recorder.RecordBreakerState(name, int(to))
	}
	if cfg.MaxFailures > 0 {
		bc.MaxFailures = cfg.MaxFailures
	}
	if cfg.Timeout > 0 {
		bc.Timeout = cfg.Timeout
	}
	return bc
}

// NewPriceProvider builds the price provider chain: backend, circuit breaker,
// then an optional Redis cache in front. The returned closer releases Redis.
func NewPriceProvider(ctx context.Context, cfg *config.Config, breakers *circuit.Manager, recorder *metrics.Recorder) (store.PriceProvider, func() error, error) {
	var backend store.PriceProvider
	switch strings.ToLower(cfg.Data.Source) {
	case "", "csv":
		backend = store.NewCSVPriceProvider(cfg.Data.PricesDir)
	case "sample":
		mem := store.NewInMemoryPriceProvider()
		end := time.Now().UTC()
		mem.LoadSampleData(cfg.Data.SampleTickers, end.AddDate(-5, 0, 0), end)
		backend = mem
	default:
		return nil, nil, errors.InvalidInputf("unknown data source %q", cfg.Data.Source)
	}

	var provider store.PriceProvider = store.NewBreakerPriceProvider(backend,
		breakers.GetBreaker("prices", BreakerConfig(cfg.Breaker, recorder)))

	closer := func() error { return nil }
	if cfg.Redis.Enabled {
		rdb, err := store.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		provider = store.NewCachedPriceProvider(provider, rdb, cfg.Redis.TTL, recorder)
		closer = rdb.Close
	}
	return provider, closer, nil
}

// NewYieldSource builds the configured yield dataset source behind a breaker
func NewYieldSource(ctx context.Context, cfg *config.Config, breakers *circuit.Manager, recorder *metrics.Recorder) (store.YieldSource, error) {
	var source store.YieldSource
	switch strings.ToLower(cfg.Rates.Source) {
	case "", "dir":
		source = store.NewDirYieldSource(cfg.Rates.Dir)
	case "s3":
		if cfg.Rates.S3.Bucket == "" {
			return nil, errors.InvalidInput("rates.s3.bucket is required for the s3 source")
		}
		client, err := store.NewS3Client(ctx, cfg.Rates.S3)
		if err != nil {
			return nil, err
		}
		source = store.NewS3YieldSource(client, cfg.Rates.S3.Bucket, cfg.Rates.S3.Prefix)
	default:
		return nil, errors.InvalidInputf("unknown rates source %q", cfg.Rates.Source)
	}

	return store.NewBreakerYieldSource(source, breakers.GetBreaker("rates", BreakerConfig(cfg.Breaker, recorder))), nil
}

// NewResultPublisher builds the Kafka result publisher
func NewResultPublisher(cfg config.KafkaConfig, recorder *metrics.Recorder) (*kafka.KafkaResultPublisher, error) {
	codec, err := kafka.ParseCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		BatchTimeout: cfg.BatchTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return kafka.NewResultPublisher(producer, codec, recorder), nil
}
